// Package tableschema maps between a SQL-style column type system and Arrow
// schemas.
//
// A table's schema is described as a list of [Field] values using SQL-ish
// type names (STRING, INTEGER, TIMESTAMP, RECORD, ...). [ToArrow] converts
// such a description to an *arrow.Schema for decoding and writing record
// batches; [FromArrow] goes the other way when publishing an existing Arrow
// dataset.
//
// The scalar mappings are lossy in one direction only: all Arrow integer
// widths collapse to INTEGER and both float widths to FLOAT, while the
// SQL-side types always map to one canonical Arrow type (INTEGER=int64,
// FLOAT=float64, NUMERIC=decimal128(38,9), BIGNUMERIC=decimal256(76,38),
// TIMESTAMP=microsecond UTC, DATETIME=microsecond without zone). Unknown
// types are errors, never guesses.
//
// [InferField] supplements explicit schemas with a best-effort guess from a
// sample Go value, for callers assembling tables from untyped data.
package tableschema
