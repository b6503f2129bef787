// Package blobtable stores tables in cloud object storage as a manifest plus
// per-stream page objects, and serves them as a [tablestream.Source].
//
// A table lives under a bucket prefix derived from its reference. Each page
// object holds one Arrow record batch encoded as an IPC stream, optionally
// zstd-compressed. The manifest records the schema (as tableschema fields),
// the stream layout, and row/byte totals. The package is storage-agnostic via
// gocloud.dev/blob.
//
// # Publishing
//
// Use [Create] to start a table, [Writer.WritePage] or [Writer.Append] to add
// record batches, then [Writer.Complete] to finalize the manifest. A table
// without a manifest is invisible to readers, so a crashed publish never
// serves partial data.
//
// # Reading
//
// [NewSource] (or [OpenSource]) adapts a bucket to the tablestream engine:
//
//	src := blobtable.NewSource(bucket, "tables")
//	it, err := tablestream.Download(ctx, src, ref, blobtable.DecodePage)
//
// [DecodePage] is the decode adapter for this format; pages are
// self-describing (zstd magic sniff, schema embedded in the IPC stream), so
// the same adapter works for every blobtable table.
//
// # Storage Layout
//
//	{bucket}/{root}/{project}/{dataset}/{table}/manifest.json
//	{bucket}/{root}/{project}/{dataset}/{table}/pages/stream-0000-000000.arrow
//	{bucket}/{root}/{project}/{dataset}/{table}/pages/stream-0000-000001.arrow
//	...
//
// # Manifest Format
//
//	{
//	  "table": "proj.sales.orders",
//	  "schema": [{"name": "id", "type": "INTEGER", "required": true}, ...],
//	  "compression": "zstd",
//	  "total_rows": 1048576,
//	  "total_bytes": 73400320,
//	  "streams": [
//	    {"id": "stream-0000", "pages": [
//	      {"object": "pages/stream-0000-000000.arrow", "rows": 4096, "size": 287001},
//	      ...
//	    ]},
//	    ...
//	  ],
//	  "completed_at": "2026-08-27T10:30:00Z"
//	}
package blobtable
