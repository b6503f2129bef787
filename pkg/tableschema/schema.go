package tableschema

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/apache/arrow/go/v10/arrow"
)

// FieldType is a SQL-style column type name.
type FieldType string

const (
	TypeString     FieldType = "STRING"
	TypeBytes      FieldType = "BYTES"
	TypeInteger    FieldType = "INTEGER"
	TypeFloat      FieldType = "FLOAT"
	TypeNumeric    FieldType = "NUMERIC"
	TypeBigNumeric FieldType = "BIGNUMERIC"
	TypeBoolean    FieldType = "BOOLEAN"
	TypeTimestamp  FieldType = "TIMESTAMP"
	TypeDate       FieldType = "DATE"
	TypeTime       FieldType = "TIME"
	TypeDateTime   FieldType = "DATETIME"
	TypeGeography  FieldType = "GEOGRAPHY"
	TypeRecord     FieldType = "RECORD"
)

// ErrUnknownType is returned when a type has no mapping. Callers should fall
// back to an explicit schema rather than guess.
var ErrUnknownType = errors.New("tableschema: unknown type")

// Field describes one column.
type Field struct {
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type" yaml:"type"`
	Required bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Repeated bool      `json:"repeated,omitempty" yaml:"repeated,omitempty"`
	Fields   []Field   `json:"fields,omitempty" yaml:"fields,omitempty"` // RECORD children
}

// scalarTypes maps each SQL-side scalar to its canonical Arrow type.
var scalarTypes = map[FieldType]arrow.DataType{
	TypeString:     arrow.BinaryTypes.String,
	TypeBytes:      arrow.BinaryTypes.Binary,
	TypeInteger:    arrow.PrimitiveTypes.Int64,
	TypeFloat:      arrow.PrimitiveTypes.Float64,
	TypeNumeric:    &arrow.Decimal128Type{Precision: 38, Scale: 9},
	TypeBigNumeric: &arrow.Decimal256Type{Precision: 76, Scale: 38},
	TypeBoolean:    arrow.FixedWidthTypes.Boolean,
	TypeTimestamp:  &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"},
	TypeDate:       arrow.FixedWidthTypes.Date32,
	TypeTime:       arrow.FixedWidthTypes.Time64us,
	TypeDateTime:   &arrow.TimestampType{Unit: arrow.Microsecond},
	TypeGeography:  arrow.BinaryTypes.String,
}

// FieldToArrow converts one field description to an arrow.Field.
func FieldToArrow(f Field) (arrow.Field, error) {
	var dt arrow.DataType

	if f.Type == TypeRecord {
		if len(f.Fields) == 0 {
			return arrow.Field{}, fmt.Errorf("tableschema: record field %q has no children", f.Name)
		}
		children := make([]arrow.Field, len(f.Fields))
		for i, child := range f.Fields {
			af, err := FieldToArrow(child)
			if err != nil {
				return arrow.Field{}, err
			}
			children[i] = af
		}
		dt = arrow.StructOf(children...)
	} else {
		var ok bool
		dt, ok = scalarTypes[f.Type]
		if !ok {
			return arrow.Field{}, fmt.Errorf("%w %q for field %q", ErrUnknownType, f.Type, f.Name)
		}
	}

	if f.Repeated {
		return arrow.Field{Name: f.Name, Type: arrow.ListOf(dt)}, nil
	}
	return arrow.Field{Name: f.Name, Type: dt, Nullable: !f.Required}, nil
}

// ToArrow converts a field list to an Arrow schema.
func ToArrow(fields []Field) (*arrow.Schema, error) {
	out := make([]arrow.Field, len(fields))
	for i, f := range fields {
		af, err := FieldToArrow(f)
		if err != nil {
			return nil, err
		}
		out[i] = af
	}
	return arrow.NewSchema(out, nil), nil
}

// FromArrowField converts one arrow.Field back to a field description.
func FromArrowField(af arrow.Field) (Field, error) {
	if list, ok := af.Type.(*arrow.ListType); ok {
		elem, err := FromArrowField(arrow.Field{Name: af.Name, Type: list.Elem()})
		if err != nil {
			return Field{}, err
		}
		elem.Repeated = true
		elem.Required = false
		return elem, nil
	}

	if st, ok := af.Type.(*arrow.StructType); ok {
		f := Field{Name: af.Name, Type: TypeRecord, Required: !af.Nullable}
		for _, child := range st.Fields() {
			cf, err := FromArrowField(child)
			if err != nil {
				return Field{}, err
			}
			f.Fields = append(f.Fields, cf)
		}
		return f, nil
	}

	ft, err := scalarFromArrow(af.Type)
	if err != nil {
		return Field{}, fmt.Errorf("field %q: %w", af.Name, err)
	}
	return Field{Name: af.Name, Type: ft, Required: !af.Nullable}, nil
}

// FromArrow converts an Arrow schema to a field list.
func FromArrow(schema *arrow.Schema) ([]Field, error) {
	fields := schema.Fields()
	out := make([]Field, len(fields))
	for i, af := range fields {
		f, err := FromArrowField(af)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func scalarFromArrow(dt arrow.DataType) (FieldType, error) {
	switch t := dt.(type) {
	case *arrow.StringType, *arrow.LargeStringType:
		return TypeString, nil
	case *arrow.BinaryType, *arrow.LargeBinaryType, *arrow.FixedSizeBinaryType:
		return TypeBytes, nil
	case *arrow.Int8Type, *arrow.Int16Type, *arrow.Int32Type, *arrow.Int64Type,
		*arrow.Uint8Type, *arrow.Uint16Type, *arrow.Uint32Type, *arrow.Uint64Type:
		return TypeInteger, nil
	case *arrow.Float16Type, *arrow.Float32Type, *arrow.Float64Type:
		return TypeFloat, nil
	case *arrow.Decimal128Type:
		return TypeNumeric, nil
	case *arrow.Decimal256Type:
		return TypeBigNumeric, nil
	case *arrow.BooleanType:
		return TypeBoolean, nil
	case *arrow.Date32Type, *arrow.Date64Type:
		return TypeDate, nil
	case *arrow.Time32Type, *arrow.Time64Type:
		return TypeTime, nil
	case *arrow.TimestampType:
		if t.TimeZone == "" {
			return TypeDateTime, nil
		}
		return TypeTimestamp, nil
	default:
		return "", fmt.Errorf("%w: no SQL mapping for Arrow type %s", ErrUnknownType, dt)
	}
}

// InferField guesses a field description from one sample Go value. Slices
// infer as repeated fields from their first element, maps as RECORD. The
// second return is false when no reasonable guess exists.
func InferField(name string, value any) (Field, bool) {
	switch v := value.(type) {
	case []byte:
		return Field{Name: name, Type: TypeBytes}, true
	case []any:
		if len(v) == 0 {
			return Field{}, false
		}
		f, ok := InferField(name, v[0])
		if !ok {
			return Field{}, false
		}
		f.Repeated = true
		return f, true
	case map[string]any:
		names := make([]string, 0, len(v))
		for childName := range v {
			names = append(names, childName)
		}
		sort.Strings(names)

		f := Field{Name: name, Type: TypeRecord}
		for _, childName := range names {
			cf, ok := InferField(childName, v[childName])
			if !ok {
				return Field{}, false
			}
			f.Fields = append(f.Fields, cf)
		}
		return f, true
	default:
		ft, ok := inferScalar(value)
		if !ok {
			return Field{}, false
		}
		return Field{Name: name, Type: ft}, true
	}
}

func inferScalar(value any) (FieldType, bool) {
	switch value.(type) {
	case bool:
		return TypeBoolean, true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeInteger, true
	case float32, float64:
		return TypeFloat, true
	case string:
		return TypeString, true
	case time.Time:
		return TypeTimestamp, true
	case time.Duration:
		return TypeTime, true
	default:
		return "", false
	}
}
