// Package wire defines the closed set of value types the row codec can
// persist, their stable on-disk tags, and a tagged Value used to move values
// between Go and the wire without reflection.
package wire

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
)

// Type is a wire type tag. The numeric values are written to disk and must
// never change.
type Type uint8

const (
	TypeByte    Type = 0
	TypeInt32   Type = 2
	TypeInt64   Type = 4
	TypeFloat64 Type = 6
	TypeBool    Type = 8
	TypeString  Type = 20
	TypeDate    Type = 22
)

// Types lists every wire type in tag order.
var Types = []Type{TypeByte, TypeInt32, TypeInt64, TypeFloat64, TypeBool, TypeString, TypeDate}

// String returns the type name.
func (t Type) String() string {
	switch t {
	case TypeByte:
		return "byte"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeDate:
		return "date"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Valid reports whether t is a known tag.
func (t Type) Valid() bool {
	switch t {
	case TypeByte, TypeInt32, TypeInt64, TypeFloat64, TypeBool, TypeString, TypeDate:
		return true
	}
	return false
}

// FixedWidth returns the payload size in bytes, or -1 for strings whose
// payload is length-prefixed.
func (t Type) FixedWidth() int {
	switch t {
	case TypeByte, TypeBool:
		return 1
	case TypeInt32:
		return 4
	case TypeInt64, TypeFloat64, TypeDate:
		return 8
	default:
		return -1
	}
}

// TypeOf returns the wire type of a Go value. Only int8, int32, int64,
// float64, bool, string and time.Time map to a wire type; nil has none.
func TypeOf(v any) (Type, error) {
	switch v.(type) {
	case int8:
		return TypeByte, nil
	case int32:
		return TypeInt32, nil
	case int64:
		return TypeInt64, nil
	case float64:
		return TypeFloat64, nil
	case bool:
		return TypeBool, nil
	case string:
		return TypeString, nil
	case time.Time:
		return TypeDate, nil
	case nil:
		return 0, rowerrors.New(rowerrors.ErrorTypeUnsupportedValue, "nil has no wire type")
	default:
		return 0, rowerrors.Newf(rowerrors.ErrorTypeUnsupportedValue, "no wire type for %T", v).
			WithDetail("go_type", fmt.Sprintf("%T", v))
	}
}
