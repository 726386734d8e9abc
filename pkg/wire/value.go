package wire

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
)

// Value is a typed wire value. Integer kinds and dates share the integer
// slot; dates hold epoch milliseconds. The zero Value is a null string.
type Value struct {
	typ  Type
	null bool
	i    int64
	f    float64
	b    bool
	s    string
}

func Byte(v int8) Value       { return Value{typ: TypeByte, i: int64(v)} }
func Int32(v int32) Value     { return Value{typ: TypeInt32, i: int64(v)} }
func Int64(v int64) Value     { return Value{typ: TypeInt64, i: v} }
func Float64(v float64) Value { return Value{typ: TypeFloat64, f: v} }
func Bool(v bool) Value       { return Value{typ: TypeBool, b: v} }
func String(v string) Value   { return Value{typ: TypeString, s: v} }

// Date converts t to epoch milliseconds. Sub-millisecond precision and the
// location are dropped.
func Date(t time.Time) Value { return Value{typ: TypeDate, i: t.UnixMilli()} }

// dateOf is Date for values that must survive encoding. The millisecond
// count has to fit an int64 and must not be the null sentinel.
func dateOf(t time.Time) (Value, error) {
	ms := t.UnixMilli()
	back := time.UnixMilli(ms)
	if ms == math.MinInt64 || back.Unix() != t.Unix() || back.Nanosecond()/1e6 != t.Nanosecond()/1e6 {
		return Value{}, rowerrors.New(rowerrors.ErrorTypeUnsupportedValue, "date out of range").
			WithDetail("date", t.UTC().Format(time.RFC3339Nano))
	}
	return Value{typ: TypeDate, i: ms}, nil
}

// DateMillis builds a date from epoch milliseconds.
func DateMillis(ms int64) Value { return Value{typ: TypeDate, i: ms} }

// Null returns the null value of type t.
func Null(t Type) Value { return Value{typ: t, null: true} }

// FromAny converts a Go value to a Value. nil becomes a null string.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(TypeString), nil
	case int8:
		return Byte(x), nil
	case int32:
		return Int32(x), nil
	case int64:
		return Int64(x), nil
	case float64:
		return Float64(x), nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case time.Time:
		return dateOf(x)
	default:
		_, err := TypeOf(v)
		return Value{}, err
	}
}

// FromAnyAs converts v and checks it against the column type t. nil becomes
// the null of t. Values are never promoted: an int32 in an int64 column is
// rejected.
func FromAnyAs(v any, t Type) (Value, error) {
	if v == nil {
		return Null(t), nil
	}
	val, err := FromAny(v)
	if err != nil {
		return Value{}, err
	}
	if val.typ != t {
		return Value{}, rowerrors.Newf(rowerrors.ErrorTypeUnsupportedValue,
			"%s value in %s column", val.typ, t).
			WithDetail("go_type", fmt.Sprintf("%T", v))
	}
	return val, nil
}

func (v Value) Type() Type   { return v.typ }
func (v Value) IsNull() bool { return v.null }

// AsInt64 returns the integer payload of byte, int32, int64 and date values.
func (v Value) AsInt64() int64     { return v.i }
func (v Value) AsFloat64() float64 { return v.f }
func (v Value) AsBool() bool       { return v.b }
func (v Value) AsString() string   { return v.s }

// Any returns the Go value, nil for nulls. Dates come back in UTC.
func (v Value) Any() any {
	if v.null {
		return nil
	}
	switch v.typ {
	case TypeByte:
		return int8(v.i)
	case TypeInt32:
		return int32(v.i)
	case TypeInt64:
		return v.i
	case TypeFloat64:
		return v.f
	case TypeBool:
		return v.b
	case TypeString:
		return v.s
	case TypeDate:
		return time.UnixMilli(v.i).UTC()
	}
	return nil
}

// Equal reports whether two values have the same type, nullness and payload.
// Float payloads compare by bit pattern so NaN equals itself.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ || v.null != o.null {
		return false
	}
	if v.null {
		return true
	}
	switch v.typ {
	case TypeFloat64:
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	case TypeBool:
		return v.b == o.b
	case TypeString:
		return v.s == o.s
	default:
		return v.i == o.i
	}
}

func (v Value) String() string {
	if v.null {
		return "null"
	}
	switch v.typ {
	case TypeFloat64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeString:
		return strconv.Quote(v.s)
	case TypeDate:
		return time.UnixMilli(v.i).UTC().Format(time.RFC3339Nano)
	default:
		return strconv.FormatInt(v.i, 10)
	}
}
