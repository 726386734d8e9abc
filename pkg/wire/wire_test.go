package wire

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
)

func TestTagsAreStable(t *testing.T) {
	tags := map[Type]uint8{
		TypeByte:    0,
		TypeInt32:   2,
		TypeInt64:   4,
		TypeFloat64: 6,
		TypeBool:    8,
		TypeString:  20,
		TypeDate:    22,
	}
	for typ, tag := range tags {
		assert.Equal(t, tag, uint8(typ), typ.String())
		assert.True(t, typ.Valid())
	}
	assert.False(t, Type(1).Valid())
	assert.False(t, Type(0xFF).Valid())
	assert.Equal(t, "type(255)", Type(0xFF).String())
}

func TestTypeOf(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		in      any
		want    Type
		wantErr bool
	}{
		{"int8", int8(-3), TypeByte, false},
		{"int32", int32(7), TypeInt32, false},
		{"int64", int64(7), TypeInt64, false},
		{"float64", 1.5, TypeFloat64, false},
		{"bool", true, TypeBool, false},
		{"string", "x", TypeString, false},
		{"time", now, TypeDate, false},
		{"nil", nil, 0, true},
		{"int", 7, 0, true},
		{"uint8", uint8(1), 0, true},
		{"float32", float32(1), 0, true},
		{"bytes", []byte("x"), 0, true},
		{"nested list", []any{1, 2}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TypeOf(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeUnsupportedValue))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromAnyRoundTrip(t *testing.T) {
	date := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	for _, in := range []any{int8(-128), int32(math.MaxInt32), int64(math.MinInt64), 2.25, false, "héllo", date} {
		v, err := FromAny(in)
		require.NoError(t, err)
		assert.False(t, v.IsNull())
		assert.Equal(t, in, v.Any())
	}

	v, err := FromAny(nil)
	require.NoError(t, err)
	assert.True(t, v.IsNull())
	assert.Nil(t, v.Any())
}

func TestDateDropsLocationAndNanos(t *testing.T) {
	loc := time.FixedZone("X", 3600)
	in := time.Date(2024, 1, 2, 3, 4, 5, 6_789_000, loc)

	got := Date(in).Any().(time.Time)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, in.UnixMilli(), got.UnixMilli())
	assert.True(t, got.Equal(in.Truncate(time.Millisecond)))
}

func TestFromAnyRejectsUnencodableDates(t *testing.T) {
	for _, d := range []time.Time{
		time.UnixMilli(math.MinInt64),
		time.Date(300000000, 1, 1, 0, 0, 0, 0, time.UTC),
	} {
		_, err := FromAny(d)
		assert.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeUnsupportedValue), "%v", d)
		_, err = FromAnyAs(d, TypeDate)
		assert.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeUnsupportedValue), "%v", d)
	}

	v, err := FromAny(time.UnixMilli(math.MinInt64 + 1))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64+1), v.AsInt64())
}

func TestFromAnyAs(t *testing.T) {
	v, err := FromAnyAs(nil, TypeInt32)
	require.NoError(t, err)
	assert.True(t, v.IsNull())
	assert.Equal(t, TypeInt32, v.Type())

	_, err = FromAnyAs(int32(1), TypeInt64)
	assert.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeUnsupportedValue))

	_, err = FromAnyAs(map[string]any{}, TypeString)
	assert.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeUnsupportedValue))

	v, err = FromAnyAs("ok", TypeString)
	require.NoError(t, err)
	assert.Equal(t, "ok", v.AsString())
}

func TestValueEqualAndString(t *testing.T) {
	assert.True(t, Float64(math.NaN()).Equal(Float64(math.NaN())))
	assert.False(t, Int32(1).Equal(Int64(1)))
	assert.True(t, Null(TypeBool).Equal(Null(TypeBool)))
	assert.False(t, Null(TypeBool).Equal(Bool(false)))

	assert.Equal(t, "null", Null(TypeDate).String())
	assert.Equal(t, `"a"`, String("a").String())
	assert.Equal(t, "1970-01-01T00:00:01Z", DateMillis(1000).String())
}

func TestFixedWidth(t *testing.T) {
	assert.Equal(t, 1, TypeByte.FixedWidth())
	assert.Equal(t, 1, TypeBool.FixedWidth())
	assert.Equal(t, 4, TypeInt32.FixedWidth())
	assert.Equal(t, 8, TypeDate.FixedWidth())
	assert.Equal(t, -1, TypeString.FixedWidth())
}
