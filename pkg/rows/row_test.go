package rows

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
)

func TestNewRowBacking(t *testing.T) {
	tests := []struct {
		name     string
		row      *Row
		wantComp bool
	}{
		{"small", NewRow(3), true},
		{"at limit", NewRow(MaxCompactRowCapacity), true},
		{"wide", NewRow(MaxCompactRowCapacity + 1), false},
		{"hash", NewHashRow(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantComp, tt.row.Compact())
		})
	}
}

func TestZeroRow(t *testing.T) {
	var r Row
	assert.Zero(t, r.Len())
	assert.False(t, r.Has("a"))
	assert.Nil(t, r.Get("a"))
	assert.Empty(t, r.Keys())
	assert.Empty(t, r.Values())
	require.NoError(t, r.Delete("a"))

	data, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))

	require.NoError(t, r.Put("b", int64(2)))
	require.NoError(t, r.Put("a", "x"))
	assert.False(t, r.Compact())
	assert.Equal(t, []string{"b", "a"}, r.Keys())
	assert.Equal(t, map[string]any{"a": "x", "b": int64(2)}, r.ToMap())
}

// Both backings must behave the same for everything but capacity.
func TestRowBackingsAgree(t *testing.T) {
	for _, row := range []*Row{NewRow(4), NewHashRow()} {
		t.Run(fmt.Sprintf("compact=%v", row.Compact()), func(t *testing.T) {
			require.NoError(t, row.Put("b", int32(1)))
			require.NoError(t, row.Put("a", "x"))
			require.NoError(t, row.Put("c", nil))
			require.NoError(t, row.Put("b", int32(2)))

			assert.Equal(t, []string{"b", "a", "c"}, row.Keys())
			assert.Equal(t, []any{int32(2), "x", nil}, row.Values())
			assert.Equal(t, int32(2), row.Get("b"))
			assert.Nil(t, row.Get("zzz"))

			v, ok := row.Lookup("c")
			assert.True(t, ok)
			assert.Nil(t, v)
			assert.False(t, row.Has("zzz"))

			require.NoError(t, row.Delete("b"))
			require.NoError(t, row.Delete("missing"))
			assert.Equal(t, []string{"a", "c"}, row.Keys())
			assert.Equal(t, 2, row.Len())
			assert.Equal(t, map[string]any{"a": "x", "c": nil}, row.ToMap())

			require.NoError(t, row.Put("b", int32(3)))
			assert.Equal(t, []string{"a", "c", "b"}, row.Keys())
		})
	}
}

func TestCompactRowCapacity(t *testing.T) {
	row := NewRow(1)
	require.NoError(t, row.Put("a", int64(1)))
	err := row.Put("b", int64(2))
	assert.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeCapacityExceeded))

	wide := NewRow(MaxCompactRowCapacity + 1)
	for i := 0; i < 100; i++ {
		require.NoError(t, wide.Put(fmt.Sprintf("c%d", i), int64(i)))
	}
	assert.Equal(t, 100, wide.Len())
}

func TestRowMarshalJSONKeepsOrder(t *testing.T) {
	row := NewRow(4)
	require.NoError(t, row.Put("z", int32(1)))
	require.NoError(t, row.Put("a", "x"))
	require.NoError(t, row.Put("m", nil))
	require.NoError(t, row.Put("d", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	b, err := row.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":"x","m":null,"d":"2024-01-01T00:00:00Z"}`, string(b))

	b, err = NewHashRow().MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(b))
}
