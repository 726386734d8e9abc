package rowcodec

import (
	"math"
	"slices"

	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
	"github.com/ajitpratap0/rowpack/pkg/rows"
	"github.com/ajitpratap0/rowpack/pkg/wire"
)

var magic = [4]byte{'R', 'O', 'W', 'S'}

const (
	formatColumnar byte = 'A'
	formatLegacy   byte = 'H'

	// legacyNullColumn is the type byte older writers used for columns whose
	// values were all null.
	legacyNullColumn byte = 0xFF

	presenceNull    byte = 0
	presencePresent byte = 1
)

// plan is a fully validated batch: column types are resolved and every value
// is known to encode, so writing it cannot fail on content.
type plan struct {
	keys  []string
	types []wire.Type
	rows  [][]any
	size  int
}

func planBatch(b *rows.Batch) (*plan, error) {
	values := make([][]any, b.Len())
	for i := range values {
		values[i], _ = b.RowValues(i)
	}
	return newPlan(b.Keys(), values)
}

// ColumnTypes returns the wire type each column of b is encoded with. It
// validates every value the way Marshal does. Columns without a non-null
// value, including all columns of an empty batch, are strings.
func ColumnTypes(b *rows.Batch) ([]wire.Type, error) {
	p, err := planBatch(b)
	if err != nil {
		return nil, err
	}
	if p.types != nil {
		return p.types, nil
	}
	types := make([]wire.Type, len(p.keys))
	for i := range types {
		types[i] = wire.TypeString
	}
	return types, nil
}

// planRows plans a list of rows that must share one key order. Lists with
// differing keys would need the legacy row-oriented encoding, which is not
// written.
func planRows(rs []*rows.Row) (*plan, error) {
	if len(rs) == 0 {
		return newPlan(nil, nil)
	}
	keys := rs[0].Keys()
	values := make([][]any, len(rs))
	for i, r := range rs {
		if i > 0 && !slices.Equal(r.Keys(), keys) {
			return nil, rowerrors.New(rowerrors.ErrorTypeUnsupportedFormat,
				"rows with differing columns require the legacy row-oriented encoding").
				WithDetail("row", i)
		}
		values[i] = r.Values()
	}
	return newPlan(keys, values)
}

func newPlan(keys []string, values [][]any) (*plan, error) {
	if len(values) > math.MaxInt32 {
		return nil, rowerrors.Newf(rowerrors.ErrorTypeFormat, "too many rows: %d", len(values))
	}
	p := &plan{keys: keys, rows: values}
	if len(values) == 0 {
		p.size = len(magic) + 4
		return p, nil
	}

	p.types = make([]wire.Type, len(keys))
	for c := range keys {
		p.types[c] = wire.TypeString
		for _, row := range values {
			if row[c] == nil {
				continue
			}
			t, err := wire.TypeOf(row[c])
			if err != nil {
				return nil, columnError(err, keys[c])
			}
			p.types[c] = t
			break
		}
	}

	size := len(magic) + 4 + 1
	size += 4
	for _, k := range keys {
		size += 1 + 4 + len(k)
	}
	size += len(keys)

	for r, row := range values {
		if len(row) != len(keys) {
			return nil, rowerrors.Newf(rowerrors.ErrorTypeSchemaMismatch,
				"row %d has %d values, batch has %d columns", r, len(row), len(keys))
		}
		size += 4
		for c, v := range row {
			val, err := wire.FromAnyAs(v, p.types[c])
			if err != nil {
				return nil, columnError(err, keys[c]).WithDetail("row", r)
			}
			if len(val.AsString()) > math.MaxInt32 {
				return nil, rowerrors.New(rowerrors.ErrorTypeUnsupportedValue, "string longer than 2GiB").
					WithDetail("column", keys[c]).
					WithDetail("row", r)
			}
			size += valueSize(val)
		}
	}
	p.size = size
	return p, nil
}

func columnError(err error, column string) *rowerrors.Error {
	return rowerrors.Wrap(err, rowerrors.TypeOf(err), "column "+column).WithDetail("column", column)
}

func valueSize(v wire.Value) int {
	if v.IsNull() {
		return 1
	}
	if w := v.Type().FixedWidth(); w > 0 {
		return 1 + w
	}
	return 1 + 4 + len(v.AsString())
}
