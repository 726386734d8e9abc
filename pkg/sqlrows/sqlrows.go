// Package sqlrows materializes database/sql result sets as rows.Row lists and
// rows.Batch values ready for encoding.
//
// Column names come from the cursor's column labels. Driver values are passed
// through Normalize so that the result only holds types the wire format
// understands.
package sqlrows

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
	"github.com/ajitpratap0/rowpack/pkg/rows"
)

// Cursor is the subset of *sql.Rows the readers use.
type Cursor interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Querier runs a query. *sql.DB, *sql.Tx and *sql.Conn satisfy it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

var _ Cursor = (*sql.Rows)(nil)

// ReadRows reads every remaining row from c and closes it.
func ReadRows(c Cursor) (out []*rows.Row, err error) {
	defer closeCursor(c, &err)

	cols, err := columns(c)
	if err != nil {
		return nil, err
	}
	dest, ptrs := scanTargets(len(cols))
	for c.Next() {
		values, err := scanRow(c, dest, ptrs)
		if err != nil {
			return nil, err
		}
		row := rows.NewRow(len(cols))
		for i, name := range cols {
			if err := row.Put(name, values[i]); err != nil {
				return nil, err
			}
		}
		out = append(out, row)
	}
	if err := c.Err(); err != nil {
		return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeQuery, "can't read the list of rows from the result set")
	}
	return out, nil
}

// ReadBatch reads every remaining row from c into a batch and closes c. The
// batch's columns are set even when the result set is empty.
func ReadBatch(c Cursor) (b *rows.Batch, err error) {
	defer closeCursor(c, &err)

	cols, err := columns(c)
	if err != nil {
		return nil, err
	}
	b = rows.NewBatch()
	if err := b.SetKeys(cols); err != nil {
		return nil, err
	}
	dest, ptrs := scanTargets(len(cols))
	for c.Next() {
		values, err := scanRow(c, dest, ptrs)
		if err != nil {
			return nil, err
		}
		if err := b.AddValues(values); err != nil {
			return nil, err
		}
	}
	if err := c.Err(); err != nil {
		return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeQuery, "can't read the list of rows from the result set")
	}
	b.TrimToSize()
	return b, nil
}

// ReadFirst reads the first row from c and closes it. It returns nil and no
// error when the result set is empty.
func ReadFirst(c Cursor) (row *rows.Row, err error) {
	defer closeCursor(c, &err)

	cols, err := columns(c)
	if err != nil {
		return nil, err
	}
	if !c.Next() {
		if err := c.Err(); err != nil {
			return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeQuery, "can't read the first row from the result set")
		}
		return nil, nil
	}
	dest, ptrs := scanTargets(len(cols))
	values, err := scanRow(c, dest, ptrs)
	if err != nil {
		return nil, err
	}
	row = rows.NewRow(len(cols))
	for i, name := range cols {
		if err := row.Put(name, values[i]); err != nil {
			return nil, err
		}
	}
	return row, nil
}

// QueryBatch runs query on q and reads the result with ReadBatch.
func QueryBatch(ctx context.Context, q Querier, query string, args ...any) (*rows.Batch, error) {
	rs, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeQuery, "query failed")
	}
	return ReadBatch(rs)
}

// QueryRows runs query on q and reads the result with ReadRows.
func QueryRows(ctx context.Context, q Querier, query string, args ...any) ([]*rows.Row, error) {
	rs, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeQuery, "query failed")
	}
	return ReadRows(rs)
}

// QueryFirst runs query on q and reads the result with ReadFirst.
func QueryFirst(ctx context.Context, q Querier, query string, args ...any) (*rows.Row, error) {
	rs, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeQuery, "query failed")
	}
	return ReadFirst(rs)
}

// Normalize maps a driver value to the type the wire format stores:
//
//	[]byte                      -> string
//	int, int16, uint8..uint64   -> int64 (when it fits)
//	float32                     -> float64
//
// nil, int8, int32, int64, float64, bool, string and time.Time are returned
// unchanged, and so is anything else, which the codec will reject.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int16:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint:
		if uint64(x) <= math.MaxInt64 {
			return int64(x)
		}
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
	case float32:
		return float64(x)
	case time.Time:
		return x
	}
	return v
}

func columns(c Cursor) ([]string, error) {
	cols, err := c.Columns()
	if err != nil {
		return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeQuery, "can't read result set columns")
	}
	return cols, nil
}

func scanTargets(n int) ([]any, []any) {
	dest := make([]any, n)
	ptrs := make([]any, n)
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	return dest, ptrs
}

// scanRow scans the current row and returns a fresh, normalized copy.
func scanRow(c Cursor, dest, ptrs []any) ([]any, error) {
	if err := c.Scan(ptrs...); err != nil {
		return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeQuery, "can't scan row")
	}
	values := make([]any, len(dest))
	for i, v := range dest {
		values[i] = Normalize(v)
		dest[i] = nil
	}
	return values, nil
}

// closeCursor closes c and reports its error if nothing else failed.
func closeCursor(c Cursor, err *error) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = rowerrors.Wrap(cerr, rowerrors.ErrorTypeQuery, "can't close result set")
	}
}
