package rows

import (
	"bytes"
	"iter"
	"slices"

	"github.com/ajitpratap0/rowpack/pkg/compactmap"
	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
)

// Batch is a columnar container of rows that share one ordered list of column
// names. Column names are set once, either explicitly or from the first row
// added, and never change afterwards. Every stored row has exactly one value
// per column.
//
//	b := rows.NewBatch()
//	_ = b.SetKeys([]string{"id", "name"})
//	_ = b.AddValues([]any{int32(1), "alice"})
//	row, _ := b.Row(0)
//	row.Get("name") // "alice"
type Batch struct {
	hasKeys     bool
	keys        []string
	hashes      []uint64
	fingerprint uint64
	values      [][]any
}

// NewBatch returns a batch with no columns set.
func NewBatch() *Batch {
	return &Batch{}
}

// NewBatchWithKeys returns a batch with its columns already set.
func NewBatchWithKeys(keys ...string) (*Batch, error) {
	b := NewBatch()
	if err := b.SetKeys(keys); err != nil {
		return nil, err
	}
	return b, nil
}

// KeysFingerprint folds the length and hash of each key into a single value:
//
//	fp = fp*1009 + len(key)
//	fp = fp*2339 + hash(key)
//
// with wrapping arithmetic. Equal key lists always produce equal
// fingerprints; unequal lists collide only with small probability.
func KeysFingerprint(keys []string) uint64 {
	var fp uint64
	for _, k := range keys {
		fp = fp*1009 + uint64(len(k))
		fp = fp*2339 + compactmap.HashKey(k)
	}
	return fp
}

// SetKeys sets the column names. It can be called once, and names must be
// distinct.
func (b *Batch) SetKeys(names []string) error {
	if b.hasKeys {
		return rowerrors.New(rowerrors.ErrorTypeSchemaMismatch, "batch columns are already set").
			WithDetail("columns", len(b.keys))
	}
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			return rowerrors.Newf(rowerrors.ErrorTypeSchemaMismatch, "duplicate column %q", n)
		}
		seen[n] = struct{}{}
	}

	b.keys = slices.Clone(names)
	if b.keys == nil {
		b.keys = []string{}
	}
	b.hashes = make([]uint64, len(names))
	for i, n := range names {
		b.hashes[i] = compactmap.HashKey(n)
	}
	b.fingerprint = KeysFingerprint(names)
	b.hasKeys = true
	return nil
}

// HasKeys reports whether the columns have been set.
func (b *Batch) HasKeys() bool { return b.hasKeys }

// Keys returns a copy of the column names.
func (b *Batch) Keys() []string { return slices.Clone(b.keys) }

// ColumnCount returns the number of columns.
func (b *Batch) ColumnCount() int { return len(b.keys) }

// Fingerprint returns KeysFingerprint of the columns, 0 while they are unset.
func (b *Batch) Fingerprint() uint64 { return b.fingerprint }

// Len returns the number of rows.
func (b *Batch) Len() int { return len(b.values) }

// IsEmpty reports whether the batch has no rows.
func (b *Batch) IsEmpty() bool { return len(b.values) == 0 }

// ColumnIndex returns the position of name, or -1.
func (b *Batch) ColumnIndex(name string) int {
	h := compactmap.HashKey(name)
	for i, k := range b.keys {
		if b.hashes[i] == h && k == name {
			return i
		}
	}
	return -1
}

// AddValues appends a row given positionally. The batch keeps values without
// copying it.
func (b *Batch) AddValues(values []any) error {
	if !b.hasKeys {
		return rowerrors.New(rowerrors.ErrorTypeSchemaMismatch, "batch columns are not set")
	}
	if len(values) != len(b.keys) {
		return rowerrors.Newf(rowerrors.ErrorTypeSchemaMismatch,
			"illegal values size %d, batch has %d columns", len(values), len(b.keys))
	}
	b.values = append(b.values, values)
	return nil
}

// AddRow appends row. The first row added to a batch without columns defines
// them from its keys. Later rows are read by column name: keys the row lacks
// become nil and keys the batch lacks are ignored.
func (b *Batch) AddRow(row *Row) error {
	if !b.hasKeys {
		if err := b.SetKeys(row.Keys()); err != nil {
			return err
		}
	}
	values := make([]any, len(b.keys))
	for i, k := range b.keys {
		values[i] = row.Get(k)
	}
	b.values = append(b.values, values)
	return nil
}

// Row returns row i as a Row that shares the batch's storage. Updating an
// existing key writes through to the batch; adding or removing keys fails
// with read_only.
func (b *Batch) Row(i int) (*Row, error) {
	if i < 0 || i >= len(b.values) {
		return nil, rowerrors.Newf(rowerrors.ErrorTypeOutOfRange, "row %d out of range [0,%d)", i, len(b.values))
	}
	return rowOver(compactmap.Wrap(b.keys, b.hashes, b.values[i])), nil
}

// RowValues returns the stored values of row i. The slice is the batch's
// own storage.
func (b *Batch) RowValues(i int) ([]any, error) {
	if i < 0 || i >= len(b.values) {
		return nil, rowerrors.Newf(rowerrors.ErrorTypeOutOfRange, "row %d out of range [0,%d)", i, len(b.values))
	}
	return b.values[i], nil
}

// Value returns the value at (row, col). col -1, as returned by ColumnIndex
// for an unknown name, yields nil.
func (b *Batch) Value(row, col int) (any, error) {
	if row < 0 || row >= len(b.values) {
		return nil, rowerrors.Newf(rowerrors.ErrorTypeOutOfRange, "row %d out of range [0,%d)", row, len(b.values))
	}
	if col == -1 {
		return nil, nil
	}
	if col < 0 || col >= len(b.keys) {
		return nil, rowerrors.Newf(rowerrors.ErrorTypeOutOfRange, "column %d out of range [0,%d)", col, len(b.keys))
	}
	return b.values[row][col], nil
}

// Merge appends the rows of other. A batch without columns merges as a
// no-op. Otherwise both batches must have the same columns in the same
// order: fingerprints are compared first and equal fingerprints are
// confirmed name by name.
func (b *Batch) Merge(other *Batch) error {
	if other == nil || !other.hasKeys {
		return nil
	}
	if b.fingerprint != other.fingerprint || !b.hasKeys || !slices.Equal(b.keys, other.keys) {
		return rowerrors.New(rowerrors.ErrorTypeSchemaMismatch, "batches have different columns").
			WithDetail("columns", b.keys).
			WithDetail("other_columns", other.keys)
	}

	n := len(other.values)
	b.values = slices.Grow(b.values, n)
	for _, v := range other.values[:n] {
		b.values = append(b.values, slices.Clone(v))
	}
	return nil
}

// TrimToSize releases spare row capacity.
func (b *Batch) TrimToSize() {
	if cap(b.values) > len(b.values) {
		b.values = slices.Clone(b.values)
	}
}

// All iterates the rows in order as shared views, see Row.
func (b *Batch) All() iter.Seq2[int, *Row] {
	return func(yield func(int, *Row) bool) {
		for i := range b.values {
			if !yield(i, rowOver(compactmap.Wrap(b.keys, b.hashes, b.values[i]))) {
				return
			}
		}
	}
}

// Rows returns every row as a shared view.
func (b *Batch) Rows() []*Row {
	out := make([]*Row, 0, len(b.values))
	for _, r := range b.All() {
		out = append(out, r)
	}
	return out
}

// MarshalJSON encodes the batch as an array of row objects.
func (b *Batch) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range b.All() {
		if i > 0 {
			buf.WriteByte(',')
		}
		rb, err := r.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(rb)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}
