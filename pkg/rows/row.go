// Package rows holds query results in memory: Row is a single record keyed by
// column name, Batch is a columnar set of rows sharing one ordered column list.
//
// Neither type is safe for concurrent mutation.
package rows

import (
	"bytes"
	"iter"
	"slices"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/rowpack/pkg/compactmap"
	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
)

// MaxCompactRowCapacity is the largest capacity NewRow backs with a compact map.
// Wider rows use an ordered hash store.
const MaxCompactRowCapacity = 16

// Row is an ordered string-keyed record. Keys keep their first insertion
// position; updating a key does not move it. The zero Row is an empty,
// unbounded row.
type Row struct {
	compact *compactmap.Map[any]
	hash    *orderedStore
}

// NewRow returns an empty row sized for capacity columns. Rows of up to
// MaxCompactRowCapacity columns are compact and cannot grow past capacity.
func NewRow(capacity int) *Row {
	if capacity <= MaxCompactRowCapacity {
		return &Row{compact: compactmap.New[any](capacity)}
	}
	return &Row{hash: newOrderedStore(capacity)}
}

// NewHashRow returns an unbounded row.
func NewHashRow() *Row {
	return &Row{hash: newOrderedStore(0)}
}

func rowOver(m *compactmap.Map[any]) *Row {
	return &Row{compact: m}
}

// Compact reports whether the row is backed by a compact map.
func (r *Row) Compact() bool { return r.compact != nil }

// Len returns the number of keys.
func (r *Row) Len() int {
	if r.compact != nil {
		return r.compact.Len()
	}
	if r.hash == nil {
		return 0
	}
	return len(r.hash.keys)
}

// Get returns the value under key, or nil if the key is absent.
func (r *Row) Get(key string) any {
	v, _ := r.Lookup(key)
	return v
}

// Lookup returns the value under key and whether the key is present. A
// present key may hold nil.
func (r *Row) Lookup(key string) (any, bool) {
	if r.compact != nil {
		return r.compact.Get(key)
	}
	if r.hash == nil {
		return nil, false
	}
	i, ok := r.hash.index[key]
	if !ok {
		return nil, false
	}
	return r.hash.values[i], true
}

// Has reports whether key is present.
func (r *Row) Has(key string) bool {
	_, ok := r.Lookup(key)
	return ok
}

// Put sets key to value. It fails with capacity_exceeded when a compact row is
// full, and with read_only when adding a key to a row that belongs to a Batch.
func (r *Row) Put(key string, value any) error {
	if r.compact != nil {
		_, _, err := r.compact.Put(key, value)
		return err
	}
	if r.hash == nil {
		r.hash = newOrderedStore(0)
	}
	r.hash.put(key, value)
	return nil
}

// Delete removes key. Rows that belong to a Batch are read-only in this
// respect.
func (r *Row) Delete(key string) error {
	if r.compact != nil {
		_, _, err := r.compact.Remove(key)
		return err
	}
	if r.hash != nil {
		r.hash.remove(key)
	}
	return nil
}

// Keys returns the keys in order.
func (r *Row) Keys() []string {
	if r.compact != nil {
		return r.compact.Keys()
	}
	if r.hash == nil {
		return []string{}
	}
	return slices.Clone(r.hash.keys)
}

// Values returns the values in key order.
func (r *Row) Values() []any {
	out := make([]any, 0, r.Len())
	for _, v := range r.All() {
		out = append(out, v)
	}
	return out
}

// All iterates the row in key order.
func (r *Row) All() iter.Seq2[string, any] {
	if r.compact != nil {
		return r.compact.All()
	}
	return func(yield func(string, any) bool) {
		if r.hash == nil {
			return
		}
		for i, k := range r.hash.keys {
			if !yield(k, r.hash.values[i]) {
				return
			}
		}
	}
}

// ToMap copies the row into a plain map.
func (r *Row) ToMap() map[string]any {
	out := make(map[string]any, r.Len())
	for k, v := range r.All() {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the row as an object with keys in row order.
func (r *Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for k, v := range r.All() {
		if !first {
			buf.WriteByte(',')
		}
		first = false

		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(v)
		if err != nil {
			return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeUnsupportedValue, "encoding row value as JSON").
				WithDetail("key", k)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// orderedStore is the unbounded backing for wide rows: a key index over
// insertion-ordered slices.
type orderedStore struct {
	keys   []string
	values []any
	index  map[string]int
}

func newOrderedStore(capacity int) *orderedStore {
	return &orderedStore{
		keys:   make([]string, 0, capacity),
		values: make([]any, 0, capacity),
		index:  make(map[string]int, capacity),
	}
}

func (s *orderedStore) put(key string, value any) {
	if i, ok := s.index[key]; ok {
		s.values[i] = value
		return
	}
	s.index[key] = len(s.keys)
	s.keys = append(s.keys, key)
	s.values = append(s.values, value)
}

func (s *orderedStore) remove(key string) {
	i, ok := s.index[key]
	if !ok {
		return
	}
	delete(s.index, key)
	s.keys = slices.Delete(s.keys, i, i+1)
	s.values = slices.Delete(s.values, i, i+1)
	for j := i; j < len(s.keys); j++ {
		s.index[s.keys[j]] = j
	}
}
