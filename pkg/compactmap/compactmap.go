// Package compactmap provides a fixed-capacity, insertion-ordered map for a
// small number of string keys, used as the storage unit of a single row.
//
// Entries live in three parallel slices (keys, cached key hashes, values) and
// lookups are a linear scan. For the few dozen columns a row carries this beats
// a hash map on both memory and speed. Capacity is fixed at construction and
// never grows: inserting a new key into a full map fails with a
// capacity_exceeded error.
//
// A Map is not safe for concurrent mutation, nor for mutation concurrent with
// iteration. Callers serialize access.
package compactmap

import (
	"iter"

	"github.com/cespare/xxhash/v2"

	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
)

// MaxCopyCapacity bounds maps built by Copy and FromEntries.
const MaxCopyCapacity = 64

// HashKey returns the hash cached for a key. It is also the hash rows.Batch
// folds into its schema fingerprint.
func HashKey(key string) uint64 {
	return xxhash.Sum64String(key)
}

// Map is a compact insertion-ordered map from string keys to V.
type Map[V comparable] struct {
	size   int
	keys   []string
	hashes []uint64
	values []V

	// shared is set when keys and hashes belong to someone else (a batch);
	// the key set of such a map cannot change.
	shared bool

	views views[V]
}

// New creates an empty map holding at most capacity entries.
func New[V comparable](capacity int) *Map[V] {
	if capacity < 0 {
		capacity = 0
	}
	return &Map[V]{
		keys:   make([]string, capacity),
		hashes: make([]uint64, capacity),
		values: make([]V, capacity),
	}
}

// FromEntries builds a map sized exactly to entries, inserting them in order.
// Later duplicates overwrite earlier values without moving them.
func FromEntries[V comparable](entries []Entry[V]) (*Map[V], error) {
	if len(entries) > MaxCopyCapacity {
		return nil, rowerrors.Newf(rowerrors.ErrorTypeCapacityExceeded,
			"compact map holds at most %d entries, got %d", MaxCopyCapacity, len(entries))
	}
	m := New[V](len(entries))
	for _, e := range entries {
		if _, _, err := m.Put(e.Key, e.Value); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Copy returns an independent copy of src with capacity equal to src.Len().
func Copy[V comparable](src *Map[V]) (*Map[V], error) {
	if src.size > MaxCopyCapacity {
		return nil, rowerrors.Newf(rowerrors.ErrorTypeCapacityExceeded,
			"compact map holds at most %d entries, got %d", MaxCopyCapacity, src.size)
	}
	m := New[V](src.size)
	copy(m.keys, src.keys[:src.size])
	copy(m.hashes, src.hashes[:src.size])
	copy(m.values, src.values[:src.size])
	m.size = src.size
	return m, nil
}

// Wrap returns a full map over externally owned slices without copying them.
// keys and hashes must be index-aligned and len(values) must equal len(keys).
// Values may be updated in place through Put; the key set is fixed.
func Wrap[V comparable](keys []string, hashes []uint64, values []V) *Map[V] {
	return &Map[V]{
		size:   len(keys),
		keys:   keys,
		hashes: hashes,
		values: values,
		shared: true,
	}
}

// Len returns the number of entries.
func (m *Map[V]) Len() int { return m.size }

// Cap returns the fixed capacity.
func (m *Map[V]) Cap() int { return len(m.keys) }

// IsEmpty reports whether the map has no entries.
func (m *Map[V]) IsEmpty() bool { return m.size == 0 }

// Shared reports whether the map is a view over slices it does not own.
func (m *Map[V]) Shared() bool { return m.shared }

// indexOf scans for key. The hash comparison only rejects early; equality is
// always confirmed on the key itself.
func (m *Map[V]) indexOf(key string, hash uint64) int {
	for i := 0; i < m.size; i++ {
		if m.hashes[i] == hash && m.keys[i] == key {
			return i
		}
	}
	return -1
}

// Get returns the value stored under key.
func (m *Map[V]) Get(key string) (V, bool) {
	if i := m.indexOf(key, HashKey(key)); i >= 0 {
		return m.values[i], true
	}
	var zero V
	return zero, false
}

// ContainsKey reports whether key is present.
func (m *Map[V]) ContainsKey(key string) bool {
	return m.indexOf(key, HashKey(key)) >= 0
}

// ContainsValue reports whether any entry holds value. Like map keys, values
// whose dynamic type is not comparable cause a runtime panic.
func (m *Map[V]) ContainsValue(value V) bool {
	for i := 0; i < m.size; i++ {
		if m.values[i] == value {
			return true
		}
	}
	return false
}

// Put stores value under key. An existing entry is updated in place and keeps
// its position; prev and replaced describe the value it held. A new key is
// appended at the end, which fails when the map is full.
func (m *Map[V]) Put(key string, value V) (prev V, replaced bool, err error) {
	hash := HashKey(key)
	if i := m.indexOf(key, hash); i >= 0 {
		prev = m.values[i]
		m.values[i] = value
		return prev, true, nil
	}

	if m.shared {
		return prev, false, rowerrors.New(rowerrors.ErrorTypeReadOnly, "cannot add a key to a shared row").
			WithDetail("key", key)
	}
	if m.size == len(m.keys) {
		return prev, false, rowerrors.New(rowerrors.ErrorTypeCapacityExceeded, "compact map is full").
			WithDetail("capacity", len(m.keys)).
			WithDetail("key", key)
	}

	m.keys[m.size] = key
	m.hashes[m.size] = hash
	m.values[m.size] = value
	m.size++
	return prev, false, nil
}

// Remove deletes key, shifting the following entries left so the remaining
// ones keep their relative order.
func (m *Map[V]) Remove(key string) (prev V, removed bool, err error) {
	i := m.indexOf(key, HashKey(key))
	if i < 0 {
		return prev, false, nil
	}
	if m.shared {
		return prev, false, rowerrors.New(rowerrors.ErrorTypeReadOnly, "cannot remove a key from a shared row").
			WithDetail("key", key)
	}

	prev = m.values[i]
	copy(m.keys[i:m.size], m.keys[i+1:m.size])
	copy(m.hashes[i:m.size], m.hashes[i+1:m.size])
	copy(m.values[i:m.size], m.values[i+1:m.size])
	m.size--

	// drop references held by the vacated slot
	var zero V
	m.keys[m.size] = ""
	m.values[m.size] = zero
	return prev, true, nil
}

// Clear removes all entries. Capacity is unchanged.
func (m *Map[V]) Clear() error {
	if m.shared {
		return rowerrors.New(rowerrors.ErrorTypeReadOnly, "cannot clear a shared row")
	}
	var zero V
	for i := 0; i < m.size; i++ {
		m.keys[i] = ""
		m.values[i] = zero
	}
	m.size = 0
	return nil
}

// All iterates entries in insertion order. The iteration observes the map
// live: entries appended during the loop are visited.
func (m *Map[V]) All() iter.Seq2[string, V] {
	return func(yield func(string, V) bool) {
		for i := 0; i < m.size; i++ {
			if !yield(m.keys[i], m.values[i]) {
				return
			}
		}
	}
}

// Keys returns a snapshot of the keys in insertion order.
func (m *Map[V]) Keys() []string {
	out := make([]string, m.size)
	copy(out, m.keys[:m.size])
	return out
}

// Entries returns a snapshot of the entries in insertion order.
func (m *Map[V]) Entries() []Entry[V] {
	out := make([]Entry[V], m.size)
	for i := 0; i < m.size; i++ {
		out[i] = Entry[V]{Key: m.keys[i], Value: m.values[i]}
	}
	return out
}
