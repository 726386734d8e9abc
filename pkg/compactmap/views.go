package compactmap

import (
	"sync/atomic"

	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
)

// Entry is a key-value pair.
type Entry[V comparable] struct {
	Key   string
	Value V
}

// views caches the lazily built views. Each pointer is published with a
// compare-and-swap, so concurrent first calls agree on a single instance.
type views[V comparable] struct {
	keys    atomic.Pointer[KeySet[V]]
	values  atomic.Pointer[ValueCollection[V]]
	entries atomic.Pointer[EntrySet[V]]
}

// KeySet returns the live, read-only key view.
func (m *Map[V]) KeySet() *KeySet[V] {
	if v := m.views.keys.Load(); v != nil {
		return v
	}
	m.views.keys.CompareAndSwap(nil, &KeySet[V]{m: m})
	return m.views.keys.Load()
}

// ValueCollection returns the live, read-only value view.
func (m *Map[V]) ValueCollection() *ValueCollection[V] {
	if v := m.views.values.Load(); v != nil {
		return v
	}
	m.views.values.CompareAndSwap(nil, &ValueCollection[V]{m: m})
	return m.views.values.Load()
}

// EntrySet returns the live, read-only entry view.
func (m *Map[V]) EntrySet() *EntrySet[V] {
	if v := m.views.entries.Load(); v != nil {
		return v
	}
	m.views.entries.CompareAndSwap(nil, &EntrySet[V]{m: m})
	return m.views.entries.Load()
}

// KeySet is a live view of a map's keys.
type KeySet[V comparable] struct{ m *Map[V] }

// Len returns the number of keys.
func (s *KeySet[V]) Len() int { return s.m.Len() }

// IsEmpty reports whether the map has no keys.
func (s *KeySet[V]) IsEmpty() bool { return s.m.IsEmpty() }

// Contains reports whether key is present.
func (s *KeySet[V]) Contains(key string) bool { return s.m.ContainsKey(key) }

// Clear empties the underlying map.
func (s *KeySet[V]) Clear() error { return s.m.Clear() }

// Iterator returns an iterator positioned before the first key.
func (s *KeySet[V]) Iterator() *Iterator[V] { return &Iterator[V]{m: s.m, pos: -1} }

// ValueCollection is a live view of a map's values.
type ValueCollection[V comparable] struct{ m *Map[V] }

// Len returns the number of values.
func (c *ValueCollection[V]) Len() int { return c.m.Len() }

// IsEmpty reports whether the map has no values.
func (c *ValueCollection[V]) IsEmpty() bool { return c.m.IsEmpty() }

// Contains reports whether any key maps to value.
func (c *ValueCollection[V]) Contains(value V) bool { return c.m.ContainsValue(value) }

// Clear empties the underlying map.
func (c *ValueCollection[V]) Clear() error { return c.m.Clear() }

// Iterator returns an iterator positioned before the first value.
func (c *ValueCollection[V]) Iterator() *Iterator[V] { return &Iterator[V]{m: c.m, pos: -1} }

// EntrySet is a live view of a map's entries.
type EntrySet[V comparable] struct{ m *Map[V] }

// Len returns the number of entries.
func (s *EntrySet[V]) Len() int { return s.m.Len() }

// IsEmpty reports whether the map has no entries.
func (s *EntrySet[V]) IsEmpty() bool { return s.m.IsEmpty() }

// Clear empties the underlying map.
func (s *EntrySet[V]) Clear() error { return s.m.Clear() }

// Contains reports whether the map holds e.Key mapped to e.Value.
func (s *EntrySet[V]) Contains(e Entry[V]) bool {
	v, ok := s.m.Get(e.Key)
	return ok && v == e.Value
}

// Iterator returns an iterator positioned before the first entry.
func (s *EntrySet[V]) Iterator() *Iterator[V] { return &Iterator[V]{m: s.m, pos: -1} }

// Iterator walks a map in insertion order. It reads the map live, so entries
// appended while iterating are visited.
//
//	it := m.EntrySet().Iterator()
//	for it.Next() {
//	    fmt.Println(it.Key(), it.Value())
//	}
type Iterator[V comparable] struct {
	m   *Map[V]
	pos int
}

// Next advances to the next entry and reports whether there is one.
func (it *Iterator[V]) Next() bool {
	if it.pos < it.m.size {
		it.pos++
	}
	return it.pos < it.m.size
}

// Key returns the current key.
func (it *Iterator[V]) Key() string { return it.m.keys[it.pos] }

// Value returns the current value.
func (it *Iterator[V]) Value() V { return it.m.values[it.pos] }

// Entry returns the current entry.
func (it *Iterator[V]) Entry() Entry[V] {
	return Entry[V]{Key: it.m.keys[it.pos], Value: it.m.values[it.pos]}
}

// Remove always fails: views are read-only.
func (it *Iterator[V]) Remove() error {
	return rowerrors.New(rowerrors.ErrorTypeReadOnly, "map views do not support removal")
}
