package compactmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
)

func TestViewsAreCachedAndLive(t *testing.T) {
	m := New[int](4)
	keys := m.KeySet()
	values := m.ValueCollection()
	entries := m.EntrySet()

	assert.Same(t, keys, m.KeySet())
	assert.Same(t, values, m.ValueCollection())
	assert.Same(t, entries, m.EntrySet())

	assert.True(t, keys.IsEmpty())
	_, _, _ = m.Put("a", 1)
	_, _, _ = m.Put("b", 2)

	assert.Equal(t, 2, keys.Len())
	assert.True(t, keys.Contains("b"))
	assert.True(t, values.Contains(2))
	assert.True(t, entries.Contains(Entry[int]{Key: "a", Value: 1}))
	assert.False(t, entries.Contains(Entry[int]{Key: "a", Value: 2}))

	require.NoError(t, values.Clear())
	assert.Equal(t, 0, m.Len())
}

func TestIteratorOrderAndRemoval(t *testing.T) {
	m := New[int](3)
	_, _, _ = m.Put("x", 1)
	_, _, _ = m.Put("y", 2)

	it := m.EntrySet().Iterator()
	var got []Entry[int]
	for it.Next() {
		got = append(got, it.Entry())
		if it.Key() == "x" {
			// appended during iteration, visited because the view is live
			_, _, _ = m.Put("z", 3)
		}
	}
	assert.Equal(t, []Entry[int]{{"x", 1}, {"y", 2}, {"z", 3}}, got)
	assert.False(t, it.Next())

	kit := m.KeySet().Iterator()
	require.True(t, kit.Next())
	assert.True(t, rowerrors.IsType(kit.Remove(), rowerrors.ErrorTypeReadOnly))
	assert.Equal(t, 3, m.Len())

	vit := m.ValueCollection().Iterator()
	var vals []int
	for vit.Next() {
		vals = append(vals, vit.Value())
	}
	assert.Equal(t, []int{1, 2, 3}, vals)
}

func TestViewFirstAccessRace(t *testing.T) {
	m := New[int](1)
	const n = 16
	got := make([]*EntrySet[int], n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = m.EntrySet()
		}(i)
	}
	wg.Wait()

	for _, s := range got {
		assert.Same(t, got[0], s)
	}
}
