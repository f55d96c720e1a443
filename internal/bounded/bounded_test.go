package bounded

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keys[K comparable, V any](m Map[K, V]) []K {
	var out []K
	m.Range(func(k K, _ V) bool {
		out = append(out, k)
		return true
	})
	return out
}

func TestFIFOEvictsEarliestInserted(t *testing.T) {
	var evicted []int
	m := NewFIFO[int, string](3, func(k int, _ string) { evicted = append(evicted, k) })
	m.Put(1, "a")
	m.Put(2, "b")
	m.Put(3, "c")
	// reading and updating 1 must not protect it
	_, _ = m.Get(1)
	m.Put(1, "a2")
	m.Put(4, "d")

	assert.Equal(t, []int{1}, evicted)
	assert.Equal(t, []int{2, 3, 4}, keys[int, string](m))
	assert.Equal(t, uint64(1), m.Evictions())
	_, ok := m.Get(1)
	assert.False(t, ok)
}

func TestFIFOCardinalityNeverExceedsCapacity(t *testing.T) {
	const n = 10
	m := NewFIFO[int, int](n, nil)
	for i := 0; i < 5*n; i++ {
		before := m.Evictions()
		m.Put(i, i)
		require.LessOrEqual(t, m.Len(), n)
		if i >= n {
			require.Equal(t, before+1, m.Evictions(), "insert %d", i)
			_, ok := m.Get(i - n)
			require.False(t, ok, "key %d should be gone", i-n)
		}
	}
	assert.Equal(t, uint64(4*n), m.Evictions())
}

func TestFIFODeleteAndClearAreNotEvictions(t *testing.T) {
	m := NewFIFO[string, int](2, nil)
	m.Put("a", 1)
	m.Put("b", 2)
	m.Delete("a")
	m.Put("c", 3)
	assert.Equal(t, []string{"b", "c"}, keys[string, int](m))
	m.Clear()
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, uint64(0), m.Evictions())
}

func TestLRUPolicyKeepsRecentlyUsed(t *testing.T) {
	m := New[int, int](PolicyLRU, 2, nil)
	m.Put(1, 1)
	m.Put(2, 2)
	_, _ = m.Get(1)
	m.Put(3, 3)
	_, ok := m.Get(2)
	assert.False(t, ok)
	_, ok = m.Get(1)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), m.Evictions())
	m.Delete(1)
	assert.Equal(t, uint64(1), m.Evictions())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyFIFO, p)
	p, err = ParsePolicy("LRU")
	require.NoError(t, err)
	assert.Equal(t, PolicyLRU, p)
	_, err = ParsePolicy("random")
	assert.Error(t, err)
}
