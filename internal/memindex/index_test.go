package memindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PawelMarc/sophia/internal/record"
)

func mustVersion(t *testing.T, key, value string) *record.Version {
	t.Helper()
	v, err := record.New(nil, []byte(key), []byte(value))
	require.NoError(t, err)
	return v
}

func TestSetAndGet(t *testing.T) {
	idx := New(nil)
	idx.Set(mustVersion(t, "a", "1"))
	v, ok := idx.Get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("1"), v.Value)
}

func TestReplacementLawReturnsDisplaced(t *testing.T) {
	idx := New(nil)
	v1 := mustVersion(t, "k", "v1")
	idx.Set(v1)
	v2 := mustVersion(t, "k", "v2")
	old := idx.Set(v2)

	require.Same(t, v1, old)
	require.Equal(t, 1, idx.Count())

	got, ok := idx.Get([]byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("v2"), got.Value)
}

func TestTruncateDropsEverything(t *testing.T) {
	idx := New(nil)
	idx.Set(mustVersion(t, "a", "1"))
	idx.Set(mustVersion(t, "b", "2"))
	idx.Truncate()
	require.Zero(t, idx.Count())
	_, ok := idx.Get([]byte("a"))
	require.False(t, ok)
}

func TestSplitsPagesBeyondCapacity(t *testing.T) {
	idx := New(nil)
	for i := 0; i < defaultPageCapacity*3; i++ {
		key := []byte{byte(i >> 8), byte(i)}
		idx.Set(mustVersion(t, string(key), "v"))
	}
	require.Equal(t, defaultPageCapacity*3, idx.Count())
	require.Greater(t, idx.PageCount(), 1)

	// Every key must still be resolvable after splitting.
	for i := 0; i < defaultPageCapacity*3; i++ {
		key := []byte{byte(i >> 8), byte(i)}
		_, ok := idx.Get(key)
		require.True(t, ok)
	}
}

func TestForEachVisitsInAscendingOrder(t *testing.T) {
	idx := New(nil)
	idx.Set(mustVersion(t, "c", "3"))
	idx.Set(mustVersion(t, "a", "1"))
	idx.Set(mustVersion(t, "b", "2"))

	var keys []string
	idx.ForEach(func(v *record.Version) bool {
		keys = append(keys, string(v.Key))
		return true
	})
	require.Equal(t, []string{"a", "b", "c"}, keys)
}
