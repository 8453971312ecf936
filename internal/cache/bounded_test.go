package cache

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedEvictsLeastRecentlyUsed(t *testing.T) {
	store := newMemStore(t)
	bounded, err := NewBounded(store.Bucket("dynamic-v1"), 2)
	require.NoError(t, err)

	require.NoError(t, bounded.Set("a", []byte("1")))
	require.NoError(t, bounded.Set("b", []byte("2")))

	// touch a so b becomes the oldest
	data, err := bounded.Get("a")
	require.NoError(t, err)
	require.NotNil(t, data)

	require.NoError(t, bounded.Set("c", []byte("3")))

	keys, err := bounded.Keys()
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "c"}, keys)
	assert.Equal(t, 2, bounded.Len())

	data, err = bounded.Get("b")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestBoundedTrimsExistingKeys(t *testing.T) {
	store := newMemStore(t)
	inner := store.Bucket("dynamic-v1")
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, inner.Set(k, []byte(k)))
	}

	bounded, err := NewBounded(inner, 3)
	require.NoError(t, err)

	keys, err := inner.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 3)
	assert.Equal(t, 3, bounded.Len())
}

func TestBoundedDelete(t *testing.T) {
	store := newMemStore(t)
	bounded, err := NewBounded(store.Bucket("dynamic-v1"), 5)
	require.NoError(t, err)

	require.NoError(t, bounded.Set("a", []byte("1")))
	require.NoError(t, bounded.Delete("a"))
	require.NoError(t, bounded.Delete("never-stored"))

	data, err := bounded.Get("a")
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Equal(t, 0, bounded.Len())
}

func TestNewBoundedRejectsZero(t *testing.T) {
	store := newMemStore(t)
	_, err := NewBounded(store.Bucket("dynamic-v1"), 0)
	assert.Error(t, err)
}
