package rag

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheGetSet(t *testing.T) {
	mc := NewMemoryCache(8)

	_, ok := mc.Get("missing")
	assert.False(t, ok)

	mc.Set("k", []float32{1, 2, 3})
	vector, ok := mc.Get("k")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, vector)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	mc := NewMemoryCache(3)

	mc.Set("a", []float32{1})
	mc.Set("b", []float32{2})
	mc.Set("c", []float32{3})

	// Touch "a" so "b" becomes the eviction victim.
	_, ok := mc.Get("a")
	require.True(t, ok)

	mc.Set("d", []float32{4})
	assert.Equal(t, 3, mc.Len())

	_, ok = mc.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = mc.Get("a")
	assert.True(t, ok)
	_, ok = mc.Get("d")
	assert.True(t, ok)
}

func TestMemoryCacheOverwrite(t *testing.T) {
	mc := NewMemoryCache(2)

	mc.Set("k", []float32{1})
	mc.Set("k", []float32{2})
	assert.Equal(t, 1, mc.Len())

	vector, ok := mc.Get("k")
	require.True(t, ok)
	assert.Equal(t, []float32{2}, vector)
}

func TestMemoryCacheConcurrentReadInsert(t *testing.T) {
	mc := NewMemoryCache(64)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d", j%32)
				mc.Set(key, []float32{float32(j)})
				mc.Get(key)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, mc.Len(), 64)
}
