package rag

import (
	"container/list"
	"sync"
)

// MemoryCache is a bounded, concurrency-safe LRU cache for embedding
// vectors keyed by content hash. Losing an entry only costs a
// recomputation, so eviction is purely capacity-driven.
type MemoryCache struct {
	capacity int
	mu       sync.Mutex
	items    map[string]*list.Element
	lru      *list.List
}

type memoryCacheEntry struct {
	key    string
	vector []float32
}

// NewMemoryCache creates an LRU cache holding at most capacity
// vectors.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = 4096
	}
	return &MemoryCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached vector for key, marking it recently used.
func (mc *MemoryCache) Get(key string) ([]float32, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	el, ok := mc.items[key]
	if !ok {
		return nil, false
	}
	mc.lru.MoveToFront(el)
	return el.Value.(*memoryCacheEntry).vector, true
}

// Set stores vector under key, evicting the least recently used entry
// when the cache is full. Overwriting an existing key is harmless:
// vectors for identical text are value-identical.
func (mc *MemoryCache) Set(key string, vector []float32) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if el, ok := mc.items[key]; ok {
		el.Value.(*memoryCacheEntry).vector = vector
		mc.lru.MoveToFront(el)
		return
	}

	mc.items[key] = mc.lru.PushFront(&memoryCacheEntry{key: key, vector: vector})
	if mc.lru.Len() > mc.capacity {
		oldest := mc.lru.Back()
		if oldest != nil {
			mc.lru.Remove(oldest)
			delete(mc.items, oldest.Value.(*memoryCacheEntry).key)
		}
	}
}

// Len returns the number of cached vectors.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.lru.Len()
}
