package perf

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the caches created with a non-positive size.
const DefaultCacheSize = 128

// Cache is a fixed-size least-recently-used cache safe for concurrent use.
type Cache[K comparable, V any] struct {
	lru *lru.Cache[K, V]
}

// NewCache returns a cache holding at most size entries.
func NewCache[K comparable, V any](size int) *Cache[K, V] {
	if size <= 0 {
		size = DefaultCacheSize
	}
	// lru.New only fails on a non-positive size
	c, _ := lru.New[K, V](size)
	return &Cache[K, V]{lru: c}
}

func (c *Cache[K, V]) Get(key K) (V, bool) { return c.lru.Get(key) }

func (c *Cache[K, V]) Add(key K, value V) { c.lru.Add(key, value) }

func (c *Cache[K, V]) Remove(key K) { c.lru.Remove(key) }

func (c *Cache[K, V]) Len() int { return c.lru.Len() }

func (c *Cache[K, V]) Purge() { c.lru.Purge() }

// Memoize caches the results of fn by key. Concurrent misses for the same
// key may both call fn; the last result wins.
func Memoize[K comparable, V any](size int, fn func(K) V) func(K) V {
	cache := NewCache[K, V](size)
	return func(key K) V {
		if v, ok := cache.Get(key); ok {
			return v
		}
		v := fn(key)
		cache.Add(key, v)
		return v
	}
}

// Latest remembers the most recent result of fn and recomputes only when the
// key changes. It suits derived values keyed by a version counter.
type Latest[K comparable, V any] struct {
	mu    sync.Mutex
	fn    func(K) V
	key   K
	value V
	ok    bool
}

// NewLatest wraps fn.
func NewLatest[K comparable, V any](fn func(K) V) *Latest[K, V] {
	return &Latest[K, V]{fn: fn}
}

// Get returns fn(key), reusing the previous result when key is unchanged.
func (l *Latest[K, V]) Get(key K) V {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ok && l.key == key {
		return l.value
	}
	l.key, l.value, l.ok = key, l.fn(key), true
	return l.value
}

// Reset forgets the remembered result.
func (l *Latest[K, V]) Reset() {
	l.mu.Lock()
	l.ok = false
	l.mu.Unlock()
}
