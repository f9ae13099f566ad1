// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package dimension

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// DefaultCacheBytes is the byte cache capacity used when a
// configuration does not specify one.
const DefaultCacheBytes int64 = 64 << 20 // 64 MiB

// ByteCache is a bounded in-memory LRU cache for decoded byte
// payloads, keyed by string. The chunk store uses it for plaintext
// chunks (keyed by chunk hash) and capsule virtual filesystems use it
// for whole files (keyed by path), so repeated reads skip disk,
// decryption, and decompression.
//
// The cache bounds total payload bytes, not entry count. Entries
// larger than the capacity are not cached at all.
//
// Cached slices are shared: callers must treat data returned by Get
// as read-only.
type ByteCache struct {
	mu       sync.Mutex
	capacity int64
	current  int64
	order    *list.List // most recently used at front
	items    map[string]*list.Element

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	key  string
	data []byte
}

// CacheStats is a point-in-time snapshot of cache effectiveness.
type CacheStats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Entries  int   `json:"entries"`
	Bytes    int64 `json:"bytes"`
	Capacity int64 `json:"capacity"`
}

// NewByteCache creates a cache bounded to capacity bytes. A
// non-positive capacity falls back to DefaultCacheBytes.
func NewByteCache(capacity int64) *ByteCache {
	if capacity <= 0 {
		capacity = DefaultCacheBytes
	}
	return &ByteCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the cached payload for key and marks it most recently
// used. The returned slice is shared with the cache — read-only.
func (c *ByteCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.order.MoveToFront(element)
	c.hits.Add(1)
	return element.Value.(*cacheEntry).data, true
}

// Put stores a payload under key, evicting least recently used
// entries until the cache fits its capacity again. Payloads larger
// than the capacity are ignored. Storing an existing key replaces its
// payload and marks it most recently used.
func (c *ByteCache) Put(key string, data []byte) {
	size := int64(len(data))
	if size > c.capacity {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.items[key]; ok {
		entry := element.Value.(*cacheEntry)
		c.current += size - int64(len(entry.data))
		entry.data = data
		c.order.MoveToFront(element)
	} else {
		element := c.order.PushFront(&cacheEntry{key: key, data: data})
		c.items[key] = element
		c.current += size
	}

	for c.current > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		entry := oldest.Value.(*cacheEntry)
		c.order.Remove(oldest)
		delete(c.items, entry.key)
		c.current -= int64(len(entry.data))
	}
}

// Len returns the number of cached entries.
func (c *ByteCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Bytes returns the total payload bytes currently cached.
func (c *ByteCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Capacity returns the configured byte capacity.
func (c *ByteCache) Capacity() int64 {
	return c.capacity
}

// Stats returns a snapshot of cache effectiveness counters.
func (c *ByteCache) Stats() CacheStats {
	c.mu.Lock()
	entries := len(c.items)
	current := c.current
	c.mu.Unlock()

	return CacheStats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Entries:  entries,
		Bytes:    current,
		Capacity: c.capacity,
	}
}
