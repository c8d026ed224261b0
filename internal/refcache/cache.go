// Package refcache holds bounded id -> name lookups learned from upstream responses.
//
// DESIGN: Each cache is a linked hash map ordered by FIRST insertion:
//   - Put of a new key appends it at the tail
//   - Put of an existing key updates the name in place (position kept)
//   - When size exceeds capacity, the head (oldest inserted) is evicted
//
// This is FIFO, not LRU. Reads never change order. One mutex per cache serializes
// Put/Get since handlers populate and read the caches concurrently.
package refcache

import (
	"sync"
	"sync/atomic"

	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// Cache is a bounded, insertion-ordered id -> name map. Safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	capacity  int
	entries   *linkedhashmap.Map
	evictions atomic.Int64
}

// New creates a cache holding at most capacity entries. Capacity below 1 is treated as 1.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		entries:  linkedhashmap.New(),
	}
}

// Get returns the name recorded for id.
func (c *Cache) Get(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, found := c.entries.Get(id)
	if !found {
		return "", false
	}
	return v.(string), true
}

// Put records id -> name. Empty ids and names are ignored.
func (c *Cache) Put(id, name string) {
	if id == "" || name == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Put(id, name)
	for c.entries.Size() > c.capacity {
		it := c.entries.Iterator()
		if !it.First() {
			break
		}
		c.entries.Remove(it.Key())
		c.evictions.Add(1)
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Size()
}

// Capacity returns the configured bound.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Evictions returns how many entries have been evicted since creation.
func (c *Cache) Evictions() int64 {
	return c.evictions.Load()
}

// Keys returns cached ids oldest first.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.entries.Size())
	it := c.entries.Iterator()
	for it.Next() {
		keys = append(keys, it.Key().(string))
	}
	return keys
}

// Set is the pair of reference caches shared by the gateway.
type Set struct {
	Users    *Cache // user id -> username
	Channels *Cache // channel id -> channel name
}

// NewSet creates user and channel caches with the same capacity.
func NewSet(capacity int) *Set {
	return &Set{
		Users:    New(capacity),
		Channels: New(capacity),
	}
}
