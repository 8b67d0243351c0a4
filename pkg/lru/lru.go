// Package lru provides a bounded in-memory cache with least-recently-used
// eviction and a fixed time-to-live measured from insertion.
package lru

import (
	"container/list"
	"sync"
	"time"
)

// Config holds cache configuration.
type Config struct {
	// Capacity is the maximum number of entries. Values <= 0 mean 1.
	Capacity int

	// TTL is how long an entry stays readable after it was written.
	// Reads do not extend it. Zero disables expiry.
	TTL time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Cache is safe for concurrent use.
type Cache[K comparable, V any] struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time
	onEvict  func(K, V)

	mu      sync.Mutex
	entries map[K]*list.Element
	order   *list.List // front = most recently used

	hits   uint64
	misses uint64
}

type entry[K comparable, V any] struct {
	key      K
	value    V
	storedAt time.Time
}

// New creates a cache.
func New[K comparable, V any](cfg Config) *Cache[K, V] {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache[K, V]{
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		now:      cfg.Now,
		entries:  make(map[K]*list.Element),
		order:    list.New(),
	}
}

// OnEvict registers a callback invoked when an entry is dropped to make room.
// It is not called for expiry or explicit deletes. The callback runs with the
// cache lock held and must not call back into the cache.
func (c *Cache[K, V]) OnEvict(fn func(K, V)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

// Get returns the value for key. Expired entries are removed and reported
// as absent.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}

	e := el.Value.(*entry[K, V])
	if c.expired(e) {
		c.removeElement(el)
		c.misses++
		return zero, false
	}

	c.order.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Set stores value under key, replacing any previous value and restarting
// its TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		e.storedAt = c.now()
		c.order.MoveToFront(el)
		return
	}

	for len(c.entries) >= c.capacity {
		if !c.evictOldest() {
			break
		}
	}

	el := c.order.PushFront(&entry[K, V]{key: key, value: value, storedAt: c.now()})
	c.entries[key] = el
}

// Delete removes key if present.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}
}

// Len returns the number of stored entries, including expired ones not yet
// reclaimed.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge removes all entries.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*list.Element)
	c.order.Init()
}

// Stats returns hit and miss counters.
func (c *Cache[K, V]) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Cache[K, V]) expired(e *entry[K, V]) bool {
	return c.ttl > 0 && c.now().Sub(e.storedAt) >= c.ttl
}

// evictOldest drops an expired entry from the tail if there is one,
// otherwise the least recently used entry.
// Must be called with lock held.
func (c *Cache[K, V]) evictOldest() bool {
	back := c.order.Back()
	if back == nil {
		return false
	}
	e := back.Value.(*entry[K, V])
	expired := c.expired(e)
	c.removeElement(back)
	if !expired && c.onEvict != nil {
		c.onEvict(e.key, e.value)
	}
	return true
}

func (c *Cache[K, V]) removeElement(el *list.Element) {
	e := el.Value.(*entry[K, V])
	c.order.Remove(el)
	delete(c.entries, e.key)
}
