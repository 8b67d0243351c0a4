// Package respcache caches listing responses on the client side, keyed by
// the full serialized request.
//
// Entries live for a fixed TTL from the time they were stored and the cache
// holds a bounded number of them, evicting the least recently used. A
// refresh read skips the cached value, fetches live and overwrites the
// entry. There is no invalidation by path: a write elsewhere in the tree
// leaves cached pages untouched until they expire.
package respcache

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fruitsalade/mediabrowser/pkg/lru"
)

// Defaults.
const (
	DefaultCapacity = 100
	DefaultTTL      = 5 * time.Minute
)

// Config holds cache configuration.
type Config struct {
	Capacity int
	TTL      time.Duration
	Now      func() time.Time
	Logger   *zap.Logger
}

// Fetcher loads the live value for key.
type Fetcher[V any] func(ctx context.Context) (V, error)

// Cache is safe for concurrent use. Concurrent misses for the same key share
// one fetch. Values are returned as stored and must not be mutated.
type Cache[V any] struct {
	entries *lru.Cache[string, V]
	group   singleflight.Group
	logger  *zap.Logger
}

// New creates a cache. Zero fields take the package defaults.
func New[V any](cfg Config) *Cache[V] {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Cache[V]{
		entries: lru.New[string, V](lru.Config{Capacity: cfg.Capacity, TTL: cfg.TTL, Now: cfg.Now}),
		logger:  cfg.Logger,
	}
}

// Get returns the cached value for key, or calls fetch and stores its
// result. With refresh set the cached value is ignored. Errors are not
// cached.
func (c *Cache[V]) Get(ctx context.Context, key string, refresh bool, fetch Fetcher[V]) (V, error) {
	if !refresh {
		if v, ok := c.entries.Get(key); ok {
			c.logger.Debug("response cache hit", zap.String("key", key))
			return v, nil
		}
	}

	// Refreshes get their own flight so they never join a fetch that
	// started before the caller asked for fresh data.
	flight := "get:" + key
	if refresh {
		flight = "refresh:" + key
	}
	res, err, shared := c.group.Do(flight, func() (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return v, err
		}
		c.entries.Set(key, v)
		return v, nil
	})
	if shared {
		c.logger.Debug("response fetch shared", zap.String("key", key))
	}
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Len returns the number of stored entries.
func (c *Cache[V]) Len() int {
	return c.entries.Len()
}

// Stats returns the hit and miss counts of cached lookups. Refreshes are
// not counted.
func (c *Cache[V]) Stats() (hits, misses uint64) {
	return c.entries.Stats()
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.entries.Purge()
}
