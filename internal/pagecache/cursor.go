// Package pagecache holds the server-side state that makes deep listing pages
// addressable: the cursor cache and the folder-count memo.
package pagecache

import (
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/mediabrowser/internal/listing"
	"github.com/fruitsalade/mediabrowser/internal/metrics"
	"github.com/fruitsalade/mediabrowser/pkg/lru"
)

const (
	DefaultCapacity = 1000
	DefaultTTL      = time.Hour
)

// CursorStore maps a listing signature to the backend cursor for the next
// unseen page. Lookups on absent or expired entries report not found; store
// failures degrade to misses and are never returned to the caller.
type CursorStore interface {
	Get(sig listing.Signature) (string, bool)
	Set(sig listing.Signature, cursor string)

	// Delete drops the entry for a walk that has been exhausted.
	Delete(sig listing.Signature)

	Close() error
}

// MemoryConfig configures an in-process cursor store.
type MemoryConfig struct {
	Capacity int
	TTL      time.Duration
	Now      func() time.Time
	Logger   *zap.Logger
}

// MemoryCursorStore is a bounded LRU with a fixed TTL measured from the
// write of each entry.
type MemoryCursorStore struct {
	cache  *lru.Cache[string, string]
	logger *zap.Logger
}

// NewMemoryCursorStore creates an in-process cursor store.
func NewMemoryCursorStore(cfg MemoryConfig) *MemoryCursorStore {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &MemoryCursorStore{
		cache: lru.New[string, string](lru.Config{
			Capacity: cfg.Capacity,
			TTL:      cfg.TTL,
			Now:      cfg.Now,
		}),
		logger: cfg.Logger,
	}
	s.cache.OnEvict(func(string, string) {
		metrics.RecordCursorEviction()
	})
	return s
}

func (s *MemoryCursorStore) Get(sig listing.Signature) (string, bool) {
	cursor, ok := s.cache.Get(sig.String())
	metrics.RecordCursorLookup(ok)
	return cursor, ok
}

func (s *MemoryCursorStore) Set(sig listing.Signature, cursor string) {
	s.cache.Set(sig.String(), cursor)
}

func (s *MemoryCursorStore) Delete(sig listing.Signature) {
	s.cache.Delete(sig.String())
}

// Len returns the number of held entries.
func (s *MemoryCursorStore) Len() int {
	return s.cache.Len()
}

func (s *MemoryCursorStore) Close() error {
	s.cache.Purge()
	return nil
}
