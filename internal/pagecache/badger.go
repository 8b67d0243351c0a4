package pagecache

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/fruitsalade/mediabrowser/internal/listing"
	"github.com/fruitsalade/mediabrowser/internal/metrics"
	"github.com/fruitsalade/mediabrowser/pkg/lru"
)

var cursorKeyPrefix = []byte("cursor:")

// BadgerConfig configures a Badger-backed cursor store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory runs Badger without touching disk. Used by tests.
	InMemory bool

	// Capacity bounds the number of cursors this process keeps. The least
	// recently used one is deleted to make room.
	Capacity int
	TTL      time.Duration
	Logger *zap.Logger
}

// BadgerCursorStore keeps cursors in a Badger database so that several
// service processes sharing the directory, or a restarted process, can
// resume each other's walks. Expiry uses Badger's native entry TTL. Recency
// is tracked in process: entries written by other processes join the index
// when first read here.
type BadgerCursorStore struct {
	db      *badger.DB
	ttl     time.Duration
	recency *lru.Cache[string, struct{}]
	logger  *zap.Logger
}

// NewBadgerCursorStore opens the database.
func NewBadgerCursorStore(cfg BadgerConfig) (*BadgerCursorStore, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger cursor store: path is required")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	s := &BadgerCursorStore{
		db:  db,
		ttl: cfg.TTL,
		recency: lru.New[string, struct{}](lru.Config{
			Capacity: cfg.Capacity,
			TTL:      cfg.TTL,
		}),
		logger: cfg.Logger,
	}
	s.recency.OnEvict(func(key string, _ struct{}) {
		s.deleteKey([]byte(key))
		metrics.RecordCursorEviction()
	})
	if err := s.loadRecency(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to index cursors: %w", err)
	}
	return s, nil
}

// loadRecency seeds the recency index with the stored cursors, oldest write
// first. Entries beyond capacity are evicted as they are added.
func (s *BadgerCursorStore) loadRecency() error {
	type stored struct {
		key     []byte
		version uint64
	}
	var all []stored
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = cursorKeyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			all = append(all, stored{key: bytes.Clone(item.Key()), version: item.Version()})
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].version < all[j].version })
	for _, e := range all {
		s.recency.Set(string(e.key), struct{}{})
	}
	return nil
}

func cursorKey(sig listing.Signature) []byte {
	s := sig.String()
	key := make([]byte, 0, len(cursorKeyPrefix)+len(s))
	key = append(key, cursorKeyPrefix...)
	return append(key, s...)
}

func (s *BadgerCursorStore) Get(sig listing.Signature) (string, bool) {
	var cursor string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cursorKey(sig))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			cursor = string(val)
			return nil
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			s.logger.Warn("cursor lookup failed",
				zap.String("signature", sig.Key()),
				zap.Error(err))
		}
		metrics.RecordCursorLookup(false)
		return "", false
	}
	metrics.RecordCursorLookup(true)
	key := string(cursorKey(sig))
	if _, ok := s.recency.Get(key); !ok {
		s.recency.Set(key, struct{}{})
	}
	return cursor, true
}

func (s *BadgerCursorStore) Set(sig listing.Signature, cursor string) {
	key := cursorKey(sig)
	err := s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, []byte(cursor)).WithTTL(s.ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		s.logger.Warn("cursor write failed",
			zap.String("signature", sig.Key()),
			zap.Error(err))
		return
	}
	s.recency.Set(string(key), struct{}{})
}

func (s *BadgerCursorStore) Delete(sig listing.Signature) {
	key := cursorKey(sig)
	s.recency.Delete(string(key))
	s.deleteKey(key)
}

// Len returns the number of cursors in the recency index.
func (s *BadgerCursorStore) Len() int {
	return s.recency.Len()
}

func (s *BadgerCursorStore) deleteKey(key []byte) {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		s.logger.Warn("cursor delete failed",
			zap.ByteString("key", key),
			zap.Error(err))
	}
}

func (s *BadgerCursorStore) Close() error {
	return s.db.Close()
}
