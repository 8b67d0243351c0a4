package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/fruitsalade/mediabrowser/internal/backend"
	"github.com/fruitsalade/mediabrowser/internal/backend/memory"
	"github.com/fruitsalade/mediabrowser/internal/backend/postgres"
	"github.com/fruitsalade/mediabrowser/internal/backend/s3"
	"github.com/fruitsalade/mediabrowser/internal/pagecache"
)

// CreateBackend builds the backend named by cfg.Type from its option map.
func CreateBackend(ctx context.Context, cfg *BackendConfig) (backend.Backend, error) {
	switch cfg.Type {
	case "memory":
		var opts memory.Config
		if err := mapstructure.Decode(cfg.Memory, &opts); err != nil {
			return nil, fmt.Errorf("failed to decode memory backend config: %w", err)
		}
		return memory.New(opts), nil

	case "s3":
		var opts s3.Config
		if err := mapstructure.Decode(cfg.S3, &opts); err != nil {
			return nil, fmt.Errorf("failed to decode s3 backend config: %w", err)
		}
		b, err := s3.New(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 backend: %w", err)
		}
		return b, nil

	case "postgres":
		var opts postgres.Config
		if err := mapstructure.Decode(cfg.Postgres, &opts); err != nil {
			return nil, fmt.Errorf("failed to decode postgres backend config: %w", err)
		}
		if opts.MigrationsDir == "" {
			opts.MigrationsDir = findMigrationsDir()
		}
		b, err := postgres.New(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres backend: %w", err)
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unknown backend type: %q", cfg.Type)
	}
}

// CreateCursorStore builds the cursor cache named by cfg.Type.
func CreateCursorStore(cfg *CursorCacheConfig, logger *zap.Logger) (pagecache.CursorStore, error) {
	switch cfg.Type {
	case "memory":
		return pagecache.NewMemoryCursorStore(pagecache.MemoryConfig{
			Capacity: cfg.Capacity,
			TTL:      cfg.TTL,
			Logger:   logger,
		}), nil
	case "badger":
		s, err := pagecache.NewBadgerCursorStore(pagecache.BadgerConfig{
			Path:     cfg.BadgerPath,
			Capacity: cfg.Capacity,
			TTL:      cfg.TTL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create badger cursor store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown cursor cache type: %q", cfg.Type)
	}
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
		"../../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
