package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultListenAddr      = ":8080"
	defaultMetricsAddr     = ":9090"
	defaultShutdownTimeout = 10 * time.Second
	defaultPageSize        = 50
	defaultCursorCapacity  = 1000
	defaultCursorTTL       = time.Hour
)

func registerDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", defaultListenAddr)
	v.SetDefault("server.metrics_addr", defaultMetricsAddr)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.requests_per_minute", 0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("listing.page_size", defaultPageSize)
	v.SetDefault("cursor_cache.type", "memory")
	v.SetDefault("cursor_cache.capacity", defaultCursorCapacity)
	v.SetDefault("cursor_cache.ttl", defaultCursorTTL)
	v.SetDefault("cursor_cache.badger_path", "")
	v.SetDefault("backend.type", "memory")
}

// ApplyDefaults fills zero values left by a sparse file and normalizes
// enum-like strings.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaultListenAddr
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}

	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Listing.PageSize == 0 {
		cfg.Listing.PageSize = defaultPageSize
	}

	cfg.CursorCache.Type = strings.ToLower(cfg.CursorCache.Type)
	if cfg.CursorCache.Type == "" {
		cfg.CursorCache.Type = "memory"
	}
	if cfg.CursorCache.Capacity == 0 {
		cfg.CursorCache.Capacity = defaultCursorCapacity
	}
	if cfg.CursorCache.TTL == 0 {
		cfg.CursorCache.TTL = defaultCursorTTL
	}

	cfg.Backend.Type = strings.ToLower(cfg.Backend.Type)
	if cfg.Backend.Type == "" {
		cfg.Backend.Type = "memory"
	}
}

// GetDefaultConfig returns a configuration with every default applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Server.MetricsAddr = defaultMetricsAddr
	return cfg
}
