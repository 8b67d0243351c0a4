// Package config loads service configuration from a YAML file, environment
// variables and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (MEDIABROWSER_*)
//  2. Configuration file
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all server configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Listing     ListingConfig     `mapstructure:"listing"`
	CursorCache CursorCacheConfig `mapstructure:"cursor_cache"`
	Backend     BackendConfig     `mapstructure:"backend"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" validate:"required"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// RequestsPerMinute limits each client address. Zero disables limiting.
	RequestsPerMinute int `mapstructure:"requests_per_minute" validate:"gte=0"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json console"`
	Output string `mapstructure:"output"`
}

// ListingConfig controls the query planner.
type ListingConfig struct {
	PageSize int `mapstructure:"page_size" validate:"min=1,max=500"`
}

// CursorCacheConfig selects and sizes the cursor cache.
type CursorCacheConfig struct {
	Type       string        `mapstructure:"type" validate:"required,oneof=memory badger"`
	Capacity   int           `mapstructure:"capacity" validate:"gt=0"`
	TTL        time.Duration `mapstructure:"ttl" validate:"gt=0"`
	BadgerPath string        `mapstructure:"badger_path"`
}

// BackendConfig selects the storage backend. Only the map matching Type is
// read; it is decoded by the backend factory.
type BackendConfig struct {
	Type     string         `mapstructure:"type" validate:"required,oneof=memory s3 postgres"`
	Memory   map[string]any `mapstructure:"memory"`
	S3       map[string]any `mapstructure:"s3"`
	Postgres map[string]any `mapstructure:"postgres"`
}

// Load reads configuration. An empty configPath searches the default
// location; a missing default file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	// Example: MEDIABROWSER_LISTING_PAGE_SIZE=100
	v.SetEnvPrefix("MEDIABROWSER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about.
	registerDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.AddConfigPath(".")
		v.SetConfigName("mediabrowser")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/mediabrowser, falling back to
// ~/.config/mediabrowser.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "mediabrowser")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mediabrowser")
}
