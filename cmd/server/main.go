// Command server runs the media listing service.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/mediabrowser/internal/api"
	"github.com/fruitsalade/mediabrowser/internal/config"
	"github.com/fruitsalade/mediabrowser/internal/logging"
	"github.com/fruitsalade/mediabrowser/internal/metrics"
	"github.com/fruitsalade/mediabrowser/internal/pagecache"
	"github.com/fruitsalade/mediabrowser/internal/planner"
	"github.com/fruitsalade/mediabrowser/internal/quota"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/mediabrowser/mediabrowser.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.Output,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("media listing service starting...",
		zap.String("listen", cfg.Server.ListenAddr),
		zap.String("metrics", cfg.Server.MetricsAddr),
		zap.String("backend", cfg.Backend.Type),
		zap.String("cursor_cache", cfg.CursorCache.Type))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := config.CreateBackend(ctx, &cfg.Backend)
	if err != nil {
		logging.Fatal("backend init failed", zap.Error(err))
	}
	defer store.Close()

	cursors, err := config.CreateCursorStore(&cfg.CursorCache, logging.L())
	if err != nil {
		logging.Fatal("cursor cache init failed", zap.Error(err))
	}
	defer cursors.Close()

	p := planner.New(store, cursors, pagecache.NewFolderCounts(), cfg.Listing.PageSize)

	var rateLimiter *quota.RateLimiter
	if cfg.Server.RequestsPerMinute > 0 {
		rateLimiter = quota.NewRateLimiter(cfg.Server.RequestsPerMinute)
		logging.Info("rate limiter enabled", zap.Int("requests_per_minute", cfg.Server.RequestsPerMinute))
	}

	srv := api.NewServer(p, store, rateLimiter)

	var metricsServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.Server.MetricsAddr,
			Handler: metrics.Handler(),
		}
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.Server.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("graceful shutdown failed", zap.Error(err))
			httpServer.Close()
		}
		if metricsServer != nil {
			metricsServer.Close()
		}
	}()

	if rateLimiter != nil {
		go func() {
			ticker := time.NewTicker(1 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := rateLimiter.Cleanup(24 * time.Hour); n > 0 {
						logging.Debug("rate limiter buckets dropped", zap.Int("count", n))
					}
				}
			}
		}()
	}

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.Server.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
	// Shutdown returns ListenAndServe at once; wait for in-flight requests
	// before the deferred closes run.
	<-stopped
}
