// Command browse is an interactive client for the media listing service.
//
// Usage:
//
//	browse [flags]                 interactive shell
//	browse [flags] <cmd> [args]    run one command and exit
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fruitsalade/mediabrowser/pkg/client"
	"github.com/fruitsalade/mediabrowser/pkg/navigator"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "Listing service URL")
	prefsPath := flag.String("prefs", defaultPrefsPath(), "Preferences file (empty to disable)")
	startURL := flag.String("url", "", "Start at the folder named by a ?path= URL")
	timeout := flag.Duration("timeout", 30*time.Second, "Request timeout")
	cacheTTL := flag.Duration("cache-ttl", 5*time.Minute, "Response cache TTL")
	verbosity := flag.Int("v", 0, "Verbosity level: 0=warn, 1=info, 2=debug")
	flag.Parse()

	logger := newLogger(*verbosity)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(client.Config{
		BaseURL:  *serverURL,
		Timeout:  *timeout,
		CacheTTL: *cacheTTL,
		Logger:   logger.Named("client"),
	})

	cfg := navigator.Config{
		Service:    c,
		InitialURL: *startURL,
		Logger:     logger.Named("navigator"),
	}
	if *prefsPath != "" {
		cfg.Prefs = navigator.NewPrefsFile(*prefsPath)
	}
	store, err := navigator.NewStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	sh := &shell{store: store, status: c, out: os.Stdout, width: terminalWidth()}

	if args := flag.Args(); len(args) > 0 {
		if err := store.Open(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if _, err := sh.exec(ctx, args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := store.Open(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	} else {
		sh.render()
	}
	sh.repl(ctx, bufio.NewScanner(os.Stdin))
}

func (sh *shell) repl(ctx context.Context, in *bufio.Scanner) {
	for {
		fmt.Fprintf(sh.out, "%s> ", sh.store.State().Path)
		if !in.Scan() {
			fmt.Fprintln(sh.out)
			return
		}
		args := strings.Fields(in.Text())
		if len(args) == 0 {
			continue
		}
		quit, err := sh.exec(ctx, args)
		if err != nil {
			fmt.Fprintf(sh.out, "Error: %v\n", err)
		}
		if quit || ctx.Err() != nil {
			return
		}
	}
}

func newLogger(verbosity int) *zap.Logger {
	level := zapcore.WarnLevel
	switch {
	case verbosity >= 2:
		level = zapcore.DebugLevel
	case verbosity == 1:
		level = zapcore.InfoLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func defaultPrefsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "mediabrowser", "browse.json")
}
