package navigator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockTimeout is returned when the preferences lock cannot be taken.
var ErrLockTimeout = errors.New("timeout acquiring preferences lock")

const (
	lockTimeout      = 2 * time.Second
	lockPollInterval = 10 * time.Millisecond
)

// Prefs are the view settings kept between sessions.
type Prefs struct {
	Path        string  `json:"path"`
	SortField   string  `json:"sortField"`
	SortOrder   string  `json:"sortOrder"`
	SearchQuery string  `json:"searchQuery"`
	Scoped      bool    `json:"scopeToCurrentFolder"`
	Zoom        float64 `json:"zoom"`
}

// DefaultPrefs returns the settings of a fresh session.
func DefaultPrefs() Prefs {
	return Prefs{
		Path:      "/",
		SortField: "name",
		SortOrder: "asc",
		Scoped:    true,
		Zoom:      DefaultZoom,
	}
}

// PrefsFile reads and writes Prefs as JSON. Access is serialised across
// processes with a lock file next to it.
type PrefsFile struct {
	path string
	lock *flock.Flock
}

// NewPrefsFile returns a handle for the preferences file at path.
func NewPrefsFile(path string) *PrefsFile {
	return &PrefsFile{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the file location.
func (f *PrefsFile) Path() string {
	return f.path
}

// Load reads the file. A missing file yields DefaultPrefs. Fields absent
// from the file keep their defaults.
func (f *PrefsFile) Load(ctx context.Context) (Prefs, error) {
	p := DefaultPrefs()
	if err := f.withLock(ctx, f.lock.TryRLockContext, func() error {
		data, err := os.ReadFile(f.path)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &p)
	}); err != nil {
		return DefaultPrefs(), fmt.Errorf("load preferences %s: %w", f.path, err)
	}
	return p, nil
}

// Save replaces the file contents atomically.
func (f *PrefsFile) Save(ctx context.Context, p Prefs) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return f.withLock(ctx, f.lock.TryLockContext, func() error {
		tmp := f.path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return fmt.Errorf("save preferences: %w", err)
		}
		if err := os.Rename(tmp, f.path); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("save preferences: %w", err)
		}
		return nil
	})
}

func (f *PrefsFile) withLock(ctx context.Context, acquire func(context.Context, time.Duration) (bool, error), fn func() error) error {
	// No directory means no file and nowhere to put the lock.
	if dir := filepath.Dir(f.path); dir != "" {
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			return fn()
		}
	}

	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := acquire(ctx, lockPollInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrLockTimeout
		}
		return fmt.Errorf("lock %s: %w", f.path, err)
	}
	if !locked {
		return ErrLockTimeout
	}
	defer f.lock.Unlock()
	return fn()
}
