// Package memory provides an in-process backend over a map-based tree.
// It is deterministic and is used for development and tests.
package memory

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fruitsalade/mediabrowser/internal/backend"
	"github.com/fruitsalade/mediabrowser/internal/listing"
)

// Operation names accepted by SetFailure, SetHook and Calls.
const (
	OpSearch  = "search"
	OpFolders = "folders"
)

// Config configures the memory backend.
type Config struct {
	// Seed populates a demo tree on creation.
	Seed bool `mapstructure:"seed"`

	// SeedFiles is the number of files placed in each seeded folder.
	SeedFiles int `mapstructure:"seed_files"`

	// PreviewBase prefixes preview URLs.
	PreviewBase string `mapstructure:"preview_base"`
}

// Backend is an in-memory tree. It is safe for concurrent use.
type Backend struct {
	mu          sync.RWMutex
	files       map[string]backend.FileRecord
	folders     map[string]struct{}
	previewBase string
	now         func() time.Time

	hookMu   sync.Mutex
	failures map[string]error
	hooks    map[string]func(ctx context.Context)
	calls    map[string]int
}

// New creates a memory backend.
func New(cfg Config) *Backend {
	if cfg.PreviewBase == "" {
		cfg.PreviewBase = "memory://preview"
	}
	b := &Backend{
		files:       make(map[string]backend.FileRecord),
		folders:     map[string]struct{}{"": {}},
		previewBase: strings.TrimSuffix(cfg.PreviewBase, "/"),
		now:         time.Now,
		failures:    make(map[string]error),
		hooks:       make(map[string]func(ctx context.Context)),
		calls:       make(map[string]int),
	}
	if cfg.Seed {
		n := cfg.SeedFiles
		if n <= 0 {
			n = 120
		}
		b.seed(n)
	}
	return b
}

// AddFile inserts or replaces a file record. Its folder and ancestors are
// created as needed.
func (b *Backend) AddFile(rec backend.FileRecord) {
	rec.ID = strings.Trim(rec.ID, "/")
	rec.Folder, _ = backend.Split(rec.ID)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.addFolderLocked(rec.Folder)
	b.files[rec.ID] = rec
}

// SetFailure makes every call to op fail with err. A nil err clears it.
func (b *Backend) SetFailure(op string, err error) {
	b.hookMu.Lock()
	defer b.hookMu.Unlock()
	if err == nil {
		delete(b.failures, op)
		return
	}
	b.failures[op] = err
}

// SetHook installs fn to run at the start of every call to op, before any
// state is read. Tests use it to hold a call open.
func (b *Backend) SetHook(op string, fn func(ctx context.Context)) {
	b.hookMu.Lock()
	defer b.hookMu.Unlock()
	if fn == nil {
		delete(b.hooks, op)
		return
	}
	b.hooks[op] = fn
}

// Calls returns how many times op has been invoked.
func (b *Backend) Calls(op string) int {
	b.hookMu.Lock()
	defer b.hookMu.Unlock()
	return b.calls[op]
}

func (b *Backend) enter(ctx context.Context, op string) error {
	b.hookMu.Lock()
	b.calls[op]++
	hook := b.hooks[op]
	err := b.failures[op]
	b.hookMu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (b *Backend) SearchFiles(ctx context.Context, expr backend.Expression, cursor string, s backend.Sort, limit int) (*backend.FilePage, error) {
	if err := b.enter(ctx, OpSearch); err != nil {
		return nil, err
	}

	offset, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	matches := make([]backend.FileRecord, 0, len(b.files))
	for id, rec := range b.files {
		if expr.Match(id) {
			matches = append(matches, rec)
		}
	}
	b.mu.RUnlock()

	sortRecords(matches, s)

	page := &backend.FilePage{TotalCount: len(matches)}
	if offset >= len(matches) {
		return page, nil
	}
	end := len(matches)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	page.Items = append(page.Items, matches[offset:end]...)
	if end < len(matches) {
		page.NextCursor = encodeCursor(end)
	}
	return page, nil
}

func (b *Backend) ListFolders(ctx context.Context, folder string) (*backend.FolderPage, error) {
	if err := b.enter(ctx, OpFolders); err != nil {
		return nil, err
	}
	folder = strings.Trim(folder, "/")

	b.mu.RLock()
	var items []backend.FolderRecord
	for p := range b.folders {
		if p == "" {
			continue
		}
		parent, name := backend.Split(p)
		if parent == folder {
			items = append(items, backend.FolderRecord{Name: name, Path: p})
		}
	}
	b.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return &backend.FolderPage{Items: items, TotalCount: len(items)}, nil
}

func (b *Backend) CreateFolder(ctx context.Context, folder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addFolderLocked(strings.Trim(folder, "/"))
	return nil
}

// UploadFile records the source URL without fetching it.
func (b *Backend) UploadFile(ctx context.Context, sourceURL, targetFolder, name string) (*backend.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("upload: name is required")
	}
	rec := backend.FileRecord{
		ID:        backend.Join(targetFolder, name),
		CreatedAt: b.now().UTC(),
		URL:       sourceURL,
	}
	b.AddFile(rec)
	rec.Folder, _ = backend.Split(rec.ID)
	return &rec, nil
}

// Rename moves a file, overwriting any file already at newID.
func (b *Backend) Rename(ctx context.Context, id, newID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id = strings.Trim(id, "/")
	newID = strings.Trim(newID, "/")

	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.files[id]
	if !ok {
		return fmt.Errorf("rename %s: %w", id, backend.ErrNotFound)
	}
	delete(b.files, id)
	rec.ID = newID
	rec.Folder, _ = backend.Split(newID)
	b.addFolderLocked(rec.Folder)
	b.files[newID] = rec
	return nil
}

func (b *Backend) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	id = strings.Trim(id, "/")

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.files[id]; !ok {
		return false, nil
	}
	delete(b.files, id)
	return true, nil
}

func (b *Backend) PreviewURL(ref string) string {
	return b.previewBase + "/w_400,h_400,c_fill/" + ref
}

func (b *Backend) Type() string { return "memory" }

func (b *Backend) Close() error { return nil }

func (b *Backend) addFolderLocked(folder string) {
	for folder != "" {
		b.folders[folder] = struct{}{}
		folder, _ = backend.Split(folder)
	}
}

func sortRecords(recs []backend.FileRecord, s backend.Sort) {
	less := func(a, b backend.FileRecord) int {
		switch s.Field {
		case backend.FieldCreatedAt:
			return a.CreatedAt.Compare(b.CreatedAt)
		case backend.FieldBytes:
			switch {
			case a.Bytes < b.Bytes:
				return -1
			case a.Bytes > b.Bytes:
				return 1
			}
			return 0
		default:
			return strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
		}
	}
	sort.SliceStable(recs, func(i, j int) bool {
		c := less(recs[i], recs[j])
		if c == 0 {
			// ids are unique, so the order is total
			c = strings.Compare(recs[i].ID, recs[j].ID)
		}
		if s.Order == listing.Desc {
			return c > 0
		}
		return c < 0
	})
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte("o:" + strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil || !strings.HasPrefix(string(raw), "o:") {
		return 0, fmt.Errorf("invalid cursor %q", cursor)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(string(raw), "o:"))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid cursor %q", cursor)
	}
	return n, nil
}
