// Package navigator holds the client-side browsing state: the current
// folder, sort, search and scope, the items accumulated across pages and the
// transitions that fetch them.
//
// A refresh always fetches page 1 and replaces the items. LoadMore fetches
// the next page of the current view and appends. At most one page-advancing
// fetch is in flight at a time. A refresh started while a load-more is
// outstanding wins, and the load-more result is dropped when it arrives.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fruitsalade/mediabrowser/pkg/client"
	"github.com/fruitsalade/mediabrowser/pkg/protocol"
)

// Zoom bounds.
const (
	DefaultZoom = 0.3
	MinZoom     = 0.1
	MaxZoom     = 1.0
)

// ErrInvalidSort is returned by SetSort for unknown fields or orders.
var ErrInvalidSort = errors.New("invalid sort")

// Service is the listing service as seen by the store. *client.Client
// implements it.
type Service interface {
	ListFiles(ctx context.Context, q protocol.ListQuery, refresh bool) (*protocol.ListResponse, error)
	CreateFolder(ctx context.Context, parent, name string) (*protocol.Item, error)
	Upload(ctx context.Context, sourceURL, folder, name string) (*protocol.Item, error)
	Rename(ctx context.Context, id, newID string) error
	Delete(ctx context.Context, id string) error
}

// Config configures a Store.
type Config struct {
	Service Service

	// Prefs, when set, is loaded on creation and rewritten after every view
	// change.
	Prefs *PrefsFile

	// InitialURL seeds the path from a "?path=" query, overriding Prefs.
	InitialURL string

	// OnChange is called with a snapshot after every state change. It runs
	// without the store lock held.
	OnChange func(State)

	Logger *zap.Logger
}

// State is a snapshot of the store.
type State struct {
	Path        string
	SortField   string
	SortOrder   string
	SearchQuery string
	Scoped      bool

	Page     int
	Items    []protocol.Item // deduplicated by id, first occurrence kept
	Totals   protocol.Totals
	HasMore  bool
	Loading  bool
	Zoom     float64
	Selected []string
	Err      error
}

// view is the part of the state that determines which listing is shown.
type view struct {
	path      string
	sortField string
	sortOrder string
	search    string
	scoped    bool
}

func (v view) query(page int) protocol.ListQuery {
	return protocol.ListQuery{
		Path:                 v.path,
		Page:                 page,
		SearchQuery:          v.search,
		SortBy:               v.sortField,
		SortOrder:            v.sortOrder,
		ScopeToCurrentFolder: v.scoped,
	}
}

// signature identifies the listing independently of the page.
func (v view) signature() string {
	return v.query(1).Encode()
}

// Store is safe for concurrent use. Fetching methods block until the
// service answers.
type Store struct {
	svc      Service
	prefs    *PrefsFile
	onChange func(State)
	logger   *zap.Logger

	mu          sync.Mutex
	view        view
	page        int
	items       []protocol.Item
	itemsSig    string // signature of the view items was fetched for
	totals      protocol.Totals
	hasMore     bool
	epoch       uint64 // bumped by every refresh that starts
	refreshing  bool
	refreshSig  string
	loadingMore bool
	zoom        float64
	selected    map[string]struct{}
	err         error
}

// NewStore creates a store. It does not fetch; call Open.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Service == nil {
		return nil, errors.New("navigator: service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	p := DefaultPrefs()
	if cfg.Prefs != nil {
		loaded, err := cfg.Prefs.Load(ctx)
		if err != nil {
			cfg.Logger.Warn("using default preferences", zap.Error(err))
		} else {
			p = loaded
		}
	}
	if cfg.InitialURL != "" {
		u, err := PathFromURL(cfg.InitialURL)
		if err != nil {
			return nil, err
		}
		p.Path = u
	}
	if _, err := parseSort(p.SortField, p.SortOrder); err != nil {
		cfg.Logger.Warn("ignoring stored sort", zap.String("field", p.SortField), zap.String("order", p.SortOrder))
		d := DefaultPrefs()
		p.SortField, p.SortOrder = d.SortField, d.SortOrder
	}

	return &Store{
		svc:      cfg.Service,
		prefs:    cfg.Prefs,
		onChange: cfg.OnChange,
		logger:   cfg.Logger,
		view: view{
			path:      cleanPath(p.Path),
			sortField: p.SortField,
			sortOrder: p.SortOrder,
			search:    p.SearchQuery,
			scoped:    p.Scoped,
		},
		page:     1,
		zoom:     clampZoom(p.Zoom),
		selected: make(map[string]struct{}),
	}, nil
}

// Open performs the first fetch of the current view. Cached pages are
// acceptable.
func (s *Store) Open(ctx context.Context) error {
	return s.refresh(ctx, false)
}

// Refresh refetches page 1 of the current view from the service, bypassing
// the response cache.
func (s *Store) Refresh(ctx context.Context) error {
	return s.refresh(ctx, true)
}

// Navigate moves to p, which may be relative to the current folder. Items
// are cleared at once and page 1 of the new folder is fetched.
func (s *Store) Navigate(ctx context.Context, p string) error {
	s.mu.Lock()
	target := p
	if !strings.HasPrefix(target, "/") {
		target = path.Join(s.view.path, target)
	}
	s.view.path = cleanPath(target)
	s.page = 1
	s.items = nil
	s.itemsSig = ""
	s.hasMore = false
	s.totals = protocol.Totals{}
	clear(s.selected)
	s.mu.Unlock()

	s.savePrefs(ctx)
	return s.refresh(ctx, false)
}

// SetSort changes the sort and refetches.
func (s *Store) SetSort(ctx context.Context, field, order string) error {
	v, err := parseSort(field, order)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.view.sortField, s.view.sortOrder = v[0], v[1]
	s.mu.Unlock()

	s.savePrefs(ctx)
	return s.refresh(ctx, false)
}

// SetSearch changes the name-prefix search and refetches. An empty query
// lists the current folder.
func (s *Store) SetSearch(ctx context.Context, q string) error {
	s.mu.Lock()
	s.view.search = strings.TrimSpace(q)
	s.mu.Unlock()

	s.savePrefs(ctx)
	return s.refresh(ctx, false)
}

// SetScope chooses between searching the current folder and the whole tree,
// and refetches.
func (s *Store) SetScope(ctx context.Context, scoped bool) error {
	s.mu.Lock()
	s.view.scoped = scoped
	s.mu.Unlock()

	s.savePrefs(ctx)
	return s.refresh(ctx, false)
}

// SetZoom sets the preview zoom, clamped to [MinZoom, MaxZoom].
func (s *Store) SetZoom(ctx context.Context, z float64) {
	s.mu.Lock()
	s.zoom = clampZoom(z)
	s.mu.Unlock()

	s.savePrefs(ctx)
	s.notify()
}

// refresh fetches page 1 of the current view and replaces the items. A
// second refresh of the same view while one is in flight is a no-op unless
// bypass is set, in which case it supersedes the first.
func (s *Store) refresh(ctx context.Context, bypass bool) error {
	s.mu.Lock()
	sig := s.view.signature()
	if s.refreshing && s.refreshSig == sig && !bypass {
		s.mu.Unlock()
		return nil
	}
	s.epoch++
	epoch := s.epoch
	s.refreshing = true
	s.refreshSig = sig
	s.loadingMore = false
	q := s.view.query(1)
	s.mu.Unlock()
	s.notify()

	resp, err := s.svc.ListFiles(ctx, q, bypass)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.logger.Debug("discarding superseded refresh", zap.String("signature", sig))
		return nil
	}
	s.refreshing = false
	if err != nil {
		if s.itemsSig != sig {
			// Items still show the previous view; there is no walk to continue.
			s.hasMore = false
		}
		s.err = err
		s.mu.Unlock()
		s.notify()
		return err
	}
	s.items = append([]protocol.Item(nil), resp.Files...)
	s.itemsSig = sig
	s.page = 1
	s.totals = resp.Total
	s.hasMore = resp.HasMore
	s.err = nil
	s.mu.Unlock()
	s.notify()
	return nil
}

// LoadMore fetches the next page of the current view and appends it. It
// reports false without fetching when there is nothing more, a fetch is
// already in flight, or the items on hand belong to another view. It also
// reports false when the result was dropped because the view changed.
// When the service can no longer resume the walk, the view is refetched
// from page 1.
func (s *Store) LoadMore(ctx context.Context) (bool, error) {
	s.mu.Lock()
	sig := s.view.signature()
	if !s.hasMore || s.refreshing || s.loadingMore || s.itemsSig != sig {
		s.mu.Unlock()
		return false, nil
	}
	s.loadingMore = true
	epoch := s.epoch
	next := s.page + 1
	q := s.view.query(next)
	s.mu.Unlock()
	s.notify()

	resp, err := s.svc.ListFiles(ctx, q, false)

	s.mu.Lock()
	if s.epoch != epoch || s.view.signature() != sig {
		s.mu.Unlock()
		s.logger.Debug("discarding stale page",
			zap.String("signature", sig),
			zap.Int("page", next))
		return false, nil
	}
	s.loadingMore = false
	if err != nil {
		if client.IsInvalidPage(err) {
			s.mu.Unlock()
			s.logger.Info("walk expired, restarting from page 1", zap.String("signature", sig))
			return false, s.refresh(ctx, true)
		}
		s.err = err
		s.mu.Unlock()
		s.notify()
		return false, err
	}
	s.items = append(s.items, resp.Files...)
	s.page = next
	s.totals = resp.Total
	s.hasMore = resp.HasMore
	s.err = nil
	s.mu.Unlock()
	s.notify()
	return true, nil
}

// Items returns the accumulated items deduplicated by id, keeping the first
// occurrence.
func (s *Store) Items() []protocol.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return dedupe(s.items)
}

// State returns a snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Path:        s.view.path,
		SortField:   s.view.sortField,
		SortOrder:   s.view.sortOrder,
		SearchQuery: s.view.search,
		Scoped:      s.view.scoped,
		Page:        s.page,
		Items:       dedupe(s.items),
		Totals:      s.totals,
		HasMore:     s.hasMore,
		Loading:     s.refreshing || s.loadingMore,
		Zoom:        s.zoom,
		Selected:    s.selectedLocked(),
		Err:         s.err,
	}
}

// ToggleSelect flips the selection of id and reports whether it is now
// selected.
func (s *Store) ToggleSelect(id string) bool {
	s.mu.Lock()
	_, on := s.selected[id]
	if on {
		delete(s.selected, id)
	} else {
		s.selected[id] = struct{}{}
	}
	s.mu.Unlock()
	s.notify()
	return !on
}

// ClearSelection deselects everything.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	clear(s.selected)
	s.mu.Unlock()
	s.notify()
}

func (s *Store) selectedLocked() []string {
	ids := make([]string, 0, len(s.selected))
	for id := range s.selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// URL returns the query string mirroring the current folder.
func (s *Store) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return "?" + url.Values{"path": {s.view.path}}.Encode()
}

// PathFromURL extracts the folder from a URL or bare query string carrying
// "path=". A missing parameter yields "/".
func PathFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	if u.RawQuery == "" && strings.Contains(raw, "=") && !strings.Contains(raw, "?") {
		q, err = url.ParseQuery(raw)
		if err != nil {
			return "", fmt.Errorf("parse url: %w", err)
		}
	}
	return cleanPath(q.Get("path")), nil
}

// CreateFolder creates name in the current folder and refetches.
func (s *Store) CreateFolder(ctx context.Context, name string) error {
	if _, err := s.svc.CreateFolder(ctx, s.currentPath(), name); err != nil {
		return fmt.Errorf("create folder %s: %w", name, err)
	}
	return s.refresh(ctx, true)
}

// Upload stores sourceURL in the current folder as name and refetches.
func (s *Store) Upload(ctx context.Context, sourceURL, name string) error {
	if _, err := s.svc.Upload(ctx, sourceURL, s.currentPath(), name); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return s.refresh(ctx, true)
}

// Rename moves id to newID and refetches.
func (s *Store) Rename(ctx context.Context, id, newID string) error {
	if err := s.svc.Rename(ctx, id, newID); err != nil {
		return fmt.Errorf("rename %s: %w", id, err)
	}
	s.mu.Lock()
	if _, ok := s.selected[id]; ok {
		delete(s.selected, id)
		s.selected[newID] = struct{}{}
	}
	s.mu.Unlock()
	return s.refresh(ctx, true)
}

// Delete removes ids, or the selection when none are given, and refetches.
// Deletion stops at the first failure; ids deleted before it stay deleted.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		s.mu.Lock()
		ids = s.selectedLocked()
		s.mu.Unlock()
	}
	if len(ids) == 0 {
		return nil
	}

	var failed error
	for _, id := range ids {
		if err := s.svc.Delete(ctx, id); err != nil {
			failed = fmt.Errorf("delete %s: %w", id, err)
			break
		}
		s.mu.Lock()
		delete(s.selected, id)
		s.mu.Unlock()
	}
	if err := s.refresh(ctx, true); err != nil && failed == nil {
		return err
	}
	return failed
}

func (s *Store) currentPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.path
}

func (s *Store) savePrefs(ctx context.Context) {
	if s.prefs == nil {
		return
	}
	s.mu.Lock()
	p := Prefs{
		Path:        s.view.path,
		SortField:   s.view.sortField,
		SortOrder:   s.view.sortOrder,
		SearchQuery: s.view.search,
		Scoped:      s.view.scoped,
		Zoom:        s.zoom,
	}
	s.mu.Unlock()
	if err := s.prefs.Save(ctx, p); err != nil {
		s.logger.Warn("failed to save preferences", zap.String("file", s.prefs.Path()), zap.Error(err))
	}
}

func (s *Store) notify() {
	if s.onChange != nil {
		s.onChange(s.State())
	}
}

func dedupe(items []protocol.Item) []protocol.Item {
	seen := make(map[string]struct{}, len(items))
	out := make([]protocol.Item, 0, len(items))
	for _, it := range items {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out
}

func parseSort(field, order string) ([2]string, error) {
	switch field {
	case "name", "createdAt", "size":
	default:
		return [2]string{}, fmt.Errorf("%w: field %q", ErrInvalidSort, field)
	}
	switch order {
	case "asc", "desc":
	default:
		return [2]string{}, fmt.Errorf("%w: order %q", ErrInvalidSort, order)
	}
	return [2]string{field, order}, nil
}

func cleanPath(p string) string {
	return path.Clean("/" + strings.Trim(p, "/"))
}

func clampZoom(z float64) float64 {
	switch {
	case z == 0:
		return DefaultZoom
	case z < MinZoom:
		return MinZoom
	case z > MaxZoom:
		return MaxZoom
	}
	return z
}
