package navigator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/mediabrowser/pkg/client"
	"github.com/fruitsalade/mediabrowser/pkg/protocol"
)

type listCall struct {
	q       protocol.ListQuery
	refresh bool
}

// fakeService serves pageSize files per page from a fixed count per folder.
type fakeService struct {
	mu       sync.Mutex
	counts   map[string]int
	pageSize int
	calls    []listCall
	mutated  []string

	// hold, when set, returns a channel the call waits on before answering.
	hold func(q protocol.ListQuery) chan struct{}
	// override, when set, answers instead of the folder data.
	override func(q protocol.ListQuery, refresh bool) (*protocol.ListResponse, error)
	entered  chan listCall
}

func newFakeService() *fakeService {
	return &fakeService{
		counts:   map[string]int{"/": 5, "/docs": 3, "/docs/a": 1},
		pageSize: 2,
		entered:  make(chan listCall, 16),
	}
}

func (f *fakeService) ListFiles(ctx context.Context, q protocol.ListQuery, refresh bool) (*protocol.ListResponse, error) {
	f.mu.Lock()
	c := listCall{q: q, refresh: refresh}
	f.calls = append(f.calls, c)
	hold, override := f.hold, f.override
	n := f.counts[q.Path]
	size := f.pageSize
	f.mu.Unlock()

	f.entered <- c
	if hold != nil {
		if ch := hold(q); ch != nil {
			select {
			case <-ch:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if override != nil {
		if resp, err := override(q, refresh); resp != nil || err != nil {
			return resp, err
		}
	}

	resp := &protocol.ListResponse{Total: protocol.Totals{Files: n}}
	start := (q.Page - 1) * size
	for i := start; i < start+size && i < n; i++ {
		resp.Files = append(resp.Files, protocol.Item{
			ID:   fmt.Sprintf("%s#%d", q.Path, i),
			Name: fmt.Sprintf("f%d", i),
			Type: protocol.KindFile,
			Path: q.Path,
		})
	}
	resp.HasMore = start+size < n
	return resp, nil
}

func (f *fakeService) CreateFolder(ctx context.Context, parent, name string) (*protocol.Item, error) {
	f.record("mkdir " + parent + " " + name)
	return &protocol.Item{ID: name}, nil
}

func (f *fakeService) Upload(ctx context.Context, sourceURL, folder, name string) (*protocol.Item, error) {
	f.record("upload " + sourceURL + " " + folder + " " + name)
	return &protocol.Item{ID: name}, nil
}

func (f *fakeService) Rename(ctx context.Context, id, newID string) error {
	f.record("mv " + id + " " + newID)
	return nil
}

func (f *fakeService) Delete(ctx context.Context, id string) error {
	f.record("rm " + id)
	if id == "missing" {
		return &client.APIError{Status: 404, Message: "file not found: missing"}
	}
	return nil
}

func (f *fakeService) record(s string) {
	f.mu.Lock()
	f.mutated = append(f.mutated, s)
	f.mu.Unlock()
}

func (f *fakeService) listCalls() []listCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]listCall(nil), f.calls...)
}

func newStore(t *testing.T, svc *fakeService, cfg Config) *Store {
	t.Helper()
	cfg.Service = svc
	s, err := NewStore(context.Background(), cfg)
	require.NoError(t, err)
	return s
}

func ids(items []protocol.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func waitEntered(t *testing.T, svc *fakeService) listCall {
	t.Helper()
	select {
	case c := <-svc.entered:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a fetch")
		return listCall{}
	}
}

func TestDefaults(t *testing.T) {
	s := newStore(t, newFakeService(), Config{})
	st := s.State()

	assert.Equal(t, "/", st.Path)
	assert.Equal(t, "name", st.SortField)
	assert.Equal(t, "asc", st.SortOrder)
	assert.True(t, st.Scoped)
	assert.Equal(t, DefaultZoom, st.Zoom)
	assert.Equal(t, 1, st.Page)
	assert.Empty(t, st.Items)
}

func TestOpenAndLoadMore(t *testing.T) {
	svc := newFakeService()
	s := newStore(t, svc, Config{})
	ctx := context.Background()

	require.NoError(t, s.Open(ctx))
	st := s.State()
	assert.Equal(t, []string{"/#0", "/#1"}, ids(st.Items))
	assert.True(t, st.HasMore)
	assert.Equal(t, 5, st.Totals.Files)

	ok, err := s.LoadMore(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.LoadMore(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	st = s.State()
	assert.Equal(t, 3, st.Page)
	assert.False(t, st.HasMore)
	assert.Len(t, st.Items, 5)

	ok, err = s.LoadMore(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "nothing more to load")

	calls := svc.listCalls()
	require.Len(t, calls, 3)
	for i, c := range calls {
		assert.Equal(t, i+1, c.q.Page)
		assert.False(t, c.refresh)
	}
}

func TestRefreshReplacesItems(t *testing.T) {
	svc := newFakeService()
	s := newStore(t, svc, Config{})
	ctx := context.Background()

	require.NoError(t, s.Open(ctx))
	_, err := s.LoadMore(ctx)
	require.NoError(t, err)
	require.Len(t, s.Items(), 4)

	require.NoError(t, s.Refresh(ctx))
	st := s.State()
	assert.Equal(t, 1, st.Page)
	assert.Equal(t, []string{"/#0", "/#1"}, ids(st.Items))

	calls := svc.listCalls()
	assert.True(t, calls[len(calls)-1].refresh, "explicit refresh bypasses the response cache")
}

func TestConcurrentLoadMoreIsSuppressed(t *testing.T) {
	svc := newFakeService()
	s := newStore(t, svc, Config{})
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	waitEntered(t, svc)

	release := make(chan struct{})
	svc.mu.Lock()
	svc.hold = func(q protocol.ListQuery) chan struct{} {
		if q.Page == 2 {
			return release
		}
		return nil
	}
	svc.mu.Unlock()

	done := make(chan bool)
	go func() {
		ok, _ := s.LoadMore(ctx)
		done <- ok
	}()
	waitEntered(t, svc)

	assert.True(t, s.State().Loading)
	ok, err := s.LoadMore(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second load-more while one is in flight is a no-op")

	close(release)
	assert.True(t, <-done)

	st := s.State()
	assert.Equal(t, 2, st.Page)
	assert.Equal(t, []string{"/#0", "/#1", "/#2", "/#3"}, ids(st.Items))
	assert.Len(t, svc.listCalls(), 2)
}

func TestStaleLoadMoreIsDiscarded(t *testing.T) {
	svc := newFakeService()
	s := newStore(t, svc, Config{})
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	waitEntered(t, svc)

	release := make(chan struct{})
	svc.mu.Lock()
	svc.hold = func(q protocol.ListQuery) chan struct{} {
		if q.Path == "/" && q.Page == 2 {
			return release
		}
		return nil
	}
	svc.mu.Unlock()

	done := make(chan bool)
	go func() {
		ok, _ := s.LoadMore(ctx)
		done <- ok
	}()
	waitEntered(t, svc)

	// Navigation proceeds while the load-more is outstanding.
	require.NoError(t, s.Navigate(ctx, "docs"))
	assert.Equal(t, []string{"/docs#0", "/docs#1"}, ids(s.Items()))

	close(release)
	assert.False(t, <-done, "late page of the old folder must be dropped")

	st := s.State()
	assert.Equal(t, "/docs", st.Path)
	assert.Equal(t, 1, st.Page)
	assert.Equal(t, []string{"/docs#0", "/docs#1"}, ids(st.Items))
	assert.False(t, st.Loading)
}

func TestSupersededRefreshIsDiscarded(t *testing.T) {
	svc := newFakeService()
	s := newStore(t, svc, Config{})
	ctx := context.Background()

	release := make(chan struct{})
	svc.hold = func(q protocol.ListQuery) chan struct{} {
		if q.SortOrder == "asc" {
			return release
		}
		return nil
	}
	svc.override = func(q protocol.ListQuery, _ bool) (*protocol.ListResponse, error) {
		return &protocol.ListResponse{Files: []protocol.Item{{ID: q.SortOrder}}}, nil
	}

	done := make(chan error)
	go func() { done <- s.Open(ctx) }()
	waitEntered(t, svc)

	require.NoError(t, s.SetSort(ctx, "name", "desc"))
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"desc"}, ids(s.Items()))
}

func TestSameRefreshInFlightIsNoop(t *testing.T) {
	svc := newFakeService()
	s := newStore(t, svc, Config{})
	ctx := context.Background()

	release := make(chan struct{})
	svc.hold = func(protocol.ListQuery) chan struct{} { return release }

	done := make(chan error)
	go func() { done <- s.Open(ctx) }()
	waitEntered(t, svc)

	require.NoError(t, s.SetScope(ctx, true))
	close(release)
	require.NoError(t, <-done)
	assert.Len(t, svc.listCalls(), 1)
}

func TestItemsAreDeduplicated(t *testing.T) {
	svc := newFakeService()
	svc.override = func(q protocol.ListQuery, _ bool) (*protocol.ListResponse, error) {
		if q.Page == 1 {
			return &protocol.ListResponse{
				Files:   []protocol.Item{{ID: "dir", Name: "first"}, {ID: "a"}},
				HasMore: true,
			}, nil
		}
		return &protocol.ListResponse{Files: []protocol.Item{{ID: "dir", Name: "again"}, {ID: "b"}}}, nil
	}
	s := newStore(t, svc, Config{})
	ctx := context.Background()

	require.NoError(t, s.Open(ctx))
	_, err := s.LoadMore(ctx)
	require.NoError(t, err)

	items := s.Items()
	assert.Equal(t, []string{"dir", "a", "b"}, ids(items))
	assert.Equal(t, "first", items[0].Name)
}

func TestInvalidPageRestartsWalk(t *testing.T) {
	svc := newFakeService()
	svc.override = func(q protocol.ListQuery, _ bool) (*protocol.ListResponse, error) {
		if q.Page == 2 {
			return nil, &client.APIError{Status: 400, Message: "Invalid page request"}
		}
		return nil, nil
	}
	s := newStore(t, svc, Config{})
	ctx := context.Background()

	require.NoError(t, s.Open(ctx))
	ok, err := s.LoadMore(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	calls := svc.listCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, 1, calls[2].q.Page)
	assert.True(t, calls[2].refresh)
	assert.Equal(t, 1, s.State().Page)
}

func TestFetchErrorIsRecorded(t *testing.T) {
	svc := newFakeService()
	boom := errors.New("boom")
	svc.override = func(protocol.ListQuery, bool) (*protocol.ListResponse, error) { return nil, boom }
	s := newStore(t, svc, Config{})

	err := s.Open(context.Background())
	assert.ErrorIs(t, err, boom)
	st := s.State()
	assert.ErrorIs(t, st.Err, boom)
	assert.False(t, st.Loading)
}

func TestLoadMoreAfterFailedRefreshDoesNotMixViews(t *testing.T) {
	svc := newFakeService()
	s := newStore(t, svc, Config{})
	ctx := context.Background()

	require.NoError(t, s.Open(ctx))
	require.True(t, s.State().HasMore)

	boom := errors.New("boom")
	svc.mu.Lock()
	svc.override = func(q protocol.ListQuery, _ bool) (*protocol.ListResponse, error) {
		if q.SearchQuery == "" {
			return nil, nil
		}
		if q.Page == 1 {
			return nil, boom
		}
		return &protocol.ListResponse{Files: []protocol.Item{{ID: "search-hit", Type: protocol.KindFile}}}, nil
	}
	svc.mu.Unlock()

	assert.ErrorIs(t, s.SetSearch(ctx, "x"), boom)
	st := s.State()
	assert.Equal(t, "x", st.SearchQuery)
	assert.False(t, st.HasMore)

	ok, err := s.LoadMore(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"/#0", "/#1"}, ids(s.State().Items))

	calls := svc.listCalls()
	last := calls[len(calls)-1]
	assert.Equal(t, 1, last.q.Page, "no page 2 requested for the new search")

	// Once page 1 of the search arrives the walk continues normally.
	svc.mu.Lock()
	svc.override = nil
	svc.mu.Unlock()
	require.NoError(t, s.SetSearch(ctx, ""))
	ok, err = s.LoadMore(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"/#0", "/#1", "/#2", "/#3"}, ids(s.State().Items))
}

func TestNavigateAndURL(t *testing.T) {
	svc := newFakeService()
	s := newStore(t, svc, Config{})
	ctx := context.Background()

	require.NoError(t, s.Navigate(ctx, "docs"))
	require.NoError(t, s.Navigate(ctx, "a"))
	assert.Equal(t, "/docs/a", s.State().Path)
	assert.Equal(t, "?path=%2Fdocs%2Fa", s.URL())

	require.NoError(t, s.Navigate(ctx, ".."))
	assert.Equal(t, "/docs", s.State().Path)

	require.NoError(t, s.Navigate(ctx, "/"))
	assert.Equal(t, "/", s.State().Path)
}

func TestPathFromURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"?path=%2Fdocs%2Fa", "/docs/a"},
		{"https://app.test/browse?path=/photos/", "/photos"},
		{"path=/x", "/x"},
		{"https://app.test/browse", "/"},
		{"?path=", "/"},
	}
	for _, tt := range tests {
		got, err := PathFromURL(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestInitialURLOverridesPrefs(t *testing.T) {
	dir := t.TempDir()
	prefs := NewPrefsFile(filepath.Join(dir, "prefs.json"))
	require.NoError(t, prefs.Save(context.Background(), Prefs{Path: "/docs", SortField: "size", SortOrder: "desc"}))

	s := newStore(t, newFakeService(), Config{Prefs: prefs, InitialURL: "?path=/docs/a"})
	st := s.State()
	assert.Equal(t, "/docs/a", st.Path)
	assert.Equal(t, "size", st.SortField)
	assert.Equal(t, "desc", st.SortOrder)
}

func TestSettersPersistPrefs(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "nested", "prefs.json")
	prefs := NewPrefsFile(file)
	s := newStore(t, newFakeService(), Config{Prefs: prefs})
	ctx := context.Background()

	require.NoError(t, s.SetSort(ctx, "createdAt", "desc"))
	require.NoError(t, s.SetSearch(ctx, "  rep "))
	require.NoError(t, s.SetScope(ctx, false))
	require.NoError(t, s.Navigate(ctx, "/docs"))
	s.SetZoom(ctx, 5)

	_, err := os.Stat(file)
	require.NoError(t, err)

	got, err := prefs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Prefs{
		Path:        "/docs",
		SortField:   "createdAt",
		SortOrder:   "desc",
		SearchQuery: "rep",
		Scoped:      false,
		Zoom:        MaxZoom,
	}, got)

	reopened := newStore(t, newFakeService(), Config{Prefs: prefs})
	assert.Equal(t, "/docs", reopened.State().Path)
}

func TestSetSortRejectsUnknown(t *testing.T) {
	svc := newFakeService()
	s := newStore(t, svc, Config{})

	err := s.SetSort(context.Background(), "type", "asc")
	assert.ErrorIs(t, err, ErrInvalidSort)
	assert.Empty(t, svc.listCalls())
}

func TestMutationsRefreshWithoutCache(t *testing.T) {
	svc := newFakeService()
	s := newStore(t, svc, Config{})
	ctx := context.Background()
	require.NoError(t, s.Navigate(ctx, "/docs"))

	require.NoError(t, s.CreateFolder(ctx, "new"))
	require.NoError(t, s.Upload(ctx, "https://example.test/x.png", "x.png"))
	require.NoError(t, s.Rename(ctx, "docs/x.png", "docs/y.png"))

	assert.Equal(t, []string{
		"mkdir /docs new",
		"upload https://example.test/x.png /docs x.png",
		"mv docs/x.png docs/y.png",
	}, svc.mutated)

	calls := svc.listCalls()
	require.Len(t, calls, 4)
	for _, c := range calls[1:] {
		assert.True(t, c.refresh)
		assert.Equal(t, 1, c.q.Page)
	}
}

func TestSelectionAndDelete(t *testing.T) {
	svc := newFakeService()
	s := newStore(t, svc, Config{})
	ctx := context.Background()

	assert.True(t, s.ToggleSelect("b"))
	assert.True(t, s.ToggleSelect("a"))
	assert.True(t, s.ToggleSelect("c"))
	assert.False(t, s.ToggleSelect("c"))
	assert.Equal(t, []string{"a", "b"}, s.State().Selected)

	require.NoError(t, s.Delete(ctx))
	assert.Equal(t, []string{"rm a", "rm b"}, svc.mutated)
	assert.Empty(t, s.State().Selected)

	s.ToggleSelect("keep")
	err := s.Delete(ctx, "missing")
	assert.True(t, client.IsNotFound(err))
	assert.Equal(t, []string{"keep"}, s.State().Selected)

	s.ClearSelection()
	assert.Empty(t, s.State().Selected)
}

func TestOnChangeSeesLoading(t *testing.T) {
	var mu sync.Mutex
	var states []State
	svc := newFakeService()
	s := newStore(t, svc, Config{OnChange: func(st State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	}})

	require.NoError(t, s.Open(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, states, 2)
	assert.True(t, states[0].Loading)
	assert.False(t, states[1].Loading)
	assert.Len(t, states[1].Items, 2)
}
