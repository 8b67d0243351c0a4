package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fruitsalade/mediabrowser/internal/backend"
	"github.com/fruitsalade/mediabrowser/internal/backend/memory"
	"github.com/fruitsalade/mediabrowser/internal/logging"
	"github.com/fruitsalade/mediabrowser/internal/pagecache"
	"github.com/fruitsalade/mediabrowser/internal/planner"
	"github.com/fruitsalade/mediabrowser/internal/quota"
	"github.com/fruitsalade/mediabrowser/pkg/protocol"
)

func newTestServer(t *testing.T, limiter *quota.RateLimiter) (*httptest.Server, *memory.Backend) {
	t.Helper()
	logging.Set(zap.NewNop())

	mem := memory.New(memory.Config{PreviewBase: "https://img.test"})
	require.NoError(t, mem.CreateFolder(context.Background(), "photos/2024"))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		mem.AddFile(backend.FileRecord{
			ID:        fmt.Sprintf("photos/img-%02d.jpg", i),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
			Bytes:     int64(1000 + i),
		})
	}

	cursors := pagecache.NewMemoryCursorStore(pagecache.MemoryConfig{Capacity: 10, TTL: time.Hour})
	p := planner.New(mem, cursors, pagecache.NewFolderCounts(), 3)
	srv := httptest.NewServer(NewServer(p, mem, limiter).Handler())
	t.Cleanup(srv.Close)
	return srv, mem
}

func getList(t *testing.T, srv *httptest.Server, q protocol.ListQuery) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/v1/files?" + q.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func do(t *testing.T, method, target string, body any) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, target, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var h protocol.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "memory", h.Backend)
}

func TestListWalk(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	q := protocol.ListQuery{Path: "/photos", Page: 1, ScopeToCurrentFolder: true}

	resp, body := getList(t, srv, q)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var first protocol.ListResponse
	require.NoError(t, json.Unmarshal(body, &first))

	require.Len(t, first.Files, 4)
	assert.Equal(t, protocol.KindFolder, first.Files[0].Type)
	assert.Equal(t, "2024", first.Files[0].Name)
	assert.Equal(t, "img-00.jpg", first.Files[1].Name)
	assert.Equal(t, "/photos", first.Files[1].Path)
	assert.Equal(t, "https://img.test/w_400,h_400,c_fill/photos/img-00.jpg", first.Files[1].Thumbnail)
	assert.Equal(t, protocol.Totals{Files: 7, Folders: 1}, first.Total)
	assert.True(t, first.HasMore)

	seen := map[string]bool{}
	for _, it := range first.Files {
		seen[it.ID] = true
	}
	for page := 2; ; page++ {
		q.Page = page
		resp, body := getList(t, srv, q)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		var next protocol.ListResponse
		require.NoError(t, json.Unmarshal(body, &next))
		assert.Equal(t, 1, next.Total.Folders, "folder total comes from the memo")
		for _, it := range next.Files {
			assert.Equal(t, protocol.KindFile, it.Type)
			assert.False(t, seen[it.ID], "duplicate %s", it.ID)
			seen[it.ID] = true
		}
		if !next.HasMore {
			break
		}
		require.Less(t, page, 10)
	}
	assert.Len(t, seen, 8)
}

func TestListInvalidPage(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, body := getList(t, srv, protocol.ListQuery{Path: "/photos", Page: 3})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var e protocol.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, "Invalid page request", e.Error)
	assert.Equal(t, http.StatusBadRequest, e.Code)
}

func TestListBadParameters(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	for _, raw := range []string{
		"path=/&page=abc",
		"path=/&page=0",
		"path=/&sortBy=type",
		"path=/&sortOrder=sideways",
	} {
		resp, err := http.Get(srv.URL + "/api/v1/files?" + raw)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, raw)
	}
}

func TestListBackendFailure(t *testing.T) {
	srv, mem := newTestServer(t, nil)
	mem.SetFailure(memory.OpFolders, errors.New("connection reset"))

	resp, body := getList(t, srv, protocol.ListQuery{Path: "/photos", Page: 1})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var e protocol.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, "Failed to fetch files and folders", e.Error)
	assert.NotContains(t, string(body), "connection reset")
}

func TestCreateFolder(t *testing.T) {
	srv, mem := newTestServer(t, nil)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/files", protocol.CreateRequest{
		Type: protocol.KindFolder,
		Name: "travel",
		Path: "/photos",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out protocol.MutationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.File)
	assert.Equal(t, "photos/travel/", out.File.ID)
	assert.Equal(t, "/photos", out.File.Path)

	folders, err := mem.ListFolders(context.Background(), "photos")
	require.NoError(t, err)
	assert.Equal(t, 2, folders.TotalCount)
}

func TestUpload(t *testing.T) {
	srv, mem := newTestServer(t, nil)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/files", protocol.CreateRequest{
		Type: protocol.KindFile,
		Name: "beach.heic",
		Path: "/photos/2024",
		URL:  "https://example.test/beach.heic",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out protocol.MutationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.File)
	assert.Equal(t, "photos/2024/beach.heic", out.File.ID)
	assert.Equal(t, "/photos/2024", out.File.Path)
	assert.Equal(t, "https://img.test/w_400,h_400,c_fill/photos/2024/beach.png", out.File.Thumbnail)

	page, err := mem.SearchFiles(context.Background(), backend.Expression{Folder: "photos/2024", Scoped: true}, "", backend.Sort{Field: backend.FieldFilename, Order: "asc"}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalCount)
}

func TestUploadRequiresURL(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/files", protocol.CreateRequest{Name: "x.jpg", Path: "/"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/api/v1/files", "not an object")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRename(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := do(t, http.MethodPut, srv.URL+"/api/v1/files", protocol.UpdateRequest{
		ID:      "photos/img-00.jpg",
		Updates: protocol.ItemUpdates{ID: "photos/2024/first.jpg"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodPut, srv.URL+"/api/v1/files", protocol.UpdateRequest{
		ID:      "photos/missing.jpg",
		Updates: protocol.ItemUpdates{ID: "photos/other.jpg"},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPut, srv.URL+"/api/v1/files", protocol.UpdateRequest{ID: "photos/img-01.jpg"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDelete(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	target := srv.URL + "/api/v1/files?id=" + url.QueryEscape("photos/img-03.jpg")

	resp := do(t, http.MethodDelete, target, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodDelete, target, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodDelete, srv.URL+"/api/v1/files", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, quota.NewRateLimiter(1))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}
