// Package planner answers listing requests by driving the backend's cursor
// search and folder listing, and by keeping the cursor cache and folder-count
// memo that make deeper pages addressable.
package planner

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/mediabrowser/internal/backend"
	"github.com/fruitsalade/mediabrowser/internal/listing"
	"github.com/fruitsalade/mediabrowser/internal/logging"
	"github.com/fruitsalade/mediabrowser/internal/metrics"
	"github.com/fruitsalade/mediabrowser/internal/pagecache"
)

// DefaultPageSize is the number of files requested per backend search.
const DefaultPageSize = 50

// FolderMemo remembers the last folder total observed per path.
type FolderMemo interface {
	Get(path string) (int, bool)
	Set(path string, n int)
}

// Planner is safe for concurrent use.
type Planner struct {
	backend  backend.Backend
	cursors  pagecache.CursorStore
	folders  FolderMemo
	pageSize int
}

// New creates a planner. A pageSize <= 0 selects DefaultPageSize.
func New(b backend.Backend, cursors pagecache.CursorStore, folders FolderMemo, pageSize int) *Planner {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Planner{
		backend:  b,
		cursors:  cursors,
		folders:  folders,
		pageSize: pageSize,
	}
}

// List returns one page. Page 1 always starts a fresh walk; page N > 1
// resumes from the cursor left by the previous page of the same signature
// and fails with listing.ErrInvalidPage when there is none. Backend failures
// are returned as *listing.FetchError and never yield a partial page.
func (p *Planner) List(ctx context.Context, req listing.Request) (*listing.Response, error) {
	start := time.Now()
	resp, err := p.list(ctx, req)

	outcome := "ok"
	switch {
	case errors.Is(err, listing.ErrInvalidPage):
		outcome = "invalid_page"
	case err != nil:
		outcome = "error"
	}
	items := 0
	if resp != nil {
		items = len(resp.Items)
	}
	metrics.RecordListing(req.Page, outcome, items)

	logging.WithContext(ctx).Debug("listing served",
		zap.String("path", req.Path),
		zap.Int("page", req.Page),
		zap.String("outcome", outcome),
		zap.Int("items", items),
		zap.Duration("duration", time.Since(start)),
	)
	return resp, err
}

func (p *Planner) list(ctx context.Context, req listing.Request) (*listing.Response, error) {
	req.Path = listing.NormalizePath(req.Path)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sig := listing.SignatureOf(req)
	log := logging.WithContext(ctx).With(zap.String("signature", sig.Key()))

	var cursor string
	if req.Page > 1 {
		c, ok := p.cursors.Get(sig)
		if !ok {
			log.Debug("no cursor for requested page", zap.Int("page", req.Page))
			return nil, listing.ErrInvalidPage
		}
		cursor = c
	}

	expr := expressionFor(req)
	sort := backend.Sort{Field: backend.FieldFor(req.SortField), Order: req.SortOrder}

	var (
		files   *backend.FilePage
		folders *backend.FolderPage
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		page, err := p.backend.SearchFiles(gctx, expr, cursor, sort, p.pageSize)
		if err != nil {
			return &listing.FetchError{Op: "search files", Err: err}
		}
		files = page
		return nil
	})
	if req.Page == 1 {
		g.Go(func() error {
			page, err := p.backend.ListFolders(gctx, req.Path)
			if err != nil {
				return &listing.FetchError{Op: "list folders", Err: err}
			}
			folders = page
			return nil
		})
	} else {
		total, _ := p.folders.Get(req.Path)
		folders = &backend.FolderPage{TotalCount: total}
		log.Debug("folder total from memo", zap.Int("folders", total))
	}
	if err := g.Wait(); err != nil {
		log.Warn("backend fetch failed",
			zap.String("expression", expr.String()),
			zap.Error(err))
		return nil, err
	}

	if req.Page == 1 {
		p.folders.Set(req.Path, folders.TotalCount)
	}

	items := make([]listing.Item, 0, len(folders.Items)+len(files.Items))
	items = append(items, p.mapFolders(req, folders.Items)...)
	for _, rec := range files.Items {
		items = append(items, p.mapFile(req, rec))
	}

	if files.NextCursor != "" {
		p.cursors.Set(sig, files.NextCursor)
	} else {
		p.cursors.Delete(sig)
	}

	return &listing.Response{
		Items: items,
		Totals: listing.Totals{
			Files:   files.TotalCount,
			Folders: folders.TotalCount,
		},
		HasMore: files.NextCursor != "",
	}, nil
}

// expressionFor builds the file search filter. Without a search query the
// listing is confined to the current folder whatever the scope flag says;
// with one, the scope flag decides between folder and tree.
func expressionFor(req listing.Request) backend.Expression {
	return backend.Expression{
		NamePrefix: req.SearchQuery,
		Folder:     req.Path,
		Scoped:     req.Scoped || req.SearchQuery == "",
	}
}
