package planner

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/fruitsalade/mediabrowser/internal/backend"
	"github.com/fruitsalade/mediabrowser/internal/listing"
)

// previewExts are the extensions the preview service renders directly.
var previewExts = map[string]bool{"jpg": true, "png": true, "webp": true}

const fallbackPreviewExt = "png"

func (p *Planner) mapFile(req listing.Request, rec backend.FileRecord) listing.Item {
	created := rec.CreatedAt
	item := listing.Item{
		ID:         rec.ID,
		Name:       rec.Name(),
		Kind:       listing.KindFile,
		CreatedAt:  &created,
		Size:       rec.Bytes,
		Path:       listing.DisplayPath(req.Path),
		PreviewURL: p.backend.PreviewURL(previewRef(rec.ID)),
		SourceURL:  rec.URL,
		Metadata:   rec.Context,
	}
	if created.IsZero() {
		item.CreatedAt = nil
	}
	if raw, ok := rec.Context["size"]; ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
			item.Size = n
		}
	}
	if req.SearchQuery != "" {
		item.Path = listing.DisplayPath(rec.Folder)
	}
	return item
}

func (p *Planner) mapFolders(req listing.Request, recs []backend.FolderRecord) []listing.Item {
	var match func(string) bool
	if req.SearchQuery != "" {
		match = containsFold(req.SearchQuery)
	}

	parent := listing.DisplayPath(req.Path)
	items := make([]listing.Item, 0, len(recs))
	for _, f := range recs {
		if match != nil && !match(f.Name) {
			continue
		}
		items = append(items, listing.Item{
			ID:   backend.FolderID(f.Path),
			Name: f.Name,
			Kind: listing.KindFolder,
			Path: parent,
		})
	}
	return items
}

// previewRef replaces the id's extension with one the preview service can
// render, falling back to png.
func previewRef(id string) string {
	_, name := backend.Split(id)
	stem, ext := id, ""
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		ext = strings.ToLower(name[i+1:])
		stem = id[:len(id)-len(name)+i]
	}
	if !previewExts[ext] {
		ext = fallbackPreviewExt
	}
	return stem + "." + ext
}

// containsFold returns a case-insensitive substring matcher for query.
// Both sides are NFC-normalized and case-folded.
func containsFold(query string) func(string) bool {
	fold := cases.Fold()
	needle := fold.String(norm.NFC.String(query))
	return func(s string) bool {
		return strings.Contains(fold.String(norm.NFC.String(s)), needle)
	}
}

// FileItem maps a record that was not produced by a listing, such as a
// fresh upload. Its path is the record's own folder.
func (p *Planner) FileItem(rec backend.FileRecord) listing.Item {
	return p.mapFile(listing.Request{Path: rec.Folder}, rec)
}
