// Package backend defines the listing adapter consumed by the query planner:
// a cursor-based file search and a flat folder listing, plus the simple
// pass-through mutations.
package backend

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/fruitsalade/mediabrowser/internal/listing"
)

// ErrNotFound is returned when a mutation targets a missing id.
var ErrNotFound = errors.New("not found")

// Backend is the storage adapter. Implementations do no caching and no merge
// logic; cursors are opaque strings only the issuing backend understands.
type Backend interface {
	// SearchFiles returns up to limit files matching expr, resuming from
	// cursor when it is non-empty. NextCursor is empty once exhausted.
	SearchFiles(ctx context.Context, expr Expression, cursor string, sort Sort, limit int) (*FilePage, error)

	// ListFolders returns the direct subfolders of folder ("" is the root).
	ListFolders(ctx context.Context, folder string) (*FolderPage, error)

	CreateFolder(ctx context.Context, folder string) error
	UploadFile(ctx context.Context, sourceURL, targetFolder, name string) (*FileRecord, error)
	Rename(ctx context.Context, id, newID string) error

	// Delete removes a file. ok is false when nothing was deleted.
	Delete(ctx context.Context, id string) (ok bool, err error)

	// PreviewURL returns a URL for a preview rendition of ref.
	PreviewURL(ref string) string

	Type() string
	Close() error
}

// Expression is a file search filter. The zero value matches every file in
// the tree.
type Expression struct {
	// NamePrefix restricts matches to files whose base name starts with it.
	NamePrefix string

	// Folder restricts matches to files directly inside it when Scoped is set.
	Folder string
	Scoped bool
}

// String renders the expression in the search-API syntax.
func (e Expression) String() string {
	var parts []string
	if e.NamePrefix != "" {
		parts = append(parts, "filename="+e.NamePrefix+"*")
	}
	if e.Scoped {
		parts = append(parts, `folder="`+e.Folder+`"`)
	}
	return strings.Join(parts, " AND ")
}

// Match reports whether a file with the given id satisfies the expression.
// Name matching is case-insensitive, as search backends usually are.
func (e Expression) Match(id string) bool {
	folder, name := Split(id)
	if e.Scoped && folder != e.Folder {
		return false
	}
	if e.NamePrefix != "" && !strings.HasPrefix(strings.ToLower(name), strings.ToLower(e.NamePrefix)) {
		return false
	}
	return true
}

// SortField is a backend-side sort column.
type SortField string

const (
	FieldFilename  SortField = "filename"
	FieldCreatedAt SortField = "created_at"
	FieldBytes     SortField = "bytes"
)

// FieldFor maps a client sort key to the backend column.
func FieldFor(f listing.SortField) SortField {
	switch f {
	case listing.SortByCreatedAt:
		return FieldCreatedAt
	case listing.SortBySize:
		return FieldBytes
	default:
		return FieldFilename
	}
}

// Sort names a backend sort field and direction.
type Sort struct {
	Field SortField
	Order listing.SortOrder
}

// FileRecord is a raw file as the backend reports it.
type FileRecord struct {
	ID        string
	Folder    string
	CreatedAt time.Time
	Bytes     int64
	URL       string
	Context   map[string]string
}

// Name returns the leaf name of the file.
func (r FileRecord) Name() string {
	_, name := Split(r.ID)
	return name
}

// FolderRecord is a raw folder.
type FolderRecord struct {
	Name string
	Path string
}

// FilePage is one page of file search results.
type FilePage struct {
	Items      []FileRecord
	NextCursor string
	TotalCount int
}

// FolderPage is a complete folder listing.
type FolderPage struct {
	Items      []FolderRecord
	TotalCount int
}

// Split separates an id or folder path into its parent folder and leaf name.
// The root folder is "".
func Split(id string) (folder, name string) {
	id = strings.Trim(id, "/")
	i := strings.LastIndexByte(id, '/')
	if i < 0 {
		return "", id
	}
	return id[:i], id[i+1:]
}

// FolderID is the listing id of a folder. The trailing separator keeps it
// apart from any file id.
func FolderID(folder string) string {
	return strings.Trim(folder, "/") + "/"
}

// Join builds an id from a folder and a leaf name.
func Join(folder, name string) string {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return name
	}
	return path.Join(folder, name)
}
