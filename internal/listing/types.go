// Package listing defines the data model shared by the listing service:
// items, requests, responses and the signature that identifies one
// paginated walk.
package listing

import (
	"fmt"
	"time"
)

// Kind tags a listing item as a file or a folder.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Item is one entry in a listing page.
type Item struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Kind       Kind              `json:"type"`
	CreatedAt  *time.Time        `json:"createdAt"`
	Size       int64             `json:"size"`
	Path       string            `json:"path"`
	PreviewURL string            `json:"thumbnail,omitempty"`
	SourceURL  string            `json:"url,omitempty"`
	Metadata   map[string]string `json:"context,omitempty"`
}

// SortField is the client-facing sort key.
type SortField string

const (
	SortByName      SortField = "name"
	SortByCreatedAt SortField = "createdAt"
	SortBySize      SortField = "size"
)

// ParseSortField maps a query value to a SortField. Empty input yields name.
func ParseSortField(s string) (SortField, error) {
	switch SortField(s) {
	case "", SortByName:
		return SortByName, nil
	case SortByCreatedAt:
		return SortByCreatedAt, nil
	case SortBySize:
		return SortBySize, nil
	default:
		return "", fmt.Errorf("%w: unknown sort field %q", ErrInvalidRequest, s)
	}
}

// SortOrder is asc or desc.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// ParseSortOrder maps a query value to a SortOrder. Empty input yields asc.
func ParseSortOrder(s string) (SortOrder, error) {
	switch SortOrder(s) {
	case "", Asc:
		return Asc, nil
	case Desc:
		return Desc, nil
	default:
		return "", fmt.Errorf("%w: unknown sort order %q", ErrInvalidRequest, s)
	}
}

// Request is a canonical listing query.
type Request struct {
	Path        string
	Page        int
	SearchQuery string
	SortField   SortField
	SortOrder   SortOrder
	Scoped      bool
}

// Validate checks the request fields and fills defaults for the sort keys.
func (r *Request) Validate() error {
	if r.Page < 1 {
		return fmt.Errorf("%w: page must be >= 1, got %d", ErrInvalidRequest, r.Page)
	}
	if r.SortField == "" {
		r.SortField = SortByName
	}
	if r.SortOrder == "" {
		r.SortOrder = Asc
	}
	if _, err := ParseSortField(string(r.SortField)); err != nil {
		return err
	}
	if _, err := ParseSortOrder(string(r.SortOrder)); err != nil {
		return err
	}
	return nil
}

// Totals carries the file and folder counts reported with a page.
type Totals struct {
	Files   int `json:"files"`
	Folders int `json:"folders"`
}

// Response is one listing page.
type Response struct {
	Items   []Item `json:"files"`
	Totals  Totals `json:"total"`
	HasMore bool   `json:"hasMore"`
}
