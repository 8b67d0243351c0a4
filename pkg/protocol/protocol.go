// Package protocol defines the API request/response types.
package protocol

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Item kinds.
const (
	KindFile   = "file"
	KindFolder = "folder"
)

// Item is one entry of a listing page.
type Item struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	CreatedAt *time.Time        `json:"createdAt"`
	Size      int64             `json:"size"`
	Path      string            `json:"path"`
	Thumbnail string            `json:"thumbnail,omitempty"`
	URL       string            `json:"url,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

// Totals is the file and folder count reported with a page.
type Totals struct {
	Files   int `json:"files"`
	Folders int `json:"folders"`
}

// ListResponse is returned by GET /api/v1/files.
type ListResponse struct {
	Files   []Item `json:"files"`
	Total   Totals `json:"total"`
	HasMore bool   `json:"hasMore"`
}

// ListQuery holds the query parameters of GET /api/v1/files.
type ListQuery struct {
	Path                 string
	Page                 int
	PageSize             int // informational; the server page size is fixed
	SearchQuery          string
	SortBy               string
	SortOrder            string
	ScopeToCurrentFolder bool
}

// Values encodes the query. Empty optional fields are omitted.
func (q ListQuery) Values() url.Values {
	v := url.Values{}
	path := q.Path
	if path == "" {
		path = "/"
	}
	v.Set("path", path)
	page := q.Page
	if page < 1 {
		page = 1
	}
	v.Set("page", strconv.Itoa(page))
	if q.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	if q.SearchQuery != "" {
		v.Set("searchQuery", q.SearchQuery)
	}
	if q.SortBy != "" {
		v.Set("sortBy", q.SortBy)
	}
	if q.SortOrder != "" {
		v.Set("sortOrder", q.SortOrder)
	}
	v.Set("searchInCurrentFolder", strconv.FormatBool(q.ScopeToCurrentFolder))
	return v
}

// Encode returns the canonical query string. Equal queries encode equally.
func (q ListQuery) Encode() string {
	return q.Values().Encode()
}

// ParseListQuery decodes query parameters. Missing values take defaults:
// path "/", page 1.
func ParseListQuery(v url.Values) (ListQuery, error) {
	q := ListQuery{
		Path:                 v.Get("path"),
		Page:                 1,
		SearchQuery:          v.Get("searchQuery"),
		SortBy:               v.Get("sortBy"),
		SortOrder:            v.Get("sortOrder"),
		ScopeToCurrentFolder: v.Get("searchInCurrentFolder") == "true",
	}
	if q.Path == "" {
		q.Path = "/"
	}
	if p := v.Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return q, fmt.Errorf("page: %w", err)
		}
		q.Page = n
	}
	if p := v.Get("pageSize"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return q, fmt.Errorf("pageSize: %w", err)
		}
		q.PageSize = n
	}
	return q, nil
}

// CreateRequest is the body for POST /api/v1/files. A folder is created at
// Path when Type is "folder"; otherwise URL is uploaded into Path as Name.
type CreateRequest struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Path string `json:"path"`
	URL  string `json:"url,omitempty"`
}

// UpdateRequest is the body for PUT /api/v1/files.
type UpdateRequest struct {
	ID      string      `json:"id"`
	Updates ItemUpdates `json:"updates"`
}

// ItemUpdates carries the mutable fields of an item.
type ItemUpdates struct {
	ID string `json:"id,omitempty"`
}

// MutationResponse is returned by successful POST, PUT and DELETE calls.
type MutationResponse struct {
	Message string `json:"message"`
	File    *Item  `json:"file,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}
