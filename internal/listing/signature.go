package listing

import (
	"path"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// NormalizePath converts a client path into the backend form: no leading
// or trailing separator, with the root represented by the empty string.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// DisplayPath converts a backend path back into the absolute client form.
func DisplayPath(p string) string {
	return "/" + NormalizePath(p)
}

// Signature identifies one logical paginated walk. Requests that differ only
// in page number share a signature.
type Signature struct {
	Path        string
	SearchQuery string
	SortField   SortField
	SortOrder   SortOrder
	Scoped      bool
}

// SignatureOf derives the signature of a request. The path is normalized.
func SignatureOf(r Request) Signature {
	return Signature{
		Path:        NormalizePath(r.Path),
		SearchQuery: r.SearchQuery,
		SortField:   r.SortField,
		SortOrder:   r.SortOrder,
		Scoped:      r.Scoped,
	}
}

// String returns the canonical, unambiguous encoding of the signature.
func (s Signature) String() string {
	var b strings.Builder
	b.WriteString(s.Path)
	b.WriteByte(0)
	b.WriteString(s.SearchQuery)
	b.WriteByte(0)
	b.WriteString(string(s.SortField))
	b.WriteByte(0)
	b.WriteString(string(s.SortOrder))
	b.WriteByte(0)
	b.WriteString(strconv.FormatBool(s.Scoped))
	return b.String()
}

// Key returns a fixed-width cache key for the signature.
func (s Signature) Key() string {
	return strconv.FormatUint(xxhash.Sum64String(s.String()), 16)
}
