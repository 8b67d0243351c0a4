package postgres

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fruitsalade/mediabrowser/internal/backend"
	"github.com/fruitsalade/mediabrowser/internal/listing"
)

type query struct {
	sql  string
	args []any
}

// keyset is the position of the last row served.
type keyset struct {
	Field   backend.SortField `json:"f"`
	Name    string            `json:"n,omitempty"`
	Created time.Time         `json:"c,omitempty"`
	Bytes   int64             `json:"b,omitempty"`
	ID      string            `json:"i"`
}

func cursorFor(rec backend.FileRecord, field backend.SortField) keyset {
	k := keyset{Field: field, ID: rec.ID}
	switch field {
	case backend.FieldCreatedAt:
		k.Created = rec.CreatedAt
	case backend.FieldBytes:
		k.Bytes = rec.Bytes
	default:
		k.Field = backend.FieldFilename
		k.Name = rec.Name()
	}
	return k
}

func encodeCursor(k keyset) string {
	raw, _ := json.Marshal(k)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(cursor string) (*keyset, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	var k keyset
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	return &k, nil
}

func column(f backend.SortField) string {
	switch f {
	case backend.FieldCreatedAt:
		return "created_at"
	case backend.FieldBytes:
		return "bytes"
	default:
		return "name"
	}
}

// escapeLike escapes LIKE metacharacters using the default backslash escape.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func filter(expr backend.Expression) ([]string, []any) {
	var where []string
	var args []any
	if expr.NamePrefix != "" {
		args = append(args, escapeLike(expr.NamePrefix)+"%")
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if expr.Scoped {
		args = append(args, strings.Trim(expr.Folder, "/"))
		where = append(where, fmt.Sprintf("folder = $%d", len(args)))
	}
	return where, args
}

func buildSearch(expr backend.Expression, sort backend.Sort, after *keyset, limit int) query {
	where, args := filter(expr)
	col := column(sort.Field)
	dir, cmp := "ASC", ">"
	if sort.Order == listing.Desc {
		dir, cmp = "DESC", "<"
	}

	// A cursor minted under another sort cannot resume this walk.
	if after != nil && column(after.Field) == col {
		var v any
		switch sort.Field {
		case backend.FieldCreatedAt:
			v = after.Created
		case backend.FieldBytes:
			v = after.Bytes
		default:
			v = after.Name
		}
		args = append(args, v, after.ID)
		where = append(where, fmt.Sprintf("(%s, id) %s ($%d, $%d)", col, cmp, len(args)-1, len(args)))
	}

	var b strings.Builder
	b.WriteString("SELECT id, folder, created_at, bytes, url, context FROM browser_files")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY %s %s, id %s", col, dir, dir)
	args = append(args, limit)
	fmt.Fprintf(&b, " LIMIT $%d", len(args))
	return query{sql: b.String(), args: args}
}

func buildCount(expr backend.Expression) query {
	where, args := filter(expr)
	sql := "SELECT COUNT(*) FROM browser_files"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	return query{sql: sql, args: args}
}
