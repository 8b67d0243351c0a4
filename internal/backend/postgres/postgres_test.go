package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/mediabrowser/internal/backend"
	"github.com/fruitsalade/mediabrowser/internal/listing"
)

// openTestStore connects to TEST_DATABASE_URL and skips when it is unset or
// unreachable.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)
	if err := db.PingContext(ctx); err != nil {
		t.Skipf("test DB not reachable: %v", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS browser_files CASCADE")
	db.ExecContext(ctx, "DROP TABLE IF EXISTS browser_folders CASCADE")
	db.Close()

	s, err := New(ctx, Config{DatabaseURL: dbURL, MigrationsDir: "../../../migrations", PreviewBase: "https://cdn.test"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_KeysetWalk(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.UploadFile(ctx, fmt.Sprintf("https://src.test/%d", i), "/docs", fmt.Sprintf("f%d.png", i))
		require.NoError(t, err)
	}
	require.NoError(t, s.CreateFolder(ctx, "docs/2024"))

	expr := backend.Expression{Folder: "docs", Scoped: true}
	sort := backend.Sort{Field: backend.FieldFilename, Order: listing.Asc}

	first, err := s.SearchFiles(ctx, expr, "", sort, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, first.TotalCount)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)

	var ids []string
	cursor := first.NextCursor
	for _, r := range first.Items {
		ids = append(ids, r.ID)
	}
	for cursor != "" {
		page, err := s.SearchFiles(ctx, expr, cursor, sort, 2)
		require.NoError(t, err)
		for _, r := range page.Items {
			ids = append(ids, r.ID)
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, []string{"docs/f0.png", "docs/f1.png", "docs/f2.png", "docs/f3.png", "docs/f4.png"}, ids)

	folders, err := s.ListFolders(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, folders.TotalCount)

	require.NoError(t, s.Rename(ctx, "docs/f0.png", "archive/f0.png"))
	assert.ErrorIs(t, s.Rename(ctx, "docs/f0.png", "x.png"), backend.ErrNotFound)

	ok, err := s.Delete(ctx, "archive/f0.png")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, "archive/f0.png")
	require.NoError(t, err)
	assert.False(t, ok)
}
