// Package postgres provides a PostgreSQL-backed listing backend with
// keyset pagination.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fruitsalade/mediabrowser/internal/backend"
	"github.com/fruitsalade/mediabrowser/internal/logging"
	"github.com/fruitsalade/mediabrowser/internal/metrics"
)

// Config is decoded from the backend.postgres configuration map.
type Config struct {
	DatabaseURL   string `mapstructure:"database_url"`
	MigrationsDir string `mapstructure:"migrations_dir"`
	PreviewBase   string `mapstructure:"preview_base"`
}

// Store is a PostgreSQL listing backend.
type Store struct {
	db          *sql.DB
	previewBase string
}

// New connects and, when a migrations directory is configured, migrates.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("postgres backend: database_url is required")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, previewBase: strings.TrimSuffix(cfg.PreviewBase, "/")}
	if cfg.MigrationsDir != "" {
		if err := s.Migrate(cfg.MigrationsDir); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Migrate runs SQL migration files in name order.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

func record(op string, start time.Time, err error) {
	metrics.RecordBackendOperation("postgres", op, time.Since(start), err == nil)
}

// SearchFiles pages with a (sort column, id) keyset so continuation pages
// stay cheap regardless of depth.
func (s *Store) SearchFiles(ctx context.Context, expr backend.Expression, cursor string, sort backend.Sort, limit int) (page *backend.FilePage, err error) {
	start := time.Now()
	defer func() { record("search_files", start, err) }()

	after, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	q := buildSearch(expr, sort, after, limit+1)
	rows, err := s.db.QueryContext(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("search files: %w", err)
	}
	defer rows.Close()

	page = &backend.FilePage{}
	for rows.Next() {
		var rec backend.FileRecord
		var rawContext []byte
		if err := rows.Scan(&rec.ID, &rec.Folder, &rec.CreatedAt, &rec.Bytes, &rec.URL, &rawContext); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		if len(rawContext) > 0 {
			if err := json.Unmarshal(rawContext, &rec.Context); err != nil {
				logging.WithContext(ctx).Warn("ignoring malformed file context",
					zap.String("id", rec.ID), zap.Error(err))
			}
		}
		page.Items = append(page.Items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search files: %w", err)
	}

	if len(page.Items) > limit {
		page.Items = page.Items[:limit]
		page.NextCursor = encodeCursor(cursorFor(page.Items[limit-1], sort.Field))
	}

	c := buildCount(expr)
	if err := s.db.QueryRowContext(ctx, c.sql, c.args...).Scan(&page.TotalCount); err != nil {
		return nil, fmt.Errorf("count files: %w", err)
	}
	return page, nil
}

func (s *Store) ListFolders(ctx context.Context, folder string) (page *backend.FolderPage, err error) {
	start := time.Now()
	defer func() { record("list_folders", start, err) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, name FROM browser_folders WHERE parent = $1 ORDER BY name`,
		strings.Trim(folder, "/"))
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	page = &backend.FolderPage{}
	for rows.Next() {
		var f backend.FolderRecord
		if err := rows.Scan(&f.Path, &f.Name); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		page.Items = append(page.Items, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	page.TotalCount = len(page.Items)
	return page, nil
}

// CreateFolder inserts folder and any missing ancestors.
func (s *Store) CreateFolder(ctx context.Context, folder string) (err error) {
	start := time.Now()
	defer func() { record("create_folder", start, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := ensureFolders(ctx, tx, strings.Trim(folder, "/")); err != nil {
		return err
	}
	return tx.Commit()
}

// UploadFile registers a file whose content lives at sourceURL.
func (s *Store) UploadFile(ctx context.Context, sourceURL, targetFolder, name string) (rec *backend.FileRecord, err error) {
	start := time.Now()
	defer func() { record("upload_file", start, err) }()

	if name == "" {
		return nil, errors.New("upload: name is required")
	}
	id := backend.Join(targetFolder, name)
	folder, _ := backend.Split(id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := ensureFolders(ctx, tx, folder); err != nil {
		return nil, err
	}

	rec = &backend.FileRecord{ID: id, Folder: folder, URL: sourceURL}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO browser_files (id, folder, name, url)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET url = EXCLUDED.url, created_at = NOW()
		 RETURNING created_at, bytes`,
		id, folder, name, sourceURL).Scan(&rec.CreatedAt, &rec.Bytes)
	if err != nil {
		return nil, fmt.Errorf("insert file: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Rename moves a file, overwriting any file already at newID.
func (s *Store) Rename(ctx context.Context, id, newID string) (err error) {
	start := time.Now()
	defer func() { record("rename", start, err) }()

	id, newID = strings.Trim(id, "/"), strings.Trim(newID, "/")
	folder, name := backend.Split(newID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if id != newID {
		if _, err := tx.ExecContext(ctx, `DELETE FROM browser_files WHERE id = $1`, newID); err != nil {
			return fmt.Errorf("clear target: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE browser_files SET id = $2, folder = $3, name = $4 WHERE id = $1`,
		id, newID, folder, name)
	if err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rename %s: %w", id, backend.ErrNotFound)
	}
	if err := ensureFolders(ctx, tx, folder); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, id string) (ok bool, err error) {
	start := time.Now()
	defer func() { record("delete", start, err) }()

	res, err := s.db.ExecContext(ctx, `DELETE FROM browser_files WHERE id = $1`, strings.Trim(id, "/"))
	if err != nil {
		return false, fmt.Errorf("delete file: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) PreviewURL(ref string) string {
	return s.previewBase + "/" + ref
}

func (s *Store) Type() string { return "postgres" }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func ensureFolders(ctx context.Context, tx *sql.Tx, folder string) error {
	for folder != "" {
		parent, name := backend.Split(folder)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO browser_folders (path, name, parent) VALUES ($1, $2, $3)
			 ON CONFLICT (path) DO NOTHING`,
			folder, name, parent); err != nil {
			return fmt.Errorf("insert folder %s: %w", folder, err)
		}
		folder = parent
	}
	return nil
}
