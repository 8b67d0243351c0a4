// Package s3 adapts an S3-compatible bucket (AWS, MinIO) to the listing
// backend. Object keys are file ids; folders are common prefixes plus
// zero-byte "name/" marker objects.
package s3

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/fruitsalade/mediabrowser/internal/backend"
	"github.com/fruitsalade/mediabrowser/internal/listing"
	"github.com/fruitsalade/mediabrowser/internal/logging"
	"github.com/fruitsalade/mediabrowser/internal/metrics"
	"github.com/fruitsalade/mediabrowser/pkg/lru"
)

// Bounds for the remembered expression totals.
const (
	totalsCapacity = 1000
	totalsTTL      = time.Hour
)

// Config is decoded from the backend.s3 configuration map.
type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	KeyPrefix string `mapstructure:"key_prefix"`

	// PublicURL is the base used for file source URLs.
	PublicURL string `mapstructure:"public_url"`

	// PreviewURL is the base of an image resizing service. Defaults to PublicURL.
	PreviewURL string `mapstructure:"preview_url"`
}

// Backend lists a bucket.
type Backend struct {
	client     *s3.Client
	bucket     string
	prefix     string
	publicURL  string
	previewURL string
	http       *http.Client

	// totals remembers the match count of each expression, computed on the
	// first page of a walk and reused for its continuation pages.
	totals *lru.Cache[string, int]
}

// New creates an S3 backend.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 backend: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newWithClient(client, cfg), nil
}

func newWithClient(client *s3.Client, cfg Config) *Backend {
	prefix := strings.Trim(cfg.KeyPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	public := strings.TrimSuffix(cfg.PublicURL, "/")
	if public == "" && cfg.Endpoint != "" {
		public = strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	preview := strings.TrimSuffix(cfg.PreviewURL, "/")
	if preview == "" {
		preview = public
	}
	return &Backend{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     prefix,
		publicURL:  public,
		previewURL: preview,
		http:       &http.Client{Timeout: 5 * time.Minute},
		totals:     lru.New[string, int](lru.Config{Capacity: totalsCapacity, TTL: totalsTTL}),
	}
}

func (b *Backend) record(op string, start time.Time, err error) {
	metrics.RecordBackendOperation("s3", op, time.Since(start), err == nil)
}

// key maps an id to an object key.
func (b *Backend) key(id string) string {
	return b.prefix + strings.Trim(id, "/")
}

// id maps an object key back to an id.
func (b *Backend) id(key string) string {
	return strings.TrimPrefix(key, b.prefix)
}

// folderPrefix is the listing prefix for the direct children of folder.
func (b *Backend) folderPrefix(folder string) string {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return b.prefix
	}
	return b.prefix + folder + "/"
}

// SearchFiles walks keys in lexical order. Only ascending key order is
// available from ListObjectsV2; other sorts are served in key order.
func (b *Backend) SearchFiles(ctx context.Context, expr backend.Expression, cursor string, sort backend.Sort, limit int) (page *backend.FilePage, err error) {
	start := time.Now()
	defer func() { b.record("search_files", start, err) }()

	if sort.Field != backend.FieldFilename || sort.Order != listing.Asc {
		logging.WithContext(ctx).Debug("s3 search served in key order",
			zap.String("field", string(sort.Field)),
			zap.String("order", string(sort.Order)))
	}

	startAfter, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	prefix, delimiter := b.prefix, ""
	if expr.Scoped {
		prefix, delimiter = b.folderPrefix(expr.Folder)+caselessPrefix(expr.NamePrefix), "/"
	}

	page = &backend.FilePage{}
	var last string
	err = b.walk(ctx, prefix, delimiter, startAfter, func(obj types.Object) bool {
		id := b.id(aws.ToString(obj.Key))
		if !expr.Match(id) {
			return true
		}
		if limit > 0 && len(page.Items) == limit {
			// one more match exists beyond this page
			page.NextCursor = encodeCursor(last)
			return false
		}
		page.Items = append(page.Items, b.toRecord(obj))
		last = aws.ToString(obj.Key)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", expr.String(), err)
	}

	total, err := b.total(ctx, expr, prefix, delimiter, cursor == "")
	if err != nil {
		return nil, err
	}
	page.TotalCount = total
	return page, nil
}

// total returns the match count for expr. It is recounted at the start of
// every walk and remembered for the continuation pages.
func (b *Backend) total(ctx context.Context, expr backend.Expression, prefix, delimiter string, fresh bool) (int, error) {
	key := expr.String()
	if !fresh {
		if n, ok := b.totals.Get(key); ok {
			return n, nil
		}
	}

	n := 0
	err := b.walk(ctx, prefix, delimiter, "", func(obj types.Object) bool {
		if expr.Match(b.id(aws.ToString(obj.Key))) {
			n++
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("count %q: %w", key, err)
	}

	b.totals.Set(key, n)
	return n, nil
}

// caselessPrefix returns the leading part of s made of runes without case
// variants. Name matching ignores case, so only that part can narrow the
// key prefix.
func caselessPrefix(s string) string {
	for i, r := range s {
		if unicode.ToLower(r) != r || unicode.ToUpper(r) != r {
			return s[:i]
		}
	}
	return s
}

// walk visits file objects under prefix in key order, skipping folder
// markers, until fn returns false.
func (b *Backend) walk(ctx context.Context, prefix, delimiter, startAfter string, fn func(types.Object) bool) error {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	}
	if delimiter != "" {
		input.Delimiter = aws.String(delimiter)
	}
	if startAfter != "" {
		input.StartAfter = aws.String(startAfter)
	}

	p := s3.NewListObjectsV2Paginator(b.client, input)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range out.Contents {
			if strings.HasSuffix(aws.ToString(obj.Key), "/") {
				continue
			}
			if !fn(obj) {
				return nil
			}
		}
	}
	return nil
}

func (b *Backend) toRecord(obj types.Object) backend.FileRecord {
	id := b.id(aws.ToString(obj.Key))
	folder, _ := backend.Split(id)
	return backend.FileRecord{
		ID:        id,
		Folder:    folder,
		CreatedAt: aws.ToTime(obj.LastModified),
		Bytes:     aws.ToInt64(obj.Size),
		URL:       b.publicURL + "/" + aws.ToString(obj.Key),
	}
}

func (b *Backend) ListFolders(ctx context.Context, folder string) (page *backend.FolderPage, err error) {
	start := time.Now()
	defer func() { b.record("list_folders", start, err) }()

	prefix := b.folderPrefix(folder)
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	page = &backend.FolderPage{}
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list folders %q: %w", folder, err)
		}
		for _, cp := range out.CommonPrefixes {
			path := strings.TrimSuffix(b.id(aws.ToString(cp.Prefix)), "/")
			_, name := backend.Split(path)
			page.Items = append(page.Items, backend.FolderRecord{Name: name, Path: path})
		}
	}
	page.TotalCount = len(page.Items)
	return page, nil
}

// CreateFolder writes a zero-byte marker object.
func (b *Backend) CreateFolder(ctx context.Context, folder string) (err error) {
	start := time.Now()
	defer func() { b.record("create_folder", start, err) }()

	folder = strings.Trim(folder, "/")
	if folder == "" {
		return nil
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.prefix + folder + "/"),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return fmt.Errorf("create folder %s: %w", folder, err)
	}
	logging.Debug("S3 folder created", zap.String("folder", folder))
	return nil
}

// UploadFile streams sourceURL into the bucket.
func (b *Backend) UploadFile(ctx context.Context, sourceURL, targetFolder, name string) (rec *backend.FileRecord, err error) {
	start := time.Now()
	defer func() { b.record("upload_file", start, err) }()

	if name == "" {
		return nil, errors.New("upload: name is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("upload source: %w", err)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch source: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch source: status %d", resp.StatusCode)
	}

	id := backend.Join(targetFolder, name)
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
		Body:   resp.Body,
	}
	if resp.ContentLength >= 0 {
		input.ContentLength = aws.Int64(resp.ContentLength)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		input.ContentType = aws.String(ct)
	}
	if _, err := b.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("put object %s: %w", id, err)
	}

	folder, _ := backend.Split(id)
	size := resp.ContentLength
	if size < 0 {
		size = 0
	}
	logging.Debug("S3 put object", zap.String("key", b.key(id)), zap.Int64("size", size))
	return &backend.FileRecord{
		ID:        id,
		Folder:    folder,
		CreatedAt: time.Now().UTC(),
		Bytes:     size,
		URL:       b.publicURL + "/" + b.key(id),
	}, nil
}

// Rename copies then deletes, overwriting any object at newID.
func (b *Backend) Rename(ctx context.Context, id, newID string) (err error) {
	start := time.Now()
	defer func() { b.record("rename", start, err) }()

	exists, err := b.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("rename %s: %w", id, backend.ErrNotFound)
	}

	src, dst := b.key(id), b.key(newID)
	_, err = b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(b.bucket + "/" + src),
	})
	if err != nil {
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(src),
	}); err != nil {
		return fmt.Errorf("delete %s after copy: %w", src, err)
	}
	logging.Debug("S3 rename", zap.String("src", src), zap.String("dst", dst))
	return nil
}

func (b *Backend) Delete(ctx context.Context, id string) (ok bool, err error) {
	start := time.Now()
	defer func() { b.record("delete", start, err) }()

	exists, err := b.exists(ctx, id)
	if err != nil || !exists {
		return false, err
	}
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	}); err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	return true, nil
}

func (b *Backend) exists(ctx context.Context, id string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return false, nil
	}
	return false, fmt.Errorf("head %s: %w", id, err)
}

func (b *Backend) PreviewURL(ref string) string {
	return b.previewURL + "/" + b.key(ref)
}

// Type returns "s3".
func (b *Backend) Type() string { return "s3" }

// Close is a no-op for S3 backends.
func (b *Backend) Close() error { return nil }

func encodeCursor(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("invalid cursor: %w", err)
	}
	return string(raw), nil
}
