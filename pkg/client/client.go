// Package client provides an HTTP client for the listing service with retry
// and a response cache.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/mediabrowser/pkg/protocol"
	"github.com/fruitsalade/mediabrowser/pkg/respcache"
	"github.com/fruitsalade/mediabrowser/pkg/retry"
)

// invalidPageMessage is the error text the service uses when a page cannot
// be resumed.
const invalidPageMessage = "Invalid page request"

// APIError is a non-2xx response from the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// AsAPIError checks if an error is an APIError and returns it.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsInvalidPage reports whether err is the service refusing a page that
// has no resumable cursor. The caller must restart from page 1.
func IsInvalidPage(err error) bool {
	ae, ok := AsAPIError(err)
	return ok && ae.Status == http.StatusBadRequest && ae.Message == invalidPageMessage
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	ae, ok := AsAPIError(err)
	return ok && ae.Status == http.StatusNotFound
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Retry   retry.Policy

	// CacheCapacity and CacheTTL size the response cache. Zero values take
	// the respcache defaults.
	CacheCapacity int
	CacheTTL      time.Duration
	Now           func() time.Time

	Logger *zap.Logger
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	pages      *respcache.Cache[*protocol.ListResponse]
	logger     *zap.Logger

	mu     sync.RWMutex
	online bool
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		policy: cfg.Retry,
		pages: respcache.New[*protocol.ListResponse](respcache.Config{
			Capacity: cfg.CacheCapacity,
			TTL:      cfg.CacheTTL,
			Now:      cfg.Now,
			Logger:   cfg.Logger,
		}),
		logger: cfg.Logger,
		online: true,
	}
}

// CacheStats reports the response cache size and its hit and miss counts.
func (c *Client) CacheStats() (entries int, hits, misses uint64) {
	hits, misses = c.pages.Stats()
	return c.pages.Len(), hits, misses
}

// IsOnline reports whether the last request reached the service.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			c.logger.Info("listing service is back online")
		} else {
			c.logger.Warn("listing service unreachable")
		}
	}
	c.online = online
}

// Health checks that the service is reachable.
func (c *Client) Health(ctx context.Context) (*protocol.HealthResponse, error) {
	var out protocol.HealthResponse
	if err := c.call(ctx, http.MethodGet, "/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListFiles returns one listing page. Responses are cached per canonical
// query; refresh bypasses the cache and overwrites the entry.
func (c *Client) ListFiles(ctx context.Context, q protocol.ListQuery, refresh bool) (*protocol.ListResponse, error) {
	key := q.Encode()
	return c.pages.Get(ctx, key, refresh, func(ctx context.Context) (*protocol.ListResponse, error) {
		var out protocol.ListResponse
		if err := c.call(ctx, http.MethodGet, "/api/v1/files", q.Values(), nil, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// CreateFolder creates name under parent.
func (c *Client) CreateFolder(ctx context.Context, parent, name string) (*protocol.Item, error) {
	return c.create(ctx, protocol.CreateRequest{
		Type: protocol.KindFolder,
		Name: name,
		Path: parent,
	})
}

// Upload asks the service to fetch sourceURL and store it in folder as name.
func (c *Client) Upload(ctx context.Context, sourceURL, folder, name string) (*protocol.Item, error) {
	return c.create(ctx, protocol.CreateRequest{
		Type: protocol.KindFile,
		Name: name,
		Path: folder,
		URL:  sourceURL,
	})
}

func (c *Client) create(ctx context.Context, req protocol.CreateRequest) (*protocol.Item, error) {
	var out protocol.MutationResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/files", nil, req, &out); err != nil {
		return nil, err
	}
	return out.File, nil
}

// Rename moves the file id to newID.
func (c *Client) Rename(ctx context.Context, id, newID string) error {
	return c.call(ctx, http.MethodPut, "/api/v1/files", nil, protocol.UpdateRequest{
		ID:      id,
		Updates: protocol.ItemUpdates{ID: newID},
	}, nil)
}

// Delete removes the file id.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/files", url.Values{"id": {id}}, nil, nil)
}

// call performs one request with retries. Transport errors and 5xx
// responses are retried; 4xx responses are returned as *APIError at once.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = data
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	_, err := retry.Do(ctx, c.policy, func(ctx context.Context) (struct{}, error) {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, rd)
		if err != nil {
			return struct{}{}, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			if ctx.Err() != nil {
				return struct{}{}, ctx.Err()
			}
			return struct{}{}, retry.Transient(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &APIError{Status: resp.StatusCode}
			var errResp protocol.ErrorResponse
			if json.NewDecoder(resp.Body).Decode(&errResp) == nil {
				apiErr.Message = errResp.Error
			}
			if resp.StatusCode >= 500 {
				c.setOnline(false)
				return struct{}{}, retry.Transient(apiErr)
			}
			c.setOnline(true)
			return struct{}{}, apiErr
		}

		c.setOnline(true)
		if out == nil {
			return struct{}{}, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return struct{}{}, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return struct{}{}, nil
	})
	if err != nil {
		c.logger.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
	}
	return err
}
