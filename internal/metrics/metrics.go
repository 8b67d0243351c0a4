// Package metrics provides Prometheus metrics for the listing service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabrowser_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediabrowser_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Listing metrics
	listingRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabrowser_listing_requests_total",
			Help: "Listing requests by page kind and outcome",
		},
		[]string{"page", "outcome"},
	)

	listingItemsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediabrowser_listing_items_returned",
			Help:    "Number of items returned per listing page",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	// Cursor cache metrics
	cursorLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabrowser_cursor_cache_lookups_total",
			Help: "Cursor cache lookups by result",
		},
		[]string{"result"},
	)

	cursorEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediabrowser_cursor_cache_evictions_total",
			Help: "Cursor cache entries evicted for capacity",
		},
	)

	folderMemoReadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediabrowser_folder_memo_reads_total",
			Help: "Folder totals served from the folder-count memo",
		},
	)

	// Backend metrics
	backendOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediabrowser_backend_operation_duration_seconds",
			Help:    "Backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	backendOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabrowser_backend_operations_total",
			Help: "Total backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediabrowser_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordListing records the outcome of one planner call.
// outcome is one of "ok", "invalid_page", "error".
func RecordListing(page int, outcome string, items int) {
	kind := "first"
	if page > 1 {
		kind = "next"
	}
	listingRequestsTotal.WithLabelValues(kind, outcome).Inc()
	if outcome == "ok" {
		listingItemsReturned.Observe(float64(items))
	}
}

// RecordCursorLookup records a cursor cache hit or miss.
func RecordCursorLookup(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	cursorLookupsTotal.WithLabelValues(result).Inc()
}

// RecordCursorEviction records a capacity eviction from the cursor cache.
func RecordCursorEviction() {
	cursorEvictionsTotal.Inc()
}

// RecordFolderMemoRead records a folder total served from the memo.
func RecordFolderMemoRead() {
	folderMemoReadsTotal.Inc()
}

// RecordBackendOperation records a backend call.
func RecordBackendOperation(backend, operation string, duration time.Duration, success bool) {
	backendOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	backendOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

// RecordRateLimitHit records a rejected request.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
