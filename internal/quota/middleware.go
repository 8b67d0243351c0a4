package quota

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/fruitsalade/mediabrowser/internal/logging"
	"github.com/fruitsalade/mediabrowser/internal/metrics"
	"github.com/fruitsalade/mediabrowser/pkg/protocol"
)

// ClientKey identifies the client a request is charged to.
type ClientKey func(r *http.Request) string

// RemoteIP charges requests to the host part of RemoteAddr.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware returns middleware that enforces per-client rate limits.
func RateLimitMiddleware(limiter *RateLimiter, key ClientKey) func(http.Handler) http.Handler {
	if key == nil {
		key = RemoteIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := key(r)
			if limiter.Allow(client) {
				next.ServeHTTP(w, r)
				return
			}

			metrics.RecordRateLimitHit()
			logging.WithContext(r.Context()).Debug("rate limited", zap.String("client", client))

			w.Header().Set("Retry-After", strconv.Itoa(limiter.RetryAfter(client)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(protocol.ErrorResponse{
				Error: "rate limit exceeded",
				Code:  http.StatusTooManyRequests,
			})
		})
	}
}
