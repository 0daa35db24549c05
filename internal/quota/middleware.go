package quota

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fruitsalade/aftp/internal/metrics"
	"github.com/fruitsalade/aftp/pkg/protocol"
)

// ClientFromContext extracts the caller id placed in the context by the
// access-control middleware. This function type keeps quota independent of
// the auth package.
type ClientFromContext func(ctx context.Context) string

// RateLimitMiddleware returns middleware that enforces per-caller rate limits.
func RateLimitMiddleware(limiter *RateLimiter, getClient ClientFromContext) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := getClient(r.Context())
			if clientID == "" || limiter.Unlimited() {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(clientID) {
				metrics.RecordRateLimitHit()
				w.Header().Set("Retry-After", strconv.Itoa(limiter.RetryAfter(clientID)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(protocol.ErrorResponse{
					Error: "rate limit exceeded",
					Code:  http.StatusTooManyRequests,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
