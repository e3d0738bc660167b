package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/karanmehta/recheck/internal/api/response"
	"github.com/karanmehta/recheck/internal/cache"
)

const rateLimitWindow = time.Minute

// RateLimit enforces a fixed-window per-key request budget backed by
// Redis. When Redis is unreachable the limiter fails open.
type RateLimit struct {
	cache     cache.Cache
	perWindow int
}

func NewRateLimit(c cache.Cache, perWindow int) *RateLimit {
	if perWindow <= 0 {
		perWindow = 60
	}
	return &RateLimit{cache: c, perWindow: perWindow}
}

// Limit counts requests per key prefix. Requests without a key prefix
// (auth not applied) pass through untouched.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(prefix), rateLimitWindow)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(rl.perWindow-int(count), 0)
		reset := time.Now().Add(rateLimitWindow).Unix()

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.perWindow))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

		if count > int64(rl.perWindow) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateLimitWindow.Seconds())))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
