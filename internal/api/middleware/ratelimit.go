package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"
)

// RateLimiter is a keyed token bucket limiter
type RateLimiter struct {
	limiter ratelimit.RateLimiter
}

// NewRateLimiter creates a new rate limiter
// rate: number of requests allowed per interval
// interval: time period for rate (e.g., time.Minute)
// burst: maximum burst size (bucket capacity)
func NewRateLimiter(rate int, interval time.Duration, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: ratelimit.New(&ratelimit.Config{
			Rate:     rate,
			Burst:    burst,
			Interval: interval,
		}),
	}
}

// Allow checks if a request from the given key should be allowed
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	return rl.limiter.Allow(ctx, key)
}

// Close stops the limiter's background work
func (rl *RateLimiter) Close() error {
	return rl.limiter.Close()
}

// RateLimitConfig configures the rate limiting middleware
type RateLimitConfig struct {
	// Requests per minute for general API endpoints
	RequestsPerMinute int
	// Requests per minute for content generation
	GenerateRequestsPerMinute int
	// Burst size multiplier (burst = rate * multiplier)
	BurstMultiplier int
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute:         120,
		GenerateRequestsPerMinute: 6,
		BurstMultiplier:           3,
	}
}

// RateLimitMiddleware limits requests per client.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)

			if !limiter.Allow(r.Context(), key) {
				slog.Warn("rate limit exceeded",
					"client", key,
					"path", r.URL.Path,
					"request_id", GetRequestID(r.Context()),
				)

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":{"code":"RATE_LIMITED","message":"too many requests, please try again later"}}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey prefers the learner identity and falls back to the client IP.
func clientKey(r *http.Request) string {
	if id := r.Header.Get(LearnerIDHeader); id != "" {
		return "learner:" + id
	}
	return "ip:" + getClientIP(r)
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return r.RemoteAddr
}
