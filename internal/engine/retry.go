package engine

import (
	"context"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/courseforge/internal/domain"
)

// RetryConfig bounds how callers retry transient store failures.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig returns the retry policy used by the HTTP, MCP and
// queue entry points.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
	}
}

// Retry re-runs whole mutations that failed with a transient store error or
// a revision conflict. Other errors are returned on the first attempt.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}
	r := retry.New[T](retry.Config{
		MaxAttempts:   cfg.MaxAttempts,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      cfg.MaxDelay,
		Multiplier:    2.0,
		BackoffPolicy: retry.BackoffExponential,
		Jitter:        true,
		IsRetryable:   domain.IsRetryable,
	})

	// The last error from fn is returned as-is so callers can classify it.
	var last error
	out, err := r.Do(ctx, func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		last = err
		return v, err
	})
	if err != nil && last != nil {
		return out, last
	}
	return out, err
}
