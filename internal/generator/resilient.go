package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/courseforge/internal/domain"
)

// ErrRateLimited is returned when the local rate limit rejects a call.
var ErrRateLimited = fmt.Errorf("%w: rate limit exceeded", ErrUnavailable)

// Resilient wraps a Generator with resilience patterns from fortify
type Resilient struct {
	gen            Generator
	circuitBreaker circuitbreaker.CircuitBreaker[any]
	retrier        retry.Retry[any]
	bulkhead       bulkhead.Bulkhead[any]
	rateLimit      ratelimit.RateLimiter
	logger         *slog.Logger
	name           string
}

// ResilientConfig holds configuration for the resilient wrapper
type ResilientConfig struct {
	EnableCircuitBreaker bool
	EnableRetry          bool
	EnableBulkhead       bool
	EnableRateLimit      bool

	// MaxConcurrent for bulkhead (default: 5)
	MaxConcurrent int

	// RatePerSecond for rate limiting (default: 2)
	RatePerSecond int

	// Retry backoff (defaults: 3 attempts from 2s)
	MaxAttempts  int
	InitialDelay time.Duration

	Logger *slog.Logger
}

// DefaultResilientConfig returns sensible defaults for generator calls
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		EnableCircuitBreaker: true,
		EnableRetry:          true,
		EnableBulkhead:       true,
		EnableRateLimit:      true,
		MaxConcurrent:        5,
		RatePerSecond:        2,
		MaxAttempts:          3,
		InitialDelay:         2 * time.Second,
	}
}

// NewResilient wraps gen with the patterns enabled in cfg
func NewResilient(gen Generator, cfg ResilientConfig) *Resilient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resilient{
		gen:    gen,
		logger: logger,
		name:   gen.Name(),
	}

	if cfg.EnableCircuitBreaker {
		r.circuitBreaker = circuitbreaker.New[any](circuitbreaker.Config{
			MaxRequests: 2,
			Interval:    10 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(from, to circuitbreaker.State) {
				r.logger.Warn("circuit breaker state change",
					"generator", r.name,
					"from", from.String(),
					"to", to.String())
			},
		})
	}

	if cfg.EnableRetry {
		attempts := cfg.MaxAttempts
		if attempts <= 0 {
			attempts = 3
		}
		delay := cfg.InitialDelay
		if delay <= 0 {
			delay = 2 * time.Second
		}
		r.retrier = retry.New[any](retry.Config{
			MaxAttempts:   attempts,
			InitialDelay:  delay,
			MaxDelay:      60 * time.Second,
			Multiplier:    2.0,
			BackoffPolicy: retry.BackoffExponential,
			Jitter:        true,
			IsRetryable:   isRetryable,
		})
	}

	if cfg.EnableBulkhead {
		maxConcurrent := cfg.MaxConcurrent
		if maxConcurrent <= 0 {
			maxConcurrent = 5
		}
		r.bulkhead = bulkhead.New[any](bulkhead.Config{
			MaxConcurrent: maxConcurrent,
			MaxQueue:      maxConcurrent * 2,
			QueueTimeout:  30 * time.Second,
		})
	}

	if cfg.EnableRateLimit {
		rate := cfg.RatePerSecond
		if rate <= 0 {
			rate = 2
		}
		r.rateLimit = ratelimit.New(&ratelimit.Config{
			Rate:     rate,
			Burst:    rate * 3,
			Interval: time.Second,
		})
	}

	return r
}

func (r *Resilient) Name() string {
	return r.gen.Name()
}

// GenerateCourse implements Generator.
func (r *Resilient) GenerateCourse(ctx context.Context, topic string, difficulty domain.Difficulty) (domain.CourseContent, error) {
	out, err := r.execute(ctx, func(ctx context.Context) (any, error) {
		return r.gen.GenerateCourse(ctx, topic, difficulty)
	})
	if err != nil {
		return domain.CourseContent{}, err
	}
	c, ok := out.(domain.CourseContent)
	if !ok {
		return domain.CourseContent{}, fmt.Errorf("%w: unexpected result %T", ErrMalformed, out)
	}
	return c, nil
}

// GenerateProject implements Generator.
func (r *Resilient) GenerateProject(ctx context.Context, topic string, difficulty domain.Difficulty) (domain.ProjectContent, error) {
	out, err := r.execute(ctx, func(ctx context.Context) (any, error) {
		return r.gen.GenerateProject(ctx, topic, difficulty)
	})
	if err != nil {
		return domain.ProjectContent{}, err
	}
	p, ok := out.(domain.ProjectContent)
	if !ok {
		return domain.ProjectContent{}, fmt.Errorf("%w: unexpected result %T", ErrMalformed, out)
	}
	return p, nil
}

// execute layers rate limit, circuit breaker, retry and bulkhead around op,
// outermost first.
func (r *Resilient) execute(ctx context.Context, op func(ctx context.Context) (any, error)) (any, error) {
	if r.rateLimit != nil && !r.rateLimit.Allow(ctx, r.name) {
		return nil, ErrRateLimited
	}

	operation := op
	if r.bulkhead != nil {
		operation = func(ctx context.Context) (any, error) {
			return r.bulkhead.Execute(ctx, op)
		}
	}

	var last error
	attempt := func(ctx context.Context) (any, error) {
		v, err := operation(ctx)
		last = err
		return v, err
	}

	var (
		out any
		err error
	)
	switch {
	case r.circuitBreaker != nil && r.retrier != nil:
		out, err = r.circuitBreaker.Execute(ctx, func(ctx context.Context) (any, error) {
			return r.retrier.Do(ctx, attempt)
		})
	case r.circuitBreaker != nil:
		out, err = r.circuitBreaker.Execute(ctx, attempt)
	case r.retrier != nil:
		out, err = r.retrier.Do(ctx, attempt)
	default:
		out, err = attempt(ctx)
	}
	return out, classify(err, last)
}

// classify prefers the generator's own error and maps anything the
// resilience layer produced on its own (open circuit, full bulkhead) to
// ErrUnavailable.
func classify(err, last error) error {
	if err == nil {
		return nil
	}
	if last != nil {
		err = last
	}
	switch {
	case errors.Is(err, ErrMalformed), errors.Is(err, ErrUnavailable):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

// Close releases resources held by the wrapper
func (r *Resilient) Close() error {
	if r.rateLimit != nil {
		return r.rateLimit.Close()
	}
	return nil
}

// isRetryable retries transport failures and retryable HTTP statuses.
// Malformed content is not retried.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrMalformed) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return errors.Is(err, ErrUnavailable)
}

var _ Generator = (*Resilient)(nil)
