package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/felixgeelhaar/courseforge/internal/domain"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetry_TransientSucceedsEventually(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastRetry(), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, domain.Transient("save", errors.New("busy"))
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if got != 42 || calls != 3 {
		t.Errorf("Retry() = %d after %d calls; want 42 after 3", got, calls)
	}
}

func TestRetry_ConflictIsRetried(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(), func(context.Context) (struct{}, error) {
		calls++
		if calls == 1 {
			return struct{}{}, fmt.Errorf("save learner: %w", domain.ErrConflict)
		}
		return struct{}{}, nil
	})
	if err != nil || calls != 2 {
		t.Errorf("Retry() err = %v calls = %d; want nil after 2", err, calls)
	}
}

func TestRetry_PermanentErrorsAreNotRetried(t *testing.T) {
	for _, want := range []error{domain.ErrNotFound, domain.ErrUnauthorized, domain.ErrInvalidInput} {
		calls := 0
		_, err := Retry(context.Background(), fastRetry(), func(context.Context) (int, error) {
			calls++
			return 0, want
		})
		if !errors.Is(err, want) {
			t.Errorf("Retry() error = %v; want %v", err, want)
		}
		if calls != 1 {
			t.Errorf("%v retried: %d calls; want 1", want, calls)
		}
	}
}

func TestRetry_ExhaustedKeepsClassification(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(), func(context.Context) (int, error) {
		calls++
		return 0, domain.Transient("commit", errors.New("down"))
	})
	if !errors.Is(err, domain.ErrTransientStore) {
		t.Errorf("Retry() error = %v; want ErrTransientStore", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d; want 3", calls)
	}
}
