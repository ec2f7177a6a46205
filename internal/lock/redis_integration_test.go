//go:build integration

package lock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/felixgeelhaar/courseforge/internal/lock"
)

// setupRedis starts a Redis container for testing
func setupRedis(t *testing.T) (string, func()) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start Redis container: %v", err)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		t.Fatalf("failed to get Redis endpoint: %v", err)
	}

	cleanup := func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return endpoint, cleanup
}

func TestIntegration_RedisLocker(t *testing.T) {
	addr, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	cfg := lock.DefaultRedisConfig(addr)
	cfg.TTL = 2 * time.Second

	locker, err := lock.NewRedisLocker(ctx, cfg)
	if err != nil {
		t.Fatalf("NewRedisLocker() error = %v", err)
	}
	defer locker.Close()

	release, err := locker.Acquire(ctx, "learner-1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(waitCtx, "learner-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() on held key error = %v, want DeadlineExceeded", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release() error = %v", err)
	}
	if err := release(ctx); !errors.Is(err, lock.ErrNotHeld) {
		t.Errorf("second release() error = %v, want ErrNotHeld", err)
	}

	release2, err := locker.Acquire(ctx, "learner-1")
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	_ = release2(ctx)
}

func TestIntegration_RedisLocker_Expiry(t *testing.T) {
	addr, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	cfg := lock.DefaultRedisConfig(addr)
	cfg.TTL = 300 * time.Millisecond

	locker, err := lock.NewRedisLocker(ctx, cfg)
	if err != nil {
		t.Fatalf("NewRedisLocker() error = %v", err)
	}
	defer locker.Close()

	stale, err := locker.Acquire(ctx, "learner-2")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	fresh, err := locker.Acquire(waitCtx, "learner-2")
	if err != nil {
		t.Fatalf("Acquire() after TTL error = %v", err)
	}

	if err := stale(ctx); !errors.Is(err, lock.ErrNotHeld) {
		t.Errorf("stale release() error = %v, want ErrNotHeld", err)
	}
	if err := fresh(ctx); err != nil {
		t.Errorf("fresh release() error = %v", err)
	}
}
