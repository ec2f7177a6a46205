package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutex_Exclusive(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(ctx, "learner-1")
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			_ = release(ctx)
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
	if m.size() != 0 {
		t.Errorf("size() = %d after all releases, want 0", m.size())
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	r1, err := m.Acquire(ctx, "a")
	if err != nil {
		t.Fatalf("Acquire(a) error = %v", err)
	}
	defer r1(ctx)

	done := make(chan struct{})
	go func() {
		r2, err := m.Acquire(ctx, "b")
		if err == nil {
			_ = r2(ctx)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Acquire(b) blocked on a different key")
	}
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	release, err := m.Acquire(ctx, "a")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(waitCtx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() on held key error = %v, want DeadlineExceeded", err)
	}

	_ = release(ctx)
	if m.size() != 0 {
		t.Errorf("size() = %d, want 0", m.size())
	}
}

func TestKeyedMutex_ReleaseTwice(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	release, _ := m.Acquire(ctx, "a")
	_ = release(ctx)
	_ = release(ctx)

	// A double release must not free a lock taken by someone else.
	r2, err := m.Acquire(ctx, "a")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(waitCtx, "a"); err == nil {
		t.Error("second holder acquired a held key")
	}
	_ = r2(ctx)
}

func TestRedisConfigDefaults(t *testing.T) {
	l := NewRedisLockerFromClient(nil, RedisConfig{Addr: "localhost:6379"})
	if l.cfg.Prefix == "" || l.cfg.TTL <= 0 || l.cfg.RetryWait <= 0 {
		t.Errorf("defaults not applied: %+v", l.cfg)
	}
}
