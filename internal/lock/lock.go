// Package lock provides per-key mutual exclusion for learner-scoped writes.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotHeld is returned when releasing a lock that has expired or been
// taken over by another holder.
var ErrNotHeld = errors.New("lock not held")

// Release gives a lock back.
type Release func(ctx context.Context) error

// Locker acquires exclusive per-key locks. Acquire blocks until the lock is
// held or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// KeyedMutex is an in-process Locker. Entries are dropped once no goroutine
// holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Acquire implements Locker.
func (m *KeyedMutex) Acquire(ctx context.Context, key string) (Release, error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		m.unref(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-l.ch
			m.unref(key, l)
		})
		return nil
	}, nil
}

// size returns the number of keys currently held or waited on.
func (m *KeyedMutex) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *KeyedMutex) unref(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

var _ Locker = (*KeyedMutex)(nil)
