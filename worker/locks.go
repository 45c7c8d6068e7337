package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/commercemesh/core"
)

// lockRegistry hands out per-key mutexes so at most one worker processes a
// given dialog at a time. Entries are reference counted and removed once the
// last holder releases, keeping the map bounded by concurrent dialogs.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*keyLock)}
}

// Acquire blocks until the key's lock is held, ctx is done, or timeout
// elapses. On success it returns a release function; the timeout and
// cancellation paths return a transient error so the envelope is redelivered
// rather than dropped.
func (r *lockRegistry) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		r.locks[key] = l
	}
	l.refs++
	r.mu.Unlock()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			r.release(key, l)
		}, nil
	case <-timer:
		r.release(key, l)
		return nil, core.Transient("worker.lock", fmt.Errorf("lock on %q not acquired within %s", key, timeout))
	case <-ctx.Done():
		r.release(key, l)
		return nil, core.Transient("worker.lock", ctx.Err())
	}
}

func (r *lockRegistry) release(key string, l *keyLock) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(r.locks, key)
	}
}

// Len returns the number of keys currently tracked.
func (r *lockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
