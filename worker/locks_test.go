package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/commercemesh/core"
)

func TestAcquireReleaseCycle(t *testing.T) {
	r := newLockRegistry()

	release, err := r.Acquire(context.Background(), "dialog-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	release()
	assert.Zero(t, r.Len(), "registry entry removed after last release")
}

func TestAcquireTimeoutIsTransient(t *testing.T) {
	r := newLockRegistry()

	release, err := r.Acquire(context.Background(), "dialog-1", time.Second)
	require.NoError(t, err)
	defer release()

	_, err = r.Acquire(context.Background(), "dialog-1", 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, core.IsTransient(err))
}

func TestAcquireDifferentKeysIndependent(t *testing.T) {
	r := newLockRegistry()

	r1, err := r.Acquire(context.Background(), "dialog-1", time.Second)
	require.NoError(t, err)
	defer r1()

	r2, err := r.Acquire(context.Background(), "dialog-2", 20*time.Millisecond)
	require.NoError(t, err)
	defer r2()
}

func TestAcquireWaitersProceedInTurn(t *testing.T) {
	r := newLockRegistry()

	release, err := r.Acquire(context.Background(), "dialog-1", time.Second)
	require.NoError(t, err)

	var wg sync.WaitGroup
	acquired := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		rel, err := r.Acquire(context.Background(), "dialog-1", 2*time.Second)
		if err == nil {
			close(acquired)
			rel()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while lock held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	wg.Wait()

	select {
	case <-acquired:
	default:
		t.Fatal("waiter never acquired the released lock")
	}
}

func TestAcquireCancelledContext(t *testing.T) {
	r := newLockRegistry()

	release, err := r.Acquire(context.Background(), "dialog-1", time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = r.Acquire(ctx, "dialog-1", time.Second)
	require.Error(t, err)
	assert.True(t, core.IsTransient(err))
}
