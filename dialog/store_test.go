package dialog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadUnknownDialogStartsEmpty(t *testing.T) {
	s := NewCachingStore(NewInMemoryDurable())

	d, err := s.Load(context.Background(), "+15550001111")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "+15550001111", d.ID)
	assert.Empty(t, d.History)
}

func TestLoadReturnsClone(t *testing.T) {
	s := NewCachingStore(NewInMemoryDurable())
	ctx := context.Background()

	d1, err := s.Load(ctx, "+15550001111")
	require.NoError(t, err)
	d1.AddMessage("user", "only mine")

	// The mutation must not leak into the cached copy.
	d2, err := s.Load(ctx, "+15550001111")
	require.NoError(t, err)
	assert.Empty(t, d2.History)
}

func TestSaveWriteThroughOrdering(t *testing.T) {
	durable := NewInMemoryDurable()
	s := NewCachingStore(durable)
	ctx := context.Background()

	d, err := s.Load(ctx, "+15550001111")
	require.NoError(t, err)
	d.AddMessage("user", "hello")

	durable.FailSavesWith(assert.AnError)

	// When the durable write fails the cache must remain untouched.
	require.Error(t, s.Save(ctx, d))

	cached, err := s.Load(ctx, "+15550001111")
	require.NoError(t, err)
	assert.Empty(t, cached.History)
}

func TestSavePersistsAndCaches(t *testing.T) {
	durable := NewInMemoryDurable()
	s := NewCachingStore(durable)
	ctx := context.Background()

	d, err := s.Load(ctx, "+15550001111")
	require.NoError(t, err)
	d.AddMessage("user", "hello")
	require.NoError(t, s.Save(ctx, d))

	stored, err := durable.GetDialog(ctx, "+15550001111")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Len(t, stored.History, 1)
	assert.Equal(t, "hello", stored.History[0].Text)
}

func TestEvictExpiredFlushesAndRemoves(t *testing.T) {
	durable := NewInMemoryDurable()
	s := NewCachingStore(durable, func(o *Options) {
		o.TTL = time.Minute
	})
	ctx := context.Background()

	d, err := s.Load(ctx, "+15550001111")
	require.NoError(t, err)
	d.AddMessage("user", "hello")
	require.NoError(t, s.Save(ctx, d))

	// Age the cached entry past the TTL.
	s.mu.Lock()
	s.entries["+15550001111"].LastActivity = time.Now().UTC().Add(-2 * time.Minute)
	s.mu.Unlock()

	assert.Equal(t, 1, s.EvictExpired(ctx))
	assert.Zero(t, s.Len())

	// Durable history survives eviction.
	stored, err := durable.GetDialog(ctx, "+15550001111")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Len(t, stored.History, 1)
}

func TestEvictExpiredKeepsActiveEntries(t *testing.T) {
	s := NewCachingStore(NewInMemoryDurable(), func(o *Options) {
		o.TTL = time.Hour
	})
	ctx := context.Background()

	_, err := s.Load(ctx, "+15550001111")
	require.NoError(t, err)

	assert.Zero(t, s.EvictExpired(ctx))
	assert.Equal(t, 1, s.Len())
}
