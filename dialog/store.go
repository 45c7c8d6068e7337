// Package dialog implements the dialog state store: a durable backend plus a
// write-through hot cache with an inactivity-based eviction TTL.
//
// All dialog access goes through Load/Save; there is no ambient shared state.
// Save writes the durable store first and only then updates the cache, so a
// crash between the two never loses state; the cache is merely stale and is
// repopulated on the next Load.
package dialog

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/commercemesh/core"
	"github.com/hupe1980/commercemesh/logging"
)

// Durable is the persistence contract the cache writes through to.
// *store.SQLiteStore satisfies it; tests use InMemoryDurable.
type Durable interface {
	GetDialog(ctx context.Context, dialogID string) (*core.Dialog, error)
	SaveDialog(ctx context.Context, d *core.Dialog) error
}

// Store is the dialog state store consumed by the worker pool.
type Store interface {
	// Load returns the dialog for the given id, creating an empty one when
	// neither the cache nor the durable store knows it.
	Load(ctx context.Context, dialogID string) (*core.Dialog, error)

	// Save persists the dialog write-through: durable write first, then cache.
	Save(ctx context.Context, d *core.Dialog) error

	// EvictExpired sweeps hot-cache entries inactive past the TTL, flushing
	// them to the durable store before removal. It returns the number of
	// evicted entries. Durable history is never deleted.
	EvictExpired(ctx context.Context) int
}

// CachingStore is the default Store: a clone-on-read map cache in front of a
// Durable backend. Safe for concurrent use; the per-dialog lock in the worker
// pool guarantees a given dialog is only mutated by one worker at a time.
type CachingStore struct {
	durable Durable
	ttl     time.Duration
	logger  logging.Logger

	mu      sync.RWMutex
	entries map[string]*core.Dialog

	sweepEvery time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// Options configures a CachingStore.
type Options struct {
	// TTL is the inactivity window after which a hot entry is evicted.
	TTL time.Duration
	// SweepInterval is the period of the background eviction sweep.
	SweepInterval time.Duration
	// Logger defaults to NoOpLogger when nil.
	Logger logging.Logger
}

// NewCachingStore constructs a CachingStore over the given durable backend.
func NewCachingStore(durable Durable, optFns ...func(o *Options)) *CachingStore {
	opts := Options{
		TTL:           30 * time.Minute,
		SweepInterval: time.Minute,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &CachingStore{
		durable:    durable,
		ttl:        opts.TTL,
		logger:     logging.NonNil(opts.Logger),
		entries:    make(map[string]*core.Dialog),
		sweepEvery: opts.SweepInterval,
		stopCh:     make(chan struct{}),
	}
}

// Load implements Store. Cache hit returns a clone; a miss falls through to
// the durable store, populating the cache. Unknown dialogs start empty.
func (s *CachingStore) Load(ctx context.Context, dialogID string) (*core.Dialog, error) {
	s.mu.RLock()
	if d, ok := s.entries[dialogID]; ok {
		clone := d.Clone()
		s.mu.RUnlock()
		return clone, nil
	}
	s.mu.RUnlock()

	d, err := s.durable.GetDialog(ctx, dialogID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		d = core.NewDialog(dialogID)
	}

	s.mu.Lock()
	// Another goroutine may have populated the entry meanwhile; prefer it so
	// both callers observe the same state.
	if cached, ok := s.entries[dialogID]; ok {
		d = cached
	} else {
		s.entries[dialogID] = d
	}
	clone := d.Clone()
	s.mu.Unlock()

	return clone, nil
}

// Save implements Store. The durable write happens first, never the reverse,
// so a crash between the two steps loses only cache warmth, not state.
func (s *CachingStore) Save(ctx context.Context, d *core.Dialog) error {
	if err := s.durable.SaveDialog(ctx, d); err != nil {
		return err
	}

	s.mu.Lock()
	s.entries[d.ID] = d.Clone()
	s.mu.Unlock()

	return nil
}

// EvictExpired implements Store.
func (s *CachingStore) EvictExpired(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-s.ttl)

	s.mu.Lock()
	var expired []*core.Dialog
	for id, d := range s.entries {
		if d.LastActivity.Before(cutoff) {
			expired = append(expired, d)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	// Flush before removal. Save is write-through, so the flush is normally a
	// no-op rewrite; it protects against an earlier cache update that raced a
	// crash-recovered durable store.
	for _, d := range expired {
		if err := s.durable.SaveDialog(ctx, d); err != nil {
			s.logger.Warn("dialog.evict.flush_failed", "dialog_id", d.ID, "error", err.Error())
		}
	}

	if len(expired) > 0 {
		s.logger.Info("dialog.evict.swept", "count", len(expired))
	}
	return len(expired)
}

// Start launches the background TTL sweep loop.
func (s *CachingStore) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				s.EvictExpired(ctx)
				cancel()
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for it to finish.
func (s *CachingStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Len returns the number of hot entries. Intended for tests and metrics.
func (s *CachingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
