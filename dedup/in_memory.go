package dedup

import (
	"context"
	"sync"
	"time"
)

type entryState int

const (
	stateReserved entryState = iota
	stateProcessed
)

type entry struct {
	state     entryState
	expiresAt time.Time
}

// InMemoryStore is a volatile Store implementation backed by a process local
// map. Suited for single-instance deployments and tests; multi-instance
// deployments share a RedisStore instead.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewInMemoryStore constructs an in-memory dedup store with the given TTL.
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// CheckAndReserve implements Store.
func (s *InMemoryStore) CheckAndReserve(_ context.Context, messageID string) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[messageID]; ok && e.expiresAt.After(now) {
		return Duplicate, nil
	}

	s.entries[messageID] = entry{state: stateReserved, expiresAt: now.Add(s.ttl)}
	return Fresh, nil
}

// MarkProcessed implements Store.
func (s *InMemoryStore) MarkProcessed(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[messageID] = entry{state: stateProcessed, expiresAt: s.now().Add(s.ttl)}
	return nil
}

// Release implements Store. A processed record is kept; only reservations are dropped.
func (s *InMemoryStore) Release(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[messageID]; ok && e.state == stateReserved {
		delete(s.entries, messageID)
	}
	return nil
}

// Seen implements Store.
func (s *InMemoryStore) Seen(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[messageID]
	return ok && e.state == stateProcessed && e.expiresAt.After(s.now()), nil
}

// Sweep drops expired entries. Expiry is also checked lazily on access, so
// the sweep only bounds memory growth.
func (s *InMemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, e := range s.entries {
		if !e.expiresAt.After(now) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}
