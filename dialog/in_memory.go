package dialog

import (
	"context"
	"sync"

	"github.com/hupe1980/commercemesh/core"
)

// InMemoryDurable is a volatile Durable implementation storing dialogs in a
// process local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. Each returned dialog is cloned to prevent
// external mutation of internal state.
type InMemoryDurable struct {
	mu      sync.RWMutex
	dialogs map[string]*core.Dialog
	saveErr error
}

// NewInMemoryDurable constructs an empty in-memory durable backend.
func NewInMemoryDurable() *InMemoryDurable {
	return &InMemoryDurable{dialogs: make(map[string]*core.Dialog)}
}

// GetDialog returns a clone of the stored dialog, or (nil, nil) when unknown.
func (s *InMemoryDurable) GetDialog(_ context.Context, dialogID string) (*core.Dialog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.dialogs[dialogID]; ok {
		return d.Clone(), nil
	}
	return nil, nil
}

// SaveDialog stores a clone of the provided dialog snapshot.
func (s *InMemoryDurable) SaveDialog(_ context.Context, d *core.Dialog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.dialogs[d.ID] = d.Clone()
	return nil
}

// FailSavesWith makes subsequent SaveDialog calls return err (nil restores
// normal behavior). Used by tests asserting write-through ordering.
func (s *InMemoryDurable) FailSavesWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// Len returns the number of stored dialogs.
func (s *InMemoryDurable) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dialogs)
}
