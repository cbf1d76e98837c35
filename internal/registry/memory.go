package registry

import (
	"context"
	"sync"
)

// MemoryStore keeps bindings in process memory. Intended for tests and dev.
type MemoryStore struct {
	mu       sync.RWMutex
	active   string
	bindings map[string]Binding
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bindings: make(map[string]Binding)}
}

func (s *MemoryStore) ActiveSlot(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, nil
}

func (s *MemoryStore) SetActiveSlot(_ context.Context, slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = slot
	return nil
}

func (s *MemoryStore) Binding(_ context.Context, slot string) (Binding, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[slot]
	return b, ok, nil
}

func (s *MemoryStore) PutBinding(_ context.Context, b Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[b.Slot] = b
	return nil
}
