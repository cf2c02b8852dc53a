package passage

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store used for tests and for deployments
// that rebuild the corpus from JSONL on startup.
type MemoryStore struct {
	mu       sync.RWMutex
	passages map[string]map[string]Passage // scope -> id -> passage
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{passages: make(map[string]map[string]Passage)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, scope, id string) (Passage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID, ok := s.passages[scope]
	if !ok {
		return Passage{}, false, nil
	}
	p, ok := byID[id]
	return p, ok, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, passages []Passage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range passages {
		byID, ok := s.passages[p.Scope]
		if !ok {
			byID = make(map[string]Passage)
			s.passages[p.Scope] = byID
		}
		byID[p.ID] = p
	}
	return nil
}

// Replace implements Store.
func (s *MemoryStore) Replace(_ context.Context, scope string, passages []Passage) error {
	byID := make(map[string]Passage, len(passages))
	for _, p := range passages {
		byID[p.ID] = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(byID) == 0 {
		delete(s.passages, scope)
		return nil
	}
	s.passages[scope] = byID
	return nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context, scope string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.passages[scope]), nil
}
