package cache

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Load returns the entry for key
func (s *MemoryStore) Load(_ context.Context, key string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, ErrMiss
	}
	e.Value = append([]byte(nil), e.Value...)
	return e, nil
}

// Save stores a copy of e
func (s *MemoryStore) Save(_ context.Context, key string, e Entry) error {
	e.Value = append([]byte(nil), e.Value...)

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored entries
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
