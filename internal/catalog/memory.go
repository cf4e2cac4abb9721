package catalog

import (
	"context"
	"sync"
)

// MemStore is an in-memory catalog, used in tests and for seeding small
// deployments.
type MemStore struct {
	mu         sync.RWMutex
	extensions map[string]*Extension
}

// NewMemStore creates an empty in-memory catalog.
func NewMemStore() *MemStore {
	return &MemStore{extensions: make(map[string]*Extension)}
}

// Put inserts or replaces an extension record.
func (s *MemStore) Put(ext *Extension) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ext
	s.extensions[ext.Slug] = &cp
}

// Get implements Store.
func (s *MemStore) Get(_ context.Context, slug string) (*Extension, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ext, ok := s.extensions[slug]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ext
	return &cp, nil
}
