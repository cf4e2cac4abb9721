package licensing

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("license not found")

// Store is the persistence boundary for license records. The engine is the
// only writer of site bindings; ReplaceSites swaps the full set so a
// mutation either fully applies or leaves the record untouched.
type Store interface {
	// Get returns the record for a key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Record, error)

	// ReplaceSites atomically replaces the bound-site set of a record.
	ReplaceSites(ctx context.Context, key string, sites []string) error

	// Put inserts or replaces a full record. Used for provisioning and
	// by tests; the engine itself never calls it.
	Put(ctx context.Context, record *Record) error
}

// MemStore is an in-memory license store.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]*Record)}
}

// Get implements Store.
func (s *MemStore) Get(ctx context.Context, key string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.clone(), nil
}

// ReplaceSites implements Store.
func (s *MemStore) ReplaceSites(ctx context.Context, key string, sites []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return ErrNotFound
	}
	rec.BoundSites = append([]string(nil), sites...)
	return nil
}

// Put implements Store.
func (s *MemStore) Put(ctx context.Context, record *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Key] = record.clone()
	return nil
}
