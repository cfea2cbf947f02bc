package registry

import (
	"context"
	"sync"
)

// MemoryStore implements Store for tests and dry runs.
type MemoryStore struct {
	mu    sync.Mutex
	doc   *Document
	saves int
}

// NewMemoryStore creates a store holding a copy of doc (nil for empty).
func NewMemoryStore(doc *Document) *MemoryStore {
	return &MemoryStore{doc: doc.clone()}
}

// Load returns a copy of the stored document.
func (s *MemoryStore) Load(ctx context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.clone(), nil
}

// Save replaces the stored document with a copy of doc.
func (s *MemoryStore) Save(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc.clone()
	s.saves++
	return nil
}

// Saves returns how many times Save has been called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
