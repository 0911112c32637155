// Package dedup implements the content-addressed admission index that
// prevents the same publication from being ingested twice.
package dedup

import (
	"context"
	"sync"

	"github.com/jurisia/intake/internal/pipeline"
)

// MemoryStore is an in-memory DedupStore for development and testing.
type MemoryStore struct {
	seen sync.Map
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Admit stores the key if unseen and returns pipeline.ErrDuplicate otherwise.
func (s *MemoryStore) Admit(_ context.Context, key string) error {
	if _, loaded := s.seen.LoadOrStore(key, struct{}{}); loaded {
		return pipeline.ErrDuplicate
	}
	return nil
}

// Forget releases a key so the record can be admitted again.
func (s *MemoryStore) Forget(_ context.Context, key string) error {
	s.seen.Delete(key)
	return nil
}
