package taskboard

import (
	"context"
	"fmt"
	"sync"

	"github.com/jurisia/intake/internal/pipeline"
)

// MemoryBoard is an in-memory TaskBoard for development/testing. It is
// idempotent on the spec's token, like the real board.
type MemoryBoard struct {
	mu    sync.Mutex
	items map[string]pipeline.WorkItemSpec
	refs  map[string]string
	next  int

	// Failures makes the next N calls fail, for retry tests.
	Failures int
}

// NewMemoryBoard creates a MemoryBoard.
func NewMemoryBoard() *MemoryBoard {
	return &MemoryBoard{
		items: make(map[string]pipeline.WorkItemSpec),
		refs:  make(map[string]string),
	}
}

// CreateWorkItem records the spec and returns a stable reference per token.
func (b *MemoryBoard) CreateWorkItem(_ context.Context, spec pipeline.WorkItemSpec) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Failures > 0 {
		b.Failures--
		return "", fmt.Errorf("task board unavailable")
	}
	if ref, ok := b.refs[spec.IdempotencyToken]; ok {
		return ref, nil
	}
	b.next++
	ref := fmt.Sprintf("wi-%d", b.next)
	b.refs[spec.IdempotencyToken] = ref
	b.items[ref] = spec
	return ref, nil
}

// Items returns a copy of all created work items keyed by reference.
func (b *MemoryBoard) Items() map[string]pipeline.WorkItemSpec {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]pipeline.WorkItemSpec, len(b.items))
	for k, v := range b.items {
		out[k] = v
	}
	return out
}
