package memory

import (
	"context"
	"sync"

	"github.com/jurisia/intake/internal/pipeline"
)

// RunStore keeps source runs and cursors in memory.
type RunStore struct {
	mu      sync.RWMutex
	runs    map[string][]pipeline.SourceRun
	cursors map[string]string
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:    make(map[string][]pipeline.SourceRun),
		cursors: make(map[string]string),
	}
}

// RecordRun appends a run for its source.
func (s *RunStore) RecordRun(_ context.Context, run pipeline.SourceRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.SourceID] = append(s.runs[run.SourceID], run)
	return nil
}

// RecentRuns returns up to limit runs for a source, newest first.
func (s *RunStore) RecentRuns(_ context.Context, sourceID string, limit int) ([]pipeline.SourceRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := s.runs[sourceID]
	out := make([]pipeline.SourceRun, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		out = append(out, runs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// LoadCursor returns the persisted cursor for a source, empty when unset.
func (s *RunStore) LoadCursor(_ context.Context, sourceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[sourceID], nil
}

// SaveCursor persists the cursor for the next run of a source.
func (s *RunStore) SaveCursor(_ context.Context, sourceID string, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[sourceID] = cursor
	return nil
}
