package process

import (
	"context"

	"github.com/jurisia/intake/internal/pipeline"
)

// MemoryRegistry is an in-memory ProcessRegistry for development/testing.
type MemoryRegistry struct {
	processes map[string]pipeline.ProcessInfo
}

// NewMemoryRegistry builds a registry over a fixed process set.
func NewMemoryRegistry(processes map[string]pipeline.ProcessInfo) *MemoryRegistry {
	if processes == nil {
		processes = make(map[string]pipeline.ProcessInfo)
	}
	return &MemoryRegistry{processes: processes}
}

// GetProcess returns the stored process or pipeline.ErrNotFound.
func (r *MemoryRegistry) GetProcess(_ context.Context, processRef string) (pipeline.ProcessInfo, error) {
	info, ok := r.processes[processRef]
	if !ok {
		return pipeline.ProcessInfo{}, pipeline.ErrNotFound
	}
	return info, nil
}
