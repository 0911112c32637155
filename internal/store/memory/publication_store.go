// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jurisia/intake/internal/pipeline"
)

// PublicationStore keeps publications in a map guarded by a mutex. All
// status transitions are compare-and-swap against the current status.
type PublicationStore struct {
	mu   sync.RWMutex
	pubs map[string]pipeline.Publication
}

// NewPublicationStore constructs a PublicationStore.
func NewPublicationStore() *PublicationStore {
	return &PublicationStore{
		pubs: make(map[string]pipeline.Publication),
	}
}

// CreatePublication stores a new publication in captured status.
func (s *PublicationStore) CreatePublication(_ context.Context, pub pipeline.Publication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pubs[pub.ID]; exists {
		return pipeline.ErrConflict
	}
	s.pubs[pub.ID] = pub
	return nil
}

// GetPublication fetches a publication by id.
func (s *PublicationStore) GetPublication(_ context.Context, id string) (pipeline.Publication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pub, ok := s.pubs[id]
	if !ok {
		return pipeline.Publication{}, pipeline.ErrNotFound
	}
	return pub, nil
}

// TransitionStatus applies a CAS status update with the stage's fields.
func (s *PublicationStore) TransitionStatus(
	_ context.Context,
	id string,
	from, to pipeline.PublicationStatus,
	update pipeline.StatusUpdate,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pub, ok := s.pubs[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	if pub.Status != from {
		return pipeline.ErrConflict
	}
	pub.Status = to
	applyUpdate(&pub, update)
	s.pubs[id] = pub
	return nil
}

// ClaimWorkItemRef atomically sets work_item_ref if it is unset.
func (s *PublicationStore) ClaimWorkItemRef(_ context.Context, id string, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pub, ok := s.pubs[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	if pub.WorkItemRef != "" {
		return pipeline.ErrConflict
	}
	pub.WorkItemRef = ref
	s.pubs[id] = pub
	return nil
}

// ListTriaged returns triaged publications, newest first.
func (s *PublicationStore) ListTriaged(_ context.Context, filter pipeline.TriageFilter) ([]pipeline.Publication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.Publication
	for _, pub := range s.pubs {
		if pub.Status != pipeline.StatusTriaged {
			continue
		}
		if filter.SourceID != "" && pub.SourceID != filter.SourceID {
			continue
		}
		if filter.Reason != "" && pub.TriageReason != filter.Reason {
			continue
		}
		out = append(out, pub)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CapturedAt.After(out[j].CapturedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListUnfinished returns non-terminal publications captured before the
// given time, oldest first.
func (s *PublicationStore) ListUnfinished(_ context.Context, before time.Time, limit int) ([]pipeline.Publication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.Publication
	for _, pub := range s.pubs {
		if pub.Status.IsTerminal() {
			continue
		}
		if !pub.CapturedAt.Before(before) {
			continue
		}
		out = append(out, pub)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CapturedAt.Before(out[j].CapturedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func applyUpdate(pub *pipeline.Publication, u pipeline.StatusUpdate) {
	if u.OCRText != nil {
		pub.OCRText = *u.OCRText
	}
	if u.CanonicalText != nil {
		pub.CanonicalText = *u.CanonicalText
	}
	if u.EventType != nil {
		pub.EventType = *u.EventType
	}
	if u.TermDays != nil {
		pub.TermDays = *u.TermDays
	}
	if u.TermStart != nil {
		ts := *u.TermStart
		pub.TermStart = &ts
	}
	if u.DueDate != nil {
		d := *u.DueDate
		pub.DueDate = &d
	}
	if u.Confidence != nil {
		pub.Confidence = *u.Confidence
	}
	if u.TriageReason != nil {
		pub.TriageReason = *u.TriageReason
	}
	if u.AttachmentURI != nil && pub.Attachment != nil {
		pub.Attachment.BlobURI = *u.AttachmentURI
	}
	pub.Warnings = append(pub.Warnings, u.Warnings...)
}
