package pipeline

import (
	"context"
	"errors"
	"io"
	"time"
)

// Sentinel errors shared across stages. Callers branch on these with
// errors.Is; everything else is treated as a transient failure.
var (
	// ErrDuplicate is returned by DedupStore.Admit when the key was
	// already admitted.
	ErrDuplicate = errors.New("publication already admitted")
	// ErrBlocked is returned by adapters that hit a CAPTCHA or auth wall.
	ErrBlocked = errors.New("source blocked")
	// ErrNotFound is returned by stores and registries on a missing row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a compare-and-swap transition loses.
	ErrConflict = errors.New("concurrent modification")
)

// SourceAdapter fetches raw publication records from one court portal.
// Implementations must surface CAPTCHA/auth walls as Outcome blocked
// (or ErrBlocked), never as a generic error.
type SourceAdapter interface {
	SourceID() string
	Fetch(ctx context.Context, sinceCursor string) (FetchResult, error)
}

// PublicationStore persists publications and their status transitions.
type PublicationStore interface {
	CreatePublication(ctx context.Context, pub Publication) error
	GetPublication(ctx context.Context, id string) (Publication, error)
	// TransitionStatus applies a compare-and-swap status update; it
	// returns ErrConflict if the current status is not from.
	TransitionStatus(ctx context.Context, id string, from, to PublicationStatus, update StatusUpdate) error
	// ClaimWorkItemRef atomically sets work_item_ref if it is unset.
	ClaimWorkItemRef(ctx context.Context, id string, ref string) error
	ListTriaged(ctx context.Context, filter TriageFilter) ([]Publication, error)
	// ListUnfinished returns publications still in a non-terminal status
	// whose capture predates before, oldest first. The scheduler uses it
	// to requeue work stalled by transient failures.
	ListUnfinished(ctx context.Context, before time.Time, limit int) ([]Publication, error)
}

// StatusUpdate carries the fields a stage may set alongside a transition.
type StatusUpdate struct {
	OCRText       *string
	CanonicalText *string
	EventType     *string
	TermDays      *int
	TermStart     *time.Time
	DueDate       *time.Time
	Confidence    *float64
	TriageReason  *TriageReason
	Warnings      []string
	AttachmentURI *string
}

// TriageFilter narrows the triage listing.
type TriageFilter struct {
	SourceID string
	Reason   TriageReason
	Limit    int
}

// RunStore persists source runs and per-source cursors.
type RunStore interface {
	RecordRun(ctx context.Context, run SourceRun) error
	RecentRuns(ctx context.Context, sourceID string, limit int) ([]SourceRun, error)
	LoadCursor(ctx context.Context, sourceID string) (string, error)
	SaveCursor(ctx context.Context, sourceID string, cursor string) error
}

// DedupStore rejects re-ingestion of an already-seen publication.
// Admit must be an atomic check-and-insert.
type DedupStore interface {
	Admit(ctx context.Context, key string) error
	// Forget releases an admitted key whose publication failed to
	// persist, so the next fetch can re-admit the record.
	Forget(ctx context.Context, key string) error
}

// OCRResult is what the external OCR collaborator returns.
type OCRResult struct {
	Text       string
	Confidence float64
}

// OCRClient calls the external OCR collaborator for a stored attachment.
type OCRClient interface {
	Recognize(ctx context.Context, blobURI string) (OCRResult, error)
}

// ProcessRegistry resolves case metadata; read-only to this pipeline.
type ProcessRegistry interface {
	GetProcess(ctx context.Context, processRef string) (ProcessInfo, error)
}

// TaskBoard creates work items on the external task board. Creation must
// be idempotent on spec.IdempotencyToken.
type TaskBoard interface {
	CreateWorkItem(ctx context.Context, spec WorkItemSpec) (string, error)
}

// Notifier hands notifications to the external dispatcher.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// BlobStore persists raw attachments and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes digests for publication identity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces publication and run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
