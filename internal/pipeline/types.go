// Package pipeline defines core types shared across the intake subsystems.
package pipeline

import "time"

// PublicationStatus represents the lifecycle state of an ingested publication.
type PublicationStatus string

// Publication status values persisted in the publication store.
const (
	StatusCaptured   PublicationStatus = "captured"
	StatusNormalized PublicationStatus = "normalized"
	StatusExtracted  PublicationStatus = "extracted"
	StatusScheduled  PublicationStatus = "scheduled"
	StatusTriaged    PublicationStatus = "triaged"
	StatusFailed     PublicationStatus = "failed"
)

// IsTerminal reports whether the status ends automated processing.
func (s PublicationStatus) IsTerminal() bool {
	switch s {
	case StatusScheduled, StatusTriaged, StatusFailed:
		return true
	default:
		return false
	}
}

// TriageReason explains why a publication needs human review.
type TriageReason string

// Triage reasons recorded on the publication and sent with notifications.
const (
	ReasonOCRFailed          TriageReason = "ocr_failed"
	ReasonLowConfidence      TriageReason = "low_confidence"
	ReasonUnknownProcess     TriageReason = "unknown_process"
	ReasonWorkItemFailed     TriageReason = "work_item_creation_failed"
	ReasonMalformedPayload   TriageReason = "malformed_payload"
	ReasonCalendarIncomplete TriageReason = "calendar_incomplete"
)

// Attachment references a scanned document fetched alongside a publication.
type Attachment struct {
	Ref         string `json:"ref"`
	ContentType string `json:"content_type"`
	BlobURI     string `json:"blob_uri,omitempty"`
}

// RawRecord is one publication payload as returned by a source adapter,
// before admission and identity assignment.
type RawRecord struct {
	ExternalRef string      `json:"external_ref"`
	RawText     string      `json:"raw_text"`
	ProcessRef  string      `json:"process_ref"`
	PublishedAt time.Time   `json:"published_at"`
	Attachment  *Attachment `json:"attachment,omitempty"`
}

// Publication is one court notice moving through the pipeline. It is never
// deleted; terminal rows are the audit trail.
type Publication struct {
	ID            string            `json:"id"`
	SourceID      string            `json:"source_id"`
	ExternalRef   string            `json:"external_ref"`
	DedupKey      string            `json:"dedup_key"`
	ProcessRef    string            `json:"process_ref"`
	RawText       string            `json:"raw_text"`
	OCRText       string            `json:"ocr_text,omitempty"`
	CanonicalText string            `json:"canonical_text,omitempty"`
	Attachment    *Attachment       `json:"attachment,omitempty"`
	CapturedAt    time.Time         `json:"captured_at"`
	EventType     string            `json:"event_type,omitempty"`
	TermDays      int               `json:"term_days,omitempty"`
	TermStart     *time.Time        `json:"term_start_date,omitempty"`
	DueDate       *time.Time        `json:"due_date,omitempty"`
	Confidence    float64           `json:"extraction_confidence,omitempty"`
	Status        PublicationStatus `json:"status"`
	TriageReason  TriageReason      `json:"triage_reason,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
	WorkItemRef   string            `json:"work_item_ref,omitempty"`
}

// RunOutcome classifies one source adapter run.
type RunOutcome string

// Run outcome values recorded per SourceRun.
const (
	OutcomeSuccess        RunOutcome = "success"
	OutcomePartialFailure RunOutcome = "partial_failure"
	OutcomeBlocked        RunOutcome = "blocked"
	OutcomeError          RunOutcome = "error"
)

// SourceRun records one execution of a source adapter.
type SourceRun struct {
	ID                  string     `json:"id"`
	SourceID            string     `json:"source_id"`
	StartedAt           time.Time  `json:"started_at"`
	EndedAt             time.Time  `json:"ended_at"`
	ItemsFetched        int        `json:"items_fetched"`
	ItemsNew            int        `json:"items_new"`
	Outcome             RunOutcome `json:"outcome"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	ErrorText           string     `json:"error_text,omitempty"`
	Cursor              string     `json:"cursor,omitempty"`
}

// FetchResult is returned by a SourceAdapter for one run.
type FetchResult struct {
	Records    []RawRecord
	NextCursor string
	Outcome    RunOutcome
}

// ProcessInfo is the read-only case metadata supplied by the process registry.
type ProcessInfo struct {
	ProcessRef         string `json:"process_ref"`
	Court              string `json:"court"`
	CalendarID         string `json:"jurisdiction_calendar_id"`
	DefaultResponsible string `json:"default_responsible"`
}

// ExtractionResult is the deterministic output of the deadline extractor.
type ExtractionResult struct {
	EventType  string
	TermDays   int
	TermStart  time.Time
	Confidence float64
	Matched    bool
}

// WorkItemSpec is the payload sent to the external task board.
type WorkItemSpec struct {
	IdempotencyToken string    `json:"idempotency_token"`
	Title            string    `json:"title"`
	ProcessRef       string    `json:"process_ref"`
	DueDate          time.Time `json:"due_date"`
	Responsible      string    `json:"responsible"`
	Checklist        []string  `json:"checklist"`
	PublicationID    string    `json:"publication_id"`
}

// HealthState is the aggregate health of one source.
type HealthState string

// Health states exposed on the operational surface.
const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthBlocked  HealthState = "blocked"
)

// Notification is the payload handed to the notification dispatcher on
// triage transitions and source health transitions.
type Notification struct {
	Kind          string    `json:"kind"`
	SourceID      string    `json:"source_id,omitempty"`
	PublicationID string    `json:"publication_id,omitempty"`
	Reason        string    `json:"reason"`
	Link          string    `json:"link,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}
