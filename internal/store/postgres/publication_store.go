// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jurisia/intake/internal/pipeline"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Config controls the Postgres connection pool.
type Config struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// PublicationStore persists publications in Postgres. Status transitions
// and work item claims are compare-and-swap via conditional updates.
type PublicationStore struct {
	pool querier
}

// NewPublicationStore creates a store using the provided config.
func NewPublicationStore(ctx context.Context, cfg Config) (*PublicationStore, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PublicationStore{pool: pool}, nil
}

// NewPublicationStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewPublicationStoreWithPool(pool querier) (*PublicationStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PublicationStore{pool: pool}, nil
}

func newPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// Close releases the underlying pool resources.
func (s *PublicationStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const publicationColumns = `id, source_id, external_ref, dedup_key, process_ref, raw_text,
ocr_text, canonical_text, attachment_ref, attachment_uri, captured_at, event_type,
term_days, term_start_date, due_date, extraction_confidence, status, triage_reason,
warnings, work_item_ref`

// CreatePublication inserts a publication row.
func (s *PublicationStore) CreatePublication(ctx context.Context, pub pipeline.Publication) error {
	if pub.ID == "" {
		return fmt.Errorf("publication id is required")
	}
	var attachmentRef, attachmentURI *string
	if pub.Attachment != nil {
		attachmentRef = &pub.Attachment.Ref
		attachmentURI = &pub.Attachment.BlobURI
	}
	query, args, err := psql.Insert("publications").
		Columns(
			"id", "source_id", "external_ref", "dedup_key", "process_ref", "raw_text",
			"ocr_text", "canonical_text", "attachment_ref", "attachment_uri", "captured_at",
			"status", "warnings",
		).
		Values(
			pub.ID, pub.SourceID, pub.ExternalRef, pub.DedupKey, pub.ProcessRef, pub.RawText,
			pub.OCRText, pub.CanonicalText, attachmentRef, attachmentURI, pub.CapturedAt,
			string(pub.Status), pub.Warnings,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert publication: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert publication: %w", err)
	}
	return nil
}

// GetPublication fetches a publication by id.
func (s *PublicationStore) GetPublication(ctx context.Context, id string) (pipeline.Publication, error) {
	query, args, err := psql.Select(publicationColumns).
		From("publications").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return pipeline.Publication{}, fmt.Errorf("build select publication: %w", err)
	}
	pub, err := scanPublication(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Publication{}, pipeline.ErrNotFound
		}
		return pipeline.Publication{}, fmt.Errorf("select publication: %w", err)
	}
	return pub, nil
}

// TransitionStatus applies a CAS status update with the stage's fields.
func (s *PublicationStore) TransitionStatus(
	ctx context.Context,
	id string,
	from, to pipeline.PublicationStatus,
	update pipeline.StatusUpdate,
) error {
	builder := psql.Update("publications").
		Set("status", string(to)).
		Where(sq.Eq{"id": id, "status": string(from)})
	if update.OCRText != nil {
		builder = builder.Set("ocr_text", *update.OCRText)
	}
	if update.CanonicalText != nil {
		builder = builder.Set("canonical_text", *update.CanonicalText)
	}
	if update.EventType != nil {
		builder = builder.Set("event_type", *update.EventType)
	}
	if update.TermDays != nil {
		builder = builder.Set("term_days", *update.TermDays)
	}
	if update.TermStart != nil {
		builder = builder.Set("term_start_date", *update.TermStart)
	}
	if update.DueDate != nil {
		builder = builder.Set("due_date", *update.DueDate)
	}
	if update.Confidence != nil {
		builder = builder.Set("extraction_confidence", *update.Confidence)
	}
	if update.TriageReason != nil {
		builder = builder.Set("triage_reason", string(*update.TriageReason))
	}
	if update.AttachmentURI != nil {
		builder = builder.Set("attachment_uri", *update.AttachmentURI)
	}
	if len(update.Warnings) > 0 {
		builder = builder.Set("warnings", sq.Expr("warnings || ?", update.Warnings))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build transition update: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition publication status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrConflict
	}
	return nil
}

// ClaimWorkItemRef atomically sets work_item_ref if it is unset.
func (s *PublicationStore) ClaimWorkItemRef(ctx context.Context, id string, ref string) error {
	query, args, err := psql.Update("publications").
		Set("work_item_ref", ref).
		Where(sq.Eq{"id": id}).
		Where("work_item_ref IS NULL OR work_item_ref = ''").
		ToSql()
	if err != nil {
		return fmt.Errorf("build work item claim: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("claim work item ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrConflict
	}
	return nil
}

// ListTriaged returns triaged publications, newest first.
func (s *PublicationStore) ListTriaged(ctx context.Context, filter pipeline.TriageFilter) ([]pipeline.Publication, error) {
	builder := psql.Select(publicationColumns).
		From("publications").
		Where(sq.Eq{"status": string(pipeline.StatusTriaged)}).
		OrderBy("captured_at DESC")
	if filter.SourceID != "" {
		builder = builder.Where(sq.Eq{"source_id": filter.SourceID})
	}
	if filter.Reason != "" {
		builder = builder.Where(sq.Eq{"triage_reason": string(filter.Reason)})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build triage listing: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list triaged publications: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Publication
	for rows.Next() {
		pub, err := scanPublication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan triaged publication: %w", err)
		}
		out = append(out, pub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate triaged publications: %w", err)
	}
	return out, nil
}

// ListUnfinished returns non-terminal publications captured before the
// given time, oldest first.
func (s *PublicationStore) ListUnfinished(ctx context.Context, before time.Time, limit int) ([]pipeline.Publication, error) {
	terminal := []string{
		string(pipeline.StatusScheduled),
		string(pipeline.StatusTriaged),
		string(pipeline.StatusFailed),
	}
	builder := psql.Select(publicationColumns).
		From("publications").
		Where(sq.NotEq{"status": terminal}).
		Where(sq.Lt{"captured_at": before}).
		OrderBy("captured_at ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build unfinished listing: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list unfinished publications: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Publication
	for rows.Next() {
		pub, err := scanPublication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unfinished publication: %w", err)
		}
		out = append(out, pub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unfinished publications: %w", err)
	}
	return out, nil
}

func scanPublication(row pgx.Row) (pipeline.Publication, error) {
	var (
		pub           pipeline.Publication
		ocrText       *string
		canonical     *string
		attachmentRef *string
		attachmentURI *string
		eventType     *string
		termDays      *int
		termStart     *time.Time
		dueDate       *time.Time
		confidence    *float64
		triageReason  *string
		workItemRef   *string
		status        string
	)
	err := row.Scan(
		&pub.ID, &pub.SourceID, &pub.ExternalRef, &pub.DedupKey, &pub.ProcessRef, &pub.RawText,
		&ocrText, &canonical, &attachmentRef, &attachmentURI, &pub.CapturedAt, &eventType,
		&termDays, &termStart, &dueDate, &confidence, &status, &triageReason,
		&pub.Warnings, &workItemRef,
	)
	if err != nil {
		return pipeline.Publication{}, err
	}
	pub.Status = pipeline.PublicationStatus(status)
	if ocrText != nil {
		pub.OCRText = *ocrText
	}
	if canonical != nil {
		pub.CanonicalText = *canonical
	}
	if attachmentRef != nil {
		pub.Attachment = &pipeline.Attachment{Ref: *attachmentRef}
		if attachmentURI != nil {
			pub.Attachment.BlobURI = *attachmentURI
		}
	}
	if eventType != nil {
		pub.EventType = *eventType
	}
	if termDays != nil {
		pub.TermDays = *termDays
	}
	pub.TermStart = termStart
	pub.DueDate = dueDate
	if confidence != nil {
		pub.Confidence = *confidence
	}
	if triageReason != nil {
		pub.TriageReason = pipeline.TriageReason(*triageReason)
	}
	if workItemRef != nil {
		pub.WorkItemRef = *workItemRef
	}
	return pub, nil
}
