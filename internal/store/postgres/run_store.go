package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/jurisia/intake/internal/pipeline"
)

// RunStore persists source runs and per-source cursors in Postgres.
type RunStore struct {
	pool querier
}

// NewRunStore creates a run store using the provided config.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool}, nil
}

// NewRunStoreWithPool constructs a run store from an existing pool
// (primarily for testing).
func NewRunStoreWithPool(pool querier) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordRun inserts one source run row.
func (s *RunStore) RecordRun(ctx context.Context, run pipeline.SourceRun) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	query, args, err := psql.Insert("source_runs").
		Columns(
			"id", "source_id", "started_at", "ended_at", "items_fetched", "items_new",
			"outcome", "consecutive_failures", "error_text", "cursor",
		).
		Values(
			run.ID, run.SourceID, run.StartedAt, run.EndedAt, run.ItemsFetched, run.ItemsNew,
			string(run.Outcome), run.ConsecutiveFailures, run.ErrorText, run.Cursor,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert run: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert source run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs for a source, newest first.
func (s *RunStore) RecentRuns(ctx context.Context, sourceID string, limit int) ([]pipeline.SourceRun, error) {
	builder := psql.Select(
		"id", "source_id", "started_at", "ended_at", "items_fetched", "items_new",
		"outcome", "consecutive_failures", "error_text", "cursor",
	).
		From("source_runs").
		Where(sq.Eq{"source_id": sourceID}).
		OrderBy("started_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent runs: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	defer rows.Close()

	var out []pipeline.SourceRun
	for rows.Next() {
		var run pipeline.SourceRun
		var outcome string
		if err := rows.Scan(
			&run.ID, &run.SourceID, &run.StartedAt, &run.EndedAt, &run.ItemsFetched,
			&run.ItemsNew, &outcome, &run.ConsecutiveFailures, &run.ErrorText, &run.Cursor,
		); err != nil {
			return nil, fmt.Errorf("scan source run: %w", err)
		}
		run.Outcome = pipeline.RunOutcome(outcome)
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source runs: %w", err)
	}
	return out, nil
}

// LoadCursor returns the persisted cursor for a source, empty when unset.
func (s *RunStore) LoadCursor(ctx context.Context, sourceID string) (string, error) {
	query, args, err := psql.Select("cursor").
		From("source_cursors").
		Where(sq.Eq{"source_id": sourceID}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build cursor select: %w", err)
	}
	var cursor string
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&cursor); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("load cursor: %w", err)
	}
	return cursor, nil
}

// SaveCursor upserts the cursor for the next run of a source.
func (s *RunStore) SaveCursor(ctx context.Context, sourceID string, cursor string) error {
	query, args, err := psql.Insert("source_cursors").
		Columns("source_id", "cursor").
		Values(sourceID, cursor).
		Suffix("ON CONFLICT (source_id) DO UPDATE SET cursor = EXCLUDED.cursor").
		ToSql()
	if err != nil {
		return fmt.Errorf("build cursor upsert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}
