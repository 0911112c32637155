package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jurisia/intake/internal/pipeline"
)

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresConfig controls the Postgres connection pool for the dedup index.
type PostgresConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// PostgresStore is a Postgres-backed DedupStore. Admission relies on the
// primary key constraint, so concurrent admits of the same key race safely.
type PostgresStore struct {
	pool execCloser
}

// NewPostgresStore creates a Postgres-backed store using the provided config.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
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
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewPostgresStoreWithPool(pool execCloser) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Admit inserts the key, treating a conflict as a duplicate.
func (s *PostgresStore) Admit(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("dedup key is required")
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO dedup_keys (key, admitted_at) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		key, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert dedup key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrDuplicate
	}
	return nil
}

// Forget deletes the key so the record can be admitted again. Deleting a
// key that was never admitted is a no-op.
func (s *PostgresStore) Forget(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("dedup key is required")
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM dedup_keys WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete dedup key: %w", err)
	}
	return nil
}
