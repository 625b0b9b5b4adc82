package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"docpipe/internal/apperrors"
	"docpipe/internal/job"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_history (
	id            TEXT PRIMARY KEY,
	mode          TEXT NOT NULL,
	state         TEXT NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	error_code    TEXT NOT NULL DEFAULT '',
	files         INTEGER NOT NULL,
	fallback_used BOOLEAN NOT NULL DEFAULT FALSE,
	artifacts     TEXT[] NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS job_history_finished_at ON job_history (finished_at DESC);
`

const columns = `id, mode, state, error, error_code, files, fallback_used, artifacts, created_at, finished_at`

// PostgresStore persists records in PostgreSQL, keeping the newest limit rows.
type PostgresStore struct {
	pool  *pgxpool.Pool
	limit int
}

// NewPostgresStore connects to databaseURL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string, limit int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}
	if limit <= 0 {
		limit = 500
	}
	return &PostgresStore{pool: pool, limit: limit}, nil
}

// Record upserts rec and trims rows beyond the retention limit.
func (s *PostgresStore) Record(ctx context.Context, rec job.Record) error {
	artifacts := rec.Artifacts
	if artifacts == nil {
		artifacts = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_history (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			error = EXCLUDED.error,
			error_code = EXCLUDED.error_code,
			fallback_used = EXCLUDED.fallback_used,
			artifacts = EXCLUDED.artifacts,
			finished_at = EXCLUDED.finished_at`,
		rec.ID, string(rec.Mode), string(rec.State), rec.Error, rec.ErrorCode,
		rec.Files, rec.FallbackUsed, artifacts, rec.CreatedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to record job %s: %w", rec.ID, err)
	}

	if _, err := s.pool.Exec(ctx, `
		DELETE FROM job_history WHERE id IN (
			SELECT id FROM job_history ORDER BY finished_at DESC OFFSET $1
		)`, s.limit); err != nil {
		slog.Warn("Failed to trim job history", "error", err)
	}
	return nil
}

// List returns up to limit records, most recently finished first.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]job.Record, error) {
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}
	rows, err := s.pool.Query(ctx, `SELECT `+columns+` FROM job_history ORDER BY finished_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list job history: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("failed to read job history: %w", err)
	}
	return records, nil
}

// Get returns the record for id.
func (s *PostgresStore) Get(ctx context.Context, id string) (job.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+columns+` FROM job_history WHERE id = $1`, id)
	if err != nil {
		return job.Record{}, fmt.Errorf("failed to read job %s: %w", id, err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return job.Record{}, apperrors.NotFound("job", id)
	}
	if err != nil {
		return job.Record{}, fmt.Errorf("failed to read job %s: %w", id, err)
	}
	return rec, nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func scanRecord(row pgx.CollectableRow) (job.Record, error) {
	var rec job.Record
	var mode, state string
	err := row.Scan(&rec.ID, &mode, &state, &rec.Error, &rec.ErrorCode, &rec.Files,
		&rec.FallbackUsed, &rec.Artifacts, &rec.CreatedAt, &rec.FinishedAt)
	rec.Mode = job.Mode(mode)
	rec.State = job.TerminalState(state)
	return rec, err
}
