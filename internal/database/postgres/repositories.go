package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ErrNotFound is returned when no record matches
var ErrNotFound = errors.New("record not found")

const schema = `
CREATE TABLE IF NOT EXISTS work_requests (
	id           BIGSERIAL PRIMARY KEY,
	request_id   TEXT NOT NULL UNIQUE,
	requester    TEXT NOT NULL DEFAULT '',
	action       TEXT NOT NULL,
	root         CHAR(64) NOT NULL,
	difficulty   CHAR(16) NOT NULL,
	work         CHAR(16),
	status       TEXT NOT NULL,
	error_type   TEXT,
	attempts     BIGINT NOT NULL DEFAULT 0,
	duration_ms  DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS work_requests_root_idx ON work_requests (root, completed_at DESC);`

// WorkRepository handles work request audit records
type WorkRepository struct {
	db *sql.DB
}

// NewWorkRepository creates a new work repository
func NewWorkRepository(db *sql.DB) *WorkRepository {
	return &WorkRepository{db: db}
}

// EnsureSchema creates the audit table if it does not exist
func (r *WorkRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Record stores a processed request. Redelivered requests keep the first
// record.
func (r *WorkRepository) Record(ctx context.Context, rec *WorkRecord) error {
	query := `
		INSERT INTO work_requests (request_id, requester, action, root, difficulty, work, status,
		                           error_type, attempts, duration_ms, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		rec.RequestID, rec.Requester, rec.Action, rec.Root, rec.Difficulty, rec.Work, rec.Status,
		rec.ErrorType, rec.Attempts, rec.DurationMs, rec.CreatedAt, rec.CompletedAt,
	).Scan(&rec.ID)

	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			return fmt.Errorf("failed to record work request (%s): %w", pqErr.Code.Name(), err)
		}
		return fmt.Errorf("failed to record work request: %w", err)
	}

	return nil
}

// GetByRequestID retrieves the record of one request
func (r *WorkRepository) GetByRequestID(ctx context.Context, requestID string) (*WorkRecord, error) {
	query := `
		SELECT id, request_id, requester, action, root, difficulty, work, status, error_type,
		       attempts, duration_ms, created_at, completed_at
		FROM work_requests WHERE request_id = $1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get work request: %w", err)
	}

	return rec, nil
}

// ListByRoot returns the most recent records for a root
func (r *WorkRepository) ListByRoot(ctx context.Context, root string, limit int) ([]*WorkRecord, error) {
	query := `
		SELECT id, request_id, requester, action, root, difficulty, work, status, error_type,
		       attempts, duration_ms, created_at, completed_at
		FROM work_requests WHERE root = $1
		ORDER BY completed_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, root, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list work requests: %w", err)
	}
	defer rows.Close()

	var records []*WorkRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work request: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Stats aggregates records completed at or after since
func (r *WorkRepository) Stats(ctx context.Context, since time.Time) (*WorkStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE action = 'generate' AND status = 'completed'),
			COUNT(*) FILTER (WHERE action = 'validate'),
			COUNT(*) FILTER (WHERE status IN ('failed', 'rejected')),
			COALESCE(SUM(attempts), 0),
			COALESCE(AVG(duration_ms) FILTER (WHERE action = 'generate'), 0)
		FROM work_requests WHERE completed_at >= $1`

	stats := &WorkStats{}
	err := r.db.QueryRowContext(ctx, query, since).Scan(
		&stats.Generated, &stats.Validated, &stats.Failed, &stats.TotalAttempts, &stats.AvgDurationMs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get work stats: %w", err)
	}

	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*WorkRecord, error) {
	rec := &WorkRecord{}
	err := s.Scan(
		&rec.ID, &rec.RequestID, &rec.Requester, &rec.Action, &rec.Root, &rec.Difficulty,
		&rec.Work, &rec.Status, &rec.ErrorType, &rec.Attempts, &rec.DurationMs,
		&rec.CreatedAt, &rec.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
