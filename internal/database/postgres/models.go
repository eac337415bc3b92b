package postgres

import (
	"time"
)

// WorkRecord is one processed work request
type WorkRecord struct {
	ID          int64     `db:"id"`
	RequestID   string    `db:"request_id"`
	Requester   string    `db:"requester"`
	Action      string    `db:"action"`
	Root        string    `db:"root"`
	Difficulty  string    `db:"difficulty"` // 16 hex digits
	Work        *string   `db:"work"`       // nil unless a nonce was found or checked
	Status      string    `db:"status"`
	ErrorType   *string   `db:"error_type"`
	Attempts    int64     `db:"attempts"`
	DurationMs  float64   `db:"duration_ms"`
	CreatedAt   time.Time `db:"created_at"`
	CompletedAt time.Time `db:"completed_at"`
}

// WorkStats aggregates work records over a time range
type WorkStats struct {
	Generated     int64
	Validated     int64
	Failed        int64
	TotalAttempts int64
	AvgDurationMs float64
}
