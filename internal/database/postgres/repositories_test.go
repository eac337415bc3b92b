package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// newTestRepository connects to POSTGRES_URL or skips
func newTestRepository(t *testing.T) *WorkRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	url := os.Getenv("POSTGRES_URL")
	if url == "" {
		t.Skip("POSTGRES_URL not set")
	}

	client, err := NewClient(&Config{URL: url, MaxOpenConns: 2, MaxIdleConns: 1, MaxLifetime: time.Minute})
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	repo := NewWorkRepository(client.DB())
	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() unexpected error: %v", err)
	}
	return repo
}

func TestWorkRepository_RecordAndGet(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	work := "4effb6b0cd5625e2"
	now := time.Now().UTC().Truncate(time.Microsecond)
	rec := &WorkRecord{
		RequestID:   uuid.NewString(),
		Requester:   "test",
		Action:      "generate",
		Root:        "8D3E5F07BFF7B7484CDCB392F47009F62997253D28BD98B94BCED95F03C4DA09",
		Difficulty:  "ffffffc000000000",
		Work:        &work,
		Status:      "completed",
		Attempts:    4096,
		DurationMs:  12.5,
		CreatedAt:   now.Add(-time.Second),
		CompletedAt: now,
	}

	if err := repo.Record(ctx, rec); err != nil {
		t.Fatalf("Record() unexpected error: %v", err)
	}
	if rec.ID == 0 {
		t.Error("Record() did not set ID")
	}

	// Redelivery keeps the first record
	dup := *rec
	dup.Status = "failed"
	if err := repo.Record(ctx, &dup); err != nil {
		t.Fatalf("Record(duplicate) unexpected error: %v", err)
	}

	got, err := repo.GetByRequestID(ctx, rec.RequestID)
	if err != nil {
		t.Fatalf("GetByRequestID() unexpected error: %v", err)
	}
	if got.Status != "completed" || got.Work == nil || *got.Work != work {
		t.Errorf("GetByRequestID() = %+v", got)
	}

	records, err := repo.ListByRoot(ctx, rec.Root, 10)
	if err != nil {
		t.Fatalf("ListByRoot() unexpected error: %v", err)
	}
	if len(records) == 0 {
		t.Error("ListByRoot() returned no records")
	}

	stats, err := repo.Stats(ctx, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("Stats() unexpected error: %v", err)
	}
	if stats.Generated < 1 {
		t.Errorf("Stats().Generated = %d, want >= 1", stats.Generated)
	}
}

func TestWorkRepository_GetMissing(t *testing.T) {
	repo := newTestRepository(t)

	if _, err := repo.GetByRequestID(context.Background(), uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByRequestID(missing) error = %v, want ErrNotFound", err)
	}
}
