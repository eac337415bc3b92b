package influx

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/nanowork/internal/engine"
	"github.com/bardlex/nanowork/internal/search"
	"github.com/bardlex/nanowork/internal/work"
)

func TestSearchPoint(t *testing.T) {
	now := time.Unix(1700000000, 0)
	outcome := engine.SearchOutcome{
		Difficulty: work.ThresholdReceive,
		State:      search.StateCompleted,
		Value:      work.ThresholdSend,
		Attempts:   200_000,
		Workers:    4,
		Duration:   2 * time.Second,
	}

	line := write.PointToLineProtocol(searchPoint("workd", outcome, now), time.Second)

	for _, want := range []string{
		"work_search,",
		"difficulty=fffffe0000000000",
		"service=workd",
		"state=completed",
		"attempts=200000i",
		"workers=4i",
		"duration_ms=2000",
		"hashrate=100000",
		"multiplier=64",
		" 1700000000",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line protocol %q missing %q", line, want)
		}
	}
}

func TestSearchPoint_FailedSearchHasNoMultiplier(t *testing.T) {
	outcome := engine.SearchOutcome{
		Difficulty: work.ThresholdSend,
		State:      search.StateCancelled,
		Attempts:   10,
	}

	line := write.PointToLineProtocol(searchPoint("workd", outcome, time.Now()), time.Second)
	if strings.Contains(line, "multiplier") {
		t.Errorf("cancelled search reported a multiplier: %q", line)
	}
	if !strings.Contains(line, "hashrate=0") {
		t.Errorf("zero duration should report zero hashrate: %q", line)
	}
}

func TestValidationPoint(t *testing.T) {
	line := write.PointToLineProtocol(validationPoint("workd", work.ThresholdLegacy, false, time.Unix(1, 0)), time.Second)

	for _, want := range []string{"work_validation,", "valid=false", "difficulty=ffffffc000000000", "count=1i"} {
		if !strings.Contains(line, want) {
			t.Errorf("line protocol %q missing %q", line, want)
		}
	}
}

func TestHashrate(t *testing.T) {
	tests := []struct {
		attempts uint64
		duration time.Duration
		want     float64
	}{
		{1000, time.Second, 1000},
		{1000, 500 * time.Millisecond, 2000},
		{1000, 0, 0},
	}

	for _, tt := range tests {
		if got := hashrate(tt.attempts, tt.duration); got != tt.want {
			t.Errorf("hashrate(%d, %v) = %v, want %v", tt.attempts, tt.duration, got, tt.want)
		}
	}
}
