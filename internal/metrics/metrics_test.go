package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bardlex/nanowork/internal/engine"
	"github.com/bardlex/nanowork/internal/search"
	"github.com/bardlex/nanowork/internal/work"
	"github.com/bardlex/nanowork/pkg/log"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d, want 200", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("failed to read scrape body: %v", err)
	}
	return string(body)
}

func TestMetrics_ObserveSearch(t *testing.T) {
	m := New(func() int { return 3 })

	m.ObserveSearch(engine.SearchOutcome{
		Difficulty: work.ThresholdReceive,
		State:      search.StateCompleted,
		Value:      work.ThresholdSend,
		Attempts:   1500,
		Workers:    4,
		Duration:   250 * time.Millisecond,
	})
	m.ObserveSearch(engine.SearchOutcome{
		Difficulty: work.ThresholdSend,
		State:      search.StateCancelled,
		Attempts:   500,
	})
	m.ObserveValidation(work.ThresholdLegacy, true)
	m.ObserveValidation(work.ThresholdLegacy, false)
	m.ObserveValidation(work.ThresholdLegacy, false)

	body := scrape(t, m.Handler())

	for _, want := range []string{
		`nanowork_search_total{state="completed"} 1`,
		`nanowork_search_total{state="cancelled"} 1`,
		`nanowork_search_attempts_total 2000`,
		`nanowork_search_duration_seconds_count{difficulty="fffffe0000000000"} 1`,
		`nanowork_search_work_multiplier_count 1`,
		`nanowork_validation_total{valid="true"} 1`,
		`nanowork_validation_total{valid="false"} 2`,
		`nanowork_search_in_flight 3`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestMetrics_Requests(t *testing.T) {
	m := New(nil)

	m.RequestProcessed("generate", "completed")
	m.RequestProcessed("generate", "completed")
	m.RequestProcessed("validate", "failed")
	m.RequestRateLimited()
	m.SetQueueLength(7)

	body := scrape(t, m.Handler())

	for _, want := range []string{
		`nanowork_requests_total{action="generate",status="completed"} 2`,
		`nanowork_requests_total{action="validate",status="failed"} 1`,
		`nanowork_requests_rate_limited_total 1`,
		`nanowork_requests_queue_length 7`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}

	if strings.Contains(body, "nanowork_search_in_flight") {
		t.Error("in-flight gauge registered without a sampler")
	}
}

func TestServer_Health(t *testing.T) {
	logger := log.New("test-metrics", "test", "error", "json")

	tests := []struct {
		name   string
		health func(ctx context.Context) error
		want   int
	}{
		{"no check", nil, http.StatusOK},
		{"healthy", func(context.Context) error { return nil }, http.StatusOK},
		{"unhealthy", func(context.Context) error { return errors.New("redis down") }, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(":0", New(nil), tt.health, logger)

			rec := httptest.NewRecorder()
			s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.want {
				t.Errorf("/health status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestServer_RunStopsOnContext(t *testing.T) {
	s := NewServer("127.0.0.1:0", New(nil), nil, log.New("test-metrics", "test", "error", "json"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
