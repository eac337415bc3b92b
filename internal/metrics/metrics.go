// Package metrics exposes work service counters and histograms in the
// Prometheus text format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bardlex/nanowork/internal/engine"
	"github.com/bardlex/nanowork/internal/work"
	"github.com/bardlex/nanowork/pkg/log"
)

const namespace = "nanowork"

// Ensure Metrics can observe the engine
var _ engine.Observer = (*Metrics)(nil)

// Metrics holds the service collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	searches        *prometheus.CounterVec
	searchAttempts  prometheus.Counter
	searchDuration  *prometheus.HistogramVec
	workMultiplier  prometheus.Histogram
	validations     *prometheus.CounterVec
	requests        *prometheus.CounterVec
	rateLimited     prometheus.Counter
	requestQueueLen prometheus.Gauge
}

// New creates the collectors and registers them. inFlight, when non-nil,
// is sampled on every scrape.
func New(inFlight func() int) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.searches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "search",
		Name:      "total",
		Help:      "Finished searches by final state",
	}, []string{"state"})

	m.searchAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "search",
		Name:      "attempts_total",
		Help:      "Nonces evaluated across all searches",
	})

	m.searchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "search",
		Name:      "duration_seconds",
		Help:      "Search wall time by difficulty",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"difficulty"})

	m.workMultiplier = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "search",
		Name:      "work_multiplier",
		Help:      "Difficulty of found work relative to the requested threshold",
		Buckets:   []float64{1, 1.5, 2, 4, 8, 16, 64},
	})

	m.validations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "validation",
		Name:      "total",
		Help:      "Work validations by result",
	}, []string{"valid"})

	m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "requests",
		Name:      "total",
		Help:      "Processed requests by action and status",
	}, []string{"action", "status"})

	m.rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "requests",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-requester limit",
	})

	m.requestQueueLen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "requests",
		Name:      "queue_length",
		Help:      "Requests waiting for a handler",
	})

	m.registry.MustRegister(
		m.searches,
		m.searchAttempts,
		m.searchDuration,
		m.workMultiplier,
		m.validations,
		m.requests,
		m.rateLimited,
		m.requestQueueLen,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if inFlight != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "in_flight",
			Help:      "Searches currently running",
		}, func() float64 { return float64(inFlight()) }))
	}

	return m
}

// ObserveSearch implements engine.Observer
func (m *Metrics) ObserveSearch(outcome engine.SearchOutcome) {
	m.searches.WithLabelValues(outcome.State.String()).Inc()
	m.searchAttempts.Add(float64(outcome.Attempts))
	m.searchDuration.WithLabelValues(work.FormatThreshold(outcome.Difficulty)).Observe(outcome.Duration.Seconds())
	if outcome.Value != 0 {
		m.workMultiplier.Observe(work.Multiplier(outcome.Value, outcome.Difficulty))
	}
}

// ObserveValidation implements engine.Observer
func (m *Metrics) ObserveValidation(_ uint64, valid bool) {
	label := "false"
	if valid {
		label = "true"
	}
	m.validations.WithLabelValues(label).Inc()
}

// RequestProcessed counts a finished request
func (m *Metrics) RequestProcessed(action, status string) {
	m.requests.WithLabelValues(action, status).Inc()
}

// RequestRateLimited counts a request rejected by the rate limiter
func (m *Metrics) RequestRateLimited() {
	m.rateLimited.Inc()
}

// SetQueueLength records the number of queued requests
func (m *Metrics) SetQueueLength(n int) {
	m.requestQueueLen.Set(float64(n))
}

// Handler returns the scrape handler for the private registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server serves /metrics and /health
type Server struct {
	server *http.Server
	logger *log.Logger
}

// NewServer creates a metrics server on addr. health, when non-nil, backs
// the /health endpoint.
func NewServer(addr string, m *Metrics, health func(ctx context.Context) error, logger *log.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.WithComponent("metrics"),
	}
}

// Run serves until ctx is done, then shuts the listener down
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("metrics server listening", "addr", s.server.Addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
