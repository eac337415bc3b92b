// Package database coordinates the stores behind the work service. Redis is
// required; PostgreSQL auditing and InfluxDB metrics are optional.
package database

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/bardlex/nanowork/internal/database/influx"
	"github.com/bardlex/nanowork/internal/database/postgres"
	"github.com/bardlex/nanowork/internal/database/redis"
	"github.com/bardlex/nanowork/internal/engine"
	"github.com/bardlex/nanowork/pkg/circuit"
	"github.com/bardlex/nanowork/pkg/errors"
	"github.com/bardlex/nanowork/pkg/log"
	"github.com/bardlex/nanowork/pkg/retry"
)

// StatusStore holds request status and rate limit counters
type StatusStore interface {
	SetRequestStatus(ctx context.Context, status *redis.RequestStatus, expiration time.Duration) error
	GetRequestStatus(ctx context.Context, requestID string) (*redis.RequestStatus, error)
	CheckRateLimit(ctx context.Context, requester string, limit int64, window time.Duration) (bool, error)
}

// AuditStore persists processed requests
type AuditStore interface {
	Record(ctx context.Context, rec *postgres.WorkRecord) error
}

// Manager coordinates the Redis, PostgreSQL and InfluxDB stores
type Manager struct {
	Postgres *postgres.Client // nil when auditing is disabled
	Redis    *redis.Client
	Influx   *influx.Client // nil when metrics export is disabled

	status StatusStore
	audit  AuditStore // nil when auditing is disabled
	logger *log.Logger

	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// Config holds configuration for all stores. Nil Postgres or Influx
// disables that store.
type Config struct {
	Postgres *postgres.Config
	Redis    *redis.Config
	Influx   *influx.Config
}

// NewManager connects to every configured store
func NewManager(cfg *Config, logger *log.Logger) (*Manager, error) {
	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
			"failed to connect to Redis")
	}

	var (
		pgClient *postgres.Client
		audit    AuditStore
	)
	if cfg.Postgres != nil {
		pgClient, err = postgres.NewClient(cfg.Postgres)
		if err != nil {
			_ = redisClient.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
				"failed to connect to PostgreSQL")
		}

		repo := postgres.NewWorkRepository(pgClient.DB())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = repo.EnsureSchema(ctx)
		cancel()
		if err != nil {
			_ = redisClient.Close()
			_ = pgClient.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_schema",
				"failed to prepare audit schema")
		}
		audit = repo
	}

	var influxClient *influx.Client
	if cfg.Influx != nil {
		influxClient, err = influx.NewClient(cfg.Influx)
		if err != nil {
			var closeErrs []error
			if closeErr := redisClient.Close(); closeErr != nil {
				closeErrs = append(closeErrs, closeErr)
			}
			if pgClient != nil {
				if closeErr := pgClient.Close(); closeErr != nil {
					closeErrs = append(closeErrs, closeErr)
				}
			}

			origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
				"failed to connect to InfluxDB")
			if len(closeErrs) > 0 {
				return nil, origErr.WithContext("cleanup_errors", fmt.Sprintf("%v", closeErrs))
			}
			return nil, origErr
		}
	}

	m := newManager(redisClient, audit, logger)
	m.Postgres = pgClient
	m.Redis = redisClient
	m.Influx = influxClient
	return m, nil
}

func newManager(status StatusStore, audit AuditStore, logger *log.Logger) *Manager {
	logger = logger.WithComponent("database")

	cbConfig := &circuit.Config{
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
		Name:            "postgres",
		OnStateChange: func(name string, from, to circuit.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &Manager{
		status:         status,
		audit:          audit,
		logger:         logger,
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.DatabaseConfig(),
	}
}

// Close closes all store connections
func (m *Manager) Close() error {
	var errs []error

	if m.Postgres != nil {
		if err := m.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("PostgreSQL close error: %w", err))
		}
	}

	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if m.Influx != nil {
		m.Influx.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}

	return nil
}

// Health checks the health of every configured store
func (m *Manager) Health(ctx context.Context) error {
	if m.Redis != nil {
		if err := m.Redis.Health(ctx); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}

	if m.Postgres != nil {
		if err := m.Postgres.Health(ctx); err != nil {
			return fmt.Errorf("PostgreSQL health check failed: %w", err)
		}
	}

	if m.Influx != nil {
		if err := m.Influx.Health(ctx); err != nil {
			return fmt.Errorf("InfluxDB health check failed: %w", err)
		}
	}

	if stats := m.circuitBreaker.GetStats(); stats.State == circuit.StateOpen {
		return fmt.Errorf("audit circuit open after %d failures (last at %s)",
			stats.Failures, stats.LastFailTime.Format(time.RFC3339))
	}

	return nil
}

// Observers returns the engine observers backed by stores
func (m *Manager) Observers() []engine.Observer {
	if m.Influx == nil {
		return nil
	}
	return []engine.Observer{m.Influx}
}

// AllowRequest applies the per-requester limit over a one minute window.
// A zero limit allows everything. Redis failures fail open.
func (m *Manager) AllowRequest(ctx context.Context, requester string, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}

	ok, err := m.status.CheckRateLimit(ctx, requester, int64(perMinute), time.Minute)
	if err != nil {
		m.logger.Warn("rate limit check failed, allowing request", "requester", requester, "error", err)
		return true
	}
	return ok
}

// SetStatus records the current status of a request (best effort)
func (m *Manager) SetStatus(ctx context.Context, status *redis.RequestStatus, ttl time.Duration) {
	status.UpdatedAt = time.Now()
	if err := m.status.SetRequestStatus(ctx, status, ttl); err != nil {
		m.logger.Warn("failed to store request status",
			"request_id", status.RequestID, "status", status.Status, "error", err)
	}
}

// GetStatus returns the last recorded status of a request
func (m *Manager) GetStatus(ctx context.Context, requestID string) (*redis.RequestStatus, error) {
	return m.status.GetRequestStatus(ctx, requestID)
}

// RecordRequest stores the final status in Redis and, when auditing is
// enabled, the record in PostgreSQL. Only the audit write can fail.
func (m *Manager) RecordRequest(ctx context.Context, rec *postgres.WorkRecord, ttl time.Duration) error {
	status := &redis.RequestStatus{
		RequestID: rec.RequestID,
		Action:    rec.Action,
		Root:      rec.Root,
		Status:    rec.Status,
	}
	if rec.Work != nil {
		status.Work = *rec.Work
	}
	if rec.ErrorType != nil {
		status.Error = *rec.ErrorType
	}
	m.SetStatus(ctx, status, ttl)

	if m.audit == nil {
		return nil
	}

	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if err := m.audit.Record(ctx, rec); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_request",
					"failed to store work record in PostgreSQL").
					WithContext("request_id", rec.RequestID).
					WithContext("action", rec.Action)
			}
			return nil
		})
	})
}

// StartPeriodicTasks flushes metrics and reports process stats until ctx is
// done. inFlight reports the number of running searches.
func (m *Manager) StartPeriodicTasks(ctx context.Context, inFlight func() int) {
	if m.Influx == nil {
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-m.Influx.Errors():
				if !ok {
					return
				}
				m.logger.Warn("InfluxDB write failed", "error", err)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		var mem runtime.MemStats
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runtime.ReadMemStats(&mem)
				m.Influx.WriteSystemMetric(inFlight(), mem.HeapAlloc, runtime.NumGoroutine())
				m.Influx.Flush()
			}
		}
	}()
}
