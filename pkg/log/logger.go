// Package log provides structured logging utilities for the work services.
// It wraps the standard library's slog package with additional convenience methods.
package log

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/bardlex/nanowork/pkg/errors"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger with the specified configuration
func New(service, version, level, format string) *Logger {
	var handler slog.Handler

	// Parse log level
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	// Create handler based on format
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	// Create base logger with service context
	baseLogger := slog.New(handler).With(
		"service", service,
		"version", version,
	)

	return &Logger{
		Logger:  baseLogger,
		service: service,
		version: version,
	}
}

// WithContext returns a logger with additional context fields
func (l *Logger) WithContext(ctx context.Context) *Logger {
	// Extract common context values if they exist
	logger := l.Logger

	// Add request ID if available
	if reqID := ctx.Value("request_id"); reqID != nil {
		logger = logger.With("request_id", reqID)
	}

	// Add trace ID if available
	if traceID := ctx.Value("trace_id"); traceID != nil {
		logger = logger.With("trace_id", traceID)
	}

	return &Logger{
		Logger:  logger,
		service: l.service,
		version: l.version,
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithRoot returns a logger tagged with the puzzle root
func (l *Logger) WithRoot(root string) *Logger {
	return l.WithFields("root", root)
}

// WithJob returns a logger with search job fields
func (l *Logger) WithJob(jobID string, workers int) *Logger {
	return l.WithFields("job_id", jobID, "workers", workers)
}

// WithRequest returns a logger with work request fields
func (l *Logger) WithRequest(requestID, action string) *Logger {
	return l.WithFields("request_id", requestID, "action", action)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	fields := []any{"error", err.Error(), "error_type", string(errors.TypeOf(err))}
	for k, v := range errors.GetContext(err) {
		fields = append(fields, k, v)
	}
	return l.WithFields(fields...)
}

// Performance logging helpers

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, duration int64) {
	l.Info("operation completed",
		"operation", operation,
		"duration_ns", duration,
		"duration_ms", float64(duration)/1e6,
	)
}

// LogThroughput logs throughput metrics
func (l *Logger) LogThroughput(operation string, count int64, duration int64) {
	if duration <= 0 {
		duration = 1
	}
	throughput := float64(count) / (float64(duration) / 1e9) // ops per second
	l.Info("throughput metrics",
		"operation", operation,
		"count", count,
		"duration_ns", duration,
		"throughput_ops_sec", throughput,
	)
}

// Work logging helpers

// LogWorkGenerated logs a solved puzzle
func (l *Logger) LogWorkGenerated(root, work string, difficulty string, attempts uint64, duration int64) {
	l.Info("work generated",
		"root", root,
		"work", work,
		"difficulty", difficulty,
		"attempts", attempts,
		"duration_ms", float64(duration)/1e6,
	)
}

// LogWorkValidated logs the outcome of a validation (debug level, hot path)
func (l *Logger) LogWorkValidated(root, work string, difficulty string, valid bool) {
	l.Debug("work validated",
		"root", root,
		"work", work,
		"difficulty", difficulty,
		"valid", valid,
	)
}

// LogSearchStopped logs a search that ended without a nonce
func (l *Logger) LogSearchStopped(root, state string, attempts uint64, reason error) {
	fields := []any{
		"root", root,
		"state", state,
		"attempts", attempts,
	}
	if reason != nil {
		fields = append(fields, "reason", reason.Error())
	}
	l.Info("search stopped", fields...)
}
