// Package search implements the parallel nonce search. A Coordinator splits
// the 64-bit nonce space across worker goroutines, the first worker to find a
// valid nonce claims the job's single-assignment result, and every other
// worker stops within one batch of attempts.
package search

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/bardlex/nanowork/internal/work"
	"github.com/bardlex/nanowork/pkg/log"
)

const (
	// DefaultBatchSize is the number of attempts between stop-flag polls
	DefaultBatchSize = 1024

	maxOffset = math.MaxUint64
)

// Config holds search configuration
type Config struct {
	Workers     int    // Worker goroutines per job, 0 means runtime.NumCPU()
	BatchSize   uint64 // Attempts between cancellation checks
	MaxAttempts uint64 // Total attempt budget per job, 0 means the whole nonce space
}

// DefaultConfig returns a configuration using every available CPU
func DefaultConfig() *Config {
	return &Config{
		Workers:   runtime.NumCPU(),
		BatchSize: DefaultBatchSize,
	}
}

type checkFunc func(h *work.Hasher, root work.Root, nonce work.Nonce, threshold uint64) bool

func hasherCheck(h *work.Hasher, root work.Root, nonce work.Nonce, threshold uint64) bool {
	return h.IsValid(root, nonce, threshold)
}

// Coordinator starts search jobs. It holds configuration only; each job owns
// its own state, so one Coordinator can run any number of jobs concurrently.
type Coordinator struct {
	config *Config
	logger *log.Logger

	offset func() uint64
	check  checkFunc
}

// NewCoordinator creates a new coordinator
func NewCoordinator(config *Config, logger *log.Logger) *Coordinator {
	if config == nil {
		config = DefaultConfig()
	}

	cfg := *config
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	return &Coordinator{
		config: &cfg,
		logger: logger.WithComponent("search"),
		offset: rand.Uint64,
		check:  hasherCheck,
	}
}

// Workers returns the number of workers each job is started with
func (c *Coordinator) Workers() int {
	return c.config.Workers
}

// Search blocks until a nonce satisfying threshold is found for root, ctx is
// done, or the nonce space (or attempt budget) is exhausted.
func (c *Coordinator) Search(ctx context.Context, root work.Root, threshold uint64) (*Result, error) {
	return c.Start(ctx, root, threshold).Wait()
}

// Start launches a job and returns immediately. The job is cancelled when ctx
// is done unless a nonce was claimed first.
func (c *Coordinator) Start(ctx context.Context, root work.Root, threshold uint64) *Job {
	workers := c.config.Workers
	if c.config.MaxAttempts > 0 && c.config.MaxAttempts < uint64(workers) {
		workers = int(c.config.MaxAttempts)
	}

	j := &Job{
		id:        uuid.NewString(),
		root:      root,
		threshold: threshold,
		workers:   workers,
		batch:     c.config.BatchSize,
		base:      c.offset(),
		limits:    splitBudget(c.config.MaxAttempts, workers),
		check:     c.check,
		done:      make(chan struct{}),
		started:   time.Now(),
	}
	j.logger = c.logger.WithJob(j.id, workers).WithRoot(root.String())
	j.remaining.Store(int32(workers))

	if err := ctx.Err(); err != nil {
		j.finish(&outcome{state: StateCancelled, err: fmt.Errorf("%w: %w", ErrCancelled, err)})
		return j
	}

	j.state.Store(int32(StateRunning))
	j.wg.Add(workers)
	for i := range workers {
		go j.run(i, j.limits[i])
	}

	go func() {
		select {
		case <-ctx.Done():
			if j.finish(&outcome{state: StateCancelled, err: fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())}) {
				j.logger.Debug("search cancelled by context")
			}
		case <-j.done:
		}
	}()

	j.logger.Debug("search started", "threshold", work.FormatThreshold(threshold), "batch", j.batch)
	return j
}

// splitBudget divides total attempts across workers. A zero total yields
// zero limits, which workers treat as unbounded.
func splitBudget(total uint64, workers int) []uint64 {
	limits := make([]uint64, workers)
	if total == 0 {
		return limits
	}

	share := total / uint64(workers)
	extra := total % uint64(workers)
	for i := range limits {
		limits[i] = share
		if uint64(i) < extra {
			limits[i]++
		}
	}
	return limits
}
