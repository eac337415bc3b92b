package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bardlex/nanowork/internal/search"
	"github.com/bardlex/nanowork/internal/work"
	workErrors "github.com/bardlex/nanowork/pkg/errors"
	"github.com/bardlex/nanowork/pkg/log"
)

// Engine runs searches on a Coordinator and tracks them by root
type Engine struct {
	coordinator *search.Coordinator
	logger      *log.Logger
	observers   []Observer

	mu       sync.Mutex
	inflight map[work.Root]map[*search.Job]struct{}
}

// New creates an engine. Observers are notified synchronously after each
// operation completes.
func New(coordinator *search.Coordinator, logger *log.Logger, observers ...Observer) *Engine {
	return &Engine{
		coordinator: coordinator,
		logger:      logger.WithComponent("engine"),
		observers:   observers,
		inflight:    make(map[work.Root]map[*search.Job]struct{}),
	}
}

// GenerateWork returns a nonce whose work value for root is at least difficulty
func (e *Engine) GenerateWork(ctx context.Context, root work.Root, difficulty uint64) (work.Nonce, error) {
	result, err := e.Generate(ctx, root, difficulty)
	if err != nil {
		return 0, err
	}
	return result.Nonce, nil
}

// GenerateWorkBytes is GenerateWork for a root supplied as raw bytes
func (e *Engine) GenerateWorkBytes(ctx context.Context, root []byte, difficulty uint64) (work.Nonce, error) {
	r, err := work.RootFromBytes(root)
	if err != nil {
		return 0, workErrors.Wrap(err, workErrors.ErrorTypeValidation, "generate_work", "invalid root")
	}
	return e.GenerateWork(ctx, r, difficulty)
}

// Generate implements WorkInterface
func (e *Engine) Generate(ctx context.Context, root work.Root, difficulty uint64) (*search.Result, error) {
	start := time.Now()
	job := e.coordinator.Start(ctx, root, difficulty)

	e.track(job)
	result, err := job.Wait()
	e.untrack(job)

	outcome := SearchOutcome{
		Root:       root,
		Difficulty: difficulty,
		State:      job.State(),
		Attempts:   job.Attempts(),
		Workers:    job.Workers(),
		Duration:   time.Since(start),
	}

	if err != nil {
		e.logger.LogSearchStopped(root.String(), outcome.State.String(), outcome.Attempts, err)
		e.notifySearch(outcome)
		return nil, classify(err)
	}

	outcome.Nonce = result.Nonce
	outcome.Value = work.WorkValue(root, result.Nonce)
	outcome.Duration = result.Duration
	e.notifySearch(outcome)

	e.logger.LogWorkGenerated(root.String(), result.Nonce.String(), work.FormatThreshold(difficulty),
		result.Attempts, result.Duration.Nanoseconds())
	return result, nil
}

// ValidateWork implements WorkInterface
func (e *Engine) ValidateWork(root work.Root, nonce work.Nonce, difficulty uint64) bool {
	valid := work.IsValid(root, nonce, difficulty)

	e.logger.LogWorkValidated(root.String(), nonce.String(), work.FormatThreshold(difficulty), valid)
	for _, o := range e.observers {
		o.ObserveValidation(difficulty, valid)
	}
	return valid
}

// ValidateWorkBytes is ValidateWork for a root and nonce supplied as raw
// bytes. The nonce is in hashing order, least significant byte first.
func (e *Engine) ValidateWorkBytes(root, nonce []byte, difficulty uint64) (bool, error) {
	r, err := work.RootFromBytes(root)
	if err != nil {
		return false, workErrors.Wrap(err, workErrors.ErrorTypeValidation, "validate_work", "invalid root")
	}
	n, err := work.NonceFromBytes(nonce)
	if err != nil {
		return false, workErrors.Wrap(err, workErrors.ErrorTypeValidation, "validate_work", "invalid nonce")
	}
	return e.ValidateWork(r, n, difficulty), nil
}

// CancelWork implements WorkInterface
func (e *Engine) CancelWork(root work.Root) int {
	e.mu.Lock()
	jobs := make([]*search.Job, 0, len(e.inflight[root]))
	for job := range e.inflight[root] {
		jobs = append(jobs, job)
	}
	e.mu.Unlock()

	cancelled := 0
	for _, job := range jobs {
		if job.Cancel() {
			cancelled++
		}
	}

	if cancelled > 0 {
		e.logger.Info("cancelled in-flight work", "root", root.String(), "jobs", cancelled)
	}
	return cancelled
}

// InFlight returns the number of searches currently running
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, jobs := range e.inflight {
		n += len(jobs)
	}
	return n
}

func (e *Engine) track(job *search.Job) {
	e.mu.Lock()
	defer e.mu.Unlock()

	jobs, ok := e.inflight[job.Root()]
	if !ok {
		jobs = make(map[*search.Job]struct{})
		e.inflight[job.Root()] = jobs
	}
	jobs[job] = struct{}{}
}

func (e *Engine) untrack(job *search.Job) {
	e.mu.Lock()
	defer e.mu.Unlock()

	jobs := e.inflight[job.Root()]
	delete(jobs, job)
	if len(jobs) == 0 {
		delete(e.inflight, job.Root())
	}
}

func (e *Engine) notifySearch(outcome SearchOutcome) {
	for _, o := range e.observers {
		o.ObserveSearch(outcome)
	}
}

// classify maps search sentinels to service error types. The sentinel stays
// in the chain for errors.Is.
func classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return workErrors.Wrap(err, workErrors.ErrorTypeTimeout, "generate_work", "work generation timed out")
	case errors.Is(err, search.ErrCancelled):
		return workErrors.Wrap(err, workErrors.ErrorTypeCancelled, "generate_work", "work generation cancelled")
	case errors.Is(err, search.ErrExhausted):
		return workErrors.Wrap(err, workErrors.ErrorTypeExhausted, "generate_work", "no nonce within attempt budget")
	default:
		return workErrors.Wrap(err, workErrors.ErrorTypeInternal, "generate_work", "work generation failed")
	}
}
