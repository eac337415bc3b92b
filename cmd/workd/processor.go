package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bardlex/nanowork/internal/config"
	"github.com/bardlex/nanowork/internal/database/postgres"
	"github.com/bardlex/nanowork/internal/database/redis"
	"github.com/bardlex/nanowork/internal/engine"
	"github.com/bardlex/nanowork/internal/messaging"
	"github.com/bardlex/nanowork/internal/validation"
	"github.com/bardlex/nanowork/internal/work"
	"github.com/bardlex/nanowork/pkg/errors"
	"github.com/bardlex/nanowork/pkg/log"
)

// Publisher sends results to Kafka
type Publisher interface {
	Publish(ctx context.Context, topic, key string, msg messaging.Message) error
}

// RequestStore tracks request status, rate limits and the audit trail
type RequestStore interface {
	AllowRequest(ctx context.Context, requester string, perMinute int) bool
	SetStatus(ctx context.Context, status *redis.RequestStatus, ttl time.Duration)
	RecordRequest(ctx context.Context, rec *postgres.WorkRecord, ttl time.Duration) error
}

// RequestRecorder counts requests for the metrics endpoint
type RequestRecorder interface {
	RequestProcessed(action, status string)
	RequestRateLimited()
	SetQueueLength(n int)
}

// maxClockSkew is how far in the future a request timestamp may be
const maxClockSkew = 30 * time.Second

// WorkProcessor turns work requests into results. Generation and validation
// run on a fixed worker pool; cancels are applied as soon as they arrive so
// they can stop a search that is occupying a worker.
type WorkProcessor struct {
	cfg       *config.Config
	logger    *log.Logger
	engine    engine.WorkInterface
	validator *validation.RequestValidator
	publisher Publisher
	store     RequestStore
	recorder  RequestRecorder

	requestQueue chan *messaging.WorkRequest
	done         chan struct{}
}

// Ensure WorkProcessor can be driven by the Kafka consumer loop
var _ messaging.MessageHandler = (*WorkProcessor)(nil)

// NewWorkProcessor creates a new work processor
func NewWorkProcessor(cfg *config.Config, logger *log.Logger, eng engine.WorkInterface,
	publisher Publisher, store RequestStore, recorder RequestRecorder) *WorkProcessor {
	return &WorkProcessor{
		cfg:          cfg,
		logger:       logger.WithComponent("processor"),
		engine:       eng,
		validator:    validation.NewRequestValidator(cfg.DefaultDifficulty, cfg.MaxMultiplier, cfg.RequestMaxAge, maxClockSkew),
		publisher:    publisher,
		store:        store,
		recorder:     recorder,
		requestQueue: make(chan *messaging.WorkRequest, cfg.RequestQueueSize),
		done:         make(chan struct{}),
	}
}

// Start runs the worker pool until ctx is done or Shutdown is called
func (wp *WorkProcessor) Start(ctx context.Context) error {
	wp.logger.Info("work processor starting", "workers", wp.cfg.RequestWorkers, "queue_size", wp.cfg.RequestQueueSize)

	for i := 0; i < wp.cfg.RequestWorkers; i++ {
		go wp.worker(ctx, i)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wp.done:
		return nil
	}
}

// Shutdown stops the worker pool
func (wp *WorkProcessor) Shutdown(_ context.Context) error {
	wp.logger.Info("shutting down work processor")
	close(wp.done)
	return nil
}

// worker processes requests from the queue
func (wp *WorkProcessor) worker(ctx context.Context, workerID int) {
	logger := wp.logger.WithFields("worker_id", workerID)
	logger.Debug("worker started")
	defer logger.Debug("worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-wp.done:
			return
		case req := <-wp.requestQueue:
			wp.recorder.SetQueueLength(len(wp.requestQueue))
			wp.finish(ctx, req, wp.Process(ctx, req))
		}
	}
}

// HandleMessage implements messaging.MessageHandler
func (wp *WorkProcessor) HandleMessage(ctx context.Context, key string, msg messaging.Message) error {
	req, ok := msg.(*messaging.WorkRequest)
	if !ok {
		return fmt.Errorf("unexpected message type %T", msg)
	}
	if req.RequestID == "" {
		req.RequestID = key
	}

	return wp.Submit(ctx, req)
}

// Submit admits a request. Rejected requests are answered immediately.
func (wp *WorkProcessor) Submit(ctx context.Context, req *messaging.WorkRequest) error {
	if err := wp.validator.ValidateRequest(req); err != nil {
		wp.logger.WithError(err).Info("rejecting work request", "request_id", req.RequestID)
		wp.finish(ctx, req, rejected(req, errors.ErrorTypeValidation, err.Error()))
		return nil
	}

	requester := req.Requester
	if requester == "" {
		requester = "anonymous"
	}

	if !wp.store.AllowRequest(ctx, requester, wp.cfg.RateLimitPerMinute) {
		wp.recorder.RequestRateLimited()
		wp.finish(ctx, req, rejected(req, errors.ErrorTypeRateLimit, "rate limit exceeded"))
		return nil
	}

	// Cancels skip the queue so they reach searches already running
	if req.Action == messaging.ActionCancel {
		wp.finish(ctx, req, wp.Process(ctx, req))
		return nil
	}

	wp.store.SetStatus(ctx, &redis.RequestStatus{
		RequestID: req.RequestID,
		Action:    req.Action.String(),
		Root:      req.Root.String(),
		Status:    "queued",
	}, wp.cfg.StatusTTL)

	select {
	case wp.requestQueue <- req:
		wp.recorder.SetQueueLength(len(wp.requestQueue))
		return nil
	case <-wp.done:
		return fmt.Errorf("processor shutting down")
	default:
		wp.logger.Warn("request queue full, rejecting request", "request_id", req.RequestID)
		wp.finish(ctx, req, rejected(req, errors.ErrorTypeInternal, "request queue full"))
		return nil
	}
}

// Process executes a single request and returns its result
func (wp *WorkProcessor) Process(ctx context.Context, req *messaging.WorkRequest) *messaging.WorkResult {
	logger := wp.logger.WithRequest(req.RequestID, req.Action.String())

	start := time.Now()
	defer func() {
		logger.LogDuration("request_processing", time.Since(start).Nanoseconds())
	}()

	difficulty := req.Difficulty
	if difficulty == 0 {
		difficulty = wp.cfg.DefaultDifficulty
	}

	result := &messaging.WorkResult{
		RequestID:  req.RequestID,
		Action:     req.Action,
		Root:       req.Root,
		Difficulty: difficulty,
	}

	switch req.Action {
	case messaging.ActionGenerate:
		genCtx, cancel := context.WithTimeout(ctx, wp.cfg.GenerateTimeout)
		found, err := wp.engine.Generate(genCtx, req.Root, difficulty)
		cancel()
		if err != nil {
			logger.WithError(err).Info("work generation stopped")
			fail(result, err)
			break
		}
		result.Status = messaging.StatusCompleted
		result.Work = found.Nonce
		result.Attempts = found.Attempts
		setValue(result, work.WorkValue(req.Root, found.Nonce))

	case messaging.ActionValidate:
		result.Work = req.Work
		if wp.engine.ValidateWork(req.Root, req.Work, difficulty) {
			result.Status = messaging.StatusValid
		} else {
			result.Status = messaging.StatusInvalid
		}
		setValue(result, work.WorkValue(req.Root, req.Work))

	case messaging.ActionCancel:
		result.Status = messaging.StatusCancelled
		result.Cancelled = uint32(wp.engine.CancelWork(req.Root))

	default:
		result = rejected(req, errors.ErrorTypeValidation, fmt.Sprintf("unsupported action %q", req.Action.String()))
	}

	result.DurationMs = float64(time.Since(start).Nanoseconds()) / 1e6
	return result
}

// finish publishes the result and records it
func (wp *WorkProcessor) finish(ctx context.Context, req *messaging.WorkRequest, result *messaging.WorkResult) {
	result.CompletedAt = time.Now()
	wp.recorder.RequestProcessed(req.Action.String(), result.Status)

	if err := wp.publisher.Publish(ctx, messaging.TopicWorkResults, result.RequestID, result); err != nil {
		wp.logger.Error("failed to publish work result", "error", err, "request_id", result.RequestID)
	}

	if err := wp.store.RecordRequest(ctx, workRecord(req, result), wp.cfg.StatusTTL); err != nil {
		wp.logger.Error("failed to record work request", "error", err, "request_id", result.RequestID)
	}
}

// fail fills the error fields of result from a generation error
func fail(result *messaging.WorkResult, err error) {
	errType := errors.TypeOf(err)
	result.Status = messaging.StatusFailed
	if errType == errors.ErrorTypeCancelled {
		result.Status = messaging.StatusCancelled
	}
	result.ErrorType = string(errType)
	result.ErrorMessage = err.Error()
}

func setValue(result *messaging.WorkResult, value uint64) {
	result.Value = value
	result.Multiplier = work.Multiplier(value, result.Difficulty)
}

func rejected(req *messaging.WorkRequest, errType errors.ErrorType, message string) *messaging.WorkResult {
	return &messaging.WorkResult{
		RequestID:    req.RequestID,
		Action:       req.Action,
		Root:         req.Root,
		Difficulty:   req.Difficulty,
		Status:       messaging.StatusRejected,
		ErrorType:    string(errType),
		ErrorMessage: message,
	}
}

// workRecord converts a finished request into its audit row
func workRecord(req *messaging.WorkRequest, result *messaging.WorkResult) *postgres.WorkRecord {
	rec := &postgres.WorkRecord{
		RequestID:   req.RequestID,
		Requester:   req.Requester,
		Action:      req.Action.String(),
		Root:        req.Root.String(),
		Difficulty:  work.FormatThreshold(result.Difficulty),
		Status:      result.Status,
		Attempts:    int64(result.Attempts),
		DurationMs:  result.DurationMs,
		CreatedAt:   req.CreatedAt,
		CompletedAt: result.CompletedAt,
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = result.CompletedAt
	}

	switch result.Status {
	case messaging.StatusCompleted, messaging.StatusValid, messaging.StatusInvalid:
		nonce := result.Work.String()
		rec.Work = &nonce
	}
	if result.ErrorType != "" {
		errType := result.ErrorType
		rec.ErrorType = &errType
	}
	return rec
}
