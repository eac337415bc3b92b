// Package validation admits work requests before they reach the engine. It
// rejects malformed or stale requests and difficulties the service refuses to
// search for.
package validation

import (
	"fmt"
	"time"

	"github.com/bardlex/nanowork/internal/messaging"
	"github.com/bardlex/nanowork/internal/work"
	"github.com/bardlex/nanowork/pkg/errors"
)

// RequestValidator checks work requests against service limits
type RequestValidator struct {
	defaultDifficulty uint64
	maxMultiplier     float64 // 0 disables the difficulty ceiling
	maxAge            time.Duration
	maxTimeSkew       time.Duration
	now               func() time.Time
}

// NewRequestValidator creates a validator. Generation requests may ask for at
// most maxMultiplier times the default difficulty.
func NewRequestValidator(defaultDifficulty uint64, maxMultiplier float64, maxAge, maxTimeSkew time.Duration) *RequestValidator {
	return &RequestValidator{
		defaultDifficulty: defaultDifficulty,
		maxMultiplier:     maxMultiplier,
		maxAge:            maxAge,
		maxTimeSkew:       maxTimeSkew,
		now:               time.Now,
	}
}

// MaxDifficulty returns the hardest threshold a generation may request
func (v *RequestValidator) MaxDifficulty() uint64 {
	if v.maxMultiplier <= 0 {
		return ^uint64(0)
	}
	return work.FromMultiplier(v.maxMultiplier, v.defaultDifficulty)
}

// ValidateRequest reports why req cannot be processed. The returned error is
// a validation ServiceError.
func (v *RequestValidator) ValidateRequest(req *messaging.WorkRequest) error {
	if err := v.validateBasicFields(req); err != nil {
		return invalid(err, req)
	}

	if err := v.validateTime(req); err != nil {
		return invalid(err, req)
	}

	if err := v.validateDifficulty(req); err != nil {
		return invalid(err, req)
	}

	return nil
}

// validateBasicFields checks that all required fields are present and valid
func (v *RequestValidator) validateBasicFields(req *messaging.WorkRequest) error {
	if req.RequestID == "" {
		return fmt.Errorf("request ID is required")
	}

	switch req.Action {
	case messaging.ActionGenerate, messaging.ActionValidate, messaging.ActionCancel:
	default:
		return fmt.Errorf("unsupported action %q", req.Action.String())
	}

	return nil
}

// validateTime rejects requests that waited too long in the topic or that
// claim to come from the future
func (v *RequestValidator) validateTime(req *messaging.WorkRequest) error {
	if req.CreatedAt.IsZero() {
		return nil
	}

	now := v.now()

	if v.maxTimeSkew > 0 && req.CreatedAt.After(now.Add(v.maxTimeSkew)) {
		return fmt.Errorf("request time too far in future")
	}

	// Cancels are cheap and still useful late
	if v.maxAge > 0 && req.Action != messaging.ActionCancel && now.Sub(req.CreatedAt) > v.maxAge {
		return fmt.Errorf("request is stale (age %s, max %s)", now.Sub(req.CreatedAt).Round(time.Millisecond), v.maxAge)
	}

	return nil
}

// validateDifficulty enforces the generation ceiling
func (v *RequestValidator) validateDifficulty(req *messaging.WorkRequest) error {
	if req.Action != messaging.ActionGenerate || req.Difficulty == 0 {
		return nil
	}

	if maxDifficulty := v.MaxDifficulty(); req.Difficulty > maxDifficulty {
		return fmt.Errorf("difficulty %s above maximum %s",
			work.FormatThreshold(req.Difficulty), work.FormatThreshold(maxDifficulty))
	}

	return nil
}

func invalid(err error, req *messaging.WorkRequest) error {
	return errors.Wrap(err, errors.ErrorTypeValidation, "validate_request", "invalid work request").
		WithContext("request_id", req.RequestID).
		WithContext("action", req.Action.String())
}
