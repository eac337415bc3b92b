package messaging

import (
	"fmt"
	"time"

	"github.com/bardlex/nanowork/internal/work"
)

// Action selects what a work request asks for
type Action int32

const (
	// ActionUnknown is the zero value and is rejected by handlers
	ActionUnknown Action = iota
	// ActionGenerate asks for a nonce meeting Difficulty for Root
	ActionGenerate
	// ActionValidate asks whether Work meets Difficulty for Root
	ActionValidate
	// ActionCancel stops every in-flight generation for Root
	ActionCancel
)

// String returns string representation of the action
func (a Action) String() string {
	switch a {
	case ActionGenerate:
		return "generate"
	case ActionValidate:
		return "validate"
	case ActionCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// ParseAction is the inverse of Action.String
func ParseAction(s string) (Action, error) {
	switch s {
	case "generate", "work_generate":
		return ActionGenerate, nil
	case "validate", "work_validate":
		return ActionValidate, nil
	case "cancel", "work_cancel":
		return ActionCancel, nil
	default:
		return ActionUnknown, fmt.Errorf("unknown work action %q", s)
	}
}

// Result statuses
const (
	StatusCompleted = "completed" // generate found a nonce
	StatusValid     = "valid"     // validate accepted the work
	StatusInvalid   = "invalid"   // validate rejected the work
	StatusCancelled = "cancelled" // cancel processed, or generate stopped early
	StatusFailed    = "failed"    // see ErrorType and ErrorMessage
	StatusRejected  = "rejected"  // request never reached the engine
)

// WorkRequest is consumed from TopicWorkRequests. Difficulty zero means the
// service default.
type WorkRequest struct {
	RequestID  string
	Requester  string
	Action     Action
	Root       work.Root
	Work       work.Nonce // validate only
	Difficulty uint64
	CreatedAt  time.Time
}

// WorkResult is published to TopicWorkResults, keyed by request ID
type WorkResult struct {
	RequestID    string
	Action       Action
	Root         work.Root
	Status       string
	Work         work.Nonce
	Difficulty   uint64
	Value        uint64  // work value of Work
	Multiplier   float64 // Value relative to Difficulty
	Attempts     uint64
	Cancelled    uint32 // searches stopped by a cancel request
	ErrorType    string
	ErrorMessage string
	DurationMs   float64
	CompletedAt  time.Time
}
