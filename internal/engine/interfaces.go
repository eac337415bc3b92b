// Package engine exposes proof-of-work generation and validation to the
// services. It owns the registry of in-flight searches so work for a root can
// be cancelled once the root is no longer needed.
package engine

import (
	"context"
	"time"

	"github.com/bardlex/nanowork/internal/search"
	"github.com/bardlex/nanowork/internal/work"
)

// WorkInterface defines the contract the request handlers depend on.
// Generation blocks until a nonce is found, ctx is done, or the search
// cannot continue; validation never blocks.
type WorkInterface interface {
	// Generate searches for a nonce whose work value for root is at least
	// difficulty and returns the search statistics along with it.
	Generate(ctx context.Context, root work.Root, difficulty uint64) (*search.Result, error)

	// ValidateWork reports whether nonce satisfies difficulty for root.
	ValidateWork(root work.Root, nonce work.Nonce, difficulty uint64) bool

	// CancelWork stops every in-flight search for root and returns how many
	// were stopped.
	CancelWork(root work.Root) int
}

// Observer receives the outcome of every generation and validation.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	ObserveSearch(outcome SearchOutcome)
	ObserveValidation(difficulty uint64, valid bool)
}

// SearchOutcome summarises a finished search for observers
type SearchOutcome struct {
	Root       work.Root
	Difficulty uint64
	State      search.State
	Nonce      work.Nonce // zero unless State is StateCompleted
	Value      uint64     // work value of Nonce, zero unless completed
	Attempts   uint64
	Workers    int
	Duration   time.Duration
}

// Ensure Engine implements WorkInterface
var _ WorkInterface = (*Engine)(nil)
