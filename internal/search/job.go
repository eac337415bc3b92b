package search

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bardlex/nanowork/internal/work"
	"github.com/bardlex/nanowork/pkg/log"
)

var (
	// ErrCancelled is returned when the caller stopped the search before a nonce was claimed
	ErrCancelled = errors.New("search cancelled")
	// ErrExhausted is returned when every assigned nonce was tested without a match
	ErrExhausted = errors.New("nonce space exhausted")
	// ErrWorkerFault is returned when a worker panicked before a nonce was claimed
	ErrWorkerFault = errors.New("search worker fault")
)

// State is the lifecycle state of a search job
type State int32

const (
	// StateIdle - job created, workers not started
	StateIdle State = iota
	// StateRunning - workers are testing nonces
	StateRunning
	// StateCompleted - a nonce was claimed
	StateCompleted
	// StateCancelled - the caller stopped the search
	StateCancelled
	// StateExhausted - every partition was covered without a match
	StateExhausted
	// StateFailed - a worker fault ended the search
	StateFailed
)

// String returns string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen from s
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Result describes a successful search
type Result struct {
	Nonce    work.Nonce
	Attempts uint64
	Workers  int
	Duration time.Duration
}

// outcome is written once, through the CAS in Job.finish. Its presence is
// the terminal state; whoever installs it owns the terminal transition.
type outcome struct {
	state State
	nonce work.Nonce
	err   error
}

// Job is the state of one search invocation. Nothing in it is shared with
// other jobs.
type Job struct {
	id        string
	root      work.Root
	threshold uint64
	workers   int
	batch     uint64
	base      uint64
	limits    []uint64
	check     checkFunc
	logger    *log.Logger

	state     atomic.Int32
	stop      atomic.Bool
	result    atomic.Pointer[outcome]
	attempts  atomic.Uint64
	remaining atomic.Int32

	done    chan struct{}
	wg      sync.WaitGroup
	started time.Time
	elapsed atomic.Int64
}

// ID returns the job identifier
func (j *Job) ID() string { return j.id }

// Root returns the root being searched
func (j *Job) Root() work.Root { return j.root }

// Threshold returns the difficulty threshold being searched
func (j *Job) Threshold() uint64 { return j.threshold }

// Workers returns the number of workers assigned to the job
func (j *Job) Workers() int { return j.workers }

// Attempts returns the number of nonces tested so far. It is updated once per
// batch, so it trails the true count while the job runs.
func (j *Job) Attempts() uint64 { return j.attempts.Load() }

// State returns the current lifecycle state
func (j *Job) State() State {
	if o := j.result.Load(); o != nil {
		return o.state
	}
	return State(j.state.Load())
}

// Done is closed once the job reaches a terminal state. Workers may still be
// finishing their current batch; Wait blocks until they have exited.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel stops the search. It is a no-op if a terminal state was already
// reached, so a nonce claimed before Cancel is still returned by Wait.
func (j *Job) Cancel() bool {
	return j.finish(&outcome{state: StateCancelled, err: ErrCancelled})
}

// Wait blocks until the job is terminal and every worker has returned.
func (j *Job) Wait() (*Result, error) {
	<-j.done
	j.wg.Wait()

	o := j.result.Load()
	if o.state != StateCompleted {
		return nil, o.err
	}

	return &Result{
		Nonce:    o.nonce,
		Attempts: j.attempts.Load(),
		Workers:  j.workers,
		Duration: time.Duration(j.elapsed.Load()),
	}, nil
}

// finish performs the single terminal transition. Only the first caller wins.
func (j *Job) finish(o *outcome) bool {
	if !j.result.CompareAndSwap(nil, o) {
		return false
	}
	j.elapsed.Store(int64(time.Since(j.started)))
	j.stop.Store(true)
	close(j.done)
	return true
}

func (j *Job) claim(worker int, nonce work.Nonce) {
	if j.finish(&outcome{state: StateCompleted, nonce: nonce}) {
		j.logger.Debug("nonce claimed", "worker", worker, "work", nonce.String())
	}
}

// partitionDone is called by a worker that tested every nonce assigned to
// it. The last one to finish declares the job exhausted.
func (j *Job) partitionDone() {
	if j.remaining.Add(-1) == 0 {
		j.finish(&outcome{state: StateExhausted, err: ErrExhausted})
	}
}

// run tests nonces base+offset for offset = id, id+W, id+2W, ... where W is
// the worker count. Offsets never wrap, so the workers' offsets partition
// [0, 2^64) exactly; the nonce itself wraps modulo 2^64.
func (j *Job) run(id int, limit uint64) {
	defer j.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: worker %d: %v", ErrWorkerFault, id, r)
			if j.finish(&outcome{state: StateFailed, err: err}) {
				j.logger.Error("search worker panicked", "worker", id, "panic", fmt.Sprint(r))
			}
		}
	}()

	hasher := work.NewHasher()
	stride := uint64(j.workers)
	offset := uint64(id)

	var tested, pending uint64
	defer func() { j.attempts.Add(pending) }()

	for !j.stop.Load() {
		for range j.batch {
			nonce := work.Nonce(j.base + offset)
			tested++
			pending++

			if j.check(hasher, j.root, nonce, j.threshold) {
				j.claim(id, nonce)
				return
			}

			next, ok := advance(offset, stride)
			if !ok || tested == limit {
				j.partitionDone()
				return
			}
			offset = next
		}

		j.attempts.Add(pending)
		pending = 0
	}
}

// advance returns the next offset of a partition, or false once the offset
// would pass 2^64-1.
func advance(offset, stride uint64) (uint64, bool) {
	if offset > maxOffset-stride {
		return 0, false
	}
	return offset + stride, true
}
