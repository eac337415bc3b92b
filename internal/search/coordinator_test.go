package search

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/bardlex/nanowork/internal/work"
	"github.com/bardlex/nanowork/pkg/log"
)

// lowThreshold accepts about one nonce in 4096
const lowThreshold uint64 = 0xfff0000000000000

func newTestCoordinator(cfg *Config) *Coordinator {
	logger := log.New("test-search", "test", "error", "json")
	return NewCoordinator(cfg, logger)
}

func testRoot(seed byte) work.Root {
	var root work.Root
	for i := range root {
		root[i] = seed + byte(i)
	}
	return root
}

func TestNewCoordinator_Defaults(t *testing.T) {
	c := newTestCoordinator(&Config{})

	if c.config.Workers <= 0 {
		t.Errorf("NewCoordinator() workers = %d, want NumCPU", c.config.Workers)
	}
	if c.config.BatchSize != DefaultBatchSize {
		t.Errorf("NewCoordinator() batch = %d, want %d", c.config.BatchSize, DefaultBatchSize)
	}

	c = newTestCoordinator(nil)
	if c.Workers() <= 0 {
		t.Errorf("NewCoordinator(nil) workers = %d", c.Workers())
	}
}

func TestSearch_ZeroThresholdFirstNonce(t *testing.T) {
	c := newTestCoordinator(&Config{Workers: 1})
	c.offset = func() uint64 { return 0 }

	result, err := c.Search(context.Background(), work.Root{}, 0)
	if err != nil {
		t.Fatalf("Search() unexpected error: %v", err)
	}

	if result.Nonce != 0 {
		t.Errorf("Search() nonce = %s, want 0000000000000000", result.Nonce)
	}
	if result.Attempts != 1 {
		t.Errorf("Search() attempts = %d, want 1", result.Attempts)
	}
	if !work.IsValid(work.Root{}, result.Nonce, 0) {
		t.Error("Search() returned nonce rejected by the validator")
	}
}

func TestSearch_GenerateThenValidate(t *testing.T) {
	c := newTestCoordinator(&Config{Workers: 4})

	for seed := byte(0); seed < 8; seed++ {
		root := testRoot(seed)

		result, err := c.Search(context.Background(), root, lowThreshold)
		if err != nil {
			t.Fatalf("Search(root %d) unexpected error: %v", seed, err)
		}
		if !work.IsValid(root, result.Nonce, lowThreshold) {
			t.Errorf("Search(root %d) nonce %s fails validation", seed, result.Nonce)
		}
		if result.Workers != 4 {
			t.Errorf("Search() workers = %d, want 4", result.Workers)
		}
		if result.Attempts == 0 {
			t.Error("Search() attempts = 0")
		}
	}
}

func TestSearch_ConcurrentJobs(t *testing.T) {
	c := newTestCoordinator(&Config{Workers: 3})
	root := testRoot(42)

	const runs = 12
	nonces := make(chan work.Nonce, runs)
	errs := make(chan error, runs)

	var wg sync.WaitGroup
	for range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := c.Search(context.Background(), root, lowThreshold)
			if err != nil {
				errs <- err
				return
			}
			nonces <- result.Nonce
		}()
	}
	wg.Wait()
	close(nonces)
	close(errs)

	for err := range errs {
		t.Fatalf("Search() unexpected error: %v", err)
	}

	distinct := make(map[work.Nonce]struct{})
	for n := range nonces {
		if !work.IsValid(root, n, lowThreshold) {
			t.Errorf("concurrent Search() nonce %s fails validation", n)
		}
		distinct[n] = struct{}{}
	}

	// Random base offsets make identical winners across all runs vanishingly unlikely
	if len(distinct) < 2 {
		t.Errorf("%d runs produced %d distinct nonces", runs, len(distinct))
	}
}

func TestSearch_CancelImmediately(t *testing.T) {
	c := newTestCoordinator(&Config{Workers: 4})

	ctx, cancel := context.WithCancel(context.Background())
	job := c.Start(ctx, testRoot(1), math.MaxUint64)
	cancel()

	done := make(chan struct{})
	var (
		result *Result
		err    error
	)
	go func() {
		result, err = job.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait() did not return after cancellation")
	}

	if !errors.Is(err, ErrCancelled) {
		t.Errorf("Wait() error = %v, want ErrCancelled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want wrapped context.Canceled", err)
	}
	if result != nil {
		t.Errorf("Wait() returned result %+v after cancellation", result)
	}
	if job.State() != StateCancelled {
		t.Errorf("State() = %s, want cancelled", job.State())
	}
}

func TestSearch_DeadlineExceeded(t *testing.T) {
	c := newTestCoordinator(&Config{Workers: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Search(ctx, testRoot(2), math.MaxUint64)
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Search() error = %v, want ErrCancelled wrapping DeadlineExceeded", err)
	}
}

func TestSearch_ContextAlreadyDone(t *testing.T) {
	c := newTestCoordinator(&Config{Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := c.Start(ctx, testRoot(3), 0)
	if _, err := job.Wait(); !errors.Is(err, ErrCancelled) {
		t.Errorf("Wait() error = %v, want ErrCancelled", err)
	}
	if job.Attempts() != 0 {
		t.Errorf("Attempts() = %d, want 0", job.Attempts())
	}
}

func TestJob_Cancel(t *testing.T) {
	c := newTestCoordinator(&Config{Workers: 2})
	job := c.Start(context.Background(), testRoot(4), math.MaxUint64)

	if !job.Cancel() {
		t.Fatal("Cancel() = false on a running job")
	}
	if job.Cancel() {
		t.Error("second Cancel() = true, want false")
	}

	if _, err := job.Wait(); !errors.Is(err, ErrCancelled) {
		t.Errorf("Wait() error = %v, want ErrCancelled", err)
	}
}

func TestSearch_Exhausted(t *testing.T) {
	c := newTestCoordinator(&Config{Workers: 3, MaxAttempts: 1000, BatchSize: 64})

	job := c.Start(context.Background(), testRoot(5), math.MaxUint64)
	result, err := job.Wait()

	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("Wait() error = %v, want ErrExhausted", err)
	}
	if result != nil {
		t.Errorf("Wait() result = %+v, want nil", result)
	}
	if job.Attempts() != 1000 {
		t.Errorf("Attempts() = %d, want 1000", job.Attempts())
	}
	if job.State() != StateExhausted {
		t.Errorf("State() = %s, want exhausted", job.State())
	}
}

func TestSearch_BudgetSmallerThanWorkers(t *testing.T) {
	c := newTestCoordinator(&Config{Workers: 8, MaxAttempts: 3})

	job := c.Start(context.Background(), testRoot(6), math.MaxUint64)
	if job.Workers() != 3 {
		t.Errorf("Workers() = %d, want 3", job.Workers())
	}
	if _, err := job.Wait(); !errors.Is(err, ErrExhausted) {
		t.Errorf("Wait() error = %v, want ErrExhausted", err)
	}
}

func TestSearch_PartitionsAreDisjoint(t *testing.T) {
	const (
		workers = 4
		budget  = 4096
		base    = math.MaxUint64 - 100 // forces the nonce to wrap
	)

	c := newTestCoordinator(&Config{Workers: workers, MaxAttempts: budget, BatchSize: 128})
	c.offset = func() uint64 { return base }

	var mu sync.Mutex
	seen := make(map[work.Nonce]int)
	c.check = func(_ *work.Hasher, _ work.Root, nonce work.Nonce, _ uint64) bool {
		mu.Lock()
		seen[nonce]++
		mu.Unlock()
		return false
	}

	if _, err := c.Search(context.Background(), testRoot(7), 0); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Search() error = %v, want ErrExhausted", err)
	}

	if len(seen) != budget {
		t.Fatalf("tested %d distinct nonces, want %d", len(seen), budget)
	}
	for offset := uint64(0); offset < budget; offset++ {
		n := work.Nonce(uint64(base) + offset)
		if seen[n] != 1 {
			t.Fatalf("nonce %s tested %d times, want 1", n, seen[n])
		}
	}
}

func TestSearch_SingleWinner(t *testing.T) {
	c := newTestCoordinator(&Config{Workers: 8})

	var mu sync.Mutex
	accepted := make(map[work.Nonce]struct{})
	c.check = func(_ *work.Hasher, _ work.Root, nonce work.Nonce, _ uint64) bool {
		mu.Lock()
		accepted[nonce] = struct{}{}
		mu.Unlock()
		return true
	}

	job := c.Start(context.Background(), testRoot(8), 0)
	result, err := job.Wait()
	if err != nil {
		t.Fatalf("Wait() unexpected error: %v", err)
	}

	if _, ok := accepted[result.Nonce]; !ok {
		t.Errorf("winning nonce %s was never tested", result.Nonce)
	}
	if job.State() != StateCompleted {
		t.Errorf("State() = %s, want completed", job.State())
	}

	// Terminal states are immutable
	if job.Cancel() {
		t.Error("Cancel() after completion = true")
	}
	again, err := job.Wait()
	if err != nil || again.Nonce != result.Nonce {
		t.Errorf("second Wait() = %v, %v; want %s", again, err, result.Nonce)
	}
}

func TestSearch_WorkerPanicIsContained(t *testing.T) {
	const workers = 4

	c := newTestCoordinator(&Config{Workers: workers, BatchSize: 16})
	c.offset = func() uint64 { return 0 }
	c.check = func(_ *work.Hasher, _ work.Root, nonce work.Nonce, _ uint64) bool {
		if nonce%workers == 0 {
			panic("hash backend failure")
		}
		return false
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Search(context.Background(), testRoot(9), math.MaxUint64)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrWorkerFault) {
			t.Errorf("Search() error = %v, want ErrWorkerFault", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Search() deadlocked after a worker panic")
	}
}

func TestAdvance(t *testing.T) {
	tests := []struct {
		name   string
		offset uint64
		stride uint64
		want   uint64
		wantOK bool
	}{
		{"start", 0, 4, 4, true},
		{"last step fits", math.MaxUint64 - 4, 4, math.MaxUint64, true},
		{"would wrap", math.MaxUint64 - 3, 4, 0, false},
		{"at the end", math.MaxUint64, 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := advance(tt.offset, tt.stride)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("advance(%d, %d) = %d, %v; want %d, %v", tt.offset, tt.stride, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSplitBudget(t *testing.T) {
	tests := []struct {
		name    string
		total   uint64
		workers int
		want    []uint64
	}{
		{"unbounded", 0, 3, []uint64{0, 0, 0}},
		{"even", 9, 3, []uint64{3, 3, 3}},
		{"remainder to first workers", 11, 3, []uint64{4, 4, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitBudget(tt.total, tt.workers)
			if len(got) != len(tt.want) {
				t.Fatalf("splitBudget() len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("splitBudget()[%d] = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
		terminal bool
	}{
		{StateIdle, "idle", false},
		{StateRunning, "running", false},
		{StateCompleted, "completed", true},
		{StateCancelled, "cancelled", true},
		{StateExhausted, "exhausted", true},
		{StateFailed, "failed", true},
		{State(99), "unknown", true},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("State.String() = %q, want %q", got, tt.expected)
			}
			if got := tt.state.Terminal(); got != tt.terminal {
				t.Errorf("State.Terminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}
