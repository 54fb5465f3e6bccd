package queue

import (
	"sync"
	"time"

	"github.com/auditengine/siteauditor/internal/types"
)

// Stats is the result of one Process run: the terminal Page Results
// bucketed by how the work item ended, plus run-level timing. Populated
// only by completion handlers, one event at a time (single writer lock).
type Stats struct {
	mu sync.Mutex

	Completed []*types.PageResult
	Failed    []*types.PageResult
	Skipped   []*types.PageResult

	Retries int

	StartedAt time.Time
	EndedAt   time.Time
}

func newStats() *Stats {
	return &Stats{StartedAt: time.Now()}
}

func (s *Stats) recordCompleted(r *types.PageResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Completed = append(s.Completed, r)
}

func (s *Stats) recordFailed(r *types.PageResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failed = append(s.Failed, r)
}

func (s *Stats) recordSkipped(r *types.PageResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Skipped = append(s.Skipped, r)
}

func (s *Stats) recordRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Retries++
}

func (s *Stats) finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EndedAt = time.Now()
}

// Counts returns the terminal bucket sizes under lock, for progress and
// final-summary reporting.
func (s *Stats) Counts() (completed, failed, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Completed), len(s.Failed), len(s.Skipped)
}

// All returns every terminal Page Result produced by this run, in no
// particular cross-item order (completion order is not predictable).
func (s *Stats) All() []*types.PageResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.PageResult, 0, len(s.Completed)+len(s.Failed)+len(s.Skipped))
	out = append(out, s.Completed...)
	out = append(out, s.Failed...)
	out = append(out, s.Skipped...)
	return out
}

// errorRateTracker is a fixed-size sliding window of attempt outcomes,
// feeding the Backpressure Controller's rolling error-rate input.
type errorRateTracker struct {
	mu     sync.Mutex
	window []bool
	size   int
	next   int
	filled int
}

func newErrorRateTracker(size int) *errorRateTracker {
	if size < 1 {
		size = 1
	}
	return &errorRateTracker{window: make([]bool, size), size: size}
}

func (t *errorRateTracker) record(isErr bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window[t.next] = isErr
	t.next = (t.next + 1) % t.size
	if t.filled < t.size {
		t.filled++
	}
}

func (t *errorRateTracker) rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.filled == 0 {
		return 0
	}
	errs := 0
	for i := 0; i < t.filled; i++ {
		if t.window[i] {
			errs++
		}
	}
	return float64(errs) / float64(t.filled)
}

// durationEMA smooths per-item durations for the progress ETA estimate.
type durationEMA struct {
	mu  sync.Mutex
	avg time.Duration
	has bool
}

const etaSmoothingAlpha = 0.3

func (e *durationEMA) record(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.has {
		e.avg = d
		e.has = true
		return
	}
	e.avg = time.Duration(etaSmoothingAlpha*float64(d) + (1-etaSmoothingAlpha)*float64(e.avg))
}

func (e *durationEMA) get() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.avg
}
