// Package queue implements the Queue / Worker Pool: it owns
// pending URLs, dispatches them to workers under a concurrency cap,
// retries transient failures with backoff, and reports progress. The
// pending heap is guarded by the queue's mutex: the dispatcher pops from
// it, while Enqueue and the retry-backoff goroutines push onto it. Workers
// report completion through the mutex-guarded counters, a wake channel,
// and the serialized Stats accumulator.
package queue

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/auditengine/siteauditor/internal/backpressure"
	"github.com/auditengine/siteauditor/internal/resultfactory"
	"github.com/auditengine/siteauditor/internal/types"
)

const errorWindowSize = 50

// EventKind names a point in a work item's strict per-item event order:
// started -> (retrying)* -> (completed | failed | skipped), exactly one
// terminal event per item.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventRetrying  EventKind = "retrying"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventSkipped   EventKind = "skipped"
)

// Event is delivered to the queue's event subscriber, in strict per-item
// order, serialized against all other items' events.
type Event struct {
	Item   *types.WorkItem
	Kind   EventKind
	Result *types.PageResult
	Err    error
}

// Progress is a periodic snapshot of run progress.
type Progress struct {
	Completed     int
	Total         int
	Percentage    float64
	ActiveWorkers int
	ETA           time.Duration
	MemoryMB      float64
}

// Processor drives one work item to a result. Classification, if non-nil,
// tells the queue whether and how to retry; the Page Result may then be
// nil, and the queue builds one through the Result Factory if the item
// fails terminally. A nil classification means the result is non-nil and
// terminal as returned.
type Processor func(ctx context.Context, item *types.WorkItem) (*types.PageResult, *types.AuditError)

// Options configures one Queue.
type Options struct {
	MaxConcurrent    int
	MaxRetries       int
	BaseRetryDelay   time.Duration
	MaxRetryDelay    time.Duration
	ProgressInterval time.Duration
}

func (o *Options) normalize() {
	if o.MaxConcurrent < 1 {
		o.MaxConcurrent = 1
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BaseRetryDelay <= 0 {
		o.BaseRetryDelay = 500 * time.Millisecond
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = 30 * time.Second
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 2 * time.Second
	}
}

// Queue dispatches Work Items to a Processor under a bounded concurrency
// cap, consulting a Backpressure Controller before each dispatch.
type Queue struct {
	mu          sync.Mutex
	pending     itemHeap
	seq         uint64
	nextID      uint64
	total       int
	inFlight    int // concurrently-running processor calls, bounded by MaxConcurrent
	outstanding int // enqueued but not yet terminal, including items asleep in retry backoff
	errTracker  *errorRateTracker

	bp   *backpressure.Controller
	opts Options

	onEvent    func(Event)
	onProgress func(Progress)
	eventMu    sync.Mutex

	wake chan struct{}
}

// New creates a Queue. bp may be nil, in which case no inter-dispatch
// delay is advised (equivalent to a disabled Backpressure Controller).
func New(opts Options, bp *backpressure.Controller) *Queue {
	opts.normalize()
	return &Queue{
		opts:       opts,
		bp:         bp,
		errTracker: newErrorRateTracker(errorWindowSize),
		wake:       make(chan struct{}, 1),
	}
}

// OnEvent registers the per-item event subscriber. Must be called before
// Process; events are delivered serialized against each other.
func (q *Queue) OnEvent(fn func(Event)) { q.onEvent = fn }

// OnProgress registers the periodic progress subscriber.
func (q *Queue) OnProgress(fn func(Progress)) { q.onProgress = fn }

// Enqueue assigns work-item ids and priorities (via ComputePriority) to
// each URL and adds them to the pending set. Safe to call before Process
// or, for a long-lived queue, concurrently with it.
func (q *Queue) Enqueue(urls []string) []*types.WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	items := make([]*types.WorkItem, 0, len(urls))
	for _, u := range urls {
		q.nextID++
		q.seq++
		item := &types.WorkItem{
			ID:        q.nextID,
			URL:       u,
			Priority:  int(ComputePriority(u)),
			Status:    types.ItemPending,
			CreatedAt: now,
		}
		item.SetSeq(q.seq)
		heap.Push(&q.pending, item)
		items = append(items, item)
	}
	q.total += len(urls)
	q.outstanding += len(urls)
	q.notify()
	return items
}

// Len returns the current pending count.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// InFlight returns the current number of workers actively running a
// processor call (bounded by MaxConcurrent).
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// ErrorRate returns the rolling error rate over the last errorWindowSize
// attempts, for the Backpressure Controller's sampler.
func (q *Queue) ErrorRate() float64 {
	return q.errTracker.rate()
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) emit(e Event) {
	if q.onEvent == nil {
		return
	}
	q.eventMu.Lock()
	defer q.eventMu.Unlock()
	q.onEvent(e)
}

// Process runs every enqueued item to a terminal state and returns the
// accumulated Stats. Once ctx is done, items already running are allowed
// to finish (and, if they fail, are not retried), but anything still
// waiting in the pending set is drained immediately as skipped rather than
// dispatched, so Process always returns promptly after cancellation.
func (q *Queue) Process(ctx context.Context, proc Processor) *Stats {
	stats := newStats()
	eta := &durationEMA{}
	var wg sync.WaitGroup

	progressTicker := time.NewTicker(q.opts.ProgressInterval)
	defer progressTicker.Stop()

	for {
		q.mu.Lock()
		pendingLen := q.pending.Len()
		outstanding := q.outstanding
		q.mu.Unlock()

		if pendingLen == 0 && outstanding == 0 {
			break
		}

		canceled := ctx.Err() != nil
		if canceled && pendingLen > 0 {
			// Never-dispatched items are drained as skipped rather than left
			// to loop forever behind the cancellation gate below.
			q.mu.Lock()
			for q.pending.Len() > 0 {
				item := heap.Pop(&q.pending).(*types.WorkItem)
				q.outstanding--
				q.mu.Unlock()
				item.Status = types.ItemSkipped
				result := resultfactory.BuildSkipped(item.URL, time.Now(), nil)
				stats.recordSkipped(result)
				q.emit(Event{Item: item, Kind: EventSkipped, Result: result})
				q.mu.Lock()
			}
			q.mu.Unlock()
			continue
		}

		if pendingLen == 0 || canceled {
			select {
			case <-q.wake:
			case <-progressTicker.C:
				q.emitProgress(stats, eta)
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		q.mu.Lock()
		if q.inFlight >= q.opts.MaxConcurrent {
			q.mu.Unlock()
			select {
			case <-q.wake:
			case <-progressTicker.C:
				q.emitProgress(stats, eta)
			}
			continue
		}
		q.mu.Unlock()

		if q.bp != nil {
			if delay := q.bp.CurrentDelay(); delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
				}
			}
		}

		q.mu.Lock()
		if q.pending.Len() == 0 || q.inFlight >= q.opts.MaxConcurrent {
			q.mu.Unlock()
			continue
		}
		item := heap.Pop(&q.pending).(*types.WorkItem)
		q.inFlight++ // outstanding was already counted at Enqueue time
		q.mu.Unlock()

		wg.Add(1)
		go q.runItem(ctx, item, proc, stats, &wg, eta)

		select {
		case <-progressTicker.C:
			q.emitProgress(stats, eta)
		default:
		}
	}

	wg.Wait()
	stats.finalize()
	return stats
}

func (q *Queue) runItem(ctx context.Context, item *types.WorkItem, proc Processor, stats *Stats, wg *sync.WaitGroup, eta *durationEMA) {
	defer wg.Done()

	item.Attempts++
	item.Status = types.ItemInFlight
	item.StartedAt = time.Now()
	q.emit(Event{Item: item, Kind: EventStarted})

	result, classification := proc(ctx, item)
	item.EndedAt = time.Now()
	duration := item.EndedAt.Sub(item.StartedAt)

	if classification != nil {
		q.errTracker.record(true)
		if q.shouldRetry(ctx, classification, item) {
			item.Status = types.ItemRetrying
			item.LastError = classification.Error()
			stats.recordRetry()
			q.emit(Event{Item: item, Kind: EventRetrying, Result: result, Err: classification})

			backoff := retryBackoff(q.opts.BaseRetryDelay, item.Attempts, q.opts.MaxRetryDelay)
			log.Warn().Str("url", item.URL).Int("attempt", item.Attempts).Dur("backoff", backoff).Err(classification).Msg("retrying work item")
			q.mu.Lock()
			q.inFlight-- // processor call finished; item remains outstanding while it sleeps
			q.mu.Unlock()
			q.notify()

			wg.Add(1)
			go func() {
				defer wg.Done()
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
				}
				q.mu.Lock()
				q.seq++
				item.SetSeq(q.seq)
				heap.Push(&q.pending, item)
				q.mu.Unlock()
				q.notify()
			}()
			return
		}

		item.Status = types.ItemFailed
		item.LastError = classification.Error()
		if result == nil {
			result = resultfactory.Build(item.URL, "", item.StartedAt, nil, nil, classification)
		}
		stats.recordFailed(result)
		q.emit(Event{Item: item, Kind: EventFailed, Result: result, Err: classification})
		log.Error().Str("url", item.URL).Int("attempts", item.Attempts).Err(classification).Msg("work item failed terminally")
		eta.record(duration)
		q.finishDispatch()
		return
	}

	q.errTracker.record(false)
	eta.record(duration)

	switch result.Status {
	case types.StatusSkipped:
		item.Status = types.ItemSkipped
		stats.recordSkipped(result)
		q.emit(Event{Item: item, Kind: EventSkipped, Result: result})
	case types.StatusCrashed:
		item.Status = types.ItemFailed
		item.LastError = result.LastError
		stats.recordFailed(result)
		q.emit(Event{Item: item, Kind: EventFailed, Result: result})
	default: // passed or failed (accessibility outcome) both mean "tested"
		item.Status = types.ItemCompleted
		stats.recordCompleted(result)
		q.emit(Event{Item: item, Kind: EventCompleted, Result: result})
	}
	q.finishDispatch()
}

func (q *Queue) finishDispatch() {
	q.mu.Lock()
	q.inFlight--
	q.outstanding--
	q.mu.Unlock()
	q.notify()
}

// shouldRetry applies the retry policy: only transient kinds are
// retryable, attempts (already incremented for the try just made) must
// leave room for at least one more try within maxRetries+1 total, and a
// canceled context forecloses further retries (nothing would ever
// dispatch them).
func (q *Queue) shouldRetry(ctx context.Context, classification *types.AuditError, item *types.WorkItem) bool {
	if classification == nil || !classification.Retryable() {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	return item.Attempts <= q.opts.MaxRetries
}

// retryBackoff computes baseDelay * 2^(attempt-1), capped at maxDelay.
func retryBackoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func (q *Queue) emitProgress(stats *Stats, eta *durationEMA) {
	if q.onProgress == nil {
		return
	}
	completed, failed, skipped := stats.Counts()
	done := completed + failed + skipped

	q.mu.Lock()
	total := q.total
	active := q.inFlight
	q.mu.Unlock()

	var pct float64
	if total > 0 {
		pct = 100 * float64(done) / float64(total)
	}

	remaining := total - done
	var etaRemaining time.Duration
	if remaining > 0 {
		etaRemaining = eta.get() * time.Duration(remaining)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	q.onProgress(Progress{
		Completed:     done,
		Total:         total,
		Percentage:    pct,
		ActiveWorkers: active,
		ETA:           etaRemaining,
		MemoryMB:      float64(mem.Alloc) / 1024 / 1024,
	})
}
