package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditengine/siteauditor/internal/types"
)

func passingProcessor(r *types.PageResult) Processor {
	return func(ctx context.Context, item *types.WorkItem) (*types.PageResult, *types.AuditError) {
		return r, nil
	}
}

func makeResult(url string) *types.PageResult {
	return &types.PageResult{URL: url, Status: types.StatusPassed}
}

// TestPriorityThenFIFODispatchOrder mirrors the priority-ordering seed
// scenario: under maxConcurrent=1, dispatch order must be home > landing >
// content > other, FIFO within a tier.
func TestPriorityThenFIFODispatchOrder(t *testing.T) {
	q := New(Options{MaxConcurrent: 1}, nil)

	var mu sync.Mutex
	var order []string

	q.Enqueue([]string{"/blog/a", "/home", "/", "/about", "/blog/b", "/contact"})

	proc := func(ctx context.Context, item *types.WorkItem) (*types.PageResult, *types.AuditError) {
		mu.Lock()
		order = append(order, item.URL)
		mu.Unlock()
		return makeResult(item.URL), nil
	}

	q.Process(context.Background(), proc)

	require.Equal(t, []string{"/home", "/", "/about", "/contact", "/blog/a", "/blog/b"}, order)
}

// TestRetryExhaustion mirrors the retry-exhaustion seed scenario: with
// maxRetries=2, a permanently-failing retryable item must be attempted
// exactly 3 times before terminating as failed.
func TestRetryExhaustion(t *testing.T) {
	q := New(Options{
		MaxConcurrent:  1,
		MaxRetries:     2,
		BaseRetryDelay: time.Millisecond,
		MaxRetryDelay:  10 * time.Millisecond,
	}, nil)

	var attempts int
	var mu sync.Mutex

	q.Enqueue([]string{"https://example.com/flaky"})

	proc := func(ctx context.Context, item *types.WorkItem) (*types.PageResult, *types.AuditError) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil, types.NewNetworkError(item.URL, assert.AnError)
	}

	stats := q.Process(context.Background(), proc)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, stats.Retries)
	completed, failed, skipped := stats.Counts()
	assert.Equal(t, 0, completed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 0, skipped)
}

func TestEventOrderPerItem(t *testing.T) {
	q := New(Options{MaxConcurrent: 2, MaxRetries: 1, BaseRetryDelay: time.Millisecond, MaxRetryDelay: 5 * time.Millisecond}, nil)

	var mu sync.Mutex
	var kinds []EventKind
	first := true

	q.OnEvent(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, e.Kind)
	})

	q.Enqueue([]string{"https://example.com/retry-once"})

	proc := func(ctx context.Context, item *types.WorkItem) (*types.PageResult, *types.AuditError) {
		mu.Lock()
		shouldFail := first
		first = false
		mu.Unlock()
		if shouldFail {
			return nil, types.NewTimeoutError(item.URL, assert.AnError)
		}
		return makeResult(item.URL), nil
	}

	q.Process(context.Background(), proc)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []EventKind{EventStarted, EventRetrying, EventStarted, EventCompleted}, kinds)
}

func TestEmptyQueueProcessReturnsImmediately(t *testing.T) {
	q := New(Options{}, nil)
	stats := q.Process(context.Background(), passingProcessor(nil))
	completed, failed, skipped := stats.Counts()
	assert.Zero(t, completed+failed+skipped)
}

func TestRetryBackoffCapsAtMax(t *testing.T) {
	max := 4 * time.Second
	base := time.Second
	assert.Equal(t, base, retryBackoff(base, 1, max))
	assert.Equal(t, 2*time.Second, retryBackoff(base, 2, max))
	assert.Equal(t, max, retryBackoff(base, 3, max))
	assert.Equal(t, max, retryBackoff(base, 10, max))
}

func TestComputePriorityTable(t *testing.T) {
	assert.Equal(t, PriorityHome, ComputePriority("/"))
	assert.Equal(t, PriorityHome, ComputePriority("/home"))
	assert.Equal(t, PriorityLanding, ComputePriority("/lp/spring-sale"))
	assert.Equal(t, PriorityContent, ComputePriority("/about"))
	assert.Equal(t, PriorityOther, ComputePriority("/blog/a"))
}
