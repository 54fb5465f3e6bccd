package browser

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/auditengine/siteauditor/internal/config"
	"github.com/auditengine/siteauditor/internal/types"
)

// testConfig returns a configuration suitable for testing.
// Uses a small pool size and short timeouts.
func testConfig() *config.Config {
	return &config.Config{
		Headless:           true,
		BrowserPoolSize:    2,
		BrowserPoolTimeout: 10 * time.Second,
		MaxMemoryMB:        1024,
	}
}

// skipCI skips tests that require a browser when run with -short.
func skipCI(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping browser test in short mode")
	}
}

func TestNewPool(t *testing.T) {
	skipCI(t)

	cfg := testConfig()
	pool, err := NewPool(cfg)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Close()

	if pool.Size() != cfg.BrowserPoolSize {
		t.Errorf("Expected pool size %d, got %d", cfg.BrowserPoolSize, pool.Size())
	}

	if pool.Available() != cfg.BrowserPoolSize {
		t.Errorf("Expected %d available browsers, got %d", cfg.BrowserPoolSize, pool.Available())
	}
}

func TestPoolAcquireRelease(t *testing.T) {
	skipCI(t)

	cfg := testConfig()
	pool, err := NewPool(cfg)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()

	lease, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Failed to acquire lease: %v", err)
	}

	if pool.Available() != cfg.BrowserPoolSize-1 {
		t.Errorf("Expected %d available after acquire, got %d",
			cfg.BrowserPoolSize-1, pool.Available())
	}

	if lease.Page() == nil {
		t.Error("Expected lease to carry a non-nil isolated page")
	}

	lease.Release(true)

	time.Sleep(100 * time.Millisecond)

	if pool.Available() != cfg.BrowserPoolSize {
		t.Errorf("Expected %d available after release, got %d",
			cfg.BrowserPoolSize, pool.Available())
	}
}

func TestPoolAcquireAll(t *testing.T) {
	skipCI(t)

	cfg := testConfig()
	pool, err := NewPool(cfg)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()

	leases := make([]*Lease, cfg.BrowserPoolSize)
	for i := 0; i < cfg.BrowserPoolSize; i++ {
		lease, err := pool.Acquire(ctx)
		if err != nil {
			t.Fatalf("Failed to acquire lease %d: %v", i, err)
		}
		leases[i] = lease
	}

	if pool.Available() != 0 {
		t.Errorf("Expected 0 available, got %d", pool.Available())
	}

	for _, lease := range leases {
		lease.Release(true)
	}
}

func TestPoolTimeout(t *testing.T) {
	skipCI(t)

	cfg := testConfig()
	cfg.BrowserPoolSize = 1
	cfg.BrowserPoolTimeout = 500 * time.Millisecond

	pool, err := NewPool(cfg)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()

	lease, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Failed to acquire lease: %v", err)
	}
	defer lease.Release(true)

	start := time.Now()
	_, err = pool.Acquire(ctx)
	elapsed := time.Since(start)

	if err == nil {
		t.Error("Expected timeout error, got nil")
	}

	if err != types.ErrPoolTimeout {
		t.Errorf("Expected ErrPoolTimeout, got %v", err)
	}

	if elapsed < 400*time.Millisecond || elapsed > 1*time.Second {
		t.Errorf("Expected timeout around 500ms, got %v", elapsed)
	}
}

func TestPoolContextCancellation(t *testing.T) {
	skipCI(t)

	cfg := testConfig()
	cfg.BrowserPoolSize = 1
	cfg.BrowserPoolTimeout = 10 * time.Second

	pool, err := NewPool(cfg)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Close()

	lease, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Failed to acquire lease: %v", err)
	}
	defer lease.Release(true)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = pool.Acquire(ctx)
	elapsed := time.Since(start)

	if err == nil {
		t.Error("Expected error, got nil")
	}

	if elapsed > 500*time.Millisecond {
		t.Errorf("Expected quick cancellation, got %v", elapsed)
	}
}

func TestPoolConcurrentAcquireRelease(t *testing.T) {
	skipCI(t)

	cfg := testConfig()
	cfg.BrowserPoolSize = 3

	pool, err := NewPool(cfg)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Close()

	const numGoroutines = 10
	const iterations = 5

	var wg sync.WaitGroup
	errCh := make(chan error, numGoroutines*iterations)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			for j := 0; j < iterations; j++ {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

				lease, err := pool.Acquire(ctx)
				if err != nil {
					errCh <- err
					cancel()
					continue
				}

				time.Sleep(50 * time.Millisecond)

				lease.Release(true)
				cancel()
			}
		}(i)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		t.Errorf("Got %d errors during concurrent test: %v", len(errs), errs[0])
	}
}

func TestPoolClose(t *testing.T) {
	skipCI(t)

	cfg := testConfig()
	pool, err := NewPool(cfg)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}

	if err := pool.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}

	_, err = pool.Acquire(context.Background())
	if err != types.ErrPoolClosed {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}

	if err := pool.Close(); err != nil {
		t.Errorf("Second Close returned error: %v", err)
	}
}

func TestPoolStats(t *testing.T) {
	skipCI(t)

	cfg := testConfig()
	pool, err := NewPool(cfg)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()

	stats := pool.Stats()
	if stats.Acquired != 0 || stats.Released != 0 {
		t.Errorf("Expected initial stats to be 0, got acquired=%d, released=%d",
			stats.Acquired, stats.Released)
	}

	lease, _ := pool.Acquire(ctx)
	lease.Release(true)

	time.Sleep(100 * time.Millisecond)

	stats = pool.Stats()
	if stats.Acquired != 1 {
		t.Errorf("Expected acquired=1, got %d", stats.Acquired)
	}
	if stats.Released != 1 {
		t.Errorf("Expected released=1, got %d", stats.Released)
	}
}

// Benchmark tests

func BenchmarkPoolAcquireRelease(b *testing.B) {
	cfg := testConfig()
	cfg.BrowserPoolSize = 3

	pool, err := NewPool(cfg)
	if err != nil {
		b.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		lease, err := pool.Acquire(ctx)
		if err != nil {
			b.Fatalf("Failed to acquire: %v", err)
		}
		lease.Release(true)
	}
}

func BenchmarkPoolConcurrent(b *testing.B) {
	cfg := testConfig()
	cfg.BrowserPoolSize = 3

	pool, err := NewPool(cfg)
	if err != nil {
		b.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Close()

	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			lease, err := pool.Acquire(ctx)
			if err != nil {
				continue
			}
			lease.Release(true)
		}
	})
}
