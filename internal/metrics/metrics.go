// Package metrics provides Prometheus metrics for the audit engine.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PagesTotal counts audited pages by terminal status.
	PagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditor_pages_total",
			Help: "Total pages processed by terminal status",
		},
		[]string{"status"},
	)

	// PageDuration tracks per-page analysis duration.
	PageDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auditor_page_duration_seconds",
			Help:    "Per-page analysis duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~256s
		},
	)

	// AnalyzerErrorsTotal counts analyzer failures by analyzer name.
	AnalyzerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditor_analyzer_errors_total",
			Help: "Total analyzer failures by analyzer",
		},
		[]string{"analyzer"},
	)

	// BrowserPoolSize shows the configured pool size.
	BrowserPoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "auditor_browser_pool_size",
			Help: "Configured browser pool size",
		},
	)

	// BrowserPoolAvailable shows available browsers in the pool.
	BrowserPoolAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "auditor_browser_pool_available",
			Help: "Available browsers in pool",
		},
	)

	// BrowserPoolAcquiredTotal counts total lease acquisitions.
	BrowserPoolAcquiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auditor_browser_pool_acquired_total",
			Help: "Total lease acquisitions from the browser pool",
		},
	)

	// BrowserPoolRecycledTotal counts browser recycles.
	BrowserPoolRecycledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auditor_browser_pool_recycled_total",
			Help: "Total browsers recycled",
		},
	)

	// QueueLength shows the current number of pending work items.
	QueueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "auditor_queue_length",
			Help: "Pending work items in the queue",
		},
	)

	// ActiveWorkers shows currently dispatched workers.
	ActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "auditor_active_workers",
			Help: "Currently dispatched workers",
		},
	)

	// RetriesTotal counts work item retries.
	RetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auditor_retries_total",
			Help: "Total work item retries",
		},
	)

	// BackpressureActive reports whether the backpressure controller is
	// currently in the Active state (1) or Inactive (0).
	BackpressureActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "auditor_backpressure_active",
			Help: "1 if the backpressure controller is active, 0 otherwise",
		},
	)

	// BackpressureDelaySeconds shows the currently advised inter-dispatch delay.
	BackpressureDelaySeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "auditor_backpressure_delay_seconds",
			Help: "Currently advised inter-dispatch delay in seconds",
		},
	)

	// RedirectsSkippedTotal counts pages skipped due to non-trivial redirects.
	RedirectsSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auditor_redirects_skipped_total",
			Help: "Total pages skipped due to non-trivial redirects",
		},
	)

	// BlockedPagesTotal counts pages classified as bot-challenge/block pages.
	BlockedPagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditor_blocked_pages_total",
			Help: "Total pages classified as blocked, by category",
		},
		[]string{"category"},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "auditor_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// MemorySysBytes shows system memory obtained.
	MemorySysBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "auditor_memory_sys_bytes",
			Help: "Total memory obtained from system",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "auditor_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "auditor_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		PagesTotal,
		PageDuration,
		AnalyzerErrorsTotal,
		BrowserPoolSize,
		BrowserPoolAvailable,
		BrowserPoolAcquiredTotal,
		BrowserPoolRecycledTotal,
		QueueLength,
		ActiveWorkers,
		RetriesTotal,
		BackpressureActive,
		BackpressureDelaySeconds,
		RedirectsSkippedTotal,
		BlockedPagesTotal,
		MemoryUsageBytes,
		MemorySysBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector periodically updates memory metrics until stopCh
// closes. Run it in its own goroutine.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	MemorySysBytes.Set(float64(m.Sys))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordPage records metrics for a completed page.
func RecordPage(status string, duration time.Duration) {
	PagesTotal.WithLabelValues(status).Inc()
	PageDuration.Observe(duration.Seconds())
}

// RecordAnalyzerError records a single analyzer failure.
func RecordAnalyzerError(analyzer string) {
	AnalyzerErrorsTotal.WithLabelValues(analyzer).Inc()
}

// RecordBlockedPage records a page classified as blocked, by category.
func RecordBlockedPage(category string) {
	BlockedPagesTotal.WithLabelValues(category).Inc()
}

// UpdatePoolMetrics updates browser pool gauges.
func UpdatePoolMetrics(size, available int) {
	BrowserPoolSize.Set(float64(size))
	BrowserPoolAvailable.Set(float64(available))
}

// UpdateQueueMetrics updates queue/dispatch gauges.
func UpdateQueueMetrics(queueLen, activeWorkers int) {
	QueueLength.Set(float64(queueLen))
	ActiveWorkers.Set(float64(activeWorkers))
}

// UpdateBackpressureMetrics updates backpressure gauges.
func UpdateBackpressureMetrics(active bool, delay time.Duration) {
	if active {
		BackpressureActive.Set(1)
	} else {
		BackpressureActive.Set(0)
	}
	BackpressureDelaySeconds.Set(delay.Seconds())
}
