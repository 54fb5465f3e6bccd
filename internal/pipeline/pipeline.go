// Package pipeline wires every component into the top-level Audit
// Pipeline: sitemap discovery, an optional low-cost pre-filter pass,
// the full analyzer queue pass, summary aggregation, and report sink
// hand-off.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog/log"

	"github.com/auditengine/siteauditor/internal/analyzers"
	"github.com/auditengine/siteauditor/internal/backpressure"
	"github.com/auditengine/siteauditor/internal/blockdetect"
	"github.com/auditengine/siteauditor/internal/browser"
	"github.com/auditengine/siteauditor/internal/config"
	"github.com/auditengine/siteauditor/internal/interaction"
	"github.com/auditengine/siteauditor/internal/metrics"
	"github.com/auditengine/siteauditor/internal/netcapture"
	"github.com/auditengine/siteauditor/internal/orchestrator"
	"github.com/auditengine/siteauditor/internal/queue"
	"github.com/auditengine/siteauditor/internal/redirect"
	"github.com/auditengine/siteauditor/internal/reportsink"
	"github.com/auditengine/siteauditor/internal/resultfactory"
	"github.com/auditengine/siteauditor/internal/sitemap"
	"github.com/auditengine/siteauditor/internal/types"
)

// prefilterTimeout bounds each pre-filter navigation; it exists only to
// classify redirects cheaply, so it is much shorter than a full analyzer
// pass's timeout.
const prefilterTimeout = 8 * time.Second

// backpressureSampleInterval is how often the sampler goroutine reads the
// queue's live counters into the Backpressure Controller.
const backpressureSampleInterval = 1 * time.Second

// Pipeline owns every long-lived component a run needs: the browser pool,
// the budget manager, the analyzer orchestrator, and the configured report
// sinks. One Pipeline serves exactly one Run call; Close tears everything
// down afterward.
type Pipeline struct {
	cfg       *config.Config
	pool      *browser.Pool
	budgetMgr *config.BudgetManager
	orch      *orchestrator.Orchestrator
	detector  *redirect.Detector
	scrollCfg interaction.ScrollConfig
	sinks     []reportsink.Sink
	bp        *backpressure.Controller

	analyzerTimeout time.Duration

	activeMu    sync.RWMutex
	activeQueue *queue.Queue
}

// Len, InFlight, and ErrorRate let a Pipeline satisfy httpapi.QueueStatus
// so the status API's /progress endpoint can report on whichever queue
// pass (pre-filter or main) is currently running, without this package
// importing httpapi.
func (p *Pipeline) Len() int {
	p.activeMu.RLock()
	defer p.activeMu.RUnlock()
	if p.activeQueue == nil {
		return 0
	}
	return p.activeQueue.Len()
}

func (p *Pipeline) InFlight() int {
	p.activeMu.RLock()
	defer p.activeMu.RUnlock()
	if p.activeQueue == nil {
		return 0
	}
	return p.activeQueue.InFlight()
}

func (p *Pipeline) ErrorRate() float64 {
	p.activeMu.RLock()
	defer p.activeMu.RUnlock()
	if p.activeQueue == nil {
		return 0
	}
	return p.activeQueue.ErrorRate()
}

func (p *Pipeline) setActiveQueue(q *queue.Queue) {
	p.activeMu.Lock()
	p.activeQueue = q
	p.activeMu.Unlock()
}

// New builds a Pipeline: starts the browser pool, loads the budget
// template, and assembles the analyzer registry. Callers must call Close
// when done, even on error paths after New succeeds.
func New(cfg *config.Config) (*Pipeline, error) {
	pool, err := browser.NewPool(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize browser pool: %w", err)
	}

	overrides := config.Budget{
		LCPMs:  cfg.BudgetOverrideLCPMs,
		CLS:    cfg.BudgetOverrideCLS,
		FCPMs:  cfg.BudgetOverrideFCPMs,
		TTFBMs: cfg.BudgetOverrideTTFBMs,
	}
	budgetMgr, err := config.NewBudgetManager(cfg.BudgetTemplate, overrides, cfg.BudgetPath, cfg.BudgetHotReload)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("initialize budget manager: %w", err)
	}

	analyzerList := analyzers.Registry(cfg)
	applyBudget(analyzerList, budgetMgr.Get())

	detector := redirect.New()
	detector.SkipNonTrivial = cfg.SkipRedirects

	thresholds := backpressure.DefaultThresholds()
	thresholds.Disabled = cfg.CI

	analyzerTimeout := cfg.DefaultTimeout
	if cfg.Comprehensive {
		analyzerTimeout = cfg.ComprehensiveTimeout
	}

	return &Pipeline{
		cfg:             cfg,
		pool:            pool,
		budgetMgr:       budgetMgr,
		orch:            orchestrator.New(analyzerList),
		detector:        detector,
		scrollCfg:       interaction.DefaultScrollConfig(),
		sinks:           reportsink.Registry(cfg.Formats),
		bp:              backpressure.New(thresholds),
		analyzerTimeout: analyzerTimeout,
	}, nil
}

// applyBudget wires the active budget template into the performance
// analyzer. Every other analyzer is budget-independent.
func applyBudget(list []analyzers.Analyzer, b *config.Budget) {
	for _, a := range list {
		if perf, ok := a.(*analyzers.PerformanceAnalyzer); ok {
			perf.WithBudget(&analyzers.Budget{
				LCPMs:  b.LCPMs,
				CLSMax: b.CLS,
				FCPMs:  b.FCPMs,
				TTFBMs: b.TTFBMs,
				WLCP:   b.Weights.LCP,
				WCLS:   b.Weights.CLS,
				WFCP:   b.Weights.FCP,
				WTTFB:  b.Weights.TTFB,
			})
		}
	}
}

// Close tears down the browser pool and budget manager. Safe to call once
// after New succeeds, regardless of whether Run was called.
func (p *Pipeline) Close() {
	if err := p.pool.Close(); err != nil {
		log.Error().Err(err).Msg("pipeline: error closing browser pool")
	}
	if err := p.budgetMgr.Close(); err != nil {
		log.Warn().Err(err).Msg("pipeline: error closing budget manager")
	}
}

// Result is the outcome of one full Run: the aggregated report plus the
// paths every configured sink wrote to.
type Result struct {
	Report       reportsink.Report
	WrittenPaths []string
}

// Run discovers the page set from sitemapURL, pre-filters obvious
// redirects, runs the full analyzer queue over what remains, aggregates a
// Summary, and hands the result to every configured report sink.
func (p *Pipeline) Run(ctx context.Context, sitemapURL string) (*Result, error) {
	provider := sitemap.NewHTTPProvider(p.cfg.DefaultTimeout)
	urls, err := provider.Discover(ctx, sitemapURL)
	if err != nil {
		return nil, fmt.Errorf("sitemap discovery: %w", err)
	}

	if p.cfg.MaxPages > 0 && len(urls) > p.cfg.MaxPages {
		log.Info().Int("discovered", len(urls)).Int("max_pages", p.cfg.MaxPages).
			Msg("capping discovered URL set to maxPages")
		urls = urls[:p.cfg.MaxPages]
	}

	startedAt := time.Now()

	kept, prefiltered := p.runPrefilter(ctx, urls)
	log.Info().Int("kept", len(kept)).Int("prefiltered", len(prefiltered)).Msg("pre-filter pass complete")

	stats := p.runMainPass(ctx, kept)

	results := make([]*types.PageResult, 0, len(prefiltered)+len(stats.All()))
	results = append(results, prefiltered...)
	results = append(results, stats.All()...)

	summary := buildSummary(results, startedAt)

	report := reportsink.Report{
		Summary:   summary,
		Pages:     results,
		StartedAt: startedAt,
		EndedAt:   time.Now(),
	}

	var written []string
	for _, sink := range p.sinks {
		path, err := sink.Write(p.cfg.OutputDir, report)
		if err != nil {
			log.Error().Err(err).Str("sink", sink.Name()).Msg("report sink failed to write")
			continue
		}
		written = append(written, path)
	}

	return &Result{Report: report, WrittenPaths: written}, nil
}

// runPrefilter issues short, analyzer-free navigations to every discovered
// URL to drop obvious redirects before the expensive analyzer pass. It
// returns the URLs worth a full pass and the terminal skipped-redirect
// Page Results produced along the way.
func (p *Pipeline) runPrefilter(ctx context.Context, urls []string) (kept []string, final []*types.PageResult) {
	if len(urls) == 0 {
		return nil, nil
	}

	opts := queue.Options{
		MaxConcurrent:    p.cfg.Concurrency,
		MaxRetries:       0,
		ProgressInterval: 5 * time.Second,
	}
	q := queue.New(opts, nil)

	q.OnEvent(func(e queue.Event) {
		switch e.Kind {
		case queue.EventSkipped:
			final = append(final, e.Result)
		case queue.EventCompleted, queue.EventFailed:
			// The pre-filter only exists to drop redirects. A URL whose
			// cheap, short-deadline navigation failed still deserves the
			// full-timeout pass before being written off.
			kept = append(kept, e.Item.URL)
		}
	})

	p.setActiveQueue(q)
	defer p.setActiveQueue(nil)

	q.Enqueue(urls)
	q.Process(ctx, p.prefilterItem)
	return kept, final
}

// prefilterItem navigates once, under a short deadline, purely to classify
// the redirect. No analyzers run. A non-skip outcome reports a minimal
// passed marker; runPrefilter only inspects its event kind, not its body.
func (p *Pipeline) prefilterItem(ctx context.Context, item *types.WorkItem) (*types.PageResult, *types.AuditError) {
	itemCtx, cancel := context.WithTimeout(ctx, prefilterTimeout)
	defer cancel()

	lease, err := p.pool.Acquire(itemCtx)
	if err != nil {
		return nil, types.NewBrowserError(item.URL, err)
	}
	healthy := true
	defer func() { lease.Release(healthy) }()

	// No analyzer reads images, stylesheets, fonts, or media on a
	// redirect-classification navigation, so block all four to keep this
	// pass cheap regardless of how heavy the page itself is.
	if cleanup, err := browser.BlockResources(itemCtx, lease.Page(), true, true, true, true); err != nil {
		log.Debug().Err(err).Str("url", item.URL).Msg("prefilter: resource blocking unavailable, navigating unfiltered")
	} else {
		defer cleanup()
	}

	meta, navErr := p.detector.Navigate(itemCtx, lease.Page(), item.URL)
	if navErr != nil {
		healthy = false
		return nil, types.NewNetworkError(item.URL, navErr)
	}

	if p.detector.ShouldSkip(meta) {
		return resultfactory.BuildSkipped(item.URL, item.StartedAt, meta), nil
	}

	return &types.PageResult{URL: item.URL, Status: types.StatusPassed}, nil
}

// runMainPass runs the full analyzer queue over the pre-filtered URL set,
// consulting the Backpressure Controller before every dispatch and
// reporting live progress and Prometheus metrics as it goes.
func (p *Pipeline) runMainPass(ctx context.Context, urls []string) *queue.Stats {
	opts := queue.Options{
		MaxConcurrent:    p.cfg.Concurrency,
		MaxRetries:       p.cfg.MaxRetries,
		BaseRetryDelay:   500 * time.Millisecond,
		MaxRetryDelay:    30 * time.Second,
		ProgressInterval: 5 * time.Second,
	}
	q := queue.New(opts, p.bp)

	q.OnEvent(func(e queue.Event) {
		switch e.Kind {
		case queue.EventRetrying:
			metrics.RetriesTotal.Inc()
		case queue.EventCompleted, queue.EventFailed, queue.EventSkipped:
			duration := time.Duration(0)
			if e.Result != nil {
				duration = time.Duration(e.Result.DurationMs) * time.Millisecond
			}
			if e.Kind == queue.EventSkipped && e.Result != nil && e.Result.Redirect != nil && !e.Result.Redirect.Trivial {
				metrics.RedirectsSkippedTotal.Inc()
			}
			metrics.RecordPage(string(e.Kind), duration)
		}
	})
	q.OnProgress(func(pr queue.Progress) {
		log.Info().
			Int("completed", pr.Completed).
			Int("total", pr.Total).
			Float64("percentage", pr.Percentage).
			Int("active_workers", pr.ActiveWorkers).
			Dur("eta", pr.ETA).
			Msg("audit progress")
		metrics.UpdateQueueMetrics(q.Len(), pr.ActiveWorkers)
	})

	if len(urls) > 0 {
		q.Enqueue(urls)
	}

	p.setActiveQueue(q)
	defer p.setActiveQueue(nil)

	stopSampler := make(chan struct{})
	if !p.cfg.CI {
		go p.sampleBackpressure(q, stopSampler)
	}
	defer close(stopSampler)

	return q.Process(ctx, p.processItem)
}

// sampleBackpressure periodically feeds the queue's live counters into the
// Backpressure Controller and mirrors its state into Prometheus, until
// stopCh closes.
func (p *Pipeline) sampleBackpressure(q *queue.Queue, stopCh <-chan struct{}) {
	ticker := time.NewTicker(backpressureSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.bp.Sample(backpressure.Sample{
				QueueLen:      q.Len(),
				ActiveWorkers: q.InFlight(),
				ErrorRate:     q.ErrorRate(),
			})
			metrics.UpdateBackpressureMetrics(p.bp.IsActive(), p.bp.CurrentDelay())
			metrics.UpdatePoolMetrics(p.pool.Size(), p.pool.Available())
		}
	}
}

// processItem runs the full per-page pipeline: acquire a lease, navigate
// and classify redirects, trigger lazy-load, capture the main document's
// status code, check for a bot-challenge page, run the analyzer set, and
// assemble the strict Page Result.
func (p *Pipeline) processItem(ctx context.Context, item *types.WorkItem) (*types.PageResult, *types.AuditError) {
	lease, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, types.NewBrowserError(item.URL, err)
	}
	healthy := true
	defer func() { lease.Release(healthy) }()

	page := lease.Page()

	capture, cleanup, err := netcapture.Attach(ctx, page)
	if err != nil {
		log.Debug().Err(err).Str("url", item.URL).Msg("pipeline: network capture unavailable, status defaults to 200")
	}

	redirectMeta, navErr := p.detector.Navigate(ctx, page, item.URL)
	cleanup()
	if navErr != nil {
		healthy = false
		return nil, types.NewNetworkError(item.URL, navErr)
	}

	if p.detector.ShouldSkip(redirectMeta) {
		return resultfactory.BuildSkipped(item.URL, item.StartedAt, redirectMeta), nil
	}

	interaction.TriggerLazyLoad(ctx, page, p.scrollCfg)

	body, htmlErr := page.HTML()
	if htmlErr != nil {
		healthy = false
		return nil, types.NewBrowserError(item.URL, htmlErr)
	}

	if verdict := blockdetect.Detect(capture.StatusCode(), body); verdict.Blocked {
		metrics.RecordBlockedPage(string(verdict.Category))
		meta := redirectMeta
		if meta == nil {
			meta = &types.RedirectMetadata{Original: item.URL, Final: item.URL, Classification: redirect.ClassificationNone, Trivial: true}
		}
		log.Warn().Str("url", item.URL).Str("code", verdict.Code).Str("reason", verdict.Reason).Msg("page identified as bot-challenge or block page")
		return resultfactory.BuildSkipped(item.URL, item.StartedAt, meta), nil
	}

	title, _ := pageTitle(page)

	analyses := p.orch.Run(ctx, page, item.URL, orchestrator.Options{Timeout: p.analyzerTimeout})
	for _, ae := range analyses.Errors {
		metrics.RecordAnalyzerError(string(ae.Kind))
	}

	result := resultfactory.Build(item.URL, title, item.StartedAt, redirectMeta, analyses, nil)
	return result, nil
}

// pageTitle safely reads the page title, tolerating navigation targets
// that never settle enough for CDP to report one.
func pageTitle(page *rod.Page) (string, error) {
	info, err := page.Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

// peakMemoryMB reports the current heap allocation as a stand-in for peak
// memory; runtime.MemStats does not track a run-scoped high-water mark.
func peakMemoryMB() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.Alloc) / 1024 / 1024
}

// buildSummary folds every terminal Page Result into a Summary, computing
// each tested page's contribution to the average score as the unweighted
// mean of its enabled analyzer section scores. Skipped and crashed pages
// fold their counts in but contribute no score.
func buildSummary(results []*types.PageResult, startedAt time.Time) types.Summary {
	var summary types.Summary
	var scores []float64

	for _, r := range results {
		summary.Fold(r)
		if r.Status == types.StatusPassed || r.Status == types.StatusFailed {
			scores = append(scores, pageScore(r))
		}
	}
	summary.Finalize(scores)

	elapsed := time.Since(startedAt)
	summary.System.DurationMs = elapsed.Milliseconds()
	if elapsed.Minutes() > 0 {
		summary.System.PagesPerMin = float64(summary.Tested) / elapsed.Minutes()
	}
	summary.System.PeakMemoryMB = peakMemoryMB()

	return summary
}

// pageScore is the unweighted mean of the enabled mandatory analyzer
// section scores. Sections disabled by configuration are excluded from the
// denominator, so turning an analyzer off never drags the average; the two
// optional sections (security headers, structured data) are informational
// and excluded likewise.
func pageScore(r *types.PageResult) float64 {
	disabled := make(map[string]bool, len(r.DisabledAnalyzers))
	for _, d := range r.DisabledAnalyzers {
		disabled[d] = true
	}

	total, count := 0.0, 0
	include := func(kind analyzers.Kind, score float64) {
		if disabled[string(kind)] {
			return
		}
		total += score
		count++
	}
	include(analyzers.KindAccessibility, r.Accessibility.Score)
	include(analyzers.KindPerformance, r.Performance.Score)
	include(analyzers.KindSEO, r.SEO.Score)
	include(analyzers.KindContentWeight, r.ContentWeight.Score)
	include(analyzers.KindMobile, r.Mobile.OverallScore)

	if count == 0 {
		return 0
	}
	return total / float64(count)
}
