package analyzers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-rod/rod"

	"github.com/auditengine/siteauditor/internal/types"
)

// PerformanceAnalyzer collects Core Web Vitals using a layered strategy:
// PerformanceObserver entries first, falling back to the Navigation
// Timing API when the observer hasn't fired anything useful yet. Both
// paths run inside one in-page evaluation so the analyzer never needs a
// second round trip.
type PerformanceAnalyzer struct {
	timeout time.Duration
	budget  *Budget
}

// Budget is the subset of config.Budget the performance analyzer scores
// against; defined locally to avoid an import cycle with internal/config,
// and populated by the Pipeline (applyBudget) from the active BudgetManager.
type Budget struct {
	LCPMs  float64
	CLSMax float64
	FCPMs  float64
	TTFBMs float64
	WLCP   float64
	WCLS   float64
	WFCP   float64
	WTTFB  float64
}

func DefaultBudget() *Budget {
	return &Budget{
		LCPMs: 2500, CLSMax: 0.1, FCPMs: 1800, TTFBMs: 800,
		WLCP: 0.25, WCLS: 0.25, WFCP: 0.35, WTTFB: 0.15,
	}
}

func NewPerformanceAnalyzer(timeout time.Duration) *PerformanceAnalyzer {
	return &PerformanceAnalyzer{timeout: timeout, budget: DefaultBudget()}
}

// WithBudget overrides the default budget; the Pipeline calls this once
// per run using the configured BudgetManager's current template.
func (p *PerformanceAnalyzer) WithBudget(b *Budget) *PerformanceAnalyzer {
	p.budget = b
	return p
}

func (p *PerformanceAnalyzer) Kind() Kind             { return KindPerformance }
func (p *PerformanceAnalyzer) Timeout() time.Duration { return p.timeout }

type rawVitals struct {
	LCPMs              float64 `json:"lcp_ms"`
	FCPMs              float64 `json:"fcp_ms"`
	CLS                float64 `json:"cls"`
	TTFBMs             float64 `json:"ttfb_ms"`
	DOMContentLoadedMs float64 `json:"dom_content_loaded_ms"`
	LoadCompleteMs     float64 `json:"load_complete_ms"`
	FirstPaintMs       float64 `json:"first_paint_ms"`
	Source             string  `json:"source"` // "observer" | "navigation-timing"
}

func (p *PerformanceAnalyzer) Analyze(ctx context.Context, page *rod.Page, url string) (interface{}, error) {
	pg := page.Context(ctx)
	res, err := pg.Eval(coreWebVitalsScript)
	if err != nil {
		return nil, err
	}

	var raw rawVitals
	if err := json.Unmarshal([]byte(res.Value.Str()), &raw); err != nil {
		return nil, err
	}

	vitals := types.CoreWebVitals{
		LCPMs:              raw.LCPMs,
		FCPMs:              raw.FCPMs,
		CLS:                raw.CLS,
		TTFBMs:             raw.TTFBMs,
		DOMContentLoadedMs: raw.DOMContentLoadedMs,
		LoadCompleteMs:     raw.LoadCompleteMs,
		FirstPaintMs:       raw.FirstPaintMs,
	}

	vitals = applyFallbackDerivations(vitals)

	score, issues := scoreVitals(vitals, p.budget)

	if metricsQualityScore(vitals) < acceptableQuality {
		// Even after derivations, too few metrics are present or plausible
		// to trust the score; say so rather than report a silent zero-row.
		issues = append(issues, types.PerformanceIssue{
			Metric:  "collection",
			Message: "Too few timing metrics could be collected; the score is based on incomplete data",
		})
	}

	return &types.PerformanceSection{
		Score:         score,
		Grade:         types.Grade(score),
		CoreWebVitals: vitals,
		Issues:        issues,
	}, nil
}

// acceptableQuality is the minimum metricsQualityScore at which a
// collection strategy's output is considered trustworthy.
const acceptableQuality = 0.4

// metricsQualityScore checks presence and plausibility of each metric:
// LCP under 30s, CLS under 5, and so on. A zero CLS is indistinguishable
// from "never collected", so it only counts when a paint metric confirms
// the collection path actually ran.
func metricsQualityScore(v types.CoreWebVitals) float64 {
	checks := []bool{
		v.LCPMs > 0 && v.LCPMs < 30000,
		v.FCPMs > 0 && v.FCPMs < 30000,
		v.CLS >= 0 && v.CLS < 5 && (v.FCPMs > 0 || v.FirstPaintMs > 0),
		v.TTFBMs > 0 && v.TTFBMs < 30000,
	}
	passed := 0
	for _, ok := range checks {
		if ok {
			passed++
		}
	}
	return float64(passed) / float64(len(checks))
}

// applyFallbackDerivations fills missing metrics from ones we do have.
func applyFallbackDerivations(v types.CoreWebVitals) types.CoreWebVitals {
	if v.LCPMs == 0 && v.FCPMs > 0 {
		v.LCPMs = v.FCPMs * 1.2
	}
	if v.FCPMs == 0 && v.FirstPaintMs > 0 {
		v.FCPMs = v.FirstPaintMs
	}
	return v
}

// scoreVitals computes a weighted 0..100 score from budget checks.
// Each metric's own score is 100 at or under budget, decaying linearly
// to 0 at 2x budget (CLS's "budget" is a ceiling, not a duration).
func scoreVitals(v types.CoreWebVitals, b *Budget) (float64, []types.PerformanceIssue) {
	var issues []types.PerformanceIssue

	lcpScore := metricScore(v.LCPMs, b.LCPMs)
	clsScore := metricScore(v.CLS, b.CLSMax)
	fcpScore := metricScore(v.FCPMs, b.FCPMs)
	ttfbScore := metricScore(v.TTFBMs, b.TTFBMs)

	if v.LCPMs > b.LCPMs {
		issues = append(issues, types.PerformanceIssue{Metric: "lcp", Message: "Largest Contentful Paint exceeds budget"})
	}
	if v.CLS > b.CLSMax {
		issues = append(issues, types.PerformanceIssue{Metric: "cls", Message: "Cumulative Layout Shift exceeds budget"})
	}
	if v.FCPMs > b.FCPMs {
		issues = append(issues, types.PerformanceIssue{Metric: "fcp", Message: "First Contentful Paint exceeds budget"})
	}
	if v.TTFBMs > b.TTFBMs {
		issues = append(issues, types.PerformanceIssue{Metric: "ttfb", Message: "Time to First Byte exceeds budget"})
	}

	score := lcpScore*b.WLCP + clsScore*b.WCLS + fcpScore*b.WFCP + ttfbScore*b.WTTFB
	return types.ClampScore(score), issues
}

// metricScore scores one metric 100 at/under budget, linearly to 0 at
// twice budget, and 0 beyond that.
func metricScore(value, budget float64) float64 {
	if budget <= 0 {
		return 100
	}
	if value <= budget {
		return 100
	}
	poor := budget * 2
	if value >= poor {
		return 0
	}
	ratio := (value - budget) / (poor - budget)
	return 100 * (1 - ratio)
}

// coreWebVitalsScript prefers PerformanceObserver-buffered entries
// (largest-contentful-paint, layout-shift, paint) and falls back to the
// Navigation Timing API for TTFB/DCL/load when the observer path yields
// nothing, mirroring the browser-library-first, API-fallback ordering.
const coreWebVitalsScript = `() => {
  const nav = performance.getEntriesByType('navigation')[0];
  const paints = performance.getEntriesByType('paint');
  const fcpEntry = paints.find(p => p.name === 'first-contentful-paint');
  const fpEntry = paints.find(p => p.name === 'first-paint');

  let lcp = 0;
  const lcpEntries = performance.getEntriesByType('largest-contentful-paint');
  if (lcpEntries.length > 0) lcp = lcpEntries[lcpEntries.length - 1].renderTime || lcpEntries[lcpEntries.length - 1].loadTime || 0;

  let cls = 0;
  performance.getEntriesByType('layout-shift').forEach((entry) => {
    if (!entry.hadRecentInput) cls += entry.value;
  });

  let ttfb = 0, dcl = 0, load = 0, source = 'observer';
  if (nav) {
    ttfb = nav.responseStart - nav.requestStart;
    dcl = nav.domContentLoadedEventEnd - nav.startTime;
    load = nav.loadEventEnd - nav.startTime;
    if (lcp === 0 && fcpEntry) source = 'navigation-timing';
  }

  return JSON.stringify({
    lcp_ms: lcp,
    fcp_ms: fcpEntry ? fcpEntry.startTime : 0,
    cls: cls,
    ttfb_ms: ttfb > 0 ? ttfb : 0,
    dom_content_loaded_ms: dcl > 0 ? dcl : 0,
    load_complete_ms: load > 0 ? load : 0,
    first_paint_ms: fpEntry ? fpEntry.startTime : 0,
    source: source,
  });
}`
