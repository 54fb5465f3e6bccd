// Package orchestrator runs one page's enabled analyzer set under a
// combined deadline, isolating each analyzer's failure from its siblings.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/auditengine/siteauditor/internal/analyzers"
)

// maxConcurrentAnalyzers bounds how many analyzers evaluate a page at
// once. CDP serializes much of this work regardless; the cap just keeps
// the orchestrator from firing an unbounded burst of Eval calls at once.
const maxConcurrentAnalyzers = 4

// AnalyzerError pairs an analyzer's kind with the error it returned, so
// the Result Factory can synthesize a schema-complete section in its place.
type AnalyzerError struct {
	Kind analyzers.Kind
	Err  error
}

// PageAnalyses is the Orchestrator's raw output for one page: a section
// result per analyzer that succeeded, keyed by kind, and one AnalyzerError
// per analyzer that failed or timed out.
type PageAnalyses struct {
	Sections map[analyzers.Kind]interface{}
	Errors   []AnalyzerError
	// Attempted records the kinds this run actually executed, so the
	// Result Factory can tell an analyzer disabled by configuration apart
	// from one that ran and failed. Nil means unknown: every kind is then
	// treated as attempted.
	Attempted map[analyzers.Kind]bool
}

// Options configures one Run call.
type Options struct {
	// Timeout bounds the whole run; exceeding it cancels every analyzer
	// still in flight.
	Timeout time.Duration
	// FailFast, when true, stops launching and cancels in-flight
	// analyzers as soon as one returns an error. Default false: always
	// run every enabled analyzer and return partial results.
	FailFast bool
}

// Orchestrator runs a fixed, registry-built analyzer list against pages.
type Orchestrator struct {
	list []analyzers.Analyzer
}

func New(list []analyzers.Analyzer) *Orchestrator {
	return &Orchestrator{list: list}
}

// Run evaluates every analyzer in the Orchestrator's list against page,
// each under its own Timeout() sub-deadline nested inside opts.Timeout.
// Analyzer order in list is the one deterministic thing here: concurrent
// execution means completion order is not predictable, but Sections is
// keyed by Kind so callers can always reassemble it in registry order.
func (o *Orchestrator) Run(ctx context.Context, page *rod.Page, url string, opts Options) *PageAnalyses {
	result := &PageAnalyses{
		Sections:  make(map[analyzers.Kind]interface{}, len(o.list)),
		Attempted: make(map[analyzers.Kind]bool, len(o.list)),
	}
	for _, a := range o.list {
		result.Attempted[a.Kind()] = true
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	eg, egCtx := errgroup.WithContext(runCtx)
	eg.SetLimit(maxConcurrentAnalyzers)

	var mu sync.Mutex
	aborted := false

	for _, a := range o.list {
		a := a
		eg.Go(func() error {
			mu.Lock()
			skip := opts.FailFast && aborted
			mu.Unlock()
			if skip {
				return nil
			}

			analyzerCtx, analyzerCancel := context.WithTimeout(egCtx, a.Timeout())
			defer analyzerCancel()

			section, err := a.Analyze(analyzerCtx, page, url)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn().Err(err).Str("analyzer", string(a.Kind())).Str("url", url).Msg("analyzer failed")
				result.Errors = append(result.Errors, AnalyzerError{Kind: a.Kind(), Err: err})
				if opts.FailFast {
					aborted = true
					return err
				}
				return nil
			}
			result.Sections[a.Kind()] = section
			return nil
		})
	}

	_ = eg.Wait()
	return result
}
