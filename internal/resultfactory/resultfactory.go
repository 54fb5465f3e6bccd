// Package resultfactory turns Orchestrator output and page metadata into
// the strict, always-shape-complete Page Result the rest of the engine
// and every report sink can rely on.
package resultfactory

import (
	"time"

	"github.com/auditengine/siteauditor/internal/analyzers"
	"github.com/auditengine/siteauditor/internal/orchestrator"
	"github.com/auditengine/siteauditor/internal/types"
)

// Build assembles the Page Result for a page that was navigated and
// analyzed. navErr, if non-nil, means navigation itself failed (not an
// analyzer) and forces status=crashed regardless of analyses.
func Build(url, title string, startedAt time.Time, redirect *types.RedirectMetadata, analyses *orchestrator.PageAnalyses, navErr error) *types.PageResult {
	result := &types.PageResult{
		URL:        url,
		Title:      title,
		DurationMs: time.Since(startedAt).Milliseconds(),
		TestedAt:   startedAt.UTC(),
		Redirect:   redirect,
	}

	if navErr != nil {
		result.Status = types.StatusCrashed
		result.LastError = navErr.Error()
		populateAllMissing(result)
		return result
	}

	populateSections(result, analyses)
	result.Status = classifyStatus(result)
	return result
}

// BuildSkipped assembles the Page Result for a page the Redirect Detector
// chose not to follow. No analyzers ran; every section is a synthesized
// failure slot (see populateAllMissing) and the redirect metadata explains why.
func BuildSkipped(url string, startedAt time.Time, redirect *types.RedirectMetadata) *types.PageResult {
	result := &types.PageResult{
		URL:        url,
		Status:     types.StatusSkipped,
		DurationMs: time.Since(startedAt).Milliseconds(),
		TestedAt:   startedAt.UTC(),
		Redirect:   redirect,
	}
	populateAllMissing(result)
	return result
}

// classifyStatus applies the status rule once every section is
// populated: failed if any accessibility error exists, passed otherwise.
// skipped and crashed are decided by their dedicated callers above.
func classifyStatus(r *types.PageResult) types.PageStatus {
	if len(r.Accessibility.Errors) > 0 {
		return types.StatusFailed
	}
	return types.StatusPassed
}

func populateSections(result *types.PageResult, analyses *orchestrator.PageAnalyses) {
	if analyses == nil {
		populateAllMissing(result)
		return
	}

	// Accessibility is always enabled; a missing section can only mean the
	// analyzer failed.
	if section, ok := analyses.Sections[analyzers.KindAccessibility].(*types.AccessibilitySection); ok {
		result.Accessibility = *section
	} else {
		result.Accessibility = synthesizeAccessibility(failureReason(analyses, analyzers.KindAccessibility))
	}

	if section, ok := analyses.Sections[analyzers.KindPerformance].(*types.PerformanceSection); ok {
		result.Performance = *section
	} else if attempted(analyses, analyzers.KindPerformance) {
		result.Performance = synthesizePerformance(failureReason(analyses, analyzers.KindPerformance))
	} else {
		result.Performance = types.PerformanceSection{Grade: types.Grade(0)}
		markDisabled(result, analyzers.KindPerformance)
	}

	if section, ok := analyses.Sections[analyzers.KindSEO].(*types.SEOSection); ok {
		result.SEO = *section
	} else if attempted(analyses, analyzers.KindSEO) {
		result.SEO = synthesizeSEO(failureReason(analyses, analyzers.KindSEO))
	} else {
		result.SEO = types.SEOSection{Grade: types.Grade(0)}
		markDisabled(result, analyzers.KindSEO)
	}

	if section, ok := analyses.Sections[analyzers.KindContentWeight].(*types.ContentWeightSection); ok {
		result.ContentWeight = *section
	} else if attempted(analyses, analyzers.KindContentWeight) {
		result.ContentWeight = synthesizeContentWeight(failureReason(analyses, analyzers.KindContentWeight))
	} else {
		result.ContentWeight = types.ContentWeightSection{Grade: types.Grade(0)}
		markDisabled(result, analyzers.KindContentWeight)
	}

	if section, ok := analyses.Sections[analyzers.KindMobile].(*types.MobileSection); ok {
		result.Mobile = *section
	} else if attempted(analyses, analyzers.KindMobile) {
		result.Mobile = synthesizeMobile(failureReason(analyses, analyzers.KindMobile))
	} else {
		result.Mobile = types.MobileSection{Grade: types.Grade(0)}
		markDisabled(result, analyzers.KindMobile)
	}

	// Security headers and structured data are optional analyzers; they
	// stay nil (omitempty) rather than synthesized when never enabled,
	// but still get a synthesized failure slot if enabled and errored.
	if section, ok := analyses.Sections[analyzers.KindSecurityHeaders].(*types.SecurityHeadersSection); ok {
		result.SecurityHeaders = section
	} else if reason, failed := failureReasonOK(analyses, analyzers.KindSecurityHeaders); failed {
		sec := synthesizeSecurityHeaders(reason)
		result.SecurityHeaders = &sec
	}

	if section, ok := analyses.Sections[analyzers.KindStructuredData].(*types.StructuredDataSection); ok {
		result.StructuredData = section
	} else if reason, failed := failureReasonOK(analyses, analyzers.KindStructuredData); failed {
		sec := synthesizeStructuredData(reason)
		result.StructuredData = &sec
	}
}

// populateAllMissing synthesizes every section as a failure slot. Used
// for crashed and skipped pages, where no analyzer ran at all.
func populateAllMissing(result *types.PageResult) {
	reason := "page was not analyzed"
	if result.Status == types.StatusCrashed {
		reason = "navigation failed before analyzers could run"
	} else if result.Status == types.StatusSkipped {
		reason = "redirect detector chose to skip this page"
	}
	result.Accessibility = synthesizeAccessibility(reason)
	result.Performance = synthesizePerformance(reason)
	result.SEO = synthesizeSEO(reason)
	result.ContentWeight = synthesizeContentWeight(reason)
	result.Mobile = synthesizeMobile(reason)
}

// attempted reports whether this kind was part of the run's analyzer set.
// A nil Attempted map (callers predating the field, crashed pages) treats
// every kind as attempted, preserving the synthesize-a-failure-slot path.
func attempted(analyses *orchestrator.PageAnalyses, kind analyzers.Kind) bool {
	if analyses.Attempted == nil {
		return true
	}
	return analyses.Attempted[kind]
}

// markDisabled records that a section is empty because its analyzer was
// turned off by configuration, not because it failed.
func markDisabled(result *types.PageResult, kind analyzers.Kind) {
	result.DisabledAnalyzers = append(result.DisabledAnalyzers, string(kind))
}

func failureReason(analyses *orchestrator.PageAnalyses, kind analyzers.Kind) string {
	reason, ok := failureReasonOK(analyses, kind)
	if !ok || reason == "" {
		return "analyzer returned no data"
	}
	return reason
}

// failureReasonOK reports whether this kind was attempted and failed (as
// opposed to simply not enabled), and its explanatory message.
func failureReasonOK(analyses *orchestrator.PageAnalyses, kind analyzers.Kind) (string, bool) {
	if analyses == nil {
		return "analyzer did not run", true
	}
	for _, e := range analyses.Errors {
		if e.Kind == kind {
			return e.Err.Error(), true
		}
	}
	return "", false
}

func synthesizeAccessibility(reason string) types.AccessibilitySection {
	return types.AccessibilitySection{
		Score:     0,
		WCAGLevel: types.WCAGNone,
		Errors: []types.AccessibilityIssue{{
			RuleCode: "analyzer-failure",
			Message:  "Accessibility analyzer could not complete: " + reason,
			Type:     "error",
			Impact:   types.ImpactCritical,
		}},
	}
}

func synthesizePerformance(reason string) types.PerformanceSection {
	return types.PerformanceSection{
		Score: 0,
		Grade: types.Grade(0),
		Issues: []types.PerformanceIssue{{
			Metric:  "analyzer",
			Message: "Performance analyzer could not complete: " + reason,
		}},
	}
}

func synthesizeSEO(reason string) types.SEOSection {
	return types.SEOSection{
		Score:  0,
		Grade:  types.Grade(0),
		Issues: []string{"SEO analyzer could not complete: " + reason},
	}
}

func synthesizeContentWeight(reason string) types.ContentWeightSection {
	return types.ContentWeightSection{
		Score:         0,
		Grade:         types.Grade(0),
		Optimizations: []string{"Content weight analyzer could not complete: " + reason},
	}
}

func synthesizeMobile(reason string) types.MobileSection {
	return types.MobileSection{
		OverallScore: 0,
		Grade:        types.Grade(0),
		Recommendations: []types.MobileRecommendation{{
			Category:       "analyzer",
			Priority:       types.PriorityCritical,
			Issue:          "Mobile analyzer could not complete",
			Recommendation: "Re-run the audit",
			Impact:         reason,
		}},
	}
}

func synthesizeSecurityHeaders(reason string) types.SecurityHeadersSection {
	return types.SecurityHeadersSection{
		Score:   0,
		Grade:   types.Grade(0),
		Missing: []string{"analyzer could not complete: " + reason},
	}
}

func synthesizeStructuredData(reason string) types.StructuredDataSection {
	return types.StructuredDataSection{
		Score:    0,
		Grade:    types.Grade(0),
		Warnings: []string{"analyzer could not complete: " + reason},
	}
}
