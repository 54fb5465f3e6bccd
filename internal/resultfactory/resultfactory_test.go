package resultfactory

import (
	"errors"
	"testing"
	"time"

	"github.com/auditengine/siteauditor/internal/analyzers"
	"github.com/auditengine/siteauditor/internal/orchestrator"
	"github.com/auditengine/siteauditor/internal/types"
)

func TestBuildPassedWhenNoAccessibilityErrors(t *testing.T) {
	analyses := &orchestrator.PageAnalyses{
		Sections: map[analyzers.Kind]interface{}{
			analyzers.KindAccessibility: &types.AccessibilitySection{Score: 100},
			analyzers.KindPerformance:   &types.PerformanceSection{Score: 100},
			analyzers.KindSEO:           &types.SEOSection{Score: 100},
			analyzers.KindContentWeight: &types.ContentWeightSection{Score: 100},
			analyzers.KindMobile:        &types.MobileSection{OverallScore: 100},
		},
	}
	result := Build("http://example.com", "Example", time.Now(), nil, analyses, nil)
	if result.Status != types.StatusPassed {
		t.Errorf("expected passed, got %v", result.Status)
	}
}

func TestBuildFailedWhenAccessibilityErrorPresent(t *testing.T) {
	analyses := &orchestrator.PageAnalyses{
		Sections: map[analyzers.Kind]interface{}{
			analyzers.KindAccessibility: &types.AccessibilitySection{
				Score:  50,
				Errors: []types.AccessibilityIssue{{RuleCode: "img-alt", Type: "error"}},
			},
			analyzers.KindPerformance:   &types.PerformanceSection{Score: 100},
			analyzers.KindSEO:           &types.SEOSection{Score: 100},
			analyzers.KindContentWeight: &types.ContentWeightSection{Score: 100},
			analyzers.KindMobile:        &types.MobileSection{OverallScore: 100},
		},
	}
	result := Build("http://example.com", "Example", time.Now(), nil, analyses, nil)
	if result.Status != types.StatusFailed {
		t.Errorf("expected failed, got %v", result.Status)
	}
}

func TestBuildCrashedOnNavigationError(t *testing.T) {
	result := Build("http://example.com", "", time.Now(), nil, nil, errors.New("navigation timed out"))
	if result.Status != types.StatusCrashed {
		t.Errorf("expected crashed, got %v", result.Status)
	}
	if result.LastError == "" {
		t.Error("expected last_error to be populated")
	}
	if len(result.Accessibility.Errors) != 1 {
		t.Error("expected a synthesized accessibility failure slot")
	}
}

func TestBuildSkipped(t *testing.T) {
	redirect := &types.RedirectMetadata{Original: "http://a.com", Final: "http://b.com", Classification: "http-redirect"}
	result := BuildSkipped("http://a.com", time.Now(), redirect)
	if result.Status != types.StatusSkipped {
		t.Errorf("expected skipped, got %v", result.Status)
	}
	if result.Redirect != redirect {
		t.Error("expected redirect metadata to be attached")
	}
	// Redirect metadata must never be reported as an accessibility error.
	for _, e := range result.Accessibility.Errors {
		if e.RuleCode != "analyzer-failure" {
			t.Errorf("unexpected accessibility error on skipped page: %v", e)
		}
	}
}

func TestBuildSynthesizesMissingAnalyzerSection(t *testing.T) {
	analyses := &orchestrator.PageAnalyses{
		Sections: map[analyzers.Kind]interface{}{
			analyzers.KindAccessibility: &types.AccessibilitySection{Score: 100},
			analyzers.KindSEO:           &types.SEOSection{Score: 100},
			analyzers.KindContentWeight: &types.ContentWeightSection{Score: 100},
			analyzers.KindMobile:        &types.MobileSection{OverallScore: 100},
		},
		Errors: []orchestrator.AnalyzerError{
			{Kind: analyzers.KindPerformance, Err: errors.New("timed out")},
		},
	}
	result := Build("http://example.com", "Example", time.Now(), nil, analyses, nil)
	if result.Performance.Score != 0 {
		t.Errorf("expected synthesized score 0, got %v", result.Performance.Score)
	}
	if len(result.Performance.Issues) != 1 {
		t.Fatalf("expected one synthesized issue, got %d", len(result.Performance.Issues))
	}
}

func TestBuildDisabledAnalyzerIsNotAFailure(t *testing.T) {
	analyses := &orchestrator.PageAnalyses{
		Sections: map[analyzers.Kind]interface{}{
			analyzers.KindAccessibility: &types.AccessibilitySection{Score: 100},
			analyzers.KindSEO:           &types.SEOSection{Score: 100},
			analyzers.KindContentWeight: &types.ContentWeightSection{Score: 100},
			analyzers.KindMobile:        &types.MobileSection{OverallScore: 100},
		},
		Attempted: map[analyzers.Kind]bool{
			analyzers.KindAccessibility: true,
			analyzers.KindSEO:           true,
			analyzers.KindContentWeight: true,
			analyzers.KindMobile:        true,
			// performance deliberately absent: disabled via config toggle
		},
	}
	result := Build("http://example.com", "Example", time.Now(), nil, analyses, nil)

	if result.Status != types.StatusPassed {
		t.Errorf("disabling an analyzer must not change page status, got %v", result.Status)
	}
	if len(result.Performance.Issues) != 0 {
		t.Errorf("a disabled analyzer must not synthesize a failure issue, got %v", result.Performance.Issues)
	}
	if len(result.DisabledAnalyzers) != 1 || result.DisabledAnalyzers[0] != string(analyzers.KindPerformance) {
		t.Errorf("expected disabled_analyzers to name performance, got %v", result.DisabledAnalyzers)
	}
}

func TestBuildAttemptedButMissingSectionStillSynthesizesFailure(t *testing.T) {
	analyses := &orchestrator.PageAnalyses{
		Sections: map[analyzers.Kind]interface{}{
			analyzers.KindAccessibility: &types.AccessibilitySection{Score: 100},
			analyzers.KindSEO:           &types.SEOSection{Score: 100},
			analyzers.KindContentWeight: &types.ContentWeightSection{Score: 100},
			analyzers.KindMobile:        &types.MobileSection{OverallScore: 100},
		},
		Attempted: map[analyzers.Kind]bool{
			analyzers.KindAccessibility: true,
			analyzers.KindPerformance:   true,
			analyzers.KindSEO:           true,
			analyzers.KindContentWeight: true,
			analyzers.KindMobile:        true,
		},
	}
	result := Build("http://example.com", "Example", time.Now(), nil, analyses, nil)

	if len(result.Performance.Issues) != 1 {
		t.Fatalf("an attempted analyzer with no section must synthesize a failure slot, got %v", result.Performance.Issues)
	}
	if len(result.DisabledAnalyzers) != 0 {
		t.Errorf("nothing was disabled, got %v", result.DisabledAnalyzers)
	}
}

func TestBuildOptionalSectionsStayNilWhenNotEnabled(t *testing.T) {
	analyses := &orchestrator.PageAnalyses{
		Sections: map[analyzers.Kind]interface{}{
			analyzers.KindAccessibility: &types.AccessibilitySection{Score: 100},
			analyzers.KindSEO:           &types.SEOSection{Score: 100},
			analyzers.KindContentWeight: &types.ContentWeightSection{Score: 100},
			analyzers.KindMobile:        &types.MobileSection{OverallScore: 100},
			analyzers.KindPerformance:   &types.PerformanceSection{Score: 100},
		},
	}
	result := Build("http://example.com", "Example", time.Now(), nil, analyses, nil)
	if result.SecurityHeaders != nil {
		t.Error("expected security headers to remain nil when analyzer never ran")
	}
	if result.StructuredData != nil {
		t.Error("expected structured data to remain nil when analyzer never ran")
	}
}
