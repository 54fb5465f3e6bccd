package analyzers

import (
	"testing"

	"github.com/auditengine/siteauditor/internal/types"
)

func TestMetricScore(t *testing.T) {
	tests := []struct {
		name        string
		value, budget float64
		want        float64
	}{
		{"at budget", 2500, 2500, 100},
		{"under budget", 1000, 2500, 100},
		{"midway to poor", 3750, 2500, 50},
		{"at poor threshold", 5000, 2500, 0},
		{"beyond poor", 10000, 2500, 0},
		{"zero budget never penalizes", 999999, 0, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := metricScore(tt.value, tt.budget); got != tt.want {
				t.Errorf("metricScore(%v, %v) = %v, want %v", tt.value, tt.budget, got, tt.want)
			}
		})
	}
}

func TestScoreVitalsAllWithinBudgetIsHundred(t *testing.T) {
	b := DefaultBudget()
	v := types.CoreWebVitals{LCPMs: 1000, CLS: 0.02, FCPMs: 800, TTFBMs: 200}
	score, issues := scoreVitals(v, b)
	if score != 100 {
		t.Errorf("expected 100, got %v", score)
	}
	if len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issues)
	}
}

func TestScoreVitalsOverBudgetProducesIssues(t *testing.T) {
	b := DefaultBudget()
	v := types.CoreWebVitals{LCPMs: 6000, CLS: 0.5, FCPMs: 4000, TTFBMs: 2000}
	score, issues := scoreVitals(v, b)
	if score >= 50 {
		t.Errorf("expected a low score, got %v", score)
	}
	if len(issues) != 4 {
		t.Errorf("expected 4 issues (one per metric), got %d", len(issues))
	}
}

func TestMetricsQualityScore(t *testing.T) {
	good := types.CoreWebVitals{LCPMs: 1000, FCPMs: 800, CLS: 0.05, TTFBMs: 200}
	if got := metricsQualityScore(good); got != 1.0 {
		t.Errorf("expected quality 1.0, got %v", got)
	}

	empty := types.CoreWebVitals{}
	if got := metricsQualityScore(empty); got != 0.0 {
		t.Errorf("expected quality 0.0 for all-zero vitals, got %v", got)
	}
}

func TestApplyFallbackDerivations(t *testing.T) {
	v := types.CoreWebVitals{FCPMs: 1000}
	derived := applyFallbackDerivations(v)
	if derived.LCPMs != 1200 {
		t.Errorf("expected LCP derived as 1.2x FCP (1200), got %v", derived.LCPMs)
	}
}

func TestApplyFallbackDerivationsDoesNotOverwriteRealLCP(t *testing.T) {
	v := types.CoreWebVitals{LCPMs: 2000, FCPMs: 1000}
	derived := applyFallbackDerivations(v)
	if derived.LCPMs != 2000 {
		t.Errorf("expected LCP to remain 2000, got %v", derived.LCPMs)
	}
}
