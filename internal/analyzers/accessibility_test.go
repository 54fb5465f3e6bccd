package analyzers

import (
	"testing"

	"github.com/auditengine/siteauditor/internal/config"
)

func TestFallbackAccessibilityScore(t *testing.T) {
	tests := []struct {
		name                                   string
		errors, warnings, imgNoAlt, noLabel    int
		noHeadings                             bool
		want                                   float64
	}{
		{"clean page", 0, 0, 0, 0, false, 100},
		{"one error", 1, 0, 0, 0, false, 85},
		{"one warning", 0, 1, 0, 0, false, 95},
		{"missing headings", 0, 0, 0, 0, true, 80},
		{"everything wrong clamps to zero", 10, 10, 10, 10, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fallbackAccessibilityScore(tt.errors, tt.warnings, tt.imgNoAlt, tt.noLabel, tt.noHeadings)
			if got != tt.want {
				t.Errorf("fallbackAccessibilityScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		standard config.Standard
		want     string
	}{
		{config.WCAG2A, "A"},
		{config.WCAG2AA, "AA"},
		{config.WCAG2AAA, "AAA"},
		{config.Section508, "AA"},
	}
	for _, tt := range tests {
		if got := string(levelFor(tt.standard)); got != tt.want {
			t.Errorf("levelFor(%v) = %v, want %v", tt.standard, got, tt.want)
		}
	}
}

func TestIncludeAAA(t *testing.T) {
	if includeAAA(config.WCAG2AA) {
		t.Error("WCAG2AA should not include AAA rules")
	}
	if !includeAAA(config.WCAG2AAA) {
		t.Error("WCAG2AAA should include AAA rules")
	}
}

func TestRegistryRespectsDisableToggles(t *testing.T) {
	cfg := &config.Config{
		Standard:        config.WCAG2AA,
		NoPerformance:   true,
		NoSEO:           true,
		NoContentWeight: true,
		NoMobile:        true,
	}
	list := Registry(cfg)
	if len(list) != 1 {
		t.Fatalf("expected only accessibility analyzer, got %d analyzers", len(list))
	}
	if list[0].Kind() != KindAccessibility {
		t.Errorf("expected accessibility, got %v", list[0].Kind())
	}
}

func TestRegistryDeterministicOrder(t *testing.T) {
	cfg := &config.Config{Standard: config.WCAG2AA, EnableSecurityHeaders: true, EnableStructuredData: true}
	list := Registry(cfg)
	want := []Kind{KindAccessibility, KindPerformance, KindSEO, KindContentWeight, KindMobile, KindSecurityHeaders, KindStructuredData}
	if len(list) != len(want) {
		t.Fatalf("expected %d analyzers, got %d", len(want), len(list))
	}
	for i, k := range want {
		if list[i].Kind() != k {
			t.Errorf("position %d: expected %v, got %v", i, k, list[i].Kind())
		}
	}
}
