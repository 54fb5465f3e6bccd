// Package analyzers implements the Page Analyzers: independent, pure-ish
// functions over one rendered page each. No analyzer reads another's
// output; a failure in one never fails the page, it only degrades that
// analyzer's own section.
package analyzers

import (
	"context"
	"time"

	"github.com/go-rod/rod"

	"github.com/auditengine/siteauditor/internal/config"
)

// Kind names a section of the Page Result. The Orchestrator uses it to
// place an analyzer's output into the right field without a type switch
// over every concrete section type.
type Kind string

const (
	KindAccessibility   Kind = "accessibility"
	KindPerformance     Kind = "performance"
	KindSEO             Kind = "seo"
	KindContentWeight   Kind = "content_weight"
	KindMobile          Kind = "mobile"
	KindSecurityHeaders Kind = "security_headers"
	KindStructuredData  Kind = "structured_data"
)

// Analyzer is the uniform contract every Page Analyzer implements.
// Analyze returns the section value appropriate to its Kind:
// KindAccessibility -> *types.AccessibilitySection, KindPerformance ->
// *types.PerformanceSection, and so on. The Orchestrator and Result
// Factory are the only callers that need to know the mapping.
type Analyzer interface {
	Kind() Kind
	Timeout() time.Duration
	Analyze(ctx context.Context, page *rod.Page, url string) (interface{}, error)
}

// Registry builds the enabled analyzer set from config, in the fixed,
// deterministic order the Orchestrator must run them in.
func Registry(cfg *config.Config) []Analyzer {
	timeout := cfg.DefaultTimeout
	if cfg.Comprehensive {
		timeout = cfg.ComprehensiveTimeout
	}

	var list []Analyzer
	list = append(list, NewAccessibilityAnalyzer(cfg.Standard, timeout))

	if !cfg.NoPerformance {
		list = append(list, NewPerformanceAnalyzer(timeout))
	}
	if !cfg.NoSEO {
		list = append(list, NewSEOAnalyzer(timeout))
	}
	if !cfg.NoContentWeight {
		list = append(list, NewContentWeightAnalyzer(timeout))
	}
	if !cfg.NoMobile {
		list = append(list, NewMobileAnalyzer(timeout))
	}
	if cfg.EnableSecurityHeaders {
		list = append(list, NewSecurityHeadersAnalyzer(timeout))
	}
	if cfg.EnableStructuredData {
		list = append(list, NewStructuredDataAnalyzer(timeout))
	}
	return list
}
