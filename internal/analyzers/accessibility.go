package analyzers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-rod/rod"

	"github.com/auditengine/siteauditor/internal/config"
	"github.com/auditengine/siteauditor/internal/types"
)

// AccessibilityAnalyzer runs a small WCAG-style rule engine against the
// rendered DOM: a single in-page evaluation collects raw findings, which
// are then deduplicated and scored on the Go side.
type AccessibilityAnalyzer struct {
	standard config.Standard
	timeout  time.Duration
}

func NewAccessibilityAnalyzer(standard config.Standard, timeout time.Duration) *AccessibilityAnalyzer {
	return &AccessibilityAnalyzer{standard: standard, timeout: timeout}
}

func (a *AccessibilityAnalyzer) Kind() Kind            { return KindAccessibility }
func (a *AccessibilityAnalyzer) Timeout() time.Duration { return a.timeout }

// rawIssue mirrors the shape the in-page rule script emits.
type rawIssue struct {
	RuleCode string `json:"rule_code"`
	Message  string `json:"message"`
	Type     string `json:"type"`
	Selector string `json:"selector"`
	Context  string `json:"context_snippet"`
	Help     string `json:"help"`
}

func (a *AccessibilityAnalyzer) Analyze(ctx context.Context, page *rod.Page, url string) (interface{}, error) {
	p := page.Context(ctx)
	res, err := p.Eval(accessibilityRuleScript, includeAAA(a.standard))
	if err != nil {
		return nil, err
	}

	var raw []rawIssue
	if err := json.Unmarshal([]byte(res.Value.Str()), &raw); err != nil {
		return nil, err
	}

	var headingCount int
	issues := make([]types.AccessibilityIssue, 0, len(raw))
	for _, r := range raw {
		if r.RuleCode == "heading-structure-present" {
			headingCount++
			continue
		}
		issues = append(issues, types.AccessibilityIssue{
			RuleCode:       r.RuleCode,
			Message:        r.Message,
			Type:           r.Type,
			Selector:       r.Selector,
			ContextSnippet: r.Context,
			Impact:         impactForType(r.Type),
			Help:           r.Help,
		})
	}
	issues = types.DedupeAccessibilityIssues(issues)

	var errs, warns, notices []types.AccessibilityIssue
	var imgNoAlt, unlabeledButton int
	for _, issue := range issues {
		switch issue.Type {
		case "error":
			errs = append(errs, issue)
		case "warning":
			warns = append(warns, issue)
		default:
			notices = append(notices, issue)
		}
		switch issue.RuleCode {
		case "img-alt":
			imgNoAlt++
		case "button-name":
			unlabeledButton++
		}
	}

	score := fallbackAccessibilityScore(len(errs), len(warns), imgNoAlt, unlabeledButton, headingCount == 0)

	return &types.AccessibilitySection{
		Score:     score,
		WCAGLevel: levelFor(a.standard),
		Errors:    errs,
		Warnings:  warns,
		Notices:   notices,
	}, nil
}

// fallbackAccessibilityScore is the engine's only scoring formula: start
// at 100, subtract per-class penalties, clamp to [0,100].
func fallbackAccessibilityScore(errors, warnings, imgNoAlt, unlabeledButton int, noHeadings bool) float64 {
	score := 100.0
	score -= 15 * float64(errors)
	score -= 5 * float64(warnings)
	score -= 3 * float64(imgNoAlt)
	score -= 5 * float64(unlabeledButton)
	if noHeadings {
		score -= 20
	}
	return types.ClampScore(score)
}

func impactForType(t string) types.Impact {
	switch t {
	case "error":
		return types.ImpactSerious
	case "warning":
		return types.ImpactModerate
	default:
		return types.ImpactMinor
	}
}

func levelFor(standard config.Standard) types.WCAGLevel {
	switch standard {
	case config.WCAG2A:
		return types.WCAGA
	case config.WCAG2AAA:
		return types.WCAGAAA
	case config.Section508:
		return types.WCAGAA
	default:
		return types.WCAGAA
	}
}

func includeAAA(standard config.Standard) bool {
	return standard == config.WCAG2AAA
}

// accessibilityRuleScript walks the rendered DOM once and reports raw
// findings as JSON. Each rule is independent and order-stable so
// deduplication sees a consistent first-occurrence order.
const accessibilityRuleScript = `(includeAAA) => {
  const issues = [];
  const snippet = (el) => (el.outerHTML || '').slice(0, 120);
  const selectorOf = (el) => {
    if (el.id) return '#' + el.id;
    if (el.className && typeof el.className === 'string') {
      return el.tagName.toLowerCase() + '.' + el.className.trim().split(/\s+/).join('.');
    }
    return el.tagName.toLowerCase();
  };

  document.querySelectorAll('img').forEach((img) => {
    if (!img.hasAttribute('alt')) {
      issues.push({rule_code: 'img-alt', message: 'Image missing alt attribute', type: 'error', selector: selectorOf(img), context_snippet: snippet(img), help: 'Add a descriptive alt attribute or alt="" for decorative images'});
    }
  });

  document.querySelectorAll('button, [role="button"]').forEach((btn) => {
    const text = (btn.textContent || '').trim();
    const aria = btn.getAttribute('aria-label');
    if (!text && !aria) {
      issues.push({rule_code: 'button-name', message: 'Button has no accessible name', type: 'error', selector: selectorOf(btn), context_snippet: snippet(btn), help: 'Provide visible text or an aria-label'});
    }
  });

  document.querySelectorAll('input, select, textarea').forEach((field) => {
    if (field.type === 'hidden' || field.type === 'submit' || field.type === 'button') return;
    const id = field.id;
    const labelled = id && document.querySelector('label[for="' + CSS.escape(id) + '"]');
    const aria = field.getAttribute('aria-label') || field.getAttribute('aria-labelledby');
    if (!labelled && !aria) {
      issues.push({rule_code: 'label', message: 'Form field has no associated label', type: 'error', selector: selectorOf(field), context_snippet: snippet(field), help: 'Associate a <label> or aria-label with the field'});
    }
  });

  document.querySelectorAll('a').forEach((a) => {
    const text = (a.textContent || '').trim();
    const aria = a.getAttribute('aria-label');
    if (!text && !aria) {
      issues.push({rule_code: 'link-name', message: 'Link has no discernible text', type: 'warning', selector: selectorOf(a), context_snippet: snippet(a), help: 'Provide link text or an aria-label'});
    }
  });

  if (!document.documentElement.hasAttribute('lang')) {
    issues.push({rule_code: 'html-lang', message: 'Document has no lang attribute', type: 'warning', selector: 'html', context_snippet: '', help: 'Add lang="en" (or the page language) to <html>'});
  }

  if (!document.title || !document.title.trim()) {
    issues.push({rule_code: 'document-title', message: 'Document has no title', type: 'error', selector: 'title', context_snippet: '', help: 'Add a descriptive <title>'});
  }

  const headings = document.querySelectorAll('h1, h2, h3, h4, h5, h6');
  if (headings.length > 0) {
    issues.push({rule_code: 'heading-structure-present', message: '', type: 'notice', selector: '', context_snippet: ''});
  }

  if (includeAAA) {
    document.querySelectorAll('a[target="_blank"]').forEach((a) => {
      if (!/new (tab|window)/i.test(a.textContent || '') && !a.getAttribute('aria-label')) {
        issues.push({rule_code: 'link-new-window', message: 'Link opens a new window without warning', type: 'notice', selector: selectorOf(a), context_snippet: snippet(a), help: 'Indicate that the link opens in a new window'});
      }
    });
  }

  return JSON.stringify(issues);
}`
