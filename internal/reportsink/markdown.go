package reportsink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/auditengine/siteauditor/internal/types"
)

// MarkdownSink writes a human-readable summary table plus one section per
// page, suitable for pasting into a pull request or chat message.
type MarkdownSink struct{}

func NewMarkdownSink() *MarkdownSink { return &MarkdownSink{} }

func (s *MarkdownSink) Name() string { return "markdown" }

func (s *MarkdownSink) Write(outputDir string, report Report) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Audit Report\n\n")
	fmt.Fprintf(&b, "Run: %s -> %s\n\n", report.StartedAt.Format("2006-01-02 15:04:05"), report.EndedAt.Format("15:04:05"))
	fmt.Fprintf(&b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Tested | %d |\n", report.Summary.Tested)
	fmt.Fprintf(&b, "| Passed | %d |\n", report.Summary.Passed)
	fmt.Fprintf(&b, "| Failed | %d |\n", report.Summary.Failed)
	fmt.Fprintf(&b, "| Crashed | %d |\n", report.Summary.Crashed)
	fmt.Fprintf(&b, "| Skipped | %d |\n", report.Summary.Skipped)
	fmt.Fprintf(&b, "| Average score | %.1f |\n", report.Summary.AverageScore)
	fmt.Fprintf(&b, "| Overall grade | %s |\n\n", report.Summary.OverallGrade)

	fmt.Fprintf(&b, "## Pages\n\n")
	fmt.Fprintf(&b, "| URL | Status | Accessibility | Performance | SEO | Mobile |\n|---|---|---|---|---|---|\n")
	for _, p := range report.Pages {
		fmt.Fprintf(&b, "| %s | %s | %s (%d errors) | %s | %s | %s |\n",
			p.URL, p.Status, p.Accessibility.WCAGLevel, len(p.Accessibility.Errors),
			p.Performance.Grade, p.SEO.Grade, p.Mobile.Grade)
	}

	for _, p := range report.Pages {
		if p.Status == types.StatusPassed {
			continue
		}
		fmt.Fprintf(&b, "\n### %s (%s)\n\n", p.URL, p.Status)
		if p.LastError != "" {
			fmt.Fprintf(&b, "- error: %s\n", p.LastError)
		}
		for _, e := range p.Accessibility.Errors {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", e.Impact, e.RuleCode, e.Message)
		}
		for _, i := range p.Performance.Issues {
			fmt.Fprintf(&b, "- performance/%s: %s\n", i.Metric, i.Message)
		}
		for _, i := range p.SEO.Issues {
			fmt.Fprintf(&b, "- seo: %s\n", i)
		}
	}

	path := filepath.Join(outputDir, "report.md")
	return path, os.WriteFile(path, []byte(b.String()), 0o644)
}
