package types

import (
	"fmt"
	"testing"
)

// TestDedupeAccessibilityIssuesCasoonCase is the seed scenario from the
// testable-properties list: 42 raw issues where items 22..42 duplicate
// items 1..21 by (rule_code, selector, context_snippet). Expected: 21
// issues survive, in first-occurrence order.
func TestDedupeAccessibilityIssuesCasoonCase(t *testing.T) {
	var raw []AccessibilityIssue
	for i := 1; i <= 21; i++ {
		raw = append(raw, AccessibilityIssue{
			RuleCode:       fmt.Sprintf("rule-%d", i),
			Selector:       fmt.Sprintf("#el-%d", i),
			ContextSnippet: fmt.Sprintf("<div id=\"el-%d\">", i),
			Message:        fmt.Sprintf("violation %d", i),
			Type:           "error",
		})
	}
	for i := 1; i <= 21; i++ {
		raw = append(raw, AccessibilityIssue{
			RuleCode:       fmt.Sprintf("rule-%d", i),
			Selector:       fmt.Sprintf("#el-%d", i),
			ContextSnippet: fmt.Sprintf("<div id=\"el-%d\">", i),
			Message:        "duplicate runner reported this again",
			Type:           "error",
		})
	}
	if len(raw) != 42 {
		t.Fatalf("test setup: expected 42 raw issues, got %d", len(raw))
	}

	got := DedupeAccessibilityIssues(raw)
	if len(got) != 21 {
		t.Fatalf("expected 21 surviving issues, got %d", len(got))
	}
	for i, issue := range got {
		want := fmt.Sprintf("rule-%d", i+1)
		if issue.RuleCode != want {
			t.Errorf("position %d: expected %s, got %s (first-occurrence order not preserved)", i, want, issue.RuleCode)
		}
		if issue.Message != fmt.Sprintf("violation %d", i+1) {
			t.Errorf("position %d: expected the first-occurrence issue to survive, got message %q", i, issue.Message)
		}
	}
}

func TestDedupeAccessibilityIssuesNoDuplicates(t *testing.T) {
	raw := []AccessibilityIssue{
		{RuleCode: "a", Selector: "#a", ContextSnippet: "x"},
		{RuleCode: "b", Selector: "#b", ContextSnippet: "y"},
	}
	got := DedupeAccessibilityIssues(raw)
	if len(got) != 2 {
		t.Fatalf("expected no issues dropped, got %d", len(got))
	}
}

func TestDedupeAccessibilityIssuesDistinguishesBySelectorAndSnippet(t *testing.T) {
	raw := []AccessibilityIssue{
		{RuleCode: "a", Selector: "#a", ContextSnippet: "x"},
		{RuleCode: "a", Selector: "#b", ContextSnippet: "x"},
		{RuleCode: "a", Selector: "#a", ContextSnippet: "y"},
	}
	got := DedupeAccessibilityIssues(raw)
	if len(got) != 3 {
		t.Fatalf("issues differing by selector or context_snippet must not collapse, got %d survivors", len(got))
	}
}

// TestGradeRoundTripIdempotent is the grade-derivation invariant from the
// testable-properties list: (score -> grade -> score-bucket) is idempotent
// within its bucket, i.e. any score that maps to a grade lands in a bucket
// whose boundary score maps back to the same grade.
func TestGradeRoundTripIdempotent(t *testing.T) {
	buckets := []struct {
		grade    string
		lo, hi   float64
	}{
		{"F", 0, 49.999},
		{"D", 50, 59.999},
		{"C", 60, 74.999},
		{"B", 75, 89.999},
		{"A", 90, 100},
	}
	for _, b := range buckets {
		for _, score := range []float64{b.lo, (b.lo + b.hi) / 2, b.hi} {
			if got := Grade(score); got != b.grade {
				t.Errorf("Grade(%v) = %v, want %v", score, got, b.grade)
			}
		}
	}
}

func TestGradeBoundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{100, "A"}, {90, "A"}, {89.99, "B"},
		{75, "B"}, {74.99, "C"},
		{60, "C"}, {59.99, "D"},
		{50, "D"}, {49.99, "F"},
		{0, "F"},
	}
	for _, tt := range tests {
		if got := Grade(tt.score); got != tt.want {
			t.Errorf("Grade(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestClampScore(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-5, 0}, {0, 0}, {50, 50}, {100, 100}, {150, 100},
	}
	for _, tt := range tests {
		if got := ClampScore(tt.in); got != tt.want {
			t.Errorf("ClampScore(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestSummaryTerminalCountsSumToTested exercises the universal invariant that terminal
// status counts sum to the total tested.
func TestSummaryTerminalCountsSumToTested(t *testing.T) {
	s := Summary{Passed: 10, Failed: 2, Crashed: 1, Skipped: 3}
	s.Tested = s.Passed + s.Failed + s.Crashed + s.Skipped
	if s.Tested != 16 {
		t.Fatalf("expected tested=16, got %d", s.Tested)
	}
}
