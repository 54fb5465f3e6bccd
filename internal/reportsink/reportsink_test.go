package reportsink

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditengine/siteauditor/internal/types"
)

func sampleReport() Report {
	return Report{
		Summary: types.Summary{Tested: 2, Passed: 1, Failed: 1, AverageScore: 75, OverallGrade: "B"},
		Pages: []*types.PageResult{
			{URL: "https://example.com/", Status: types.StatusPassed, Performance: types.PerformanceSection{Grade: "B"}, SEO: types.SEOSection{Grade: "A"}, Mobile: types.MobileSection{Grade: "A"}},
			{URL: "https://example.com/broken", Status: types.StatusFailed, LastError: "timeout",
				Accessibility: types.AccessibilitySection{Errors: []types.AccessibilityIssue{{RuleCode: "alt-text", Message: "missing alt", Impact: types.ImpactSerious}}}},
		},
		StartedAt: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
		EndedAt:   time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC),
	}
}

func TestJSONSinkWritesCanonicalReport(t *testing.T) {
	dir := t.TempDir()
	sink := NewJSONSink()
	path, err := sink.Write(dir, sampleReport())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 2, decoded.Summary.Tested)
	assert.Len(t, decoded.Pages, 2)
}

func TestMarkdownSinkWrites(t *testing.T) {
	dir := t.TempDir()
	path, err := NewMarkdownSink().Write(dir, sampleReport())
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Audit Report")
	assert.Contains(t, string(data), "example.com/broken")
}

func TestCSVSinkWritesHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	path, err := NewCSVSink().Write(dir, sampleReport())
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "url,status")
	assert.Contains(t, string(data), "https://example.com/")
}

func TestHTMLSinkEscapesUntrustedContent(t *testing.T) {
	dir := t.TempDir()
	r := sampleReport()
	r.Pages[0].URL = "https://example.com/<script>alert(1)</script>"
	path, err := NewHTMLSink().Write(dir, r)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "<script>alert(1)</script>")
}

func TestRegistryResolvesConfiguredFormats(t *testing.T) {
	sinks := Registry([]string{"json", "csv", "unknown"})
	require.Len(t, sinks, 2)
	assert.Equal(t, "json", sinks[0].Name())
	assert.Equal(t, "csv", sinks[1].Name())
}
