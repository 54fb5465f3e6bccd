package reportsink

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// JSONSink writes the canonical, bit-stable JSON report: pretty-printed
// with stable field order (struct declaration order), so two runs over an
// unchanged site diff cleanly.
type JSONSink struct{}

func NewJSONSink() *JSONSink { return &JSONSink{} }

func (s *JSONSink) Name() string { return "json" }

func (s *JSONSink) Write(outputDir string, report Report) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(outputDir, "report.json")
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
