package reportsink

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
)

// CSVSink writes one row per page, for spreadsheet consumption.
type CSVSink struct{}

func NewCSVSink() *CSVSink { return &CSVSink{} }

func (s *CSVSink) Name() string { return "csv" }

var csvHeader = []string{
	"url", "status", "accessibility_score", "accessibility_errors",
	"performance_score", "performance_grade", "seo_score", "seo_grade",
	"content_weight_score", "mobile_score", "duration_ms",
}

func (s *CSVSink) Write(outputDir string, report Report) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(outputDir, "report.csv")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return "", err
	}
	for _, p := range report.Pages {
		row := []string{
			p.URL,
			string(p.Status),
			strconv.FormatFloat(p.Accessibility.Score, 'f', 1, 64),
			strconv.Itoa(len(p.Accessibility.Errors)),
			strconv.FormatFloat(p.Performance.Score, 'f', 1, 64),
			p.Performance.Grade,
			strconv.FormatFloat(p.SEO.Score, 'f', 1, 64),
			p.SEO.Grade,
			strconv.FormatFloat(p.ContentWeight.Score, 'f', 1, 64),
			strconv.FormatFloat(p.Mobile.OverallScore, 'f', 1, 64),
			strconv.FormatInt(p.DurationMs, 10),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	return path, w.Error()
}
