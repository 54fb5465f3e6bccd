// Package reportsink writes a completed audit run's Page Results and
// Summary to durable output. It is the engine's other external-collaborator
// boundary (alongside sitemap discovery): Sink implementations decide the
// format; nothing upstream of this package cares how a report is rendered.
package reportsink

import (
	"time"

	"github.com/auditengine/siteauditor/internal/types"
)

// Report is the complete output of one audit run, handed to every
// configured Sink.
type Report struct {
	Summary   types.Summary
	Pages     []*types.PageResult
	StartedAt time.Time
	EndedAt   time.Time
}

// Sink persists a Report in some format. Write is called once per run,
// after the queue has drained; implementations own their own file naming
// and must not assume concurrent access.
type Sink interface {
	// Name identifies the sink for logging ("json", "markdown", "csv", "html").
	Name() string
	Write(outputDir string, report Report) (path string, err error)
}

// Registry resolves the configured output format names to Sink
// implementations, mirroring the Analyzer Registry's construction style.
func Registry(formats []string) []Sink {
	sinks := make([]Sink, 0, len(formats))
	for _, f := range formats {
		switch f {
		case "json":
			sinks = append(sinks, NewJSONSink())
		case "markdown":
			sinks = append(sinks, NewMarkdownSink())
		case "csv":
			sinks = append(sinks, NewCSVSink())
		case "html":
			sinks = append(sinks, NewHTMLSink())
		}
	}
	return sinks
}
