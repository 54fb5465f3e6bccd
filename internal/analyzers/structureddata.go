package analyzers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"

	"github.com/auditengine/siteauditor/internal/types"
)

// StructuredDataAnalyzer extracts JSON-LD @type values and flags
// malformed blocks. Microdata (itemscope/itemtype) is reported by type
// only; full property extraction is out of scope.
type StructuredDataAnalyzer struct {
	timeout time.Duration
}

func NewStructuredDataAnalyzer(timeout time.Duration) *StructuredDataAnalyzer {
	return &StructuredDataAnalyzer{timeout: timeout}
}

func (s *StructuredDataAnalyzer) Kind() Kind             { return KindStructuredData }
func (s *StructuredDataAnalyzer) Timeout() time.Duration { return s.timeout }

type rawStructuredData struct {
	Types        []string `json:"types"`
	ParseErrors  int      `json:"parse_errors"`
	MicrodataTypes []string `json:"microdata_types"`
}

func (s *StructuredDataAnalyzer) Analyze(ctx context.Context, page *rod.Page, url string) (interface{}, error) {
	pg := page.Context(ctx)
	res, err := pg.Eval(structuredDataScript)
	if err != nil {
		return nil, err
	}

	var raw rawStructuredData
	if err := json.Unmarshal([]byte(res.Value.Str()), &raw); err != nil {
		return nil, err
	}

	types_ := append([]string{}, raw.Types...)
	types_ = append(types_, raw.MicrodataTypes...)

	var warnings []string
	if raw.ParseErrors > 0 {
		warnings = append(warnings, fmt.Sprintf("%d JSON-LD block(s) failed to parse", raw.ParseErrors))
	}
	if len(types_) == 0 {
		warnings = append(warnings, "No structured data found")
	}

	score := 100.0
	if len(types_) == 0 {
		score = 0
	}
	score -= float64(raw.ParseErrors) * 20
	score = types.ClampScore(score)

	return &types.StructuredDataSection{
		Score:    score,
		Grade:    types.Grade(score),
		Types:    dedupeStrings(types_),
		Warnings: warnings,
	}, nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

const structuredDataScript = `() => {
  const types = [];
  let parseErrors = 0;
  document.querySelectorAll('script[type="application/ld+json"]').forEach((tag) => {
    try {
      const data = JSON.parse(tag.textContent);
      const items = Array.isArray(data) ? data : [data];
      items.forEach((item) => {
        if (item && item['@type']) {
          if (Array.isArray(item['@type'])) types.push(...item['@type']);
          else types.push(item['@type']);
        }
      });
    } catch (e) {
      parseErrors++;
    }
  });

  const microdataTypes = [];
  document.querySelectorAll('[itemscope][itemtype]').forEach((el) => {
    const itemtype = el.getAttribute('itemtype') || '';
    const parts = itemtype.split('/');
    microdataTypes.push(parts[parts.length - 1]);
  });

  return JSON.stringify({types, parse_errors: parseErrors, microdata_types: microdataTypes});
}`
