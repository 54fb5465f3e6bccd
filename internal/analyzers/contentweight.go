package analyzers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-rod/rod"

	"github.com/auditengine/siteauditor/internal/types"
)

// ContentWeightAnalyzer sums transferred bytes per resource category
// using the Resource Timing API, which survives after navigation
// completes (unlike a live network-event listener, which would need to
// be attached before the page loads).
type ContentWeightAnalyzer struct {
	timeout time.Duration
}

func NewContentWeightAnalyzer(timeout time.Duration) *ContentWeightAnalyzer {
	return &ContentWeightAnalyzer{timeout: timeout}
}

func (c *ContentWeightAnalyzer) Kind() Kind             { return KindContentWeight }
func (c *ContentWeightAnalyzer) Timeout() time.Duration { return c.timeout }

type rawResource struct {
	Category      string `json:"category"`
	TransferSize  int64  `json:"transfer_size"`
	DecodedSize   int64  `json:"decoded_size"`
}

type rawContentWeight struct {
	Resources []rawResource `json:"resources"`
}

func (c *ContentWeightAnalyzer) Analyze(ctx context.Context, page *rod.Page, url string) (interface{}, error) {
	pg := page.Context(ctx)
	res, err := pg.Eval(resourceTimingScript)
	if err != nil {
		return nil, err
	}

	var raw rawContentWeight
	if err := json.Unmarshal([]byte(res.Value.Str()), &raw); err != nil {
		return nil, err
	}

	totals := types.ResourceTotals{}
	var totalTransfer, totalDecoded int64
	for _, r := range raw.Resources {
		totalTransfer += r.TransferSize
		totalDecoded += r.DecodedSize
		totals.TotalSizeBytes += r.TransferSize

		var bucket *types.ResourceBreakdown
		switch r.Category {
		case "html":
			bucket = &totals.HTML
		case "css":
			bucket = &totals.CSS
		case "javascript":
			bucket = &totals.JavaScript
		case "image":
			bucket = &totals.Images
		default:
			bucket = &totals.Other
		}
		bucket.SizeBytes += r.TransferSize
		bucket.Files++
	}

	compressionRatio := 1.0
	if totalTransfer > 0 {
		compressionRatio = float64(totalDecoded) / float64(totalTransfer)
	}

	var optimizations []string
	if compressionRatio < 1.5 && totalTransfer > 100*1024 {
		optimizations = append(optimizations, "Enable or improve text compression (gzip/brotli)")
	}
	if totals.JavaScript.SizeBytes > 500*1024 {
		optimizations = append(optimizations, "Reduce JavaScript payload: split bundles or defer non-critical scripts")
	}
	if totals.Images.SizeBytes > 1024*1024 {
		optimizations = append(optimizations, "Optimize images: compress or serve next-gen formats")
	}
	if totals.CSS.SizeBytes > 200*1024 {
		optimizations = append(optimizations, "Reduce CSS payload: remove unused rules")
	}

	score := contentWeightScore(totals.TotalSizeBytes)

	return &types.ContentWeightSection{
		Score:            score,
		Grade:            types.Grade(score),
		Resources:        totals,
		Optimizations:    optimizations,
		CompressionRatio: compressionRatio,
	}, nil
}

// contentWeightScore scores total page weight against common budgets:
// 100 at or under 1MB, decaying linearly to 0 at 6MB.
func contentWeightScore(totalBytes int64) float64 {
	const goodBytes = 1 * 1024 * 1024
	const poorBytes = 6 * 1024 * 1024
	if totalBytes <= goodBytes {
		return 100
	}
	if totalBytes >= poorBytes {
		return 0
	}
	ratio := float64(totalBytes-goodBytes) / float64(poorBytes-goodBytes)
	return types.ClampScore(100 * (1 - ratio))
}

const resourceTimingScript = `() => {
  const categorize = (entry) => {
    const type = entry.initiatorType;
    const name = (entry.name || '').split('?')[0].toLowerCase();
    if (entry.entryType === 'navigation' || name.endsWith('.html') || name.endsWith('/')) return 'html';
    if (type === 'css' || name.endsWith('.css')) return 'css';
    if (type === 'script' || name.endsWith('.js')) return 'javascript';
    if (type === 'img' || type === 'image' || /\.(png|jpe?g|gif|webp|svg|avif|ico)$/.test(name)) return 'image';
    return 'other';
  };
  const resources = [];
  const nav = performance.getEntriesByType('navigation')[0];
  if (nav) {
    resources.push({category: 'html', transfer_size: nav.transferSize || 0, decoded_size: nav.decodedBodySize || nav.transferSize || 0});
  }
  performance.getEntriesByType('resource').forEach((entry) => {
    resources.push({
      category: categorize(entry),
      transfer_size: entry.transferSize || 0,
      decoded_size: entry.decodedBodySize || entry.transferSize || 0,
    });
  });
  return JSON.stringify({resources});
}`
