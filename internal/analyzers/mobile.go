package analyzers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog/log"

	"github.com/auditengine/siteauditor/internal/interaction"
	"github.com/auditengine/siteauditor/internal/types"
)

// MobileAnalyzer checks viewport configuration, touch-target sizing,
// responsive-image hints and base font size. Touch targets are sampled
// rather than exhaustively measured: a page with thousands of links
// would make per-element CDP round trips the dominant cost of the run.
type MobileAnalyzer struct {
	timeout          time.Duration
	maxTargetsToScan int
	minTargetPx      float64
}

func NewMobileAnalyzer(timeout time.Duration) *MobileAnalyzer {
	return &MobileAnalyzer{timeout: timeout, maxTargetsToScan: 40, minTargetPx: 44}
}

func (m *MobileAnalyzer) Kind() Kind             { return KindMobile }
func (m *MobileAnalyzer) Timeout() time.Duration { return m.timeout }

type rawMobileSignals struct {
	HasViewportMeta  bool    `json:"has_viewport_meta"`
	ViewportContent  string  `json:"viewport_content"`
	BodyFontSizePx   float64 `json:"body_font_size_px"`
	ResponsiveImages int     `json:"responsive_images"`
	TotalImages      int     `json:"total_images"`
}

func (m *MobileAnalyzer) Analyze(ctx context.Context, page *rod.Page, url string) (interface{}, error) {
	pg := page.Context(ctx)
	res, err := pg.Eval(mobileSignalsScript)
	if err != nil {
		return nil, err
	}
	var raw rawMobileSignals
	if err := json.Unmarshal([]byte(res.Value.Str()), &raw); err != nil {
		return nil, err
	}

	var recs []types.MobileRecommendation

	if !raw.HasViewportMeta {
		recs = append(recs, types.MobileRecommendation{
			Category: "viewport", Priority: types.PriorityCritical,
			Issue:          "No viewport meta tag",
			Recommendation: `Add <meta name="viewport" content="width=device-width, initial-scale=1">`,
			Impact:         "Page renders at desktop width and requires pinch-zoom on mobile",
		})
	}

	if raw.BodyFontSizePx > 0 && raw.BodyFontSizePx < 16 {
		recs = append(recs, types.MobileRecommendation{
			Category: "typography", Priority: types.PriorityMedium,
			Issue:          "Base font size below 16px",
			Recommendation: "Increase base font size to at least 16px to avoid mobile-browser auto-zoom on inputs",
			Impact:         "Small text is harder to read and can trigger unwanted zoom",
		})
	}

	if raw.TotalImages > 0 && raw.ResponsiveImages == 0 {
		recs = append(recs, types.MobileRecommendation{
			Category: "images", Priority: types.PriorityLow,
			Issue:          "No responsive image hints (srcset/sizes) found",
			Recommendation: "Use srcset/sizes so mobile devices download appropriately sized images",
			Impact:         "Mobile devices may download desktop-sized images unnecessarily",
		})
	}

	undersizedCount := m.scanTouchTargets(ctx, page)
	if undersizedCount > 0 {
		recs = append(recs, types.MobileRecommendation{
			Category: "touch-targets", Priority: types.PriorityHigh,
			Issue:          "Interactive elements smaller than the comfortable tap-target size",
			Recommendation: "Ensure buttons and links are at least 44x44 CSS pixels",
			Impact:         "Small touch targets are error-prone to tap accurately",
		})
	}

	score := mobileScore(raw.HasViewportMeta, undersizedCount, raw.BodyFontSizePx)

	return &types.MobileSection{
		OverallScore:    score,
		Grade:           types.Grade(score),
		Recommendations: recs,
	}, nil
}

func (m *MobileAnalyzer) scanTouchTargets(ctx context.Context, page *rod.Page) int {
	elements, err := page.Context(ctx).Elements("a, button, input[type=button], input[type=submit]")
	if err != nil {
		log.Debug().Err(err).Msg("mobile: failed to query interactive elements")
		return 0
	}

	undersized := 0
	scanned := 0
	for _, el := range elements {
		if scanned >= m.maxTargetsToScan {
			break
		}
		size, err := interaction.Measure(el)
		if err != nil {
			continue
		}
		scanned++
		if size.Width == 0 && size.Height == 0 {
			continue // not rendered/visible, not a tap-target concern
		}
		if !size.MeetsMinimum(m.minTargetPx) {
			undersized++
		}
	}
	return undersized
}

func mobileScore(hasViewport bool, undersizedTargets int, bodyFontPx float64) float64 {
	score := 100.0
	if !hasViewport {
		score -= 40
	}
	score -= float64(undersizedTargets) * 3
	if bodyFontPx > 0 && bodyFontPx < 16 {
		score -= 10
	}
	return types.ClampScore(score)
}

const mobileSignalsScript = `() => {
  const viewport = document.querySelector('meta[name="viewport"]');
  const bodyStyle = window.getComputedStyle(document.body);
  let responsive = 0, total = 0;
  document.querySelectorAll('img').forEach((img) => {
    total++;
    if (img.hasAttribute('srcset') || img.hasAttribute('sizes')) responsive++;
  });
  return JSON.stringify({
    has_viewport_meta: !!viewport,
    viewport_content: viewport ? (viewport.getAttribute('content') || '') : '',
    body_font_size_px: parseFloat(bodyStyle.fontSize) || 0,
    responsive_images: responsive,
    total_images: total,
  });
}`
