package analyzers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"

	"github.com/auditengine/siteauditor/internal/types"
)

// SEOAnalyzer extracts meta/heading/alt-coverage signals. CDP evaluation
// is the primary path; if it fails or times out, a goquery parse of the
// page's current HTML serves as the fallback extractor.
type SEOAnalyzer struct {
	timeout time.Duration
}

func NewSEOAnalyzer(timeout time.Duration) *SEOAnalyzer {
	return &SEOAnalyzer{timeout: timeout}
}

func (s *SEOAnalyzer) Kind() Kind             { return KindSEO }
func (s *SEOAnalyzer) Timeout() time.Duration { return s.timeout }

type rawSEOMeta struct {
	Title             string `json:"title"`
	Description       string `json:"description"`
	Keywords          string `json:"keywords"`
	H1Count           int    `json:"h1_count"`
	H2Count           int    `json:"h2_count"`
	H3Count           int    `json:"h3_count"`
	ImageCount        int    `json:"image_count"`
	ImagesMissingAlt  int    `json:"images_missing_alt"`
	ImagesEmptyAlt    int    `json:"images_empty_alt"`
	HasCanonical      bool   `json:"has_canonical"`
	RobotsNoindex     bool   `json:"robots_noindex"`
}

func (s *SEOAnalyzer) Analyze(ctx context.Context, page *rod.Page, url string) (interface{}, error) {
	meta, err := s.extractViaCDP(ctx, page)
	if err != nil {
		meta, err = s.extractViaGoquery(ctx, page)
		if err != nil {
			return nil, err
		}
	}
	return buildSEOSection(meta), nil
}

func (s *SEOAnalyzer) extractViaCDP(ctx context.Context, page *rod.Page) (rawSEOMeta, error) {
	pg := page.Context(ctx)
	res, err := pg.Eval(seoExtractScript)
	if err != nil {
		return rawSEOMeta{}, err
	}
	var m rawSEOMeta
	if err := json.Unmarshal([]byte(res.Value.Str()), &m); err != nil {
		return rawSEOMeta{}, err
	}
	return m, nil
}

func (s *SEOAnalyzer) extractViaGoquery(ctx context.Context, page *rod.Page) (rawSEOMeta, error) {
	html, err := page.Context(ctx).HTML()
	if err != nil {
		return rawSEOMeta{}, fmt.Errorf("seo: goquery fallback failed to read page HTML: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return rawSEOMeta{}, fmt.Errorf("seo: goquery fallback failed to parse HTML: %w", err)
	}

	var m rawSEOMeta
	m.Title = doc.Find("title").First().Text()
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		m.Description = desc
	}
	if kw, ok := doc.Find(`meta[name="keywords"]`).Attr("content"); ok {
		m.Keywords = kw
	}
	m.H1Count = doc.Find("h1").Length()
	m.H2Count = doc.Find("h2").Length()
	m.H3Count = doc.Find("h3").Length()

	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		m.ImageCount++
		alt, exists := sel.Attr("alt")
		if !exists {
			m.ImagesMissingAlt++
		} else if strings.TrimSpace(alt) == "" {
			m.ImagesEmptyAlt++
		}
	})

	_, m.HasCanonical = doc.Find(`link[rel="canonical"]`).Attr("href")
	if robots, ok := doc.Find(`meta[name="robots"]`).Attr("content"); ok {
		m.RobotsNoindex = strings.Contains(strings.ToLower(robots), "noindex")
	}
	return m, nil
}

func buildSEOSection(m rawSEOMeta) *types.SEOSection {
	var issues, recs []string

	if m.Title == "" {
		issues = append(issues, "Missing <title>")
	} else if len(m.Title) > 60 {
		recs = append(recs, "Title exceeds 60 characters and may be truncated in search results")
	} else if len(m.Title) < 10 {
		recs = append(recs, "Title is very short; consider a more descriptive title")
	}

	if m.Description == "" {
		issues = append(issues, "Missing meta description")
	} else if len(m.Description) > 160 {
		recs = append(recs, "Meta description exceeds 160 characters and may be truncated")
	}

	if m.H1Count == 0 {
		issues = append(issues, "Missing <h1>")
	} else if m.H1Count > 1 {
		recs = append(recs, "Multiple <h1> elements found; consider a single primary heading")
	}

	if m.ImagesMissingAlt > 0 {
		issues = append(issues, fmt.Sprintf("%d image(s) missing alt attribute", m.ImagesMissingAlt))
	}

	if m.RobotsNoindex {
		issues = append(issues, "Page is marked noindex")
	}
	if !m.HasCanonical {
		recs = append(recs, "No canonical link found")
	}

	score := 100.0
	score -= 20 * boolToFloat(m.Title == "")
	score -= 15 * boolToFloat(m.Description == "")
	score -= 15 * boolToFloat(m.H1Count == 0)
	score -= 5 * float64(m.ImagesMissingAlt)
	score -= 30 * boolToFloat(m.RobotsNoindex)
	score -= 5 * boolToFloat(!m.HasCanonical)
	score = types.ClampScore(score)

	return &types.SEOSection{
		Score: score,
		Grade: types.Grade(score),
		Meta: types.SEOMeta{
			Title:             m.Title,
			TitleLength:       len(m.Title),
			Description:       m.Description,
			DescriptionLength: len(m.Description),
			Keywords:          m.Keywords,
			H1Count:           m.H1Count,
			H2Count:           m.H2Count,
			H3Count:           m.H3Count,
			ImageCount:        m.ImageCount,
			ImagesMissingAlt:  m.ImagesMissingAlt,
			ImagesEmptyAlt:    m.ImagesEmptyAlt,
		},
		Issues:          issues,
		Recommendations: recs,
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

const seoExtractScript = `() => {
  const meta = (name) => {
    const tag = document.querySelector('meta[name="' + name + '" i]');
    return tag ? (tag.getAttribute('content') || '') : '';
  };
  let imageCount = 0, missingAlt = 0, emptyAlt = 0;
  document.querySelectorAll('img').forEach((img) => {
    imageCount++;
    if (!img.hasAttribute('alt')) missingAlt++;
    else if (!img.getAttribute('alt').trim()) emptyAlt++;
  });
  const canonical = document.querySelector('link[rel="canonical"]');
  const robots = meta('robots').toLowerCase();
  return JSON.stringify({
    title: document.title || '',
    description: meta('description'),
    keywords: meta('keywords'),
    h1_count: document.querySelectorAll('h1').length,
    h2_count: document.querySelectorAll('h2').length,
    h3_count: document.querySelectorAll('h3').length,
    image_count: imageCount,
    images_missing_alt: missingAlt,
    images_empty_alt: emptyAlt,
    has_canonical: !!canonical,
    robots_noindex: robots.includes('noindex'),
  });
}`
