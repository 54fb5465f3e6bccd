// Package sitemap discovers the set of URLs an audit run should test by
// fetching and parsing a site's XML sitemap (optionally one level of
// sitemap-index nesting), admitting only URLs that pass SSRF-safe
// validation.
package sitemap

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/auditengine/siteauditor/internal/security"
	"github.com/auditengine/siteauditor/internal/types"
	"github.com/auditengine/siteauditor/pkg/version"
)

// Provider discovers the URLs to audit for a given sitemap location. It is
// the engine's only external-collaborator boundary for URL discovery;
// callers needing a different source (a crawl, a static list, a CMS API)
// implement Provider directly rather than extending this package.
type Provider interface {
	Discover(ctx context.Context, sitemapURL string) ([]string, error)
}

const maxIndexDepth = 1 // one level of <sitemapindex> nesting

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc string `xml:"loc"`
}

type sitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []indexEntry `xml:"sitemap"`
}

type indexEntry struct {
	Loc string `xml:"loc"`
}

// HTTPProvider fetches and parses a sitemap over HTTP(S).
type HTTPProvider struct {
	Client    *http.Client
	UserAgent string

	// Admit decides whether a discovered <loc> URL may be audited.
	// Defaults to the SSRF admission policy; tests auditing loopback
	// fixtures substitute their own.
	Admit func(ctx context.Context, rawURL string) error
}

// NewHTTPProvider builds an HTTPProvider with the given per-request timeout.
func NewHTTPProvider(timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPProvider{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: version.UserAgent,
		Admit:     security.AdmitURLWithContext,
	}
}

// Discover fetches sitemapURL, following at most one level of
// <sitemapindex> nesting, and returns every <loc> that passes SSRF-safe
// URL admission. Individual rejected or unreachable entries are logged and
// skipped rather than failing the whole run; ErrSitemapEmpty is returned
// only if nothing survives.
func (p *HTTPProvider) Discover(ctx context.Context, sitemapURL string) ([]string, error) {
	urls, err := p.discover(ctx, sitemapURL, 0)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, types.ErrSitemapEmpty
	}
	return urls, nil
}

func (p *HTTPProvider) discover(ctx context.Context, loc string, depth int) ([]string, error) {
	body, err := p.fetch(ctx, loc)
	if err != nil {
		return nil, types.NewNetworkError(loc, err)
	}

	if set, ok := parseURLSet(body); ok {
		return p.admit(ctx, set), nil
	}

	if idx, ok := parseIndex(body); ok {
		if depth >= maxIndexDepth {
			log.Warn().Str("sitemap", loc).Msg("sitemap index nesting exceeds supported depth, ignoring nested entries")
			return nil, nil
		}
		var all []string
		for _, entry := range idx.Sitemaps {
			child, err := p.discover(ctx, entry.Loc, depth+1)
			if err != nil {
				log.Warn().Str("sitemap", entry.Loc).Err(err).Msg("failed to fetch nested sitemap, skipping")
				continue
			}
			all = append(all, child...)
		}
		return all, nil
	}

	return nil, types.NewAuditError(types.KindParsing, loc, "sitemap response is neither a urlset nor a sitemapindex", nil)
}

// fetch retrieves the sitemap document itself. loc is operator-configured
// (the initial sitemap) or a same-site nested sitemap reference, not
// attacker content, so it is not subject to the SSRF admission policy;
// only the <loc> entries fetch discloses (the page URLs the engine will
// audit) go through admit.
func (p *HTTPProvider) fetch(ctx context.Context, loc string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.UserAgent)
	req.Header.Set("Accept", "application/xml, text/xml, */*")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected sitemap status %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, 32<<20))
}

func parseURLSet(body []byte) (*urlSet, bool) {
	var set urlSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, false
	}
	return &set, true
}

func parseIndex(body []byte) (*sitemapIndex, bool) {
	var idx sitemapIndex
	if err := xml.Unmarshal(body, &idx); err != nil || len(idx.Sitemaps) == 0 {
		return nil, false
	}
	return &idx, true
}

// admit filters the raw <loc> list down to SSRF-admissible, non-empty URLs.
func (p *HTTPProvider) admit(ctx context.Context, set *urlSet) []string {
	out := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		if u.Loc == "" {
			continue
		}
		if err := p.Admit(ctx, u.Loc); err != nil {
			log.Warn().Str("url", security.RedactURL(u.Loc)).Err(err).Msg("sitemap URL rejected by admission policy")
			continue
		}
		out = append(out, u.Loc)
	}
	return out
}
