package analyzers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-rod/rod"

	"github.com/auditengine/siteauditor/internal/types"
)

// SecurityHeadersAnalyzer checks the response headers a real visitor's
// browser receives, re-requesting the already-rendered URL from inside
// the page so the check runs under the same origin/cookie/TLS context
// as the original navigation.
type SecurityHeadersAnalyzer struct {
	timeout time.Duration
}

func NewSecurityHeadersAnalyzer(timeout time.Duration) *SecurityHeadersAnalyzer {
	return &SecurityHeadersAnalyzer{timeout: timeout}
}

func (s *SecurityHeadersAnalyzer) Kind() Kind             { return KindSecurityHeaders }
func (s *SecurityHeadersAnalyzer) Timeout() time.Duration { return s.timeout }

// expectedSecurityHeaders lists the incoming response headers the
// analyzer checks for, by lower-cased name.
var expectedSecurityHeaders = []string{
	"content-security-policy",
	"x-frame-options",
	"strict-transport-security",
	"x-content-type-options",
	"referrer-policy",
	"permissions-policy",
}

func (s *SecurityHeadersAnalyzer) Analyze(ctx context.Context, page *rod.Page, url string) (interface{}, error) {
	pg := page.Context(ctx)
	res, err := pg.Eval(headerProbeScript, url)
	if err != nil {
		return nil, err
	}

	var present map[string]bool
	if err := json.Unmarshal([]byte(res.Value.Str()), &present); err != nil {
		return nil, err
	}

	var have, missing []string
	for _, h := range expectedSecurityHeaders {
		if present[h] {
			have = append(have, h)
		} else {
			missing = append(missing, h)
		}
	}

	score := 100.0 * float64(len(have)) / float64(len(expectedSecurityHeaders))
	score = types.ClampScore(score)

	return &types.SecurityHeadersSection{
		Score:   score,
		Grade:   types.Grade(score),
		Present: have,
		Missing: missing,
	}, nil
}

const headerProbeScript = `(url) => {
  return fetch(url, {method: 'GET', credentials: 'same-origin'}).then((resp) => {
    const present = {};
    for (const h of ['content-security-policy','x-frame-options','strict-transport-security','x-content-type-options','referrer-policy','permissions-policy']) {
      present[h] = resp.headers.has(h);
    }
    return JSON.stringify(present);
  }).catch(() => JSON.stringify({}));
}`
