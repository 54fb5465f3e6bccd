// Package blockdetect recognizes anti-bot and access-denial pages so the
// result factory can mark a page result skipped instead of scoring a
// challenge page as if it were the site's real markup.
package blockdetect

import (
	"regexp"
	"strings"
)

// maxBodyLenForRegex bounds the body slice handed to the pattern table so a
// huge challenge page can't turn matching into a ReDoS vector.
const maxBodyLenForRegex = 100 * 1024

// Category is the broad reason a page was classified as blocked.
type Category string

const (
	CategoryRateLimit    Category = "rate_limit"
	CategoryAccessDenied Category = "access_denied"
	CategoryCaptcha      Category = "captcha"
	CategoryGeoBlocked   Category = "geo_blocked"
)

type pattern struct {
	re       *regexp.Regexp
	code     string
	category Category
	reason   string
}

// patterns is ordered by specificity: Cloudflare numeric codes first, then
// generic phrasing. [^<]{0,N} is used instead of .{0,N} so matches can't
// backtrack across an entire HTML document.
var patterns = []pattern{
	{regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}1015`), "CF_1015", CategoryRateLimit, "Cloudflare rate limit exceeded"},
	{regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}1020`), "CF_1020", CategoryAccessDenied, "Cloudflare access denied: suspicious request"},
	{regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}1006`), "CF_1006", CategoryAccessDenied, "Cloudflare access denied"},
	{regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}1007`), "CF_1007", CategoryAccessDenied, "Cloudflare access denied"},
	{regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}1008`), "CF_1008", CategoryAccessDenied, "Cloudflare access denied"},
	{regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}1009`), "CF_1009", CategoryGeoBlocked, "Cloudflare geo-restriction"},
	{regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}1010`), "CF_1010", CategoryAccessDenied, "Cloudflare browser signature rejected"},
	{regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}1012`), "CF_1012", CategoryAccessDenied, "Cloudflare access denied"},
	{regexp.MustCompile(`(?i)access\s{1,5}denied`), "ACCESS_DENIED", CategoryAccessDenied, "Generic access denied page"},
	{regexp.MustCompile(`(?i)rate\s{0,3}limit`), "RATE_LIMITED", CategoryRateLimit, "Generic rate limit page"},
	{regexp.MustCompile(`(?i)too\s{1,5}many\s{1,5}requests`), "TOO_MANY_REQUESTS", CategoryRateLimit, "Too many requests page"},
	{regexp.MustCompile(`(?i)you\s{1,5}(have\s{1,5}been\s{1,5})?blocked`), "BLOCKED", CategoryAccessDenied, "Request blocked page"},
	{regexp.MustCompile(`(?i)(captcha|hcaptcha|recaptcha|checking\s{1,3}your\s{1,3}browser)`), "CAPTCHA", CategoryCaptcha, "CAPTCHA or interstitial challenge"},
}

// Verdict reports whether a fetched page is a block/challenge page rather
// than real site content, and why.
type Verdict struct {
	Blocked  bool
	Code     string
	Category Category
	Reason   string
}

// Detect classifies an HTTP status and response body. Status 429/503 are
// always treated as blocked regardless of body content; otherwise the body
// is matched against the pattern table, and a bare 403 mentioning
// "cloudflare" is treated as an access-denial page.
func Detect(statusCode int, body string) Verdict {
	if len(body) > maxBodyLenForRegex {
		body = body[:maxBodyLenForRegex]
	}

	switch statusCode {
	case 429:
		return Verdict{Blocked: true, Code: "HTTP_429", Category: CategoryRateLimit, Reason: "HTTP 429 Too Many Requests"}
	case 503:
		return Verdict{Blocked: true, Code: "HTTP_503", Category: CategoryRateLimit, Reason: "HTTP 503 Service Unavailable"}
	}

	for _, p := range patterns {
		if p.re.MatchString(body) {
			return Verdict{Blocked: true, Code: p.code, Category: p.category, Reason: p.reason}
		}
	}

	if statusCode == 403 && strings.Contains(strings.ToLower(body), "cloudflare") {
		return Verdict{Blocked: true, Code: "CF_403", Category: CategoryAccessDenied, Reason: "Cloudflare 403 Forbidden"}
	}

	return Verdict{}
}
