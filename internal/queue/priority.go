package queue

import (
	"net/url"
	"strings"
)

// Priority is the coarse dispatch tier a URL is placed into. Higher values
// dispatch first; within a tier, items are FIFO-ordered by insertion.
type Priority int

const (
	PriorityOther   Priority = 0
	PriorityContent Priority = 1
	PriorityLanding Priority = 2
	PriorityHome    Priority = 3
)

// homeKeywords, landingKeywords and contentKeywords are the priority
// table URL path segments are matched against, dispatching home before
// landing before content pages. A path matching none of these falls into
// the lowest, catch-all tier.
var (
	homeKeywords    = []string{"home", "index"}
	landingKeywords = []string{"landing", "/lp/", "/lp"}
	contentKeywords = []string{"about", "contact", "service", "product", "pricing", "faq", "help", "docs", "team", "careers"}
)

// ComputePriority classifies rawURL's path against the priority table. An
// unparseable URL is treated as lowest priority rather than failing
// enqueue; the queue still dispatches it, just last.
func ComputePriority(rawURL string) Priority {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	path = strings.ToLower(path)
	trimmed := strings.Trim(path, "/")

	if trimmed == "" {
		return PriorityHome
	}
	if containsAny(path, homeKeywords) {
		return PriorityHome
	}
	if containsAny(path, landingKeywords) {
		return PriorityLanding
	}
	if containsAny(path, contentKeywords) {
		return PriorityContent
	}
	return PriorityOther
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
