// Package middleware provides the HTTP middleware chain in front of the
// audit engine's status API (liveness, metrics, queue progress).
package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/auditengine/siteauditor/internal/config"
)

// statusAPIPublicPaths stay reachable without a key: load balancers and
// Prometheus scrapers hit these, and neither discloses anything beyond
// process liveness and counters. /progress exposes the in-flight queue
// state of whatever site is currently being audited, so it stays gated.
var statusAPIPublicPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// APIKey returns middleware that gates the status API behind a shared
// secret. When cfg.APIKeyEnabled is false the middleware is a no-op; the
// operator opted into running an unauthenticated status endpoint.
//
// The key is only accepted via the X-API-Key header, never a query
// parameter: query strings end up in access logs and, for a status API
// exposed through a reverse proxy, in that proxy's logs too.
func APIKey(cfg *config.Config) func(http.Handler) http.Handler {
	// Compare hashes rather than raw strings so the time the comparison
	// takes never depends on how many leading bytes of the key matched.
	expectedHash := sha256.Sum256([]byte(cfg.APIKey))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.APIKeyEnabled {
				next.ServeHTTP(w, r)
				return
			}

			if statusAPIPublicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			providedHash := sha256.Sum256([]byte(r.Header.Get("X-API-Key")))
			if subtle.ConstantTimeCompare(providedHash[:], expectedHash[:]) != 1 {
				writeErrorResponse(w, http.StatusUnauthorized, "invalid or missing API key", time.Now())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
