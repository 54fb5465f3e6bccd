package middleware

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// CORSConfig configures which browser-origin dashboards may poll the
// status API from script.
type CORSConfig struct {
	// AllowedOrigins lists origins allowed to read the status endpoints
	// via CORS. Empty means no cross-origin access is granted; the API
	// is still reachable directly (curl, server-side polling), just not
	// from a browser page on another origin.
	AllowedOrigins []string
}

// CORS returns middleware that adds CORS headers for the status API's
// read-only GET endpoints. An empty AllowedOrigins rejects every
// cross-origin request rather than falling back to a wildcard — a
// progress dashboard with no configured origin is a misconfiguration,
// not an invitation to let any page poll it.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	allowedSet := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		allowedSet[origin] = struct{}{}
	}

	if len(allowedSet) == 0 {
		log.Warn().Msg("no CORS allowed origins configured for the status API; cross-origin requests will be rejected")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			var allowOrigin string
			if len(allowedSet) == 0 {
				if origin != "" {
					log.Debug().Str("origin", origin).Msg("status API CORS request rejected: no allowed origins configured")
				}
			} else if origin != "" {
				if _, ok := allowedSet[origin]; ok {
					allowOrigin = origin
				} else {
					log.Debug().Str("origin", origin).Msg("status API CORS request from non-allowed origin")
				}
			}

			if allowOrigin != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
				// The status API never accepts a request body or mutates
				// anything, so only GET needs a preflight grant.
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("X-Content-Type-Options", "nosniff")
				w.Header().Set("Cache-Control", "no-store, max-age=0")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders returns middleware that sets baseline response headers
// for the status API: never sniff the content type, never cache a
// response (progress and pool counters are only valid for an instant),
// never let the API be framed by another page.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
		w.Header().Set("X-Frame-Options", "DENY")

		next.ServeHTTP(w, r)
	})
}
