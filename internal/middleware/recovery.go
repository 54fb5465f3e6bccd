package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// sanitizeStackTrace strips directory paths from a panic's stack trace,
// keeping only the filename and line, so a stack forwarded to an
// external log aggregator doesn't disclose the operator's filesystem
// layout.
func sanitizeStackTrace(stack []byte) string {
	lines := strings.Split(string(stack), "\n")
	sanitized := make([]string, 0, len(lines))

	for _, line := range lines {
		if strings.Contains(line, "/") && strings.Contains(line, ".go:") {
			parts := strings.Split(line, "/")
			if len(parts) > 0 {
				lastPart := parts[len(parts)-1]
				indent := ""
				for _, c := range line {
					if c == '\t' || c == ' ' {
						indent += string(c)
					} else {
						break
					}
				}
				sanitized = append(sanitized, indent+lastPart)
				continue
			}
		}
		sanitized = append(sanitized, line)
	}

	return strings.Join(sanitized, "\n")
}

// headerChecker lets Recovery detect whether a wrapped response writer
// (the Timeout middleware's timeoutWriter, in particular) already sent
// headers, so it doesn't attempt a second WriteHeader call on panic.
type headerChecker interface {
	Written() bool
}

// Recovery returns middleware that turns a panic anywhere in the status
// API's handler chain into a logged error and a 500 response, instead
// of taking down the whole process — the audit run the status API
// reports on should never be at risk because a status request crashed.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("error", err).
					Str("stack", sanitizeStackTrace(debug.Stack())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("status API handler panicked")

				if hc, ok := w.(headerChecker); ok && hc.Written() {
					log.Warn().Msg("cannot write panic response, headers already sent")
					return
				}

				writeErrorResponse(w, http.StatusInternalServerError, "internal server error", startTime)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
