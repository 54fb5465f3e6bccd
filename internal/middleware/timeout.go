package middleware

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// timeoutWriter wraps http.ResponseWriter so that once a request's
// deadline passes, the handler's in-flight goroutine (still running
// server-side — see Timeout) can't race a already-sent 504 with writes
// of its own.
type timeoutWriter struct {
	http.ResponseWriter
	mu          sync.Mutex
	timedOut    atomic.Bool
	wroteHeader bool
}

// Write discards writes after timeout, proceeding under lock otherwise
// so it never races the timeout goroutine's own response.
func (tw *timeoutWriter) Write(b []byte) (int, error) {
	if tw.timedOut.Load() {
		return len(b), nil
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.timedOut.Load() {
		return len(b), nil
	}

	return tw.ResponseWriter.Write(b)
}

// WriteHeader discards the call after timeout or if a header was
// already written.
func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.timedOut.Load() || tw.wroteHeader {
		return
	}
	tw.wroteHeader = true
	tw.ResponseWriter.WriteHeader(code)
}

// Header returns empty headers once timed out, since any further
// modification can no longer affect a response that was already sent.
func (tw *timeoutWriter) Header() http.Header {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.timedOut.Load() {
		return make(http.Header)
	}

	return tw.ResponseWriter.Header()
}

func (tw *timeoutWriter) markTimedOut() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.timedOut.Store(true)
}

// Flush satisfies http.Flusher for handlers that stream, discarding
// after timeout like every other write path.
func (tw *timeoutWriter) Flush() {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.timedOut.Load() {
		return
	}

	if f, ok := tw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Written reports whether a response header was sent before timeout,
// satisfying the headerChecker interface Recovery uses to decide
// whether it's still safe to write its own error response.
func (tw *timeoutWriter) Written() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.wroteHeader
}

// Timeout returns middleware that bounds how long the status API will
// let a handler run before answering with 504 Gateway Timeout. /progress
// and /healthz read in-memory state and return immediately, but a
// pathological case (a pool stats call blocked behind a wedged browser
// process) shouldn't be able to hang a status request forever.
//
// The handler keeps running after the deadline passes — its goroutine
// isn't killed, only its writes are discarded by timeoutWriter — so
// next must itself respect r.Context().Done() to avoid doing wasted
// work. Wrap Recovery with Timeout (not the other way around) so a
// handler panic after the deadline is still caught: panics don't cross
// goroutine boundaries, and next.ServeHTTP below runs in a goroutine
// Timeout owns.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			tw := &timeoutWriter{ResponseWriter: w}

			done := make(chan struct{})
			go func() {
				next.ServeHTTP(tw, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
				if ctx.Err() == context.DeadlineExceeded && !tw.Written() {
					writeErrorResponse(tw, http.StatusGatewayTimeout, "request timed out", startTime)
					tw.markTimedOut()
				}
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded && !tw.Written() {
					writeErrorResponse(tw, http.StatusGatewayTimeout, "request timed out", startTime)
					tw.markTimedOut()
				} else {
					tw.markTimedOut()
				}
			}
		})
	}
}
