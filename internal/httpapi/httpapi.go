// Package httpapi exposes a small, read-only status surface for a running
// audit: liveness, Prometheus metrics, and queue progress. It is off by
// default and never influences the audit itself.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/auditengine/siteauditor/internal/browser"
	"github.com/auditengine/siteauditor/internal/config"
	"github.com/auditengine/siteauditor/internal/metrics"
	"github.com/auditengine/siteauditor/internal/middleware"
	"github.com/auditengine/siteauditor/pkg/version"
)

// QueueStatus is the minimal view of a running queue pass the /progress
// endpoint needs. *internal/queue.Queue satisfies it without this package
// importing queue: Go's structural interfaces let the engine stay the
// only thing that knows what a Queue is.
type QueueStatus interface {
	Len() int
	InFlight() int
	ErrorRate() float64
}

// Handler serves the status endpoints. It holds no audit logic; it only
// reads state other components already expose.
type Handler struct {
	cfg       *config.Config
	pool      *browser.Pool
	startedAt time.Time

	mu     sync.RWMutex
	status QueueStatus

	rateLimiter *middleware.RateLimiterMiddleware
}

// New creates a Handler. pool may be nil before the browser pool starts.
func New(cfg *config.Config, pool *browser.Pool) *Handler {
	return &Handler{cfg: cfg, pool: pool, startedAt: time.Now()}
}

// SetQueueStatus registers (or clears, with nil) the queue pass currently
// backing the /progress endpoint. Safe to call from another goroutine
// while requests are in flight.
func (h *Handler) SetQueueStatus(qs QueueStatus) {
	h.mu.Lock()
	h.status = qs
	h.mu.Unlock()
}

func (h *Handler) queueStatus() QueueStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// healthResponse is the /healthz response shape.
type healthResponse struct {
	Status    string     `json:"status"`
	Version   string     `json:"version"`
	UptimeMs  int64      `json:"uptimeMs"`
	Pool      *poolStats `json:"pool,omitempty"`
	StartedAt time.Time  `json:"startedAt"`
}

type poolStats struct {
	Size      int   `json:"size"`
	Available int   `json:"available"`
	Acquired  int64 `json:"acquired"`
	Released  int64 `json:"released"`
	Recycled  int64 `json:"recycled"`
	Errors    int64 `json:"errors"`
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Version:   version.Full(),
		UptimeMs:  time.Since(h.startedAt).Milliseconds(),
		StartedAt: h.startedAt.UTC(),
	}
	if h.pool != nil {
		stats := h.pool.Stats()
		resp.Pool = &poolStats{
			Size:      h.pool.Size(),
			Available: h.pool.Available(),
			Acquired:  stats.Acquired,
			Released:  stats.Released,
			Recycled:  stats.Recycled,
			Errors:    stats.Errors,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// progressResponse is the /progress response shape.
type progressResponse struct {
	Running   bool    `json:"running"`
	QueueLen  int     `json:"queueLen"`
	InFlight  int     `json:"inFlight"`
	ErrorRate float64 `json:"errorRate"`
}

func (h *Handler) handleProgress(w http.ResponseWriter, _ *http.Request) {
	qs := h.queueStatus()
	if qs == nil {
		writeJSON(w, http.StatusOK, progressResponse{Running: false})
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{
		Running:   true,
		QueueLen:  qs.Len(),
		InFlight:  qs.InFlight(),
		ErrorRate: qs.ErrorRate(),
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, resp interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("httpapi: failed to write JSON response")
	}
}

// statusAPIRequestTimeout bounds how long any single status API request
// may run. The handlers themselves only read in-memory state, but a
// wedged browser pool could make Stats() block; this keeps a status
// check from hanging past the Server's own write timeout.
const statusAPIRequestTimeout = 8 * time.Second

// Mux builds the routed, middleware-wrapped handler for the status API.
func (h *Handler) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/progress", h.handleProgress)
	mux.Handle("/metrics", metrics.Handler())

	// Listed outermost first. Recovery must sit directly inside Timeout:
	// Timeout runs the handler chain in its own goroutine, and a panic
	// can't cross a goroutine boundary for an outer recover() to catch.
	chain := []func(http.Handler) http.Handler{
		middleware.CORS(middleware.CORSConfig{AllowedOrigins: h.cfg.CORSAllowedOrigins}),
		middleware.SecurityHeaders,
		middleware.Logging,
	}
	if h.cfg.RateLimitEnabled {
		rl := middleware.NewRateLimitMiddleware(h.cfg.RateLimitRPM, h.cfg.TrustProxy)
		chain = append(chain, rl.Handler())
		h.rateLimiter = rl
	}
	if h.cfg.APIKeyEnabled {
		chain = append(chain, middleware.APIKey(h.cfg))
	}
	chain = append(chain,
		middleware.Timeout(statusAPIRequestTimeout),
		middleware.Recovery,
	)

	return middleware.Chain(chain...)(mux)
}

// Server owns the status API's HTTP listener lifecycle, mirroring how the
// audit engine's other long-lived components expose Start/Close pairs.
type Server struct {
	http    *http.Server
	handler *Handler
}

// NewServer builds a Server bound to cfg.StatusAPIHost:StatusAPIPort. It
// does not start listening until Start is called.
func NewServer(cfg *config.Config, pool *browser.Pool) *Server {
	h := New(cfg, pool)
	addr := fmt.Sprintf("%s:%d", cfg.StatusAPIHost, cfg.StatusAPIPort)
	return &Server{
		handler: h,
		http: &http.Server{
			Addr:              addr,
			Handler:           h.Mux(),
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the underlying status Handler so callers can register a
// live queue with SetQueueStatus.
func (s *Server) Handler() *Handler { return s.handler }

// Start runs the status API in a background goroutine. Bind failures are
// logged, not fatal: the status API is a diagnostic aid, not load-bearing.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.http.Addr).Msg("status API listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("status API server failed")
		}
	}()
}

// Shutdown gracefully drains the status API and stops its rate limiter's
// cleanup goroutine, if one was started.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.handler.rateLimiter != nil {
		s.handler.rateLimiter.Close()
	}
	return s.http.Shutdown(ctx)
}
