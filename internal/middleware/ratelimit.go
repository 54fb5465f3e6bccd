package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// maxTrackedClients bounds the rate limiter's client map so a scan of
// the status API from many distinct addresses can't grow it without
// bound; at the oldest-entry eviction point, a new caller always gets
// in by displacing whichever tracked client has been quietest longest.
const maxTrackedClients = 10000

// RateLimiter is a per-client token bucket guarding the status API from
// being hammered by a monitoring loop gone wrong or a runaway dashboard
// poll interval.
type RateLimiter struct {
	mu         sync.Mutex
	clients    map[string]*client
	rate       int
	window     time.Duration
	cleanup    time.Duration
	trustProxy bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

type client struct {
	tokens    int
	lastReset time.Time
}

// NewRateLimiter builds a limiter allowing rate requests per window from
// each distinct client. trustProxy controls whether X-Forwarded-For and
// X-Real-IP are honored when identifying a client (see getClientIP).
func NewRateLimiter(rate int, window time.Duration, trustProxy bool) *RateLimiter {
	rl := &RateLimiter{
		clients:    make(map[string]*client),
		rate:       rate,
		window:     window,
		cleanup:    5 * time.Minute,
		trustProxy: trustProxy,
		stopCh:     make(chan struct{}),
	}

	rl.wg.Add(1)
	go func() {
		defer rl.wg.Done()
		rl.cleanupRoutine()
	}()

	return rl
}

// Allow reports whether a request from ip may proceed, consuming a
// token from its bucket if so.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	c, exists := rl.clients[ip]

	if !exists {
		if len(rl.clients) >= maxTrackedClients {
			rl.evictOldest()
		}
		rl.clients[ip] = &client{tokens: rl.rate - 1, lastReset: now}
		return true
	}

	if now.Sub(c.lastReset) >= rl.window {
		c.tokens = rl.rate - 1
		c.lastReset = now
		return true
	}

	if c.tokens > 0 {
		c.tokens--
		return true
	}

	return false
}

func (rl *RateLimiter) cleanupRoutine() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStale()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanupStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	staleThreshold := 2 * rl.window

	for ip, c := range rl.clients {
		if now.Sub(c.lastReset) > staleThreshold {
			delete(rl.clients, ip)
		}
	}
}

// evictOldest drops the least-recently-reset client entry. Caller must
// hold rl.mu.
func (rl *RateLimiter) evictOldest() {
	if len(rl.clients) == 0 {
		return
	}

	var oldestIP string
	var oldestTime time.Time
	first := true

	for ip, c := range rl.clients {
		if first || c.lastReset.Before(oldestTime) {
			oldestIP = ip
			oldestTime = c.lastReset
			first = false
		}
	}

	if oldestIP != "" {
		delete(rl.clients, oldestIP)
	}
}

// Close stops the stale-entry cleanup goroutine. Idempotent.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.stopCh)
		rl.wg.Wait()
	})
}

// GetClientIP extracts the request's client address under this
// limiter's trust-proxy setting.
func (rl *RateLimiter) GetClientIP(r *http.Request) string {
	return getClientIP(r, rl.trustProxy)
}

// RateLimiterMiddleware pairs a RateLimiter with its http middleware
// func, so the status API server can hold one reference and call Close
// on shutdown instead of leaking the cleanup goroutine.
type RateLimiterMiddleware struct {
	limiter *RateLimiter
	handler func(http.Handler) http.Handler
}

// Close stops the underlying limiter's cleanup goroutine.
func (m *RateLimiterMiddleware) Close() {
	if m.limiter != nil {
		m.limiter.Close()
	}
}

// Handler returns the middleware function to wrap the status API's mux
// with.
func (m *RateLimiterMiddleware) Handler() func(http.Handler) http.Handler {
	return m.handler
}

// NewRateLimitMiddleware builds a RateLimiterMiddleware limiting each
// client to requestsPerMinute status API requests. trustProxy should
// only be set when the status API sits behind a reverse proxy the
// operator controls; otherwise a caller can spoof X-Forwarded-For to
// dodge the limit entirely.
func NewRateLimitMiddleware(requestsPerMinute int, trustProxy bool) *RateLimiterMiddleware {
	limiter := NewRateLimiter(requestsPerMinute, time.Minute, trustProxy)

	m := &RateLimiterMiddleware{limiter: limiter}

	m.handler = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			ip := limiter.GetClientIP(r)

			if !limiter.Allow(ip) {
				w.Header().Set("Retry-After", "60")
				writeErrorResponse(w, http.StatusTooManyRequests, "rate limit exceeded, slow down your status polling", startTime)
				return
			}

			next.ServeHTTP(w, r)
		})
	}

	return m
}

// normalizeIP parses addr and returns its canonical form (IPv4-mapped
// IPv6 folded down to IPv4), or addr unchanged if it doesn't parse.
func normalizeIP(ipStr string) string {
	ipStr = strings.TrimSpace(ipStr)
	if ipStr == "" {
		return ""
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ipStr
	}

	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String()
	}

	return ip.String()
}

// getClientIP identifies the caller for rate-limit bucketing. With
// trustProxy false (the default), only the TCP-level RemoteAddr is
// used, since a caller can set X-Forwarded-For to anything it likes.
// With trustProxy true, X-Forwarded-For and X-Real-IP are honored,
// which only makes sense when a trusted reverse proxy sets them.
func getClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			var ipStr string
			if idx := strings.Index(xff, ","); idx > 0 {
				ipStr = xff[:idx]
			} else {
				ipStr = xff
			}
			if normalized := normalizeIP(ipStr); normalized != "" {
				return normalized
			}
		}

		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if normalized := normalizeIP(xri); normalized != "" {
				return normalized
			}
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return normalizeIP(ip)
}
