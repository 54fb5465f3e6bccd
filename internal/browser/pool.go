// Package browser provides the Browser Pool: a bounded set of headless
// browser instances, handed out as per-URL isolated Leases.
package browser

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/auditengine/siteauditor/internal/config"
	"github.com/auditengine/siteauditor/internal/metrics"
	"github.com/auditengine/siteauditor/internal/security"
	"github.com/auditengine/siteauditor/internal/types"
)

// Pool manages a bounded set of reusable browser processes. Each Acquire
// hands out a Lease holding a fresh, isolated page context; the browser
// process itself may be reused across leases, but a context is never
// shared across two URLs.
//
// Lock ordering: mu must be acquired before any browser entry locks. Never
// hold mu while performing slow I/O.
type Pool struct {
	mu        sync.Mutex
	browsers  []*browserEntry
	available chan *rod.Browser
	cfg       *config.Config
	closed    atomic.Bool

	stopCh chan struct{}
	wg     sync.WaitGroup

	availableCount   atomic.Int32
	leakedGoroutines atomic.Int32
	closeWg          sync.WaitGroup
	recycleSem       chan struct{}

	stats PoolStats
}

type browserEntry struct {
	browser   *rod.Browser
	createdAt time.Time
	useCount  atomic.Int64
}

// PoolStats tracks lifetime pool counters.
type PoolStats struct {
	Acquired atomic.Int64
	Released atomic.Int64
	Recycled atomic.Int64
	Errors   atomic.Int64
}

// NewPool creates a browser pool, pre-warming it to cfg.BrowserPoolSize
// browsers. Blocks until all browsers are ready or an error occurs.
func NewPool(cfg *config.Config) (*Pool, error) {
	log.Info().
		Int("pool_size", cfg.BrowserPoolSize).
		Bool("headless", cfg.Headless).
		Msg("initializing browser pool")

	pool := &Pool{
		cfg:        cfg,
		available:  make(chan *rod.Browser, cfg.BrowserPoolSize),
		browsers:   make([]*browserEntry, 0, cfg.BrowserPoolSize),
		stopCh:     make(chan struct{}),
		recycleSem: make(chan struct{}, 4),
	}

	for i := 0; i < cfg.BrowserPoolSize; i++ {
		b, err := pool.spawnBrowser(context.Background())
		if err != nil {
			log.Error().Err(err).Int("browser_index", i).Msg("failed to spawn browser during pool init")
			if closeErr := pool.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("failed to close pool during cleanup")
			}
			return nil, fmt.Errorf("failed to spawn browser %d: %w", i, err)
		}
		pool.browsers = append(pool.browsers, &browserEntry{browser: b, createdAt: time.Now()})
		pool.available <- b
	}
	pool.availableCount.Store(int32(cfg.BrowserPoolSize))

	pool.wg.Add(2)
	go func() { defer pool.wg.Done(); pool.monitorMemory() }()
	go func() { defer pool.wg.Done(); pool.healthCheckRoutine() }()

	log.Info().Int("pool_size", cfg.BrowserPoolSize).Msg("browser pool initialized")
	return pool, nil
}

// createLauncher configures a Rod launcher so the audited site renders the
// page a real visitor gets, not a bot-challenge page. stealth.Page applies
// the remaining JS-level evasions when a lease's context is created.
func (p *Pool) createLauncher(proxyURL string) *launcher.Launcher {
	l := launcher.New()

	if p.cfg.BrowserPath != "" {
		l = l.Bin(p.cfg.BrowserPath)
	}

	if p.cfg.Headless {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false)
	}

	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")

	if proxyURL != "" {
		l = l.Set("proxy-server", proxyURL)
		log.Debug().Str("proxy", security.RedactProxyURL(proxyURL)).Msg("browser proxy configured")
	}

	l = l.Set("force-webrtc-ip-handling-policy", "disable_non_proxied_udp")
	l = l.Set("disable-blink-features", "AutomationControlled")
	l = l.Delete("enable-automation")
	l = l.Set("disable-features", "Translate,TranslateUI,BlinkGenPropertyTrees,WebRtcHideLocalIpsWithMdns")
	l = l.Set("enable-features", "NetworkService,NetworkServiceInProcess")
	l = l.Set("use-gl", "swiftshader").
		Set("use-angle", "swiftshader").
		Set("enable-unsafe-swiftshader").
		Set("enable-webgl").
		Set("enable-webgl2")

	l = l.Set("accept-lang", "en-US,en;q=0.9")
	l = l.Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("disable-search-engine-choice-screen")
	l = l.Set("window-size", "1920,1080")

	l = l.Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("mute-audio").
		Set("no-zygote").
		Set("safebrowsing-disable-auto-update")

	l = l.Set("js-flags", "--max-old-space-size=256").
		Set("disable-ipc-flooding-protection").
		Set("disable-renderer-backgrounding")

	l = l.Set("disable-gpu-sandbox")

	if isARM() {
		l = l.Set("disable-gpu-compositing")
	}

	return l
}

func (p *Pool) spawnBrowser(ctx context.Context) (*rod.Browser, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	l := p.createLauncher(p.cfg.ProxyURL)
	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	log.Debug().Str("url", url).Msg("browser spawned")
	return b, nil
}

// Acquire blocks until a browser is available, then creates a fresh
// isolated page context (via stealth.Page so the site sees a convincing
// real visitor) and returns it wrapped in a Lease. The caller must call
// Lease.Release when done.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if p.closed.Load() {
		return nil, types.ErrPoolClosed
	}

	const maxRetries = 5
	for retry := 0; retry < maxRetries; retry++ {
		select {
		case b, ok := <-p.available:
			if !ok || p.closed.Load() {
				if b != nil {
					_ = b.Close()
				}
				return nil, types.ErrPoolClosed
			}

			p.stats.Acquired.Add(1)
			metrics.BrowserPoolAcquiredTotal.Inc()

			if !p.isHealthy(b) {
				log.Warn().Int("retry", retry).Msg("acquired unhealthy browser, recycling")
				p.stats.Errors.Add(1)
				go p.recycleBrowser(b)
				continue
			}

			p.availableCount.Add(-1)

			p.mu.Lock()
			for _, entry := range p.browsers {
				if entry.browser == b {
					entry.useCount.Add(1)
					break
				}
			}
			p.mu.Unlock()

			page, err := stealth.Page(b)
			if err != nil {
				log.Warn().Err(err).Msg("failed to create stealth page, falling back to plain page")
				page, err = b.Page(proto.TargetCreateTarget{URL: "about:blank"})
				if err != nil {
					go p.recycleBrowser(b)
					return nil, types.NewPoolAcquireError("context creation failed", err)
				}
			}

			var proxyAuthCleanup func()
			if p.cfg.ProxyUsername != "" {
				proxyAuthCleanup, err = authenticateLeaseProxy(ctx, page, &ProxyCredentials{
					Username: p.cfg.ProxyUsername,
					Password: p.cfg.ProxyPassword,
				})
				if err != nil {
					log.Warn().Err(err).Msg("failed to wire proxy authentication, navigation may hang behind an auth prompt")
				}
			}

			return &Lease{pool: p, browser: b, page: page, acquiredAt: time.Now(), proxyAuthCleanup: proxyAuthCleanup}, nil

		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", types.ErrContextCanceled, ctx.Err())

		case <-time.After(p.cfg.BrowserPoolTimeout):
			p.stats.Errors.Add(1)
			return nil, types.ErrPoolTimeout
		}
	}

	p.stats.Errors.Add(1)
	return nil, fmt.Errorf("%w: all browsers unhealthy after %d retries", types.ErrBrowserUnhealthy, maxRetries)
}

// release returns the underlying browser to the pool, or tears it down and
// replaces it when unhealthy is true. Called only by Lease.Release.
func (p *Pool) release(b *rod.Browser, unhealthy bool) {
	if b == nil {
		return
	}

	if unhealthy {
		go p.recycleBrowser(b)
		return
	}

	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		if err := b.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing browser during release (pool closed)")
		}
		return
	}
	p.stats.Released.Add(1)
	p.mu.Unlock()

	select {
	case p.available <- b:
		p.availableCount.Add(1)
	default:
		log.Warn().Msg("pool is full, closing excess browser")
		if err := b.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing excess browser")
		}
	}
}

func (p *Pool) isHealthy(b *rod.Browser) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return false
	}
	defer page.Close()

	return page.Context(ctx).Navigate("about:blank") == nil
}

func (p *Pool) recycleBrowser(old *rod.Browser) {
	if p.closed.Load() {
		return
	}

	p.stats.Recycled.Add(1)
	metrics.BrowserPoolRecycledTotal.Inc()
	p.closeBrowserWithTimeout(old, 10*time.Second)

	var newBrowser *rod.Browser
	var spawnErr error

	spawnCtx, spawnCancel := context.WithTimeout(context.Background(), 30*time.Second)
	spawnDone := make(chan struct{})
	go func() {
		defer close(spawnDone)
		newBrowser, spawnErr = p.spawnBrowser(spawnCtx)
	}()

	select {
	case <-spawnDone:
		spawnCancel()
	case <-p.stopCh:
		spawnCancel()
		p.removeBrowserEntry(old)
		select {
		case <-spawnDone:
		case <-time.After(2 * time.Second):
		}
		return
	case <-time.After(30 * time.Second):
		spawnCancel()
		p.removeBrowserEntry(old)
		return
	}

	if spawnErr != nil {
		log.Error().Err(spawnErr).Msg("failed to spawn replacement browser")
		p.removeBrowserEntry(old)
		return
	}

	p.updateBrowserEntry(old, &browserEntry{browser: newBrowser, createdAt: time.Now()})
	p.addBrowserToPool(newBrowser)
}

func (p *Pool) closeBrowserWithTimeout(b *rod.Browser, timeout time.Duration) bool {
	closeDone := make(chan struct{})
	p.closeWg.Add(1)
	go func() {
		defer p.closeWg.Done()
		defer close(closeDone)
		if err := b.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing browser")
		}
	}()

	select {
	case <-closeDone:
		return true
	case <-p.stopCh:
		return false
	case <-time.After(timeout):
		leaked := p.leakedGoroutines.Add(1)
		log.Warn().Int32("leaked_count", leaked).Msg("browser close timed out")
		p.stats.Errors.Add(1)
		return false
	}
}

func (p *Pool) addBrowserToPool(b *rod.Browser) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		if err := b.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing browser (pool was closed)")
		}
		return
	}

	select {
	case p.available <- b:
		p.availableCount.Add(1)
	default:
		if err := b.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing excess browser")
		}
	}
}

func (p *Pool) monitorMemory() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	maxBytes := uint64(p.cfg.MaxMemoryMB) * 1024 * 1024

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if p.closed.Load() {
				return
			}
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			if m.Alloc > maxBytes {
				log.Warn().Uint64("current_mb", m.Alloc/1024/1024).Int("max_mb", p.cfg.MaxMemoryMB).Msg("memory threshold exceeded, recycling browsers")
				p.recycleAll()
			}
		}
	}
}

func (p *Pool) healthCheckRoutine() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	const maxAge = 30 * time.Minute

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if p.closed.Load() {
				return
			}
			p.mu.Lock()
			now := time.Now()
			var toRecycle []*rod.Browser
			for _, entry := range p.browsers {
				if now.Sub(entry.createdAt) > maxAge {
					toRecycle = append(toRecycle, entry.browser)
				}
			}
			p.mu.Unlock()
			for _, b := range toRecycle {
				p.recycleBrowser(b)
			}
		}
	}
}

func (p *Pool) recycleAll() {
	p.mu.Lock()
	toRecycle := make([]*rod.Browser, len(p.browsers))
	for i, entry := range p.browsers {
		toRecycle[i] = entry.browser
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, b := range toRecycle {
		if p.closed.Load() {
			break
		}
		wg.Add(1)
		go func(b *rod.Browser) {
			defer wg.Done()
			select {
			case p.recycleSem <- struct{}{}:
				defer func() { <-p.recycleSem }()
				p.recycleBrowser(b)
			case <-p.stopCh:
			}
		}(b)
	}
	wg.Wait()
}

func (p *Pool) Size() int { return p.cfg.BrowserPoolSize }

func (p *Pool) Available() int {
	if p.closed.Load() {
		return 0
	}
	return int(p.availableCount.Load())
}

type PoolStatsSnapshot struct {
	Acquired         int64
	Released         int64
	Recycled         int64
	Errors           int64
	LeakedGoroutines int32
}

func (p *Pool) Stats() PoolStatsSnapshot {
	return PoolStatsSnapshot{
		Acquired:         p.stats.Acquired.Load(),
		Released:         p.stats.Released.Load(),
		Recycled:         p.stats.Recycled.Load(),
		Errors:           p.stats.Errors.Load(),
		LeakedGoroutines: p.leakedGoroutines.Load(),
	}
}

// Close drains and shuts down the pool. After Close, Acquire errors.
// Safe to call multiple times.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		return nil
	}
	close(p.available)
	p.mu.Unlock()

	log.Info().Msg("closing browser pool")

	close(p.stopCh)

	done := make(chan struct{})
	go func() { p.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("timeout waiting for background goroutines to stop")
	}

	closeWgDone := make(chan struct{})
	go func() { p.closeWg.Wait(); close(closeWgDone) }()
	select {
	case <-closeWgDone:
	case <-time.After(15 * time.Second):
		log.Warn().Msg("timeout waiting for browser close goroutines")
	}

	p.mu.Lock()
	entries := make([]*browserEntry, len(p.browsers))
	copy(entries, p.browsers)
	p.browsers = nil
	p.mu.Unlock()

	eg := new(errgroup.Group)
	eg.SetLimit(4)
	for _, entry := range entries {
		b := entry.browser
		eg.Go(func() error {
			if err := b.Close(); err != nil {
				log.Warn().Err(err).Msg("error closing browser during pool shutdown")
				return err
			}
			return nil
		})
	}
	closeErr := eg.Wait()

	for b := range p.available {
		if b != nil {
			_ = b.Close()
		}
	}

	p.stats.Acquired.Store(0)
	p.stats.Released.Store(0)
	p.stats.Recycled.Store(0)
	p.stats.Errors.Store(0)

	log.Info().Msg("browser pool closed")
	return closeErr
}

func (p *Pool) removeBrowserEntry(old *rod.Browser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, entry := range p.browsers {
		if entry.browser == old {
			last := len(p.browsers) - 1
			if i != last {
				p.browsers[i] = p.browsers[last]
			}
			p.browsers = p.browsers[:last]
			return
		}
	}
}

func (p *Pool) updateBrowserEntry(old *rod.Browser, newEntry *browserEntry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, entry := range p.browsers {
		if entry.browser == old {
			p.browsers[i] = newEntry
			return true
		}
	}
	return false
}

func isARM() bool {
	arch := runtime.GOARCH
	return arch == "arm" || arch == "arm64"
}
