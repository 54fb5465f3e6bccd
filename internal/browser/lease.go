package browser

import (
	"time"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog/log"
)

// Lease is an exclusive handle on a browser's isolated page context for the
// duration of a single URL's analysis. A Lease is never shared across URLs
// and its page is always destroyed on Release, regardless of outcome; only
// the underlying browser process may be reused for a later Lease.
type Lease struct {
	pool       *Pool
	browser    *rod.Browser
	page       *rod.Page
	acquiredAt time.Time

	// proxyAuthCleanup stops the CDP listeners authenticateLeaseProxy
	// started for this page, if an authenticated proxy is configured.
	proxyAuthCleanup func()

	released bool
}

// Page returns the isolated page context for this lease's navigation.
func (l *Lease) Page() *rod.Page { return l.page }

// AcquiredAt is when the lease was handed out.
func (l *Lease) AcquiredAt() time.Time { return l.acquiredAt }

// Release destroys this lease's page context and returns the browser to the
// pool. Pass healthy=false if the browser misbehaved during this lease
// (crashed tab, unrecoverable navigation error) so the pool tears it down
// and spawns a replacement instead of recycling it for the next lease.
func (l *Lease) Release(healthy bool) {
	if l.released {
		return
	}
	l.released = true

	if l.proxyAuthCleanup != nil {
		l.proxyAuthCleanup()
	}

	if l.page != nil {
		if err := l.page.Close(); err != nil {
			log.Debug().Err(err).Msg("error closing lease page context")
		}
	}

	l.pool.release(l.browser, !healthy)
}
