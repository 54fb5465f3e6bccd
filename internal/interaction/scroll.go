// Package interaction drives page measurement-oriented interactions: lazy
// content has to be triggered before Content Weight and CWV can see it, and
// touch-target geometry has to be sampled before the Mobile analyzer can
// judge tappability. Neither of these simulates a human visitor; both exist
// to make the rendered page representative of what a real visitor would
// eventually see.
package interaction

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// ScrollConfig controls the lazy-load trigger pass.
type ScrollConfig struct {
	Steps         int
	StepDelay     time.Duration
	SettleDelay   time.Duration
	ReturnToTop   bool
}

func DefaultScrollConfig() ScrollConfig {
	return ScrollConfig{
		Steps:       8,
		StepDelay:   120 * time.Millisecond,
		SettleDelay: 300 * time.Millisecond,
		ReturnToTop: true,
	}
}

// TriggerLazyLoad scrolls the page from top to bottom in a fixed number of
// steps so viewport-triggered lazy loaders (images, infinite-scroll
// sections) fire before Content Weight and CWV measure the page, then
// returns to the top so subsequent screenshots/metrics see the initial
// viewport. Scroll failures are logged and swallowed: a page that can't be
// scrolled is measured as-is rather than failing the whole analysis.
func TriggerLazyLoad(ctx context.Context, page *rod.Page, cfg ScrollConfig) {
	metrics, err := proto.PageGetLayoutMetrics{}.Call(page)
	if err != nil {
		log.Debug().Err(err).Msg("interaction: layout metrics unavailable, skipping lazy-load trigger")
		return
	}

	maxScrollY := metrics.ContentSize.Height - metrics.VisualViewport.ClientHeight
	if maxScrollY <= 0 {
		return
	}

	steps := cfg.Steps
	if steps < 1 {
		steps = 1
	}

	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		targetY := maxScrollY * float64(i) / float64(steps)
		if _, err := page.Eval(`y => window.scrollTo({top: y, behavior: 'instant'})`, targetY); err != nil {
			log.Debug().Err(err).Msg("interaction: scroll step failed")
		}
		sleep(ctx, cfg.StepDelay)
	}

	sleep(ctx, cfg.SettleDelay)

	if cfg.ReturnToTop {
		if _, err := page.Eval(`() => window.scrollTo({top: 0, behavior: 'instant'})`); err != nil {
			log.Debug().Err(err).Msg("interaction: scroll-to-top failed")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
