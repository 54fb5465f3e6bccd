package browser

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// BlockResources configures the page to fail requests for resource types
// the caller doesn't need, via the CDP Fetch domain. The pre-filter pass
// uses this to make its redirect-classification navigation cheap: it
// never reads image/CSS/font/media content, so there's no reason to pay
// for downloading any of it.
//
// Returns a cleanup function that MUST be called when the caller is done
// with the page (lease release, or pass completion) to stop the EachEvent
// goroutines this starts. Safe to call multiple times.
func BlockResources(ctx context.Context, page *rod.Page, blockImages, blockCSS, blockFonts, blockMedia bool) (cleanup func(), err error) {
	log.Debug().
		Bool("images", blockImages).
		Bool("css", blockCSS).
		Bool("fonts", blockFonts).
		Bool("media", blockMedia).
		Msg("configuring resource blocking for navigation")

	patterns := buildBlockPatterns(blockImages, blockCSS, blockFonts, blockMedia)
	if len(patterns) == 0 {
		return func() {}, nil
	}

	err = proto.FetchEnable{Patterns: patterns}.Call(page)
	if err != nil {
		log.Warn().Err(err).Msg("failed to enable resource blocking")
		return func() {}, err
	}

	listenerCtx, cancel := context.WithCancel(ctx)
	pageWithCtx := page.Context(listenerCtx)

	var wg sync.WaitGroup
	var cleanupOnce sync.Once
	cleanupFunc := func() {
		cleanupOnce.Do(func() {
			cancel()
			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
				log.Debug().Msg("resource blocking listeners cleaned up")
			case <-time.After(5 * time.Second):
				log.Warn().Msg("timeout waiting for resource blocking listeners to clean up")
			}
		})
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		pageWithCtx.EachEvent(func(e *proto.TargetTargetDestroyed) bool {
			cleanupFunc()
			return true
		})()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pageWithCtx.EachEvent(func(e *proto.FetchRequestPaused) bool {
			select {
			case <-listenerCtx.Done():
				return true
			default:
			}
			_ = proto.FetchFailRequest{
				RequestID:   e.RequestID,
				ErrorReason: proto.NetworkErrorReasonBlockedByClient,
			}.Call(page)
			return false
		})()
	}()

	return cleanupFunc, nil
}

// buildBlockPatterns builds the Fetch-domain URL patterns matching the
// requested resource categories.
func buildBlockPatterns(blockImages, blockCSS, blockFonts, blockMedia bool) []*proto.FetchRequestPattern {
	patterns := make([]*proto.FetchRequestPattern, 0)

	if blockImages {
		for _, p := range []string{"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico", "*.bmp"} {
			patterns = append(patterns, &proto.FetchRequestPattern{
				URLPattern:   p,
				ResourceType: proto.NetworkResourceTypeImage,
			})
		}
	}

	if blockCSS {
		patterns = append(patterns, &proto.FetchRequestPattern{
			URLPattern:   "*.css",
			ResourceType: proto.NetworkResourceTypeStylesheet,
		})
	}

	if blockFonts {
		for _, p := range []string{"*.woff", "*.woff2", "*.ttf", "*.otf", "*.eot"} {
			patterns = append(patterns, &proto.FetchRequestPattern{
				URLPattern:   p,
				ResourceType: proto.NetworkResourceTypeFont,
			})
		}
	}

	if blockMedia {
		for _, p := range []string{"*.mp4", "*.webm", "*.mp3", "*.ogg", "*.wav"} {
			patterns = append(patterns, &proto.FetchRequestPattern{
				URLPattern:   p,
				ResourceType: proto.NetworkResourceTypeMedia,
			})
		}
	}

	return patterns
}
