package browser

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// ProxyCredentials carries the username/password for an authenticated
// outbound proxy. The proxy server itself is set at browser launch time
// (createLauncher's "proxy-server" flag); this only answers the CDP
// auth challenge a proxy issues on the lease's page.
type ProxyCredentials struct {
	Username string
	Password string
}

// authenticateLeaseProxy answers proxy-auth challenges for one lease's
// page so a corporate or CI proxy that requires credentials doesn't block
// every navigation behind an auth prompt the headless browser can't see.
//
// Returns a cleanup function the caller MUST invoke when the lease is
// released, to stop the CDP event listeners this starts. Safe to call
// multiple times.
func authenticateLeaseProxy(ctx context.Context, page *rod.Page, creds *ProxyCredentials) (cleanup func(), err error) {
	if creds == nil || creds.Username == "" {
		return func() {}, nil
	}

	log.Debug().Msg("enabling proxy authentication for lease")

	if err := (proto.FetchEnable{HandleAuthRequests: true}).Call(page); err != nil {
		log.Warn().Err(err).Msg("failed to enable fetch domain for proxy authentication")
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
				log.Debug().Msg("proxy authentication listeners cleaned up")
			case <-time.After(5 * time.Second):
				log.Warn().Msg("timeout waiting for proxy authentication listeners to clean up")
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
		pageWithCtx.EachEvent(func(e *proto.FetchAuthRequired) bool {
			select {
			case <-listenerCtx.Done():
				return true
			default:
			}
			_ = (proto.FetchContinueWithAuth{
				RequestID: e.RequestID,
				AuthChallengeResponse: &proto.FetchAuthChallengeResponse{
					Response: proto.FetchAuthChallengeResponseResponseProvideCredentials,
					Username: creds.Username,
					Password: creds.Password,
				},
			}).Call(page)
			return false
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
			if e.ResponseStatusCode == nil {
				_ = (proto.FetchContinueRequest{RequestID: e.RequestID}).Call(page)
			}
			return false
		})()
	}()

	return cleanupFunc, nil
}
