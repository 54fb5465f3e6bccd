// Package netcapture records the HTTP status code of a page's main
// document response, adapted from the proxy solver's response capture so
// the block detector and result factory see the real status code a
// browser-only Navigate call otherwise discards.
package netcapture

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// Capture holds the most recently observed main-document response. Safe
// for concurrent use: SetResponse is called from the event listener
// goroutine, StatusCode from the analysis goroutine.
type Capture struct {
	mu         sync.RWMutex
	statusCode int
	url        string
}

func newCapture() *Capture {
	return &Capture{statusCode: 200}
}

func (c *Capture) setResponse(statusCode int, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusCode = statusCode
	c.url = url
}

// StatusCode returns the last captured main-document status code, or 200
// if Network domain events were never enabled or never fired.
func (c *Capture) StatusCode() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statusCode
}

// Attach enables the Network domain on page and listens for the main
// document's response, storing its status code. The returned cleanup
// function must be called once the page is done navigating; it cancels
// the listener and disables the Network domain.
func Attach(ctx context.Context, page *rod.Page) (*Capture, func(), error) {
	capture := newCapture()

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		log.Debug().Err(err).Msg("netcapture: failed to enable Network domain, status defaults to 200")
		return capture, func() {}, nil
	}

	listenerCtx, cancel := context.WithCancel(ctx)
	pageWithCtx := page.Context(listenerCtx)

	var wg sync.WaitGroup
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			cancel()
			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				log.Warn().Msg("netcapture: timeout waiting for listener cleanup")
			}
			if err := (proto.NetworkDisable{}).Call(page); err != nil {
				log.Debug().Err(err).Msg("netcapture: failed to disable Network domain")
			}
		})
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("netcapture: recovered from panic in listener")
			}
		}()

		waitFn := pageWithCtx.EachEvent(func(e *proto.NetworkResponseReceived) bool {
			select {
			case <-listenerCtx.Done():
				return true
			default:
			}
			if e.Type != proto.NetworkResourceTypeDocument || e.Response == nil {
				return false
			}
			capture.setResponse(e.Response.Status, e.Response.URL)
			return false
		})
		waitFn()
	}()

	return capture, cleanup, nil
}
