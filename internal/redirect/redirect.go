// Package redirect classifies navigation redirects and decides whether the
// worker should skip analyzing the final page or follow it as if it were
// the requested URL all along.
package redirect

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/auditengine/siteauditor/internal/types"
)

const (
	ClassificationNone         = "none"
	ClassificationHTTPRedirect = "http-redirect"
	ClassificationMetaRefresh  = "meta-refresh"
	ClassificationClientScript = "client-script"
)

// postLoadWindow is how long after WaitLoad the detector watches the URL
// for a same-tick client-side navigation before giving up and reporting no
// client-side redirect.
const postLoadWindow = 800 * time.Millisecond

// Detector attaches to a page before navigation and classifies what
// happened by the time the page settles.
type Detector struct {
	// SkipNonTrivial, when true (the default), tells ShouldSkip to recommend
	// skip for any non-trivial redirect. Operators may disable this.
	SkipNonTrivial bool
}

func New() *Detector {
	return &Detector{SkipNonTrivial: true}
}

// Navigate drives the page to initialURL under the given deadline and
// returns the classified redirect decision. If the navigation itself
// fails, Navigate logs a warning and returns a "none" decision together
// with the error. Later failures (wait-load, URL lookup, meta-refresh
// probe) are logged or ignored and do not fail the call.
func (d *Detector) Navigate(ctx context.Context, page *rod.Page, initialURL string) (*types.RedirectMetadata, error) {
	var lastResponseURL string

	navCtx := page.Context(ctx)

	chain, stopChain := watchStatusChain(ctx, page)
	defer stopChain()

	waitNav := page.Context(ctx).WaitNavigation(proto.PageLifecycleEventNameLoad)

	if err := navCtx.Navigate(initialURL); err != nil {
		log.Warn().Err(err).Str("url", initialURL).Msg("redirect detector: navigation failed, proceeding without redirect classification")
		return &types.RedirectMetadata{Original: initialURL, Final: initialURL, Classification: ClassificationNone, Trivial: true}, err
	}

	if err := navCtx.WaitLoad(); err != nil {
		log.Warn().Err(err).Str("url", initialURL).Msg("redirect detector: wait-load failed, continuing anyway")
	}
	waitNav()

	stopChain()
	statusChain := chain.statuses()

	finalURL := initialURL
	info, err := page.Info()
	if err == nil && info.URL != "" {
		finalURL = info.URL
	}
	lastResponseURL = finalURL

	meta := d.classify(initialURL, finalURL, statusChain)

	if meta.Classification == ClassificationNone {
		if refreshed := d.detectMetaRefresh(page); refreshed != "" && refreshed != finalURL {
			meta = d.classify(initialURL, refreshed, statusChain)
			meta.Classification = ClassificationMetaRefresh
		}
	}

	if meta.Classification == ClassificationNone {
		select {
		case <-ctx.Done():
			return meta, nil
		case <-time.After(postLoadWindow):
		}
		info, err := page.Info()
		if err == nil && info.URL != "" && info.URL != lastResponseURL {
			meta = d.classify(initialURL, info.URL, statusChain)
			meta.Classification = ClassificationClientScript
		}
	}

	return meta, nil
}

// statusChainRecorder accumulates the HTTP statuses of every redirect hop
// observed during one navigation, in order.
type statusChainRecorder struct {
	mu    sync.Mutex
	chain []int
}

func (r *statusChainRecorder) add(status int) {
	r.mu.Lock()
	r.chain = append(r.chain, status)
	r.mu.Unlock()
}

func (r *statusChainRecorder) statuses() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.chain))
	copy(out, r.chain)
	return out
}

// watchStatusChain enables the Network domain and records the status of
// each redirect hop (CDP reports the prior hop's response on the request
// that follows it). Failures degrade to an empty chain; the detector still
// classifies redirects by URL comparison alone. The returned stop func is
// idempotent.
func watchStatusChain(ctx context.Context, page *rod.Page) (*statusChainRecorder, func()) {
	recorder := &statusChainRecorder{}

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		log.Debug().Err(err).Msg("redirect detector: Network domain unavailable, status chain will be empty")
		return recorder, func() {}
	}

	listenerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		wait := page.Context(listenerCtx).EachEvent(func(e *proto.NetworkRequestWillBeSent) bool {
			select {
			case <-listenerCtx.Done():
				return true
			default:
			}
			if e.RedirectResponse != nil && e.Type == proto.NetworkResourceTypeDocument {
				recorder.add(e.RedirectResponse.Status)
			}
			return false
		})
		wait()
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				log.Debug().Msg("redirect detector: timeout stopping status chain listener")
			}
		})
	}
	return recorder, stop
}

// classify builds a RedirectMetadata from an original/final URL pair,
// applying the trivial-normalization rule.
func (d *Detector) classify(original, final string, chain []int) *types.RedirectMetadata {
	if original == final {
		return &types.RedirectMetadata{Original: original, Final: final, Classification: ClassificationNone, Trivial: true}
	}
	trivial := IsTrivial(original, final)
	return &types.RedirectMetadata{
		Original:       original,
		Final:          final,
		Classification: ClassificationHTTPRedirect,
		Chain:          chain,
		Trivial:        trivial,
	}
}

// ShouldSkip reports whether the worker should skip analyzing the final
// page given this detector's policy and the classified decision.
func (d *Detector) ShouldSkip(meta *types.RedirectMetadata) bool {
	if meta == nil || meta.Classification == ClassificationNone {
		return false
	}
	if meta.Trivial {
		return false
	}
	return d.SkipNonTrivial
}

// IsTrivial decides whether a redirect from original to final counts as a
// trivial normalization rather than a real navigation away from the
// requested page: scheme upgrade http->https on the same host/path/query,
// or the two URLs differing by exactly one trailing slash on the path.
// Any other difference (host, query, non-slash path change, downgrade) is
// non-trivial.
func IsTrivial(original, final string) bool {
	o, errO := url.Parse(original)
	f, errF := url.Parse(final)
	if errO != nil || errF != nil {
		return false
	}

	if !strings.EqualFold(o.Hostname(), f.Hostname()) || o.Port() != f.Port() {
		return false
	}
	if o.RawQuery != f.RawQuery {
		return false
	}

	schemeUpgrade := o.Scheme == "http" && f.Scheme == "https"
	samePath := o.Path == f.Path
	slashOnlyDiff := strings.TrimSuffix(o.Path, "/") == strings.TrimSuffix(f.Path, "/")

	if !samePath && !slashOnlyDiff {
		return false
	}
	if o.Scheme != f.Scheme && !schemeUpgrade {
		return false
	}

	return true
}

// detectMetaRefresh inspects the rendered DOM for a <meta http-equiv="refresh">
// tag with delay 0 and returns its target URL, or "" if none is present.
func (d *Detector) detectMetaRefresh(page *rod.Page) string {
	result, err := page.Eval(`() => {
		const tag = document.querySelector('meta[http-equiv="refresh" i]');
		if (!tag) return '';
		const content = tag.getAttribute('content') || '';
		const parts = content.split(';');
		const delay = parseFloat(parts[0]);
		if (isNaN(delay) || delay > 0) return '';
		const urlPart = parts.slice(1).join(';');
		const match = urlPart.match(/url\s*=\s*(.+)/i);
		return match ? match[1].trim().replace(/^['"]|['"]$/g, '') : '';
	}`)
	if err != nil || result == nil {
		return ""
	}
	return result.Value.Str()
}
