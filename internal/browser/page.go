// Package browser attaches to a Chrome page with go-rod and exposes it as an
// observe.Page.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/zetacoach/internal/extract"
	"github.com/thebtf/zetacoach/internal/observe"
)

// Config selects how the browser is obtained.
type Config struct {
	// ControlURL attaches to an already running browser's DevTools endpoint.
	ControlURL string
	// Bin is the Chrome binary to launch when ControlURL is empty. Empty
	// lets the launcher find or download one.
	Bin      string
	Headless bool
	// PageURL is opened in a new tab.
	PageURL string
	// AnswerSelectors locate the answer input, in priority order.
	AnswerSelectors []string
}

// Page is a live game tab.
type Page struct {
	cfg      Config
	browser  *rod.Browser
	page     *rod.Page
	launched *launcher.Launcher

	closeOnce sync.Once
}

// observerJS installs a MutationObserver that counts DOM changes into
// window.__zcObs. It is idempotent.
const observerJS = `() => {
	if (window.__zcObs) return true;
	const state = { count: 0 };
	const obs = new MutationObserver((records) => { state.count += records.length; });
	obs.observe(document.documentElement || document, {
		subtree: true,
		childList: true,
		attributes: true,
		characterData: true,
		attributeOldValue: true,
		characterDataOldValue: true,
	});
	state.observer = obs;
	window.__zcObs = state;
	return true;
}`

// drainJS returns and resets the mutation count, or -1 when the observer is
// gone (the page navigated).
const drainJS = `() => {
	const s = window.__zcObs;
	if (!s) return -1;
	const n = s.count;
	s.count = 0;
	return n;
}`

// captureJS serializes a detached clone of the document. Elements with no
// rendered height are marked hidden and form controls carry their live
// value as an attribute.
const captureJS = `(hiddenAttr) => {
	const src = document.documentElement;
	const clone = src.cloneNode(true);
	const a = src.querySelectorAll('*');
	const b = clone.querySelectorAll('*');
	for (let i = 0; i < a.length && i < b.length; i++) {
		const el = a[i];
		const copy = b[i];
		if (el instanceof HTMLElement && el.getBoundingClientRect().height === 0 &&
			!(el instanceof HTMLHtmlElement) && !(el instanceof HTMLBodyElement)) {
			copy.setAttribute(hiddenAttr, '');
		}
		if (el instanceof HTMLInputElement || el instanceof HTMLTextAreaElement) {
			copy.setAttribute('value', el.value);
		}
	}
	return { html: clone.outerHTML, url: location.href };
}`

// readInputJS returns the value of the first visible input matching one of
// the selectors.
const readInputJS = `(selectors) => {
	for (const sel of selectors) {
		let nodes;
		try { nodes = document.querySelectorAll(sel); } catch (e) { continue; }
		for (const el of nodes) {
			if (!(el instanceof HTMLInputElement) || el.type === 'hidden') continue;
			if (el.getBoundingClientRect().height === 0) continue;
			return { ok: true, value: el.value };
		}
	}
	return { ok: false, value: '' };
}`

// Open obtains a browser and opens cfg.PageURL.
func Open(ctx context.Context, cfg Config) (*Page, error) {
	if len(cfg.AnswerSelectors) == 0 {
		cfg.AnswerSelectors = extract.DefaultProfile().AnswerSelectors
	}

	p := &Page{cfg: cfg}

	controlURL := cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
		p.launched = l
	}

	p.browser = rod.New().ControlURL(controlURL).Context(ctx)
	if err := p.browser.Connect(); err != nil {
		p.cleanupLauncher()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := p.browser.Page(proto.TargetCreateTarget{URL: cfg.PageURL})
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	p.page = page

	if err := page.Context(ctx).WaitLoad(); err != nil {
		log.Warn().Err(err).Str("url", cfg.PageURL).Msg("Page load did not complete")
	}
	if err := p.installObserver(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to install mutation observer")
	}

	log.Info().
		Str("url", cfg.PageURL).
		Bool("attached", cfg.ControlURL != "").
		Bool("headless", cfg.Headless).
		Msg("Browser page opened")
	return p, nil
}

func (p *Page) eval(ctx context.Context, js string, args ...any) (*proto.RuntimeRemoteObject, error) {
	return p.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
}

func (p *Page) installObserver(ctx context.Context) error {
	_, err := p.eval(ctx, observerJS)
	return err
}

// DrainMutations implements observe.Page. A page that navigated gets a
// fresh observer and reports one change so the new document is captured.
func (p *Page) DrainMutations(ctx context.Context) (int, error) {
	res, err := p.eval(ctx, drainJS)
	if err != nil {
		return 0, err
	}
	n := res.Value.Int()
	if n >= 0 {
		return n, nil
	}
	if err := p.installObserver(ctx); err != nil {
		return 0, err
	}
	return 1, nil
}

type capturePayload struct {
	HTML string `json:"html"`
	URL  string `json:"url"`
}

// Capture implements observe.Page.
// The snapshot is stamped before the page is read, so it never looks newer
// than an input poll that ran while the capture was in flight.
func (p *Page) Capture(ctx context.Context) (observe.Snapshot, error) {
	at := time.Now()
	res, err := p.eval(ctx, captureJS, extract.HiddenAttr)
	if err != nil {
		return observe.Snapshot{}, err
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return observe.Snapshot{}, err
	}
	var payload capturePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return observe.Snapshot{}, fmt.Errorf("decode capture: %w", err)
	}
	return observe.Snapshot{HTML: payload.HTML, URL: payload.URL, CapturedAt: at}, nil
}

type inputPayload struct {
	OK    bool   `json:"ok"`
	Value string `json:"value"`
}

// ReadInput implements observe.Page.
func (p *Page) ReadInput(ctx context.Context) (string, bool, error) {
	res, err := p.eval(ctx, readInputJS, p.cfg.AnswerSelectors)
	if err != nil {
		return "", false, err
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return "", false, err
	}
	var payload inputPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", false, fmt.Errorf("decode input: %w", err)
	}
	return payload.Value, payload.OK, nil
}

// Close closes the tab and, when the browser was launched here, the
// browser itself. An attached browser is left running.
func (p *Page) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.page != nil {
			_ = p.page.Close()
		}
		if p.launched != nil && p.browser != nil {
			err = p.browser.Close()
		}
		p.cleanupLauncher()
	})
	return err
}

func (p *Page) cleanupLauncher() {
	if p.launched != nil {
		p.launched.Cleanup()
	}
}

var _ observe.Page = (*Page)(nil)
