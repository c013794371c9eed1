// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/webpage-search/internal/crawler"
)

const defaultNavTimeout = 30 * time.Second

// NotFoundDetector decides whether a loaded page is a not-found page.
type NotFoundDetector interface {
	Detect404(status int, title string, body string) bool
}

// Config controls the behavior of the headless fetcher.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	WindowWidth       int
	WindowHeight      int
	ExecPath          string
}

// Fetcher implements crawler.Session with one chromedp browser tab. The tab is kept for the
// lifetime of the Fetcher, so cookies and storage carry over between fetches.
type Fetcher struct {
	cfg         Config
	detector    NotFoundDetector
	limiter     chan struct{}
	meta        *responseMeta
	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc
	started     bool
	closeOnce   sync.Once
}

// NewChromedp creates a headless fetcher backed by chromedp. Chrome is started on the
// first fetch.
func NewChromedp(cfg Config, detector NotFoundDetector) (*Fetcher, error) {
	if cfg.NavigationTimeout < 0 {
		return nil, fmt.Errorf("navigation timeout must be >= 0")
	}
	if (cfg.WindowWidth == 0) != (cfg.WindowHeight == 0) {
		return nil, fmt.Errorf("window width and height must be set together")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.WindowWidth > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	return &Fetcher{
		cfg:         cfg,
		detector:    detector,
		limiter:     make(chan struct{}, 1),
		meta:        meta,
		allocCancel: allocCancel,
		tab:         tabCtx,
		tabCancel:   tabCancel,
	}, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() error {
	var err error
	f.closeOnce.Do(func() {
		if cerr := chromedp.Cancel(f.tab); cerr != nil && !errors.Is(cerr, context.Canceled) {
			err = fmt.Errorf("close browser: %w", cerr)
		}
		f.tabCancel()
		f.allocCancel()
	})
	return err
}

// Fetch navigates the session tab to url and returns the rendered DOM. A page that does not
// become ready within the navigation timeout yields *crawler.TimeoutError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.PageResult, error) {
	if err := f.acquire(ctx); err != nil {
		return crawler.PageResult{}, err
	}
	defer f.release()

	if err := f.start(); err != nil {
		return crawler.PageResult{}, err
	}

	runCtx, cancel := context.WithTimeout(f.tab, f.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	f.meta.reset()
	page, err := f.runHeadless(runCtx, url)
	if err != nil {
		return crawler.PageResult{}, f.classifyRunError(ctx, runCtx, url, err)
	}

	status, finalURL := f.meta.snapshotWithFallbacks(url, page.FinalURL)
	page.FinalURL = finalURL
	if f.detector != nil {
		page.Detected404 = f.detector.Detect404(status, page.PageTitle, page.PageSource)
	}
	return page, nil
}

// start launches Chrome and opens the tab on the untimed tab context. chromedp binds the
// browser process to the context of the first Run, so a per-fetch timeout there would
// kill the browser when that fetch returns. Callers hold the session slot.
func (f *Fetcher) start() error {
	if f.started {
		return nil
	}
	if err := chromedp.Run(f.tab); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	f.started = true
	return nil
}

func (f *Fetcher) runHeadless(ctx context.Context, url string) (crawler.PageResult, error) {
	var page crawler.PageResult
	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if f.cfg.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(f.cfg.SettleDelay))
	}
	actions = append(actions,
		chromedp.Location(&page.FinalURL),
		chromedp.Title(&page.PageTitle),
		chromedp.OuterHTML("html", &page.PageSource, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return crawler.PageResult{}, fmt.Errorf("chromedp run: %w", err)
	}
	return page, nil
}

// classifyRunError separates caller cancellation, navigation timeouts and other failures.
func (f *Fetcher) classifyRunError(ctx, runCtx context.Context, url string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("headless fetch canceled: %w", ctx.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &crawler.TimeoutError{URL: url, Timeout: f.navTimeout(), Err: err}
	}
	return err
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless session wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	select {
	case <-f.limiter:
	default:
	}
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

// responseMeta records the status and URL of the last document response seen on the tab.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status = 0
	m.url = ""
	m.mu.Unlock()
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

// snapshotWithFallbacks prefers the browser location over the last document response URL,
// since client-side redirects never produce a document response.
func (m *responseMeta) snapshotWithFallbacks(requestURL, location string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()

	switch {
	case location != "" && location != "about:blank":
		url = location
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
