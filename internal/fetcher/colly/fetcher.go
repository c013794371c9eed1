// Package collyfetcher implements a plain HTTP Fetcher using gocolly. It does not run
// JavaScript and is meant for hosts without Chrome.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/webpage-search/internal/crawler"
)

const defaultTimeout = 15 * time.Second

// NotFoundDetector decides whether a loaded page is a not-found page.
type NotFoundDetector interface {
	Detect404(status int, title string, body string) bool
}

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements crawler.Session using the Colly collector.
type Fetcher struct {
	cfg           Config
	detector      NotFoundDetector
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchOutcome struct {
	page   crawler.PageResult
	status int
	err    error
}

// New builds a Fetcher.
func New(cfg Config, detector NotFoundDetector) *Fetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
	)
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		detector:      detector,
		baseCollector: c,
	}
}

// Close is a no-op; the collector holds no long-lived resources beyond idle connections.
func (f *Fetcher) Close() error {
	return nil
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.PageResult, error) {
	collector := f.buildCollector(ctx)

	done := make(chan fetchOutcome, 1)
	go func() {
		var out fetchOutcome
		f.configureCollectorHooks(collector, &out)
		if err := collector.Visit(url); err != nil && out.err == nil {
			out.err = err
		}
		done <- out
	}()

	select {
	case <-ctx.Done():
		return crawler.PageResult{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case out := <-done:
		if out.err != nil {
			return crawler.PageResult{}, f.classifyError(ctx, url, out.err)
		}
		if f.detector != nil {
			out.page.Detected404 = f.detector.Detect404(out.status, out.page.PageTitle, out.page.PageSource)
		}
		return out.page, nil
	}
}

func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.timeout())
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, out *fetchOutcome) {
	hooks.OnResponse(func(r *colly.Response) {
		body := string(r.Body)
		out.status = r.StatusCode
		out.page = crawler.PageResult{
			FinalURL:   r.Request.URL.String(),
			PageSource: body,
			PageTitle:  extractTitle(r.Body),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		out.err = err
	})
}

func (f *Fetcher) classifyError(ctx context.Context, url string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &crawler.TimeoutError{URL: url, Timeout: f.timeout(), Err: err}
	}
	return fmt.Errorf("colly visit failed: %w", err)
}

func (f *Fetcher) timeout() time.Duration {
	if f.cfg.Timeout > 0 {
		return f.cfg.Timeout
	}
	return defaultTimeout
}

func extractTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
