// Package ratelimit spaces out a fetch session's page loads to the same host with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/webpage-search/internal/crawler"
	"github.com/JakeFAU/webpage-search/internal/metrics"
)

// Config holds rate limiter configuration. A non-positive PerHostRPS disables limiting.
type Config struct {
	PerHostRPS   float64
	PerHostBurst int
}

// Limiter manages per-host rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.PerHostRPS)
	if cfg.PerHostRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.PerHostBurst
	if burst <= 0 {
		burst = 1
	}
	metrics.Init()
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// limitedSession waits on the limiter before every fetch.
type limitedSession struct {
	crawler.Session
	limiter *Limiter
}

// Wrap returns a Session that waits on l before delegating each fetch to inner.
func Wrap(inner crawler.Session, l *Limiter) crawler.Session {
	if l == nil {
		return inner
	}
	return &limitedSession{Session: inner, limiter: l}
}

func (s *limitedSession) Fetch(ctx context.Context, rawURL string) (crawler.PageResult, error) {
	if err := s.limiter.Wait(ctx, rawURL); err != nil {
		return crawler.PageResult{}, err
	}
	// Errors pass through untouched; timeout records quote them verbatim.
	return s.Session.Fetch(ctx, rawURL) //nolint:wrapcheck
}
