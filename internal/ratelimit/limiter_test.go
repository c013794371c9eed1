package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webpage-search/internal/crawler"
)

type countingSession struct {
	fetched []string
	closed  bool
}

func (s *countingSession) Fetch(_ context.Context, url string) (crawler.PageResult, error) {
	s.fetched = append(s.fetched, url)
	return crawler.PageResult{FinalURL: url}, nil
}

func (s *countingSession) Close() error {
	s.closed = true
	return nil
}

func TestLimiterSpacesSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{PerHostRPS: 10, PerHostBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://TEST.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterSeparatesHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{PerHostRPS: 0.5, PerHostBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/1"))
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLimiterHonorsCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{PerHostRPS: 0.1, PerHostBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://a.com"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, l.Wait(ctx, "https://a.com"), context.Canceled)
}

func TestWrap(t *testing.T) {
	t.Parallel()

	inner := &countingSession{}
	require.Same(t, inner, Wrap(inner, nil))

	s := Wrap(inner, New(Config{}))
	page, err := s.Fetch(context.Background(), "http://a.com:80")
	require.NoError(t, err)
	require.Equal(t, "http://a.com:80", page.FinalURL)
	require.NoError(t, s.Close())
	require.True(t, inner.closed)
	require.Equal(t, []string{"http://a.com:80"}, inner.fetched)
}

func TestHostOf(t *testing.T) {
	t.Parallel()
	require.Equal(t, "example.com", hostOf("https://Example.com:8443/x"))
	require.Equal(t, "unknown", hostOf("::bad"))
}
