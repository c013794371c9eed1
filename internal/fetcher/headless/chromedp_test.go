package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webpage-search/internal/crawler"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{NavigationTimeout: -time.Second}, nil); err == nil {
		t.Fatal("expected error for negative navigation timeout")
	}
	if _, err := NewChromedp(Config{WindowWidth: 800}, nil); err == nil {
		t.Fatal("expected error for partial window size")
	}
	fetcher, err := NewChromedp(Config{WindowWidth: 1280, WindowHeight: 800}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fetcher.Close() })
	require.Equal(t, 1, cap(fetcher.limiter))
}

func TestFetcherNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	if got := fetcher.navTimeout(); got != 30*time.Second {
		t.Fatalf("expected default nav timeout, got %v", got)
	}
	fetcher.cfg.NavigationTimeout = time.Second
	if got := fetcher.navTimeout(); got != time.Second {
		t.Fatalf("expected override to be used, got %v", got)
	}
}

func TestClassifyRunError(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{cfg: Config{NavigationTimeout: 2 * time.Second}}

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	err := fetcher.classifyRunError(context.Background(), expired, "http://slow.test", errors.New("chromedp run: context deadline exceeded"))
	var timeoutErr *crawler.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, "http://slow.test", timeoutErr.URL)
	require.Equal(t, 2*time.Second, timeoutErr.Timeout)

	parent, parentCancel := context.WithCancel(context.Background())
	parentCancel()
	err = fetcher.classifyRunError(parent, expired, "http://slow.test", errors.New("canceled"))
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, crawler.IsTimeout(err))

	boom := errors.New("page load error net::ERR_NAME_NOT_RESOLVED")
	err = fetcher.classifyRunError(context.Background(), context.Background(), "http://nx.test", boom)
	require.ErrorIs(t, err, boom)
	require.False(t, crawler.IsTimeout(err))
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{limiter: make(chan struct{}, 1)}
	require.NoError(t, fetcher.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, fetcher.acquire(ctx), context.DeadlineExceeded)

	fetcher.release()
	require.NoError(t, fetcher.acquire(context.Background()))
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 404,
			URL:    "https://example.com/missing",
		},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 200, URL: "https://cdn.example.com/app.js"},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "")
	if status != 404 || url != "https://example.com/missing" {
		t.Fatalf("unexpected snapshot values: status=%d url=%s", status, url)
	}

	status, url = meta.snapshotWithFallbacks("https://req", "https://example.com/spa#route")
	if status != 404 || url != "https://example.com/spa#route" {
		t.Fatalf("expected location to win: status=%d url=%s", status, url)
	}

	meta.reset()
	status, url = meta.snapshotWithFallbacks("https://req", "about:blank")
	if status != http.StatusOK || url != "https://req" {
		t.Fatalf("expected fallback values, got status=%d url=%s", status, url)
	}
}
