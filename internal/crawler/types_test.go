package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordErrorJSON(t *testing.T) {
	t.Parallel()

	ok := NewSuccessRecord("http://a.test", PageResult{
		FinalURL:   "http://a.test/",
		PageSource: "<html></html>",
		PageTitle:  "A",
	}, time.Unix(10, 500_000_000))
	raw, err := json.Marshal(ok)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"error":false`)
	require.Contains(t, string(raw), `"timestamp":10.5`)
	require.Contains(t, string(raw), `"detected_404":false`)

	failed := NewFailureRecord("not a url", ErrTextInvalidURL, time.Unix(10, 0))
	raw, err = json.Marshal(failed)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"url": "not a url",
		"final_url": null,
		"subject": null,
		"body": null,
		"detected_404": null,
		"timestamp": 10,
		"error": "Invalid URL format"
	}`, string(raw))

	var decoded ResultRecord
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, failed, decoded)
}

func TestJobCountersObserve(t *testing.T) {
	t.Parallel()

	var counters JobCounters
	now := time.Unix(0, 0)
	counters.Observe(NewSuccessRecord("http://a.test", PageResult{}, now))
	counters.Observe(NewFailureRecord("x", ErrTextInvalidURL, now))
	counters.Observe(NewFailureRecord("http://b.test", ErrTextTimeoutPrefix+"slow", now))

	require.Equal(t, JobCounters{Records: 3, Succeeded: 1, InvalidURLs: 1, Timeouts: 1}, counters)
}

func TestIsTimeout(t *testing.T) {
	t.Parallel()

	base := &TimeoutError{URL: "http://a.test", Timeout: time.Second, Err: errors.New("deadline")}
	require.True(t, IsTimeout(fmt.Errorf("fetch: %w", base)))
	require.False(t, IsTimeout(errors.New("boom")))
	require.Equal(t, "timed out after 1s loading http://a.test", base.Error())
}

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, JobStatusQueued.Terminal())
	require.False(t, JobStatusRunning.Terminal())
	require.True(t, JobStatusSucceeded.Terminal())
	require.True(t, JobStatusFailed.Terminal())
	require.True(t, JobStatusCanceled.Terminal())
}
