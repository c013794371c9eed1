package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveRecordAndJob(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(searchRecordsTotal.WithLabelValues("records.test", OutcomeSuccess))
	bytesBefore := testutil.ToFloat64(searchBytesTotal.WithLabelValues("records.test"))
	ObserveRecord("https://records.test/a", OutcomeSuccess, 128, 50*time.Millisecond)
	ObserveRecord("https://records.test/b", OutcomeSuccess, 0, time.Millisecond)

	if got := testutil.ToFloat64(searchRecordsTotal.WithLabelValues("records.test", OutcomeSuccess)) - before; got != 2 {
		t.Fatalf("expected 2 records, got %v", got)
	}
	if got := testutil.ToFloat64(searchBytesTotal.WithLabelValues("records.test")) - bytesBefore; got != 128 {
		t.Fatalf("expected 128 bytes, got %v", got)
	}

	jobsBefore := testutil.ToFloat64(searchJobsTotal.WithLabelValues("succeeded"))
	ObserveJob("succeeded")
	if got := testutil.ToFloat64(searchJobsTotal.WithLabelValues("succeeded")) - jobsBefore; got != 1 {
		t.Fatalf("expected job counter to increase by 1, got %v", got)
	}

	ObserveJobDuration("succeeded", 2*time.Second)
	ObserveJobDuration("succeeded", 0)
	ObserveRateLimitDelay("https://records.test/a", 10*time.Millisecond)
	if got := testutil.CollectAndCount(searchJobDurationSeconds); got < 1 {
		t.Fatalf("expected job duration series, got %d", got)
	}

	workers := testutil.ToFloat64(searchActiveWorkers)
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(searchActiveWorkers); got != workers {
		t.Fatalf("expected gauge to return to %v, got %v", workers, got)
	}
}
