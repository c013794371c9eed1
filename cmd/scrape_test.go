package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webpage-search/internal/crawler"
)

func runRoot(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return runRootContext(t, context.Background(), stdin, args...)
}

func runRootContext(t *testing.T, ctx context.Context, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func decodeLines(t *testing.T, out string) []crawler.ResultRecord {
	t.Helper()
	var records []crawler.ResultRecord
	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var rec crawler.ResultRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestScrapeStreamsRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, "<html><head><title>Home</title></head><body>hello</body></html>")
	}))
	defer srv.Close()

	out, err := runRoot(t, srv.URL+"\nnot a url\n", "scrape", "--fetcher", "http")
	require.NoError(t, err)

	records := decodeLines(t, out)
	require.Len(t, records, 2)
	require.Equal(t, srv.URL, records[0].URL)
	require.False(t, records[0].Failed())
	require.Equal(t, "Home", *records[0].Subject)
	require.Equal(t, crawler.RecordError(crawler.ErrTextInvalidURL), records[1].Error)
	require.Nil(t, records[1].Body)
}

func TestScrapeReadsFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, "<html><title>F</title></html>")
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(path, []byte(srv.URL+"\n"+srv.URL), 0o600))

	out, err := runRoot(t, "", "scrape", "--fetcher", "http", path)
	require.NoError(t, err)
	require.Len(t, decodeLines(t, out), 2)
}

func TestScrapeRejectsQueries(t *testing.T) {
	_, err := runRoot(t, "", "scrape", "--fetcher", "http")
	require.EqualError(t, err, crawler.MsgMissingQuery)

	_, err = runRoot(t, "foo\nbar", "scrape", "--fetcher", "http")
	require.EqualError(t, err, crawler.MsgNoURLs)

	_, err = runRoot(t, "", "scrape", filepath.Join(t.TempDir(), "missing.txt"))
	require.ErrorContains(t, err, "open query file")
}

func TestScrapeInterruptedExitsWithError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// The first page load arrives together with an interrupt.
		cancel()
		_, _ = fmt.Fprint(w, "<html><title>A</title></html>")
	}))
	defer srv.Close()

	out, err := runRootContext(t, ctx, srv.URL+"\n"+srv.URL+"\n"+srv.URL, "scrape", "--fetcher", "http")
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorContains(t, err, "scrape interrupted")
	require.Less(t, len(decodeLines(t, out)), 3)
}

func TestScrapeUnknownBackend(t *testing.T) {
	_, err := runRoot(t, "http://a.com", "scrape", "--fetcher", "lynx")
	require.ErrorContains(t, err, "unknown fetcher backend")
}
