// Package search implements the webpage search job: query validation at submission time
// and the per-URL fetch-and-classify producer that runs later.
package search

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/webpage-search/internal/crawler"
)

// QueryKey is the submission field holding the raw URL list.
const QueryKey = "query"

// SplitURLs tokenizes a raw query into one trimmed entry per line. Validation and
// production share it so record indices line up with submitted lines.
func SplitURLs(raw string) []string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return lines
}

// ValidURL reports whether raw parses as an absolute URL with a scheme and a host.
func ValidURL(raw string) bool {
	if raw == "" || strings.ContainsAny(raw, " \t\r\n") {
		return false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if parsed.Scheme == "" || parsed.Host == "" || parsed.Hostname() == "" {
		return false
	}
	if port := parsed.Port(); port != "" && strings.Trim(port, "0123456789") != "" {
		return false
	}
	return true
}

// ValidateQuery gates job creation. It fails with *crawler.QueryParametersError when the
// query field is missing or when no line holds a valid URL. On success the raw text is
// returned untouched so invalid lines are reported per record later.
func ValidateQuery(params map[string]any) (crawler.Query, error) {
	raw, _ := params[QueryKey].(string)
	if raw == "" {
		return crawler.Query{}, &crawler.QueryParametersError{Message: crawler.MsgMissingQuery}
	}

	valid := 0
	for _, line := range SplitURLs(raw) {
		if ValidURL(line) {
			valid++
		}
	}
	if valid == 0 {
		return crawler.Query{}, &crawler.QueryParametersError{Message: crawler.MsgNoURLs}
	}
	return crawler.Query{Query: raw}, nil
}
