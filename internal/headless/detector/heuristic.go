// Package detector flags rendered pages that are really "not found" pages.
package detector

import (
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Heuristic implements a handful of rule-based not-found checks.
type Heuristic struct {
	// BodyLengthThreshold bounds the body size for which body markers are trusted.
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 4096
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var titleMarkers = []string{
	"404",
	"not found",
	"page not found",
	"page does not exist",
	"no longer available",
}

var bodyMarkers = []string{
	"404 not found",
	"page not found",
	"the requested url was not found",
	"this page could not be found",
}

// Detect404 decides whether a page is a not-found page. A status of 0 means the backend
// could not observe the document status.
func (h *Heuristic) Detect404(status int, title string, body string) bool {
	if status == http.StatusNotFound || status == http.StatusGone {
		return true
	}
	if containsAny(strings.ToLower(title), titleMarkers) {
		return true
	}
	if len(body) == 0 || len(body) > h.BodyLengthThreshold {
		return false
	}
	return containsAny(visibleText(body), bodyMarkers)
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

// visibleText returns the lowercased document text with script, style and noscript
// contents removed, so markup and inline code do not trigger body markers.
func visibleText(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return strings.ToLower(body)
	}
	doc.Find("script,style,noscript").Remove()
	return strings.ToLower(strings.Join(strings.Fields(doc.Text()), " "))
}
