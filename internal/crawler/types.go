// Package crawler defines core types shared across subsystems.
package crawler

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobKind identifies the webpage search job type on persisted jobs and events.
const JobKind = "webpage-search"

// JobStatus represents the lifecycle state of a search job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions are expected from the status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// Query is the validated job configuration: the raw newline-separated URL list as submitted.
// Invalid lines are kept so they can be reported per record when the job runs.
type Query struct {
	Query string `json:"query"`
}

// PageResult is what a Fetcher returns for a page that loaded.
type PageResult struct {
	FinalURL    string
	PageSource  string
	PageTitle   string
	Detected404 bool
}

// Error classifications written to ResultRecord.Error.
const (
	ErrTextInvalidURL    = "Invalid URL format"
	ErrTextTimeoutPrefix = "Selenium TimeoutException: "
)

// RecordError classifies a failed record. The empty value means success and is encoded as
// JSON false.
type RecordError string

// MarshalJSON encodes success as false and failures as the classification string.
func (e RecordError) MarshalJSON() ([]byte, error) {
	if e == "" {
		return []byte("false"), nil
	}
	out, err := json.Marshal(string(e))
	if err != nil {
		return nil, fmt.Errorf("marshal record error: %w", err)
	}
	return out, nil
}

// UnmarshalJSON accepts false, null or a string.
func (e *RecordError) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "false", "null":
		*e = ""
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("unmarshal record error: %w", err)
	}
	*e = RecordError(text)
	return nil
}

// ResultRecord is the outcome for one input line. Either every fetch field is set and Error
// is empty, or every fetch field is nil and Error holds the classification.
type ResultRecord struct {
	URL         string      `json:"url"`
	FinalURL    *string     `json:"final_url"`
	Subject     *string     `json:"subject"`
	Body        *string     `json:"body"`
	Detected404 *bool       `json:"detected_404"`
	Timestamp   float64     `json:"timestamp"`
	Error       RecordError `json:"error"`
}

// Failed reports whether the record carries a classified failure.
func (r ResultRecord) Failed() bool {
	return r.Error != ""
}

// NewSuccessRecord builds the record for a fetched page.
func NewSuccessRecord(url string, page PageResult, at time.Time) ResultRecord {
	finalURL := page.FinalURL
	subject := page.PageTitle
	body := page.PageSource
	detected := page.Detected404
	return ResultRecord{
		URL:         url,
		FinalURL:    &finalURL,
		Subject:     &subject,
		Body:        &body,
		Detected404: &detected,
		Timestamp:   EpochSeconds(at),
	}
}

// NewFailureRecord builds a record with all fetch fields unset.
func NewFailureRecord(url string, reason string, at time.Time) ResultRecord {
	return ResultRecord{
		URL:       url,
		Timestamp: EpochSeconds(at),
		Error:     RecordError(reason),
	}
}

// EpochSeconds converts t to fractional Unix seconds.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Job represents the metadata persisted for each submitted search request.
type Job struct {
	ID        string      `json:"id"`
	Kind      string      `json:"kind"`
	Status    JobStatus   `json:"status"`
	Query     Query       `json:"query"`
	Submitted time.Time   `json:"submitted_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	ErrorText string      `json:"error_text,omitempty"`
	Counters  JobCounters `json:"counters"`
}

// JobCounters tracks per-outcome record counts for a job.
type JobCounters struct {
	Records     int `json:"records"`
	Succeeded   int `json:"succeeded"`
	InvalidURLs int `json:"invalid_urls"`
	Timeouts    int `json:"timeouts"`
}

// Observe bumps the counters for one emitted record.
func (c *JobCounters) Observe(record ResultRecord) {
	c.Records++
	switch {
	case !record.Failed():
		c.Succeeded++
	case record.Error == ErrTextInvalidURL:
		c.InvalidURLs++
	default:
		c.Timeouts++
	}
}

// StoredResult is a ResultRecord persisted against its job at its input position.
type StoredResult struct {
	JobID       string       `json:"job_id"`
	Index       int          `json:"index"`
	ContentHash string       `json:"content_hash,omitempty"`
	BlobURI     string       `json:"blob_uri,omitempty"`
	Record      ResultRecord `json:"record"`
}

// JobResult is returned by the API results endpoint.
type JobResult struct {
	Job     Job            `json:"job"`
	Results []StoredResult `json:"results"`
}
