package crawler

import (
	"errors"
	"fmt"
	"time"
)

// Messages returned when a submitted query is rejected.
const (
	MsgMissingQuery = "Please provide a List of urls."
	MsgNoURLs       = "No Urls detected!"
)

var (
	// ErrJobNotFound is returned by job stores for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when a job ID is reused.
	ErrJobExists = errors.New("job already exists")
	// ErrJobStateChanged is returned when a conditional transition finds the job in another status.
	ErrJobStateChanged = errors.New("job status changed")
)

// QueryParametersError rejects a job at submission time. No job is created.
type QueryParametersError struct {
	Message string
}

func (e *QueryParametersError) Error() string {
	return e.Message
}

// TimeoutError is returned by a Fetcher when a page does not load within its bound.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("timed out after %s loading %s", e.Timeout, e.URL)
	}
	return fmt.Sprintf("timed out loading %s", e.URL)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is, or wraps, a *TimeoutError.
func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}
