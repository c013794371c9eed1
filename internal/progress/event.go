package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage names the lifecycle milestone an Event reports.
type Stage string

// Supported stages.
const (
	StageJobStart Stage = "JOB_START"
	StageRecord   Stage = "RECORD"
	StageJobDone  Stage = "JOB_DONE"
)

// Event is one progress observation from a worker.
type Event struct {
	// JobID identifies the search job.
	JobID string
	// TS is when the worker observed the milestone.
	TS time.Time
	// Stage is the milestone kind.
	Stage Stage
	// URL is the record's URL for StageRecord events.
	URL string
	// Outcome is the record outcome for StageRecord and the terminal job status for StageJobDone.
	Outcome string
	// Bytes is the page body size of a record.
	Bytes int
	// Dur is the time spent producing a record, or the job's wall time.
	Dur time.Duration
	// Note carries low-volume context such as a failure message.
	Note string
}

// Validate rejects events that sinks could not interpret.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart:
	case StageRecord, StageJobDone:
		if e.Outcome == "" {
			return fmt.Errorf("%s requires an outcome", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 || e.Bytes < 0 {
		return errors.New("duration and bytes must be >= 0")
	}
	return nil
}
