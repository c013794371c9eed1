package crawler

import (
	"context"
	"time"
)

// Fetcher loads one URL in a browser-like backend. Implementations serve one fetch at a
// time and return *TimeoutError when the page does not load within their bound.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (PageResult, error)
}

// Session is a Fetcher that owns a backend resource, such as a browser, until closed.
type Session interface {
	Fetcher
	Close() error
}

// SessionFactory opens a new Session. Each worker owns the session it opens.
type SessionFactory func(ctx context.Context) (Session, error)

// JobStore persists jobs and their result records.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	// TransitionJob moves a job from status from to status to, or fails with
	// ErrJobStateChanged when the job is no longer in from.
	TransitionJob(ctx context.Context, jobID string, from, to JobStatus, errText string) error
	AppendResult(ctx context.Context, result StoredResult) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListResults(ctx context.Context, jobID string) ([]StoredResult, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes per-record events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for search jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Query     Query
	Attempt   int
	Submitted int64
}
