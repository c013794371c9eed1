// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/webpage-search/internal/crawler"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]crawler.Job
	results map[string][]crawler.StoredResult
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]crawler.Job),
		results: make(map[string][]crawler.StoredResult),
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, crawler.ErrJobExists)
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status and counters for a job.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	job.Counters = counters
	s.jobs[jobID] = setStatus(job, status, errText)
	return nil
}

// TransitionJob changes the status only while the job is still in from.
func (s *JobStore) TransitionJob(_ context.Context, jobID string, from, to crawler.JobStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("transition job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	if job.Status != from {
		return fmt.Errorf("transition job %s from %s: is %s: %w", jobID, from, job.Status, crawler.ErrJobStateChanged)
	}
	s.jobs[jobID] = setStatus(job, to, errText)
	return nil
}

func setStatus(job crawler.Job, status crawler.JobStatus, errText string) crawler.Job {
	job.Status = status
	job.ErrorText = errText
	now := time.Now().UTC()
	if status == crawler.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if status.Terminal() {
		job.Finished = pointerTime(now)
	}
	return job
}

// AppendResult appends a result row for a job.
func (s *JobStore) AppendResult(_ context.Context, result crawler.StoredResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[result.JobID]; !ok {
		return fmt.Errorf("append result for %s: %w", result.JobID, crawler.ErrJobNotFound)
	}
	s.results[result.JobID] = append(s.results[result.JobID], result)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return job, nil
}

// ListResults returns all recorded results for a job in input order.
func (s *JobStore) ListResults(_ context.Context, jobID string) ([]crawler.StoredResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[jobID]; !ok {
		return nil, fmt.Errorf("list results for %s: %w", jobID, crawler.ErrJobNotFound)
	}
	results := s.results[jobID]
	out := make([]crawler.StoredResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
