package worker

import (
	"context"
	"sync"
)

// Registry tracks the cancel functions of running jobs so they can be stopped by ID.
type Registry struct {
	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{running: make(map[string]context.CancelFunc)}
}

func (r *Registry) register(jobID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running[jobID] = cancel
}

func (r *Registry) unregister(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, jobID)
}

// Cancel stops the job if it is running on any worker and reports whether it was.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.running[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Running reports how many jobs are in flight.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}
