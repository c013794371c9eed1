// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/webpage-search/internal/crawler"
	"github.com/JakeFAU/webpage-search/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers and routes cancellations to them.
type Dispatcher struct {
	queue    crawler.Queue
	workers  []*worker.Worker
	registry *worker.Registry
}

// New creates a Dispatcher. registry must be the one shared by workers.
func New(queue crawler.Queue, workers []*worker.Worker, registry *worker.Registry) *Dispatcher {
	if registry == nil {
		registry = worker.NewRegistry()
	}
	return &Dispatcher{
		queue:    queue,
		workers:  workers,
		registry: registry,
	}
}

// Run starts all workers and blocks until every worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Cancel stops a running job and reports whether one was found.
func (d *Dispatcher) Cancel(jobID string) bool {
	return d.registry.Cancel(jobID)
}

// Running reports the number of jobs currently executing.
func (d *Dispatcher) Running() int {
	return d.registry.Running()
}
