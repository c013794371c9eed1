// Package progress carries job lifecycle events from workers to observers. Workers emit
// events without blocking; a Hub batches them on a background goroutine and fans each
// batch out to sinks such as structured logs or Prometheus collectors.
package progress
