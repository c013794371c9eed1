package sinks

import (
	"context"

	"github.com/JakeFAU/webpage-search/internal/metrics"
	"github.com/JakeFAU/webpage-search/internal/progress"
)

// MetricsSink feeds record and job events into the process Prometheus collectors.
type MetricsSink struct{}

// NewMetricsSink returns a sink backed by the shared metrics registry.
func NewMetricsSink() *MetricsSink {
	metrics.Init()
	return &MetricsSink{}
}

// Consume updates record and job collectors for every event in batch.
func (*MetricsSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRecord:
			metrics.ObserveRecord(evt.URL, evt.Outcome, evt.Bytes, evt.Dur)
		case progress.StageJobDone:
			metrics.ObserveJob(evt.Outcome)
			metrics.ObserveJobDuration(evt.Outcome, evt.Dur)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (*MetricsSink) Close(context.Context) error {
	return nil
}
