// Package worker runs queued search jobs through the record producer.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webpage-search/internal/archive"
	"github.com/JakeFAU/webpage-search/internal/crawler"
	"github.com/JakeFAU/webpage-search/internal/metrics"
	"github.com/JakeFAU/webpage-search/internal/progress"
	"github.com/JakeFAU/webpage-search/internal/search"
)

// Config controls Worker behavior.
type Config struct {
	// Topic receives one event per record. Empty disables publishing.
	Topic string
}

// Worker consumes queue items and runs each job on its own fetch session.
type Worker struct {
	queue      crawler.Queue
	jobStore   crawler.JobStore
	archiver   *archive.Archiver
	publisher  crawler.Publisher
	clock      crawler.Clock
	newSession crawler.SessionFactory
	registry   *Registry
	progress   progress.Emitter
	cfg        Config
	logger     *zap.Logger

	session crawler.Session
}

// Deps groups the collaborators of a Worker. Archiver, Publisher and Progress are optional.
type Deps struct {
	Queue      crawler.Queue
	JobStore   crawler.JobStore
	Archiver   *archive.Archiver
	Publisher  crawler.Publisher
	Clock      crawler.Clock
	NewSession crawler.SessionFactory
	Registry   *Registry
	Progress   progress.Emitter
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard
	}
	metrics.Init()
	return &Worker{
		queue:      deps.Queue,
		jobStore:   deps.JobStore,
		archiver:   deps.Archiver,
		publisher:  deps.Publisher,
		clock:      deps.Clock,
		newSession: deps.NewSession,
		registry:   deps.Registry,
		progress:   deps.Progress,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
// The worker's session is closed on return.
func (w *Worker) Run(ctx context.Context) {
	defer w.closeSession()
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Info("queue drained", zap.Error(err))
			return
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

// resultEvent is published once per record. The page body is left out when it was archived.
type resultEvent struct {
	JobID       string               `json:"job_id"`
	Kind        string               `json:"kind"`
	Index       int                  `json:"index"`
	ContentHash string               `json:"content_hash,omitempty"`
	BlobURI     string               `json:"blob_uri,omitempty"`
	Record      crawler.ResultRecord `json:"record"`
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID))

	job, err := w.jobStore.GetJob(ctx, item.JobID)
	if err != nil {
		logger.Error("load job failed", zap.Error(err))
		return
	}
	if job.Status.Terminal() {
		logger.Info("skipping finished job", zap.String("status", string(job.Status)))
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	w.registry.register(item.JobID, cancel)
	defer func() {
		w.registry.unregister(item.JobID)
		cancel()
	}()

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	// Status writes outlive cancellation so a stopped job still records its outcome.
	storeCtx := context.WithoutCancel(ctx)

	// The job is registered before it becomes running, so a cancel that loses the race to
	// this transition still finds it in the registry.
	err = w.jobStore.TransitionJob(storeCtx, item.JobID, crawler.JobStatusQueued, crawler.JobStatusRunning, "")
	if errors.Is(err, crawler.ErrJobStateChanged) {
		logger.Info("skipping job that left the queued state", zap.Error(err))
		return
	}
	if err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return
	}
	counters := crawler.JobCounters{}
	started := w.clock.Now()
	w.progress.Emit(progress.Event{JobID: item.JobID, TS: started, Stage: progress.StageJobStart})

	status, errText := w.run(jobCtx, storeCtx, item, &counters, logger)

	if err := w.jobStore.UpdateJobStatus(storeCtx, item.JobID, status, errText, counters); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
	finished := w.clock.Now()
	w.progress.Emit(progress.Event{
		JobID:   item.JobID,
		TS:      finished,
		Stage:   progress.StageJobDone,
		Outcome: string(status),
		Dur:     finished.Sub(started),
		Note:    errText,
	})
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("records", counters.Records),
		zap.Int("succeeded", counters.Succeeded),
		zap.Int("invalid_urls", counters.InvalidURLs),
		zap.Int("timeouts", counters.Timeouts),
	)
}

func (w *Worker) run(
	jobCtx context.Context,
	storeCtx context.Context,
	item crawler.QueueItem,
	counters *crawler.JobCounters,
	logger *zap.Logger,
) (crawler.JobStatus, string) {
	session, err := w.acquireSession(jobCtx)
	if err != nil {
		if jobCtx.Err() != nil {
			return crawler.JobStatusCanceled, "canceled"
		}
		logger.Error("open session failed", zap.Error(err))
		return crawler.JobStatusFailed, err.Error()
	}

	producer := search.NewProducer(session, w.clock, logger.Named("producer"))
	index := 0
	last := w.clock.Now()
	for record, err := range producer.Produce(jobCtx, item.Query) {
		if err != nil {
			logger.Error("search aborted", zap.Error(err))
			// The browser may be left in an unknown state.
			w.closeSession()
			return crawler.JobStatusFailed, err.Error()
		}
		now := w.clock.Now()
		if err := w.handleRecord(storeCtx, item.JobID, index, record, now, now.Sub(last)); err != nil {
			logger.Error("persist record failed", zap.Int("index", index), zap.Error(err))
			return crawler.JobStatusFailed, err.Error()
		}
		last = now
		counters.Observe(record)
		if err := w.jobStore.UpdateJobStatus(storeCtx, item.JobID, crawler.JobStatusRunning, "", *counters); err != nil {
			logger.Warn("progress update failed", zap.Error(err))
		}
		index++
	}
	if jobCtx.Err() != nil {
		return crawler.JobStatusCanceled, "canceled"
	}
	return crawler.JobStatusSucceeded, ""
}

func (w *Worker) handleRecord(
	ctx context.Context,
	jobID string,
	index int,
	record crawler.ResultRecord,
	now time.Time,
	elapsed time.Duration,
) error {
	stored := crawler.StoredResult{JobID: jobID, Index: index, Record: record}
	bodyBytes := 0
	if record.Body != nil {
		bodyBytes = len(*record.Body)
		if w.archiver != nil {
			hash, uri, err := w.archiver.Archive(ctx, jobID, *record.Body)
			if err != nil {
				return fmt.Errorf("archive body: %w", err)
			}
			stored.ContentHash = hash
			stored.BlobURI = uri
		}
	}
	w.progress.Emit(progress.Event{
		JobID:   jobID,
		TS:      now,
		Stage:   progress.StageRecord,
		URL:     record.URL,
		Outcome: outcome(record),
		Bytes:   bodyBytes,
		Dur:     elapsed,
	})

	if err := w.jobStore.AppendResult(ctx, stored); err != nil {
		return fmt.Errorf("append result: %w", err)
	}
	return w.publish(ctx, stored)
}

func (w *Worker) publish(ctx context.Context, stored crawler.StoredResult) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	event := resultEvent{
		JobID:       stored.JobID,
		Kind:        crawler.JobKind,
		Index:       stored.Index,
		ContentHash: stored.ContentHash,
		BlobURI:     stored.BlobURI,
		Record:      stored.Record,
	}
	if stored.BlobURI != "" {
		event.Record.Body = nil
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		return fmt.Errorf("publish record: %w", err)
	}
	return nil
}

func (w *Worker) acquireSession(ctx context.Context) (crawler.Session, error) {
	if w.session != nil {
		return w.session, nil
	}
	if w.newSession == nil {
		return nil, errors.New("no fetch session configured")
	}
	session, err := w.newSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	w.session = session
	return session, nil
}

func (w *Worker) closeSession() {
	if w.session == nil {
		return
	}
	if err := w.session.Close(); err != nil {
		w.logger.Warn("close session failed", zap.Error(err))
	}
	w.session = nil
}

func outcome(record crawler.ResultRecord) string {
	switch {
	case !record.Failed():
		return metrics.OutcomeSuccess
	case record.Error == crawler.ErrTextInvalidURL:
		return metrics.OutcomeInvalidURL
	default:
		return metrics.OutcomeTimeout
	}
}
