package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/webpage-search/internal/progress"
)

// LogSink writes each event as a structured log line. Record events log at debug level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every event in batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		switch evt.Stage {
		case progress.StageRecord:
			s.logger.Debug("record produced", append(fields,
				zap.String("url", evt.URL),
				zap.String("outcome", evt.Outcome),
				zap.Int("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)...)
		case progress.StageJobDone:
			s.logger.Info("job done", append(fields,
				zap.String("status", evt.Outcome),
				zap.Duration("dur", evt.Dur),
				zap.String("note", evt.Note),
			)...)
		default:
			s.logger.Info("job started", fields...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
