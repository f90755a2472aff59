package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/timeline-harvester/internal/progress"
)

// LogSink emits structured logs for each progress event. It is useful during
// development or audits where no metrics backend is scraped.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("query", evt.Query),
			zap.String("cursor", evt.Cursor),
			zap.Int("depth", evt.Depth),
		}
		switch evt.Stage {
		case progress.StagePageDone:
			fields = append(fields, zap.Int("records", evt.Records), zap.Duration("fetch_dur", evt.Dur))
		case progress.StageFetchRetry:
			fields = append(fields, zap.Int("attempt", evt.Attempt), zap.Duration("backoff", evt.Dur))
		case progress.StageCrawlDone:
			fields = append(fields, zap.String("outcome", evt.Outcome), zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
