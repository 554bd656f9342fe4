package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/boardscrape/internal/progress"
)

// LogSink emits structured logs for every progress event. It is useful when
// the console report is disabled or output is captured by a log collector.
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
		}
		switch evt.Stage {
		case progress.StageRunStart:
			fields = append(fields, zap.Int("threads", evt.Total), zap.Int("estimated_posts", evt.Estimated))
		case progress.StageBatchDone:
			fields = append(fields,
				zap.Int64("thread", evt.Thread),
				zap.Int64("posts", evt.Posts),
				zap.Int("done", evt.Done),
				zap.Int("total", evt.Total),
			)
		case progress.StageThreadError:
			fields = append(fields, zap.Int64("thread", evt.Thread), zap.String("note", evt.Note))
		case progress.StageRunDone:
			fields = append(fields,
				zap.String("outcome", evt.Outcome),
				zap.Int64("errors", evt.Errors),
				zap.Int("batches", evt.Done),
				zap.Duration("dur", evt.Dur),
			)
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
