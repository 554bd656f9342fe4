package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/boardscrape/internal/progress"
	"github.com/JakeFAU/boardscrape/internal/store"
)

// StoreSink persists run lifecycle events via a store.RunRepository. Batch
// level events are not written; the final counters arrive with the run done
// event.
type StoreSink struct {
	repo   store.RunRepository
	board  string
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink recording runs of board.
func NewStoreSink(repo store.RunRepository, board string, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, board: board, logger: logger}
}

// Consume forwards run start and completion events to the repository. It
// respects ctx deadlines and returns any repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, runID, s.board, evt.TS, evt.Total); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageRunDone:
			if err := s.completeRun(ctx, runID, evt); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *StoreSink) completeRun(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	var note *string
	if evt.Note != "" {
		note = &evt.Note
	}
	done := store.RunCompletion{
		FinishedAt:     evt.TS,
		Status:         runStatus(evt.Outcome),
		BatchesApplied: evt.Done,
		Errors:         evt.Errors,
		Note:           note,
	}
	if err := s.repo.CompleteRun(ctx, runID, done); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	s.logger.Debug("run recorded", zap.String("run_id", runID.String()), zap.String("status", string(done.Status)))
	return nil
}

func runStatus(outcome string) store.RunStatus {
	switch outcome {
	case progress.OutcomeSuccess:
		return store.RunSuccess
	case progress.OutcomePartial:
		return store.RunPartial
	default:
		return store.RunFatal
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
