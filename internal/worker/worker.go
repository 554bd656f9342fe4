// Package worker implements the fetch and extract loop run by each member of
// the pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/boardscrape/internal/board"
	"github.com/JakeFAU/boardscrape/internal/metrics"
	"github.com/JakeFAU/boardscrape/internal/progress"
	"github.com/JakeFAU/boardscrape/internal/queue/memory"
)

// Source yields work items until it is closed and drained.
type Source interface {
	Dequeue(ctx context.Context) (board.WorkItem, error)
}

// Sink accepts extracted batches for reconciliation.
type Sink interface {
	Enqueue(ctx context.Context, batch board.ResultBatch) error
}

// Config identifies the run the worker belongs to.
type Config struct {
	ID    int
	RunID [16]byte
}

// Worker consumes work items and pushes one batch per successful item.
type Worker struct {
	cfg       Config
	source    Source
	results   Sink
	fetcher   board.Fetcher
	extractor board.Extractor
	tally     *board.Tally
	events    progress.Emitter
	clock     board.Clock
	logger    *zap.Logger
}

// New constructs a Worker. events may be nil.
func New(
	cfg Config,
	source Source,
	results Sink,
	fetcher board.Fetcher,
	extractor board.Extractor,
	tally *board.Tally,
	events progress.Emitter,
	clock board.Clock,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cfg:       cfg,
		source:    source,
		results:   results,
		fetcher:   fetcher,
		extractor: extractor,
		tally:     tally,
		events:    events,
		clock:     clock,
		logger:    logger.With(zap.Int("worker", cfg.ID)),
	}
}

// Run consumes items until the source is drained. Recoverable per-item
// errors are counted and the item is dropped; fatal errors and context
// cancellation end the loop with an error.
func (w *Worker) Run(ctx context.Context) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	for {
		item, err := w.source.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, memory.ErrClosed) {
				return nil
			}
			return fmt.Errorf("dequeue work item: %w", err)
		}
		w.logger.Debug("dequeued thread", zap.Int64("thread", item.Thread), zap.Int64("offset", item.Offset))

		batch, err := w.process(ctx, item)
		if err != nil {
			if board.IsFatal(err) {
				w.logger.Error("fatal extraction error", zap.Int64("thread", item.Thread), zap.Error(err))
				return fmt.Errorf("thread %d: %w", item.Thread, err)
			}
			if ctx.Err() != nil {
				return fmt.Errorf("worker canceled: %w", ctx.Err())
			}
			w.fail(item, err)
			continue
		}
		if err := w.results.Enqueue(ctx, batch); err != nil {
			return fmt.Errorf("enqueue batch for thread %d: %w", item.Thread, err)
		}
	}
}

func (w *Worker) process(ctx context.Context, item board.WorkItem) (board.ResultBatch, error) {
	url := w.extractor.URL(item)
	payload, err := w.fetcher.Fetch(ctx, url)
	if err != nil {
		if !errors.Is(err, board.ErrFetch) {
			err = fmt.Errorf("%w: %w", board.ErrFetch, err)
		}
		return board.ResultBatch{}, err
	}
	posts, err := w.extractor.Extract(ctx, item, payload)
	if err != nil {
		return board.ResultBatch{}, fmt.Errorf("extract %s: %w", url, err)
	}
	return board.ResultBatch{Item: item, Posts: posts}, nil
}

func (w *Worker) fail(item board.WorkItem, err error) {
	msg := "could not fetch thread"
	if errors.Is(err, board.ErrParse) {
		msg = "could not parse thread"
	}
	w.tally.Report(msg, zap.Int64("thread", item.Thread), zap.Error(err))
	if w.events == nil {
		return
	}
	w.events.Emit(progress.Event{
		RunID:  w.cfg.RunID,
		TS:     w.now(),
		Stage:  progress.StageThreadError,
		Thread: item.Thread,
		Note:   fmt.Sprintf("%s %d", msg, item.Thread),
	})
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now()
}
