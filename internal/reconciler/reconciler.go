// Package reconciler serially applies extracted batches to the store and the
// optional full-text index.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/boardscrape/internal/board"
	"github.com/JakeFAU/boardscrape/internal/progress"
	"github.com/JakeFAU/boardscrape/internal/queue/memory"
	"github.com/JakeFAU/boardscrape/internal/scrub"
)

// Source yields batches until the pool closes it.
type Source interface {
	Dequeue(ctx context.Context) (board.ResultBatch, error)
}

// Config identifies the run and its planned size.
type Config struct {
	RunID [16]byte
	// Total is the number of planned work items, used for progress events.
	Total int
}

// Reconciler is the single consumer of the results queue and the only writer
// of the store.
type Reconciler struct {
	cfg      Config
	store    board.BatchWriter
	indexer  board.Indexer
	scrubber *scrub.Scrubber
	events   progress.Emitter
	clock    board.Clock
	logger   *zap.Logger

	applied int
	posts   int64
}

// New constructs a Reconciler. indexer and events may be nil.
func New(
	cfg Config,
	store board.BatchWriter,
	indexer board.Indexer,
	events progress.Emitter,
	clock board.Clock,
	logger *zap.Logger,
) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		cfg:      cfg,
		store:    store,
		indexer:  indexer,
		scrubber: scrub.New(),
		events:   events,
		clock:    clock,
		logger:   logger,
	}
}

// Run drains source until it is closed and empty. Store or index failures
// stop the run and are returned.
func (r *Reconciler) Run(ctx context.Context, source Source) error {
	for {
		batch, err := source.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, memory.ErrClosed) {
				return nil
			}
			return fmt.Errorf("dequeue batch: %w", err)
		}
		// Dequeue may hand out a buffered batch after cancellation.
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("dequeue batch: %w", err)
		}
		if err := r.Apply(ctx, batch); err != nil {
			return err
		}
	}
}

// Apply commits one batch: one index writer session with scrubbed
// documents, then posts and watermark in one store transaction. The index
// upserts by (thread, post), so a store failure after indexing is repaired
// when the next run refetches from the unchanged watermark.
func (r *Reconciler) Apply(ctx context.Context, batch board.ResultBatch) error {
	if err := r.index(ctx, batch); err != nil {
		return fmt.Errorf("index thread %d: %w", batch.Thread(), err)
	}
	if err := r.store.ApplyBatch(ctx, batch); err != nil {
		return fmt.Errorf("apply batch for thread %d: %w", batch.Thread(), err)
	}
	r.applied++
	r.posts += int64(len(batch.Posts))
	r.logger.Debug("batch reconciled",
		zap.Int64("thread", batch.Thread()),
		zap.Int("posts", len(batch.Posts)),
		zap.Int64("last_post", batch.Item.LastPost),
	)
	if r.events != nil {
		r.events.Emit(progress.Event{
			RunID:  r.cfg.RunID,
			TS:     r.now(),
			Stage:  progress.StageBatchDone,
			Thread: batch.Thread(),
			Posts:  int64(len(batch.Posts)),
			Done:   r.applied,
			Total:  r.cfg.Total,
		})
	}
	return nil
}

func (r *Reconciler) index(ctx context.Context, batch board.ResultBatch) (err error) {
	if r.indexer == nil {
		return nil
	}
	w, err := r.indexer.Writer(ctx)
	if err != nil {
		return fmt.Errorf("open index writer: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := w.Rollback(); rbErr != nil {
				r.logger.Warn("index rollback failed", zap.Error(rbErr))
			}
		}
	}()
	for _, p := range batch.Posts {
		if err := w.AddDocument(ctx, r.document(p)); err != nil {
			return fmt.Errorf("add document %d: %w", p.ID, err)
		}
	}
	if err := w.Commit(); err != nil {
		return fmt.Errorf("commit index: %w", err)
	}
	return nil
}

func (r *Reconciler) document(p board.Post) board.Document {
	return board.Document{
		Thread:  p.Thread,
		Post:    p.ID,
		Author:  r.scrubber.Text(p.Author),
		Contact: p.Contact,
		Trip:    p.Trip,
		Time:    time.Unix(p.Time, 0).UTC(),
		Body:    r.scrubber.Text(p.Body),
	}
}

// Applied returns the number of batches reconciled so far.
func (r *Reconciler) Applied() int {
	return r.applied
}

// Posts returns the number of posts written so far.
func (r *Reconciler) Posts() int64 {
	return r.posts
}

func (r *Reconciler) now() time.Time {
	if r.clock == nil {
		return time.Now().UTC()
	}
	return r.clock.Now()
}
