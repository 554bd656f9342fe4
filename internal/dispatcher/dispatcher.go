// Package dispatcher manages worker fan-out over the work queue.
package dispatcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/boardscrape/internal/board"
)

const (
	workloadCap      = 1000
	maxScaledWorkers = 31
)

// WorkQueue is the producer side of the work queue.
type WorkQueue interface {
	Enqueue(ctx context.Context, item board.WorkItem) error
	Close()
}

// Closer is the results queue; it is closed once every worker has returned.
type Closer interface {
	Close()
}

// Runner is one pool member.
type Runner interface {
	Run(ctx context.Context) error
}

// Dispatcher fans work out to a pool of workers.
type Dispatcher struct {
	queue   WorkQueue
	results Closer
	workers []Runner
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(queue WorkQueue, results Closer, workers []Runner, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		results: results,
		workers: workers,
		logger:  logger,
	}
}

// WorkerCount picks the pool size for items work items. Small workloads get
// few workers and the automatic size never exceeds 32. A positive override
// wins but the result is always clamped to [1, items].
func WorkerCount(items, override int) int {
	n := override
	if n <= 0 {
		n = min(items, workloadCap)*maxScaledWorkers/workloadCap + 1
	}
	if n > items {
		n = items
	}
	return max(n, 1)
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item board.WorkItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Fill enqueues every item and closes the work queue so workers exit once it
// is drained.
func (d *Dispatcher) Fill(ctx context.Context, items []board.WorkItem) error {
	defer d.queue.Close()
	for _, item := range items {
		if err := d.Enqueue(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// Run starts all workers and blocks until every one of them has returned.
// The results queue is closed only after that, so the consumer never sees
// completion while a batch is still in flight. The first worker error
// cancels the rest and is returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.results.Close()
	d.logger.Debug("starting workers", zap.Int("workers", len(d.workers)))

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	return nil
}
