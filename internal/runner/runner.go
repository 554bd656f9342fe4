// Package runner drives one scrape run through its PLAN, DISPATCH, DRAIN and
// REPORT states.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/boardscrape/internal/board"
	"github.com/JakeFAU/boardscrape/internal/dispatcher"
	"github.com/JakeFAU/boardscrape/internal/extract"
	"github.com/JakeFAU/boardscrape/internal/planner"
	"github.com/JakeFAU/boardscrape/internal/progress"
	"github.com/JakeFAU/boardscrape/internal/queue/memory"
	"github.com/JakeFAU/boardscrape/internal/reconciler"
	"github.com/JakeFAU/boardscrape/internal/worker"
)

// State names a phase of a run.
type State string

// Run states in order.
const (
	StatePlan     State = "PLAN"
	StateDispatch State = "DISPATCH"
	StateDrain    State = "DRAIN"
	StateReport   State = "REPORT"
)

// ErrAlreadyRunning is returned when Run is called while a run is active.
var ErrAlreadyRunning = errors.New("a run is already in progress")

// Config holds the per-run scrape options.
type Config struct {
	Format               board.Format
	Workers              int
	DryRun               bool
	Restrict             []int64
	VerifyTrips          bool
	FilterDeleted        bool
	StrictCrossReference bool
	Location             *time.Location
}

// Result summarizes a finished run.
type Result struct {
	RunID    string
	Plan     planner.Plan
	Format   board.Format
	Workers  int
	Applied  int
	Posts    int64
	Errors   int64
	Outcome  string
	Duration time.Duration
}

// Runner owns the per-run state: the error tally, the queues, and the pool.
type Runner struct {
	cfg       Config
	endpoints board.Endpoints
	fetcher   board.Fetcher
	store     board.Store
	indexer   board.Indexer
	events    progress.Emitter
	clock     board.Clock
	ids       board.IDGenerator
	logger    *zap.Logger

	running chan struct{}
}

// New constructs a Runner. indexer and events may be nil.
func New(
	cfg Config,
	endpoints board.Endpoints,
	fetcher board.Fetcher,
	store board.Store,
	indexer board.Indexer,
	events progress.Emitter,
	clock board.Clock,
	ids board.IDGenerator,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Runner{
		cfg:       cfg,
		endpoints: endpoints,
		fetcher:   fetcher,
		store:     store,
		indexer:   indexer,
		events:    events,
		clock:     clock,
		ids:       ids,
		logger:    logger,
		running:   make(chan struct{}, 1),
	}
}

// Run executes one scrape. Recoverable errors only raise Result.Errors; the
// returned error is set for planning failures and fatal conditions.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	select {
	case r.running <- struct{}{}:
		defer func() { <-r.running }()
	default:
		return Result{}, ErrAlreadyRunning
	}

	rawID, err := r.newRunID()
	if err != nil {
		return Result{}, err
	}
	start := r.clock.Now()
	res := Result{RunID: rawID.String(), Format: r.cfg.Format}
	runID := progress.UUIDToBytes(rawID)
	logger := r.logger.With(zap.String("run_id", res.RunID), zap.String("board", r.endpoints.BoardName()))

	logger.Debug("entering state", zap.String("state", string(StatePlan)))
	plan, err := planner.New(r.fetcher, r.store, r.endpoints, logger).Plan(ctx, r.cfg.Restrict)
	if err != nil {
		return res, fmt.Errorf("plan run: %w", err)
	}
	res.Plan = plan
	if len(plan.NotUpdated) > 0 {
		logger.Info("threads did not need updating", zap.Int64s("threads", plan.NotUpdated))
	}
	logger.Info("plan ready",
		zap.Int("threads", len(plan.Items)),
		zap.Int("estimated_posts", plan.EstimatedPosts),
		zap.Int("skipped_lines", plan.Skipped),
	)
	if r.cfg.DryRun {
		res.Outcome = progress.OutcomeSuccess
		res.Duration = r.clock.Now().Sub(start)
		return res, nil
	}

	r.emit(progress.Event{
		RunID:     runID,
		TS:        start,
		Stage:     progress.StageRunStart,
		Total:     len(plan.Items),
		Estimated: plan.EstimatedPosts,
	})

	tally := board.NewTally(logger)
	var runErr error
	if len(plan.Items) > 0 {
		runErr = r.execute(ctx, runID, plan, tally, &res, logger)
	}

	logger.Debug("entering state", zap.String("state", string(StateReport)))
	res.Errors = tally.Count()
	res.Outcome = progress.Outcome(res.Errors, runErr != nil)
	res.Duration = r.clock.Now().Sub(start)
	done := progress.Event{
		RunID:   runID,
		TS:      r.clock.Now(),
		Stage:   progress.StageRunDone,
		Done:    res.Applied,
		Total:   len(plan.Items),
		Errors:  res.Errors,
		Outcome: res.Outcome,
		Dur:     res.Duration,
	}
	if runErr != nil {
		done.Note = runErr.Error()
		logger.Error("run aborted", zap.Error(runErr))
	} else {
		logger.Info("run finished",
			zap.Int("batches", res.Applied),
			zap.Int64("posts", res.Posts),
			zap.Int64("errors", res.Errors),
			zap.Duration("duration", res.Duration),
		)
	}
	r.emit(done)
	if runErr != nil {
		return res, runErr
	}
	return res, nil
}

func (r *Runner) execute(
	ctx context.Context,
	runID [16]byte,
	plan planner.Plan,
	tally *board.Tally,
	res *Result,
	logger *zap.Logger,
) error {
	logger.Debug("entering state", zap.String("state", string(StateDispatch)))
	extractor, err := r.selectExtractor(ctx, runID, plan.Items[0], tally, logger)
	if err != nil {
		return err
	}
	res.Format = extractor.Format()
	res.Workers = dispatcher.WorkerCount(len(plan.Items), r.cfg.Workers)
	logger.Info("dispatching",
		zap.Int("workers", res.Workers),
		zap.String("format", string(res.Format)),
	)

	work := memory.NewQueue[board.WorkItem](len(plan.Items))
	results := memory.NewQueue[board.ResultBatch](res.Workers * 2)
	pool := make([]dispatcher.Runner, res.Workers)
	for i := range pool {
		pool[i] = worker.New(
			worker.Config{ID: i + 1, RunID: runID},
			work, results, r.fetcher, extractor, tally, r.events, r.clock, logger,
		)
	}
	disp := dispatcher.New(work, results, pool, logger)
	if err := disp.Fill(ctx, plan.Items); err != nil {
		return fmt.Errorf("fill work queue: %w", err)
	}
	rec := reconciler.New(
		reconciler.Config{RunID: runID, Total: len(plan.Items)},
		r.store, r.indexer, r.events, r.clock, logger,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return disp.Run(gctx)
	})
	g.Go(func() error {
		logger.Debug("entering state", zap.String("state", string(StateDrain)))
		return rec.Run(gctx, results)
	})
	err = g.Wait()
	res.Applied = rec.Applied()
	res.Posts = rec.Posts()
	return err
}

// selectExtractor tries the structured interface with the first work item
// and falls back to markup for the whole run when it cannot be reached.
func (r *Runner) selectExtractor(
	ctx context.Context,
	runID [16]byte,
	first board.WorkItem,
	tally *board.Tally,
	logger *zap.Logger,
) (board.Extractor, error) {
	format := r.cfg.Format
	if format == board.FormatJSON {
		url := r.endpoints.JSONThread(first.Thread, first.Offset)
		if _, err := r.fetcher.Fetch(ctx, url); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("try structured interface: %w", ctx.Err())
			}
			logger.Warn("structured interface unavailable, using markup", zap.String("url", url), zap.Error(err))
			format = board.FormatHTML
		}
	}
	extractor, err := extract.New(extract.Options{
		Format:               format,
		Endpoints:            r.endpoints,
		Fetcher:              r.fetcher,
		VerifyTrips:          r.cfg.VerifyTrips,
		FilterDeleted:        r.cfg.FilterDeleted,
		StrictCrossReference: r.cfg.StrictCrossReference,
		Location:             r.cfg.Location,
		Tally:                tally,
		RunID:                runID,
		Events:               r.events,
		Clock:                r.clock,
		Logger:               logger,
	})
	if err != nil {
		return nil, fmt.Errorf("select extractor: %w", err)
	}
	return extractor, nil
}

func (r *Runner) newRunID() (uuid.UUID, error) {
	raw, err := r.ids.NewID()
	if err != nil {
		return uuid.Nil, fmt.Errorf("new run id: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse run id %q: %w", raw, err)
	}
	return id, nil
}

func (r *Runner) emit(evt progress.Event) {
	if r.events != nil {
		r.events.Emit(evt)
	}
}
