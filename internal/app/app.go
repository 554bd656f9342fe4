// Package app initializes and holds long-lived services, acting as the
// dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/boardscrape/internal/board"
	"github.com/JakeFAU/boardscrape/internal/clock/system"
	"github.com/JakeFAU/boardscrape/internal/config"
	collyfetcher "github.com/JakeFAU/boardscrape/internal/fetcher/colly"
	"github.com/JakeFAU/boardscrape/internal/id/uuid"
	"github.com/JakeFAU/boardscrape/internal/index/fts"
	"github.com/JakeFAU/boardscrape/internal/policy/ratelimit"
	"github.com/JakeFAU/boardscrape/internal/progress"
	"github.com/JakeFAU/boardscrape/internal/progress/sinks"
	"github.com/JakeFAU/boardscrape/internal/runner"
	"github.com/JakeFAU/boardscrape/internal/storage/postgres"
	"github.com/JakeFAU/boardscrape/internal/storage/sqlite"
	"github.com/JakeFAU/boardscrape/internal/store"
)

const progressFlushInterval = 100 * time.Millisecond

// Store is the persistence contract the container needs from a driver.
type Store interface {
	board.Store
	store.RunRepository
}

// Options configures New.
type Options struct {
	Config config.Config
	Logger *zap.Logger
	// Console receives the human-readable run report. Nil disables it.
	Console io.Writer
	// Registerer enables the Prometheus progress sink when set.
	Registerer prometheus.Registerer
}

// App holds all the shared, long-lived services for the application.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     Store
	index     *fts.Index
	fetcher   *collyfetcher.Fetcher
	endpoints board.Endpoints
	hub       *progress.Hub
	location  *time.Location
	clock     *system.Clock
	ids       *uuid.Generator
}

// New opens the store (failing fast on a corrupt file), the optional index,
// the fetcher, and the progress hub.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		endpoints: board.NewEndpoints(cfg.Board.BaseURL, cfg.Board.Name),
		location:  loc,
		clock:     system.New(),
		ids:       uuid.New(),
	}

	if cfg.Index.Dir != "" {
		ix, err := fts.Open(ctx, cfg.Index.Dir, fts.FileName(a.storeName()), logger)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("open index: %w", err)
		}
		a.index = ix
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.HTTP.RequestsPerSecond,
		DefaultBurst: cfg.HTTP.Burst,
	})
	a.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Board.UserAgent,
		Timeout:   cfg.HTTP.Timeout(),
		Charset:   cfg.Board.Charset,
	}, limiter, logger)

	hubSinks := []progress.Sink{
		sinks.NewLogSink(logger),
		sinks.NewStoreSink(st, a.endpoints.BoardName(), logger),
	}
	if opts.Console != nil {
		hubSinks = append(hubSinks, sinks.NewConsoleSink(opts.Console, sinks.ConsoleMode(cfg.Progress.Mode)))
	}
	if opts.Registerer != nil {
		promSink, err := sinks.NewPrometheusSink(opts.Registerer)
		if err != nil {
			a.closeStores()
			return nil, fmt.Errorf("register progress metrics: %w", err)
		}
		hubSinks = append(hubSinks, promSink)
	}
	a.hub = progress.NewHub(progress.Config{
		MaxBatchWait: progressFlushInterval,
		Logger:       logger,
	}, hubSinks...)

	logger.Info("application services initialized",
		zap.String("board", a.endpoints.Board()),
		zap.String("store_driver", cfg.Store.Driver),
		zap.Bool("index", a.index != nil),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		st, err := postgres.Open(ctx, postgres.Config{
			DSN:      cfg.Store.DSN,
			MaxConns: cfg.Store.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, nil
	case config.DriverSQLite, "":
		st, err := sqlite.Open(ctx, cfg.Store.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store %s: %w", cfg.Store.Path, err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// storeName is the base the index file is named after.
func (a *App) storeName() string {
	if a.cfg.Store.Driver == config.DriverSQLite && a.cfg.Store.Path != "" {
		return a.cfg.Store.Path
	}
	return a.cfg.DefaultStorePath()
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Store exposes the watermark store and run history.
func (a *App) Store() Store {
	return a.store
}

// Index returns the full-text index, or nil when it is disabled.
func (a *App) Index() *fts.Index {
	return a.index
}

// Endpoints returns the board URL builder.
func (a *App) Endpoints() board.Endpoints {
	return a.endpoints
}

// Runner builds a run controller for the configured board. restrict limits
// the run to the given thread ids.
func (a *App) Runner(restrict []int64) *runner.Runner {
	var indexer board.Indexer
	if a.index != nil {
		indexer = a.index
	}
	return runner.New(runner.Config{
		Format:               board.Format(a.cfg.Scrape.Format),
		Workers:              a.cfg.Scrape.Workers,
		DryRun:               a.cfg.Scrape.DryRun,
		Restrict:             restrict,
		VerifyTrips:          a.cfg.Scrape.VerifyTrips,
		FilterDeleted:        a.cfg.Scrape.FilterDeleted,
		StrictCrossReference: a.cfg.Scrape.StrictCrossReference,
		Location:             a.location,
	}, a.endpoints, a.fetcher, a.store, indexer, a.hub, a.clock, a.ids, a.logger)
}

// Close flushes progress sinks and releases the store and index.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.hub.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, a.closeStores()...)
	// Syncing stderr fails on some terminals; ignore it.
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func (a *App) closeStores() []error {
	var errs []error
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errs
}
