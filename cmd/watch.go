package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/boardscrape/internal/api"
	"github.com/JakeFAU/boardscrape/internal/app"
	"github.com/JakeFAU/boardscrape/internal/board"
)

const shutdownTimeout = 10 * time.Second

// newWatchCmd creates the 'watch' subcommand, which repeats the scrape on a
// cron schedule until interrupted.
func newWatchCmd(v *viper.Viper) *cobra.Command {
	var now bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Scrape on a schedule until interrupted",
		Long: `Runs the incremental scrape on a cron schedule. A run that is still
in progress when the next one is due causes that tick to be skipped. When
api.listen is set, a status server exposes /healthz, /metrics, and the run
history under /v1/runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, now)
		},
	}
	flags := cmd.Flags()
	flags.String("schedule", "", `cron spec or descriptor, e.g. "@every 15m"`)
	flags.String("listen", "", "address of the status API, e.g. :8080")
	flags.BoolVar(&now, "now", false, "run once immediately before waiting for the schedule")
	bindFlags(v, flags.Lookup, map[string]string{
		"watch.schedule": "schedule",
		"api.listen":     "listen",
	})
	return cmd
}

func runWatch(cmd *cobra.Command, now bool) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := e.logger.Named("watch")
	loc, err := e.cfg.Location()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, app.Options{
		Config:     e.cfg,
		Logger:     e.logger,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer closeApp(a, e.logger)

	cronLogger := zapCronLogger{logger: logger.Sugar()}
	scheduler := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	job := cron.FuncJob(func() { scheduledRun(ctx, a, logger) })
	if _, err := scheduler.AddJob(e.cfg.Watch.Schedule, job); err != nil {
		return fmt.Errorf("invalid watch schedule %q: %w", e.cfg.Watch.Schedule, err)
	}

	var srv *http.Server
	if e.cfg.API.Listen != "" {
		srv = &http.Server{
			Addr:              e.cfg.API.Listen,
			Handler:           api.NewServer(a.Store(), nil, logger.Named("api")).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("status server started", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server error", zap.Error(err))
			}
		}()
	}

	if now {
		scheduledRun(ctx, a, logger)
	}
	scheduler.Start()
	logger.Info("watching board", zap.String("board", a.Endpoints().Board()), zap.String("schedule", e.cfg.Watch.Schedule))

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown error", zap.Error(err))
		}
	}
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("scheduled run did not stop in time")
	}
	logger.Info("shutdown complete")
	return nil
}

// scheduledRun performs one scrape. Failures are logged and the schedule
// keeps going.
func scheduledRun(ctx context.Context, a *app.App, logger *zap.Logger) {
	res, err := a.Runner(nil).Run(ctx)
	switch {
	case err == nil:
		logger.Info("scheduled run finished",
			zap.String("run_id", res.RunID),
			zap.Int("threads", res.Applied),
			zap.Int64("errors", res.Errors),
			zap.Duration("duration", res.Duration),
		)
	case errors.Is(err, context.Canceled):
		logger.Info("scheduled run canceled")
	case board.IsFatal(err):
		logger.Error("scheduled run aborted", zap.Error(err))
	default:
		logger.Warn("scheduled run failed", zap.Error(err))
	}
}

// zapCronLogger adapts zap to cron.Logger.
type zapCronLogger struct {
	logger *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
