package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/boardscrape/internal/app"
	"github.com/JakeFAU/boardscrape/internal/board"
	"github.com/JakeFAU/boardscrape/internal/progress/sinks"
)

const closeTimeout = 10 * time.Second

type scrapeFlags struct {
	json    bool
	html    bool
	fast    bool
	threads []int64
	partial bool
}

// newScrapeCmd creates the 'scrape' subcommand, a single incremental run.
func newScrapeCmd(v *viper.Viper) *cobra.Command {
	var f scrapeFlags
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Fetch every post added since the last run",
		Long: `Downloads the board's thread index, works out which threads gained
posts since the previous run, and fetches only those posts. Per-thread
failures are reported and retried on the next run; they do not change the
exit status. Store corruption and cross-reference failures are fatal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrape(cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&f.json, "json", false, "use the structured JSON interface")
	flags.BoolVar(&f.html, "html", false, "use the HTML read interface")
	flags.BoolVar(&f.fast, "fast", false, "same as --json --verify-trips=false")
	flags.Bool("verify-trips", true, "resolve ambiguous tripcodes against the HTML interface")
	flags.Bool("filter-deleted", true, "drop deleted-post placeholders")
	flags.Bool("strict", true, "abort the run when a tripcode cross-reference fails")
	flags.Int("workers", 0, "number of fetch workers (0 derives it from the plan size)")
	flags.Bool("dry-run", false, "print the plan and exit without fetching posts")
	flags.String("progress", "", "progress output: bar, log, or none")
	flags.Int64SliceVar(&f.threads, "thread", nil, "restrict the run to this thread id (repeatable)")
	flags.BoolVar(&f.partial, "partial", false, "read thread ids to restrict the run to from stdin")
	cmd.MarkFlagsMutuallyExclusive("json", "html")
	cmd.MarkFlagsMutuallyExclusive("html", "fast")
	bindFlags(v, flags.Lookup, map[string]string{
		"scrape.verify_trips":           "verify-trips",
		"scrape.filter_deleted":         "filter-deleted",
		"scrape.strict_cross_reference": "strict",
		"scrape.workers":                "workers",
		"scrape.dry_run":                "dry-run",
		"progress.mode":                 "progress",
	})
	return cmd
}

func runScrape(cmd *cobra.Command, f scrapeFlags) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	cfg := e.cfg
	switch {
	case f.fast:
		cfg.Scrape.Format = string(board.FormatJSON)
		cfg.Scrape.VerifyTrips = false
	case f.json:
		cfg.Scrape.Format = string(board.FormatJSON)
	case f.html:
		cfg.Scrape.Format = string(board.FormatHTML)
	}

	restrict := f.threads
	if f.partial {
		ids, err := readThreadIDs(cmd.InOrStdin())
		if err != nil {
			return err
		}
		restrict = append(restrict, ids...)
	}

	out := cmd.OutOrStdout()
	a, err := newApp(cmd.Context(), app.Options{Config: cfg, Logger: e.logger, Console: out})
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer closeApp(a, e.logger)

	res, err := a.Runner(restrict).Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("scrape: %w", err)
	}
	if cfg.Scrape.DryRun {
		// The progress hub only reports real runs.
		if _, err := fmt.Fprintf(out, "%s\nDry run; exiting.\n", sinks.Summary(len(res.Plan.Items), res.Plan.EstimatedPosts)); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
		return nil
	}
	e.logger.Info("Scrape command finished.",
		zap.String("run_id", res.RunID),
		zap.Int("threads", res.Applied),
		zap.Int64("posts", res.Posts),
		zap.Int64("errors", res.Errors),
		zap.Duration("duration", res.Duration),
	)
	return nil
}

// readThreadIDs parses whitespace-separated thread ids.
func readThreadIDs(r io.Reader) ([]int64, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	var ids []int64
	for sc.Scan() {
		id, err := strconv.ParseInt(sc.Text(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid thread id %q on stdin", sc.Text())
		}
		ids = append(ids, id)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read thread ids: %w", err)
	}
	return ids, nil
}

func closeApp(a *app.App, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		logger.Warn("Failed to close application services", zap.Error(err))
	}
}
