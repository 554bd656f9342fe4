// Package cmd defines and implements the CLI commands for the boardscrape executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/boardscrape/internal/app"
	"github.com/JakeFAU/boardscrape/internal/config"
	"github.com/JakeFAU/boardscrape/internal/logging"
)

// envKeyType is the key for storing the loaded environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// env is what every subcommand needs before it builds the application.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = app.New

// newRootCmd creates and configures the root command and its subcommands.
// Each call uses its own viper instance so commands can be built repeatedly.
func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "boardscrape",
		Short: "Incrementally mirrors a textboard into a local store and search index.",
		Long: `boardscrape keeps a local copy of a textboard up to date. Each run
compares the board's thread index against the stored watermarks, fetches only
the posts that are new, and records them in the store and full-text index.`,
		SilenceUsage: true,

		// Runs after flags are parsed but before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
				Board:       cfg.Board.Name,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, env{cfg: cfg, logger: logger}))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, toml, or json)")
	flags.String("board", "", "board name, e.g. prog")
	flags.String("base-url", "", "board server base URL")
	flags.String("charset", "", "character set of board responses")
	flags.String("store", "", "path of the SQLite store (defaults to <board>.db)")
	flags.String("index-dir", "", "directory of the full-text index; empty disables indexing")
	flags.Bool("dev", false, "human-friendly development logging")
	flags.String("log-level", "", "minimum log level (debug, info, warn, error)")
	bindFlags(v, flags.Lookup, map[string]string{
		"board.name":          "board",
		"board.base_url":      "base-url",
		"board.charset":       "charset",
		"store.path":          "store",
		"index.dir":           "index-dir",
		"logging.development": "dev",
		"logging.level":       "log-level",
	})

	cmd.AddCommand(newScrapeCmd(v))
	cmd.AddCommand(newWatchCmd(v))
	cmd.AddCommand(newSearchCmd())
	return cmd
}

// bindFlags binds each viper key onto the named flag. A missing flag is a
// programming error.
func bindFlags(v *viper.Viper, lookup func(string) *pflag.Flag, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func resolveEnv(ctx context.Context) (env, error) {
	e, ok := ctx.Value(envKey).(env)
	if !ok || e.logger == nil {
		return env{}, errors.New("configuration not loaded")
	}
	return e, nil
}

// Execute is the main entry point. Interrupts cancel the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
