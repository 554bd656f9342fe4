package cmd

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/boardscrape/internal/app"
)

// newSearchCmd creates the 'search' subcommand over the full-text index.
func newSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <words>...",
		Short: "Search the full-text index of scraped posts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if e.cfg.Index.Dir == "" {
				return errors.New("search needs an index directory (index.dir or --index-dir)")
			}
			a, err := newApp(cmd.Context(), app.Options{Config: e.cfg, Logger: e.logger})
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer closeApp(a, e.logger)

			hits, err := a.Index().Search(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "THREAD\tPOST\tAUTHOR\tSNIPPET")
			for _, h := range hits {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", h.Thread, h.Post, displayAuthor(h.Author, h.Trip), oneLine(h.Snippet))
			}
			if err := tw.Flush(); err != nil {
				return fmt.Errorf("write results: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of results")
	return cmd
}

// displayAuthor joins a name and its tripcode, which already carries its
// leading '!'.
func displayAuthor(name, trip string) string {
	if trip == "" {
		return name
	}
	return name + " " + trip
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
