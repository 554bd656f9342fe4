package extract

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/boardscrape/internal/board"
	"github.com/JakeFAU/boardscrape/internal/progress"
)

// Options selects and configures an extractor.
type Options struct {
	Format               board.Format
	Endpoints            board.Endpoints
	Fetcher              board.Fetcher
	VerifyTrips          bool
	FilterDeleted        bool
	StrictCrossReference bool
	Location             *time.Location
	Tally                *board.Tally
	// RunID, Events, and Clock label the thread errors the markup
	// extractor reports for broken posts.
	RunID  [16]byte
	Events progress.Emitter
	Clock  board.Clock
	Logger *zap.Logger
}

// New returns the extractor for opts.Format.
func New(opts Options) (board.Extractor, error) {
	switch opts.Format {
	case board.FormatJSON:
		return NewStructured(StructuredConfig{
			VerifyTrips:          opts.VerifyTrips,
			FilterDeleted:        opts.FilterDeleted,
			StrictCrossReference: opts.StrictCrossReference,
		}, opts.Endpoints, opts.Fetcher, opts.Logger), nil
	case board.FormatHTML:
		return NewMarkup(opts.Endpoints, opts.Location, opts.Tally, opts.Logger).
			WithEvents(opts.RunID, opts.Events, opts.Clock), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", opts.Format)
	}
}
