package sinks

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/JakeFAU/boardscrape/internal/progress"
)

// ConsoleMode selects how the console report renders batch completions.
type ConsoleMode string

// Supported console modes.
const (
	ConsoleBar  ConsoleMode = "bar"
	ConsoleLog  ConsoleMode = "log"
	ConsoleNone ConsoleMode = "none"
)

const cursorUp = "\033[1A"

// ConsoleSink prints the human-readable run report: the plan summary, one
// progress update per reconciled batch, thread errors, and the final summary
// with retry advice.
type ConsoleSink struct {
	mu   sync.Mutex
	out  io.Writer
	mode ConsoleMode
}

// NewConsoleSink writes the report to out.
func NewConsoleSink(out io.Writer, mode ConsoleMode) *ConsoleSink {
	if mode == "" {
		mode = ConsoleBar
	}
	return &ConsoleSink{out: out, mode: mode}
}

// Consume renders each event.
func (s *ConsoleSink) Consume(_ context.Context, batch []progress.Event) error {
	if s == nil || s.out == nil || s.mode == ConsoleNone {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		if err := s.render(evt); err != nil {
			return fmt.Errorf("console progress: %w", err)
		}
	}
	return nil
}

func (s *ConsoleSink) render(evt progress.Event) error {
	var err error
	switch evt.Stage {
	case progress.StageRunStart:
		_, err = fmt.Fprintln(s.out, Summary(evt.Total, evt.Estimated))
		if err == nil && s.mode == ConsoleBar && evt.Total > 0 {
			_, err = fmt.Fprintf(s.out, "\n%s\n", Bar(0, evt.Total))
		}
	case progress.StageBatchDone:
		if s.mode == ConsoleBar {
			_, err = fmt.Fprintf(s.out, "%s%s\n", cursorUp, Bar(evt.Done, evt.Total))
		} else {
			_, err = fmt.Fprintf(s.out, "[%d/%d] Done thread %d.\n", evt.Done, evt.Total, evt.Thread)
		}
	case progress.StageThreadError:
		_, err = fmt.Fprintf(s.out, "! Error: %s\n", evt.Note)
		if err == nil && s.mode == ConsoleBar {
			_, err = fmt.Fprintln(s.out)
		}
	case progress.StageRunDone:
		_, err = fmt.Fprintf(s.out, "All done! Finished with %s.\n", plural(evt.Errors, "error"))
		if err == nil && evt.Errors > 0 {
			_, err = fmt.Fprintln(s.out, "It's possible that running the scrape again will retrieve posts "+
				"that couldn't\nbe retrieved just now.")
		}
	}
	return err
}

// Close implements the Sink interface; it performs no action.
func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

// Bar renders the twenty-cell progress bar for done out of total.
func Bar(done, total int) string {
	perc := 100.0
	if total > 0 {
		perc = float64(done) * 100.0 / float64(total)
	}
	var cells strings.Builder
	for step := 5; step <= 100; step += 5 {
		if float64(step) <= perc {
			cells.WriteByte('#')
		} else {
			cells.WriteByte(' ')
		}
	}
	return fmt.Sprintf("Scraping... [%s] %.2f%% (%d/%d)", cells.String(), perc, done, total)
}

// Summary is the one-line plan description printed before a run.
func Summary(threads, posts int) string {
	return fmt.Sprintf("%s to update (approx. %s).", plural(int64(threads), "thread"), plural(int64(posts), "post"))
}

func plural(n int64, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
