package sinks

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boardscrape/internal/progress"
)

func TestBar(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Scraping... [#########           ] 45.00% (9/20)", Bar(9, 20))
	require.Equal(t, "Scraping... [                    ] 0.00% (0/4)", Bar(0, 4))
	require.Equal(t, "Scraping... [####################] 100.00% (4/4)", Bar(4, 4))
}

func TestConsoleSinkLogMode(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	sink := NewConsoleSink(&out, ConsoleLog)
	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Total: 2, Estimated: 1},
		{RunID: runID, TS: now, Stage: progress.StageBatchDone, Thread: 100, Done: 1, Total: 2},
		{RunID: runID, TS: now, Stage: progress.StageThreadError, Thread: 200, Note: "can't access thread 200"},
		{RunID: runID, TS: now, Stage: progress.StageRunDone, Outcome: progress.OutcomePartial, Errors: 1},
	}))

	require.Equal(t, "2 threads to update (approx. 1 post).\n"+
		"[1/2] Done thread 100.\n"+
		"! Error: can't access thread 200\n"+
		"All done! Finished with 1 error.\n"+
		"It's possible that running the scrape again will retrieve posts that couldn't\n"+
		"be retrieved just now.\n", out.String())
}

func TestConsoleSinkBarMode(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	sink := NewConsoleSink(&out, ConsoleBar)
	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Total: 1, Estimated: 3},
		{RunID: runID, TS: now, Stage: progress.StageBatchDone, Thread: 100, Done: 1, Total: 1},
		{RunID: runID, TS: now, Stage: progress.StageRunDone, Outcome: progress.OutcomeSuccess},
	}))

	require.Equal(t, "1 thread to update (approx. 3 posts).\n\n"+
		Bar(0, 1)+"\n"+
		"\033[1A"+Bar(1, 1)+"\n"+
		"All done! Finished with 0 errors.\n", out.String())
}

func TestConsoleSinkNoneIsSilent(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	sink := NewConsoleSink(&out, ConsoleNone)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{Stage: progress.StageRunDone}}))
	require.Empty(t, out.String())
}
