package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/boardscrape/internal/board"
	"github.com/JakeFAU/boardscrape/internal/progress"
	"github.com/JakeFAU/boardscrape/internal/queue/memory"
)

func TestWorkerProducesBatches(t *testing.T) {
	t.Parallel()

	source := filledQueue(t, board.WorkItem{Thread: 1, Offset: 0}, board.WorkItem{Thread: 2, Offset: 5})
	results := memory.NewQueue[board.ResultBatch](4)
	fetcher := &fakeFetcher{bodies: map[string]string{"t/1/0": "a,b", "t/2/5": "c"}}

	w := New(Config{ID: 1}, source, results, fetcher, fakeExtractor{}, board.NewTally(nil), nil, fakeClock{}, zap.NewNop())
	require.NoError(t, w.Run(context.Background()))

	results.Close()
	got := drain(t, results)
	require.Len(t, got, 2)
	require.Equal(t, int64(1), got[0].Thread())
	require.Len(t, got[0].Posts, 2)
	require.Equal(t, int64(2), got[1].Thread())
	require.Len(t, got[1].Posts, 1)
}

func TestWorkerDropsFailedItems(t *testing.T) {
	t.Parallel()

	source := filledQueue(t, board.WorkItem{Thread: 1}, board.WorkItem{Thread: 2}, board.WorkItem{Thread: 3})
	results := memory.NewQueue[board.ResultBatch](4)
	fetcher := &fakeFetcher{
		bodies: map[string]string{"t/1/0": "a", "t/3/0": "!"},
		errs:   map[string]error{"t/2/0": errors.New("connection reset")},
	}
	tally := board.NewTally(nil)
	events := &recordingEmitter{}

	w := New(Config{ID: 1, RunID: [16]byte{1}}, source, results, fetcher, fakeExtractor{}, tally, events, fakeClock{}, nil)
	require.NoError(t, w.Run(context.Background()))

	results.Close()
	got := drain(t, results)
	require.Len(t, got, 1)
	require.Equal(t, int64(1), got[0].Thread())
	require.Equal(t, int64(2), tally.Count())

	evts := events.snapshot()
	require.Len(t, evts, 2)
	require.Equal(t, progress.StageThreadError, evts[0].Stage)
	require.Equal(t, int64(2), evts[0].Thread)
	require.Equal(t, "could not fetch thread 2", evts[0].Note)
	require.Equal(t, "could not parse thread 3", evts[1].Note)
	for _, evt := range evts {
		require.NoError(t, evt.Validate())
	}
}

func TestWorkerStopsOnFatalError(t *testing.T) {
	t.Parallel()

	source := filledQueue(t, board.WorkItem{Thread: 9}, board.WorkItem{Thread: 10})
	results := memory.NewQueue[board.ResultBatch](4)
	fetcher := &fakeFetcher{bodies: map[string]string{"t/9/0": "X", "t/10/0": "a"}}
	tally := board.NewTally(nil)

	w := New(Config{ID: 1}, source, results, fetcher, fakeExtractor{}, tally, nil, fakeClock{}, nil)
	err := w.Run(context.Background())
	require.ErrorIs(t, err, board.ErrCrossReference)
	require.Zero(t, tally.Count())
	require.Equal(t, 0, results.Len())
}

func TestWorkerHonorsCancellation(t *testing.T) {
	t.Parallel()

	source := memory.NewQueue[board.WorkItem](1)
	results := memory.NewQueue[board.ResultBatch](1)
	ctx, cancel := context.WithCancel(context.Background())

	w := New(Config{}, source, results, &fakeFetcher{}, fakeExtractor{}, board.NewTally(nil), nil, fakeClock{}, nil)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func filledQueue(t *testing.T, items ...board.WorkItem) *memory.Queue[board.WorkItem] {
	t.Helper()
	q := memory.NewQueue[board.WorkItem](len(items))
	for _, item := range items {
		require.NoError(t, q.Enqueue(context.Background(), item))
	}
	q.Close()
	return q
}

func drain(t *testing.T, q *memory.Queue[board.ResultBatch]) []board.ResultBatch {
	t.Helper()
	var out []board.ResultBatch
	for {
		batch, err := q.Dequeue(context.Background())
		if errors.Is(err, memory.ErrClosed) {
			return out
		}
		require.NoError(t, err)
		out = append(out, batch)
	}
}

type fakeFetcher struct {
	bodies map[string]string
	errs   map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	body, ok := f.bodies[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s not found", board.ErrFetch, url)
	}
	return []byte(body), nil
}

// fakeExtractor emits one post per comma-separated token. "!" is an
// unparsable payload and "X" a failed cross-reference.
type fakeExtractor struct{}

func (fakeExtractor) Format() board.Format { return board.FormatJSON }

func (fakeExtractor) URL(item board.WorkItem) string {
	return fmt.Sprintf("t/%d/%d", item.Thread, item.Offset)
}

func (fakeExtractor) Extract(_ context.Context, item board.WorkItem, payload []byte) ([]board.Post, error) {
	switch string(payload) {
	case "!":
		return nil, board.ErrParse
	case "X":
		return nil, board.ErrCrossReference
	}
	var posts []board.Post
	for i := range len(payload)/2 + 1 {
		posts = append(posts, board.Post{Thread: item.Thread, ID: item.Offset + int64(i)})
	}
	return posts, nil
}

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Unix(1700000000, 0).UTC() }

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) snapshot() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}
