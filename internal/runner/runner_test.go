package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boardscrape/internal/board"
	"github.com/JakeFAU/boardscrape/internal/progress"
	"github.com/JakeFAU/boardscrape/internal/storage/sqlite"
)

const base = "http://h"

func TestRunFetchesNewThread(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	fetcher := newFakeFetcher()
	fetcher.set(base+"/prog/subject.txt", "Hello<>Bob<>icon<>100<>3<>x<>150\n")
	fetcher.set(base+"/json/prog/100/0-", jsonPosts(0, 1, 2))
	events := &recordingEmitter{}

	res, err := newRunner(Config{Format: board.FormatJSON}, fetcher, st, events).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, progress.OutcomeSuccess, res.Outcome)
	require.Equal(t, 1, res.Applied)
	require.Equal(t, int64(3), res.Posts)
	require.Equal(t, 1, res.Workers)
	require.Equal(t, board.FormatJSON, res.Format)
	require.Equal(t, 3, res.Plan.EstimatedPosts)

	wm, ok, err := st.Watermark(context.Background(), 100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, board.Watermark{Thread: 100, Subject: "Hello", LastPost: 150}, wm)
	posts, err := st.Posts(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	for i, p := range posts {
		require.Equal(t, int64(i), p.ID)
	}

	stages := events.stages()
	require.Equal(t, []progress.Stage{progress.StageRunStart, progress.StageBatchDone, progress.StageRunDone}, stages)
	last := events.snapshot()[2]
	require.Equal(t, 1, last.Done)
	require.Zero(t, last.Errors)
	require.Equal(t, res.RunID, last.RunUUID().String())
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	fetcher := newFakeFetcher()
	fetcher.set(base+"/prog/subject.txt", "Hello<>Bob<>icon<>100<>3<>x<>150\n")
	fetcher.set(base+"/json/prog/100/0-", jsonPosts(0, 1, 2))
	r := newRunner(Config{Format: board.FormatJSON}, fetcher, st, nil)

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	before := fetcher.count(base + "/json/prog/100/0-")

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, res.Plan.Items)
	require.Zero(t, res.Applied)
	require.Equal(t, before, fetcher.count(base+"/json/prog/100/0-"))

	posts, err := st.Posts(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, posts, 3)
}

func TestRunResumesStaleThread(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	fetcher := newFakeFetcher()
	fetcher.set(base+"/prog/subject.txt", "Hello<>Bob<>icon<>100<>3<>x<>150\n")
	fetcher.set(base+"/json/prog/100/0-", jsonPosts(0, 1, 2))
	r := newRunner(Config{Format: board.FormatJSON}, fetcher, st, nil)
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	fetcher.set(base+"/prog/subject.txt", "Hello<>Bob<>icon<>100<>5<>x<>200\n")
	// The remote returns one post of trailing context below the offset.
	fetcher.set(base+"/json/prog/100/3-", jsonPosts(2, 3, 4))
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Plan.Items, 1)
	require.Equal(t, int64(3), res.Plan.Items[0].Offset)
	require.Equal(t, int64(2), res.Posts)

	posts, err := st.Posts(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, posts, 5)
	require.Equal(t, "post 2", posts[2].Body)
	wm, _, err := st.Watermark(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, int64(200), wm.LastPost)
}

func TestRunPartialFailureKeepsThreadRetryable(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	fetcher := newFakeFetcher()
	fetcher.set(base+"/prog/subject.txt",
		"Hello<>Bob<>icon<>100<>3<>x<>150\nBroken<>Eve<>icon<>200<>2<>x<>160\n")
	fetcher.set(base+"/json/prog/100/0-", jsonPosts(0, 1, 2))
	events := &recordingEmitter{}
	r := newRunner(Config{Format: board.FormatJSON, Workers: 2}, fetcher, st, events)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Errors)
	require.Equal(t, progress.OutcomePartial, res.Outcome)
	require.Equal(t, 1, res.Applied)
	require.Contains(t, events.stages(), progress.StageThreadError)

	_, ok, err := st.Watermark(context.Background(), 200)
	require.NoError(t, err)
	require.False(t, ok)

	dry := newRunner(Config{Format: board.FormatJSON, DryRun: true}, fetcher, st, nil)
	plan, err := dry.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, plan.Plan.Items, 1)
	require.Equal(t, int64(200), plan.Plan.Items[0].Thread)
	require.Zero(t, plan.Plan.Items[0].Offset)
}

func TestRunFallsBackToMarkup(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	fetcher := newFakeFetcher()
	fetcher.set(base+"/prog/subject.txt", "Hello<>Bob<>icon<>100<>2<>x<>150\n")
	fetcher.set(base+"/read/prog/100/0-", markupPage(
		postHTML(0, "Anonymous", "", "2010-01-02 03:04", "zero"),
		postHTML(1, "Bob", "!abcdefghij", "2010-01-02 03:05", "one"),
	))

	res, err := newRunner(Config{Format: board.FormatJSON}, fetcher, st, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, board.FormatHTML, res.Format)
	require.Zero(t, res.Errors)

	posts, err := st.Posts(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	require.Equal(t, "!abcdefghij", posts[1].Trip)
	require.Equal(t, time.Date(2010, 1, 2, 3, 5, 0, 0, time.UTC).Unix(), posts[1].Time)
}

func TestRunAbortsOnCrossReferenceFailure(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	fetcher := newFakeFetcher()
	fetcher.set(base+"/prog/subject.txt", "Hello<>Bob<>icon<>100<>1<>x<>150\n")
	fetcher.set(base+"/json/prog/100/0-", `{"0": {"name": "Bob!abcdefghij", "com": "hi", "now": 1}}`)
	fetcher.set(base+"/read/prog/100/0", markupPage())
	events := &recordingEmitter{}

	cfg := Config{Format: board.FormatJSON, VerifyTrips: true, StrictCrossReference: true}
	res, err := newRunner(cfg, fetcher, st, events).Run(context.Background())
	require.ErrorIs(t, err, board.ErrCrossReference)
	require.Equal(t, progress.OutcomeFatal, res.Outcome)

	_, ok, err := st.Watermark(context.Background(), 100)
	require.NoError(t, err)
	require.False(t, ok)

	evts := events.snapshot()
	last := evts[len(evts)-1]
	require.Equal(t, progress.StageRunDone, last.Stage)
	require.Equal(t, progress.OutcomeFatal, last.Outcome)
	require.NotEmpty(t, last.Note)
}

func TestRunLenientCrossReferenceCountsError(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	fetcher := newFakeFetcher()
	fetcher.set(base+"/prog/subject.txt", "Hello<>Bob<>icon<>100<>1<>x<>150\n")
	fetcher.set(base+"/json/prog/100/0-", `{"0": {"name": "Bob!abcdefghij", "com": "hi", "now": 1}}`)
	fetcher.set(base+"/read/prog/100/0", markupPage())

	cfg := Config{Format: board.FormatJSON, VerifyTrips: true}
	res, err := newRunner(cfg, fetcher, st, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Errors)
	require.Equal(t, progress.OutcomePartial, res.Outcome)
}

func TestDryRunWritesNothing(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	fetcher := newFakeFetcher()
	fetcher.set(base+"/prog/subject.txt", "Hello<>Bob<>icon<>100<>3<>x<>150\n")
	events := &recordingEmitter{}

	res, err := newRunner(Config{Format: board.FormatJSON, DryRun: true}, fetcher, st, events).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Plan.Items, 1)
	require.Empty(t, events.snapshot())
	require.Zero(t, fetcher.count(base+"/json/prog/100/0-"))

	_, ok, err := st.Watermark(context.Background(), 100)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunRestrictionReportsNotUpdated(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	fetcher := newFakeFetcher()
	fetcher.set(base+"/prog/subject.txt", "Hello<>Bob<>icon<>100<>3<>x<>150\n")

	cfg := Config{Format: board.FormatJSON, Restrict: []int64{999}}
	res, err := newRunner(cfg, fetcher, st, nil).Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, res.Plan.Items)
	require.Equal(t, []int64{999}, res.Plan.NotUpdated)
}

func TestRunFailsWhenIndexUnreachable(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	_, err := newRunner(Config{Format: board.FormatJSON}, newFakeFetcher(), st, nil).Run(context.Background())
	require.ErrorIs(t, err, board.ErrFetch)
}

func newRunner(cfg Config, fetcher board.Fetcher, st board.Store, events progress.Emitter) *Runner {
	return New(cfg, board.NewEndpoints(base, "prog"), fetcher, st, nil, events, fakeClock{}, &seqIDs{}, nil)
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "prog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func jsonPosts(ids ...int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf(`"%d": {"name": "Anonymous", "com": "post %d", "now": %d}`, id, id, 1262401440+id)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func postHTML(id int64, author, trip, posted, body string) string {
	return fmt.Sprintf(`<h3><span class="postnum"><a href='javascript:quote(%d,"post1");'>%d</a> </span>`+
		`<span class="postinfo"><span class="namelabel"> Name: </span><span class="postername">%s</span>`+
		`<span class="postertrip">%s</span> : <span class="posterdate">%s</span> <span class="id"></span></span></h3>`+
		"\n<blockquote>\n\t<p>\n%s\n\t</p>\n</blockquote>\n",
		id, id, author, trip, posted, body)
}

func markupPage(posts ...string) string {
	return "<html><body><div class=\"thread\">\n" + strings.Join(posts, "") + "</div></body></html>\n"
}

type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	hits   map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{bodies: map[string]string{}, hits: map[string]int{}}
}

func (f *fakeFetcher) set(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[url] = body
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[url]
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[url]++
	body, ok := f.bodies[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s: 404", board.ErrFetch, url)
	}
	return []byte(body), nil
}

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Unix(1700000000, 0).UTC() }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("0190a6e0-0000-7000-8000-%012d", s.n), nil
}

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

func (r *recordingEmitter) stages() []progress.Stage {
	var out []progress.Stage
	for _, evt := range r.snapshot() {
		out = append(out, evt.Stage)
	}
	return out
}
