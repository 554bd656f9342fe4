package app_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/boardscrape/internal/app"
	"github.com/JakeFAU/boardscrape/internal/board"
	"github.com/JakeFAU/boardscrape/internal/config"
	"github.com/JakeFAU/boardscrape/internal/store"
)

func newBoardServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/prog/subject.txt", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Lisp macros<>Bob<>icon<>100<>2<>x<>150\n"))
	})
	mux.HandleFunc("/json/prog/100/0-", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{
			"0": {"name": "Anonymous", "com": "lisp is great<br/>really", "now": 1262401440},
			"1": {"name": "<a href=\"mailto:sage\">Bob</a>", "com": "agreed", "now": 1262401500}
		}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Board:    config.BoardConfig{BaseURL: baseURL, Name: "prog", Charset: "utf-8", Timezone: "UTC", UserAgent: "boardscrape-test"},
		Scrape:   config.ScrapeConfig{Format: "json", VerifyTrips: true, FilterDeleted: true, StrictCrossReference: true},
		HTTP:     config.HTTPConfig{TimeoutSeconds: 5, Burst: 1},
		Store:    config.StoreConfig{Driver: config.DriverSQLite, Path: filepath.Join(dir, "prog.db")},
		Index:    config.IndexConfig{Dir: filepath.Join(dir, "index")},
		Progress: config.ProgressConfig{Mode: "log"},
	}
}

func TestAppScrapesIntoStoreAndIndex(t *testing.T) {
	t.Parallel()

	srv := newBoardServer(t)
	cfg := testConfig(t, srv.URL)
	var console bytes.Buffer
	a, err := app.New(context.Background(), app.Options{
		Config:     cfg,
		Logger:     zap.NewNop(),
		Console:    &console,
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	res, err := a.Runner(nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Applied)
	require.Equal(t, int64(2), res.Posts)
	require.Equal(t, board.FormatJSON, res.Format)

	wm, ok, err := a.Store().Watermark(context.Background(), 100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Lisp macros", wm.Subject)

	hits, err := a.Index().Search(context.Background(), "lisp", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.EqualValues(t, 0, hits[0].Post)

	require.Eventually(t, func() bool {
		runs, err := a.Store().ListRuns(context.Background(), nil, 10, 0)
		return err == nil && len(runs) == 1 && runs[0].Status == store.RunSuccess
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, a.Close(context.Background()))
	out := console.String()
	require.Contains(t, out, "1 thread to update (approx. 2 posts).")
	require.Contains(t, out, "[1/1] Done thread 100.")
	require.Contains(t, out, "All done! Finished with 0 errors.")
	require.FileExists(t, filepath.Join(cfg.Index.Dir, "prog.db.fts"))
}

func TestAppDryRunLeavesStoreEmpty(t *testing.T) {
	t.Parallel()

	srv := newBoardServer(t)
	cfg := testConfig(t, srv.URL)
	cfg.Scrape.DryRun = true
	cfg.Index.Dir = ""
	a, err := app.New(context.Background(), app.Options{Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	require.Nil(t, a.Index())

	res, err := a.Runner(nil).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Plan.Items, 1)

	_, ok, err := a.Store().Watermark(context.Background(), 100)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAppRejectsCorruptStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1")
	require.NoError(t, os.WriteFile(cfg.Store.Path, []byte("this is not a database, just some text padding it out"), 0o600))

	_, err := app.New(context.Background(), app.Options{Config: cfg})
	require.ErrorIs(t, err, board.ErrCorruptStore)
}
