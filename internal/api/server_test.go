package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/boardscrape/internal/store"
)

func newTestServer(t *testing.T, repo store.RunRepository) *httptest.Server {
	t.Helper()
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	srv := httptest.NewServer(NewServer(repo, metricsHandler, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestServerHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &mockRunRepo{})
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestServerKeepsCallerRequestID(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &mockRunRepo{})
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))
}

func TestServerMetrics(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &mockRunRepo{})
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerRoutesRuns(t *testing.T) {
	t.Parallel()

	runID := uuid.Must(uuid.NewV7())
	srv := newTestServer(t, &mockRunRepo{runs: []store.Run{{ID: runID, Status: store.RunSuccess}}})

	resp, err := http.Get(srv.URL + "/v1/runs")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/runs/" + runID.String())
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/runs/not-a-uuid")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerUnknownRoute(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &mockRunRepo{})
	resp, err := http.Get(srv.URL + "/v1/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
