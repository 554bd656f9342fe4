package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/boardscrape/internal/store"
)

type exampleRunRepo struct {
	runs []store.Run
}

func (e *exampleRunRepo) StartRun(context.Context, uuid.UUID, string, time.Time, int) error {
	return nil
}

func (e *exampleRunRepo) CompleteRun(context.Context, uuid.UUID, store.RunCompletion) error {
	return nil
}

func (e *exampleRunRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return e.runs[0], nil
}

func (e *exampleRunRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return e.runs, nil
}

// ExampleRunHandler_ListRuns shows how to serve the /v1/runs endpoint.
func ExampleRunHandler_ListRuns() {
	repo := &exampleRunRepo{
		runs: []store.Run{{
			ID:        uuid.MustParse("00000000-0000-7000-8000-0000000000aa"),
			Board:     "/prog/",
			Status:    store.RunSuccess,
			StartedAt: time.Unix(0, 0),
		}},
	}
	handler := NewRunHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?limit=1", nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, req)

	var payload struct {
		Runs []map[string]any `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		panic(err)
	}
	fmt.Printf("returned runs: %d, board %s\n", len(payload.Runs), payload.Runs[0]["board"])
	// Output:
	// returned runs: 1, board /prog/
}
