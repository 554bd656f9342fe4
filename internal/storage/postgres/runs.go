package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/boardscrape/internal/store"
)

var _ store.RunRepository = (*Store)(nil)

// StartRun inserts or refreshes a running run row.
func (s *Store) StartRun(ctx context.Context, id uuid.UUID, boardName string, startedAt time.Time, threadsPlanned int) error {
	query := `
		INSERT INTO runs (id, board, started_at, status, threads_planned)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET threads_planned = EXCLUDED.threads_planned;
	`
	if _, err := s.pool.Exec(ctx, query, id, boardName, startedAt, string(store.RunRunning), threadsPlanned); err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished with its final counters.
func (s *Store) CompleteRun(ctx context.Context, id uuid.UUID, done store.RunCompletion) error {
	query := `
		UPDATE runs
		SET finished_at = $1, status = $2, batches_applied = $3, errors = $4, note = $5
		WHERE id = $6;
	`
	tag, err := s.pool.Exec(ctx, query,
		done.FinishedAt, string(done.Status), done.BatchesApplied, done.Errors, done.Note, id)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const runColumns = `id, board, started_at, finished_at, status, threads_planned, batches_applied, errors, note`

// GetRun retrieves a single run by its ID.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (store.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1;`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *Store) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	query := `SELECT ` + runColumns + `
		FROM runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.Board,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.ThreadsPlanned,
		&run.BatchesApplied,
		&run.Errors,
		&run.Note,
	)
	if err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
