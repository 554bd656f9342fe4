package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/boardscrape/internal/store"
)

var _ store.RunRepository = (*Store)(nil)

// StartRun implements store.RunRepository.
func (s *Store) StartRun(ctx context.Context, id uuid.UUID, boardName string, startedAt time.Time, threadsPlanned int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, board, started_at, status, threads_planned)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET threads_planned = excluded.threads_planned`,
		id.String(), boardName, startedAt.UnixMilli(), string(store.RunRunning), threadsPlanned,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// CompleteRun implements store.RunRepository.
func (s *Store) CompleteRun(ctx context.Context, id uuid.UUID, done store.RunCompletion) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, status = ?, batches_applied = ?, errors = ?, note = ?
		WHERE id = ?`,
		done.FinishedAt.UnixMilli(), string(done.Status), done.BatchesApplied, done.Errors, done.Note, id.String(),
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

const runColumns = `id, board, started_at, finished_at, status, threads_planned, batches_applied, errors, note`

// GetRun implements store.RunRepository.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (store.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id.String())
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns implements store.RunRepository.
func (s *Store) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	var filter any
	if status != nil {
		filter = string(*status)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs
		WHERE (? IS NULL OR status = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?`, filter, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (store.Run, error) {
	var (
		run        store.Run
		id         string
		status     string
		startedAt  int64
		finishedAt sql.NullInt64
		note       sql.NullString
	)
	if err := row.Scan(&id, &run.Board, &startedAt, &finishedAt, &status,
		&run.ThreadsPlanned, &run.BatchesApplied, &run.Errors, &note); err != nil {
		return store.Run{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return store.Run{}, fmt.Errorf("parse run id %q: %w", id, err)
	}
	run.ID = parsed
	run.Status = store.RunStatus(status)
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64).UTC()
		run.FinishedAt = &t
	}
	if note.Valid {
		run.Note = &note.String
	}
	return run, nil
}
