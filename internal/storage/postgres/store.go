// Package postgres provides the Postgres-backed watermark store and run
// history for deployments that share one archive between hosts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/boardscrape/internal/board"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// SkipMigrations leaves the schema untouched on Open.
	SkipMigrations bool
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements board.Store and store.RunRepository on Postgres.
type Store struct {
	pool pool
}

// Open migrates the schema and connects a pool.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if !cfg.SkipMigrations {
		if err := RunMigrations(cfg.DSN); err != nil {
			return nil, err
		}
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Watermark implements board.WatermarkReader.
func (s *Store) Watermark(ctx context.Context, thread int64) (board.Watermark, bool, error) {
	wm := board.Watermark{Thread: thread}
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(title, ''), last_post FROM threads WHERE thread = $1`, thread,
	).Scan(&wm.Subject, &wm.LastPost)
	if errors.Is(err, pgx.ErrNoRows) {
		return board.Watermark{}, false, nil
	}
	if err != nil {
		return board.Watermark{}, false, fmt.Errorf("query watermark: %w", err)
	}
	return wm, true, nil
}

// MaxPostID implements board.WatermarkReader.
func (s *Store) MaxPostID(ctx context.Context, thread int64) (int64, bool, error) {
	var (
		ok bool
		id int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(id) IS NOT NULL, COALESCE(MAX(id), 0) FROM posts WHERE thread = $1`, thread,
	).Scan(&ok, &id)
	if err != nil {
		return 0, false, fmt.Errorf("query max post id: %w", err)
	}
	return id, ok, nil
}

const upsertPost = `
	INSERT INTO posts (thread, id, author, email, trip, time, body)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (thread, id) DO UPDATE SET
		author = EXCLUDED.author,
		email = EXCLUDED.email,
		trip = EXCLUDED.trip,
		time = EXCLUDED.time,
		body = EXCLUDED.body`

// ApplyBatch implements board.BatchWriter.
func (s *Store) ApplyBatch(ctx context.Context, batch board.ResultBatch) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	item := batch.Item
	if _, err = tx.Exec(ctx,
		`INSERT INTO threads (thread, title, last_post) VALUES ($1, $2, 0) ON CONFLICT (thread) DO NOTHING`,
		item.Thread, item.Subject,
	); err != nil {
		return fmt.Errorf("create watermark %d: %w", item.Thread, err)
	}
	for _, p := range batch.Posts {
		if _, err = tx.Exec(ctx, upsertPost, item.Thread, p.ID, p.Author, p.Contact, p.Trip, p.Time, p.Body); err != nil {
			return fmt.Errorf("upsert post %d/%d: %w", item.Thread, p.ID, err)
		}
	}
	if _, err = tx.Exec(ctx,
		`UPDATE threads SET last_post = GREATEST(last_post, $1) WHERE thread = $2`,
		item.LastPost, item.Thread,
	); err != nil {
		return fmt.Errorf("advance watermark %d: %w", item.Thread, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch %d: %w", item.Thread, err)
	}
	return nil
}
