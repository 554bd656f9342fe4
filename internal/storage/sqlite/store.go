// Package sqlite implements the watermark store and run history on a single
// SQLite file through the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JakeFAU/boardscrape/internal/board"
)

const dsnPragmas = "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

// Store is the SQLite-backed watermark store. All access goes through a
// single connection, so the reconciler and the run history writer are
// serialized by database/sql.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens (creating if needed) the store at path and applies migrations.
// A file that exists but is not a SQLite database yields board.ErrCorruptStore.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := checkFormat(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := RunMigrations(path); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("store opened", zap.String("path", path))
	return &Store{db: db, path: path, logger: logger}, nil
}

func checkFormat(ctx context.Context, db *sql.DB) error {
	var version int
	err := db.QueryRowContext(ctx, "PRAGMA schema_version").Scan(&version)
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT:
			return fmt.Errorf("%w: %v", board.ErrCorruptStore, err)
		}
	}
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// Watermark implements board.WatermarkReader.
func (s *Store) Watermark(ctx context.Context, thread int64) (board.Watermark, bool, error) {
	wm := board.Watermark{Thread: thread}
	var title sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT title, last_post FROM threads WHERE thread = ?`, thread,
	).Scan(&title, &wm.LastPost)
	if errors.Is(err, sql.ErrNoRows) {
		return board.Watermark{}, false, nil
	}
	if err != nil {
		return board.Watermark{}, false, fmt.Errorf("query watermark: %w", err)
	}
	wm.Subject = title.String
	return wm, true, nil
}

// MaxPostID implements board.WatermarkReader.
func (s *Store) MaxPostID(ctx context.Context, thread int64) (int64, bool, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM posts WHERE thread = ?`, thread).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("query max post id: %w", err)
	}
	return id.Int64, id.Valid, nil
}

// ApplyBatch implements board.BatchWriter. The watermark record is created on
// first sight, posts are upserted, and last_post only ever moves forward.
func (s *Store) ApplyBatch(ctx context.Context, batch board.ResultBatch) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	item := batch.Item
	if _, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO threads (thread, title, last_post) VALUES (?, ?, 0)`,
		item.Thread, item.Subject,
	); err != nil {
		return fmt.Errorf("create watermark %d: %w", item.Thread, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO posts
		(thread, id, author, email, trip, time, body) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare post upsert: %w", err)
	}
	defer stmt.Close()
	for _, p := range batch.Posts {
		if _, err = stmt.ExecContext(ctx, item.Thread, p.ID, p.Author, p.Contact, p.Trip, p.Time, p.Body); err != nil {
			return fmt.Errorf("upsert post %d/%d: %w", item.Thread, p.ID, err)
		}
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE threads SET last_post = MAX(last_post, ?) WHERE thread = ?`,
		item.LastPost, item.Thread,
	); err != nil {
		return fmt.Errorf("advance watermark %d: %w", item.Thread, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit batch %d: %w", item.Thread, err)
	}
	return nil
}

// Posts returns the stored posts of thread ordered by id.
func (s *Store) Posts(ctx context.Context, thread int64) ([]board.Post, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, author, email, trip, time, body
		FROM posts WHERE thread = ? ORDER BY id`, thread)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var posts []board.Post
	for rows.Next() {
		p := board.Post{Thread: thread}
		var author, email, trip, body sql.NullString
		var ts sql.NullInt64
		if err := rows.Scan(&p.ID, &author, &email, &trip, &ts, &body); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		p.Author, p.Contact, p.Trip, p.Body = author.String, email.String, trip.String, body.String
		p.Time = ts.Int64
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}
