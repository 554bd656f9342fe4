// Package fts is the full-text indexing collaborator: a SQLite FTS5 index of
// scrubbed posts kept next to the watermark store.
package fts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the sqlite driver

	"github.com/JakeFAU/boardscrape/internal/board"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS docs (
		id INTEGER PRIMARY KEY,
		thread INTEGER NOT NULL,
		post INTEGER NOT NULL,
		author TEXT,
		email TEXT,
		trip TEXT,
		time INTEGER,
		body TEXT,
		UNIQUE (thread, post)
	)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS docs_fts USING fts5(
		author, body, content='docs', content_rowid='id'
	)`,
	`CREATE TRIGGER IF NOT EXISTS docs_ai AFTER INSERT ON docs BEGIN
		INSERT INTO docs_fts (rowid, author, body) VALUES (new.id, new.author, new.body);
	END`,
	`CREATE TRIGGER IF NOT EXISTS docs_ad AFTER DELETE ON docs BEGIN
		INSERT INTO docs_fts (docs_fts, rowid, author, body) VALUES ('delete', old.id, old.author, old.body);
	END`,
	`CREATE TRIGGER IF NOT EXISTS docs_au AFTER UPDATE ON docs BEGIN
		INSERT INTO docs_fts (docs_fts, rowid, author, body) VALUES ('delete', old.id, old.author, old.body);
		INSERT INTO docs_fts (rowid, author, body) VALUES (new.id, new.author, new.body);
	END`,
}

// Hit is one search result.
type Hit struct {
	Thread  int64
	Post    int64
	Author  string
	Trip    string
	Time    time.Time
	Snippet string
}

// Index is a SQLite FTS5 document index. It satisfies board.Indexer.
type Index struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

var _ board.Indexer = (*Index)(nil)

// FileName returns the index file name derived from the store path.
func FileName(storePath string) string {
	return filepath.Base(storePath) + ".fts"
}

// Open opens or creates the index named name inside dir. The directory is
// created if missing.
func Open(ctx context.Context, dir, name string, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	path := filepath.Join(dir, name)
	_, statErr := os.Stat(path)
	created := errors.Is(statErr, os.ErrNotExist)

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create index schema: %w", err)
		}
	}
	if created {
		logger.Info("created new index", zap.String("dir", dir), zap.String("path", path))
	}
	return &Index{db: db, path: path, logger: logger}, nil
}

// Path returns the index file path.
func (ix *Index) Path() string {
	return ix.path
}

// Close closes the index database.
func (ix *Index) Close() error {
	if err := ix.db.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	return nil
}

// Writer implements board.Indexer. Each writer is one transaction.
func (ix *Index) Writer(ctx context.Context) (board.IndexWriter, error) {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin index writer: %w", err)
	}
	return &writer{tx: tx}, nil
}

type writer struct {
	tx *sql.Tx
}

func (w *writer) AddDocument(ctx context.Context, doc board.Document) error {
	_, err := w.tx.ExecContext(ctx, `
		INSERT INTO docs (thread, post, author, email, trip, time, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (thread, post) DO UPDATE SET
			author = excluded.author,
			email = excluded.email,
			trip = excluded.trip,
			time = excluded.time,
			body = excluded.body`,
		doc.Thread, doc.Post, doc.Author, doc.Contact, doc.Trip, doc.Time.Unix(), doc.Body,
	)
	if err != nil {
		return fmt.Errorf("index post %d/%d: %w", doc.Thread, doc.Post, err)
	}
	return nil
}

func (w *writer) Commit() error {
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("commit index: %w", err)
	}
	return nil
}

func (w *writer) Rollback() error {
	if err := w.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback index: %w", err)
	}
	return nil
}

// Search runs a free-text query and returns up to limit hits ordered by rank.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	match := BuildQuery(query)
	if match == "" {
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := ix.db.QueryContext(ctx, `
		SELECT d.thread, d.post, COALESCE(d.author, ''), COALESCE(d.trip, ''), COALESCE(d.time, 0),
		       snippet(docs_fts, 1, '[', ']', '...', 12)
		FROM docs d
		JOIN docs_fts ON d.id = docs_fts.rowid
		WHERE docs_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var (
			h  Hit
			ts int64
		)
		if err := rows.Scan(&h.Thread, &h.Post, &h.Author, &h.Trip, &ts, &h.Snippet); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		h.Time = time.Unix(ts, 0)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	return hits, nil
}
