package board

import (
	"context"
	"time"
)

// Fetcher retrieves raw payloads from the board. Bodies are returned as UTF-8
// text already transcoded from the board charset.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// WatermarkReader is the read side of the persisted store used by the planner.
type WatermarkReader interface {
	// Watermark returns the stored watermark for thread, or ok=false.
	Watermark(ctx context.Context, thread int64) (wm Watermark, ok bool, err error)
	// MaxPostID returns the highest stored post id for thread, or ok=false.
	MaxPostID(ctx context.Context, thread int64) (id int64, ok bool, err error)
}

// BatchWriter is the write side of the persisted store. ApplyBatch creates the
// watermark record if needed, upserts every post, and advances the watermark
// to batch.Item.LastPost in a single transaction.
type BatchWriter interface {
	ApplyBatch(ctx context.Context, batch ResultBatch) error
}

// Store combines the read and write contracts of the watermark store.
type Store interface {
	WatermarkReader
	BatchWriter
	Close() error
}

// Document is a scrubbed post handed to the indexing collaborator.
type Document struct {
	Thread  int64
	Post    int64
	Author  string
	Contact string
	Trip    string
	Time    time.Time
	Body    string
}

// Indexer opens one writer session per reconciled batch.
type Indexer interface {
	Writer(ctx context.Context) (IndexWriter, error)
}

// IndexWriter accumulates documents until Commit. Rollback discards them and
// is a no-op after Commit.
type IndexWriter interface {
	AddDocument(ctx context.Context, doc Document) error
	Commit() error
	Rollback() error
}

// Extractor turns a raw thread payload into posts at or above item.Offset.
// URL names the payload the worker must fetch for item; Extract may issue
// further requests of its own (tripcode verification).
type Extractor interface {
	Format() Format
	URL(item WorkItem) string
	Extract(ctx context.Context, item WorkItem, payload []byte) ([]Post, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
