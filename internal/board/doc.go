// Package board defines the core types and collaborator interfaces shared by
// the incremental scrape pipeline: thread summaries, watermarks, posts, work
// items, result batches, and the store/fetcher/indexer contracts.
package board
