package board

// Format selects which wire format the workers extract posts from.
type Format string

// Supported thread content formats.
const (
	FormatJSON Format = "json"
	FormatHTML Format = "html"
)

// ThreadSummary is one parsed line of the remote thread index. It only lives
// for the duration of a planning pass.
type ThreadSummary struct {
	ID       int64
	Subject  string
	Replies  int
	LastPost int64
}

// Watermark is the persisted sync state of a thread.
type Watermark struct {
	Thread   int64
	Subject  string
	LastPost int64
}

// Post is a normalized post record keyed by (Thread, ID).
type Post struct {
	Thread  int64
	ID      int64
	Author  string
	Contact string
	Trip    string
	Time    int64
	Body    string
}

// WorkItem is a single thread fetch produced by the planner.
type WorkItem struct {
	Thread int64
	// Subject is carried so the reconciler can create the watermark record
	// for threads seen for the first time.
	Subject string
	// LastPost is the remote last-post time from the index; the watermark is
	// advanced to this value once the batch is reconciled.
	LastPost int64
	// Offset is the lowest post id still missing locally.
	Offset int64
	// Replies is the reply count reported by the index.
	Replies int
}

// ResultBatch is the output of one worker for one WorkItem.
type ResultBatch struct {
	Item  WorkItem
	Posts []Post
}

// Thread returns the thread identifier of the batch.
func (b ResultBatch) Thread() int64 {
	return b.Item.Thread
}
