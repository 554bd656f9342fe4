package board

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxBatchedPosts is the largest number of post ids requested in a single
// comma-joined markup URL; larger sets fetch the whole thread instead.
const MaxBatchedPosts = 200

// Endpoints builds board URLs for the index and both content formats.
type Endpoints struct {
	base  string
	board string
}

// NewEndpoints normalizes baseURL and board name. A base URL without scheme
// gets http://, trailing slashes are trimmed, and the board is wrapped in
// slashes ("prog" becomes "/prog/").
func NewEndpoints(baseURL, boardName string) Endpoints {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base != "" && !strings.Contains(base, "://") {
		base = "http://" + base
	}
	name := strings.TrimSpace(boardName)
	if name != "" {
		if !strings.HasPrefix(name, "/") {
			name = "/" + name
		}
		if !strings.HasSuffix(name, "/") {
			name += "/"
		}
	}
	return Endpoints{base: base, board: name}
}

// Board returns the normalized board path, e.g. "/prog/".
func (e Endpoints) Board() string {
	return e.board
}

// BoardName returns the board name without slashes, e.g. "prog".
func (e Endpoints) BoardName() string {
	return strings.Trim(e.board, "/")
}

// SubjectIndex returns the URL of the remote thread index.
func (e Endpoints) SubjectIndex() string {
	return e.base + e.board + "subject.txt"
}

// JSONThread returns the structured-format URL for thread starting at offset.
func (e Endpoints) JSONThread(thread, offset int64) string {
	return fmt.Sprintf("%s/json%s%d/%d-", e.base, e.board, thread, offset)
}

// ReadThread returns the markup-format URL for thread starting at offset.
func (e Endpoints) ReadThread(thread, offset int64) string {
	return fmt.Sprintf("%s/read%s%d/%d-", e.base, e.board, thread, offset)
}

// ReadPosts returns the markup-format URL listing the given post ids. When the
// set is MaxBatchedPosts or larger the whole thread is requested.
func (e Endpoints) ReadPosts(thread int64, ids []int64) string {
	u := fmt.Sprintf("%s/read%s%d/", e.base, e.board, thread)
	if len(ids) == 0 || len(ids) >= MaxBatchedPosts {
		return u
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return u + strings.Join(parts, ",")
}
