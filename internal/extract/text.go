package extract

import (
	"sort"
	"strings"

	"github.com/JakeFAU/boardscrape/internal/board"
)

const replacementChar = "�"

// clean substitutes undecodable byte sequences left over after transcoding.
func clean(s string) string {
	return strings.ToValidUTF8(s, replacementChar)
}

func sortPosts(posts []board.Post) {
	sort.Slice(posts, func(i, j int) bool {
		return posts[i].ID < posts[j].ID
	})
}
