package extract

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/boardscrape/internal/board"
)

type postHeader struct {
	author  string
	trip    string
	contact string
}

// disambiguate recovers the author/tripcode split of ambiguous posts from
// the markup format. Headers are matched to posts by id, never by position.
func (s *Structured) disambiguate(
	ctx context.Context,
	item board.WorkItem,
	ambiguous []int64,
	posts []board.Post,
) error {
	sort.Slice(ambiguous, func(i, j int) bool { return ambiguous[i] < ambiguous[j] })
	url := s.endpoints.ReadPosts(item.Thread, ambiguous)
	if s.fetcher == nil {
		return fmt.Errorf("%w: no fetcher to verify tripcodes for thread %d", board.ErrFetch, item.Thread)
	}
	body, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return fmt.Errorf("%w: verify tripcodes for thread %d: %v", board.ErrFetch, item.Thread, err)
	}
	headers, err := parseHeaders(body)
	if err != nil {
		return fmt.Errorf("%w: verify tripcodes for thread %d: %v", board.ErrParse, item.Thread, err)
	}

	byID := make(map[int64]int, len(posts))
	for i, p := range posts {
		byID[p.ID] = i
	}
	for _, id := range ambiguous {
		h, ok := headers[id]
		if !ok {
			if s.cfg.StrictCrossReference {
				return fmt.Errorf("%w: %s post %d", board.ErrCrossReference, url, id)
			}
			return fmt.Errorf("%w: %s post %d", board.ErrParse, url, id)
		}
		idx := byID[id]
		posts[idx].Author = h.author
		posts[idx].Trip = h.trip
		if h.contact != "" {
			posts[idx].Contact = h.contact
		}
	}
	s.logger.Debug("tripcodes verified",
		zap.Int64("thread", item.Thread),
		zap.Int("ambiguous", len(ambiguous)),
	)
	return nil
}

// parseHeaders indexes every post header of a markup page by post id.
// goquery locates the headers; the author and tripcode are then taken raw
// with the markup grammar so both formats store the same text.
func parseHeaders(page []byte) (map[int64]postHeader, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	present := make(map[int64]struct{})
	doc.Find("h3").Each(func(_ int, h *goquery.Selection) {
		idText := strings.TrimSpace(h.Find("span.postnum a").First().Text())
		if id, err := strconv.ParseInt(idText, 10, 64); err == nil {
			present[id] = struct{}{}
		}
	})

	headers := make(map[int64]postHeader, len(present))
	for _, m := range headerPattern.FindAllStringSubmatch(clean(string(page)), -1) {
		if m[1] != m[2] {
			continue
		}
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		if _, ok := present[id]; !ok {
			continue
		}
		if _, seen := headers[id]; seen {
			continue
		}
		author, trip, contact := splitContact(m[3], m[4])
		headers[id] = postHeader{author: author, trip: trip, contact: contact}
	}
	return headers, nil
}
