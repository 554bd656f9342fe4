package extract

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/boardscrape/internal/board"
	"github.com/JakeFAU/boardscrape/internal/progress"
)

// MarkupTimeLayout is the display time format used in post headers.
const MarkupTimeLayout = "2006-01-02 15:04"

const postDelimiter = "</blockquote>"

const headerExpr = `<h3><span class="postnum"><a href='javascript:quote\((\d+),"post1"\);'>(\d+)</a> </span>` +
	`<span class="postinfo"><span class="namelabel"> Name: </span><span class="postername">(.*?)</span>` +
	`<span class="postertrip">(.*?)</span> : <span class="posterdate">(.*?)</span> <span class="id">.*?</span></span></h3>`

// The id is captured twice and compared after matching.
var (
	postPattern   = regexp.MustCompile(`(?s)` + headerExpr + `\n<blockquote>\n\t(?:<div class="aa">)?<p>\n(.*?)\n\t</p>(?:</div>)?\n`)
	headerPattern = regexp.MustCompile(`(?s)` + headerExpr)
)

var contactPattern = regexp.MustCompile(`^<a href="mailto:(.*?)">([^<]*)</a>`)

// Markup extracts posts from the HTML thread pages.
type Markup struct {
	endpoints board.Endpoints
	location  *time.Location
	tally     *board.Tally
	logger    *zap.Logger

	runID  [16]byte
	events progress.Emitter
	clock  board.Clock
}

// NewMarkup builds a markup-format extractor. Display times are interpreted
// in loc (time.Local when nil). Broken posts are reported to tally.
func NewMarkup(endpoints board.Endpoints, loc *time.Location, tally *board.Tally, logger *zap.Logger) *Markup {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Markup{
		endpoints: endpoints,
		location:  loc,
		tally:     tally,
		logger:    logger,
	}
}

// WithEvents makes m announce broken posts as thread errors on events.
func (m *Markup) WithEvents(runID [16]byte, events progress.Emitter, clock board.Clock) *Markup {
	m.runID = runID
	m.events = events
	m.clock = clock
	return m
}

// Format implements board.Extractor.
func (m *Markup) Format() board.Format {
	return board.FormatHTML
}

// URL implements board.Extractor.
func (m *Markup) URL(item board.WorkItem) string {
	return m.endpoints.ReadThread(item.Thread, item.Offset)
}

// Extract implements board.Extractor. A page with no parsable post at all is
// still a valid (empty) batch.
func (m *Markup) Extract(_ context.Context, item board.WorkItem, payload []byte) ([]board.Post, error) {
	segments := strings.Split(clean(string(payload)), postDelimiter)
	posts := make([]board.Post, 0, len(segments))
	broken := 0
	for i, segment := range segments {
		post, ok := m.parseSegment(item.Thread, segment)
		if !ok {
			// The last segment is the page trailer.
			if i < len(segments)-1 {
				broken++
			}
			continue
		}
		if post.ID < item.Offset {
			continue
		}
		posts = append(posts, post)
	}
	if broken > 0 {
		m.reportBroken(item.Thread, broken)
	}
	sortPosts(posts)
	return posts, nil
}

func (m *Markup) reportBroken(thread int64, segments int) {
	m.tally.Report("broken post in thread",
		zap.Int64("thread", thread),
		zap.Int("segments", segments),
	)
	if m.events == nil {
		return
	}
	ts := time.Now().UTC()
	if m.clock != nil {
		ts = m.clock.Now()
	}
	m.events.Emit(progress.Event{
		RunID:  m.runID,
		TS:     ts,
		Stage:  progress.StageThreadError,
		Thread: thread,
		Note:   fmt.Sprintf("broken post in thread %d", thread),
	})
}

func (m *Markup) parseSegment(thread int64, segment string) (board.Post, bool) {
	match := postPattern.FindStringSubmatch(segment)
	if match == nil || match[1] != match[2] {
		return board.Post{}, false
	}
	id, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return board.Post{}, false
	}
	posted, err := time.ParseInLocation(MarkupTimeLayout, strings.TrimSpace(match[5]), m.location)
	if err != nil {
		m.logger.Debug("unparsable post time",
			zap.Int64("thread", thread),
			zap.Int64("post", id),
			zap.String("time", match[5]),
		)
		return board.Post{}, false
	}

	author, trip, contact := splitContact(match[3], match[4])
	return board.Post{
		Thread:  thread,
		ID:      id,
		Author:  author,
		Contact: contact,
		Trip:    trip,
		Time:    posted.Unix(),
		Body:    match[6],
	}, true
}

// splitContact unwraps a mailto link around the author or the tripcode.
// Only one contact is kept and the author link wins.
func splitContact(author, trip string) (string, string, string) {
	if mm := contactPattern.FindStringSubmatch(author); mm != nil {
		return mm[2], trip, mm[1]
	}
	if mm := contactPattern.FindStringSubmatch(trip); mm != nil {
		return author, mm[2], mm[1]
	}
	return author, trip, ""
}
