// Package planner diffs the remote thread index against the watermark store
// and produces the work plan for a run.
package planner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/boardscrape/internal/board"
)

// Fields: subject, creator, icon, thread id, replies, unused, last post.
var subjectLine = regexp.MustCompile(`^(.*)<>.*?<>.*?<>(-?\d*)<>(\d*)<>.*?<>(\d*)\n?$`)

// Plan is the outcome of a planning pass.
type Plan struct {
	Items []board.WorkItem
	// EstimatedPosts approximates the number of posts the plan will fetch.
	EstimatedPosts int
	// NotUpdated lists restricted thread ids that produced no work item,
	// either because they are missing from the index or already up to date.
	NotUpdated []int64
	// Skipped counts index lines that could not be parsed.
	Skipped int
}

// Planner builds work plans.
type Planner struct {
	fetcher   board.Fetcher
	store     board.WatermarkReader
	endpoints board.Endpoints
	logger    *zap.Logger
}

// New constructs a Planner.
func New(fetcher board.Fetcher, store board.WatermarkReader, endpoints board.Endpoints, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		fetcher:   fetcher,
		store:     store,
		endpoints: endpoints,
		logger:    logger,
	}
}

// Plan fetches the remote index and diffs it against the store. When restrict
// is non-empty only those thread ids are considered. Plan never writes to the
// store.
func (p *Planner) Plan(ctx context.Context, restrict []int64) (Plan, error) {
	url := p.endpoints.SubjectIndex()
	p.logger.Info("fetching thread index", zap.String("url", url))
	payload, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: thread index %s: %v", board.ErrFetch, url, err)
	}
	return p.Diff(ctx, payload, restrict)
}

// Diff computes the plan for an already fetched index payload.
func (p *Planner) Diff(ctx context.Context, payload []byte, restrict []int64) (Plan, error) {
	var wanted map[int64]bool
	if len(restrict) > 0 {
		wanted = make(map[int64]bool, len(restrict))
		for _, id := range restrict {
			wanted[id] = true
		}
	}

	var plan Plan
	planned := make(map[int64]bool)
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		summary, err := ParseLine(line)
		if err != nil {
			plan.Skipped++
			p.logger.Warn("skipping unparsable index line", zap.String("line", line), zap.Error(err))
			continue
		}
		if wanted != nil && !wanted[summary.ID] {
			continue
		}
		if planned[summary.ID] {
			continue
		}

		item, ok, err := p.diffThread(ctx, summary)
		if err != nil {
			return Plan{}, err
		}
		if !ok {
			continue
		}
		planned[summary.ID] = true
		plan.Items = append(plan.Items, item)
		if n := item.Replies - int(item.Offset); n > 0 {
			plan.EstimatedPosts += n
		}
	}
	if err := scanner.Err(); err != nil {
		return Plan{}, fmt.Errorf("%w: read thread index: %v", board.ErrParse, err)
	}

	for _, id := range restrict {
		if !planned[id] && !slices.Contains(plan.NotUpdated, id) {
			plan.NotUpdated = append(plan.NotUpdated, id)
		}
	}
	return plan, nil
}

func (p *Planner) diffThread(ctx context.Context, summary board.ThreadSummary) (board.WorkItem, bool, error) {
	item := board.WorkItem{
		Thread:   summary.ID,
		Subject:  summary.Subject,
		LastPost: summary.LastPost,
		Replies:  summary.Replies,
	}
	wm, known, err := p.store.Watermark(ctx, summary.ID)
	if err != nil {
		return board.WorkItem{}, false, fmt.Errorf("read watermark for thread %d: %w", summary.ID, err)
	}
	if !known {
		return item, true, nil
	}
	if summary.LastPost <= wm.LastPost {
		return board.WorkItem{}, false, nil
	}
	maxID, ok, err := p.store.MaxPostID(ctx, summary.ID)
	if err != nil {
		return board.WorkItem{}, false, fmt.Errorf("read max post id for thread %d: %w", summary.ID, err)
	}
	if ok {
		item.Offset = maxID + 1
	}
	return item, true, nil
}

// ParseLine parses one line of the remote thread index.
func ParseLine(line string) (board.ThreadSummary, error) {
	m := subjectLine.FindStringSubmatch(line)
	if m == nil {
		return board.ThreadSummary{}, fmt.Errorf("%w: malformed index line", board.ErrParse)
	}
	id, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return board.ThreadSummary{}, fmt.Errorf("%w: thread id %q", board.ErrParse, m[2])
	}
	replies, err := strconv.Atoi(m[3])
	if err != nil {
		return board.ThreadSummary{}, fmt.Errorf("%w: reply count %q", board.ErrParse, m[3])
	}
	lastPost, err := strconv.ParseInt(m[4], 10, 64)
	if err != nil {
		return board.ThreadSummary{}, fmt.Errorf("%w: last post %q", board.ErrParse, m[4])
	}
	return board.ThreadSummary{
		ID:       id,
		Subject:  strings.ToValidUTF8(m[1], "�"),
		Replies:  replies,
		LastPost: lastPost,
	}, nil
}
