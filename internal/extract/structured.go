package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/boardscrape/internal/board"
)

// Deleted-post sentinel values used by the structured interface.
const (
	deletedName = "SILENT!ABORN"
	deletedBody = "SILENT"
	deletedTime = "1234"
)

// StructuredConfig controls the structured-format extractor.
type StructuredConfig struct {
	// VerifyTrips re-fetches ambiguous names through the markup format.
	VerifyTrips bool
	// FilterDeleted drops the deleted-post sentinel record.
	FilterDeleted bool
	// StrictCrossReference makes a missing header in the markup fallback
	// fatal for the whole run instead of failing only the thread.
	StrictCrossReference bool
}

// Structured extracts posts from the JSON thread interface.
type Structured struct {
	cfg       StructuredConfig
	endpoints board.Endpoints
	fetcher   board.Fetcher
	logger    *zap.Logger
}

// NewStructured builds a structured-format extractor. fetcher is only used for
// tripcode verification requests.
func NewStructured(
	cfg StructuredConfig,
	endpoints board.Endpoints,
	fetcher board.Fetcher,
	logger *zap.Logger,
) *Structured {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Structured{
		cfg:       cfg,
		endpoints: endpoints,
		fetcher:   fetcher,
		logger:    logger,
	}
}

// Format implements board.Extractor.
func (s *Structured) Format() board.Format {
	return board.FormatJSON
}

// URL implements board.Extractor.
func (s *Structured) URL(item board.WorkItem) string {
	return s.endpoints.JSONThread(item.Thread, item.Offset)
}

// flexString accepts either a JSON string or a JSON number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type structuredPost struct {
	Name *string    `json:"name"`
	Com  string     `json:"com"`
	Now  flexString `json:"now"`
}

func (p structuredPost) name() string {
	if p.Name == nil {
		return ""
	}
	return *p.Name
}

func (p structuredPost) deleted() bool {
	return p.name() == deletedName && p.Com == deletedBody && string(p.Now) == deletedTime
}

// Extract implements board.Extractor.
func (s *Structured) Extract(ctx context.Context, item board.WorkItem, payload []byte) ([]board.Post, error) {
	var page map[string]structuredPost
	if err := json.Unmarshal(payload, &page); err != nil {
		return nil, fmt.Errorf("%w: thread %d: %v", board.ErrParse, item.Thread, err)
	}

	posts := make([]board.Post, 0, len(page))
	var ambiguous []int64
	for key, raw := range page {
		id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			s.logger.Warn("skipping post with non-numeric key",
				zap.Int64("thread", item.Thread),
				zap.String("key", key),
			)
			continue
		}
		if id < item.Offset {
			continue
		}
		if s.cfg.FilterDeleted && raw.deleted() {
			continue
		}
		parsed := ClassifyName(clean(raw.name()))
		if parsed.Shape == ShapeAmbiguous {
			ambiguous = append(ambiguous, id)
		}
		posts = append(posts, board.Post{
			Thread:  item.Thread,
			ID:      id,
			Author:  parsed.Name,
			Contact: parsed.Contact,
			Trip:    parsed.Trip,
			Time:    parseUnix(string(raw.Now)),
			Body:    clean(raw.Com),
		})
	}
	sortPosts(posts)

	if s.cfg.VerifyTrips && len(ambiguous) > 0 {
		if err := s.disambiguate(ctx, item, ambiguous, posts); err != nil {
			return nil, err
		}
	}
	return posts, nil
}

func parseUnix(raw string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
