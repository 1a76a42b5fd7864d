package timeline

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"replybot/internal/browser"
	"replybot/internal/stats"
	"replybot/internal/store"
)

// Selectors for the search timeline rows.
const (
	rowSelector       = "article"
	permalinkSelector = "a[href*='/status/']"
	timeSelector      = "time"
)

// scrollStep is how far each scan scrolls to coax new rows into the DOM.
const scrollStep = 1000

// Scanner extracts unseen, sufficiently recent candidates from the current
// page state without reloading it.
type Scanner struct {
	page   browser.Page
	maxAge time.Duration
	stats  *stats.Stats
	log    *zap.Logger
	now    func() time.Time
}

// NewScanner builds a scanner. maxAge bounds candidate recency; anything
// strictly older is discarded as aged out.
func NewScanner(page browser.Page, maxAge time.Duration, st *stats.Stats, log *zap.Logger) *Scanner {
	return &Scanner{page: page, maxAge: maxAge, stats: st, log: log, now: time.Now}
}

// Scan walks the visible rows and returns new candidates plus the number of
// rows inspected this pass, marking every row with a parseable id as seen
// exactly once so stale rows are not reprocessed next cycle. It finishes
// with a light scroll to surface more content.
func (s *Scanner) Scan(seen *SeenSet, replied *store.RepliedStore) ([]Candidate, int) {
	rows, err := s.page.FindAll(rowSelector)
	if err != nil {
		s.log.Warn("scan: row query failed", zap.Error(err))
		return nil, 0
	}
	s.stats.Add(stats.Found, int64(len(rows)))
	s.stats.Set(stats.FoundLast, int64(len(rows)))

	var candidates []Candidate
	for _, row := range rows {
		id, author, ok := parsePermalink(row)
		if !ok {
			continue
		}
		if seen.Contains(id) || replied.Contains(id) {
			continue
		}
		seen.Add(id)

		createdAt, ok := parseCreatedAt(row)
		if !ok {
			continue
		}
		if s.now().Sub(createdAt) > s.maxAge {
			s.stats.Inc(stats.AgedOut)
			continue
		}

		text, err := row.Text()
		if err != nil {
			s.log.Debug("scan: text read failed", zap.Int64("id", id), zap.Error(err))
			continue
		}

		candidates = append(candidates, Candidate{
			ID:        id,
			Author:    author,
			CreatedAt: createdAt,
			Text:      text,
			Element:   row,
		})
	}

	if err := s.page.Scroll(scrollStep); err != nil {
		s.log.Debug("scan: scroll failed", zap.Error(err))
	}
	return candidates, len(rows)
}

// parsePermalink reads the row's status link and extracts the post id and
// author handle from an href shaped like /<author>/status/<id>.
func parsePermalink(row browser.Element) (id int64, author string, ok bool) {
	link, found := row.Find(permalinkSelector)
	if !found {
		return 0, "", false
	}
	href, found := link.Attribute("href")
	if !found || href == "" {
		return 0, "", false
	}

	parts := strings.Split(href, "/")
	if len(parts) < 2 {
		return 0, "", false
	}
	id, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, parts[1], true
}

// parseCreatedAt reads the machine-readable timestamp off the row's time
// element.
func parseCreatedAt(row browser.Element) (time.Time, bool) {
	tm, found := row.Find(timeSelector)
	if !found {
		return time.Time{}, false
	}
	raw, found := tm.Attribute("datetime")
	if !found || raw == "" {
		return time.Time{}, false
	}
	created, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return created.UTC(), true
}

// Prioritize orders candidates newest first. The sort is stable: equal
// timestamps keep their scan-discovery order.
func Prioritize(candidates []Candidate) []Candidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	return candidates
}
