// Package timeline extracts reply candidates from the live search page.
package timeline

import (
	"time"

	"replybot/internal/browser"
)

// Candidate is one discovered post eligible for reply evaluation. The id is
// the only stable identity; Element is borrowed from the browser for the
// current cycle and must not outlive it.
type Candidate struct {
	ID        int64
	Author    string
	CreatedAt time.Time
	Text      string
	Element   browser.Element
}

// SeenSet records ids observed during this process lifetime so visible rows
// are not re-evaluated every cycle. It is in-memory only and resets on
// restart; only the scan worker touches it, so it needs no locking.
type SeenSet struct {
	ids map[int64]struct{}
}

// NewSeenSet returns an empty set.
func NewSeenSet() *SeenSet {
	return &SeenSet{ids: make(map[int64]struct{})}
}

// Contains reports whether id was already observed.
func (s *SeenSet) Contains(id int64) bool {
	_, ok := s.ids[id]
	return ok
}

// Add marks id as observed. Adding an existing id is a no-op.
func (s *SeenSet) Add(id int64) {
	s.ids[id] = struct{}{}
}

// Len returns the number of observed ids.
func (s *SeenSet) Len() int {
	return len(s.ids)
}
