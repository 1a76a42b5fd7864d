package store

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// DecisionEntry is one line of the decision journal.
type DecisionEntry struct {
	TS      string           `json:"ts"`
	PostID  int64            `json:"post_id"`
	Author  string           `json:"author"`
	AgeMin  int              `json:"age_min"`
	Action  string           `json:"action"`
	Reason  string           `json:"reason"`
	DurMs   map[string]int64 `json:"dur_ms,omitempty"`
	AILabel string           `json:"ai_label,omitempty"`
	AIConf  float64          `json:"ai_conf,omitempty"`
}

// CycleEntry is one line of the cycle journal.
type CycleEntry struct {
	TS            string `json:"ts"`
	Cycle         int    `json:"cycle"`
	Found         int    `json:"found"`
	NewCandidates int    `json:"new_candidates"`
	ScanCycleMs   int64  `json:"scan_cycle_ms"`
	Refreshed     bool   `json:"refreshed"`
}

// Journal appends line-delimited JSON records to a file. Records are never
// rewritten. A failed append is reported to the caller, who logs and moves
// on; journals are diagnostics, not state.
type Journal struct {
	path string
}

// NewJournal returns a journal writing to path.
func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// Append marshals v and appends it as one line.
func (j *Journal) Append(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// JournalTS formats a timestamp the way the journals expect.
func JournalTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
