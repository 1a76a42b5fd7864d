// Package stats tracks process-lifetime counters and bounded rolling timing
// windows for the dashboard. It is purely observational; nothing in the
// pipeline reads it back for decisions.
package stats

import (
	"sync"
	"time"
)

// Counter keys used across the pipeline.
const (
	Found       = "found"
	FoundLast   = "found_last"
	Candidates  = "cand"
	Replied     = "replied"
	SkipKeyword = "skip_kata"
	SkipButton  = "skip_tombol"
	AgedOut     = "age"
	Ambiguous   = "ai_amb"
	AIFallback  = "ai_disabled"
	Duplicate   = "duplicate"
	NetError    = "net_error"
	ReplyClosed = "reply_closed"
	Captcha     = "captcha"
	RateLimit   = "rate"
)

// Timer keys.
const (
	TimerScanCycle = "scan_cycle"
	TimerClick     = "candidate_to_click"
	TimerComposer  = "click_to_textbox"
	TimerSubmit    = "textbox_to_submit"
)

// rollingWindow is the number of samples kept per timer.
const rollingWindow = 10

// Activity records the most recent successful reply.
type Activity struct {
	Author string
	At     time.Time
}

// Stats is safe for use from the pipeline worker and the dashboard reader.
type Stats struct {
	mu       sync.Mutex
	counters map[string]int64
	timers   map[string][]int64
	activity *Activity
}

// New returns an empty Stats.
func New() *Stats {
	return &Stats{
		counters: make(map[string]int64),
		timers:   make(map[string][]int64),
	}
}

// Inc increments a counter by one.
func (s *Stats) Inc(key string) {
	s.Add(key, 1)
}

// Add increments a counter by n.
func (s *Stats) Add(key string, n int64) {
	s.mu.Lock()
	s.counters[key] += n
	s.mu.Unlock()
}

// Set overwrites a counter.
func (s *Stats) Set(key string, n int64) {
	s.mu.Lock()
	s.counters[key] = n
	s.mu.Unlock()
}

// Observe appends a duration sample to a rolling timer window.
func (s *Stats) Observe(timer string, d time.Duration) {
	s.mu.Lock()
	samples := append(s.timers[timer], d.Milliseconds())
	if len(samples) > rollingWindow {
		samples = samples[len(samples)-rollingWindow:]
	}
	s.timers[timer] = samples
	s.mu.Unlock()
}

// RecordActivity notes the author of the latest successful reply.
func (s *Stats) RecordActivity(author string, at time.Time) {
	s.mu.Lock()
	s.activity = &Activity{Author: author, At: at}
	s.mu.Unlock()
}

// Snapshot is a point-in-time copy for rendering.
type Snapshot struct {
	Counters map[string]int64
	Timers   map[string][]int64
	Activity *Activity
}

// Get returns a counter value from the snapshot, zero when absent.
func (sn Snapshot) Get(key string) int64 {
	return sn.Counters[key]
}

// AvgMs returns the mean of a rolling timer window in milliseconds.
func (sn Snapshot) AvgMs(timer string) int64 {
	samples := sn.Timers[timer]
	if len(samples) == 0 {
		return 0
	}
	var sum int64
	for _, v := range samples {
		sum += v
	}
	return sum / int64(len(samples))
}

// Snapshot copies the current state.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	counters := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		counters[k] = v
	}
	timers := make(map[string][]int64, len(s.timers))
	for k, v := range s.timers {
		timers[k] = append([]int64(nil), v...)
	}
	var activity *Activity
	if s.activity != nil {
		a := *s.activity
		activity = &a
	}
	return Snapshot{Counters: counters, Timers: timers, Activity: activity}
}
