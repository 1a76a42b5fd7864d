// Package scheduler drives the repeating scan, classify, reply cycle. One
// worker runs the pipeline sequentially; operator commands arrive through
// Controls and are honored at cycle and candidate boundaries.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"replybot/internal/classify"
	"replybot/internal/reply"
	"replybot/internal/stats"
	"replybot/internal/store"
	"replybot/internal/timeline"
)

// Config sets the cycle cadence and stagnation threshold.
type Config struct {
	TargetURL        string
	Interval         time.Duration
	RefreshThreshold int
}

// SessionGate is the health monitor capability the scheduler depends on.
type SessionGate interface {
	EnsureReady(ctx context.Context, targetURL string) error
	Recover(ctx context.Context, targetURL string) error
}

// CandidateSource produces candidates from the live timeline along with the
// number of rows it inspected.
type CandidateSource interface {
	Scan(seen *timeline.SeenSet, replied *store.RepliedStore) ([]timeline.Candidate, int)
}

// Admitter decides whether a candidate may be replied to.
type Admitter interface {
	Decide(ctx context.Context, text string) classify.Decision
}

// Replier executes one reply attempt.
type Replier interface {
	Attempt(cand timeline.Candidate, dryRun bool) (reply.Result, error)
}

// Scheduler owns the main loop. It is not safe for concurrent Run calls.
type Scheduler struct {
	cfg       Config
	session   SessionGate
	source    CandidateSource
	gate      Admitter
	engine    Replier
	replied   *store.RepliedStore
	seen      *timeline.SeenSet
	decisions *store.Journal
	cycles    *store.Journal
	stats     *stats.Stats
	controls  *Controls
	log       *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	cycle int
	noNew int
}

// New wires a Scheduler. The seen set starts empty; it is transient by
// design and resets on restart.
func New(
	cfg Config,
	session SessionGate,
	source CandidateSource,
	gate Admitter,
	engine Replier,
	replied *store.RepliedStore,
	decisions, cycles *store.Journal,
	st *stats.Stats,
	controls *Controls,
	log *zap.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		session:   session,
		source:    source,
		gate:      gate,
		engine:    engine,
		replied:   replied,
		seen:      timeline.NewSeenSet(),
		decisions: decisions,
		cycles:    cycles,
		stats:     st,
		controls:  controls,
		log:       log,
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run loops until the operator quits or ctx is cancelled. It returns an
// error only for fatal conditions: a session that cannot be made usable, or
// a replied-store write failure. Everything else is logged and the loop
// moves to the next cycle.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.controls.Quitting() {
			s.log.Info("scheduler: quit requested")
			return nil
		}

		if err := s.runCycle(ctx); err != nil {
			return err
		}

		if err := s.sleep(ctx, s.cfg.Interval); err != nil {
			return err
		}
	}
}

// runCycle executes one scan-classify-reply pass. Panics are contained at
// this boundary so a single bad cycle cannot take the process down.
func (s *Scheduler) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler: cycle panicked", zap.Int("cycle", s.cycle), zap.Any("panic", r))
			err = nil
		}
	}()

	s.cycle++
	start := s.now()

	if gerr := s.session.EnsureReady(ctx, s.cfg.TargetURL); gerr != nil {
		// Replying while the session is invalid is worse than stopping.
		return fmt.Errorf("session gate failed on cycle %d: %w", s.cycle, gerr)
	}

	// A paused cycle skips the scan but still journals, refreshes on
	// stagnation, and keeps the cadence.
	var found, newCount int
	if !s.controls.Paused() {
		scanned, rows := s.source.Scan(s.seen, s.replied)
		candidates := timeline.Prioritize(scanned)
		found = rows
		newCount = len(candidates)
		s.stats.Add(stats.Candidates, int64(newCount))

		for _, cand := range candidates {
			if s.controls.Quitting() || s.controls.Paused() {
				break
			}
			if cerr := s.processCandidate(ctx, cand); cerr != nil {
				return cerr
			}
		}
	}

	refreshed := s.maybeRefresh(ctx, newCount)

	elapsed := s.now().Sub(start)
	s.stats.Observe(stats.TimerScanCycle, elapsed)
	s.journalCycle(found, newCount, elapsed, refreshed)

	s.log.Debug("scheduler: cycle complete",
		zap.Int("cycle", s.cycle),
		zap.Int("new_candidates", newCount),
		zap.Duration("elapsed", elapsed),
		zap.Bool("refreshed", refreshed))
	return nil
}

// processCandidate gates and replies to one candidate. Panics are contained
// here so one degenerate row cannot abort the rest of the cycle.
func (s *Scheduler) processCandidate(ctx context.Context, cand timeline.Candidate) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler: candidate panicked",
				zap.Int64("post_id", cand.ID), zap.Any("panic", r))
			err = nil
		}
	}()

	decision := s.gate.Decide(ctx, cand.Text)
	if !decision.Admissible {
		s.journalDecision(cand, reply.Result{Action: reply.ActionSkip, Reason: decision.Reason}, decision)
		return nil
	}

	res, aerr := s.engine.Attempt(cand, s.controls.DryRun())
	if aerr != nil {
		// A lost replied-id write risks duplicate replies; halt instead.
		return fmt.Errorf("persist replied id %d: %w", cand.ID, aerr)
	}
	s.journalDecision(cand, res, decision)
	return nil
}

// maybeRefresh tracks stagnation and triggers a timeline recovery when the
// no-new-candidate streak hits the threshold or the operator forces one.
func (s *Scheduler) maybeRefresh(ctx context.Context, newCount int) bool {
	if newCount == 0 {
		s.noNew++
	} else {
		s.noNew = 0
	}

	forced := s.controls.TakeRefresh()
	stagnant := s.cfg.RefreshThreshold > 0 && s.noNew >= s.cfg.RefreshThreshold
	if !forced && !stagnant {
		return false
	}

	s.log.Info("scheduler: refreshing timeline",
		zap.Bool("forced", forced), zap.Int("no_new_cycles", s.noNew))
	if err := s.session.Recover(ctx, s.cfg.TargetURL); err != nil {
		s.log.Warn("scheduler: refresh failed", zap.Error(err))
	}
	s.noNew = 0
	return true
}

func (s *Scheduler) journalDecision(cand timeline.Candidate, res reply.Result, decision classify.Decision) {
	entry := store.DecisionEntry{
		TS:      store.JournalTS(s.now()),
		PostID:  cand.ID,
		Author:  cand.Author,
		AgeMin:  int(s.now().Sub(cand.CreatedAt).Minutes()),
		Action:  res.Action,
		Reason:  res.Reason,
		DurMs:   res.Durations,
		AILabel: decision.Label,
		AIConf:  decision.Confidence,
	}
	if err := s.decisions.Append(entry); err != nil {
		s.log.Warn("scheduler: decision journal write failed", zap.Error(err))
	}
}

func (s *Scheduler) journalCycle(found, newCount int, elapsed time.Duration, refreshed bool) {
	entry := store.CycleEntry{
		TS:            store.JournalTS(s.now()),
		Cycle:         s.cycle,
		Found:         found,
		NewCandidates: newCount,
		ScanCycleMs:   elapsed.Milliseconds(),
		Refreshed:     refreshed,
	}
	if err := s.cycles.Append(entry); err != nil {
		s.log.Warn("scheduler: cycle journal write failed", zap.Error(err))
	}
}
