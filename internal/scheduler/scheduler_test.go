package scheduler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"replybot/internal/classify"
	"replybot/internal/reply"
	"replybot/internal/stats"
	"replybot/internal/store"
	"replybot/internal/timeline"
)

type fakeSession struct {
	readyErr   error
	readyCalls int
	recovers   int
}

func (f *fakeSession) EnsureReady(context.Context, string) error {
	f.readyCalls++
	return f.readyErr
}

func (f *fakeSession) Recover(context.Context, string) error {
	f.recovers++
	return nil
}

type fakeSource struct {
	batches [][]timeline.Candidate
	rows    []int // inspected-row count per call; defaults to batch size
	calls   int
}

func (f *fakeSource) Scan(*timeline.SeenSet, *store.RepliedStore) ([]timeline.Candidate, int) {
	f.calls++
	var batch []timeline.Candidate
	if len(f.batches) > 0 {
		batch = f.batches[0]
		f.batches = f.batches[1:]
	}
	found := len(batch)
	if len(f.rows) > 0 {
		found = f.rows[0]
		f.rows = f.rows[1:]
	}
	return batch, found
}

type fakeGate struct {
	decision classify.Decision
	panics   bool
	calls    int
}

func (f *fakeGate) Decide(context.Context, string) classify.Decision {
	f.calls++
	if f.panics {
		panic("gate exploded")
	}
	return f.decision
}

type fakeEngine struct {
	result   reply.Result
	err      error
	attempts []bool // dryRun flag per call
}

func (f *fakeEngine) Attempt(_ timeline.Candidate, dryRun bool) (reply.Result, error) {
	f.attempts = append(f.attempts, dryRun)
	return f.result, f.err
}

func admit() classify.Decision {
	return classify.Decision{Admissible: true, Label: "pembeli", Confidence: 1}
}

func cand(id int64, age time.Duration) timeline.Candidate {
	return timeline.Candidate{
		ID:        id,
		Author:    "penanya",
		CreatedAt: time.Now().Add(-age),
		Text:      "saya mau beli chatgpt dong",
	}
}

type fixture struct {
	sched   *Scheduler
	session *fakeSession
	source  *fakeSource
	gate    *fakeGate
	engine  *fakeEngine
	ctl     *Controls
	stats   *stats.Stats
	dir     string
}

// newFixture builds a scheduler whose sleep hook quits after maxCycles so
// Run terminates without wall-clock delays.
func newFixture(t *testing.T, maxCycles int) *fixture {
	t.Helper()
	dir := t.TempDir()
	rs, err := store.OpenReplied(filepath.Join(dir, "replied_ids.json"))
	require.NoError(t, err)

	f := &fixture{
		session: &fakeSession{},
		source:  &fakeSource{},
		gate:    &fakeGate{decision: admit()},
		engine:  &fakeEngine{result: reply.Result{Action: reply.ActionReply, Reason: reply.ReasonOK}},
		ctl:     NewControls(false),
		stats:   stats.New(),
		dir:     dir,
	}
	f.sched = New(
		Config{TargetURL: "https://x.com/search", Interval: time.Millisecond, RefreshThreshold: 0},
		f.session, f.source, f.gate, f.engine, rs,
		store.NewJournal(filepath.Join(dir, "decisions.log")),
		store.NewJournal(filepath.Join(dir, "cycles.log")),
		f.stats, f.ctl, zap.NewNop(),
	)
	cycles := 0
	f.sched.sleep = func(context.Context, time.Duration) error {
		cycles++
		if cycles >= maxCycles {
			f.ctl.RequestQuit()
		}
		return nil
	}
	return f
}

func readJournal(t *testing.T, path string) []map[string]any {
	t.Helper()
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	defer file.Close()

	var entries []map[string]any
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestRun_QuitBeforeFirstCycle(t *testing.T) {
	f := newFixture(t, 1)
	f.ctl.RequestQuit()

	require.NoError(t, f.sched.Run(context.Background()))
	assert.Zero(t, f.session.readyCalls)
}

func TestRun_SessionGateFailureIsFatal(t *testing.T) {
	f := newFixture(t, 5)
	f.session.readyErr = errors.New("logged out")

	err := f.sched.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, f.session.readyErr)
	assert.Equal(t, 1, f.session.readyCalls)
}

func TestRun_RepliesAndJournals(t *testing.T) {
	f := newFixture(t, 1)
	f.source.batches = [][]timeline.Candidate{{cand(42, 10*time.Minute)}}

	require.NoError(t, f.sched.Run(context.Background()))
	require.Len(t, f.engine.attempts, 1)
	assert.False(t, f.engine.attempts[0])

	decisions := readJournal(t, filepath.Join(f.dir, "decisions.log"))
	require.Len(t, decisions, 1)
	assert.Equal(t, float64(42), decisions[0]["post_id"])
	assert.Equal(t, "reply", decisions[0]["action"])
	assert.Equal(t, "balas_ok", decisions[0]["reason"])

	cycles := readJournal(t, filepath.Join(f.dir, "cycles.log"))
	require.Len(t, cycles, 1)
	assert.Equal(t, float64(1), cycles[0]["new_candidates"])
	assert.Equal(t, false, cycles[0]["refreshed"])
}

func TestRun_InadmissibleCandidateIsJournaledNotReplied(t *testing.T) {
	f := newFixture(t, 1)
	f.gate.decision = classify.Decision{Admissible: false, Reason: classify.ReasonAmbiguous}
	f.source.batches = [][]timeline.Candidate{{cand(42, 10*time.Minute)}}

	require.NoError(t, f.sched.Run(context.Background()))
	assert.Empty(t, f.engine.attempts)

	decisions := readJournal(t, filepath.Join(f.dir, "decisions.log"))
	require.Len(t, decisions, 1)
	assert.Equal(t, "skip", decisions[0]["action"])
	assert.Equal(t, "ambiguous", decisions[0]["reason"])
}

func TestRun_ProcessesInPriorityOrder(t *testing.T) {
	f := newFixture(t, 1)
	f.source.batches = [][]timeline.Candidate{{
		cand(1, 5*time.Minute),
		cand(2, 1*time.Minute),
		cand(3, 10*time.Minute),
	}}
	var order []int64
	f.sched.engine = replierFunc(func(c timeline.Candidate, _ bool) (reply.Result, error) {
		order = append(order, c.ID)
		return reply.Result{Action: reply.ActionReply, Reason: reply.ReasonOK}, nil
	})

	require.NoError(t, f.sched.Run(context.Background()))
	assert.Equal(t, []int64{2, 1, 3}, order)
}

type replierFunc func(timeline.Candidate, bool) (reply.Result, error)

func (fn replierFunc) Attempt(c timeline.Candidate, dryRun bool) (reply.Result, error) {
	return fn(c, dryRun)
}

func TestRun_StagnationTriggersRefresh(t *testing.T) {
	f := newFixture(t, 3)
	f.sched.cfg.RefreshThreshold = 2

	require.NoError(t, f.sched.Run(context.Background()))
	// Three empty cycles with threshold 2: refresh fires on cycle 2, the
	// counter resets, cycle 3 brings the streak back to 1.
	assert.Equal(t, 1, f.session.recovers)

	cycles := readJournal(t, filepath.Join(f.dir, "cycles.log"))
	require.Len(t, cycles, 3)
	assert.Equal(t, false, cycles[0]["refreshed"])
	assert.Equal(t, true, cycles[1]["refreshed"])
	assert.Equal(t, false, cycles[2]["refreshed"])
}

func TestRun_OperatorForcesRefresh(t *testing.T) {
	f := newFixture(t, 1)
	f.source.batches = [][]timeline.Candidate{{cand(1, time.Minute)}}
	f.ctl.RequestRefresh()

	require.NoError(t, f.sched.Run(context.Background()))
	assert.Equal(t, 1, f.session.recovers)
}

func TestRun_DryRunFlagReachesEngine(t *testing.T) {
	f := newFixture(t, 1)
	f.ctl.ToggleDryRun()
	f.source.batches = [][]timeline.Candidate{{cand(1, time.Minute)}}

	require.NoError(t, f.sched.Run(context.Background()))
	require.Len(t, f.engine.attempts, 1)
	assert.True(t, f.engine.attempts[0])
}

func TestRun_StoreFailureIsFatal(t *testing.T) {
	f := newFixture(t, 5)
	f.engine.err = errors.New("disk full")
	f.source.batches = [][]timeline.Candidate{{cand(1, time.Minute)}}

	err := f.sched.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, f.engine.err)
}

func TestRun_CandidatePanicIsContained(t *testing.T) {
	f := newFixture(t, 2)
	f.gate.panics = true
	f.source.batches = [][]timeline.Candidate{
		{cand(1, time.Minute)},
		{cand(2, time.Minute)},
	}

	require.NoError(t, f.sched.Run(context.Background()))
	// Both cycles ran despite the gate panicking on every candidate.
	assert.Equal(t, 2, f.source.calls)
	assert.Empty(t, f.engine.attempts)
}

func TestRun_PausedCyclesSkipScanButStillJournal(t *testing.T) {
	f := newFixture(t, 3)
	f.ctl.TogglePause()

	require.NoError(t, f.sched.Run(context.Background()))
	assert.Equal(t, 3, f.session.readyCalls)
	assert.Zero(t, f.source.calls)

	// Paused cycles keep the cadence and the journal record.
	cycles := readJournal(t, filepath.Join(f.dir, "cycles.log"))
	require.Len(t, cycles, 3)
	assert.Equal(t, float64(0), cycles[0]["found"])
	assert.Equal(t, float64(0), cycles[0]["new_candidates"])
}

func TestRun_CycleJournalRecordsCurrentScanRows(t *testing.T) {
	f := newFixture(t, 2)
	f.source.batches = [][]timeline.Candidate{{cand(1, time.Minute)}}
	f.source.rows = []int{7, 0}

	require.NoError(t, f.sched.Run(context.Background()))
	cycles := readJournal(t, filepath.Join(f.dir, "cycles.log"))
	require.Len(t, cycles, 2)
	assert.Equal(t, float64(7), cycles[0]["found"])
	// An empty or failed scan reports zero, never the previous count.
	assert.Equal(t, float64(0), cycles[1]["found"])
}

func TestRun_ContextCancellation(t *testing.T) {
	f := newFixture(t, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.sched.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestControls_CaptchaWaitAndResume(t *testing.T) {
	ctl := NewControls(false)
	done := make(chan error, 1)
	go func() {
		done <- ctl.WaitCaptcha(context.Background())
	}()

	// Wait for the waiter to register before resuming.
	require.Eventually(t, ctl.CaptchaPending, time.Second, time.Millisecond)
	ctl.ResumeCaptcha()
	require.NoError(t, <-done)
	assert.False(t, ctl.CaptchaPending())
}

func TestControls_QuitReleasesCaptchaWait(t *testing.T) {
	ctl := NewControls(false)
	done := make(chan error, 1)
	go func() {
		done <- ctl.WaitCaptcha(context.Background())
	}()

	require.Eventually(t, ctl.CaptchaPending, time.Second, time.Millisecond)
	ctl.RequestQuit()
	require.NoError(t, <-done)
	assert.True(t, ctl.Quitting())
}
