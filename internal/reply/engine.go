// Package reply executes one reply attempt per candidate as a small state
// machine over the browser page: button check, click, composer, fill, submit,
// confirmation. Every terminal state maps to one reason in a fixed taxonomy
// so the decision journal stays greppable.
package reply

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"replybot/internal/browser"
	"replybot/internal/stats"
	"replybot/internal/store"
	"replybot/internal/timeline"
)

// Actions taken for a candidate.
const (
	ActionReply = "reply"
	ActionSkip  = "skip"
)

// Reasons recorded in the decision journal. The Indonesian names match the
// historical journal format so existing log tooling keeps working.
const (
	ReasonOK        = "balas_ok"
	ReasonDuplicate = "duplicate"
	ReasonNoButton  = "skip_tombol"
	ReasonNetError  = "net_error"
	ReasonDryRun    = "dry_run"
	ReasonClosed    = "reply_closed"
)

const (
	replyButtonSelector = "[data-testid='reply']"
	composerSelector    = "div[role='textbox']"
	submitSelector      = "[data-testid='tweetButton']"
	toastSelector       = "[data-testid='toast']"

	// confirmWait bounds the post-submit toast check. A missing toast is
	// treated as success; only an explicit rejection reclassifies.
	confirmWait = 1500 * time.Millisecond
)

// Result is the outcome of one attempt. Durations are informational interval
// timings in milliseconds, keyed by the stats timer names.
type Result struct {
	Action    string
	Reason    string
	Durations map[string]int64
}

// Config carries the reply text and per-interaction timeouts.
type Config struct {
	Message         string
	ClickTimeout    time.Duration
	ComposerTimeout time.Duration
	SubmitTimeout   time.Duration
}

// Engine drives reply attempts. It is used by a single worker; the replied
// store provides its own locking.
type Engine struct {
	page    browser.Page
	replied *store.RepliedStore
	stats   *stats.Stats
	log     *zap.Logger
	cfg     Config
	now     func() time.Time
}

// New returns an Engine bound to a page and the durable replied store.
func New(page browser.Page, replied *store.RepliedStore, st *stats.Stats, log *zap.Logger, cfg Config) *Engine {
	return &Engine{
		page:    page,
		replied: replied,
		stats:   st,
		log:     log,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Attempt runs the state machine for one candidate. The error return is
// reserved for replied-store persistence failures, which must propagate;
// every browser-level failure is folded into the Result reason instead.
func (e *Engine) Attempt(cand timeline.Candidate, dryRun bool) (Result, error) {
	if e.replied.Contains(cand.ID) {
		e.stats.Inc(stats.Duplicate)
		return Result{Action: ActionSkip, Reason: ReasonDuplicate}, nil
	}

	btn, ok := cand.Element.Find(replyButtonSelector)
	if !ok || isDisabled(btn) {
		e.stats.Inc(stats.SkipButton)
		return Result{Action: ActionSkip, Reason: ReasonNoButton}, nil
	}

	t0 := e.now()
	if err := btn.Click(e.cfg.ClickTimeout); err != nil {
		return e.netError(cand, "click reply button", err), nil
	}
	t1 := e.now()

	if err := e.page.WaitFor(composerSelector, e.cfg.ComposerTimeout); err != nil {
		return e.netError(cand, "wait for composer", err), nil
	}
	if err := e.page.Fill(composerSelector, e.cfg.Message, e.cfg.ComposerTimeout); err != nil {
		return e.netError(cand, "fill composer", err), nil
	}
	t2 := e.now()

	if dryRun {
		e.dismiss()
		durations := map[string]int64{
			stats.TimerClick:    t1.Sub(t0).Milliseconds(),
			stats.TimerComposer: t2.Sub(t1).Milliseconds(),
		}
		return Result{Action: ActionSkip, Reason: ReasonDryRun, Durations: durations}, nil
	}

	if !e.submitEnabled() {
		e.dismiss()
		e.stats.Inc(stats.ReplyClosed)
		return Result{Action: ActionSkip, Reason: ReasonClosed}, nil
	}

	if err := e.page.Click(submitSelector, e.cfg.SubmitTimeout); err != nil {
		return e.netError(cand, "click submit", err), nil
	}
	t3 := e.now()

	if e.rejectedByToast() {
		e.dismiss()
		e.stats.Inc(stats.ReplyClosed)
		return Result{Action: ActionSkip, Reason: ReasonClosed}, nil
	}

	// Persist before counting success. A store failure here must surface:
	// losing this write risks a duplicate reply after restart.
	if err := e.replied.Add(cand.ID); err != nil {
		return Result{}, err
	}

	durations := map[string]int64{
		stats.TimerClick:    t1.Sub(t0).Milliseconds(),
		stats.TimerComposer: t2.Sub(t1).Milliseconds(),
		stats.TimerSubmit:   t3.Sub(t2).Milliseconds(),
	}
	e.stats.Observe(stats.TimerClick, t1.Sub(t0))
	e.stats.Observe(stats.TimerComposer, t2.Sub(t1))
	e.stats.Observe(stats.TimerSubmit, t3.Sub(t2))
	e.stats.Inc(stats.Replied)
	e.stats.RecordActivity(cand.Author, t3)

	return Result{Action: ActionReply, Reason: ReasonOK, Durations: durations}, nil
}

func (e *Engine) netError(cand timeline.Candidate, step string, err error) Result {
	e.stats.Inc(stats.NetError)
	e.log.Debug("reply: interaction failed",
		zap.Int64("post_id", cand.ID), zap.String("step", step), zap.Error(err))
	return Result{Action: ActionSkip, Reason: ReasonNetError}
}

// submitEnabled re-verifies the submit affordance right before clicking it.
// Posts with replies restricted render the button disabled at this point.
func (e *Engine) submitEnabled() bool {
	els, err := e.page.FindAll(submitSelector)
	if err != nil || len(els) == 0 {
		return false
	}
	return !isDisabled(els[0])
}

// rejectedByToast checks the notification toast after submit. Platform error
// copy uses "can't"/"cannot" phrasing when the reply was refused.
func (e *Engine) rejectedByToast() bool {
	if err := e.page.WaitFor(toastSelector, confirmWait); err != nil {
		return false
	}
	els, err := e.page.FindAll(toastSelector)
	if err != nil || len(els) == 0 {
		return false
	}
	text, err := els[0].Text()
	if err != nil {
		return false
	}
	lower := strings.ToLower(text)
	return strings.Contains(lower, "can't") || strings.Contains(lower, "cannot")
}

func (e *Engine) dismiss() {
	if err := e.page.PressEscape(); err != nil {
		e.log.Debug("reply: escape failed", zap.Error(err))
	}
}

func isDisabled(el browser.Element) bool {
	v, ok := el.Attribute("aria-disabled")
	return ok && v == "true"
}
