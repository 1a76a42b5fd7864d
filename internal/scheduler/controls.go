package scheduler

import (
	"context"
	"sync"
)

// Controls is the shared state mutated by the operator and read by the
// scheduler at checkpoint boundaries: top of cycle and before each
// candidate. All access goes through the mutex; flags are never read twice
// within one decision.
type Controls struct {
	mu           sync.Mutex
	paused       bool
	dryRun       bool
	forceRefresh bool
	quit         bool
	captchaCh    chan struct{}
}

// NewControls returns a Controls with the initial dry-run setting.
func NewControls(dryRun bool) *Controls {
	return &Controls{dryRun: dryRun}
}

// TogglePause flips the pause flag and returns the new value.
func (c *Controls) TogglePause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = !c.paused
	return c.paused
}

// Paused reports whether the scheduler should idle this checkpoint.
func (c *Controls) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// ToggleDryRun flips dry-run mode and returns the new value.
func (c *Controls) ToggleDryRun() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dryRun = !c.dryRun
	return c.dryRun
}

// DryRun reports whether reply attempts abort before submitting.
func (c *Controls) DryRun() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dryRun
}

// RequestRefresh asks the scheduler to force a timeline refresh at the next
// cycle boundary.
func (c *Controls) RequestRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forceRefresh = true
}

// TakeRefresh consumes a pending refresh request.
func (c *Controls) TakeRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.forceRefresh
	c.forceRefresh = false
	return v
}

// RequestQuit asks the scheduler to stop at the next checkpoint. It also
// releases a pending CAPTCHA wait so shutdown is not blocked on the
// operator.
func (c *Controls) RequestQuit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quit = true
	if c.captchaCh != nil {
		close(c.captchaCh)
		c.captchaCh = nil
	}
}

// Quitting reports whether a quit was requested.
func (c *Controls) Quitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quit
}

// WaitCaptcha blocks until the operator signals the CAPTCHA is resolved,
// quit is requested, or ctx is cancelled. The session monitor calls this
// when it detects a challenge.
func (c *Controls) WaitCaptcha(ctx context.Context) error {
	c.mu.Lock()
	if c.quit {
		c.mu.Unlock()
		return context.Canceled
	}
	if c.captchaCh == nil {
		c.captchaCh = make(chan struct{})
	}
	ch := c.captchaCh
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CaptchaPending reports whether the pipeline is blocked on a CAPTCHA.
func (c *Controls) CaptchaPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captchaCh != nil
}

// ResumeCaptcha signals that the operator has resolved the challenge.
func (c *Controls) ResumeCaptcha() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.captchaCh != nil {
		close(c.captchaCh)
		c.captchaCh = nil
	}
}
