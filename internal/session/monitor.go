// Package session decides whether the bot may act: is the login session
// valid, is the timeline usable, and how to recover when it is not.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"replybot/internal/browser"
	"replybot/internal/stats"
)

// Login and health selectors.
const (
	loginURL = "https://x.com/login"

	errorPanelSelector = "[data-testid='error-detail']"
	spinnerSelector    = "[role='progressbar']"
	noResultsSelector  = "[data-testid='empty_state_header_text']"
	rowSelector        = "article"
	captchaSelector    = "iframe[src*='captcha']"
)

// loggedInSelectors are indicators that a session is active. Any one of them
// is sufficient, unless the current location is the login flow itself.
var loggedInSelectors = []string{
	"[data-testid='AppTabBar_Profile_Link']",
	"[data-testid='SideNav_AccountSwitcher_Button']",
}

// loginPollInterval is how often the login indicator is re-checked while
// waiting for a manual login.
const loginPollInterval = 2 * time.Second

// CaptchaWaiter blocks until the operator has resolved a CAPTCHA. This is
// the one deliberately manual suspension in the pipeline.
type CaptchaWaiter func(ctx context.Context) error

// Config holds the monitor's timing knobs.
type Config struct {
	NavTimeout    time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	LoginWait     time.Duration
	HealthRetries int
	StuckWait     time.Duration
}

// Monitor checks session validity and timeline readiness and drives
// recovery actions.
type Monitor struct {
	page        browser.Page
	cfg         Config
	stats       *stats.Stats
	log         *zap.Logger
	waitCaptcha CaptchaWaiter
	sleep       func(ctx context.Context, d time.Duration) error
}

// New builds a monitor. waitCaptcha may be nil, in which case CAPTCHA
// detection only logs and counts.
func New(page browser.Page, cfg Config, st *stats.Stats, log *zap.Logger, waitCaptcha CaptchaWaiter) *Monitor {
	return &Monitor{
		page:        page,
		cfg:         cfg,
		stats:       st,
		log:         log,
		waitCaptcha: waitCaptcha,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoggedIn reports whether a login indicator is visible. The reason names
// the matched indicator, or why the check failed.
func (m *Monitor) LoggedIn() (bool, string) {
	u := strings.ToLower(m.page.URL())
	if strings.Contains(u, "/login") || strings.Contains(u, "/i/flow/login") {
		return false, "login_url"
	}
	for _, sel := range loggedInSelectors {
		if m.page.Has(sel) {
			return true, sel
		}
	}
	return false, "no_indicator"
}

// EnsureReady gates a cycle: confirms the login session, navigates to the
// target timeline, and recovers a stuck timeline. It returns an error when
// the session cannot be made usable; callers must not reply while it fails.
func (m *Monitor) EnsureReady(ctx context.Context, targetURL string) error {
	logged, reason := m.LoggedIn()
	if !logged {
		m.log.Info("session: login required", zap.String("reason", reason))
		if err := m.ensureLoggedIn(ctx); err != nil {
			return err
		}
	}

	if err := m.ResilientGoto(ctx, targetURL); err != nil {
		return fmt.Errorf("navigate to timeline: %w", err)
	}

	stuck, why := m.TimelineStuck()
	if !stuck {
		return nil
	}
	m.log.Warn("session: timeline stuck", zap.String("reason", why))
	return m.Recover(ctx, targetURL)
}

// ensureLoggedIn navigates to the login page and polls the login indicator
// until it appears or the login wait elapses.
func (m *Monitor) ensureLoggedIn(ctx context.Context) error {
	if err := m.ResilientGoto(ctx, loginURL); err != nil {
		return fmt.Errorf("navigate to login: %w", err)
	}

	deadline := time.Now().Add(m.cfg.LoginWait)
	for time.Now().Before(deadline) {
		if logged, _ := m.LoggedIn(); logged {
			m.log.Info("session: login confirmed")
			return nil
		}
		if err := m.sleep(ctx, loginPollInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("login not confirmed within %s", m.cfg.LoginWait)
}

// ResilientGoto navigates with bounded retries and linear backoff, pausing
// for manual CAPTCHA resolution when one is detected.
func (m *Monitor) ResilientGoto(ctx context.Context, url string) error {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		err := m.page.Navigate(ctx, url, m.cfg.NavTimeout)
		if err == nil {
			if cerr := m.checkCaptcha(ctx); cerr != nil {
				return cerr
			}
			return nil
		}
		lastErr = err
		m.log.Debug("session: navigation failed",
			zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
		if err := m.sleep(ctx, m.cfg.RetryBackoff*time.Duration(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("navigation failed after %d attempts: %w", m.cfg.MaxRetries, lastErr)
}

// checkCaptcha looks for a challenge and, when found, blocks until the
// operator resolves it.
func (m *Monitor) checkCaptcha(ctx context.Context) error {
	u := strings.ToLower(m.page.URL())
	challenged := strings.Contains(u, "captcha") || strings.Contains(u, "challenge") ||
		m.page.Has(captchaSelector)
	if !challenged {
		return nil
	}

	m.stats.Inc(stats.Captcha)
	m.log.Warn("session: CAPTCHA detected, waiting for manual resolution")
	if m.waitCaptcha == nil {
		return nil
	}
	return m.waitCaptcha(ctx)
}

// TimelineStuck applies the stuck heuristic: an error panel, a spinner on an
// incomplete document, or a fully loaded page with no rows and no explicit
// empty-state.
func (m *Monitor) TimelineStuck() (bool, string) {
	if m.page.Has(errorPanelSelector) {
		m.noteRateLimit()
		return true, "error_panel"
	}

	ready := m.page.ReadyState()
	if m.page.Has(spinnerSelector) && ready != "complete" {
		return true, "spinner_loading"
	}
	if ready == "complete" && !m.page.Has(rowSelector) && !m.page.Has(noResultsSelector) {
		return true, "no_content"
	}
	return false, ""
}

// noteRateLimit counts an explicit rate-limit banner inside the error panel.
func (m *Monitor) noteRateLimit() {
	els, err := m.page.FindAll(errorPanelSelector)
	if err != nil || len(els) == 0 {
		return
	}
	text, err := els[0].Text()
	if err == nil && strings.Contains(strings.ToLower(text), "rate limit") {
		m.stats.Inc(stats.RateLimit)
	}
}

// Recover tries a soft reload, falls back to full re-navigation, waits a
// settle delay, and re-checks, up to the configured attempts.
func (m *Monitor) Recover(ctx context.Context, targetURL string) error {
	for attempt := 1; attempt <= m.cfg.HealthRetries; attempt++ {
		if err := m.page.Reload(); err != nil {
			m.log.Debug("session: reload failed, renavigating", zap.Error(err))
			if err := m.ResilientGoto(ctx, targetURL); err != nil {
				return err
			}
		}
		if err := m.sleep(ctx, m.cfg.StuckWait); err != nil {
			return err
		}
		if stuck, _ := m.TimelineStuck(); !stuck {
			m.log.Info("session: timeline recovered", zap.Int("attempt", attempt))
			return nil
		}
	}
	return fmt.Errorf("timeline still stuck after %d recovery attempts", m.cfg.HealthRetries)
}
