package reply

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"replybot/internal/browser"
	"replybot/internal/stats"
	"replybot/internal/store"
	"replybot/internal/timeline"
)

type fakeElement struct {
	attrs    map[string]string
	text     string
	clickErr error
	clicks   int
}

func (e *fakeElement) Find(string) (browser.Element, bool) { return nil, false }

func (e *fakeElement) Attribute(name string) (string, bool) {
	v, ok := e.attrs[name]
	return v, ok
}

func (e *fakeElement) Text() (string, error) { return e.text, nil }

func (e *fakeElement) Click(time.Duration) error {
	e.clicks++
	return e.clickErr
}

// candidateElement is the article row; Find resolves the reply button.
type candidateElement struct {
	fakeElement
	replyButton *fakeElement
}

func (e *candidateElement) Find(selector string) (browser.Element, bool) {
	if selector == replyButtonSelector && e.replyButton != nil {
		return e.replyButton, true
	}
	return nil, false
}

type fakePage struct {
	waitErrs  map[string]error
	fillErr   error
	clickErrs map[string]error
	submit    *fakeElement
	toast     *fakeElement

	fills   []string
	clicks  []string
	escapes int
}

func (p *fakePage) Navigate(context.Context, string, time.Duration) error { return nil }
func (p *fakePage) Reload() error                                         { return nil }
func (p *fakePage) URL() string                                           { return "https://x.com/search" }
func (p *fakePage) Has(string) bool                                       { return false }
func (p *fakePage) ReadyState() string                                    { return "complete" }
func (p *fakePage) Scroll(float64) error                                  { return nil }

func (p *fakePage) FindAll(selector string) ([]browser.Element, error) {
	switch {
	case selector == submitSelector && p.submit != nil:
		return []browser.Element{p.submit}, nil
	case selector == toastSelector && p.toast != nil:
		return []browser.Element{p.toast}, nil
	}
	return nil, nil
}

func (p *fakePage) WaitFor(selector string, _ time.Duration) error {
	if err, ok := p.waitErrs[selector]; ok {
		return err
	}
	if selector == toastSelector && p.toast == nil {
		return browser.ErrTimeout
	}
	return nil
}

func (p *fakePage) Click(selector string, _ time.Duration) error {
	p.clicks = append(p.clicks, selector)
	if err, ok := p.clickErrs[selector]; ok {
		return err
	}
	return nil
}

func (p *fakePage) Fill(_, text string, _ time.Duration) error {
	p.fills = append(p.fills, text)
	return p.fillErr
}

func (p *fakePage) PressEscape() error {
	p.escapes++
	return nil
}

func testEngineConfig() Config {
	return Config{
		Message:         "Halo kak, DM ya!",
		ClickTimeout:    time.Second,
		ComposerTimeout: time.Second,
		SubmitTimeout:   time.Second,
	}
}

func openStore(t *testing.T) *store.RepliedStore {
	t.Helper()
	rs, err := store.OpenReplied(filepath.Join(t.TempDir(), "replied_ids.json"))
	require.NoError(t, err)
	return rs
}

func healthyPage() *fakePage {
	return &fakePage{submit: &fakeElement{}}
}

func candidate(id int64) timeline.Candidate {
	return timeline.Candidate{
		ID:        id,
		Author:    "penjual_sepatu",
		CreatedAt: time.Now().Add(-10 * time.Minute),
		Text:      "saya mau beli chatgpt dong",
		Element:   &candidateElement{replyButton: &fakeElement{}},
	}
}

func TestAttempt_SuccessMarksReplied(t *testing.T) {
	page := healthyPage()
	rs := openStore(t)
	st := stats.New()
	e := New(page, rs, st, zap.NewNop(), testEngineConfig())

	res, err := e.Attempt(candidate(42), false)
	require.NoError(t, err)
	assert.Equal(t, ActionReply, res.Action)
	assert.Equal(t, ReasonOK, res.Reason)
	assert.True(t, rs.Contains(42))
	assert.Equal(t, []string{"Halo kak, DM ya!"}, page.fills)
	assert.Equal(t, []string{submitSelector}, page.clicks)

	snap := st.Snapshot()
	assert.Equal(t, int64(1), snap.Get(stats.Replied))
	assert.Len(t, res.Durations, 3)
	require.NotNil(t, snap.Activity)
	assert.Equal(t, "penjual_sepatu", snap.Activity.Author)
}

func TestAttempt_DuplicateShortCircuitsBeforeBrowser(t *testing.T) {
	page := healthyPage()
	rs := openStore(t)
	require.NoError(t, rs.Add(42))
	st := stats.New()
	e := New(page, rs, st, zap.NewNop(), testEngineConfig())

	cand := candidate(42)
	res, err := e.Attempt(cand, false)
	require.NoError(t, err)
	assert.Equal(t, ActionSkip, res.Action)
	assert.Equal(t, ReasonDuplicate, res.Reason)
	assert.Equal(t, int64(1), st.Snapshot().Get(stats.Duplicate))

	// The browser must not be touched for a duplicate.
	btn := cand.Element.(*candidateElement).replyButton
	assert.Zero(t, btn.clicks)
	assert.Empty(t, page.clicks)
	assert.Empty(t, page.fills)
}

func TestAttempt_NeverRepliesTwice(t *testing.T) {
	page := healthyPage()
	rs := openStore(t)
	e := New(page, rs, stats.New(), zap.NewNop(), testEngineConfig())

	first, err := e.Attempt(candidate(7), false)
	require.NoError(t, err)
	second, err := e.Attempt(candidate(7), false)
	require.NoError(t, err)

	assert.Equal(t, ActionReply, first.Action)
	assert.Equal(t, ActionSkip, second.Action)
	assert.Equal(t, ReasonDuplicate, second.Reason)
}

func TestAttempt_MissingOrDisabledButton(t *testing.T) {
	for _, tt := range []struct {
		name string
		el   browser.Element
	}{
		{"no button", &candidateElement{}},
		{"disabled button", &candidateElement{
			replyButton: &fakeElement{attrs: map[string]string{"aria-disabled": "true"}},
		}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			st := stats.New()
			e := New(healthyPage(), openStore(t), st, zap.NewNop(), testEngineConfig())
			cand := candidate(1)
			cand.Element = tt.el

			res, err := e.Attempt(cand, false)
			require.NoError(t, err)
			assert.Equal(t, ActionSkip, res.Action)
			assert.Equal(t, ReasonNoButton, res.Reason)
			assert.Equal(t, int64(1), st.Snapshot().Get(stats.SkipButton))
		})
	}
}

func TestAttempt_TimeoutsMapToNetError(t *testing.T) {
	t.Run("reply click times out", func(t *testing.T) {
		st := stats.New()
		e := New(healthyPage(), openStore(t), st, zap.NewNop(), testEngineConfig())
		cand := candidate(1)
		cand.Element = &candidateElement{replyButton: &fakeElement{clickErr: browser.ErrTimeout}}

		res, err := e.Attempt(cand, false)
		require.NoError(t, err)
		assert.Equal(t, ReasonNetError, res.Reason)
		assert.Equal(t, int64(1), st.Snapshot().Get(stats.NetError))
	})

	t.Run("composer never appears", func(t *testing.T) {
		page := healthyPage()
		page.waitErrs = map[string]error{composerSelector: browser.ErrTimeout}
		rs := openStore(t)
		e := New(page, rs, stats.New(), zap.NewNop(), testEngineConfig())

		res, err := e.Attempt(candidate(1), false)
		require.NoError(t, err)
		assert.Equal(t, ReasonNetError, res.Reason)
		assert.False(t, rs.Contains(1))
	})

	t.Run("submit click times out", func(t *testing.T) {
		page := healthyPage()
		page.clickErrs = map[string]error{submitSelector: browser.ErrTimeout}
		rs := openStore(t)
		e := New(page, rs, stats.New(), zap.NewNop(), testEngineConfig())

		res, err := e.Attempt(candidate(1), false)
		require.NoError(t, err)
		assert.Equal(t, ReasonNetError, res.Reason)
		assert.False(t, rs.Contains(1))
	})
}

func TestAttempt_DryRunFillsThenAborts(t *testing.T) {
	page := healthyPage()
	rs := openStore(t)
	e := New(page, rs, stats.New(), zap.NewNop(), testEngineConfig())

	res, err := e.Attempt(candidate(42), true)
	require.NoError(t, err)
	assert.Equal(t, ActionSkip, res.Action)
	assert.Equal(t, ReasonDryRun, res.Reason)
	assert.Len(t, res.Durations, 2)

	// Composer was filled, then dismissed; nothing submitted or persisted.
	assert.Equal(t, []string{"Halo kak, DM ya!"}, page.fills)
	assert.Empty(t, page.clicks)
	assert.Equal(t, 1, page.escapes)
	assert.False(t, rs.Contains(42))
}

func TestAttempt_SubmitDisabledIsReplyClosed(t *testing.T) {
	page := healthyPage()
	page.submit = &fakeElement{attrs: map[string]string{"aria-disabled": "true"}}
	rs := openStore(t)
	st := stats.New()
	e := New(page, rs, st, zap.NewNop(), testEngineConfig())

	res, err := e.Attempt(candidate(42), false)
	require.NoError(t, err)
	assert.Equal(t, ActionSkip, res.Action)
	assert.Equal(t, ReasonClosed, res.Reason)
	assert.False(t, rs.Contains(42))
	assert.Equal(t, 1, page.escapes)
	assert.Equal(t, int64(1), st.Snapshot().Get(stats.ReplyClosed))
}

func TestAttempt_RejectionToastIsReplyClosed(t *testing.T) {
	page := healthyPage()
	page.toast = &fakeElement{text: "You can't reply to this conversation."}
	rs := openStore(t)
	e := New(page, rs, stats.New(), zap.NewNop(), testEngineConfig())

	res, err := e.Attempt(candidate(42), false)
	require.NoError(t, err)
	assert.Equal(t, ActionSkip, res.Action)
	assert.Equal(t, ReasonClosed, res.Reason)
	assert.False(t, rs.Contains(42))
}

func TestAttempt_BenignToastStillSucceeds(t *testing.T) {
	page := healthyPage()
	page.toast = &fakeElement{text: "Your post was sent."}
	rs := openStore(t)
	e := New(page, rs, stats.New(), zap.NewNop(), testEngineConfig())

	res, err := e.Attempt(candidate(42), false)
	require.NoError(t, err)
	assert.Equal(t, ReasonOK, res.Reason)
	assert.True(t, rs.Contains(42))
}

func TestAttempt_StoreFailurePropagates(t *testing.T) {
	// Point the store at a path whose parent directory does not exist so
	// the post-reply persist fails.
	rs, err := store.OpenReplied(filepath.Join(t.TempDir(), "missing", "replied_ids.json"))
	require.NoError(t, err)
	e := New(healthyPage(), rs, stats.New(), zap.NewNop(), testEngineConfig())

	_, err = e.Attempt(candidate(42), false)
	require.Error(t, err)
	assert.False(t, errors.Is(err, browser.ErrTimeout))
}
