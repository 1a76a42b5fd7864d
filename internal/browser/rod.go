package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Config holds browser launch settings.
type Config struct {
	Headless    bool   `yaml:"headless"`
	UserDataDir string `yaml:"user_data_dir"`
	Bin         string `yaml:"bin"`
}

// DefaultConfig returns sensible defaults: a headed browser with a persistent
// profile so the login session survives restarts.
func DefaultConfig() Config {
	return Config{
		Headless:    false,
		UserDataDir: "bot_session",
	}
}

// Browser owns the launched Chromium and the single worker tab.
type Browser struct {
	browser *rod.Browser
	page    *rod.Page
}

// Launch starts (or reuses) a Chromium with a persistent user data dir and
// opens the worker tab.
func Launch(ctx context.Context, cfg Config) (*Browser, error) {
	l := launcher.New().Headless(cfg.Headless)
	if cfg.UserDataDir != "" {
		l = l.UserDataDir(cfg.UserDataDir)
	}
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	return &Browser{browser: b, page: page}, nil
}

// Page returns the worker tab wrapped in the capability interface.
func (b *Browser) Page() Page {
	return &rodPage{page: b.page}
}

// Close shuts down the browser.
func (b *Browser) Close() error {
	if b.page != nil {
		_ = b.page.Close()
	}
	return b.browser.Close()
}

// rodPage adapts *rod.Page to the Page interface.
type rodPage struct {
	page *rod.Page
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

func (p *rodPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	page := p.page.Context(ctx).Timeout(timeout)
	if err := page.Navigate(url); err != nil {
		return mapErr(err)
	}
	return mapErr(page.WaitLoad())
}

func (p *rodPage) Reload() error {
	return mapErr(p.page.Reload())
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) Has(selector string) bool {
	ok, _, err := p.page.Has(selector)
	return err == nil && ok
}

func (p *rodPage) FindAll(selector string) ([]Element, error) {
	els, err := p.page.Elements(selector)
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el})
	}
	return out, nil
}

func (p *rodPage) WaitFor(selector string, timeout time.Duration) error {
	_, err := p.page.Timeout(timeout).Element(selector)
	return mapErr(err)
}

func (p *rodPage) Click(selector string, timeout time.Duration) error {
	el, err := p.page.Timeout(timeout).Element(selector)
	if err != nil {
		return mapErr(err)
	}
	return mapErr(el.Timeout(timeout).Click(proto.InputMouseButtonLeft, 1))
}

func (p *rodPage) Fill(selector, text string, timeout time.Duration) error {
	el, err := p.page.Timeout(timeout).Element(selector)
	if err != nil {
		return mapErr(err)
	}
	return mapErr(el.Timeout(timeout).Input(text))
}

func (p *rodPage) PressEscape() error {
	return mapErr(p.page.Keyboard.Press(input.Escape))
}

func (p *rodPage) Scroll(deltaY float64) error {
	return mapErr(p.page.Mouse.Scroll(0, deltaY, 1))
}

func (p *rodPage) ReadyState() string {
	res, err := p.page.Eval(`() => document.readyState`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// rodElement adapts *rod.Element to the Element interface.
type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Find(selector string) (Element, bool) {
	ok, el, err := e.el.Has(selector)
	if err != nil || !ok {
		return nil, false
	}
	return &rodElement{el: el}, true
}

func (e *rodElement) Attribute(name string) (string, bool) {
	val, err := e.el.Attribute(name)
	if err != nil || val == nil {
		return "", false
	}
	return *val, true
}

func (e *rodElement) Text() (string, error) {
	return e.el.Text()
}

func (e *rodElement) Click(timeout time.Duration) error {
	return mapErr(e.el.Timeout(timeout).Click(proto.InputMouseButtonLeft, 1))
}
