// Package browser wraps the automated Chromium instance behind a small
// capability interface. The pipeline only ever talks to Page and Element;
// it never sees rod types or raw markup.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a browser operation does not complete within
// its deadline. Callers match it with errors.Is.
var ErrTimeout = errors.New("browser: operation timed out")

// Element is a handle to a DOM node. Handles are borrowed from the page for
// the duration of one scan cycle and must not be kept across cycles.
type Element interface {
	// Find returns a child element matching selector, without waiting.
	Find(selector string) (Element, bool)
	// Attribute returns the named attribute value. ok is false when the
	// attribute is absent.
	Attribute(name string) (string, bool)
	// Text returns the rendered text of the element and its children.
	Text() (string, error)
	// Click clicks the element, failing with ErrTimeout after timeout.
	Click(timeout time.Duration) error
}

// Page is the capability surface the pipeline uses to drive one browser tab.
type Page interface {
	// Navigate loads url and waits for the load event, bounded by timeout.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// Reload reloads the current page.
	Reload() error
	// URL returns the current location.
	URL() string
	// Has reports whether selector matches right now, without waiting.
	Has(selector string) bool
	// FindAll returns all elements matching selector, without waiting.
	FindAll(selector string) ([]Element, error)
	// WaitFor blocks until selector appears or timeout elapses.
	WaitFor(selector string, timeout time.Duration) error
	// Click finds selector and clicks it within timeout.
	Click(selector string, timeout time.Duration) error
	// Fill writes text into the element matching selector within timeout.
	Fill(selector, text string, timeout time.Duration) error
	// PressEscape sends the Escape key to the page.
	PressEscape() error
	// Scroll scrolls the page down by deltaY pixels.
	Scroll(deltaY float64) error
	// ReadyState returns document.readyState ("loading", "interactive",
	// "complete"), or "" when it cannot be read.
	ReadyState() string
}
