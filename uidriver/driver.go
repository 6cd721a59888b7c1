// Package uidriver declares the capabilities the automation engine needs
// from a controllable UI session. The engine never constructs a driver; it
// receives one. internal/browser provides the Chrome implementation and
// uidrivertest a scripted one for tests.
//
// Lookups are result-typed: Find returns zero or more elements, WaitUntil
// returns an element or an error wrapping ErrTimeout. Missing elements are
// values, not panics.
package uidriver

import (
	"context"
	"errors"
	"time"

	"github.com/hazyhaar/autoinvite/locator"
)

var (
	// ErrTimeout means a wait expired before its condition held.
	ErrTimeout = errors.New("uidriver: wait timed out")
	// ErrNotFound means no element matched a locator.
	ErrNotFound = errors.New("uidriver: element not found")
	// ErrDetached means an element handle no longer belongs to the page.
	ErrDetached = errors.New("uidriver: element detached")
)

// Condition is what WaitUntil waits for.
type Condition int

const (
	// Present: the element is attached to the document.
	Present Condition = iota
	// Clickable: the element is visible and enabled.
	Clickable
)

func (c Condition) String() string {
	switch c {
	case Present:
		return "present"
	case Clickable:
		return "clickable"
	}
	return "unknown"
}

// Element is an opaque handle to an element on the current page.
// Handles are only valid for the driver that produced them.
type Element interface {
	Text(ctx context.Context) (string, error)
	// Attribute returns the value and whether the attribute is set.
	Attribute(ctx context.Context, name string) (string, bool, error)
	// HTML returns the element's outer markup.
	HTML(ctx context.Context) (string, error)
	// Find looks up descendants. XPath locators must be relative ("./...").
	Find(ctx context.Context, loc locator.Locator) ([]Element, error)
}

// Driver is the capability set of a single UI session. Implementations are
// driven from one goroutine at a time.
type Driver interface {
	Find(ctx context.Context, loc locator.Locator) ([]Element, error)
	WaitUntil(ctx context.Context, loc locator.Locator, cond Condition, timeout time.Duration) (Element, error)
	// MoveTo moves pointer focus onto the element (hover).
	MoveTo(ctx context.Context, el Element) error
	Click(ctx context.Context, el Element) error
	ScrollIntoView(ctx context.Context, el Element) error
	NavigateBack(ctx context.Context) error
	PageMarkup(ctx context.Context) (string, error)
	// HasEnabledControl reports whether a matching element exists and is enabled.
	HasEnabledControl(ctx context.Context, loc locator.Locator) (bool, error)
}
