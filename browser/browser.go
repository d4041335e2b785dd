// Package browser drives a real browser for unsubscribe pages that need a
// click. Callers only see the narrow Session interface, so the unsubscribe
// logic can be tested with a fake that never launches a browser.
package browser

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("no matching element")

// Selector locates an interactive element by XPath.
type Selector struct {
	Name  string
	XPath string
}

// Element is an opaque handle returned by FindFirst and accepted by Click.
type Element any

// Session is one isolated browsing session. Close must be called on every
// exit path.
type Session interface {
	Navigate(url string) error
	// FindFirst tries each selector in order, waiting up to timeout for each,
	// and returns the first element found. It returns ErrNotFound when no
	// selector matched in time.
	FindFirst(selectors []Selector, timeout time.Duration) (Element, Selector, error)
	Click(el Element) error
	Close() error
}

// Launcher starts new sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// UnsubscribeSelectors are tried in priority order: a button, a link, then a
// submit input whose rendered text or value contains "unsubscribe".
var UnsubscribeSelectors = []Selector{
	{Name: "button", XPath: `//button[contains(translate(., 'UNSUBSCRIBE', 'unsubscribe'), 'unsubscribe')]`},
	{Name: "link", XPath: `//a[contains(translate(., 'UNSUBSCRIBE', 'unsubscribe'), 'unsubscribe')]`},
	{Name: "submit", XPath: `//input[@type='submit'][contains(translate(@value, 'UNSUBSCRIBE', 'unsubscribe'), 'unsubscribe')]`},
}
