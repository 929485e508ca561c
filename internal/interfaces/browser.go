package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrBrowserUnavailable marks failures to provision a browser engine or session.
// It is an orchestrator-level fault, never a case failure.
var ErrBrowserUnavailable = errors.New("browser engine unavailable")

// NavigationWait selects the page lifecycle event a navigation waits for
type NavigationWait int

const (
	// WaitDOMContentLoaded returns once the DOM is parsed
	WaitDOMContentLoaded NavigationWait = iota
	// WaitLoad returns once the page and its subresources are loaded
	WaitLoad
)

// BrowserSession is one isolated browser tab driven by a single case.
// Selectors are CSS selectors, or XPath when they start with "/".
// Implementations are not safe for concurrent use.
type BrowserSession interface {
	Navigate(ctx context.Context, url string, wait NavigationWait, timeout time.Duration) error

	// WaitPresent waits up to timeout for selector to match a node in the DOM
	WaitPresent(ctx context.Context, selector string, timeout time.Duration) error

	Click(ctx context.Context, selector string) error
	Focus(ctx context.Context, selector string) error
	Clear(ctx context.Context, selector string) error
	SendKeys(ctx context.Context, selector, text string) error
	SelectOption(ctx context.Context, selector, value string) error
	Hover(ctx context.Context, selector string) error
	ScrollBy(ctx context.Context, deltaY int) error
	ScrollTo(ctx context.Context, y int) error
	ScrollToBottom(ctx context.Context) error

	// VisibleText returns the rendered (visible) text of the page
	VisibleText(ctx context.Context) (string, error)
	// TextContent returns the raw text content of the document, hidden nodes included
	TextContent(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)

	// Screenshot returns a PNG of the current viewport
	Screenshot(ctx context.Context) ([]byte, error)
}

// SessionProvider hands out isolated browser sessions.
// release must be called exactly once, on every path.
type SessionProvider interface {
	Acquire(ctx context.Context) (session BrowserSession, release func(), err error)
}

// SelectorSuggester proposes a CSS selector for a phrase given the page HTML.
// Used as a last candidate when the heuristic cascade finds nothing.
type SelectorSuggester interface {
	SuggestSelector(ctx context.Context, phrase, html string) (string, error)
}
