// Package browser drives Chrome through chromedp for case runners.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/ternarybob/labnex/internal/interfaces"
	"github.com/ternarybob/labnex/internal/services/selectors"
)

// actionTimeout bounds single DOM actions once their element is known to exist
const actionTimeout = 30 * time.Second

// Session is one chromedp tab
type Session struct {
	tabCtx context.Context
}

var _ interfaces.BrowserSession = (*Session)(nil)

func newSession(tabCtx context.Context) *Session {
	return &Session{tabCtx: tabCtx}
}

// scoped derives an action context from the tab that also ends when ctx ends.
// Cancelling it aborts the action without closing the tab.
func (s *Session) scoped(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	actionCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return actionCtx, func() {
		stop()
		cancel()
	}
}

func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	actionCtx, cancel := s.scoped(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(actionCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func queryOption(selector string) chromedp.QueryOption {
	if selectors.IsXPath(selector) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// Navigate loads url and waits for the requested lifecycle event
func (s *Session) Navigate(ctx context.Context, url string, wait interfaces.NavigationWait, timeout time.Duration) error {
	navCtx, cancel := s.scoped(ctx, timeout)
	defer cancel()

	reached := make(chan struct{}, 1)
	chromedp.ListenTarget(navCtx, func(ev interface{}) {
		switch ev.(type) {
		case *page.EventDomContentEventFired:
			if wait != interfaces.WaitDOMContentLoaded {
				return
			}
		case *page.EventLoadEventFired:
		default:
			return
		}
		select {
		case reached <- struct{}{}:
		default:
		}
	})

	var res page.NavigateReturns
	err := chromedp.Run(navCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res)
	}))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if res.ErrorText != "" {
		return fmt.Errorf("navigate to %s: %s", url, res.ErrorText)
	}

	select {
	case <-reached:
		return nil
	case <-navCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("navigate to %s: timed out after %s waiting for page", url, timeout)
	}
}

func (s *Session) WaitPresent(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, timeout, chromedp.WaitReady(selector, queryOption(selector)))
}

func (s *Session) Click(ctx context.Context, selector string) error {
	return s.run(ctx, actionTimeout, chromedp.Click(selector, queryOption(selector)))
}

func (s *Session) Focus(ctx context.Context, selector string) error {
	return s.run(ctx, actionTimeout, chromedp.Focus(selector, queryOption(selector)))
}

func (s *Session) Clear(ctx context.Context, selector string) error {
	return s.run(ctx, actionTimeout, chromedp.Clear(selector, queryOption(selector)))
}

func (s *Session) SendKeys(ctx context.Context, selector, text string) error {
	return s.run(ctx, actionTimeout, chromedp.SendKeys(selector, text, queryOption(selector)))
}

// SelectOption picks the option of a <select> whose value or label matches value
func (s *Session) SelectOption(ctx context.Context, selector, value string) error {
	script, err := callScript(selectOptionJS, selector, selectors.IsXPath(selector), value)
	if err != nil {
		return err
	}

	var outcome string
	if err := s.run(ctx, actionTimeout, chromedp.Evaluate(script, &outcome)); err != nil {
		return err
	}
	switch outcome {
	case "ok":
		return nil
	case "missing":
		return fmt.Errorf("no element matches %s", selector)
	case "not-select":
		return fmt.Errorf("element %s is not a select", selector)
	default:
		return fmt.Errorf("no option %q in %s", value, selector)
	}
}

// Hover moves the mouse over the centre of the element
func (s *Session) Hover(ctx context.Context, selector string) error {
	script, err := callScript(elementCenterJS, selector, selectors.IsXPath(selector))
	if err != nil {
		return err
	}

	var point struct {
		X     float64 `json:"x"`
		Y     float64 `json:"y"`
		Found bool    `json:"found"`
	}
	if err := s.run(ctx, actionTimeout,
		chromedp.ScrollIntoView(selector, queryOption(selector)),
		chromedp.Evaluate(script, &point),
	); err != nil {
		return err
	}
	if !point.Found {
		return fmt.Errorf("no element matches %s", selector)
	}
	return s.run(ctx, actionTimeout, chromedp.MouseEvent(input.MouseMoved, point.X, point.Y))
}

func (s *Session) ScrollBy(ctx context.Context, deltaY int) error {
	return s.run(ctx, actionTimeout, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", deltaY), nil))
}

func (s *Session) ScrollTo(ctx context.Context, y int) error {
	return s.run(ctx, actionTimeout, chromedp.Evaluate(fmt.Sprintf("window.scrollTo(0, %d)", y), nil))
}

func (s *Session) ScrollToBottom(ctx context.Context) error {
	return s.run(ctx, actionTimeout, chromedp.Evaluate(scrollBottomJS, nil))
}

func (s *Session) VisibleText(ctx context.Context) (string, error) {
	var text string
	err := s.run(ctx, actionTimeout, chromedp.Evaluate(visibleTextJS, &text))
	return text, err
}

// TextContent returns the text of every node, hidden ones included, minus scripts and styles
func (s *Session) TextContent(ctx context.Context) (string, error) {
	html, err := s.HTML(ctx)
	if err != nil {
		return "", err
	}
	return ExtractText(html)
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, actionTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (s *Session) URL(ctx context.Context) (string, error) {
	var location string
	err := s.run(ctx, actionTimeout, chromedp.Location(&location))
	return location, err
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, actionTimeout, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

// ExtractText returns the raw text content of an HTML document
func ExtractText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse page html: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()
	return strings.Join(strings.Fields(doc.Text()), " "), nil
}

// callScript renders an immediately-invoked function with JSON-encoded arguments
func callScript(fn string, args ...interface{}) (string, error) {
	encoded := make([]string, 0, len(args))
	for _, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			return "", fmt.Errorf("encode script argument: %w", err)
		}
		encoded = append(encoded, string(b))
	}
	return fmt.Sprintf("(%s)(%s)", fn, strings.Join(encoded, ", ")), nil
}
