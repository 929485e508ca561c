// Package browsertest provides in-memory BrowserSession and SessionProvider fakes.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/labnex/internal/interfaces"
)

// ErrNotPresent is returned by WaitPresent for selectors the fake page does not contain
var ErrNotPresent = errors.New("element not present")

// Session is a scripted fake page. Zero value is an empty page with no elements.
type Session struct {
	mu sync.Mutex

	Present     map[string]bool
	Visible     string
	Raw         string
	CurrentURL  string
	HTMLContent string

	// NavigateErrs is consumed one entry per Navigate call; nil entries succeed
	NavigateErrs []error
	// StepDelay is slept (interruptibly) in Navigate and WaitPresent
	StepDelay time.Duration

	ActionErr     error
	ScreenshotPNG []byte
	ScreenshotErr error

	// OnAction runs after a successful Click/SendKeys/SelectOption/Hover
	OnAction func(s *Session, action, selector, value string)

	calls []string
}

var _ interfaces.BrowserSession = (*Session)(nil)

// NewSession creates a fake page containing the given selectors
func NewSession(present ...string) *Session {
	s := &Session{Present: map[string]bool{}, ScreenshotPNG: []byte("\x89PNG fake")}
	for _, sel := range present {
		s.Present[sel] = true
	}
	return s
}

// Calls returns the recorded calls as "Method:arg" strings
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CallsWithPrefix returns recorded calls starting with prefix
func (s *Session) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range s.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// SetPresent adds or removes a selector from the fake DOM
func (s *Session) SetPresent(selector string, present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Present == nil {
		s.Present = map[string]bool{}
	}
	s.Present[selector] = present
}

func (s *Session) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *Session) delay(ctx context.Context) error {
	if s.StepDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.StepDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Navigate(ctx context.Context, url string, wait interfaces.NavigationWait, timeout time.Duration) error {
	s.record(fmt.Sprintf("Navigate:%s:%d", url, wait))
	if err := s.delay(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.NavigateErrs) > 0 {
		err := s.NavigateErrs[0]
		s.NavigateErrs = s.NavigateErrs[1:]
		if err != nil {
			return err
		}
	}
	s.CurrentURL = url
	return nil
}

func (s *Session) WaitPresent(ctx context.Context, selector string, timeout time.Duration) error {
	s.record("WaitPresent:" + selector)
	if err := s.delay(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Present[selector] {
		return nil
	}
	return ErrNotPresent
}

func (s *Session) act(action, selector, value string) error {
	s.record(action + ":" + selector)
	s.mu.Lock()
	err := s.ActionErr
	hook := s.OnAction
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(s, action, selector, value)
	}
	return nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	return s.act("Click", selector, "")
}

func (s *Session) Focus(ctx context.Context, selector string) error {
	s.record("Focus:" + selector)
	return nil
}

func (s *Session) Clear(ctx context.Context, selector string) error {
	s.record("Clear:" + selector)
	return nil
}

func (s *Session) SendKeys(ctx context.Context, selector, text string) error {
	return s.act("SendKeys", selector, text)
}

func (s *Session) SelectOption(ctx context.Context, selector, value string) error {
	return s.act("SelectOption", selector, value)
}

func (s *Session) Hover(ctx context.Context, selector string) error {
	return s.act("Hover", selector, "")
}

func (s *Session) ScrollBy(ctx context.Context, deltaY int) error {
	s.record(fmt.Sprintf("ScrollBy:%d", deltaY))
	return nil
}

func (s *Session) ScrollTo(ctx context.Context, y int) error {
	s.record(fmt.Sprintf("ScrollTo:%d", y))
	return nil
}

func (s *Session) ScrollToBottom(ctx context.Context) error {
	s.record("ScrollToBottom")
	return nil
}

func (s *Session) VisibleText(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Visible, nil
}

func (s *Session) TextContent(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Visible + " " + s.Raw, nil
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.HTMLContent, nil
}

func (s *Session) URL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CurrentURL, nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	s.record("Screenshot")
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ScreenshotPNG, s.ScreenshotErr
}

// Provider hands out sessions built by NewSessionFunc and counts acquisitions
type Provider struct {
	NewSessionFunc func() *Session
	AcquireErr     error

	acquired atomic.Int64
	released atomic.Int64
	active   atomic.Int64
	peak     atomic.Int64

	mu       sync.Mutex
	sessions []*Session
}

var _ interfaces.SessionProvider = (*Provider)(nil)

// NewProvider creates a provider whose sessions are built by newSession
func NewProvider(newSession func() *Session) *Provider {
	return &Provider{NewSessionFunc: newSession}
}

func (p *Provider) Acquire(ctx context.Context) (interfaces.BrowserSession, func(), error) {
	if p.AcquireErr != nil {
		return nil, nil, p.AcquireErr
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var session *Session
	if p.NewSessionFunc != nil {
		session = p.NewSessionFunc()
	} else {
		session = NewSession()
	}

	p.mu.Lock()
	p.sessions = append(p.sessions, session)
	p.mu.Unlock()

	p.acquired.Add(1)
	active := p.active.Add(1)
	for {
		peak := p.peak.Load()
		if active <= peak || p.peak.CompareAndSwap(peak, active) {
			break
		}
	}

	var once sync.Once
	return session, func() {
		once.Do(func() {
			p.released.Add(1)
			p.active.Add(-1)
		})
	}, nil
}

// Acquired returns how many sessions were handed out
func (p *Provider) Acquired() int64 { return p.acquired.Load() }

// Released returns how many sessions were released
func (p *Provider) Released() int64 { return p.released.Load() }

// Peak returns the highest number of simultaneously held sessions
func (p *Provider) Peak() int64 { return p.peak.Load() }

// Sessions returns every session handed out so far
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}
