// Package executor performs parsed steps against a browser session.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/common"
	"github.com/ternarybob/labnex/internal/interfaces"
	"github.com/ternarybob/labnex/internal/models"
	"github.com/ternarybob/labnex/internal/services/parser"
	"github.com/ternarybob/labnex/internal/services/selectors"
)

// Options holds the executor's timing configuration
type Options struct {
	InteractionWait   time.Duration // presence wait per candidate for click/type/select/hover
	AssertionWait     time.Duration // presence wait per candidate for assertions
	NavigationTimeout time.Duration // first tier, DOMContentLoaded
	NavigationRetry   time.Duration // second tier, full load
	ScrollStep        int           // pixels moved by "scroll up/down"

	// MaxValidationCandidates caps the locator probes used when validating an
	// expected result, which is usually a sentence rather than a locator
	MaxValidationCandidates int
}

// OptionsFromConfig builds executor options from the browser configuration
func OptionsFromConfig(config common.BrowserConfig) Options {
	return Options{
		InteractionWait:         config.InteractionWait,
		AssertionWait:           config.AssertionWait,
		NavigationTimeout:       config.NavigationTimeout,
		NavigationRetry:         config.NavigationRetry,
		ScrollStep:              600,
		MaxValidationCandidates: 8,
	}
}

func (o Options) withDefaults() Options {
	if o.InteractionWait <= 0 {
		o.InteractionWait = 5 * time.Second
	}
	if o.AssertionWait <= 0 {
		o.AssertionWait = 2 * time.Second
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = 30 * time.Second
	}
	if o.NavigationRetry <= 0 {
		o.NavigationRetry = 60 * time.Second
	}
	if o.ScrollStep <= 0 {
		o.ScrollStep = 600
	}
	if o.MaxValidationCandidates <= 0 {
		o.MaxValidationCandidates = 8
	}
	return o
}

// StepOptions carries per-case settings into a single Execute call
type StepOptions struct {
	// AIAssist allows one extra suggested locator once the cascade is exhausted
	AIAssist bool
	// Logf receives human-readable progress lines for the case log
	Logf func(format string, args ...interface{})
}

func (o StepOptions) logf(format string, args ...interface{}) {
	if o.Logf != nil {
		o.Logf(format, args...)
	}
}

// Executor performs parsed steps. It holds no per-case state and is safe for concurrent use.
type Executor struct {
	opts      Options
	suggester interfaces.SelectorSuggester
	logger    arbor.ILogger
}

// NewExecutor creates an executor. suggester may be nil.
func NewExecutor(opts Options, suggester interfaces.SelectorSuggester, logger arbor.ILogger) *Executor {
	return &Executor{
		opts:      opts.withDefaults(),
		suggester: suggester,
		logger:    logger,
	}
}

// Execute performs one step. Every returned error is an *ExecutionError.
func (e *Executor) Execute(ctx context.Context, step models.ParsedStep, session interfaces.BrowserSession, opts StepOptions) error {
	if err := ctx.Err(); err != nil {
		return cancelledError(step, err)
	}

	switch step.Action {
	case models.ActionNavigate:
		return e.navigate(ctx, step, session, opts)
	case models.ActionClick:
		return e.interact(ctx, step, session, opts, func(sel string) error {
			return session.Click(ctx, sel)
		})
	case models.ActionType:
		return e.interact(ctx, step, session, opts, func(sel string) error {
			return e.typeInto(ctx, sel, step.Value, session, opts)
		})
	case models.ActionSelect:
		return e.interact(ctx, step, session, opts, func(sel string) error {
			return session.SelectOption(ctx, sel, step.Value)
		})
	case models.ActionHover:
		return e.interact(ctx, step, session, opts, func(sel string) error {
			return session.Hover(ctx, sel)
		})
	case models.ActionWait:
		return e.wait(ctx, step, opts)
	case models.ActionScroll:
		return e.scroll(ctx, step, session)
	case models.ActionAssert:
		return e.assert(ctx, step, session, opts)
	default:
		return newError(KindBrowserError, step, fmt.Sprintf("unsupported action %q", step.Action), nil)
	}
}

func (e *Executor) navigate(ctx context.Context, step models.ParsedStep, session interfaces.BrowserSession, opts StepOptions) error {
	url := parser.NormalizeURL(step.Target)
	if url == "" {
		return newError(KindNavigationFailed, step, "no url to navigate to", nil)
	}

	err := session.Navigate(ctx, url, interfaces.WaitDOMContentLoaded, e.opts.NavigationTimeout)
	if err == nil {
		opts.logf("Navigated to %s", url)
		return nil
	}
	if ctx.Err() != nil {
		return cancelledError(step, ctx.Err())
	}

	opts.logf("Navigation to %s did not reach DOMContentLoaded (%v), retrying with full load wait", url, err)
	e.logger.Debug().Err(err).Str("url", url).Msg("First navigation tier failed")

	if err := session.Navigate(ctx, url, interfaces.WaitLoad, e.opts.NavigationRetry); err != nil {
		if ctx.Err() != nil {
			return cancelledError(step, ctx.Err())
		}
		return newError(KindNavigationFailed, step, "could not load "+url, err)
	}
	opts.logf("Navigated to %s after retry", url)
	return nil
}

// interact locates the step's target and applies act to the first present candidate
func (e *Executor) interact(ctx context.Context, step models.ParsedStep, session interfaces.BrowserSession, opts StepOptions, act func(sel string) error) error {
	sel, err := e.locate(ctx, step, session, opts)
	if err != nil {
		return err
	}

	if err := act(sel); err != nil {
		if ctx.Err() != nil {
			return cancelledError(step, ctx.Err())
		}
		return newError(KindBrowserError, step, fmt.Sprintf("%s on %s failed", step.Action, sel), err)
	}
	opts.logf("%s %s", actionVerb(step.Action), sel)
	return nil
}

// locate walks the candidate cascade and returns the first candidate present
// within the interaction wait. Later candidates are never attempted.
func (e *Executor) locate(ctx context.Context, step models.ParsedStep, session interfaces.BrowserSession, opts StepOptions) (string, error) {
	if strings.TrimSpace(step.Target) == "" {
		return "", newError(KindTargetNotFound, step, "step has no target", nil)
	}

	cascade := selectors.Resolve(step.Target)
	var tried []string
	for {
		candidate, ok := cascade.Next()
		if !ok {
			break
		}
		if ctx.Err() != nil {
			return "", cancelledError(step, ctx.Err())
		}
		tried = append(tried, candidate)
		if err := session.WaitPresent(ctx, candidate, e.opts.InteractionWait); err == nil {
			return candidate, nil
		}
	}
	if ctx.Err() != nil {
		return "", cancelledError(step, ctx.Err())
	}

	if opts.AIAssist && e.suggester != nil {
		if sel, ok := e.suggest(ctx, step.Target, session, tried, e.opts.InteractionWait, opts); ok {
			return sel, nil
		}
		tried = append(tried, "ai-suggestion")
	}

	execErr := newError(KindTargetNotFound, step, fmt.Sprintf("no element matches %q", step.Target), nil)
	execErr.Tried = tried
	return "", execErr
}

// suggest asks the configured suggester for one more candidate
func (e *Executor) suggest(ctx context.Context, phrase string, session interfaces.BrowserSession, tried []string, wait time.Duration, opts StepOptions) (string, bool) {
	html, err := session.HTML(ctx)
	if err != nil {
		e.logger.Debug().Err(err).Msg("Could not read page HTML for selector suggestion")
		return "", false
	}

	sel, err := e.suggester.SuggestSelector(ctx, phrase, html)
	if err != nil || sel == "" {
		if err != nil {
			e.logger.Warn().Err(err).Str("phrase", phrase).Msg("Selector suggestion failed")
		}
		return "", false
	}
	for _, t := range tried {
		if t == sel {
			return "", false
		}
	}

	if err := session.WaitPresent(ctx, sel, wait); err != nil {
		opts.logf("Suggested locator %s for %q not present", sel, phrase)
		return "", false
	}
	opts.logf("Using suggested locator %s for %q", sel, phrase)
	return sel, true
}

func (e *Executor) typeInto(ctx context.Context, sel, value string, session interfaces.BrowserSession, opts StepOptions) error {
	if err := session.Focus(ctx, sel); err != nil {
		return err
	}
	if err := session.Clear(ctx, sel); err != nil {
		// non-input targets (contenteditable) cannot be cleared
		opts.logf("Could not clear %s: %v", sel, err)
	}
	return session.SendKeys(ctx, sel, value)
}

func (e *Executor) wait(ctx context.Context, step models.ParsedStep, opts StepOptions) error {
	ms := step.TimeoutMs
	if ms <= 0 {
		ms = models.DefaultWaitMs
	}

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		opts.logf("Waited %dms", ms)
		return nil
	case <-ctx.Done():
		return cancelledError(step, ctx.Err())
	}
}

func (e *Executor) scroll(ctx context.Context, step models.ParsedStep, session interfaces.BrowserSession) error {
	var err error
	switch step.Target {
	case models.ScrollTop:
		err = session.ScrollTo(ctx, 0)
	case models.ScrollBottom:
		err = session.ScrollToBottom(ctx)
	case models.ScrollUp:
		err = session.ScrollBy(ctx, -e.opts.ScrollStep)
	default:
		err = session.ScrollBy(ctx, e.opts.ScrollStep)
	}
	if err != nil {
		if ctx.Err() != nil {
			return cancelledError(step, ctx.Err())
		}
		return newError(KindBrowserError, step, "scroll failed", err)
	}
	return nil
}

func (e *Executor) assert(ctx context.Context, step models.ParsedStep, session interfaces.BrowserSession, opts StepOptions) error {
	if strings.TrimSpace(step.Target) == "" {
		return newError(KindAssertionFailed, step, "nothing to assert", nil)
	}

	found, how, err := e.verify(ctx, step.Target, session, false, 0)
	if err != nil {
		return cancelledError(step, err)
	}
	if !found {
		return newError(KindAssertionFailed, step, fmt.Sprintf("%q not found on page", step.Target), nil)
	}
	opts.logf("Assertion passed: %q found (%s)", step.Target, how)
	return nil
}

// ValidateExpected checks the expected result of a case against the final page:
// visible text, then raw text content, then the URL, then locator candidates.
// An empty expectation always passes.
func (e *Executor) ValidateExpected(ctx context.Context, expected string, session interfaces.BrowserSession, opts StepOptions) error {
	expected = strings.TrimRight(strings.TrimSpace(expected), ".")
	step := models.ParsedStep{Action: models.ActionAssert, Target: expected, OriginalText: expected}
	if expected == "" {
		opts.logf("No expected result to validate")
		return nil
	}

	found, how, err := e.verify(ctx, expected, session, true, e.opts.MaxValidationCandidates)
	if err != nil {
		return cancelledError(step, err)
	}
	if !found {
		return newError(KindAssertionFailed, step, fmt.Sprintf("expected result %q not observed", expected), nil)
	}
	opts.logf("Expected result observed (%s)", how)
	return nil
}

// verify runs the tiered presence check. maxCandidates <= 0 means no cap.
// The returned error is non-nil only when ctx ended.
func (e *Executor) verify(ctx context.Context, target string, session interfaces.BrowserSession, checkURL bool, maxCandidates int) (bool, string, error) {
	needle := strings.ToLower(target)

	if text, err := session.VisibleText(ctx); err == nil && strings.Contains(strings.ToLower(text), needle) {
		return true, "visible text", nil
	}
	if ctx.Err() != nil {
		return false, "", ctx.Err()
	}

	if text, err := session.TextContent(ctx); err == nil && strings.Contains(strings.ToLower(text), needle) {
		return true, "text content", nil
	}
	if ctx.Err() != nil {
		return false, "", ctx.Err()
	}

	if checkURL {
		if location, err := session.URL(ctx); err == nil && strings.Contains(strings.ToLower(location), needle) {
			return true, "url", nil
		}
	}

	cascade := selectors.Resolve(target)
	for attempts := 0; maxCandidates <= 0 || attempts < maxCandidates; attempts++ {
		candidate, ok := cascade.Next()
		if !ok {
			break
		}
		if ctx.Err() != nil {
			return false, "", ctx.Err()
		}
		if err := session.WaitPresent(ctx, candidate, e.opts.AssertionWait); err == nil {
			return true, "element " + candidate, nil
		}
	}
	if ctx.Err() != nil {
		return false, "", ctx.Err()
	}
	return false, "", nil
}

func actionVerb(action models.StepAction) string {
	switch action {
	case models.ActionClick:
		return "Clicked"
	case models.ActionType:
		return "Typed into"
	case models.ActionSelect:
		return "Selected option in"
	case models.ActionHover:
		return "Hovered over"
	default:
		return string(action)
	}
}
