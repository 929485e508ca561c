// Package runner executes a single test case against one browser session.
package runner

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/common"
	"github.com/ternarybob/labnex/internal/interfaces"
	"github.com/ternarybob/labnex/internal/models"
	"github.com/ternarybob/labnex/internal/services/executor"
	"github.com/ternarybob/labnex/internal/services/parser"
)

const screenshotTimeout = 10 * time.Second

// Options are the per-case settings taken from the run
type Options struct {
	RunID    string
	AIAssist bool
}

// CaseRunner owns one browser session for the duration of a case
type CaseRunner struct {
	provider      interfaces.SessionProvider
	executor      *executor.Executor
	fallback      Strategy
	screenshotDir string
	logger        arbor.ILogger
}

// NewCaseRunner creates a case runner. fallback handles cases without browser
// intent; nil selects SimulationStrategy.
func NewCaseRunner(provider interfaces.SessionProvider, exec *executor.Executor, fallback Strategy, screenshotDir string, logger arbor.ILogger) *CaseRunner {
	if fallback == nil {
		fallback = SimulationStrategy{}
	}
	return &CaseRunner{
		provider:      provider,
		executor:      exec,
		fallback:      fallback,
		screenshotDir: screenshotDir,
		logger:        logger,
	}
}

// NeedsBrowser reports whether any step carries navigation or interaction intent
func NeedsBrowser(tc *models.TestCase) bool {
	for _, step := range tc.Steps {
		if parser.HasBrowserIntent(step) {
			return true
		}
	}
	return false
}

// Run executes the case and returns exactly one result. Step failures, cancellation
// and panics become failed results; the error is non-nil only when no browser
// session could be provisioned, which is a fault of the whole run.
func (r *CaseRunner) Run(ctx context.Context, tc *models.TestCase, opts Options) (result models.CaseResult, err error) {
	if !NeedsBrowser(tc) {
		return r.fallback.Run(ctx, tc, opts), nil
	}

	started := time.Now()
	log := newCaseLog()
	finish := func(res models.CaseResult) models.CaseResult {
		res.TestCaseID = tc.ID
		res.StartedAt = started
		res.Logs = log.Lines()
		res.DurationMs = time.Since(started).Milliseconds()
		return res
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("run_id", opts.RunID).
				Str("case_id", tc.ID).
				Str("panic", fmt.Sprintf("%v", rec)).
				Str("stack", common.GetStackTrace()).
				Msg("Recovered from panic in case runner")
			log.Logf("Internal error: %v", rec)
			result = finish(models.CaseResult{
				Status:     models.CaseStatusFail,
				Message:    "Case aborted by an internal error",
				Error:      fmt.Sprintf("BrowserError: panic: %v", rec),
				ErrorKind:  models.ErrorKindBrowserError,
				FailedStep: models.ValidationStep,
			})
			err = nil
		}
	}()

	log.Logf("Starting case %q (%d steps)", tc.Title, len(tc.Steps))
	if ctx.Err() != nil {
		log.Logf("Run cancelled before case started")
		return finish(cancelledResult(0)), nil
	}

	session, release, acquireErr := r.provider.Acquire(ctx)
	if acquireErr != nil {
		if ctx.Err() != nil {
			log.Logf("Run cancelled while waiting for a browser session")
			return finish(cancelledResult(0)), nil
		}
		if !errors.Is(acquireErr, interfaces.ErrBrowserUnavailable) {
			acquireErr = fmt.Errorf("%w: %v", interfaces.ErrBrowserUnavailable, acquireErr)
		}
		return models.CaseResult{}, acquireErr
	}
	defer release()

	stepOpts := executor.StepOptions{AIAssist: opts.AIAssist, Logf: log.Logf}
	steps := parser.ParseAll(tc.Steps)

	for i, step := range steps {
		if ctx.Err() != nil {
			log.Logf("Run cancelled before step %d", i+1)
			return finish(cancelledResult(i)), nil
		}

		log.Logf("Step %d: %s -> %s %q", i+1, step.OriginalText, step.Action, describeTarget(step))
		if stepErr := r.executor.Execute(ctx, step, session, stepOpts); stepErr != nil {
			log.Logf("Step %d failed: %v", i+1, stepErr)
			return finish(r.failure(ctx, session, log, tc, opts, i, stepErr)), nil
		}
	}

	if ctx.Err() != nil {
		log.Logf("Run cancelled before validation")
		return finish(cancelledResult(models.ValidationStep)), nil
	}

	if validateErr := r.executor.ValidateExpected(ctx, tc.ExpectedResult, session, stepOpts); validateErr != nil {
		log.Logf("Validation failed: %v", validateErr)
		return finish(r.failure(ctx, session, log, tc, opts, models.ValidationStep, validateErr)), nil
	}

	log.Logf("Case passed")
	return finish(models.CaseResult{
		Status:     models.CaseStatusPass,
		Message:    fmt.Sprintf("All %d steps passed", len(steps)),
		FailedStep: models.ValidationStep,
	}), nil
}

// failure builds a failed result and attaches a best-effort screenshot
func (r *CaseRunner) failure(ctx context.Context, session interfaces.BrowserSession, log *caseLog, tc *models.TestCase, opts Options, stepIndex int, stepErr error) models.CaseResult {
	kind := executor.KindOf(stepErr)
	result := models.CaseResult{
		Status:     models.CaseStatusFail,
		Error:      stepErr.Error(),
		FailedStep: stepIndex,
	}

	var execErr *executor.ExecutionError
	if errors.As(stepErr, &execErr) {
		result.ErrorKind = execErr.ResultKind()
	} else {
		result.ErrorKind = models.ErrorKindBrowserError
	}

	if kind == executor.KindCancelled || ctx.Err() != nil {
		result.ErrorKind = models.ErrorKindCancelled
		result.Message = "Case cancelled"
		return result
	}

	if stepIndex == models.ValidationStep {
		result.Message = "Expected result not observed"
	} else {
		result.Message = fmt.Sprintf("Step %d failed: %s", stepIndex+1, tc.Steps[stepIndex])
	}

	// the run context may be about to end; the capture gets its own deadline
	shotCtx, cancel := context.WithTimeout(context.Background(), screenshotTimeout)
	defer cancel()
	png, err := session.Screenshot(shotCtx)
	if err != nil || len(png) == 0 {
		log.Logf("Screenshot capture failed: %v", err)
		return result
	}
	result.Screenshot = base64.StdEncoding.EncodeToString(png)
	log.Logf("Screenshot captured (%d bytes)", len(png))

	if path := r.saveScreenshot(png, opts.RunID, tc.ID); path != "" {
		log.Logf("Screenshot saved to %s", path)
	}
	return result
}

func (r *CaseRunner) saveScreenshot(png []byte, runID, caseID string) string {
	if r.screenshotDir == "" {
		return ""
	}
	if err := os.MkdirAll(r.screenshotDir, 0755); err != nil {
		r.logger.Warn().Err(err).Str("dir", r.screenshotDir).Msg("Failed to create screenshot directory")
		return ""
	}
	name := fmt.Sprintf("%s_%s_%s.png", runID, caseID, time.Now().Format("20060102-150405"))
	path := filepath.Join(r.screenshotDir, name)
	if err := os.WriteFile(path, png, 0644); err != nil {
		r.logger.Warn().Err(err).Str("path", path).Msg("Failed to write screenshot")
		return ""
	}
	return path
}

func cancelledResult(stepIndex int) models.CaseResult {
	return models.CaseResult{
		Status:     models.CaseStatusFail,
		Message:    "Case cancelled",
		Error:      "Cancelled: run cancelled",
		ErrorKind:  models.ErrorKindCancelled,
		FailedStep: stepIndex,
	}
}

func describeTarget(step models.ParsedStep) string {
	switch {
	case step.Action == models.ActionWait:
		return fmt.Sprintf("%dms", step.TimeoutMs)
	case step.Value != "":
		return step.Value + " -> " + step.Target
	default:
		return step.Target
	}
}
