package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/labnex/internal/models"
)

// Kind classifies step failures
type Kind string

const (
	KindTargetNotFound   Kind = "TargetNotFound"
	KindAssertionFailed  Kind = "AssertionFailed"
	KindNavigationFailed Kind = "NavigationFailed"
	KindBrowserError     Kind = "BrowserError"
	KindCancelled        Kind = "Cancelled"
)

// Sentinel errors, one per kind, for errors.Is checks
var (
	ErrTargetNotFound   = errors.New("target not found")
	ErrAssertionFailed  = errors.New("assertion failed")
	ErrNavigationFailed = errors.New("navigation failed")
	ErrBrowserError     = errors.New("browser error")
	ErrCancelled        = errors.New("cancelled")
)

var kindSentinels = map[Kind]error{
	KindTargetNotFound:   ErrTargetNotFound,
	KindAssertionFailed:  ErrAssertionFailed,
	KindNavigationFailed: ErrNavigationFailed,
	KindBrowserError:     ErrBrowserError,
	KindCancelled:        ErrCancelled,
}

var resultKinds = map[Kind]string{
	KindTargetNotFound:   models.ErrorKindTargetNotFound,
	KindAssertionFailed:  models.ErrorKindAssertionFailed,
	KindNavigationFailed: models.ErrorKindNavigationFailed,
	KindBrowserError:     models.ErrorKindBrowserError,
	KindCancelled:        models.ErrorKindCancelled,
}

// ExecutionError is the only error type returned by Execute
type ExecutionError struct {
	Kind   Kind
	Action models.StepAction
	Target string
	Detail string
	Tried  []string // locator candidates attempted, in order
	Err    error
}

func (e *ExecutionError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if len(e.Tried) > 0 {
		fmt.Fprintf(&b, " (tried %d locator candidates)", len(e.Tried))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind
func (e *ExecutionError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// ResultKind returns the CaseResult error kind for this failure
func (e *ExecutionError) ResultKind() string {
	return resultKinds[e.Kind]
}

// KindOf extracts the kind of an execution error, KindBrowserError for foreign errors
func KindOf(err error) Kind {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindBrowserError
}

func newError(kind Kind, step models.ParsedStep, detail string, err error) *ExecutionError {
	return &ExecutionError{
		Kind:   kind,
		Action: step.Action,
		Target: step.Target,
		Detail: detail,
		Err:    err,
	}
}

func cancelledError(step models.ParsedStep, err error) *ExecutionError {
	return newError(KindCancelled, step, "run cancelled", err)
}
