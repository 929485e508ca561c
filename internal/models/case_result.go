package models

import "time"

// CaseStatus is the verdict of one test case execution
type CaseStatus string

const (
	CaseStatusPass CaseStatus = "pass"
	CaseStatusFail CaseStatus = "fail"
)

// Failure classes recorded on failed case results
const (
	ErrorKindTargetNotFound   = "target_not_found"
	ErrorKindAssertionFailed  = "assertion_failed"
	ErrorKindNavigationFailed = "navigation_failed"
	ErrorKindBrowserError     = "browser_error"
	ErrorKindCancelled        = "cancelled"
)

// ValidationStep is the FailedStep value used when expected-result validation failed
const ValidationStep = -1

// CaseResult is produced exactly once per test case execution and is immutable once emitted.
// Error and ErrorKind are set iff Status is fail. Screenshot is a base64 PNG, set only
// for failures where the capture succeeded.
type CaseResult struct {
	TestCaseID string     `json:"test_case_id"`
	Status     CaseStatus `json:"status"`
	Message    string     `json:"message"`
	Error      string     `json:"error,omitempty"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	FailedStep int        `json:"failed_step"`
	Logs       []string   `json:"logs"`
	Screenshot string     `json:"screenshot,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	StartedAt  time.Time  `json:"started_at"`
}

// Passed reports whether the case passed
func (r *CaseResult) Passed() bool {
	return r != nil && r.Status == CaseStatusPass
}
