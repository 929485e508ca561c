package models

import (
	"time"
)

// RunStatus is the lifecycle state of a run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true for states from which no further transition is possible
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// RunConfig is the validated execution configuration of a run
type RunConfig struct {
	Concurrency    int    `json:"concurrency" validate:"min=1"`
	Environment    string `json:"environment" validate:"max=64"`
	TimeoutMs      int64  `json:"timeout_ms" validate:"gte=0"`
	AIOptimization bool   `json:"ai_optimization"`
}

// Timeout returns the run-level timeout, zero when unset
func (c RunConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// RunResults is the running aggregate of a run.
// Passed + Failed + Pending == Total at every observable point.
type RunResults struct {
	Total      int   `json:"total"`
	Passed     int   `json:"passed"`
	Failed     int   `json:"failed"`
	Pending    int   `json:"pending"`
	DurationMs int64 `json:"duration_ms"`
}

// Completed returns the number of cases with a terminal result
func (r RunResults) Completed() int {
	return r.Passed + r.Failed
}

// CaseEntry is the per-case slot of a run: pending until a result is recorded
type CaseEntry struct {
	Pending bool        `json:"pending"`
	Result  *CaseResult `json:"result,omitempty"`
}

// Run is the aggregate root for one execution batch.
// Only the orchestrator mutates a run; everyone else works on Clone() snapshots.
type Run struct {
	ID          string               `json:"id"`
	ProjectRef  string               `json:"project_ref" badgerhold:"index"`
	TestCaseIDs []string             `json:"test_case_ids"`
	Config      RunConfig            `json:"config"`
	Status      RunStatus            `json:"status" badgerhold:"index"`
	Results     RunResults           `json:"results"`
	CaseResults map[string]CaseEntry `json:"case_results"`
	Error       string               `json:"error,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// NewRun creates a run in pending state with every case marked pending
func NewRun(id, projectRef string, testCaseIDs []string, config RunConfig) *Run {
	ids := make([]string, 0, len(testCaseIDs))
	entries := make(map[string]CaseEntry, len(testCaseIDs))
	for _, caseID := range testCaseIDs {
		if _, dup := entries[caseID]; dup {
			continue
		}
		ids = append(ids, caseID)
		entries[caseID] = CaseEntry{Pending: true}
	}

	return &Run{
		ID:          id,
		ProjectRef:  projectRef,
		TestCaseIDs: ids,
		Config:      config,
		Status:      RunStatusPending,
		Results: RunResults{
			Total:   len(ids),
			Pending: len(ids),
		},
		CaseResults: entries,
		CreatedAt:   time.Now(),
	}
}

// IsTerminal reports whether the run reached a final state
func (r *Run) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// MarkRunning transitions pending -> running. Returns false for any other state.
func (r *Run) MarkRunning(now time.Time) bool {
	if r.Status != RunStatusPending {
		return false
	}
	r.Status = RunStatusRunning
	r.StartedAt = &now
	return true
}

// RecordResult stores the result of a pending case and updates the aggregate.
// It returns false when the run is terminal, the case is unknown or already recorded.
func (r *Run) RecordResult(caseID string, result CaseResult) bool {
	if r.IsTerminal() {
		return false
	}
	entry, ok := r.CaseResults[caseID]
	if !ok || !entry.Pending {
		return false
	}

	res := result
	r.CaseResults[caseID] = CaseEntry{Pending: false, Result: &res}
	r.Results.Pending--
	if res.Status == CaseStatusPass {
		r.Results.Passed++
	} else {
		r.Results.Failed++
	}
	return true
}

// AllRecorded reports whether every case has a result
func (r *Run) AllRecorded() bool {
	return r.Results.Pending == 0
}

// Finish moves the run into a terminal state. Returns false if it already was terminal
// or the target status is not terminal.
func (r *Run) Finish(status RunStatus, now time.Time, errMsg string) bool {
	if r.IsTerminal() || !status.IsTerminal() {
		return false
	}
	r.Status = status
	r.CompletedAt = &now
	if errMsg != "" {
		r.Error = errMsg
	}
	if r.StartedAt != nil {
		r.Results.DurationMs = now.Sub(*r.StartedAt).Milliseconds()
	}
	return true
}

// Clone returns a deep copy safe to hand to readers, storage and subscribers
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	out := *r
	out.TestCaseIDs = append([]string(nil), r.TestCaseIDs...)
	out.CaseResults = make(map[string]CaseEntry, len(r.CaseResults))
	for id, entry := range r.CaseResults {
		if entry.Result != nil {
			res := *entry.Result
			res.Logs = append([]string(nil), entry.Result.Logs...)
			entry.Result = &res
		}
		out.CaseResults[id] = entry
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
