package models

import (
	"encoding/json"
	"time"
)

// RunEventType discriminates run progress notifications.
// The string values are the wire contract of the progress stream.
type RunEventType string

const (
	RunEventStarted       RunEventType = "started"
	RunEventProgress      RunEventType = "progress"
	RunEventTestCompleted RunEventType = "test_completed"
	RunEventCompleted     RunEventType = "completed"
	RunEventCancelled     RunEventType = "cancelled"
	RunEventError         RunEventType = "error"
)

// IsTerminal reports whether the event closes the run's stream
func (t RunEventType) IsTerminal() bool {
	return t == RunEventCompleted || t == RunEventCancelled || t == RunEventError
}

// RunEvent is a transient progress notification. Events are never persisted;
// a reconnecting subscriber re-fetches the Run instead of replaying them.
type RunEvent struct {
	Type      RunEventType
	RunID     string
	Completed int
	Total     int
	CaseID    string
	Result    *CaseResult
	Run       *Run
	Message   string
	Timestamp time.Time
}

// NewStartedEvent announces dispatch start
func NewStartedEvent(run *Run) RunEvent {
	return RunEvent{Type: RunEventStarted, RunID: run.ID, Total: run.Results.Total, Timestamp: time.Now()}
}

// NewProgressEvent reflects the aggregate at the moment of emission
func NewProgressEvent(run *Run) RunEvent {
	return RunEvent{
		Type:      RunEventProgress,
		RunID:     run.ID,
		Completed: run.Results.Completed(),
		Total:     run.Results.Total,
		Timestamp: time.Now(),
	}
}

// NewTestCompletedEvent carries a single case result
func NewTestCompletedEvent(runID, caseID string, result CaseResult) RunEvent {
	res := result
	return RunEvent{Type: RunEventTestCompleted, RunID: runID, CaseID: caseID, Result: &res, Timestamp: time.Now()}
}

// NewTerminalEvent carries the final run snapshot (completed or cancelled)
func NewTerminalEvent(eventType RunEventType, run *Run) RunEvent {
	return RunEvent{Type: eventType, RunID: run.ID, Run: run, Timestamp: time.Now()}
}

// NewErrorEvent reports an orchestrator-level fault
func NewErrorEvent(runID, message string) RunEvent {
	return RunEvent{Type: RunEventError, RunID: runID, Message: message, Timestamp: time.Now()}
}

// MarshalJSON emits only the fields belonging to the event type
func (e RunEvent) MarshalJSON() ([]byte, error) {
	payload := map[string]interface{}{
		"type":      e.Type,
		"runId":     e.RunID,
		"timestamp": e.Timestamp.Format(time.RFC3339Nano),
	}

	switch e.Type {
	case RunEventStarted:
		payload["total"] = e.Total
	case RunEventProgress:
		payload["completed"] = e.Completed
		payload["total"] = e.Total
	case RunEventTestCompleted:
		payload["caseId"] = e.CaseID
		payload["result"] = e.Result
	case RunEventCompleted, RunEventCancelled:
		payload["run"] = e.Run
	case RunEventError:
		payload["message"] = e.Message
	}

	return json.Marshal(payload)
}
