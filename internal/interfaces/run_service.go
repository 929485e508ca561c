package interfaces

import (
	"context"

	"github.com/ternarybob/labnex/internal/models"
)

// RunOrchestrator owns run lifecycles
type RunOrchestrator interface {
	// DefaultRunConfig returns the configuration applied to requests that omit fields
	DefaultRunConfig() models.RunConfig

	// StartRun validates the run and begins executing it in the background
	StartRun(ctx context.Context, run *models.Run) error

	// CancelRun returns true only for the call that performed the cancellation
	CancelRun(runID string) bool

	// GetRun returns a snapshot of the run, from memory or storage
	GetRun(ctx context.Context, runID string) (*models.Run, error)

	// ActiveRuns returns snapshots of all runs still executing
	ActiveRuns() []*models.Run
}

// SubscriberAuthorizer decides whether a token may watch a run
type SubscriberAuthorizer interface {
	AuthorizeSubscriber(token, runID string) bool
}

// RunEventPublisher fans run events out to subscribers.
// Publish must never block the caller.
type RunEventPublisher interface {
	Publish(event models.RunEvent)

	// CloseRun tears down a run's subscribers after its terminal event
	CloseRun(runID string)
}
