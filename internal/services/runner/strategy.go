package runner

import (
	"context"
	"time"

	"github.com/ternarybob/labnex/internal/models"
)

// Strategy executes cases that carry no browser automation intent
type Strategy interface {
	Name() string
	Run(ctx context.Context, tc *models.TestCase, opts Options) models.CaseResult
}

// SimulationStrategy produces a deterministic result without a browser:
// a case with steps passes, a case without steps fails.
type SimulationStrategy struct{}

var _ Strategy = SimulationStrategy{}

func (SimulationStrategy) Name() string {
	return "simulation"
}

func (SimulationStrategy) Run(ctx context.Context, tc *models.TestCase, opts Options) models.CaseResult {
	started := time.Now()
	log := newCaseLog()
	log.Logf("Case %q has no navigation or interaction steps; running without a browser", tc.Title)

	result := models.CaseResult{
		TestCaseID: tc.ID,
		StartedAt:  started,
		FailedStep: models.ValidationStep,
	}

	switch {
	case ctx.Err() != nil:
		log.Logf("Run cancelled before case started")
		result.Status = models.CaseStatusFail
		result.Message = "Case cancelled"
		result.Error = "Cancelled: run cancelled"
		result.ErrorKind = models.ErrorKindCancelled
		result.FailedStep = 0
	case len(tc.Steps) == 0:
		log.Logf("Case has no steps")
		result.Status = models.CaseStatusFail
		result.Message = "Test case has no steps"
		result.Error = "AssertionFailed: test case has no steps to execute"
		result.ErrorKind = models.ErrorKindAssertionFailed
	default:
		for i, step := range tc.Steps {
			log.Logf("Step %d: %s (no browser action)", i+1, step)
		}
		result.Status = models.CaseStatusPass
		result.Message = "No browser automation required"
	}

	result.Logs = log.Lines()
	result.DurationMs = time.Since(started).Milliseconds()
	return result
}
