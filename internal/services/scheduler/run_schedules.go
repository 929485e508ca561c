package scheduler

import (
	"context"
	"fmt"

	"github.com/ternarybob/labnex/internal/common"
	"github.com/ternarybob/labnex/internal/interfaces"
	"github.com/ternarybob/labnex/internal/models"
)

// RunStarter creates and starts runs; satisfied by the orchestrator
type RunStarter interface {
	DefaultRunConfig() models.RunConfig
	StartRun(ctx context.Context, run *models.Run) error
}

// RegisterRunSchedule registers a job that starts a run over every test case of
// entry.ProjectRef each time the schedule fires
func (s *Service) RegisterRunSchedule(entry common.ScheduleEntry, starter RunStarter, testCases interfaces.TestCaseStorage) error {
	if entry.ProjectRef == "" {
		return fmt.Errorf("schedule %s has no project_ref", entry.Name)
	}

	name := entry.Name
	handler := func() error {
		runID, err := startProjectRun(context.Background(), entry, starter, testCases)
		if runID != "" {
			s.setLastRunID(name, runID)
		}
		return err
	}

	return s.register(&jobEntry{
		name:       name,
		schedule:   entry.Schedule,
		projectRef: entry.ProjectRef,
		handler:    handler,
		enabled:    entry.Enabled,
	})
}

// RegisterRunSchedules registers every configured schedule, logging and skipping
// entries that cannot be registered
func (s *Service) RegisterRunSchedules(entries []common.ScheduleEntry, starter RunStarter, testCases interfaces.TestCaseStorage) int {
	registered := 0
	for _, entry := range entries {
		if err := s.RegisterRunSchedule(entry, starter, testCases); err != nil {
			s.logger.Warn().Err(err).Str("schedule", entry.Name).Msg("Skipping run schedule")
			continue
		}
		registered++
	}
	return registered
}

func startProjectRun(ctx context.Context, entry common.ScheduleEntry, starter RunStarter, testCases interfaces.TestCaseStorage) (string, error) {
	cases, err := testCases.ListTestCases(ctx, &interfaces.ListOptions{ProjectRef: entry.ProjectRef})
	if err != nil {
		return "", fmt.Errorf("failed to list test cases for %s: %w", entry.ProjectRef, err)
	}
	if len(cases) == 0 {
		return "", fmt.Errorf("project %s has no test cases", entry.ProjectRef)
	}

	ids := make([]string, 0, len(cases))
	for _, tc := range cases {
		ids = append(ids, tc.ID)
	}

	config := starter.DefaultRunConfig()
	if entry.Concurrency > 0 {
		config.Concurrency = entry.Concurrency
	}
	config.Environment = entry.Environment

	run := models.NewRun(common.NewRunID(), entry.ProjectRef, ids, config)
	if err := starter.StartRun(ctx, run); err != nil {
		return "", fmt.Errorf("failed to start scheduled run: %w", err)
	}
	return run.ID, nil
}
