package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/labnex/internal/interfaces"
	"github.com/ternarybob/labnex/internal/models"
)

// RunStorage implements interfaces.RunStorage on badgerhold
type RunStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunStorage creates a RunStorage
func NewRunStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RunStorage {
	return &RunStorage{db: db, logger: logger}
}

// SaveRun upserts a run snapshot
func (s *RunStorage) SaveRun(ctx context.Context, run *models.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if err := s.db.Store().Upsert(run.ID, run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (s *RunStorage) GetRun(ctx context.Context, id string) (*models.Run, error) {
	var run models.Run
	if err := s.db.Store().Get(id, &run); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("run %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run.CaseResults == nil {
		run.CaseResults = make(map[string]models.CaseEntry)
	}
	return &run, nil
}

// ListRuns returns runs newest first, optionally filtered by project and status
func (s *RunStorage) ListRuns(ctx context.Context, opts *interfaces.ListOptions) ([]*models.Run, error) {
	query := badgerhold.Where("ID").Ne("")
	if opts != nil {
		switch {
		case opts.ProjectRef != "" && opts.Status != "":
			query = badgerhold.Where("ProjectRef").Eq(opts.ProjectRef).Index("ProjectRef").
				And("Status").Eq(models.RunStatus(opts.Status))
		case opts.ProjectRef != "":
			query = badgerhold.Where("ProjectRef").Eq(opts.ProjectRef).Index("ProjectRef")
		case opts.Status != "":
			query = badgerhold.Where("Status").Eq(models.RunStatus(opts.Status)).Index("Status")
		}
	}

	var runs []models.Run
	if err := s.db.Store().Find(&runs, query); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	out := make([]*models.Run, 0, len(runs))
	for i := range runs {
		out = append(out, &runs[i])
	}
	return paginate(out, opts), nil
}

func (s *RunStorage) DeleteRun(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Run{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("run %s: %w", id, interfaces.ErrNotFound)
		}
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}
