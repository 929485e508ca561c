package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/labnex/internal/common"
	"github.com/ternarybob/labnex/internal/interfaces"
	"github.com/ternarybob/labnex/internal/models"
)

// TestCaseStorage implements interfaces.TestCaseStorage on badgerhold
type TestCaseStorage struct {
	db       *BadgerDB
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewTestCaseStorage creates a TestCaseStorage
func NewTestCaseStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TestCaseStorage {
	return &TestCaseStorage{db: db, validate: validator.New(), logger: logger}
}

// SaveTestCase validates and upserts a case, assigning an ID and timestamps as needed
func (s *TestCaseStorage) SaveTestCase(ctx context.Context, tc *models.TestCase) error {
	if err := s.validate.Struct(tc); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidTestCase, err)
	}
	if tc.ID == "" {
		tc.ID = common.NewTestCaseID()
	}
	now := time.Now()
	if tc.CreatedAt.IsZero() {
		tc.CreatedAt = now
	}
	tc.UpdatedAt = now

	if err := s.db.Store().Upsert(tc.ID, tc); err != nil {
		return fmt.Errorf("failed to save test case: %w", err)
	}
	return nil
}

func (s *TestCaseStorage) GetTestCase(ctx context.Context, id string) (*models.TestCase, error) {
	var tc models.TestCase
	if err := s.db.Store().Get(id, &tc); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("test case %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get test case: %w", err)
	}
	return &tc, nil
}

// ListTestCases returns cases ordered by creation time, oldest first
func (s *TestCaseStorage) ListTestCases(ctx context.Context, opts *interfaces.ListOptions) ([]*models.TestCase, error) {
	query := badgerhold.Where("ID").Ne("")
	if opts != nil && opts.ProjectRef != "" {
		query = badgerhold.Where("ProjectRef").Eq(opts.ProjectRef).Index("ProjectRef")
	}

	var cases []models.TestCase
	if err := s.db.Store().Find(&cases, query); err != nil {
		return nil, fmt.Errorf("failed to list test cases: %w", err)
	}

	sort.SliceStable(cases, func(i, j int) bool {
		if cases[i].CreatedAt.Equal(cases[j].CreatedAt) {
			return cases[i].ID < cases[j].ID
		}
		return cases[i].CreatedAt.Before(cases[j].CreatedAt)
	})

	out := make([]*models.TestCase, 0, len(cases))
	for i := range cases {
		out = append(out, &cases[i])
	}
	return paginate(out, opts), nil
}

func (s *TestCaseStorage) DeleteTestCase(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.TestCase{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("test case %s: %w", id, interfaces.ErrNotFound)
		}
		return fmt.Errorf("failed to delete test case: %w", err)
	}
	return nil
}

func (s *TestCaseStorage) CountTestCases(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.TestCase{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count test cases: %w", err)
	}
	return int(count), nil
}

// LoadTestCases fetches cases in the order of ids; any missing id fails the call
func (s *TestCaseStorage) LoadTestCases(ctx context.Context, ids []string) ([]*models.TestCase, error) {
	out := make([]*models.TestCase, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tc, err := s.GetTestCase(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, nil
}

func paginate[T any](items []T, opts *interfaces.ListOptions) []T {
	if opts == nil {
		return items
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return items[:0]
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
