package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/labnex/internal/models"
)

// ErrNotFound is returned by storage lookups when the record does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidTestCase is returned when a test case fails validation on save
var ErrInvalidTestCase = errors.New("invalid test case")

// TestCaseStorage - interface for test case persistence
type TestCaseStorage interface {
	SaveTestCase(ctx context.Context, tc *models.TestCase) error
	GetTestCase(ctx context.Context, id string) (*models.TestCase, error)
	ListTestCases(ctx context.Context, opts *ListOptions) ([]*models.TestCase, error)
	DeleteTestCase(ctx context.Context, id string) error
	CountTestCases(ctx context.Context) (int, error)

	// LoadTestCases returns the requested cases in the order given.
	// Any missing id fails the whole call.
	LoadTestCases(ctx context.Context, ids []string) ([]*models.TestCase, error)
}

// RunStorage - interface for run persistence (the PersistRunState collaborator)
type RunStorage interface {
	SaveRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, opts *ListOptions) ([]*models.Run, error)
	DeleteRun(ctx context.Context, id string) error
}

// ListOptions filters and paginates list queries
type ListOptions struct {
	ProjectRef string
	Status     string
	Limit      int
	Offset     int
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	TestCaseStorage() TestCaseStorage
	RunStorage() RunStorage

	// LoadSuitesFromFiles imports TOML/YAML suite files from dirPath into test case storage
	LoadSuitesFromFiles(ctx context.Context, dirPath string) error

	DB() interface{}
	Close() error
}
