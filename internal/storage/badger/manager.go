package badger

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/common"
	"github.com/ternarybob/labnex/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db        *BadgerDB
	testCases interfaces.TestCaseStorage
	runs      interfaces.RunStorage
	logger    arbor.ILogger
}

// NewManager opens the database and creates the storages on top of it
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:        db,
		testCases: NewTestCaseStorage(db, logger),
		runs:      NewRunStorage(db, logger),
		logger:    logger,
	}

	logger.Debug().Bool("in_memory", config.InMemory).Msg("Badger storage manager initialized")

	return manager, nil
}

// TestCaseStorage returns the test case storage
func (m *Manager) TestCaseStorage() interfaces.TestCaseStorage {
	return m.testCases
}

// RunStorage returns the run storage
func (m *Manager) RunStorage() interfaces.RunStorage {
	return m.runs
}

// LoadSuitesFromFiles imports suite files from dirPath
func (m *Manager) LoadSuitesFromFiles(ctx context.Context, dirPath string) error {
	return LoadSuitesFromFiles(ctx, m.testCases, dirPath, m.logger)
}

// DB returns the underlying badgerhold store
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
