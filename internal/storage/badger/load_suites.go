package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/labnex/internal/common"
	"github.com/ternarybob/labnex/internal/interfaces"
	"github.com/ternarybob/labnex/internal/models"
)

// ErrUnsupportedSuiteFormat is returned for suite content that is neither TOML nor YAML
var ErrUnsupportedSuiteFormat = errors.New("unsupported suite format")

// ParseSuiteFile reads a .toml, .yaml or .yml suite file
func ParseSuiteFile(path string) (*models.Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file %s: %w", path, err)
	}

	suite, err := DecodeSuite(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return suite, nil
}

// DecodeSuite parses and validates suite content. format is "toml", "yaml" or
// "yml", with or without a leading dot.
func DecodeSuite(data []byte, format string) (*models.Suite, error) {
	var suite models.Suite
	var err error
	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "toml":
		err = toml.Unmarshal(data, &suite)
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &suite)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSuiteFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse suite: %w", err)
	}

	if err := suite.Validate(); err != nil {
		return nil, err
	}
	return &suite, nil
}

// SuiteTestCases converts suite entries to test cases. Entries without an ID get
// one derived from project and title, so reloading a file updates in place.
func SuiteTestCases(suite *models.Suite) []*models.TestCase {
	out := make([]*models.TestCase, 0, len(suite.TestCases))
	for _, entry := range suite.TestCases {
		id := entry.ID
		if id == "" {
			id = common.StableTestCaseID(suite.ProjectRef, entry.Title)
		}
		out = append(out, &models.TestCase{
			ID:             id,
			ProjectRef:     suite.ProjectRef,
			Title:          entry.Title,
			Description:    entry.Description,
			Steps:          append([]string(nil), entry.Steps...),
			ExpectedResult: entry.ExpectedResult,
		})
	}
	return out
}

// ImportSuite saves every case of the suite, keeping the creation time of cases
// that already exist
func ImportSuite(ctx context.Context, storage interfaces.TestCaseStorage, suite *models.Suite) ([]*models.TestCase, error) {
	cases := SuiteTestCases(suite)
	for _, tc := range cases {
		if existing, err := storage.GetTestCase(ctx, tc.ID); err == nil {
			tc.CreatedAt = existing.CreatedAt
		}
		if err := storage.SaveTestCase(ctx, tc); err != nil {
			return nil, fmt.Errorf("failed to save test case %q: %w", tc.Title, err)
		}
	}
	return cases, nil
}

// LoadSuitesFromFiles imports every suite file in dir. Unreadable files are
// logged and skipped; a missing directory is not an error.
func LoadSuitesFromFiles(ctx context.Context, storage interfaces.TestCaseStorage, dir string, logger arbor.ILogger) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug().Str("dir", dir).Msg("Suites directory does not exist, skipping")
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read suites directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".toml", ".yaml", ".yml":
		default:
			continue
		}

		suite, err := ParseSuiteFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to load suite file")
			continue
		}

		cases, err := ImportSuite(ctx, storage, suite)
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to import suite")
			continue
		}
		loaded += len(cases)

		logger.Debug().
			Str("file", entry.Name()).
			Str("project_ref", suite.ProjectRef).
			Int("test_cases", len(cases)).
			Msg("Suite loaded")
	}

	logger.Info().Str("dir", dir).Int("test_cases", loaded).Msg("Suites loaded from files")
	return nil
}
