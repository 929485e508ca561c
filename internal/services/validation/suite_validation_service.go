// -----------------------------------------------------------------------
// Package validation checks suite content before it is imported
// -----------------------------------------------------------------------

package validation

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/models"
	"github.com/ternarybob/labnex/internal/services/parser"
	"github.com/ternarybob/labnex/internal/storage/badger"
)

// SuiteValidationService dry-runs the step parser over suite content
type SuiteValidationService struct {
	logger arbor.ILogger
}

// CasePreview is how one suite case will be interpreted
type CasePreview struct {
	ID        string              `json:"id"`
	Title     string              `json:"title"`
	Simulated bool                `json:"simulated"`
	Steps     []models.ParsedStep `json:"steps"`
}

// ValidationResult contains the result of suite validation
type ValidationResult struct {
	Valid    bool          `json:"valid"`
	Error    string        `json:"error,omitempty"`
	Message  string        `json:"message"`
	Warnings []string      `json:"warnings,omitempty"`
	Suite    *models.Suite `json:"-"`
	Cases    []CasePreview `json:"cases,omitempty"`
}

// NewSuiteValidationService creates a new SuiteValidationService
func NewSuiteValidationService(logger arbor.ILogger) *SuiteValidationService {
	return &SuiteValidationService{
		logger: logger,
	}
}

// ValidateSuite decodes content in the given format ("toml" or "yaml") and reports
// how every step will be parsed. Parsing never fails, so steps that fall back to a
// whole-text click are reported as warnings rather than errors.
func (s *SuiteValidationService) ValidateSuite(ctx context.Context, content, format string) ValidationResult {
	suite, err := badger.DecodeSuite([]byte(content), format)
	if err != nil {
		return ValidationResult{
			Valid:   false,
			Error:   err.Error(),
			Message: fmt.Sprintf("Suite validation failed: %v", err),
		}
	}

	result := ValidationResult{
		Valid: true,
		Suite: suite,
	}

	for _, tc := range badger.SuiteTestCases(suite) {
		preview := CasePreview{
			ID:        tc.ID,
			Title:     tc.Title,
			Simulated: true,
			Steps:     parser.ParseAll(tc.Steps),
		}

		for i, step := range preview.Steps {
			if parser.HasBrowserIntent(step.OriginalText) {
				preview.Simulated = false
			}
			if step.Action == models.ActionClick && step.Target == strings.TrimSpace(step.OriginalText) {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("%s: step %d %q has no recognized keyword and will be treated as a click on the whole text", tc.Title, i+1, step.OriginalText))
			}
		}
		if len(tc.Steps) == 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: case has no steps and will fail", tc.Title))
		} else if preview.Simulated {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: no browser steps, the case will run without a browser", tc.Title))
		}

		result.Cases = append(result.Cases, preview)
	}

	result.Message = fmt.Sprintf("Suite %s is valid (%d cases, %d warnings)", suite.ProjectRef, len(result.Cases), len(result.Warnings))

	s.logger.Debug().
		Str("project_ref", suite.ProjectRef).
		Int("cases", len(result.Cases)).
		Int("warnings", len(result.Warnings)).
		Msg("Suite validated")

	return result
}
