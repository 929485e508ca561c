package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/interfaces"
	"github.com/ternarybob/labnex/internal/services/validation"
	"github.com/ternarybob/labnex/internal/storage/badger"
)

// SuiteHandler validates and imports TOML/YAML suites sent as the raw request body
type SuiteHandler struct {
	validator *validation.SuiteValidationService
	testCases interfaces.TestCaseStorage
	logger    arbor.ILogger
}

func NewSuiteHandler(validator *validation.SuiteValidationService, testCases interfaces.TestCaseStorage, logger arbor.ILogger) *SuiteHandler {
	return &SuiteHandler{
		validator: validator,
		testCases: testCases,
		logger:    logger,
	}
}

// ValidateHandler handles POST /api/suites/validate?format=toml|yaml
func (h *SuiteHandler) ValidateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	content, ok := readSuiteBody(w, r)
	if !ok {
		return
	}

	result := h.validator.ValidateSuite(r.Context(), content, suiteFormat(r))
	status := http.StatusOK
	if !result.Valid {
		status = http.StatusBadRequest
	}
	WriteJSON(w, status, result)
}

// ImportHandler handles POST /api/suites?format=toml|yaml, upserting every case
func (h *SuiteHandler) ImportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	content, ok := readSuiteBody(w, r)
	if !ok {
		return
	}

	suite, err := badger.DecodeSuite([]byte(content), suiteFormat(r))
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	cases, err := badger.ImportSuite(r.Context(), h.testCases, suite)
	if err != nil {
		if errors.Is(err, interfaces.ErrInvalidTestCase) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("project_ref", suite.ProjectRef).Msg("Failed to import suite")
		WriteError(w, http.StatusInternalServerError, "Failed to import suite")
		return
	}

	ids := make([]string, 0, len(cases))
	for _, tc := range cases {
		ids = append(ids, tc.ID)
	}

	h.logger.Info().
		Str("project_ref", suite.ProjectRef).
		Int("test_cases", len(ids)).
		Msg("Suite imported via API")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"project_ref":   suite.ProjectRef,
		"test_case_ids": ids,
		"count":         len(ids),
	})
}

func readSuiteBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Failed to read request body")
		return "", false
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		WriteError(w, http.StatusBadRequest, "Suite content is empty")
		return "", false
	}
	return string(data), true
}

// suiteFormat takes ?format= first, then the content type, defaulting to TOML
func suiteFormat(r *http.Request) string {
	if format := r.URL.Query().Get("format"); format != "" {
		return format
	}
	if strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "yaml") {
		return "yaml"
	}
	return "toml"
}
