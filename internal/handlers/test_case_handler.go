package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/interfaces"
	"github.com/ternarybob/labnex/internal/models"
)

const testCasesPrefix = "/api/testcases/"

// testCaseRequest is the writable part of a test case
type testCaseRequest struct {
	ID             string   `json:"id"`
	ProjectRef     string   `json:"project_ref"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Steps          []string `json:"steps"`
	ExpectedResult string   `json:"expected_result"`
}

// TestCaseHandler serves CRUD over stored test cases
type TestCaseHandler struct {
	storage interfaces.TestCaseStorage
	logger  arbor.ILogger
}

func NewTestCaseHandler(storage interfaces.TestCaseStorage, logger arbor.ILogger) *TestCaseHandler {
	return &TestCaseHandler{
		storage: storage,
		logger:  logger,
	}
}

// ListHandler returns test cases, optionally filtered by project_ref
func (h *TestCaseHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	opts := GetListOptions(r)
	cases, err := h.storage.ListTestCases(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list test cases")
		WriteError(w, http.StatusInternalServerError, "Failed to list test cases")
		return
	}
	if cases == nil {
		cases = []*models.TestCase{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"test_cases": cases,
		"count":      len(cases),
		"limit":      opts.Limit,
		"offset":     opts.Offset,
	})
}

// CreateHandler stores a new test case and returns it with its assigned id
func (h *TestCaseHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req testCaseRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.ID != "" {
		if _, err := h.storage.GetTestCase(r.Context(), req.ID); err == nil {
			WriteError(w, http.StatusConflict, "Test case "+req.ID+" already exists")
			return
		}
	}

	tc := &models.TestCase{
		ID:             req.ID,
		ProjectRef:     req.ProjectRef,
		Title:          req.Title,
		Description:    req.Description,
		Steps:          req.Steps,
		ExpectedResult: req.ExpectedResult,
	}
	if !h.save(w, r, tc) {
		return
	}

	h.logger.Info().
		Str("test_case_id", tc.ID).
		Str("project_ref", tc.ProjectRef).
		Int("steps", len(tc.Steps)).
		Msg("Test case created")

	WriteJSON(w, http.StatusCreated, tc)
}

// ItemHandler routes GET/PUT/DELETE /api/testcases/{id}
func (h *TestCaseHandler) ItemHandler(w http.ResponseWriter, r *http.Request) {
	id := PathID(r.URL.Path, testCasesPrefix)
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Test case id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodPut:
		h.update(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *TestCaseHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	tc, err := h.storage.GetTestCase(r.Context(), id)
	if err != nil {
		writeStorageError(w, err, "Test case")
		return
	}
	WriteJSON(w, http.StatusOK, tc)
}

func (h *TestCaseHandler) update(w http.ResponseWriter, r *http.Request, id string) {
	existing, err := h.storage.GetTestCase(r.Context(), id)
	if err != nil {
		writeStorageError(w, err, "Test case")
		return
	}

	var req testCaseRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ID != "" && req.ID != id {
		WriteError(w, http.StatusBadRequest, "Test case id cannot be changed")
		return
	}

	existing.ProjectRef = req.ProjectRef
	existing.Title = req.Title
	existing.Description = req.Description
	existing.Steps = req.Steps
	existing.ExpectedResult = req.ExpectedResult
	if !h.save(w, r, existing) {
		return
	}

	h.logger.Debug().Str("test_case_id", id).Msg("Test case updated")
	WriteJSON(w, http.StatusOK, existing)
}

func (h *TestCaseHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.storage.GetTestCase(r.Context(), id); err != nil {
		writeStorageError(w, err, "Test case")
		return
	}
	if err := h.storage.DeleteTestCase(r.Context(), id); err != nil {
		h.logger.Error().Err(err).Str("test_case_id", id).Msg("Failed to delete test case")
		WriteError(w, http.StatusInternalServerError, "Failed to delete test case")
		return
	}

	h.logger.Info().Str("test_case_id", id).Msg("Test case deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (h *TestCaseHandler) save(w http.ResponseWriter, r *http.Request, tc *models.TestCase) bool {
	if err := h.storage.SaveTestCase(r.Context(), tc); err != nil {
		if errors.Is(err, interfaces.ErrInvalidTestCase) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return false
		}
		h.logger.Error().Err(err).Str("test_case_id", tc.ID).Msg("Failed to save test case")
		WriteError(w, http.StatusInternalServerError, "Failed to save test case")
		return false
	}
	return true
}
