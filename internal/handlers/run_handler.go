package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/common"
	"github.com/ternarybob/labnex/internal/interfaces"
	"github.com/ternarybob/labnex/internal/models"
	"github.com/ternarybob/labnex/internal/services/orchestrator"
)

const runsPrefix = "/api/runs/"

// runConfigRequest overlays the server defaults; omitted fields keep the default
type runConfigRequest struct {
	Concurrency    *int    `json:"concurrency"`
	Environment    *string `json:"environment"`
	TimeoutMs      *int64  `json:"timeout_ms"`
	AIOptimization *bool   `json:"ai_optimization"`
}

type startRunRequest struct {
	ProjectRef  string            `json:"project_ref"`
	TestCaseIDs []string          `json:"test_case_ids"`
	Config      *runConfigRequest `json:"config"`
}

// RunHandler starts, lists, inspects and cancels runs
type RunHandler struct {
	orchestrator       interfaces.RunOrchestrator
	runs               interfaces.RunStorage
	testCases          interfaces.TestCaseStorage
	defaultEnvironment string
	logger             arbor.ILogger
}

func NewRunHandler(
	orch interfaces.RunOrchestrator,
	runs interfaces.RunStorage,
	testCases interfaces.TestCaseStorage,
	defaultEnvironment string,
	logger arbor.ILogger,
) *RunHandler {
	return &RunHandler{
		orchestrator:       orch,
		runs:               runs,
		testCases:          testCases,
		defaultEnvironment: defaultEnvironment,
		logger:             logger,
	}
}

// StartRunHandler handles POST /api/runs. With no test_case_ids every case of
// project_ref is run.
func (h *RunHandler) StartRunHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req startRunRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ids, err := h.resolveTestCases(r, &req)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Failed to resolve run test cases")
		WriteError(w, http.StatusInternalServerError, "Failed to load test cases")
		return
	}

	config := h.buildConfig(req.Config)
	run := models.NewRun(common.NewRunID(), req.ProjectRef, ids, config)

	if err := h.orchestrator.StartRun(r.Context(), run); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrInvalidRunConfig), errors.Is(err, orchestrator.ErrNoTestCases):
			WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, orchestrator.ErrRunExists):
			WriteError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error().Err(err).Str("run_id", run.ID).Msg("Failed to start run")
			WriteError(w, http.StatusInternalServerError, "Failed to start run")
		}
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{"id": run.ID})
}

// ListRunsHandler handles GET /api/runs with project_ref/status filters
func (h *RunHandler) ListRunsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	opts := GetListOptions(r)
	runs, err := h.runs.ListRuns(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list runs")
		WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []*models.Run{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":   runs,
		"count":  len(runs),
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// ItemHandler routes GET /api/runs/{id} and POST /api/runs/{id}/cancel
func (h *RunHandler) ItemHandler(w http.ResponseWriter, r *http.Request) {
	id := PathID(r.URL.Path, runsPrefix)
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Run id is required")
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/cancel"):
		if !RequireMethod(w, r, http.MethodPost) {
			return
		}
		h.cancel(w, r, id)
	case r.URL.Path == runsPrefix+id:
		if !RequireMethod(w, r, http.MethodGet) {
			return
		}
		h.get(w, r, id)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

func (h *RunHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.orchestrator.GetRun(r.Context(), id)
	if err != nil {
		writeStorageError(w, err, "Run")
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

// cancel reports cancelled=true only for the call that performed the cancellation
func (h *RunHandler) cancel(w http.ResponseWriter, r *http.Request, id string) {
	if h.orchestrator.CancelRun(id) {
		h.logger.Info().Str("run_id", id).Msg("Run cancelled via API")
		WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "cancelled": true})
		return
	}

	run, err := h.orchestrator.GetRun(r.Context(), id)
	if err != nil {
		writeStorageError(w, err, "Run")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"id":        id,
		"cancelled": false,
		"status":    run.Status,
	})
}

func (h *RunHandler) resolveTestCases(r *http.Request, req *startRunRequest) ([]string, error) {
	if len(req.TestCaseIDs) > 0 {
		cases, err := h.testCases.LoadTestCases(r.Context(), req.TestCaseIDs)
		if err != nil {
			return nil, err
		}
		if req.ProjectRef == "" && len(cases) > 0 {
			req.ProjectRef = cases[0].ProjectRef
		}
		return req.TestCaseIDs, nil
	}

	if req.ProjectRef == "" {
		return nil, nil
	}

	cases, err := h.testCases.ListTestCases(r.Context(), &interfaces.ListOptions{ProjectRef: req.ProjectRef})
	if err != nil {
		return nil, fmt.Errorf("failed to list project test cases: %w", err)
	}
	ids := make([]string, 0, len(cases))
	for _, tc := range cases {
		ids = append(ids, tc.ID)
	}
	return ids, nil
}

func (h *RunHandler) buildConfig(req *runConfigRequest) models.RunConfig {
	config := h.orchestrator.DefaultRunConfig()
	config.Environment = h.defaultEnvironment
	if req == nil {
		return config
	}
	if req.Concurrency != nil {
		config.Concurrency = *req.Concurrency
	}
	if req.Environment != nil {
		config.Environment = *req.Environment
	}
	if req.TimeoutMs != nil {
		config.TimeoutMs = *req.TimeoutMs
	}
	if req.AIOptimization != nil {
		config.AIOptimization = *req.AIOptimization
	}
	return config
}
