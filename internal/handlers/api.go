package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/common"
	"github.com/ternarybob/labnex/internal/models"
)

// ActiveRunCounter reports runs that are still executing
type ActiveRunCounter interface {
	ActiveRuns() []*models.Run
}

type APIHandler struct {
	runs   ActiveRunCounter
	logger arbor.ILogger
}

func NewAPIHandler(runs ActiveRunCounter, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		runs:   runs,
		logger: logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.Version,
		"build":      common.Build,
		"git_commit": common.GitCommit,
	})
}

// HealthHandler returns health check status
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	active := 0
	if h.runs != nil {
		active = len(h.runs.ActiveRuns())
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"active_runs": active,
	})
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
