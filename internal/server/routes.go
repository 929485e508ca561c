package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route - run progress stream
	mux.HandleFunc("/ws/runs/", s.app.RunStreamHandler.HandleRunStream)

	// API routes - Test cases
	mux.HandleFunc("/api/testcases", RouteResourceCollection(
		s.app.TestCaseHandler.ListHandler,
		s.app.TestCaseHandler.CreateHandler,
	))
	mux.HandleFunc("/api/testcases/", s.app.TestCaseHandler.ItemHandler) // GET/PUT/DELETE /{id}

	// API routes - Runs
	mux.HandleFunc("/api/runs", RouteResourceCollection(
		s.app.RunHandler.ListRunsHandler,
		s.app.RunHandler.StartRunHandler,
	))
	mux.HandleFunc("/api/runs/", s.app.RunHandler.ItemHandler) // GET /{id}, POST /{id}/cancel

	// API routes - Suites
	mux.HandleFunc("/api/suites", s.app.SuiteHandler.ImportHandler)            // POST raw TOML/YAML
	mux.HandleFunc("/api/suites/validate", s.app.SuiteHandler.ValidateHandler) // POST dry-run

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.Handle("/metrics", promhttp.Handler())

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}
