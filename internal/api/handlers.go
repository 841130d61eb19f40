package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	ExtensionsLoaded int    `json:"extensions_loaded"`
	HookBindings     int    `json:"hook_bindings"`
	Routes           int    `json:"routes"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report, err := s.reporter.Report()
	if err != nil {
		s.logger.Error("failed to build report", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:           "ok",
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		ExtensionsLoaded: len(report.Extensions),
		HookBindings:     len(report.Bindings),
		Routes:           len(report.Routes),
	})
}

// handleReport handles GET /v1/report.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.reporter.Report()
	if err != nil {
		s.logger.Error("failed to build report", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// handleExtensions handles GET /v1/extensions.
func (s *Server) handleExtensions(w http.ResponseWriter, r *http.Request) {
	report, err := s.reporter.Report()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	respondJSON(w, http.StatusOK, report.Extensions)
}

// handleHooks handles GET /v1/hooks.
func (s *Server) handleHooks(w http.ResponseWriter, r *http.Request) {
	report, err := s.reporter.Report()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	respondJSON(w, http.StatusOK, report.Bindings)
}

// handleRoutes handles GET /v1/routes.
func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	report, err := s.reporter.Report()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	respondJSON(w, http.StatusOK, report.Routes)
}

// handleAudit handles GET /v1/audit?limit=N.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		s.writeError(w, http.StatusNotFound, "audit log not available")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read audit log", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read audit log")
		return
	}
	respondJSON(w, http.StatusOK, records)
}

// respondJSON writes data as a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
