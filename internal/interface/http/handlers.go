package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/classlens/classlens-monitor/internal/application/query"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"
	"github.com/classlens/classlens-monitor/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// healthStatus is the response body of /healthz.
type healthStatus struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealth reports overall service health including backing stores.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := healthStatus{
		Status: "ok",
		Uptime: s.Uptime().String(),
		Checks: make(map[string]string, len(s.deps.HealthCheckers)),
	}

	httpStatus := http.StatusOK
	for _, checker := range s.deps.HealthCheckers {
		if err := checker.Check(ctx); err != nil {
			status.Status = "degraded"
			status.Checks[checker.Name()] = err.Error()
			httpStatus = http.StatusServiceUnavailable
			continue
		}
		status.Checks[checker.Name()] = "ok"
	}

	writeJSON(w, r, httpStatus, status)
}

// handleReady reports readiness: same as health for this service.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.handleHealth(w, r)
}

// handleLive reports liveness: the process is up and serving.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// handleRoot serves a minimal service banner.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONError(w, http.StatusNotFound, "not_found", "Unknown endpoint")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]string{
		"service": "classlens-monitor",
		"api":     "/api/v1",
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetSession returns the status of one tracked session.
//
// GET /api/v1/sessions/{id}?history_limit=10&journal=true&journal_limit=20
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetSessionStatusHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_available", "Session queries are not configured")
		return
	}

	q := query.GetSessionStatusQuery{
		SessionID:      r.PathValue("id"),
		HistoryLimit:   getQueryParamInt(r, "history_limit", 0),
		IncludeJournal: getQueryParamBool(r, "journal"),
		JournalLimit:   getQueryParamInt(r, "journal_limit", 0),
	}

	status, err := s.deps.GetSessionStatusHandler.Handle(r.Context(), q)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, status)
}

// handleGetClassroomOverview returns the focus overview of a classroom.
//
// GET /api/v1/classrooms/{id}/overview?include_inactive=true&fresh=true
func (s *Server) handleGetClassroomOverview(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetClassroomOverviewHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_available", "Classroom queries are not configured")
		return
	}

	q := query.GetClassroomOverviewQuery{
		Classroom:       r.PathValue("id"),
		IncludeInactive: getQueryParamBool(r, "include_inactive"),
		BypassCache:     getQueryParamBool(r, "fresh"),
	}

	overview, err := s.deps.GetClassroomOverviewHandler.Handle(r.Context(), q)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, overview)
}

// writeQueryError maps domain errors onto HTTP statuses.
func (s *Server) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tracking.ErrSessionNotFound):
		writeJSONError(w, http.StatusNotFound, "session_not_found", "No such session")

	case errors.Is(err, tracking.ErrInvalidSessionID),
		errors.Is(err, tracking.ErrInvalidClassroomID):
		writeJSONError(w, http.StatusBadRequest, "invalid_id", err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		writeJSONError(w, http.StatusGatewayTimeout, "timeout", "Query timed out")

	default:
		s.logger.Error("query failed",
			logger.String("path", r.URL.Path),
			logger.Err(err),
			logger.String("request_id", getRequestID(r.Context())),
		)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Query failed")
	}
}
