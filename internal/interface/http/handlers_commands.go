package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/classlens/classlens-monitor/internal/application/command"
	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"
	"github.com/classlens/classlens-monitor/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MONITORING CONTROL HANDLERS
// Write side of the API: dashboards start/stop monitoring, capture agents
// enroll. Observations themselves never travel through HTTP; they are
// produced by the capture cycle.
// ══════════════════════════════════════════════════════════════════════════════

// startMonitoringRequest is the body of POST /api/v1/sessions/{id}/start.
type startMonitoringRequest struct {
	Classroom   string `json:"classroom"`
	DisplayName string `json:"display_name,omitempty"`
}

// stopMonitoringRequest is the body of POST /api/v1/sessions/{id}/stop.
// The body is optional; an empty reason is recorded as "manual".
type stopMonitoringRequest struct {
	Reason string `json:"reason,omitempty"`
}

// enrollAgentRequest is the body of POST /api/v1/agents/enroll.
type enrollAgentRequest struct {
	SessionID string `json:"session_id"`
	Hostname  string `json:"hostname"`
	Secret    string `json:"secret"`
}

// handleStartMonitoring activates (or creates) a session.
//
// POST /api/v1/sessions/{id}/start
func (s *Server) handleStartMonitoring(w http.ResponseWriter, r *http.Request) {
	if s.deps.StartMonitoringHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_available", "Monitoring control is not configured")
		return
	}

	var req startMonitoringRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	cmd := command.StartMonitoringCommand{
		SessionID:     r.PathValue("id"),
		Classroom:     req.Classroom,
		DisplayName:   req.DisplayName,
		CorrelationID: getRequestID(r.Context()),
	}

	result, err := s.deps.StartMonitoringHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.writeCommandError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, r, status, result)
}

// handleStopMonitoring deactivates a session. Score and history survive.
//
// POST /api/v1/sessions/{id}/stop
func (s *Server) handleStopMonitoring(w http.ResponseWriter, r *http.Request) {
	if s.deps.StopMonitoringHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_available", "Monitoring control is not configured")
		return
	}

	var req stopMonitoringRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	cmd := command.StopMonitoringCommand{
		SessionID:     r.PathValue("id"),
		Reason:        req.Reason,
		CorrelationID: getRequestID(r.Context()),
	}

	result, err := s.deps.StopMonitoringHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.writeCommandError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}

// handleEnrollAgent registers a capture agent for an existing session.
//
// POST /api/v1/agents/enroll
func (s *Server) handleEnrollAgent(w http.ResponseWriter, r *http.Request) {
	if s.deps.EnrollAgentHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_available", "Agent enrollment is not configured")
		return
	}

	var req enrollAgentRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	cmd := command.EnrollAgentCommand{
		SessionID:     req.SessionID,
		Hostname:      req.Hostname,
		Secret:        req.Secret,
		CorrelationID: getRequestID(r.Context()),
	}

	result, err := s.deps.EnrollAgentHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.writeCommandError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, result)
}

// decodeBody decodes a JSON request body. An empty body is allowed and
// leaves dst zero-valued; dashboards send bare POSTs for stop.
func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("malformed JSON body")
	}
	return nil
}

// writeCommandError maps command errors onto HTTP statuses.
func (s *Server) writeCommandError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tracking.ErrSessionNotFound):
		writeJSONError(w, http.StatusNotFound, "session_not_found", "No such session")

	case errors.Is(err, tracking.ErrInvalidSessionID),
		errors.Is(err, tracking.ErrInvalidClassroomID),
		errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrEmptyValue):
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())

	default:
		s.logger.Error("command failed",
			logger.String("path", r.URL.Path),
			logger.Err(err),
			logger.String("request_id", getRequestID(r.Context())),
		)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Command failed")
	}
}
