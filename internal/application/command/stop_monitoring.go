// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"
)

// ══════════════════════════════════════════════════════════════════════════════
// STOP MONITORING COMMAND
// Turns the Active flag off. The session's focus score, history, and
// last observation remain exactly as they were.
// ══════════════════════════════════════════════════════════════════════════════

// StopMonitoringCommand requests that monitoring of a session ends.
type StopMonitoringCommand struct {
	// SessionID identifies the session.
	SessionID string

	// Reason is recorded in the emitted event ("manual", "stale", "shutdown").
	Reason string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c StopMonitoringCommand) Validate() error {
	if !tracking.SessionID(c.SessionID).IsValid() {
		return fmt.Errorf("stop_monitoring: %w", tracking.ErrInvalidSessionID)
	}
	return nil
}

// StopMonitoringResult contains the outcome.
type StopMonitoringResult struct {
	// SessionID of the deactivated session.
	SessionID string

	// StoppedAt is when this command took effect.
	StoppedAt time.Time
}

// StopMonitoringHandler handles the StopMonitoringCommand.
type StopMonitoringHandler struct {
	repo      tracking.Repository
	cache     tracking.Cache
	publisher shared.EventPublisher
}

// NewStopMonitoringHandler creates a new StopMonitoringHandler.
func NewStopMonitoringHandler(
	repo tracking.Repository,
	cache tracking.Cache,
	publisher shared.EventPublisher,
) *StopMonitoringHandler {
	return &StopMonitoringHandler{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
	}
}

// Handle executes the stop monitoring command.
func (h *StopMonitoringHandler) Handle(ctx context.Context, cmd StopMonitoringCommand) (*StopMonitoringResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	id := tracking.SessionID(cmd.SessionID)

	// SetActive flips the flag only; score and history are not touched.
	if err := h.repo.SetActive(ctx, id, false); err != nil {
		return nil, fmt.Errorf("stop_monitoring: %w", err)
	}

	// The cached copy still says Active; drop it rather than rewrite it
	if h.cache != nil {
		_ = h.cache.Delete(ctx, id)
	}

	if h.publisher != nil {
		reason := cmd.Reason
		if reason == "" {
			reason = "manual"
		}

		session, err := h.repo.GetByID(ctx, id)
		classroom := ""
		if err == nil {
			classroom = session.Classroom.String()
		}

		event := shared.NewMonitoringStoppedEvent(cmd.SessionID, classroom, reason)
		if cmd.CorrelationID != "" {
			event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		}
		_ = h.publisher.Publish(event)
	}

	return &StopMonitoringResult{
		SessionID: cmd.SessionID,
		StoppedAt: time.Now().UTC(),
	}, nil
}
