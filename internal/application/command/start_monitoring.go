// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"
)

// ══════════════════════════════════════════════════════════════════════════════
// START MONITORING COMMAND
// Turns the Active flag on. One of exactly two places that touch it;
// the focus score and history are never affected.
// ══════════════════════════════════════════════════════════════════════════════

// StartMonitoringCommand requests monitoring for a session.
type StartMonitoringCommand struct {
	// SessionID identifies the session to monitor.
	SessionID string

	// Classroom the session belongs to.
	Classroom string

	// DisplayName is the student's visible name (optional).
	DisplayName string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c StartMonitoringCommand) Validate() error {
	if !tracking.SessionID(c.SessionID).IsValid() {
		return fmt.Errorf("start_monitoring: %w", tracking.ErrInvalidSessionID)
	}
	if !tracking.ClassroomID(c.Classroom).IsValid() {
		return fmt.Errorf("start_monitoring: %w", tracking.ErrInvalidClassroomID)
	}
	return nil
}

// StartMonitoringResult contains the outcome.
type StartMonitoringResult struct {
	// SessionID of the session now being monitored.
	SessionID string

	// Created indicates a brand new session (at the initial focus score).
	Created bool

	// FocusScore at the time monitoring started.
	FocusScore int

	// StartedAt is when this command took effect.
	StartedAt time.Time
}

// StartMonitoringHandler handles the StartMonitoringCommand.
type StartMonitoringHandler struct {
	repo      tracking.Repository
	cache     tracking.Cache
	publisher shared.EventPublisher
	cacheTTL  time.Duration
}

// NewStartMonitoringHandler creates a new StartMonitoringHandler.
func NewStartMonitoringHandler(
	repo tracking.Repository,
	cache tracking.Cache,
	publisher shared.EventPublisher,
	cacheTTL time.Duration,
) *StartMonitoringHandler {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &StartMonitoringHandler{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		cacheTTL:  cacheTTL,
	}
}

// Handle executes the start monitoring command.
// An existing session is reactivated in place; its score and history
// survive monitoring gaps untouched.
func (h *StartMonitoringHandler) Handle(ctx context.Context, cmd StartMonitoringCommand) (*StartMonitoringResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	id := tracking.SessionID(cmd.SessionID)
	now := time.Now().UTC()
	created := false

	session, err := h.repo.GetByID(ctx, id)
	switch {
	case err == nil:
		session.MarkActive()
		if err := h.repo.SetActive(ctx, id, true); err != nil {
			return nil, fmt.Errorf("start_monitoring: reactivate: %w", err)
		}

	case errors.Is(err, tracking.ErrSessionNotFound):
		session, err = tracking.NewSession(tracking.NewSessionParams{
			ID:          id,
			Classroom:   tracking.ClassroomID(cmd.Classroom),
			DisplayName: cmd.DisplayName,
		})
		if err != nil {
			return nil, fmt.Errorf("start_monitoring: %w", err)
		}
		if err := h.repo.Upsert(ctx, session); err != nil {
			return nil, fmt.Errorf("start_monitoring: create: %w", err)
		}
		created = true

	default:
		return nil, fmt.Errorf("start_monitoring: load session: %w", err)
	}

	if h.cache != nil {
		_ = h.cache.Set(ctx, session, h.cacheTTL)
	}

	if h.publisher != nil {
		event := shared.NewMonitoringStartedEvent(cmd.SessionID, session.Classroom.String())
		if cmd.CorrelationID != "" {
			event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		}
		_ = h.publisher.Publish(event)
	}

	return &StartMonitoringResult{
		SessionID:  cmd.SessionID,
		Created:    created,
		FocusScore: int(session.FocusScore),
		StartedAt:  now,
	}, nil
}
