// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	agentdomain "github.com/classlens/classlens-monitor/internal/domain/agent"
	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENROLL AGENT COMMAND
// Registers a capture agent for a session. The enrollment secret is
// bcrypt-hashed in the domain layer; only the hash is ever stored.
// ══════════════════════════════════════════════════════════════════════════════

// EnrollAgentCommand contains agent enrollment data.
type EnrollAgentCommand struct {
	// SessionID the agent will observe. The session must exist.
	SessionID string

	// Hostname of the student machine running the agent.
	Hostname string

	// Secret is the enrollment secret (min 8 chars). Never stored.
	Secret string

	// CorrelationID for tracing.
	CorrelationID string
}

// EnrollAgentResult contains the outcome of enrollment.
type EnrollAgentResult struct {
	// AgentID is the generated identifier for the new agent.
	AgentID string

	// SessionID the agent is bound to.
	SessionID string

	// EnrolledAt is the enrollment time.
	EnrolledAt time.Time
}

// EnrollAgentHandler handles the EnrollAgentCommand.
type EnrollAgentHandler struct {
	agents    agentdomain.Repository
	sessions  tracking.Repository
	publisher shared.EventPublisher
}

// NewEnrollAgentHandler creates a new EnrollAgentHandler.
func NewEnrollAgentHandler(
	agents agentdomain.Repository,
	sessions tracking.Repository,
	publisher shared.EventPublisher,
) *EnrollAgentHandler {
	return &EnrollAgentHandler{
		agents:    agents,
		sessions:  sessions,
		publisher: publisher,
	}
}

// Handle executes the enroll agent command.
func (h *EnrollAgentHandler) Handle(ctx context.Context, cmd EnrollAgentCommand) (*EnrollAgentResult, error) {
	// Anchor the agent to a known session before hashing anything
	if _, err := h.sessions.GetByID(ctx, tracking.SessionID(cmd.SessionID)); err != nil {
		if errors.Is(err, tracking.ErrSessionNotFound) {
			return nil, fmt.Errorf("enroll_agent: %w", err)
		}
		return nil, fmt.Errorf("enroll_agent: check session: %w", err)
	}

	ag, err := agentdomain.Enroll(tracking.SessionID(cmd.SessionID), cmd.Hostname, cmd.Secret)
	if err != nil {
		return nil, fmt.Errorf("enroll_agent: %w", err)
	}

	if err := h.agents.Save(ctx, ag); err != nil {
		return nil, fmt.Errorf("enroll_agent: save: %w", err)
	}

	if h.publisher != nil {
		event := shared.NewAgentEnrolledEvent(ag.ID, cmd.SessionID, ag.Hostname)
		if cmd.CorrelationID != "" {
			event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		}
		_ = h.publisher.Publish(event)
	}

	return &EnrollAgentResult{
		AgentID:    ag.ID,
		SessionID:  cmd.SessionID,
		EnrolledAt: ag.EnrolledAt,
	}, nil
}
