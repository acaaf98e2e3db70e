package agent

import (
	"context"

	"github.com/classlens/classlens-monitor/internal/domain/tracking"
)

// Repository defines the interface for agent persistence.
type Repository interface {
	// Save persists an agent (create or update).
	Save(ctx context.Context, a *Agent) error

	// GetByID returns an agent by its ID.
	// Returns shared.ErrAgentNotFound when no such agent exists.
	GetByID(ctx context.Context, id string) (*Agent, error)

	// GetBySession returns the agent enrolled for a session, if any.
	GetBySession(ctx context.Context, session tracking.SessionID) (*Agent, error)

	// ListEnrolled returns all agents with enrolled status.
	ListEnrolled(ctx context.Context) ([]*Agent, error)
}
