package assignment

import (
	"context"

	"github.com/classlens/classlens-monitor/internal/domain/tracking"
)

// Repository defines the interface for assignment persistence.
// Implemented by the infrastructure layer; the domain has no knowledge
// of the actual storage mechanism.
type Repository interface {
	// Save persists an assignment (create or update).
	Save(ctx context.Context, a *Assignment) error

	// GetCurrent returns the assignment currently in effect for a classroom.
	// Returns shared.ErrAssignmentNotFound when the classroom has none.
	GetCurrent(ctx context.Context, classroom tracking.ClassroomID) (*Assignment, error)

	// History returns past assignments for a classroom, most recent first.
	History(ctx context.Context, classroom tracking.ClassroomID, limit int) ([]*Assignment, error)
}

// Source is an external provider of the current assignment, polled
// periodically by the scheduler. A teacher dashboard or LMS typically
// backs this.
type Source interface {
	// Fetch returns the current assignment for a classroom as the
	// external system sees it.
	Fetch(ctx context.Context, classroom tracking.ClassroomID) (*Assignment, error)
}
