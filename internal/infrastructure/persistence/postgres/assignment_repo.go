package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/assignment"
	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// ASSIGNMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AssignmentRepository implements assignment.Repository for PostgreSQL.
type AssignmentRepository struct {
	conn *Connection
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(conn *Connection) *AssignmentRepository {
	return &AssignmentRepository{conn: conn}
}

// Save persists an assignment.
func (r *AssignmentRepository) Save(ctx context.Context, a *assignment.Assignment) error {
	query := `
		INSERT INTO assignments (id, classroom, title, description, starts_at, ends_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT(id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			updated_at = EXCLUDED.updated_at
	`

	var endsAt *time.Time
	if !a.EndsAt.IsZero() {
		endsAt = &a.EndsAt
	}

	_, err := r.conn.Exec(ctx, query,
		a.ID,
		a.Classroom.String(),
		a.Title,
		a.Description,
		a.StartsAt,
		endsAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}

	return nil
}

// GetCurrent returns the assignment currently in effect for a classroom.
func (r *AssignmentRepository) GetCurrent(ctx context.Context, classroom tracking.ClassroomID) (*assignment.Assignment, error) {
	query := `
		SELECT id, classroom, title, description, starts_at, ends_at, updated_at
		FROM assignments
		WHERE classroom = $1
		  AND starts_at <= NOW()
		  AND (ends_at IS NULL OR ends_at > NOW())
		ORDER BY starts_at DESC
		LIMIT 1
	`

	row := r.conn.QueryRow(ctx, query, classroom.String())
	a, err := r.scanAssignment(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAssignmentNotFound
		}
		return nil, err
	}

	return a, nil
}

// History returns past assignments for a classroom, most recent first.
func (r *AssignmentRepository) History(ctx context.Context, classroom tracking.ClassroomID, limit int) ([]*assignment.Assignment, error) {
	query := `
		SELECT id, classroom, title, description, starts_at, ends_at, updated_at
		FROM assignments
		WHERE classroom = $1
		ORDER BY starts_at DESC
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, classroom.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignment history: %w", err)
	}
	defer rows.Close()

	var result []*assignment.Assignment
	for rows.Next() {
		a, err := r.scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}

	return result, rows.Err()
}

func (r *AssignmentRepository) scanAssignment(row pgx.Row) (*assignment.Assignment, error) {
	var (
		a         assignment.Assignment
		classroom string
		endsAt    *time.Time
	)

	err := row.Scan(&a.ID, &classroom, &a.Title, &a.Description, &a.StartsAt, &endsAt, &a.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan assignment: %w", err)
	}

	a.Classroom = tracking.ClassroomID(classroom)
	if endsAt != nil {
		a.EndsAt = *endsAt
	}

	return &a, nil
}
