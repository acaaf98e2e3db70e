package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/tracking"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SessionRepository implements tracking.Repository for PostgreSQL.
type SessionRepository struct {
	conn *Connection
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(conn *Connection) *SessionRepository {
	return &SessionRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Write operations
// ─────────────────────────────────────────────────────────────────────────────

// Upsert persists a session, creating or overwriting the row.
// The whole computed state lands in one statement, so a retried write
// after a transient failure stores the same result it would have the
// first time.
func (r *SessionRepository) Upsert(ctx context.Context, s *tracking.Session) error {
	query := `
		INSERT INTO sessions (
			id, classroom, display_name, focus_score, history,
			last_raw_score, last_description, last_short_description,
			last_model_suggestion, last_observed_at, active, started_at, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT(id) DO UPDATE SET
			classroom = EXCLUDED.classroom,
			display_name = EXCLUDED.display_name,
			focus_score = EXCLUDED.focus_score,
			history = EXCLUDED.history,
			last_raw_score = EXCLUDED.last_raw_score,
			last_description = EXCLUDED.last_description,
			last_short_description = EXCLUDED.last_short_description,
			last_model_suggestion = EXCLUDED.last_model_suggestion,
			last_observed_at = EXCLUDED.last_observed_at,
			active = EXCLUDED.active,
			last_updated = EXCLUDED.last_updated
	`

	historyJSON, err := json.Marshal(s.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	var observedAt interface{}
	if !s.LastObservation.ObservedAt.IsZero() {
		observedAt = s.LastObservation.ObservedAt
	}

	_, err = r.conn.Exec(ctx, query,
		s.ID.String(),
		s.Classroom.String(),
		s.DisplayName,
		int(s.FocusScore),
		historyJSON,
		int(s.LastObservation.RawScore),
		s.LastObservation.Description,
		s.LastObservation.ShortDescription,
		s.LastObservation.ModelSuggestion,
		observedAt,
		s.Active,
		s.StartedAt,
		s.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	return nil
}

// SetActive flips the monitoring flag without touching score or history.
func (r *SessionRepository) SetActive(ctx context.Context, id tracking.SessionID, active bool) error {
	query := `UPDATE sessions SET active = $1, last_updated = NOW() WHERE id = $2`

	tag, err := r.conn.Exec(ctx, query, active, id.String())
	if err != nil {
		return fmt.Errorf("failed to set session active flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tracking.ErrSessionNotFound
	}

	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Read operations
// ─────────────────────────────────────────────────────────────────────────────

// GetByID returns a session by ID.
func (r *SessionRepository) GetByID(ctx context.Context, id tracking.SessionID) (*tracking.Session, error) {
	query := `
		SELECT id, classroom, display_name, focus_score, history,
			   last_raw_score, last_description, last_short_description,
			   last_model_suggestion, last_observed_at, active, started_at, last_updated
		FROM sessions
		WHERE id = $1
	`

	row := r.conn.QueryRow(ctx, query, id.String())
	return r.scanSession(row)
}

// GetByClassroom returns sessions for a classroom ordered by display name.
func (r *SessionRepository) GetByClassroom(ctx context.Context, classroom tracking.ClassroomID, opts tracking.ListOptions) ([]*tracking.Session, error) {
	query := `
		SELECT id, classroom, display_name, focus_score, history,
			   last_raw_score, last_description, last_short_description,
			   last_model_suggestion, last_observed_at, active, started_at, last_updated
		FROM sessions
		WHERE classroom = $1
	`
	args := []interface{}{classroom.String()}

	if opts.ActiveOnly {
		query += ` AND active`
	}

	query += ` ORDER BY display_name`

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get classroom sessions: %w", err)
	}
	defer rows.Close()

	return r.scanSessions(rows)
}

// ListActive returns every session that is currently being monitored.
func (r *SessionRepository) ListActive(ctx context.Context) ([]*tracking.Session, error) {
	query := `
		SELECT id, classroom, display_name, focus_score, history,
			   last_raw_score, last_description, last_short_description,
			   last_model_suggestion, last_observed_at, active, started_at, last_updated
		FROM sessions
		WHERE active
		ORDER BY classroom, display_name
	`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()

	return r.scanSessions(rows)
}

// ─────────────────────────────────────────────────────────────────────────────
// Scan helpers
// ─────────────────────────────────────────────────────────────────────────────

func (r *SessionRepository) scanSession(row pgx.Row) (*tracking.Session, error) {
	var (
		s           tracking.Session
		id          string
		classroom   string
		focusScore  int
		historyJSON []byte
		rawScore    int
		observedAt  *time.Time
	)

	err := row.Scan(
		&id,
		&classroom,
		&s.DisplayName,
		&focusScore,
		&historyJSON,
		&rawScore,
		&s.LastObservation.Description,
		&s.LastObservation.ShortDescription,
		&s.LastObservation.ModelSuggestion,
		&observedAt,
		&s.Active,
		&s.StartedAt,
		&s.LastUpdated,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, tracking.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	s.ID = tracking.SessionID(id)
	s.Classroom = tracking.ClassroomID(classroom)
	s.FocusScore = tracking.FocusScore(focusScore)
	s.LastObservation.RawScore = tracking.RawScore(rawScore)
	if observedAt != nil {
		s.LastObservation.ObservedAt = *observedAt
	}

	if err := json.Unmarshal(historyJSON, &s.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	if s.History == nil {
		s.History = []string{}
	}

	return &s, nil
}

func (r *SessionRepository) scanSessions(rows pgx.Rows) ([]*tracking.Session, error) {
	var sessions []*tracking.Session
	for rows.Next() {
		s, err := r.scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
