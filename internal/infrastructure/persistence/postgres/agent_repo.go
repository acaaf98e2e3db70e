package postgres

import (
	"context"
	"fmt"

	"github.com/classlens/classlens-monitor/internal/domain/agent"
	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// AGENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AgentRepository implements agent.Repository for PostgreSQL.
type AgentRepository struct {
	conn *Connection
}

// NewAgentRepository creates a new AgentRepository.
func NewAgentRepository(conn *Connection) *AgentRepository {
	return &AgentRepository{conn: conn}
}

// Save persists an agent.
func (r *AgentRepository) Save(ctx context.Context, a *agent.Agent) error {
	query := `
		INSERT INTO agents (id, session_id, hostname, secret_hash, status, enrolled_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT(id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			secret_hash = EXCLUDED.secret_hash,
			status = EXCLUDED.status,
			last_seen_at = EXCLUDED.last_seen_at
	`

	_, err := r.conn.Exec(ctx, query,
		a.ID,
		a.Session.String(),
		a.Hostname,
		a.SecretHash,
		string(a.Status),
		a.EnrolledAt,
		a.LastSeenAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return tracking.ErrSessionNotFound
		}
		return fmt.Errorf("failed to save agent: %w", err)
	}

	return nil
}

// GetByID returns an agent by ID.
func (r *AgentRepository) GetByID(ctx context.Context, id string) (*agent.Agent, error) {
	query := `
		SELECT id, session_id, hostname, secret_hash, status, enrolled_at, last_seen_at
		FROM agents
		WHERE id = $1
	`

	row := r.conn.QueryRow(ctx, query, id)
	return r.scanAgent(row)
}

// GetBySession returns the agent enrolled for a session.
func (r *AgentRepository) GetBySession(ctx context.Context, session tracking.SessionID) (*agent.Agent, error) {
	query := `
		SELECT id, session_id, hostname, secret_hash, status, enrolled_at, last_seen_at
		FROM agents
		WHERE session_id = $1
		ORDER BY enrolled_at DESC
		LIMIT 1
	`

	row := r.conn.QueryRow(ctx, query, session.String())
	return r.scanAgent(row)
}

// ListEnrolled returns all agents with enrolled status.
func (r *AgentRepository) ListEnrolled(ctx context.Context) ([]*agent.Agent, error) {
	query := `
		SELECT id, session_id, hostname, secret_hash, status, enrolled_at, last_seen_at
		FROM agents
		WHERE status = 'enrolled'
		ORDER BY enrolled_at
	`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrolled agents: %w", err)
	}
	defer rows.Close()

	var agents []*agent.Agent
	for rows.Next() {
		a, err := r.scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}

	return agents, rows.Err()
}

func (r *AgentRepository) scanAgent(row pgx.Row) (*agent.Agent, error) {
	var (
		a       agent.Agent
		session string
		status  string
	)

	err := row.Scan(&a.ID, &session, &a.Hostname, &a.SecretHash, &status, &a.EnrolledAt, &a.LastSeenAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAgentNotFound
		}
		return nil, fmt.Errorf("failed to scan agent: %w", err)
	}

	a.Session = tracking.SessionID(session)
	a.Status = agent.Status(status)

	return &a, nil
}
