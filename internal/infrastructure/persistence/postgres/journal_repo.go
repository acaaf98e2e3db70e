package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/tracking"
)

// ══════════════════════════════════════════════════════════════════════════════
// OBSERVATION JOURNAL REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// JournalRepository implements tracking.Journal for PostgreSQL.
// The journal is append-only; session rows keep the rolling state and
// the journal keeps everything for audits and focus-over-time charts.
type JournalRepository struct {
	conn *Connection
}

// NewJournalRepository creates a new JournalRepository.
func NewJournalRepository(conn *Connection) *JournalRepository {
	return &JournalRepository{conn: conn}
}

// Append records one scored observation.
func (r *JournalRepository) Append(ctx context.Context, entry tracking.JournalEntry) error {
	query := `
		INSERT INTO observation_journal (session_id, raw_score, focus_score, description, observed_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	observedAt := entry.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	_, err := r.conn.Exec(ctx, query,
		entry.SessionID.String(),
		int(entry.RawScore),
		int(entry.FocusScore),
		entry.Description,
		observedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return tracking.ErrSessionNotFound
		}
		return fmt.Errorf("failed to append journal entry: %w", err)
	}

	return nil
}

// Recent returns the latest entries for a session, newest first.
func (r *JournalRepository) Recent(ctx context.Context, id tracking.SessionID, limit int) ([]tracking.JournalEntry, error) {
	query := `
		SELECT session_id, raw_score, focus_score, description, observed_at
		FROM observation_journal
		WHERE session_id = $1
		ORDER BY observed_at DESC
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, id.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []tracking.JournalEntry
	for rows.Next() {
		var (
			entry      tracking.JournalEntry
			sessionID  string
			rawScore   int
			focusScore int
		)
		if err := rows.Scan(&sessionID, &rawScore, &focusScore, &entry.Description, &entry.ObservedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entry.SessionID = tracking.SessionID(sessionID)
		entry.RawScore = tracking.RawScore(rawScore)
		entry.FocusScore = tracking.FocusScore(focusScore)
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// PruneBefore deletes entries older than the cutoff.
// Returns the number of deleted rows.
func (r *JournalRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.conn.Exec(ctx, `DELETE FROM observation_journal WHERE observed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}
	return tag.RowsAffected(), nil
}
