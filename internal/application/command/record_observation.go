// Package command contains write operations (CQRS - Commands).
// Commands are responsible for changing the state of the system.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"
	"github.com/classlens/classlens-monitor/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD OBSERVATION COMMAND
// Applies one scored frame to a session: focus score update, rolling
// history, journal entry, cache refresh, domain events.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultClassroom is assigned when an observation arrives for a session
// that was never explicitly started and names no classroom.
const DefaultClassroom = "unassigned"

// RecordObservationCommand contains one scored frame for a session.
type RecordObservationCommand struct {
	// SessionID identifies the tracked session.
	SessionID string

	// Classroom is used only when the session has to be created on the fly.
	Classroom string

	// DisplayName is used only when the session has to be created on the fly.
	DisplayName string

	// RawScore is the model's relevance score. Must already be in [0, 5]:
	// the vision client clamps its own output, so anything out of range
	// here is a programming error and is rejected, not clamped.
	RawScore int

	// Description of the on-screen activity.
	Description string

	// ShortDescription for compact dashboard views.
	ShortDescription string

	// ModelSuggestion is the model's own label, stored verbatim.
	ModelSuggestion string

	// ObservedAt is when the frame was captured (defaults to now if zero).
	ObservedAt time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RecordObservationCommand) Validate() error {
	if !tracking.SessionID(c.SessionID).IsValid() {
		return fmt.Errorf("record_observation: %w", tracking.ErrInvalidSessionID)
	}
	if !tracking.RawScore(c.RawScore).IsValid() {
		return fmt.Errorf("record_observation: %w: %d", tracking.ErrRawScoreOutOfRange, c.RawScore)
	}
	if strings.TrimSpace(c.Description) == "" {
		return fmt.Errorf("record_observation: %w", tracking.ErrEmptyDescription)
	}
	return nil
}

// RecordObservationResult contains the outcome of applying an observation.
type RecordObservationResult struct {
	// SessionID of the updated session.
	SessionID string

	// Created indicates the session had no prior state and was
	// initialized at the maximum focus score.
	Created bool

	// PreviousScore before this observation.
	PreviousScore int

	// NewScore after this observation.
	NewScore int

	// RawScore that was applied.
	RawScore int

	// Suggestion is the teacher-facing label derived from NewScore.
	Suggestion tracking.Suggestion

	// HistorySize after the update.
	HistorySize int

	// RecordedAt is the effective observation time.
	RecordedAt time.Time

	// Events contains domain events generated.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordObservationHandler handles the RecordObservationCommand.
//
// Concurrency contract: observations for the same session id are applied
// strictly one at a time; observations for different ids run in parallel.
// The per-key mutex below is what enforces it.
type RecordObservationHandler struct {
	repo      tracking.Repository
	cache     tracking.Cache
	journal   tracking.Journal
	presence  tracking.PresenceTracker
	publisher shared.EventPublisher

	retrier  *retry.Retrier
	cacheTTL time.Duration

	// Per-session serialization
	locks sync.Map // SessionID -> *sync.Mutex
}

// RecordObservationHandlerConfig contains configuration for the handler.
type RecordObservationHandlerConfig struct {
	// CacheTTL for refreshed session cache entries
	CacheTTL time.Duration
}

// DefaultRecordObservationHandlerConfig returns default configuration.
func DefaultRecordObservationHandlerConfig() RecordObservationHandlerConfig {
	return RecordObservationHandlerConfig{
		CacheTTL: 10 * time.Minute,
	}
}

// NewRecordObservationHandler creates a new RecordObservationHandler.
// Journal and presence may be nil; those side effects are then skipped.
func NewRecordObservationHandler(
	repo tracking.Repository,
	cache tracking.Cache,
	journal tracking.Journal,
	presence tracking.PresenceTracker,
	publisher shared.EventPublisher,
	config RecordObservationHandlerConfig,
) *RecordObservationHandler {
	if config.CacheTTL <= 0 {
		config = DefaultRecordObservationHandlerConfig()
	}

	return &RecordObservationHandler{
		repo:      repo,
		cache:     cache,
		journal:   journal,
		presence:  presence,
		publisher: publisher,
		retrier:   retry.DatabaseRetrier(),
		cacheTTL:  config.CacheTTL,
	}
}

// Handle executes the record observation command.
func (h *RecordObservationHandler) Handle(ctx context.Context, cmd RecordObservationCommand) (*RecordObservationResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	id := tracking.SessionID(cmd.SessionID)

	// Serialize per session id; other ids are unaffected
	mu := h.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	session, created, err := h.loadOrCreate(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("record_observation: load session: %w", err)
	}

	observedAt := cmd.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	obs := tracking.Observation{
		RawScore:         tracking.RawScore(cmd.RawScore),
		Description:      strings.TrimSpace(cmd.Description),
		ShortDescription: strings.TrimSpace(cmd.ShortDescription),
		ModelSuggestion:  cmd.ModelSuggestion,
		ObservedAt:       observedAt,
	}

	previousScore := session.FocusScore
	previousSuggestion := session.Suggestion()

	// Apply the core rule exactly once. On transient persistence errors
	// the retrier resubmits the same computed session, never recomputes:
	// a score delta must not be applied twice for one observation.
	session.Record(obs)

	err = h.retrier.Do(ctx, func(ctx context.Context) error {
		if err := h.repo.Upsert(ctx, session); err != nil {
			return retry.Retryable(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record_observation: persist: %w", err)
	}

	// Side effects after the write are best-effort
	if h.journal != nil {
		_ = h.journal.Append(ctx, tracking.JournalEntry{
			SessionID:   session.ID,
			RawScore:    obs.RawScore,
			FocusScore:  session.FocusScore,
			Description: obs.Description,
			ObservedAt:  observedAt,
		})
	}
	if h.presence != nil {
		_ = h.presence.Heartbeat(ctx, session.ID)
	}
	if h.cache != nil {
		_ = h.cache.Set(ctx, session, h.cacheTTL)
	}

	result := &RecordObservationResult{
		SessionID:     cmd.SessionID,
		Created:       created,
		PreviousScore: int(previousScore),
		NewScore:      int(session.FocusScore),
		RawScore:      cmd.RawScore,
		Suggestion:    session.Suggestion(),
		HistorySize:   len(session.History),
		RecordedAt:    observedAt,
		Events:        make([]shared.Event, 0, 2),
	}

	h.collectEvents(session, cmd, previousScore, previousSuggestion, result)

	if h.publisher != nil {
		for _, event := range result.Events {
			_ = h.publisher.Publish(event)
		}
	}

	return result, nil
}

// loadOrCreate returns the prior session state, falling back to a fresh
// session at the maximum focus score when no state is on record.
func (h *RecordObservationHandler) loadOrCreate(ctx context.Context, cmd RecordObservationCommand) (*tracking.Session, bool, error) {
	id := tracking.SessionID(cmd.SessionID)

	if h.cache != nil {
		if session, err := h.cache.Get(ctx, id); err == nil && session != nil {
			return session, false, nil
		}
	}

	session, err := h.repo.GetByID(ctx, id)
	if err == nil {
		return session, false, nil
	}
	if !errors.Is(err, tracking.ErrSessionNotFound) {
		return nil, false, err
	}

	classroom := cmd.Classroom
	if classroom == "" {
		classroom = DefaultClassroom
	}

	session, err = tracking.NewSession(tracking.NewSessionParams{
		ID:          id,
		Classroom:   tracking.ClassroomID(classroom),
		DisplayName: cmd.DisplayName,
	})
	if err != nil {
		return nil, false, err
	}

	return session, true, nil
}

// collectEvents derives domain events from the score transition.
func (h *RecordObservationHandler) collectEvents(
	session *tracking.Session,
	cmd RecordObservationCommand,
	previousScore tracking.FocusScore,
	previousSuggestion tracking.Suggestion,
	result *RecordObservationResult,
) {
	correlate := func(base shared.BaseEvent) shared.BaseEvent {
		if cmd.CorrelationID != "" {
			return base.WithCorrelationID(cmd.CorrelationID)
		}
		return base
	}

	if session.FocusScore != previousScore {
		event := shared.NewFocusScoreChangedEvent(
			cmd.SessionID,
			session.Classroom.String(),
			int(previousScore),
			int(session.FocusScore),
			cmd.RawScore,
			session.LastObservation.ShortDescription,
		)
		event.BaseEvent = correlate(event.BaseEvent)
		result.Events = append(result.Events, event)
	}

	current := session.Suggestion()
	switch {
	case current == tracking.SuggestionNeedsReminder && previousSuggestion != tracking.SuggestionNeedsReminder:
		event := shared.NewReminderNeededEvent(
			cmd.SessionID,
			session.Classroom.String(),
			int(session.FocusScore),
			session.LastObservation.ShortDescription,
		)
		event.BaseEvent = correlate(event.BaseEvent)
		result.Events = append(result.Events, event)

	case current == tracking.SuggestionOnTask && previousSuggestion == tracking.SuggestionNeedsReminder:
		event := shared.NewBackOnTaskEvent(
			cmd.SessionID,
			session.Classroom.String(),
			int(session.FocusScore),
		)
		event.BaseEvent = correlate(event.BaseEvent)
		result.Events = append(result.Events, event)
	}
}

// lockFor returns the mutex guarding the given session id.
func (h *RecordObservationHandler) lockFor(id tracking.SessionID) *sync.Mutex {
	if mu, ok := h.locks.Load(id); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := h.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
