// Package query contains read operations (CQRS - Queries).
// Queries never modify state - they only read and return data.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/tracking"
	"github.com/classlens/classlens-monitor/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SESSION STATUS QUERY
// Возвращает текущее состояние одной сессии для дашборда учителя:
// показатель концентрации, метку, историю и последнее наблюдение.
// ══════════════════════════════════════════════════════════════════════════════

// GetSessionStatusQuery содержит параметры запроса статуса сессии.
type GetSessionStatusQuery struct {
	// SessionID - идентификатор сессии.
	SessionID string

	// HistoryLimit - сколько записей истории вернуть (0 = всю, максимум 60).
	HistoryLimit int

	// IncludeJournal - включить последние записи журнала наблюдений.
	IncludeJournal bool

	// JournalLimit - сколько записей журнала вернуть (по умолчанию 10).
	JournalLimit int
}

// Validate проверяет корректность параметров.
func (q *GetSessionStatusQuery) Validate() error {
	if !tracking.SessionID(q.SessionID).IsValid() {
		return fmt.Errorf("get_session_status: %w", tracking.ErrInvalidSessionID)
	}
	if q.HistoryLimit < 0 || q.HistoryLimit > tracking.MaxHistoryEntries {
		q.HistoryLimit = 0
	}
	if q.JournalLimit <= 0 {
		q.JournalLimit = 10
	}
	if q.JournalLimit > 100 {
		q.JournalLimit = 100
	}
	return nil
}

// LastObservationDTO - последнее наблюдение по сессии.
type LastObservationDTO struct {
	// RawScore - оценка модели для этого кадра.
	RawScore int `json:"raw_score"`

	// Description - описание активности на экране.
	Description string `json:"description"`

	// ShortDescription - краткое описание.
	ShortDescription string `json:"short_description"`

	// ModelSuggestion - метка модели (справочно, не влияет на классификацию).
	ModelSuggestion string `json:"model_suggestion,omitempty"`

	// ObservedAt - время снятия кадра.
	ObservedAt time.Time `json:"observed_at"`
}

// JournalEntryDTO - одна запись журнала наблюдений.
type JournalEntryDTO struct {
	RawScore    int       `json:"raw_score"`
	FocusScore  int       `json:"focus_score"`
	Description string    `json:"description"`
	ObservedAt  time.Time `json:"observed_at"`
}

// SessionStatusDTO - статус сессии для дашборда.
type SessionStatusDTO struct {
	// SessionID - идентификатор сессии.
	SessionID string `json:"session_id"`

	// DisplayName - отображаемое имя ученика.
	DisplayName string `json:"display_name"`

	// Classroom - класс.
	Classroom string `json:"classroom"`

	// FocusScore - накопленный показатель концентрации [0, 10].
	FocusScore int `json:"focus_score"`

	// Suggestion - метка для учителя, производная от FocusScore.
	Suggestion string `json:"suggestion"`

	// Active - идёт ли мониторинг.
	Active bool `json:"active"`

	// History - скользящая история активности, новые записи первыми.
	History []string `json:"history"`

	// LastObservation - последнее применённое наблюдение.
	LastObservation LastObservationDTO `json:"last_observation"`

	// LastUpdated - время последнего наблюдения.
	LastUpdated time.Time `json:"last_updated"`

	// LastUpdatedRelative - то же время словами ("5 мин назад").
	LastUpdatedRelative string `json:"last_updated_relative"`

	// Journal - последние записи журнала (если запрошены).
	Journal []JournalEntryDTO `json:"journal,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetSessionStatusHandler обрабатывает GetSessionStatusQuery.
type GetSessionStatusHandler struct {
	repo    tracking.Repository
	cache   tracking.Cache
	journal tracking.Journal
}

// NewGetSessionStatusHandler создаёт новый обработчик.
// Cache и journal опциональны.
func NewGetSessionStatusHandler(
	repo tracking.Repository,
	cache tracking.Cache,
	journal tracking.Journal,
) *GetSessionStatusHandler {
	return &GetSessionStatusHandler{
		repo:    repo,
		cache:   cache,
		journal: journal,
	}
}

// Handle выполняет запрос статуса сессии.
func (h *GetSessionStatusHandler) Handle(ctx context.Context, q GetSessionStatusQuery) (*SessionStatusDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	id := tracking.SessionID(q.SessionID)

	var session *tracking.Session
	if h.cache != nil {
		if cached, err := h.cache.Get(ctx, id); err == nil && cached != nil {
			session = cached
		}
	}
	if session == nil {
		loaded, err := h.repo.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get_session_status: %w", err)
		}
		session = loaded
	}

	history := session.History
	if q.HistoryLimit > 0 && len(history) > q.HistoryLimit {
		history = history[:q.HistoryLimit]
	}

	dto := &SessionStatusDTO{
		SessionID:   session.ID.String(),
		DisplayName: session.DisplayName,
		Classroom:   session.Classroom.String(),
		FocusScore:  int(session.FocusScore),
		Suggestion:  string(session.Suggestion()),
		Active:      session.Active,
		History:     history,
		LastObservation: LastObservationDTO{
			RawScore:         int(session.LastObservation.RawScore),
			Description:      session.LastObservation.Description,
			ShortDescription: session.LastObservation.ShortDescription,
			ModelSuggestion:  session.LastObservation.ModelSuggestion,
			ObservedAt:       session.LastObservation.ObservedAt,
		},
		LastUpdated:         session.LastUpdated,
		LastUpdatedRelative: timeutil.FormatRelative(session.LastUpdated),
	}

	if q.IncludeJournal && h.journal != nil {
		entries, err := h.journal.Recent(ctx, id, q.JournalLimit)
		if err == nil {
			dto.Journal = make([]JournalEntryDTO, 0, len(entries))
			for _, e := range entries {
				dto.Journal = append(dto.Journal, JournalEntryDTO{
					RawScore:    int(e.RawScore),
					FocusScore:  int(e.FocusScore),
					Description: e.Description,
					ObservedAt:  e.ObservedAt,
				})
			}
		}
	}

	return dto, nil
}
