// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/assignment"
	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET CLASSROOM OVERVIEW QUERY
// Сводка по классу для дашборда: все сессии, распределение по меткам
// и текущее задание. Самый горячий запрос - учитель смотрит на него
// постоянно, поэтому результат кешируется с коротким TTL.
// ══════════════════════════════════════════════════════════════════════════════

// GetClassroomOverviewQuery содержит параметры запроса сводки.
type GetClassroomOverviewQuery struct {
	// Classroom - идентификатор класса.
	Classroom string

	// IncludeInactive - показать и сессии с выключенным мониторингом.
	IncludeInactive bool

	// BypassCache - пропустить кеш и читать из хранилища.
	BypassCache bool
}

// Validate проверяет корректность параметров.
func (q *GetClassroomOverviewQuery) Validate() error {
	if !tracking.ClassroomID(q.Classroom).IsValid() {
		return fmt.Errorf("get_classroom_overview: %w", tracking.ErrInvalidClassroomID)
	}
	return nil
}

// SessionSummaryDTO - краткая строка по одной сессии.
type SessionSummaryDTO struct {
	// SessionID - идентификатор сессии.
	SessionID string `json:"session_id"`

	// DisplayName - имя ученика.
	DisplayName string `json:"display_name"`

	// FocusScore - показатель концентрации [0, 10].
	FocusScore int `json:"focus_score"`

	// Suggestion - метка для учителя.
	Suggestion string `json:"suggestion"`

	// Active - идёт ли мониторинг.
	Active bool `json:"active"`

	// ShortDescription - чем занят по последнему кадру.
	ShortDescription string `json:"short_description,omitempty"`

	// LastUpdated - время последнего наблюдения.
	LastUpdated time.Time `json:"last_updated"`
}

// ClassroomOverviewDTO - сводка по классу.
type ClassroomOverviewDTO struct {
	// Classroom - идентификатор класса.
	Classroom string `json:"classroom"`

	// Sessions - строки по сессиям, проблемные первыми.
	Sessions []SessionSummaryDTO `json:"sessions"`

	// ─────────────────────────────────────────────────────────────────────────
	// Распределение по меткам
	// ─────────────────────────────────────────────────────────────────────────

	// OnTaskCount - сколько учеников работает (score >= 7).
	OnTaskCount int `json:"on_task_count"`

	// AmbiguousCount - сколько в серой зоне (4..6).
	AmbiguousCount int `json:"ambiguous_count"`

	// NeedsReminderCount - скольких пора вернуть к заданию (score <= 3).
	NeedsReminderCount int `json:"needs_reminder_count"`

	// ActiveCount - сколько сессий с включённым мониторингом.
	ActiveCount int `json:"active_count"`

	// ─────────────────────────────────────────────────────────────────────────
	// Текущее задание
	// ─────────────────────────────────────────────────────────────────────────

	// CurrentAssignment - заголовок текущего задания (пусто, если нет).
	CurrentAssignment string `json:"current_assignment,omitempty"`

	// AssignmentContext - полный контекст задания для vision-модели.
	AssignmentContext string `json:"assignment_context,omitempty"`

	// GeneratedAt - момент формирования сводки.
	GeneratedAt time.Time `json:"generated_at"`
}

// OverviewCache кеширует готовые сводки с коротким TTL.
// Реализация живёт в infrastructure/persistence/redis.
type OverviewCache interface {
	// GetOverview возвращает сводку из кеша или ошибку при промахе.
	GetOverview(ctx context.Context, classroom string) (*ClassroomOverviewDTO, error)

	// SetOverview кладёт сводку в кеш.
	SetOverview(ctx context.Context, classroom string, o *ClassroomOverviewDTO, ttl time.Duration) error
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetClassroomOverviewHandler обрабатывает GetClassroomOverviewQuery.
type GetClassroomOverviewHandler struct {
	sessions    tracking.Repository
	assignments assignment.Repository
	cache       OverviewCache
	cacheTTL    time.Duration
}

// NewGetClassroomOverviewHandler создаёт новый обработчик.
// Assignments и cache опциональны.
func NewGetClassroomOverviewHandler(
	sessions tracking.Repository,
	assignments assignment.Repository,
	cache OverviewCache,
	cacheTTL time.Duration,
) *GetClassroomOverviewHandler {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &GetClassroomOverviewHandler{
		sessions:    sessions,
		assignments: assignments,
		cache:       cache,
		cacheTTL:    cacheTTL,
	}
}

// Handle выполняет запрос сводки по классу.
func (h *GetClassroomOverviewHandler) Handle(ctx context.Context, q GetClassroomOverviewQuery) (*ClassroomOverviewDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if h.cache != nil && !q.BypassCache && !q.IncludeInactive {
		if cached, err := h.cache.GetOverview(ctx, q.Classroom); err == nil && cached != nil {
			return cached, nil
		}
	}

	sessions, err := h.sessions.GetByClassroom(ctx, tracking.ClassroomID(q.Classroom), tracking.ListOptions{
		ActiveOnly: !q.IncludeInactive,
	})
	if err != nil {
		return nil, fmt.Errorf("get_classroom_overview: %w", err)
	}

	overview := &ClassroomOverviewDTO{
		Classroom:   q.Classroom,
		Sessions:    make([]SessionSummaryDTO, 0, len(sessions)),
		GeneratedAt: time.Now().UTC(),
	}

	for _, s := range sessions {
		suggestion := s.Suggestion()
		switch suggestion {
		case tracking.SuggestionOnTask:
			overview.OnTaskCount++
		case tracking.SuggestionNeedsReminder:
			overview.NeedsReminderCount++
		default:
			overview.AmbiguousCount++
		}
		if s.Active {
			overview.ActiveCount++
		}

		overview.Sessions = append(overview.Sessions, SessionSummaryDTO{
			SessionID:        s.ID.String(),
			DisplayName:      s.DisplayName,
			FocusScore:       int(s.FocusScore),
			Suggestion:       string(suggestion),
			Active:           s.Active,
			ShortDescription: s.LastObservation.ShortDescription,
			LastUpdated:      s.LastUpdated,
		})
	}

	// Учителю нужны проблемные ученики сверху
	sort.SliceStable(overview.Sessions, func(i, j int) bool {
		if overview.Sessions[i].FocusScore != overview.Sessions[j].FocusScore {
			return overview.Sessions[i].FocusScore < overview.Sessions[j].FocusScore
		}
		return overview.Sessions[i].DisplayName < overview.Sessions[j].DisplayName
	})

	if h.assignments != nil {
		current, err := h.assignments.GetCurrent(ctx, tracking.ClassroomID(q.Classroom))
		switch {
		case err == nil:
			overview.CurrentAssignment = current.Title
			overview.AssignmentContext = current.PromptContext()
		case errors.Is(err, shared.ErrAssignmentNotFound):
			// Нет задания - пустая сводка по заданию, это не ошибка
		default:
			return nil, fmt.Errorf("get_classroom_overview: assignment: %w", err)
		}
	}

	if h.cache != nil && !q.IncludeInactive {
		_ = h.cache.SetOverview(ctx, q.Classroom, overview, h.cacheTTL)
	}

	return overview, nil
}
