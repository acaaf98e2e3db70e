// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON REMINDER NEEDED HANDLER
// Обрабатывает событие "ученика пора вернуть к заданию".
//
// Показатель концентрации опустился до needs-reminder - учителю нужно
// увидеть это на дашборде как можно быстрее:
// - Пишет структурированную запись в лог (для алертинга)
// - Сбрасывает кеш сводки класса, чтобы дашборд обновился немедленно
// - Троттлит повторные напоминания по одной сессии
// ═══════════════════════════════════════════════════════════════════════════

// OverviewInvalidator сбрасывает кешированную сводку класса.
// Реализуется redis.OverviewCache.
type OverviewInvalidator interface {
	InvalidateOverview(ctx context.Context, classroom string) error
}

// OnReminderNeededHandler обрабатывает события focus.reminder_needed.
type OnReminderNeededHandler struct {
	invalidator OverviewInvalidator
	logger      *slog.Logger
	config      ReminderNeededConfig

	mu           sync.Mutex
	lastReminder map[string]time.Time // session id -> время последней реакции
}

// ReminderNeededConfig содержит конфигурацию обработчика.
type ReminderNeededConfig struct {
	// Cooldown - минимальный интервал между реакциями по одной сессии.
	// Показатель может колебаться вокруг порога; не шумим на каждый кадр.
	Cooldown time.Duration
}

// DefaultReminderNeededConfig возвращает конфигурацию по умолчанию.
func DefaultReminderNeededConfig() ReminderNeededConfig {
	return ReminderNeededConfig{
		Cooldown: 5 * time.Minute,
	}
}

// NewOnReminderNeededHandler создаёт новый обработчик.
// Invalidator опционален.
func NewOnReminderNeededHandler(
	invalidator OverviewInvalidator,
	logger *slog.Logger,
	config ReminderNeededConfig,
) *OnReminderNeededHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Cooldown <= 0 {
		config = DefaultReminderNeededConfig()
	}

	return &OnReminderNeededHandler{
		invalidator:  invalidator,
		logger:       logger.With("handler", "on_reminder_needed"),
		config:       config,
		lastReminder: make(map[string]time.Time),
	}
}

// Handle обрабатывает событие.
// Реализует интерфейс shared.EventHandler.
func (h *OnReminderNeededHandler) Handle(event shared.Event) error {
	if event.EventType() != shared.EventReminderNeeded {
		return nil
	}

	reminder, ok := event.(shared.ReminderNeededEvent)
	if !ok {
		return fmt.Errorf("on_reminder_needed: unexpected event payload type %T", event)
	}

	if !h.shouldReact(reminder.SessionID, event.OccurredAt()) {
		return nil
	}

	h.logger.Warn("student needs a reminder",
		"session_id", reminder.SessionID,
		"classroom", reminder.Classroom,
		"focus_score", reminder.FocusScore,
		"activity", reminder.ShortDescription,
	)

	if h.invalidator != nil && reminder.Classroom != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := h.invalidator.InvalidateOverview(ctx, reminder.Classroom); err != nil {
			h.logger.Error("failed to invalidate classroom overview",
				"classroom", reminder.Classroom, "error", err)
		}
	}

	return nil
}

// shouldReact применяет троттлинг по сессии.
func (h *OnReminderNeededHandler) shouldReact(sessionID string, at time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if last, ok := h.lastReminder[sessionID]; ok && at.Sub(last) < h.config.Cooldown {
		return false
	}
	h.lastReminder[sessionID] = at
	return true
}
