// Package assignment содержит доменные сущности для текущего задания класса.
// Задание — это то, чем ученики должны заниматься прямо сейчас; оно попадает
// в промпт модели, чтобы та могла отличить работу по теме от посторонней.
package assignment

import (
	"strings"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"
	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// СУЩНОСТЬ ЗАДАНИЯ
// ══════════════════════════════════════════════════════════════════════════════

// Assignment — текущее задание для класса.
type Assignment struct {
	ID          string
	Classroom   tracking.ClassroomID
	Title       string
	Description string
	StartsAt    time.Time
	EndsAt      time.Time // нулевое время — задание без дедлайна
	UpdatedAt   time.Time
}

// NewAssignment создаёт новое задание с валидацией.
func NewAssignment(classroom tracking.ClassroomID, title, description string) (*Assignment, error) {
	if !classroom.IsValid() {
		return nil, tracking.ErrInvalidClassroomID
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, shared.WrapError("assignment", "Create", shared.ErrEmptyValue, "title is required", nil)
	}

	now := time.Now()
	return &Assignment{
		ID:          uuid.NewString(),
		Classroom:   classroom,
		Title:       title,
		Description: strings.TrimSpace(description),
		StartsAt:    now,
		UpdatedAt:   now,
	}, nil
}

// IsCurrent сообщает, действует ли задание в данный момент.
func (a *Assignment) IsCurrent(now time.Time) bool {
	if now.Before(a.StartsAt) {
		return false
	}
	if a.EndsAt.IsZero() {
		return true
	}
	return now.Before(a.EndsAt)
}

// PromptContext возвращает строку для подстановки в промпт модели.
// Пустое описание не добавляет лишнего разделителя.
func (a *Assignment) PromptContext() string {
	if a.Description == "" {
		return a.Title
	}
	return a.Title + ": " + a.Description
}

// Changed сообщает, отличается ли задание от другого по содержанию.
// Сравнение по содержанию, а не по ID: при опросе внешнего источника
// то же задание может приходить с новым идентификатором.
func (a *Assignment) Changed(other *Assignment) bool {
	if other == nil {
		return true
	}
	return a.Title != other.Title || a.Description != other.Description
}
