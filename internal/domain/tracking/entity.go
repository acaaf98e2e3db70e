// Package tracking содержит доменную модель отслеживания фокуса ученика.
// Это ядро бизнес-логики - здесь нет внешних зависимостей.
package tracking

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// FocusScore представляет накопленный показатель концентрации ученика.
// Диапазон [0, 10]; новая сессия начинается с максимума.
type FocusScore int

const (
	// MinFocusScore - нижняя граница показателя.
	MinFocusScore FocusScore = 0

	// MaxFocusScore - верхняя граница показателя и стартовое значение.
	MaxFocusScore FocusScore = 10

	// InitialFocusScore - значение для сессии без сохранённого состояния.
	InitialFocusScore = MaxFocusScore
)

// IsValid проверяет, что показатель находится в допустимом диапазоне.
func (f FocusScore) IsValid() bool {
	return f >= MinFocusScore && f <= MaxFocusScore
}

// Clamp приводит показатель к диапазону [0, 10].
func (f FocusScore) Clamp() FocusScore {
	if f < MinFocusScore {
		return MinFocusScore
	}
	if f > MaxFocusScore {
		return MaxFocusScore
	}
	return f
}

// RawScore представляет оценку релевантности одного наблюдения,
// присвоенную vision-моделью. Диапазон [0, 5].
type RawScore int

const (
	// MinRawScore - нижняя граница оценки модели.
	MinRawScore RawScore = 0

	// MaxRawScore - верхняя граница оценки модели.
	MaxRawScore RawScore = 5
)

// IsValid проверяет, что оценка находится в допустимом диапазоне.
func (r RawScore) IsValid() bool {
	return r >= MinRawScore && r <= MaxRawScore
}

// Clamp приводит оценку модели к диапазону [0, 5].
// Используется на границе с vision-клиентом: поведение ядра
// для значений вне диапазона не определено.
func (r RawScore) Clamp() RawScore {
	if r < MinRawScore {
		return MinRawScore
	}
	if r > MaxRawScore {
		return MaxRawScore
	}
	return r
}

// SessionID представляет стабильный идентификатор отслеживаемой сессии.
type SessionID string

// IsValid проверяет корректность идентификатора.
func (s SessionID) IsValid() bool {
	id := string(s)
	return len(id) >= 1 && len(id) <= 128 && !strings.ContainsAny(id, " \t\n\r")
}

// String возвращает строковое представление идентификатора.
func (s SessionID) String() string {
	return string(s)
}

// ClassroomID представляет идентификатор класса (группы учеников).
type ClassroomID string

// IsValid проверяет корректность идентификатора класса.
func (c ClassroomID) IsValid() bool {
	return len(c) >= 1 && len(c) <= 128
}

// String возвращает строковое представление идентификатора.
func (c ClassroomID) String() string {
	return string(c)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Suggestion определяет метку для учителя, производную от FocusScore.
type Suggestion string

const (
	// SuggestionOnTask - ученик работает над заданием (score >= 7).
	SuggestionOnTask Suggestion = "on-task"

	// SuggestionAmbiguous - непонятно, чем занят ученик (4..6).
	SuggestionAmbiguous Suggestion = "sussy"

	// SuggestionNeedsReminder - ученика пора вернуть к заданию (score <= 3).
	SuggestionNeedsReminder Suggestion = "needs-reminder"
)

// IsValid проверяет, что метка корректна.
func (s Suggestion) IsValid() bool {
	switch s {
	case SuggestionOnTask, SuggestionAmbiguous, SuggestionNeedsReminder:
		return true
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// OBSERVATION
// ══════════════════════════════════════════════════════════════════════════════

// Observation - результат анализа одного кадра экрана.
type Observation struct {
	// RawScore - оценка релевантности от модели, [0, 5].
	RawScore RawScore

	// Description - развёрнутое описание активности на экране.
	Description string

	// ShortDescription - краткое описание для списков на дашборде.
	ShortDescription string

	// ModelSuggestion - метка, предложенная моделью. Сохраняется как есть,
	// но классификацию для учителя всегда определяет накопленный FocusScore.
	ModelSuggestion string

	// ObservedAt - время снятия кадра.
	ObservedAt time.Time
}

// Validate проверяет наблюдение на границе приложения.
func (o Observation) Validate() error {
	if !o.RawScore.IsValid() {
		return fmt.Errorf("%w: %d", ErrRawScoreOutOfRange, o.RawScore)
	}
	if strings.TrimSpace(o.Description) == "" {
		return ErrEmptyDescription
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: SESSION
// ══════════════════════════════════════════════════════════════════════════════

// MaxHistoryEntries - ёмкость скользящей истории активности.
const MaxHistoryEntries = 60

// Session - центральная сущность системы: одна отслеживаемая
// сессия ученика за устройством.
type Session struct {
	// ID - стабильный идентификатор сессии на всё время отслеживания.
	ID SessionID

	// Classroom - класс, к которому привязана сессия.
	Classroom ClassroomID

	// DisplayName - отображаемое имя ученика.
	DisplayName string

	// FocusScore - текущий показатель концентрации, [0, 10].
	FocusScore FocusScore

	// History - скользящая история описаний активности,
	// новые записи в начале, не более MaxHistoryEntries элементов.
	History []string

	// LastObservation - последнее наблюдение; перезаписывается целиком.
	LastObservation Observation

	// Active - флаг живости: true пока идёт мониторинг.
	// Не зависит от FocusScore и не меняется при ошибках записи.
	Active bool

	// StartedAt - время начала мониторинга.
	StartedAt time.Time

	// LastUpdated - время последнего применённого наблюдения.
	LastUpdated time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrInvalidSessionID - невалидный идентификатор сессии.
	ErrInvalidSessionID = errors.New("invalid session id: must be 1-128 chars without whitespace")

	// ErrInvalidClassroomID - невалидный идентификатор класса.
	ErrInvalidClassroomID = errors.New("invalid classroom id: must be 1-128 chars")

	// ErrRawScoreOutOfRange - оценка модели вне диапазона [0, 5].
	ErrRawScoreOutOfRange = errors.New("raw score out of range [0, 5]")

	// ErrEmptyDescription - пустое описание активности.
	ErrEmptyDescription = errors.New("observation description is empty")

	// ErrSessionNotFound - сессия не найдена в хранилище.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionAlreadyExists - сессия с таким ID уже существует.
	ErrSessionAlreadyExists = errors.New("session already exists")

	// ErrSessionNotActive - операция требует активной сессии.
	ErrSessionNotActive = errors.New("session is not active")
)

// ══════════════════════════════════════════════════════════════════════════════
// FACTORY & VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// NewSessionParams содержит параметры для создания новой сессии.
type NewSessionParams struct {
	ID          SessionID
	Classroom   ClassroomID
	DisplayName string
}

// NewSession создаёт новую сессию мониторинга с валидацией полей.
// Показатель концентрации начинается с максимума: ученик считается
// сосредоточенным, пока наблюдения не показали обратное.
func NewSession(params NewSessionParams) (*Session, error) {
	if !params.ID.IsValid() {
		return nil, ErrInvalidSessionID
	}

	if !params.Classroom.IsValid() {
		return nil, ErrInvalidClassroomID
	}

	displayName := strings.TrimSpace(params.DisplayName)
	if displayName == "" {
		displayName = params.ID.String()
	}

	now := time.Now().UTC()

	return &Session{
		ID:          params.ID,
		Classroom:   params.Classroom,
		DisplayName: displayName,
		FocusScore:  InitialFocusScore,
		History:     make([]string, 0, MaxHistoryEntries),
		Active:      true,
		StartedAt:   now,
		LastUpdated: now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN METHODS (Business Logic)
// ══════════════════════════════════════════════════════════════════════════════

// Record применяет наблюдение к сессии: обновляет показатель
// концентрации, историю и LastObservation.
// Операция тотальна на валидном входе и не имеет ошибочных исходов.
func (s *Session) Record(obs Observation) {
	s.FocusScore = ApplyObservation(s.FocusScore, obs.RawScore)
	s.History = PushHistory(s.History, obs.Description)
	s.LastObservation = obs

	if obs.ObservedAt.IsZero() {
		s.LastUpdated = time.Now().UTC()
	} else {
		s.LastUpdated = obs.ObservedAt
	}
}

// Suggestion возвращает текущую метку для учителя.
func (s *Session) Suggestion() Suggestion {
	return DeriveSuggestion(s.FocusScore)
}

// MarkActive включает мониторинг сессии.
// Показатель и история при этом не трогаются.
func (s *Session) MarkActive() {
	s.Active = true
	s.LastUpdated = time.Now().UTC()
}

// MarkInactive выключает мониторинг сессии.
// Единственный способ "закончить" сессию - явного удаления нет.
func (s *Session) MarkInactive() {
	s.Active = false
	s.LastUpdated = time.Now().UTC()
}

// String возвращает строковое представление сессии для логирования.
func (s *Session) String() string {
	return fmt.Sprintf(
		"Session{ID: %s, Classroom: %s, Score: %d, Suggestion: %s, Active: %t}",
		s.ID, s.Classroom, s.FocusScore, s.Suggestion(), s.Active,
	)
}

// Clone создаёт глубокую копию сессии.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}

	clone := *s
	clone.History = make([]string, len(s.History))
	copy(clone.History, s.History)
	return &clone
}
