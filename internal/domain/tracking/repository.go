package tracking

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// ListOptions содержит параметры выборки.
type ListOptions struct {
	// Limit - максимальное количество записей (0 = без ограничения).
	Limit int

	// Offset - смещение для пагинации.
	Offset int

	// ActiveOnly - вернуть только активные сессии.
	ActiveOnly bool
}

// Repository определяет операции хранилища для сессий.
type Repository interface {
	// Upsert сохраняет сессию целиком: вставка, если записи нет,
	// иначе полная замена по ID.
	Upsert(ctx context.Context, session *Session) error

	// GetByID возвращает сессию по идентификатору.
	// Возвращает ErrSessionNotFound, если сессия не найдена.
	GetByID(ctx context.Context, id SessionID) (*Session, error)

	// GetByClassroom возвращает сессии указанного класса.
	GetByClassroom(ctx context.Context, classroom ClassroomID, opts ListOptions) ([]*Session, error)

	// ListActive возвращает все активные сессии.
	ListActive(ctx context.Context) ([]*Session, error)

	// SetActive выставляет флаг живости, не трогая показатель и историю.
	// Возвращает ErrSessionNotFound, если сессия не найдена.
	SetActive(ctx context.Context, id SessionID, active bool) error
}

// Cache определяет операции кеша сессий поверх основного хранилища.
type Cache interface {
	// Get возвращает сессию из кеша или ошибку при промахе.
	Get(ctx context.Context, id SessionID) (*Session, error)

	// Set кладёт сессию в кеш с указанным TTL.
	Set(ctx context.Context, session *Session, ttl time.Duration) error

	// Delete убирает сессию из кеша.
	Delete(ctx context.Context, id SessionID) error
}

// PresenceTracker отслеживает последний heartbeat агента по сессии.
// Сессии без heartbeat дольше порога считаются "застывшими" и
// помечаются неактивными фоновой задачей.
type PresenceTracker interface {
	// Heartbeat фиксирует признак жизни агента для сессии.
	Heartbeat(ctx context.Context, id SessionID) error

	// LastSeen возвращает время последнего heartbeat.
	// Возвращает нулевое время, если heartbeat не зафиксирован.
	LastSeen(ctx context.Context, id SessionID) (time.Time, error)

	// ActiveIDs возвращает сессии с heartbeat не старше порога.
	ActiveIDs(ctx context.Context, within time.Duration) ([]SessionID, error)
}

// JournalEntry - одна запись журнала наблюдений для последующего аудита.
type JournalEntry struct {
	SessionID   SessionID
	RawScore    RawScore
	FocusScore  FocusScore
	Description string
	ObservedAt  time.Time
}

// Journal хранит поток наблюдений независимо от скользящей истории сессии.
type Journal interface {
	// Append добавляет запись в журнал.
	Append(ctx context.Context, entry JournalEntry) error

	// Recent возвращает последние записи по сессии, новые первыми.
	Recent(ctx context.Context, id SessionID, limit int) ([]JournalEntry, error)

	// PruneBefore удаляет записи старше указанного момента.
	// Возвращает количество удалённых строк.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
