// Package agent содержит доменные сущности для агентов захвата экрана —
// клиентов на ученических машинах, которые снимают скриншоты и шлют их
// в конвейер наблюдений. Агент привязан к сессии и авторизуется секретом.
package agent

import (
	"strings"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ══════════════════════════════════════════════════════════════════════════════
// СТАТУС АГЕНТА
// ══════════════════════════════════════════════════════════════════════════════

// Status — статус регистрации агента.
type Status string

const (
	StatusEnrolled Status = "enrolled" // зарегистрирован и может отправлять наблюдения
	StatusRevoked  Status = "revoked"  // отозван, наблюдения отклоняются
)

// IsValid проверяет корректность статуса.
func (s Status) IsValid() bool {
	return s == StatusEnrolled || s == StatusRevoked
}

// ══════════════════════════════════════════════════════════════════════════════
// СУЩНОСТЬ АГЕНТА
// ══════════════════════════════════════════════════════════════════════════════

// Agent — зарегистрированный агент захвата на машине ученика.
type Agent struct {
	ID         string
	Session    tracking.SessionID
	Hostname   string
	SecretHash []byte // bcrypt-хеш секрета, сам секрет не хранится
	Status     Status
	EnrolledAt time.Time
	LastSeenAt time.Time
}

// Enroll регистрирует нового агента и хеширует его секрет.
// Возвращённая сущность готова к сохранению; секрет после вызова
// нигде в домене не остаётся.
func Enroll(session tracking.SessionID, hostname, secret string) (*Agent, error) {
	if !session.IsValid() {
		return nil, tracking.ErrInvalidSessionID
	}
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		return nil, shared.WrapError("agent", "Enroll", shared.ErrEmptyValue, "hostname is required", nil)
	}
	if len(secret) < 8 {
		return nil, shared.WrapError("agent", "Enroll", shared.ErrInvalidInput, "secret must be at least 8 characters", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, shared.WrapError("agent", "Enroll", shared.ErrInvalidInput, "failed to hash secret", err)
	}

	now := time.Now()
	return &Agent{
		ID:         uuid.NewString(),
		Session:    session,
		Hostname:   hostname,
		SecretHash: hash,
		Status:     StatusEnrolled,
		EnrolledAt: now,
		LastSeenAt: now,
	}, nil
}

// Authorize проверяет секрет агента и его статус.
func (a *Agent) Authorize(secret string) error {
	if a.Status == StatusRevoked {
		return shared.ErrAgentRevoked
	}
	if err := bcrypt.CompareHashAndPassword(a.SecretHash, []byte(secret)); err != nil {
		return shared.ErrBadAgentSecret
	}
	return nil
}

// Revoke отзывает агента. Идемпотентно.
func (a *Agent) Revoke() {
	a.Status = StatusRevoked
}

// Touch отмечает момент последней активности агента.
func (a *Agent) Touch(now time.Time) {
	a.LastSeenAt = now
}
