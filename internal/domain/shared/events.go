// Package shared contains common domain types, errors, and events
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Each event represents something significant that happened in the domain.
const (
	// Focus events
	EventFocusScoreChanged EventType = "focus.score_changed"
	EventReminderNeeded    EventType = "focus.reminder_needed"
	EventBackOnTask        EventType = "focus.back_on_task"

	// Session lifecycle events
	EventMonitoringStarted EventType = "session.monitoring_started"
	EventMonitoringStopped EventType = "session.monitoring_stopped"
	EventSessionStale      EventType = "session.stale"

	// Assignment events
	EventAssignmentChanged EventType = "assignment.changed"

	// Agent events
	EventAgentEnrolled EventType = "agent.enrolled"

	// System events
	EventCaptureCycleCompleted EventType = "system.capture_cycle_completed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Focus Events
// ═══════════════════════════════════════════════════════════════════════════

// FocusScoreChangedEvent is published when an observation moves a
// session's accumulated focus score.
type FocusScoreChangedEvent struct {
	BaseEvent
	SessionID   string `json:"session_id"`
	Classroom   string `json:"classroom"`
	OldScore    int    `json:"old_score"`
	NewScore    int    `json:"new_score"`
	RawScore    int    `json:"raw_score"`
	Description string `json:"description"`
}

// Payload implements Event interface.
func (e FocusScoreChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id":  e.SessionID,
		"classroom":   e.Classroom,
		"old_score":   e.OldScore,
		"new_score":   e.NewScore,
		"raw_score":   e.RawScore,
		"description": e.Description,
	}
}

// NewFocusScoreChangedEvent creates a new FocusScoreChangedEvent.
func NewFocusScoreChangedEvent(sessionID, classroom string, oldScore, newScore, rawScore int, description string) FocusScoreChangedEvent {
	return FocusScoreChangedEvent{
		BaseEvent:   NewBaseEvent(EventFocusScoreChanged, sessionID),
		SessionID:   sessionID,
		Classroom:   classroom,
		OldScore:    oldScore,
		NewScore:    newScore,
		RawScore:    rawScore,
		Description: description,
	}
}

// ReminderNeededEvent is published when a session's suggestion label
// crosses into needs-reminder.
type ReminderNeededEvent struct {
	BaseEvent
	SessionID        string `json:"session_id"`
	Classroom        string `json:"classroom"`
	FocusScore       int    `json:"focus_score"`
	ShortDescription string `json:"short_description"`
}

// Payload implements Event interface.
func (e ReminderNeededEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id":        e.SessionID,
		"classroom":         e.Classroom,
		"focus_score":       e.FocusScore,
		"short_description": e.ShortDescription,
	}
}

// NewReminderNeededEvent creates a new ReminderNeededEvent.
func NewReminderNeededEvent(sessionID, classroom string, focusScore int, shortDescription string) ReminderNeededEvent {
	return ReminderNeededEvent{
		BaseEvent:        NewBaseEvent(EventReminderNeeded, sessionID),
		SessionID:        sessionID,
		Classroom:        classroom,
		FocusScore:       focusScore,
		ShortDescription: shortDescription,
	}
}

// BackOnTaskEvent is published when a previously flagged session
// climbs back into the on-task band.
type BackOnTaskEvent struct {
	BaseEvent
	SessionID  string `json:"session_id"`
	Classroom  string `json:"classroom"`
	FocusScore int    `json:"focus_score"`
}

// Payload implements Event interface.
func (e BackOnTaskEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id":  e.SessionID,
		"classroom":   e.Classroom,
		"focus_score": e.FocusScore,
	}
}

// NewBackOnTaskEvent creates a new BackOnTaskEvent.
func NewBackOnTaskEvent(sessionID, classroom string, focusScore int) BackOnTaskEvent {
	return BackOnTaskEvent{
		BaseEvent:  NewBaseEvent(EventBackOnTask, sessionID),
		SessionID:  sessionID,
		Classroom:  classroom,
		FocusScore: focusScore,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Session Lifecycle Events
// ═══════════════════════════════════════════════════════════════════════════

// MonitoringStartedEvent is published when monitoring begins for a session.
type MonitoringStartedEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	Classroom string `json:"classroom"`
}

// Payload implements Event interface.
func (e MonitoringStartedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id": e.SessionID,
		"classroom":  e.Classroom,
	}
}

// NewMonitoringStartedEvent creates a new MonitoringStartedEvent.
func NewMonitoringStartedEvent(sessionID, classroom string) MonitoringStartedEvent {
	return MonitoringStartedEvent{
		BaseEvent: NewBaseEvent(EventMonitoringStarted, sessionID),
		SessionID: sessionID,
		Classroom: classroom,
	}
}

// MonitoringStoppedEvent is published when monitoring stops for a session.
type MonitoringStoppedEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	Classroom string `json:"classroom"`
	Reason    string `json:"reason"`
}

// Payload implements Event interface.
func (e MonitoringStoppedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id": e.SessionID,
		"classroom":  e.Classroom,
		"reason":     e.Reason,
	}
}

// NewMonitoringStoppedEvent creates a new MonitoringStoppedEvent.
func NewMonitoringStoppedEvent(sessionID, classroom, reason string) MonitoringStoppedEvent {
	return MonitoringStoppedEvent{
		BaseEvent: NewBaseEvent(EventMonitoringStopped, sessionID),
		SessionID: sessionID,
		Classroom: classroom,
		Reason:    reason,
	}
}

// SessionStaleEvent is published when a session's agent stops
// reporting heartbeats and the session is marked inactive.
type SessionStaleEvent struct {
	BaseEvent
	SessionID string    `json:"session_id"`
	Classroom string    `json:"classroom"`
	LastSeen  time.Time `json:"last_seen"`
}

// Payload implements Event interface.
func (e SessionStaleEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id": e.SessionID,
		"classroom":  e.Classroom,
		"last_seen":  e.LastSeen,
	}
}

// NewSessionStaleEvent creates a new SessionStaleEvent.
func NewSessionStaleEvent(sessionID, classroom string, lastSeen time.Time) SessionStaleEvent {
	return SessionStaleEvent{
		BaseEvent: NewBaseEvent(EventSessionStale, sessionID),
		SessionID: sessionID,
		Classroom: classroom,
		LastSeen:  lastSeen,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Assignment Events
// ═══════════════════════════════════════════════════════════════════════════

// AssignmentChangedEvent is published when a classroom's current task changes.
type AssignmentChangedEvent struct {
	BaseEvent
	Classroom   string `json:"classroom"`
	OldTask     string `json:"old_task"`
	CurrentTask string `json:"current_task"`
}

// Payload implements Event interface.
func (e AssignmentChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"classroom":    e.Classroom,
		"old_task":     e.OldTask,
		"current_task": e.CurrentTask,
	}
}

// NewAssignmentChangedEvent creates a new AssignmentChangedEvent.
func NewAssignmentChangedEvent(classroom, oldTask, currentTask string) AssignmentChangedEvent {
	return AssignmentChangedEvent{
		BaseEvent:   NewBaseEvent(EventAssignmentChanged, classroom),
		Classroom:   classroom,
		OldTask:     oldTask,
		CurrentTask: currentTask,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Agent Events
// ═══════════════════════════════════════════════════════════════════════════

// AgentEnrolledEvent is published when a capture agent enrolls.
type AgentEnrolledEvent struct {
	BaseEvent
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	Hostname  string `json:"hostname"`
}

// Payload implements Event interface.
func (e AgentEnrolledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"agent_id":   e.AgentID,
		"session_id": e.SessionID,
		"hostname":   e.Hostname,
	}
}

// NewAgentEnrolledEvent creates a new AgentEnrolledEvent.
func NewAgentEnrolledEvent(agentID, sessionID, hostname string) AgentEnrolledEvent {
	return AgentEnrolledEvent{
		BaseEvent: NewBaseEvent(EventAgentEnrolled, agentID),
		AgentID:   agentID,
		SessionID: sessionID,
		Hostname:  hostname,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// System Events
// ═══════════════════════════════════════════════════════════════════════════

// CaptureCycleCompletedEvent is published after each full capture sweep.
type CaptureCycleCompletedEvent struct {
	BaseEvent
	SessionsTotal int           `json:"sessions_total"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	Skipped       int           `json:"skipped"`
	Duration      time.Duration `json:"duration"`
}

// Payload implements Event interface.
func (e CaptureCycleCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"sessions_total": e.SessionsTotal,
		"succeeded":      e.Succeeded,
		"failed":         e.Failed,
		"skipped":        e.Skipped,
		"duration_ms":    e.Duration.Milliseconds(),
	}
}

// NewCaptureCycleCompletedEvent creates a new CaptureCycleCompletedEvent.
func NewCaptureCycleCompletedEvent(total, succeeded, failed, skipped int, duration time.Duration) CaptureCycleCompletedEvent {
	return CaptureCycleCompletedEvent{
		BaseEvent:     NewBaseEvent(EventCaptureCycleCompleted, "capture_cycle"),
		SessionsTotal: total,
		Succeeded:     succeeded,
		Failed:        failed,
		Skipped:       skipped,
		Duration:      duration,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Infrastructure Interfaces
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport serialization.
type EventEnvelope struct {
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
