// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event records something significant that
// happened to a user's compliance progress.
const (
	// Progress events
	EventStepVisited       EventType = "progress.step_visited"
	EventStepCompleted     EventType = "progress.step_completed"
	EventDocumentCompleted EventType = "progress.document_completed"

	// Achievement events
	EventAchievementUnlocked EventType = "achievement.unlocked"

	// Recommendation events
	EventRecommendationsInvalidated EventType = "recommendation.invalidated"
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
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// StepVisitedEvent is emitted when a user opens a guidance step.
type StepVisitedEvent struct {
	BaseEvent
	UserID    string `json:"user_id"`
	SectionID string `json:"section_id"`
	StepID    string `json:"step_id"`
}

// Payload implements Event interface.
func (e StepVisitedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"section_id": e.SectionID,
		"step_id":    e.StepID,
	}
}

// NewStepVisitedEvent creates a new StepVisitedEvent.
func NewStepVisitedEvent(userID, sectionID, stepID string) StepVisitedEvent {
	return StepVisitedEvent{
		BaseEvent: NewBaseEvent(EventStepVisited, userID),
		UserID:    userID,
		SectionID: sectionID,
		StepID:    stepID,
	}
}

// StepCompletedEvent is emitted when a user marks a step complete.
type StepCompletedEvent struct {
	BaseEvent
	UserID      string    `json:"user_id"`
	SectionID   string    `json:"section_id"`
	StepID      string    `json:"step_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// Payload implements Event interface.
func (e StepCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"section_id":   e.SectionID,
		"step_id":      e.StepID,
		"completed_at": e.CompletedAt,
	}
}

// NewStepCompletedEvent creates a new StepCompletedEvent.
func NewStepCompletedEvent(userID, sectionID, stepID string, completedAt time.Time) StepCompletedEvent {
	return StepCompletedEvent{
		BaseEvent:   NewBaseEvent(EventStepCompleted, userID),
		UserID:      userID,
		SectionID:   sectionID,
		StepID:      stepID,
		CompletedAt: completedAt,
	}
}

// DocumentCompletedEvent is emitted when a required document is finished.
type DocumentCompletedEvent struct {
	BaseEvent
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id"`
	Category   string `json:"category"`
}

// Payload implements Event interface.
func (e DocumentCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     e.UserID,
		"document_id": e.DocumentID,
		"category":    e.Category,
	}
}

// NewDocumentCompletedEvent creates a new DocumentCompletedEvent.
func NewDocumentCompletedEvent(userID, documentID, category string) DocumentCompletedEvent {
	return DocumentCompletedEvent{
		BaseEvent:  NewBaseEvent(EventDocumentCompleted, userID),
		UserID:     userID,
		DocumentID: documentID,
		Category:   category,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// AchievementUnlockedEvent is emitted after an unlock has been persisted.
type AchievementUnlockedEvent struct {
	BaseEvent
	UserID        string    `json:"user_id"`
	AchievementID string    `json:"achievement_id"`
	Points        int       `json:"points"`
	Rarity        string    `json:"rarity"`
	AchievedAt    time.Time `json:"achieved_at"`
}

// Payload implements Event interface.
func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"achievement_id": e.AchievementID,
		"points":         e.Points,
		"rarity":         e.Rarity,
		"achieved_at":    e.AchievedAt,
	}
}

// NewAchievementUnlockedEvent creates a new AchievementUnlockedEvent.
func NewAchievementUnlockedEvent(userID, achievementID string, points int, rarity string, achievedAt time.Time) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementUnlocked, userID),
		UserID:        userID,
		AchievementID: achievementID,
		Points:        points,
		Rarity:        rarity,
		AchievedAt:    achievedAt,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Recommendation Events
// ═══════════════════════════════════════════════════════════════════════════

// RecommendationsInvalidatedEvent is emitted when cached recommendations
// for a user are dropped.
type RecommendationsInvalidatedEvent struct {
	BaseEvent
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// Payload implements Event interface.
func (e RecommendationsInvalidatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id": e.UserID,
		"reason":  e.Reason,
	}
}

// NewRecommendationsInvalidatedEvent creates a new RecommendationsInvalidatedEvent.
func NewRecommendationsInvalidatedEvent(userID, reason string) RecommendationsInvalidatedEvent {
	return RecommendationsInvalidatedEvent{
		BaseEvent: NewBaseEvent(EventRecommendationsInvalidated, userID),
		UserID:    userID,
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
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
