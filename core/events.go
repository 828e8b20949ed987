package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates domain events.
type EventType string

const (
	EventActionApplied EventType = "action_applied"
	EventTierChanged   EventType = "tier_changed"
	EventMintCompleted EventType = "mint_completed"
	EventMintFailed    EventType = "mint_failed"
	EventMilestone     EventType = "milestone_reached"
)

// Event represents an immutable domain event.
type Event struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	Time          time.Time      `json:"time"`
	UserID        UserID         `json:"user_id"`
	Action        ActionType     `json:"action,omitempty"`
	Delta         int64          `json:"delta,omitempty"`
	Total         int64          `json:"total,omitempty"`
	Level         int            `json:"level"`
	PreviousLevel int            `json:"previous_level,omitempty"`
	TokenID       string         `json:"token_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func newEvent(typ EventType, user UserID) Event {
	return Event{ID: uuid.NewString(), Type: typ, Time: time.Now().UTC(), UserID: user}
}

// NewActionApplied records a successfully applied action against the updated vector.
func NewActionApplied(action ActionType, delta int64, after AttributeVector) Event {
	e := newEvent(EventActionApplied, after.UserID)
	e.Action, e.Delta, e.Total, e.Level = action, delta, after.Points, after.DerivedLevel
	return e
}

func NewTierChanged(user UserID, from, to int) Event {
	e := newEvent(EventTierChanged, user)
	e.PreviousLevel, e.Level = from, to
	return e
}

func NewMintCompleted(user UserID, level int, tokenID string) Event {
	e := newEvent(EventMintCompleted, user)
	e.Level, e.TokenID = level, tokenID
	return e
}

func NewMintFailed(user UserID, level int, reason string) Event {
	e := newEvent(EventMintFailed, user)
	e.Level = level
	e.Metadata = map[string]any{"reason": reason}
	return e
}
