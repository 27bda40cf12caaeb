// Package analytics records onboarding funnel events. Emission is fire-and-forget: sinks run off the
// caller's goroutine and their failures are logged, never returned.
package analytics

import (
	"encoding/json"
	"fmt"
	"time"

	"nutrition-platform/backend/internal/onboarding/domain"
)

// EventType names a funnel event.
type EventType string

const (
	EventStarted       EventType = "onboarding_started"
	EventStepStarted   EventType = "step_started"
	EventStepCompleted EventType = "step_completed"
	EventStepSkipped   EventType = "step_skipped"
	EventAbandoned     EventType = "onboarding_abandoned"
	EventCompleted     EventType = "onboarding_completed"
)

func (t EventType) Valid() bool {
	switch t {
	case EventStarted, EventStepStarted, EventStepCompleted, EventStepSkipped, EventAbandoned, EventCompleted:
		return true
	}
	return false
}

// Event is the wire payload published to every sink.
type Event struct {
	ID         string        `json:"eventId"`
	Type       EventType     `json:"eventType"`
	SessionID  string        `json:"sessionId,omitempty"`
	UserID     string        `json:"userId"`
	Role       domain.Role   `json:"role"`
	StepID     domain.StepID `json:"stepId,omitempty"`
	StepIndex  *int          `json:"stepIndex,omitempty"`
	TotalSteps int           `json:"totalSteps,omitempty"`
	DurationMs int64         `json:"durationMs,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Index returns a pointer to i for Event.StepIndex.
func Index(i int) *int { return &i }

// Decode parses a published event and checks the fields every consumer relies on.
func Decode(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, err
	}
	if e.ID == "" || !e.Type.Valid() || e.UserID == "" || e.Timestamp.IsZero() {
		return Event{}, fmt.Errorf("analytics: incomplete event %q type %q", e.ID, e.Type)
	}
	return e, nil
}
