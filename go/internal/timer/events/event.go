// Package events defines the timer event stream the authority publishes and the
// gateway relays to browsers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	TypeCommandApplied = "CommandApplied"
	TypeStateChanged   = "StateChanged"
	TypeConfigChanged  = "ConfigChanged"
	TypeOvertimeAlert  = "OvertimeAlert"
)

// Event is the envelope published for every timer event.
type Event struct {
	ID        string          `json:"event_id"`
	Type      string          `json:"event_type"`
	SessionID string          `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// New builds an event with a fresh id.
func New(sessionID, eventType string, payload any, at time.Time) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: at.UTC(),
		Payload:   b,
	}, nil
}

// Publisher delivers events to viewers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LogPublisher logs events instead of sending them anywhere. It is used when no
// event bus is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, event Event) error {
	log.Debug().
		Str("event_id", event.ID).
		Str("event_type", event.Type).
		Str("session_id", event.SessionID).
		Msg("event (no bus configured)")
	return nil
}
