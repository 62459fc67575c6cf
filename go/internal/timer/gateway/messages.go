package gateway

import (
	"encoding/json"
	"time"

	"github.com/mcdev12/cuecard/go/internal/models"
	"github.com/mcdev12/cuecard/go/internal/timer/derive"
)

// Message types the gateway originates. Relayed events keep their event type.
const (
	MessageSessionSnapshot = "SessionSnapshot"
	MessageSessionGone     = "SessionGone"
	MessageCommandAccepted = "CommandAccepted"
	MessageError           = "Error"
)

// Message is what browsers receive.
type Message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	EventID   string          `json:"event_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SnapshotData carries the session document plus the values derived from it at
// send time.
type SnapshotData struct {
	Session *models.Session `json:"session"`
	View    derive.View     `json:"view"`
}

type CommandAcceptedData struct {
	CommandID   string             `json:"command_id"`
	CommandType models.CommandType `json:"command_type"`
}

type ErrorData struct {
	Error string `json:"error"`
}

// ClientMessage is what a controller page sends, e.g. {"type":"START","payload":{}}.
type ClientMessage struct {
	Type    models.CommandType `json:"type"`
	Payload json.RawMessage    `json:"payload"`
}

func newMessage(sessionID, msgType string, data any, at time.Time) (*Message, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &Message{Type: msgType, SessionID: sessionID, Timestamp: at.UTC(), Data: raw}, nil
}

func snapshotMessage(s *models.Session, now time.Time) (*Message, error) {
	return newMessage(s.ID, MessageSessionSnapshot, SnapshotData{Session: s, View: derive.Evaluate(s, now)}, now)
}
