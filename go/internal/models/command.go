package models

import "encoding/json"

// CommandType is the tag of a queued command.
type CommandType string

const (
	CommandSetPreset    CommandType = "SET_PRESET"
	CommandStart        CommandType = "START"
	CommandStop         CommandType = "STOP"
	CommandReset        CommandType = "RESET"
	CommandUpdateConfig CommandType = "UPDATE_CONFIG"
)

// Command is an immutable, single-use intent record as it lives in the queue.
// Payload is kept raw here; the command package decodes it at the processor boundary.
type Command struct {
	ID       string          `json:"id"`
	Type     CommandType     `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SentAtMs int64           `json:"sentAtMs"`
	OriginID string          `json:"originId"`
}
