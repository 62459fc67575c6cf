package events

import "github.com/mcdev12/cuecard/go/internal/models"

// Event payload types shared between the authority and the gateway.

// CommandAppliedPayload is the payload for a CommandApplied event. Outcome is one
// of the Outcome* constants.
type CommandAppliedPayload struct {
	CommandID   string `json:"command_id"`
	CommandType string `json:"command_type"`
	OriginID    string `json:"origin_id"`
	SentAtMs    int64  `json:"sent_at_ms"`
	Outcome     string `json:"outcome"`
	Reason      string `json:"reason,omitempty"`
}

const (
	OutcomeApplied  = "applied"
	OutcomeNoOp     = "noop"
	OutcomeRejected = "rejected"
	OutcomeExpired  = "expired"
)

// StateChangedPayload is the payload for a StateChanged event.
type StateChangedPayload struct {
	From  models.TimerStatus `json:"from"`
	To    models.TimerStatus `json:"to"`
	State models.TimerState  `json:"state"`
}

// ConfigChangedPayload is the payload for a ConfigChanged event.
type ConfigChangedPayload struct {
	Config models.SessionConfig `json:"config"`
}

// OvertimeAlertPayload is the payload for an OvertimeAlert event.
type OvertimeAlertPayload struct {
	BeepCount  int                 `json:"beep_count"`
	ElapsedSec int                 `json:"elapsed_sec"`
	UpperSec   int                 `json:"upper_sec"`
	Mode       models.OvertimeMode `json:"mode"`
}
