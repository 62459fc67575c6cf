// Package machine implements the session timer lifecycle: idle, armed, running and
// stopped. The machine is total: every (status, command) pair is either a listed
// transition or a no-op.
package machine

import "github.com/mcdev12/cuecard/go/internal/models"

// Transition is a single allowed edge of the timer lifecycle.
type Transition struct {
	From    models.TimerStatus
	Command models.CommandType
	To      models.TimerStatus
}

var transitionsTable = []Transition{
	// Arming
	{From: models.TimerStatusIdle, Command: models.CommandSetPreset, To: models.TimerStatusArmed},
	{From: models.TimerStatusArmed, Command: models.CommandSetPreset, To: models.TimerStatusArmed},

	// Running
	{From: models.TimerStatusArmed, Command: models.CommandStart, To: models.TimerStatusRunning},
	{From: models.TimerStatusRunning, Command: models.CommandStop, To: models.TimerStatusStopped},
	{From: models.TimerStatusStopped, Command: models.CommandStart, To: models.TimerStatusRunning},

	// Reset
	{From: models.TimerStatusArmed, Command: models.CommandReset, To: models.TimerStatusIdle},
	{From: models.TimerStatusRunning, Command: models.CommandReset, To: models.TimerStatusIdle},
	{From: models.TimerStatusStopped, Command: models.CommandReset, To: models.TimerStatusIdle},
}

// TransitionFor returns the allowed transition for a status and command type.
// UPDATE_CONFIG is not part of the table; it is legal in every status and never
// changes it.
func TransitionFor(from models.TimerStatus, cmd models.CommandType) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Command == cmd {
			return tr, true
		}
	}
	return Transition{}, false
}

// Transitions returns a copy of the transition table.
func Transitions() []Transition {
	return append([]Transition(nil), transitionsTable...)
}
