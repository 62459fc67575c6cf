package authority

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Alarm sounds the overtime beep. Audio output lives outside this module.
type Alarm interface {
	Beep(ctx context.Context, sessionID string, beepCount int)
}

// LogAlarm only logs.
type LogAlarm struct{}

func (LogAlarm) Beep(_ context.Context, sessionID string, beepCount int) {
	log.Info().
		Str("session_id", sessionID).
		Int("beep_count", beepCount).
		Msg("overtime beep")
}

// AlarmFunc adapts a function to Alarm.
type AlarmFunc func(ctx context.Context, sessionID string, beepCount int)

func (f AlarmFunc) Beep(ctx context.Context, sessionID string, beepCount int) {
	f(ctx, sessionID, beepCount)
}
