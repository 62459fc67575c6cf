// Package derive computes the values every observer recomputes locally from a
// session snapshot and its own clock: elapsed seconds, colour zone and whether an
// overtime beep is due.
package derive

import (
	"time"

	"github.com/mcdev12/cuecard/go/internal/models"
)

// Zone is the colour band the elapsed time falls into.
type Zone string

const (
	ZoneNeutral Zone = "neutral"
	ZoneGreen   Zone = "green"
	ZoneAmber   Zone = "amber"
	ZoneRed     Zone = "red"
)

// BeepGraceSec is how far past the upper threshold the first beep waits.
const BeepGraceSec = 30

// repeatSchedule is the overtime, in seconds, at which each repeated beep fires.
var repeatSchedule = [...]int{30, 60, 120, 180}

// MaxRepeatBeeps is the number of beeps the repeatedly mode will ever fire.
const MaxRepeatBeeps = len(repeatSchedule)

// ElapsedSeconds returns whole seconds since startedAtMs. It is zero when the timer
// has not started and never negative.
func ElapsedSeconds(startedAtMs *int64, nowMs int64) int {
	if startedAtMs == nil {
		return 0
	}
	d := nowMs - *startedAtMs
	if d <= 0 {
		return 0
	}
	return int(d / 1000)
}

// StateElapsed returns the elapsed seconds of s at now. A stopped timer is frozen
// at its stop time.
func StateElapsed(s models.TimerState, now time.Time) int {
	nowMs := now.UnixMilli()
	if s.Status == models.TimerStatusStopped && s.StoppedAtMs != nil {
		nowMs = *s.StoppedAtMs
	}
	switch s.Status {
	case models.TimerStatusRunning, models.TimerStatusStopped:
		return ElapsedSeconds(s.StartedAtMs, nowMs)
	default:
		return 0
	}
}

// ColorZone maps elapsed seconds to a zone using closed-open intervals.
func ColorZone(elapsed, lower, mid, upper int) Zone {
	switch {
	case elapsed >= upper:
		return ZoneRed
	case elapsed >= mid:
		return ZoneAmber
	case elapsed >= lower:
		return ZoneGreen
	default:
		return ZoneNeutral
	}
}

// IsOvertime reports whether elapsed has reached upper. Callers only ask for a
// timer that has a preset.
func IsOvertime(elapsed, upper int) bool {
	return elapsed >= upper
}

// ShouldBeep reports whether an overtime beep is due.
func ShouldBeep(elapsed, upper int, beeped bool, beepCount int, mode models.OvertimeMode) bool {
	if mode == models.OvertimeModeNone {
		return false
	}
	overtime := elapsed - upper
	if overtime < BeepGraceSec {
		return false
	}
	switch mode {
	case models.OvertimeModeOnce:
		return !beeped
	case models.OvertimeModeRepeatedly:
		if beepCount < 0 || beepCount >= MaxRepeatBeeps {
			return false
		}
		return overtime >= repeatSchedule[beepCount]
	default:
		return false
	}
}

// View is the derived presentation of a session at one instant.
type View struct {
	Status    models.TimerStatus `json:"status"`
	PresetID  *string            `json:"presetId,omitempty"`
	Elapsed   int                `json:"elapsedSec"`
	Zone      Zone               `json:"zone"`
	Overtime  bool               `json:"overtime"`
	BeepDue   bool               `json:"beepDue"`
	ShowTimer bool               `json:"showTimer"`
	UpperSec  int                `json:"upperSec"`
	Remaining int                `json:"remainingSec"`
	Seq       int64              `json:"seq"`
}

// Evaluate derives the view of s at now.
func Evaluate(s *models.Session, now time.Time) View {
	st := s.State
	elapsed := StateElapsed(st, now)
	v := View{
		Status:    st.Status,
		PresetID:  st.PresetID,
		Elapsed:   elapsed,
		Zone:      ZoneNeutral,
		ShowTimer: s.Config.ShowTimer,
		UpperSec:  st.UpperSec,
		Seq:       st.Seq,
	}
	if st.Status == models.TimerStatusIdle {
		return v
	}
	v.Zone = ColorZone(elapsed, st.LowerSec, st.MidSec, st.UpperSec)
	v.Overtime = IsOvertime(elapsed, st.UpperSec)
	if st.Status == models.TimerStatusRunning {
		v.BeepDue = ShouldBeep(elapsed, st.UpperSec, st.Beeped, st.BeepCount, s.Config.OvertimeMode)
	}
	v.Remaining = st.UpperSec - elapsed
	return v
}

// Beep returns st advanced by one beep firing.
func Beep(st models.TimerState) models.TimerState {
	st.Beeped = true
	st.BeepCount++
	return st
}
