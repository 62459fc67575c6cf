package machine

import (
	"fmt"
	"time"

	"github.com/mcdev12/cuecard/go/internal/models"
	"github.com/mcdev12/cuecard/go/internal/timer/command"
)

// ResumeMode decides what START does to the clock of a stopped timer.
type ResumeMode string

const (
	// ResumeContinue keeps the elapsed time accumulated before STOP.
	ResumeContinue ResumeMode = "continue"
	// ResumeRestart starts counting from zero again.
	ResumeRestart ResumeMode = "restart"
)

// Valid reports whether m is a known resume mode.
func (m ResumeMode) Valid() bool {
	return m == ResumeContinue || m == ResumeRestart
}

// Machine applies decoded commands to session snapshots.
type Machine struct {
	resume ResumeMode
}

// New creates a Machine. An empty mode means ResumeContinue.
func New(resume ResumeMode) (*Machine, error) {
	if resume == "" {
		resume = ResumeContinue
	}
	if !resume.Valid() {
		return nil, fmt.Errorf("unknown resume mode %q", resume)
	}
	return &Machine{resume: resume}, nil
}

// Result describes the effect of one command.
type Result struct {
	From models.TimerStatus
	To   models.TimerStatus

	// NoOp is true when the command's preconditions were not met.
	NoOp bool

	StateChanged  bool
	ConfigChanged bool

	State  models.TimerState
	Config models.SessionConfig
}

// Apply computes the effect of in on cur at wall time now. cur is not modified.
func (m *Machine) Apply(cur *models.Session, in command.Intent, now time.Time) Result {
	res := Result{
		From:   cur.State.Status,
		To:     cur.State.Status,
		State:  cur.State.Clone(),
		Config: cur.Config.Clone(),
	}

	if p, ok := in.Payload.(command.UpdateConfig); ok {
		if p.ConfigPatch.Empty() {
			res.NoOp = true
			return res
		}
		res.Config = cur.Config.Apply(p.ConfigPatch)
		res.ConfigChanged = true
		return res
	}

	tr, ok := TransitionFor(cur.State.Status, in.Type())
	if !ok {
		res.NoOp = true
		return res
	}

	nowMs := now.UnixMilli()
	next := res.State
	switch p := in.Payload.(type) {
	case command.SetPreset:
		next.PresetID = models.StringPtr(p.PresetID)
		next.LowerSec = p.LowerSec
		next.MidSec = p.MidSec
		next.UpperSec = p.UpperSec
		next.StartedAtMs = nil
		next.StoppedAtMs = nil
		next.Beeped = false
		next.BeepCount = 0

	case command.Start:
		if tr.From == models.TimerStatusStopped {
			m.resumeClock(&next, nowMs)
		} else {
			next.StartedAtMs = models.Int64Ptr(nowMs)
			next.StoppedAtMs = nil
			next.Beeped = false
			next.BeepCount = 0
		}

	case command.Stop:
		next.StoppedAtMs = models.Int64Ptr(nowMs)

	case command.Reset:
		seq := next.Seq
		next = models.IdleState()
		next.Seq = seq
	}

	next.Status = tr.To
	next.Seq++
	res.To = tr.To
	res.State = next
	res.StateChanged = true
	return res
}

func (m *Machine) resumeClock(s *models.TimerState, nowMs int64) {
	if m.resume == ResumeContinue && s.StartedAtMs != nil && s.StoppedAtMs != nil {
		frozen := *s.StoppedAtMs - *s.StartedAtMs
		if frozen < 0 {
			frozen = 0
		}
		s.StartedAtMs = models.Int64Ptr(nowMs - frozen)
		s.StoppedAtMs = nil
		return
	}
	s.StartedAtMs = models.Int64Ptr(nowMs)
	s.StoppedAtMs = nil
	s.Beeped = false
	s.BeepCount = 0
}
