package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPreset is returned when a preset's thresholds are out of order or negative.
var ErrInvalidPreset = errors.New("invalid preset")

// TimerStatus defines the lifecycle status of a session timer.
type TimerStatus string

const (
	TimerStatusIdle    TimerStatus = "idle"
	TimerStatusArmed   TimerStatus = "armed"
	TimerStatusRunning TimerStatus = "running"
	TimerStatusStopped TimerStatus = "stopped"
)

// Valid reports whether s is one of the four defined statuses.
func (s TimerStatus) Valid() bool {
	switch s {
	case TimerStatusIdle, TimerStatusArmed, TimerStatusRunning, TimerStatusStopped:
		return true
	}
	return false
}

// OvertimeMode controls how the authority alerts once the upper threshold is passed.
type OvertimeMode string

const (
	OvertimeModeNone       OvertimeMode = "none"
	OvertimeModeOnce       OvertimeMode = "once"
	OvertimeModeRepeatedly OvertimeMode = "repeatedly"
)

// Valid reports whether m is a known overtime mode.
func (m OvertimeMode) Valid() bool {
	switch m {
	case OvertimeModeNone, OvertimeModeOnce, OvertimeModeRepeatedly:
		return true
	}
	return false
}

// Preset is a named set of colour thresholds, in seconds.
type Preset struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	LowerSec int    `json:"lowerSec"`
	MidSec   int    `json:"midSec"`
	UpperSec int    `json:"upperSec"`
}

// Validate checks 0 <= lower <= mid <= upper.
func (p Preset) Validate() error {
	return ValidateThresholds(p.LowerSec, p.MidSec, p.UpperSec)
}

// ValidateThresholds checks 0 <= lower <= mid <= upper.
func ValidateThresholds(lower, mid, upper int) error {
	if lower < 0 || mid < 0 || upper < 0 {
		return fmt.Errorf("%w: thresholds must be non-negative (%d/%d/%d)", ErrInvalidPreset, lower, mid, upper)
	}
	if lower > mid || mid > upper {
		return fmt.Errorf("%w: thresholds must be ordered lower <= mid <= upper (%d/%d/%d)", ErrInvalidPreset, lower, mid, upper)
	}
	return nil
}

// SessionConfig is the part of a session any controller may change through UPDATE_CONFIG.
type SessionConfig struct {
	Presets      []Preset     `json:"presets"`
	ShowTimer    bool         `json:"showTimer"`
	OvertimeMode OvertimeMode `json:"overtimeMode"`
}

// Validate checks every preset and the overtime mode.
func (c SessionConfig) Validate() error {
	for _, p := range c.Presets {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("preset %q: %w", p.ID, err)
		}
	}
	if !c.OvertimeMode.Valid() {
		return fmt.Errorf("unknown overtime mode %q", c.OvertimeMode)
	}
	return nil
}

// Preset looks up a preset by id.
func (c SessionConfig) Preset(id string) (Preset, bool) {
	for _, p := range c.Presets {
		if p.ID == id {
			return p, true
		}
	}
	return Preset{}, false
}

// Apply returns a copy of c with the non-nil fields of patch merged in.
func (c SessionConfig) Apply(patch ConfigPatch) SessionConfig {
	out := c.Clone()
	if patch.ShowTimer != nil {
		out.ShowTimer = *patch.ShowTimer
	}
	if patch.OvertimeMode != nil {
		out.OvertimeMode = *patch.OvertimeMode
	}
	if patch.Presets != nil {
		out.Presets = append([]Preset(nil), (*patch.Presets)...)
	}
	return out
}

// Clone returns a deep copy.
func (c SessionConfig) Clone() SessionConfig {
	out := c
	if c.Presets != nil {
		out.Presets = append([]Preset(nil), c.Presets...)
	}
	return out
}

// ConfigPatch is a partial config update. Nil fields are left unchanged.
type ConfigPatch struct {
	ShowTimer    *bool         `json:"showTimer,omitempty"`
	OvertimeMode *OvertimeMode `json:"overtimeMode,omitempty"`
	Presets      *[]Preset     `json:"presets,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ConfigPatch) Empty() bool {
	return p.ShowTimer == nil && p.OvertimeMode == nil && p.Presets == nil
}

// TimerState is written only by the authority.
type TimerState struct {
	Status      TimerStatus `json:"status"`
	PresetID    *string     `json:"presetId"`
	LowerSec    int         `json:"lowerSec"`
	MidSec      int         `json:"midSec"`
	UpperSec    int         `json:"upperSec"`
	StartedAtMs *int64      `json:"startedAtMs"`
	StoppedAtMs *int64      `json:"stoppedAtMs"`
	Beeped      bool        `json:"beeped"`
	BeepCount   int         `json:"beepCount"`
	Seq         int64       `json:"seq"`
}

// IdleState is the initial state of every session.
func IdleState() TimerState {
	return TimerState{Status: TimerStatusIdle}
}

// Clone returns a deep copy.
func (s TimerState) Clone() TimerState {
	out := s
	if s.PresetID != nil {
		v := *s.PresetID
		out.PresetID = &v
	}
	if s.StartedAtMs != nil {
		v := *s.StartedAtMs
		out.StartedAtMs = &v
	}
	if s.StoppedAtMs != nil {
		v := *s.StoppedAtMs
		out.StoppedAtMs = &v
	}
	return out
}

// Session is the shared document for one timer instance.
type Session struct {
	ID        string        `json:"id"`
	Config    SessionConfig `json:"config"`
	State     TimerState    `json:"state"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// NewSession builds an idle session with the given config.
func NewSession(id string, cfg SessionConfig) *Session {
	if cfg.OvertimeMode == "" {
		cfg.OvertimeMode = OvertimeModeNone
	}
	return &Session{
		ID:     id,
		Config: cfg.Clone(),
		State:  IdleState(),
	}
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	return &Session{
		ID:        s.ID,
		Config:    s.Config.Clone(),
		State:     s.State.Clone(),
		UpdatedAt: s.UpdatedAt,
	}
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }
