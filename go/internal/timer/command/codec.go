// Package command validates intents and converts them to and from the canonical
// queued command record.
package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/cuecard/go/internal/models"
)

var (
	// ErrUnknownType is returned for a command whose type tag is not recognised.
	ErrUnknownType = errors.New("unknown command type")
	// ErrMalformedPayload is returned when a payload does not match its declared type.
	ErrMalformedPayload = errors.New("malformed command payload")
)

// Payload is the sum type of command payloads. Only this package implements it.
type Payload interface {
	Type() models.CommandType
	validate() error
}

// SetPreset arms the timer with a preset's thresholds.
type SetPreset struct {
	PresetID string `json:"presetId"`
	LowerSec int    `json:"lowerSec"`
	MidSec   int    `json:"midSec"`
	UpperSec int    `json:"upperSec"`
}

// Start starts or resumes the timer.
type Start struct{}

// Stop freezes a running timer.
type Stop struct{}

// Reset returns the timer to idle.
type Reset struct{}

// UpdateConfig patches the session config.
type UpdateConfig struct {
	models.ConfigPatch
}

func (SetPreset) Type() models.CommandType    { return models.CommandSetPreset }
func (Start) Type() models.CommandType        { return models.CommandStart }
func (Stop) Type() models.CommandType         { return models.CommandStop }
func (Reset) Type() models.CommandType        { return models.CommandReset }
func (UpdateConfig) Type() models.CommandType { return models.CommandUpdateConfig }

func (p SetPreset) validate() error {
	if p.PresetID == "" {
		return fmt.Errorf("%w: presetId is required", ErrMalformedPayload)
	}
	if err := models.ValidateThresholds(p.LowerSec, p.MidSec, p.UpperSec); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return nil
}

func (Start) validate() error { return nil }
func (Stop) validate() error  { return nil }
func (Reset) validate() error { return nil }

func (p UpdateConfig) validate() error {
	if p.OvertimeMode != nil && !p.OvertimeMode.Valid() {
		return fmt.Errorf("%w: unknown overtimeMode %q", ErrMalformedPayload, *p.OvertimeMode)
	}
	if p.Presets == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(*p.Presets))
	for _, preset := range *p.Presets {
		if preset.ID == "" {
			return fmt.Errorf("%w: preset id is required", ErrMalformedPayload)
		}
		if _, dup := seen[preset.ID]; dup {
			return fmt.Errorf("%w: duplicate preset id %q", ErrMalformedPayload, preset.ID)
		}
		seen[preset.ID] = struct{}{}
		if err := preset.Validate(); err != nil {
			return fmt.Errorf("%w: preset %q: %w", ErrMalformedPayload, preset.ID, err)
		}
	}
	return nil
}

// Intent is a queued command with its payload decoded.
type Intent struct {
	ID       string
	SentAtMs int64
	OriginID string
	Payload  Payload
}

// Type returns the payload's command type.
func (i Intent) Type() models.CommandType {
	return i.Payload.Type()
}

// New validates p and builds the queue record stamped with sentAt and originID.
// The store assigns the id on append.
func New(p Payload, sentAt time.Time, originID string) (models.Command, error) {
	raw, err := Encode(p)
	if err != nil {
		return models.Command{}, err
	}
	return models.Command{
		Type:     p.Type(),
		Payload:  raw,
		SentAtMs: sentAt.UnixMilli(),
		OriginID: originID,
	}, nil
}

// Encode validates p and returns its canonical JSON form.
func Encode(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrMalformedPayload)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.Type(), err)
	}
	return raw, nil
}

// Decode converts a queued record into an Intent. It fails closed: unknown tags,
// unknown fields, missing required fields and invalid thresholds are all rejected.
func Decode(c models.Command) (Intent, error) {
	p, err := DecodePayload(c.Type, c.Payload)
	if err != nil {
		return Intent{}, err
	}
	return Intent{
		ID:       c.ID,
		SentAtMs: c.SentAtMs,
		OriginID: c.OriginID,
		Payload:  p,
	}, nil
}

// DecodePayload decodes raw according to the type tag t.
func DecodePayload(t models.CommandType, raw json.RawMessage) (Payload, error) {
	switch t {
	case models.CommandSetPreset:
		var wire struct {
			PresetID *string `json:"presetId"`
			LowerSec *int    `json:"lowerSec"`
			MidSec   *int    `json:"midSec"`
			UpperSec *int    `json:"upperSec"`
		}
		if err := strictUnmarshal(raw, &wire); err != nil {
			return nil, err
		}
		if wire.PresetID == nil || wire.LowerSec == nil || wire.MidSec == nil || wire.UpperSec == nil {
			return nil, fmt.Errorf("%w: SET_PRESET requires presetId, lowerSec, midSec and upperSec", ErrMalformedPayload)
		}
		p := SetPreset{PresetID: *wire.PresetID, LowerSec: *wire.LowerSec, MidSec: *wire.MidSec, UpperSec: *wire.UpperSec}
		if err := p.validate(); err != nil {
			return nil, err
		}
		return p, nil

	case models.CommandStart:
		if err := decodeEmpty(t, raw); err != nil {
			return nil, err
		}
		return Start{}, nil

	case models.CommandStop:
		if err := decodeEmpty(t, raw); err != nil {
			return nil, err
		}
		return Stop{}, nil

	case models.CommandReset:
		if err := decodeEmpty(t, raw); err != nil {
			return nil, err
		}
		return Reset{}, nil

	case models.CommandUpdateConfig:
		var p UpdateConfig
		if err := strictUnmarshal(raw, &p.ConfigPatch); err != nil {
			return nil, err
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

func decodeEmpty(t models.CommandType, raw json.RawMessage) error {
	var empty struct{}
	if err := strictUnmarshal(raw, &empty); err != nil {
		return fmt.Errorf("%s carries no payload: %w", t, err)
	}
	return nil
}

// strictUnmarshal treats an absent or null payload as an empty object and rejects
// unknown fields and trailing data.
func strictUnmarshal(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrMalformedPayload)
	}
	return nil
}
