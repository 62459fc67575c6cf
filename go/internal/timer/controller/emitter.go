// Package controller holds the controller side of a session: an Emitter that
// appends commands and a read-only Mirror of the shared document. Nothing here can
// write timer state.
package controller

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuecard/go/internal/models"
	"github.com/mcdev12/cuecard/go/internal/timer/command"
	"github.com/mcdev12/cuecard/go/internal/timer/store"
)

// Emitter turns user intents into queued commands stamped with the local clock.
type Emitter struct {
	sessionID string
	appender  store.CommandAppender
	clock     clockwork.Clock
	originID  string
}

// NewEmitter creates an emitter with a random origin id. A nil clock means the
// real clock.
func NewEmitter(sessionID string, appender store.CommandAppender, clock clockwork.Clock) *Emitter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Emitter{
		sessionID: sessionID,
		appender:  appender,
		clock:     clock,
		originID:  uuid.NewString(),
	}
}

// OriginID identifies this emitter in queued commands.
func (e *Emitter) OriginID() string { return e.originID }

// WithOrigin returns a copy that stamps commands with originID, for callers
// relaying on behalf of a remote controller. An empty id keeps the current one.
func (e *Emitter) WithOrigin(originID string) *Emitter {
	c := *e
	if originID != "" {
		c.originID = originID
	}
	return &c
}

// Send validates p and appends it to the session queue, returning the command id.
func (e *Emitter) Send(ctx context.Context, p command.Payload) (string, error) {
	c, err := command.New(p, e.clock.Now(), e.originID)
	if err != nil {
		return "", err
	}
	id, err := e.appender.AppendCommand(ctx, e.sessionID, c)
	if err != nil {
		return "", fmt.Errorf("send %s: %w", c.Type, err)
	}
	log.Debug().
		Str("session_id", e.sessionID).
		Str("command_id", id).
		Str("command_type", string(c.Type)).
		Int64("sent_at_ms", c.SentAtMs).
		Msg("command sent")
	return id, nil
}

// SetPreset arms the timer with p's thresholds.
func (e *Emitter) SetPreset(ctx context.Context, p models.Preset) (string, error) {
	return e.Send(ctx, command.SetPreset{
		PresetID: p.ID,
		LowerSec: p.LowerSec,
		MidSec:   p.MidSec,
		UpperSec: p.UpperSec,
	})
}

func (e *Emitter) Start(ctx context.Context) (string, error) { return e.Send(ctx, command.Start{}) }
func (e *Emitter) Stop(ctx context.Context) (string, error)  { return e.Send(ctx, command.Stop{}) }
func (e *Emitter) Reset(ctx context.Context) (string, error) { return e.Send(ctx, command.Reset{}) }

// UpdateConfig sends a partial config change.
func (e *Emitter) UpdateConfig(ctx context.Context, patch models.ConfigPatch) (string, error) {
	return e.Send(ctx, command.UpdateConfig{ConfigPatch: patch})
}
