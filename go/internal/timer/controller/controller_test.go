package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mcdev12/cuecard/go/internal/models"
	"github.com/mcdev12/cuecard/go/internal/timer/command"
	"github.com/mcdev12/cuecard/go/internal/timer/derive"
	"github.com/mcdev12/cuecard/go/internal/timer/store"
)

const sessionID = "STAGE4"

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T, clock clockwork.Clock) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore(clock)
	require.NoError(t, st.CreateSession(context.Background(), sessionID, models.NewSession(sessionID, models.SessionConfig{
		ShowTimer: true,
		Presets:   []models.Preset{{ID: "talk", Label: "Talk", LowerSec: 60, MidSec: 90, UpperSec: 120}},
	})))
	return st
}

func TestEmitter_StampsCommands(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	st := newStore(t, clock)
	e := NewEmitter(sessionID, st, clock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := e.SetPreset(ctx, models.Preset{ID: "talk", LowerSec: 60, MidSec: 90, UpperSec: 120})
	require.NoError(t, err)

	ch, err := st.SubscribeCommands(ctx, sessionID)
	require.NoError(t, err)
	snap := <-ch
	require.Len(t, snap.Commands, 1)
	c := snap.Commands[0]
	assert.Equal(t, id, c.ID)
	assert.Equal(t, models.CommandSetPreset, c.Type)
	assert.Equal(t, t0.UnixMilli(), c.SentAtMs)
	assert.Equal(t, e.OriginID(), c.OriginID)

	intent, err := command.Decode(c)
	require.NoError(t, err)
	assert.Equal(t, command.SetPreset{PresetID: "talk", LowerSec: 60, MidSec: 90, UpperSec: 120}, intent.Payload)
}

func TestEmitter_RejectsInvalidIntentsLocally(t *testing.T) {
	st := newStore(t, nil)
	e := NewEmitter(sessionID, st, nil)

	_, err := e.SetPreset(context.Background(), models.Preset{ID: "bad", LowerSec: 10, MidSec: 5, UpperSec: 20})
	require.ErrorIs(t, err, command.ErrMalformedPayload)

	mode := models.OvertimeMode("sometimes")
	_, err = e.UpdateConfig(context.Background(), models.ConfigPatch{OvertimeMode: &mode})
	require.ErrorIs(t, err, command.ErrMalformedPayload)
}

func TestEmitter_MissingSession(t *testing.T) {
	e := NewEmitter("NOPE", store.NewMemoryStore(nil), nil)
	_, err := e.Start(context.Background())
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestMirror_FollowsSessionAndDerivesView(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := clockwork.NewFakeClockAt(t0)
	st := newStore(t, clock)
	m := NewMirror(sessionID, st, clock)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { _, ok := m.View(); return ok }, time.Second, 5*time.Millisecond)
	assert.True(t, m.Connected())
	p, ok := m.Preset("talk")
	require.True(t, ok)
	assert.Equal(t, 120, p.UpperSec)

	require.NoError(t, st.UpdateState(ctx, sessionID, models.TimerState{
		Status:      models.TimerStatusRunning,
		PresetID:    models.StringPtr("talk"),
		LowerSec:    60,
		MidSec:      90,
		UpperSec:    120,
		StartedAtMs: models.Int64Ptr(t0.UnixMilli()),
		Seq:         2,
	}))
	require.Eventually(t, func() bool {
		v, _ := m.View()
		return v.Status == models.TimerStatusRunning
	}, time.Second, 5*time.Millisecond)

	clock.Advance(95 * time.Second)
	v, _ := m.View()
	assert.Equal(t, 95, v.Elapsed)
	assert.Equal(t, derive.ZoneAmber, v.Zone)
	assert.True(t, v.ShowTimer)

	cancel()
	require.NoError(t, <-done)
}

func TestMirror_ReportsGone(t *testing.T) {
	st := newStore(t, nil)
	m := NewMirror(sessionID, st, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.Session() != nil }, time.Second, 5*time.Millisecond)
	require.NoError(t, st.DeleteSession(ctx, sessionID))

	select {
	case err := <-done:
		require.ErrorIs(t, err, store.ErrSessionNotFound)
	case <-time.After(time.Second):
		t.Fatal("mirror did not stop")
	}
	assert.True(t, m.Gone())
	_, ok := m.View()
	assert.False(t, ok)
}

// flakyReader delivers scripted snapshots.
type flakyReader struct {
	ch chan store.SessionSnapshot
}

func (f *flakyReader) GetSession(context.Context, string) (*models.Session, error) {
	return nil, errors.New("not used")
}

func (f *flakyReader) SubscribeSession(context.Context, string) (<-chan store.SessionSnapshot, error) {
	return f.ch, nil
}

func TestMirror_KeepsLastStateOnTransportError(t *testing.T) {
	r := &flakyReader{ch: make(chan store.SessionSnapshot)}
	m := NewMirror(sessionID, r, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	r.ch <- store.SessionSnapshot{Session: models.NewSession(sessionID, models.SessionConfig{})}
	r.ch <- store.SessionSnapshot{Err: errors.New("connection reset")}
	require.Eventually(t, func() bool { return !m.Connected() }, time.Second, 5*time.Millisecond)
	assert.NotNil(t, m.Session())
	assert.False(t, m.Gone())
	assert.EqualError(t, m.Err(), "connection reset")

	r.ch <- store.SessionSnapshot{Session: models.NewSession(sessionID, models.SessionConfig{})}
	require.Eventually(t, m.Connected, time.Second, 5*time.Millisecond)
	assert.NoError(t, m.Err())
}

func TestMirror_IgnoresStaleSnapshots(t *testing.T) {
	m := NewMirror(sessionID, nil, nil)
	newer := models.NewSession(sessionID, models.SessionConfig{})
	newer.State.Status = models.TimerStatusArmed
	newer.State.Seq = 2
	older := models.NewSession(sessionID, models.SessionConfig{})
	older.State.Seq = 1

	assert.False(t, m.apply(store.SessionSnapshot{Session: newer}))
	assert.False(t, m.apply(store.SessionSnapshot{Session: older}))

	require.NotNil(t, m.Session())
	assert.Equal(t, int64(2), m.Session().State.Seq)
	assert.Equal(t, models.TimerStatusArmed, m.Session().State.Status)
	assert.True(t, m.Connected())

	mode := models.OvertimeModeOnce
	patched := newer.Clone()
	patched.Config.OvertimeMode = mode
	m.apply(store.SessionSnapshot{Session: patched})
	assert.Equal(t, mode, m.Session().Config.OvertimeMode)
}
