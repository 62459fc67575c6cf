package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mcdev12/cuecard/go/internal/models"
)

func newSession(id string) *models.Session {
	return models.NewSession(id, models.SessionConfig{
		Presets: []models.Preset{{ID: "p5", Label: "5 min", LowerSec: 180, MidSec: 240, UpperSec: 300}},
	})
}

func recvSession(t *testing.T, ch <-chan SessionSnapshot) SessionSnapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for session snapshot")
		return SessionSnapshot{}
	}
}

func recvCommands(t *testing.T, ch <-chan CommandSnapshot) CommandSnapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for command snapshot")
		return CommandSnapshot{}
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	st := NewMemoryStore(clock)
	ctx := context.Background()

	_, err := st.GetSession(ctx, "STAGE4")
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, st.CreateSession(ctx, "STAGE4", newSession("STAGE4")))
	err = st.CreateSession(ctx, "STAGE4", newSession("STAGE4"))
	require.ErrorIs(t, err, ErrSessionExists)

	got, err := st.GetSession(ctx, "STAGE4")
	require.NoError(t, err)
	assert.Equal(t, models.TimerStatusIdle, got.State.Status)
	assert.Equal(t, clock.Now(), got.UpdatedAt)

	got.Config.Presets[0].Label = "mutated"
	again, err := st.GetSession(ctx, "STAGE4")
	require.NoError(t, err)
	assert.Equal(t, "5 min", again.Config.Presets[0].Label)
}

func TestMemoryStore_UpdateStateReplacesStateOnly(t *testing.T) {
	st := NewMemoryStore(nil)
	ctx := context.Background()
	require.NoError(t, st.CreateSession(ctx, "STAGE4", newSession("STAGE4")))

	next := models.TimerState{Status: models.TimerStatusArmed, PresetID: models.StringPtr("p5"), UpperSec: 300, Seq: 1}
	require.NoError(t, st.UpdateState(ctx, "STAGE4", next))

	got, err := st.GetSession(ctx, "STAGE4")
	require.NoError(t, err)
	assert.Equal(t, next, got.State)
	assert.Len(t, got.Config.Presets, 1)

	require.ErrorIs(t, st.UpdateState(ctx, "NOPE", next), ErrSessionNotFound)
}

func TestMemoryStore_PatchConfigMerges(t *testing.T) {
	st := NewMemoryStore(nil)
	ctx := context.Background()
	require.NoError(t, st.CreateSession(ctx, "STAGE4", newSession("STAGE4")))

	mode := models.OvertimeModeOnce
	require.NoError(t, st.PatchConfig(ctx, "STAGE4", models.ConfigPatch{OvertimeMode: &mode}))

	got, err := st.GetSession(ctx, "STAGE4")
	require.NoError(t, err)
	assert.Equal(t, models.OvertimeModeOnce, got.Config.OvertimeMode)
	assert.False(t, got.Config.ShowTimer)
	assert.Len(t, got.Config.Presets, 1)
}

func TestMemoryStore_SessionSubscription(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := NewMemoryStore(nil)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := st.SubscribeSession(ctx, "STAGE4")
	require.NoError(t, err)
	assert.Nil(t, recvSession(t, ch).Session, "absent session delivers nil document")

	require.NoError(t, st.CreateSession(ctx, "STAGE4", newSession("STAGE4")))
	snap := recvSession(t, ch)
	require.NotNil(t, snap.Session)
	assert.Equal(t, "STAGE4", snap.Session.ID)

	require.NoError(t, st.DeleteSession(ctx, "STAGE4"))
	assert.Nil(t, recvSession(t, ch).Session)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStore_LatestSnapshotWins(t *testing.T) {
	st := NewMemoryStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, st.CreateSession(ctx, "STAGE4", newSession("STAGE4")))

	ch, err := st.SubscribeSession(ctx, "STAGE4")
	require.NoError(t, err)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, st.UpdateState(ctx, "STAGE4", models.TimerState{Status: models.TimerStatusIdle, Seq: i}))
	}

	snap := recvSession(t, ch)
	assert.Equal(t, int64(5), snap.Session.State.Seq)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra snapshot seq=%d", extra.Session.State.Seq)
	default:
	}
}

func TestMemoryStore_CommandQueue(t *testing.T) {
	st := NewMemoryStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := st.AppendCommand(ctx, "STAGE4", models.Command{Type: models.CommandStart})
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, st.CreateSession(ctx, "STAGE4", newSession("STAGE4")))
	ch, err := st.SubscribeCommands(ctx, "STAGE4")
	require.NoError(t, err)
	assert.Empty(t, recvCommands(t, ch).Commands)

	id, err := st.AppendCommand(ctx, "STAGE4", models.Command{
		Type:     models.CommandStart,
		Payload:  json.RawMessage(`{}`),
		SentAtMs: 1000,
		OriginID: "ctl-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	snap := recvCommands(t, ch)
	require.Len(t, snap.Commands, 1)
	assert.Equal(t, id, snap.Commands[0].ID)
	assert.Equal(t, int64(1000), snap.Commands[0].SentAtMs)
	assert.Equal(t, "ctl-1", snap.Commands[0].OriginID)

	require.NoError(t, st.DeleteCommand(ctx, "STAGE4", id))
	assert.Empty(t, recvCommands(t, ch).Commands)

	require.NoError(t, st.DeleteCommand(ctx, "STAGE4", id), "deleting an absent command is not an error")
	require.NoError(t, st.DeleteCommand(ctx, "NOPE", id))
}

func TestFanout_SubscribersTrackContexts(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := NewFanout[int]()
	ctx, cancel := context.WithCancel(context.Background())
	ch := f.Subscribe(ctx, "k", 0)
	assert.Equal(t, 1, f.Subscribers("k"))
	assert.Equal(t, []string{"k"}, f.Keys())

	f.Publish("k", 1)
	f.Publish("k", 2)
	assert.Equal(t, 2, <-ch)

	cancel()
	require.Eventually(t, func() bool { return f.Subscribers("k") == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-ch
	assert.False(t, ok)
}
