package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/cuecard/go/internal/models"
	"github.com/mcdev12/cuecard/go/internal/roomid"
	"github.com/mcdev12/cuecard/go/internal/timer/derive"
	"github.com/mcdev12/cuecard/go/internal/timer/session"
	"github.com/mcdev12/cuecard/go/internal/timer/store"
)

type fixture struct {
	store  *store.MemoryStore
	clock  *clockwork.FakeClock
	client TimerServiceClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	st := store.NewMemoryStore(clock)

	mux := http.NewServeMux()
	mux.Handle(NewTimerServiceHandler(NewService(st, session.DefaultConfig(), clock)))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &fixture{
		store:  st,
		clock:  clock,
		client: NewTimerServiceClient(srv.Client(), srv.URL),
	}
}

func TestCreateSession_GeneratesRoomID(t *testing.T) {
	f := newFixture(t)
	res, err := f.client.CreateSession(context.Background(), connect.NewRequest(&CreateSessionRequest{}))
	require.NoError(t, err)

	sess := res.Msg.Session
	require.NotNil(t, sess)
	require.NoError(t, roomid.Validate(sess.ID))
	assert.Equal(t, models.TimerStatusIdle, sess.State.Status)
	assert.Len(t, sess.Config.Presets, 3)
}

func TestCreateSession_ExplicitIDIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.client.CreateSession(ctx, connect.NewRequest(&CreateSessionRequest{SessionID: "stage-7"}))
	require.NoError(t, err)
	assert.Equal(t, "STAGE7", res.Msg.Session.ID)

	again, err := f.client.CreateSession(ctx, connect.NewRequest(&CreateSessionRequest{SessionID: "STAGE7"}))
	require.NoError(t, err)
	assert.Equal(t, res.Msg.Session.ID, again.Msg.Session.ID)

	_, err = f.client.CreateSession(ctx, connect.NewRequest(&CreateSessionRequest{SessionID: "R0"}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestGetSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.GetSession(ctx, connect.NewRequest(&GetSessionRequest{SessionID: "NOPE42"}))
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	_, err = session.Ensure(ctx, f.store, "STAGE7", session.DefaultConfig())
	require.NoError(t, err)
	started := f.clock.Now().Add(-95 * time.Second).UnixMilli()
	require.NoError(t, f.store.UpdateState(ctx, "STAGE7", models.TimerState{
		Status: models.TimerStatusRunning, PresetID: models.StringPtr("x"),
		LowerSec: 60, MidSec: 90, UpperSec: 120, StartedAtMs: &started, Seq: 2,
	}))

	res, err := f.client.GetSession(ctx, connect.NewRequest(&GetSessionRequest{SessionID: "stage7"}))
	require.NoError(t, err)
	assert.Equal(t, models.TimerStatusRunning, res.Msg.Session.State.Status)
	assert.Equal(t, 95, res.Msg.View.Elapsed)
	assert.Equal(t, derive.ZoneAmber, res.Msg.View.Zone)
}

func TestSendCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := session.Ensure(ctx, f.store, "STAGE7", session.DefaultConfig())
	require.NoError(t, err)

	res, err := f.client.SendCommand(ctx, connect.NewRequest(&SendCommandRequest{
		SessionID: "STAGE7",
		OriginID:  "cli",
		Type:      models.CommandSetPreset,
		Payload:   json.RawMessage(`{"presetId":"5min","lowerSec":180,"midSec":240,"upperSec":300}`),
	}))
	require.NoError(t, err)
	require.NotEmpty(t, res.Msg.CommandID)

	ch, err := f.store.SubscribeCommands(ctx, "STAGE7")
	require.NoError(t, err)
	snap := <-ch
	require.Len(t, snap.Commands, 1)
	cmd := snap.Commands[0]
	assert.Equal(t, res.Msg.CommandID, cmd.ID)
	assert.Equal(t, models.CommandSetPreset, cmd.Type)
	assert.Equal(t, "cli", cmd.OriginID)
	assert.Equal(t, f.clock.Now().UnixMilli(), cmd.SentAtMs)
}

func TestSendCommand_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := session.Ensure(ctx, f.store, "STAGE7", session.DefaultConfig())
	require.NoError(t, err)

	cases := []struct {
		name string
		req  SendCommandRequest
		code connect.Code
	}{
		{"unknown type", SendCommandRequest{SessionID: "STAGE7", Type: "PAUSE"}, connect.CodeInvalidArgument},
		{"bad thresholds", SendCommandRequest{SessionID: "STAGE7", Type: models.CommandSetPreset,
			Payload: json.RawMessage(`{"presetId":"x","lowerSec":90,"midSec":60,"upperSec":120}`)}, connect.CodeInvalidArgument},
		{"unknown field", SendCommandRequest{SessionID: "STAGE7", Type: models.CommandStart,
			Payload: json.RawMessage(`{"force":true}`)}, connect.CodeInvalidArgument},
		{"missing session", SendCommandRequest{SessionID: "GONE42", Type: models.CommandStart}, connect.CodeNotFound},
		{"no session id", SendCommandRequest{Type: models.CommandStart}, connect.CodeInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			_, err := f.client.SendCommand(ctx, connect.NewRequest(&req))
			require.Error(t, err)
			assert.Equal(t, tc.code, connect.CodeOf(err))
		})
	}
}
