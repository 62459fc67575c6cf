package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/cuecard/go/internal/models"
	"github.com/mcdev12/cuecard/go/internal/timer/derive"
	"github.com/mcdev12/cuecard/go/internal/timer/events"
	"github.com/mcdev12/cuecard/go/internal/timer/session"
	"github.com/mcdev12/cuecard/go/internal/timer/store"
)

const sessionID = "STAGE7"

type fixture struct {
	store    *store.MemoryStore
	server   *httptest.Server
	service  *Service
	consumer *EventConsumer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore(nil)
	_, err := session.Ensure(context.Background(), st, sessionID, session.DefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	svc, err := NewService(ctx, DefaultConfig(), st, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Start(ctx)
	}()

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return &fixture{
		store:    st,
		server:   srv,
		service:  svc,
		consumer: &EventConsumer{connectionManager: svc.connectionManager},
	}
}

func (f *fixture) dial(t *testing.T, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/session?session_id=" + id
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil returns the first message accepted by match, skipping others.
func readUntil(t *testing.T, conn *websocket.Conn, match func(Message) bool) Message {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func ofType(msgType string) func(Message) bool {
	return func(m Message) bool { return m.Type == msgType }
}

func snapshotWithStatus(status models.TimerStatus) func(Message) bool {
	return func(m Message) bool {
		if m.Type != MessageSessionSnapshot {
			return false
		}
		var data SnapshotData
		if err := json.Unmarshal(m.Data, &data); err != nil || data.Session == nil {
			return false
		}
		return data.Session.State.Status == status
	}
}

func TestWebSocket_InitialSnapshot(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, strings.ToLower(sessionID))

	msg := readUntil(t, conn, ofType(MessageSessionSnapshot))
	assert.Equal(t, sessionID, msg.SessionID)

	var data SnapshotData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, models.TimerStatusIdle, data.Session.State.Status)
	assert.Equal(t, derive.ZoneNeutral, data.View.Zone)
	assert.Len(t, data.Session.Config.Presets, 3)
}

func TestWebSocket_RejectsUnknownSession(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/session?session_id=NOPE99"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(f.server.URL + "/ws/session")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocket_ClientCommandIsQueued(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, sessionID)
	readUntil(t, conn, ofType(MessageSessionSnapshot))

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "SET_PRESET",
		"payload": map[string]any{"presetId": "5min", "lowerSec": 180, "midSec": 240, "upperSec": 300},
	}))
	msg := readUntil(t, conn, ofType(MessageCommandAccepted))

	var accepted CommandAcceptedData
	require.NoError(t, json.Unmarshal(msg.Data, &accepted))
	assert.Equal(t, models.CommandSetPreset, accepted.CommandType)

	ch, err := f.store.SubscribeCommands(context.Background(), sessionID)
	require.NoError(t, err)
	snap := <-ch
	require.Len(t, snap.Commands, 1)
	assert.Equal(t, accepted.CommandID, snap.Commands[0].ID)
	assert.True(t, strings.HasPrefix(snap.Commands[0].OriginID, "ws:"))
}

func TestWebSocket_InvalidClientCommand(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, sessionID)
	readUntil(t, conn, ofType(MessageSessionSnapshot))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"PAUSE","payload":{}}`)))
	msg := readUntil(t, conn, ofType(MessageError))

	var data ErrorData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Contains(t, data.Error, "PAUSE")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	readUntil(t, conn, ofType(MessageError))
}

func TestWebSocket_RelaysStoreChanges(t *testing.T) {
	f := newFixture(t)
	viewer := f.dial(t, sessionID)
	readUntil(t, viewer, snapshotWithStatus(models.TimerStatusIdle))

	require.NoError(t, f.store.UpdateState(context.Background(), sessionID, models.TimerState{
		Status: models.TimerStatusArmed, PresetID: models.StringPtr("5min"),
		LowerSec: 180, MidSec: 240, UpperSec: 300, Seq: 1,
	}))
	msg := readUntil(t, viewer, snapshotWithStatus(models.TimerStatusArmed))

	var data SnapshotData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, int64(1), data.Session.State.Seq)
	assert.Equal(t, 300, data.View.UpperSec)
}

func TestWebSocket_SessionGone(t *testing.T) {
	f := newFixture(t)
	viewer := f.dial(t, sessionID)
	readUntil(t, viewer, ofType(MessageSessionSnapshot))

	require.NoError(t, f.store.DeleteSession(context.Background(), sessionID))
	readUntil(t, viewer, ofType(MessageSessionGone))
}

func TestEventConsumer_RelaysEvents(t *testing.T) {
	f := newFixture(t)
	viewer := f.dial(t, sessionID)
	readUntil(t, viewer, ofType(MessageSessionSnapshot))

	ev, err := events.New(sessionID, events.TypeOvertimeAlert, events.OvertimeAlertPayload{
		BeepCount: 1, ElapsedSec: 150, UpperSec: 120, Mode: models.OvertimeModeOnce,
	}, time.Now())
	require.NoError(t, err)
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	require.NoError(t, f.consumer.handleEvent(raw))
	msg := readUntil(t, viewer, ofType(events.TypeOvertimeAlert))
	assert.Equal(t, ev.ID, msg.EventID)

	var payload events.OvertimeAlertPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, 150, payload.ElapsedSec)
}

func TestEventConsumer_RejectsUndeliverable(t *testing.T) {
	ec := &EventConsumer{connectionManager: NewConnectionManager(DefaultConnectionConfig(), store.NewMemoryStore(nil), nil)}

	assert.ErrorIs(t, ec.handleEvent([]byte(`{`)), errUndeliverable)
	assert.ErrorIs(t, ec.handleEvent([]byte(`{"event_type":"PickMade","session_id":"STAGE7"}`)), errUndeliverable)
	assert.ErrorIs(t, ec.handleEvent([]byte(`{"event_type":"StateChanged"}`)), errUndeliverable)
}

func TestStateEndpoint(t *testing.T) {
	f := newFixture(t)
	started := time.Now().Add(-70 * time.Second).UnixMilli()
	require.NoError(t, f.store.UpdateState(context.Background(), sessionID, models.TimerState{
		Status: models.TimerStatusRunning, PresetID: models.StringPtr("x"),
		LowerSec: 60, MidSec: 90, UpperSec: 120, StartedAtMs: &started, Seq: 2,
	}))

	resp, err := http.Get(f.server.URL + "/api/sessions/stage7/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data SnapshotData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
	assert.Equal(t, models.TimerStatusRunning, data.Session.State.Status)
	assert.Equal(t, derive.ZoneGreen, data.View.Zone)
	assert.GreaterOrEqual(t, data.View.Elapsed, 70)

	missing, err := http.Get(f.server.URL + "/api/sessions/NOPE99/state")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, sessionID)
	readUntil(t, conn, ofType(MessageSessionSnapshot))

	require.Eventually(t, func() bool {
		resp, err := http.Get(f.server.URL + "/ws/stats")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var stats Stats
		if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
			return false
		}
		return stats.TotalConnections == 1 && stats.SessionConnections[sessionID] == 1
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return f.service.GetStats().TotalConnections == 0
	}, 2*time.Second, 20*time.Millisecond)
}
