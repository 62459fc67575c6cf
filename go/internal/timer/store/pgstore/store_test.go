package pgstore

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/cuecard/go/internal/models"
	"github.com/mcdev12/cuecard/go/internal/timer/store"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeNotifier struct {
	ch chan *pq.Notification
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{ch: make(chan *pq.Notification, 4)}
}

func (f *fakeNotifier) NotificationChannel() <-chan *pq.Notification { return f.ch }
func (f *fakeNotifier) Ping() error                                  { return nil }
func (f *fakeNotifier) Close() error                                 { return nil }

// jsonArg matches a jsonb argument by JSON equality.
type jsonArg string

func (j jsonArg) Match(v driver.Value) bool {
	b, ok := v.([]byte)
	if !ok {
		return false
	}
	var got, want any
	if json.Unmarshal(b, &got) != nil || json.Unmarshal([]byte(j), &want) != nil {
		return false
	}
	gb, _ := json.Marshal(got)
	wb, _ := json.Marshal(want)
	return string(gb) == string(wb)
}

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock, *fakeNotifier) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	n := newFakeNotifier()
	s := New(db, n, DefaultConfig(), clockwork.NewFakeClockAt(now))
	t.Cleanup(func() {
		mock.ExpectClose()
		_ = s.Close()
	})
	return s, mock, n
}

func sessionRows(seq int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "config", "state", "updated_at"}).AddRow(
		"STAGE4",
		[]byte(`{"presets":[{"id":"p5","label":"5 min","lowerSec":180,"midSec":240,"upperSec":300}],"showTimer":false,"overtimeMode":"none"}`),
		[]byte(`{"status":"idle","presetId":null,"lowerSec":0,"midSec":0,"upperSec":0,"startedAtMs":null,"stoppedAtMs":null,"beeped":false,"beepCount":0,"seq":`+jsonInt(seq)+`}`),
		now,
	)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestCreateSession(t *testing.T) {
	s, mock, _ := newTestStore(t)
	ctx := context.Background()
	sess := models.NewSession("STAGE4", models.SessionConfig{})

	mock.ExpectExec(regexp.QuoteMeta(insertSession)).
		WithArgs("STAGE4", sqlmock.AnyArg(), jsonArg(`{"status":"idle","presetId":null,"lowerSec":0,"midSec":0,"upperSec":0,"startedAtMs":null,"stoppedAtMs":null,"beeped":false,"beepCount":0,"seq":0}`), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.CreateSession(ctx, "STAGE4", sess))

	mock.ExpectExec(regexp.QuoteMeta(insertSession)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, s.CreateSession(ctx, "STAGE4", sess), store.ErrSessionExists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSession(t *testing.T) {
	s, mock, _ := newTestStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(getSession)).WithArgs("STAGE4").WillReturnRows(sessionRows(7))
	got, err := s.GetSession(ctx, "STAGE4")
	require.NoError(t, err)
	assert.Equal(t, "STAGE4", got.ID)
	assert.Equal(t, int64(7), got.State.Seq)
	assert.Equal(t, models.TimerStatusIdle, got.State.Status)
	require.Len(t, got.Config.Presets, 1)
	assert.Equal(t, 300, got.Config.Presets[0].UpperSec)

	mock.ExpectQuery(regexp.QuoteMeta(getSession)).WithArgs("NOPE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "config", "state", "updated_at"}))
	_, err = s.GetSession(ctx, "NOPE")
	require.ErrorIs(t, err, store.ErrSessionNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateState(t *testing.T) {
	s, mock, _ := newTestStore(t)
	ctx := context.Background()
	state := models.TimerState{Status: models.TimerStatusArmed, PresetID: models.StringPtr("p5"), UpperSec: 300, Seq: 1}

	mock.ExpectExec(regexp.QuoteMeta(updateState)).
		WithArgs("STAGE4", jsonArg(`{"status":"armed","presetId":"p5","lowerSec":0,"midSec":0,"upperSec":300,"startedAtMs":null,"stoppedAtMs":null,"beeped":false,"beepCount":0,"seq":1}`), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.UpdateState(ctx, "STAGE4", state))

	mock.ExpectExec(regexp.QuoteMeta(updateState)).WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, s.UpdateState(ctx, "NOPE", state), store.ErrSessionNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPatchConfigMergesUnderRowLock(t *testing.T) {
	s, mock, _ := newTestStore(t)
	ctx := context.Background()
	mode := models.OvertimeModeRepeatedly

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(getSessionForUpdate)).WithArgs("STAGE4").WillReturnRows(sessionRows(1))
	mock.ExpectExec(regexp.QuoteMeta(updateConfig)).
		WithArgs("STAGE4", jsonArg(`{"presets":[{"id":"p5","label":"5 min","lowerSec":180,"midSec":240,"upperSec":300}],"showTimer":false,"overtimeMode":"repeatedly"}`), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.PatchConfig(ctx, "STAGE4", models.ConfigPatch{OvertimeMode: &mode}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPatchConfigMissingSessionRollsBack(t *testing.T) {
	s, mock, _ := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(getSessionForUpdate)).WithArgs("NOPE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "config", "state", "updated_at"}))
	mock.ExpectRollback()

	show := true
	err := s.PatchConfig(context.Background(), "NOPE", models.ConfigPatch{ShowTimer: &show})
	require.ErrorIs(t, err, store.ErrSessionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendCommand(t *testing.T) {
	s, mock, _ := newTestStore(t)
	ctx := context.Background()
	cmd := models.Command{Type: models.CommandStart, Payload: json.RawMessage(`{}`), SentAtMs: 1234, OriginID: "ctl-1"}

	mock.ExpectExec(regexp.QuoteMeta(insertCommand)).
		WithArgs(sqlmock.AnyArg(), "STAGE4", "START", []byte(`{}`), int64(1234), "ctl-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	id, err := s.AppendCommand(ctx, "STAGE4", cmd)
	require.NoError(t, err)
	assert.Len(t, id, 36)

	mock.ExpectExec(regexp.QuoteMeta(insertCommand)).
		WillReturnError(&pq.Error{Code: pqForeignKeyViolation, Message: "violates foreign key constraint"})
	_, err = s.AppendCommand(ctx, "NOPE", cmd)
	require.ErrorIs(t, err, store.ErrSessionNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCommand(t *testing.T) {
	s, mock, _ := newTestStore(t)
	ctx := context.Background()
	id := "2f1c7c2e-4b8e-4d0c-9a57-3d0b8e8c1a11"

	mock.ExpectExec(regexp.QuoteMeta(deleteCommand)).
		WithArgs("STAGE4", id).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.DeleteCommand(ctx, "STAGE4", id), "absent command is not an error")

	require.NoError(t, s.DeleteCommand(ctx, "STAGE4", "not-a-uuid"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscribeCommandsDecodesRows(t *testing.T) {
	s, mock, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock.ExpectQuery(regexp.QuoteMeta(listCommands)).WithArgs("STAGE4").WillReturnRows(
		sqlmock.NewRows([]string{"id", "session_id", "type", "payload", "sent_at_ms", "origin_id"}).
			AddRow("2f1c7c2e-4b8e-4d0c-9a57-3d0b8e8c1a11", "STAGE4", "STOP", nil, int64(5), "ctl-1").
			AddRow("8a0f4b8e-1111-4d0c-9a57-3d0b8e8c1a11", "STAGE4", "SET_PRESET", []byte(`{"presetId":"p5"}`), int64(1), "ctl-2"),
	)

	ch, err := s.SubscribeCommands(ctx, "STAGE4")
	require.NoError(t, err)
	snap := <-ch
	require.NoError(t, snap.Err)
	require.Len(t, snap.Commands, 2)
	assert.Equal(t, models.CommandStop, snap.Commands[0].Type)
	assert.Nil(t, snap.Commands[0].Payload)
	assert.JSONEq(t, `{"presetId":"p5"}`, string(snap.Commands[1].Payload))
	assert.Equal(t, int64(1), snap.Commands[1].SentAtMs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRefreshesSubscribers(t *testing.T) {
	s, mock, n := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock.ExpectQuery(regexp.QuoteMeta(getSession)).WithArgs("STAGE4").WillReturnRows(sessionRows(1))
	ch, err := s.SubscribeSession(ctx, "STAGE4")
	require.NoError(t, err)
	first := <-ch
	require.NotNil(t, first.Session)
	assert.Equal(t, int64(1), first.Session.State.Seq)

	mock.ExpectQuery(regexp.QuoteMeta(getSession)).WithArgs("STAGE4").WillReturnRows(sessionRows(2))
	n.ch <- &pq.Notification{Channel: "timer_changes", Extra: "session:STAGE4"}

	select {
	case snap := <-ch:
		require.NoError(t, snap.Err)
		assert.Equal(t, int64(2), snap.Session.State.Seq)
	case <-time.After(time.Second):
		t.Fatal("no snapshot after notification")
	}

	// Deleted rows surface as an absent document.
	mock.ExpectQuery(regexp.QuoteMeta(getSession)).WithArgs("STAGE4").
		WillReturnRows(sqlmock.NewRows([]string{"id", "config", "state", "updated_at"}))
	n.ch <- nil

	select {
	case snap := <-ch:
		require.NoError(t, snap.Err)
		assert.Nil(t, snap.Session)
	case <-time.After(time.Second):
		t.Fatal("no snapshot after reconnect")
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaQuotesChannel(t *testing.T) {
	ddl := Schema("timer_changes")
	assert.Contains(t, ddl, "timer_notify_change('timer_changes')")
	assert.NotContains(t, ddl, "{{channel}}")
}
