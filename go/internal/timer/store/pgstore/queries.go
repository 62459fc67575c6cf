package pgstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds the SQL used by the store.
type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type sessionRow struct {
	ID        string
	Config    []byte
	State     []byte
	UpdatedAt time.Time
}

type commandRow struct {
	ID        uuid.UUID
	SessionID string
	Type      string
	Payload   pqtype.NullRawMessage
	SentAtMs  int64
	OriginID  string
}

const getSession = `SELECT id, config, state, updated_at FROM timer_sessions WHERE id = $1`

func (q *Queries) GetSession(ctx context.Context, id string) (sessionRow, error) {
	var r sessionRow
	err := q.db.QueryRowContext(ctx, getSession, id).Scan(&r.ID, &r.Config, &r.State, &r.UpdatedAt)
	return r, err
}

const getSessionForUpdate = `SELECT id, config, state, updated_at FROM timer_sessions WHERE id = $1 FOR UPDATE`

func (q *Queries) GetSessionForUpdate(ctx context.Context, id string) (sessionRow, error) {
	var r sessionRow
	err := q.db.QueryRowContext(ctx, getSessionForUpdate, id).Scan(&r.ID, &r.Config, &r.State, &r.UpdatedAt)
	return r, err
}

const insertSession = `INSERT INTO timer_sessions (id, config, state, updated_at) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`

// InsertSession returns the number of rows inserted; zero means the id is taken.
func (q *Queries) InsertSession(ctx context.Context, r sessionRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertSession, r.ID, r.Config, r.State, r.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteSession = `DELETE FROM timer_sessions WHERE id = $1`

func (q *Queries) DeleteSession(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteSession, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const updateState = `UPDATE timer_sessions SET state = $2, updated_at = $3 WHERE id = $1`

func (q *Queries) UpdateState(ctx context.Context, id string, state []byte, at time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateState, id, state, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const updateConfig = `UPDATE timer_sessions SET config = $2, updated_at = $3 WHERE id = $1`

func (q *Queries) UpdateConfig(ctx context.Context, id string, config []byte, at time.Time) error {
	_, err := q.db.ExecContext(ctx, updateConfig, id, config, at)
	return err
}

const insertCommand = `INSERT INTO timer_commands (id, session_id, type, payload, sent_at_ms, origin_id) VALUES ($1, $2, $3, $4, $5, $6)`

func (q *Queries) InsertCommand(ctx context.Context, r commandRow) error {
	_, err := q.db.ExecContext(ctx, insertCommand, r.ID, r.SessionID, r.Type, r.Payload, r.SentAtMs, r.OriginID)
	return err
}

const listCommands = `SELECT id, session_id, type, payload, sent_at_ms, origin_id FROM timer_commands WHERE session_id = $1`

func (q *Queries) ListCommands(ctx context.Context, sessionID string) ([]commandRow, error) {
	rows, err := q.db.QueryContext(ctx, listCommands, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []commandRow
	for rows.Next() {
		var r commandRow
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Type, &r.Payload, &r.SentAtMs, &r.OriginID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

const deleteCommand = `DELETE FROM timer_commands WHERE session_id = $1 AND id = $2`

func (q *Queries) DeleteCommand(ctx context.Context, sessionID string, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, deleteCommand, sessionID, id)
	return err
}
