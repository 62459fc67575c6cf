// Package pgstore implements the shared store on PostgreSQL. Sessions and queued
// commands live in two tables; row triggers NOTIFY a channel and a pq.Listener
// turns notifications into fresh snapshots for subscribers.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuecard/go/internal/models"
	"github.com/mcdev12/cuecard/go/internal/sqlutil"
	"github.com/mcdev12/cuecard/go/internal/timer/store"
)

// foreign_key_violation
const pqForeignKeyViolation = "23503"

type Config struct {
	DSN              string        // Postgres DSN, also used for LISTEN
	NotifyChannel    string        // Channel the triggers notify on
	FallbackInterval time.Duration // How often subscribed keys are re-read
	PingInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		NotifyChannel:    "timer_changes",
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
	}
}

// Store is a store.Store backed by PostgreSQL.
type Store struct {
	db      *sql.DB
	queries *Queries
	cfg     Config
	clock   clockwork.Clock

	sessionSubs *store.Fanout[store.SessionSnapshot]
	commandSubs *store.Fanout[store.CommandSnapshot]

	notifier notifier
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Open connects to Postgres, starts listening on cfg.NotifyChannel and returns
// the store. Close releases both connections.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	l := pq.NewListener(
		cfg.DSN,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		_ = l.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	return New(db, l, cfg, clockwork.NewRealClock()), nil
}

// New wraps an open database and notification source and starts the listener
// loop.
func New(db *sql.DB, n notifier, cfg Config, clock clockwork.Clock) *Store {
	def := DefaultConfig()
	if cfg.FallbackInterval <= 0 {
		cfg.FallbackInterval = def.FallbackInterval
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.NotifyChannel == "" {
		cfg.NotifyChannel = def.NotifyChannel
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		db:          db,
		queries:     NewQueries(db),
		cfg:         cfg,
		clock:       clock,
		sessionSubs: store.NewFanout[store.SessionSnapshot](),
		commandSubs: store.NewFanout[store.CommandSnapshot](),
		notifier:    n,
		cancel:      cancel,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.listen(ctx)
	}()
	return s
}

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema(s.cfg.NotifyChannel)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row, err := s.queries.GetSession(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get session %s: %w", id, store.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return rowToSession(row)
}

func (s *Store) SubscribeSession(ctx context.Context, id string) (<-chan store.SessionSnapshot, error) {
	snap := s.loadSession(ctx, id)
	if snap.Err != nil {
		return nil, snap.Err
	}
	return s.sessionSubs.Subscribe(ctx, id, snap), nil
}

func (s *Store) CreateSession(ctx context.Context, id string, sess *models.Session) error {
	cfg, err := sqlutil.MarshalJSONB(sess.Config)
	if err != nil {
		return err
	}
	state, err := sqlutil.MarshalJSONB(sess.State)
	if err != nil {
		return err
	}
	n, err := s.queries.InsertSession(ctx, sessionRow{ID: id, Config: cfg, State: state, UpdatedAt: s.clock.Now().UTC()})
	if err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("create session %s: %w", id, store.ErrSessionExists)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	n, err := s.queries.DeleteSession(ctx, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete session %s: %w", id, store.ErrSessionNotFound)
	}
	return nil
}

func (s *Store) UpdateState(ctx context.Context, id string, state models.TimerState) error {
	b, err := sqlutil.MarshalJSONB(state)
	if err != nil {
		return err
	}
	n, err := s.queries.UpdateState(ctx, id, b, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("update state %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update state %s: %w", id, store.ErrSessionNotFound)
	}
	return nil
}

// PatchConfig reads the config under a row lock, merges patch and writes it back.
func (s *Store) PatchConfig(ctx context.Context, id string, patch models.ConfigPatch) error {
	return sqlutil.Run(ctx, s.db, func(tx *sql.Tx) *Queries { return s.queries.WithTx(tx) }, func(q *Queries) error {
		row, err := q.GetSessionForUpdate(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("patch config %s: %w", id, store.ErrSessionNotFound)
		}
		if err != nil {
			return fmt.Errorf("patch config %s: %w", id, err)
		}
		var cfg models.SessionConfig
		if err := sqlutil.UnmarshalJSONB(row.Config, &cfg); err != nil {
			return err
		}
		b, err := sqlutil.MarshalJSONB(cfg.Apply(patch))
		if err != nil {
			return err
		}
		if err := q.UpdateConfig(ctx, id, b, s.clock.Now().UTC()); err != nil {
			return fmt.Errorf("patch config %s: %w", id, err)
		}
		return nil
	})
}

func (s *Store) AppendCommand(ctx context.Context, sessionID string, c models.Command) (string, error) {
	id := uuid.New()
	err := s.queries.InsertCommand(ctx, commandRow{
		ID:        id,
		SessionID: sessionID,
		Type:      string(c.Type),
		Payload:   sqlutil.ToNullRawMessage(c.Payload),
		SentAtMs:  c.SentAtMs,
		OriginID:  c.OriginID,
	})
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
		return "", fmt.Errorf("append command to %s: %w", sessionID, store.ErrSessionNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("append command to %s: %w", sessionID, err)
	}
	return id.String(), nil
}

func (s *Store) SubscribeCommands(ctx context.Context, sessionID string) (<-chan store.CommandSnapshot, error) {
	snap := s.loadCommands(ctx, sessionID)
	if snap.Err != nil {
		return nil, snap.Err
	}
	return s.commandSubs.Subscribe(ctx, sessionID, snap), nil
}

func (s *Store) DeleteCommand(ctx context.Context, sessionID, commandID string) error {
	id, err := uuid.Parse(commandID)
	if err != nil {
		// Not an id this store could have issued, so nothing to delete.
		return nil
	}
	if err := s.queries.DeleteCommand(ctx, sessionID, id); err != nil {
		return fmt.Errorf("delete command %s: %w", commandID, err)
	}
	return nil
}

// Close stops the listener loop and closes both connections.
func (s *Store) Close() error {
	s.cancel()
	s.wg.Wait()
	return errors.Join(s.notifier.Close(), s.db.Close())
}

func (s *Store) loadSession(ctx context.Context, id string) store.SessionSnapshot {
	sess, err := s.GetSession(ctx, id)
	if errors.Is(err, store.ErrSessionNotFound) {
		return store.SessionSnapshot{}
	}
	if err != nil {
		return store.SessionSnapshot{Err: err}
	}
	return store.SessionSnapshot{Session: sess}
}

func (s *Store) loadCommands(ctx context.Context, sessionID string) store.CommandSnapshot {
	rows, err := s.queries.ListCommands(ctx, sessionID)
	if err != nil {
		return store.CommandSnapshot{Err: fmt.Errorf("list commands %s: %w", sessionID, err)}
	}
	cmds := make([]models.Command, 0, len(rows))
	for _, r := range rows {
		cmds = append(cmds, models.Command{
			ID:       r.ID.String(),
			Type:     models.CommandType(r.Type),
			Payload:  sqlutil.FromNullRawMessage(r.Payload),
			SentAtMs: r.SentAtMs,
			OriginID: r.OriginID,
		})
	}
	return store.CommandSnapshot{Commands: cmds}
}

func rowToSession(r sessionRow) (*models.Session, error) {
	sess := &models.Session{ID: r.ID, UpdatedAt: r.UpdatedAt}
	if err := sqlutil.UnmarshalJSONB(r.Config, &sess.Config); err != nil {
		return nil, fmt.Errorf("session %s config: %w", r.ID, err)
	}
	if err := sqlutil.UnmarshalJSONB(r.State, &sess.State); err != nil {
		return nil, fmt.Errorf("session %s state: %w", r.ID, err)
	}
	return sess, nil
}

var _ store.Store = (*Store)(nil)
