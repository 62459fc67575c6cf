// Package redisstore implements the shared store on Redis. Each session is a JSON
// document under its own key, pending commands are a hash per session, and every
// write is announced on a pub/sub channel so subscribers can reload.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuecard/go/internal/models"
	"github.com/mcdev12/cuecard/go/internal/timer/store"
)

const maxTxRetries = 10

// Config holds Redis connection settings.
type Config struct {
	Addr             string // Redis server address (host:port)
	Password         string // Redis password (optional)
	DB               int    // Redis database number
	Prefix           string // Key prefix
	FallbackInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:             "localhost:6379",
		Prefix:           "cuecard",
		FallbackInterval: 30 * time.Second,
	}
}

// Store is a store.Store backed by Redis.
type Store struct {
	client *redis.Client
	cfg    Config
	clock  clockwork.Clock

	sessionSubs *store.Fanout[store.SessionSnapshot]
	commandSubs *store.Fanout[store.CommandSnapshot]

	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open connects to Redis and subscribes to the change channel.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	log.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis store")

	s, err := New(ctx, client, cfg, clockwork.NewRealClock())
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing client. It returns once the change subscription is live.
func New(ctx context.Context, client *redis.Client, cfg Config, clock clockwork.Clock) (*Store, error) {
	def := DefaultConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.FallbackInterval <= 0 {
		cfg.FallbackInterval = def.FallbackInterval
	}
	s := &Store{
		client:      client,
		cfg:         cfg,
		clock:       clock,
		sessionSubs: store.NewFanout[store.SessionSnapshot](),
		commandSubs: store.NewFanout[store.CommandSnapshot](),
	}

	s.pubsub = client.Subscribe(ctx, s.changesChannel())
	if _, err := s.pubsub.Receive(ctx); err != nil {
		_ = s.pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.changesChannel(), err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.listen(loopCtx)
	}()
	return s, nil
}

func (s *Store) sessionKey(id string) string  { return s.cfg.Prefix + ":session:" + id }
func (s *Store) commandsKey(id string) string { return s.cfg.Prefix + ":commands:" + id }
func (s *Store) changesChannel() string       { return s.cfg.Prefix + ":changes" }

func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	b, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get session %s: %w", id, store.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	var sess models.Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *Store) SubscribeSession(ctx context.Context, id string) (<-chan store.SessionSnapshot, error) {
	snap := s.loadSession(ctx, id)
	if snap.Err != nil {
		return nil, snap.Err
	}
	return s.sessionSubs.Subscribe(ctx, id, snap), nil
}

func (s *Store) CreateSession(ctx context.Context, id string, sess *models.Session) error {
	doc := sess.Clone()
	doc.ID = id
	doc.UpdatedAt = s.clock.Now().UTC()
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", id, err)
	}
	ok, err := s.client.SetNX(ctx, s.sessionKey(id), b, 0).Result()
	if err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("create session %s: %w", id, store.ErrSessionExists)
	}
	s.announce(ctx, notePrefixSession+id)
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.sessionKey(id))
		pipe.Del(ctx, s.commandsKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("delete session %s: %w", id, store.ErrSessionNotFound)
	}
	s.announce(ctx, notePrefixSession+id)
	s.announce(ctx, notePrefixCommands+id)
	return nil
}

func (s *Store) UpdateState(ctx context.Context, id string, state models.TimerState) error {
	err := s.mutateSession(ctx, id, func(sess *models.Session) {
		sess.State = state.Clone()
	})
	if err != nil {
		return fmt.Errorf("update state %s: %w", id, err)
	}
	return nil
}

func (s *Store) PatchConfig(ctx context.Context, id string, patch models.ConfigPatch) error {
	err := s.mutateSession(ctx, id, func(sess *models.Session) {
		sess.Config = sess.Config.Apply(patch)
	})
	if err != nil {
		return fmt.Errorf("patch config %s: %w", id, err)
	}
	return nil
}

// mutateSession applies fn to the session document with optimistic locking.
func (s *Store) mutateSession(ctx context.Context, id string, fn func(*models.Session)) error {
	key := s.sessionKey(id)
	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return store.ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		var sess models.Session
		if err := json.Unmarshal(b, &sess); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		fn(&sess)
		sess.UpdatedAt = s.clock.Now().UTC()
		out, err := json.Marshal(&sess)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		s.announce(ctx, notePrefixSession+id)
		return nil
	}
	return fmt.Errorf("session %s: too much contention after %d attempts", id, maxTxRetries)
}

func (s *Store) AppendCommand(ctx context.Context, sessionID string, c models.Command) (string, error) {
	c.ID = uuid.NewString()
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode command: %w", err)
	}
	sessKey := s.sessionKey(sessionID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, sessKey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrSessionNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.commandsKey(sessionID), c.ID, b)
			return nil
		})
		return err
	}, sessKey)
	if err != nil {
		return "", fmt.Errorf("append command to %s: %w", sessionID, err)
	}
	s.announce(ctx, notePrefixCommands+sessionID)
	return c.ID, nil
}

func (s *Store) SubscribeCommands(ctx context.Context, sessionID string) (<-chan store.CommandSnapshot, error) {
	snap := s.loadCommands(ctx, sessionID)
	if snap.Err != nil {
		return nil, snap.Err
	}
	return s.commandSubs.Subscribe(ctx, sessionID, snap), nil
}

func (s *Store) DeleteCommand(ctx context.Context, sessionID, commandID string) error {
	n, err := s.client.HDel(ctx, s.commandsKey(sessionID), commandID).Result()
	if err != nil {
		return fmt.Errorf("delete command %s: %w", commandID, err)
	}
	if n > 0 {
		s.announce(ctx, notePrefixCommands+sessionID)
	}
	return nil
}

// Close stops the change subscription and closes the client.
func (s *Store) Close() error {
	s.cancel()
	err := s.pubsub.Close()
	s.wg.Wait()
	return errors.Join(err, s.client.Close())
}

func (s *Store) announce(ctx context.Context, note string) {
	if err := s.client.Publish(ctx, s.changesChannel(), note).Err(); err != nil {
		log.Warn().Err(err).Str("note", note).Msg("failed to announce change")
	}
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
	raw, err := s.client.HGetAll(ctx, s.commandsKey(sessionID)).Result()
	if err != nil {
		return store.CommandSnapshot{Err: fmt.Errorf("list commands %s: %w", sessionID, err)}
	}
	cmds := make([]models.Command, 0, len(raw))
	for id, v := range raw {
		var c models.Command
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			// Keep the entry so the processor can reject and delete it.
			log.Warn().Err(err).Str("session_id", sessionID).Str("command_id", id).Msg("undecodable queued command")
			c = models.Command{Type: "INVALID"}
		}
		c.ID = id
		cmds = append(cmds, c)
	}
	return store.CommandSnapshot{Commands: cmds}
}

var _ store.Store = (*Store)(nil)
