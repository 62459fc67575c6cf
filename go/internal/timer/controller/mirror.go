package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuecard/go/internal/models"
	"github.com/mcdev12/cuecard/go/internal/timer/derive"
	"github.com/mcdev12/cuecard/go/internal/timer/store"
)

// Mirror keeps a read-only local copy of a session and derives its view from the
// local clock.
type Mirror struct {
	sessionID string
	reader    store.SessionReader
	clock     clockwork.Clock

	mu        sync.RWMutex
	session   *models.Session
	connected bool
	gone      bool
	lastErr   error

	updates chan struct{}
}

func NewMirror(sessionID string, reader store.SessionReader, clock clockwork.Clock) *Mirror {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Mirror{
		sessionID: sessionID,
		reader:    reader,
		clock:     clock,
		updates:   make(chan struct{}, 1),
	}
}

// Run follows the session until ctx is done or the session disappears, in which
// case it returns an error wrapping store.ErrSessionNotFound.
func (m *Mirror) Run(ctx context.Context) error {
	snaps, err := m.reader.SubscribeSession(ctx, m.sessionID)
	if err != nil {
		return fmt.Errorf("subscribe session %s: %w", m.sessionID, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			if m.apply(snap) {
				return fmt.Errorf("session %s: %w", m.sessionID, store.ErrSessionNotFound)
			}
		}
	}
}

// apply records snap and reports whether the session is gone.
func (m *Mirror) apply(snap store.SessionSnapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.notify()

	if snap.Err != nil {
		if m.connected {
			log.Warn().Err(snap.Err).Str("session_id", m.sessionID).Msg("lost connection to session; showing last known state")
		}
		m.connected = false
		m.lastErr = snap.Err
		return false
	}
	m.connected = true
	m.lastErr = nil
	if snap.Session == nil {
		log.Warn().Str("session_id", m.sessionID).Msg("session not found")
		m.gone = true
		m.session = nil
		return true
	}
	if m.session != nil && snap.Session.State.Seq < m.session.State.Seq {
		log.Debug().
			Str("session_id", m.sessionID).
			Int64("seq", snap.Session.State.Seq).
			Int64("local_seq", m.session.State.Seq).
			Msg("ignoring stale session snapshot")
		return false
	}
	m.session = snap.Session.Clone()
	return false
}

func (m *Mirror) notify() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

// Updates signals after every received snapshot. Signals coalesce.
func (m *Mirror) Updates() <-chan struct{} { return m.updates }

// Session returns a copy of the last received document, nil before the first one.
func (m *Mirror) Session() *models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Clone()
}

// Connected reports whether the last delivery succeeded.
func (m *Mirror) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Err returns the last transport error, nil while connected.
func (m *Mirror) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Gone reports whether the session no longer exists.
func (m *Mirror) Gone() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gone
}

// View derives the current presentation. ok is false until a document arrived.
func (m *Mirror) View() (v derive.View, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return derive.View{}, false
	}
	return derive.Evaluate(m.session, m.clock.Now()), true
}

// Preset looks up a preset in the mirrored config.
func (m *Mirror) Preset(id string) (models.Preset, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return models.Preset{}, false
	}
	return m.session.Config.Preset(id)
}
