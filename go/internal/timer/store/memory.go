package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/cuecard/go/internal/models"
)

// MemoryStore keeps sessions and command queues in process. It backs tests and
// single-process deployments.
type MemoryStore struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	sessions map[string]*models.Session
	commands map[string]map[string]models.Command

	sessionSubs *Fanout[SessionSnapshot]
	commandSubs *Fanout[CommandSnapshot]
}

// NewMemoryStore creates an empty store. A nil clock means the real clock.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock:       clock,
		sessions:    make(map[string]*models.Session),
		commands:    make(map[string]map[string]models.Command),
		sessionSubs: NewFanout[SessionSnapshot](),
		commandSubs: NewFanout[CommandSnapshot](),
	}
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("get session %s: %w", id, ErrSessionNotFound)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) SubscribeSession(ctx context.Context, id string) (<-chan SessionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionSubs.Subscribe(ctx, id, SessionSnapshot{Session: m.sessions[id].Clone()}), nil
}

func (m *MemoryStore) CreateSession(_ context.Context, id string, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		return fmt.Errorf("create session %s: %w", id, ErrSessionExists)
	}
	doc := s.Clone()
	doc.ID = id
	doc.UpdatedAt = m.clock.Now()
	m.sessions[id] = doc
	m.publishSessionLocked(id)
	return nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("delete session %s: %w", id, ErrSessionNotFound)
	}
	delete(m.sessions, id)
	delete(m.commands, id)
	m.publishSessionLocked(id)
	m.publishCommandsLocked(id)
	return nil
}

func (m *MemoryStore) UpdateState(_ context.Context, id string, state models.TimerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("update state %s: %w", id, ErrSessionNotFound)
	}
	s.State = state.Clone()
	s.UpdatedAt = m.clock.Now()
	m.publishSessionLocked(id)
	return nil
}

func (m *MemoryStore) PatchConfig(_ context.Context, id string, patch models.ConfigPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("patch config %s: %w", id, ErrSessionNotFound)
	}
	s.Config = s.Config.Apply(patch)
	s.UpdatedAt = m.clock.Now()
	m.publishSessionLocked(id)
	return nil
}

func (m *MemoryStore) AppendCommand(_ context.Context, sessionID string, c models.Command) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return "", fmt.Errorf("append command to %s: %w", sessionID, ErrSessionNotFound)
	}
	c.ID = uuid.NewString()
	q, ok := m.commands[sessionID]
	if !ok {
		q = make(map[string]models.Command)
		m.commands[sessionID] = q
	}
	q[c.ID] = c
	m.publishCommandsLocked(sessionID)
	return c.ID, nil
}

func (m *MemoryStore) SubscribeCommands(ctx context.Context, sessionID string) (<-chan CommandSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commandSubs.Subscribe(ctx, sessionID, CommandSnapshot{Commands: m.pendingLocked(sessionID)}), nil
}

func (m *MemoryStore) DeleteCommand(_ context.Context, sessionID, commandID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.commands[sessionID]
	if _, ok := q[commandID]; !ok {
		return nil
	}
	delete(q, commandID)
	m.publishCommandsLocked(sessionID)
	return nil
}

// Close is a no-op; subscriptions end with their contexts.
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) publishSessionLocked(id string) {
	m.sessionSubs.Publish(id, SessionSnapshot{Session: m.sessions[id].Clone()})
}

func (m *MemoryStore) publishCommandsLocked(id string) {
	m.commandSubs.Publish(id, CommandSnapshot{Commands: m.pendingLocked(id)})
}

func (m *MemoryStore) pendingLocked(id string) []models.Command {
	q := m.commands[id]
	out := make([]models.Command, 0, len(q))
	for _, c := range q {
		c.Payload = append([]byte(nil), c.Payload...)
		out = append(out, c)
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
