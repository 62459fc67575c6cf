// Package store defines the shared document store the authority and controllers
// coordinate through. Capabilities are split so that only the authority can be
// handed something that writes timer state.
package store

import (
	"context"
	"errors"

	"github.com/mcdev12/cuecard/go/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

// SessionSnapshot is one delivery on a session subscription. Session is nil when
// the document does not exist. Err reports a transport failure; the previous
// snapshot should be kept.
type SessionSnapshot struct {
	Session *models.Session
	Err     error
}

// CommandSnapshot is the full pending command set of a session, in no particular
// order.
type CommandSnapshot struct {
	Commands []models.Command
	Err      error
}

// SessionReader reads and observes session documents.
type SessionReader interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	// SubscribeSession delivers the current document immediately and then every
	// change. Unread snapshots are superseded by newer ones. The channel is closed
	// when ctx is done.
	SubscribeSession(ctx context.Context, id string) (<-chan SessionSnapshot, error)
}

// SessionCreator creates session documents.
type SessionCreator interface {
	CreateSession(ctx context.Context, id string, s *models.Session) error
}

// SessionDeleter removes a session document and its pending commands.
type SessionDeleter interface {
	DeleteSession(ctx context.Context, id string) error
}

// StateWriter replaces the state field of a session. Only the authority holds one.
type StateWriter interface {
	UpdateState(ctx context.Context, id string, state models.TimerState) error
}

// ConfigWriter merges a partial config into a session.
type ConfigWriter interface {
	PatchConfig(ctx context.Context, id string, patch models.ConfigPatch) error
}

// CommandAppender enqueues commands.
type CommandAppender interface {
	// AppendCommand stores c and returns the id assigned by the store.
	AppendCommand(ctx context.Context, sessionID string, c models.Command) (string, error)
}

// CommandQueue is the consuming side of the command queue.
type CommandQueue interface {
	SubscribeCommands(ctx context.Context, sessionID string) (<-chan CommandSnapshot, error)
	// DeleteCommand removes a command. Deleting an absent command is not an error.
	DeleteCommand(ctx context.Context, sessionID, commandID string) error
}

// Store is everything a backend implements.
type Store interface {
	SessionReader
	SessionCreator
	SessionDeleter
	StateWriter
	ConfigWriter
	CommandAppender
	CommandQueue
	Close() error
}
