package pgstore

import (
	"context"
	"strings"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const (
	notePrefixSession  = "session:"
	notePrefixCommands = "commands:"
)

// notifier is the part of *pq.Listener the store uses.
type notifier interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

func (s *Store) listen(ctx context.Context) {
	log.Info().
		Str("channel", s.cfg.NotifyChannel).
		Dur("ping_interval", s.cfg.PingInterval).
		Dur("fallback_interval", s.cfg.FallbackInterval).
		Msg("store listener started")

	pingTicker := s.clock.NewTicker(s.cfg.PingInterval)
	fallbackTicker := s.clock.NewTicker(s.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	notes := s.notifier.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("store listener shutting down")
			return
		case note, ok := <-notes:
			if !ok {
				return
			}
			if note == nil {
				// nil notification means the connection was re-established and
				// notifications may have been missed.
				s.resync(ctx)
				continue
			}
			s.handleNotification(ctx, note.Extra)
		case <-fallbackTicker.Chan():
			s.resync(ctx)
		case <-pingTicker.Chan():
			if err := s.notifier.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

// handleNotification refreshes whichever document the trigger reported.
func (s *Store) handleNotification(ctx context.Context, extra string) {
	switch {
	case strings.HasPrefix(extra, notePrefixSession):
		s.refreshSession(ctx, strings.TrimPrefix(extra, notePrefixSession))
	case strings.HasPrefix(extra, notePrefixCommands):
		s.refreshCommands(ctx, strings.TrimPrefix(extra, notePrefixCommands))
	default:
		log.Warn().Str("payload", extra).Msg("unrecognised notification")
	}
}

func (s *Store) refreshSession(ctx context.Context, id string) {
	if s.sessionSubs.Subscribers(id) == 0 {
		return
	}
	snap := s.loadSession(ctx, id)
	if snap.Err != nil {
		log.Error().Err(snap.Err).Str("session_id", id).Msg("failed to reload session")
	}
	s.sessionSubs.Publish(id, snap)
}

func (s *Store) refreshCommands(ctx context.Context, id string) {
	if s.commandSubs.Subscribers(id) == 0 {
		return
	}
	snap := s.loadCommands(ctx, id)
	if snap.Err != nil {
		log.Error().Err(snap.Err).Str("session_id", id).Msg("failed to reload commands")
	}
	s.commandSubs.Publish(id, snap)
}

// resync re-reads every subscribed document.
func (s *Store) resync(ctx context.Context) {
	for _, id := range s.sessionSubs.Keys() {
		s.refreshSession(ctx, id)
	}
	for _, id := range s.commandSubs.Keys() {
		s.refreshCommands(ctx, id)
	}
}
