package redisstore

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	notePrefixSession  = "session:"
	notePrefixCommands = "commands:"
)

func (s *Store) listen(ctx context.Context) {
	log.Info().
		Str("channel", s.changesChannel()).
		Dur("fallback_interval", s.cfg.FallbackInterval).
		Msg("store listener started")

	fallbackTicker := s.clock.NewTicker(s.cfg.FallbackInterval)
	defer fallbackTicker.Stop()

	msgs := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			s.handleNote(ctx, msg.Payload)
		case <-fallbackTicker.Chan():
			s.resync(ctx)
		}
	}
}

func (s *Store) handleNote(ctx context.Context, note string) {
	switch {
	case strings.HasPrefix(note, notePrefixSession):
		s.refreshSession(ctx, strings.TrimPrefix(note, notePrefixSession))
	case strings.HasPrefix(note, notePrefixCommands):
		s.refreshCommands(ctx, strings.TrimPrefix(note, notePrefixCommands))
	default:
		log.Warn().Str("payload", note).Msg("unrecognised change note")
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

func (s *Store) resync(ctx context.Context) {
	for _, id := range s.sessionSubs.Keys() {
		s.refreshSession(ctx, id)
	}
	for _, id := range s.commandSubs.Keys() {
		s.refreshCommands(ctx, id)
	}
}
