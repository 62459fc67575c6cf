// Package gateway fans session snapshots and timer events out to browsers over
// WebSockets and accepts commands from browser controllers.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Service wires the connection manager, the HTTP handlers and the optional event
// consumer together.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	eventConsumer     *EventConsumer
}

type Config struct {
	Connection ConnectionConfig
	// Consumer.JetStream.URL enables the event relay when set.
	Consumer ConsumerConfig
}

func DefaultConfig() Config {
	return Config{
		Connection: DefaultConnectionConfig(),
		Consumer:   DefaultConsumerConfig(),
	}
}

func NewService(ctx context.Context, config Config, st Store, clock clockwork.Clock) (*Service, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cm := NewConnectionManager(config.Connection, st, clock)
	s := &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm, st),
		stateHandler:      NewStateHandler(st, clock),
	}

	if config.Consumer.JetStream.URL != "" {
		ec, err := NewEventConsumer(ctx, cm, config.Consumer)
		if err != nil {
			return nil, fmt.Errorf("failed to create event consumer: %w", err)
		}
		s.eventConsumer = ec
	} else {
		log.Info().Msg("no NATS url configured, relaying store snapshots only")
	}
	return s, nil
}

// Start runs the gateway until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting timer gateway service")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.connectionManager.Start(gctx)
		return nil
	})
	if s.eventConsumer != nil {
		g.Go(func() error {
			return s.eventConsumer.Start(gctx)
		})
	}

	err := g.Wait()
	if s.eventConsumer != nil {
		if stopErr := s.eventConsumer.Stop(); stopErr != nil {
			log.Error().Err(stopErr).Msg("failed to stop event consumer")
		}
	}
	log.Info().Msg("timer gateway service stopped")
	return err
}

func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
}

func (s *Service) GetStats() Stats {
	return s.connectionManager.GetConnectionStats()
}
