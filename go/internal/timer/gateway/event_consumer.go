package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuecard/go/internal/timer/events"
)

// errUndeliverable marks messages no retry can fix.
var errUndeliverable = errors.New("undeliverable event")

// ConsumerConfig holds configuration for the JetStream consumer
type ConsumerConfig struct {
	JetStream events.JetStreamConfig
	// ConsumerName defaults to a per-process name so every gateway replica sees
	// every event.
	ConsumerName      string
	MaxDeliver        int
	AckWait           time.Duration
	MaxAckPending     int
	InactiveThreshold time.Duration
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		JetStream:         events.DefaultJetStreamConfig(),
		MaxDeliver:        5,
		AckWait:           30 * time.Second,
		MaxAckPending:     100,
		InactiveThreshold: 5 * time.Minute,
	}
}

// EventConsumer consumes timer events from JetStream and relays them to
// WebSocket clients of the event's session.
type EventConsumer struct {
	connectionManager *ConnectionManager
	nc                *nats.Conn
	js                jetstream.JetStream
	consumer          jetstream.Consumer
	config            ConsumerConfig
}

func NewEventConsumer(ctx context.Context, cm *ConnectionManager, config ConsumerConfig) (*EventConsumer, error) {
	if config.ConsumerName == "" {
		config.ConsumerName = "cuecard-gateway-" + uuid.NewString()[:8]
	}

	nc, js, err := events.Connect(config.JetStream)
	if err != nil {
		return nil, err
	}

	ec := &EventConsumer{
		connectionManager: cm,
		nc:                nc,
		js:                js,
		config:            config,
	}

	if err := ec.ensureConsumer(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}

	return ec, nil
}

func (ec *EventConsumer) ensureConsumer(ctx context.Context) error {
	if err := events.EnsureStream(ctx, ec.js, ec.config.JetStream); err != nil {
		return fmt.Errorf("ensure stream: %w", err)
	}

	consumer, err := ec.js.CreateOrUpdateConsumer(ctx, ec.config.JetStream.StreamName, jetstream.ConsumerConfig{
		Name:              ec.config.ConsumerName,
		Durable:           ec.config.ConsumerName,
		Description:       "Timer gateway WebSocket relay",
		FilterSubject:     ec.config.JetStream.SubjectPrefix + ".>",
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		MaxDeliver:        ec.config.MaxDeliver,
		AckWait:           ec.config.AckWait,
		MaxAckPending:     ec.config.MaxAckPending,
		InactiveThreshold: ec.config.InactiveThreshold,
		ReplayPolicy:      jetstream.ReplayInstantPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	log.Info().
		Str("consumer", ec.config.ConsumerName).
		Str("stream", ec.config.JetStream.StreamName).
		Msg("JetStream consumer ready")

	ec.consumer = consumer
	return nil
}

// Start consumes events until ctx is done.
func (ec *EventConsumer) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", ec.config.ConsumerName).
		Str("stream", ec.config.JetStream.StreamName).
		Msg("starting JetStream event consumer")

	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := ec.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event consumer shutting down")
			return nil
		case msg := <-messageCh:
			ec.processMessage(msg)
		}
	}
}

func (ec *EventConsumer) processMessage(msg jetstream.Msg) {
	err := ec.handleEvent(msg.Data())
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ACK message")
		}
	case errors.Is(err, errUndeliverable):
		log.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping event")
		if termErr := msg.Term(); termErr != nil {
			log.Error().Err(termErr).Msg("failed to TERM message")
		}
	default:
		log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process message")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error().Err(nakErr).Msg("failed to NAK message")
		}
	}
}

// handleEvent decodes one event envelope and queues it for the session's
// connections.
func (ec *EventConsumer) handleEvent(data []byte) error {
	var ev events.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("%w: unmarshal event envelope: %w", errUndeliverable, err)
	}
	switch ev.Type {
	case events.TypeCommandApplied, events.TypeStateChanged, events.TypeConfigChanged, events.TypeOvertimeAlert:
	default:
		return fmt.Errorf("%w: unknown event type %q", errUndeliverable, ev.Type)
	}
	if ev.SessionID == "" {
		return fmt.Errorf("%w: event %s has no session", errUndeliverable, ev.ID)
	}

	ec.connectionManager.BroadcastToSession(ev.SessionID, &Message{
		Type:      ev.Type,
		SessionID: ev.SessionID,
		EventID:   ev.ID,
		Timestamp: ev.Timestamp,
		Data:      ev.Payload,
	})

	log.Debug().
		Str("event_id", ev.ID).
		Str("session_id", ev.SessionID).
		Str("event_type", ev.Type).
		Msg("event relayed to WebSocket clients")
	return nil
}

// Stop closes the NATS connection.
func (ec *EventConsumer) Stop() error {
	log.Info().Msg("stopping event consumer")
	if ec.nc != nil {
		return ec.nc.Drain()
	}
	return nil
}
