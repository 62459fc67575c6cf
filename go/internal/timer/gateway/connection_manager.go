package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuecard/go/internal/models"
	"github.com/mcdev12/cuecard/go/internal/timer/command"
	"github.com/mcdev12/cuecard/go/internal/timer/controller"
	"github.com/mcdev12/cuecard/go/internal/timer/store"
)

// Store is what the gateway needs: it reads sessions and queues commands on
// behalf of browser controllers.
type Store interface {
	store.SessionReader
	store.CommandAppender
}

// ConnectionManager manages WebSocket connections grouped by session
type ConnectionManager struct {
	sessionConnections map[string]map[*Connection]bool
	watchers           map[string]context.CancelFunc
	mu                 sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	store    Store
	clock    clockwork.Clock

	broadcastCh chan BroadcastMessage

	ctx    context.Context
	cancel context.CancelFunc
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID          string
	SessionID   string
	Conn        *websocket.Conn
	Send        chan []byte
	Manager     *ConnectionManager
	ConnectedAt time.Time

	emitter *controller.Emitter
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is a message for every connection of a session, or for a
// single connection when ConnectionID is set.
type BroadcastMessage struct {
	SessionID    string
	ConnectionID string
	Message      *Message
}

// Stats describes the open connections.
type Stats struct {
	TotalConnections   int            `json:"total_connections"`
	ActiveSessions     int            `json:"active_sessions"`
	SessionConnections map[string]int `json:"session_connections"`
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  8 << 10, // UPDATE_CONFIG may carry a full preset list
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      64,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a connection manager. A nil clock means the real
// clock; it drives derived values and pings, network deadlines always use wall
// time.
func NewConnectionManager(config ConnectionConfig, st Store, clock clockwork.Clock) *ConnectionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	def := DefaultConnectionConfig()
	if config.SendBuffer <= 0 {
		config.SendBuffer = def.SendBuffer
	}
	if config.PingInterval <= 0 {
		config.PingInterval = def.PingInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = def.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = def.MaxMessageSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionManager{
		sessionConnections: make(map[string]map[*Connection]bool),
		watchers:           make(map[string]context.CancelFunc),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		store:       st,
		clock:       clock,
		broadcastCh: make(chan BroadcastMessage, 1000),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start processes broadcast messages until ctx is done, then closes every
// connection.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.shutdown()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

func (cm *ConnectionManager) shutdown() {
	cm.cancel()
	cm.mu.RLock()
	var conns []*Connection
	for _, set := range cm.sessionConnections {
		for c := range set {
			conns = append(conns, c)
		}
	}
	cm.mu.RUnlock()
	for _, c := range conns {
		_ = c.Conn.Close()
	}
}

// UpgradeConnection upgrades the request and queues an initial snapshot of
// initial for the new client.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, initial *models.Session) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.NewString(),
		SessionID:   initial.ID,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBuffer),
		Manager:     cm,
		ConnectedAt: cm.clock.Now(),
	}
	connection.emitter = controller.NewEmitter(initial.ID, cm.store, cm.clock).WithOrigin("ws:" + connection.ID)

	cm.registerConnection(connection)

	if msg, err := snapshotMessage(initial, cm.clock.Now()); err == nil {
		cm.SendToConnection(initial.ID, connection.ID, msg)
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("session_id", initial.ID).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.sessionConnections[conn.SessionID] == nil {
		cm.sessionConnections[conn.SessionID] = make(map[*Connection]bool)
	}
	cm.sessionConnections[conn.SessionID][conn] = true
	ConnectionsGauge.Inc()

	if _, watching := cm.watchers[conn.SessionID]; !watching {
		wctx, cancel := context.WithCancel(cm.ctx)
		cm.watchers[conn.SessionID] = cancel
		go cm.watchSession(wctx, conn.SessionID)
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID).
		Int("total_connections", len(cm.sessionConnections[conn.SessionID])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, exists := cm.sessionConnections[conn.SessionID]
	if !exists {
		return
	}
	if _, exists := connections[conn]; !exists {
		return
	}
	delete(connections, conn)
	close(conn.Send)
	ConnectionsGauge.Dec()

	if len(connections) == 0 {
		delete(cm.sessionConnections, conn.SessionID)
		if cancel, ok := cm.watchers[conn.SessionID]; ok {
			cancel()
			delete(cm.watchers, conn.SessionID)
		}
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID).
		Msg("connection unregistered")
}

// watchSession relays store snapshots of sessionID while it has viewers.
func (cm *ConnectionManager) watchSession(ctx context.Context, sessionID string) {
	ch, err := cm.store.SubscribeSession(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to watch session")
		return
	}
	for snap := range ch {
		if snap.Err != nil {
			log.Warn().Err(snap.Err).Str("session_id", sessionID).Msg("session watch interrupted")
			continue
		}
		var (
			msg *Message
			err error
		)
		if snap.Session == nil {
			msg, err = newMessage(sessionID, MessageSessionGone, nil, cm.clock.Now())
		} else {
			msg, err = snapshotMessage(snap.Session, cm.clock.Now())
		}
		if err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("failed to build snapshot message")
			continue
		}
		cm.BroadcastToSession(sessionID, msg)
	}
}

// BroadcastToSession sends msg to every connection of sessionID.
func (cm *ConnectionManager) BroadcastToSession(sessionID string, msg *Message) {
	select {
	case cm.broadcastCh <- BroadcastMessage{SessionID: sessionID, Message: msg}:
	default:
		log.Warn().Str("session_id", sessionID).Msg("broadcast channel full, dropping message")
	}
}

// SendToConnection sends msg to one connection.
func (cm *ConnectionManager) SendToConnection(sessionID, connectionID string, msg *Message) {
	select {
	case cm.broadcastCh <- BroadcastMessage{SessionID: sessionID, ConnectionID: connectionID, Message: msg}:
	default:
		log.Warn().
			Str("session_id", sessionID).
			Str("connection_id", connectionID).
			Msg("broadcast channel full, dropping connection message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	data, err := json.Marshal(message.Message)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message for broadcast")
		return
	}

	// Sends happen under the read lock so unregisterConnection cannot close a
	// channel mid-send.
	var sent int
	var slow []*Connection
	cm.mu.RLock()
	for conn := range cm.sessionConnections[message.SessionID] {
		if message.ConnectionID != "" && conn.ID != message.ConnectionID {
			continue
		}
		select {
		case conn.Send <- data:
			sent++
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("session_id", conn.SessionID).
			Msg("connection send buffer full, closing connection")
		DroppedConnectionsTotal.Inc()
		cm.unregisterConnection(conn)
		_ = conn.Conn.Close()
	}

	MessagesSentTotal.WithLabelValues(message.Message.Type).Add(float64(sent))
	log.Debug().
		Str("type", message.Message.Type).
		Str("session_id", message.SessionID).
		Int("connections", sent).
		Msg("message broadcasted")
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := Stats{
		ActiveSessions:     len(cm.sessionConnections),
		SessionConnections: make(map[string]int, len(cm.sessionConnections)),
	}
	for sessionID, connections := range cm.sessionConnections {
		stats.TotalConnections += len(connections)
		stats.SessionConnections[sessionID] = len(connections)
	}
	return stats
}

func (c *Connection) writePump() {
	ticker := c.Manager.clock.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.Chan():
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		c.handleClientMessage(message)
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage turns a client message into a queued command and answers
// with CommandAccepted or Error.
func (c *Connection) handleClientMessage(message []byte) {
	var in ClientMessage
	if err := json.Unmarshal(message, &in); err != nil {
		ClientCommandsTotal.WithLabelValues("invalid").Inc()
		c.reply(MessageError, ErrorData{Error: "message must be {\"type\":...,\"payload\":{...}}"})
		return
	}

	p, err := command.DecodePayload(in.Type, in.Payload)
	if err != nil {
		ClientCommandsTotal.WithLabelValues("rejected").Inc()
		c.reply(MessageError, ErrorData{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Manager.ctx, c.Manager.config.WriteTimeout)
	defer cancel()
	id, err := c.emitter.Send(ctx, p)
	if err != nil {
		log.Warn().Err(err).
			Str("connection_id", c.ID).
			Str("session_id", c.SessionID).
			Msg("failed to queue client command")
		ClientCommandsTotal.WithLabelValues("failed").Inc()
		c.reply(MessageError, ErrorData{Error: err.Error()})
		return
	}

	ClientCommandsTotal.WithLabelValues("accepted").Inc()
	c.reply(MessageCommandAccepted, CommandAcceptedData{CommandID: id, CommandType: in.Type})
}

func (c *Connection) reply(msgType string, data any) {
	msg, err := newMessage(c.SessionID, msgType, data, c.Manager.clock.Now())
	if err != nil {
		log.Error().Err(err).Msg("failed to build reply")
		return
	}
	c.Manager.SendToConnection(c.SessionID, c.ID, msg)
}
