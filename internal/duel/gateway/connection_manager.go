package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wordduel/internal/duel"
)

// ConnectionManager owns the WebSocket side of a duel session: upgrading,
// the per-connection read/write pumps, and the live connection registry.
// Everything game-related is forwarded to the coordinator.
type ConnectionManager struct {
	connections map[*Connection]bool
	mu          sync.RWMutex

	upgrader    websocket.Upgrader
	config      ConnectionConfig
	coordinator *duel.Coordinator
}

// Connection is one WebSocket client. It implements duel.Channel so the
// coordinator never touches the transport directly.
type Connection struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	manager *ConnectionManager

	sendMu    sync.Mutex
	closed    bool
	closeOnce sync.Once

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig, coordinator *duel.Coordinator) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		coordinator: coordinator,
	}
}

// Upgrade upgrades an HTTP request to a WebSocket connection and starts its
// pumps. The caller decides whether to hand the connection to the
// coordinator or reject it.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	wsConn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	conn := &Connection{
		id:          uuid.New().String(),
		conn:        wsConn,
		send:        make(chan []byte, 256),
		manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.register(conn)

	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("conn_id", conn.id).
		Str("remote", r.RemoteAddr).
		Msg("WebSocket connection established")

	return conn, nil
}

func (cm *ConnectionManager) register(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[conn] = true
}

func (cm *ConnectionManager) unregister(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.connections, conn)
}

// ConnectionCount returns the number of live WebSocket connections, which
// can briefly exceed two while a rejected third connection is being closed.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// ID implements duel.Channel.
func (c *Connection) ID() string {
	return c.id
}

// Send implements duel.Channel. A slow consumer whose buffer is full gets
// closed rather than blocking the coordinator.
func (c *Connection) Send(ev *duel.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	if c.closed {
		c.sendMu.Unlock()
		return websocket.ErrCloseSent
	}
	select {
	case c.send <- data:
		c.sendMu.Unlock()
		return nil
	default:
		c.sendMu.Unlock()
		log.Warn().Str("conn_id", c.id).Msg("send buffer full, closing connection")
		c.Close()
		return websocket.ErrCloseSent
	}
}

// Close implements duel.Channel. Safe to call from any goroutine, any number
// of times.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		c.closed = true
		c.sendMu.Unlock()
		close(c.send)
		c.manager.unregister(c)
		err = c.conn.Close()
	})
	return err
}

// writePump drains the send buffer onto the wire and keeps the connection
// alive with pings. It exits when the send channel is closed or a write
// fails.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("conn_id", c.id).Msg("failed to write message to WebSocket")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("conn_id", c.id).Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump parses client events and forwards them to the coordinator. When
// it exits the coordinator sees a disconnect, whatever the cause.
func (c *Connection) readPump() {
	defer func() {
		c.manager.coordinator.HandleDisconnect(c)
		c.Close()
	}()

	c.conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("conn_id", c.id).Msg("unexpected WebSocket close error")
			}
			break
		}

		var ev duel.Event
		if err := json.Unmarshal(message, &ev); err != nil {
			log.Warn().Err(err).Str("conn_id", c.id).Msg("malformed client event, dropping")
			continue
		}
		c.manager.coordinator.HandleMessage(c, &ev)
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}
