package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/interfaces"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// Dispatcher receives every decoded inbound frame and every disconnect.
// The hub implements it.
type Dispatcher interface {
	Submit(conn interfaces.Connection, envelope *types.Envelope) error
	Disconnect(connectionID string) error
}

// Options tunes the socket layer
type Options struct {
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	AllowedOrigins  []string
}

// DefaultOptions matches the heartbeat used in classroom deployments
func DefaultOptions() Options {
	return Options{
		PingInterval:    30 * time.Second,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    5 * time.Second,
		MaxMessageSize:  128 * 1024,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
}

// ConnectedEvent is the first frame on every socket
type ConnectedEvent struct {
	ConnectionID string `json:"connectionId"`
}

// Handler upgrades HTTP requests and pumps frames into the dispatcher
// ARCHITECTURAL DISCOVERY: The socket layer knows nothing about sessions;
// it only mints ids, decodes envelopes and reports disconnects
type Handler struct {
	registry   *Registry
	dispatcher Dispatcher
	opts       Options
	upgrader   websocket.Upgrader
}

// NewHandler creates a WebSocket handler
func NewHandler(registry *Registry, dispatcher Dispatcher, opts Options) *Handler {
	h := &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		opts:       opts,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   opts.ReadBufferSize,
		WriteBufferSize:  opts.WriteBufferSize,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

// checkOrigin allows everything unless an allow-list is configured
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades the request, announces the connection id and
// serves the connection until it drops
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn, h.opts.WriteTimeout)
	if err := h.registry.Register(wsConn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = wsConn.Close()
		return
	}

	if err := wsConn.WriteJSON(types.Outbound{Event: types.EventConnected, Data: ConnectedEvent{ConnectionID: wsConn.ID()}}); err != nil {
		log.Printf("Failed to announce connection %s: %v", wsConn.ID(), err)
		h.registry.Unregister(wsConn)
		_ = wsConn.Close()
		return
	}

	log.Printf("Connection opened: conn=%s remote=%s", wsConn.ID(), r.RemoteAddr)
	go h.handleConnection(wsConn)
}

// handleConnection runs the read pump and heartbeat for one connection
// ARCHITECTURAL DISCOVERY: One goroutine reads, the connection's writer
// goroutine writes, and a ticker goroutine pings
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
		if err := h.dispatcher.Disconnect(conn.ID()); err != nil {
			log.Printf("Failed to queue disconnect for %s: %v", conn.ID(), err)
		}
		log.Printf("Connection closed: conn=%s", conn.ID())
	}()

	if h.opts.MaxMessageSize > 0 {
		conn.conn.SetReadLimit(h.opts.MaxMessageSize)
	}
	if err := conn.conn.SetReadDeadline(h.readDeadline()); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(h.readDeadline())
	})

	go h.heartbeat(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: conn=%s err=%v", conn.ID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		// Any inbound frame proves the client is alive
		_ = conn.conn.SetReadDeadline(h.readDeadline())

		var envelope types.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Event == "" {
			log.Printf("Dropped malformed frame: conn=%s", conn.ID())
			continue
		}
		if err := h.dispatcher.Submit(conn, &envelope); err != nil {
			log.Printf("Failed to queue event %s from %s: %v", envelope.Event, conn.ID(), err)
		}
	}
}

// readDeadline is zero (no deadline) when no read timeout is configured
func (h *Handler) readDeadline() time.Time {
	if h.opts.ReadTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(h.opts.ReadTimeout)
}

func (h *Handler) heartbeat(conn *Connection) {
	if h.opts.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}
