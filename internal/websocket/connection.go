package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sendBufferSize      = 100
	defaultWriteTimeout = 5 * time.Second
)

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized, so every
// frame goes through one writer goroutine fed by a buffered channel
type Connection struct {
	id           string
	conn         *websocket.Conn
	writeCh      chan []byte // FUNCTIONAL DISCOVERY: 100 buffer absorbs a burst of room pushes
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection wraps conn under a fresh server-minted id
func NewConnection(conn *websocket.Conn, writeTimeout time.Duration) *Connection {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.NewString(),
		conn:         conn,
		writeCh:      make(chan []byte, sendBufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) ID() string { return c.id }

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues a frame, waiting up to the write timeout for room in
// the buffer
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := c.encode(v)
	if err != nil {
		return err
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Send queues a frame without waiting. A full buffer drops the frame.
func (c *Connection) Send(v interface{}) error {
	data, err := c.encode(v)
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

func (c *Connection) encode(v interface{}) ([]byte, error) {
	select {
	case <-c.ctx.Done():
		return nil, ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, ErrInvalidJSON
	}
	return data, nil
}

// Close stops the writer and closes the socket; safe to call repeatedly
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
