package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

const defaultWriteTimeout = 10 * time.Second

// Transport sends one acknowledged request. reply, when non-nil, receives
// the decoded ack data.
type Transport interface {
	Request(ctx context.Context, event string, payload interface{}, reply interface{}) error
}

// PushHandler receives every non-ack frame
type PushHandler func(event string, data json.RawMessage)

type inboundFrame struct {
	Event string          `json:"event"`
	AckID *int64          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WSTransport speaks the event/ack protocol over one gorilla websocket
// TECHNICAL DISCOVERY: One reader goroutine owns the socket's read side;
// writers share a mutex because gorilla allows one concurrent writer
type WSTransport struct {
	conn         *websocket.Conn
	connectionID string
	onPush       PushHandler

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan json.RawMessage

	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects and waits for the server's connected frame
func Dial(ctx context.Context, url string, header http.Header, onPush PushHandler) (*WSTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	var first inboundFrame
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read connected frame: %w", err)
	}
	var connected struct {
		ConnectionID string `json:"connectionId"`
	}
	if first.Event != types.EventConnected || json.Unmarshal(first.Data, &connected) != nil || connected.ConnectionID == "" {
		conn.Close()
		return nil, ErrUnexpectedFrame
	}
	_ = conn.SetReadDeadline(time.Time{})

	t := &WSTransport{
		conn:         conn,
		connectionID: connected.ConnectionID,
		onPush:       onPush,
		pending:      make(map[int64]chan json.RawMessage),
		closed:       make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *WSTransport) ConnectionID() string { return t.connectionID }

// Done is closed once the socket is gone
func (t *WSTransport) Done() <-chan struct{} { return t.closed }

func (t *WSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = t.conn.Close()
		close(t.closed)
	})
	return err
}

func (t *WSTransport) Request(ctx context.Context, event string, payload interface{}, reply interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}

	id := t.nextID.Add(1)
	ch := make(chan json.RawMessage, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.write(ctx, types.Envelope{Event: event, AckID: &id, Data: data}); err != nil {
		return err
	}

	select {
	case raw := <-ch:
		if reply == nil {
			return nil
		}
		if err := json.Unmarshal(raw, reply); err != nil {
			return fmt.Errorf("failed to decode %s ack: %w", event, err)
		}
		return nil
	case <-t.closed:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *WSTransport) write(ctx context.Context, frame types.Envelope) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(deadline)
	if err := t.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("failed to send %s: %w", frame.Event, err)
	}
	return nil
}

func (t *WSTransport) readLoop() {
	defer t.Close()

	for {
		var frame inboundFrame
		if err := t.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Transport read failed: conn=%s err=%v", t.connectionID, err)
			}
			return
		}

		if frame.Event == types.EventAck && frame.AckID != nil {
			t.mu.Lock()
			ch, ok := t.pending[*frame.AckID]
			t.mu.Unlock()
			if ok {
				select {
				case ch <- frame.Data:
				default:
				}
			}
			continue
		}
		if t.onPush != nil {
			t.onPush(frame.Event, frame.Data)
		}
	}
}
