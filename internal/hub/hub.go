// Package hub serialises every inbound event onto one goroutine. Session
// and room state is only ever mutated from that goroutine (or under the
// per-session lock for HTTP readers), so event handlers can be written as
// plain sequential code.
package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tinkertanker/classroom-widgets-sub001/internal/metrics"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/interfaces"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// EventRouter turns an envelope into an acknowledgement body
type EventRouter interface {
	Route(ctx context.Context, connectionID string, envelope *types.Envelope) interface{}
	HandleDisconnect(connectionID string)
	CleanupRateLimits()
}

// Options tunes the hub queues
type Options struct {
	QueueSize       int
	CleanupInterval time.Duration
}

// DefaultOptions sizes the queues for a busy classroom
func DefaultOptions() Options {
	return Options{
		QueueSize:       1000,
		CleanupInterval: time.Minute,
	}
}

// Hub coordinates event routing and disconnect handling
// ARCHITECTURAL DISCOVERY: Central coordination point for all event flow
// maintains clean separation between WebSocket handling and event routing
type Hub struct {
	// FUNCTIONAL DISCOVERY: One buffered queue carries envelopes and
	// disconnects alike, so a connection's events are handled in the
	// order it produced them, its disconnect last
	eventChannel    chan *inboundEvent
	shutdownChannel chan struct{}

	router          EventRouter
	cleanupInterval time.Duration

	running bool
	done    chan struct{}
	mu      sync.RWMutex
}

// inboundEvent pairs an envelope with the socket that sent it. An event
// without an envelope marks the disconnect of disconnectedID.
type inboundEvent struct {
	conn           interfaces.Connection
	envelope       *types.Envelope
	disconnectedID string
	receivedAt     time.Time
}

// NewHub creates a new hub
func NewHub(router EventRouter, opts Options) *Hub {
	defaults := DefaultOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaults.QueueSize
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaults.CleanupInterval
	}
	return &Hub{
		eventChannel:    make(chan *inboundEvent, opts.QueueSize),
		router:          router,
		cleanupInterval: opts.CleanupInterval,
	}
}

// Start begins hub processing
// FUNCTIONAL DISCOVERY: Single hub goroutine prevents race conditions
// while maintaining high throughput event processing
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})

	log.Println("Starting event hub...")
	go h.run(ctx, h.shutdownChannel, h.done)
	return nil
}

// Stop shuts the loop down and waits for the event in flight to finish
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	done := h.done
	h.mu.Unlock()

	log.Println("Stopping event hub...")
	<-done
	return nil
}

// Submit queues one inbound envelope. When the queue is full the sender is
// told the server is busy right away instead of being made to wait.
func (h *Hub) Submit(conn interfaces.Connection, envelope *types.Envelope) error {
	if envelope == nil {
		return ErrNilEnvelope
	}
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return ErrHubNotRunning
	}

	select {
	case h.eventChannel <- &inboundEvent{conn: conn, envelope: envelope, receivedAt: time.Now()}:
		return nil
	default:
		metrics.Events.WithLabelValues(metrics.EventLabel(envelope.Event), metrics.ResultBusy).Inc()
		h.acknowledge(conn, envelope, types.Failure(ErrServerBusy))
		return ErrServerBusy
	}
}

// Disconnect queues a closed connection for cleanup behind every event it
// already submitted. Disconnects are never dropped; the caller waits for
// queue space unless the hub stops, however it stops.
func (h *Hub) Disconnect(connectionID string) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	shutdown := h.shutdownChannel
	done := h.done
	h.mu.RUnlock()

	select {
	case h.eventChannel <- &inboundEvent{disconnectedID: connectionID, receivedAt: time.Now()}:
		return nil
	case <-shutdown:
		return ErrHubNotRunning
	case <-done:
		return ErrHubNotRunning
	}
}

// QueueDepth reports how many events are waiting
func (h *Hub) QueueDepth() int {
	return len(h.eventChannel)
}

// run is the main hub processing loop
// TECHNICAL DISCOVERY: Single select loop handles all coordination
// preventing race conditions while maintaining high throughput
func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer log.Println("Hub processing stopped")

	cleanup := time.NewTicker(h.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case event := <-h.eventChannel:
			if event.envelope == nil {
				h.router.HandleDisconnect(event.disconnectedID)
				continue
			}
			h.handleEvent(ctx, event)

		case <-cleanup.C:
			h.router.CleanupRateLimits()

		case <-shutdown:
			log.Println("Hub shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

// handleEvent routes one envelope to completion and acknowledges it
func (h *Hub) handleEvent(ctx context.Context, event *inboundEvent) {
	ack := h.router.Route(ctx, event.conn.ID(), event.envelope)
	h.acknowledge(event.conn, event.envelope, ack)

	if wait := time.Since(event.receivedAt); wait > time.Second {
		log.Printf("Slow event: event=%s conn=%s latency=%v", event.envelope.Event, event.conn.ID(), wait)
	}
}

// acknowledge answers an envelope that asked for it. Fire-and-forget
// envelopes get nothing back.
func (h *Hub) acknowledge(conn interfaces.Connection, envelope *types.Envelope, body interface{}) {
	if envelope.AckID == nil {
		return
	}
	frame := types.AckFrame{Event: types.EventAck, AckID: *envelope.AckID, Data: body}
	if err := conn.Send(frame); err != nil {
		metrics.DroppedPushes.Inc()
		log.Printf("Failed to send ack: conn=%s event=%s err=%v", conn.ID(), envelope.Event, err)
	}
}
