package router

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/tinkertanker/classroom-widgets-sub001/internal/metrics"
	"github.com/tinkertanker/classroom-widgets-sub001/internal/session"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/interfaces"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// Options configures a Router
type Options struct {
	MessagesPerMinute int
	JournalTimeout    time.Duration
}

type handlerFunc func(r *Router, connectionID string, payload types.Payload) (interface{}, error)

// Router turns one inbound envelope into a session or room operation and
// an acknowledgement
// ARCHITECTURAL DISCOVERY: Pure routing; it owns no session state and never
// touches sockets, so the hub can call it from its single goroutine
type Router struct {
	sessions       *session.Registry
	journal        interfaces.Journal
	rateLimiter    *RateLimiter
	journalTimeout time.Duration
	handlers       map[string]handlerFunc
	now            func() time.Time
}

// NewRouter creates a router. journal may be nil.
func NewRouter(sessions *session.Registry, journal interfaces.Journal, opts Options) *Router {
	if opts.JournalTimeout <= 0 {
		opts.JournalTimeout = 5 * time.Second
	}
	return &Router{
		sessions:       sessions,
		journal:        journal,
		rateLimiter:    NewRateLimiter(opts.MessagesPerMinute, time.Minute),
		journalTimeout: opts.JournalTimeout,
		handlers:       eventHandlers,
		now:            time.Now,
	}
}

// Route handles one envelope to completion and returns the ack body.
// Failures are reported in the ack; nothing here closes the socket.
func (r *Router) Route(ctx context.Context, connectionID string, envelope *types.Envelope) interface{} {
	start := time.Now()
	result := metrics.ResultOK
	defer func() {
		metrics.Events.WithLabelValues(metrics.EventLabel(envelope.Event), result).Inc()
		metrics.EventDuration.WithLabelValues(metrics.EventLabel(envelope.Event)).Observe(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if err := ctx.Err(); err != nil {
		result = metrics.ResultRejected
		return types.Failure(err)
	}

	if !r.rateLimiter.Allow(connectionID) {
		result = metrics.ResultLimited
		return types.Failure(ErrRateLimitExceeded)
	}

	payload, err := types.DecodePayload(envelope.Event, envelope.Data)
	if err != nil {
		result = metrics.ResultRejected
		log.Printf("Rejected event: event=%s conn=%s err=%v", envelope.Event, connectionID, err)
		return types.Failure(err)
	}

	handler, ok := r.handlers[envelope.Event]
	if !ok {
		result = metrics.ResultRejected
		return types.Failure(ErrUnhandledEvent)
	}

	response, err := handler(r, connectionID, payload)
	if err != nil {
		result = metrics.ResultRejected
		log.Printf("Event failed: event=%s conn=%s err=%v", envelope.Event, connectionID, err)
		return types.Failure(err)
	}
	return response
}

// HandleDisconnect applies a dropped connection to every session it was in
func (r *Router) HandleDisconnect(connectionID string) {
	r.rateLimiter.Forget(connectionID)
	if touched := r.sessions.HandleDisconnect(connectionID); len(touched) > 0 {
		log.Printf("Disconnect applied: conn=%s sessions=%v", connectionID, touched)
	}
}

// CleanupRateLimits drops idle rate limit windows
func (r *Router) CleanupRateLimits() {
	r.rateLimiter.Cleanup()
}

// recordSubmission journals a scored submission off the event loop
func (r *Router) recordSubmission(code, widgetID, connectionID, displayName string, results types.ActivityResults) {
	metrics.Submissions.Inc()
	if r.journal == nil {
		return
	}

	record := &types.SubmissionRecord{
		ID:           uuid.NewString(),
		SessionCode:  code,
		WidgetID:     widgetID,
		ConnectionID: connectionID,
		DisplayName:  displayName,
		Score:        results.Score,
		Total:        results.Total,
		SubmittedAt:  r.now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.journalTimeout)
		defer cancel()
		if err := r.journal.RecordSubmission(ctx, record); err != nil {
			metrics.JournalWrites.WithLabelValues("error").Inc()
			log.Printf("Failed to journal submission: session=%s widget=%s err=%v", code, widgetID, err)
			return
		}
		metrics.JournalWrites.WithLabelValues("ok").Inc()
	}()
}
