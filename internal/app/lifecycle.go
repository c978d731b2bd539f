package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tinkertanker/classroom-widgets-sub001/internal/metrics"
	"github.com/tinkertanker/classroom-widgets-sub001/internal/session"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/interfaces"
)

// journalReasons maps session close reasons onto the journal's codes
var journalReasons = map[string]string{
	session.ReasonClosedByHost: "closed_by_host",
	session.ReasonExpired:      "expired",
	session.ReasonShutdown:     "shutdown",
}

func journalReason(reason string) string {
	if code, ok := journalReasons[reason]; ok {
		return code
	}
	return reason
}

type lifecycleEvent struct {
	code   string
	at     time.Time
	reason string
	closed bool
}

// lifecycleRecorder observes the session registry. It keeps the session
// gauges current and journals each create and close in the order they
// happened.
// TECHNICAL DISCOVERY: Registry callbacks run under session locks, so
// journal writes are handed to one goroutine instead of done inline
type lifecycleRecorder struct {
	journal interfaces.Journal
	timeout time.Duration
	now     func() time.Time

	mu     sync.Mutex
	closed bool
	events chan lifecycleEvent
	done   chan struct{}
}

func newLifecycleRecorder(journal interfaces.Journal, timeout time.Duration, queueSize int) *lifecycleRecorder {
	r := &lifecycleRecorder{
		journal: journal,
		timeout: timeout,
		now:     time.Now,
		events:  make(chan lifecycleEvent, queueSize),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *lifecycleRecorder) SessionCreated(code string, createdAt time.Time) {
	metrics.SessionsCreated.Inc()
	metrics.SessionsActive.Inc()
	r.enqueue(lifecycleEvent{code: code, at: createdAt})
}

func (r *lifecycleRecorder) SessionClosed(code string, reason string) {
	reason = journalReason(reason)
	metrics.SessionsActive.Dec()
	metrics.SessionsClosed.WithLabelValues(reason).Inc()
	r.enqueue(lifecycleEvent{code: code, at: r.now(), reason: reason, closed: true})
}

func (r *lifecycleRecorder) enqueue(event lifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.events <- event:
	default:
		metrics.JournalWrites.WithLabelValues("dropped").Inc()
		log.Printf("Journal queue full, dropping lifecycle event: code=%s closed=%t", event.code, event.closed)
	}
}

func (r *lifecycleRecorder) run() {
	defer close(r.done)
	for event := range r.events {
		r.write(event)
	}
}

func (r *lifecycleRecorder) write(event lifecycleEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	var err error
	if event.closed {
		err = r.journal.RecordSessionClosed(ctx, event.code, event.reason, event.at)
	} else {
		err = r.journal.RecordSessionCreated(ctx, event.code, event.at)
	}
	if err != nil {
		metrics.JournalWrites.WithLabelValues("error").Inc()
		log.Printf("Failed to journal session event: code=%s closed=%t err=%v", event.code, event.closed, err)
		return
	}
	metrics.JournalWrites.WithLabelValues("ok").Inc()
}

// Close drains queued events and stops the writer
func (r *lifecycleRecorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()
	<-r.done
}
