// Package metrics holds the process-wide prometheus collectors. They are
// registered on the default registry and served by the API at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// Event outcomes
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultBusy     = "busy"
	ResultLimited  = "rate_limited"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "classroom_connections_active",
		Help: "Open WebSocket connections",
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "classroom_sessions_active",
		Help: "Live sessions in the registry",
	})

	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classroom_sessions_created_total",
		Help: "Sessions minted",
	})

	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_sessions_closed_total",
		Help: "Sessions closed, by reason",
	}, []string{"reason"})

	RoomsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_rooms_created_total",
		Help: "Rooms created, by room type",
	}, []string{"room_type"})

	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_events_total",
		Help: "Inbound events by name and outcome",
	}, []string{"event", "result"})

	EventDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "classroom_event_duration_ms",
		Help:    "Time spent routing one inbound event",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"event"})

	Submissions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classroom_activity_submissions_total",
		Help: "Accepted activity submissions",
	})

	DroppedPushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classroom_dropped_pushes_total",
		Help: "Server pushes dropped because a connection buffer was full",
	})

	JournalWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_journal_writes_total",
		Help: "Results journal writes by outcome",
	}, []string{"result"})
)

// EventLabel keeps label cardinality bounded to the known event set
func EventLabel(event string) string {
	if types.IsClientEvent(event) {
		return event
	}
	return "unknown"
}
