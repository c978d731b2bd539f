package interfaces

import (
	"context"
	"time"

	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// Journal is the append-only record of session lifecycle and activity
// submissions. It is an archive for host-facing reports; live sessions are
// never restored from it.
type Journal interface {
	// RecordSessionCreated notes a freshly minted session
	RecordSessionCreated(ctx context.Context, code string, createdAt time.Time) error

	// RecordSessionClosed notes why and when a session ended
	RecordSessionClosed(ctx context.Context, code string, reason string, closedAt time.Time) error

	// RecordSubmission appends one scored activity submission
	RecordSubmission(ctx context.Context, record *types.SubmissionRecord) error

	// ListSubmissions returns a session's submissions, oldest first
	ListSubmissions(ctx context.Context, code string) ([]*types.SubmissionRecord, error)

	// GetSessionRecord returns the lifecycle record of one session
	GetSessionRecord(ctx context.Context, code string) (*types.SessionRecord, error)

	// HealthCheck verifies the journal is reachable
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and releases resources
	Close() error
}
