// Package database is the sqlite results journal: session lifecycles and
// scored submissions, kept for host reports after a session ends.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	dbconfig "github.com/tinkertanker/classroom-widgets-sub001/pkg/database"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/interfaces"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// ErrManagerClosed is returned for writes after Close
var ErrManagerClosed = errors.New("database manager is closed")

// Manager implements interfaces.Journal
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	ctx       context.Context
	operation func(ctx context.Context, db *sql.DB) error
	result    chan error
}

// NewManager opens the journal, applies pending migrations and starts the
// writer goroutine
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	migrations := dbconfig.NewMigrationManager(db, nil)
	if err := migrations.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema invalid: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, config.WriteQueueSize),
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	log.Printf("Journal opened: path=%s", config.DatabasePath)
	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- m.runWrite(op)

		case <-m.shutdown:
			// Drain what was already accepted
			for {
				select {
				case op := <-m.writeChannel:
					op.result <- m.runWrite(op)
				default:
					log.Println("Database write loop shutting down")
					return
				}
			}
		}
	}
}

// runWrite executes one write, retrying once after the configured delay
func (m *Manager) runWrite(op writeOperation) error {
	if err := op.ctx.Err(); err != nil {
		return err
	}
	err := op.operation(op.ctx, m.db)
	if err == nil {
		return nil
	}

	log.Printf("Database write failed, retrying in %v: %v", m.config.WriteRetryDelay, err)
	select {
	case <-time.After(m.config.WriteRetryDelay):
	case <-op.ctx.Done():
		return op.ctx.Err()
	}
	if err = op.operation(op.ctx, m.db); err != nil {
		log.Printf("Database write failed after retry: %v", err)
	}
	return err
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(ctx context.Context, db *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	// Holding the read lock keeps Close from racing the send
	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
		m.mu.RUnlock()
	case <-ctx.Done():
		m.mu.RUnlock()
		return ctx.Err()
	}
	return <-result
}

// RecordSessionCreated notes a freshly minted session. A code reused after
// an earlier session closed starts a new lifetime.
func (m *Manager) RecordSessionCreated(ctx context.Context, code string, createdAt time.Time) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO sessions (code, created_at) VALUES (?, ?)
			ON CONFLICT(code) DO UPDATE SET created_at = excluded.created_at, closed_at = NULL, close_reason = NULL
		`, code, createdAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to record session %s: %w", code, err)
		}
		return nil
	})
}

// RecordSessionClosed stamps the end of the current lifetime of a session
func (m *Manager) RecordSessionClosed(ctx context.Context, code string, reason string, closedAt time.Time) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		result, err := db.ExecContext(ctx, `
			UPDATE sessions SET closed_at = ?, close_reason = ?
			WHERE code = ? AND closed_at IS NULL
		`, closedAt.UTC(), reason, code)
		if err != nil {
			return fmt.Errorf("failed to close session %s: %w", code, err)
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return interfaces.ErrRecordNotFound
		}
		return nil
	})
}

// RecordSubmission appends one scored submission
func (m *Manager) RecordSubmission(ctx context.Context, record *types.SubmissionRecord) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO submissions (id, session_code, widget_id, connection_id, display_name, score, total, submitted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			record.ID,
			record.SessionCode,
			record.WidgetID,
			record.ConnectionID,
			record.DisplayName,
			record.Score,
			record.Total,
			record.SubmittedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert submission: %w", err)
		}
		return nil
	})
}

// GetSessionRecord returns the latest lifetime of a session code
func (m *Manager) GetSessionRecord(ctx context.Context, code string) (*types.SessionRecord, error) {
	var record types.SessionRecord
	var closedAt sql.NullTime
	var reason sql.NullString

	err := m.db.QueryRowContext(ctx, `
		SELECT code, created_at, closed_at, close_reason FROM sessions WHERE code = ?
	`, code).Scan(&record.Code, &record.CreatedAt, &closedAt, &reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	if closedAt.Valid {
		record.ClosedAt = &closedAt.Time
	}
	record.CloseReason = reason.String
	return &record, nil
}

// ListSubmissions returns the submissions of the current lifetime of a
// session code, oldest first
func (m *Manager) ListSubmissions(ctx context.Context, code string) ([]*types.SubmissionRecord, error) {
	var since time.Time
	session, err := m.GetSessionRecord(ctx, code)
	switch {
	case err == nil:
		since = session.CreatedAt
	case !errors.Is(err, interfaces.ErrRecordNotFound):
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, session_code, widget_id, connection_id, display_name, score, total, submitted_at
		FROM submissions
		WHERE session_code = ?
		ORDER BY submitted_at ASC
	`, code)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	submissions := make([]*types.SubmissionRecord, 0)
	for rows.Next() {
		var record types.SubmissionRecord
		err := rows.Scan(
			&record.ID,
			&record.SessionCode,
			&record.WidgetID,
			&record.ConnectionID,
			&record.DisplayName,
			&record.Score,
			&record.Total,
			&record.SubmittedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission row: %w", err)
		}
		// Earlier sessions that used the same code are not part of this report
		if record.SubmittedAt.Before(since) {
			continue
		}
		submissions = append(submissions, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating submission rows: %w", err)
	}
	return submissions, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying connection for tooling
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close drains queued writes and closes the database
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	log.Println("Journal closed")
	return nil
}
