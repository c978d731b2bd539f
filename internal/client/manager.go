// Package client is the host side of the session protocol: it remembers
// the host's session across reconnects and recovers it from the server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// State of the manager's connection to its session
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateRecovering
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateRecovering:
		return "recovering"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Status is a user-facing recovery notice
type Status string

const (
	StatusReconnecting   Status = "reconnecting"
	StatusSessionExpired Status = "session expired"
	StatusRecovered      Status = "recovered"
	StatusRecoveryFailed Status = "recovery failed"
)

type Options struct {
	// MaxAge bounds which remembered sessions are worth recovering
	MaxAge time.Duration
	// AttemptTimeout caps one session:create round trip
	AttemptTimeout time.Duration
	MaxAttempts    int
	// BaseBackoff is the wait before the second attempt; it doubles after
	BaseBackoff time.Duration
	// SettleDelay is how long ScheduleCleanup lets widgets re-register
	SettleDelay time.Duration
	Now         func() time.Time
}

func DefaultOptions() Options {
	return Options{
		MaxAge:         2 * time.Hour,
		AttemptTimeout: 5 * time.Second,
		MaxAttempts:    3,
		BaseBackoff:    time.Second,
		SettleDelay:    2 * time.Second,
		Now:            time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxAge <= 0 {
		o.MaxAge = d.MaxAge
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = d.AttemptTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = d.BaseBackoff
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = d.SettleDelay
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// recovery is one in-flight recovery sequence. done closes exactly once,
// after err is set; both happen under Manager.mu.
type recovery struct {
	done    chan struct{}
	err     error
	settled bool
}

func (r *recovery) settle(err error) {
	if r.settled {
		return
	}
	r.err = err
	r.settled = true
	close(r.done)
}

// Manager owns the host's session bookkeeping
// ARCHITECTURAL DISCOVERY: Every reconnect bumps a generation counter and
// cancels the previous recovery's context, so a stale attempt that
// completes late can never overwrite the newer outcome
type Manager struct {
	store Store
	opts  Options

	// createMu serialises fresh session creation
	createMu sync.Mutex

	mu         sync.Mutex
	transport  Transport
	state      State
	generation uint64
	cancel     context.CancelFunc
	inflight   *recovery
	session    *SessionState
	snapshot   []types.RoomInfo
	listeners  []func(Status)
}

// NewManager loads any remembered session from store. A nil store keeps
// state in memory only.
func NewManager(store Store, opts Options) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	m := &Manager{
		store: store,
		opts:  opts.withDefaults(),
		state: StateDisconnected,
	}
	state, err := store.Load()
	if err != nil {
		log.Printf("Ignoring unreadable session state: %v", err)
		state = nil
	}
	m.session = state
	return m
}

// OnStatus registers a listener for recovery notices. Listeners run on
// the goroutine that produced the notice and must not block.
func (m *Manager) OnStatus(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionCode is empty until a session is created or recovered
func (m *Manager) SessionCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.Code
}

// Rooms lists the rooms this host believes it has open
func (m *Manager) Rooms() []types.RoomKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	return append([]types.RoomKey(nil), m.session.Rooms...)
}

// TakeRecoverySnapshot returns the rooms reported by the last successful
// rejoin, once. Later calls return nil until the next rejoin.
func (m *Manager) TakeRecoverySnapshot() []types.RoomInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.snapshot
	m.snapshot = nil
	return snapshot
}

// Connecting marks that the transport is dialing
func (m *Manager) Connecting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopRecoveryLocked()
	m.transport = nil
	m.state = StateConnecting
}

// HandleDisconnect abandons any in-flight recovery. The remembered
// session is kept so the next connect can recover it.
func (m *Manager) HandleDisconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopRecoveryLocked()
	m.transport = nil
	m.state = StateDisconnected
}

// HandleConnect adopts a freshly connected transport and, when a recent
// session is remembered, starts recovering it in the background
func (m *Manager) HandleConnect(t Transport) {
	m.mu.Lock()
	m.stopRecoveryLocked()
	m.transport = t
	gen := m.generation

	if m.session == nil {
		m.state = StateReady
		m.mu.Unlock()
		return
	}

	if age := m.opts.Now().Sub(m.session.CreatedAt); age > m.opts.MaxAge {
		log.Printf("Discarding stale session: code=%s age=%s", m.session.Code, age.Round(time.Second))
		m.clearLocked()
		m.state = StateReady
		m.mu.Unlock()
		m.notify(StatusSessionExpired)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rec := &recovery{done: make(chan struct{})}
	code := m.session.Code
	m.cancel = cancel
	m.inflight = rec
	m.state = StateRecovering
	m.mu.Unlock()

	m.notify(StatusReconnecting)
	go m.recover(ctx, gen, rec, t, code)
}

// WaitForRecovery blocks until no recovery is in flight. It returns an
// ErrRecoveryFailed error when the last recovery gave up.
func (m *Manager) WaitForRecovery(ctx context.Context) error {
	for {
		m.mu.Lock()
		rec := m.inflight
		m.mu.Unlock()
		if rec == nil {
			return nil
		}

		select {
		case <-rec.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		// A superseded recovery hands over to its successor, if any
		if rec.err != ErrRecoveryCancelled {
			return rec.err
		}
	}
}

// EnsureSession returns the current session code, waiting for an
// in-flight recovery or creating a fresh session as needed
func (m *Manager) EnsureSession(ctx context.Context) (string, error) {
	if err := m.WaitForRecovery(ctx); err != nil {
		return "", err
	}

	m.createMu.Lock()
	defer m.createMu.Unlock()

	// A reconnect may have started a recovery while we queued
	if err := m.WaitForRecovery(ctx); err != nil {
		return "", err
	}

	m.mu.Lock()
	t, gen := m.transport, m.generation
	if t == nil {
		m.mu.Unlock()
		return "", ErrNotConnected
	}
	if m.session != nil {
		code := m.session.Code
		m.mu.Unlock()
		return code, nil
	}
	m.mu.Unlock()

	ack, err := m.requestCreate(ctx, t, "")
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return "", ErrNotConnected
	}
	m.snapshot = nil
	m.session = &SessionState{Code: ack.SessionCode, CreatedAt: ack.CreatedAt}
	m.persistLocked()
	m.state = StateReady
	m.mu.Unlock()

	log.Printf("Created session: code=%s", ack.SessionCode)
	return ack.SessionCode, nil
}

// CreateRoom opens (or reuses) a room in the current session
func (m *Manager) CreateRoom(ctx context.Context, roomType, widgetID string) (types.RoomInfo, bool, error) {
	code, t, err := m.ready(ctx)
	if err != nil {
		return types.RoomInfo{}, false, err
	}

	var ack types.RoomAck
	payload := types.RoomRef{Code: code, RoomType: roomType, WidgetID: widgetID}
	if err := t.Request(ctx, types.EventSessionCreateRoom, payload, &ack); err != nil {
		return types.RoomInfo{}, false, err
	}
	if err := checkAck(types.EventSessionCreateRoom, ack.Ack); err != nil {
		return types.RoomInfo{}, false, err
	}

	m.updateRooms(code, func(s *SessionState) bool {
		s.addRoom(types.RoomKey{RoomType: roomType, WidgetID: widgetID})
		return true
	})

	info := types.RoomInfo{RoomType: roomType, WidgetID: widgetID}
	if ack.Room != nil {
		info = *ack.Room
	}
	return info, ack.IsExisting, nil
}

// CloseRoom closes a room; closing an unknown room is not an error
func (m *Manager) CloseRoom(ctx context.Context, roomType, widgetID string) (bool, error) {
	code, t, err := m.ready(ctx)
	if err != nil {
		return false, err
	}

	var ack types.CloseRoomAck
	payload := types.RoomRef{Code: code, RoomType: roomType, WidgetID: widgetID}
	if err := t.Request(ctx, types.EventSessionCloseRoom, payload, &ack); err != nil {
		return false, err
	}
	if err := checkAck(types.EventSessionCloseRoom, ack.Ack); err != nil {
		return false, err
	}

	m.updateRooms(code, func(s *SessionState) bool {
		return s.removeRoom(types.RoomKey{RoomType: roomType, WidgetID: widgetID})
	})
	return ack.Closed, nil
}

// ScheduleCleanup waits for the settle delay and then asks the server to
// close every room whose widget is not in activeWidgetIDs. It blocks; run
// it on its own goroutine after the UI has mounted its widgets.
func (m *Manager) ScheduleCleanup(ctx context.Context, activeWidgetIDs []string) ([]types.RoomKey, error) {
	if err := sleep(ctx, m.opts.SettleDelay); err != nil {
		return nil, err
	}

	code, t, err := m.ready(ctx)
	if err != nil {
		return nil, err
	}
	if activeWidgetIDs == nil {
		activeWidgetIDs = []string{}
	}

	var ack types.CleanupRoomsAck
	payload := types.CleanupRoomsPayload{Code: code, ActiveWidgetIDs: activeWidgetIDs}
	if err := t.Request(ctx, types.EventSessionCleanupRooms, payload, &ack); err != nil {
		return nil, err
	}
	if err := checkAck(types.EventSessionCleanupRooms, ack.Ack); err != nil {
		return nil, err
	}

	m.updateRooms(code, func(s *SessionState) bool {
		changed := false
		for _, key := range ack.Closed {
			if s.removeRoom(key) {
				changed = true
			}
		}
		return changed
	})
	if len(ack.Closed) > 0 {
		log.Printf("Cleaned up orphan rooms: session=%s closed=%d", code, len(ack.Closed))
	}
	return ack.Closed, nil
}

// HandlePush keeps bookkeeping in line with server broadcasts; wire it as
// the transport's PushHandler
func (m *Manager) HandlePush(event string, data json.RawMessage) {
	var push struct {
		SessionCode string `json:"sessionCode"`
		RoomType    string `json:"roomType"`
		WidgetID    string `json:"widgetId"`
	}
	switch event {
	case types.EventSessionClosed, types.EventRoomClosed, types.EventRoomCreated:
		if err := json.Unmarshal(data, &push); err != nil {
			log.Printf("Ignoring malformed %s push: %v", event, err)
			return
		}
	default:
		return
	}

	key := types.RoomKey{RoomType: push.RoomType, WidgetID: push.WidgetID}
	switch event {
	case types.EventSessionClosed:
		m.mu.Lock()
		if m.session != nil && m.session.Code == push.SessionCode {
			log.Printf("Session closed by server: code=%s", push.SessionCode)
			m.clearLocked()
		}
		m.mu.Unlock()
	case types.EventRoomClosed:
		m.updateRooms(push.SessionCode, func(s *SessionState) bool { return s.removeRoom(key) })
	case types.EventRoomCreated:
		m.updateRooms(push.SessionCode, func(s *SessionState) bool {
			s.addRoom(key)
			return true
		})
	}
}

func (m *Manager) recover(ctx context.Context, gen uint64, rec *recovery, t Transport, code string) {
	var lastErr error
	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, m.backoff(attempt-1)); err != nil {
				return
			}
		}

		ack, err := m.requestCreate(ctx, t, code)
		if err == nil {
			m.adopt(gen, rec, ack)
			return
		}
		if ctx.Err() != nil {
			return
		}
		lastErr = err
		log.Printf("Recovery attempt failed: code=%s attempt=%d/%d err=%v", code, attempt, m.opts.MaxAttempts, err)
	}
	m.fail(gen, rec, code, lastErr)
}

func (m *Manager) requestCreate(ctx context.Context, t Transport, existingCode string) (types.CreateSessionAck, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, m.opts.AttemptTimeout)
	defer cancel()

	var ack types.CreateSessionAck
	payload := types.CreateSessionPayload{ExistingCode: existingCode}
	if err := t.Request(attemptCtx, types.EventSessionCreate, payload, &ack); err != nil {
		return ack, err
	}
	return ack, checkAck(types.EventSessionCreate, ack.Ack)
}

func (m *Manager) adopt(gen uint64, rec *recovery, ack types.CreateSessionAck) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}

	status := StatusRecovered
	next := &SessionState{Code: ack.SessionCode, CreatedAt: ack.CreatedAt}
	if ack.IsExisting {
		for _, info := range ack.Rooms {
			next.addRoom(types.RoomKey{RoomType: info.RoomType, WidgetID: info.WidgetID})
		}
		m.snapshot = ack.Rooms
		log.Printf("Recovered session: code=%s rooms=%d", ack.SessionCode, len(ack.Rooms))
	} else {
		// The server no longer knows the old code; local rooms are stale
		m.snapshot = nil
		status = StatusSessionExpired
		log.Printf("Session replaced on recovery: new=%s", ack.SessionCode)
	}
	m.session = next
	m.persistLocked()
	m.finishLocked(rec, nil)
	m.mu.Unlock()

	m.notify(status)
}

func (m *Manager) fail(gen uint64, rec *recovery, code string, cause error) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.clearLocked()
	m.finishLocked(rec, fmt.Errorf("%w: %v", ErrRecoveryFailed, cause))
	m.mu.Unlock()

	log.Printf("Giving up on session recovery: code=%s err=%v", code, cause)
	m.notify(StatusRecoveryFailed)
}

func (m *Manager) finishLocked(rec *recovery, err error) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.inflight = nil
	m.state = StateReady
	rec.settle(err)
}

// stopRecoveryLocked supersedes the in-flight recovery, if any
func (m *Manager) stopRecoveryLocked() {
	m.generation++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.inflight != nil {
		m.inflight.settle(ErrRecoveryCancelled)
		m.inflight = nil
	}
}

func (m *Manager) clearLocked() {
	m.session = nil
	m.snapshot = nil
	if err := m.store.Clear(); err != nil {
		log.Printf("Failed to clear session state: %v", err)
	}
}

func (m *Manager) persistLocked() {
	if err := m.store.Save(m.session); err != nil {
		log.Printf("Failed to save session state: %v", err)
	}
}

// ready resolves the session and transport for a host operation
func (m *Manager) ready(ctx context.Context) (string, Transport, error) {
	code, err := m.EnsureSession(ctx)
	if err != nil {
		return "", nil, err
	}
	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()
	if t == nil {
		return "", nil, ErrNotConnected
	}
	return code, t, nil
}

func (m *Manager) updateRooms(code string, fn func(s *SessionState) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.Code != code {
		return
	}
	if fn(m.session) {
		m.persistLocked()
	}
}

func (m *Manager) notify(status Status) {
	m.mu.Lock()
	listeners := append(([]func(Status))(nil), m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(status)
	}
}

func (m *Manager) backoff(retry int) time.Duration {
	return m.opts.BaseBackoff << (retry - 1)
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
