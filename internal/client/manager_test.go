package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

type fakeCall struct {
	event   string
	payload interface{}
}

// fakeTransport answers requests through handler and records them
type fakeTransport struct {
	mu      sync.Mutex
	calls   []fakeCall
	handler func(ctx context.Context, event string, payload interface{}) (interface{}, error)
}

func (f *fakeTransport) Request(ctx context.Context, event string, payload interface{}, reply interface{}) error {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{event: event, payload: payload})
	f.mu.Unlock()

	resp, err := f.handler(ctx, event, payload)
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, reply)
}

func (f *fakeTransport) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, call := range f.calls {
		out[i] = call.event
	}
	return out
}

func (f *fakeTransport) createCodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, call := range f.calls {
		if call.event == types.EventSessionCreate {
			out = append(out, call.payload.(types.CreateSessionPayload).ExistingCode)
		}
	}
	return out
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *statusRecorder) list() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

var testNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func testOptions() Options {
	return Options{
		MaxAge:         2 * time.Hour,
		AttemptTimeout: 50 * time.Millisecond,
		MaxAttempts:    3,
		BaseBackoff:    5 * time.Millisecond,
		SettleDelay:    5 * time.Millisecond,
		Now:            func() time.Time { return testNow },
	}
}

func rememberedStore(t *testing.T, age time.Duration, rooms ...types.RoomKey) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	if err := store.Save(&SessionState{Code: "ABCDE", CreatedAt: testNow.Add(-age), Rooms: rooms}); err != nil {
		t.Fatal(err)
	}
	return store
}

func newTestManager(store Store) (*Manager, *statusRecorder) {
	m := NewManager(store, testOptions())
	rec := &statusRecorder{}
	m.OnStatus(rec.record)
	return m, rec
}

func created(code string, existing bool, rooms ...types.RoomInfo) types.CreateSessionAck {
	return types.CreateSessionAck{Ack: types.OK(), SessionCode: code, IsExisting: existing, CreatedAt: testNow.Add(-time.Hour), Rooms: rooms}
}

func waitRecovery(t *testing.T, m *Manager) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return m.WaitForRecovery(ctx)
}

func sameStatuses(got []Status, want ...Status) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestManager_RecoverExistingSession(t *testing.T) {
	store := rememberedStore(t, 10*time.Minute, types.RoomKey{RoomType: "activity", WidgetID: "old"})
	m, statuses := newTestManager(store)
	transport := &fakeTransport{handler: func(ctx context.Context, event string, payload interface{}) (interface{}, error) {
		return created("ABCDE", true,
			types.RoomInfo{RoomType: "activity", WidgetID: "w1", IsActive: true},
			types.RoomInfo{RoomType: "poll", WidgetID: "p1"}), nil
	}}

	m.Connecting()
	if m.State() != StateConnecting {
		t.Errorf("Expected connecting, got %s", m.State())
	}
	m.HandleConnect(transport)
	if err := waitRecovery(t, m); err != nil {
		t.Fatalf("Recovery failed: %v", err)
	}

	if m.State() != StateReady || m.SessionCode() != "ABCDE" {
		t.Errorf("Expected ready ABCDE, got %s %q", m.State(), m.SessionCode())
	}
	if codes := transport.createCodes(); len(codes) != 1 || codes[0] != "ABCDE" {
		t.Errorf("Expected one create with the existing code, got %v", codes)
	}
	if snapshot := m.TakeRecoverySnapshot(); len(snapshot) != 2 || !snapshot[0].IsActive {
		t.Errorf("Unexpected recovery snapshot %+v", snapshot)
	}
	if snapshot := m.TakeRecoverySnapshot(); snapshot != nil {
		t.Error("Recovery snapshot must only be handed out once")
	}

	saved, _ := store.Load()
	if len(saved.Rooms) != 2 || saved.Rooms[0].WidgetID != "w1" {
		t.Errorf("Expected server rooms to replace local ones, got %+v", saved.Rooms)
	}
	if !sameStatuses(statuses.list(), StatusReconnecting, StatusRecovered) {
		t.Errorf("Unexpected statuses %v", statuses.list())
	}
}

func TestManager_ServerForgotSession(t *testing.T) {
	store := rememberedStore(t, time.Minute, types.RoomKey{RoomType: "poll", WidgetID: "p1"})
	m, statuses := newTestManager(store)
	transport := &fakeTransport{handler: func(ctx context.Context, event string, payload interface{}) (interface{}, error) {
		return created("NEW22", false), nil
	}}

	m.HandleConnect(transport)
	if err := waitRecovery(t, m); err != nil {
		t.Fatalf("Recovery failed: %v", err)
	}

	if m.SessionCode() != "NEW22" || len(m.Rooms()) != 0 {
		t.Errorf("Expected fresh session without rooms, got %q %v", m.SessionCode(), m.Rooms())
	}
	if m.TakeRecoverySnapshot() != nil {
		t.Error("A replaced session has no recovery snapshot")
	}
	if !sameStatuses(statuses.list(), StatusReconnecting, StatusSessionExpired) {
		t.Errorf("Unexpected statuses %v", statuses.list())
	}
}

func TestManager_StaleSessionIsNotRecovered(t *testing.T) {
	store := rememberedStore(t, 3*time.Hour)
	m, statuses := newTestManager(store)
	transport := &fakeTransport{handler: func(ctx context.Context, event string, payload interface{}) (interface{}, error) {
		return created("FRESH", false), nil
	}}

	m.HandleConnect(transport)
	if m.State() != StateReady {
		t.Errorf("Expected ready without recovering, got %s", m.State())
	}
	if len(transport.events()) != 0 {
		t.Errorf("Expected no requests, got %v", transport.events())
	}
	if saved, _ := store.Load(); saved != nil {
		t.Error("Expected stale session to be discarded")
	}
	if !sameStatuses(statuses.list(), StatusSessionExpired) {
		t.Errorf("Unexpected statuses %v", statuses.list())
	}

	code, err := m.EnsureSession(context.Background())
	if err != nil || code != "FRESH" {
		t.Fatalf("Expected fresh session, got %q %v", code, err)
	}
	if codes := transport.createCodes(); len(codes) != 1 || codes[0] != "" {
		t.Errorf("Expected a create without existing code, got %v", codes)
	}
}

func TestManager_RetriesWithBackoff(t *testing.T) {
	m, statuses := newTestManager(rememberedStore(t, time.Minute))
	var mu sync.Mutex
	attempts := 0
	transport := &fakeTransport{handler: func(ctx context.Context, event string, payload interface{}) (interface{}, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return nil, errors.New("socket hiccup")
		}
		return created("ABCDE", true), nil
	}}

	start := time.Now()
	m.HandleConnect(transport)
	if err := waitRecovery(t, m); err != nil {
		t.Fatalf("Recovery failed: %v", err)
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	// 5ms then 10ms of backoff
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("Expected exponential backoff between attempts, finished in %s", elapsed)
	}
	if !sameStatuses(statuses.list(), StatusReconnecting, StatusRecovered) {
		t.Errorf("Unexpected statuses %v", statuses.list())
	}
}

func TestManager_RecoveryFailureClearsSession(t *testing.T) {
	store := rememberedStore(t, time.Minute)
	m, statuses := newTestManager(store)
	transport := &fakeTransport{handler: func(ctx context.Context, event string, payload interface{}) (interface{}, error) {
		if payload.(types.CreateSessionPayload).ExistingCode != "" {
			// Never answers; every attempt times out
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return created("FRESH", false), nil
	}}

	m.HandleConnect(transport)
	err := waitRecovery(t, m)
	if !errors.Is(err, ErrRecoveryFailed) {
		t.Fatalf("Expected ErrRecoveryFailed, got %v", err)
	}
	if n := len(transport.createCodes()); n != 3 {
		t.Errorf("Expected 3 attempts, got %d", n)
	}
	if saved, _ := store.Load(); saved != nil || m.SessionCode() != "" {
		t.Error("Expected local session to be cleared")
	}
	if !sameStatuses(statuses.list(), StatusReconnecting, StatusRecoveryFailed) {
		t.Errorf("Unexpected statuses %v", statuses.list())
	}

	// The failure is recoverable: the next operation starts fresh
	code, err := m.EnsureSession(context.Background())
	if err != nil || code != "FRESH" {
		t.Errorf("Expected a fresh session after failure, got %q %v", code, err)
	}
}

func TestManager_CreateRoomWaitsForRecovery(t *testing.T) {
	m, _ := newTestManager(rememberedStore(t, time.Minute))
	release := make(chan struct{})
	transport := &fakeTransport{handler: func(ctx context.Context, event string, payload interface{}) (interface{}, error) {
		switch event {
		case types.EventSessionCreate:
			<-release
			return created("ABCDE", true), nil
		case types.EventSessionCreateRoom:
			ref := payload.(types.RoomRef)
			return types.RoomAck{Ack: types.OK(), Room: &types.RoomInfo{RoomType: ref.RoomType, WidgetID: ref.WidgetID}}, nil
		}
		return nil, errors.New("unexpected event")
	}}
	m.opts.AttemptTimeout = time.Second

	m.HandleConnect(transport)

	type result struct {
		info types.RoomInfo
		err  error
	}
	done := make(chan result, 1)
	go func() {
		info, _, err := m.CreateRoom(context.Background(), "poll", "p1")
		done <- result{info, err}
	}()

	select {
	case <-done:
		t.Fatal("CreateRoom must wait for the in-flight recovery")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)

	res := <-done
	if res.err != nil || res.info.WidgetID != "p1" {
		t.Fatalf("CreateRoom failed: %+v", res)
	}
	events := transport.events()
	if len(events) != 2 || events[0] != types.EventSessionCreate || events[1] != types.EventSessionCreateRoom {
		t.Errorf("Expected recovery then createRoom, got %v", events)
	}
	if ref := transport.calls[1].payload.(types.RoomRef); ref.Code != "ABCDE" {
		t.Errorf("Expected room in the recovered session, got %q", ref.Code)
	}
	if rooms := m.Rooms(); len(rooms) != 1 || rooms[0].WidgetID != "p1" {
		t.Errorf("Expected room to be remembered, got %v", rooms)
	}
}

func TestManager_ReconnectSupersedesRecovery(t *testing.T) {
	m, statuses := newTestManager(rememberedStore(t, time.Minute))
	started := make(chan struct{})
	returned := make(chan struct{})
	first := &fakeTransport{handler: func(ctx context.Context, event string, payload interface{}) (interface{}, error) {
		close(started)
		<-ctx.Done()
		defer close(returned)
		// A late answer from the abandoned socket
		return created("STALE", false), nil
	}}
	second := &fakeTransport{handler: func(ctx context.Context, event string, payload interface{}) (interface{}, error) {
		return created("ABCDE", true), nil
	}}
	m.opts.AttemptTimeout = time.Second

	m.HandleConnect(first)
	<-started
	m.HandleConnect(second)

	if err := waitRecovery(t, m); err != nil {
		t.Fatalf("Recovery failed: %v", err)
	}
	<-returned
	time.Sleep(20 * time.Millisecond)

	if m.SessionCode() != "ABCDE" {
		t.Errorf("Stale recovery overwrote the newer one: %q", m.SessionCode())
	}
	if !sameStatuses(statuses.list(), StatusReconnecting, StatusReconnecting, StatusRecovered) {
		t.Errorf("Expected exactly one outcome, got %v", statuses.list())
	}
}

func TestManager_DisconnectCancelsRecovery(t *testing.T) {
	store := rememberedStore(t, time.Minute)
	m, statuses := newTestManager(store)
	started := make(chan struct{})
	transport := &fakeTransport{handler: func(ctx context.Context, event string, payload interface{}) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	m.opts.AttemptTimeout = time.Second

	m.HandleConnect(transport)
	<-started
	m.HandleDisconnect()

	if err := waitRecovery(t, m); err != nil {
		t.Errorf("Expected no recovery in flight, got %v", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("Expected disconnected, got %s", m.State())
	}
	if _, err := m.EnsureSession(context.Background()); err != ErrNotConnected {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if saved, _ := store.Load(); saved == nil || saved.Code != "ABCDE" {
		t.Error("Expected the session to be kept for the next connect")
	}
	time.Sleep(20 * time.Millisecond)
	if !sameStatuses(statuses.list(), StatusReconnecting) {
		t.Errorf("Cancelled recovery must not report an outcome, got %v", statuses.list())
	}
}

func TestManager_ConcurrentEnsureSessionCreatesOnce(t *testing.T) {
	m, _ := newTestManager(nil)
	transport := &fakeTransport{handler: func(ctx context.Context, event string, payload interface{}) (interface{}, error) {
		time.Sleep(5 * time.Millisecond)
		return created("ONLY1", false), nil
	}}
	m.HandleConnect(transport)

	var wg sync.WaitGroup
	codes := make([]string, 5)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i], _ = m.EnsureSession(context.Background())
		}(i)
	}
	wg.Wait()

	for _, code := range codes {
		if code != "ONLY1" {
			t.Errorf("Expected every caller to share one session, got %v", codes)
			break
		}
	}
	if n := len(transport.createCodes()); n != 1 {
		t.Errorf("Expected a single session:create, got %d", n)
	}
}

func TestManager_ScheduleCleanup(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Save(&SessionState{Code: "ABCDE", CreatedAt: testNow, Rooms: []types.RoomKey{
		{RoomType: "activity", WidgetID: "w1"},
		{RoomType: "poll", WidgetID: "p1"},
	}})
	m, _ := newTestManager(store)
	transport := &fakeTransport{handler: func(ctx context.Context, event string, payload interface{}) (interface{}, error) {
		switch event {
		case types.EventSessionCreate:
			return types.CreateSessionAck{Ack: types.OK(), SessionCode: "ABCDE", IsExisting: true, CreatedAt: testNow}, nil
		case types.EventSessionCleanupRooms:
			return types.CleanupRoomsAck{Ack: types.OK(), Closed: []types.RoomKey{{RoomType: "poll", WidgetID: "p1"}}}, nil
		}
		return nil, errors.New("unexpected event")
	}}
	m.HandleConnect(transport)

	closed, err := m.ScheduleCleanup(context.Background(), []string{"w1"})
	if err != nil {
		t.Fatalf("ScheduleCleanup failed: %v", err)
	}
	if len(closed) != 1 || closed[0].WidgetID != "p1" {
		t.Errorf("Unexpected closed rooms %v", closed)
	}
	if rooms := m.Rooms(); len(rooms) != 0 {
		// Server rooms replaced local rooms on recovery (none reported)
		t.Errorf("Expected no remembered rooms, got %v", rooms)
	}
	last := transport.calls[len(transport.calls)-1].payload.(types.CleanupRoomsPayload)
	if len(last.ActiveWidgetIDs) != 1 || last.ActiveWidgetIDs[0] != "w1" {
		t.Errorf("Unexpected cleanup payload %+v", last)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	before := len(transport.events())
	if _, err := m.ScheduleCleanup(ctx, nil); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(transport.events()) != before {
		t.Error("A cancelled cleanup must not reach the server")
	}
}

func TestManager_RejectedRequest(t *testing.T) {
	m, _ := newTestManager(nil)
	transport := &fakeTransport{handler: func(ctx context.Context, event string, payload interface{}) (interface{}, error) {
		if event == types.EventSessionCreate {
			return created("ABCDE", false), nil
		}
		return types.RoomAck{Ack: types.Failure(types.NewAuthorizationError("only the host can do that"))}, nil
	}}
	m.HandleConnect(transport)

	_, _, err := m.CreateRoom(context.Background(), "poll", "p1")
	var ackErr *AckError
	if !errors.As(err, &ackErr) || ackErr.Kind() != types.KindAuthorization {
		t.Fatalf("Expected authorization AckError, got %v", err)
	}
	if len(m.Rooms()) != 0 {
		t.Error("A rejected room must not be remembered")
	}
}

func TestManager_HandlePush(t *testing.T) {
	store := NewMemoryStore()
	m, _ := newTestManager(store)
	transport := &fakeTransport{handler: func(ctx context.Context, event string, payload interface{}) (interface{}, error) {
		return created("ABCDE", false), nil
	}}
	m.HandleConnect(transport)
	if _, err := m.EnsureSession(context.Background()); err != nil {
		t.Fatal(err)
	}

	m.HandlePush(types.EventRoomCreated, json.RawMessage(`{"sessionCode":"ABCDE","roomType":"poll","widgetId":"p1"}`))
	m.HandlePush(types.EventRoomCreated, json.RawMessage(`{"sessionCode":"OTHER","roomType":"poll","widgetId":"p2"}`))
	if rooms := m.Rooms(); len(rooms) != 1 || rooms[0].WidgetID != "p1" {
		t.Errorf("Expected only this session's room, got %v", rooms)
	}

	m.HandlePush(types.EventRoomClosed, json.RawMessage(`{"sessionCode":"ABCDE","roomType":"poll","widgetId":"p1"}`))
	if len(m.Rooms()) != 0 {
		t.Error("Expected room to be forgotten")
	}

	m.HandlePush(types.EventRoomCreated, json.RawMessage(`not json`))
	m.HandlePush(types.EventSessionClosed, json.RawMessage(`{"sessionCode":"ABCDE","reason":"closed by host"}`))
	if m.SessionCode() != "" {
		t.Error("Expected session to be forgotten after session:closed")
	}
	if saved, _ := store.Load(); saved != nil {
		t.Error("Expected store to be cleared")
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateRecovering:   "recovering",
		StateReady:        "ready",
		State(42):         "unknown",
	}
	for state, want := range tests {
		if state.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", state, state.String(), want)
		}
	}
}
