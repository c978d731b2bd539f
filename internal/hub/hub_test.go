package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// fakeRouter reports every routed envelope and can be held to fill the queue
type fakeRouter struct {
	routed       chan string
	disconnected chan string
	cleanups     chan struct{}
	gate         chan struct{}

	mu      sync.Mutex
	history []string
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{
		routed:       make(chan string, 100),
		disconnected: make(chan string, 100),
		cleanups:     make(chan struct{}, 100),
	}
}

func (f *fakeRouter) Route(ctx context.Context, connectionID string, envelope *types.Envelope) interface{} {
	if f.gate != nil {
		<-f.gate
	}
	f.record(connectionID + " " + envelope.Event)
	f.routed <- connectionID + " " + envelope.Event
	return types.OK()
}

func (f *fakeRouter) HandleDisconnect(connectionID string) {
	f.record(connectionID + " disconnect")
	f.disconnected <- connectionID
}

func (f *fakeRouter) record(entry string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, entry)
}

func (f *fakeRouter) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.history...)
}

func (f *fakeRouter) CleanupRateLimits() {
	select {
	case f.cleanups <- struct{}{}:
	default:
	}
}

// mockConnection captures frames sent back to the client
type mockConnection struct {
	id     string
	mu     sync.Mutex
	frames []types.AckFrame
}

func (m *mockConnection) ID() string                    { return m.id }
func (m *mockConnection) WriteJSON(v interface{}) error { return m.Send(v) }
func (m *mockConnection) Close() error                  { return nil }

func (m *mockConnection) Send(v interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if frame, ok := v.(types.AckFrame); ok {
		m.frames = append(m.frames, frame)
	}
	return nil
}

func (m *mockConnection) acks() []types.AckFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.AckFrame(nil), m.frames...)
}

func ackID(id int64) *int64 { return &id }

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for hub")
		return ""
	}
}

func TestHub_StartStop(t *testing.T) {
	hub := NewHub(newFakeRouter(), Options{})
	ctx := context.Background()

	if err := hub.Start(ctx); err != nil {
		t.Errorf("Expected no error starting hub, got %v", err)
	}
	if err := hub.Start(ctx); err != ErrHubAlreadyRunning {
		t.Errorf("Expected ErrHubAlreadyRunning, got %v", err)
	}
	if err := hub.Stop(); err != nil {
		t.Errorf("Expected no error stopping hub, got %v", err)
	}
	if err := hub.Stop(); err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}

	// A stopped hub can be restarted
	if err := hub.Start(ctx); err != nil {
		t.Errorf("Expected restart to succeed, got %v", err)
	}
	_ = hub.Stop()
}

func TestHub_RejectsWhenStopped(t *testing.T) {
	hub := NewHub(newFakeRouter(), Options{})
	conn := &mockConnection{id: "c1"}

	if err := hub.Submit(conn, &types.Envelope{Event: types.EventSessionCreate}); err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}
	if err := hub.Disconnect("c1"); err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}
	if err := hub.Submit(conn, nil); err != ErrNilEnvelope {
		t.Errorf("Expected ErrNilEnvelope, got %v", err)
	}
}

func TestHub_RoutesAndAcknowledges(t *testing.T) {
	router := newFakeRouter()
	hub := NewHub(router, Options{})
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	defer hub.Stop()

	conn := &mockConnection{id: "c1"}
	if err := hub.Submit(conn, &types.Envelope{Event: types.EventSessionCreate, AckID: ackID(7)}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := hub.Submit(conn, &types.Envelope{Event: types.EventSessionLeave}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if got := waitFor(t, router.routed); got != "c1 session:create" {
		t.Errorf("Unexpected first event %q", got)
	}
	if got := waitFor(t, router.routed); got != "c1 session:leave" {
		t.Errorf("Events must be routed in arrival order, got %q", got)
	}

	// Stop waits for the loop so every ack is already written
	hub.Stop()
	acks := conn.acks()
	if len(acks) != 1 {
		t.Fatalf("Only the envelope with an ack id gets an answer, got %d acks", len(acks))
	}
	if acks[0].Event != types.EventAck || acks[0].AckID != 7 {
		t.Errorf("Unexpected ack frame %+v", acks[0])
	}
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Failed to restart hub: %v", err)
	}
}

func TestHub_ServerBusy(t *testing.T) {
	router := newFakeRouter()
	router.gate = make(chan struct{})
	hub := NewHub(router, Options{QueueSize: 1})
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}

	conn := &mockConnection{id: "c1"}
	busy := false
	for i := int64(0); i < 5; i++ {
		if err := hub.Submit(conn, &types.Envelope{Event: types.EventPollVote, AckID: ackID(i)}); err == ErrServerBusy {
			busy = true
			break
		}
	}
	if !busy {
		t.Fatal("Expected a full queue to report the server busy")
	}

	acks := conn.acks()
	if len(acks) != 1 {
		t.Fatalf("Expected one immediate busy ack, got %d", len(acks))
	}
	raw, _ := json.Marshal(acks[0].Data)
	var ack types.Ack
	if err := json.Unmarshal(raw, &ack); err != nil {
		t.Fatalf("Busy ack does not decode: %v", err)
	}
	if ack.Success || ack.Error != "server busy" || ack.Kind != string(types.KindState) {
		t.Errorf("Unexpected busy ack %+v", ack)
	}

	close(router.gate)
	hub.Stop()
}

func TestHub_Disconnect(t *testing.T) {
	router := newFakeRouter()
	hub := NewHub(router, Options{})
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	defer hub.Stop()

	if err := hub.Disconnect("c9"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if got := waitFor(t, router.disconnected); got != "c9" {
		t.Errorf("Expected c9 disconnect, got %q", got)
	}
}

func TestHub_DisconnectFollowsQueuedEvents(t *testing.T) {
	router := newFakeRouter()
	router.gate = make(chan struct{})
	hub := NewHub(router, Options{})
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	defer hub.Stop()

	conn := &mockConnection{id: "c1"}
	for _, event := range []string{types.EventActivitySubmit, types.EventPollVote, types.EventQuestionsAsk} {
		if err := hub.Submit(conn, &types.Envelope{Event: event}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	if err := hub.Disconnect("c1"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	close(router.gate)
	waitFor(t, router.disconnected)

	want := []string{"c1 session:activity:submit", "c1 session:poll:vote", "c1 session:questions:ask", "c1 disconnect"}
	got := router.seen()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Step %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestHub_DisconnectReturnsAfterContextCancel(t *testing.T) {
	router := newFakeRouter()
	router.gate = make(chan struct{})
	hub := NewHub(router, Options{QueueSize: 1})
	ctx, cancel := context.WithCancel(context.Background())
	if err := hub.Start(ctx); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}

	// One event held in the router, one filling the queue
	conn := &mockConnection{id: "c1"}
	_ = hub.Submit(conn, &types.Envelope{Event: types.EventPollVote})
	waitForQueueDrain(t, hub)
	if err := hub.Submit(conn, &types.Envelope{Event: types.EventPollVote}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	returned := make(chan error, 1)
	go func() { returned <- hub.Disconnect("c2") }()

	cancel()
	close(router.gate)

	select {
	case err := <-returned:
		if err != nil && err != ErrHubNotRunning {
			t.Errorf("Unexpected Disconnect error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect stayed blocked after the hub exited")
	}
}

func waitForQueueDrain(t *testing.T, hub *Hub) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.QueueDepth() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("Hub never picked up the queued event")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHub_PeriodicCleanup(t *testing.T) {
	router := newFakeRouter()
	hub := NewHub(router, Options{CleanupInterval: 10 * time.Millisecond})
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	defer hub.Stop()

	select {
	case <-router.cleanups:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected rate limit cleanup to run")
	}
}

func TestHub_ContextCancel(t *testing.T) {
	hub := NewHub(newFakeRouter(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	if err := hub.Start(ctx); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := hub.Submit(&mockConnection{id: "c1"}, &types.Envelope{Event: types.EventSessionCreate}); err == ErrHubNotRunning {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("Hub should stop accepting events after its context is cancelled")
}

func TestHub_ConcurrentAccess(t *testing.T) {
	hub := NewHub(newFakeRouter(), Options{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// These should fail gracefully without panic
			_ = hub.Start(context.Background())
			_ = hub.Stop()
		}()
	}
	wg.Wait()
	_ = hub.Stop()
}
