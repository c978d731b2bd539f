package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tinkertanker/classroom-widgets-sub001/internal/session"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// mockBroadcaster records pushes per connection
type mockBroadcaster struct {
	mu     sync.Mutex
	pushes map[string][]string
}

func (m *mockBroadcaster) Emit(connectionID string, event string, payload interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pushes == nil {
		m.pushes = make(map[string][]string)
	}
	m.pushes[connectionID] = append(m.pushes[connectionID], event)
}

func (m *mockBroadcaster) count(connectionID, event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.pushes[connectionID] {
		if e == event {
			n++
		}
	}
	return n
}

// mockJournal hands recorded submissions to the test
type mockJournal struct {
	submissions chan *types.SubmissionRecord
	fail        bool
}

func newMockJournal() *mockJournal {
	return &mockJournal{submissions: make(chan *types.SubmissionRecord, 10)}
}

func (m *mockJournal) RecordSessionCreated(ctx context.Context, code string, createdAt time.Time) error {
	return nil
}

func (m *mockJournal) RecordSessionClosed(ctx context.Context, code string, reason string, closedAt time.Time) error {
	return nil
}

func (m *mockJournal) RecordSubmission(ctx context.Context, record *types.SubmissionRecord) error {
	if m.fail {
		return errors.New("disk full")
	}
	m.submissions <- record
	return nil
}

func (m *mockJournal) ListSubmissions(ctx context.Context, code string) ([]*types.SubmissionRecord, error) {
	return nil, nil
}

func (m *mockJournal) GetSessionRecord(ctx context.Context, code string) (*types.SessionRecord, error) {
	return nil, nil
}

func (m *mockJournal) HealthCheck(ctx context.Context) error { return nil }
func (m *mockJournal) Close() error                          { return nil }

type testRouter struct {
	*Router
	out     *mockBroadcaster
	journal *mockJournal
}

func newTestRouter(t *testing.T, perMinute int) *testRouter {
	t.Helper()
	out := &mockBroadcaster{}
	journal := newMockJournal()
	sessions := session.NewRegistry(out, session.Options{MaxAge: 2 * time.Hour, CodeLength: 5})
	return &testRouter{
		Router:  NewRouter(sessions, journal, Options{MessagesPerMinute: perMinute}),
		out:     out,
		journal: journal,
	}
}

func (tr *testRouter) send(connectionID, event string, data interface{}) interface{} {
	raw, _ := json.Marshal(data)
	return tr.Route(context.Background(), connectionID, &types.Envelope{Event: event, Data: raw})
}

// ackOf re-encodes any ack body into the common shape
func ackOf(t *testing.T, body interface{}) types.Ack {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Ack is not JSON encodable: %v", err)
	}
	var ack types.Ack
	if err := json.Unmarshal(raw, &ack); err != nil {
		t.Fatalf("Ack does not decode: %v", err)
	}
	return ack
}

func (tr *testRouter) mustSucceed(t *testing.T, connectionID, event string, data interface{}) interface{} {
	t.Helper()
	body := tr.send(connectionID, event, data)
	if ack := ackOf(t, body); !ack.Success {
		t.Fatalf("%s from %s failed: %s (%s)", event, connectionID, ack.Error, ack.Kind)
	}
	return body
}

// classroom creates a session hosted by "host" with participant "alice"
// and one running activity room "w1"
func (tr *testRouter) classroom(t *testing.T) string {
	t.Helper()
	created := tr.mustSucceed(t, "host", types.EventSessionCreate, nil).(types.CreateSessionAck)
	code := created.SessionCode
	tr.mustSucceed(t, "alice", types.EventSessionJoin, map[string]string{"sessionCode": code, "name": "Alice"})
	tr.mustSucceed(t, "host", types.EventSessionCreateRoom, map[string]string{"sessionCode": code, "roomType": "activity", "widgetId": "w1"})
	tr.mustSucceed(t, "host", types.EventActivityUpdate, map[string]interface{}{
		"sessionCode": code,
		"widgetId":    "w1",
		"allowRetry":  true,
		"activity": map[string]interface{}{
			"type":    "fill-blank",
			"items":   []map[string]string{{"id": "item-0", "content": "hello"}, {"id": "item-1", "content": "world"}},
			"targets": []map[string]interface{}{{"id": "blank-0", "accepts": []string{"item-0"}}, {"id": "blank-1", "accepts": []string{"item-1"}}},
		},
	})
	tr.mustSucceed(t, "host", types.EventSessionUpdateWidgetState, map[string]interface{}{
		"sessionCode": code, "roomType": "activity", "widgetId": "w1", "isActive": true,
	})
	return code
}

func TestRouter_EveryClientEventHasHandler(t *testing.T) {
	events := []string{
		types.EventSessionCreate, types.EventSessionJoin, types.EventSessionLeave, types.EventSessionClose,
		types.EventSessionCreateRoom, types.EventSessionCloseRoom, types.EventSessionJoinRoom, types.EventSessionLeaveRoom,
		types.EventSessionCleanupRooms, types.EventSessionUpdateWidgetState,
		types.EventActivityUpdate, types.EventActivitySubmit, types.EventActivityRetry, types.EventActivityReveal,
		types.EventActivityReset, types.EventActivityRequestState,
		types.EventPollUpdate, types.EventPollVote, types.EventPollReset,
		types.EventLinkShareSubmit, types.EventLinkShareDelete,
		types.EventRTFeedbackSubmit, types.EventRTFeedbackReset,
		types.EventQuestionsAsk, types.EventQuestionsMarkAnswered, types.EventQuestionsDelete, types.EventQuestionsClear,
	}
	for _, event := range events {
		if _, ok := eventHandlers[event]; !ok {
			t.Errorf("No handler for %s", event)
		}
	}
	if len(eventHandlers) != len(events) {
		t.Errorf("Expected %d handlers, got %d", len(events), len(eventHandlers))
	}
}

func TestRouter_CreateAndRejoin(t *testing.T) {
	tr := newTestRouter(t, 0)

	first := tr.mustSucceed(t, "host-1", types.EventSessionCreate, nil).(types.CreateSessionAck)
	if first.IsExisting || first.SessionCode == "" {
		t.Fatalf("Expected a fresh session, got %+v", first)
	}
	tr.mustSucceed(t, "host-1", types.EventSessionCreateRoom, map[string]string{"sessionCode": first.SessionCode, "roomType": "poll", "widgetId": "p1"})

	again := tr.mustSucceed(t, "host-2", types.EventSessionCreate, map[string]string{"existingCode": first.SessionCode}).(types.CreateSessionAck)
	if !again.IsExisting || again.SessionCode != first.SessionCode {
		t.Errorf("Expected rejoin of %s, got %+v", first.SessionCode, again)
	}
	if len(again.Rooms) != 1 || again.Rooms[0].WidgetID != "p1" {
		t.Errorf("Expected recovery snapshot of rooms, got %+v", again.Rooms)
	}

	// The old host socket has lost authority
	body := tr.send("host-1", types.EventSessionCloseRoom, map[string]string{"sessionCode": first.SessionCode, "roomType": "poll", "widgetId": "p1"})
	if ack := ackOf(t, body); ack.Success || ack.Kind != string(types.KindAuthorization) {
		t.Errorf("Expected authorization failure for the old host, got %+v", ack)
	}
}

func TestRouter_ParticipantCannotClaimHost(t *testing.T) {
	tr := newTestRouter(t, 0)
	code := tr.classroom(t)

	body := tr.send("alice", types.EventSessionCreate, map[string]string{"existingCode": code})
	if ack := ackOf(t, body); ack.Success || ack.Kind != string(types.KindAuthorization) {
		t.Fatalf("Expected authorization failure for a participant, got %+v", ack)
	}

	// The real host keeps every host-only operation
	tr.mustSucceed(t, "host", types.EventSessionCreateRoom, map[string]string{"sessionCode": code, "roomType": "poll", "widgetId": "p1"})
	tr.mustSucceed(t, "host", types.EventActivityReset, map[string]string{"sessionCode": code, "widgetId": "w1"})
}

func TestRouter_Failures(t *testing.T) {
	tr := newTestRouter(t, 0)
	code := tr.classroom(t)

	tests := []struct {
		name     string
		conn     string
		event    string
		data     interface{}
		wantKind types.ErrorKind
		wantErr  string
	}{
		{"unknown event", "host", "session:explode", nil, types.KindValidation, "unknown event"},
		{"unknown session", "alice", types.EventSessionJoin, map[string]string{"sessionCode": "QQQQQ", "name": "A"}, types.KindValidation, "session not found"},
		{"participant creates room", "alice", types.EventSessionCreateRoom, map[string]string{"sessionCode": code, "roomType": "poll", "widgetId": "p1"}, types.KindAuthorization, ""},
		{"participant resets", "alice", types.EventActivityReset, map[string]string{"sessionCode": code, "widgetId": "w1"}, types.KindAuthorization, ""},
		{"unknown widget", "alice", types.EventActivitySubmit, map[string]interface{}{"sessionCode": code, "widgetId": "nope", "answers": map[string]interface{}{}}, types.KindValidation, "room not found"},
		{"stranger submits", "bob", types.EventActivitySubmit, map[string]interface{}{"sessionCode": code, "widgetId": "w1", "answers": map[string]interface{}{}}, types.KindAuthorization, "not a participant"},
		{"stranger requests state", "bob", types.EventActivityRequestState, map[string]string{"sessionCode": code, "widgetId": "w1"}, types.KindAuthorization, ""},
		{"bad payload", "host", types.EventSessionCreateRoom, map[string]string{"sessionCode": code, "roomType": "timer", "widgetId": "x"}, types.KindValidation, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := ackOf(t, tr.send(tt.conn, tt.event, tt.data))
			if ack.Success {
				t.Fatal("Expected failure")
			}
			if ack.Kind != string(tt.wantKind) {
				t.Errorf("Expected kind %s, got %s (%s)", tt.wantKind, ack.Kind, ack.Error)
			}
			if tt.wantErr != "" && ack.Error != tt.wantErr {
				t.Errorf("Expected error %q, got %q", tt.wantErr, ack.Error)
			}
		})
	}
}

func TestRouter_SubmitFlow(t *testing.T) {
	tr := newTestRouter(t, 0)
	code := tr.classroom(t)

	body := tr.mustSucceed(t, "alice", types.EventActivitySubmit, map[string]interface{}{
		"sessionCode": code,
		"widgetId":    "w1",
		"answers": map[string]interface{}{
			"placements": []map[string]string{{"itemId": "item-0", "targetId": "blank-0"}, {"itemId": "item-1", "targetId": "blank-1"}},
		},
	})
	submit := body.(types.SubmitAck)
	if submit.Results == nil || *submit.Results != (types.ActivityResults{Score: 2, Total: 2}) {
		t.Errorf("Expected 2/2, got %+v", submit.Results)
	}
	if tr.out.count("alice", types.EventActivityFeedback) != 1 {
		t.Error("Expected feedback to the submitter")
	}
	if tr.out.count("host", types.EventActivityResponseReceived) != 1 {
		t.Error("Expected responseReceived to the host")
	}

	select {
	case record := <-tr.journal.submissions:
		if record.SessionCode != code || record.DisplayName != "Alice" || record.Score != 2 {
			t.Errorf("Unexpected journal record: %+v", record)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Submission was not journaled")
	}

	state := tr.mustSucceed(t, "alice", types.EventActivityRequestState, map[string]string{"sessionCode": code, "widgetId": "w1"}).(ActivityStateAck)
	if state.Results == nil || state.Results.Score != 2 || state.ResponseCount != nil {
		t.Errorf("Unexpected participant state: %+v", state.ActivityView)
	}

	tr.mustSucceed(t, "alice", types.EventActivityRetry, map[string]string{"sessionCode": code, "widgetId": "w1"})
	state = tr.mustSucceed(t, "host", types.EventActivityRequestState, map[string]string{"sessionCode": code, "widgetId": "w1"}).(ActivityStateAck)
	if state.ResponseCount == nil || *state.ResponseCount != 0 {
		t.Errorf("Expected response count 0 after retry, got %v", state.ResponseCount)
	}
}

func TestRouter_PauseGate(t *testing.T) {
	tr := newTestRouter(t, 0)
	code := tr.classroom(t)
	tr.mustSucceed(t, "host", types.EventSessionUpdateWidgetState, map[string]interface{}{
		"sessionCode": code, "roomType": "activity", "widgetId": "w1", "isActive": false,
	})

	ack := ackOf(t, tr.send("alice", types.EventActivitySubmit, map[string]interface{}{
		"sessionCode": code, "widgetId": "w1", "answers": map[string]interface{}{},
	}))
	if ack.Success || ack.Error != "activity is paused" || ack.Kind != string(types.KindState) {
		t.Errorf("Expected paused state error, got %+v", ack)
	}
}

func TestRouter_RoomLifecycle(t *testing.T) {
	tr := newTestRouter(t, 0)
	code := tr.classroom(t)

	again := tr.mustSucceed(t, "host", types.EventSessionCreateRoom, map[string]string{"sessionCode": code, "roomType": "activity", "widgetId": "w1"}).(types.RoomAck)
	if !again.IsExisting {
		t.Error("Second createRoom should reference the existing room")
	}
	if n := tr.out.count("alice", types.EventRoomCreated); n != 1 {
		t.Errorf("Expected a single roomCreated broadcast, got %d", n)
	}

	tr.mustSucceed(t, "host", types.EventSessionCreateRoom, map[string]string{"sessionCode": code, "roomType": "questions", "widgetId": "q1"})
	cleanup := tr.mustSucceed(t, "host", types.EventSessionCleanupRooms, map[string]interface{}{"sessionCode": code, "activeWidgetIds": []string{"w1"}}).(types.CleanupRoomsAck)
	if len(cleanup.Closed) != 1 || cleanup.Closed[0].WidgetID != "q1" {
		t.Errorf("Expected q1 to be cleaned up, got %+v", cleanup.Closed)
	}

	closed := tr.mustSucceed(t, "host", types.EventSessionCloseRoom, map[string]string{"sessionCode": code, "roomType": "questions", "widgetId": "q1"}).(types.CloseRoomAck)
	if closed.Closed {
		t.Error("Closing an already-closed room should be a no-op")
	}
}

func TestRouter_OtherRooms(t *testing.T) {
	tr := newTestRouter(t, 0)
	code := tr.classroom(t)
	ref := func(widgetID string, extra map[string]interface{}) map[string]interface{} {
		data := map[string]interface{}{"sessionCode": code, "widgetId": widgetID}
		for k, v := range extra {
			data[k] = v
		}
		return data
	}
	open := func(roomType, widgetID string) {
		tr.mustSucceed(t, "host", types.EventSessionCreateRoom, map[string]string{"sessionCode": code, "roomType": roomType, "widgetId": widgetID})
		tr.mustSucceed(t, "host", types.EventSessionUpdateWidgetState, map[string]interface{}{"sessionCode": code, "roomType": roomType, "widgetId": widgetID, "isActive": true})
	}

	open("poll", "p1")
	tr.mustSucceed(t, "host", types.EventPollUpdate, ref("p1", map[string]interface{}{"question": "Tabs?", "options": []string{"yes", "no"}}))
	tr.mustSucceed(t, "alice", types.EventPollVote, ref("p1", map[string]interface{}{"optionIndex": 1}))
	if ack := ackOf(t, tr.send("alice", types.EventPollVote, ref("p1", map[string]interface{}{"optionIndex": 5}))); ack.Success {
		t.Error("Out of range vote should fail")
	}

	open("linkShare", "l1")
	link := tr.mustSucceed(t, "alice", types.EventLinkShareSubmit, ref("l1", map[string]interface{}{"url": "https://go.dev"})).(LinkAck)
	tr.mustSucceed(t, "host", types.EventLinkShareDelete, ref("l1", map[string]interface{}{"submissionId": link.Submission.ID}))

	open("rtfeedback", "f1")
	tr.mustSucceed(t, "alice", types.EventRTFeedbackSubmit, ref("f1", map[string]interface{}{"value": 4}))
	if tr.out.count("host", types.EventRTFeedbackUpdate) == 0 {
		t.Error("Host should get feedback updates")
	}
	tr.mustSucceed(t, "host", types.EventRTFeedbackReset, ref("f1", nil))

	open("questions", "q1")
	tr.mustSucceed(t, "alice", types.EventSessionJoinRoom, map[string]string{"sessionCode": code, "roomType": "questions", "widgetId": "q1"})
	question := tr.mustSucceed(t, "alice", types.EventQuestionsAsk, ref("q1", map[string]interface{}{"text": "Why Go?"})).(QuestionAck)
	tr.mustSucceed(t, "host", types.EventQuestionsMarkAnswered, ref("q1", map[string]interface{}{"questionId": question.Question.ID}))
	if tr.out.count("alice", types.EventQuestionsStateUpdate) < 2 {
		t.Error("Subscribed participant should see question updates")
	}
	tr.mustSucceed(t, "host", types.EventQuestionsClear, ref("q1", nil))

	// A poll event aimed at a questions widget finds no poll room
	if ack := ackOf(t, tr.send("host", types.EventPollReset, ref("q1", nil))); ack.Error != "room not found" {
		t.Errorf("Expected room not found, got %+v", ack)
	}
}

func TestRouter_RateLimit(t *testing.T) {
	tr := newTestRouter(t, 2)

	tr.mustSucceed(t, "host", types.EventSessionCreate, nil)
	tr.mustSucceed(t, "host", types.EventSessionCreate, nil)
	ack := ackOf(t, tr.send("host", types.EventSessionCreate, nil))
	if ack.Success || ack.Error != ErrRateLimitExceeded.Error() {
		t.Errorf("Expected rate limit failure, got %+v", ack)
	}

	// Other connections have their own window
	tr.mustSucceed(t, "other", types.EventSessionCreate, nil)

	tr.HandleDisconnect("host")
	tr.mustSucceed(t, "host", types.EventSessionCreate, nil)
}

func TestRouter_HandleDisconnectAndClose(t *testing.T) {
	tr := newTestRouter(t, 0)
	code := tr.classroom(t)

	tr.HandleDisconnect("alice")
	s, err := tr.sessions.GetSession(code)
	if err != nil {
		t.Fatalf("Session should survive a participant leaving: %v", err)
	}
	if s.ParticipantCount() != 0 {
		t.Error("Expected participant removed on disconnect")
	}

	tr.mustSucceed(t, "host", types.EventSessionClose, map[string]string{"sessionCode": code})
	if _, err := tr.sessions.GetSession(code); err != session.ErrSessionNotFound {
		t.Errorf("Expected session to be closed, got %v", err)
	}
}

func TestRouter_CancelledContext(t *testing.T) {
	tr := newTestRouter(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ack := ackOf(t, tr.Route(ctx, "host", &types.Envelope{Event: types.EventSessionCreate}))
	if ack.Success {
		t.Error("A cancelled context should reject the event")
	}
	if tr.sessions.Count() != 0 {
		t.Error("No session should be created")
	}
}
