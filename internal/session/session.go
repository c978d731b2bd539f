package session

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/tinkertanker/classroom-widgets-sub001/internal/room"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/interfaces"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// Close reasons
const (
	ReasonClosedByHost = "closed by host"
	ReasonExpired      = "expired"
	ReasonShutdown     = "server shutting down"
)

// ParticipantUpdate is pushed session-wide whenever the roster changes.
// Only the host receives the names.
type ParticipantUpdate struct {
	SessionCode  string                  `json:"sessionCode"`
	Count        int                     `json:"count"`
	Participants []types.ParticipantInfo `json:"participants,omitempty"`
}

// RoomEvent announces a room lifecycle change to the session
type RoomEvent struct {
	SessionCode string `json:"sessionCode"`
	types.RoomInfo
}

// ClosedEvent tells everyone the session is gone
type ClosedEvent struct {
	SessionCode string `json:"sessionCode"`
	Reason      string `json:"reason"`
}

type participant struct {
	displayName string
	joinedAt    time.Time
}

// Session is one live classroom. Every method takes the session lock, so
// a whole read-modify-broadcast sequence on one session never interleaves
// with another. Broadcasts go through a non-blocking Broadcaster.
type Session struct {
	mu sync.Mutex

	code             string
	createdAt        time.Time
	hostConnectionID string
	hostConnected    bool
	closed           bool

	participants map[string]*participant
	rooms        map[room.Key]room.Room
	subscribers  map[room.Key]map[string]bool

	out interfaces.Broadcaster
	now func() time.Time
}

func newSession(code, hostConnectionID string, out interfaces.Broadcaster, now func() time.Time) *Session {
	return &Session{
		code:             code,
		createdAt:        now(),
		hostConnectionID: hostConnectionID,
		hostConnected:    true,
		participants:     make(map[string]*participant),
		rooms:            make(map[room.Key]room.Room),
		subscribers:      make(map[room.Key]map[string]bool),
		out:              out,
		now:              now,
	}
}

func (s *Session) Code() string         { return s.code }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) HostConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostConnectionID
}

func (s *Session) IsHost(connectionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isHost(connectionID)
}

// AddParticipant is idempotent: a connection that already joined keeps its
// original name and join time, and the count is re-announced
func (s *Session) AddParticipant(connectionID, displayName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSessionNotFound
	}

	if _, exists := s.participants[connectionID]; !exists {
		s.participants[connectionID] = &participant{displayName: displayName, joinedAt: s.now()}
		log.Printf("Participant joined: session=%s conn=%s name=%q", s.code, connectionID, displayName)
	}
	s.announceParticipants()
	return len(s.participants), nil
}

// RemoveParticipant drops the connection from the roster and from every
// room subscription. Rooms themselves stay open.
func (s *Session) RemoveParticipant(connectionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeParticipant(connectionID)
}

func (s *Session) removeParticipant(connectionID string) bool {
	if _, exists := s.participants[connectionID]; !exists {
		return false
	}
	delete(s.participants, connectionID)
	for key, subs := range s.subscribers {
		delete(subs, connectionID)
		if feedback, ok := s.rooms[key].(*room.RTFeedback); ok {
			feedback.Forget(connectionID, s.emitterFor(key))
		}
	}
	log.Printf("Participant left: session=%s conn=%s remaining=%d", s.code, connectionID, len(s.participants))
	s.announceParticipants()
	return true
}

func (s *Session) ParticipantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

// CreateRoom is idempotent under retried delivery: an existing room is
// returned as-is with created=false and nothing is re-announced
func (s *Session) CreateRoom(connectionID string, key room.Key) (types.RoomInfo, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorizeHost(connectionID); err != nil {
		return types.RoomInfo{}, false, err
	}

	if existing, ok := s.rooms[key]; ok {
		return existing.Info(), false, nil
	}

	r, err := room.New(key, s.now())
	if err != nil {
		return types.RoomInfo{}, false, err
	}
	s.rooms[key] = r
	s.subscribers[key] = make(map[string]bool)

	log.Printf("Created room: session=%s type=%s widget=%s", s.code, key.Type, key.WidgetID)
	s.emitSession(types.EventRoomCreated, RoomEvent{SessionCode: s.code, RoomInfo: r.Info()})
	return r.Info(), true, nil
}

// CloseRoom succeeds without effect when the room is already gone
func (s *Session) CloseRoom(connectionID string, key room.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorizeHost(connectionID); err != nil {
		return false, err
	}
	return s.closeRoom(key), nil
}

func (s *Session) closeRoom(key room.Key) bool {
	r, ok := s.rooms[key]
	if !ok {
		return false
	}
	info := r.Info()
	// Subscribers are notified before they are dropped
	s.emitSession(types.EventRoomClosed, RoomEvent{SessionCode: s.code, RoomInfo: info})
	delete(s.rooms, key)
	delete(s.subscribers, key)
	log.Printf("Closed room: session=%s type=%s widget=%s", s.code, key.Type, key.WidgetID)
	return true
}

// CleanupRooms closes every room whose widget is not in activeWidgetIDs
// and returns the keys it closed
func (s *Session) CleanupRooms(connectionID string, activeWidgetIDs []string) ([]room.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorizeHost(connectionID); err != nil {
		return nil, err
	}

	keep := make(map[string]bool, len(activeWidgetIDs))
	for _, id := range activeWidgetIDs {
		keep[id] = true
	}

	var orphans []room.Key
	for key := range s.rooms {
		if !keep[key.WidgetID] {
			orphans = append(orphans, key)
		}
	}
	sortKeys(orphans)
	for _, key := range orphans {
		s.closeRoom(key)
	}
	if len(orphans) > 0 {
		log.Printf("Cleaned up orphan rooms: session=%s closed=%d", s.code, len(orphans))
	}
	return orphans, nil
}

// GetRoom looks a room up without authorization, for read paths
func (s *Session) GetRoom(key room.Key) (room.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[key]
	return r, ok
}

// SetRoomActive starts or pauses a room and tells the whole session
func (s *Session) SetRoomActive(connectionID string, key room.Key, active bool) (types.RoomInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorizeHost(connectionID); err != nil {
		return types.RoomInfo{}, err
	}
	r, ok := s.rooms[key]
	if !ok {
		return types.RoomInfo{}, ErrRoomNotFound
	}

	r.SetActive(active, s.emitterFor(key))
	s.emitSession(types.EventWidgetStateChanged, RoomEvent{SessionCode: s.code, RoomInfo: r.Info()})
	return r.Info(), nil
}

// JoinRoom subscribes a member to room-wide pushes and returns what that
// member is allowed to see of the room
func (s *Session) JoinRoom(connectionID string, key room.Key) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionNotFound
	}
	member := s.member(connectionID)
	if !member.IsHost && !member.IsParticipant {
		return nil, ErrNotMember
	}
	r, ok := s.rooms[key]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if !member.IsHost {
		s.subscribers[key][connectionID] = true
	}
	return r.State(member), nil
}

func (s *Session) LeaveRoom(connectionID string, key room.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subs, ok := s.subscribers[key]; ok {
		delete(subs, connectionID)
	}
}

// WithHostRoom runs fn on a room after checking the caller is the host
func (s *Session) WithHostRoom(connectionID string, key room.Key, fn func(r room.Room, em room.Emitter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorizeHost(connectionID); err != nil {
		return err
	}
	r, ok := s.rooms[key]
	if !ok {
		return ErrRoomNotFound
	}
	return fn(r, s.emitterFor(key))
}

// WithMemberRoom runs fn on a room for any connection. The room decides
// what a non-participant may do.
func (s *Session) WithMemberRoom(connectionID string, key room.Key, fn func(r room.Room, m room.Member, em room.Emitter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionNotFound
	}
	r, ok := s.rooms[key]
	if !ok {
		return ErrRoomNotFound
	}
	return fn(r, s.member(connectionID), s.emitterFor(key))
}

// Snapshot is a point-in-time copy safe to hand to other goroutines
func (s *Session) Snapshot(withParticipants bool) types.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(withParticipants)
}

func (s *Session) snapshot(withParticipants bool) types.SessionInfo {
	info := types.SessionInfo{
		Code:             s.code,
		CreatedAt:        s.createdAt,
		HostConnected:    s.hostConnected,
		ParticipantCount: len(s.participants),
		Rooms:            make([]types.RoomInfo, 0, len(s.rooms)),
	}
	for _, r := range s.rooms {
		info.Rooms = append(info.Rooms, r.Info())
	}
	sort.Slice(info.Rooms, func(i, j int) bool {
		if info.Rooms[i].RoomType != info.Rooms[j].RoomType {
			return info.Rooms[i].RoomType < info.Rooms[j].RoomType
		}
		return info.Rooms[i].WidgetID < info.Rooms[j].WidgetID
	})
	if withParticipants {
		info.Participants = s.participantList()
	}
	return info
}

// reassignHost points the session at a new host connection on rejoin.
// A connection already in the roster is a student and never becomes host.
func (s *Session) reassignHost(connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, isParticipant := s.participants[connectionID]; isParticipant {
		log.Printf("Refused host takeover: session=%s conn=%s", s.code, connectionID)
		return ErrNotHost
	}
	if s.hostConnectionID != connectionID {
		log.Printf("Host reassigned: session=%s old=%s new=%s", s.code, s.hostConnectionID, connectionID)
	}
	s.hostConnectionID = connectionID
	s.hostConnected = true
	return nil
}

// disconnect applies a dropped connection to this session. A departing
// host leaves the session alive for recovery.
func (s *Session) disconnect(connectionID string) (wasHost, wasParticipant bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	if s.hostConnectionID == connectionID && s.hostConnected {
		s.hostConnected = false
		wasHost = true
		log.Printf("Host disconnected: session=%s conn=%s", s.code, connectionID)
	}
	wasParticipant = s.removeParticipant(connectionID)
	return wasHost, wasParticipant
}

// close broadcasts the end of the session and drops every room
func (s *Session) close(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.emitSession(types.EventSessionClosed, ClosedEvent{SessionCode: s.code, Reason: reason})
	s.closed = true
	s.rooms = make(map[room.Key]room.Room)
	s.subscribers = make(map[room.Key]map[string]bool)
	s.participants = make(map[string]*participant)
}

func (s *Session) isHost(connectionID string) bool {
	return connectionID != "" && connectionID == s.hostConnectionID
}

func (s *Session) authorizeHost(connectionID string) error {
	if s.closed {
		return ErrSessionNotFound
	}
	if !s.isHost(connectionID) {
		return ErrNotHost
	}
	return nil
}

func (s *Session) member(connectionID string) room.Member {
	m := room.Member{ConnectionID: connectionID, IsHost: s.isHost(connectionID)}
	if p, ok := s.participants[connectionID]; ok {
		m.IsParticipant = true
		m.DisplayName = p.displayName
	}
	return m
}

func (s *Session) participantList() []types.ParticipantInfo {
	list := make([]types.ParticipantInfo, 0, len(s.participants))
	for id, p := range s.participants {
		list = append(list, types.ParticipantInfo{ConnectionID: id, DisplayName: p.displayName, JoinedAt: p.joinedAt})
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].JoinedAt.Before(list[j].JoinedAt)
		}
		return list[i].ConnectionID < list[j].ConnectionID
	})
	return list
}

func (s *Session) announceParticipants() {
	count := len(s.participants)
	s.emitHost(types.EventParticipantUpdate, ParticipantUpdate{
		SessionCode:  s.code,
		Count:        count,
		Participants: s.participantList(),
	})
	for id := range s.participants {
		s.out.Emit(id, types.EventParticipantUpdate, ParticipantUpdate{SessionCode: s.code, Count: count})
	}
}

func (s *Session) emitHost(event string, payload interface{}) {
	if s.hostConnected {
		s.out.Emit(s.hostConnectionID, event, payload)
	}
}

// emitSession reaches the host and every participant
func (s *Session) emitSession(event string, payload interface{}) {
	s.emitHost(event, payload)
	for id := range s.participants {
		if id != s.hostConnectionID {
			s.out.Emit(id, event, payload)
		}
	}
}

func (s *Session) emitterFor(key room.Key) room.Emitter {
	return roomEmitter{session: s, key: key}
}

// roomEmitter scopes room pushes to one room's audience. Its methods are
// only called with the session lock held.
type roomEmitter struct {
	session *Session
	key     room.Key
}

func (e roomEmitter) ToConnection(connectionID string, event string, payload interface{}) {
	e.session.out.Emit(connectionID, event, payload)
}

func (e roomEmitter) ToHost(event string, payload interface{}) {
	e.session.emitHost(event, payload)
}

func (e roomEmitter) ToRoom(event string, payload interface{}) {
	e.session.emitHost(event, payload)
	for id := range e.session.subscribers[e.key] {
		if id != e.session.hostConnectionID {
			e.session.out.Emit(id, event, payload)
		}
	}
}

func sortKeys(keys []room.Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].WidgetID != keys[j].WidgetID {
			return keys[i].WidgetID < keys[j].WidgetID
		}
		return keys[i].Type < keys[j].Type
	})
}
