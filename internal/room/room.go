// Package room holds the per-widget live state of a session. Rooms are
// not safe for concurrent use: the owning session serialises every call
// under its own lock, and host authorization is decided there too.
package room

import (
	"time"

	"github.com/google/uuid"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// Key identifies a room within a session
type Key struct {
	Type     string
	WidgetID string
}

// Emitter delivers room events. Implementations never block.
type Emitter interface {
	// ToConnection pushes to a single connection
	ToConnection(connectionID string, event string, payload interface{})
	// ToHost pushes to the session host only
	ToHost(event string, payload interface{})
	// ToRoom pushes to the host and every connection subscribed to the room
	ToRoom(event string, payload interface{})
}

// Member is the connection issuing a room operation
type Member struct {
	ConnectionID  string
	DisplayName   string
	IsHost        bool
	IsParticipant bool
}

// Room is the behaviour common to every widget room
type Room interface {
	Key() Key
	Info() types.RoomInfo
	IsActive() bool
	// SetActive toggles participant-facing actions; type-specific state
	// pushes are emitted by the room itself
	SetActive(active bool, em Emitter)
	// ResponseCount counts stored participant responses
	ResponseCount() int
	// State is what a member sees when subscribing to the room
	State(m Member) interface{}
}

// New builds an empty, inactive room of the given type
func New(key Key, now time.Time) (Room, error) {
	b := base{key: key, createdAt: now}
	switch key.Type {
	case types.RoomTypeActivity:
		return newActivity(b), nil
	case types.RoomTypePoll:
		return newPoll(b), nil
	case types.RoomTypeLinkShare:
		return newLinkShare(b, uuid.NewString), nil
	case types.RoomTypeRTFeedback:
		return newRTFeedback(b), nil
	case types.RoomTypeQuestions:
		return newQuestions(b, uuid.NewString), nil
	default:
		return nil, ErrUnknownRoomType
	}
}

// base carries the fields every room shares
type base struct {
	key       Key
	active    bool
	createdAt time.Time
}

func (b *base) Key() Key       { return b.key }
func (b *base) IsActive() bool { return b.active }

func (b *base) Info() types.RoomInfo {
	return types.RoomInfo{
		RoomType:  b.key.Type,
		WidgetID:  b.key.WidgetID,
		IsActive:  b.active,
		CreatedAt: b.createdAt,
	}
}

// openFor enforces the participant gate shared by every submit-style action
func (b *base) openFor(m Member) error {
	if !b.active {
		return ErrPaused
	}
	if !m.IsParticipant {
		return ErrNotParticipant
	}
	return nil
}
