package types

import "time"

// OK is the bare success acknowledgement
func OK() Ack { return Ack{Success: true} }

// Failure turns an error into an acknowledgement. Unclassified errors are
// reported generically so internals do not leak onto the wire.
func Failure(err error) Ack {
	kind := KindOf(err)
	msg := err.Error()
	if kind == KindInternal {
		msg = "internal server error"
	}
	return Ack{Success: false, Error: msg, Kind: string(kind)}
}

// RoomKey names a room without its state
type RoomKey struct {
	RoomType string `json:"roomType"`
	WidgetID string `json:"widgetId"`
}

// CreateSessionAck answers session:create. Rooms is the recovery snapshot
// of a rejoined session and is empty for a fresh one.
type CreateSessionAck struct {
	Ack
	SessionCode string     `json:"sessionCode,omitempty"`
	IsExisting  bool       `json:"isExisting"`
	CreatedAt   time.Time  `json:"createdAt,omitempty"`
	Rooms       []RoomInfo `json:"rooms,omitempty"`
}

// JoinSessionAck answers session:join
type JoinSessionAck struct {
	Ack
	SessionCode      string     `json:"sessionCode,omitempty"`
	ParticipantCount int        `json:"participantCount"`
	Rooms            []RoomInfo `json:"rooms,omitempty"`
}

// RoomAck answers createRoom and updateWidgetState
type RoomAck struct {
	Ack
	Room       *RoomInfo `json:"room,omitempty"`
	IsExisting bool      `json:"isExisting"`
}

// CloseRoomAck reports whether a room was actually removed
type CloseRoomAck struct {
	Ack
	Closed bool `json:"closed"`
}

// CleanupRoomsAck lists the orphan rooms that were closed
type CleanupRoomsAck struct {
	Ack
	Closed []RoomKey `json:"closed"`
}

// StateAck carries a room view back to the caller
type StateAck struct {
	Ack
	State interface{} `json:"state,omitempty"`
}

// SubmitAck answers session:activity:submit
type SubmitAck struct {
	Ack
	Results *ActivityResults `json:"results,omitempty"`
}
