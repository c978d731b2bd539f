package types

import (
	"encoding/json"
	"time"
)

// Room type discriminators
// ARCHITECTURAL DISCOVERY: Room identity is (room type, widget id) so two
// polls on the same board never share state
const (
	RoomTypeActivity   = "activity"
	RoomTypePoll       = "poll"
	RoomTypeLinkShare  = "linkShare"
	RoomTypeRTFeedback = "rtfeedback"
	RoomTypeQuestions  = "questions"
)

// Evaluation modes for text answers
const (
	EvaluationExact              = "exact"
	EvaluationWhitespaceFlexible = "whitespace-flexible"
)

// Envelope is the inbound wire frame: a named event, an optional
// acknowledgement id and an event-specific payload
type Envelope struct {
	Event string          `json:"event"`
	AckID *int64          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is a server push (broadcast or direct)
type Outbound struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// AckFrame answers an Envelope that carried an AckID
type AckFrame struct {
	Event string      `json:"event"`
	AckID int64       `json:"ackId"`
	Data  interface{} `json:"data"`
}

// Ack is the common acknowledgement shape; operations embed it and add
// their own result fields
type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// Item is a candidate answer token
type Item struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Target is a blank to be filled
type Target struct {
	ID             string   `json:"id"`
	Accepts        []string `json:"accepts"`
	EvaluationMode string   `json:"evaluationMode,omitempty"`
}

// ActivityDefinition is authored by the settings editor and consumed
// verbatim. UIRecipe is opaque and only round-tripped.
type ActivityDefinition struct {
	Type     string          `json:"type"`
	Items    []Item          `json:"items"`
	Targets  []Target        `json:"targets"`
	UIRecipe json.RawMessage `json:"uiRecipe,omitempty"`
}

// Placement pairs a dragged item with a blank
type Placement struct {
	ItemID   string `json:"itemId"`
	TargetID string `json:"targetId"`
}

// StudentAnswers is one submission attempt
type StudentAnswers struct {
	Placements []Placement       `json:"placements,omitempty"`
	TextInputs map[string]string `json:"textInputs,omitempty"`
}

// ActivityResults is derived from a stored answer and never stored itself
type ActivityResults struct {
	Score int `json:"score"`
	Total int `json:"total"`
}

// CorrectAnswer is what a revealed blank expects
type CorrectAnswer struct {
	ItemID  string `json:"itemId"`
	Content string `json:"content"`
}

// RoomInfo describes a live room without its type-specific payload
type RoomInfo struct {
	RoomType  string    `json:"roomType"`
	WidgetID  string    `json:"widgetId"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// ParticipantInfo is the public view of one joined student
type ParticipantInfo struct {
	ConnectionID string    `json:"connectionId"`
	DisplayName  string    `json:"displayName"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// SessionInfo is a point-in-time snapshot of one session
type SessionInfo struct {
	Code             string            `json:"code"`
	CreatedAt        time.Time         `json:"createdAt"`
	HostConnected    bool              `json:"hostConnected"`
	ParticipantCount int               `json:"participantCount"`
	Participants     []ParticipantInfo `json:"participants,omitempty"`
	Rooms            []RoomInfo        `json:"rooms"`
}

// SubmissionRecord is one journaled activity submission
type SubmissionRecord struct {
	ID           string    `json:"id" db:"id"`
	SessionCode  string    `json:"sessionCode" db:"session_code"`
	WidgetID     string    `json:"widgetId" db:"widget_id"`
	ConnectionID string    `json:"connectionId" db:"connection_id"`
	DisplayName  string    `json:"displayName" db:"display_name"`
	Score        int       `json:"score" db:"score"`
	Total        int       `json:"total" db:"total"`
	SubmittedAt  time.Time `json:"submittedAt" db:"submitted_at"`
}

// SessionRecord is the journaled lifecycle of one session
type SessionRecord struct {
	Code        string     `json:"code" db:"code"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	ClosedAt    *time.Time `json:"closedAt,omitempty" db:"closed_at"`
	CloseReason string     `json:"closeReason,omitempty" db:"close_reason"`
}
