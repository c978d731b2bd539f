package types

import (
	"bytes"
	"encoding/json"
)

// Payload is the closed set of inbound event bodies. Every payload is
// validated (and normalised) at the boundary before entity code sees it.
type Payload interface {
	Validate() error
}

// SessionScoped payloads name the session they address
type SessionScoped interface {
	Payload
	SessionCode() string
}

type CreateSessionPayload struct {
	ExistingCode string `json:"existingCode,omitempty"`
}

type JoinSessionPayload struct {
	Code string `json:"sessionCode"`
	Name string `json:"name"`
}

// SessionRef addresses a whole session (leave, close)
type SessionRef struct {
	Code string `json:"sessionCode"`
}

// RoomRef addresses one room by type and widget id
type RoomRef struct {
	Code     string `json:"sessionCode"`
	RoomType string `json:"roomType"`
	WidgetID string `json:"widgetId"`
}

type CleanupRoomsPayload struct {
	Code            string   `json:"sessionCode"`
	ActiveWidgetIDs []string `json:"activeWidgetIds"`
}

type WidgetStatePayload struct {
	RoomRef
	IsActive *bool `json:"isActive"`
}

// WidgetRef addresses a room whose type is implied by the event name
type WidgetRef struct {
	Code     string `json:"sessionCode"`
	WidgetID string `json:"widgetId"`
}

type ActivityUpdatePayload struct {
	WidgetRef
	Activity   *ActivityDefinition `json:"activity"`
	AllowRetry *bool               `json:"allowRetry,omitempty"`
}

type ActivitySubmitPayload struct {
	WidgetRef
	Answers StudentAnswers `json:"answers"`
}

type ActivityRevealPayload struct {
	WidgetRef
	Show bool `json:"show"`
}

type PollUpdatePayload struct {
	WidgetRef
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type PollVotePayload struct {
	WidgetRef
	OptionIndex *int `json:"optionIndex"`
}

type LinkSubmitPayload struct {
	WidgetRef
	URL string `json:"url"`
}

type LinkDeletePayload struct {
	WidgetRef
	SubmissionID string `json:"submissionId"`
}

type FeedbackPayload struct {
	WidgetRef
	Value int `json:"value"`
}

type QuestionAskPayload struct {
	WidgetRef
	Text string `json:"text"`
}

type QuestionRefPayload struct {
	WidgetRef
	QuestionID string `json:"questionId"`
}

func (p *JoinSessionPayload) SessionCode() string  { return p.Code }
func (p *SessionRef) SessionCode() string          { return p.Code }
func (p *RoomRef) SessionCode() string             { return p.Code }
func (p *CleanupRoomsPayload) SessionCode() string { return p.Code }
func (p *WidgetRef) SessionCode() string           { return p.Code }

// payloadFactories maps every client event to its payload shape
var payloadFactories = map[string]func() Payload{
	EventSessionCreate:            func() Payload { return &CreateSessionPayload{} },
	EventSessionJoin:              func() Payload { return &JoinSessionPayload{} },
	EventSessionLeave:             func() Payload { return &SessionRef{} },
	EventSessionClose:             func() Payload { return &SessionRef{} },
	EventSessionCreateRoom:        func() Payload { return &RoomRef{} },
	EventSessionCloseRoom:         func() Payload { return &RoomRef{} },
	EventSessionJoinRoom:          func() Payload { return &RoomRef{} },
	EventSessionLeaveRoom:         func() Payload { return &RoomRef{} },
	EventSessionCleanupRooms:      func() Payload { return &CleanupRoomsPayload{} },
	EventSessionUpdateWidgetState: func() Payload { return &WidgetStatePayload{} },

	EventActivityUpdate:       func() Payload { return &ActivityUpdatePayload{} },
	EventActivitySubmit:       func() Payload { return &ActivitySubmitPayload{} },
	EventActivityRetry:        func() Payload { return &WidgetRef{} },
	EventActivityReveal:       func() Payload { return &ActivityRevealPayload{} },
	EventActivityReset:        func() Payload { return &WidgetRef{} },
	EventActivityRequestState: func() Payload { return &WidgetRef{} },

	EventPollUpdate: func() Payload { return &PollUpdatePayload{} },
	EventPollVote:   func() Payload { return &PollVotePayload{} },
	EventPollReset:  func() Payload { return &WidgetRef{} },

	EventLinkShareSubmit: func() Payload { return &LinkSubmitPayload{} },
	EventLinkShareDelete: func() Payload { return &LinkDeletePayload{} },

	EventRTFeedbackSubmit: func() Payload { return &FeedbackPayload{} },
	EventRTFeedbackReset:  func() Payload { return &WidgetRef{} },

	EventQuestionsAsk:          func() Payload { return &QuestionAskPayload{} },
	EventQuestionsMarkAnswered: func() Payload { return &QuestionRefPayload{} },
	EventQuestionsDelete:       func() Payload { return &QuestionRefPayload{} },
	EventQuestionsClear:        func() Payload { return &WidgetRef{} },
}

// IsClientEvent reports whether event is part of the inbound surface
func IsClientEvent(event string) bool {
	_, ok := payloadFactories[event]
	return ok
}

// DecodePayload turns the raw data of an inbound envelope into its typed,
// validated payload
func DecodePayload(event string, raw json.RawMessage) (Payload, error) {
	factory, ok := payloadFactories[event]
	if !ok {
		return nil, ErrUnknownEvent
	}
	if len(raw) > maxPayloadBytes {
		return nil, ErrContentTooLarge
	}

	payload := factory()
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, payload); err != nil {
			return nil, ErrMalformedPayload
		}
	}

	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}
