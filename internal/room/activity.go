package room

import (
	"time"

	"github.com/tinkertanker/classroom-widgets-sub001/internal/scoring"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// ActivityState is the room-wide view pushed on activity:stateUpdate
type ActivityState struct {
	WidgetID        string                         `json:"widgetId"`
	Activity        *types.ActivityDefinition      `json:"activity"`
	IsActive        bool                           `json:"isActive"`
	AllowRetry      bool                           `json:"allowRetry"`
	AnswersRevealed bool                           `json:"answersRevealed"`
	ResponseCount   int                            `json:"responseCount"`
	CorrectAnswers  map[string]types.CorrectAnswer `json:"correctAnswers,omitempty"`
}

// ActivityView is what one connection gets back from requestState
type ActivityView struct {
	WidgetID       string                         `json:"widgetId"`
	Activity       *types.ActivityDefinition      `json:"activity"`
	IsActive       bool                           `json:"isActive"`
	AllowRetry     bool                           `json:"allowRetry"`
	HasSubmitted   bool                           `json:"hasSubmitted"`
	Results        *types.ActivityResults         `json:"results"`
	Answers        *types.StudentAnswers          `json:"answers,omitempty"`
	CorrectAnswers map[string]types.CorrectAnswer `json:"correctAnswers,omitempty"`
	ResponseCount  *int                           `json:"responseCount,omitempty"`
}

// FeedbackEvent goes to the submitting participant only
type FeedbackEvent struct {
	WidgetID string                `json:"widgetId"`
	Results  types.ActivityResults `json:"results"`
}

// ResponseReceivedEvent goes to the host only
type ResponseReceivedEvent struct {
	WidgetID      string                `json:"widgetId"`
	ConnectionID  string                `json:"connectionId"`
	DisplayName   string                `json:"displayName"`
	Results       types.ActivityResults `json:"results"`
	ResponseCount int                   `json:"responseCount"`
}

// RevealEvent is broadcast to the room on reveal
type RevealEvent struct {
	WidgetID       string                         `json:"widgetId"`
	Show           bool                           `json:"show"`
	CorrectAnswers map[string]types.CorrectAnswer `json:"correctAnswers,omitempty"`
}

// RetryReadyEvent tells one participant their answer was cleared
type RetryReadyEvent struct {
	WidgetID string                 `json:"widgetId"`
	Results  *types.ActivityResults `json:"results"`
}

type storedAnswer struct {
	answers     types.StudentAnswers
	displayName string
	submittedAt time.Time
}

// Activity is the fill-blank scoring room. States: empty (no definition),
// configured, running (active) and paused; answersRevealed overlays any
// of them.
type Activity struct {
	base
	definition      *types.ActivityDefinition
	responses       map[string]*storedAnswer
	allowRetry      bool
	answersRevealed bool
	now             func() time.Time
}

func newActivity(b base) *Activity {
	return &Activity{
		base:      b,
		responses: make(map[string]*storedAnswer),
		now:       time.Now,
	}
}

// Definition returns the current activity, or nil while empty
func (a *Activity) Definition() *types.ActivityDefinition { return a.definition }
func (a *Activity) AllowRetry() bool                      { return a.allowRetry }
func (a *Activity) AnswersRevealed() bool                 { return a.answersRevealed }
func (a *Activity) ResponseCount() int                    { return len(a.responses) }

// SetActivity replaces the definition. Stored responses survive and are
// rescored against the new definition whenever they are next read.
func (a *Activity) SetActivity(def *types.ActivityDefinition, allowRetry *bool, em Emitter) {
	a.definition = def
	if allowRetry != nil {
		a.allowRetry = *allowRetry
	}
	a.broadcastState(em)
}

func (a *Activity) SetActive(active bool, em Emitter) {
	a.active = active
	a.broadcastState(em)
}

// Submit scores and stores one participant's answer, replacing any prior
// one. The returned results are also pushed to the submitter, and the host
// is told who answered and how they scored.
func (a *Activity) Submit(m Member, answers types.StudentAnswers, em Emitter) (types.ActivityResults, error) {
	if err := a.openFor(m); err != nil {
		return types.ActivityResults{}, err
	}
	if a.definition == nil {
		return types.ActivityResults{}, ErrNoActivity
	}

	results := scoring.Score(a.definition, &answers)
	a.responses[m.ConnectionID] = &storedAnswer{
		answers:     answers,
		displayName: m.DisplayName,
		submittedAt: a.now(),
	}

	em.ToConnection(m.ConnectionID, types.EventActivityFeedback, FeedbackEvent{
		WidgetID: a.key.WidgetID,
		Results:  results,
	})
	em.ToHost(types.EventActivityResponseReceived, ResponseReceivedEvent{
		WidgetID:      a.key.WidgetID,
		ConnectionID:  m.ConnectionID,
		DisplayName:   m.DisplayName,
		Results:       results,
		ResponseCount: len(a.responses),
	})
	return results, nil
}

// Retry clears the participant's stored answer when retries are allowed
func (a *Activity) Retry(m Member, em Emitter) error {
	if !m.IsParticipant {
		return ErrNotParticipant
	}
	if !a.allowRetry {
		return ErrRetryNotAllowed
	}
	delete(a.responses, m.ConnectionID)
	em.ToConnection(m.ConnectionID, types.EventActivityRetryReady, RetryReadyEvent{WidgetID: a.key.WidgetID})
	return nil
}

// Reveal toggles the correct-answer overlay. Stored responses are untouched.
func (a *Activity) Reveal(show bool, em Emitter) {
	a.answersRevealed = show
	event := RevealEvent{WidgetID: a.key.WidgetID, Show: show}
	if show {
		event.CorrectAnswers = scoring.CorrectAnswers(a.definition)
	}
	em.ToRoom(types.EventActivityRevealed, event)
}

// Reset clears every response and hides answers
func (a *Activity) Reset(em Emitter) {
	a.responses = make(map[string]*storedAnswer)
	a.answersRevealed = false
	a.broadcastState(em)
}

// RequestState recomputes the caller's own results from the current
// definition. Other participants' answers are never included.
func (a *Activity) RequestState(m Member) ActivityView {
	view := ActivityView{
		WidgetID:   a.key.WidgetID,
		Activity:   a.definition,
		IsActive:   a.active,
		AllowRetry: a.allowRetry,
	}
	if stored, ok := a.responses[m.ConnectionID]; ok {
		results := scoring.Score(a.definition, &stored.answers)
		answers := stored.answers
		view.HasSubmitted = true
		view.Results = &results
		view.Answers = &answers
	}
	if a.answersRevealed {
		view.CorrectAnswers = scoring.CorrectAnswers(a.definition)
	}
	if m.IsHost {
		count := len(a.responses)
		view.ResponseCount = &count
	}
	return view
}

func (a *Activity) State(m Member) interface{} { return a.RequestState(m) }

func (a *Activity) snapshot() ActivityState {
	state := ActivityState{
		WidgetID:        a.key.WidgetID,
		Activity:        a.definition,
		IsActive:        a.active,
		AllowRetry:      a.allowRetry,
		AnswersRevealed: a.answersRevealed,
		ResponseCount:   len(a.responses),
	}
	if a.answersRevealed {
		state.CorrectAnswers = scoring.CorrectAnswers(a.definition)
	}
	return state
}

func (a *Activity) broadcastState(em Emitter) {
	em.ToRoom(types.EventActivityStateUpdate, a.snapshot())
}
