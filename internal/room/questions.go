package room

import (
	"time"

	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// Question is one participant question
type Question struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connectionId"`
	DisplayName  string    `json:"displayName"`
	Text         string    `json:"text"`
	Answered     bool      `json:"answered"`
	AskedAt      time.Time `json:"askedAt"`
}

// QuestionsState is pushed to the whole room on every change
type QuestionsState struct {
	WidgetID  string     `json:"widgetId"`
	IsActive  bool       `json:"isActive"`
	Questions []Question `json:"questions"`
}

// Questions is an ordered question board
type Questions struct {
	base
	questions []*Question
	newID     func() string
	now       func() time.Time
}

func newQuestions(b base, newID func() string) *Questions {
	return &Questions{base: b, newID: newID, now: time.Now}
}

func (q *Questions) ResponseCount() int { return len(q.questions) }

func (q *Questions) SetActive(active bool, em Emitter) {
	q.active = active
	q.broadcastState(em)
}

func (q *Questions) Ask(m Member, text string, em Emitter) (Question, error) {
	if err := q.openFor(m); err != nil {
		return Question{}, err
	}
	question := &Question{
		ID:           q.newID(),
		ConnectionID: m.ConnectionID,
		DisplayName:  m.DisplayName,
		Text:         text,
		AskedAt:      q.now(),
	}
	q.questions = append(q.questions, question)
	q.broadcastState(em)
	return *question, nil
}

func (q *Questions) MarkAnswered(questionID string, em Emitter) error {
	for _, question := range q.questions {
		if question.ID == questionID {
			question.Answered = true
			q.broadcastState(em)
			return nil
		}
	}
	return ErrQuestionNotFound
}

func (q *Questions) Delete(questionID string, em Emitter) error {
	for i, question := range q.questions {
		if question.ID == questionID {
			q.questions = append(q.questions[:i], q.questions[i+1:]...)
			q.broadcastState(em)
			return nil
		}
	}
	return ErrQuestionNotFound
}

func (q *Questions) Clear(em Emitter) {
	q.questions = nil
	q.broadcastState(em)
}

func (q *Questions) State(_ Member) interface{} { return q.snapshot() }

func (q *Questions) snapshot() QuestionsState {
	state := QuestionsState{
		WidgetID:  q.key.WidgetID,
		IsActive:  q.active,
		Questions: make([]Question, 0, len(q.questions)),
	}
	for _, question := range q.questions {
		state.Questions = append(state.Questions, *question)
	}
	return state
}

func (q *Questions) broadcastState(em Emitter) {
	em.ToRoom(types.EventQuestionsStateUpdate, q.snapshot())
}
