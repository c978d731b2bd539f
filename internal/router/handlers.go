package router

import (
	"github.com/tinkertanker/classroom-widgets-sub001/internal/metrics"
	"github.com/tinkertanker/classroom-widgets-sub001/internal/room"
	"github.com/tinkertanker/classroom-widgets-sub001/internal/session"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// eventHandlers covers every client event that DecodePayload accepts
var eventHandlers = map[string]handlerFunc{
	types.EventSessionCreate:            handleCreateSession,
	types.EventSessionJoin:              handleJoinSession,
	types.EventSessionLeave:             handleLeaveSession,
	types.EventSessionClose:             handleCloseSession,
	types.EventSessionCreateRoom:        handleCreateRoom,
	types.EventSessionCloseRoom:         handleCloseRoom,
	types.EventSessionJoinRoom:          handleJoinRoom,
	types.EventSessionLeaveRoom:         handleLeaveRoom,
	types.EventSessionCleanupRooms:      handleCleanupRooms,
	types.EventSessionUpdateWidgetState: handleUpdateWidgetState,

	types.EventActivityUpdate:       handleActivityUpdate,
	types.EventActivitySubmit:       handleActivitySubmit,
	types.EventActivityRetry:        handleActivityRetry,
	types.EventActivityReveal:       handleActivityReveal,
	types.EventActivityReset:        handleActivityReset,
	types.EventActivityRequestState: handleActivityRequestState,

	types.EventPollUpdate: handlePollUpdate,
	types.EventPollVote:   handlePollVote,
	types.EventPollReset:  handlePollReset,

	types.EventLinkShareSubmit: handleLinkSubmit,
	types.EventLinkShareDelete: handleLinkDelete,

	types.EventRTFeedbackSubmit: handleFeedbackSubmit,
	types.EventRTFeedbackReset:  handleFeedbackReset,

	types.EventQuestionsAsk:          handleQuestionAsk,
	types.EventQuestionsMarkAnswered: handleQuestionMarkAnswered,
	types.EventQuestionsDelete:       handleQuestionDelete,
	types.EventQuestionsClear:        handleQuestionsClear,
}

// LinkAck answers a link submission
type LinkAck struct {
	types.Ack
	Submission room.LinkSubmission `json:"submission"`
}

// QuestionAck answers a new question
type QuestionAck struct {
	types.Ack
	Question room.Question `json:"question"`
}

// ActivityStateAck flattens the caller's activity view into the ack
type ActivityStateAck struct {
	types.Ack
	room.ActivityView
}

func keyOf(ref *types.RoomRef) room.Key {
	return room.Key{Type: ref.RoomType, WidgetID: ref.WidgetID}
}

func widgetKey(roomType string, ref *types.WidgetRef) room.Key {
	return room.Key{Type: roomType, WidgetID: ref.WidgetID}
}

// typed narrows a room to the variant an event addresses
func typed[T room.Room](r room.Room) (T, error) {
	t, ok := r.(T)
	if !ok {
		var zero T
		return zero, session.ErrRoomNotFound
	}
	return t, nil
}

// withHost runs fn on the host-owned room of type T
func withHost[T room.Room](r *Router, connectionID string, roomType string, ref *types.WidgetRef, fn func(T, room.Emitter) error) error {
	s, err := r.sessions.GetSession(ref.Code)
	if err != nil {
		return err
	}
	return s.WithHostRoom(connectionID, widgetKey(roomType, ref), func(rm room.Room, em room.Emitter) error {
		t, err := typed[T](rm)
		if err != nil {
			return err
		}
		return fn(t, em)
	})
}

// withMember runs fn on a room of type T for any connection
func withMember[T room.Room](r *Router, connectionID string, roomType string, ref *types.WidgetRef, fn func(T, room.Member, room.Emitter) error) error {
	s, err := r.sessions.GetSession(ref.Code)
	if err != nil {
		return err
	}
	return s.WithMemberRoom(connectionID, widgetKey(roomType, ref), func(rm room.Room, m room.Member, em room.Emitter) error {
		t, err := typed[T](rm)
		if err != nil {
			return err
		}
		return fn(t, m, em)
	})
}

// Session lifecycle

func handleCreateSession(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.CreateSessionPayload)
	s, isExisting, err := r.sessions.CreateSession(connectionID, p.ExistingCode)
	if err != nil {
		return nil, err
	}
	info := s.Snapshot(false)
	ack := types.CreateSessionAck{
		Ack:         types.OK(),
		SessionCode: info.Code,
		IsExisting:  isExisting,
		CreatedAt:   info.CreatedAt,
	}
	if isExisting {
		ack.Rooms = info.Rooms
	}
	return ack, nil
}

func handleJoinSession(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.JoinSessionPayload)
	s, err := r.sessions.GetSession(p.Code)
	if err != nil {
		return nil, err
	}
	count, err := s.AddParticipant(connectionID, p.Name)
	if err != nil {
		return nil, err
	}
	return types.JoinSessionAck{
		Ack:              types.OK(),
		SessionCode:      s.Code(),
		ParticipantCount: count,
		Rooms:            s.Snapshot(false).Rooms,
	}, nil
}

func handleLeaveSession(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.SessionRef)
	s, err := r.sessions.GetSession(p.Code)
	if err != nil {
		return nil, err
	}
	s.RemoveParticipant(connectionID)
	return types.OK(), nil
}

func handleCloseSession(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.SessionRef)
	if err := r.sessions.CloseSession(p.Code, connectionID); err != nil {
		return nil, err
	}
	return types.OK(), nil
}

// Room lifecycle

func handleCreateRoom(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.RoomRef)
	s, err := r.sessions.GetSession(p.Code)
	if err != nil {
		return nil, err
	}
	info, created, err := s.CreateRoom(connectionID, keyOf(p))
	if err != nil {
		return nil, err
	}
	if created {
		metrics.RoomsCreated.WithLabelValues(p.RoomType).Inc()
	}
	return types.RoomAck{Ack: types.OK(), Room: &info, IsExisting: !created}, nil
}

func handleCloseRoom(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.RoomRef)
	s, err := r.sessions.GetSession(p.Code)
	if err != nil {
		return nil, err
	}
	closed, err := s.CloseRoom(connectionID, keyOf(p))
	if err != nil {
		return nil, err
	}
	return types.CloseRoomAck{Ack: types.OK(), Closed: closed}, nil
}

func handleJoinRoom(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.RoomRef)
	s, err := r.sessions.GetSession(p.Code)
	if err != nil {
		return nil, err
	}
	state, err := s.JoinRoom(connectionID, keyOf(p))
	if err != nil {
		return nil, err
	}
	return types.StateAck{Ack: types.OK(), State: state}, nil
}

func handleLeaveRoom(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.RoomRef)
	s, err := r.sessions.GetSession(p.Code)
	if err != nil {
		return nil, err
	}
	s.LeaveRoom(connectionID, keyOf(p))
	return types.OK(), nil
}

func handleCleanupRooms(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.CleanupRoomsPayload)
	s, err := r.sessions.GetSession(p.Code)
	if err != nil {
		return nil, err
	}
	closed, err := s.CleanupRooms(connectionID, p.ActiveWidgetIDs)
	if err != nil {
		return nil, err
	}
	ack := types.CleanupRoomsAck{Ack: types.OK(), Closed: make([]types.RoomKey, 0, len(closed))}
	for _, key := range closed {
		ack.Closed = append(ack.Closed, types.RoomKey{RoomType: key.Type, WidgetID: key.WidgetID})
	}
	return ack, nil
}

func handleUpdateWidgetState(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.WidgetStatePayload)
	s, err := r.sessions.GetSession(p.Code)
	if err != nil {
		return nil, err
	}
	info, err := s.SetRoomActive(connectionID, keyOf(&p.RoomRef), *p.IsActive)
	if err != nil {
		return nil, err
	}
	return types.RoomAck{Ack: types.OK(), Room: &info, IsExisting: true}, nil
}

// Activity

func handleActivityUpdate(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.ActivityUpdatePayload)
	err := withHost(r, connectionID, types.RoomTypeActivity, &p.WidgetRef, func(a *room.Activity, em room.Emitter) error {
		a.SetActivity(p.Activity, p.AllowRetry, em)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return types.OK(), nil
}

func handleActivitySubmit(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.ActivitySubmitPayload)
	var results types.ActivityResults
	var displayName string
	err := withMember(r, connectionID, types.RoomTypeActivity, &p.WidgetRef, func(a *room.Activity, m room.Member, em room.Emitter) error {
		var err error
		results, err = a.Submit(m, p.Answers, em)
		displayName = m.DisplayName
		return err
	})
	if err != nil {
		return nil, err
	}
	r.recordSubmission(p.Code, p.WidgetID, connectionID, displayName, results)
	return types.SubmitAck{Ack: types.OK(), Results: &results}, nil
}

func handleActivityRetry(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.WidgetRef)
	err := withMember(r, connectionID, types.RoomTypeActivity, p, func(a *room.Activity, m room.Member, em room.Emitter) error {
		return a.Retry(m, em)
	})
	if err != nil {
		return nil, err
	}
	return types.OK(), nil
}

func handleActivityReveal(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.ActivityRevealPayload)
	err := withHost(r, connectionID, types.RoomTypeActivity, &p.WidgetRef, func(a *room.Activity, em room.Emitter) error {
		a.Reveal(p.Show, em)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return types.OK(), nil
}

func handleActivityReset(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.WidgetRef)
	err := withHost(r, connectionID, types.RoomTypeActivity, p, func(a *room.Activity, em room.Emitter) error {
		a.Reset(em)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return types.OK(), nil
}

func handleActivityRequestState(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.WidgetRef)
	var view room.ActivityView
	err := withMember(r, connectionID, types.RoomTypeActivity, p, func(a *room.Activity, m room.Member, _ room.Emitter) error {
		if !m.IsHost && !m.IsParticipant {
			return session.ErrNotMember
		}
		view = a.RequestState(m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ActivityStateAck{Ack: types.OK(), ActivityView: view}, nil
}

// Poll

func handlePollUpdate(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.PollUpdatePayload)
	err := withHost(r, connectionID, types.RoomTypePoll, &p.WidgetRef, func(poll *room.Poll, em room.Emitter) error {
		poll.Update(p.Question, p.Options, em)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return types.OK(), nil
}

func handlePollVote(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.PollVotePayload)
	err := withMember(r, connectionID, types.RoomTypePoll, &p.WidgetRef, func(poll *room.Poll, m room.Member, em room.Emitter) error {
		return poll.Vote(m, *p.OptionIndex, em)
	})
	if err != nil {
		return nil, err
	}
	return types.OK(), nil
}

func handlePollReset(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.WidgetRef)
	err := withHost(r, connectionID, types.RoomTypePoll, p, func(poll *room.Poll, em room.Emitter) error {
		poll.Reset(em)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return types.OK(), nil
}

// Link share

func handleLinkSubmit(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.LinkSubmitPayload)
	var submission room.LinkSubmission
	err := withMember(r, connectionID, types.RoomTypeLinkShare, &p.WidgetRef, func(l *room.LinkShare, m room.Member, em room.Emitter) error {
		var err error
		submission, err = l.Submit(m, p.URL, em)
		return err
	})
	if err != nil {
		return nil, err
	}
	return LinkAck{Ack: types.OK(), Submission: submission}, nil
}

func handleLinkDelete(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.LinkDeletePayload)
	err := withHost(r, connectionID, types.RoomTypeLinkShare, &p.WidgetRef, func(l *room.LinkShare, em room.Emitter) error {
		return l.Delete(p.SubmissionID, em)
	})
	if err != nil {
		return nil, err
	}
	return types.OK(), nil
}

// Real-time feedback

func handleFeedbackSubmit(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.FeedbackPayload)
	err := withMember(r, connectionID, types.RoomTypeRTFeedback, &p.WidgetRef, func(f *room.RTFeedback, m room.Member, em room.Emitter) error {
		return f.Submit(m, p.Value, em)
	})
	if err != nil {
		return nil, err
	}
	return types.OK(), nil
}

func handleFeedbackReset(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.WidgetRef)
	err := withHost(r, connectionID, types.RoomTypeRTFeedback, p, func(f *room.RTFeedback, em room.Emitter) error {
		f.Reset(em)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return types.OK(), nil
}

// Questions

func handleQuestionAsk(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.QuestionAskPayload)
	var question room.Question
	err := withMember(r, connectionID, types.RoomTypeQuestions, &p.WidgetRef, func(q *room.Questions, m room.Member, em room.Emitter) error {
		var err error
		question, err = q.Ask(m, p.Text, em)
		return err
	})
	if err != nil {
		return nil, err
	}
	return QuestionAck{Ack: types.OK(), Question: question}, nil
}

func handleQuestionMarkAnswered(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.QuestionRefPayload)
	err := withHost(r, connectionID, types.RoomTypeQuestions, &p.WidgetRef, func(q *room.Questions, em room.Emitter) error {
		return q.MarkAnswered(p.QuestionID, em)
	})
	if err != nil {
		return nil, err
	}
	return types.OK(), nil
}

func handleQuestionDelete(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.QuestionRefPayload)
	err := withHost(r, connectionID, types.RoomTypeQuestions, &p.WidgetRef, func(q *room.Questions, em room.Emitter) error {
		return q.Delete(p.QuestionID, em)
	})
	if err != nil {
		return nil, err
	}
	return types.OK(), nil
}

func handleQuestionsClear(r *Router, connectionID string, payload types.Payload) (interface{}, error) {
	p := payload.(*types.WidgetRef)
	err := withHost(r, connectionID, types.RoomTypeQuestions, p, func(q *room.Questions, em room.Emitter) error {
		q.Clear(em)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return types.OK(), nil
}
