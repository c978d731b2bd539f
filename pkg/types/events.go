package types

// Client → server events
const (
	EventSessionCreate            = "session:create"
	EventSessionJoin              = "session:join"
	EventSessionLeave             = "session:leave"
	EventSessionClose             = "session:close"
	EventSessionCreateRoom        = "session:createRoom"
	EventSessionCloseRoom         = "session:closeRoom"
	EventSessionJoinRoom          = "session:joinRoom"
	EventSessionLeaveRoom         = "session:leaveRoom"
	EventSessionCleanupRooms      = "session:cleanupRooms"
	EventSessionUpdateWidgetState = "session:updateWidgetState"

	EventActivityUpdate       = "session:activity:update"
	EventActivitySubmit       = "session:activity:submit"
	EventActivityRetry        = "session:activity:retry"
	EventActivityReveal       = "session:activity:reveal"
	EventActivityReset        = "session:activity:reset"
	EventActivityRequestState = "session:activity:requestState"

	EventPollUpdate = "session:poll:update"
	EventPollVote   = "session:poll:vote"
	EventPollReset  = "session:poll:reset"

	EventLinkShareSubmit = "session:linkShare:submit"
	EventLinkShareDelete = "session:linkShare:delete"

	EventRTFeedbackSubmit = "session:rtfeedback:submit"
	EventRTFeedbackReset  = "session:rtfeedback:reset"

	EventQuestionsAsk          = "session:questions:ask"
	EventQuestionsMarkAnswered = "session:questions:markAnswered"
	EventQuestionsDelete       = "session:questions:delete"
	EventQuestionsClear        = "session:questions:clear"
)

// Server → client events
const (
	EventConnected = "connected"
	EventAck       = "ack"

	EventRoomCreated        = "session:roomCreated"
	EventRoomClosed         = "session:roomClosed"
	EventWidgetStateChanged = "session:widgetStateChanged"
	EventParticipantUpdate  = "session:participantUpdate"
	EventSessionClosed      = "session:closed"

	EventActivityStateUpdate      = "activity:stateUpdate"
	EventActivityFeedback         = "activity:feedback"
	EventActivityRevealed         = "activity:revealed"
	EventActivityRetryReady       = "activity:retryReady"
	EventActivityResponseReceived = "activity:responseReceived"

	EventPollStateUpdate            = "poll:stateUpdate"
	EventLinkShareSubmissionsUpdate = "linkShare:submissionsUpdate"
	EventRTFeedbackUpdate           = "rtfeedback:update"
	EventQuestionsStateUpdate       = "questions:stateUpdate"
)
