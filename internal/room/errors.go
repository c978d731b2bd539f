package room

import "github.com/tinkertanker/classroom-widgets-sub001/pkg/types"

// Room-level errors, classified for acknowledgement payloads
var (
	ErrUnknownRoomType    = types.NewValidationError("unknown room type")
	ErrPaused             = types.NewStateError("activity is paused")
	ErrNotParticipant     = types.NewAuthorizationError("not a participant")
	ErrNoActivity         = types.NewStateError("no activity configured")
	ErrRetryNotAllowed    = types.NewStateError("retry is not allowed")
	ErrNoPoll             = types.NewStateError("poll has not been configured")
	ErrSubmissionNotFound = types.NewValidationError("link submission not found")
	ErrQuestionNotFound   = types.NewValidationError("question not found")
)
