package session

import (
	"errors"

	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// Session management errors
var (
	ErrSessionNotFound    = types.NewValidationError("session not found")
	ErrRoomNotFound       = types.NewValidationError("room not found")
	ErrNotHost            = types.NewAuthorizationError("only the session host can do that")
	ErrNotMember          = types.NewAuthorizationError("connection is not part of this session")
	ErrCodeSpaceExhausted = errors.New("could not allocate a unique session code")
)
