package router

import (
	"errors"

	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// Router-specific errors
var (
	ErrRateLimitExceeded = types.NewStateError("rate limit exceeded")
	ErrUnhandledEvent    = errors.New("event has no handler")
)
