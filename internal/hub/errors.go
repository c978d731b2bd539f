package hub

import (
	"errors"

	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// Hub errors
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrNilEnvelope       = errors.New("envelope is nil")
	ErrServerBusy        = types.NewStateError("server busy")
)
