package client

import (
	"errors"
	"fmt"

	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

var (
	ErrRecoveryFailed    = errors.New("session recovery failed")
	ErrRecoveryCancelled = errors.New("session recovery cancelled")
	ErrTransportClosed   = errors.New("transport closed")
	ErrNotConnected      = errors.New("not connected")
	ErrUnexpectedFrame   = errors.New("unexpected first frame")
)

// AckError is a request the server answered with success=false
type AckError struct {
	Event string
	Ack   types.Ack
}

func (e *AckError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Event, e.Ack.Error)
}

// Kind is the server's classification of the failure
func (e *AckError) Kind() types.ErrorKind { return types.ErrorKind(e.Ack.Kind) }

func checkAck(event string, ack types.Ack) error {
	if ack.Success {
		return nil
	}
	return &AckError{Event: event, Ack: ack}
}
