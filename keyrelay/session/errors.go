package session

import (
	"errors"
	"fmt"

	"github.com/TheusHen/keyrelay/keyrelay/protocol"
)

var (
	ErrRejected       = errors.New("session: handshake rejected")
	ErrTimedOut       = errors.New("session: handshake timed out")
	ErrConnectionLost = errors.New("session: connection lost")
)

// HandshakeError describes how a handshake ended when it did not authenticate.
type HandshakeError struct {
	State  State
	Reason protocol.Reason
}

func (e *HandshakeError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("session: handshake ended in %s", e.State)
	}
	return fmt.Sprintf("session: handshake ended in %s: %s", e.State, e.Reason)
}

func (e *HandshakeError) Unwrap() error {
	switch e.State {
	case StateRejected:
		return ErrRejected
	case StateTimedOut:
		return ErrTimedOut
	default:
		return ErrConnectionLost
	}
}
