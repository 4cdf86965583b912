package session

// State is a handshake state. States only ever move forward.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateIssuingChallenge
	StateAwaitingChallenge
	StateAwaitingVerification
	StateResponseSent
	StateAuthenticated
	StateRejected
	StateTimedOut
	StateConnectionLost
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateIssuingChallenge:
		return "ISSUING_CHALLENGE"
	case StateAwaitingChallenge:
		return "AWAITING_CHALLENGE"
	case StateAwaitingVerification:
		return "AWAITING_VERIFICATION"
	case StateResponseSent:
		return "RESPONSE_SENT"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateRejected:
		return "REJECTED"
	case StateTimedOut:
		return "TIMED_OUT"
	case StateConnectionLost:
		return "CONNECTION_LOST"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the handshake is over.
func (s State) Terminal() bool {
	return s >= StateAuthenticated
}

// stage orders states; parallel states of the two roles share a stage.
func (s State) stage() int {
	switch s {
	case StateIdle:
		return 0
	case StateConnecting:
		return 1
	case StateIssuingChallenge, StateAwaitingChallenge:
		return 2
	case StateAwaitingVerification, StateResponseSent:
		return 3
	default:
		return 4
	}
}

func (s State) canAdvanceTo(next State) bool {
	return !s.Terminal() && next.stage() > s.stage()
}
