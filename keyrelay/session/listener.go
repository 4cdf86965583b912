package session

import "github.com/TheusHen/keyrelay/keyrelay/protocol"

// Listener observes a Conn. All callbacks run on the connection's own
// goroutine, in this order: OnStateChange for each transition, then exactly
// one of OnAuthenticated or OnHandshakeFailed, then OnMessage for steady-state
// envelopes (initiator only), and OnClosed last.
type Listener interface {
	OnStateChange(from, to State)
	OnAuthenticated(peer string)
	OnHandshakeFailed(state State, reason protocol.Reason)
	OnMessage(env protocol.Envelope)
	OnClosed(err error)
}

// NopListener ignores every callback. Embed it to implement only some.
type NopListener struct{}

func (NopListener) OnStateChange(State, State)               {}
func (NopListener) OnAuthenticated(string)                   {}
func (NopListener) OnHandshakeFailed(State, protocol.Reason) {}
func (NopListener) OnMessage(protocol.Envelope)              {}
func (NopListener) OnClosed(error)                           {}

var _ Listener = NopListener{}
