// Package transport defines the connection abstraction keyrelay runs on: a
// persistent, full-duplex, message-oriented channel carrying text frames.
//
// Implementations live in sub-packages: ws (gorilla/websocket), quic
// (quic-go, one bidirectional stream per connection) and memory (in-process
// pipes for tests and embedding).
package transport

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by Send and Receive once either side has closed.
	ErrClosed = errors.New("transport: connection closed")
)

// Conn is one live connection. Send may be called concurrently with Receive;
// implementations serialise concurrent Sends. Receive is only ever called by
// a single goroutine.
type Conn interface {
	Send(ctx context.Context, text string) error
	Receive(ctx context.Context) (string, error)
	Close() error
	RemoteAddr() string
}

// Listener accepts inbound connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Addr() string
}
