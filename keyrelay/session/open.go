package session

import (
	"context"

	"github.com/samber/oops"

	"github.com/TheusHen/keyrelay/keyrelay/identity"
	"github.com/TheusHen/keyrelay/keyrelay/transport"
)

// Serve runs the responder side on tr until the connection ends.
func Serve(ctx context.Context, tr transport.Conn, local identity.KeyPair, opts Options) error {
	return NewConn(RoleResponder, tr, local, opts).Run(ctx)
}

// Dial runs the initiator side on tr and returns once it is authenticated.
// The connection keeps running in the background until ctx is cancelled or
// the returned Conn is closed. On failure the transport is already closed.
func Dial(ctx context.Context, tr transport.Conn, local identity.KeyPair, opts Options) (*Conn, error) {
	c := NewConn(RoleInitiator, tr, local, opts)
	go func() { _ = c.Run(ctx) }()

	if err := c.WaitHandshake(ctx); err != nil {
		_ = c.Close()
		<-c.Done()
		return nil, oops.In("session").With("remote", tr.RemoteAddr()).Wrap(err)
	}
	return c, nil
}
