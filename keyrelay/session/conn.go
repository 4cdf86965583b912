package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/TheusHen/keyrelay/keyrelay/identity"
	"github.com/TheusHen/keyrelay/keyrelay/protocol"
	"github.com/TheusHen/keyrelay/keyrelay/registry"
	"github.com/TheusHen/keyrelay/keyrelay/transport"
)

var log = logrus.WithField("pkg", "session")

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
)

// Role selects which side of the handshake a Conn plays.
type Role int

const (
	// RoleResponder issues the challenge and verifies the answer.
	RoleResponder Role = iota
	// RoleInitiator answers the challenge.
	RoleInitiator
)

func (r Role) String() string {
	if r == RoleResponder {
		return "responder"
	}
	return "initiator"
}

// Options configures a Conn.
type Options struct {
	// HandshakeTimeout bounds the time from open to a terminal state.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds a single Send.
	WriteTimeout time.Duration
	// Listener receives lifecycle callbacks. Nil means NopListener.
	Listener Listener

	// Router is required for RoleResponder: authenticated peers are
	// registered in its registry and their MESSAGE envelopes routed by it.
	Router *registry.Router
	// MessagesPerSecond and Burst rate-limit an authenticated responder
	// connection's inbound envelopes. Zero disables limiting.
	MessagesPerSecond float64
	Burst             int

	// ExpectedResponder pins the responder's public key for RoleInitiator.
	// Empty accepts any responder.
	ExpectedResponder string
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.Listener == nil {
		o.Listener = NopListener{}
	}
	if o.Burst <= 0 {
		o.Burst = int(o.MessagesPerSecond) + 1
	}
	return o
}

// Conn wraps one transport connection for its whole life: created when the
// transport opens, finished when it closes.
type Conn struct {
	role  Role
	tr    transport.Conn
	local identity.KeyPair
	opts  Options

	limiter *rate.Limiter

	mu     sync.Mutex
	state  State
	peer   string
	reason protocol.Reason

	// Handshake material, touched only by the Run goroutine.
	nonce     []byte
	challenge string

	writeMu sync.Mutex
	closed  atomic.Bool

	handshakeOnce sync.Once
	handshakeDone chan struct{}
	done          chan struct{}
}

var _ registry.Endpoint = (*Conn)(nil)

// NewConn prepares a Conn. Nothing is sent until Run is called.
func NewConn(role Role, tr transport.Conn, local identity.KeyPair, opts Options) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		role:          role,
		tr:            tr,
		local:         local,
		opts:          opts,
		state:         StateIdle,
		handshakeDone: make(chan struct{}),
		done:          make(chan struct{}),
	}
	if role == RoleResponder && opts.MessagesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), opts.Burst)
	}
	return c
}

func (c *Conn) Role() Role { return c.role }

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Peer returns the remote public key: for a responder, the authenticated
// initiator; for an initiator, the responder named in its challenge.
func (c *Conn) Peer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

func (c *Conn) LocalID() string { return c.local.ID() }

func (c *Conn) RemoteAddr() string { return c.tr.RemoteAddr() }

// Done is closed after Run returns and OnClosed has fired.
func (c *Conn) Done() <-chan struct{} { return c.done }

// WaitHandshake blocks until the handshake reaches a terminal state. It
// returns nil once authenticated and a *HandshakeError otherwise.
func (c *Conn) WaitHandshake(ctx context.Context) error {
	select {
	case <-c.handshakeDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateAuthenticated {
		return nil
	}
	return &HandshakeError{State: c.state, Reason: c.reason}
}

// Send writes one frame to the peer. Sends are serialised and bounded by
// the configured write timeout.
func (c *Conn) Send(ctx context.Context, text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sendLocked(ctx, text)
}

func (c *Conn) sendLocked(ctx context.Context, text string) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	return c.tr.Send(ctx, text)
}

func (c *Conn) sendEnvelope(ctx context.Context, env protocol.Envelope) error {
	text, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	return c.Send(ctx, text)
}

// Close closes the transport. Run notices and finishes the connection.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.tr.Close()
}

// Closed reports whether the connection has been closed locally or its
// transport has been lost.
func (c *Conn) Closed() bool { return c.closed.Load() }

// Run drives the connection until the transport closes, the handshake fails,
// or ctx is cancelled. It always closes the transport before returning and,
// for a responder, removes any registry binding.
func (c *Conn) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.role == RoleResponder && c.opts.Router == nil {
		c.finish(errNoRouter)
		return oops.In("session").Wrap(errNoRouter)
	}

	c.advance(StateConnecting)

	frames := make(chan string)
	readErr := make(chan error, 1)
	go c.readLoop(ctx, frames, readErr)

	timer := time.NewTimer(c.opts.HandshakeTimeout)
	defer timer.Stop()
	timeout := timer.C

	var cause error
	if err := c.open(ctx); err != nil {
		cause = err
	}

	for cause == nil {
		select {
		case text := <-frames:
			if stop := c.dispatch(ctx, text); stop {
				cause = errFinished
			}
			if c.State() == StateAuthenticated && timeout != nil {
				timer.Stop()
				timeout = nil
			}
		case <-timeout:
			c.onTimeout(ctx)
			cause = ErrTimedOut
		case err := <-readErr:
			cause = err
		case <-ctx.Done():
			cause = ctx.Err()
		}
	}

	if cause == errFinished {
		cause = nil
	}
	c.finish(cause)
	if cause != nil && !errors.Is(cause, transport.ErrClosed) && !errors.Is(cause, ErrTimedOut) && !errors.Is(cause, context.Canceled) {
		return oops.In("session").With("role", c.role.String()).With("state", c.State().String()).Wrap(cause)
	}
	return nil
}

var (
	// errFinished marks a deliberate stop by dispatch.
	errFinished = errors.New("session: finished")
	errNoRouter = errors.New("session: responder requires a router")
)

func (c *Conn) readLoop(ctx context.Context, frames chan<- string, readErr chan<- error) {
	for {
		text, err := c.tr.Receive(ctx)
		if err != nil {
			readErr <- err
			return
		}
		select {
		case frames <- text:
		case <-ctx.Done():
			return
		}
	}
}

// finish tears the connection down: the handshake outcome is settled first,
// then the transport is closed, the registry binding dropped, and OnClosed fired.
func (c *Conn) finish(cause error) {
	if !c.State().Terminal() {
		c.advance(StateConnectionLost)
	}
	_ = c.Close()

	if c.opts.Router != nil {
		if key, ok := c.opts.Router.Registry().Unregister(c); ok {
			log.WithFields(logrus.Fields{
				"at":  "session.(*Conn).finish",
				"key": identity.FingerprintID(key),
			}).Debug("unregistered")
		}
	}

	log.WithFields(logrus.Fields{
		"at":     "session.(*Conn).finish",
		"role":   c.role.String(),
		"state":  c.State().String(),
		"remote": c.tr.RemoteAddr(),
	}).WithError(cause).Debug("connection_closed")

	c.opts.Listener.OnClosed(cause)
	close(c.done)
}

// advance moves to next if allowed and fires the matching callbacks. The
// reason is recorded only when the transition happens.
func (c *Conn) advance(next State) bool {
	return c.fail(next, "")
}

func (c *Conn) fail(next State, why protocol.Reason) bool {
	c.mu.Lock()
	prev := c.state
	if !prev.canAdvanceTo(next) {
		c.mu.Unlock()
		return false
	}
	c.state = next
	if why != "" {
		c.reason = why
	}
	peer, reason := c.peer, c.reason
	c.mu.Unlock()

	c.opts.Listener.OnStateChange(prev, next)
	if next.Terminal() {
		if next == StateAuthenticated {
			c.opts.Listener.OnAuthenticated(peer)
		} else {
			c.opts.Listener.OnHandshakeFailed(next, reason)
		}
		c.handshakeOnce.Do(func() { close(c.handshakeDone) })
	}
	return true
}

func (c *Conn) setPeer(peer string) {
	c.mu.Lock()
	c.peer = peer
	c.mu.Unlock()
}
