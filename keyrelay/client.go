package keyrelay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/keyrelay/keyrelay/identity"
	"github.com/TheusHen/keyrelay/keyrelay/protocol"
	"github.com/TheusHen/keyrelay/keyrelay/session"
	"github.com/TheusHen/keyrelay/keyrelay/transport"
	"github.com/TheusHen/keyrelay/keyrelay/transport/quic"
	"github.com/TheusHen/keyrelay/keyrelay/transport/ws"
)

const inboxSize = 256

var (
	ErrNotConnected     = errors.New("keyrelay: client not connected")
	ErrAlreadyConnected = errors.New("keyrelay: client already connected")
	ErrConnectionClosed = errors.New("keyrelay: connection closed")
)

// DeliveryError is the relay's refusal of a message.
type DeliveryError struct {
	Reason protocol.Reason
	Ref    string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("keyrelay: message %s not delivered: %s", e.Ref, e.Reason)
}

// Message is a decrypted inbound message.
type Message struct {
	ID        string
	From      string
	Plaintext []byte
}

// Client is one authenticated identity connected to a relay. A Client
// connects once; create a new one to reconnect.
type Client struct {
	local identity.KeyPair
	cfg   Config
	book  *identity.ContactBook
	codec protocol.Codec

	mu      sync.Mutex
	conn    *session.Conn
	cancel  context.CancelFunc
	pending map[string]chan protocol.Envelope

	inbox chan Message
	done  chan struct{}
}

func NewClient(local identity.KeyPair, cfg Config) *Client {
	return &Client{
		local:   local,
		cfg:     cfg,
		book:    identity.NewContactBook(local),
		codec:   protocol.Codec{CompressThreshold: cfg.CompressThreshold},
		pending: map[string]chan protocol.Envelope{},
		inbox:   make(chan Message, inboxSize),
		done:    make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.local.ID() }

// Messages delivers decrypted inbound messages. It is closed when the
// connection ends.
func (c *Client) Messages() <-chan Message { return c.inbox }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Dial connects to endpoint over the configured transport and authenticates.
// For websocket the endpoint is a URL such as ws://host:8443/ws; for QUIC it
// is host:port. A non-empty serverKey pins the relay's public key.
func (c *Client) Dial(ctx context.Context, endpoint, serverKey string) error {
	var (
		tr  transport.Conn
		err error
	)
	switch c.cfg.Transport {
	case TransportQUIC:
		var qc *quic.Conn
		if qc, err = quic.Dial(ctx, endpoint, nil); err == nil {
			tr = qc
		}
	default:
		var wc *ws.Conn
		if wc, err = ws.Dial(ctx, endpoint, c.local.ID()); err == nil {
			tr = wc
		}
	}
	if err != nil {
		return oops.In("keyrelay").With("endpoint", endpoint).Wrap(err)
	}
	return c.Connect(ctx, tr, serverKey)
}

// Connect authenticates over an already open transport. ctx bounds the
// handshake only; the connection lives until Close or Logout.
func (c *Client) Connect(ctx context.Context, tr transport.Conn, serverKey string) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		_ = tr.Close()
		return ErrAlreadyConnected
	}
	opts := c.cfg.sessionOptions()
	opts.ExpectedResponder = serverKey
	opts.Listener = &clientEvents{c: c}
	conn := session.NewConn(session.RoleInitiator, tr, c.local, opts)
	runCtx, cancel := context.WithCancel(context.Background())
	c.conn, c.cancel = conn, cancel
	c.mu.Unlock()

	go func() { _ = conn.Run(runCtx) }()

	if err := conn.WaitHandshake(ctx); err != nil {
		cancel()
		<-conn.Done()
		return oops.In("keyrelay").With("remote", tr.RemoteAddr()).Wrap(err)
	}
	log.WithFields(logrus.Fields{
		"at":     "keyrelay.(*Client).Connect",
		"id":     identity.FingerprintID(c.local.ID()),
		"server": identity.FingerprintID(conn.Peer()),
	}).Info("authenticated")
	return nil
}

func (c *Client) current() (*session.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// Send encrypts plaintext for the client whose public key is to, hands it to
// the relay and waits for DELIVERED or ERROR. It returns the message id.
func (c *Client) Send(ctx context.Context, to string, plaintext []byte) (string, error) {
	conn, err := c.current()
	if err != nil {
		return "", err
	}
	contact, err := c.book.Contact(to)
	if err != nil {
		return "", oops.In("keyrelay").With("to", identity.FingerprintID(to)).Wrap(err)
	}
	env, err := c.codec.Encode(c.local, contact, plaintext, protocol.MessageTypeMessage, nil)
	if err != nil {
		return "", err
	}
	text, err := protocol.Marshal(env)
	if err != nil {
		return "", err
	}

	ack := make(chan protocol.Envelope, 1)
	c.mu.Lock()
	c.pending[env.ID] = ack
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, env.ID)
		c.mu.Unlock()
	}()

	if err := conn.Send(ctx, text); err != nil {
		return env.ID, err
	}

	select {
	case reply := <-ack:
		if reply.Type == protocol.MessageTypeError {
			return env.ID, &DeliveryError{Reason: reply.Reason, Ref: reply.Ref}
		}
		return env.ID, nil
	case <-c.done:
		return env.ID, ErrConnectionClosed
	case <-ctx.Done():
		return env.ID, ctx.Err()
	}
}

// Logout asks the relay to drop this identity and waits for it to hang up.
func (c *Client) Logout(ctx context.Context) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	text, err := protocol.Marshal(protocol.NewLogout(c.local.ID()))
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, text); err != nil {
		return err
	}
	select {
	case <-conn.Done():
		return nil
	case <-ctx.Done():
		_ = c.Close()
		return ctx.Err()
	}
}

// Close drops the connection without logging out.
func (c *Client) Close() error {
	c.mu.Lock()
	conn, cancel := c.conn, c.cancel
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	cancel()
	<-conn.Done()
	return err
}

func (c *Client) receive(env protocol.Envelope) {
	switch env.Type {
	case protocol.MessageTypeDelivered, protocol.MessageTypeError:
		c.mu.Lock()
		ack, ok := c.pending[env.Ref]
		c.mu.Unlock()
		if ok {
			select {
			case ack <- env:
			default:
			}
		} else if env.Type == protocol.MessageTypeError {
			log.WithFields(logrus.Fields{
				"at":     "keyrelay.(*Client).receive",
				"reason": env.Reason,
				"ref":    env.Ref,
			}).Warn("relay_error")
		}

	case protocol.MessageTypeMessage:
		if env.To != c.local.ID() {
			log.WithFields(logrus.Fields{
				"at": "keyrelay.(*Client).receive",
				"to": identity.FingerprintID(env.To),
			}).Warn("misaddressed_message")
			return
		}
		contact, err := c.book.Contact(env.From)
		if err != nil {
			return
		}
		plain, err := c.codec.Decode(env, contact.SharedSecret)
		if err != nil {
			log.WithFields(logrus.Fields{
				"at":   "keyrelay.(*Client).receive",
				"from": identity.FingerprintID(env.From),
			}).Warn("undecryptable_message")
			return
		}
		select {
		case c.inbox <- Message{ID: env.ID, From: env.From, Plaintext: plain}:
		default:
			log.WithFields(logrus.Fields{
				"at":   "keyrelay.(*Client).receive",
				"from": identity.FingerprintID(env.From),
			}).Warn("inbox_full")
		}

	default:
		log.WithFields(logrus.Fields{
			"at":   "keyrelay.(*Client).receive",
			"type": env.Type,
		}).Debug("ignored_envelope")
	}
}

// clientEvents feeds session callbacks into the Client.
type clientEvents struct {
	session.NopListener
	c *Client
}

func (e *clientEvents) OnMessage(env protocol.Envelope) { e.c.receive(env) }

func (e *clientEvents) OnClosed(error) {
	close(e.c.inbox)
	close(e.c.done)
}
