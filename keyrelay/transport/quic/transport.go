// Package quic carries keyrelay text frames over a single bidirectional QUIC
// stream per connection, using protocol.WriteFrame / protocol.ReadFrame for
// message boundaries.
package quic

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"sync"
	"time"

	q "github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/keyrelay/keyrelay/protocol"
	"github.com/TheusHen/keyrelay/keyrelay/transport"
)

const (
	DefaultWriteTimeout = 5 * time.Second
	DefaultOpenTimeout  = 10 * time.Second
)

var log = logrus.WithField("pkg", "transport/quic")

// Conn is one QUIC connection with its single stream.
type Conn struct {
	conn   q.Connection
	stream q.Stream
	reader *bufio.Reader

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

var _ transport.Conn = (*Conn)(nil)

func newConn(conn q.Connection, stream q.Stream) *Conn {
	return &Conn{
		conn:   conn,
		stream: stream,
		reader: bufio.NewReader(stream),
		closed: make(chan struct{}),
	}
}

func (c *Conn) Send(ctx context.Context, text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	deadline := time.Now().Add(DefaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.stream.SetWriteDeadline(deadline)
	if err := protocol.WriteFrame(c.stream, protocol.Frame{Type: protocol.FrameText, Payload: []byte(text)}); err != nil {
		return translate(err)
	}
	return nil
}

func (c *Conn) Receive(ctx context.Context) (string, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.stream.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		f, err := protocol.ReadFrame(c.reader)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", translate(err)
		}
		switch f.Type {
		case protocol.FrameText:
			return string(f.Payload), nil
		case protocol.FrameClose:
			return "", transport.ErrClosed
		}
		// FrameOpen after the first frame carries nothing; skip it.
	}
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.stream.SetWriteDeadline(time.Now().Add(time.Second))
		_ = protocol.WriteFrame(c.stream, protocol.Frame{Type: protocol.FrameClose})
		_ = c.stream.Close()
		c.writeMu.Unlock()
		err = c.conn.CloseWithError(0, "closed")
	})
	return err
}

func (c *Conn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func translate(err error) error {
	var appErr *q.ApplicationError
	var idleErr *q.IdleTimeoutError
	if errors.Is(err, io.EOF) || errors.As(err, &appErr) || errors.As(err, &idleErr) {
		return transport.ErrClosed
	}
	return err
}

// Listener accepts QUIC connections and their keyrelay stream. Each new
// connection opens its stream in its own goroutine, bounded by the open
// timeout, so a peer that never sends FrameOpen holds up nobody else.
type Listener struct {
	inner       *q.Listener
	openTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	conns  chan *Conn
	done   chan struct{}
	once   sync.Once
}

var _ transport.Listener = (*Listener)(nil)

// Listen listens on addr. A nil tlsConf uses a throwaway self-signed
// certificate. openTimeout bounds the wait for a dialer's stream and opening
// frame; zero means DefaultOpenTimeout.
func Listen(addr string, tlsConf *tls.Config, openTimeout time.Duration) (*Listener, error) {
	if tlsConf == nil {
		var err error
		if tlsConf, err = newSelfSignedTLSConfig(); err != nil {
			return nil, err
		}
	}
	if openTimeout <= 0 {
		openTimeout = DefaultOpenTimeout
	}
	ln, err := q.ListenAddr(addr, withALPN(tlsConf), &q.Config{})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		inner:       ln,
		openTimeout: openTimeout,
		ctx:         ctx,
		cancel:      cancel,
		conns:       make(chan *Conn),
		done:        make(chan struct{}),
	}
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.inner.Accept(l.ctx)
		if err != nil {
			if !errors.Is(err, q.ErrServerClosed) && l.ctx.Err() == nil {
				log.WithError(err).Warn("quic_accept_failed")
			}
			_ = l.Close()
			return
		}
		go l.open(conn)
	}
}

// open waits for conn's keyrelay stream and hands it to Accept.
func (l *Listener) open(conn q.Connection) {
	ctx, cancel := context.WithTimeout(l.ctx, l.openTimeout)
	c, err := acceptStream(ctx, conn)
	cancel()
	if err != nil {
		log.WithFields(logrus.Fields{
			"at":     "quic.(*Listener).open",
			"remote": conn.RemoteAddr().String(),
		}).WithError(err).Debug("stream_open_failed")
		_ = conn.CloseWithError(1, "no stream")
		return
	}
	select {
	case l.conns <- c:
	case <-l.done:
		_ = c.Close()
	}
}

// Accept returns the next connection whose stream is open.
func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func acceptStream(ctx context.Context, conn q.Connection) (*Conn, error) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = stream.SetReadDeadline(time.Now())
	})
	c := newConn(conn, stream)
	f, err := protocol.ReadFrame(c.reader)
	if !stop() {
		// The deadline fired; the stream is unusable even if the read won.
		return nil, context.Cause(ctx)
	}
	if err != nil {
		return nil, err
	}
	if f.Type != protocol.FrameOpen {
		return nil, protocol.ErrInvalidFrame
	}
	return c, nil
}

func (l *Listener) Addr() string {
	if l.inner == nil {
		return ""
	}
	return l.inner.Addr().String()
}

func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		l.cancel()
		err = l.inner.Close()
	})
	return err
}

// Dial connects to addr and opens the keyrelay stream.
// A nil tlsConf skips certificate verification.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config) (*Conn, error) {
	if tlsConf == nil {
		var err error
		if tlsConf, err = newSelfSignedTLSConfig(); err != nil {
			return nil, err
		}
	}
	conn, err := q.DialAddr(ctx, addr, withALPN(tlsConf), &q.Config{})
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "open stream")
		return nil, err
	}
	if err := protocol.WriteFrame(stream, protocol.Frame{Type: protocol.FrameOpen}); err != nil {
		_ = conn.CloseWithError(1, "open frame")
		return nil, err
	}
	return newConn(conn, stream), nil
}
