// Package ws carries keyrelay text frames over WebSocket connections using
// gorilla/websocket.
package ws

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/keyrelay/keyrelay/transport"
)

const (
	wsReadBuffer       = 1024
	wsWriteBuffer      = 1024
	wsPingInterval     = 30 * time.Second
	wsPingWriteTimeout = 5 * time.Second
	wsPongTimeout      = 30 * time.Second

	DefaultReadLimit    = 1 << 20
	DefaultWriteTimeout = 5 * time.Second
)

var log = logrus.WithField("pkg", "transport/ws")

var wsBufferPool = new(sync.Pool)

// Conn adapts a *websocket.Conn to transport.Conn.
type Conn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}

	pingReset    chan struct{}
	pongReceived chan struct{}
	wg           sync.WaitGroup
}

var _ transport.Conn = (*Conn)(nil)

func newConn(conn *websocket.Conn, readLimit int64, writeTimeout time.Duration) *Conn {
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	conn.SetReadLimit(readLimit)
	c := &Conn{
		conn:         conn,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
		pingReset:    make(chan struct{}, 1),
		pongReceived: make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		select {
		case c.pongReceived <- struct{}{}:
		case <-c.closed:
		}
		return nil
	})
	c.wg.Add(1)
	go c.pingLoop()
	return c
}

// Send writes text as one websocket text message.
func (c *Conn) Send(ctx context.Context, text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return translate(err)
	}
	select {
	case c.pingReset <- struct{}{}:
	default:
	}
	return nil
}

// Receive returns the next data message. Binary messages are delivered as
// their raw bytes; the envelope decoder rejects anything that is not text JSON.
func (c *Conn) Receive(ctx context.Context) (string, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", translate(err)
	}
	return string(data), nil
}

// Close sends a close control frame and tears the connection down.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsPingWriteTimeout))
		err = c.conn.Close()
		c.writeMu.Unlock()
		// pingLoop may be waiting for writeMu, so wait only after releasing it.
		c.wg.Wait()
	})
	return err
}

func (c *Conn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// pingLoop sends periodic ping frames when the connection is idle.
func (c *Conn) pingLoop() {
	pingTimer := time.NewTimer(wsPingInterval)
	defer c.wg.Done()
	defer pingTimer.Stop()

	for {
		select {
		case <-c.closed:
			return

		case <-c.pingReset:
			if !pingTimer.Stop() {
				<-pingTimer.C
			}
			pingTimer.Reset(wsPingInterval)

		case <-pingTimer.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsPingWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.WithFields(logrus.Fields{
					"at":     "ws.(*Conn).pingLoop",
					"remote": c.RemoteAddr(),
				}).WithError(err).Debug("ping_failed")
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
			c.writeMu.Unlock()
			pingTimer.Reset(wsPingInterval)

		case <-c.pongReceived:
			_ = c.conn.SetReadDeadline(time.Time{})
		}
	}
}

// translate maps the various "connection is gone" errors to transport.ErrClosed.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
		errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return transport.ErrClosed
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return transport.ErrClosed
	}
	return err
}
