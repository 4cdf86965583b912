// Package memory provides in-process transport connections.
// It is useful for tests, examples and embedding keyrelay in one process.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/TheusHen/keyrelay/keyrelay/transport"
)

const pipeBuffer = 64

// Conn is one end of a Pipe.
type Conn struct {
	in         <-chan string
	out        chan<- string
	closed     chan struct{}
	peerClosed <-chan struct{}
	once       sync.Once
	remote     string
}

var _ transport.Conn = (*Conn)(nil)

// Pipe returns two connected ends. Closing either end makes both report
// transport.ErrClosed once buffered frames are drained.
func Pipe(nameA, nameB string) (*Conn, *Conn) {
	ab := make(chan string, pipeBuffer)
	ba := make(chan string, pipeBuffer)
	closedA := make(chan struct{})
	closedB := make(chan struct{})
	a := &Conn{in: ba, out: ab, closed: closedA, peerClosed: closedB, remote: nameB}
	b := &Conn{in: ab, out: ba, closed: closedB, peerClosed: closedA, remote: nameA}
	return a, b
}

func (c *Conn) Send(ctx context.Context, text string) error {
	if c.isClosed() {
		return transport.ErrClosed
	}
	select {
	case <-c.closed:
		return transport.ErrClosed
	case <-c.peerClosed:
		return transport.ErrClosed
	case c.out <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) Receive(ctx context.Context) (string, error) {
	select {
	case <-c.closed:
		return "", transport.ErrClosed
	default:
	}
	select {
	case text := <-c.in:
		return text, nil
	case <-c.closed:
		return "", transport.ErrClosed
	case <-c.peerClosed:
		// Deliver anything the peer sent before it hung up.
		select {
		case text := <-c.in:
			return text, nil
		default:
			return "", transport.ErrClosed
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *Conn) RemoteAddr() string { return c.remote }

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	case <-c.peerClosed:
		return true
	default:
		return false
	}
}

// Listener hands out the server ends of pipes created by Dial.
type Listener struct {
	name    string
	conns   chan *Conn
	done    chan struct{}
	once    sync.Once
	counter atomic.Uint64
}

var _ transport.Listener = (*Listener)(nil)

func NewListener(name string) *Listener {
	return &Listener{name: name, conns: make(chan *Conn), done: make(chan struct{})}
}

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

// Dial creates a pipe and blocks until the listener accepts its far end.
func (l *Listener) Dial(ctx context.Context, _ string) (transport.Conn, error) {
	n := l.counter.Add(1)
	client, server := Pipe(fmt.Sprintf("%s-client-%d", l.name, n), l.name)
	select {
	case l.conns <- server:
		return client, nil
	case <-l.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *Listener) Addr() string { return l.name }
