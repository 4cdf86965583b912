package quic

import (
	"context"
	"errors"
	"testing"
	"time"

	q "github.com/quic-go/quic-go"

	"github.com/TheusHen/keyrelay/keyrelay/transport"
)

func TestDialAcceptRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ln, err := Listen("127.0.0.1:0", nil, 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	addr := ln.Addr()
	if addr == "" {
		t.Fatalf("expected listener addr")
	}

	type result struct {
		conn transport.Conn
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		c, err := ln.Accept(ctx)
		accepted <- result{c, err}
	}()

	client, err := Dial(ctx, addr, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	res := <-accepted
	if res.err != nil {
		t.Fatalf("Accept: %v", res.err)
	}
	server := res.conn

	// The server speaks first in keyrelay, so check that direction too.
	if err := server.Send(ctx, `{"type":"CHALLENGE"}`); err != nil {
		t.Fatalf("server Send: %v", err)
	}
	got, err := client.Receive(ctx)
	if err != nil {
		t.Fatalf("client Receive: %v", err)
	}
	if got != `{"type":"CHALLENGE"}` {
		t.Fatalf("unexpected frame %q", got)
	}

	if err := client.Send(ctx, "reply"); err != nil {
		t.Fatalf("client Send: %v", err)
	}
	if got, err := server.Receive(ctx); err != nil || got != "reply" {
		t.Fatalf("server Receive: %q %v", got, err)
	}

	_ = client.Close()
	if _, err := server.Receive(ctx); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed after peer close, got %v", err)
	}
}

func TestSilentDialerDoesNotBlockAccept(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ln, err := Listen("127.0.0.1:0", nil, 300*time.Millisecond)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	// Completes the QUIC handshake but never opens the keyrelay stream.
	tlsConf, err := newSelfSignedTLSConfig()
	if err != nil {
		t.Fatalf("tls: %v", err)
	}
	silent, err := q.DialAddr(ctx, ln.Addr(), withALPN(tlsConf), &q.Config{})
	if err != nil {
		t.Fatalf("silent dial: %v", err)
	}
	defer silent.CloseWithError(0, "")

	client, err := Dial(ctx, ln.Addr(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	acceptCtx, acceptCancel := context.WithTimeout(ctx, time.Second)
	defer acceptCancel()
	server, err := ln.Accept(acceptCtx)
	if err != nil {
		t.Fatalf("Accept behind a silent dialer: %v", err)
	}
	defer server.Close()

	if err := client.Send(ctx, "ping"); err != nil {
		t.Fatalf("client Send: %v", err)
	}
	if got, err := server.Receive(ctx); err != nil || got != "ping" {
		t.Fatalf("server Receive: %q %v", got, err)
	}

	select {
	case <-silent.Context().Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("silent connection still open after the open timeout")
	}
}

func TestAcceptAfterClose(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", nil, 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := ln.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := ln.Accept(context.Background()); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
