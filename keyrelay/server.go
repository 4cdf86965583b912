package keyrelay

import (
	"context"
	"errors"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/keyrelay/keyrelay/identity"
	"github.com/TheusHen/keyrelay/keyrelay/registry"
	"github.com/TheusHen/keyrelay/keyrelay/session"
	"github.com/TheusHen/keyrelay/keyrelay/transport"
	"github.com/TheusHen/keyrelay/keyrelay/transport/quic"
	"github.com/TheusHen/keyrelay/keyrelay/transport/ws"
)

var log = logrus.WithField("pkg", "keyrelay")

var ErrServerClosed = errors.New("keyrelay: server closed")

// Server is the relay: it authenticates every inbound connection and routes
// MESSAGE envelopes between authenticated clients.
type Server struct {
	local  identity.KeyPair
	cfg    Config
	reg    *registry.Registry
	router *registry.Router

	conns mapset.Set[*session.Conn]

	mu        sync.Mutex
	listeners []transport.Listener
	closed    bool
	wg        sync.WaitGroup
}

func NewServer(local identity.KeyPair, cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg := registry.New()
	return &Server{
		local:  local,
		cfg:    cfg,
		reg:    reg,
		router: registry.NewRouter(reg, cfg.WriteTimeout),
		conns:  mapset.NewSet[*session.Conn](),
	}, nil
}

// ID is the server's public key, as clients see it in CHALLENGE.
func (s *Server) ID() string { return s.local.ID() }

func (s *Server) Registry() *registry.Registry { return s.reg }

// Listen opens the transport listener named by the config.
func (s *Server) Listen() (transport.Listener, error) {
	if s.cfg.Transport == TransportQUIC {
		ln, err := quic.Listen(s.cfg.Listen, nil, s.cfg.HandshakeTimeout)
		if err != nil {
			return nil, err
		}
		return ln, nil
	}
	ln, err := ws.Listen(s.cfg.Listen, ws.Options{
		Path:           s.cfg.Path,
		AllowedOrigins: s.cfg.AllowedOrigins,
		ReadLimit:      s.cfg.ReadLimit,
		WriteTimeout:   s.cfg.WriteTimeout,
		Precheck:       func(key string) bool { return !s.reg.Has(key) },
	})
	if err != nil {
		return nil, err
	}
	return ln, nil
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled or the server is closed.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return oops.In("keyrelay").With("listen", s.cfg.Listen).With("transport", s.cfg.Transport).Wrap(err)
	}
	log.WithFields(logrus.Fields{
		"at":        "keyrelay.(*Server).ListenAndServe",
		"addr":      ln.Addr(),
		"transport": s.cfg.Transport,
		"server":    identity.FingerprintID(s.local.ID()),
	}).Info("listening")
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln and runs a responder on each. It takes
// ownership of ln and returns once ln is closed or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln transport.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		tr, err := ln.Accept(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || ctx.Err() != nil {
				if s.isClosed() {
					return ErrServerClosed
				}
				return ctx.Err()
			}
			log.WithFields(logrus.Fields{
				"at": "keyrelay.(*Server).Serve",
			}).WithError(err).Warn("accept_failed")
			continue
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = tr.Close()
			continue
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handle(ctx, tr)
	}
}

func (s *Server) handle(ctx context.Context, tr transport.Conn) {
	defer s.wg.Done()

	opts := s.cfg.sessionOptions()
	opts.Router = s.router
	c := session.NewConn(session.RoleResponder, tr, s.local, opts)
	s.conns.Add(c)
	defer s.conns.Remove(c)
	if s.isClosed() {
		_ = c.Close()
	}

	if err := c.Run(ctx); err != nil {
		log.WithFields(logrus.Fields{
			"at":     "keyrelay.(*Server).handle",
			"remote": tr.RemoteAddr(),
		}).WithError(err).Debug("connection_ended")
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops every listener, closes every connection and waits for their
// goroutines to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	var errs []error
	for _, ln := range listeners {
		if err := ln.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.conns.Each(func(c *session.Conn) bool {
		_ = c.Close()
		return false
	})
	if err := s.reg.Close(); err != nil {
		errs = append(errs, err)
	}
	s.wg.Wait()
	return errors.Join(errs...)
}
