package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/keyrelay/keyrelay/transport"
)

// KeyParam is the optional query parameter a dialer uses to announce its
// public key before the handshake, for a fast duplicate check.
const KeyParam = "key"

// Options configures the server side.
type Options struct {
	// Path the handler is mounted at. Defaults to "/ws".
	Path string
	// AllowedOrigins lists browser origins allowed to connect. "*" allows
	// all. Empty allows localhost only. Requests without an Origin header
	// are always accepted.
	AllowedOrigins []string
	ReadLimit      int64
	WriteTimeout   time.Duration
	// Precheck, when set, is called with the announced public key (if any)
	// before upgrading. Returning false rejects the request with 409.
	Precheck func(publicKey string) bool
}

// Handler upgrades HTTP requests and passes the resulting connections to accept.
func Handler(opts Options, accept func(*Conn)) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBuffer,
		WriteBufferSize: wsWriteBuffer,
		WriteBufferPool: wsBufferPool,
		CheckOrigin:     originValidator(opts.AllowedOrigins),
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := r.URL.Query().Get(KeyParam); key != "" && opts.Precheck != nil && !opts.Precheck(key) {
			log.WithFields(logrus.Fields{
				"at":     "ws.Handler",
				"remote": r.RemoteAddr,
			}).Debug("precheck_rejected")
			http.Error(w, "identity already connected", http.StatusConflict)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithFields(logrus.Fields{
				"at":     "ws.Handler",
				"remote": r.RemoteAddr,
			}).WithError(err).Debug("upgrade_failed")
			return
		}
		accept(newConn(conn, opts.ReadLimit, opts.WriteTimeout))
	})
}

// originValidator returns a CheckOrigin function for the allow list.
func originValidator(allowedOrigins []string) func(*http.Request) bool {
	origins := mapset.NewSet[string]()
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		if origin != "" {
			origins.Add(strings.ToLower(origin))
		}
	}
	if origins.Cardinality() == 0 {
		origins.Add("http://localhost")
		origins.Add("https://localhost")
	}

	return func(req *http.Request) bool {
		// Non-browser clients may send anything as Origin; the check only
		// protects against browser-initiated connections.
		if _, ok := req.Header["Origin"]; !ok {
			return true
		}
		origin := strings.ToLower(req.Header.Get("Origin"))
		if allowAll || origins.Contains(origin) {
			return true
		}
		if u, err := url.Parse(origin); err == nil && origins.Contains(u.Scheme+"://"+u.Hostname()) {
			return true
		}
		log.WithField("origin", origin).Warn("rejected_websocket_origin")
		return false
	}
}

// Listener serves websocket connections on its own HTTP server.
type Listener struct {
	ln    net.Listener
	srv   *http.Server
	conns chan *Conn
	done  chan struct{}
	once  sync.Once
}

var _ transport.Listener = (*Listener)(nil)

// Listen starts an HTTP server on addr that accepts websocket upgrades at opts.Path.
func Listen(addr string, opts Options) (*Listener, error) {
	if opts.Path == "" {
		opts.Path = "/ws"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{
		ln:    ln,
		conns: make(chan *Conn),
		done:  make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.Handle(opts.Path, Handler(opts, l.hand))
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http_serve_failed")
		}
	}()
	return l, nil
}

func (l *Listener) hand(c *Conn) {
	select {
	case l.conns <- c:
	case <-l.done:
		_ = c.Close()
	}
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

func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.srv.Close()
	})
	return err
}

func (l *Listener) Addr() string { return l.ln.Addr().String() }

// Dial connects to a websocket endpoint such as "ws://host:port/ws". When
// publicKey is non-empty it is announced through KeyParam.
func Dial(ctx context.Context, endpoint, publicKey string) (*Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if publicKey != "" {
		q := u.Query()
		q.Set(KeyParam, publicKey)
		u.RawQuery = q.Encode()
	}
	dialer := websocket.Dialer{
		ReadBufferSize:   wsReadBuffer,
		WriteBufferSize:  wsWriteBuffer,
		WriteBufferPool:  wsBufferPool,
		HandshakeTimeout: 10 * time.Second,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return nil, ErrIdentityInUse
		}
		return nil, err
	}
	return newConn(conn, DefaultReadLimit, DefaultWriteTimeout), nil
}

// ErrIdentityInUse is returned by Dial when the server's precheck found the
// announced key already connected.
var ErrIdentityInUse = errors.New("ws: identity already connected")
