package keyrelay

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/TheusHen/keyrelay/keyrelay/protocol"
	"github.com/TheusHen/keyrelay/keyrelay/session"
	"github.com/TheusHen/keyrelay/keyrelay/transport/ws"
)

// Transport names accepted in Config.Transport.
const (
	TransportWebSocket = "ws"
	TransportQUIC      = "quic"
)

// Config holds everything a Server or Client needs besides its key pair.
type Config struct {
	Listen    string
	Transport string
	// Path is the websocket endpoint path.
	Path string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
	AllowedOrigins   []string

	MessagesPerSecond float64
	Burst             int

	// CompressThreshold is the plaintext size from which clients try LZ4.
	CompressThreshold int

	LogLevel string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Listen:            ":8443",
		Transport:         TransportWebSocket,
		Path:              "/ws",
		HandshakeTimeout:  session.DefaultHandshakeTimeout,
		WriteTimeout:      session.DefaultWriteTimeout,
		ReadLimit:         ws.DefaultReadLimit,
		MessagesPerSecond: 50,
		Burst:             100,
		CompressThreshold: 256,
		LogLevel:          "info",
	}
}

// SetDefaults registers the defaults with v so that config files and
// KEYRELAY_* environment variables only need to name what they change.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("listen", d.Listen)
	v.SetDefault("transport", d.Transport)
	v.SetDefault("path", d.Path)
	v.SetDefault("handshake.timeout", d.HandshakeTimeout)
	v.SetDefault("write_timeout", d.WriteTimeout)
	v.SetDefault("read_limit", d.ReadLimit)
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("rate.messages_per_second", d.MessagesPerSecond)
	v.SetDefault("rate.burst", d.Burst)
	v.SetDefault("compression.threshold", d.CompressThreshold)
	v.SetDefault("log.level", d.LogLevel)
}

// ConfigFromViper reads a Config from v. Keys must match SetDefaults; nested
// file sections such as rate.burst land on flat fields.
func ConfigFromViper(v *viper.Viper) Config {
	return Config{
		Listen:            v.GetString("listen"),
		Transport:         v.GetString("transport"),
		Path:              v.GetString("path"),
		HandshakeTimeout:  v.GetDuration("handshake.timeout"),
		WriteTimeout:      v.GetDuration("write_timeout"),
		ReadLimit:         v.GetInt64("read_limit"),
		AllowedOrigins:    v.GetStringSlice("allowed_origins"),
		MessagesPerSecond: v.GetFloat64("rate.messages_per_second"),
		Burst:             v.GetInt("rate.burst"),
		CompressThreshold: v.GetInt("compression.threshold"),
		LogLevel:          v.GetString("log.level"),
	}
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportWebSocket, TransportQUIC:
	default:
		return fmt.Errorf("keyrelay: unknown transport %q", c.Transport)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("keyrelay: handshake timeout must be positive, got %s", c.HandshakeTimeout)
	}
	if c.ReadLimit <= 0 || c.ReadLimit > protocol.MaxEnvelopeSize {
		return fmt.Errorf("keyrelay: read limit must be in (0, %d], got %d", protocol.MaxEnvelopeSize, c.ReadLimit)
	}
	if c.MessagesPerSecond < 0 || c.Burst < 0 {
		return fmt.Errorf("keyrelay: negative rate limit")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("keyrelay: %w", err)
	}
	return nil
}

// ApplyLogLevel sets the global logrus level from LogLevel.
func (c Config) ApplyLogLevel() error {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	return nil
}

func (c Config) sessionOptions() session.Options {
	return session.Options{
		HandshakeTimeout:  c.HandshakeTimeout,
		WriteTimeout:      c.WriteTimeout,
		MessagesPerSecond: c.MessagesPerSecond,
		Burst:             c.Burst,
	}
}
