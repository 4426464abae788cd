// Package tcp provides a transport for Meshtastic radios reachable over the
// network (WiFi or Ethernet), using the stream API on TCP port 4403.
package tcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/kabili207/lnatest/transport"
	"github.com/kabili207/lnatest/transport/stream"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultPort is the radio's stream API port.
	DefaultPort = 4403
	// DefaultDialTimeout bounds the TCP connect.
	DefaultDialTimeout = 10 * time.Second
)

// Config holds the configuration for a TCP transport.
type Config struct {
	// Host is the radio's address. Required.
	Host string
	// Port defaults to 4403.
	Port int
	// DialTimeout defaults to 10s.
	DialTimeout time.Duration
	// ConfigTimeout bounds the config handshake. Defaults to 15s.
	ConfigTimeout time.Duration
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over TCP.
type Transport struct {
	*stream.Client
	cfg Config
}

// New creates a new TCP transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	t := &Transport{cfg: cfg}
	t.Client = stream.New(stream.Config{
		Name:          "tcp",
		Dial:          t.dial,
		ConfigTimeout: cfg.ConfigTimeout,
		Logger:        cfg.Logger,
	})
	return t
}

// Addr returns the host:port the transport dials.
func (t *Transport) Addr() string {
	return net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
}

func (t *Transport) dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if t.cfg.Host == "" {
		return nil, errors.New("host is required")
	}
	d := net.Dialer{Timeout: t.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.Addr())
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
		tc.SetKeepAlive(true)
	}
	return conn, nil
}
