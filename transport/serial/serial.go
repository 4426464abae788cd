// Package serial provides a serial transport for Meshtastic radios attached
// over USB.
//
// The radio speaks the same stream API as on TCP, but its console log is
// interleaved with the frames and it may be asleep when the port opens. The
// transport sends a run of 0xC3 bytes to wake it before the handshake.
package serial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kabili207/lnatest/core/codec"
	"github.com/kabili207/lnatest/transport"
	"github.com/kabili207/lnatest/transport/stream"
	"go.bug.st/serial"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultBaudRate is the default baud rate for Meshtastic serial connections.
	DefaultBaudRate = 115200

	// wakeLen is the number of 0xC3 bytes sent to wake the radio.
	wakeLen = 32
	// wakeDelay is how long the radio needs after the wake bytes.
	wakeDelay = 100 * time.Millisecond
)

// Config holds the configuration for a serial transport.
type Config struct {
	// Port is the serial port path (e.g., "/dev/ttyUSB0" or "COM3").
	Port string
	// BaudRate is the serial baud rate. Defaults to 115200.
	BaudRate int
	// ConfigTimeout bounds the config handshake. Defaults to 15s.
	ConfigTimeout time.Duration
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over a serial connection.
type Transport struct {
	*stream.Client
	cfg  Config
	log  *slog.Logger
	open func(port string, baud int) (io.ReadWriteCloser, error)
}

// New creates a new serial transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	t := &Transport{
		cfg:  cfg,
		log:  cfg.Logger.WithGroup("serial"),
		open: openPort,
	}
	t.Client = stream.New(stream.Config{
		Name:          "serial",
		Dial:          t.dial,
		Preamble:      WakePreamble(),
		PreambleDelay: wakeDelay,
		ConfigTimeout: cfg.ConfigTimeout,
		Logger:        cfg.Logger,
	})
	return t
}

// WakePreamble returns the byte run written before the first frame.
func WakePreamble() []byte {
	return bytes.Repeat([]byte{codec.StreamStart2}, wakeLen)
}

func (t *Transport) dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if t.cfg.Port == "" {
		return nil, errors.New("serial port is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := t.open(t.cfg.Port, t.cfg.BaudRate)
	if err != nil {
		return nil, fmt.Errorf("opening serial port: %w", err)
	}

	t.log.Info("opened serial port", "port", t.cfg.Port, "baud", t.cfg.BaudRate)
	return port, nil
}

func openPort(name string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	// Drop whatever the radio logged before we attached.
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return ports, nil
}
