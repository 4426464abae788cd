// Package stream implements the Meshtastic stream API client shared by the
// TCP and serial transports.
//
// Both media carry the same byte stream: ToRadio and FromRadio protobufs
// wrapped in 0x94 0xC3 frames. Serial links also interleave the radio's
// plain-text console output between frames; the reader skips it. A session
// starts with a want_config_id request and is ready once the radio echoes
// the same id in config_complete_id.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kabili207/lnatest/core"
	"github.com/kabili207/lnatest/core/codec"
	"github.com/kabili207/lnatest/core/identity"
	"github.com/kabili207/lnatest/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Client)(nil)

const (
	// DefaultConfigTimeout bounds the config handshake.
	DefaultConfigTimeout = 15 * time.Second
	// DefaultHeartbeatInterval is how often a heartbeat is sent to keep the
	// radio's API session alive.
	DefaultHeartbeatInterval = 5 * time.Minute
	// DefaultFrameBuffer is the capacity of the inbound frame channel.
	DefaultFrameBuffer = 256
	// TracerouteHopLimit is the hop limit set on traceroute requests.
	TracerouteHopLimit = 6

	// readBufSize is the size of the read buffer.
	readBufSize = 1024
)

var ErrConfigTimeout = errors.New("timed out waiting for config complete")

// DialFunc opens the underlying byte stream.
type DialFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// Config holds the configuration for a stream client.
type Config struct {
	// Name identifies the medium in logs (e.g. "tcp", "serial").
	Name string
	// Dial opens the connection. Required.
	Dial DialFunc
	// Preamble is written once after dialing, before the first frame.
	Preamble []byte
	// PreambleDelay is waited after writing the preamble.
	PreambleDelay time.Duration
	// ConfigTimeout bounds the config handshake. Defaults to 15s.
	ConfigTimeout time.Duration
	// HeartbeatInterval defaults to 5 minutes. Negative disables heartbeats.
	HeartbeatInterval time.Duration
	// FrameBuffer is the capacity of the frame channel. Defaults to 256.
	FrameBuffer int
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is a stream API session with one radio.
type Client struct {
	cfg Config
	log *slog.Logger

	writeMu sync.Mutex

	mu           sync.RWMutex
	conn         io.ReadWriteCloser
	connected    bool
	cancel       context.CancelFunc
	done         chan struct{}
	myNode       core.NodeID
	hasMyNode    bool
	identity     *identity.Identity
	stateHandler transport.StateHandler

	newID func() uint32
	nowFn func() time.Time
}

// New creates a new stream client with the given configuration.
func New(cfg Config) *Client {
	if cfg.Name == "" {
		cfg.Name = "stream"
	}
	if cfg.ConfigTimeout == 0 {
		cfg.ConfigTimeout = DefaultConfigTimeout
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = DefaultFrameBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		cfg:   cfg,
		log:   cfg.Logger.WithGroup(cfg.Name),
		newID: randomID,
		nowFn: time.Now,
	}
}

func randomID() uint32 {
	for {
		if id := rand.Uint32(); id != 0 {
			return id
		}
	}
}

// SetStateHandler sets the callback for transport state changes.
func (c *Client) SetStateHandler(fn transport.StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateHandler = fn
}

// SetIdentity sets the client identity logged with outgoing admin packets.
func (c *Client) SetIdentity(id *identity.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = id
}

// MyNodeNum returns the attached radio's node number, once known.
func (c *Client) MyNodeNum() (core.NodeID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.myNode, c.hasMyNode
}

// IsConnected returns true if the session is established.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Connect dials the radio, performs the config handshake and returns the
// inbound frame channel. Frames belonging to the config dump are consumed
// here; the channel carries everything after config_complete_id.
func (c *Client) Connect(ctx context.Context) (<-chan *codec.FromRadio, error) {
	if c.cfg.Dial == nil {
		return nil, errors.New("no dialer configured")
	}
	if c.IsConnected() {
		return nil, transport.ErrAlreadyConnected
	}

	raw, err := c.cfg.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", c.cfg.Name, err)
	}
	conn := &onceConn{ReadWriteCloser: raw}

	if len(c.cfg.Preamble) > 0 {
		if _, err := conn.Write(c.cfg.Preamble); err != nil {
			conn.Close()
			return nil, fmt.Errorf("writing wake preamble: %w", err)
		}
		if c.cfg.PreambleDelay > 0 {
			time.Sleep(c.cfg.PreambleDelay)
		}
	}

	frames := make(chan *codec.FromRadio, c.cfg.FrameBuffer)
	readCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.hasMyNode = false
	c.mu.Unlock()

	go c.readLoop(readCtx, conn, frames)

	if err := c.handshake(ctx, frames); err != nil {
		c.Disconnect()
		return nil, err
	}

	if c.cfg.HeartbeatInterval > 0 {
		go c.heartbeatLoop(readCtx)
	}

	node, _ := c.MyNodeNum()
	c.log.Info("connected to radio", "node", node)
	c.notify(transport.EventConnected)

	return frames, nil
}

func (c *Client) handshake(ctx context.Context, frames <-chan *codec.FromRadio) error {
	nonce := c.newID()
	if err := c.writeToRadio(ctx, &codec.ToRadio{WantConfigID: nonce}); err != nil {
		return fmt.Errorf("requesting config: %w", err)
	}

	timer := time.NewTimer(c.cfg.ConfigTimeout)
	defer timer.Stop()

	dumped := 0
	for {
		select {
		case msg, ok := <-frames:
			if !ok {
				return fmt.Errorf("%s: connection closed during config handshake", c.cfg.Name)
			}
			if msg.ConfigCompleteID == nonce {
				c.log.Debug("config handshake complete", "frames", dumped)
				return nil
			}
			dumped++
		case <-timer.C:
			return ErrConfigTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Disconnect tells the radio the session is over and closes the link.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	done := c.done
	wasConnected := c.connected
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	if wasConnected {
		ctx, stop := context.WithTimeout(context.Background(), time.Second)
		if err := c.writeToRadio(ctx, &codec.ToRadio{Disconnect: true}); err != nil {
			c.log.Debug("failed to send disconnect", "error", err)
		}
		stop()
	}

	c.mu.Lock()
	c.connected = false
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := conn.Close()

	// Wait for read loop to finish
	if done != nil {
		<-done
	}

	if wasConnected {
		c.notify(transport.EventDisconnected)
	}

	if err != nil {
		return fmt.Errorf("closing %s: %w", c.cfg.Name, err)
	}
	return nil
}

// onceConn makes Close idempotent; the read loop and Disconnect both close
// the connection.
type onceConn struct {
	io.ReadWriteCloser
	once sync.Once
	err  error
}

func (o *onceConn) Close() error {
	o.once.Do(func() { o.err = o.ReadWriteCloser.Close() })
	return o.err
}

func (o *onceConn) SetWriteDeadline(t time.Time) error {
	if wd, ok := o.ReadWriteCloser.(writeDeadliner); ok {
		return wd.SetWriteDeadline(t)
	}
	return nil
}

// SendPacket wraps packet in a ToRadio message and writes it to the radio.
func (c *Client) SendPacket(ctx context.Context, packet *codec.MeshPacket) error {
	if packet.ID == 0 {
		packet.ID = c.newID()
	}
	if err := c.writeToRadio(ctx, &codec.ToRadio{Packet: packet}); err != nil {
		return err
	}
	c.log.Debug("packet sent", "to", core.NodeID(packet.To), "id", packet.ID, "port", packet.PortNum())
	return nil
}

// SendAdmin sends an admin message to dest as a reliable, PKI-flagged
// packet. Node 0 is replaced with the local node number once known.
func (c *Client) SendAdmin(ctx context.Context, dest core.NodeID, msg *codec.AdminMessage) error {
	c.mu.RLock()
	id := c.identity
	if dest == 0 && c.hasMyNode {
		dest = c.myNode
	}
	c.mu.RUnlock()

	packet := &codec.MeshPacket{
		To:           uint32(dest),
		RxTime:       uint32(c.nowFn().Unix()),
		WantAck:      true,
		Priority:     codec.PriorityReliable,
		PKIEncrypted: true,
		Decoded: &codec.Data{
			PortNum:      codec.PortNumAdmin,
			Payload:      msg.Marshal(),
			WantResponse: true,
			Dest:         uint32(dest),
		},
	}
	// public_key names the destination's key; the firmware rejects
	// packets whose key differs from the one it holds for dest.
	log := c.log
	if id != nil {
		log = log.With("signer", id.PublicKeyBase64())
	}
	log.Debug("sending admin message", "to", dest, "kind", msg.Kind(), "keyed", len(msg.SessionPasskey) > 0)
	return c.SendPacket(ctx, packet)
}

// SendTraceroute sends an empty route discovery request to dest.
func (c *Client) SendTraceroute(ctx context.Context, dest core.NodeID) error {
	packet := &codec.MeshPacket{
		To:       uint32(dest),
		RxTime:   uint32(c.nowFn().Unix()),
		WantAck:  true,
		HopLimit: TracerouteHopLimit,
		Decoded: &codec.Data{
			PortNum:      codec.PortNumTraceroute,
			Payload:      (&codec.RouteDiscovery{}).Marshal(),
			WantResponse: true,
		},
	}
	c.log.Debug("sending traceroute", "to", dest)
	return c.SendPacket(ctx, packet)
}

// SendHeartbeat writes a heartbeat message.
func (c *Client) SendHeartbeat(ctx context.Context) error {
	return c.writeToRadio(ctx, &codec.ToRadio{Heartbeat: true})
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

func (c *Client) writeToRadio(ctx context.Context, msg *codec.ToRadio) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	frame, err := codec.EncodeStreamFrame(msg.Marshal())
	if err != nil {
		return fmt.Errorf("encoding stream frame: %w", err)
	}

	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()

	if !connected || conn == nil {
		return transport.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if wd, ok := conn.(writeDeadliner); ok {
		if dl, ok := ctx.Deadline(); ok {
			wd.SetWriteDeadline(dl)
			defer wd.SetWriteDeadline(time.Time{})
		}
	}

	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("writing to %s: %w", c.cfg.Name, err)
	}
	return nil
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.SendHeartbeat(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.log.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// readLoop reads from the connection, assembles frames and delivers them
// until the context is cancelled or the connection fails. It closes frames
// on exit.
func (c *Client) readLoop(ctx context.Context, conn io.ReadWriteCloser, frames chan<- *codec.FromRadio) {
	c.mu.RLock()
	done := c.done
	c.mu.RUnlock()
	defer close(done)
	defer close(frames)

	// Unblock the pending Read when the session context ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, readBufSize)
	var assemblyBuf []byte

	deliver := func(msg *codec.FromRadio) {
		c.observe(msg)
		select {
		case frames <- msg:
		case <-ctx.Done():
		}
	}

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			assemblyBuf = append(assemblyBuf, buf[:n]...)
			assemblyBuf = c.processFrames(assemblyBuf, deliver)
		}
		if err != nil {
			if ctx.Err() != nil {
				return // context cancelled, clean shutdown
			}
			c.handleDisconnect(err)
			return
		}
	}
}

// processFrames extracts complete frames from the buffer and passes each
// decoded FromRadio to emit. Returns any remaining bytes that don't form a
// complete frame.
func (c *Client) processFrames(data []byte, emit func(*codec.FromRadio)) []byte {
	for len(data) > 0 {
		idx := codec.FindStreamMagic(data)
		if idx < 0 {
			// Keep a trailing start byte; its partner may be in the next read.
			if data[len(data)-1] == codec.StreamStart1 {
				c.logConsole(data[:len(data)-1])
				return data[len(data)-1:]
			}
			c.logConsole(data)
			return nil
		}
		if idx > 0 {
			c.logConsole(data[:idx])
			data = data[idx:]
		}

		frame, remaining, err := codec.DecodeStreamFrame(data)
		if err != nil {
			if errors.Is(err, codec.ErrIncompleteFrame) || errors.Is(err, codec.ErrFrameTooShort) {
				return data // wait for more data
			}
			// Bad frame; resync past this magic.
			c.log.Debug("dropping bad frame", "error", err)
			data = data[1:]
			continue
		}
		data = remaining

		msg, err := codec.UnmarshalFromRadio(frame.Payload)
		if err != nil {
			c.log.Debug("failed to parse FromRadio", "error", err)
			continue
		}
		emit(msg)
	}
	return data
}

// observe records session-level information carried by a frame.
func (c *Client) observe(msg *codec.FromRadio) {
	if msg.MyInfo != nil && msg.MyInfo.MyNodeNum != 0 {
		c.mu.Lock()
		c.myNode = core.NodeID(msg.MyInfo.MyNodeNum)
		c.hasMyNode = true
		c.mu.Unlock()
	}
	if msg.Rebooted {
		c.log.Warn("radio reported a reboot")
		c.notify(transport.EventRebooted)
	}
}

func (c *Client) logConsole(b []byte) {
	text := bytes.TrimSpace(b)
	if len(text) == 0 || !c.log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for line := range bytes.SplitSeq(text, []byte("\n")) {
		if line = bytes.TrimSpace(line); len(line) > 0 {
			c.log.Debug("device console", "line", string(line))
		}
	}
}

func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	if err != nil && !errors.Is(err, io.EOF) {
		c.log.Error("connection lost", "error", err)
		c.notify(transport.EventError)
	} else {
		c.log.Warn("radio closed the connection")
	}
	c.notify(transport.EventDisconnected)
}

func (c *Client) notify(e transport.Event) {
	c.mu.RLock()
	handler := c.stateHandler
	c.mu.RUnlock()

	if handler != nil {
		handler(c, e)
	}
}
