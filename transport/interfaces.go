// Package transport defines the link between the test engine and the mesh
// radio it is attached to.
package transport

import (
	"context"
	"errors"

	"github.com/kabili207/lnatest/core"
	"github.com/kabili207/lnatest/core/codec"
	"github.com/kabili207/lnatest/core/identity"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
)

// Transport is a point-to-point link to one radio. The TCP and serial
// implementations have identical semantics.
type Transport interface {
	// Connect opens the link and performs the config handshake. The
	// returned channel carries every frame received after the handshake
	// and is closed when the link goes down. It must have a single
	// consumer. The provided context controls the link's lifetime.
	Connect(ctx context.Context) (<-chan *codec.FromRadio, error)
	// Disconnect closes the link.
	Disconnect() error
	// SendPacket transmits a mesh packet. A zero packet id is replaced by
	// a random one.
	SendPacket(ctx context.Context, packet *codec.MeshPacket) error
	// SendAdmin sends an admin message to dest. Node 0 addresses the
	// locally attached radio.
	SendAdmin(ctx context.Context, dest core.NodeID, msg *codec.AdminMessage) error
	// SetIdentity sets the client identity admin requests are sent as.
	// Its public key is never placed in the packet.
	SetIdentity(id *identity.Identity)
	// SendTraceroute asks the mesh for the route to dest.
	SendTraceroute(ctx context.Context, dest core.NodeID) error
}

// LocalNode is implemented by transports that learn the attached radio's
// node number during the handshake.
type LocalNode interface {
	MyNodeNum() (core.NodeID, bool)
}

// StateHandler is called when the transport state changes.
type StateHandler func(transport Transport, event Event)

// Event represents transport state change events.
type Event int

const (
	// EventConnected is fired when the handshake completes.
	EventConnected Event = iota
	// EventDisconnected is fired when the transport disconnects.
	EventDisconnected
	// EventRebooted is fired when the radio reports that it rebooted.
	EventRebooted
	// EventError is fired when the link fails.
	EventError
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventRebooted:
		return "rebooted"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}
