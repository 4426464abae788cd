package engine

import (
	"context"
	"sync"

	"github.com/kabili207/lnatest/core"
	"github.com/kabili207/lnatest/core/codec"
	"github.com/kabili207/lnatest/core/identity"
	"github.com/kabili207/lnatest/transport"
)

const fakeLocalNode = 0x00000099

type sentAdmin struct {
	dest core.NodeID
	msg  *codec.AdminMessage
}

// fakeRadio is a transport that emulates the admin config protocol of the
// control target and answers traceroutes through onTrace.
type fakeRadio struct {
	mu     sync.Mutex
	frames chan *codec.FromRadio
	closed bool
	nextID uint32

	connectErr  error
	sendErr     error
	identity    *identity.Identity
	admin       []sentAdmin
	traces      []core.NodeID
	disconnects int

	// Control target state.
	boosted bool
	stuck   bool // writes are ignored
	silent  bool // admin requests to remote nodes get no reply
	passkey []byte

	onTrace func(r *fakeRadio, dest core.NodeID)
}

var (
	_ transport.Transport = (*fakeRadio)(nil)
	_ transport.LocalNode = (*fakeRadio)(nil)
)

func newFakeRadio() *fakeRadio {
	return &fakeRadio{
		frames:  make(chan *codec.FromRadio, 256),
		passkey: []byte{0xAA, 0xBB, 0xCC, 0xDD},
	}
}

func (r *fakeRadio) Connect(context.Context) (<-chan *codec.FromRadio, error) {
	if r.connectErr != nil {
		return nil, r.connectErr
	}
	return r.frames, nil
}

func (r *fakeRadio) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects++
	r.closeLocked()
	return nil
}

func (r *fakeRadio) MyNodeNum() (core.NodeID, bool) {
	return fakeLocalNode, true
}

func (r *fakeRadio) SetIdentity(id *identity.Identity) {
	r.mu.Lock()
	r.identity = id
	r.mu.Unlock()
}

func (r *fakeRadio) SendPacket(context.Context, *codec.MeshPacket) error {
	return r.sendErr
}

func (r *fakeRadio) SendTraceroute(_ context.Context, dest core.NodeID) error {
	r.mu.Lock()
	if r.sendErr != nil {
		r.mu.Unlock()
		return r.sendErr
	}
	r.traces = append(r.traces, dest)
	fn := r.onTrace
	r.mu.Unlock()

	if fn != nil {
		fn(r, dest)
	}
	return nil
}

func (r *fakeRadio) SendAdmin(_ context.Context, dest core.NodeID, msg *codec.AdminMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.admin = append(r.admin, sentAdmin{dest: dest, msg: msg.Clone()})

	if dest == 0 {
		if msg.GetOwnerRequest {
			r.pushAdminLocked(fakeLocalNode, &codec.AdminMessage{
				GetOwnerResponse: &codec.User{ID: "!00000099", LongName: "Base", ShortName: "BS"},
			})
		}
		return nil
	}
	if r.silent {
		return nil
	}

	switch {
	case msg.GetConfigRequest != nil && *msg.GetConfigRequest == codec.ConfigTypeSessionKey:
		r.pushAdminLocked(uint32(dest), &codec.AdminMessage{
			GetConfigResponse: &codec.Config{},
			SessionPasskey:    r.passkey,
		})
	case msg.GetConfigRequest != nil && *msg.GetConfigRequest == codec.ConfigTypeLoRa:
		r.pushAdminLocked(uint32(dest), &codec.AdminMessage{
			GetConfigResponse: &codec.Config{LoRa: &codec.LoRaConfig{UsePreset: true, RxBoostedGain: r.boosted}},
			SessionPasskey:    r.passkey,
		})
	case msg.SetConfig != nil && msg.SetConfig.LoRa != nil:
		if !r.stuck {
			r.boosted = msg.SetConfig.LoRa.RxBoostedGain
		}
	}
	return nil
}

func (r *fakeRadio) pushAdminLocked(from uint32, msg *codec.AdminMessage) {
	r.pushLocked(&codec.FromRadio{Packet: &codec.MeshPacket{
		From:    from,
		To:      fakeLocalNode,
		ID:      r.newIDLocked(),
		Decoded: &codec.Data{PortNum: codec.PortNumAdmin, Payload: msg.Marshal()},
	}})
}

// push delivers a frame to the engine.
func (r *fakeRadio) push(f *codec.FromRadio) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushLocked(f)
}

func (r *fakeRadio) pushLocked(f *codec.FromRadio) {
	if !r.closed {
		r.frames <- f
	}
}

func (r *fakeRadio) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
}

func (r *fakeRadio) closeLocked() {
	if !r.closed {
		r.closed = true
		close(r.frames)
	}
}

func (r *fakeRadio) newIDLocked() uint32 {
	r.nextID++
	return r.nextID
}

func (r *fakeRadio) isBoosted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.boosted
}

func (r *fakeRadio) sentAdmin() []sentAdmin {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentAdmin(nil), r.admin...)
}

func (r *fakeRadio) sentTraces() []core.NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.NodeID(nil), r.traces...)
}

// tracerouteFrame builds a traceroute response with a unique packet id.
func tracerouteFrame(from, id uint32, rd *codec.RouteDiscovery) *codec.FromRadio {
	return &codec.FromRadio{Packet: &codec.MeshPacket{
		From: from,
		To:   fakeLocalNode,
		ID:   id,
		Decoded: &codec.Data{
			PortNum:   codec.PortNumTraceroute,
			Payload:   rd.Marshal(),
			RequestID: 1,
		},
	}}
}
