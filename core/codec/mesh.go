package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// PortNum identifies the application a Data payload belongs to.
type PortNum uint32

const (
	PortNumUnknown    PortNum = 0
	PortNumTextApp    PortNum = 1
	PortNumRemoteHW   PortNum = 2
	PortNumPosition   PortNum = 3
	PortNumNodeInfo   PortNum = 4
	PortNumRouting    PortNum = 5
	PortNumAdmin      PortNum = 6
	PortNumTraceroute PortNum = 70
)

func (p PortNum) String() string {
	switch p {
	case PortNumUnknown:
		return "unknown"
	case PortNumTextApp:
		return "text"
	case PortNumRemoteHW:
		return "remote_hardware"
	case PortNumPosition:
		return "position"
	case PortNumNodeInfo:
		return "nodeinfo"
	case PortNumRouting:
		return "routing"
	case PortNumAdmin:
		return "admin"
	case PortNumTraceroute:
		return "traceroute"
	default:
		return fmt.Sprintf("port(%d)", uint32(p))
	}
}

// Priority values from MeshPacket.Priority.
const (
	PriorityDefault  uint32 = 64
	PriorityReliable uint32 = 70
)

// Data is the decoded payload of a MeshPacket.
type Data struct {
	PortNum      PortNum
	Payload      []byte
	WantResponse bool
	Dest         uint32
	Source       uint32
	RequestID    uint32
}

func (d *Data) appendTo(b []byte) []byte {
	b = appendUint32(b, 1, uint32(d.PortNum))
	b = appendBytes(b, 2, d.Payload)
	b = appendBool(b, 3, d.WantResponse)
	b = appendFixed32(b, 4, d.Dest)
	b = appendFixed32(b, 5, d.Source)
	b = appendFixed32(b, 6, d.RequestID)
	return b
}

func unmarshalData(b []byte) (*Data, error) {
	d := &Data{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			var p uint32
			n := consumeUint32(typ, v, &p)
			d.PortNum = PortNum(p)
			return n, nil
		case 2:
			return consumeBytes(typ, v, &d.Payload), nil
		case 3:
			return consumeBool(typ, v, &d.WantResponse), nil
		case 4:
			return consumeFixed32(typ, v, &d.Dest), nil
		case 5:
			return consumeFixed32(typ, v, &d.Source), nil
		case 6:
			return consumeFixed32(typ, v, &d.RequestID), nil
		}
		return 0, nil
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	return d, nil
}

// MeshPacket is a packet travelling over the mesh. Only decoded (plaintext)
// payloads are interpreted; Encrypted carries the opaque bytes otherwise.
type MeshPacket struct {
	From         uint32
	To           uint32
	Channel      uint32
	Decoded      *Data
	Encrypted    []byte
	ID           uint32
	RxTime       uint32
	RxSNR        float32
	HopLimit     uint32
	WantAck      bool
	Priority     uint32
	RxRSSI       int32
	HopStart     uint32
	PublicKey    []byte
	PKIEncrypted bool
}

func (p *MeshPacket) appendTo(b []byte) []byte {
	b = appendFixed32(b, 1, p.From)
	b = appendFixed32(b, 2, p.To)
	b = appendUint32(b, 3, p.Channel)
	if p.Decoded != nil {
		b = appendMessage(b, 4, p.Decoded.appendTo(nil))
	} else if len(p.Encrypted) > 0 {
		b = appendBytes(b, 5, p.Encrypted)
	}
	b = appendFixed32(b, 6, p.ID)
	b = appendFixed32(b, 7, p.RxTime)
	b = appendFloat(b, 8, p.RxSNR)
	b = appendUint32(b, 9, p.HopLimit)
	b = appendBool(b, 10, p.WantAck)
	b = appendUint32(b, 11, p.Priority)
	b = appendInt32(b, 12, p.RxRSSI)
	b = appendUint32(b, 15, p.HopStart)
	b = appendBytes(b, 16, p.PublicKey)
	b = appendBool(b, 17, p.PKIEncrypted)
	return b
}

func unmarshalMeshPacket(b []byte) (*MeshPacket, error) {
	p := &MeshPacket{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return consumeFixed32(typ, v, &p.From), nil
		case 2:
			return consumeFixed32(typ, v, &p.To), nil
		case 3:
			return consumeUint32(typ, v, &p.Channel), nil
		case 4:
			body, n := consumeMessage(typ, v)
			if n <= 0 {
				return n, nil
			}
			d, err := unmarshalData(body)
			if err != nil {
				return 0, err
			}
			p.Decoded = d
			return n, nil
		case 5:
			return consumeBytes(typ, v, &p.Encrypted), nil
		case 6:
			return consumeFixed32(typ, v, &p.ID), nil
		case 7:
			return consumeFixed32(typ, v, &p.RxTime), nil
		case 8:
			return consumeFloat(typ, v, &p.RxSNR), nil
		case 9:
			return consumeUint32(typ, v, &p.HopLimit), nil
		case 10:
			return consumeBool(typ, v, &p.WantAck), nil
		case 11:
			return consumeUint32(typ, v, &p.Priority), nil
		case 12:
			return consumeInt32(typ, v, &p.RxRSSI), nil
		case 15:
			return consumeUint32(typ, v, &p.HopStart), nil
		case 16:
			return consumeBytes(typ, v, &p.PublicKey), nil
		case 17:
			return consumeBool(typ, v, &p.PKIEncrypted), nil
		}
		return 0, nil
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("mesh packet: %w", err)
	}
	return p, nil
}

// PortNum returns the application port of a decoded packet, or
// PortNumUnknown if the payload is encrypted or missing.
func (p *MeshPacket) PortNum() PortNum {
	if p == nil || p.Decoded == nil {
		return PortNumUnknown
	}
	return p.Decoded.PortNum
}

// MyNodeInfo describes the radio the client is attached to.
type MyNodeInfo struct {
	MyNodeNum uint32
}

// FromRadio is a message sent by the radio to the client.
type FromRadio struct {
	ID               uint32
	Packet           *MeshPacket
	MyInfo           *MyNodeInfo
	ConfigCompleteID uint32
	Rebooted         bool
}

// Marshal encodes the message.
func (m *FromRadio) Marshal() []byte {
	var b []byte
	b = appendUint32(b, 1, m.ID)
	if m.Packet != nil {
		b = appendMessage(b, 2, m.Packet.appendTo(nil))
	}
	if m.MyInfo != nil {
		b = appendMessage(b, 3, appendUint32(nil, 1, m.MyInfo.MyNodeNum))
	}
	b = appendUint32(b, 7, m.ConfigCompleteID)
	b = appendBool(b, 8, m.Rebooted)
	return b
}

// UnmarshalFromRadio decodes a FromRadio message. Variants that are not
// modelled (node db entries, channels, log records...) decode to a message
// with all fields unset.
func UnmarshalFromRadio(b []byte) (*FromRadio, error) {
	m := &FromRadio{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return consumeUint32(typ, v, &m.ID), nil
		case 2:
			body, n := consumeMessage(typ, v)
			if n <= 0 {
				return n, nil
			}
			p, err := unmarshalMeshPacket(body)
			if err != nil {
				return 0, err
			}
			m.Packet = p
			return n, nil
		case 3:
			body, n := consumeMessage(typ, v)
			if n <= 0 {
				return n, nil
			}
			info := &MyNodeInfo{}
			err := walkFields(body, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
				if num == 1 {
					return consumeUint32(typ, v, &info.MyNodeNum), nil
				}
				return 0, nil
			}, nil)
			if err != nil {
				return 0, fmt.Errorf("my_info: %w", err)
			}
			m.MyInfo = info
			return n, nil
		case 7:
			return consumeUint32(typ, v, &m.ConfigCompleteID), nil
		case 8:
			return consumeBool(typ, v, &m.Rebooted), nil
		}
		return 0, nil
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("from radio: %w", err)
	}
	return m, nil
}

// ToRadio is a message sent by the client to the radio.
type ToRadio struct {
	Packet       *MeshPacket
	WantConfigID uint32
	Disconnect   bool
	Heartbeat    bool
}

// Marshal encodes the message.
func (m *ToRadio) Marshal() []byte {
	var b []byte
	if m.Packet != nil {
		b = appendMessage(b, 1, m.Packet.appendTo(nil))
	}
	b = appendUint32(b, 3, m.WantConfigID)
	b = appendBool(b, 4, m.Disconnect)
	if m.Heartbeat {
		b = appendMessage(b, 7, nil)
	}
	return b
}

// UnmarshalToRadio decodes a ToRadio message.
func UnmarshalToRadio(b []byte) (*ToRadio, error) {
	m := &ToRadio{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			body, n := consumeMessage(typ, v)
			if n <= 0 {
				return n, nil
			}
			p, err := unmarshalMeshPacket(body)
			if err != nil {
				return 0, err
			}
			m.Packet = p
			return n, nil
		case 3:
			return consumeUint32(typ, v, &m.WantConfigID), nil
		case 4:
			return consumeBool(typ, v, &m.Disconnect), nil
		case 7:
			_, n := consumeMessage(typ, v)
			if n > 0 {
				m.Heartbeat = true
			}
			return n, nil
		}
		return 0, nil
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("to radio: %w", err)
	}
	return m, nil
}
