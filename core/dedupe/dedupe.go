// Package dedupe filters repeated mesh packets.
//
// A radio can deliver the same packet more than once when it is heard over
// several paths or rebroadcast. Packets are identified by their sender and
// packet id; packets without an id fall back to an 8-byte SHA256 hash of
// sender, port and payload. Recently seen keys are kept in a fixed-size
// circular buffer, so the oldest entries are forgotten first.
package dedupe

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/kabili207/lnatest/core/codec"
)

const (
	// DefaultCapacity is the default number of remembered packets.
	DefaultCapacity = 128
	// PacketHashSize is the truncated SHA256 hash size used for packets
	// without an id.
	PacketHashSize = 8
)

// Key identifies a packet for deduplication.
type Key [PacketHashSize]byte

// PacketDeduplicator tracks recently seen packets to prevent processing duplicates.
type PacketDeduplicator struct {
	keys     []Key
	used     []bool
	capacity int
	next     int
}

// New creates a new PacketDeduplicator with the default capacity.
func New() *PacketDeduplicator {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity creates a new PacketDeduplicator remembering at most
// capacity packets.
func NewWithCapacity(capacity int) *PacketDeduplicator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &PacketDeduplicator{
		keys:     make([]Key, capacity),
		used:     make([]bool, capacity),
		capacity: capacity,
	}
}

// HasSeen checks if a packet has been seen before. If not, it records the
// packet and returns false. If it has been seen, it returns true.
func (d *PacketDeduplicator) HasSeen(packet *codec.MeshPacket) bool {
	key := CalculateKey(packet)

	for i := range d.capacity {
		if d.used[i] && d.keys[i] == key {
			return true
		}
	}

	d.keys[d.next] = key
	d.used[d.next] = true
	d.next = (d.next + 1) % d.capacity
	return false
}

// Clear resets the deduplicator, forgetting all previously seen packets.
func (d *PacketDeduplicator) Clear() {
	clear(d.keys)
	clear(d.used)
	d.next = 0
}

// CalculateKey computes the deduplication key for a packet. Packets with a
// non-zero id are keyed by (from, id); the hash covers the sender, port and
// payload otherwise.
func CalculateKey(packet *codec.MeshPacket) Key {
	var k Key
	if packet.ID != 0 {
		binary.BigEndian.PutUint32(k[0:4], packet.From)
		binary.BigEndian.PutUint32(k[4:8], packet.ID)
		return k
	}

	h := sha256.New()
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], packet.From)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(packet.PortNum()))
	h.Write(hdr[:])
	if packet.Decoded != nil {
		h.Write(packet.Decoded.Payload)
	} else {
		h.Write(packet.Encrypted)
	}
	sum := h.Sum(nil)
	copy(k[:], sum[:PacketHashSize])
	return k
}
