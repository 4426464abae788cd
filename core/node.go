package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// NodeID is a Meshtastic node number. Node numbers are 32-bit and are
// conventionally written as "!" followed by 8 lowercase hex digits.
type NodeID uint32

// Broadcast is the node number addressing every node on the mesh.
const Broadcast NodeID = 0xFFFFFFFF

var ErrInvalidNodeID = errors.New("invalid node id")

// String returns the canonical "!xxxxxxxx" form of the node number.
func (n NodeID) String() string {
	return fmt.Sprintf("!%08x", uint32(n))
}

// Uint32 returns the raw node number.
func (n NodeID) Uint32() uint32 {
	return uint32(n)
}

// ParseNodeID parses a node id in any of the accepted textual forms:
// "!hex", "0xhex" / "0Xhex", decimal, or the literal "broadcast".
func ParseNodeID(s string) (NodeID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidNodeID)
	}
	if strings.EqualFold(s, "broadcast") {
		return Broadcast, nil
	}

	digits, base := s, 10
	switch {
	case strings.HasPrefix(s, "!"):
		digits, base = s[1:], 16
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		digits, base = s[2:], 16
	}

	v, err := strconv.ParseUint(digits, base, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNodeID, s)
	}
	return NodeID(v), nil
}

// NormalizeNodeID converts any accepted textual node id into the canonical
// "!xxxxxxxx" form.
func NormalizeNodeID(s string) (string, error) {
	id, err := ParseNodeID(s)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ParseOptionalNodeID parses s if it is non-empty. The boolean reports
// whether a valid id was present.
func ParseOptionalNodeID(s string) (NodeID, bool) {
	if strings.TrimSpace(s) == "" {
		return 0, false
	}
	id, err := ParseNodeID(s)
	if err != nil {
		return 0, false
	}
	return id, true
}
