// Package session caches the per-device admin session passkeys observed on
// the mesh.
//
// A node includes a short-lived passkey in its admin responses and expects
// that passkey on subsequent admin requests. The store keeps the most recent
// passkey per sender, keyed by the normalized node id (see core.NormalizeNodeID).
package session

import (
	"bytes"
	"sync"

	"github.com/kabili207/lnatest/core"
	"github.com/kabili207/lnatest/core/codec"
)

// Store maps normalized node ids to session passkeys. Entries are
// overwritten on every update and never pruned; a Store lives for one run.
type Store struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewStore creates an empty session key store.
func NewStore() *Store {
	return &Store{keys: make(map[string][]byte)}
}

// Put stores the passkey for the node. Empty passkeys are ignored.
// It reports whether the stored value changed.
func (s *Store) Put(node core.NodeID, passkey []byte) bool {
	if len(passkey) == 0 {
		return false
	}
	key := node.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.keys[key]; ok && bytes.Equal(prev, passkey) {
		return false
	}
	s.keys[key] = append([]byte(nil), passkey...)
	return true
}

// Get returns a copy of the cached passkey for the node.
func (s *Store) Get(node core.NodeID) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[node.String()]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), k...), true
}

// Has reports whether a passkey is cached for the node.
func (s *Store) Has(node core.NodeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[node.String()]
	return ok
}

// Len returns the number of nodes with a cached passkey.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Harvest inspects an inbound frame and, if it carries an admin message with
// a session passkey, caches the passkey under the packet's sender. Frames
// that are not decoded admin packets, or whose payload does not parse, are
// ignored. It returns the sender and true if the store was updated.
func (s *Store) Harvest(frame *codec.FromRadio) (core.NodeID, bool) {
	if frame == nil || frame.Packet == nil || frame.Packet.PortNum() != codec.PortNumAdmin {
		return 0, false
	}
	msg, err := codec.UnmarshalAdmin(frame.Packet.Decoded.Payload)
	if err != nil || len(msg.SessionPasskey) == 0 {
		return 0, false
	}
	from := core.NodeID(frame.Packet.From)
	return from, s.Put(from, msg.SessionPasskey)
}

// Attach returns a copy of msg carrying the cached passkey for dest, if one
// is known. The original message is never modified.
func (s *Store) Attach(dest core.NodeID, msg *codec.AdminMessage) *codec.AdminMessage {
	out := msg.Clone()
	if k, ok := s.Get(dest); ok {
		out.SessionPasskey = k
	}
	return out
}
