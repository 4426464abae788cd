// Package identity holds the X25519 key pair the client presents to the
// radio for signing admin requests.
package identity

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeySize is the size of X25519 private and public keys.
const KeySize = curve25519.ScalarSize

var (
	ErrInvalidPrivKeySize = errors.New("invalid private key size: expected 32 bytes")
	ErrZeroPrivKey        = errors.New("private key is all zeros")
)

// Identity is an X25519 key pair.
type Identity struct {
	PrivateKey []byte // 32 bytes
	PublicKey  []byte // 32 bytes
}

// FromPrivateKey derives an Identity from a 32-byte X25519 private key.
func FromPrivateKey(priv []byte) (*Identity, error) {
	if len(priv) != KeySize {
		return nil, ErrInvalidPrivKeySize
	}
	if subtle.ConstantTimeCompare(priv, make([]byte, KeySize)) == 1 {
		return nil, ErrZeroPrivKey
	}
	p := bytes.Clone(priv)
	pub, err := curve25519.X25519(p, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	return &Identity{PrivateKey: p, PublicKey: pub}, nil
}

// FromBase64 decodes a standard base64 private key and derives the Identity.
func FromBase64(s string) (*Identity, error) {
	priv, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	return FromPrivateKey(priv)
}

// MatchesPublicKey reports whether pub is this identity's public key.
func (id *Identity) MatchesPublicKey(pub []byte) bool {
	return id != nil && len(pub) == KeySize && bytes.Equal(id.PublicKey, pub)
}

// PublicKeyBase64 returns the public key in standard base64.
func (id *Identity) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(id.PublicKey)
}
