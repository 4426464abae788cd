package identity

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"

	"filippo.io/edwards25519"
)

const testKey = "EP7uGaSlaoJHVp5wYVzv5O6fQQNx+q8yb9OshyMANmU="

// montgomeryPublicKey computes the X25519 public key by an independent
// route: clamped scalar times the Ed25519 base point, converted to its
// Montgomery u-coordinate.
func montgomeryPublicKey(t *testing.T, priv []byte) []byte {
	t.Helper()
	s, err := edwards25519.NewScalar().SetBytesWithClamping(priv)
	if err != nil {
		t.Fatalf("SetBytesWithClamping() error = %v", err)
	}
	return new(edwards25519.Point).ScalarBaseMult(s).BytesMontgomery()
}

func TestFromBase64(t *testing.T) {
	id, err := FromBase64(testKey)
	if err != nil {
		t.Fatalf("FromBase64() error = %v", err)
	}
	if len(id.PrivateKey) != KeySize || len(id.PublicKey) != KeySize {
		t.Fatalf("key sizes = %d/%d", len(id.PrivateKey), len(id.PublicKey))
	}

	want := montgomeryPublicKey(t, id.PrivateKey)
	if !bytes.Equal(id.PublicKey, want) {
		t.Errorf("PublicKey = %x, want %x", id.PublicKey, want)
	}
	if id.PublicKeyBase64() != base64.StdEncoding.EncodeToString(want) {
		t.Error("PublicKeyBase64() mismatch")
	}
}

func TestFromPrivateKey_RandomMatchesMontgomery(t *testing.T) {
	for range 8 {
		priv := make([]byte, KeySize)
		if _, err := rand.Read(priv); err != nil {
			t.Fatal(err)
		}
		id, err := FromPrivateKey(priv)
		if err != nil {
			t.Fatalf("FromPrivateKey() error = %v", err)
		}
		if want := montgomeryPublicKey(t, priv); !bytes.Equal(id.PublicKey, want) {
			t.Errorf("PublicKey = %x, want %x", id.PublicKey, want)
		}
	}
}

func TestFromPrivateKey_CopiesInput(t *testing.T) {
	priv, _ := base64.StdEncoding.DecodeString(testKey)
	id, err := FromPrivateKey(priv)
	if err != nil {
		t.Fatalf("FromPrivateKey() error = %v", err)
	}
	priv[0] ^= 0xFF
	if id.PrivateKey[0] == priv[0] {
		t.Error("identity shares the caller's buffer")
	}
}

func TestFromPrivateKey_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		priv    []byte
		wantErr error
	}{
		{"short", make([]byte, 16), ErrInvalidPrivKeySize},
		{"long", make([]byte, 64), ErrInvalidPrivKeySize},
		{"zero", make([]byte, 32), ErrZeroPrivKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromPrivateKey(tt.priv)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFromBase64_BadEncoding(t *testing.T) {
	if _, err := FromBase64("not base64!"); err == nil {
		t.Error("expected decode error")
	}
}

func TestMatchesPublicKey(t *testing.T) {
	id, _ := FromBase64(testKey)
	if !id.MatchesPublicKey(bytes.Clone(id.PublicKey)) {
		t.Error("own public key should match")
	}
	if id.MatchesPublicKey(make([]byte, KeySize)) {
		t.Error("zero key should not match")
	}
	if id.MatchesPublicKey(nil) {
		t.Error("empty key should not match")
	}
	var none *Identity
	if none.MatchesPublicKey(id.PublicKey) {
		t.Error("nil identity should not match")
	}
}
