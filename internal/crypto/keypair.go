package crypto

import (
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeyPair is an X25519 key pair used for the optional ephemeral key exchange
// in the hello phase. The curve is fixed to X25519 for interoperability.
type KeyPair struct {
	priv []byte
	pub  []byte
}

// GenerateKeyPair creates a new random X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := RandomBytes(curve25519.ScalarSize)
	if err != nil {
		return nil, err
	}
	return KeyPairFromPrivateKey(priv)
}

// KeyPairFromPrivateKey derives the key pair from a caller-owned 32-byte
// private scalar.
func KeyPairFromPrivateKey(priv []byte) (*KeyPair, error) {
	if len(priv) != curve25519.ScalarSize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", curve25519.ScalarSize, len(priv))
	}
	scalar := make([]byte, curve25519.ScalarSize)
	copy(scalar, priv)

	pub, err := curve25519.X25519(scalar, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	return &KeyPair{priv: scalar, pub: pub}, nil
}

// IsValid reports whether the key pair holds usable key material.
func (kp *KeyPair) IsValid() bool {
	return kp != nil && len(kp.priv) == curve25519.ScalarSize && len(kp.pub) == curve25519.PointSize
}

// PublicKey returns the 32-byte public key.
func (kp *KeyPair) PublicKey() []byte {
	if !kp.IsValid() {
		return nil
	}
	return kp.pub
}

// SessionKey computes the shared secret with the peer's public key. Returns
// nil for malformed or low-order peer input.
func (kp *KeyPair) SessionKey(peerPublicKey []byte) []byte {
	if !kp.IsValid() || len(peerPublicKey) != curve25519.PointSize {
		return nil
	}
	shared, err := curve25519.X25519(kp.priv, peerPublicKey)
	if err != nil {
		return nil
	}
	return shared
}

// Wipe zeroizes the private scalar.
func (kp *KeyPair) Wipe() {
	if kp != nil {
		Memzero(kp.priv)
		kp.priv = nil
	}
}
