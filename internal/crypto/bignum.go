// Package crypto implements the cryptographic primitives used by the peer
// authentication protocol: big-number arithmetic, BLAKE2 hashing, SRP-6a
// math and groups, X25519 key agreement, and the AEAD message ciphers.
package crypto

import (
	"math/big"
)

// BigNum wraps an arbitrary-precision integer together with the big-endian
// byte serialization used on the wire. The zero value is invalid; values are
// constructed from bytes, hex strings, or *big.Int.
type BigNum struct {
	v *big.Int
}

// BigNumFromBytes interprets b as a big-endian unsigned integer.
// An empty slice yields an invalid BigNum.
func BigNumFromBytes(b []byte) BigNum {
	if len(b) == 0 {
		return BigNum{}
	}
	return BigNum{v: new(big.Int).SetBytes(b)}
}

// BigNumFromHex parses a hexadecimal string (without 0x prefix).
func BigNumFromHex(s string) BigNum {
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return BigNum{}
	}
	return BigNum{v: v}
}

// BigNumFromInt wraps an existing big.Int. The BigNum takes ownership.
func BigNumFromInt(v *big.Int) BigNum {
	if v == nil {
		return BigNum{}
	}
	return BigNum{v: v}
}

// IsValid reports whether the value was successfully constructed.
func (n BigNum) IsValid() bool {
	return n.v != nil
}

// Int returns the underlying big.Int, or nil for an invalid BigNum.
func (n BigNum) Int() *big.Int {
	return n.v
}

// Bytes returns the minimal big-endian serialization. Leading zero bytes are
// trimmed, so BigNumFromBytes(n.Bytes()) equals n for any valid non-zero n.
// Zero serializes to an empty slice, which BigNumFromBytes reads as invalid.
func (n BigNum) Bytes() []byte {
	if n.v == nil {
		return nil
	}
	return n.v.Bytes()
}

// PaddedBytes returns the big-endian serialization left-padded with zeros to
// size bytes. If the value does not fit, the minimal serialization is
// returned unchanged.
func (n BigNum) PaddedBytes(size int) []byte {
	b := n.Bytes()
	if len(b) >= size {
		return b
	}
	padded := make([]byte, size)
	copy(padded[size-len(b):], b)
	return padded
}

// Wipe overwrites the underlying limbs with zeros and invalidates the value.
func (n *BigNum) Wipe() {
	if n.v != nil {
		WipeBig(n.v)
		n.v = nil
	}
}

// pad left-pads the big-endian form of x to size bytes.
func pad(x *big.Int, size int) []byte {
	return BigNum{v: x}.PaddedBytes(size)
}
