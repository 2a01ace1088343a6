package crypto

import (
	"hash"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
)

// HashType selects the hash function for a Hash instance.
type HashType int

// Hash functions used by the handshake.
const (
	// Blake2b512 is BLAKE2b with a 64-byte digest. Used for the SRP
	// scrambling and verifier hashes.
	Blake2b512 HashType = iota
	// Blake2s256 is BLAKE2s with a 32-byte digest. Used for session key
	// derivation (AES-256-GCM and ChaCha20-Poly1305 both take 256-bit keys).
	Blake2s256
)

// Hash is an incremental hash over one of the handshake hash functions.
type Hash struct {
	h hash.Hash
}

// NewHash creates an incremental hash of the given type.
func NewHash(t HashType) *Hash {
	var h hash.Hash
	switch t {
	case Blake2s256:
		h, _ = blake2s.New256(nil)
	default:
		h, _ = blake2b.New512(nil)
	}
	return &Hash{h: h}
}

// AddData feeds data into the hash.
func (h *Hash) AddData(data []byte) {
	h.h.Write(data)
}

// Result returns the digest of everything added so far.
func (h *Hash) Result() []byte {
	return h.h.Sum(nil)
}

// HashBytes returns the one-shot digest of data.
func HashBytes(t HashType, data []byte) []byte {
	h := NewHash(t)
	h.AddData(data)
	return h.Result()
}
