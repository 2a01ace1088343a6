package crypto

import (
	"math/big"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// SRP-6a server-side math. All hashes are BLAKE2b-512 and all big integers
// are serialized big-endian, left-padded to |N| where a PAD is specified.
// Usernames and passwords are hashed in their UTF-16LE encoding, which is
// the protocol's canonical string representation.

// UTF16LE returns the UTF-16 little-endian encoding of s without a BOM.
func UTF16LE(s string) []byte {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	out, err := enc.Bytes([]byte(s))
	if err != nil {
		return nil
	}
	return out
}

// CalcK computes the SRP-6a multiplier k = H(N | PAD(g)).
func CalcK(N, g *big.Int) *big.Int {
	size := len(N.Bytes())

	h := NewHash(Blake2b512)
	h.AddData(N.Bytes())
	h.AddData(pad(g, size))
	return new(big.Int).SetBytes(h.Result())
}

// CalcU computes the scrambling parameter u = H(PAD(A) | PAD(B)).
func CalcU(A, B, N *big.Int) *big.Int {
	size := len(N.Bytes())

	h := NewHash(Blake2b512)
	h.AddData(pad(A, size))
	h.AddData(pad(B, size))
	return new(big.Int).SetBytes(h.Result())
}

// CalcX computes the private key x = H(s | H(I | ":" | p)). The username is
// lowercased before encoding; the password is taken as raw bytes so that
// both UTF-16LE passwords and binary seed keys hash along the same path.
func CalcX(salt *big.Int, username string, password []byte) *big.Int {
	inner := NewHash(Blake2b512)
	inner.AddData(UTF16LE(strings.ToLower(username)))
	inner.AddData(UTF16LE(":"))
	inner.AddData(password)

	outer := NewHash(Blake2b512)
	outer.AddData(salt.Bytes())
	outer.AddData(inner.Result())
	return new(big.Int).SetBytes(outer.Result())
}

// CalcV computes the verifier v = g^x mod N.
func CalcV(username string, password []byte, salt, N, g *big.Int) *big.Int {
	x := CalcX(salt, username, password)
	defer WipeBig(x)
	return new(big.Int).Exp(g, x, N)
}

// CalcB computes the server ephemeral public value B = (k*v + g^b) mod N.
func CalcB(b, N, g, v *big.Int) *big.Int {
	k := CalcK(N, g)

	kv := new(big.Int).Mul(k, v)
	kv.Mod(kv, N)

	gb := new(big.Int).Exp(g, b, N)

	B := kv.Add(kv, gb)
	return B.Mod(B, N)
}

// CalcServerKey computes the server's shared secret (A * v^u)^b mod N.
func CalcServerKey(A, v, u, b, N *big.Int) *big.Int {
	vu := new(big.Int).Exp(v, u, N)

	avu := vu.Mul(A, vu)
	avu.Mod(avu, N)

	return avu.Exp(avu, b, N)
}

// CalcClientKey computes the client's shared secret
// (B - k*g^x)^(a + u*x) mod N. It is the dual of CalcServerKey: for matching
// parameters both sides arrive at the same value.
func CalcClientKey(B, g, x, a, u, k, N *big.Int) *big.Int {
	gx := new(big.Int).Exp(g, x, N)

	kgx := gx.Mul(k, gx)
	kgx.Mod(kgx, N)

	base := new(big.Int).Sub(B, kgx)
	if base.Sign() < 0 {
		base.Add(base, N)
	}

	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, a)

	return base.Exp(base, exp, N)
}

// VerifyAModN rejects client ephemeral values congruent to zero, which would
// fix the shared secret regardless of the password.
func VerifyAModN(A, N *big.Int) bool {
	m := new(big.Int).Mod(A, N)
	return m.Sign() != 0
}
