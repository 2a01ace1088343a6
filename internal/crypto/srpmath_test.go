package crypto_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmpoep/aspia/internal/crypto"
)

func TestGroupByBits(t *testing.T) {
	for _, bits := range []int{1024, 1536, 2048, 3072, 4096, 6144, 8192} {
		ng, ok := crypto.GroupByBits(bits)
		require.True(t, ok, "group %d should exist", bits)
		assert.Equal(t, bits, ng.N.BitLen(), "modulus bit length for group %d", bits)
		assert.NotNil(t, ng.G)
	}

	_, ok := crypto.GroupByBits(512)
	assert.False(t, ok)
	_, ok = crypto.GroupByBits(0)
	assert.False(t, ok)
}

func TestPhantomGroupPresent(t *testing.T) {
	ng, ok := crypto.GroupByBits(crypto.PhantomGroupBits)
	require.True(t, ok)
	assert.Equal(t, 8192, ng.N.BitLen())
}

func TestUTF16LE(t *testing.T) {
	assert.Equal(t, []byte{0x3a, 0x00}, crypto.UTF16LE(":"))
	assert.Equal(t, []byte{'a', 0x00, 'b', 0x00}, crypto.UTF16LE("ab"))
	assert.Empty(t, crypto.UTF16LE(""))
}

func TestCalcVDeterministic(t *testing.T) {
	ng, _ := crypto.GroupByBits(2048)
	salt := big.NewInt(0x1234)

	v1 := crypto.CalcV("alice", crypto.UTF16LE("secret"), salt, ng.N, ng.G)
	v2 := crypto.CalcV("alice", crypto.UTF16LE("secret"), salt, ng.N, ng.G)
	assert.Zero(t, v1.Cmp(v2))

	// Username matching is case-insensitive: the verifier hashes the
	// lowercased name.
	v3 := crypto.CalcV("Alice", crypto.UTF16LE("secret"), salt, ng.N, ng.G)
	assert.Zero(t, v1.Cmp(v3))

	v4 := crypto.CalcV("alice", crypto.UTF16LE("other"), salt, ng.N, ng.G)
	assert.NotZero(t, v1.Cmp(v4))
}

func TestVerifyAModN(t *testing.T) {
	ng, _ := crypto.GroupByBits(2048)

	assert.False(t, crypto.VerifyAModN(big.NewInt(0), ng.N))
	assert.False(t, crypto.VerifyAModN(new(big.Int).Set(ng.N), ng.N))
	assert.False(t, crypto.VerifyAModN(new(big.Int).Lsh(ng.N, 1), ng.N))
	assert.True(t, crypto.VerifyAModN(big.NewInt(2), ng.N))
}

// TestSharedSecretProperty checks the SRP-6a contract: the server key
// (A * v^u)^b and the client key (B - k*g^x)^(a + u*x) agree for matching
// parameters.
func TestSharedSecretProperty(t *testing.T) {
	for _, bits := range []int{2048, 3072} {
		t.Run(groupName(bits), func(t *testing.T) {
			ng, ok := crypto.GroupByBits(bits)
			require.True(t, ok)

			saltBytes, err := crypto.RandomBytes(64)
			require.NoError(t, err)
			salt := new(big.Int).SetBytes(saltBytes)

			const username = "alice"
			password := crypto.UTF16LE("correct horse battery staple")

			x := crypto.CalcX(salt, username, password)
			v := crypto.CalcV(username, password, salt, ng.N, ng.G)

			// Client ephemeral.
			aBytes, err := crypto.RandomBytes(128)
			require.NoError(t, err)
			a := new(big.Int).SetBytes(aBytes)
			A := new(big.Int).Exp(ng.G, a, ng.N)

			// Server ephemeral.
			bBytes, err := crypto.RandomBytes(128)
			require.NoError(t, err)
			b := new(big.Int).SetBytes(bBytes)
			B := crypto.CalcB(b, ng.N, ng.G, v)

			u := crypto.CalcU(A, B, ng.N)
			k := crypto.CalcK(ng.N, ng.G)

			serverKey := crypto.CalcServerKey(A, v, u, b, ng.N)
			clientKey := crypto.CalcClientKey(B, ng.G, x, a, u, k, ng.N)

			assert.Zero(t, serverKey.Cmp(clientKey), "server and client must derive the same secret")
		})
	}
}

func groupName(bits int) string {
	switch bits {
	case 2048:
		return "G2048"
	case 3072:
		return "G3072"
	default:
		return "other"
	}
}

func TestCalcUPadding(t *testing.T) {
	ng, _ := crypto.GroupByBits(2048)
	size := len(ng.N.Bytes())

	// Small values must be padded to the modulus width before hashing.
	h := crypto.NewHash(crypto.Blake2b512)
	h.AddData(crypto.BigNumFromInt(big.NewInt(3)).PaddedBytes(size))
	h.AddData(crypto.BigNumFromInt(big.NewInt(7)).PaddedBytes(size))
	want := new(big.Int).SetBytes(h.Result())

	u1 := crypto.CalcU(big.NewInt(3), big.NewInt(7), ng.N)
	assert.Zero(t, want.Cmp(u1))

	// The argument order matters: u(A, B) differs from u(B, A).
	u2 := crypto.CalcU(big.NewInt(7), big.NewInt(3), ng.N)
	assert.NotZero(t, u1.Cmp(u2))
}
