package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmpoep/aspia/internal/crypto"
)

func TestKeyPairAgreement(t *testing.T) {
	server, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	client, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	serverShared := server.SessionKey(client.PublicKey())
	clientShared := client.SessionKey(server.PublicKey())

	require.NotEmpty(t, serverShared)
	assert.Equal(t, serverShared, clientShared)
}

func TestKeyPairFromPrivateKeyDeterministic(t *testing.T) {
	priv, err := crypto.RandomBytes(32)
	require.NoError(t, err)

	kp1, err := crypto.KeyPairFromPrivateKey(priv)
	require.NoError(t, err)
	kp2, err := crypto.KeyPairFromPrivateKey(priv)
	require.NoError(t, err)

	assert.Equal(t, kp1.PublicKey(), kp2.PublicKey())
}

func TestKeyPairFromPrivateKeyBadLength(t *testing.T) {
	_, err := crypto.KeyPairFromPrivateKey([]byte{1, 2, 3})
	assert.Error(t, err)

	_, err = crypto.KeyPairFromPrivateKey(nil)
	assert.Error(t, err)
}

func TestSessionKeyMalformedPeer(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	assert.Nil(t, kp.SessionKey(nil))
	assert.Nil(t, kp.SessionKey([]byte{1, 2, 3}))

	// All-zero point is low order; the exchange must reject it.
	assert.Nil(t, kp.SessionKey(make([]byte, 32)))
}

func TestKeyPairWipe(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	kp.Wipe()
	assert.False(t, kp.IsValid())
	assert.Nil(t, (*crypto.KeyPair)(nil).PublicKey())
}
