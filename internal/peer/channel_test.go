package peer

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmpoep/aspia/internal/crypto"
	"github.com/jmpoep/aspia/pkg/proto"
)

type handshakeResult struct {
	code proto.ErrorCode
	err  error
	key  []byte
}

// runHandshake wires a server and client authenticator back to back over an
// in-memory connection and returns both outcomes.
func runHandshake(t *testing.T, server *ServerAuthenticator, client *ClientAuthenticator) (serverRes, clientRes handshakeResult) {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	serverChannel := NewChannel(serverConn, nil)
	clientChannel := NewChannel(clientConn, nil)
	defer serverChannel.Close()
	defer clientChannel.Close()

	done := make(chan handshakeResult, 1)
	go func() {
		code, err := serverChannel.Authenticate(server)
		done <- handshakeResult{code: code, err: err, key: server.SessionKey()}
	}()

	code, err := clientChannel.Authenticate(client)
	clientRes = handshakeResult{code: code, err: err, key: client.SessionKey()}
	serverRes = <-done

	if serverRes.code == proto.Success && clientRes.code == proto.Success {
		// Exercise the installed ciphers once in each direction. The pipe is
		// unbuffered, so each receive runs on its own goroutine while the
		// other side sends.
		type received struct {
			frame []byte
			err   error
		}
		got := make(chan received, 1)

		go func() {
			frame, err := serverChannel.Receive()
			got <- received{frame: frame, err: err}
		}()
		require.NoError(t, clientChannel.Send([]byte("ping")))
		r := <-got
		require.NoError(t, r.err)
		require.Equal(t, []byte("ping"), r.frame)

		go func() {
			frame, err := clientChannel.Receive()
			got <- received{frame: frame, err: err}
		}()
		require.NoError(t, serverChannel.Send([]byte("pong")))
		r = <-got
		require.NoError(t, r.err)
		require.Equal(t, []byte("pong"), r.frame)
	}
	return serverRes, clientRes
}

func newTestServer(t *testing.T, users []User, configure func(*ServerAuthenticator)) *ServerAuthenticator {
	t.Helper()

	server := NewServerAuthenticator(nil)
	server.hasHardwareAES = func() bool { return false }

	userList, err := NewUserList(users)
	require.NoError(t, err)
	require.NoError(t, server.SetUserList(userList))

	if configure != nil {
		configure(server)
	}
	return server
}

func TestEndToEndSRP(t *testing.T) {
	user, err := CreateUser("alice", "correct horse", 3072, 0b0101)
	require.NoError(t, err)

	server := newTestServer(t, []User{user}, nil)

	client := NewClientAuthenticator(nil)
	require.NoError(t, client.SetUserName("alice"))
	require.NoError(t, client.SetPassword("correct horse"))
	require.NoError(t, client.SetSessionType(0b0100))

	serverRes, clientRes := runHandshake(t, server, client)

	require.NoError(t, serverRes.err)
	require.NoError(t, clientRes.err)
	assert.Equal(t, proto.Success, serverRes.code)
	assert.Equal(t, proto.Success, clientRes.code)

	require.Len(t, serverRes.key, 32)
	assert.Equal(t, serverRes.key, clientRes.key, "both sides must derive the same session key")
	assert.Equal(t, uint32(2), server.SessionType())
	assert.Equal(t, uint32(0b0101), client.ServerSessionTypes())
}

func TestEndToEndSRPWithKeyExchange(t *testing.T) {
	user, err := CreateUser("alice", "pw", 2048, 1)
	require.NoError(t, err)

	priv, err := crypto.RandomBytes(32)
	require.NoError(t, err)

	server := newTestServer(t, []User{user}, func(s *ServerAuthenticator) {
		require.NoError(t, s.SetPrivateKey(priv))
	})

	serverKP, err := crypto.KeyPairFromPrivateKey(priv)
	require.NoError(t, err)

	client := NewClientAuthenticator(nil)
	require.NoError(t, client.SetUserName("alice"))
	require.NoError(t, client.SetPassword("pw"))
	require.NoError(t, client.SetSessionType(1))
	require.NoError(t, client.SetPeerPublicKey(serverKP.PublicKey()))

	serverRes, clientRes := runHandshake(t, server, client)

	require.NoError(t, serverRes.err)
	require.NoError(t, clientRes.err)
	assert.Equal(t, proto.Success, serverRes.code)
	assert.Equal(t, proto.Success, clientRes.code)
	assert.Equal(t, serverRes.key, clientRes.key)
}

func TestEndToEndSessionKeyBoundToBothLegs(t *testing.T) {
	// The same account authenticating with and without the ephemeral key
	// exchange must not end up with a key derivable from the SRP leg alone.
	user, err := CreateUser("alice", "pw", 2048, 1)
	require.NoError(t, err)

	plain := newTestServer(t, []User{user}, nil)
	clientPlain := NewClientAuthenticator(nil)
	require.NoError(t, clientPlain.SetUserName("alice"))
	require.NoError(t, clientPlain.SetPassword("pw"))
	require.NoError(t, clientPlain.SetSessionType(1))

	plainRes, _ := runHandshake(t, plain, clientPlain)
	require.Equal(t, proto.Success, plainRes.code)

	priv, err := crypto.RandomBytes(32)
	require.NoError(t, err)
	mixed := newTestServer(t, []User{user}, func(s *ServerAuthenticator) {
		require.NoError(t, s.SetPrivateKey(priv))
	})
	serverKP, err := crypto.KeyPairFromPrivateKey(priv)
	require.NoError(t, err)

	clientMixed := NewClientAuthenticator(nil)
	require.NoError(t, clientMixed.SetUserName("alice"))
	require.NoError(t, clientMixed.SetPassword("pw"))
	require.NoError(t, clientMixed.SetSessionType(1))
	require.NoError(t, clientMixed.SetPeerPublicKey(serverKP.PublicKey()))

	mixedRes, mixedClientRes := runHandshake(t, mixed, clientMixed)
	require.Equal(t, proto.Success, mixedRes.code)

	assert.Equal(t, mixedRes.key, mixedClientRes.key)
	assert.NotEqual(t, plainRes.key, mixedRes.key)
}

func TestEndToEndAnonymous(t *testing.T) {
	priv, err := crypto.RandomBytes(32)
	require.NoError(t, err)

	server := newTestServer(t, nil, func(s *ServerAuthenticator) {
		require.NoError(t, s.SetPrivateKey(priv))
		require.NoError(t, s.SetAnonymousAccess(AnonymousAccessEnable, 0b0101))
	})

	serverKP, err := crypto.KeyPairFromPrivateKey(priv)
	require.NoError(t, err)

	client := NewClientAuthenticator(nil)
	require.NoError(t, client.SetIdentify(proto.IdentifyAnonymous))
	require.NoError(t, client.SetSessionType(0b0100))
	require.NoError(t, client.SetPeerPublicKey(serverKP.PublicKey()))

	serverRes, clientRes := runHandshake(t, server, client)

	require.NoError(t, serverRes.err)
	require.NoError(t, clientRes.err)
	assert.Equal(t, proto.Success, serverRes.code)
	assert.Equal(t, proto.Success, clientRes.code)
	assert.Equal(t, serverRes.key, clientRes.key)
	assert.Equal(t, uint32(2), server.SessionType())
	assert.Empty(t, server.UserName())
}

func TestEndToEndUnknownUserDenied(t *testing.T) {
	server := newTestServer(t, nil, nil)

	client := NewClientAuthenticator(nil)
	require.NoError(t, client.SetUserName("ghost"))
	require.NoError(t, client.SetPassword("anything"))
	require.NoError(t, client.SetSessionType(1))

	serverRes, _ := runHandshake(t, server, client)

	require.NoError(t, serverRes.err)
	assert.Equal(t, proto.SessionDenied, serverRes.code, "unknown users end in SESSION_DENIED, never ACCESS_DENIED")
}
