package peer

import (
	"fmt"
	"math/big"

	"github.com/jmpoep/aspia/internal/crypto"
	"github.com/jmpoep/aspia/internal/logging"
	"github.com/jmpoep/aspia/pkg/proto"
)

// clientState mirrors internalState for the client side of the wire
// sequence.
type clientState int

const (
	sendClientHello clientState = iota
	readServerHello
	sendIdentify
	readServerKeyExchange
	sendClientKeyExchange
	readSessionChallenge
	sendSessionResponse
)

// ClientAuthenticator is the client side of the handshake. It exists for the
// connecting peer and doubles as the conformance driver in tests: a server
// and client wired back to back must derive the same session key.
type ClientAuthenticator struct {
	authenticator

	internalState clientState

	peerPublicKey []byte
	identify      proto.Identify
	userName      string
	password      string
	sessionType   uint32

	keyPair *crypto.KeyPair
	srpKey  []byte

	// Server challenge facts.
	serverSessionTypes uint32
}

// NewClientAuthenticator creates a stopped client authenticator.
func NewClientAuthenticator(log *logging.Logger) *ClientAuthenticator {
	a := &ClientAuthenticator{identify: proto.IdentifySRP}
	a.init(log)
	return a
}

// SetPeerPublicKey installs the server's static public key and enables the
// ephemeral key exchange in the hello phase.
func (a *ClientAuthenticator) SetPeerPublicKey(publicKey []byte) error {
	if a.state != StateStopped {
		return fmt.Errorf("peer public key can only be set while stopped")
	}
	if len(publicKey) == 0 {
		return fmt.Errorf("peer public key must not be empty")
	}
	a.peerPublicKey = publicKey
	return nil
}

// SetIdentify selects the authentication method.
func (a *ClientAuthenticator) SetIdentify(identify proto.Identify) error {
	if a.state != StateStopped {
		return fmt.Errorf("identify method can only be set while stopped")
	}
	a.identify = identify
	return nil
}

// SetUserName sets the account to authenticate as.
func (a *ClientAuthenticator) SetUserName(userName string) error {
	if a.state != StateStopped {
		return fmt.Errorf("username can only be set while stopped")
	}
	a.userName = userName
	return nil
}

// SetPassword sets the account password.
func (a *ClientAuthenticator) SetPassword(password string) error {
	if a.state != StateStopped {
		return fmt.Errorf("password can only be set while stopped")
	}
	a.password = password
	return nil
}

// SetSessionType selects the session type to request: a mask with exactly
// one bit set.
func (a *ClientAuthenticator) SetSessionType(sessionType uint32) error {
	if a.state != StateStopped {
		return fmt.Errorf("session type can only be set while stopped")
	}
	a.sessionType = sessionType
	return nil
}

// ServerSessionTypes returns the permitted mask announced by the server.
func (a *ClientAuthenticator) ServerSessionTypes() uint32 {
	return a.serverSessionTypes
}

// Start arms the state machine and emits the ClientHello.
func (a *ClientAuthenticator) Start(transport Transport, done func(proto.ErrorCode)) error {
	if a.state != StateStopped {
		return fmt.Errorf("authenticator already started")
	}
	a.start(transport, done)

	hello := proto.ClientHello{
		Encryption: proto.EncryptionAES256GCM | proto.EncryptionChaCha20Poly1305,
		Identify:   a.identify,
	}

	if len(a.peerPublicKey) != 0 {
		keyPair, err := crypto.GenerateKeyPair()
		if err != nil {
			a.finish(proto.UnknownError)
			return err
		}
		a.keyPair = keyPair

		shared := a.keyPair.SessionKey(a.peerPublicKey)
		if len(shared) == 0 {
			a.finish(proto.UnknownError)
			return fmt.Errorf("failed to compute shared key with peer public key")
		}
		a.sessionKey = crypto.HashBytes(crypto.Blake2s256, shared)
		crypto.Memzero(shared)

		iv, err := crypto.RandomBytes(ivSize)
		if err != nil {
			a.finish(proto.UnknownError)
			return err
		}
		a.encryptIV = iv

		hello.PublicKey = a.keyPair.PublicKey()
		hello.IV = a.encryptIV
	}

	a.internalState = sendClientHello

	a.log.Debug("sending: ClientHello")
	a.sendMessage(&hello)
	return nil
}

// OnReceived routes one frame to the handler for the current read state.
func (a *ClientAuthenticator) OnReceived(buf []byte) {
	if a.state != StatePending {
		return
	}

	switch a.internalState {
	case readServerHello:
		a.onServerHello(buf)
	case readServerKeyExchange:
		a.onServerKeyExchange(buf)
	case readSessionChallenge:
		a.onSessionChallenge(buf)
	default:
		a.finish(proto.UnknownError)
	}
}

// OnWritten advances past a completed send.
func (a *ClientAuthenticator) OnWritten() {
	if a.state != StatePending {
		return
	}

	switch a.internalState {
	case sendClientHello:
		a.log.Debug("sent: ClientHello")
		a.internalState = readServerHello

	case sendIdentify:
		a.log.Debug("sent: Identify")
		a.internalState = readServerKeyExchange

	case sendClientKeyExchange:
		a.log.Debug("sent: ClientKeyExchange")

		h := crypto.NewHash(crypto.Blake2s256)
		if len(a.sessionKey) != 0 {
			h.AddData(a.sessionKey)
		}
		h.AddData(a.srpKey)

		crypto.Memzero(a.sessionKey)
		crypto.Memzero(a.srpKey)
		a.srpKey = nil
		a.sessionKey = h.Result()

		if !a.onSessionKeyChanged() {
			return
		}
		a.internalState = readSessionChallenge

	case sendSessionResponse:
		a.log.Debug("sent: SessionResponse")
		a.finish(proto.Success)

	default:
		a.finish(proto.UnknownError)
	}
}

func (a *ClientAuthenticator) onServerHello(buf []byte) {
	a.log.Debug("received: ServerHello")

	var hello proto.ServerHello
	if err := hello.UnmarshalBinary(buf); err != nil {
		a.finish(proto.ProtocolError)
		return
	}

	switch hello.Encryption {
	case proto.EncryptionAES256GCM, proto.EncryptionChaCha20Poly1305:
	default:
		a.finish(proto.ProtocolError)
		return
	}
	a.encryption = hello.Encryption

	if len(a.sessionKey) != 0 {
		if len(hello.IV) == 0 {
			a.finish(proto.ProtocolError)
			return
		}
		a.decryptIV = hello.IV

		if !a.onSessionKeyChanged() {
			return
		}
	}

	switch a.identify {
	case proto.IdentifySRP:
		a.internalState = sendIdentify
		a.log.Debug("sending: Identify")
		a.sendMessage(&proto.SrpIdentify{Username: a.userName})

	case proto.IdentifyAnonymous:
		a.internalState = readSessionChallenge

	default:
		a.finish(proto.UnknownError)
	}
}

func (a *ClientAuthenticator) onServerKeyExchange(buf []byte) {
	a.log.Debug("received: ServerKeyExchange")

	var keyExchange proto.SrpServerKeyExchange
	if err := keyExchange.UnmarshalBinary(buf); err != nil {
		a.finish(proto.ProtocolError)
		return
	}

	N := crypto.BigNumFromBytes(keyExchange.Number)
	g := crypto.BigNumFromBytes(keyExchange.Generator)
	s := crypto.BigNumFromBytes(keyExchange.Salt)
	B := crypto.BigNumFromBytes(keyExchange.B)

	if !N.IsValid() || !g.IsValid() || !s.IsValid() || !B.IsValid() || len(keyExchange.IV) == 0 {
		a.finish(proto.ProtocolError)
		return
	}
	if !crypto.VerifyAModN(B.Int(), N.Int()) {
		a.finish(proto.ProtocolError)
		return
	}
	a.decryptIV = keyExchange.IV

	ephemeral, err := crypto.RandomBytes(srpEphemeralSize)
	if err != nil {
		a.finish(proto.UnknownError)
		return
	}
	priv := new(big.Int).SetBytes(ephemeral)
	A := new(big.Int).Exp(g.Int(), priv, N.Int())

	x := crypto.CalcX(s.Int(), a.userName, crypto.UTF16LE(a.password))
	u := crypto.CalcU(A, B.Int(), N.Int())
	k := crypto.CalcK(N.Int(), g.Int())

	clientKey := crypto.CalcClientKey(B.Int(), g.Int(), x, priv, u, k, N.Int())
	a.srpKey = clientKey.Bytes()

	crypto.WipeBig(x)
	crypto.WipeBig(priv)
	crypto.WipeBig(clientKey)
	crypto.Memzero(ephemeral)

	iv, err := crypto.RandomBytes(ivSize)
	if err != nil {
		a.finish(proto.UnknownError)
		return
	}
	a.encryptIV = iv

	response := proto.SrpClientKeyExchange{
		A:  A.Bytes(),
		IV: a.encryptIV,
	}

	a.internalState = sendClientKeyExchange

	a.log.Debug("sending: ClientKeyExchange")
	a.sendMessage(&response)
}

func (a *ClientAuthenticator) onSessionChallenge(buf []byte) {
	a.log.Debug("received: SessionChallenge")

	var challenge proto.SessionChallenge
	if err := challenge.UnmarshalBinary(buf); err != nil {
		a.finish(proto.ProtocolError)
		return
	}

	a.serverSessionTypes = challenge.SessionTypes
	a.setPeerFacts(challenge.Version, challenge.OSType, challenge.ComputerName, challenge.CPUCores)

	response := proto.SessionResponse{
		SessionType:  a.sessionType,
		Version:      currentVersion,
		OSType:       localOSType(),
		ComputerName: computerName(),
		CPUCores:     processorCores(),
	}

	a.internalState = sendSessionResponse

	a.log.Debug("sending: SessionResponse")
	a.sendMessage(&response)
}

// Close zeroizes all remaining secrets.
func (a *ClientAuthenticator) Close() {
	crypto.Memzero(a.srpKey)
	a.srpKey = nil
	crypto.Memzero(a.sessionKey)
	a.sessionKey = nil
	if a.keyPair != nil {
		a.keyPair.Wipe()
	}
	a.state = StateDone
}
