package peer

import (
	"fmt"
	"math/bits"

	"github.com/jmpoep/aspia/internal/crypto"
	"github.com/jmpoep/aspia/internal/logging"
	"github.com/jmpoep/aspia/pkg/proto"
)

// ivSize is the AEAD nonce length carried in the handshake.
const ivSize = crypto.NonceSize

// srpEphemeralSize is the byte length of the server ephemeral secret b
// (1024 bits).
const srpEphemeralSize = 128

// AnonymousAccess controls whether peers may authenticate without a user
// identity.
type AnonymousAccess int

// Anonymous access policies.
const (
	AnonymousAccessDisable AnonymousAccess = iota
	AnonymousAccessEnable
)

// internalState tracks the position in the wire sequence. Read states expect
// the next frame from the peer; send states expect the write completion of
// the message just queued.
type internalState int

const (
	readClientHello internalState = iota
	sendServerHello
	readIdentify
	sendServerKeyExchange
	readClientKeyExchange
	sendSessionChallenge
	readSessionResponse
)

// ServerAuthenticator is the server side of the handshake. Configure it
// while stopped, then drive it with Start/OnReceived/OnWritten from the
// transport's goroutine. All handshake state is owned by the instance; the
// UserList and the key pair are shared read-only.
type ServerAuthenticator struct {
	authenticator

	internalState internalState

	userList        *UserList
	keyPair         *crypto.KeyPair
	anonymousAccess AnonymousAccess
	sessionTypes    uint32

	identify    proto.Identify
	userName    string
	sessionType uint32

	// SRP working set for the current exchange.
	N crypto.BigNum
	g crypto.BigNum
	s crypto.BigNum
	v crypto.BigNum
	b crypto.BigNum
	B crypto.BigNum
	A crypto.BigNum

	// hasHardwareAES is swappable so tests can pin the cipher choice.
	hasHardwareAES func() bool
}

// NewServerAuthenticator creates a stopped authenticator. A nil logger falls
// back to the default JSON logger.
func NewServerAuthenticator(log *logging.Logger) *ServerAuthenticator {
	a := &ServerAuthenticator{
		hasHardwareAES: crypto.HasAESAcceleration,
	}
	a.init(log)
	return a
}

// SetUserList installs the shared account lookup. Must be called before
// Start.
func (a *ServerAuthenticator) SetUserList(userList *UserList) error {
	if a.state != StateStopped {
		return fmt.Errorf("user list can only be set while stopped")
	}
	if userList == nil {
		return fmt.Errorf("user list must not be nil")
	}
	a.userList = userList
	return nil
}

// SetPrivateKey installs the host key pair used for the ephemeral key
// exchange and pre-generates the server-to-client IV. Must be called before
// Start.
func (a *ServerAuthenticator) SetPrivateKey(privateKey []byte) error {
	if a.state != StateStopped {
		return fmt.Errorf("private key can only be set while stopped")
	}
	if len(privateKey) == 0 {
		return fmt.Errorf("private key must not be empty")
	}

	keyPair, err := crypto.KeyPairFromPrivateKey(privateKey)
	if err != nil {
		return fmt.Errorf("failed to load private key: %w", err)
	}

	iv, err := crypto.RandomBytes(ivSize)
	if err != nil {
		return err
	}

	a.keyPair = keyPair
	a.encryptIV = iv
	return nil
}

// SetAnonymousAccess sets the anonymous access policy and the session types
// permitted for anonymous peers. Enabling requires an installed private key
// and a non-empty session mask; disabling forces the mask to zero. Must be
// called before Start.
func (a *ServerAuthenticator) SetAnonymousAccess(access AnonymousAccess, sessionTypes uint32) error {
	if a.state != StateStopped {
		return fmt.Errorf("anonymous access can only be set while stopped")
	}

	if access == AnonymousAccessEnable {
		if !a.keyPair.IsValid() {
			return fmt.Errorf("anonymous access requires an installed private key")
		}
		if sessionTypes == 0 {
			return fmt.Errorf("anonymous access requires at least one permitted session type")
		}
		a.sessionTypes = sessionTypes
	} else {
		a.sessionTypes = 0
	}

	a.anonymousAccess = access
	return nil
}

// Start validates the configuration invariants and arms the state machine.
// The configuration is checked once here; any violation finishes with
// UNKNOWN_ERROR and is also returned to the caller.
func (a *ServerAuthenticator) Start(transport Transport, done func(proto.ErrorCode)) error {
	if a.state != StateStopped {
		return fmt.Errorf("authenticator already started")
	}
	a.start(transport, done)
	a.internalState = readClientHello

	if err := a.checkConfig(); err != nil {
		a.finish(proto.UnknownError)
		return err
	}
	return nil
}

func (a *ServerAuthenticator) checkConfig() error {
	if a.userList == nil {
		return fmt.Errorf("user list is not installed")
	}
	if a.anonymousAccess == AnonymousAccessEnable {
		if !a.keyPair.IsValid() {
			return fmt.Errorf("anonymous access is enabled without a private key")
		}
		if a.sessionTypes == 0 {
			return fmt.Errorf("anonymous access is enabled without permitted sessions")
		}
	} else if a.sessionTypes != 0 {
		return fmt.Errorf("sessions are permitted while anonymous access is disabled")
	}
	return nil
}

// Identify returns the authentication method chosen by the peer.
func (a *ServerAuthenticator) Identify() proto.Identify {
	return a.identify
}

// UserName returns the authenticated username. Empty for anonymous peers.
func (a *ServerAuthenticator) UserName() string {
	return a.userName
}

// SessionType returns the negotiated session type (the index of the single
// bit the peer selected). Valid after a SUCCESS finish.
func (a *ServerAuthenticator) SessionType() uint32 {
	return a.sessionType
}

// OnReceived routes one frame to the handler for the current read state.
// Frames arriving in a send state or after finish are discarded.
func (a *ServerAuthenticator) OnReceived(buf []byte) {
	if a.state != StatePending {
		return
	}

	switch a.internalState {
	case readClientHello:
		a.onClientHello(buf)
	case readIdentify:
		a.onIdentify(buf)
	case readClientKeyExchange:
		a.onClientKeyExchange(buf)
	case readSessionResponse:
		a.onSessionResponse(buf)
	default:
		a.finish(proto.UnknownError)
	}
}

// OnWritten advances from a send state, possibly emitting the next message
// synchronously.
func (a *ServerAuthenticator) OnWritten() {
	if a.state != StatePending {
		return
	}

	switch a.internalState {
	case sendServerHello:
		a.log.Debug("sent: ServerHello")

		if len(a.sessionKey) != 0 {
			if !a.onSessionKeyChanged() {
				return
			}
		}

		switch a.identify {
		case proto.IdentifySRP:
			a.internalState = readIdentify
		case proto.IdentifyAnonymous:
			a.internalState = sendSessionChallenge
			a.doSessionChallenge()
		default:
			a.finish(proto.UnknownError)
		}

	case sendServerKeyExchange:
		a.log.Debug("sent: ServerKeyExchange")
		a.internalState = readClientKeyExchange

	case sendSessionChallenge:
		a.log.Debug("sent: SessionChallenge")
		a.internalState = readSessionResponse

	default:
		a.finish(proto.UnknownError)
	}
}

func (a *ServerAuthenticator) onClientHello(buf []byte) {
	a.log.Debug("received: ClientHello")

	var hello proto.ClientHello
	if err := hello.UnmarshalBinary(buf); err != nil {
		a.finish(proto.ProtocolError)
		return
	}

	if hello.Encryption&(proto.EncryptionAES256GCM|proto.EncryptionChaCha20Poly1305) == 0 {
		// No encryption method in common.
		a.finish(proto.ProtocolError)
		return
	}

	a.identify = hello.Identify
	switch a.identify {
	case proto.IdentifySRP:
		// Always supported.

	case proto.IdentifyAnonymous:
		if a.anonymousAccess != AnonymousAccessEnable {
			a.finish(proto.AccessDenied)
			return
		}

	default:
		a.finish(proto.ProtocolError)
		return
	}

	var reply proto.ServerHello

	if a.keyPair.IsValid() {
		peerPublicKey := hello.PublicKey
		a.decryptIV = hello.IV

		// The key exchange envelope is all-or-nothing.
		if (len(peerPublicKey) == 0) != (len(a.decryptIV) == 0) {
			a.finish(proto.ProtocolError)
			return
		}

		if len(peerPublicKey) != 0 {
			shared := a.keyPair.SessionKey(peerPublicKey)
			if len(shared) == 0 {
				a.finish(proto.UnknownError)
				return
			}

			a.sessionKey = crypto.HashBytes(crypto.Blake2s256, shared)
			crypto.Memzero(shared)
			if len(a.sessionKey) == 0 {
				a.finish(proto.UnknownError)
				return
			}

			reply.IV = a.encryptIV
		}
	}

	if hello.Encryption&proto.EncryptionAES256GCM != 0 && a.hasHardwareAES() {
		// With hardware support on both sides AES256 GCM is the fastest
		// option.
		reply.Encryption = proto.EncryptionAES256GCM
	} else {
		reply.Encryption = proto.EncryptionChaCha20Poly1305
	}

	a.internalState = sendServerHello
	a.encryption = reply.Encryption

	a.log.Debug("sending: ServerHello", map[string]any{
		"encryption": reply.Encryption,
	})
	a.sendMessage(&reply)
}

func (a *ServerAuthenticator) onIdentify(buf []byte) {
	a.log.Debug("received: Identify")

	var identify proto.SrpIdentify
	if err := identify.UnmarshalBinary(buf); err != nil {
		a.finish(proto.ProtocolError)
		return
	}

	a.userName = identify.Username
	if a.userName == "" {
		a.finish(proto.ProtocolError)
		return
	}

	user := a.userList.Find(a.userName)
	ng, knownGroup := crypto.GroupByBits(user.Group)

	if user.IsValid() && user.Flags&UserEnabled != 0 && knownGroup {
		a.sessionTypes = user.Sessions
		a.N = crypto.BigNumFromInt(ng.N)
		a.g = crypto.BigNumFromInt(ng.G)
		a.s = crypto.BigNumFromBytes(user.Salt)
		a.v = crypto.BigNumFromBytes(user.Verifier)
	} else {
		// Decoy branch: derive deterministic SRP parameters from the seed
		// key so that unknown and disabled users are indistinguishable on
		// the wire. No session type is permitted, so the exchange always
		// ends in SESSION_DENIED rather than revealing the account state.
		a.sessionTypes = 0

		h := crypto.NewHash(crypto.Blake2b512)
		h.AddData(a.userList.SeedKey())
		h.AddData([]byte(identify.Username))

		decoy, _ := crypto.GroupByBits(crypto.PhantomGroupBits)
		a.N = crypto.BigNumFromInt(decoy.N)
		a.g = crypto.BigNumFromInt(decoy.G)
		a.s = crypto.BigNumFromBytes(h.Result())
		a.v = crypto.BigNumFromInt(crypto.CalcV(
			a.userName, a.userList.SeedKey(), a.s.Int(), a.N.Int(), a.g.Int()))
	}

	ephemeral, err := crypto.RandomBytes(srpEphemeralSize)
	if err != nil {
		a.finish(proto.UnknownError)
		return
	}
	a.b = crypto.BigNumFromBytes(ephemeral)
	a.B = crypto.BigNumFromInt(crypto.CalcB(a.b.Int(), a.N.Int(), a.g.Int(), a.v.Int()))

	if !a.N.IsValid() || !a.g.IsValid() || !a.s.IsValid() || !a.B.IsValid() {
		a.finish(proto.ProtocolError)
		return
	}

	iv, err := crypto.RandomBytes(ivSize)
	if err != nil {
		a.finish(proto.UnknownError)
		return
	}
	a.encryptIV = iv

	keyExchange := proto.SrpServerKeyExchange{
		Number:    a.N.Bytes(),
		Generator: a.g.Bytes(),
		Salt:      a.s.Bytes(),
		B:         a.B.Bytes(),
		IV:        a.encryptIV,
	}

	a.internalState = sendServerKeyExchange

	a.log.Debug("sending: ServerKeyExchange")
	a.sendMessage(&keyExchange)
}

func (a *ServerAuthenticator) onClientKeyExchange(buf []byte) {
	a.log.Debug("received: ClientKeyExchange")

	var keyExchange proto.SrpClientKeyExchange
	if err := keyExchange.UnmarshalBinary(buf); err != nil {
		a.finish(proto.ProtocolError)
		return
	}

	a.A = crypto.BigNumFromBytes(keyExchange.A)
	a.decryptIV = keyExchange.IV

	if !a.A.IsValid() || len(a.decryptIV) == 0 {
		a.finish(proto.ProtocolError)
		return
	}

	// A must lie in (0, N).
	if !crypto.VerifyAModN(a.A.Int(), a.N.Int()) || a.A.Int().Cmp(a.N.Int()) >= 0 {
		a.finish(proto.ProtocolError)
		return
	}

	srpKey := a.createSrpKey()
	if len(srpKey) == 0 {
		a.finish(proto.UnknownError)
		return
	}

	switch a.encryption {
	// Both methods take a 256-bit key.
	case proto.EncryptionAES256GCM, proto.EncryptionChaCha20Poly1305:
		h := crypto.NewHash(crypto.Blake2s256)
		if len(a.sessionKey) != 0 {
			h.AddData(a.sessionKey)
		}
		h.AddData(srpKey)

		crypto.Memzero(a.sessionKey)
		a.sessionKey = h.Result()

	default:
		crypto.Memzero(srpKey)
		a.finish(proto.UnknownError)
		return
	}

	crypto.Memzero(srpKey)

	if !a.onSessionKeyChanged() {
		return
	}

	a.internalState = sendSessionChallenge
	a.doSessionChallenge()
}

func (a *ServerAuthenticator) doSessionChallenge() {
	challenge := proto.SessionChallenge{
		SessionTypes: a.sessionTypes,
		Version:      currentVersion,
		OSType:       localOSType(),
		ComputerName: computerName(),
		CPUCores:     processorCores(),
	}

	a.log.Debug("sending: SessionChallenge", map[string]any{
		"session_types": challenge.SessionTypes,
	})
	a.sendMessage(&challenge)
}

func (a *ServerAuthenticator) onSessionResponse(buf []byte) {
	a.log.Debug("received: SessionResponse")

	var response proto.SessionResponse
	if err := response.UnmarshalBinary(buf); err != nil {
		a.finish(proto.ProtocolError)
		return
	}

	a.setPeerFacts(response.Version, response.OSType, response.ComputerName, response.CPUCores)

	a.log.Info("peer session request", map[string]any{
		"session_type":  response.SessionType,
		"computer_name": response.ComputerName,
		"cpu_cores":     response.CPUCores,
	})

	mask := response.SessionType
	if bits.OnesCount32(mask) != 1 {
		a.finish(proto.ProtocolError)
		return
	}

	a.sessionType = uint32(bits.TrailingZeros32(mask))
	if a.sessionTypes&mask == 0 {
		a.finish(proto.SessionDenied)
		return
	}

	a.finish(proto.Success)
}

// createSrpKey computes the server's SRP shared secret as big-endian bytes,
// or nil when the client ephemeral is degenerate.
func (a *ServerAuthenticator) createSrpKey() []byte {
	if !crypto.VerifyAModN(a.A.Int(), a.N.Int()) {
		a.log.Warn("client ephemeral A is congruent to zero")
		return nil
	}

	u := crypto.CalcU(a.A.Int(), a.B.Int(), a.N.Int())
	serverKey := crypto.CalcServerKey(a.A.Int(), a.v.Int(), u, a.b.Int(), a.N.Int())

	key := serverKey.Bytes()
	crypto.WipeBig(serverKey)
	crypto.WipeBig(u)
	return key
}

// finish wipes the SRP working secrets and delivers the result. The session
// key stays readable for the transport and dispatcher; Close wipes it.
func (a *ServerAuthenticator) finish(code proto.ErrorCode) {
	a.b.Wipe()
	a.v.Wipe()
	a.authenticator.finish(code)
}

// Close zeroizes all remaining secrets. The instance is unusable afterwards.
func (a *ServerAuthenticator) Close() {
	a.b.Wipe()
	a.v.Wipe()
	crypto.Memzero(a.sessionKey)
	a.sessionKey = nil
	a.state = StateDone
}
