// Package peer implements the authenticated session handshake between two
// endpoints: AEAD cipher negotiation, an optional ephemeral X25519 exchange,
// SRP-6a user authentication, and selection of a single session type from a
// permitted bitmask.
package peer

import (
	"encoding"

	"github.com/jmpoep/aspia/internal/logging"
	"github.com/jmpoep/aspia/pkg/proto"
)

// State is the outer lifecycle of an authenticator instance.
type State int

// Outer states. Configuration is only accepted in StateStopped; transport
// callbacks are only processed in StatePending.
const (
	StateStopped State = iota
	StatePending
	StateDone
)

// Transport delivers the authenticator's outgoing records and owns the
// encrypted channel once a session key exists. All callbacks into the
// authenticator (OnReceived, OnWritten) must come from a single goroutine.
type Transport interface {
	// SendMessage queues one serialized record for delivery. Completion is
	// signalled by calling OnWritten on the authenticator.
	SendMessage(payload []byte)

	// OnSessionKeyChanged is invoked after each mutation of the session key.
	// The transport reads the new key and IVs from the authenticator and
	// installs its ciphers; returning false aborts the handshake.
	OnSessionKeyChanged() bool
}

// authenticator holds the state shared by the server and client sides: the
// outer lifecycle, the transport sink, the terminal result callback, and the
// negotiated secrets.
type authenticator struct {
	state     State
	transport Transport
	done      func(proto.ErrorCode)
	log       *logging.Logger

	encryption uint32
	sessionKey []byte
	encryptIV  []byte
	decryptIV  []byte

	peerVersion      proto.Version
	peerOSType       proto.OSType
	peerComputerName string
	peerCPUCores     uint32
}

func (a *authenticator) init(log *logging.Logger) {
	if log == nil {
		log = logging.New(logging.LevelInfo, logging.FormatJSON)
	}
	a.log = log
	a.state = StateStopped
}

// State returns the outer lifecycle state.
func (a *authenticator) State() State {
	return a.state
}

// Encryption returns the negotiated encryption method bit.
func (a *authenticator) Encryption() uint32 {
	return a.encryption
}

// SessionKey returns the current derived session key. It changes at most
// twice during a handshake: after the ephemeral key exchange and after SRP.
func (a *authenticator) SessionKey() []byte {
	return a.sessionKey
}

// EncryptIV returns the local-to-peer (outgoing) nonce: server-to-client on
// the server, client-to-server on the client.
func (a *authenticator) EncryptIV() []byte {
	return a.encryptIV
}

// DecryptIV returns the peer-to-local nonce.
func (a *authenticator) DecryptIV() []byte {
	return a.decryptIV
}

// PeerVersion returns the version reported by the peer.
func (a *authenticator) PeerVersion() proto.Version {
	return a.peerVersion
}

// PeerComputerName returns the computer name reported by the peer.
func (a *authenticator) PeerComputerName() string {
	return a.peerComputerName
}

// PeerOSType returns the OS type reported by the peer.
func (a *authenticator) PeerOSType() proto.OSType {
	return a.peerOSType
}

// PeerCPUCores returns the CPU core count reported by the peer.
func (a *authenticator) PeerCPUCores() uint32 {
	return a.peerCPUCores
}

// start arms the pump. The transport and the result callback are required.
func (a *authenticator) start(transport Transport, done func(proto.ErrorCode)) {
	a.transport = transport
	a.done = done
	a.state = StatePending
}

// finish delivers the terminal result exactly once. Later calls, and any
// transport callbacks arriving after it, are discarded.
func (a *authenticator) finish(code proto.ErrorCode) {
	if a.state == StateDone {
		return
	}
	a.state = StateDone

	a.log.Info("authentication finished", map[string]any{
		"result": code.String(),
	})
	if a.done != nil {
		a.done(code)
	}
}

// sendMessage serializes and queues one record. Serialization failures are
// internal errors, not peer-triggerable.
func (a *authenticator) sendMessage(m encoding.BinaryMarshaler) {
	payload, err := m.MarshalBinary()
	if err != nil {
		a.finish(proto.UnknownError)
		return
	}
	a.transport.SendMessage(payload)
}

// onSessionKeyChanged runs the transport hook after a key mutation.
// A false return stops the pump without a result: the transport is expected
// to tear the connection down itself.
func (a *authenticator) onSessionKeyChanged() bool {
	return a.transport.OnSessionKeyChanged()
}

func (a *authenticator) setPeerFacts(v proto.Version, os proto.OSType, name string, cores uint32) {
	a.peerVersion = v
	a.peerOSType = os
	a.peerComputerName = name
	a.peerCPUCores = cores
}
