// Package proto defines the typed handshake records exchanged between peers
// and their binary serialization. Framing of the serialized records is the
// transport's job; this package only fixes field content and ordering.
package proto

// Encryption method bitmask values. Stable for interoperability.
const (
	// EncryptionAES256GCM selects AES-256 in GCM mode.
	EncryptionAES256GCM uint32 = 1
	// EncryptionChaCha20Poly1305 selects ChaCha20-Poly1305.
	EncryptionChaCha20Poly1305 uint32 = 2
)

// Identify selects the authentication method requested by the client.
type Identify uint32

// Identify method values. Stable for interoperability.
const (
	// IdentifySRP authenticates a named user with SRP-6a.
	IdentifySRP Identify = 1
	// IdentifyAnonymous requests access without a user identity.
	IdentifyAnonymous Identify = 2
)

// OSType describes the peer's operating system in the session challenge.
type OSType uint32

// Operating system identifiers.
const (
	OSTypeUnknown OSType = iota
	OSTypeWindows
	OSTypeLinux
	OSTypeMacOSX
)

// Version is a semantic version triple.
type Version struct {
	Major uint32
	Minor uint32
	Patch uint32
}

// ClientHello opens the handshake: the client's supported encryption
// methods, the requested identify method, and the optional ephemeral key
// exchange envelope (public key and client-to-server IV, both present or
// both absent).
type ClientHello struct {
	Encryption uint32
	Identify   Identify
	PublicKey  []byte
	IV         []byte
}

// ServerHello answers with the single selected encryption method and, when
// the key exchange envelope was accepted, the server-to-client IV.
type ServerHello struct {
	Encryption uint32
	IV         []byte
}

// SrpIdentify carries the username to authenticate.
type SrpIdentify struct {
	Username string
}

// SrpServerKeyExchange carries the SRP group, salt, and server ephemeral
// public value. Integers are big-endian byte strings.
type SrpServerKeyExchange struct {
	Number    []byte // N
	Generator []byte // g
	Salt      []byte // s
	B         []byte
	IV        []byte
}

// SrpClientKeyExchange carries the client ephemeral public value and the
// client-to-server IV.
type SrpClientKeyExchange struct {
	A  []byte
	IV []byte
}

// SessionChallenge announces which session types the server accepts,
// together with descriptive host facts.
type SessionChallenge struct {
	SessionTypes uint32
	Version      Version
	OSType       OSType
	ComputerName string
	CPUCores     uint32
}

// SessionResponse selects exactly one session type from the challenge mask.
type SessionResponse struct {
	SessionType  uint32
	Version      Version
	OSType       OSType
	ComputerName string
	CPUCores     uint32
}
