package peer

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/jmpoep/aspia/internal/crypto"
	"github.com/jmpoep/aspia/internal/logging"
	"github.com/jmpoep/aspia/pkg/proto"
)

// maxFrameSize bounds one framed record. Handshake records top out around an
// 8192-bit group exchange; application frames get the same ceiling.
const maxFrameSize = 1 << 20

// Authenticator is the driving contract shared by the server and client
// state machines.
type Authenticator interface {
	Start(transport Transport, done func(proto.ErrorCode)) error
	OnReceived(buf []byte)
	OnWritten()
	Encryption() uint32
	SessionKey() []byte
	EncryptIV() []byte
	DecryptIV() []byte
}

// Channel frames records over a net.Conn and pumps an authenticator to
// completion. Frames are a 4-byte big-endian length followed by the payload.
// After a successful handshake the channel carries AEAD-encrypted
// application frames under the negotiated session key.
type Channel struct {
	conn net.Conn
	log  *logging.Logger

	auth   Authenticator
	outbox [][]byte
	failed bool

	encryptor *crypto.MessageCipher
	decryptor *crypto.MessageCipher
}

// NewChannel wraps an established connection.
func NewChannel(conn net.Conn, log *logging.Logger) *Channel {
	if log == nil {
		log = logging.New(logging.LevelInfo, logging.FormatJSON)
	}
	return &Channel{conn: conn, log: log}
}

// SendMessage implements Transport. Records are queued and written after the
// current handler returns, which keeps all authenticator callbacks on the
// pump goroutine.
func (c *Channel) SendMessage(payload []byte) {
	c.outbox = append(c.outbox, payload)
}

// OnSessionKeyChanged implements Transport: it installs fresh ciphers for
// the negotiated method under the new session key.
func (c *Channel) OnSessionKeyChanged() bool {
	key := c.auth.SessionKey()
	encryptIV := c.auth.EncryptIV()
	decryptIV := c.auth.DecryptIV()

	var err error
	switch c.auth.Encryption() {
	case proto.EncryptionAES256GCM:
		c.encryptor, err = crypto.NewAES256GCMCipher(key, encryptIV)
		if err == nil {
			c.decryptor, err = crypto.NewAES256GCMCipher(key, decryptIV)
		}
	case proto.EncryptionChaCha20Poly1305:
		c.encryptor, err = crypto.NewChaCha20Poly1305Cipher(key, encryptIV)
		if err == nil {
			c.decryptor, err = crypto.NewChaCha20Poly1305Cipher(key, decryptIV)
		}
	default:
		err = fmt.Errorf("no encryption method negotiated")
	}

	if err != nil {
		c.log.Error("failed to install session ciphers", map[string]any{
			"error": err.Error(),
		})
		c.failed = true
		return false
	}
	return true
}

// Authenticate drives the authenticator until it finishes or the connection
// breaks. It must be the only goroutine touching the authenticator.
func (c *Channel) Authenticate(auth Authenticator) (proto.ErrorCode, error) {
	c.auth = auth

	var result *proto.ErrorCode
	done := func(code proto.ErrorCode) {
		result = &code
	}

	if err := auth.Start(c, done); err != nil {
		return proto.UnknownError, err
	}

	for result == nil {
		if err := c.flush(); err != nil {
			return proto.UnknownError, err
		}
		if result != nil || c.failed {
			break
		}

		frame, err := c.readFrame()
		if err != nil {
			return proto.UnknownError, err
		}
		auth.OnReceived(frame)
	}

	if c.failed {
		return proto.UnknownError, fmt.Errorf("session key installation failed")
	}
	if result == nil {
		return proto.UnknownError, fmt.Errorf("handshake stopped without a result")
	}
	return *result, nil
}

// flush writes queued records in order, reporting each completion.
// OnWritten may queue more records; the loop drains those too.
func (c *Channel) flush() error {
	for len(c.outbox) > 0 && !c.failed {
		payload := c.outbox[0]
		c.outbox = c.outbox[1:]

		if err := c.writeFrame(payload); err != nil {
			return err
		}
		c.auth.OnWritten()
	}
	return nil
}

// Send encrypts and writes one application frame. Only valid after a
// successful handshake.
func (c *Channel) Send(payload []byte) error {
	if c.encryptor == nil {
		return fmt.Errorf("channel is not secured")
	}
	return c.writeFrame(c.encryptor.Seal(payload))
}

// Receive reads and decrypts one application frame.
func (c *Channel) Receive() ([]byte, error) {
	if c.decryptor == nil {
		return nil, fmt.Errorf("channel is not secured")
	}
	frame, err := c.readFrame()
	if err != nil {
		return nil, err
	}
	return c.decryptor.Open(frame)
}

// Close closes the underlying connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}

func (c *Channel) writeFrame(payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := c.conn.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := c.conn.Write(payload); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (c *Channel) readFrame() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame size %d exceeds limit", size)
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(c.conn, frame); err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return frame, nil
}
