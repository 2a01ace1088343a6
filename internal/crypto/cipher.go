package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the AEAD nonce length shared by both negotiated ciphers.
const NonceSize = 12

// MessageCipher seals or opens messages with the AEAD negotiated during the
// handshake. Each instance is one direction of the connection; the nonce
// starts at the IV exchanged in the handshake and is incremented per
// message, so messages must be processed in wire order.
type MessageCipher struct {
	aead  cipher.AEAD
	nonce [NonceSize]byte
}

// NewAES256GCMCipher creates a cipher for the AES256_GCM method.
// The key must be 32 bytes and the iv 12 bytes.
func NewAES256GCMCipher(key, iv []byte) (*MessageCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init AES-256: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCM: %w", err)
	}
	return newMessageCipher(aead, iv)
}

// NewChaCha20Poly1305Cipher creates a cipher for the CHACHA20_POLY1305
// method. The key must be 32 bytes and the iv 12 bytes.
func NewChaCha20Poly1305Cipher(key, iv []byte) (*MessageCipher, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init ChaCha20-Poly1305: %w", err)
	}
	return newMessageCipher(aead, iv)
}

func newMessageCipher(aead cipher.AEAD, iv []byte) (*MessageCipher, error) {
	if len(iv) != NonceSize {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", NonceSize, len(iv))
	}
	c := &MessageCipher{aead: aead}
	copy(c.nonce[:], iv)
	return c, nil
}

// Seal encrypts and authenticates plaintext, advancing the nonce.
func (c *MessageCipher) Seal(plaintext []byte) []byte {
	out := c.aead.Seal(nil, c.nonce[:], plaintext, nil)
	c.advance()
	return out
}

// Open authenticates and decrypts ciphertext, advancing the nonce only on
// success so a corrupted message can be reported without losing sync.
func (c *MessageCipher) Open(ciphertext []byte) ([]byte, error) {
	out, err := c.aead.Open(make([]byte, 0, len(ciphertext)), c.nonce[:], ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt message: %w", err)
	}
	c.advance()
	return out, nil
}

// advance increments the nonce as a little-endian counter.
func (c *MessageCipher) advance() {
	for i := 0; i < NonceSize; i++ {
		c.nonce[i]++
		if c.nonce[i] != 0 {
			break
		}
	}
}
