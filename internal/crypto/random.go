package crypto

import (
	"crypto/rand"
	"fmt"
)

// RandomBytes returns n cryptographically strong random bytes.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return buf, nil
}
