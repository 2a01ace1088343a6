package crypto

import "golang.org/x/sys/cpu"

// HasAESAcceleration reports whether the host CPU exposes AES instructions.
// The cipher negotiation prefers AES-256-GCM only when this is true;
// ChaCha20-Poly1305 is faster on everything else.
func HasAESAcceleration() bool {
	return cpu.X86.HasAES || cpu.ARM64.HasAES
}
