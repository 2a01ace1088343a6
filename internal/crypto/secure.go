package crypto

import "math/big"

// Memzero overwrites buf with zeros. Call on buffers holding key material
// before releasing them.
func Memzero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

// WipeBig overwrites the limbs of v with zeros and sets it to 0. big.Int may
// still have left copies behind from earlier reallocations; callers that
// need stronger guarantees must keep secrets in fixed byte buffers.
func WipeBig(v *big.Int) {
	if v == nil {
		return
	}
	bits := v.Bits()
	for i := range bits {
		bits[i] = 0
	}
	v.SetInt64(0)
}
