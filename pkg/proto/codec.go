package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Field codec: fixed-width integers are big-endian uint32; byte strings and
// strings are uint32 length followed by the raw bytes. A zero-length byte
// string is how optional fields are encoded as absent.

var (
	// ErrTruncated is returned when a record ends before all fields were read.
	ErrTruncated = errors.New("record truncated")
	// ErrTrailingData is returned when a record has bytes past the last field.
	ErrTrailingData = errors.New("record has trailing data")
)

// maxFieldLen bounds a single length-prefixed field. The largest legitimate
// field is an 8192-bit group modulus; anything near this limit is garbage or
// an attempted allocation attack.
const maxFieldLen = 16 * 1024

type writer struct {
	buf []byte
}

func (w *writer) putUint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *writer) putBytes(b []byte) {
	w.putUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) putString(s string) {
	w.putUint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) putVersion(v Version) {
	w.putUint32(v.Major)
	w.putUint32(v.Minor)
	w.putUint32(v.Patch)
}

type reader struct {
	buf []byte
	err error
}

func (r *reader) uint32() uint32 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 4 {
		r.err = ErrTruncated
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf)
	r.buf = r.buf[4:]
	return v
}

func (r *reader) bytes() []byte {
	n := r.uint32()
	if r.err != nil {
		return nil
	}
	if n > maxFieldLen {
		r.err = fmt.Errorf("field length %d exceeds limit", n)
		return nil
	}
	if uint32(len(r.buf)) < n {
		r.err = ErrTruncated
		return nil
	}
	b := make([]byte, n)
	copy(b, r.buf[:n])
	r.buf = r.buf[n:]
	return b
}

func (r *reader) string() string {
	return string(r.bytes())
}

func (r *reader) version() Version {
	return Version{Major: r.uint32(), Minor: r.uint32(), Patch: r.uint32()}
}

func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if len(r.buf) != 0 {
		return ErrTrailingData
	}
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *ClientHello) MarshalBinary() ([]byte, error) {
	var w writer
	w.putUint32(m.Encryption)
	w.putUint32(uint32(m.Identify))
	w.putBytes(m.PublicKey)
	w.putBytes(m.IV)
	return w.buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *ClientHello) UnmarshalBinary(data []byte) error {
	r := reader{buf: data}
	m.Encryption = r.uint32()
	m.Identify = Identify(r.uint32())
	m.PublicKey = r.bytes()
	m.IV = r.bytes()
	return r.done()
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *ServerHello) MarshalBinary() ([]byte, error) {
	var w writer
	w.putUint32(m.Encryption)
	w.putBytes(m.IV)
	return w.buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *ServerHello) UnmarshalBinary(data []byte) error {
	r := reader{buf: data}
	m.Encryption = r.uint32()
	m.IV = r.bytes()
	return r.done()
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *SrpIdentify) MarshalBinary() ([]byte, error) {
	var w writer
	w.putString(m.Username)
	return w.buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *SrpIdentify) UnmarshalBinary(data []byte) error {
	r := reader{buf: data}
	m.Username = r.string()
	return r.done()
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *SrpServerKeyExchange) MarshalBinary() ([]byte, error) {
	var w writer
	w.putBytes(m.Number)
	w.putBytes(m.Generator)
	w.putBytes(m.Salt)
	w.putBytes(m.B)
	w.putBytes(m.IV)
	return w.buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *SrpServerKeyExchange) UnmarshalBinary(data []byte) error {
	r := reader{buf: data}
	m.Number = r.bytes()
	m.Generator = r.bytes()
	m.Salt = r.bytes()
	m.B = r.bytes()
	m.IV = r.bytes()
	return r.done()
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *SrpClientKeyExchange) MarshalBinary() ([]byte, error) {
	var w writer
	w.putBytes(m.A)
	w.putBytes(m.IV)
	return w.buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *SrpClientKeyExchange) UnmarshalBinary(data []byte) error {
	r := reader{buf: data}
	m.A = r.bytes()
	m.IV = r.bytes()
	return r.done()
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *SessionChallenge) MarshalBinary() ([]byte, error) {
	var w writer
	w.putUint32(m.SessionTypes)
	w.putVersion(m.Version)
	w.putUint32(uint32(m.OSType))
	w.putString(m.ComputerName)
	w.putUint32(m.CPUCores)
	return w.buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *SessionChallenge) UnmarshalBinary(data []byte) error {
	r := reader{buf: data}
	m.SessionTypes = r.uint32()
	m.Version = r.version()
	m.OSType = OSType(r.uint32())
	m.ComputerName = r.string()
	m.CPUCores = r.uint32()
	return r.done()
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *SessionResponse) MarshalBinary() ([]byte, error) {
	var w writer
	w.putUint32(m.SessionType)
	w.putVersion(m.Version)
	w.putUint32(uint32(m.OSType))
	w.putString(m.ComputerName)
	w.putUint32(m.CPUCores)
	return w.buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *SessionResponse) UnmarshalBinary(data []byte) error {
	r := reader{buf: data}
	m.SessionType = r.uint32()
	m.Version = r.version()
	m.OSType = OSType(r.uint32())
	m.ComputerName = r.string()
	m.CPUCores = r.uint32()
	return r.done()
}
