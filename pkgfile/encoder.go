package pkgfile

import (
	"bytes"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Encoder: Builds package regions
// ---------------------------------------------------------------------------

// Encoder appends primitive values in package encoding. It is the writing
// counterpart of Decoder and is used for tables and export payloads alike.
type Encoder struct {
	buf     bytes.Buffer
	scratch [8]byte
	version uint16
}

// NewEncoder returns an encoder for a package of the given file version.
func NewEncoder(version uint16) *Encoder {
	if version == 0 {
		version = DefaultVersion
	}
	return &Encoder{version: version}
}

// Bytes returns the encoded bytes.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

// Len returns the number of bytes written.
func (e *Encoder) Len() int { return e.buf.Len() }

// Version returns the file version the encoder writes.
func (e *Encoder) Version() uint16 { return e.version }

// U8 writes a byte.
func (e *Encoder) U8(v uint8) { e.buf.WriteByte(v) }

// U16 writes a uint16.
func (e *Encoder) U16(v uint16) {
	WriteUint16(e.scratch[:], v)
	e.buf.Write(e.scratch[:2])
}

// U32 writes a uint32.
func (e *Encoder) U32(v uint32) {
	WriteUint32(e.scratch[:], v)
	e.buf.Write(e.scratch[:4])
}

// I32 writes an int32.
func (e *Encoder) I32(v int32) { e.U32(uint32(v)) }

// U64 writes a uint64.
func (e *Encoder) U64(v uint64) {
	WriteUint64(e.scratch[:], v)
	e.buf.Write(e.scratch[:8])
}

// F32 writes a float32.
func (e *Encoder) F32(v float32) {
	WriteFloat32(e.scratch[:], v)
	e.buf.Write(e.scratch[:4])
}

// Compact writes a compact index.
func (e *Encoder) Compact(v int32) {
	var b [MaxCompactSize]byte
	n := PutCompact(b[:], v)
	e.buf.Write(b[:n])
}

// Ref writes an object reference.
func (e *Encoder) Ref(r Ref) { e.Compact(int32(r)) }

// Raw writes b unchanged.
func (e *Encoder) Raw(b []byte) { e.buf.Write(b) }

// GUID writes a 16-byte GUID.
func (e *Encoder) GUID(id uuid.UUID) { e.buf.Write(id[:]) }

// String writes a compact-length, NUL-terminated string. Strings outside
// 7-bit ASCII are written as UTF-16 with a negative length.
func (e *Encoder) String(s string) {
	if s == "" {
		e.Compact(0)
		return
	}
	if isASCII(s) {
		e.Compact(int32(len(s) + 1))
		e.buf.WriteString(s)
		e.buf.WriteByte(0)
		return
	}
	wide, err := utf16le.NewEncoder().String(s + "\x00")
	if err != nil {
		// Unencodable text degrades to the byte form.
		e.Compact(int32(len(s) + 1))
		e.buf.WriteString(s)
		e.buf.WriteByte(0)
		return
	}
	e.Compact(-int32(len(wide) / 2))
	e.buf.WriteString(wide)
}

// CString writes a NUL-terminated string.
func (e *Encoder) CString(s string) {
	e.buf.WriteString(s)
	e.buf.WriteByte(0)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
