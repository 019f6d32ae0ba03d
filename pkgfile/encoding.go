// Package pkgfile reads and writes the binary package container: the header,
// the name, import and export tables, and the primitive encodings used by
// export payloads. It knows nothing about objects; the engine interprets
// payloads on top of the Decoder defined here.
package pkgfile

import (
	"encoding/binary"
	"math"
)

// ---------------------------------------------------------------------------
// Fixed-width little-endian helpers
// ---------------------------------------------------------------------------

// WriteUint16 writes a uint16 in little-endian format.
func WriteUint16(buf []byte, v uint16) { binary.LittleEndian.PutUint16(buf, v) }

// ReadUint16 reads a uint16 in little-endian format.
func ReadUint16(buf []byte) uint16 { return binary.LittleEndian.Uint16(buf) }

// WriteUint32 writes a uint32 in little-endian format.
func WriteUint32(buf []byte, v uint32) { binary.LittleEndian.PutUint32(buf, v) }

// ReadUint32 reads a uint32 in little-endian format.
func ReadUint32(buf []byte) uint32 { return binary.LittleEndian.Uint32(buf) }

// WriteUint64 writes a uint64 in little-endian format.
func WriteUint64(buf []byte, v uint64) { binary.LittleEndian.PutUint64(buf, v) }

// ReadUint64 reads a uint64 in little-endian format.
func ReadUint64(buf []byte) uint64 { return binary.LittleEndian.Uint64(buf) }

// WriteFloat32 writes a float32 in little-endian format.
func WriteFloat32(buf []byte, f float32) { WriteUint32(buf, math.Float32bits(f)) }

// ReadFloat32 reads a float32 in little-endian format.
func ReadFloat32(buf []byte) float32 { return math.Float32frombits(ReadUint32(buf)) }

// ---------------------------------------------------------------------------
// Compact index: signed variable-length integers
// ---------------------------------------------------------------------------

// MaxCompactSize is the longest encoding of a compact index.
const MaxCompactSize = 5

// PutCompact writes v as a compact index and returns the number of bytes
// written. The first byte carries the sign in bit 7, a continuation flag in
// bit 6 and six magnitude bits; each following byte carries a continuation
// flag in bit 7 and seven more magnitude bits.
func PutCompact(buf []byte, v int32) int {
	mag := uint64(v)
	neg := v < 0
	if neg {
		mag = uint64(-int64(v))
	}

	b := byte(mag & 0x3F)
	if neg {
		b |= 0x80
	}
	mag >>= 6
	if mag > 0 {
		b |= 0x40
	}
	buf[0] = b

	i := 1
	for mag > 0 {
		b = byte(mag & 0x7F)
		mag >>= 7
		if mag > 0 {
			b |= 0x80
		}
		buf[i] = b
		i++
	}
	return i
}

// ReadCompact decodes a compact index and returns the value and the number of
// bytes consumed.
func ReadCompact(buf []byte) (int32, int, error) {
	if len(buf) == 0 {
		return 0, 0, ErrTruncated
	}
	b := buf[0]
	neg := b&0x80 != 0
	mag := uint64(b & 0x3F)
	more := b&0x40 != 0
	shift := uint(6)
	i := 1

	for more {
		if i >= MaxCompactSize {
			return 0, i, ErrBadCompact
		}
		if i >= len(buf) {
			return 0, i, ErrTruncated
		}
		b = buf[i]
		mag |= uint64(b&0x7F) << shift
		more = b&0x80 != 0
		shift += 7
		i++
	}

	if neg {
		if mag > 1<<31 {
			return 0, i, ErrBadCompact
		}
		return int32(-int64(mag)), i, nil
	}
	if mag > math.MaxInt32 {
		return 0, i, ErrBadCompact
	}
	return int32(mag), i, nil
}

// CompactSize returns the encoded size of v.
func CompactSize(v int32) int {
	var buf [MaxCompactSize]byte
	return PutCompact(buf[:], v)
}
