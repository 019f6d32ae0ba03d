package pkgfile

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
)

// ---------------------------------------------------------------------------
// Decoder: Sticky-error reader over a package region
// ---------------------------------------------------------------------------

// Decoder reads primitive values from a byte region of a package file. The
// first failure is kept and every later read returns a zero value, so callers
// decode a whole record and check Err once.
type Decoder struct {
	buf     []byte
	pos     int
	base    int64
	version uint16
	err     error
}

// NewDecoder returns a decoder over buf, which starts at file offset base of
// a package with the given file version.
func NewDecoder(buf []byte, base int64, version uint16) *Decoder {
	return &Decoder{buf: buf, base: base, version: version}
}

// Err returns the first error encountered, as a *FormatError.
func (d *Decoder) Err() error { return d.err }

// Offset returns the current file offset.
func (d *Decoder) Offset() int64 { return d.base + int64(d.pos) }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }

// Version returns the file version of the package being decoded.
func (d *Decoder) Version() uint16 { return d.version }

// Fail records err at the current offset unless an error is already set.
func (d *Decoder) Fail(err error) { d.fail(err) }

func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = formatErr(d.Offset(), err)
	}
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > d.Remaining() {
		d.fail(fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, d.Remaining()))
		return nil
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b
}

// U8 reads a byte.
func (d *Decoder) U8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// U16 reads a uint16.
func (d *Decoder) U16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return ReadUint16(b)
}

// U32 reads a uint32.
func (d *Decoder) U32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return ReadUint32(b)
}

// I32 reads an int32.
func (d *Decoder) I32() int32 { return int32(d.U32()) }

// U64 reads a uint64.
func (d *Decoder) U64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return ReadUint64(b)
}

// F32 reads a float32.
func (d *Decoder) F32() float32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return ReadFloat32(b)
}

// Compact reads a compact index.
func (d *Decoder) Compact() int32 {
	if d.err != nil {
		return 0
	}
	v, n, err := ReadCompact(d.buf[d.pos:])
	if err != nil {
		d.fail(err)
		return 0
	}
	d.pos += n
	return v
}

// Ref reads a compact object reference.
func (d *Decoder) Ref() Ref { return Ref(d.Compact()) }

// Bytes reads n raw bytes. The result aliases the decoder's buffer.
func (d *Decoder) Bytes(n int) []byte { return d.take(n) }

// Skip discards n bytes.
func (d *Decoder) Skip(n int) { d.take(n) }

// GUID reads a 16-byte GUID.
func (d *Decoder) GUID() uuid.UUID {
	var id uuid.UUID
	if b := d.take(16); b != nil {
		copy(id[:], b)
	}
	return id
}

// Count reads an int32 count and checks it against MaxTableCount and the
// bytes left, given the smallest encoding of one element.
func (d *Decoder) Count(minElem int) int {
	n := d.I32()
	if d.err != nil {
		return 0
	}
	if n < 0 || n > MaxTableCount || int64(n)*int64(minElem) > int64(d.Remaining()) {
		d.fail(fmt.Errorf("%w: %d", ErrBadCount, n))
		return 0
	}
	return int(n)
}

// CompactCount reads a compact count with the same checks as Count.
func (d *Decoder) CompactCount(minElem int) int {
	n := d.Compact()
	if d.err != nil {
		return 0
	}
	if n < 0 || n > MaxTableCount || int64(n)*int64(minElem) > int64(d.Remaining()) {
		d.fail(fmt.Errorf("%w: %d", ErrBadCount, n))
		return 0
	}
	return int(n)
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// String reads a compact-length string. A positive length counts bytes
// including the terminating NUL; a negative length counts UTF-16 code units.
func (d *Decoder) String() string {
	n := d.Compact()
	switch {
	case d.err != nil || n == 0:
		return ""
	case n > 0:
		b := d.take(int(n))
		return string(bytes.TrimRight(b, "\x00"))
	default:
		if int64(-n)*2 > int64(d.Remaining()) {
			d.fail(fmt.Errorf("%w: wide string of %d units", ErrTruncated, -n))
			return ""
		}
		b := d.take(int(-n) * 2)
		s, err := utf16le.NewDecoder().Bytes(b)
		if err != nil {
			d.fail(err)
			return ""
		}
		return string(bytes.TrimRight(s, "\x00"))
	}
}

// CString reads a NUL-terminated string.
func (d *Decoder) CString() string {
	if d.err != nil {
		return ""
	}
	i := bytes.IndexByte(d.buf[d.pos:], 0)
	if i < 0 {
		d.fail(fmt.Errorf("%w: unterminated string", ErrTruncated))
		return ""
	}
	s := string(d.buf[d.pos : d.pos+i])
	d.pos += i + 1
	return s
}

// Sub returns a decoder over the next n bytes and advances past them.
func (d *Decoder) Sub(n int) *Decoder {
	start := d.Offset()
	b := d.take(n)
	sub := &Decoder{buf: b, base: start, version: d.version}
	if b == nil && n != 0 {
		sub.err = d.err
	}
	return sub
}
