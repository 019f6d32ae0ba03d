package pkgfile

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Format Constants
// ---------------------------------------------------------------------------

// Tag is the magic number at offset 0 of every package file.
const Tag uint32 = 0x9E2A83C1

// Supported file versions.
const (
	MinVersion uint16 = 61
	MaxVersion uint16 = 69

	// DefaultVersion is written by the Writer when none is set.
	DefaultVersion uint16 = 69

	// VersionCompactNames is the first version with length-prefixed names.
	VersionCompactNames uint16 = 64

	// VersionGenerations is the first version carrying a GUID and a generation
	// list instead of a heritage table.
	VersionGenerations uint16 = 68
)

// MaxTableCount bounds every table count read from a header.
const MaxTableCount = 1 << 20

// fixedHeaderSize covers tag, versions, flags and the three count/offset pairs.
const fixedHeaderSize = 4 + 2 + 2 + 4 + 6*4

// ---------------------------------------------------------------------------
// Format Error Types
// ---------------------------------------------------------------------------

var (
	ErrBadMagic           = errors.New("not a package file")
	ErrUnsupportedVersion = errors.New("unsupported package version")
	ErrTruncated          = errors.New("unexpected end of package data")
	ErrBadCount           = errors.New("table count out of range")
	ErrBadCompact         = errors.New("malformed compact index")
	ErrRefOutOfRange      = errors.New("object reference out of range")
	ErrNameOutOfRange     = errors.New("name index out of range")
	ErrPayloadRange       = errors.New("export payload outside file")
)

// FormatError reports a malformed package. It is fatal for the package being
// read and for nothing else.
type FormatError struct {
	Path   string
	Offset int64
	Err    error
}

func (e *FormatError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("package format error at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("%s: package format error at offset %d: %v", e.Path, e.Offset, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

func formatErr(off int64, err error) error {
	var fe *FormatError
	if errors.As(err, &fe) {
		return err
	}
	return &FormatError{Offset: off, Err: err}
}

// ---------------------------------------------------------------------------
// Header
// ---------------------------------------------------------------------------

// Generation records the table sizes of an earlier save of the package.
type Generation struct {
	ExportCount int32
	NameCount   int32
}

// Header is the parsed package file header.
type Header struct {
	FileVersion     uint16
	LicenseeVersion uint16
	Flags           uint32

	NameCount    int32
	NameOffset   int32
	ExportCount  int32
	ExportOffset int32
	ImportCount  int32
	ImportOffset int32

	// GUID identifies the package build. Pre-generation versions take it from
	// the last heritage entry.
	GUID        uuid.UUID
	Generations []Generation

	HeritageCount  int32
	HeritageOffset int32
}

// HasCompactNames reports whether names are length-prefixed.
func (h *Header) HasCompactNames() bool { return h.FileVersion >= VersionCompactNames }

// Size returns the encoded header size.
func (h *Header) Size() int {
	if h.FileVersion >= VersionGenerations {
		return fixedHeaderSize + 16 + 4 + 8*len(h.Generations)
	}
	return fixedHeaderSize + 8
}

func (h *Header) decode(d *Decoder) {
	if tag := d.U32(); d.Err() == nil && tag != Tag {
		d.fail(fmt.Errorf("%w: tag %#08x", ErrBadMagic, tag))
		return
	}
	h.FileVersion = d.U16()
	h.LicenseeVersion = d.U16()
	if d.Err() == nil && (h.FileVersion < MinVersion || h.FileVersion > MaxVersion) {
		d.fail(fmt.Errorf("%w: %d (supported %d..%d)", ErrUnsupportedVersion, h.FileVersion, MinVersion, MaxVersion))
		return
	}
	d.version = h.FileVersion
	h.Flags = d.U32()
	h.NameCount = d.I32()
	h.NameOffset = d.I32()
	h.ExportCount = d.I32()
	h.ExportOffset = d.I32()
	h.ImportCount = d.I32()
	h.ImportOffset = d.I32()

	if h.FileVersion >= VersionGenerations {
		h.GUID = d.GUID()
		n := d.Count(8)
		h.Generations = make([]Generation, 0, n)
		for i := 0; i < n && d.Err() == nil; i++ {
			h.Generations = append(h.Generations, Generation{ExportCount: d.I32(), NameCount: d.I32()})
		}
		return
	}
	h.HeritageCount = d.I32()
	h.HeritageOffset = d.I32()
}

func (h *Header) encode(e *Encoder) {
	e.U32(Tag)
	e.U16(h.FileVersion)
	e.U16(h.LicenseeVersion)
	e.U32(h.Flags)
	e.I32(h.NameCount)
	e.I32(h.NameOffset)
	e.I32(h.ExportCount)
	e.I32(h.ExportOffset)
	e.I32(h.ImportCount)
	e.I32(h.ImportOffset)
	if h.FileVersion >= VersionGenerations {
		e.GUID(h.GUID)
		e.I32(int32(len(h.Generations)))
		for _, g := range h.Generations {
			e.I32(g.ExportCount)
			e.I32(g.NameCount)
		}
		return
	}
	e.I32(h.HeritageCount)
	e.I32(h.HeritageOffset)
}

// validateTables checks every count/offset pair against the file size before
// any table is allocated.
func (h *Header) validateTables(size int64) error {
	tables := []struct {
		name          string
		count, offset int32
		minEntry      int64
	}{
		{"name", h.NameCount, h.NameOffset, h.minNameEntry()},
		{"import", h.ImportCount, h.ImportOffset, minImportEntry},
		{"export", h.ExportCount, h.ExportOffset, minExportEntry},
	}
	for _, t := range tables {
		if t.count < 0 || t.count > MaxTableCount {
			return fmt.Errorf("%w: %s count %d", ErrBadCount, t.name, t.count)
		}
		if t.count == 0 {
			continue
		}
		if t.offset < 0 || int64(t.offset) > size {
			return fmt.Errorf("%w: %s table offset %d", ErrTruncated, t.name, t.offset)
		}
		if int64(t.count)*t.minEntry > size-int64(t.offset) {
			return fmt.Errorf("%w: %s count %d does not fit in %d bytes", ErrBadCount, t.name, t.count, size-int64(t.offset))
		}
	}
	return nil
}

// Smallest possible encodings of one table entry.
const (
	minImportEntry = 1 + 1 + 4 + 1
	minExportEntry = 1 + 1 + 4 + 1 + 4 + 1
)

func (h *Header) minNameEntry() int64 {
	if h.HasCompactNames() {
		return 1 + 1 + 4
	}
	return 1 + 4
}
