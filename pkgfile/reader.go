package pkgfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Summary: Parsed header and tables
// ---------------------------------------------------------------------------

// Summary is everything needed to resolve a package without touching payloads.
// Every reference and payload range in it has been validated.
type Summary struct {
	Header  Header
	Names   []NameEntry
	Imports []Import
	Exports []Export

	// Size is the file size the summary was validated against.
	Size int64
}

// Name returns the string of name index i, or "" when out of range.
func (s *Summary) Name(i int32) string {
	if i < 0 || int(i) >= len(s.Names) {
		return ""
	}
	return s.Names[i].Name
}

// NameIndex finds a name ignoring case, returning -1 when absent.
func (s *Summary) NameIndex(name string) int32 {
	for i, n := range s.Names {
		if strings.EqualFold(n.Name, name) {
			return int32(i)
		}
	}
	return -1
}

// ExportName returns the object name of export i.
func (s *Summary) ExportName(i int) string { return s.Name(s.Exports[i].ObjectName) }

// ImportName returns the object name of import i.
func (s *Summary) ImportName(i int) string { return s.Name(s.Imports[i].ObjectName) }

// ImportPackage follows the Outer chain of import i to its root, which names
// the providing package.
func (s *Summary) ImportPackage(i int) string {
	seen := 0
	for {
		imp := s.Imports[i]
		if !imp.Outer.IsImport() || seen > len(s.Imports) {
			return s.Name(imp.ObjectName)
		}
		i = imp.Outer.ImportIndex()
		seen++
	}
}

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

// ReadFile opens and summarizes the package at path.
func ReadFile(path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	s, err := Read(f, info.Size())
	if err != nil {
		var fe *FormatError
		if errors.As(err, &fe) {
			fe.Path = path
		}
		return nil, err
	}
	return s, nil
}

// ReadHeader reads and validates only the header.
func ReadHeader(r io.ReaderAt, size int64) (*Header, error) {
	if size < fixedHeaderSize+8 {
		return nil, &FormatError{Offset: 0, Err: fmt.Errorf("%w: %d byte file", ErrTruncated, size)}
	}
	// The generation list is variable; read the fixed part first and
	// extend once the count is known.
	n := int64(fixedHeaderSize + 16 + 4)
	if n > size {
		n = size
	}
	buf, err := readRegion(r, 0, n)
	if err != nil {
		return nil, err
	}
	var probe Header
	d := NewDecoder(buf, 0, 0)
	probe.decodeFixed(d)
	if d.Err() != nil {
		return nil, d.Err()
	}

	if probe.FileVersion >= VersionGenerations {
		if size < fixedHeaderSize+20 {
			return nil, &FormatError{Offset: 0, Err: fmt.Errorf("%w: %d byte file", ErrTruncated, size)}
		}
		count := int64(int32(ReadUint32(buf[fixedHeaderSize+16:])))
		if count < 0 || count > MaxTableCount || fixedHeaderSize+20+count*8 > size {
			return nil, &FormatError{Offset: fixedHeaderSize + 16, Err: fmt.Errorf("%w: %d generations", ErrBadCount, count)}
		}
		if buf, err = readRegion(r, 0, fixedHeaderSize+20+count*8); err != nil {
			return nil, err
		}
	}

	var h Header
	d = NewDecoder(buf, 0, 0)
	h.decode(d)
	if d.Err() != nil {
		return nil, d.Err()
	}

	if h.FileVersion < VersionGenerations && h.HeritageCount > 0 {
		off := int64(h.HeritageOffset) + int64(h.HeritageCount-1)*16
		if h.HeritageCount > MaxTableCount || h.HeritageOffset < 0 || off+16 > size {
			return nil, &FormatError{Offset: int64(h.HeritageOffset), Err: fmt.Errorf("%w: heritage table", ErrBadCount)}
		}
		g, err := readRegion(r, off, 16)
		if err != nil {
			return nil, err
		}
		copy(h.GUID[:], g)
	}

	if err := h.validateTables(size); err != nil {
		return nil, &FormatError{Offset: 0, Err: err}
	}
	return &h, nil
}

// decodeFixed reads the tag and version only.
func (h *Header) decodeFixed(d *Decoder) {
	if tag := d.U32(); d.Err() == nil && tag != Tag {
		d.fail(fmt.Errorf("%w: tag %#08x", ErrBadMagic, tag))
		return
	}
	h.FileVersion = d.U16()
	if d.Err() == nil && (h.FileVersion < MinVersion || h.FileVersion > MaxVersion) {
		d.fail(fmt.Errorf("%w: %d (supported %d..%d)", ErrUnsupportedVersion, h.FileVersion, MinVersion, MaxVersion))
	}
}

// Read parses and validates the header and tables of a package. Any failure
// is returned as a *FormatError.
func Read(r io.ReaderAt, size int64) (*Summary, error) {
	h, err := ReadHeader(r, size)
	if err != nil {
		return nil, err
	}
	s := &Summary{Header: *h, Size: size}
	ends := tableEnds(h, size)

	if h.NameCount > 0 {
		d, err := tableDecoder(r, h, h.NameOffset, ends)
		if err != nil {
			return nil, err
		}
		s.Names = make([]NameEntry, 0, h.NameCount)
		for i := int32(0); i < h.NameCount && d.Err() == nil; i++ {
			s.Names = append(s.Names, decodeName(d, h.HasCompactNames()))
		}
		if d.Err() != nil {
			return nil, d.Err()
		}
	}

	if h.ImportCount > 0 {
		d, err := tableDecoder(r, h, h.ImportOffset, ends)
		if err != nil {
			return nil, err
		}
		s.Imports = make([]Import, 0, h.ImportCount)
		for i := int32(0); i < h.ImportCount && d.Err() == nil; i++ {
			s.Imports = append(s.Imports, decodeImport(d))
		}
		if d.Err() != nil {
			return nil, d.Err()
		}
	}

	if h.ExportCount > 0 {
		d, err := tableDecoder(r, h, h.ExportOffset, ends)
		if err != nil {
			return nil, err
		}
		s.Exports = make([]Export, 0, h.ExportCount)
		for i := int32(0); i < h.ExportCount && d.Err() == nil; i++ {
			s.Exports = append(s.Exports, decodeExport(d))
		}
		if d.Err() != nil {
			return nil, d.Err()
		}
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Summary) validate() error {
	names, exports, imports := len(s.Names), len(s.Exports), len(s.Imports)
	for i, imp := range s.Imports {
		if err := imp.validate(names, exports, imports); err != nil {
			return &FormatError{Offset: int64(s.Header.ImportOffset), Err: fmt.Errorf("import %d: %w", i, err)}
		}
	}
	for i, exp := range s.Exports {
		if err := exp.validate(names, exports, imports, s.Size); err != nil {
			return &FormatError{Offset: int64(s.Header.ExportOffset), Err: fmt.Errorf("export %d: %w", i, err)}
		}
	}
	return nil
}

// tableEnds returns the sorted start offsets of everything following the
// header, so each table can be bounded by the next one.
func tableEnds(h *Header, size int64) []int64 {
	ends := []int64{size}
	for _, off := range []int32{h.NameOffset, h.ImportOffset, h.ExportOffset} {
		if off > 0 {
			ends = append(ends, int64(off))
		}
	}
	sort.Slice(ends, func(i, j int) bool { return ends[i] < ends[j] })
	return ends
}

func tableDecoder(r io.ReaderAt, h *Header, off int32, ends []int64) (*Decoder, error) {
	start := int64(off)
	end := ends[len(ends)-1]
	for _, e := range ends {
		if e > start {
			end = e
			break
		}
	}
	buf, err := readRegion(r, start, end-start)
	if err != nil {
		return nil, err
	}
	return NewDecoder(buf, start, h.FileVersion), nil
}

func readRegion(r io.ReaderAt, off, n int64) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	got, err := r.ReadAt(buf, off)
	if int64(got) == n {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, &FormatError{Offset: off, Err: fmt.Errorf("%w: region of %d bytes", ErrTruncated, n)}
	}
	return nil, fmt.Errorf("read package at %d: %w", off, err)
}

// Payload reads the serialized bytes of export exp.
func Payload(r io.ReaderAt, size int64, exp Export) ([]byte, error) {
	if err := exp.checkPayload(size); err != nil {
		return nil, &FormatError{Offset: int64(exp.SerialOffset), Err: err}
	}
	if exp.SerialSize == 0 {
		return nil, nil
	}
	return readRegion(r, int64(exp.SerialOffset), int64(exp.SerialSize))
}
