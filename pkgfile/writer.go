package pkgfile

import (
	"bytes"
	"fmt"
	"io"
)

// ---------------------------------------------------------------------------
// Writer: Serializes a package file
// ---------------------------------------------------------------------------

// Writer assembles a package file from tables and export payloads. The file
// is laid out as header, names, imports, payloads and exports; the header is
// back-patched with the final offsets.
type Writer struct {
	Header  Header
	Names   []NameEntry
	Imports []Import
	Exports []Export

	// Payloads[i] is the serialized body of Exports[i]; SerialSize and
	// SerialOffset are filled in by the writer.
	Payloads [][]byte
}

// NewWriter creates a writer for the given file version.
func NewWriter(version uint16) *Writer {
	if version == 0 {
		version = DefaultVersion
	}
	return &Writer{Header: Header{FileVersion: version}}
}

// AddName appends a name and returns its index.
func (w *Writer) AddName(name string) int32 {
	w.Names = append(w.Names, NameEntry{Name: name})
	return int32(len(w.Names) - 1)
}

// AddImport appends an import and returns its reference.
func (w *Writer) AddImport(imp Import) Ref {
	w.Imports = append(w.Imports, imp)
	return ImportRef(len(w.Imports) - 1)
}

// AddExport appends an export with its payload and returns its reference.
func (w *Writer) AddExport(exp Export, payload []byte) Ref {
	w.Exports = append(w.Exports, exp)
	w.Payloads = append(w.Payloads, payload)
	return ExportRef(len(w.Exports) - 1)
}

// Bytes encodes the complete package.
func (w *Writer) Bytes() ([]byte, error) {
	if len(w.Payloads) != len(w.Exports) {
		return nil, fmt.Errorf("pkgfile: %d payloads for %d exports", len(w.Payloads), len(w.Exports))
	}
	h := w.Header
	if h.FileVersion == 0 {
		h.FileVersion = DefaultVersion
	}
	h.NameCount = int32(len(w.Names))
	h.ImportCount = int32(len(w.Imports))
	h.ExportCount = int32(len(w.Exports))
	if h.FileVersion >= VersionGenerations {
		h.Generations = []Generation{{ExportCount: h.ExportCount, NameCount: h.NameCount}}
	} else {
		h.HeritageCount = 0
		h.HeritageOffset = 0
	}

	e := NewEncoder(h.FileVersion)
	// Placeholder header; offsets are patched below.
	h.encode(e)

	h.NameOffset = int32(e.Len())
	for _, n := range w.Names {
		encodeName(e, n)
	}

	h.ImportOffset = int32(e.Len())
	for _, imp := range w.Imports {
		encodeImport(e, imp)
	}

	exports := make([]Export, len(w.Exports))
	copy(exports, w.Exports)
	for i, p := range w.Payloads {
		exports[i].SerialSize = int32(len(p))
		exports[i].SerialOffset = 0
		if len(p) > 0 {
			exports[i].SerialOffset = int32(e.Len())
			e.Raw(p)
		}
	}

	if h.FileVersion < VersionGenerations && h.GUID != [16]byte{} {
		h.HeritageCount = 1
		h.HeritageOffset = int32(e.Len())
		e.GUID(h.GUID)
	}

	h.ExportOffset = int32(e.Len())
	for _, exp := range exports {
		encodeExport(e, exp)
	}

	out := e.Bytes()
	patch := NewEncoder(h.FileVersion)
	h.encode(patch)
	copy(out, patch.Bytes())
	return out, nil
}

// WriteTo writes the encoded package to out.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	b, err := w.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, bytes.NewReader(b))
	return n, err
}
