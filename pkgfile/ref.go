package pkgfile

import "fmt"

// ---------------------------------------------------------------------------
// Ref: Signed reference into the export or import table
// ---------------------------------------------------------------------------

// Ref is an object reference as stored on disk: 0 is null, a positive value
// n is export n-1 and a negative value -n is import n-1.
type Ref int32

// NullRef is the null reference.
const NullRef Ref = 0

// ExportRef returns the reference to export i.
func ExportRef(i int) Ref { return Ref(i + 1) }

// ImportRef returns the reference to import i.
func ImportRef(i int) Ref { return Ref(-i - 1) }

// IsNull reports whether r is the null reference.
func (r Ref) IsNull() bool { return r == 0 }

// IsExport reports whether r refers to an export.
func (r Ref) IsExport() bool { return r > 0 }

// IsImport reports whether r refers to an import.
func (r Ref) IsImport() bool { return r < 0 }

// ExportIndex returns the export table index; only valid when IsExport.
func (r Ref) ExportIndex() int { return int(r) - 1 }

// ImportIndex returns the import table index; only valid when IsImport.
func (r Ref) ImportIndex() int { return -int(r) - 1 }

// Validate checks that r addresses an entry of tables with the given sizes.
func (r Ref) Validate(exports, imports int) error {
	switch {
	case r.IsNull():
		return nil
	case r.IsExport() && r.ExportIndex() < exports:
		return nil
	case r.IsImport() && r.ImportIndex() < imports:
		return nil
	}
	return fmt.Errorf("%w: %s with %d exports, %d imports", ErrRefOutOfRange, r, exports, imports)
}

func (r Ref) String() string {
	switch {
	case r.IsNull():
		return "null"
	case r.IsExport():
		return fmt.Sprintf("export#%d", r.ExportIndex())
	default:
		return fmt.Sprintf("import#%d", r.ImportIndex())
	}
}
