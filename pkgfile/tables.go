package pkgfile

import "fmt"

// ---------------------------------------------------------------------------
// Table Entries
// ---------------------------------------------------------------------------

// NameEntry is one entry of the name table.
type NameEntry struct {
	Name  string
	Flags uint32
}

// Import describes an object another package provides. ClassPackage,
// ClassName and ObjectName index the name table. Outer chains imports
// together; the root of the chain names the providing package.
type Import struct {
	ClassPackage int32
	ClassName    int32
	Outer        Ref
	ObjectName   int32
}

// Export describes an object this package provides, with the location of its
// payload.
type Export struct {
	Class        Ref
	Super        Ref
	Outer        Ref
	ObjectName   int32
	Flags        uint32
	SerialSize   int32
	SerialOffset int32
}

func decodeName(d *Decoder, compact bool) NameEntry {
	var n NameEntry
	if compact {
		n.Name = d.String()
	} else {
		n.Name = d.CString()
	}
	n.Flags = d.U32()
	return n
}

func encodeName(e *Encoder, n NameEntry) {
	if e.Version() >= VersionCompactNames {
		e.String(n.Name)
	} else {
		e.CString(n.Name)
	}
	e.U32(n.Flags)
}

func decodeImport(d *Decoder) Import {
	return Import{
		ClassPackage: d.Compact(),
		ClassName:    d.Compact(),
		Outer:        Ref(d.I32()),
		ObjectName:   d.Compact(),
	}
}

func encodeImport(e *Encoder, imp Import) {
	e.Compact(imp.ClassPackage)
	e.Compact(imp.ClassName)
	e.I32(int32(imp.Outer))
	e.Compact(imp.ObjectName)
}

func decodeExport(d *Decoder) Export {
	exp := Export{
		Class:      d.Ref(),
		Super:      d.Ref(),
		Outer:      Ref(d.I32()),
		ObjectName: d.Compact(),
		Flags:      d.U32(),
		SerialSize: d.Compact(),
	}
	if exp.SerialSize > 0 {
		exp.SerialOffset = d.Compact()
	}
	return exp
}

func encodeExport(e *Encoder, exp Export) {
	e.Ref(exp.Class)
	e.Ref(exp.Super)
	e.I32(int32(exp.Outer))
	e.Compact(exp.ObjectName)
	e.U32(exp.Flags)
	e.Compact(exp.SerialSize)
	if exp.SerialSize > 0 {
		e.Compact(exp.SerialOffset)
	}
}

func checkName(idx int32, names int) error {
	if idx < 0 || int(idx) >= names {
		return fmt.Errorf("%w: %d of %d", ErrNameOutOfRange, idx, names)
	}
	return nil
}

func (imp Import) validate(names, exports, imports int) error {
	for _, n := range []int32{imp.ClassPackage, imp.ClassName, imp.ObjectName} {
		if err := checkName(n, names); err != nil {
			return err
		}
	}
	return imp.Outer.Validate(exports, imports)
}

func (exp Export) validate(names, exports, imports int, size int64) error {
	if err := checkName(exp.ObjectName, names); err != nil {
		return err
	}
	for _, r := range []Ref{exp.Class, exp.Super, exp.Outer} {
		if err := r.Validate(exports, imports); err != nil {
			return err
		}
	}
	return exp.checkPayload(size)
}

func (exp Export) checkPayload(size int64) error {
	if exp.SerialSize < 0 {
		return fmt.Errorf("%w: negative size %d", ErrPayloadRange, exp.SerialSize)
	}
	if exp.SerialSize == 0 {
		return nil
	}
	if exp.SerialOffset < 0 || int64(exp.SerialOffset)+int64(exp.SerialSize) > size {
		return fmt.Errorf("%w: [%d, +%d) in %d bytes", ErrPayloadRange, exp.SerialOffset, exp.SerialSize, size)
	}
	return nil
}
