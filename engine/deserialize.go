package engine

import (
	"fmt"

	"github.com/chazu/surreal/object"
	"github.com/chazu/surreal/pkgfile"
)

// ---------------------------------------------------------------------------
// Reflection Metadata Payloads
// ---------------------------------------------------------------------------

// fieldReader decodes one field payload. References are resolved as they are
// read; unresolved imports degrade to nil and the first fatal error is kept.
type fieldReader struct {
	m   *Manager
	p   *Package
	d   *pkgfile.Decoder
	err error
}

func (r *fieldReader) object() *object.Object {
	ref := r.d.Ref()
	if r.err != nil || r.d.Err() != nil || ref.IsNull() {
		return nil
	}
	o, err := r.m.resolve(r.p, ref)
	if err != nil {
		if !IsUnresolved(err) {
			r.err = err
		}
		return nil
	}
	return o
}

func (r *fieldReader) field() *object.Field {
	if o := r.object(); o != nil {
		return o.Field
	}
	return nil
}

func (r *fieldReader) name() object.Name {
	return r.p.name(r.d.Compact())
}

func (r *fieldReader) failed() error {
	if r.err != nil {
		return r.err
	}
	if err := r.d.Err(); err != nil {
		return r.p.formatFailure(err)
	}
	return nil
}

// loadField deserializes the metadata payload of export i into f. Super,
// Next and Children references are followed eagerly. A class's tagged
// defaults are left for the delay-load queue.
func (m *Manager) loadField(p *Package, i int, f *object.Field) error {
	obj := f.Object
	data, err := p.payload(i)
	if err != nil {
		return &LoadError{Package: p.String(), Err: err}
	}
	exp := p.Summary.Exports[i]
	r := &fieldReader{
		m: m,
		p: p,
		d: pkgfile.NewDecoder(data, int64(exp.SerialOffset), p.Summary.Header.FileVersion),
	}

	obj.Flags |= object.FlagLoading
	defer func() { obj.Flags &^= object.FlagLoading }()

	r.readField(f)
	switch f.Kind {
	case object.FieldProperty:
		r.readProperty(f.Property)
	case object.FieldStruct:
		r.readStruct(f.Struct)
	case object.FieldFunction:
		r.readStruct(f.Struct)
		r.readFunction(f.Function)
	case object.FieldState:
		r.readStruct(f.Struct)
		r.readState(f.State)
	case object.FieldClass:
		r.readStruct(f.Struct)
		r.readState(f.State)
		r.readClass(f.Class)
	case object.FieldEnum:
		r.readEnum(f.Enum)
	case object.FieldConst:
		f.Const.Value = r.d.String()
	}
	if err := r.failed(); err != nil {
		return err
	}
	if err := checkSuperChain(f); err != nil {
		return &LoadError{Package: p.String(), Err: fmt.Errorf("%w: %s", err, p.exportPath(i))}
	}

	if f.Kind == object.FieldClass {
		p.deferred[obj.Handle.Slot()] = len(data) - r.d.Remaining()
		m.enqueue(obj.Handle)
		return nil
	}
	obj.Flags &^= object.FlagNeedLoad
	return nil
}

// checkSuperChain fails if following Super from f leads back to f.
func checkSuperChain(f *object.Field) error {
	slow, fast := f, f
	for fast != nil && fast.Super != nil {
		slow = slow.Super
		fast = fast.Super.Super
		if slow == fast {
			return ErrSuperCycle
		}
	}
	return nil
}

func (r *fieldReader) readField(f *object.Field) {
	f.Super = r.field()
	f.Next = r.field()
}

func (r *fieldReader) readStruct(s *object.Struct) {
	s.Children = r.field()
	s.FriendlyName = r.name()
	s.Line = r.d.I32()
	n := r.d.CompactCount(1)
	if n > 0 {
		s.Script = append([]byte(nil), r.d.Bytes(n)...)
	}
}

func (r *fieldReader) readFunction(fn *object.Function) {
	fn.Native = r.d.U16()
	fn.Precedence = r.d.U8()
	fn.Flags = object.FunctionFlags(r.d.U32())
}

func (r *fieldReader) readState(st *object.State) {
	st.ProbeMask = r.d.U64()
	st.LabelTableOffset = r.d.U16()
	st.Flags = object.StateFlags(r.d.U32())
}

func (r *fieldReader) readClass(c *object.Class) {
	c.ClassFlags = object.ClassFlags(r.d.U32())
	c.GUID = r.d.GUID()
	if w := r.field(); w != nil {
		c.Within = w.Class
	}
	c.ConfigName = r.name()
}

func (r *fieldReader) readProperty(p *object.Property) {
	p.ArrayDim = int(r.d.U16())
	p.Flags = object.PropertyFlags(r.d.U32())
	p.Category = r.name()

	switch p.Kind {
	case object.PropByte:
		if f := r.field(); f != nil {
			p.Enum = f.Enum
		}
	case object.PropObject:
		if f := r.field(); f != nil {
			p.Class = f.Class
		}
	case object.PropClass:
		r.field()
		if f := r.field(); f != nil {
			p.Class = f.Class
		}
	case object.PropArray:
		if f := r.field(); f != nil {
			p.Inner = f.Property
		}
	case object.PropMap:
		if f := r.field(); f != nil {
			p.Inner = f.Property
		}
		if f := r.field(); f != nil {
			p.MapValue = f.Property
		}
	case object.PropStruct:
		if f := r.field(); f != nil {
			p.Struct = f.Struct
		}
	}
}

func (r *fieldReader) readEnum(e *object.Enum) {
	n := r.d.CompactCount(1)
	e.Names = make([]object.Name, 0, n)
	for i := 0; i < n; i++ {
		e.Names = append(e.Names, r.name())
	}
}
