package object

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Storage: Fixed-size property block
// ---------------------------------------------------------------------------

// Storage is the raw, layout-shaped memory of one object, function frame or
// struct value. The fixed block holds scalars inline; strings, arrays and
// maps hold a 4-byte slot descriptor (slot index + 1, 0 = empty) into a side
// table shared with every view of the same block.
type Storage struct {
	layout *Layout
	data   []byte
	dyn    *dynTable
}

type dynTable struct {
	slots []Value
}

func (t *dynTable) alloc(v Value) uint32 {
	t.slots = append(t.slots, v)
	return uint32(len(t.slots))
}

// NewStorage allocates a zeroed block for layout l.
func NewStorage(l *Layout) *Storage {
	if l == nil {
		l = &Layout{Align: 1, boolOffset: -1, Missing: true}
	}
	return &Storage{
		layout: l,
		data:   make([]byte, l.Size),
		dyn:    &dynTable{},
	}
}

// Layout returns the layout the block was allocated for.
func (s *Storage) Layout() *Layout { return s.layout }

// Bytes returns the fixed block. Callers must not retain it across Set calls
// that might reallocate.
func (s *Storage) Bytes() []byte { return s.data }

// Clone returns an independent deep copy.
func (s *Storage) Clone() *Storage {
	if s == nil {
		return nil
	}
	c := &Storage{
		layout: s.layout,
		data:   append([]byte(nil), s.data...),
		dyn:    &dynTable{slots: make([]Value, len(s.dyn.slots))},
	}
	for i, v := range s.dyn.slots {
		c.dyn.slots[i] = v.Clone()
	}
	return c
}

// Equal compares the property values of two blocks with the same layout.
func (s *Storage) Equal(o *Storage) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.layout != o.layout {
		return false
	}
	for _, p := range s.layout.Properties {
		for i := 0; i < p.Dim(); i++ {
			if !s.Get(p, i).Equal(o.Get(p, i)) {
				return false
			}
		}
	}
	return true
}

// Has reports whether p can be addressed in this block.
func (s *Storage) Has(p *Property) bool {
	return s != nil && p != nil && s.layout.Contains(p)
}

func (s *Storage) elementOffset(p *Property, index int) (int, error) {
	if !s.Has(p) {
		return 0, ErrForeignProperty
	}
	if index < 0 || index >= p.Dim() {
		return 0, fmt.Errorf("%w: %d of %d", ErrArrayIndex, index, p.Dim())
	}
	if p.Kind == PropBool && p.Dim() == 1 {
		return p.Offset, nil
	}
	off := p.Offset + index*p.ElementSize()
	if off+p.ElementSize() > len(s.data) {
		return 0, ErrForeignProperty
	}
	return off, nil
}

// Get reads element index of p. Unknown properties and out-of-range indices
// read as the property's zero value so malformed content never aborts a tick.
func (s *Storage) Get(p *Property, index int) Value {
	off, err := s.elementOffset(p, index)
	if err != nil {
		return ZeroValue(p)
	}
	d := s.data
	switch p.Kind {
	case PropByte:
		return ByteValue(d[off])
	case PropInt:
		return IntValue(int32(binary.LittleEndian.Uint32(d[off:])))
	case PropBool:
		return BoolValue(d[off]&p.Mask != 0)
	case PropFloat:
		return FloatValue(math.Float32frombits(binary.LittleEndian.Uint32(d[off:])))
	case PropName:
		return NameValue(Name(int32(binary.LittleEndian.Uint32(d[off:]))))
	case PropObject:
		return ObjectValue(Handle(binary.LittleEndian.Uint64(d[off:])))
	case PropClass:
		return ClassValue(Handle(binary.LittleEndian.Uint64(d[off:])))
	case PropStr, PropArray, PropMap:
		slot := binary.LittleEndian.Uint32(d[off:])
		if slot == 0 || int(slot) > len(s.dyn.slots) {
			return ZeroValue(p)
		}
		return s.dyn.slots[slot-1].Clone()
	case PropStruct:
		return StructValue(s.View(p, index).Clone())
	}
	return Value{}
}

// Set writes element index of p, coercing v to the property's kind.
func (s *Storage) Set(p *Property, index int, v Value) error {
	off, err := s.elementOffset(p, index)
	if err != nil {
		return err
	}
	d := s.data
	switch p.Kind {
	case PropByte:
		d[off] = v.AsByte()
	case PropInt:
		binary.LittleEndian.PutUint32(d[off:], uint32(v.AsInt()))
	case PropBool:
		if v.AsBool() {
			d[off] |= p.Mask
		} else {
			d[off] &^= p.Mask
		}
	case PropFloat:
		binary.LittleEndian.PutUint32(d[off:], math.Float32bits(v.AsFloat()))
	case PropName:
		binary.LittleEndian.PutUint32(d[off:], uint32(Coerce(p, v).Name))
	case PropObject, PropClass:
		binary.LittleEndian.PutUint64(d[off:], uint64(v.Handle))
	case PropStr, PropArray, PropMap:
		stored, err := coerceDynamic(p, v)
		if err != nil {
			return err
		}
		slot := binary.LittleEndian.Uint32(d[off:])
		if slot == 0 || int(slot) > len(s.dyn.slots) {
			binary.LittleEndian.PutUint32(d[off:], s.dyn.alloc(stored))
		} else {
			s.dyn.slots[slot-1] = stored
		}
	case PropStruct:
		if v.Kind != ValStruct || v.Struct == nil {
			return fmt.Errorf("%w: %s into %s", ErrKindMismatch, v.Kind, p.Kind)
		}
		dst := s.View(p, index)
		if dst == nil {
			return ErrForeignProperty
		}
		for _, sp := range dst.layout.Properties {
			for i := 0; i < sp.Dim(); i++ {
				if err := dst.Set(sp, i, v.Struct.Get(sp, i)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func coerceDynamic(p *Property, v Value) (Value, error) {
	switch p.Kind {
	case PropStr:
		return Coerce(p, v), nil
	case PropArray:
		if v.Kind != ValArray {
			return Value{}, fmt.Errorf("%w: %s into %s", ErrKindMismatch, v.Kind, p.Kind)
		}
		out := make([]Value, len(v.Elems))
		for i, e := range v.Elems {
			if p.Inner != nil && p.Inner.Kind != PropStruct && !p.Inner.IsDynamic() {
				e = Coerce(p.Inner, e)
			}
			out[i] = e.Clone()
		}
		return ArrayValue(out), nil
	case PropMap:
		if v.Kind != ValMap {
			return Value{}, fmt.Errorf("%w: %s into %s", ErrKindMismatch, v.Kind, p.Kind)
		}
		return v.Clone(), nil
	}
	return v, nil
}

// View returns a storage sharing memory with element index of a struct
// property, so member writes land in the parent block.
func (s *Storage) View(p *Property, index int) *Storage {
	if p.Kind != PropStruct || p.Struct == nil {
		return nil
	}
	off, err := s.elementOffset(p, index)
	if err != nil {
		return nil
	}
	l := p.Struct.Layout()
	return &Storage{
		layout: l,
		data:   s.data[off : off+l.Size : off+l.Size],
		dyn:    s.dyn,
	}
}

// CopyFrom copies every property value of src whose property is also part of
// s's layout. It is used to initialise instances from class defaults.
func (s *Storage) CopyFrom(src *Storage) {
	if src == nil {
		return
	}
	for _, p := range src.layout.Properties {
		if !s.Has(p) {
			continue
		}
		for i := 0; i < p.Dim(); i++ {
			_ = s.Set(p, i, src.Get(p, i))
		}
	}
}
