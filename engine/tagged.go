package engine

import (
	"fmt"

	"github.com/chazu/surreal/object"
	"github.com/chazu/surreal/pkgfile"
)

// ---------------------------------------------------------------------------
// Tagged Property Lists
// ---------------------------------------------------------------------------

// TagTypeOf returns the tag type used to serialize properties of kind k.
func TagTypeOf(k object.PropertyKind) pkgfile.TagType {
	switch k {
	case object.PropByte:
		return pkgfile.TagByte
	case object.PropInt:
		return pkgfile.TagInt
	case object.PropBool:
		return pkgfile.TagBool
	case object.PropFloat:
		return pkgfile.TagFloat
	case object.PropObject:
		return pkgfile.TagObject
	case object.PropName:
		return pkgfile.TagName
	case object.PropStr:
		return pkgfile.TagStr
	case object.PropClass:
		return pkgfile.TagClass
	case object.PropArray:
		return pkgfile.TagArray
	case object.PropMap:
		return pkgfile.TagMap
	case object.PropStruct:
		return pkgfile.TagStruct
	}
	return 0
}

// readTags applies a tagged property list to st. Values naming properties
// the layout does not have, or whose tag type disagrees with the property,
// are logged and skipped; only malformed framing is an error.
func (m *Manager) readTags(p *Package, d *pkgfile.Decoder, st *object.Storage, owner string) error {
	layout := st.Layout()
	for {
		tag, ok := d.Tag(p.none)
		if !ok {
			return d.Err()
		}
		name := p.name(tag.Name)
		value := d.Sub(int(tag.Size))
		if d.Err() != nil {
			return d.Err()
		}

		prop, found := layout.Lookup(name)
		if !found {
			log.Warning("unknown property in tagged list",
				"object", owner,
				"property", m.names.String(name),
				"type", tag.Type.String())
			continue
		}
		if TagTypeOf(prop.Kind) != tag.Type {
			log.Warning("tagged value type mismatch",
				"object", owner,
				"property", m.names.String(name),
				"tag", tag.Type.String(),
				"kind", prop.Kind.String())
			continue
		}

		var v object.Value
		if prop.Kind == object.PropBool {
			v = object.BoolValue(tag.BoolValue)
		} else {
			v = m.readValue(p, value, prop, owner)
			if err := value.Err(); err != nil {
				log.Warning("malformed tagged value",
					"object", owner,
					"property", m.names.String(name),
					"error", err.Error())
				continue
			}
		}
		if err := st.Set(prop, int(tag.ArrayIndex), v); err != nil {
			log.Warning("tagged value not stored",
				"object", owner,
				"property", m.names.String(name),
				"index", tag.ArrayIndex,
				"error", err.Error())
		}
	}
}

// readValue decodes one untagged value of prop. Bools inside arrays and maps
// are stored as one byte.
func (m *Manager) readValue(p *Package, d *pkgfile.Decoder, prop *object.Property, owner string) object.Value {
	if prop == nil {
		d.Fail(fmt.Errorf("%w: element without inner property", ErrTagMismatch))
		return object.Value{}
	}
	switch prop.Kind {
	case object.PropByte:
		return object.ByteValue(d.U8())
	case object.PropInt:
		return object.IntValue(d.I32())
	case object.PropBool:
		return object.BoolValue(d.U8() != 0)
	case object.PropFloat:
		return object.FloatValue(d.F32())
	case object.PropName:
		return object.NameValue(p.name(d.Compact()))
	case object.PropStr:
		return object.StrValue(d.String())
	case object.PropObject:
		return object.ObjectValue(m.readHandle(p, d))
	case object.PropClass:
		return object.ClassValue(m.readHandle(p, d))
	case object.PropStruct:
		if prop.Struct == nil {
			d.Skip(d.Remaining())
			return object.Value{}
		}
		sub := object.NewStorage(prop.Struct.Layout())
		if err := m.readTags(p, d, sub, owner); err != nil {
			return object.Value{}
		}
		return object.StructValue(sub)
	case object.PropArray:
		n := d.CompactCount(1)
		elems := make([]object.Value, 0, n)
		for i := 0; i < n && d.Err() == nil; i++ {
			elems = append(elems, m.readValue(p, d, prop.Inner, owner))
		}
		return object.ArrayValue(elems)
	case object.PropMap:
		n := d.CompactCount(2)
		entries := make([]object.MapEntry, 0, n)
		for i := 0; i < n && d.Err() == nil; i++ {
			k := m.readValue(p, d, prop.Inner, owner)
			v := m.readValue(p, d, prop.MapValue, owner)
			entries = append(entries, object.MapEntry{Key: k, Value: v})
		}
		return object.Value{Kind: object.ValMap, Entries: entries}
	}
	return object.Value{}
}

// readHandle decodes an object reference. Unresolved references read as none.
func (m *Manager) readHandle(p *Package, d *pkgfile.Decoder) object.Handle {
	ref := d.Ref()
	if d.Err() != nil || ref.IsNull() {
		return object.NoHandle
	}
	o, err := m.resolve(p, ref)
	if err != nil {
		if !IsUnresolved(err) {
			d.Fail(err)
		}
		return object.NoHandle
	}
	if o == nil {
		return object.NoHandle
	}
	return o.Handle
}
