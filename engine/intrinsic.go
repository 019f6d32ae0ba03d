package engine

import "github.com/chazu/surreal/object"

// ---------------------------------------------------------------------------
// Intrinsic meta classes
// ---------------------------------------------------------------------------

// metaInfo says what kind of reflection object instances of a meta class are.
type metaInfo struct {
	field object.FieldKind
	prop  object.PropertyKind
	pkg   bool
}

// Names of the built-in meta classes besides the property kinds.
const (
	MetaClass    = "Class"
	MetaFunction = "Function"
	MetaState    = "State"
	MetaStruct   = "Struct"
	MetaEnum     = "Enum"
	MetaConst    = "Const"
	MetaPackage  = "Package"
)

var intrinsicFields = []struct {
	name string
	kind object.FieldKind
}{
	{MetaClass, object.FieldClass},
	{MetaFunction, object.FieldFunction},
	{MetaState, object.FieldState},
	{MetaStruct, object.FieldStruct},
	{MetaEnum, object.FieldEnum},
	{MetaConst, object.FieldConst},
}

// buildIntrinsics fills the intrinsic package with one class object per meta
// class. Their own class is the Class meta class.
func (m *Manager) buildIntrinsics(p *Package) {
	add := func(name string, info metaInfo) *object.Class {
		obj := p.add(&object.Object{Name: m.names.Intern(name), Outer: p.Handle(), Flags: object.FlagNative | object.FlagPublic})
		f := object.NewField(object.FieldClass, obj)
		f.Class.ClassFlags = object.ClassIntrinsic | object.ClassNative
		m.meta[f.Class] = info
		m.intrinsics[obj.Name] = obj
		return f.Class
	}

	classClass := add(MetaClass, metaInfo{field: object.FieldClass})
	for _, e := range intrinsicFields[1:] {
		add(e.name, metaInfo{field: e.kind})
	}
	add(MetaPackage, metaInfo{pkg: true})
	for _, k := range object.AllPropertyKinds() {
		add(k.String(), metaInfo{field: object.FieldProperty, prop: k})
	}

	p.Objects(func(o *object.Object) bool {
		if o.Field != nil {
			o.Class = classClass
		}
		return true
	})
	m.classClass = classClass
}

// Intrinsic returns the built-in meta class named name, or nil.
func (m *Manager) Intrinsic(name string) *object.Class {
	n, ok := m.names.Lookup(name)
	if !ok {
		return nil
	}
	if obj := m.intrinsics[n]; obj != nil {
		return obj.Field.Class
	}
	return nil
}

// metaOf returns what instances of class c are.
func (m *Manager) metaOf(c *object.Class) (metaInfo, bool) {
	if c == nil {
		return metaInfo{}, false
	}
	info, ok := m.meta[c]
	return info, ok
}
