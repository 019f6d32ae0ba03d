package engine

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/chazu/surreal/object"
	"github.com/chazu/surreal/pkgfile"
)

// ---------------------------------------------------------------------------
// PackageBuilder: Authoring package files
// ---------------------------------------------------------------------------

// PackageBuilder assembles a package file from classes, functions,
// properties and objects. References between exports are known as soon as
// an export is declared; child chains and payloads are encoded by Bytes.
type PackageBuilder struct {
	name    string
	core    string
	version uint16
	guid    uuid.UUID

	names     []pkgfile.NameEntry
	nameIndex map[string]int32
	imports   []pkgfile.Import
	importKey map[string]pkgfile.Ref
	drafts    []*draft
}

type draft struct {
	exp   pkgfile.Export
	field *fieldDraft
	props []Prop
}

type fieldDraft struct {
	kind     object.FieldKind
	super    pkgfile.Ref
	children []pkgfile.Ref

	friendly string
	line     int32
	script   []byte

	native     uint16
	precedence uint8
	funcFlags  object.FunctionFlags

	probe      uint64
	labels     uint16
	stateFlags object.StateFlags

	classFlags object.ClassFlags
	guid       uuid.UUID
	within     pkgfile.Ref
	config     string
	defaults   []Prop

	propKind  object.PropertyKind
	dim       int
	propFlags object.PropertyFlags
	category  string
	extras    []pkgfile.Ref

	enumNames []string
	constVal  string
}

// NewPackageBuilder starts a package named name. The package GUID is derived
// from the name so rebuilding the same content yields the same file.
func NewPackageBuilder(name string) *PackageBuilder {
	b := &PackageBuilder{
		name:      name,
		core:      DefaultCorePackage,
		version:   pkgfile.DefaultVersion,
		guid:      uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.ToLower(name))),
		nameIndex: make(map[string]int32),
		importKey: make(map[string]pkgfile.Ref),
	}
	b.Name("None")
	return b
}

// SetVersion selects the file version written by Bytes.
func (b *PackageBuilder) SetVersion(v uint16) *PackageBuilder {
	b.version = v
	return b
}

// SetCorePackage changes the package meta class imports are taken from.
func (b *PackageBuilder) SetCorePackage(name string) *PackageBuilder {
	b.core = name
	return b
}

// PackageName returns the name of the package being built.
func (b *PackageBuilder) PackageName() string { return b.name }

// Name interns s in the package name table.
func (b *PackageBuilder) Name(s string) int32 {
	k := strings.ToLower(s)
	if i, ok := b.nameIndex[k]; ok {
		return i
	}
	i := int32(len(b.names))
	b.names = append(b.names, pkgfile.NameEntry{Name: s})
	b.nameIndex[k] = i
	return i
}

// ---------------------------------------------------------------------------
// Imports
// ---------------------------------------------------------------------------

// ImportPackage returns the root import naming another package.
func (b *PackageBuilder) ImportPackage(pkg string) pkgfile.Ref {
	return b.importIn(pkgfile.NullRef, MetaPackage, pkg)
}

// Import declares an object another package exports at its top level.
func (b *PackageBuilder) Import(pkg, className, objectName string) pkgfile.Ref {
	return b.importIn(b.ImportPackage(pkg), className, objectName)
}

// ImportIn declares an object nested in an imported outer, such as a
// function of an imported class.
func (b *PackageBuilder) ImportIn(outer pkgfile.Ref, className, objectName string) pkgfile.Ref {
	return b.importIn(outer, className, objectName)
}

// ImportClass declares a class exported by another package.
func (b *PackageBuilder) ImportClass(pkg, name string) pkgfile.Ref {
	return b.Import(pkg, MetaClass, name)
}

func (b *PackageBuilder) importIn(outer pkgfile.Ref, className, objectName string) pkgfile.Ref {
	key := strings.ToLower(outer.String() + "/" + className + "/" + objectName)
	if ref, ok := b.importKey[key]; ok {
		return ref
	}
	b.imports = append(b.imports, pkgfile.Import{
		ClassPackage: b.Name(b.core),
		ClassName:    b.Name(className),
		Outer:        outer,
		ObjectName:   b.Name(objectName),
	})
	ref := pkgfile.ImportRef(len(b.imports) - 1)
	b.importKey[key] = ref
	return ref
}

// meta returns the import of a built-in meta class.
func (b *PackageBuilder) meta(name string) pkgfile.Ref {
	return b.Import(b.core, MetaClass, name)
}

// ---------------------------------------------------------------------------
// Exports
// ---------------------------------------------------------------------------

func (b *PackageBuilder) add(d *draft) pkgfile.Ref {
	if d.exp.Flags == 0 {
		d.exp.Flags = uint32(object.FlagPublic)
	}
	b.drafts = append(b.drafts, d)
	return pkgfile.ExportRef(len(b.drafts) - 1)
}

// chain appends child to the child list of the struct export parent.
func (b *PackageBuilder) chain(parent, child pkgfile.Ref) {
	if !parent.IsExport() {
		return
	}
	if f := b.drafts[parent.ExportIndex()].field; f != nil && f.kind.IsStruct() {
		f.children = append(f.children, child)
	}
}

// Class declares a top-level class deriving from super (which may be null).
func (b *PackageBuilder) Class(name string, super pkgfile.Ref) *StructBuilder {
	d := &draft{
		exp:   pkgfile.Export{Super: super, ObjectName: b.Name(name)},
		field: &fieldDraft{kind: object.FieldClass, super: super},
	}
	d.field.guid = uuid.NewSHA1(b.guid, []byte(strings.ToLower(name)))
	return &StructBuilder{b: b, Ref: b.add(d), d: d}
}

// Object declares a top-level object of class with tagged property values.
func (b *PackageBuilder) Object(name string, class pkgfile.Ref, props ...Prop) pkgfile.Ref {
	return b.ObjectIn(pkgfile.NullRef, name, class, props...)
}

// ObjectIn declares an object inside outer.
func (b *PackageBuilder) ObjectIn(outer pkgfile.Ref, name string, class pkgfile.Ref, props ...Prop) pkgfile.Ref {
	return b.add(&draft{
		exp:   pkgfile.Export{Class: class, Outer: outer, ObjectName: b.Name(name)},
		props: props,
	})
}

// Raw declares an export with an explicit class, outer and payload-less
// body. It exists for building deliberately malformed fixtures.
func (b *PackageBuilder) Raw(exp pkgfile.Export) pkgfile.Ref {
	return b.add(&draft{exp: exp})
}

// StructBuilder adds members to a struct-like export: a class, state,
// function or struct.
type StructBuilder struct {
	b   *PackageBuilder
	d   *draft
	Ref pkgfile.Ref
}

func (s *StructBuilder) member(kind object.FieldKind, meta, name string) (*draft, pkgfile.Ref) {
	d := &draft{
		exp:   pkgfile.Export{Class: s.b.meta(meta), Outer: s.Ref, ObjectName: s.b.Name(name)},
		field: &fieldDraft{kind: kind},
	}
	ref := s.b.add(d)
	s.b.chain(s.Ref, ref)
	return d, ref
}

// Struct declares a nested struct.
func (s *StructBuilder) Struct(name string) *StructBuilder {
	d, ref := s.member(object.FieldStruct, MetaStruct, name)
	return &StructBuilder{b: s.b, Ref: ref, d: d}
}

// Function declares a function. Parameters, the return value and locals are
// added on the returned builder in that order.
func (s *StructBuilder) Function(name string, flags object.FunctionFlags) *StructBuilder {
	d, ref := s.member(object.FieldFunction, MetaFunction, name)
	d.field.funcFlags = flags | object.FuncDefined
	return &StructBuilder{b: s.b, Ref: ref, d: d}
}

// State declares a state.
func (s *StructBuilder) State(name string, flags object.StateFlags) *StructBuilder {
	d, ref := s.member(object.FieldState, MetaState, name)
	d.field.stateFlags = flags
	return &StructBuilder{b: s.b, Ref: ref, d: d}
}

// Enum declares an enumeration.
func (s *StructBuilder) Enum(name string, values ...string) pkgfile.Ref {
	d, ref := s.member(object.FieldEnum, MetaEnum, name)
	d.field.enumNames = values
	return ref
}

// Const declares a named constant.
func (s *StructBuilder) Const(name, value string) pkgfile.Ref {
	d, ref := s.member(object.FieldConst, MetaConst, name)
	d.field.constVal = value
	return ref
}

// Property declares a property of the given kind.
func (s *StructBuilder) Property(name string, kind object.PropertyKind, opts ...PropertyOption) pkgfile.Ref {
	return s.property(s.Ref, name, kind, opts, true)
}

// Param declares a function parameter.
func (s *StructBuilder) Param(name string, kind object.PropertyKind, opts ...PropertyOption) pkgfile.Ref {
	return s.Property(name, kind, append(opts, WithFlags(object.PropParm))...)
}

// Return declares the function's return value.
func (s *StructBuilder) Return(kind object.PropertyKind, opts ...PropertyOption) pkgfile.Ref {
	return s.Property("ReturnValue", kind, append(opts, WithFlags(object.PropParm|object.PropReturnParm))...)
}

// Local declares a function local.
func (s *StructBuilder) Local(name string, kind object.PropertyKind, opts ...PropertyOption) pkgfile.Ref {
	return s.Property(name, kind, opts...)
}

func (s *StructBuilder) property(outer pkgfile.Ref, name string, kind object.PropertyKind, opts []PropertyOption, child bool) pkgfile.Ref {
	var spec propertySpec
	for _, o := range opts {
		o(&spec)
	}
	d := &draft{
		exp: pkgfile.Export{Class: s.b.meta(kind.String()), Outer: outer, ObjectName: s.b.Name(name)},
		field: &fieldDraft{
			kind:      object.FieldProperty,
			propKind:  kind,
			dim:       spec.dim,
			propFlags: spec.flags,
			category:  spec.category,
		},
	}
	ref := s.b.add(d)
	if child {
		// Inner properties belong to their array or map and are not chained.
		s.b.chain(outer, ref)
	}

	f := d.field
	switch kind {
	case object.PropByte:
		f.extras = []pkgfile.Ref{spec.enum}
	case object.PropObject:
		f.extras = []pkgfile.Ref{spec.class}
	case object.PropClass:
		f.extras = []pkgfile.Ref{s.b.meta(MetaClass), spec.class}
	case object.PropStruct:
		f.extras = []pkgfile.Ref{spec.structRef}
	case object.PropArray:
		inner := pkgfile.NullRef
		if spec.elem != nil {
			inner = s.property(ref, name, spec.elem.kind, spec.elem.opts, false)
		}
		f.extras = []pkgfile.Ref{inner}
	case object.PropMap:
		key, value := pkgfile.NullRef, pkgfile.NullRef
		if spec.key != nil {
			key = s.property(ref, name+"Key", spec.key.kind, spec.key.opts, false)
		}
		if spec.value != nil {
			value = s.property(ref, name+"Value", spec.value.kind, spec.value.opts, false)
		}
		f.extras = []pkgfile.Ref{key, value}
	}
	return ref
}

// Extends sets the parent struct, state or class.
func (s *StructBuilder) Extends(super pkgfile.Ref) *StructBuilder {
	s.d.field.super = super
	s.d.exp.Super = super
	return s
}

// Native sets the native function index.
func (s *StructBuilder) Native(index uint16) *StructBuilder {
	s.d.field.native = index
	s.d.field.funcFlags |= object.FuncNative
	return s
}

// Precedence sets an operator function's precedence.
func (s *StructBuilder) Precedence(p uint8) *StructBuilder {
	s.d.field.precedence = p
	return s
}

// Script sets the bytecode of a function or state.
func (s *StructBuilder) Script(code []byte) *StructBuilder {
	s.d.field.script = append([]byte(nil), code...)
	return s
}

// Line sets the source line of the struct declaration.
func (s *StructBuilder) Line(n int32) *StructBuilder {
	s.d.field.line = n
	return s
}

// FriendlyName sets the display name.
func (s *StructBuilder) FriendlyName(name string) *StructBuilder {
	s.d.field.friendly = name
	return s
}

// LabelTable sets the offset of a state's label table in its script.
func (s *StructBuilder) LabelTable(offset uint16) *StructBuilder {
	s.d.field.labels = offset
	return s
}

// ProbeMask sets a state's probe mask.
func (s *StructBuilder) ProbeMask(mask uint64) *StructBuilder {
	s.d.field.probe = mask
	return s
}

// ClassFlags sets class flags.
func (s *StructBuilder) ClassFlags(f object.ClassFlags) *StructBuilder {
	s.d.field.classFlags = f
	return s
}

// Within sets the class an instance's outer must be.
func (s *StructBuilder) Within(class pkgfile.Ref) *StructBuilder {
	s.d.field.within = class
	return s
}

// Config sets the config section name.
func (s *StructBuilder) Config(name string) *StructBuilder {
	s.d.field.config = name
	return s
}

// Default adds class default values.
func (s *StructBuilder) Default(props ...Prop) *StructBuilder {
	s.d.field.defaults = append(s.d.field.defaults, props...)
	return s
}

// ---------------------------------------------------------------------------
// Property options
// ---------------------------------------------------------------------------

// PropertyOption configures a declared property.
type PropertyOption func(*propertySpec)

type propertySpec struct {
	dim       int
	flags     object.PropertyFlags
	category  string
	enum      pkgfile.Ref
	class     pkgfile.Ref
	structRef pkgfile.Ref
	elem      *elemSpec
	key       *elemSpec
	value     *elemSpec
}

type elemSpec struct {
	kind object.PropertyKind
	opts []PropertyOption
}

// WithDim makes the property a fixed array of n elements.
func WithDim(n int) PropertyOption { return func(s *propertySpec) { s.dim = n } }

// WithFlags adds property flags.
func WithFlags(f object.PropertyFlags) PropertyOption {
	return func(s *propertySpec) { s.flags |= f }
}

// WithCategory sets the editor category.
func WithCategory(c string) PropertyOption { return func(s *propertySpec) { s.category = c } }

// WithEnum binds a byte property to an enum.
func WithEnum(ref pkgfile.Ref) PropertyOption { return func(s *propertySpec) { s.enum = ref } }

// WithClass sets the allowed class of an object property, or the meta class
// of a class property.
func WithClass(ref pkgfile.Ref) PropertyOption { return func(s *propertySpec) { s.class = ref } }

// WithStruct sets the struct type of a struct property.
func WithStruct(ref pkgfile.Ref) PropertyOption { return func(s *propertySpec) { s.structRef = ref } }

// WithElem sets the element type of an array property.
func WithElem(kind object.PropertyKind, opts ...PropertyOption) PropertyOption {
	return func(s *propertySpec) { s.elem = &elemSpec{kind: kind, opts: opts} }
}

// WithMap sets the key and value types of a map property.
func WithMap(key, value object.PropertyKind) PropertyOption {
	return func(s *propertySpec) {
		s.key = &elemSpec{kind: key}
		s.value = &elemSpec{kind: value}
	}
}

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

// Prop is one tagged value: a property name, an array index and a value.
type Prop struct {
	Name  string
	Index int32
	Value Val
}

// Val is a value written into a tagged property list.
type Val struct {
	Kind   object.PropertyKind
	Int    int32
	Float  float32
	Bool   bool
	Str    string
	Ref    pkgfile.Ref
	Struct string
	Fields []Prop
	Elems  []Val
}

// P pairs a property name with a value.
func P(name string, v Val) Prop { return Prop{Name: name, Value: v} }

// PAt sets element index of a fixed array property.
func PAt(name string, index int32, v Val) Prop { return Prop{Name: name, Index: index, Value: v} }

func ByteVal(b uint8) Val        { return Val{Kind: object.PropByte, Int: int32(b)} }
func IntVal(i int32) Val         { return Val{Kind: object.PropInt, Int: i} }
func BoolVal(b bool) Val         { return Val{Kind: object.PropBool, Bool: b} }
func FloatVal(f float32) Val     { return Val{Kind: object.PropFloat, Float: f} }
func NameVal(s string) Val       { return Val{Kind: object.PropName, Str: s} }
func StrVal(s string) Val        { return Val{Kind: object.PropStr, Str: s} }
func ObjectVal(r pkgfile.Ref) Val { return Val{Kind: object.PropObject, Ref: r} }
func ClassVal(r pkgfile.Ref) Val { return Val{Kind: object.PropClass, Ref: r} }
func ArrayVal(elems ...Val) Val  { return Val{Kind: object.PropArray, Elems: elems} }

// StructVal is a struct value of the named struct type.
func StructVal(structName string, fields ...Prop) Val {
	return Val{Kind: object.PropStruct, Struct: structName, Fields: fields}
}

// MapVal is a map value; pairs alternate key, value.
func MapVal(pairs ...Val) Val { return Val{Kind: object.PropMap, Elems: pairs} }

func (b *PackageBuilder) encodeProps(e *pkgfile.Encoder, props []Prop) {
	for _, p := range props {
		val := pkgfile.NewEncoder(e.Version())
		if p.Value.Kind != object.PropBool {
			b.encodeVal(val, p.Value)
		}
		tag := pkgfile.PropertyTag{
			Name:       b.Name(p.Name),
			Type:       TagTypeOf(p.Value.Kind),
			Size:       int32(val.Len()),
			ArrayIndex: p.Index,
			BoolValue:  p.Value.Bool,
		}
		if p.Value.Kind == object.PropStruct {
			tag.StructName = b.Name(p.Value.Struct)
		}
		e.Tag(tag)
		e.Raw(val.Bytes())
	}
	e.EndTags(b.Name("None"))
}

func (b *PackageBuilder) encodeVal(e *pkgfile.Encoder, v Val) {
	switch v.Kind {
	case object.PropByte:
		e.U8(uint8(v.Int))
	case object.PropInt:
		e.I32(v.Int)
	case object.PropBool:
		if v.Bool {
			e.U8(1)
		} else {
			e.U8(0)
		}
	case object.PropFloat:
		e.F32(v.Float)
	case object.PropName:
		e.Compact(b.Name(v.Str))
	case object.PropStr:
		e.String(v.Str)
	case object.PropObject, object.PropClass:
		e.Ref(v.Ref)
	case object.PropStruct:
		b.encodeProps(e, v.Fields)
	case object.PropArray:
		e.Compact(int32(len(v.Elems)))
		for _, el := range v.Elems {
			b.encodeVal(e, el)
		}
	case object.PropMap:
		e.Compact(int32(len(v.Elems) / 2))
		for _, el := range v.Elems[:len(v.Elems)/2*2] {
			b.encodeVal(e, el)
		}
	}
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func (b *PackageBuilder) encodeField(e *pkgfile.Encoder, f *fieldDraft, next pkgfile.Ref) {
	e.Ref(f.super)
	e.Ref(next)

	if f.kind.IsStruct() {
		first := pkgfile.NullRef
		if len(f.children) > 0 {
			first = f.children[0]
		}
		e.Ref(first)
		if f.friendly != "" {
			e.Compact(b.Name(f.friendly))
		} else {
			e.Compact(0)
		}
		e.I32(f.line)
		e.Compact(int32(len(f.script)))
		e.Raw(f.script)
	}

	switch f.kind {
	case object.FieldFunction:
		e.U16(f.native)
		e.U8(f.precedence)
		e.U32(uint32(f.funcFlags))
	case object.FieldState, object.FieldClass:
		e.U64(f.probe)
		e.U16(f.labels)
		e.U32(uint32(f.stateFlags))
	}

	switch f.kind {
	case object.FieldClass:
		e.U32(uint32(f.classFlags))
		e.GUID(f.guid)
		e.Ref(f.within)
		if f.config != "" {
			e.Compact(b.Name(f.config))
		} else {
			e.Compact(0)
		}
		b.encodeProps(e, f.defaults)
	case object.FieldProperty:
		e.U16(uint16(max(f.dim, 1)))
		e.U32(uint32(f.propFlags))
		if f.category != "" {
			e.Compact(b.Name(f.category))
		} else {
			e.Compact(0)
		}
		for _, r := range f.extras {
			e.Ref(r)
		}
	case object.FieldEnum:
		e.Compact(int32(len(f.enumNames)))
		for _, n := range f.enumNames {
			e.Compact(b.Name(n))
		}
	case object.FieldConst:
		e.String(f.constVal)
	}
}

// Bytes encodes the package file.
func (b *PackageBuilder) Bytes() ([]byte, error) {
	next := make(map[pkgfile.Ref]pkgfile.Ref)
	for _, d := range b.drafts {
		if d.field == nil {
			continue
		}
		for k := 0; k+1 < len(d.field.children); k++ {
			next[d.field.children[k]] = d.field.children[k+1]
		}
	}

	payloads := make([][]byte, len(b.drafts))
	for i, d := range b.drafts {
		e := pkgfile.NewEncoder(b.version)
		switch {
		case d.field != nil:
			b.encodeField(e, d.field, next[pkgfile.ExportRef(i)])
		case d.props != nil:
			b.encodeProps(e, d.props)
		}
		payloads[i] = e.Bytes()
	}

	w := pkgfile.NewWriter(b.version)
	w.Header.GUID = b.guid
	w.Names = append(w.Names, b.names...)
	w.Imports = append(w.Imports, b.imports...)
	for i, d := range b.drafts {
		w.AddExport(d.exp, payloads[i])
	}
	return w.Bytes()
}

// WriteFile writes the package as dir/<name>.u and returns the path.
func (b *PackageBuilder) WriteFile(dir string) (string, error) {
	data, err := b.Bytes()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, b.name+".u")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
