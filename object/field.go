package object

import (
	"sync"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Field: Closed variant over the reflection hierarchy
// ---------------------------------------------------------------------------

// FieldKind tags which payload of a Field is populated.
type FieldKind uint8

const (
	FieldProperty FieldKind = iota + 1
	FieldStruct
	FieldFunction
	FieldState
	FieldClass
	FieldEnum
	FieldConst
)

var fieldKindNames = [...]string{
	FieldProperty: "Property",
	FieldStruct:   "Struct",
	FieldFunction: "Function",
	FieldState:    "State",
	FieldClass:    "Class",
	FieldEnum:     "Enum",
	FieldConst:    "Const",
}

func (k FieldKind) String() string {
	if int(k) < len(fieldKindNames) && fieldKindNames[k] != "" {
		return fieldKindNames[k]
	}
	return "Field?"
}

// IsStruct reports whether fields of this kind carry a Struct payload.
func (k FieldKind) IsStruct() bool {
	switch k {
	case FieldStruct, FieldFunction, FieldState, FieldClass:
		return true
	}
	return false
}

// Field is one node of a struct's child chain. Exactly the payload matching
// Kind is set; Struct is also set for every struct-like kind so generic code
// can walk children without caring whether it has a class, state or function.
type Field struct {
	Kind   FieldKind
	Object *Object
	Super  *Field
	Next   *Field

	Property *Property
	Struct   *Struct
	Function *Function
	State    *State
	Class    *Class
	Enum     *Enum
	Const    *Const
}

// Name returns the name of the object the field describes.
func (f *Field) Name() Name {
	if f == nil || f.Object == nil {
		return NameNone
	}
	return f.Object.Name
}

// NewField allocates a field of the given kind with an empty payload attached
// to obj. The payload's back pointer is set.
func NewField(kind FieldKind, obj *Object) *Field {
	f := &Field{Kind: kind, Object: obj}
	switch kind {
	case FieldProperty:
		f.Property = &Property{Field: f, ArrayDim: 1}
	case FieldStruct:
		f.Struct = &Struct{Field: f}
	case FieldFunction:
		f.Function = &Function{}
		f.Function.Field = f
		f.Struct = &f.Function.Struct
	case FieldState:
		f.State = &State{}
		f.State.Field = f
		f.Struct = &f.State.Struct
	case FieldClass:
		f.Class = &Class{}
		f.Class.Field = f
		f.State = &f.Class.State
		f.Struct = &f.Class.Struct
	case FieldEnum:
		f.Enum = &Enum{Field: f}
	case FieldConst:
		f.Const = &Const{Field: f}
	}
	if obj != nil {
		obj.Field = f
	}
	return f
}

// ---------------------------------------------------------------------------
// Struct, State, Function
// ---------------------------------------------------------------------------

// Struct is a field that owns a child chain and optionally script code.
type Struct struct {
	Field        *Field
	Children     *Field
	FriendlyName Name
	Line         int32
	Script       []byte

	mu        sync.Mutex
	layout    *Layout
	computing bool
}

// Name returns the struct's object name.
func (s *Struct) Name() Name { return s.Field.Name() }

// Super returns the parent struct, or nil.
func (s *Struct) Super() *Struct {
	if s == nil || s.Field == nil || s.Field.Super == nil {
		return nil
	}
	return s.Field.Super.Struct
}

// Fields calls fn for each direct child in declaration order until fn
// returns false.
func (s *Struct) Fields(fn func(*Field) bool) {
	for f := s.Children; f != nil; f = f.Next {
		if !fn(f) {
			return
		}
	}
}

// FunctionFlags are the flags of a compiled function.
type FunctionFlags uint32

const (
	FuncFinal       FunctionFlags = 0x00000001
	FuncDefined     FunctionFlags = 0x00000002
	FuncIterator    FunctionFlags = 0x00000004
	FuncLatent      FunctionFlags = 0x00000008
	FuncPreOperator FunctionFlags = 0x00000010
	FuncSingular    FunctionFlags = 0x00000020
	FuncNet         FunctionFlags = 0x00000040
	FuncSimulated   FunctionFlags = 0x00000100
	FuncExec        FunctionFlags = 0x00000200
	FuncNative      FunctionFlags = 0x00000400
	FuncEvent       FunctionFlags = 0x00000800
	FuncOperator    FunctionFlags = 0x00001000
	FuncStatic      FunctionFlags = 0x00002000
)

// Has reports whether all bits of mask are set.
func (f FunctionFlags) Has(mask FunctionFlags) bool { return f&mask == mask }

// Function is a struct holding compiled bytecode; its property children are
// parameters, the return value and locals, in that order.
type Function struct {
	Struct
	Native     uint16
	Precedence uint8
	Flags      FunctionFlags
}

// IsNative reports whether the function is implemented by the engine.
func (fn *Function) IsNative() bool { return fn.Flags.Has(FuncNative) }

// IsLatent reports whether calls may suspend the calling frame.
func (fn *Function) IsLatent() bool { return fn.Flags.Has(FuncLatent) }

// Params returns the parameter properties in declaration order, excluding
// the return value.
func (fn *Function) Params() []*Property {
	var params []*Property
	fn.Fields(func(f *Field) bool {
		if f.Kind == FieldProperty && f.Property.Flags.Has(PropParm) && !f.Property.Flags.Has(PropReturnParm) {
			params = append(params, f.Property)
		}
		return true
	})
	return params
}

// ReturnValue returns the return property, or nil.
func (fn *Function) ReturnValue() *Property {
	var ret *Property
	fn.Fields(func(f *Field) bool {
		if f.Kind == FieldProperty && f.Property.Flags.Has(PropReturnParm) {
			ret = f.Property
			return false
		}
		return true
	})
	return ret
}

// StateFlags are the flags of a state.
type StateFlags uint32

const (
	StateEditable  StateFlags = 0x00000001
	StateAuto      StateFlags = 0x00000002
	StateSimulated StateFlags = 0x00000004
)

// State is a struct whose children may override class functions and whose
// script is state code addressed through a label table.
type State struct {
	Struct
	ProbeMask        uint64
	LabelTableOffset uint16
	Flags            StateFlags
}

// FindFunction finds a function declared directly in this state or in one
// of the states it extends.
func (st *State) FindFunction(name Name) *Function {
	for s := &st.Struct; s != nil; s = s.Super() {
		var found *Function
		s.Fields(func(f *Field) bool {
			if f.Kind == FieldFunction && f.Name() == name {
				found = f.Function
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Class
// ---------------------------------------------------------------------------

// ClassFlags are the flags of a class.
type ClassFlags uint32

const (
	ClassAbstract  ClassFlags = 0x00000001
	ClassCompiled  ClassFlags = 0x00000002
	ClassConfig    ClassFlags = 0x00000004
	ClassTransient ClassFlags = 0x00000008
	ClassParsed    ClassFlags = 0x00000010
	ClassLocalized ClassFlags = 0x00000020
	ClassNative    ClassFlags = 0x00000400
	ClassNoExport  ClassFlags = 0x00000800
	ClassIntrinsic ClassFlags = 0x10000000
	ClassMissing   ClassFlags = 0x20000000 // placeholder for a class that could not be located
)

// Has reports whether all bits of mask are set.
func (f ClassFlags) Has(mask ClassFlags) bool { return f&mask == mask }

// Class is a state with a parent class, a GUID and default property values.
type Class struct {
	State
	ClassFlags ClassFlags
	GUID       uuid.UUID
	Within     *Class
	ConfigName Name

	// Defaults holds the class default object's storage once populated.
	Defaults *Storage
}

// Name returns the class name.
func (c *Class) Name() Name {
	if c == nil {
		return NameNone
	}
	return c.Field.Name()
}

// Parent returns the parent class, or nil at the root.
func (c *Class) Parent() *Class {
	if c == nil || c.Field == nil || c.Field.Super == nil {
		return nil
	}
	return c.Field.Super.Class
}

// IsChildOf reports whether c is other or derives from it.
func (c *Class) IsChildOf(other *Class) bool {
	if other == nil {
		return false
	}
	for cur := c; cur != nil; cur = cur.Parent() {
		if cur == other {
			return true
		}
	}
	return false
}

// Missing reports whether c is the placeholder for an unlocatable class.
func (c *Class) Missing() bool {
	return c != nil && c.ClassFlags.Has(ClassMissing)
}

// FindFunction finds a function by name in the class or its ancestors.
func (c *Class) FindFunction(name Name) *Function {
	for cur := c; cur != nil; cur = cur.Parent() {
		var found *Function
		cur.Fields(func(f *Field) bool {
			if f.Kind == FieldFunction && f.Name() == name {
				found = f.Function
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return nil
}

// FindState finds a state by name in the class or its ancestors.
func (c *Class) FindState(name Name) *State {
	for cur := c; cur != nil; cur = cur.Parent() {
		var found *State
		cur.Fields(func(f *Field) bool {
			if f.Kind == FieldState && f.Name() == name {
				found = f.State
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return nil
}

// Functions returns every function declared directly on the class.
func (c *Class) Functions() []*Function {
	var fns []*Function
	c.Fields(func(f *Field) bool {
		if f.Kind == FieldFunction {
			fns = append(fns, f.Function)
		}
		return true
	})
	return fns
}

// NewMissingClass builds the "class not found" placeholder: a zero-size
// layout from which every property read yields a default value.
func NewMissingClass(obj *Object) *Class {
	f := NewField(FieldClass, obj)
	f.Class.ClassFlags = ClassMissing | ClassAbstract
	f.Class.layout = &Layout{Align: 1, boolOffset: -1, Missing: true}
	return f.Class
}

// ---------------------------------------------------------------------------
// Enum, Const
// ---------------------------------------------------------------------------

// Enum is a list of names addressed by byte value.
type Enum struct {
	Field *Field
	Names []Name
}

// Const is a named literal kept as source text.
type Const struct {
	Field *Field
	Value string
}
