package object

// ---------------------------------------------------------------------------
// Property: One typed field of a struct's storage
// ---------------------------------------------------------------------------

// PropertyKind is the closed set of property kinds.
type PropertyKind uint8

const (
	PropByte PropertyKind = iota + 1
	PropInt
	PropBool
	PropFloat
	PropObject
	PropName
	PropStr
	PropClass
	PropArray
	PropMap
	PropStruct
)

var propertyKindNames = [...]string{
	PropByte:   "ByteProperty",
	PropInt:    "IntProperty",
	PropBool:   "BoolProperty",
	PropFloat:  "FloatProperty",
	PropObject: "ObjectProperty",
	PropName:   "NameProperty",
	PropStr:    "StrProperty",
	PropClass:  "ClassProperty",
	PropArray:  "ArrayProperty",
	PropMap:    "MapProperty",
	PropStruct: "StructProperty",
}

func (k PropertyKind) String() string {
	if int(k) < len(propertyKindNames) && propertyKindNames[k] != "" {
		return propertyKindNames[k]
	}
	return "Property?"
}

// PropertyKindByClassName maps an intrinsic property class name to its kind.
func PropertyKindByClassName(name string) (PropertyKind, bool) {
	for k, n := range propertyKindNames {
		if n != "" && n == name {
			return PropertyKind(k), true
		}
	}
	return 0, false
}

// AllPropertyKinds lists every property kind in declaration order.
func AllPropertyKinds() []PropertyKind {
	kinds := make([]PropertyKind, 0, len(propertyKindNames)-1)
	for k := PropByte; k <= PropStruct; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// PropertyFlags describe how a property is used.
type PropertyFlags uint32

const (
	PropEdit         PropertyFlags = 0x00000001
	PropConst        PropertyFlags = 0x00000002
	PropInput        PropertyFlags = 0x00000004
	PropOptionalParm PropertyFlags = 0x00000010
	PropNet          PropertyFlags = 0x00000020
	PropParm         PropertyFlags = 0x00000080
	PropOutParm      PropertyFlags = 0x00000100
	PropSkipParm     PropertyFlags = 0x00000200
	PropReturnParm   PropertyFlags = 0x00000400
	PropCoerceParm   PropertyFlags = 0x00000800
	PropNative       PropertyFlags = 0x00001000
	PropTransient    PropertyFlags = 0x00002000
	PropConfig       PropertyFlags = 0x00004000
	PropLocalized    PropertyFlags = 0x00008000
)

// Has reports whether all bits of mask are set.
func (f PropertyFlags) Has(mask PropertyFlags) bool { return f&mask == mask }

// Property describes one field of a struct's Property Storage. The kind
// specific references are set according to Kind: Enum for byte properties,
// Class for object properties (allowed class) and class properties (meta
// class), Inner for arrays and map keys, MapValue for map values and Struct for
// struct properties.
type Property struct {
	Field    *Field
	Kind     PropertyKind
	ArrayDim int
	Flags    PropertyFlags
	Category Name

	Enum     *Enum
	Class    *Class
	Inner    *Property
	MapValue *Property
	Struct   *Struct

	// Offset and Mask are assigned by layout computation of the owning struct.
	// Mask is non-zero only for booleans.
	Offset int
	Mask   uint8
}

// Name returns the property name.
func (p *Property) Name() Name { return p.Field.Name() }

// Dim returns the fixed array dimension, at least 1.
func (p *Property) Dim() int {
	if p.ArrayDim < 1 {
		return 1
	}
	return p.ArrayDim
}

// IsDynamic reports whether the property's payload lives outside the fixed
// block behind a slot descriptor.
func (p *Property) IsDynamic() bool {
	switch p.Kind {
	case PropStr, PropArray, PropMap:
		return true
	}
	return false
}

const dynamicDescriptorSize = 4

// elementSize returns the inline size and alignment of one element.
func (p *Property) elementSize() (size, align int, err error) {
	switch p.Kind {
	case PropByte:
		return 1, 1, nil
	case PropInt, PropFloat, PropName:
		return 4, 4, nil
	case PropObject, PropClass:
		return 8, 8, nil
	case PropStr, PropArray, PropMap:
		return dynamicDescriptorSize, dynamicDescriptorSize, nil
	case PropBool:
		return 1, 1, nil
	case PropStruct:
		if p.Struct == nil {
			return 0, 1, nil
		}
		l, err := p.Struct.ComputeLayout()
		if err != nil {
			return 0, 1, err
		}
		return l.Size, l.Align, nil
	}
	return 0, 1, nil
}

// ElementSize returns the inline byte size of one element.
func (p *Property) ElementSize() int {
	size, _, _ := p.elementSize()
	return size
}
