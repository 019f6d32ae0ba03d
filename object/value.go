package object

import (
	"fmt"
	"math"
	"strconv"
)

// ---------------------------------------------------------------------------
// Value: Typed temporaries
// ---------------------------------------------------------------------------

// ValueKind tags the populated part of a Value.
type ValueKind uint8

const (
	ValNone ValueKind = iota
	ValByte
	ValInt
	ValBool
	ValFloat
	ValName
	ValStr
	ValObject
	ValClass
	ValStruct
	ValArray
	ValMap
)

var valueKindNames = [...]string{
	ValNone:   "none",
	ValByte:   "byte",
	ValInt:    "int",
	ValBool:   "bool",
	ValFloat:  "float",
	ValName:   "name",
	ValStr:    "string",
	ValObject: "object",
	ValClass:  "class",
	ValStruct: "struct",
	ValArray:  "array",
	ValMap:    "map",
}

func (k ValueKind) String() string {
	if int(k) < len(valueKindNames) {
		return valueKindNames[k]
	}
	return "value?"
}

// Value is a typed temporary produced by expression evaluation and by storage
// reads. Byte, int and bool values share Int.
type Value struct {
	Kind    ValueKind
	Int     int32
	Float   float32
	Name    Name
	Str     string
	Handle  Handle
	Struct  *Storage
	Elems   []Value
	Entries []MapEntry
}

// MapEntry is one key/value pair of a map value.
type MapEntry struct {
	Key   Value
	Value Value
}

func ByteValue(b uint8) Value        { return Value{Kind: ValByte, Int: int32(b)} }
func IntValue(i int32) Value         { return Value{Kind: ValInt, Int: i} }
func FloatValue(f float32) Value     { return Value{Kind: ValFloat, Float: f} }
func NameValue(n Name) Value         { return Value{Kind: ValName, Name: n} }
func StrValue(s string) Value        { return Value{Kind: ValStr, Str: s} }
func ObjectValue(h Handle) Value     { return Value{Kind: ValObject, Handle: h} }
func ClassValue(h Handle) Value      { return Value{Kind: ValClass, Handle: h} }
func StructValue(s *Storage) Value   { return Value{Kind: ValStruct, Struct: s} }
func ArrayValue(elems []Value) Value { return Value{Kind: ValArray, Elems: elems} }

// BoolValue returns a bool value.
func BoolValue(b bool) Value {
	if b {
		return Value{Kind: ValBool, Int: 1}
	}
	return Value{Kind: ValBool}
}

// AsInt converts the value to an int, truncating floats.
func (v Value) AsInt() int32 {
	switch v.Kind {
	case ValFloat:
		return int32(v.Float)
	case ValStr:
		n, _ := strconv.ParseInt(v.Str, 10, 32)
		return int32(n)
	case ValObject, ValClass:
		if v.Handle.IsNull() {
			return 0
		}
		return 1
	}
	return v.Int
}

// AsFloat converts the value to a float.
func (v Value) AsFloat() float32 {
	switch v.Kind {
	case ValFloat:
		return v.Float
	case ValStr:
		f, _ := strconv.ParseFloat(v.Str, 32)
		return float32(f)
	}
	return float32(v.AsInt())
}

// AsBool converts the value to a bool.
func (v Value) AsBool() bool {
	switch v.Kind {
	case ValFloat:
		return v.Float != 0
	case ValStr:
		return v.Str == "true" || v.Str == "True"
	case ValName:
		return v.Name != NameNone
	case ValObject, ValClass:
		return !v.Handle.IsNull()
	}
	return v.Int != 0
}

// AsByte converts the value to a byte, wrapping like the engine's int to byte
// conversion.
func (v Value) AsByte() uint8 { return uint8(v.AsInt()) }

// Equal compares two values of compatible kinds.
func (v Value) Equal(o Value) bool {
	switch {
	case v.Kind == ValFloat || o.Kind == ValFloat:
		return v.AsFloat() == o.AsFloat()
	case v.Kind == ValStr && o.Kind == ValStr:
		return v.Str == o.Str
	case v.Kind == ValName && o.Kind == ValName:
		return v.Name == o.Name
	case (v.Kind == ValObject || v.Kind == ValClass) && (o.Kind == ValObject || o.Kind == ValClass):
		return v.Handle == o.Handle
	case v.Kind == ValStruct && o.Kind == ValStruct:
		return v.Struct.Equal(o.Struct)
	case v.Kind == ValArray && o.Kind == ValArray:
		if len(v.Elems) != len(o.Elems) {
			return false
		}
		for i := range v.Elems {
			if !v.Elems[i].Equal(o.Elems[i]) {
				return false
			}
		}
		return true
	case v.Kind == ValMap && o.Kind == ValMap:
		if len(v.Entries) != len(o.Entries) {
			return false
		}
		for i := range v.Entries {
			if !v.Entries[i].Key.Equal(o.Entries[i].Key) || !v.Entries[i].Value.Equal(o.Entries[i].Value) {
				return false
			}
		}
		return true
	case v.Kind == ValNone || o.Kind == ValNone:
		return v.Kind == o.Kind
	}
	return v.AsInt() == o.AsInt()
}

// Clone returns a deep copy so mutations of the result never reach v.
func (v Value) Clone() Value {
	switch v.Kind {
	case ValStruct:
		if v.Struct != nil {
			v.Struct = v.Struct.Clone()
		}
	case ValArray:
		elems := make([]Value, len(v.Elems))
		for i, e := range v.Elems {
			elems[i] = e.Clone()
		}
		v.Elems = elems
	case ValMap:
		entries := make([]MapEntry, len(v.Entries))
		for i, e := range v.Entries {
			entries[i] = MapEntry{Key: e.Key.Clone(), Value: e.Value.Clone()}
		}
		v.Entries = entries
	}
	return v
}

// Format renders the value for logs and the debugger. names may be nil.
func (v Value) Format(names *NameTable) string {
	switch v.Kind {
	case ValNone:
		return "None"
	case ValByte, ValInt:
		return strconv.Itoa(int(v.Int))
	case ValBool:
		if v.Int != 0 {
			return "True"
		}
		return "False"
	case ValFloat:
		if v.Float == float32(math.Trunc(float64(v.Float))) {
			return strconv.FormatFloat(float64(v.Float), 'f', 1, 32)
		}
		return strconv.FormatFloat(float64(v.Float), 'f', -1, 32)
	case ValName:
		if names != nil {
			return "'" + names.String(v.Name) + "'"
		}
		return fmt.Sprintf("name#%d", v.Name)
	case ValStr:
		return strconv.Quote(v.Str)
	case ValObject, ValClass:
		return "obj(" + v.Handle.String() + ")"
	case ValStruct:
		return "struct(" + strconv.Itoa(len(v.Struct.Bytes())) + " bytes)"
	case ValArray:
		return "array[" + strconv.Itoa(len(v.Elems)) + "]"
	case ValMap:
		return "map[" + strconv.Itoa(len(v.Entries)) + "]"
	}
	return "?"
}

// ZeroValue returns the default value of a property's element.
func ZeroValue(p *Property) Value {
	if p == nil {
		return Value{}
	}
	switch p.Kind {
	case PropByte:
		return ByteValue(0)
	case PropInt:
		return IntValue(0)
	case PropBool:
		return BoolValue(false)
	case PropFloat:
		return FloatValue(0)
	case PropName:
		return NameValue(NameNone)
	case PropStr:
		return StrValue("")
	case PropObject:
		return ObjectValue(NoHandle)
	case PropClass:
		return ClassValue(NoHandle)
	case PropArray:
		return ArrayValue(nil)
	case PropMap:
		return Value{Kind: ValMap}
	case PropStruct:
		if p.Struct == nil {
			return Value{}
		}
		return StructValue(NewStorage(p.Struct.Layout()))
	}
	return Value{}
}

// Coerce converts v to the value kind stored by p.
func Coerce(p *Property, v Value) Value {
	switch p.Kind {
	case PropByte:
		return ByteValue(v.AsByte())
	case PropInt:
		return IntValue(v.AsInt())
	case PropBool:
		return BoolValue(v.AsBool())
	case PropFloat:
		return FloatValue(v.AsFloat())
	case PropName:
		if v.Kind == ValName {
			return v
		}
		return NameValue(NameNone)
	case PropStr:
		if v.Kind == ValStr {
			return v
		}
		return StrValue(v.Format(nil))
	case PropObject:
		return ObjectValue(v.Handle)
	case PropClass:
		return ClassValue(v.Handle)
	}
	return v
}
