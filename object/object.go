// Package object implements the reflection layer shared by the package loader
// and the script interpreter: interned names, object handles, the
// Field/Struct/State/Class/Function/Property hierarchy, per-class layout
// computation and the raw Property Storage blocks addressed by that layout.
package object

import "fmt"

// ---------------------------------------------------------------------------
// Handle: Stable object identity
// ---------------------------------------------------------------------------

// Handle identifies an object by (package index, slot). Package indices are
// never reused by a manager, so a handle into an unloaded package stays
// invalid instead of aliasing a newer object. Package index 0 is the
// transient arena for runtime-only objects. The zero Handle is "no object".
type Handle uint64

// NoHandle is the null object reference.
const NoHandle Handle = 0

// MakeHandle packs a package index and slot into a Handle.
func MakeHandle(pkg, slot uint32) Handle {
	return Handle(uint64(pkg)<<32 | uint64(slot))
}

// Package returns the package index part of the handle.
func (h Handle) Package() uint32 { return uint32(h >> 32) }

// Slot returns the slot part of the handle.
func (h Handle) Slot() uint32 { return uint32(h) }

// IsNull reports whether h refers to no object.
func (h Handle) IsNull() bool { return h == NoHandle }

func (h Handle) String() string {
	if h.IsNull() {
		return "none"
	}
	return fmt.Sprintf("%d:%d", h.Package(), h.Slot())
}

// ---------------------------------------------------------------------------
// Object
// ---------------------------------------------------------------------------

// Flags are the object flags stored in export records plus the loader's own
// bookkeeping bits.
type Flags uint32

const (
	FlagDestroyed  Flags = 0x00000002 // unreachable; handle lookups fail
	FlagPublic     Flags = 0x00000004
	FlagNeedLoad   Flags = 0x00000200 // payload not yet populated
	FlagTransient  Flags = 0x00004000
	FlagLoading    Flags = 0x00008000 // payload population in progress
	FlagStandalone Flags = 0x00080000
	FlagNative     Flags = 0x04000000
)

// Has reports whether all bits of mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Object is the base runtime entity. Objects are owned by the arena of the
// package that created them and refer to each other by Handle; only the
// immutable reflection metadata (Class, Field) is linked by pointer.
type Object struct {
	Handle Handle
	Name   Name
	Class  *Class
	Outer  Handle
	Flags  Flags

	// Storage is the property block of data-bearing objects.
	Storage *Storage

	// Field is set when the object describes part of the reflection hierarchy.
	Field *Field

	// State is the active state of objects whose class declares states.
	State *State
}

// Destroyed reports whether the object has been torn down.
func (o *Object) Destroyed() bool {
	return o == nil || o.Flags.Has(FlagDestroyed)
}

// IsA reports whether the object's class is c or a subclass of c.
func (o *Object) IsA(c *Class) bool {
	if o == nil || o.Class == nil {
		return false
	}
	return o.Class.IsChildOf(c)
}

// Get reads a property from the object's storage. Objects without storage and
// properties outside the storage's layout read as the property's zero value.
func (o *Object) Get(p *Property, index int) Value {
	if o == nil || o.Storage == nil {
		return ZeroValue(p)
	}
	return o.Storage.Get(p, index)
}

// Set writes a property into the object's storage.
func (o *Object) Set(p *Property, index int, v Value) error {
	if o == nil || o.Storage == nil {
		return ErrNoStorage
	}
	return o.Storage.Set(p, index, v)
}

// FindProperty looks up a property on the object's class.
func (o *Object) FindProperty(name Name) (*Property, bool) {
	if o == nil || o.Class == nil {
		return nil, false
	}
	return o.Class.FindProperty(name)
}
