// Package nativedb exports the native surface of loaded content: every
// native function declared by the loaded packages and the computed storage
// layout of every class. The database is exchanged as JSON, identified by a
// canonical CBOR fingerprint, and can be turned into Go stubs for hosts that
// have not implemented the natives yet.
package nativedb

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/chazu/surreal/engine"
	"github.com/chazu/surreal/object"
	"github.com/chazu/surreal/vm"
	"github.com/fxamacker/cbor/v2"
)

var (
	ErrEmptyDatabase = errors.New("nativedb: database declares no natives or properties")
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("nativedb: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ---------------------------------------------------------------------------
// Database
// ---------------------------------------------------------------------------

// Database is the native surface of one game build.
type Database struct {
	Game       string          `json:"game"`
	Version    string          `json:"version"`
	Natives    []NativeEntry   `json:"natives"`
	Properties []PropertyEntry `json:"properties"`
}

// NativeEntry describes one native function as declared by content.
type NativeEntry struct {
	Class    string  `json:"class"`
	Function string  `json:"function"`
	Index    uint16  `json:"index,omitempty"`
	Params   []Param `json:"params,omitempty"`
	Return   string  `json:"return,omitempty"`
	Latent   bool    `json:"latent,omitempty"`
	Iterator bool    `json:"iterator,omitempty"`
	Operator bool    `json:"operator,omitempty"`

	// Implemented is host state, not part of the content surface.
	Implemented bool `json:"implemented" cbor:"-"`
}

// Param is one declared parameter. Kind is the property class name, for
// example IntProperty.
type Param struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Out      bool   `json:"out,omitempty"`
	Optional bool   `json:"optional,omitempty"`
	Skip     bool   `json:"skip,omitempty"`
}

// PropertyEntry is a class property with its computed storage position.
// Only properties declared by the class itself are listed; inherited ones
// appear under their declaring class.
type PropertyEntry struct {
	Class  string `json:"class"`
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Offset int    `json:"offset"`
	Size   int    `json:"size"`
	Dim    int    `json:"dim,omitempty"`
	Mask   uint8  `json:"mask,omitempty"`
}

// Key returns Class.Function.
func (n NativeEntry) Key() string { return n.Class + "." + n.Function }

// Key returns Class.Name.
func (p PropertyEntry) Key() string { return p.Class + "." + p.Name }

// ---------------------------------------------------------------------------
// Export
// ---------------------------------------------------------------------------

// Export collects the native functions and class layouts of every package
// loaded by m. t marks which natives the host implements and may be nil.
func Export(m *engine.Manager, t *vm.NativeTable, game, version string) *Database {
	db := &Database{Game: game, Version: version}
	implemented := make(map[string]bool)
	if t != nil {
		for _, d := range t.Declarations() {
			implemented[foldKey(d.Class, d.Function)] = true
		}
	}
	names := m.Names()

	for _, p := range m.Packages() {
		p.Objects(func(o *object.Object) bool {
			if o.Field == nil {
				return true
			}
			switch o.Field.Kind {
			case object.FieldFunction:
				fn := o.Field.Function
				if !fn.IsNative() {
					return true
				}
				e := nativeEntry(names, names.String(owningClass(m, o)), names.String(o.Name), fn)
				e.Implemented = implemented[foldKey(e.Class, e.Function)]
				db.Natives = append(db.Natives, e)
			case object.FieldClass:
				db.Properties = append(db.Properties, classProperties(names, o.Field.Class)...)
			}
			return true
		})
	}

	sort.Slice(db.Natives, func(i, j int) bool {
		a, b := db.Natives[i], db.Natives[j]
		if a.Class != b.Class {
			return a.Class < b.Class
		}
		return a.Function < b.Function
	})
	sort.SliceStable(db.Properties, func(i, j int) bool {
		a, b := db.Properties[i], db.Properties[j]
		if a.Class != b.Class {
			return a.Class < b.Class
		}
		if a.Offset != b.Offset {
			return a.Offset < b.Offset
		}
		return a.Mask < b.Mask
	})
	return db
}

func nativeEntry(names *object.NameTable, class, function string, fn *object.Function) NativeEntry {
	e := NativeEntry{
		Class:    class,
		Function: function,
		Index:    fn.Native,
		Latent:   fn.IsLatent(),
		Iterator: fn.Flags.Has(object.FuncIterator),
		Operator: fn.Flags.Has(object.FuncOperator) || fn.Flags.Has(object.FuncPreOperator),
	}
	for _, p := range fn.Params() {
		e.Params = append(e.Params, Param{
			Name:     names.String(p.Name()),
			Kind:     p.Kind.String(),
			Out:      p.Flags.Has(object.PropOutParm),
			Optional: p.Flags.Has(object.PropOptionalParm),
			Skip:     p.Flags.Has(object.PropSkipParm),
		})
	}
	if ret := fn.ReturnValue(); ret != nil {
		e.Return = ret.Kind.String()
	}
	return e
}

func classProperties(names *object.NameTable, c *object.Class) []PropertyEntry {
	// Offsets are only assigned once the layout exists.
	if l := c.Layout(); l.Missing {
		return nil
	}
	class := names.String(c.Name())
	var out []PropertyEntry
	c.Fields(func(f *object.Field) bool {
		if f.Kind != object.FieldProperty {
			return true
		}
		p := f.Property
		e := PropertyEntry{
			Class:  class,
			Name:   names.String(p.Name()),
			Kind:   p.Kind.String(),
			Offset: p.Offset,
			Size:   p.ElementSize() * p.Dim(),
			Mask:   p.Mask,
		}
		if p.Dim() > 1 {
			e.Dim = p.Dim()
		}
		out = append(out, e)
		return true
	})
	return out
}

// owningClass returns the name of the class a function is declared in,
// looking through enclosing states.
func owningClass(m *engine.Manager, o *object.Object) object.Name {
	for cur := m.Object(o.Outer); cur != nil; cur = m.Object(cur.Outer) {
		if cur.Field != nil && cur.Field.Kind == object.FieldClass {
			return cur.Name
		}
	}
	return object.NameNone
}

func foldKey(class, function string) string {
	return object.FoldName(class) + "." + object.FoldName(function)
}

// Unimplemented lists the natives the host did not provide when the
// database was exported.
func (db *Database) Unimplemented() []NativeEntry {
	var out []NativeEntry
	for _, n := range db.Natives {
		if !n.Implemented {
			out = append(out, n)
		}
	}
	return out
}

// Property finds a property entry by class and name.
func (db *Database) Property(class, name string) (PropertyEntry, bool) {
	for _, p := range db.Properties {
		if object.FoldName(p.Class) == object.FoldName(class) && object.FoldName(p.Name) == object.FoldName(name) {
			return p, true
		}
	}
	return PropertyEntry{}, false
}

// ---------------------------------------------------------------------------
// Interchange
// ---------------------------------------------------------------------------

// Fingerprint is the hex SHA-256 of the canonical CBOR encoding of the
// native surface. Game, version and host implementation state do not
// contribute, so two builds exposing the same surface share a fingerprint.
func (db *Database) Fingerprint() (string, error) {
	if len(db.Natives) == 0 && len(db.Properties) == 0 {
		return "", ErrEmptyDatabase
	}
	surface := struct {
		Natives    []NativeEntry   `cbor:"natives"`
		Properties []PropertyEntry `cbor:"properties"`
	}{db.Natives, db.Properties}
	data, err := cborEncMode.Marshal(surface)
	if err != nil {
		return "", fmt.Errorf("nativedb: encode fingerprint: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Marshal renders the database as indented JSON.
func (db *Database) Marshal() ([]byte, error) {
	return json.MarshalIndent(db, "", "  ")
}

// Unmarshal parses a JSON database.
func Unmarshal(data []byte) (*Database, error) {
	var db Database
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("nativedb: unmarshal: %w", err)
	}
	return &db, nil
}

// Save writes the database to path as JSON.
func (db *Database) Save(path string) error {
	data, err := db.Marshal()
	if err != nil {
		return fmt.Errorf("nativedb: marshal: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Load reads a JSON database from path.
func Load(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
