// Package engine implements the Package Manager: it owns every loaded
// package and its object arena, resolves import and export references into
// live objects, deserializes reflection metadata and property payloads, and
// sequences payload population through the delay-load queue.
package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/surreal/object"
	"github.com/chazu/surreal/pkgfile"
)

var log = commonlog.GetLogger("surreal.engine")

// Reserved package indices.
const (
	TransientPackage uint32 = 0
	IntrinsicPackage uint32 = 1
)

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// Manager is the registry of loaded packages. It is driven from a single
// goroutine; only IndexSearchPaths fans out internally.
type Manager struct {
	cfg   Config
	names *object.NameTable

	// packages is indexed by package index; unloaded entries are nil and
	// indices are never reused.
	packages []*Package
	byName   map[object.Name]*Package

	indexMu sync.Mutex
	index   map[object.Name]string

	meta       map[*object.Class]metaInfo
	intrinsics map[object.Name]*object.Object
	classClass *object.Class
	missing    map[object.Name]*object.Class

	delay  delayQueue
	depth  int // nested OpenPackage calls creating stubs
	failed map[uint32]error

	reporter     Reporter
	loadHooks    []func(*Package)
	releaseHooks []func(Release)
}

// Release describes objects about to be torn down, either a whole package
// or a single transient object.
type Release struct {
	Package *Package
	Handle  object.Handle
}

// Dying reports whether h is released by this event.
func (r Release) Dying(h object.Handle) bool {
	if h.IsNull() {
		return false
	}
	if r.Package != nil {
		return h.Package() == r.Package.Index
	}
	return h == r.Handle
}

// NewManager creates a manager with the transient arena and the intrinsic
// meta class package in place.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		cfg:        cfg.withDefaults(),
		names:      object.NewNameTable(),
		byName:     make(map[object.Name]*Package),
		index:      make(map[object.Name]string),
		meta:       make(map[*object.Class]metaInfo),
		intrinsics: make(map[object.Name]*object.Object),
		missing:    make(map[object.Name]*object.Class),
		failed:     make(map[uint32]error),
	}

	transient := newPackage(m, TransientPackage, m.names.Intern("Transient"))
	transient.builtin = true
	intrinsic := newPackage(m, IntrinsicPackage, m.names.Intern("Intrinsic"))
	intrinsic.builtin = true
	m.packages = append(m.packages, transient, intrinsic)
	m.buildIntrinsics(intrinsic)

	pkgClass := m.Intrinsic(MetaPackage)
	transient.Object().Class = pkgClass
	intrinsic.Object().Class = pkgClass
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Names returns the process-wide name table.
func (m *Manager) Names() *object.NameTable { return m.names }

// SetReporter installs the receiver of recoverable load failures.
func (m *Manager) SetReporter(r Reporter) { m.reporter = r }

// OnLoad registers fn to run after each package finishes loading.
func (m *Manager) OnLoad(fn func(*Package)) { m.loadHooks = append(m.loadHooks, fn) }

// OnRelease registers fn to run before objects are torn down.
func (m *Manager) OnRelease(fn func(Release)) { m.releaseHooks = append(m.releaseHooks, fn) }

func (m *Manager) report(err error) {
	log.Warning("recoverable load failure", "error", err.Error())
	if m.reporter != nil {
		m.reporter.Report(err)
	}
}

// Transient returns the arena holding runtime-only objects.
func (m *Manager) Transient() *Package { return m.packages[TransientPackage] }

// Package returns the loaded package named name, or nil.
func (m *Manager) Package(name string) *Package {
	n, ok := m.names.Lookup(name)
	if !ok {
		return nil
	}
	return m.byName[n]
}

// PackageByIndex returns the live package with index i, or nil.
func (m *Manager) PackageByIndex(i uint32) *Package {
	if int(i) >= len(m.packages) {
		return nil
	}
	return m.packages[i]
}

// PackageOf returns the package owning h, or nil.
func (m *Manager) PackageOf(h object.Handle) *Package {
	return m.PackageByIndex(h.Package())
}

// Packages returns the loaded file-backed packages in load order.
func (m *Manager) Packages() []*Package {
	var out []*Package
	for _, p := range m.packages {
		if p != nil && !p.builtin {
			out = append(out, p)
		}
	}
	return out
}

// Object returns the live object behind h, or nil for null, destroyed or
// unloaded handles.
func (m *Manager) Object(h object.Handle) *object.Object {
	if h.IsNull() && h.Package() == 0 {
		return nil
	}
	p := m.PackageByIndex(h.Package())
	if p == nil {
		return nil
	}
	o := p.slot(h.Slot())
	if o == nil || o.Destroyed() {
		return nil
	}
	return o
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// LoadPackage returns the package named name, loading it from the search
// paths if needed.
func (m *Manager) LoadPackage(name string) (*Package, error) {
	if p := m.Package(name); p != nil {
		return p, nil
	}
	path, ok := m.locate(name)
	if !ok {
		return nil, &LoadError{Package: name, Err: ErrPackageNotFound}
	}
	return m.OpenPackage(path)
}

// OpenPackage loads the package file at path. The header and tables are
// read and validated, a stub is created for every export and payload
// population is run through the delay-load queue.
func (m *Manager) OpenPackage(path string) (*Package, error) {
	name := packageName(path)
	n := m.names.Intern(name)
	if p := m.byName[n]; p != nil {
		return p, nil
	}

	sum, err := pkgfile.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w: %s", ErrPackageNotFound, path)
		}
		return nil, &LoadError{Package: name, Err: err}
	}

	p := newPackage(m, uint32(len(m.packages)), n)
	p.Path = path
	p.Summary = sum
	p.streams = make(chan *os.File, m.cfg.StreamsPerPackage)
	p.objects = append(p.objects, make([]*object.Object, len(sum.Exports))...)
	p.exports = make([]exportState, len(sum.Exports))
	p.imports = make([]importState, len(sum.Imports))
	p.names = make([]object.Name, len(sum.Names))
	for i, e := range sum.Names {
		p.names[i] = m.names.Intern(e.Name)
	}
	p.none = sum.NameIndex("None")
	p.Object().Class = m.Intrinsic(MetaPackage)

	m.packages = append(m.packages, p)
	m.byName[n] = p

	log.Info("loading package",
		"package", name,
		"path", path,
		"version", sum.Header.FileVersion,
		"names", len(sum.Names),
		"imports", len(sum.Imports),
		"exports", len(sum.Exports))

	m.depth++
	err = m.createStubs(p)
	m.depth--
	if err != nil {
		m.abandon(p)
		return nil, err
	}

	m.flush()
	if err := m.failed[p.Index]; err != nil {
		return nil, err
	}

	for _, fn := range m.loadHooks {
		fn(p)
	}
	return p, nil
}

func (m *Manager) createStubs(p *Package) error {
	for i := range p.Summary.Exports {
		if _, err := m.exportStub(p, i); err != nil {
			return err
		}
	}
	return nil
}

// abandon drops a package whose load failed fatally.
func (m *Manager) abandon(p *Package) {
	if m.packages[p.Index] != p {
		return
	}
	p.Objects(func(o *object.Object) bool {
		o.Flags |= object.FlagDestroyed
		return true
	})
	p.closeStreams()
	delete(m.byName, p.Name)
	m.packages[p.Index] = nil
}

func packageName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ---------------------------------------------------------------------------
// Lookup
// ---------------------------------------------------------------------------

// Find returns the object at a dotted path "Package.Outer.Name", loading the
// package if needed.
func (m *Manager) Find(path string) (*object.Object, error) {
	parts := strings.Split(path, ".")
	p, err := m.LoadPackage(parts[0])
	if err != nil {
		return nil, err
	}
	cur := p.Object()
	for _, part := range parts[1:] {
		n, ok := m.names.Lookup(part)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchObject, path)
		}
		var next *object.Object
		p.Objects(func(o *object.Object) bool {
			if o.Name == n && o.Outer == cur.Handle && o != cur {
				next = o
				return false
			}
			return true
		})
		if next == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchObject, path)
		}
		cur = next
	}
	return cur, nil
}

// FindClass returns the class at "Package.Class".
func (m *Manager) FindClass(path string) (*object.Class, error) {
	o, err := m.Find(path)
	if err != nil {
		return nil, err
	}
	if o.Field == nil || o.Field.Class == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotAClass, path)
	}
	return o.Field.Class, nil
}

// Path returns the dotted path of h, as used by Find.
func (m *Manager) Path(h object.Handle) string {
	var parts []string
	for i := 0; i < 64; i++ {
		o := m.Object(h)
		if o == nil {
			break
		}
		parts = append(parts, m.names.String(o.Name))
		if o.Outer.IsNull() || o.Handle.Slot() == 0 {
			if o.Handle.Slot() != 0 {
				if p := m.PackageOf(o.Handle); p != nil {
					parts = append(parts, p.String())
				}
			}
			break
		}
		h = o.Outer
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

// ---------------------------------------------------------------------------
// Runtime objects
// ---------------------------------------------------------------------------

// NewObject creates a transient instance of class whose storage starts as a
// copy of the class defaults.
func (m *Manager) NewObject(class *object.Class, outer object.Handle, name string) *object.Object {
	obj := &object.Object{
		Name:  m.names.Intern(name),
		Class: class,
		Outer: outer,
		Flags: object.FlagTransient,
	}
	m.Transient().add(obj)
	obj.Storage = m.instanceStorage(class)
	if class != nil {
		obj.State = autoState(class)
	}
	return obj
}

func (m *Manager) instanceStorage(class *object.Class) *object.Storage {
	if class == nil {
		return object.NewStorage(nil)
	}
	m.ensureDefaults(class)
	st := object.NewStorage(class.Layout())
	st.CopyFrom(class.Defaults)
	return st
}

// autoState returns the first state of the class hierarchy flagged auto.
func autoState(c *object.Class) *object.State {
	for cur := c; cur != nil; cur = cur.Parent() {
		var found *object.State
		cur.Fields(func(f *object.Field) bool {
			if f.Kind == object.FieldState && f.State.Flags&object.StateAuto != 0 {
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

// Destroy tears down a transient object. Release hooks run first so frames
// executing on it are aborted.
func (m *Manager) Destroy(h object.Handle) error {
	o := m.Object(h)
	if o == nil {
		return fmt.Errorf("%w: %s", ErrNoSuchObject, h)
	}
	if h.Package() != TransientPackage {
		return fmt.Errorf("%w: %s", ErrNotTransient, m.Path(h))
	}
	ev := Release{Handle: h}
	for _, fn := range m.releaseHooks {
		fn(ev)
	}
	o.Flags |= object.FlagDestroyed
	o.Storage = nil
	return nil
}

// Unload removes a package. It fails with ErrPackageInUse while another
// loaded package holds a resolved import into it. Transient instances of
// the package's classes are destroyed with it.
func (m *Manager) Unload(name string) error {
	p := m.Package(name)
	if p == nil || p.builtin {
		return &LoadError{Package: name, Err: ErrPackageNotFound}
	}
	for _, other := range m.packages {
		if other == nil || other == p {
			continue
		}
		for _, st := range other.imports {
			if st.done && st.err == nil && st.handle.Package() == p.Index {
				return fmt.Errorf("%w: %s imports %s", ErrPackageInUse, other, p)
			}
		}
	}

	// Transient instances of the package's classes go first.
	var orphans []object.Handle
	m.Transient().Objects(func(o *object.Object) bool {
		if !o.Destroyed() && o.Class != nil && o.Class.Field.Object != nil &&
			o.Class.Field.Object.Handle.Package() == p.Index {
			orphans = append(orphans, o.Handle)
		}
		return true
	})
	for _, h := range orphans {
		if err := m.Destroy(h); err != nil {
			return err
		}
	}
	if len(orphans) > 0 {
		log.Info("destroyed instances of unloaded classes", "package", name, "count", len(orphans))
	}

	ev := Release{Package: p}
	for _, fn := range m.releaseHooks {
		fn(ev)
	}
	p.Objects(func(o *object.Object) bool {
		o.Flags |= object.FlagDestroyed
		o.Storage = nil
		return true
	})
	p.closeStreams()
	delete(m.byName, p.Name)
	m.packages[p.Index] = nil
	log.Info("unloaded package", "package", name)
	return nil
}
