package engine

import (
	"os"
	"sync"

	"github.com/chazu/surreal/object"
	"github.com/chazu/surreal/pkgfile"
)

// ---------------------------------------------------------------------------
// Package: One loaded package file and its object arena
// ---------------------------------------------------------------------------

// Package is a loaded package. Slot 0 of its arena is the package object;
// export i lives in slot i+1 once its stub has been created. The transient
// and intrinsic packages have no file behind them and simply append slots.
type Package struct {
	Index   uint32
	Name    object.Name
	Path    string
	Summary *pkgfile.Summary

	mgr     *Manager
	objects []*object.Object
	names   []object.Name
	none    int32

	exports []exportState
	imports []importState

	// deferred holds the payload offset at which an export's tagged property
	// list starts, for exports whose storage is populated by the delay-load
	// queue.
	deferred map[uint32]int

	streams  chan *os.File
	streamMu sync.Mutex
	open     int

	builtin bool
}

type stubState uint8

const (
	stubNone stubState = iota
	stubOuter
	stubClass
	stubDone
)

type exportState struct {
	state stubState
}

type importState struct {
	done      bool
	resolving bool
	handle    object.Handle
	err       error
}

func newPackage(m *Manager, index uint32, name object.Name) *Package {
	p := &Package{
		Index:    index,
		Name:     name,
		mgr:      m,
		none:     -1,
		deferred: make(map[uint32]int),
	}
	pkgObj := &object.Object{
		Handle: object.MakeHandle(index, 0),
		Name:   name,
		Flags:  object.FlagPublic,
	}
	p.objects = append(p.objects, pkgObj)
	return p
}

// Object returns the package object (slot 0).
func (p *Package) Object() *object.Object { return p.objects[0] }

// Handle returns the handle of the package object.
func (p *Package) Handle() object.Handle { return p.objects[0].Handle }

// Manager returns the manager that owns the package.
func (p *Package) Manager() *Manager { return p.mgr }

// String returns the package name.
func (p *Package) String() string { return p.mgr.names.String(p.Name) }

// Builtin reports whether the package has no backing file.
func (p *Package) Builtin() bool { return p.builtin }

// ExportCount returns the number of exports.
func (p *Package) ExportCount() int {
	if p.Summary == nil {
		return 0
	}
	return len(p.Summary.Exports)
}

// Export returns the object for export i, or nil if its stub has not been
// created.
func (p *Package) Export(i int) *object.Object {
	if i < 0 || i+1 >= len(p.objects) {
		return nil
	}
	return p.objects[i+1]
}

// Objects calls fn for every live object in the package arena.
func (p *Package) Objects(fn func(*object.Object) bool) {
	for _, o := range p.objects {
		if o == nil || o.Destroyed() {
			continue
		}
		if !fn(o) {
			return
		}
	}
}

// slot returns the object at slot s, or nil.
func (p *Package) slot(s uint32) *object.Object {
	if int(s) >= len(p.objects) {
		return nil
	}
	return p.objects[s]
}

// add appends a runtime object to the arena and assigns its handle.
func (p *Package) add(o *object.Object) *object.Object {
	o.Handle = object.MakeHandle(p.Index, uint32(len(p.objects)))
	p.objects = append(p.objects, o)
	return o
}

// name maps a package name index to the global name table.
func (p *Package) name(i int32) object.Name {
	if i < 0 || int(i) >= len(p.names) {
		return object.NameNone
	}
	return p.names[i]
}

// LocalName maps package name index i to the global name table; indices
// outside the table map to None.
func (p *Package) LocalName(i int32) object.Name { return p.name(i) }

// RefString renders a stored reference for diagnostics.
func (p *Package) RefString(r pkgfile.Ref) string {
	if p.Summary == nil || r.Validate(len(p.Summary.Exports), len(p.Summary.Imports)) != nil {
		return r.String()
	}
	switch {
	case r.IsExport():
		return p.exportPath(r.ExportIndex())
	case r.IsImport():
		return p.importPath(r.ImportIndex())
	}
	return "None"
}

// NameString returns the spelling of package name index i.
func (p *Package) NameString(i int32) string {
	return p.mgr.names.String(p.name(i))
}

// ---------------------------------------------------------------------------
// Stream pool
// ---------------------------------------------------------------------------

// acquire returns an open handle on the package file, reusing a pooled one
// when available.
func (p *Package) acquire() (*os.File, error) {
	select {
	case f := <-p.streams:
		return f, nil
	default:
	}
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, err
	}
	p.streamMu.Lock()
	p.open++
	p.streamMu.Unlock()
	return f, nil
}

// release returns f to the pool, closing it if the pool is full.
func (p *Package) release(f *os.File) {
	select {
	case p.streams <- f:
	default:
		f.Close()
		p.streamMu.Lock()
		p.open--
		p.streamMu.Unlock()
	}
}

// OpenStreams returns the number of file handles currently open.
func (p *Package) OpenStreams() int {
	p.streamMu.Lock()
	defer p.streamMu.Unlock()
	return p.open
}

func (p *Package) closeStreams() {
	if p.streams == nil {
		return
	}
	for {
		select {
		case f := <-p.streams:
			f.Close()
			p.streamMu.Lock()
			p.open--
			p.streamMu.Unlock()
		default:
			return
		}
	}
}

// payload reads the serialized bytes of export i.
func (p *Package) payload(i int) ([]byte, error) {
	if p.Summary == nil || i < 0 || i >= len(p.Summary.Exports) {
		return nil, nil
	}
	exp := p.Summary.Exports[i]
	if exp.SerialSize == 0 {
		return nil, nil
	}
	f, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer p.release(f)
	return pkgfile.Payload(f, p.Summary.Size, exp)
}
