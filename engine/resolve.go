package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/surreal/object"
	"github.com/chazu/surreal/pkgfile"
)

// ---------------------------------------------------------------------------
// Reference Resolution
// ---------------------------------------------------------------------------

// Resolve turns a reference stored in package p into an object. Null refs
// yield (nil, nil). Unresolvable imports yield nil and an
// *UnresolvedImportError, which callers treat as recoverable. Work queued
// while resolving is flushed before Resolve returns.
func (m *Manager) Resolve(p *Package, ref pkgfile.Ref) (*object.Object, error) {
	o, err := m.resolve(p, ref)
	m.flush()
	if ferr := m.failed[p.Index]; ferr != nil {
		return nil, ferr
	}
	return o, err
}

func (m *Manager) resolve(p *Package, ref pkgfile.Ref) (*object.Object, error) {
	if p.Summary == nil {
		if ref.IsNull() {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s in package %s", pkgfile.ErrRefOutOfRange, ref, p)
	}
	if err := ref.Validate(len(p.Summary.Exports), len(p.Summary.Imports)); err != nil {
		return nil, &LoadError{Package: p.String(), Err: err}
	}
	switch {
	case ref.IsExport():
		return m.exportStub(p, ref.ExportIndex())
	case ref.IsImport():
		return m.resolveImport(p, ref.ImportIndex())
	}
	return nil, nil
}

// exportPath renders export i as Package.Outer.Name for messages.
func (p *Package) exportPath(i int) string {
	s := p.Summary
	name := s.ExportName(i)
	for seen, ref := 0, s.Exports[i].Outer; ref.IsExport() && seen < len(s.Exports); seen++ {
		name = s.ExportName(ref.ExportIndex()) + "." + name
		ref = s.Exports[ref.ExportIndex()].Outer
	}
	return p.String() + "." + name
}

// importPath renders import i as Package.Outer.Name for messages.
func (p *Package) importPath(i int) string {
	s := p.Summary
	name := s.ImportName(i)
	for seen, ref := 0, s.Imports[i].Outer; ref.IsImport() && seen < len(s.Imports); seen++ {
		name = s.ImportName(ref.ImportIndex()) + "." + name
		ref = s.Imports[ref.ImportIndex()].Outer
	}
	return name
}

// ---------------------------------------------------------------------------
// Export stubs
// ---------------------------------------------------------------------------

// exportStub returns the object for export i, creating it on first use. The
// Outer is resolved before the class, and re-entering either step for the
// same export is a cycle. Reflection metadata is deserialized as soon as
// the stub exists; property storage waits for the delay-load queue.
func (m *Manager) exportStub(p *Package, i int) (*object.Object, error) {
	if o := p.objects[i+1]; o != nil {
		return o, nil
	}
	st := &p.exports[i]
	switch st.state {
	case stubOuter:
		return nil, &LoadError{Package: p.String(), Err: fmt.Errorf("%w: %s", ErrOuterCycle, p.exportPath(i))}
	case stubClass:
		return nil, &LoadError{Package: p.String(), Err: fmt.Errorf("%w: class of %s refers back to it", ErrNotAClass, p.exportPath(i))}
	}
	exp := p.Summary.Exports[i]

	st.state = stubOuter
	outer := p.Handle()
	if !exp.Outer.IsNull() {
		o, err := m.resolve(p, exp.Outer)
		if err != nil && !IsUnresolved(err) {
			st.state = stubNone
			return nil, err
		}
		if o != nil {
			outer = o.Handle
		}
	}

	st.state = stubClass
	class, err := m.resolveClass(p, exp.Class, exp.ObjectName)
	if err != nil {
		st.state = stubNone
		return nil, err
	}

	obj := &object.Object{
		Handle: object.MakeHandle(p.Index, uint32(i+1)),
		Name:   p.name(exp.ObjectName),
		Class:  class,
		Outer:  outer,
		Flags:  object.Flags(exp.Flags) | object.FlagNeedLoad,
	}
	p.objects[i+1] = obj
	st.state = stubDone

	info, isMeta := m.metaOf(class)
	switch {
	case isMeta && info.pkg:
		obj.Flags &^= object.FlagNeedLoad
	case isMeta:
		f := object.NewField(info.field, obj)
		if f.Property != nil {
			f.Property.Kind = info.prop
		}
		if err := m.loadField(p, i, f); err != nil {
			return nil, err
		}
	default:
		m.enqueue(obj.Handle)
	}
	return obj, nil
}

// resolveClass resolves the class of an export. A null reference means the
// export is itself a class. Classes that cannot be located degrade to a
// missing-class placeholder.
func (m *Manager) resolveClass(p *Package, ref pkgfile.Ref, objName int32) (*object.Class, error) {
	if ref.IsNull() {
		return m.classClass, nil
	}
	o, err := m.resolve(p, ref)
	if err != nil && !IsUnresolved(err) {
		return nil, err
	}
	if o != nil && o.Field != nil && o.Field.Class != nil {
		return o.Field.Class, nil
	}

	var name string
	switch {
	case ref.IsImport():
		name = p.Summary.ImportName(ref.ImportIndex())
	case ref.IsExport():
		name = p.Summary.ExportName(ref.ExportIndex())
	}
	if o != nil {
		log.Warning("class reference is not a class",
			"package", p.String(),
			"object", p.Summary.Name(objName),
			"class", name)
	}
	return m.missingClass(name), nil
}

// missingClass returns the shared placeholder for an unlocatable class name.
func (m *Manager) missingClass(name string) *object.Class {
	n := m.names.Intern(name)
	if c := m.missing[n]; c != nil {
		return c
	}
	obj := m.Transient().add(&object.Object{Name: n, Flags: object.FlagTransient})
	c := object.NewMissingClass(obj)
	obj.Class = m.classClass
	m.missing[n] = c
	return c
}

// ---------------------------------------------------------------------------
// Imports
// ---------------------------------------------------------------------------

// resolveImport resolves import i of p. Results, failures included, are
// memoized so every later reference to the import is O(1) and a failure is
// reported once.
func (m *Manager) resolveImport(p *Package, i int) (*object.Object, error) {
	st := &p.imports[i]
	if st.done {
		if st.err != nil {
			return nil, st.err
		}
		return m.Object(st.handle), nil
	}
	if st.resolving {
		return nil, m.unresolved(p, i, fmt.Errorf("%w: import depends on itself", ErrNoMatch))
	}

	st.resolving = true
	o, err := m.matchImport(p, i)
	st.resolving = false
	st.done = true

	if err != nil {
		st.err = err
		if IsUnresolved(err) {
			m.report(err)
		}
		return nil, err
	}
	st.handle = o.Handle
	log.Debug("resolved import",
		"package", p.String(),
		"import", p.importPath(i),
		"object", o.Handle.String())
	return o, nil
}

func (m *Manager) unresolved(p *Package, i int, err error) error {
	return &UnresolvedImportError{
		Package: p.String(),
		Import:  p.importPath(i),
		Class:   p.Summary.Name(p.Summary.Imports[i].ClassName),
		Err:     err,
	}
}

// matchImport finds the export an import refers to. A root import names a
// package. Meta class imports from the core package are served by the
// intrinsic classes. Otherwise the providing package is loaded and its
// exports are matched by name and outer, preferring an exact class name, then
// a derived class, then the lowest export index.
func (m *Manager) matchImport(p *Package, i int) (*object.Object, error) {
	imp := p.Summary.Imports[i]
	objName := p.NameString(imp.ObjectName)

	if imp.Outer.IsNull() {
		target, err := m.loadDependency(objName)
		if err != nil {
			return nil, m.unresolved(p, i, err)
		}
		return target.Object(), nil
	}

	if imp.Outer.IsImport() && p.Summary.Imports[imp.Outer.ImportIndex()].Outer.IsNull() {
		root := p.Summary.ImportName(imp.Outer.ImportIndex())
		if strings.EqualFold(root, m.cfg.CorePackage) {
			if o := m.intrinsics[p.name(imp.ObjectName)]; o != nil {
				return o, nil
			}
		}
	}

	outer, err := m.resolve(p, imp.Outer)
	if err != nil {
		if IsUnresolved(err) {
			return nil, m.unresolved(p, i, err)
		}
		return nil, err
	}
	if outer == nil {
		return nil, m.unresolved(p, i, ErrNoMatch)
	}
	target := m.PackageOf(outer.Handle)
	if target == nil || target.Summary == nil {
		return nil, m.unresolved(p, i, ErrNoMatch)
	}

	want := p.name(imp.ObjectName)
	className := p.name(imp.ClassName)
	best, bestScore := -1, 0
	for j, exp := range target.Summary.Exports {
		if target.name(exp.ObjectName) != want {
			continue
		}
		cand, err := m.exportStub(target, j)
		if err != nil {
			return nil, m.unresolved(p, i, err)
		}
		if cand.Outer != outer.Handle {
			continue
		}
		if score := classScore(cand, className); score > bestScore {
			best, bestScore = j, score
		}
	}
	if best < 0 {
		return nil, m.unresolved(p, i, ErrNoMatch)
	}
	return target.Export(best), nil
}

// classScore grades how well an object's class matches the class name an
// import expects: 2 for the same class, 1 for a subclass, 0 otherwise.
func classScore(o *object.Object, className object.Name) int {
	if o.Class == nil {
		return 0
	}
	if o.Class.Name() == className {
		return 2
	}
	for c := o.Class.Parent(); c != nil; c = c.Parent() {
		if c.Name() == className {
			return 1
		}
	}
	return 0
}

// loadDependency loads a package named by an import. A dependency that is
// present but broken is logged as its own failure.
func (m *Manager) loadDependency(name string) (*Package, error) {
	p, err := m.LoadPackage(name)
	if err != nil && !errors.Is(err, ErrPackageNotFound) {
		log.Error("dependency failed to load", "package", name, "error", err.Error())
	}
	return p, err
}
