package engine

import (
	"errors"

	"github.com/chazu/surreal/object"
	"github.com/chazu/surreal/pkgfile"
)

// ---------------------------------------------------------------------------
// Delay-Load Queue
// ---------------------------------------------------------------------------

// delayQueue holds objects whose property storage has not been populated.
// Draining it is not reentrant: loads triggered while a drain is running
// append to the queue and are picked up by the running drain.
type delayQueue struct {
	active bool
	jobs   []object.Handle
}

func (m *Manager) enqueue(h object.Handle) {
	m.delay.jobs = append(m.delay.jobs, h)
}

// Pending returns the number of objects waiting for population.
func (m *Manager) Pending() int { return len(m.delay.jobs) }

// flush drains the queue unless a drain is already running further up the
// stack or a package is still creating its stubs, whose metadata may be
// incomplete. A package whose payload fails to populate is abandoned and its
// error recorded in m.failed.
func (m *Manager) flush() {
	if m.delay.active || m.depth > 0 {
		return
	}
	m.delay.active = true
	defer func() { m.delay.active = false }()

	for len(m.delay.jobs) > 0 {
		h := m.delay.jobs[0]
		m.delay.jobs = m.delay.jobs[1:]
		if err := m.populate(h); err != nil {
			p := m.PackageOf(h)
			if p == nil {
				continue
			}
			log.Error("package payload failed to load", "package", p.String(), "error", err.Error())
			m.failed[p.Index] = err
			m.abandon(p)
		}
	}
	m.delay.jobs = nil
}

// populate fills the storage of the object behind h. Class objects get
// their class defaults; other objects get a copy of their class defaults
// with the tagged values of their payload applied. Dependencies (the class
// and the parent class defaults) are populated first.
func (m *Manager) populate(h object.Handle) error {
	p := m.PackageOf(h)
	if p == nil {
		return nil
	}
	obj := p.slot(h.Slot())
	if obj == nil || obj.Destroyed() || !obj.Flags.Has(object.FlagNeedLoad) || obj.Flags.Has(object.FlagLoading) {
		return nil
	}
	obj.Flags |= object.FlagLoading
	defer func() { obj.Flags &^= object.FlagLoading }()

	if obj.Field != nil && obj.Field.Class != nil {
		if err := m.populateDefaults(p, obj); err != nil {
			return err
		}
	} else {
		st := m.instanceStorage(obj.Class)
		if err := m.applyPayload(p, obj, st); err != nil {
			return err
		}
		obj.Storage = st
	}
	obj.Flags &^= object.FlagNeedLoad
	log.Debug("populated object", "object", m.Path(h))
	return nil
}

// ensureDefaults populates the defaults of c, and of its ancestors, if they
// are still waiting in the queue.
func (m *Manager) ensureDefaults(c *object.Class) {
	if c == nil || c.Field == nil || c.Field.Object == nil {
		return
	}
	o := c.Field.Object
	if !o.Flags.Has(object.FlagNeedLoad) {
		return
	}
	if err := m.populate(o.Handle); err != nil {
		log.Error("class defaults failed to load", "class", m.names.String(c.Name()), "error", err.Error())
	}
}

func (m *Manager) populateDefaults(p *Package, obj *object.Object) error {
	c := obj.Field.Class
	parent := c.Parent()
	m.ensureDefaults(parent)

	layout, err := c.ComputeLayout()
	if err != nil {
		return &LoadError{Package: p.String(), Err: err}
	}
	st := object.NewStorage(layout)
	if parent != nil {
		st.CopyFrom(parent.Defaults)
	}
	if err := m.applyPayload(p, obj, st); err != nil {
		return err
	}
	c.Defaults = st
	return nil
}

// applyPayload reads the tagged property list of obj's export into st. For
// classes the list starts after the reflection metadata at the offset
// recorded when the metadata was deserialized.
func (m *Manager) applyPayload(p *Package, obj *object.Object, st *object.Storage) error {
	if p.Summary == nil {
		return nil
	}
	i := int(obj.Handle.Slot()) - 1
	if i < 0 || i >= len(p.Summary.Exports) {
		return nil
	}
	data, err := p.payload(i)
	if err != nil {
		return &LoadError{Package: p.String(), Err: err}
	}
	if len(data) == 0 {
		return nil
	}
	start := p.deferred[obj.Handle.Slot()]
	if start > len(data) {
		return nil
	}
	exp := p.Summary.Exports[i]
	d := pkgfile.NewDecoder(data[start:], int64(exp.SerialOffset)+int64(start), p.Summary.Header.FileVersion)
	if err := m.readTags(p, d, st, m.Path(obj.Handle)); err != nil {
		return p.formatFailure(err)
	}
	return nil
}

// formatFailure wraps a decode error as a fatal load error naming the file.
func (p *Package) formatFailure(err error) error {
	var fe *pkgfile.FormatError
	if errors.As(err, &fe) && fe.Path == "" {
		err = &pkgfile.FormatError{Path: p.Path, Offset: fe.Offset, Err: fe.Err}
	}
	return &LoadError{Package: p.String(), Err: err}
}
