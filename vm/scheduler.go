package vm

import (
	"errors"
	"fmt"
	"sort"

	"github.com/chazu/surreal/engine"
	"github.com/chazu/surreal/object"
)

// ErrStateNotFound is returned when a state switch names a state the
// object's class does not declare.
var ErrStateNotFound = errors.New("vm: state not found")

// maxStateRestarts bounds how often one object may switch state within a
// single tick.
const maxStateRestarts = 64

// ---------------------------------------------------------------------------
// Scheduler: Per-tick execution of state code
// ---------------------------------------------------------------------------

// Scheduler runs the state code of registered objects once per tick.
// Objects run in handle order so a tick is deterministic.
type Scheduler struct {
	x       *Interpreter
	entries map[object.Handle]*entry
	ticks   uint64
}

type entry struct {
	obj     *object.Object
	frame   *Frame
	pending *stateSwitch
}

type stateSwitch struct {
	state *object.State
	label object.Name
}

func newScheduler(x *Interpreter) *Scheduler {
	return &Scheduler{x: x, entries: make(map[object.Handle]*entry)}
}

// Add registers obj and starts its current state at the Begin label on the
// next tick.
func (s *Scheduler) Add(obj *object.Object) error {
	if obj == nil || obj.Destroyed() {
		return fmt.Errorf("%w: no object", ErrNoStateCode)
	}
	if obj.State == nil {
		return fmt.Errorf("%w: %s", ErrNoStateCode, s.x.objectName(obj))
	}
	e := s.entry(obj)
	e.frame = nil
	e.pending = &stateSwitch{state: obj.State, label: s.x.nameBegin}
	return nil
}

// Remove stops running obj's state code.
func (s *Scheduler) Remove(obj *object.Object) {
	if e := s.entries[obj.Handle]; e != nil {
		if e.frame != nil {
			e.frame.State = FrameAborted
		}
		delete(s.entries, obj.Handle)
	}
}

// Len returns the number of registered objects.
func (s *Scheduler) Len() int { return len(s.entries) }

// Ticks returns the number of ticks run.
func (s *Scheduler) Ticks() uint64 { return s.ticks }

// Frame returns the state frame of obj, or nil when it is idle.
func (s *Scheduler) Frame(obj *object.Object) *Frame {
	if e := s.entries[obj.Handle]; e != nil {
		return e.frame
	}
	return nil
}

func (s *Scheduler) entry(obj *object.Object) *entry {
	e := s.entries[obj.Handle]
	if e == nil {
		e = &entry{obj: obj}
		s.entries[obj.Handle] = e
	}
	return e
}

func (s *Scheduler) handles() []object.Handle {
	hs := make([]object.Handle, 0, len(s.entries))
	for h := range s.entries {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	return hs
}

// GotoState switches obj to state at label. EndState runs in the old state
// and BeginState in the new one. A running state frame of obj stops at its
// next statement; the new state code starts when the scheduler next runs
// the object. A None state leaves state code.
func (s *Scheduler) GotoState(obj *object.Object, state, label object.Name) error {
	x := s.x
	var next *object.State
	if state != object.NameNone {
		if obj.Class != nil {
			next = obj.Class.FindState(state)
		}
		if next == nil {
			return fmt.Errorf("%w: %s in %s", ErrStateNotFound, x.names.String(state), x.objectName(obj))
		}
	}
	if label == object.NameNone {
		label = x.nameBegin
	}

	prev := obj.State
	if prev != nil && prev != next {
		s.event(obj, x.nameEndState)
	}
	if obj.Destroyed() {
		return nil
	}
	obj.State = next
	if next != nil && prev != next {
		s.event(obj, x.nameBeginState)
	}
	if obj.Destroyed() {
		return nil
	}

	e := s.entry(obj)
	e.pending = &stateSwitch{state: next, label: label}
	if e.frame != nil && e.frame.State == FrameRunning {
		e.frame.yield = true
	}
	log.Debug("state switch",
		"object", x.objectName(obj),
		"state", x.names.String(state),
		"label", x.names.String(label))
	return nil
}

// event calls an optional state event. Faults are logged by the boundary
// and do not stop the switch.
func (s *Scheduler) event(obj *object.Object, name object.Name) {
	fn := findFunction(obj, name, true)
	if fn == nil {
		return
	}
	_, _ = s.x.CallFunction(obj, fn)
}

// Tick advances every registered object by dt seconds and returns the
// faults raised by state code.
func (s *Scheduler) Tick(dt float32) []*Fault {
	s.ticks++
	var faults []*Fault
	for _, h := range s.handles() {
		e := s.entries[h]
		if e == nil {
			continue
		}
		if s.x.m.Object(h) == nil {
			delete(s.entries, h)
			continue
		}
		if fault := s.advance(e, dt); fault != nil {
			faults = append(faults, fault)
		}
	}
	return faults
}

// advance runs one object until its state code suspends, stops or faults.
func (s *Scheduler) advance(e *entry, dt float32) *Fault {
	x := s.x
	polled := false
	for restarts := 0; ; restarts++ {
		if restarts > maxStateRestarts {
			e.frame, e.pending = nil, nil
			return x.fault(nil, fmt.Errorf("%w: %s switched state %d times in one tick",
				ErrRunaway, x.objectName(e.obj), maxStateRestarts))
		}
		if p := e.pending; p != nil {
			e.pending = nil
			e.frame = nil
			if p.state != nil {
				e.frame = x.stateFrame(e.obj, p.state, p.label)
			}
		}
		f := e.frame
		if f == nil {
			return nil
		}
		if f.State == FrameSuspended {
			if polled || f.Resume == nil || !f.Resume.Wait.Poll(dt) {
				return nil
			}
			polled = true
			f.Resume = nil
		}
		err := x.runState(f)
		if err != nil {
			e.frame = nil
			if errors.Is(err, ErrFrameAborted) {
				return nil
			}
			fault, _ := AsFault(err)
			return fault
		}
		switch {
		case e.pending != nil:
			continue
		case f.State == FrameSuspended:
			return nil
		}
		e.frame = nil
		return nil
	}
}

// stateFrame prepares a frame running st's code from label.
func (x *Interpreter) stateFrame(obj *object.Object, st *object.State, label object.Name) *Frame {
	f := &Frame{Object: obj, Line: st.Line, stateCode: true}
	if !x.enterLabel(f, st, label) {
		if label != x.nameBegin {
			log.Warning("label not found", "object", x.objectName(obj), "label", x.names.String(label))
		}
		return nil
	}
	f.Line = f.Node.Line
	return f
}

// runState runs a state frame as a native boundary.
func (x *Interpreter) runState(f *Frame) error {
	_, err := x.boundary(func() (object.Value, error) {
		if err := x.push(f); err != nil {
			return object.Value{}, err
		}
		err := x.run(f)
		x.pop(f)
		return object.Value{}, err
	})
	if errors.Is(err, errSuspended) {
		return nil
	}
	return err
}

// release drops registered objects that are dying or running dying code.
func (s *Scheduler) release(ev engine.Release, dying func(*Frame) bool) {
	for h, e := range s.entries {
		if !ev.Dying(h) && (e.frame == nil || !dying(e.frame)) {
			continue
		}
		if e.frame != nil {
			e.frame.State = FrameAborted
			e.frame.Resume = nil
		}
		delete(s.entries, h)
	}
}

// ---------------------------------------------------------------------------
// Interpreter entry points for state code
// ---------------------------------------------------------------------------

// GotoState switches obj to the named state and label; an empty label means
// Begin and an empty state leaves state code.
func (x *Interpreter) GotoState(obj *object.Object, state, label string) error {
	st, lb := object.NameNone, object.NameNone
	if state != "" {
		st = x.names.Intern(state)
	}
	if label != "" {
		lb = x.names.Intern(label)
	}
	return x.sched.GotoState(obj, st, lb)
}

// Resume continues a suspended state frame immediately, regardless of its
// wait condition.
func (x *Interpreter) Resume(f *Frame) error {
	if f == nil || f.State != FrameSuspended {
		return fmt.Errorf("vm: resume of frame that is not suspended")
	}
	f.Resume = nil
	return x.runState(f)
}
