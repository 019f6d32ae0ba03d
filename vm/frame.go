package vm

import (
	"fmt"

	"github.com/chazu/surreal/engine"
	"github.com/chazu/surreal/object"
)

// ---------------------------------------------------------------------------
// Frame: Execution state for one activation
// ---------------------------------------------------------------------------

// FrameState is the lifecycle state of a Frame.
type FrameState uint8

const (
	FrameRunning FrameState = iota
	FrameSuspended
	FrameReturned
	FrameAborted
)

var frameStateNames = [...]string{
	FrameRunning:   "running",
	FrameSuspended: "suspended",
	FrameReturned:  "returned",
	FrameAborted:   "aborted",
}

func (s FrameState) String() string {
	if int(s) < len(frameStateNames) {
		return frameStateNames[s]
	}
	return "state?"
}

// Frame is one activation of a function or of state code. Function frames
// own a Locals block laid out by the function; state code has none.
type Frame struct {
	Function *object.Function // nil for state code
	Node     *object.Struct   // function or state whose script runs
	Object   *object.Object
	PC       int
	Locals   *object.Storage
	Caller   *Frame
	State    FrameState
	Line     int32

	// Resume is set while the frame is suspended at a latent call.
	Resume *ResumeToken

	pkg       *engine.Package
	code      []byte
	stmtPC    int
	ctx       *object.Object
	nest      int
	done      bool
	yield     bool
	stateCode bool

	iters       []iterState
	pendingIter *iterState
}

// Code returns the script being executed.
func (f *Frame) Code() []byte { return f.code }

// StateCode reports whether the frame runs state code.
func (f *Frame) StateCode() bool { return f.stateCode }

// context returns the object member accesses apply to.
func (f *Frame) context() *object.Object {
	if f.ctx != nil {
		return f.ctx
	}
	return f.Object
}

// ---------------------------------------------------------------------------
// Latent suspension
// ---------------------------------------------------------------------------

// WaitCondition is the wait state recorded by a latent native. Poll is called
// once per tick with the elapsed time and reports whether the frame may
// resume.
type WaitCondition interface {
	Poll(dt float32) bool
}

// WaitFunc adapts a function to WaitCondition.
type WaitFunc func(dt float32) bool

func (fn WaitFunc) Poll(dt float32) bool { return fn(dt) }

// ResumeToken records where a suspended frame continues. Depth is the
// expression nesting at the suspension point; latent calls are only allowed
// at statement level, so it is always zero for a valid token.
type ResumeToken struct {
	PC    int
	Depth int
	Wait  WaitCondition
}

// sleepWait clears once the accumulated tick time reaches the duration.
type sleepWait struct {
	remaining float32
}

func (w *sleepWait) Poll(dt float32) bool {
	w.remaining -= dt
	return w.remaining <= 0
}

func (w *sleepWait) String() string { return fmt.Sprintf("sleep(%.3g)", w.remaining) }

// ---------------------------------------------------------------------------
// Iterators
// ---------------------------------------------------------------------------

// iterState is one active foreach loop.
type iterState struct {
	elems []object.Value
	pos   int
	out   lvalue
	body  int
	end   int
}

// ---------------------------------------------------------------------------
// lvalue: Assignable locations
// ---------------------------------------------------------------------------

type lvKind uint8

const (
	lvDiscard lvKind = iota
	lvProp
	lvElem
	lvLength
	lvMember
)

// lvalue is a location an expression designates. Elements of dynamic arrays
// and members of structs are read and written through their parent, so
// nested locations work regardless of where the container lives.
type lvalue struct {
	kind   lvKind
	st     *object.Storage
	prop   *object.Property
	index  int
	elem   int
	parent *lvalue
	zero   object.Value
}

func discard(zero object.Value) lvalue { return lvalue{kind: lvDiscard, zero: zero} }

func (lv lvalue) get() object.Value {
	switch lv.kind {
	case lvProp:
		return lv.st.Get(lv.prop, lv.index)
	case lvElem:
		arr := lv.parent.get()
		if lv.elem >= 0 && lv.elem < len(arr.Elems) {
			return arr.Elems[lv.elem]
		}
		return object.ZeroValue(lv.prop)
	case lvLength:
		return object.IntValue(int32(len(lv.parent.get().Elems)))
	case lvMember:
		sv := lv.parent.get()
		if sv.Kind != object.ValStruct || sv.Struct == nil {
			return object.ZeroValue(lv.prop)
		}
		return sv.Struct.Get(lv.prop, lv.index)
	}
	return lv.zero
}

func (lv lvalue) set(v object.Value) error {
	switch lv.kind {
	case lvProp:
		return lv.st.Set(lv.prop, lv.index, v)
	case lvElem:
		if lv.elem < 0 {
			return fmt.Errorf("array index %d out of range", lv.elem)
		}
		arr := lv.parent.get()
		for len(arr.Elems) <= lv.elem {
			arr.Elems = append(arr.Elems, object.ZeroValue(lv.prop))
		}
		arr.Kind = object.ValArray
		arr.Elems[lv.elem] = coerceElem(lv.prop, v)
		return lv.parent.set(arr)
	case lvLength:
		n := int(v.AsInt())
		if n < 0 {
			return fmt.Errorf("array length %d out of range", n)
		}
		arr := lv.parent.get()
		inner := lv.parent.prop
		if inner != nil {
			inner = inner.Inner
		}
		for len(arr.Elems) < n {
			arr.Elems = append(arr.Elems, object.ZeroValue(inner))
		}
		arr.Kind = object.ValArray
		arr.Elems = arr.Elems[:n]
		return lv.parent.set(arr)
	case lvMember:
		sv := lv.parent.get()
		if sv.Kind != object.ValStruct || sv.Struct == nil {
			return nil
		}
		if err := sv.Struct.Set(lv.prop, lv.index, v); err != nil {
			return err
		}
		return lv.parent.set(sv)
	}
	return nil
}

// property returns the property the location stores into, if any.
func (lv lvalue) property() *object.Property {
	if lv.kind == lvDiscard {
		return nil
	}
	return lv.prop
}

func coerceElem(p *object.Property, v object.Value) object.Value {
	if p == nil || p.Kind == object.PropStruct || p.IsDynamic() {
		return v.Clone()
	}
	return object.Coerce(p, v)
}
