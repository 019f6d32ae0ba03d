package vm

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/chazu/surreal/object"
)

// ---------------------------------------------------------------------------
// Inspection types
// ---------------------------------------------------------------------------

// StackFrame describes one active frame, innermost first.
type StackFrame struct {
	Depth    int    // 0 is the innermost frame
	Function string // path of the function or state
	Object   string // path of the object running it
	PC       int    // offset of the current statement
	Line     int32  // last line number seen
	State    string // frame state
	Latent   bool   // suspended at a latent call
}

// Variable represents a variable for inspection.
type Variable struct {
	Name  string // Variable name, with an index for array elements
	Type  string // Property kind
	Value string // Rendered value
}

// ---------------------------------------------------------------------------
// Stack and variable inspection
// ---------------------------------------------------------------------------

// CallStack returns the active frames, innermost first.
func (x *Interpreter) CallStack() []StackFrame {
	var out []StackFrame
	depth := 0
	for f := x.top; f != nil; f = f.Caller {
		out = append(out, x.describeFrame(f, depth))
		depth++
	}
	return out
}

// Frame returns the frame at depth, counting from the innermost, or nil.
func (x *Interpreter) Frame(depth int) *Frame {
	f := x.top
	for ; f != nil && depth > 0; depth-- {
		f = f.Caller
	}
	return f
}

func (x *Interpreter) describeFrame(f *Frame, depth int) StackFrame {
	return StackFrame{
		Depth:    depth,
		Function: x.frameName(f),
		Object:   x.objectName(f.Object),
		PC:       f.stmtPC,
		Line:     f.Line,
		State:    f.State.String(),
		Latent:   f.Resume != nil,
	}
}

// DescribeFrame renders a frame that is not on the stack, such as a
// suspended state frame held by the scheduler.
func (x *Interpreter) DescribeFrame(f *Frame) StackFrame { return x.describeFrame(f, 0) }

func (x *Interpreter) scriptStack() []string {
	var out []string
	for f := x.top; f != nil; f = f.Caller {
		out = append(out, fmt.Sprintf("%s pc=0x%04X line %d", x.frameName(f), f.stmtPC, f.Line))
	}
	return out
}

// Locals returns a function frame's parameters and locals in declaration
// order. State frames have none.
func (x *Interpreter) Locals(f *Frame) []Variable {
	if f == nil || f.Locals == nil {
		return nil
	}
	return x.variables(f.Locals, f.Locals.Layout().Properties)
}

// DescribeObject returns the properties of o sorted by name.
func (x *Interpreter) DescribeObject(o *object.Object) []Variable {
	if o == nil || o.Storage == nil || o.Storage.Layout() == nil {
		return nil
	}
	props := append([]*object.Property(nil), o.Storage.Layout().Properties...)
	sort.SliceStable(props, func(i, j int) bool {
		return strings.ToLower(x.names.String(props[i].Name())) < strings.ToLower(x.names.String(props[j].Name()))
	})
	return x.variables(o.Storage, props)
}

func (x *Interpreter) variables(st *object.Storage, props []*object.Property) []Variable {
	var out []Variable
	for _, p := range props {
		name := x.names.String(p.Name())
		typ := strings.TrimSuffix(p.Kind.String(), "Property")
		if p.Dim() == 1 {
			out = append(out, Variable{Name: name, Type: typ, Value: x.formatValue(st.Get(p, 0))})
			continue
		}
		for i := 0; i < p.Dim(); i++ {
			out = append(out, Variable{
				Name:  fmt.Sprintf("%s[%d]", name, i),
				Type:  typ,
				Value: x.formatValue(st.Get(p, i)),
			})
		}
	}
	return out
}

func (x *Interpreter) formatValue(v object.Value) string {
	switch v.Kind {
	case object.ValObject, object.ValClass:
		if x.m.Object(v.Handle) == nil {
			return "None"
		}
		return x.m.Path(v.Handle)
	case object.ValArray:
		parts := make([]string, len(v.Elems))
		for i, e := range v.Elems {
			parts[i] = x.formatValue(e)
		}
		return "(" + strings.Join(parts, ",") + ")"
	}
	return v.Format(x.names)
}

// ---------------------------------------------------------------------------
// DebugServer: Breakpoints and fault notifications
// ---------------------------------------------------------------------------

// DebugEvent is sent to clients when a breakpoint is hit or a fault
// reaches a native boundary.
type DebugEvent struct {
	Type   string // "breakpointHit" or "fault"
	Reason string
	Stack  []StackFrame
	Fault  *Fault
}

// Breakpoint is a line breakpoint in a function or state.
type Breakpoint struct {
	ID       int
	Function string
	Line     int32
	Active   bool
	Hits     int
}

type breakpointKey struct {
	function string
	line     int32
}

// DebugServer watches an interpreter. Script execution never blocks on it:
// events are dropped when the client does not drain them.
type DebugServer struct {
	x           *Interpreter
	mu          sync.Mutex
	breakpoints map[breakpointKey]*Breakpoint
	nextID      int
	events      chan DebugEvent
}

// NewDebugServer attaches a debug server to x.
func NewDebugServer(x *Interpreter) *DebugServer {
	d := &DebugServer{
		x:           x,
		breakpoints: make(map[breakpointKey]*Breakpoint),
		events:      make(chan DebugEvent, 16),
	}
	x.debug = d
	x.OnFault(func(f *Fault) {
		d.send(DebugEvent{Type: "fault", Reason: f.Err.Error(), Fault: f})
	})
	return d
}

// Events returns the event channel.
func (d *DebugServer) Events() <-chan DebugEvent { return d.events }

// SetBreakpoint adds a breakpoint at line of the function or state with the
// given path and returns its ID.
func (d *DebugServer) SetBreakpoint(function string, line int32) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := breakpointKey{strings.ToLower(function), line}
	if bp := d.breakpoints[key]; bp != nil {
		bp.Active = true
		return bp.ID
	}
	d.nextID++
	d.breakpoints[key] = &Breakpoint{ID: d.nextID, Function: function, Line: line, Active: true}
	return d.nextID
}

// RemoveBreakpoint deletes a breakpoint.
func (d *DebugServer) RemoveBreakpoint(function string, line int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.breakpoints, breakpointKey{strings.ToLower(function), line})
}

// ListBreakpoints returns every breakpoint ordered by ID.
func (d *DebugServer) ListBreakpoints() []Breakpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Breakpoint, 0, len(d.breakpoints))
	for _, bp := range d.breakpoints {
		out = append(out, *bp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// line is called when a frame passes a line number marker.
func (d *DebugServer) line(f *Frame) {
	name := strings.TrimPrefix(d.x.frameName(f), "state ")
	d.mu.Lock()
	bp := d.breakpoints[breakpointKey{strings.ToLower(name), f.Line}]
	hit := bp != nil && bp.Active
	if hit {
		bp.Hits++
	}
	d.mu.Unlock()
	if hit {
		d.send(DebugEvent{
			Type:   "breakpointHit",
			Reason: fmt.Sprintf("%s line %d", name, f.Line),
			Stack:  d.x.CallStack(),
		})
	}
}

func (d *DebugServer) send(ev DebugEvent) {
	select {
	case d.events <- ev:
	default:
		log.Debug("debug event dropped", "type", ev.Type)
	}
}
