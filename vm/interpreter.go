package vm

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/surreal/engine"
	"github.com/chazu/surreal/object"
	"github.com/chazu/surreal/pkgfile"
)

var log = commonlog.GetLogger("surreal.vm")

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

// Config bounds script execution.
type Config struct {
	// MaxCallDepth is the deepest script call stack allowed.
	MaxCallDepth int
	// RunawayLimit is the number of statements one native boundary may run
	// before the call is faulted as a runaway loop. Zero disables the check.
	RunawayLimit int
	// TickRate is the scheduler frequency used by drivers, in ticks per second.
	TickRate float64
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		MaxCallDepth: 250,
		RunawayLimit: 10_000_000,
		TickRate:     20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxCallDepth <= 0 {
		c.MaxCallDepth = d.MaxCallDepth
	}
	if c.RunawayLimit < 0 {
		c.RunawayLimit = 0
	}
	if c.TickRate <= 0 {
		c.TickRate = d.TickRate
	}
	return c
}

// ---------------------------------------------------------------------------
// Interpreter: Script execution engine
// ---------------------------------------------------------------------------

// Interpreter executes scripts of objects owned by one Manager. All
// execution state (call stack, scheduler, resolved references) lives in the
// Interpreter, so independent interpreters do not interfere.
type Interpreter struct {
	m       *engine.Manager
	names   *object.NameTable
	cfg     Config
	natives *NativeTable
	sched   *Scheduler

	top     *Frame
	depth   int
	steps   int
	spawned int

	refs map[refKey]*object.Object

	nameBegin      object.Name
	nameBeginState object.Name
	nameEndState   object.Name

	onFault []func(*Fault)
	debug   *DebugServer
}

type refKey struct {
	pkg uint32
	ref pkgfile.Ref
}

// NewInterpreter creates an interpreter for m. natives may be nil, in which
// case a table holding the built-in natives is created. Natives are bound to
// every package already loaded and to every package loaded later.
func NewInterpreter(m *engine.Manager, natives *NativeTable, cfg Config) *Interpreter {
	if natives == nil {
		natives = NewNativeTable()
		RegisterBuiltins(natives)
	}
	names := m.Names()
	x := &Interpreter{
		m:              m,
		names:          names,
		cfg:            cfg.withDefaults(),
		natives:        natives,
		refs:           make(map[refKey]*object.Object),
		nameBegin:      names.Intern("Begin"),
		nameBeginState: names.Intern("BeginState"),
		nameEndState:   names.Intern("EndState"),
	}
	x.sched = newScheduler(x)
	for _, p := range m.Packages() {
		natives.Bind(p)
	}
	m.OnLoad(func(p *engine.Package) { natives.Bind(p) })
	m.OnRelease(x.release)
	return x
}

// Manager returns the package manager the interpreter runs against.
func (x *Interpreter) Manager() *engine.Manager { return x.m }

// Natives returns the native function table.
func (x *Interpreter) Natives() *NativeTable { return x.natives }

// Scheduler returns the tick scheduler for state code.
func (x *Interpreter) Scheduler() *Scheduler { return x.sched }

// Config returns the effective limits.
func (x *Interpreter) Config() Config { return x.cfg }

// Depth returns the number of active frames.
func (x *Interpreter) Depth() int { return x.depth }

// OnFault registers fn to observe every fault that reaches a native
// boundary.
func (x *Interpreter) OnFault(fn func(*Fault)) { x.onFault = append(x.onFault, fn) }

// ---------------------------------------------------------------------------
// Native boundaries
// ---------------------------------------------------------------------------

// Call invokes the function name on obj, looking in obj's state first. It is
// a native boundary: a fault unwinds only the frames it created and is
// returned as a *Fault.
func (x *Interpreter) Call(obj *object.Object, name string, args ...object.Value) (object.Value, error) {
	if obj != nil && obj.Destroyed() {
		return object.Value{}, fmt.Errorf("%w: %s", ErrObjectDestroyed, x.objectName(obj))
	}
	n, ok := x.names.Lookup(name)
	var fn *object.Function
	if ok {
		fn = findFunction(obj, n, true)
	}
	if fn == nil {
		return object.Value{}, fmt.Errorf("%w: %s on %s", ErrFunctionNotFound, name, x.objectName(obj))
	}
	return x.CallFunction(obj, fn, args...)
}

// CallFunction invokes fn on obj with positional arguments. Missing
// arguments take their zero value.
func (x *Interpreter) CallFunction(obj *object.Object, fn *object.Function, args ...object.Value) (object.Value, error) {
	if obj != nil && obj.Destroyed() {
		return object.Value{}, fmt.Errorf("%w: %s", ErrObjectDestroyed, x.objectName(obj))
	}
	return x.boundary(func() (object.Value, error) {
		if fn.IsNative() {
			return x.dispatchDirect(obj, fn, x.natives.forFunction(fn), args)
		}
		locals := object.NewStorage(fn.Layout())
		params := fn.Params()
		if len(args) > len(params) {
			return object.Value{}, fmt.Errorf("%w: %s takes %d arguments, got %d",
				ErrArityMismatch, x.nodeName(&fn.Struct), len(params), len(args))
		}
		for i, v := range args {
			if err := locals.Set(params[i], 0, v); err != nil {
				return object.Value{}, fmt.Errorf("argument %d of %s: %w", i, x.nodeName(&fn.Struct), err)
			}
		}
		return x.invoke(obj, fn, locals, nil)
	})
}

// Dispatch calls the native bound to index on obj.
func (x *Interpreter) Dispatch(obj *object.Object, index uint16, args ...object.Value) (object.Value, error) {
	if obj != nil && obj.Destroyed() {
		return object.Value{}, fmt.Errorf("%w: %s", ErrObjectDestroyed, x.objectName(obj))
	}
	return x.boundary(func() (object.Value, error) {
		b := x.natives.byIndex[index]
		if b == nil {
			return object.Value{}, fmt.Errorf("%w: index %d", ErrNativeNotImplemented, index)
		}
		return x.dispatchDirect(obj, b.fn, b, args)
	})
}

// boundary runs fn with a fresh statement budget and restores the call
// stack afterwards. Errors leave as *Fault.
func (x *Interpreter) boundary(fn func() (object.Value, error)) (object.Value, error) {
	top, depth, steps := x.top, x.depth, x.steps
	x.steps = 0
	defer func() { x.top, x.depth, x.steps = top, depth, steps }()
	v, err := fn()
	if err == nil || errors.Is(err, errSuspended) {
		return v, err
	}
	fault, ok := AsFault(err)
	if !ok {
		fault = &Fault{Err: err, Function: x.frameName(top), ScriptStack: x.scriptStack()}
	}
	x.reportFault(fault)
	return object.Value{}, fault
}

func (x *Interpreter) reportFault(f *Fault) {
	if errors.Is(f.Err, ErrFrameAborted) {
		log.Info("frame aborted", "function", f.Function, "pc", f.PC)
	} else {
		log.Warning("script fault",
			"function", f.Function,
			"pc", f.PC,
			"line", f.Line,
			"error", f.Err.Error(),
			"depth", len(f.ScriptStack))
	}
	for _, fn := range x.onFault {
		fn(f)
	}
}

// ---------------------------------------------------------------------------
// Frame management
// ---------------------------------------------------------------------------

func (x *Interpreter) push(f *Frame) error {
	if x.depth >= x.cfg.MaxCallDepth {
		return fmt.Errorf("%w: %d frames", ErrStackOverflow, x.depth)
	}
	f.Caller = x.top
	x.top = f
	x.depth++
	return nil
}

func (x *Interpreter) pop(f *Frame) {
	x.top = f.Caller
	f.Caller = nil
	x.depth--
}

// packageOf returns the package owning a reflection object.
func (x *Interpreter) packageOf(s *object.Struct) *engine.Package {
	if s == nil || s.Field == nil || s.Field.Object == nil {
		return nil
	}
	return x.m.PackageOf(s.Field.Object.Handle)
}

// newFrame prepares a frame running fn on obj.
func (x *Interpreter) newFrame(obj *object.Object, fn *object.Function, locals *object.Storage) *Frame {
	return &Frame{
		Function: fn,
		Node:     &fn.Struct,
		Object:   obj,
		Locals:   locals,
		Line:     fn.Line,
		pkg:      x.packageOf(&fn.Struct),
		code:     fn.Script,
	}
}

// invoke runs a script function to completion and copies out parameters
// back to their locations.
func (x *Interpreter) invoke(obj *object.Object, fn *object.Function, locals *object.Storage, outs []outArg) (object.Value, error) {
	ret := fn.ReturnValue()
	if len(fn.Script) > 0 {
		f := x.newFrame(obj, fn, locals)
		if err := x.push(f); err != nil {
			return object.Value{}, x.fault(x.top, err)
		}
		err := x.run(f)
		x.pop(f)
		if err != nil {
			return object.Value{}, err
		}
	}
	for _, o := range outs {
		if err := o.lv.set(locals.Get(o.param, 0)); err != nil {
			log.Warning("out parameter not stored", "function", x.nodeName(&fn.Struct), "error", err.Error())
		}
	}
	if ret == nil {
		return object.Value{}, nil
	}
	return locals.Get(ret, 0), nil
}

// ---------------------------------------------------------------------------
// Main interpreter loop
// ---------------------------------------------------------------------------

// run executes statements until the frame returns, stops, suspends or
// faults. A frame that has been aborted by cancellation faults at its next
// statement.
func (x *Interpreter) run(f *Frame) error {
	if f.State == FrameAborted {
		return x.fault(f, ErrFrameAborted)
	}
	f.State = FrameRunning
	for !f.done && !f.yield {
		if f.State == FrameAborted {
			return x.fault(f, ErrFrameAborted)
		}
		if f.PC >= len(f.code) {
			break
		}
		if err := x.step(f); err != nil {
			if errors.Is(err, errSuspended) {
				return err
			}
			f.State = FrameAborted
			if _, ok := AsFault(err); ok {
				return err
			}
			return x.fault(f, err)
		}
	}
	if f.State == FrameAborted {
		return x.fault(f, ErrFrameAborted)
	}
	f.yield = false
	if f.done || f.PC >= len(f.code) {
		f.State = FrameReturned
	}
	return nil
}

// charge counts one dispatch step against the runaway budget.
func (x *Interpreter) charge() error {
	x.steps++
	if x.cfg.RunawayLimit > 0 && x.steps > x.cfg.RunawayLimit {
		return fmt.Errorf("%w: %d statements", ErrRunaway, x.cfg.RunawayLimit)
	}
	return nil
}

// step executes one statement.
func (x *Interpreter) step(f *Frame) error {
	if err := x.charge(); err != nil {
		return err
	}
	in, err := Decode(f.code, f.PC)
	if err != nil {
		return err
	}
	f.stmtPC = in.PC
	f.PC = in.Next()
	info := &opTable[in.Op]
	switch {
	case info.eval != nil:
		_, err = info.eval(x, f, &in)
	case info.addr != nil:
		_, err = info.addr(x, f, &in)
	default:
		err = fmt.Errorf("%w: %s as statement at 0x%04X", ErrBadOpcode, info.name, in.PC)
	}
	return err
}

// eval evaluates the expression at the frame's PC.
func (x *Interpreter) eval(f *Frame) (object.Value, error) {
	in, err := Decode(f.code, f.PC)
	if err != nil {
		return object.Value{}, err
	}
	f.PC = in.Next()
	info := &opTable[in.Op]
	if info.stmt {
		return object.Value{}, fmt.Errorf("%w: %s inside expression at 0x%04X", ErrBadOpcode, info.name, in.PC)
	}
	f.nest++
	defer func() { f.nest-- }()
	switch {
	case info.eval != nil:
		return info.eval(x, f, &in)
	case info.addr != nil:
		lv, err := info.addr(x, f, &in)
		if err != nil {
			return object.Value{}, err
		}
		return lv.get(), nil
	}
	return object.Value{}, fmt.Errorf("%w: unexpected %s at 0x%04X", ErrBadOpcode, info.name, in.PC)
}

// addr evaluates the location expression at the frame's PC.
func (x *Interpreter) addr(f *Frame) (lvalue, error) {
	in, err := Decode(f.code, f.PC)
	if err != nil {
		return lvalue{}, err
	}
	f.PC = in.Next()
	info := &opTable[in.Op]
	if info.addr == nil {
		return lvalue{}, fmt.Errorf("%w: %s at 0x%04X", ErrNotAssignable, info.name, in.PC)
	}
	f.nest++
	defer func() { f.nest-- }()
	return info.addr(x, f, &in)
}

// peek returns the opcode at the frame's PC without consuming it.
func (x *Interpreter) peek(f *Frame) (Opcode, error) {
	if f.PC >= len(f.code) {
		return 0, fmt.Errorf("%w: script ends inside expression", ErrBadOpcode)
	}
	return Opcode(f.code[f.PC]), nil
}

// evalFree evaluates an expression with member context cleared, as required
// for call arguments and array indices.
func (x *Interpreter) evalFree(f *Frame) (object.Value, error) {
	saved := f.ctx
	f.ctx = nil
	v, err := x.eval(f)
	f.ctx = saved
	return v, err
}

// jump moves the frame to target after validating it.
func (x *Interpreter) jump(f *Frame, target int) error {
	if target < 0 || target > len(f.code) {
		return fmt.Errorf("%w: 0x%04X in %d bytes", ErrJumpOutOfRange, target, len(f.code))
	}
	f.PC = target
	return nil
}

// ---------------------------------------------------------------------------
// Faults
// ---------------------------------------------------------------------------

// fault wraps err raised while f executes, capturing the call stack.
func (x *Interpreter) fault(f *Frame, err error) *Fault {
	if fault, ok := AsFault(err); ok {
		return fault
	}
	ft := &Fault{Err: err, ScriptStack: x.scriptStack()}
	if f != nil {
		ft.Function = x.frameName(f)
		ft.PC = f.stmtPC
		ft.Line = f.Line
	}
	return ft
}

// ---------------------------------------------------------------------------
// Reference resolution
// ---------------------------------------------------------------------------

// object resolves a script reference of f's package. Unresolvable imports
// yield nil; the manager reports them once.
func (x *Interpreter) object(f *Frame, ref pkgfile.Ref) (*object.Object, error) {
	if ref.IsNull() {
		return nil, nil
	}
	if f.pkg == nil {
		return nil, fmt.Errorf("%w: reference %s in script without package", ErrBadOpcode, ref)
	}
	key := refKey{pkg: f.pkg.Index, ref: ref}
	if o, ok := x.refs[key]; ok {
		return o, nil
	}
	o, err := x.m.Resolve(f.pkg, ref)
	if err != nil && !engine.IsUnresolved(err) {
		return nil, err
	}
	x.refs[key] = o
	return o, nil
}

func (x *Interpreter) property(f *Frame, ref pkgfile.Ref) (*object.Property, error) {
	o, err := x.object(f, ref)
	if err != nil || o == nil {
		return nil, err
	}
	if o.Field == nil || o.Field.Kind != object.FieldProperty {
		return nil, fmt.Errorf("%w: %s is not a property", ErrBadOpcode, f.pkg.RefString(ref))
	}
	return o.Field.Property, nil
}

func (x *Interpreter) classOf(o *object.Object) *object.Class {
	if o == nil || o.Field == nil || o.Field.Kind != object.FieldClass {
		return nil
	}
	return o.Field.Class
}

func (x *Interpreter) name(f *Frame, i int32) object.Name {
	if f.pkg == nil {
		return object.NameNone
	}
	return f.pkg.LocalName(i)
}

// findFunction finds name on obj, in its state first when useState is set.
func findFunction(obj *object.Object, name object.Name, useState bool) *object.Function {
	if obj == nil {
		return nil
	}
	if useState && obj.State != nil {
		if fn := obj.State.FindFunction(name); fn != nil {
			return fn
		}
	}
	if obj.Class == nil {
		return nil
	}
	return obj.Class.FindFunction(name)
}

// ---------------------------------------------------------------------------
// Cancellation
// ---------------------------------------------------------------------------

// release aborts frames and drops cached state referring to objects that
// are being destroyed or unloaded.
func (x *Interpreter) release(ev engine.Release) {
	dying := func(f *Frame) bool {
		if f.Object != nil && ev.Dying(f.Object.Handle) {
			return true
		}
		return f.Node != nil && f.Node.Field != nil && f.Node.Field.Object != nil &&
			ev.Dying(f.Node.Field.Object.Handle)
	}

	// Every frame called from a dying frame is aborted with it.
	var stack []*Frame
	for f := x.top; f != nil; f = f.Caller {
		stack = append(stack, f)
	}
	last := -1
	for i, f := range stack {
		if dying(f) {
			last = i
		}
	}
	for i := 0; i <= last; i++ {
		stack[i].State = FrameAborted
	}

	x.sched.release(ev, dying)
	x.natives.release(ev)
	for k, o := range x.refs {
		if (ev.Package != nil && k.pkg == ev.Package.Index) || (o != nil && ev.Dying(o.Handle)) {
			delete(x.refs, k)
		}
	}
}
