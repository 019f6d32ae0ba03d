package vm

import (
	"fmt"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/chazu/surreal/engine"
	"github.com/chazu/surreal/object"
)

// ---------------------------------------------------------------------------
// Native function table
// ---------------------------------------------------------------------------

// NativeFunc implements a native function. Arguments and out parameters are
// accessed through the call; the returned value is coerced to the
// function's return type.
type NativeFunc func(c *NativeCall) (object.Value, error)

// NativeDecl is a host implementation of a native function, keyed by the
// declaring class and function name.
type NativeDecl struct {
	Class    string
	Function string
	// Arity is the number of declared parameters, or -1 to accept any.
	Arity int
	Fn    NativeFunc
}

// binding links a loaded native function to its implementation. decl is nil
// when the content declares a native the host does not provide.
type binding struct {
	decl  *NativeDecl
	fn    *object.Function
	class string
	name  string
	err   error
}

type nativeKey struct {
	class, function string
}

// NativeTable maps native functions to host implementations.
type NativeTable struct {
	decls   map[nativeKey]*NativeDecl
	byIndex map[uint16]*binding
	byFunc  map[*object.Function]*binding
}

// NewNativeTable creates an empty table.
func NewNativeTable() *NativeTable {
	return &NativeTable{
		decls:   make(map[nativeKey]*NativeDecl),
		byIndex: make(map[uint16]*binding),
		byFunc:  make(map[*object.Function]*binding),
	}
}

func keyOf(class, function string) nativeKey {
	return nativeKey{strings.ToLower(class), strings.ToLower(function)}
}

// Declare registers the implementation of class.function. A later
// declaration for the same function replaces the earlier one.
func (t *NativeTable) Declare(class, function string, arity int, fn NativeFunc) {
	t.decls[keyOf(class, function)] = &NativeDecl{Class: class, Function: function, Arity: arity, Fn: fn}
}

// Declarations lists the registered implementations sorted by class and
// function.
func (t *NativeTable) Declarations() []NativeDecl {
	out := make([]NativeDecl, 0, len(t.decls))
	for _, d := range t.decls {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Class != out[j].Class {
			return out[i].Class < out[j].Class
		}
		return out[i].Function < out[j].Function
	})
	return out
}

// Bind links the native functions declared by p to their implementations
// and returns the number bound. Natives without an implementation stay
// callable and fault with ErrNativeNotImplemented.
func (t *NativeTable) Bind(p *engine.Package) int {
	m := p.Manager()
	names := m.Names()
	bound, missing := 0, 0
	p.Objects(func(o *object.Object) bool {
		if o.Field == nil || o.Field.Kind != object.FieldFunction || !o.Field.Function.IsNative() {
			return true
		}
		fn := o.Field.Function
		class := ownerClass(m, o)
		b := &binding{fn: fn, class: names.String(class), name: names.String(o.Name)}
		if d := t.decls[keyOf(b.class, b.name)]; d != nil {
			b.decl = d
			if n := len(fn.Params()); d.Arity >= 0 && d.Arity != n {
				b.err = fmt.Errorf("%w: %s.%s declares %d parameters, host implements %d",
					ErrArityMismatch, b.class, b.name, n, d.Arity)
				log.Warning("native arity mismatch", "class", b.class, "function", b.name, "declared", n, "implemented", d.Arity)
			}
			bound++
		} else {
			missing++
			log.Debug("native not implemented", "class", b.class, "function", b.name, "index", fn.Native)
		}
		t.byFunc[fn] = b
		if fn.Native != 0 {
			if prev := t.byIndex[fn.Native]; prev != nil && prev.fn != fn {
				log.Debug("native index rebound", "index", fn.Native, "was", prev.class+"."+prev.name, "now", b.class+"."+b.name)
			}
			t.byIndex[fn.Native] = b
		}
		return true
	})
	if bound+missing > 0 {
		log.Info("bound natives", "package", p.String(), "bound", bound, "missing", missing)
	}
	return bound
}

// ownerClass returns the name of the class a function is declared in,
// looking through enclosing states.
func ownerClass(m *engine.Manager, o *object.Object) object.Name {
	for cur := m.Object(o.Outer); cur != nil; cur = m.Object(cur.Outer) {
		if cur.Field != nil && cur.Field.Kind == object.FieldClass {
			return cur.Name
		}
	}
	return object.NameNone
}

func (t *NativeTable) forFunction(fn *object.Function) *binding {
	if b := t.byFunc[fn]; b != nil {
		return b
	}
	if fn.Native != 0 {
		return t.byIndex[fn.Native]
	}
	return nil
}

// release forgets bindings of functions being unloaded.
func (t *NativeTable) release(ev engine.Release) {
	dying := func(b *binding) bool {
		return b.fn.Field != nil && b.fn.Field.Object != nil && ev.Dying(b.fn.Field.Object.Handle)
	}
	for fn, b := range t.byFunc {
		if dying(b) {
			delete(t.byFunc, fn)
		}
	}
	for i, b := range t.byIndex {
		if dying(b) {
			delete(t.byIndex, i)
		}
	}
}

// ---------------------------------------------------------------------------
// NativeCall: Argument access for native implementations
// ---------------------------------------------------------------------------

type nativeArg struct {
	val     object.Value
	lv      *lvalue
	lazy    int
	omitted bool
	out     bool
	set     bool
}

// NativeCall is the context of one native invocation.
type NativeCall struct {
	Self     *object.Object
	Function *object.Function

	x    *Interpreter
	f    *Frame
	args []nativeArg
	err  error
}

// Interpreter returns the interpreter running the call.
func (c *NativeCall) Interpreter() *Interpreter { return c.x }

// Names returns the name table.
func (c *NativeCall) Names() *object.NameTable { return c.x.names }

// Len returns the number of argument slots, including omitted ones.
func (c *NativeCall) Len() int { return len(c.args) }

// Omitted reports whether argument i was not supplied.
func (c *NativeCall) Omitted(i int) bool { return i >= len(c.args) || c.args[i].omitted }

// Arg returns argument i. Lazily passed arguments are evaluated on first
// access; an argument that is never read is never evaluated.
func (c *NativeCall) Arg(i int) object.Value {
	if i < 0 || i >= len(c.args) {
		return object.Value{}
	}
	a := &c.args[i]
	if a.lazy >= 0 && c.f != nil {
		saved := c.f.PC
		c.f.PC = a.lazy
		v, err := c.x.evalFree(c.f)
		c.f.PC = saved
		a.lazy = -1
		if err != nil {
			if c.err == nil {
				c.err = err
			}
			return object.Value{}
		}
		a.val = v
	}
	return a.val
}

func (c *NativeCall) Int(i int) int32     { return c.Arg(i).AsInt() }
func (c *NativeCall) Float(i int) float32 { return c.Arg(i).AsFloat() }
func (c *NativeCall) Bool(i int) bool     { return c.Arg(i).AsBool() }
func (c *NativeCall) Name(i int) object.Name {
	return c.Arg(i).Name
}
func (c *NativeCall) Str(i int) string { return c.Arg(i).Str }

// Object returns the live object passed as argument i, or nil.
func (c *NativeCall) Object(i int) *object.Object {
	v := c.Arg(i)
	if v.Kind != object.ValObject && v.Kind != object.ValClass {
		return nil
	}
	return c.x.m.Object(v.Handle)
}

// Class returns the class passed as argument i, or nil.
func (c *NativeCall) Class(i int) *object.Class {
	return c.x.classOf(c.Object(i))
}

// SetOut stores v into out parameter i.
func (c *NativeCall) SetOut(i int, v object.Value) {
	if i < 0 || i >= len(c.args) {
		return
	}
	c.args[i].val = v
	c.args[i].set = true
}

// Err returns the first error raised while reading arguments.
func (c *NativeCall) Err() error { return c.err }

// Suspend parks the calling state frame until w clears. The native must
// return the error it gets back. Only a statement of state code may
// suspend; elsewhere the call faults with ErrLatentInExpression.
func (c *NativeCall) Suspend(w WaitCondition) error {
	f := c.f
	if f == nil || !f.stateCode || f.nest != 0 || c.x.top != f {
		return fmt.Errorf("%w: %s", ErrLatentInExpression, c.x.nodeName(&c.Function.Struct))
	}
	f.Resume = &ResumeToken{PC: f.PC, Depth: f.nest, Wait: w}
	f.State = FrameSuspended
	return errSuspended
}

// Invoke calls fn on obj from native code. It is a native boundary: a fault
// inside it is returned to the caller without unwinding the frames that
// called the native.
func (c *NativeCall) Invoke(obj *object.Object, fn *object.Function, args ...object.Value) (object.Value, error) {
	return c.x.CallFunction(obj, fn, args...)
}

// ---------------------------------------------------------------------------
// Native dispatch
// ---------------------------------------------------------------------------

// outArg is an out parameter copied back after a script function returns.
type outArg struct {
	param *object.Property
	lv    lvalue
}

func (x *Interpreter) checkBinding(fn *object.Function, b *binding) error {
	if b == nil || b.decl == nil {
		return fmt.Errorf("%w: %s", ErrNativeNotImplemented, x.nodeName(&fn.Struct))
	}
	return b.err
}

// callNative reads a native call's arguments from f's script and invokes
// the implementation.
func (x *Interpreter) callNative(f *Frame, self *object.Object, fn *object.Function, b *binding) (object.Value, error) {
	if err := x.checkBinding(fn, b); err != nil {
		return object.Value{}, err
	}
	params := fn.Params()
	c := &NativeCall{Self: self, Function: fn, x: x, f: f, args: make([]nativeArg, len(params))}
	for i := range c.args {
		c.args[i] = nativeArg{lazy: -1, omitted: true, out: params[i].Flags.Has(object.PropOutParm)}
	}
	for i := 0; ; i++ {
		op, err := x.peek(f)
		if err != nil {
			return object.Value{}, err
		}
		if op == OpEndFunctionParms {
			f.PC++
			break
		}
		if i >= len(params) {
			return object.Value{}, fmt.Errorf("%w: %s takes %d arguments",
				ErrArityMismatch, x.nodeName(&fn.Struct), len(params))
		}
		a := &c.args[i]
		switch {
		case op == OpNothing:
			f.PC++
		case op == OpSkip:
			in, err := Decode(f.code, f.PC)
			if err != nil {
				return object.Value{}, err
			}
			a.lazy = in.Next()
			a.omitted = false
			if err := x.jump(f, in.Next()+int(in.Target)); err != nil {
				return object.Value{}, err
			}
		case a.out:
			saved := f.ctx
			f.ctx = nil
			lv, err := x.addr(f)
			f.ctx = saved
			if err != nil {
				return object.Value{}, err
			}
			a.lv = &lv
			a.val = lv.get()
			a.omitted = false
		default:
			v, err := x.evalFree(f)
			if err != nil {
				return object.Value{}, err
			}
			a.val = v
			a.omitted = false
		}
	}

	v, err := x.dispatch(c, b.decl.Fn)
	if err != nil {
		return object.Value{}, err
	}
	var last *nativeArg
	for i := range c.args {
		a := &c.args[i]
		if a.lv == nil {
			continue
		}
		last = a
		if a.set {
			if err := a.lv.set(a.val); err != nil {
				log.Warning("out parameter not stored", "function", x.nodeName(&fn.Struct), "error", err.Error())
			}
		}
	}
	if fn.Flags.Has(object.FuncIterator) {
		it := &iterState{elems: v.Elems}
		if last != nil {
			it.out = *last.lv
		}
		f.pendingIter = it
	}
	return coerceReturn(fn, v), nil
}

// dispatchDirect invokes a native with host supplied values.
func (x *Interpreter) dispatchDirect(self *object.Object, fn *object.Function, b *binding, args []object.Value) (object.Value, error) {
	if err := x.checkBinding(fn, b); err != nil {
		return object.Value{}, err
	}
	params := fn.Params()
	if len(args) > len(params) {
		return object.Value{}, fmt.Errorf("%w: %s takes %d arguments, got %d",
			ErrArityMismatch, x.nodeName(&fn.Struct), len(params), len(args))
	}
	c := &NativeCall{Self: self, Function: fn, x: x, args: make([]nativeArg, len(params))}
	for i := range c.args {
		c.args[i] = nativeArg{lazy: -1, omitted: i >= len(args), out: params[i].Flags.Has(object.PropOutParm)}
		if i < len(args) {
			c.args[i].val = args[i]
		}
	}
	v, err := x.dispatch(c, b.decl.Fn)
	if err != nil {
		return object.Value{}, err
	}
	return coerceReturn(fn, v), nil
}

// dispatch runs a native implementation. A panic is converted into a fault
// carrying the native stack.
func (x *Interpreter) dispatch(c *NativeCall, fn NativeFunc) (v object.Value, err error) {
	top, depth := x.top, x.depth
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		x.top, x.depth = top, depth
		fault := x.fault(c.f, fmt.Errorf("native %s panicked: %v", x.nodeName(&c.Function.Struct), r))
		fault.NativeStack = debug.Stack()
		v, err = object.Value{}, fault
	}()
	v, err = fn(c)
	if err == nil {
		err = c.err
	}
	return v, err
}

func coerceReturn(fn *object.Function, v object.Value) object.Value {
	ret := fn.ReturnValue()
	if ret == nil {
		return object.Value{}
	}
	return coerceElem(ret, v)
}
