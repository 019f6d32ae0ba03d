package vm

import (
	"fmt"
	"strconv"

	"github.com/chazu/surreal/object"
)

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

func addrLocal(x *Interpreter, f *Frame, in *Instr) (lvalue, error) {
	p, err := x.property(f, in.Ref)
	if err != nil {
		return lvalue{}, err
	}
	if p == nil || f.Locals == nil {
		return lvalue{}, fmt.Errorf("%w: local variable outside function at 0x%04X", ErrBadOpcode, in.PC)
	}
	return lvalue{kind: lvProp, st: f.Locals, prop: p}, nil
}

func addrInstance(x *Interpreter, f *Frame, in *Instr) (lvalue, error) {
	p, err := x.property(f, in.Ref)
	if err != nil {
		return lvalue{}, err
	}
	obj := f.context()
	if p == nil || obj == nil || obj.Storage == nil {
		return discard(object.ZeroValue(p)), nil
	}
	return lvalue{kind: lvProp, st: obj.Storage, prop: p}, nil
}

func addrDefault(x *Interpreter, f *Frame, in *Instr) (lvalue, error) {
	p, err := x.property(f, in.Ref)
	if err != nil {
		return lvalue{}, err
	}
	obj := f.context()
	var defaults *object.Storage
	if c := x.classOf(obj); c != nil {
		defaults = c.Defaults
	} else if obj != nil && obj.Class != nil {
		defaults = obj.Class.Defaults
	}
	if p == nil || defaults == nil {
		return discard(object.ZeroValue(p)), nil
	}
	return lvalue{kind: lvProp, st: defaults, prop: p}, nil
}

// addrBool marks the following variable as a bool for LetBool.
func addrBool(x *Interpreter, f *Frame, _ *Instr) (lvalue, error) {
	return x.addr(f)
}

// location returns the location of the following expression, or a
// temporary holding its value when it is not assignable.
func (x *Interpreter) location(f *Frame) (lvalue, error) {
	op, err := x.peek(f)
	if err != nil {
		return lvalue{}, err
	}
	if opTable[op].addr != nil {
		return x.addr(f)
	}
	v, err := x.eval(f)
	if err != nil {
		return lvalue{}, err
	}
	return discard(v), nil
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func execReturn(x *Interpreter, f *Frame, _ *Instr) (object.Value, error) {
	op, err := x.peek(f)
	if err != nil {
		return object.Value{}, err
	}
	if op == OpNothing {
		f.PC++
	} else {
		v, err := x.eval(f)
		if err != nil {
			return object.Value{}, err
		}
		if f.Function != nil && f.Locals != nil {
			if ret := f.Function.ReturnValue(); ret != nil {
				if err := f.Locals.Set(ret, 0, coerceElem(ret, v)); err != nil {
					return object.Value{}, err
				}
			}
		}
	}
	f.done = true
	return object.Value{}, nil
}

func execStop(_ *Interpreter, f *Frame, _ *Instr) (object.Value, error) {
	f.done = true
	return object.Value{}, nil
}

func execJump(x *Interpreter, f *Frame, in *Instr) (object.Value, error) {
	return object.Value{}, x.jump(f, int(in.Target))
}

func execJumpIfNot(x *Interpreter, f *Frame, in *Instr) (object.Value, error) {
	v, err := x.eval(f)
	if err != nil {
		return object.Value{}, err
	}
	if !v.AsBool() {
		return object.Value{}, x.jump(f, int(in.Target))
	}
	return object.Value{}, nil
}

func execAssert(x *Interpreter, f *Frame, in *Instr) (object.Value, error) {
	v, err := x.eval(f)
	if err != nil {
		return object.Value{}, err
	}
	if !v.AsBool() {
		return object.Value{}, fmt.Errorf("%w at line %d", ErrAssertion, in.Int)
	}
	return object.Value{}, nil
}

func execLineNumber(x *Interpreter, f *Frame, in *Instr) (object.Value, error) {
	f.Line = in.Int
	if x.debug != nil {
		x.debug.line(f)
	}
	return object.Value{}, nil
}

// execSwitch evaluates the switch value and then tests the Case tokens that
// follow it until one matches or the default case is reached. Each case test
// is charged as a step and must jump forward.
func execSwitch(x *Interpreter, f *Frame, _ *Instr) (object.Value, error) {
	v, err := x.eval(f)
	if err != nil {
		return object.Value{}, err
	}
	for {
		if err := x.charge(); err != nil {
			return object.Value{}, err
		}
		in, err := Decode(f.code, f.PC)
		if err != nil {
			return object.Value{}, err
		}
		if in.Op != OpCase {
			// No case matched and there is no default.
			return object.Value{}, nil
		}
		f.PC = in.Next()
		if in.Target == caseDefault {
			return object.Value{}, nil
		}
		if int(in.Target) <= in.PC {
			return object.Value{}, fmt.Errorf("%w: case at 0x%04X jumps back to 0x%04X", ErrJumpOutOfRange, in.PC, in.Target)
		}
		cv, err := x.eval(f)
		if err != nil {
			return object.Value{}, err
		}
		if v.Equal(cv) {
			return object.Value{}, nil
		}
		if err := x.jump(f, int(in.Target)); err != nil {
			return object.Value{}, err
		}
	}
}

// execCase runs when a case body falls through onto the next case.
func execCase(x *Interpreter, f *Frame, in *Instr) (object.Value, error) {
	if in.Target == caseDefault {
		return object.Value{}, nil
	}
	_, err := x.eval(f)
	return object.Value{}, err
}

func execLet(x *Interpreter, f *Frame, in *Instr) (object.Value, error) {
	lv, err := x.addr(f)
	if err != nil {
		return object.Value{}, err
	}
	v, err := x.eval(f)
	if err != nil {
		return object.Value{}, err
	}
	if in.Op == OpLetBool {
		v = object.BoolValue(v.AsBool())
	}
	if err := lv.set(v); err != nil {
		log.Warning("assignment failed", "function", x.frameName(f), "pc", in.PC, "error", err.Error())
	}
	return object.Value{}, nil
}

func execGotoLabel(x *Interpreter, f *Frame, _ *Instr) (object.Value, error) {
	v, err := x.eval(f)
	if err != nil {
		return object.Value{}, err
	}
	if !f.stateCode {
		return object.Value{}, fmt.Errorf("%w: goto outside state code", ErrNoStateCode)
	}
	st := f.Object.State
	if st == nil {
		return object.Value{}, ErrNoStateCode
	}
	if !x.enterLabel(f, st, v.Name) {
		log.Warning("label not found", "object", x.objectName(f.Object), "label", x.names.String(v.Name))
		f.done = true
	}
	return object.Value{}, nil
}

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

func superState(st *object.State) *object.State {
	sup := st.Super()
	if sup == nil || sup.Field == nil {
		return nil
	}
	return sup.Field.State
}

// findLabel looks label up in st's label table and in the tables of the
// states it extends.
func (x *Interpreter) findLabel(st *object.State, label object.Name) (*object.State, int, bool) {
	for s := st; s != nil; s = superState(s) {
		if len(s.Script) == 0 {
			continue
		}
		in, err := Decode(s.Script, int(s.LabelTableOffset))
		if err != nil || in.Op != OpLabelTable {
			continue
		}
		p := x.packageOf(&s.Struct)
		if p == nil {
			continue
		}
		for _, e := range in.Labels {
			if p.LocalName(e.Name) == label {
				return s, int(e.Offset), true
			}
		}
	}
	return nil, 0, false
}

// enterLabel points a state frame at label, switching to the script of the
// state that declares it.
func (x *Interpreter) enterLabel(f *Frame, st *object.State, label object.Name) bool {
	s, off, ok := x.findLabel(st, label)
	if !ok {
		return false
	}
	f.Node = &s.Struct
	f.code = s.Script
	f.pkg = x.packageOf(&s.Struct)
	f.PC = off
	f.iters = nil
	return true
}

// ---------------------------------------------------------------------------
// Iterators
// ---------------------------------------------------------------------------

func execIterator(x *Interpreter, f *Frame, in *Instr) (object.Value, error) {
	f.pendingIter = nil
	if _, err := x.eval(f); err != nil {
		return object.Value{}, err
	}
	it := f.pendingIter
	f.pendingIter = nil
	if it == nil {
		return object.Value{}, fmt.Errorf("%w: foreach over non-iterator at 0x%04X", ErrBadOpcode, in.PC)
	}
	it.body = f.PC
	it.end = int(in.Target)
	f.iters = append(f.iters, *it)
	return object.Value{}, x.iterNext(f)
}

func execIteratorNext(x *Interpreter, f *Frame, in *Instr) (object.Value, error) {
	if len(f.iters) == 0 {
		return object.Value{}, fmt.Errorf("%w: IteratorNext outside foreach at 0x%04X", ErrBadOpcode, in.PC)
	}
	return object.Value{}, x.iterNext(f)
}

func execIteratorPop(_ *Interpreter, f *Frame, _ *Instr) (object.Value, error) {
	if n := len(f.iters); n > 0 {
		f.iters = f.iters[:n-1]
	}
	return object.Value{}, nil
}

// iterNext stores the next live element into the loop variable and enters
// the body, or leaves the loop at its IteratorPop.
func (x *Interpreter) iterNext(f *Frame) error {
	it := &f.iters[len(f.iters)-1]
	for it.pos < len(it.elems) {
		v := it.elems[it.pos]
		it.pos++
		if (v.Kind == object.ValObject || v.Kind == object.ValClass) && x.m.Object(v.Handle) == nil {
			continue
		}
		if err := it.out.set(v); err != nil {
			return err
		}
		return x.jump(f, it.body)
	}
	return x.jump(f, it.end)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func evalNothing(*Interpreter, *Frame, *Instr) (object.Value, error) { return object.Value{}, nil }

func evalEat(x *Interpreter, f *Frame, _ *Instr) (object.Value, error) {
	_, err := x.eval(f)
	return object.Value{}, err
}

func evalSelf(_ *Interpreter, f *Frame, _ *Instr) (object.Value, error) {
	if obj := f.context(); obj != nil {
		return object.ObjectValue(obj.Handle), nil
	}
	return object.ObjectValue(object.NoHandle), nil
}

// evalSkip evaluates a lazily passed argument eagerly.
func evalSkip(x *Interpreter, f *Frame, _ *Instr) (object.Value, error) {
	return x.eval(f)
}

func evalNew(x *Interpreter, f *Frame, in *Instr) (object.Value, error) {
	outer, err := x.evalFree(f)
	if err != nil {
		return object.Value{}, err
	}
	name, err := x.evalFree(f)
	if err != nil {
		return object.Value{}, err
	}
	cv, err := x.evalFree(f)
	if err != nil {
		return object.Value{}, err
	}
	class := x.classOf(x.m.Object(cv.Handle))
	if class == nil {
		log.Warning("new with invalid class", "function", x.frameName(f), "pc", in.PC)
		return object.ObjectValue(object.NoHandle), nil
	}
	obj := x.spawn(class, outer.Handle, name.Name)
	return object.ObjectValue(obj.Handle), nil
}

// spawn creates an instance of class, naming it after the class when no
// name is given.
func (x *Interpreter) spawn(class *object.Class, outer object.Handle, name object.Name) *object.Object {
	s := x.names.String(name)
	if name == object.NameNone {
		x.spawned++
		s = fmt.Sprintf("%s%d", x.names.String(class.Name()), x.spawned)
	}
	return x.m.NewObject(class, outer, s)
}

func zeroOf(kind object.ValueKind) object.Value {
	switch kind {
	case object.ValObject, object.ValClass:
		return object.Value{Kind: kind, Handle: object.NoHandle}
	}
	return object.Value{Kind: kind}
}

// member evaluates the member expression of a context access with ctx as
// the context object.
func (x *Interpreter) member(f *Frame, ctx *object.Object) (lvalue, error) {
	saved := f.ctx
	f.ctx = ctx
	lv, err := x.location(f)
	f.ctx = saved
	return lv, err
}

func (x *Interpreter) accessedNone(f *Frame, in *Instr) lvalue {
	log.Warning("accessed none", "function", x.frameName(f), "pc", in.PC, "line", f.Line)
	f.PC = in.Next() + int(in.Target)
	return discard(zeroOf(in.Kind))
}

func addrContext(x *Interpreter, f *Frame, in *Instr) (lvalue, error) {
	v, err := x.eval(f)
	if err != nil {
		return lvalue{}, err
	}
	obj := x.m.Object(v.Handle)
	if obj == nil {
		return x.accessedNone(f, in), nil
	}
	return x.member(f, obj)
}

// addrClassContext accesses the default object of a class.
func addrClassContext(x *Interpreter, f *Frame, in *Instr) (lvalue, error) {
	v, err := x.eval(f)
	if err != nil {
		return lvalue{}, err
	}
	co := x.m.Object(v.Handle)
	class := x.classOf(co)
	if class == nil {
		return x.accessedNone(f, in), nil
	}
	def := &object.Object{Handle: co.Handle, Name: co.Name, Class: class, Outer: co.Outer, Storage: class.Defaults, Field: co.Field}
	return x.member(f, def)
}

func evalMetaCast(x *Interpreter, f *Frame, in *Instr) (object.Value, error) {
	target, err := x.object(f, in.Ref)
	if err != nil {
		return object.Value{}, err
	}
	v, err := x.eval(f)
	if err != nil {
		return object.Value{}, err
	}
	c := x.classOf(x.m.Object(v.Handle))
	if c != nil && c.IsChildOf(x.classOf(target)) {
		return object.ClassValue(v.Handle), nil
	}
	return object.ClassValue(object.NoHandle), nil
}

func evalDynamicCast(x *Interpreter, f *Frame, in *Instr) (object.Value, error) {
	target, err := x.object(f, in.Ref)
	if err != nil {
		return object.Value{}, err
	}
	v, err := x.eval(f)
	if err != nil {
		return object.Value{}, err
	}
	o := x.m.Object(v.Handle)
	if o != nil && o.IsA(x.classOf(target)) {
		return object.ObjectValue(v.Handle), nil
	}
	return object.ObjectValue(object.NoHandle), nil
}

func evalStructCmp(x *Interpreter, f *Frame, in *Instr) (object.Value, error) {
	a, err := x.eval(f)
	if err != nil {
		return object.Value{}, err
	}
	b, err := x.eval(f)
	if err != nil {
		return object.Value{}, err
	}
	eq := a.Equal(b)
	if in.Op == OpStructCmpNe {
		eq = !eq
	}
	return object.BoolValue(eq), nil
}

func evalPrimitiveCast(x *Interpreter, f *Frame, in *Instr) (object.Value, error) {
	v, err := x.eval(f)
	if err != nil {
		return object.Value{}, err
	}
	return x.convert(v, in.Kind), nil
}

// convert applies a primitive conversion.
func (x *Interpreter) convert(v object.Value, to object.ValueKind) object.Value {
	switch to {
	case object.ValByte:
		return object.ByteValue(v.AsByte())
	case object.ValInt:
		return object.IntValue(v.AsInt())
	case object.ValBool:
		return object.BoolValue(v.AsBool())
	case object.ValFloat:
		return object.FloatValue(v.AsFloat())
	case object.ValStr:
		return object.StrValue(x.toString(v))
	case object.ValName:
		if v.Kind == object.ValName {
			return v
		}
		return object.NameValue(x.names.Intern(x.toString(v)))
	case object.ValObject, object.ValClass:
		return object.Value{Kind: to, Handle: v.Handle}
	}
	return v
}

func (x *Interpreter) toString(v object.Value) string {
	switch v.Kind {
	case object.ValStr:
		return v.Str
	case object.ValName:
		return x.names.String(v.Name)
	case object.ValByte, object.ValInt:
		return strconv.Itoa(int(v.Int))
	case object.ValFloat:
		return strconv.FormatFloat(float64(v.Float), 'f', 2, 32)
	case object.ValBool:
		if v.Int != 0 {
			return "True"
		}
		return "False"
	case object.ValObject, object.ValClass:
		if x.m.Object(v.Handle) == nil {
			return "None"
		}
		return x.m.Path(v.Handle)
	case object.ValNone:
		return ""
	}
	return v.Format(x.names)
}

// ---------------------------------------------------------------------------
// Arrays and struct members
// ---------------------------------------------------------------------------

// addrArrayElement indexes a fixed array: the index expression is followed
// by the array variable.
func addrArrayElement(x *Interpreter, f *Frame, in *Instr) (lvalue, error) {
	idx, err := x.evalFree(f)
	if err != nil {
		return lvalue{}, err
	}
	arr, err := x.addr(f)
	if err != nil {
		return lvalue{}, err
	}
	switch arr.kind {
	case lvDiscard:
		return arr, nil
	case lvProp, lvMember:
	default:
		return lvalue{}, fmt.Errorf("%w: element of non-array at 0x%04X", ErrNotAssignable, in.PC)
	}
	i, dim := int(idx.AsInt()), arr.prop.Dim()
	if i < 0 || i >= dim {
		clamped := min(max(i, 0), dim-1)
		log.Warning("array index out of bounds",
			"function", x.frameName(f),
			"index", i,
			"dim", dim,
			"property", x.names.String(arr.prop.Name()))
		i = clamped
	}
	arr.index = i
	return arr, nil
}

// addrDynElement indexes a dynamic array: the index expression is followed
// by the array location.
func addrDynElement(x *Interpreter, f *Frame, in *Instr) (lvalue, error) {
	idx, err := x.evalFree(f)
	if err != nil {
		return lvalue{}, err
	}
	arr, err := x.location(f)
	if err != nil {
		return lvalue{}, err
	}
	if arr.kind == lvDiscard && arr.zero.Kind != object.ValArray {
		return discard(object.Value{}), nil
	}
	var inner *object.Property
	if p := arr.property(); p != nil {
		if p.Kind != object.PropArray {
			return lvalue{}, fmt.Errorf("%w: dynamic element of %s at 0x%04X", ErrNotAssignable, p.Kind, in.PC)
		}
		inner = p.Inner
	}
	i := int(idx.AsInt())
	if n := len(arr.get().Elems); i < 0 || i >= n {
		log.Debug("dynamic array access beyond length", "function", x.frameName(f), "index", i, "length", n)
	}
	return lvalue{kind: lvElem, parent: &arr, prop: inner, elem: i}, nil
}

func addrDynLength(x *Interpreter, f *Frame, _ *Instr) (lvalue, error) {
	arr, err := x.location(f)
	if err != nil {
		return lvalue{}, err
	}
	return lvalue{kind: lvLength, parent: &arr}, nil
}

// addrStructMember selects a member of the struct expression that follows.
func addrStructMember(x *Interpreter, f *Frame, in *Instr) (lvalue, error) {
	p, err := x.property(f, in.Ref)
	if err != nil {
		return lvalue{}, err
	}
	parent, err := x.location(f)
	if err != nil {
		return lvalue{}, err
	}
	if p == nil {
		return discard(object.Value{}), nil
	}
	return lvalue{kind: lvMember, parent: &parent, prop: p}, nil
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

func evalIntConst(_ *Interpreter, _ *Frame, in *Instr) (object.Value, error) {
	return object.IntValue(in.Int), nil
}

func evalFloatConst(_ *Interpreter, _ *Frame, in *Instr) (object.Value, error) {
	return object.FloatValue(in.Float), nil
}

func evalStringConst(_ *Interpreter, _ *Frame, in *Instr) (object.Value, error) {
	return object.StrValue(in.Str), nil
}

func evalByteConst(_ *Interpreter, _ *Frame, in *Instr) (object.Value, error) {
	return object.ByteValue(uint8(in.Int)), nil
}

func evalNameConst(x *Interpreter, f *Frame, in *Instr) (object.Value, error) {
	return object.NameValue(x.name(f, in.Name)), nil
}

func evalObjectConst(x *Interpreter, f *Frame, in *Instr) (object.Value, error) {
	o, err := x.object(f, in.Ref)
	if err != nil {
		return object.Value{}, err
	}
	switch {
	case o == nil:
		return object.ObjectValue(object.NoHandle), nil
	case o.Field != nil && o.Field.Kind == object.FieldClass:
		return object.ClassValue(o.Handle), nil
	}
	return object.ObjectValue(o.Handle), nil
}

func evalIntZero(*Interpreter, *Frame, *Instr) (object.Value, error) { return object.IntValue(0), nil }
func evalIntOne(*Interpreter, *Frame, *Instr) (object.Value, error)  { return object.IntValue(1), nil }
func evalTrue(*Interpreter, *Frame, *Instr) (object.Value, error)    { return object.BoolValue(true), nil }
func evalFalse(*Interpreter, *Frame, *Instr) (object.Value, error)   { return object.BoolValue(false), nil }

func evalNoObject(*Interpreter, *Frame, *Instr) (object.Value, error) {
	return object.ObjectValue(object.NoHandle), nil
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func evalVirtualFunction(x *Interpreter, f *Frame, in *Instr) (object.Value, error) {
	return x.callByName(f, in, true)
}

func evalGlobalFunction(x *Interpreter, f *Frame, in *Instr) (object.Value, error) {
	return x.callByName(f, in, false)
}

func (x *Interpreter) callByName(f *Frame, in *Instr, useState bool) (object.Value, error) {
	name := x.name(f, in.Name)
	obj := f.context()
	fn := findFunction(obj, name, useState)
	if fn == nil {
		return object.Value{}, fmt.Errorf("%w: %s on %s", ErrFunctionNotFound, x.names.String(name), x.objectName(obj))
	}
	return x.call(f, obj, fn)
}

func evalFinalFunction(x *Interpreter, f *Frame, in *Instr) (object.Value, error) {
	o, err := x.object(f, in.Ref)
	if err != nil {
		return object.Value{}, err
	}
	if o == nil || o.Field == nil || o.Field.Kind != object.FieldFunction {
		return object.Value{}, fmt.Errorf("%w: %s", ErrFunctionNotFound, f.pkg.RefString(in.Ref))
	}
	return x.call(f, f.context(), o.Field.Function)
}

func evalNative(x *Interpreter, f *Frame, in *Instr) (object.Value, error) {
	b := x.natives.byIndex[in.Native]
	if b == nil {
		return object.Value{}, fmt.Errorf("%w: index %d", ErrNativeNotImplemented, in.Native)
	}
	return x.callNative(f, f.context(), b.fn, b)
}

// call invokes fn on obj with arguments read from f's script.
func (x *Interpreter) call(f *Frame, obj *object.Object, fn *object.Function) (object.Value, error) {
	if fn.IsNative() {
		return x.callNative(f, obj, fn, x.natives.forFunction(fn))
	}
	locals := object.NewStorage(fn.Layout())
	outs, err := x.bindArgs(f, fn, locals)
	if err != nil {
		return object.Value{}, err
	}
	return x.invoke(obj, fn, locals, outs)
}

// bindArgs evaluates call arguments in the caller's frame and stores them
// into the callee's locals. Omitted arguments keep their zero value.
func (x *Interpreter) bindArgs(f *Frame, fn *object.Function, locals *object.Storage) ([]outArg, error) {
	params := fn.Params()
	var outs []outArg
	for i := 0; ; i++ {
		op, err := x.peek(f)
		if err != nil {
			return nil, err
		}
		if op == OpEndFunctionParms {
			f.PC++
			return outs, nil
		}
		if i >= len(params) {
			return nil, fmt.Errorf("%w: %s takes %d arguments", ErrArityMismatch, x.nodeName(&fn.Struct), len(params))
		}
		p := params[i]
		switch {
		case op == OpNothing:
			f.PC++
			continue
		case op == OpSkip:
			in, err := Decode(f.code, f.PC)
			if err != nil {
				return nil, err
			}
			f.PC = in.Next()
		}
		if p.Flags.Has(object.PropOutParm) {
			saved := f.ctx
			f.ctx = nil
			lv, err := x.addr(f)
			f.ctx = saved
			if err != nil {
				return nil, err
			}
			if err := locals.Set(p, 0, lv.get()); err != nil {
				return nil, fmt.Errorf("argument %s: %w", x.names.String(p.Name()), err)
			}
			outs = append(outs, outArg{param: p, lv: lv})
			continue
		}
		v, err := x.evalFree(f)
		if err != nil {
			return nil, err
		}
		if err := locals.Set(p, 0, coerceElem(p, v)); err != nil {
			return nil, fmt.Errorf("argument %s: %w", x.names.String(p.Name()), err)
		}
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (x *Interpreter) objectName(o *object.Object) string {
	if o == nil {
		return "None"
	}
	if p := x.m.Path(o.Handle); p != "" {
		return p
	}
	return x.names.String(o.Name)
}

// nodeName returns the dotted path of a function or state.
func (x *Interpreter) nodeName(s *object.Struct) string {
	if s == nil || s.Field == nil || s.Field.Object == nil {
		return "?"
	}
	if p := x.m.Path(s.Field.Object.Handle); p != "" {
		return p
	}
	return x.names.String(s.Name())
}

func (x *Interpreter) frameName(f *Frame) string {
	if f == nil {
		return "native"
	}
	name := x.nodeName(f.Node)
	if f.stateCode {
		return "state " + name
	}
	return name
}
