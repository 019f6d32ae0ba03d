package vm

import (
	"testing"

	"github.com/chazu/surreal/engine"
	"github.com/chazu/surreal/object"
	"github.com/chazu/surreal/pkgfile"
)

// ---------------------------------------------------------------------------
// Test package
// ---------------------------------------------------------------------------

// Native indices used by the Test package.
const (
	natAdd         uint16 = 0x90
	natSubtract    uint16 = 0x91
	natLess        uint16 = 0x92
	natDivide      uint16 = 0x93
	natAndAnd      uint16 = 0x94
	natIncrement   uint16 = 0x95
	natLog         uint16 = 0x96
	natGotoState   uint16 = 0x97
	natConcat      uint16 = 0x98
	natAllObjects  uint16 = 0x99
	natEqual       uint16 = 0x9A
	natTeleport    uint16 = 0x9B
	natCaps        uint16 = 0x9C
	natSleep       uint16 = 0x9D
	natDestroy     uint16 = 0x9E
	natRecover     uint16 = 0xA0
	natExplode     uint16 = 0xA1
	natInspect     uint16 = 0xA2
	natUnbound     uint16 = 0xEE
	natMultiply    uint16 = 0x0190
)

func script(fn *engine.StructBuilder, body func(a *Assembler)) {
	a := NewAssembler()
	body(a)
	fn.Script(a.MustBytes())
}

// stateCode assembles a state script. at marks a label at the current
// offset; the label table is appended after the body.
func stateCode(b *engine.PackageBuilder, st *engine.StructBuilder, body func(a *Assembler, at func(name string))) {
	a := NewAssembler()
	var refs []LabelRef
	at := func(name string) {
		l := a.NewLabel()
		a.Mark(l)
		refs = append(refs, LabelRef{Name: b.Name(name), Label: l})
	}
	body(a, at)
	off := a.Len()
	a.LabelTable(refs...)
	st.Script(a.MustBytes()).LabelTable(uint16(off))
}

// testPackage builds package Test: Object declares the operator natives and
// Actor adds properties, script functions and states exercising them.
func testPackage() *engine.PackageBuilder {
	b := engine.NewPackageBuilder("Test")
	base := b.Class("Object", pkgfile.NullRef)

	operator := func(name string, idx uint16, kind, ret object.PropertyKind) {
		fn := base.Function(name, object.FuncFinal|object.FuncOperator).Native(idx)
		fn.Param("A", kind)
		fn.Param("B", kind)
		fn.Return(ret)
	}
	operator("Add_IntInt", natAdd, object.PropInt, object.PropInt)
	operator("Subtract_IntInt", natSubtract, object.PropInt, object.PropInt)
	operator("Less_IntInt", natLess, object.PropInt, object.PropBool)
	operator("Divide_IntInt", natDivide, object.PropInt, object.PropInt)
	operator("EqualEqual_IntInt", natEqual, object.PropInt, object.PropBool)
	operator("Concat_StrStr", natConcat, object.PropStr, object.PropStr)
	operator("Multiply_IntInt", natMultiply, object.PropInt, object.PropInt)

	and := base.Function("AndAnd_BoolBool", object.FuncFinal|object.FuncOperator).Native(natAndAnd)
	and.Param("A", object.PropBool)
	and.Param("B", object.PropBool, engine.WithFlags(object.PropSkipParm))
	and.Return(object.PropBool)

	inc := base.Function("AddAdd_PreInt", object.FuncFinal|object.FuncOperator).Native(natIncrement)
	inc.Param("A", object.PropInt, engine.WithFlags(object.PropOutParm))
	inc.Return(object.PropInt)

	logFn := base.Function("Log", object.FuncFinal).Native(natLog)
	logFn.Param("S", object.PropStr)

	gs := base.Function("GotoState", object.FuncFinal).Native(natGotoState)
	gs.Param("NewState", object.PropName)
	gs.Param("Label", object.PropName, engine.WithFlags(object.PropOptionalParm))

	all := base.Function("AllObjects", object.FuncFinal|object.FuncIterator).Native(natAllObjects)
	all.Param("BaseClass", object.PropClass, engine.WithClass(base.Ref))
	all.Param("Obj", object.PropObject, engine.WithClass(base.Ref), engine.WithFlags(object.PropOutParm))

	base.Function("Teleport", object.FuncFinal).Native(natTeleport)

	// Declares one parameter more than the host implements.
	caps := base.Function("Caps", object.FuncFinal).Native(natCaps)
	caps.Param("S", object.PropStr)
	caps.Param("Extra", object.PropStr)
	caps.Return(object.PropStr)

	// Actor
	actor := b.Class("Actor", base.Ref)
	health := actor.Property("Health", object.PropInt)
	counter := actor.Property("Counter", object.PropInt)
	label := actor.Property("Label", object.PropStr)
	scores := actor.Property("Scores", object.PropArray, engine.WithElem(object.PropInt))
	other := actor.Property("Other", object.PropObject, engine.WithClass(actor.Ref))
	flag := actor.Property("Flag", object.PropBool)
	slots := actor.Property("Slots", object.PropInt, engine.WithDim(3))
	actor.Default(
		engine.P("Health", engine.IntVal(100)),
		engine.P("Label", engine.StrVal("actor")),
	)

	sleep := actor.Function("Sleep", object.FuncFinal|object.FuncLatent).Native(natSleep)
	sleep.Param("Seconds", object.PropFloat)
	destroy := actor.Function("Destroy", object.FuncFinal).Native(natDestroy)
	destroy.Return(object.PropBool)
	recoverFn := actor.Function("CallAndRecover", object.FuncFinal).Native(natRecover)
	recoverFn.Return(object.PropInt)
	actor.Function("Explode", object.FuncFinal).Native(natExplode)
	actor.Function("Inspect", object.FuncFinal).Native(natInspect)

	sum := actor.Function("Sum", 0)
	sumA := sum.Param("A", object.PropInt)
	sumB := sum.Param("B", object.PropInt)
	sum.Return(object.PropInt)
	script(sum, func(a *Assembler) {
		a.Return().Native(natAdd).Local(sumA).Local(sumB).EndParms()
	})

	// Outer calls L1 through a native boundary; L3 divides by zero.
	l3 := actor.Function("L3", 0)
	l3.Return(object.PropInt)
	script(l3, func(a *Assembler) {
		a.Line(30)
		a.Return().Native(natDivide).Int(1).Int(0).EndParms()
	})
	l2 := actor.Function("L2", 0)
	l2.Return(object.PropInt)
	script(l2, func(a *Assembler) { a.Return().Final(l3.Ref).EndParms() })
	l1 := actor.Function("L1", 0)
	l1.Return(object.PropInt)
	script(l1, func(a *Assembler) { a.Return().Final(l2.Ref).EndParms() })
	outer := actor.Function("Outer", 0)
	outer.Return(object.PropInt)
	outerR := outer.Local("R", object.PropInt)
	script(outer, func(a *Assembler) {
		a.Let().Local(outerR).Native(natRecover).EndParms()
		a.Return().Native(natAdd).Local(outerR).Int(1).EndParms()
	})

	bump := actor.Function("Bump", 0)
	bumpV := bump.Param("V", object.PropInt, engine.WithFlags(object.PropOutParm))
	script(bump, func(a *Assembler) {
		a.Let().Local(bumpV).Native(natAdd).Local(bumpV).Int(10).EndParms()
	})
	callBump := actor.Function("CallBump", 0)
	callBump.Return(object.PropInt)
	script(callBump, func(a *Assembler) {
		a.Final(bump.Ref).Instance(counter).EndParms()
		a.Return().Instance(counter)
	})

	increment := actor.Function("Increment", 0)
	increment.Return(object.PropInt)
	script(increment, func(a *Assembler) {
		a.Native(natIncrement).Instance(health).EndParms()
		a.Return().Instance(health)
	})

	lazy := func(name string, first bool) {
		fn := actor.Function(name, 0)
		fn.Return(object.PropBool)
		script(fn, func(a *Assembler) {
			a.Return().Native(natAndAnd).Bool(first).
				Skip().Native(natDivide).Int(1).Int(0).EndParms().EndSkip().
				EndParms()
		})
	}
	lazy("LazySafe", false)
	lazy("LazyEager", true)

	pick := actor.Function("Pick", 0)
	pickN := pick.Param("N", object.PropInt)
	pick.Return(object.PropInt)
	script(pick, func(a *Assembler) {
		next1, next2 := a.NewLabel(), a.NewLabel()
		a.Switch().Local(pickN)
		a.Case(next1).Int(1)
		a.Return().Int(10)
		a.Mark(next1).Case(next2).Int(2)
		a.Return().Int(20)
		a.Mark(next2).CaseDefault()
		a.Return().Int(99)
	})

	otherHealth := actor.Function("OtherHealth", 0)
	otherHealth.Return(object.PropInt)
	script(otherHealth, func(a *Assembler) {
		a.Return().Context(object.ValInt).Instance(other).Instance(health).EndContext()
	})

	defaultHealth := actor.Function("DefaultHealth", 0)
	defaultHealth.Return(object.PropInt)
	script(defaultHealth, func(a *Assembler) {
		a.Return().ClassContext(object.ValInt).Object(actor.Ref).Default(health).EndContext()
	})

	countActors := actor.Function("CountActors", 0)
	countActors.Return(object.PropInt)
	count := countActors.Local("Count", object.PropInt)
	each := countActors.Local("Each", object.PropObject, engine.WithClass(actor.Ref))
	script(countActors, func(a *Assembler) {
		end := a.NewLabel()
		a.Iterator(end).Native(natAllObjects).Object(actor.Ref).Local(each).EndParms()
		a.Let().Local(count).Native(natAdd).Local(count).Int(1).EndParms()
		a.IteratorNext()
		a.Mark(end).IteratorPop()
		a.Return().Local(count)
	})

	nap := actor.Function("Nap", 0)
	script(nap, func(a *Assembler) {
		a.Native(natSleep).Float(0.1).EndParms()
	})

	spin := actor.Function("Spin", 0)
	script(spin, func(a *Assembler) {
		top := a.NewLabel()
		a.Mark(top).Jump(top)
	})

	countTo := actor.Function("CountTo", 0)
	countN := countTo.Param("N", object.PropInt)
	countTo.Return(object.PropInt)
	countI := countTo.Local("I", object.PropInt)
	script(countTo, func(a *Assembler) {
		top, end := a.NewLabel(), a.NewLabel()
		a.Mark(top).JumpIfNot(end).Native(natLess).Local(countI).Local(countN).EndParms()
		a.Let().Local(countI).Native(natAdd).Local(countI).Int(1).EndParms()
		a.Jump(top)
		a.Mark(end).Return().Local(countI)
	})

	recurse := actor.Function("Recurse", 0)
	recurse.Return(object.PropInt)
	script(recurse, func(a *Assembler) { a.Return().Final(recurse.Ref).EndParms() })

	boom := actor.Function("Boom", 0)
	script(boom, func(a *Assembler) { a.Native(natExplode).EndParms() })

	shout := actor.Function("Shout", 0)
	shout.Return(object.PropStr)
	script(shout, func(a *Assembler) {
		a.Return().Native(natCaps).String("a").String("b").EndParms()
	})

	extra := actor.Function("Extra", 0)
	extra.Return(object.PropInt)
	script(extra, func(a *Assembler) {
		a.Return().Final(sum.Ref).Int(1).Int(2).Int(3).EndParms()
	})

	teleport := actor.Function("CallTeleport", 0)
	script(teleport, func(a *Assembler) { a.Native(natTeleport).EndParms() })

	probe := actor.Function("Probe", 0)
	probe.Return(object.PropInt)
	tmp := probe.Local("Tmp", object.PropInt)
	script(probe, func(a *Assembler) {
		a.Line(10)
		a.Let().Local(tmp).Int(5)
		a.Line(11)
		a.Native(natInspect).EndParms()
		a.Return().Local(tmp)
	})

	grow := actor.Function("GrowScores", 0)
	grow.Return(object.PropInt)
	script(grow, func(a *Assembler) {
		a.Let().DynArrayElement().Int(2).Instance(scores).Int(5)
		a.Return().DynArrayLength().Instance(scores)
	})

	setSlot := actor.Function("SetSlot", 0)
	setSlot.Return(object.PropInt)
	script(setSlot, func(a *Assembler) {
		a.Let().ArrayElement().Int(5).Instance(slots).Int(9)
		a.Return().ArrayElement().Int(2).Instance(slots)
	})

	badJump := actor.Function("BadJump", 0)
	script(badJump, func(a *Assembler) { a.Raw(byte(OpJump), 0xFF, 0x00) })

	// The case jumps back onto itself.
	selfCase := actor.Function("SelfCase", 0)
	script(selfCase, func(a *Assembler) {
		a.Raw(byte(OpSwitch), byte(OpIntOne), byte(OpCase), 0x02, 0x00, byte(OpIntZero), byte(OpStop))
	})

	manyCases := actor.Function("ManyCases", 0)
	manyCases.Return(object.PropInt)
	script(manyCases, func(a *Assembler) {
		a.Switch().Int(1)
		for i := 0; i < 20; i++ {
			next := a.NewLabel()
			a.Case(next).Int(0)
			a.Return().Int(int32(i))
			a.Mark(next)
		}
		a.CaseDefault()
		a.Return().Int(-1)
	})

	greet := actor.Function("Greet", 0)
	greet.Return(object.PropStr)
	script(greet, func(a *Assembler) {
		a.Return().Native(natConcat).Instance(label).String("!").EndParms()
	})

	describe := actor.Function("Describe", 0)
	describe.Return(object.PropStr)
	script(describe, func(a *Assembler) { a.Return().Cast(object.ValStr).Instance(health) })

	product := actor.Function("Product", 0)
	product.Return(object.PropInt)
	script(product, func(a *Assembler) {
		a.Return().Native(natMultiply).Int(20).Int(22).EndParms()
	})

	rest := actor.Function("Rest", 0)
	script(rest, func(a *Assembler) {
		a.Native(natGotoState).NameConst(b.Name("Working")).Nothing().EndParms()
	})

	beginState := actor.Function("BeginState", object.FuncEvent)
	script(beginState, func(a *Assembler) { a.LetBool().Instance(flag).True() })

	// States
	stateCode(b, actor.State("Working", 0), func(a *Assembler, at func(string)) {
		at("Begin")
		a.Let().Instance(counter).Int(1)
		a.Native(natSleep).Float(0.5).EndParms()
		a.Let().Instance(counter).Int(2)
		a.Stop()
	})
	stateCode(b, actor.State("Jumping", 0), func(a *Assembler, at func(string)) {
		at("Begin")
		a.Let().Instance(counter).Int(1)
		a.GotoLabel().NameConst(b.Name("Second"))
		a.Let().Instance(counter).Int(99)
		at("Second")
		a.Let().Instance(health).Int(7)
		a.Stop()
	})
	stateCode(b, actor.State("Bad", 0), func(a *Assembler, at func(string)) {
		at("Begin")
		a.Let().Instance(counter).Native(natSleep).Float(0.1).EndParms()
	})
	stateCode(b, actor.State("Doomed", 0), func(a *Assembler, at func(string)) {
		at("Begin")
		a.Native(natSleep).Float(1).EndParms()
		a.Let().Instance(counter).Int(5)
	})
	stateCode(b, actor.State("SelfDestruct", 0), func(a *Assembler, at func(string)) {
		at("Begin")
		a.Native(natDestroy).EndParms()
		a.Let().Instance(counter).Int(3)
	})
	return b
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	t     *testing.T
	m     *engine.Manager
	x     *Interpreter
	table *NativeTable
	pkg   *engine.Package
	actor *object.Class
	self  *object.Object

	recovered  *Fault
	depthAfter int
	stack      []StackFrame
	locals     []Variable
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	dir := t.TempDir()
	if _, err := testPackage().WriteFile(dir); err != nil {
		t.Fatalf("write package: %v", err)
	}
	fx := &fixture{t: t, m: engine.NewManager(engine.Config{SearchPaths: []string{dir}})}
	fx.table = NewNativeTable()
	RegisterBuiltins(fx.table)
	fx.declareTestNatives()
	fx.x = NewInterpreter(fx.m, fx.table, cfg)

	var err error
	if fx.pkg, err = fx.m.LoadPackage("Test"); err != nil {
		t.Fatalf("LoadPackage: %v", err)
	}
	if fx.actor, err = fx.m.FindClass("Test.Actor"); err != nil {
		t.Fatalf("FindClass: %v", err)
	}
	fx.self = fx.spawn("A0")
	return fx
}

func (fx *fixture) declareTestNatives() {
	fx.table.Declare(ClassActor, "CallAndRecover", 0, func(c *NativeCall) (object.Value, error) {
		fn := c.Self.Class.FindFunction(c.Names().Intern("L1"))
		_, err := c.Invoke(c.Self, fn)
		fx.recovered, _ = AsFault(err)
		fx.depthAfter = c.Interpreter().Depth()
		return object.IntValue(41), nil
	})
	fx.table.Declare(ClassActor, "Explode", 0, func(c *NativeCall) (object.Value, error) {
		panic("boom")
	})
	fx.table.Declare(ClassActor, "Inspect", 0, func(c *NativeCall) (object.Value, error) {
		x := c.Interpreter()
		fx.stack = x.CallStack()
		fx.locals = x.Locals(x.Frame(0))
		return object.Value{}, nil
	})
}

func (fx *fixture) spawn(name string) *object.Object {
	return fx.m.NewObject(fx.actor, object.NoHandle, name)
}

func (fx *fixture) call(name string, args ...object.Value) (object.Value, error) {
	return fx.x.Call(fx.self, name, args...)
}

func (fx *fixture) mustCall(name string, args ...object.Value) object.Value {
	fx.t.Helper()
	v, err := fx.call(name, args...)
	if err != nil {
		fx.t.Fatalf("%s: %v", name, err)
	}
	return v
}

func (fx *fixture) prop(name string) *object.Property {
	fx.t.Helper()
	p, ok := fx.actor.FindProperty(fx.m.Names().Intern(name))
	if !ok {
		fx.t.Fatalf("property %s not found", name)
	}
	return p
}

func (fx *fixture) get(o *object.Object, name string) object.Value {
	return o.Storage.Get(fx.prop(name), 0)
}

func (fx *fixture) set(o *object.Object, name string, v object.Value) {
	fx.t.Helper()
	if err := o.Storage.Set(fx.prop(name), 0, v); err != nil {
		fx.t.Fatalf("set %s: %v", name, err)
	}
}

func (fx *fixture) function(name string) *object.Function {
	fx.t.Helper()
	fn := fx.actor.FindFunction(fx.m.Names().Intern(name))
	if fn == nil {
		fx.t.Fatalf("function %s not found", name)
	}
	return fn
}
