package vm

import (
	"errors"
	"testing"

	"github.com/chazu/surreal/object"
)

// ---------------------------------------------------------------------------
// Inspection tests
// ---------------------------------------------------------------------------

func TestCallStackAndLocals(t *testing.T) {
	fx := newFixture(t, DefaultConfig())

	if result := fx.mustCall("Probe"); result.AsInt() != 5 {
		t.Errorf("result = %d, want 5", result.AsInt())
	}
	if len(fx.stack) != 1 {
		t.Fatalf("stack = %+v, want 1 frame", fx.stack)
	}
	top := fx.stack[0]
	if top.Function != "Test.Actor.Probe" {
		t.Errorf("function = %q, want Test.Actor.Probe", top.Function)
	}
	if top.Line != 11 {
		t.Errorf("line = %d, want 11", top.Line)
	}
	if top.State != "running" {
		t.Errorf("state = %q, want running", top.State)
	}

	want := []Variable{
		{Name: "ReturnValue", Type: "Int", Value: "0"},
		{Name: "Tmp", Type: "Int", Value: "5"},
	}
	if len(fx.locals) != len(want) {
		t.Fatalf("locals = %+v, want %d", fx.locals, len(want))
	}
	for i, w := range want {
		if fx.locals[i] != w {
			t.Errorf("locals[%d] = %+v, want %+v", i, fx.locals[i], w)
		}
	}
	if fx.x.CallStack() != nil {
		t.Error("call stack not empty after return")
	}
}

func TestDescribeObject(t *testing.T) {
	fx := newFixture(t, DefaultConfig())
	fx.set(fx.self, "Counter", object.IntValue(3))

	vars := fx.x.DescribeObject(fx.self)
	byName := make(map[string]Variable)
	for i, v := range vars {
		byName[v.Name] = v
		if i > 0 && vars[i-1].Name > v.Name {
			t.Errorf("variables not sorted: %q before %q", vars[i-1].Name, v.Name)
		}
	}
	tests := []struct {
		name, typ, value string
	}{
		{"Counter", "Int", "3"},
		{"Health", "Int", "100"},
		{"Label", "Str", `"actor"`},
		{"Other", "Object", "None"},
		{"Slots[2]", "Int", "0"},
		{"Scores", "Array", "()"},
	}
	for _, tt := range tests {
		v, ok := byName[tt.name]
		if !ok {
			t.Errorf("%s missing", tt.name)
			continue
		}
		if v.Type != tt.typ || v.Value != tt.value {
			t.Errorf("%s = %s %s, want %s %s", tt.name, v.Type, v.Value, tt.typ, tt.value)
		}
	}
}

// ---------------------------------------------------------------------------
// DebugServer tests
// ---------------------------------------------------------------------------

func TestBreakpointHit(t *testing.T) {
	fx := newFixture(t, DefaultConfig())
	d := NewDebugServer(fx.x)

	id := d.SetBreakpoint("Test.Actor.Probe", 11)
	if again := d.SetBreakpoint("test.actor.probe", 11); again != id {
		t.Errorf("duplicate breakpoint id = %d, want %d", again, id)
	}
	fx.mustCall("Probe")

	select {
	case ev := <-d.Events():
		if ev.Type != "breakpointHit" {
			t.Errorf("event = %q, want breakpointHit", ev.Type)
		}
		if len(ev.Stack) != 1 || ev.Stack[0].Line != 11 {
			t.Errorf("stack = %+v, want Probe at line 11", ev.Stack)
		}
	default:
		t.Fatal("no event sent")
	}

	bps := d.ListBreakpoints()
	if len(bps) != 1 || bps[0].Hits != 1 {
		t.Errorf("breakpoints = %+v, want one with one hit", bps)
	}

	d.RemoveBreakpoint("Test.Actor.Probe", 11)
	fx.mustCall("Probe")
	select {
	case ev := <-d.Events():
		t.Errorf("unexpected event %+v", ev)
	default:
	}
}

func TestFaultEvent(t *testing.T) {
	fx := newFixture(t, DefaultConfig())
	d := NewDebugServer(fx.x)

	if _, err := fx.call("L1"); err == nil {
		t.Fatal("L1 returned no error")
	}
	select {
	case ev := <-d.Events():
		if ev.Type != "fault" {
			t.Errorf("event = %q, want fault", ev.Type)
		}
		if ev.Fault == nil || !errors.Is(ev.Fault, ErrDivideByZero) {
			t.Errorf("fault = %v, want ErrDivideByZero", ev.Fault)
		}
	default:
		t.Fatal("no event sent")
	}
}

func TestEventsDroppedWhenNotDrained(t *testing.T) {
	fx := newFixture(t, DefaultConfig())
	d := NewDebugServer(fx.x)
	d.SetBreakpoint("Test.Actor.Probe", 10)

	for i := 0; i < 40; i++ {
		fx.mustCall("Probe")
	}
	if n := len(d.Events()); n != cap(d.events) {
		t.Errorf("queued = %d, want %d", n, cap(d.events))
	}
	if bps := d.ListBreakpoints(); bps[0].Hits != 40 {
		t.Errorf("hits = %d, want 40", bps[0].Hits)
	}
}
