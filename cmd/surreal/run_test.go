package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/surreal/engine"
	"github.com/chazu/surreal/object"
	"github.com/chazu/surreal/pkgfile"
	"github.com/chazu/surreal/vm"
)

func TestParseValue(t *testing.T) {
	m := engine.NewManager(engine.Config{})
	names := m.Names()

	tests := []struct {
		kind object.PropertyKind
		word string
		want string
	}{
		{object.PropInt, "42", "42"},
		{object.PropInt, "0x10", "16"},
		{object.PropByte, "255", "255"},
		{object.PropBool, "true", "True"},
		{object.PropStr, "hello", `"hello"`},
		{object.PropName, "Walking", "'Walking'"},
		{object.PropObject, "None", "obj(none)"},
	}
	for _, tt := range tests {
		v, err := parseValue(m, &object.Property{Kind: tt.kind, ArrayDim: 1}, tt.word)
		if err != nil {
			t.Errorf("parseValue(%s, %q) error: %v", tt.kind, tt.word, err)
			continue
		}
		if got := v.Format(names); got != tt.want {
			t.Errorf("parseValue(%s, %q) = %s, want %s", tt.kind, tt.word, got, tt.want)
		}
	}
}

func TestParseValueErrors(t *testing.T) {
	m := engine.NewManager(engine.Config{})
	if _, err := parseValue(m, &object.Property{Kind: object.PropInt}, "ten"); err == nil {
		t.Error("parseValue accepted a non-integer")
	}
	if _, err := parseValue(m, &object.Property{Kind: object.PropByte}, "256"); err == nil {
		t.Error("parseValue accepted a byte out of range")
	}
	_, err := parseValue(m, &object.Property{Kind: object.PropStruct}, "x")
	if !errors.Is(err, errUnsupportedArg) {
		t.Errorf("struct argument err = %v, want %v", err, errUnsupportedArg)
	}
}

// demoPackage builds package Demo with a Calc class whose script functions
// call the built-in integer natives.
func demoPackage() *engine.PackageBuilder {
	b := engine.NewPackageBuilder("Demo")
	base := b.Class("Object", pkgfile.NullRef)
	for i, name := range []string{"Add_IntInt", "Divide_IntInt"} {
		fn := base.Function(name, object.FuncFinal|object.FuncOperator).Native(uint16(0x90 + i))
		fn.Param("A", object.PropInt)
		fn.Param("B", object.PropInt)
		fn.Return(object.PropInt)
	}

	calc := b.Class("Calc", base.Ref)
	sum := calc.Function("Sum", 0)
	a, bp := sum.Param("A", object.PropInt), sum.Param("B", object.PropInt)
	sum.Return(object.PropInt)
	asm := vm.NewAssembler()
	asm.Return().Native(0x90).Local(a).Local(bp).EndParms()
	sum.Script(asm.MustBytes())

	div := calc.Function("Div", 0)
	n, d := div.Param("N", object.PropInt), div.Param("D", object.PropInt)
	div.Return(object.PropInt)
	asm = vm.NewAssembler()
	asm.Return().Native(0x91).Local(n).Local(d).EndParms()
	div.Script(asm.MustBytes())
	return b
}

func TestRunClass(t *testing.T) {
	dir := t.TempDir()
	if _, err := demoPackage().WriteFile(dir); err != nil {
		t.Fatalf("write package: %v", err)
	}
	env := &environment{extra: []string{dir}}

	tests := []struct {
		name       string
		opts       runOptions
		wantErr    error
		wantStdout string
		wantStderr string
	}{
		{
			name:       "return value printed",
			opts:       runOptions{class: "Demo.Calc", function: "Sum", args: []string{"2", "40"}},
			wantStdout: "42\n",
		},
		{
			name:       "fault reported",
			opts:       runOptions{class: "Demo.Calc", function: "Div", args: []string{"1", "0"}},
			wantErr:    errScriptFault,
			wantStderr: "divide by zero",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := runClass(env, tt.opts, &stdout, &stderr)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("runClass err = %v, want %v", err, tt.wantErr)
			}
			if got := stdout.String(); got != tt.wantStdout {
				t.Errorf("stdout = %q, want %q", got, tt.wantStdout)
			}
			if !strings.Contains(stderr.String(), tt.wantStderr) {
				t.Errorf("stderr = %q, want it to contain %q", stderr.String(), tt.wantStderr)
			}
		})
	}
}

func TestRunClassErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := demoPackage().WriteFile(dir); err != nil {
		t.Fatalf("write package: %v", err)
	}
	env := &environment{extra: []string{dir}}

	tests := []runOptions{
		{class: "Demo.Missing"},
		{class: "Demo.Calc", function: "Nope"},
		{class: "Demo.Calc", function: "Sum", args: []string{"two"}},
		{class: "Demo.Calc", ticks: 1},
	}
	for _, o := range tests {
		var stdout, stderr bytes.Buffer
		err := runClass(env, o, &stdout, &stderr)
		if err == nil || errors.Is(err, errScriptFault) {
			t.Errorf("runClass(%+v) err = %v, want a usage error", o, err)
		}
	}
}
