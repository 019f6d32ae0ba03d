package vm

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/surreal/object"
)

// ---------------------------------------------------------------------------
// Opcode metadata tests
// ---------------------------------------------------------------------------

func TestOpcodeInfo(t *testing.T) {
	tests := []struct {
		op   Opcode
		name string
		size int
	}{
		{OpLocalVariable, "LocalVariable", 0},
		{OpReturn, "Return", 0},
		{OpJump, "Jump", 2},
		{OpJumpIfNot, "JumpIfNot", 2},
		{OpLet, "Let", 0},
		{OpIntConst, "IntConst", 4},
		{OpIntConstByte, "IntConstByte", 1},
		{OpFloatConst, "FloatConst", 4},
		{OpContext, "Context", 3},
		{OpSkip, "Skip", 2},
		{OpLineNumber, "LineNumber", 2},
		{OpPrimitiveCast, "PrimitiveCast", 1},
		{OpEndFunctionParms, "EndFunctionParms", 0},
	}
	for _, tt := range tests {
		if tt.op.Name() != tt.name {
			t.Errorf("%02X name = %q, want %q", byte(tt.op), tt.op.Name(), tt.name)
		}
		if !tt.op.Valid() {
			t.Errorf("%s not valid", tt.name)
		}
		if tt.size == 0 {
			continue
		}
		// Operands are zero bytes, which decode for every token but Local
		// and friends (not listed with a size).
		code := make([]byte, 1+tt.size)
		code[0] = byte(tt.op)
		in, err := Decode(code, 0)
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if in.Size != 1+tt.size {
			t.Errorf("%s size = %d, want %d", tt.name, in.Size, 1+tt.size)
		}
	}
	if Opcode(0x03).Valid() {
		t.Error("0x03 should be undefined")
	}
	if got := Opcode(0x03).Name(); got != "UNKNOWN_03" {
		t.Errorf("name = %q, want UNKNOWN_03", got)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		pc   int
		want error
	}{
		{"undefined opcode", []byte{0x03}, 0, ErrBadOpcode},
		{"truncated int", []byte{byte(OpIntConst), 0x01}, 0, ErrBadOpcode},
		{"truncated jump", []byte{byte(OpJump), 0x01}, 0, ErrBadOpcode},
		{"pc past end", []byte{byte(OpStop)}, 4, ErrJumpOutOfRange},
		{"negative pc", []byte{byte(OpStop)}, -1, ErrJumpOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.code, tt.pc); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Assembler tests
// ---------------------------------------------------------------------------

func TestAssemblerIntForms(t *testing.T) {
	tests := []struct {
		v  int32
		op Opcode
	}{
		{0, OpIntZero},
		{1, OpIntOne},
		{200, OpIntConstByte},
		{-1, OpIntConst},
		{70000, OpIntConst},
	}
	for _, tt := range tests {
		code := NewAssembler().Int(tt.v).MustBytes()
		in, err := Decode(code, 0)
		if err != nil {
			t.Fatalf("Decode(%d): %v", tt.v, err)
		}
		if in.Op != tt.op {
			t.Errorf("Int(%d) op = %s, want %s", tt.v, in.Op, tt.op)
		}
		if in.Size != len(code) {
			t.Errorf("Int(%d) size = %d, want %d", tt.v, in.Size, len(code))
		}
		if tt.op != OpIntZero && tt.op != OpIntOne && in.Int != tt.v {
			t.Errorf("Int(%d) decoded %d", tt.v, in.Int)
		}
	}
}

func TestAssemblerNativeTokens(t *testing.T) {
	tests := []struct {
		index uint16
		size  int
	}{
		{0x70, 1},
		{0xFF, 1},
		{0x20, 2},
		{0x190, 2},
		{0xFFF, 2},
	}
	for _, tt := range tests {
		code := NewAssembler().Native(tt.index).MustBytes()
		in, err := Decode(code, 0)
		if err != nil {
			t.Fatalf("Decode native %d: %v", tt.index, err)
		}
		if in.Native != tt.index {
			t.Errorf("native = %d, want %d", in.Native, tt.index)
		}
		if in.Size != tt.size {
			t.Errorf("native %d size = %d, want %d", tt.index, in.Size, tt.size)
		}
	}
}

func TestAssemblerForwardLabels(t *testing.T) {
	a := NewAssembler()
	end := a.NewLabel()
	a.JumpIfNot(end).True()
	a.Stop()
	a.Mark(end).Return().Nothing()
	code := a.MustBytes()

	in, err := Decode(code, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if int(in.Target) != end.Position() {
		t.Errorf("target = %d, want %d", in.Target, end.Position())
	}
	if end.Position() != 5 {
		t.Errorf("label = %d, want 5", end.Position())
	}

	b := NewAssembler()
	b.Jump(b.NewLabel())
	if _, err := b.Bytes(); err == nil {
		t.Error("unmarked label accepted")
	}
}

func TestAssemblerSkipRegions(t *testing.T) {
	a := NewAssembler()
	a.Context(object.ValInt).Self().Instance(0).EndContext()
	a.Skip().Int(200).EndSkip()
	code := a.MustBytes()

	ctx, err := Decode(code, 0)
	if err != nil {
		t.Fatalf("Decode context: %v", err)
	}
	// Self (1) plus InstanceVariable with its reference.
	if ctx.Next()+int(ctx.Target) != len(code)-5 {
		t.Errorf("context skips to %d, want %d", ctx.Next()+int(ctx.Target), len(code)-5)
	}
	if ctx.Kind != object.ValInt {
		t.Errorf("kind = %s, want int", ctx.Kind)
	}
	skip, err := Decode(code, len(code)-5)
	if err != nil {
		t.Fatalf("Decode skip: %v", err)
	}
	if skip.Op != OpSkip || skip.Target != 2 {
		t.Errorf("skip = %s %d, want Skip 2", skip.Op, skip.Target)
	}

	open := NewAssembler().Skip()
	if _, err := open.Bytes(); err == nil {
		t.Error("unclosed skip accepted")
	}
}

func TestLabelTableRoundTrip(t *testing.T) {
	a := NewAssembler()
	begin, second := a.NewLabel(), a.NewLabel()
	a.Mark(begin).Stop()
	a.Mark(second).Stop()
	off := a.Len()
	a.LabelTable(LabelRef{Name: 4, Label: begin}, LabelRef{Name: 9, Label: second})
	code := a.MustBytes()

	in, err := Decode(code, off)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []LabelEntry{{Name: 4, Offset: 0}, {Name: 9, Offset: 1}}
	if len(in.Labels) != len(want) {
		t.Fatalf("labels = %v, want %v", in.Labels, want)
	}
	for i, w := range want {
		if in.Labels[i] != w {
			t.Errorf("label %d = %+v, want %+v", i, in.Labels[i], w)
		}
	}
}

// ---------------------------------------------------------------------------
// Disassembly tests
// ---------------------------------------------------------------------------

func TestDisassembleFunction(t *testing.T) {
	fx := newFixture(t, DefaultConfig())
	fn := fx.function("Sum")

	out := Disassemble(fn.Script, fx.pkg)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	want := []string{"Return", "Native 144", "LocalVariable", "LocalVariable", "EndFunctionParms"}
	if len(lines) != len(want) {
		t.Fatalf("disassembly:\n%s\nwant %d lines", out, len(want))
	}
	for i, w := range want {
		if !strings.Contains(lines[i], w) {
			t.Errorf("line %d = %q, want %q", i, lines[i], w)
		}
	}
	if !strings.HasPrefix(lines[0], "0000  ") {
		t.Errorf("line 0 = %q, want offset prefix", lines[0])
	}
	if !strings.Contains(lines[2], "A") || !strings.Contains(lines[3], "B") {
		t.Errorf("locals not named: %q %q", lines[2], lines[3])
	}
}

func TestDisassembleStopsAtBadToken(t *testing.T) {
	code := NewAssembler().Stop().Raw(0x03, byte(OpStop)).MustBytes()
	out := Disassemble(code, nil)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("disassembly:\n%s\nwant 2 lines", out)
	}
	if !strings.Contains(lines[1], "!!") {
		t.Errorf("line 1 = %q, want error marker", lines[1])
	}
}

func TestDisassembleWithoutSymbols(t *testing.T) {
	code := NewAssembler().GotoLabel().NameConst(3).MustBytes()
	out := Disassemble(code, nil)
	if !strings.Contains(out, "NameConst name#3") {
		t.Errorf("disassembly = %q, want raw name index", out)
	}
}
