package vm

import (
	"errors"
	"fmt"

	"github.com/chazu/surreal/object"
	"github.com/chazu/surreal/pkgfile"
)

// ---------------------------------------------------------------------------
// Assembler: Helper for constructing scripts
// ---------------------------------------------------------------------------

// Assembler emits script tokens. Because expressions are stored in prefix
// order, a statement is written by emitting its tokens left to right:
//
//	a.Let().Instance(health).Native(146).Instance(health).Int(1).EndParms()
//
// Names and references are package relative; callers obtain them from the
// package builder that will own the script.
type Assembler struct {
	e       *pkgfile.Encoder
	labels  []*Label
	pending []region
}

type region struct {
	pos   int
	start int
}

// Label is a code offset that may be referenced before it is marked.
type Label struct {
	resolved bool
	position int
	refs     []int
}

// LabelRef names a label for a state label table.
type LabelRef struct {
	Name  int32
	Label *Label
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{e: pkgfile.NewEncoder(pkgfile.DefaultVersion)}
}

// Len returns the current code offset.
func (a *Assembler) Len() int { return a.e.Len() }

// Bytes returns the script. Every label must be marked and every Context
// and Skip closed.
func (a *Assembler) Bytes() ([]byte, error) {
	for _, l := range a.labels {
		if !l.resolved && len(l.refs) > 0 {
			return nil, errors.New("vm: assembler: unmarked label")
		}
	}
	if len(a.pending) > 0 {
		return nil, fmt.Errorf("vm: assembler: %d unclosed skip regions", len(a.pending))
	}
	code := a.e.Bytes()
	if len(code) > 0xFFFF {
		return nil, fmt.Errorf("vm: assembler: script of %d bytes exceeds jump range", len(code))
	}
	return code, nil
}

// MustBytes is Bytes for fixtures; it panics on error.
func (a *Assembler) MustBytes() []byte {
	code, err := a.Bytes()
	if err != nil {
		panic(err)
	}
	return code
}

func (a *Assembler) op(op Opcode) *Assembler {
	a.e.U8(byte(op))
	return a
}

func (a *Assembler) patch(pos int, v uint16) {
	code := a.e.Bytes()
	code[pos] = byte(v)
	code[pos+1] = byte(v >> 8)
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// NewLabel creates an unresolved label.
func (a *Assembler) NewLabel() *Label {
	l := &Label{}
	a.labels = append(a.labels, l)
	return l
}

// Mark resolves a label to the current offset.
func (a *Assembler) Mark(l *Label) *Assembler {
	if l.resolved {
		panic("label already resolved")
	}
	l.resolved = true
	l.position = a.Len()
	for _, ref := range l.refs {
		a.patch(ref, uint16(l.position))
	}
	l.refs = nil
	return a
}

// Position returns the offset of a marked label.
func (l *Label) Position() int { return l.position }

func (a *Assembler) target(l *Label) {
	if l.resolved {
		a.e.U16(uint16(l.position))
		return
	}
	l.refs = append(l.refs, a.Len())
	a.e.U16(0)
}

// open starts a region whose byte size is patched into a u16 by close.
// extra operand bytes written after the size are not part of the region.
func (a *Assembler) open(extra int) {
	a.pending = append(a.pending, region{pos: a.Len(), start: a.Len() + 2 + extra})
	a.e.U16(0)
}

func (a *Assembler) close() *Assembler {
	if len(a.pending) == 0 {
		panic("no open skip region")
	}
	r := a.pending[len(a.pending)-1]
	a.pending = a.pending[:len(a.pending)-1]
	a.patch(r.pos, uint16(a.Len()-r.start))
	return a
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

func (a *Assembler) Local(prop pkgfile.Ref) *Assembler    { a.op(OpLocalVariable); a.e.Ref(prop); return a }
func (a *Assembler) Instance(prop pkgfile.Ref) *Assembler { a.op(OpInstanceVariable); a.e.Ref(prop); return a }
func (a *Assembler) Default(prop pkgfile.Ref) *Assembler  { a.op(OpDefaultVariable); a.e.Ref(prop); return a }
func (a *Assembler) BoolVar() *Assembler                  { return a.op(OpBoolVariable) }

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (a *Assembler) Return() *Assembler      { return a.op(OpReturn) }
func (a *Assembler) Switch() *Assembler      { return a.op(OpSwitch) }
func (a *Assembler) Stop() *Assembler        { return a.op(OpStop) }
func (a *Assembler) Nothing() *Assembler     { return a.op(OpNothing) }
func (a *Assembler) GotoLabel() *Assembler   { return a.op(OpGotoLabel) }
func (a *Assembler) EatString() *Assembler   { return a.op(OpEatString) }
func (a *Assembler) Let() *Assembler         { return a.op(OpLet) }
func (a *Assembler) LetBool() *Assembler     { return a.op(OpLetBool) }
func (a *Assembler) IteratorNext() *Assembler { return a.op(OpIteratorNxt) }
func (a *Assembler) IteratorPop() *Assembler { return a.op(OpIteratorPop) }

func (a *Assembler) Jump(l *Label) *Assembler      { a.op(OpJump); a.target(l); return a }
func (a *Assembler) JumpIfNot(l *Label) *Assembler { a.op(OpJumpIfNot); a.target(l); return a }

// Iterator starts a foreach loop whose IteratorPop is at end.
func (a *Assembler) Iterator(end *Label) *Assembler { a.op(OpIterator); a.target(end); return a }

// Case starts a case whose comparison fails over to next.
func (a *Assembler) Case(next *Label) *Assembler { a.op(OpCase); a.target(next); return a }

// CaseDefault starts the default case.
func (a *Assembler) CaseDefault() *Assembler { a.op(OpCase); a.e.U16(caseDefault); return a }

func (a *Assembler) Assert(line uint16) *Assembler { a.op(OpAssert); a.e.U16(line); return a }
func (a *Assembler) Line(line uint16) *Assembler   { a.op(OpLineNumber); a.e.U16(line); return a }

// LabelTable emits a state label table. Every label must already be marked.
func (a *Assembler) LabelTable(entries ...LabelRef) *Assembler {
	a.op(OpLabelTable)
	a.e.Compact(int32(len(entries)))
	for _, e := range entries {
		if !e.Label.resolved {
			panic("label table entry not marked")
		}
		a.e.Compact(e.Name)
		a.e.U16(uint16(e.Label.position))
	}
	return a
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (a *Assembler) Self() *Assembler            { return a.op(OpSelf) }
func (a *Assembler) NoObject() *Assembler        { return a.op(OpNoObject) }
func (a *Assembler) True() *Assembler            { return a.op(OpTrue) }
func (a *Assembler) False() *Assembler           { return a.op(OpFalse) }
func (a *Assembler) EndParms() *Assembler        { return a.op(OpEndFunctionParms) }
func (a *Assembler) New() *Assembler             { return a.op(OpNew) }
func (a *Assembler) ArrayElement() *Assembler    { return a.op(OpArrayElement) }
func (a *Assembler) DynArrayElement() *Assembler { return a.op(OpDynArrayElement) }
func (a *Assembler) DynArrayLength() *Assembler  { return a.op(OpDynArrayLength) }

func (a *Assembler) Bool(b bool) *Assembler {
	if b {
		return a.True()
	}
	return a.False()
}

// Int emits the shortest integer constant token for v.
func (a *Assembler) Int(v int32) *Assembler {
	switch {
	case v == 0:
		return a.op(OpIntZero)
	case v == 1:
		return a.op(OpIntOne)
	case v > 1 && v < 256:
		a.op(OpIntConstByte)
		a.e.U8(byte(v))
		return a
	}
	a.op(OpIntConst)
	a.e.I32(v)
	return a
}

func (a *Assembler) Byte(v uint8) *Assembler     { a.op(OpByteConst); a.e.U8(v); return a }
func (a *Assembler) Float(v float32) *Assembler  { a.op(OpFloatConst); a.e.F32(v); return a }
func (a *Assembler) String(s string) *Assembler  { a.op(OpStringConst); a.e.CString(s); return a }
func (a *Assembler) NameConst(n int32) *Assembler { a.op(OpNameConst); a.e.Compact(n); return a }
func (a *Assembler) Object(r pkgfile.Ref) *Assembler {
	a.op(OpObjectConst)
	a.e.Ref(r)
	return a
}

func (a *Assembler) MetaCast(class pkgfile.Ref) *Assembler    { a.op(OpMetaCast); a.e.Ref(class); return a }
func (a *Assembler) DynamicCast(class pkgfile.Ref) *Assembler { a.op(OpDynamicCast); a.e.Ref(class); return a }
func (a *Assembler) Member(prop pkgfile.Ref) *Assembler       { a.op(OpStructMember); a.e.Ref(prop); return a }

// StructCmp emits a struct comparison of the two following expressions.
func (a *Assembler) StructCmp(equal bool, st pkgfile.Ref) *Assembler {
	if equal {
		a.op(OpStructCmpEq)
	} else {
		a.op(OpStructCmpNe)
	}
	a.e.Ref(st)
	return a
}

// Cast emits a primitive conversion of the following expression.
func (a *Assembler) Cast(to object.ValueKind) *Assembler {
	a.op(OpPrimitiveCast)
	a.e.U8(byte(to))
	return a
}

// Context starts a member access: the object expression and then the
// member expression follow, closed with EndContext. kind is the value
// produced when the object is None.
func (a *Assembler) Context(kind object.ValueKind) *Assembler {
	a.op(OpContext)
	a.open(1)
	a.e.U8(byte(kind))
	return a
}

// ClassContext is Context on a class's default object.
func (a *Assembler) ClassContext(kind object.ValueKind) *Assembler {
	a.op(OpClassContext)
	a.open(1)
	a.e.U8(byte(kind))
	return a
}

// EndContext closes the innermost Context or ClassContext.
func (a *Assembler) EndContext() *Assembler { return a.close() }

// Skip starts a lazily evaluated native argument, closed with EndSkip.
func (a *Assembler) Skip() *Assembler {
	a.op(OpSkip)
	a.open(0)
	return a
}

// EndSkip closes the innermost Skip.
func (a *Assembler) EndSkip() *Assembler { return a.close() }

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func (a *Assembler) Virtual(name int32) *Assembler     { a.op(OpVirtualFunction); a.e.Compact(name); return a }
func (a *Assembler) Global(name int32) *Assembler      { a.op(OpGlobalFunction); a.e.Compact(name); return a }
func (a *Assembler) Final(fn pkgfile.Ref) *Assembler   { a.op(OpFinalFunction); a.e.Ref(fn); return a }

// Native emits a direct call of native index idx.
func (a *Assembler) Native(idx uint16) *Assembler {
	switch {
	case idx >= uint16(OpFirstNative) && idx <= 0xFF:
		return a.op(Opcode(idx))
	case idx < 0x1000:
		a.op(OpExtendedNative + Opcode(idx>>8))
		a.e.U8(byte(idx))
		return a
	}
	panic(fmt.Sprintf("native index %d out of range", idx))
}

// Raw appends bytes verbatim.
func (a *Assembler) Raw(b ...byte) *Assembler {
	a.e.Raw(b)
	return a
}
