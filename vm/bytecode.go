package vm

import (
	"fmt"
	"strings"

	"github.com/chazu/surreal/object"
	"github.com/chazu/surreal/pkgfile"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is the leading byte of a script token. Expressions are stored in
// prefix order: a token's immediate operands follow it directly and its
// sub-expressions follow the operands.
type Opcode byte

// Variables
const (
	OpLocalVariable    Opcode = 0x00 // <prop ref>
	OpInstanceVariable Opcode = 0x01 // <prop ref>
	OpDefaultVariable  Opcode = 0x02 // <prop ref>
	OpBoolVariable     Opcode = 0x2D // <variable expr>
)

// Statements
const (
	OpReturn      Opcode = 0x04 // <expr>
	OpSwitch      Opcode = 0x05 // <expr> followed by Case tokens
	OpJump        Opcode = 0x06 // <u16 target>
	OpJumpIfNot   Opcode = 0x07 // <u16 target> <cond>
	OpStop        Opcode = 0x08
	OpAssert      Opcode = 0x09 // <u16 line> <cond>
	OpCase        Opcode = 0x0A // <u16 next|0xFFFF> [<expr>]
	OpNothing     Opcode = 0x0B
	OpLabelTable  Opcode = 0x0C // <compact n> {<name> <u16 offset>}*
	OpGotoLabel   Opcode = 0x0D // <name expr>
	OpEatString   Opcode = 0x0E // <expr>
	OpLet         Opcode = 0x0F // <lvalue> <expr>
	OpLetBool     Opcode = 0x14 // <lvalue> <expr>
	OpLineNumber  Opcode = 0x15 // <u16 line>
	OpIterator    Opcode = 0x2F // <u16 end> <iterator call>
	OpIteratorPop Opcode = 0x30
	OpIteratorNxt Opcode = 0x31
)

// Expressions
const (
	OpDynArrayElement  Opcode = 0x10 // <index> <array lvalue>
	OpNew              Opcode = 0x11 // <outer> <name> <class>
	OpClassContext     Opcode = 0x12 // <u16 skip> <u8 kind> <class expr> <member>
	OpMetaCast         Opcode = 0x13 // <class ref> <expr>
	OpEndFunctionParms Opcode = 0x16
	OpSelf             Opcode = 0x17
	OpSkip             Opcode = 0x18 // <u16 size> <expr>
	OpContext          Opcode = 0x19 // <u16 skip> <u8 kind> <object expr> <member>
	OpArrayElement     Opcode = 0x1A // <index> <array lvalue>
	OpVirtualFunction  Opcode = 0x1B // <name> args... EndFunctionParms
	OpFinalFunction    Opcode = 0x1C // <function ref> args... EndFunctionParms
	OpIntConst         Opcode = 0x1D // <i32>
	OpFloatConst       Opcode = 0x1E // <f32>
	OpStringConst      Opcode = 0x1F // <cstring>
	OpObjectConst      Opcode = 0x20 // <ref>
	OpNameConst        Opcode = 0x21 // <name>
	OpByteConst        Opcode = 0x24 // <u8>
	OpIntZero          Opcode = 0x25
	OpIntOne           Opcode = 0x26
	OpTrue             Opcode = 0x27
	OpFalse            Opcode = 0x28
	OpNoObject         Opcode = 0x2A
	OpIntConstByte     Opcode = 0x2C // <u8>
	OpDynamicCast      Opcode = 0x2E // <class ref> <expr>
	OpStructCmpEq      Opcode = 0x32 // <struct ref> <a> <b>
	OpStructCmpNe      Opcode = 0x33 // <struct ref> <a> <b>
	OpStructMember     Opcode = 0x35 // <member ref> <struct expr>
	OpDynArrayLength   Opcode = 0x37 // <array lvalue>
	OpGlobalFunction   Opcode = 0x38 // <name> args... EndFunctionParms
	OpPrimitiveCast    Opcode = 0x39 // <u8 value kind> <expr>
)

// Native calls. Tokens in [OpExtendedNative, OpFirstNative) carry the high
// bits of the native index in the opcode and the low byte as an operand;
// tokens from OpFirstNative up are the native index itself.
const (
	OpExtendedNative Opcode = 0x60
	OpFirstNative    Opcode = 0x70
)

// caseDefault marks the default branch of a switch.
const caseDefault = 0xFFFF

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// LabelEntry is one entry of a state's label table.
type LabelEntry struct {
	Name   int32
	Offset uint16
}

// Instr is one decoded token with its immediate operands. Sub-expressions
// are not part of an Instr; they are the tokens that follow it.
type Instr struct {
	Op     Opcode
	PC     int
	Size   int
	Ref    pkgfile.Ref
	Name   int32
	Int    int32
	Float  float32
	Str    string
	Target uint16
	Kind   object.ValueKind
	Native uint16
	Labels []LabelEntry
}

// Next returns the offset of the token following the instruction's operands.
func (in *Instr) Next() int { return in.PC + in.Size }

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

type (
	decodeFunc func(d *pkgfile.Decoder, in *Instr)
	evalFunc   func(x *Interpreter, f *Frame, in *Instr) (object.Value, error)
	addrFunc   func(x *Interpreter, f *Frame, in *Instr) (lvalue, error)
)

// opInfo ties an opcode to its operand decoder and its handlers. eval
// produces a value; addr produces an assignable location. Statement tokens
// may not appear inside an expression.
type opInfo struct {
	name   string
	decode decodeFunc
	eval   evalFunc
	addr   addrFunc
	stmt   bool
}

var opTable [256]opInfo

func init() {
	def := func(op Opcode, name string, decode decodeFunc, eval evalFunc, addr addrFunc, stmt bool) {
		opTable[op] = opInfo{name: name, decode: decode, eval: eval, addr: addr, stmt: stmt}
	}

	// Variables
	def(OpLocalVariable, "LocalVariable", decodeRef, nil, addrLocal, false)
	def(OpInstanceVariable, "InstanceVariable", decodeRef, nil, addrInstance, false)
	def(OpDefaultVariable, "DefaultVariable", decodeRef, nil, addrDefault, false)
	def(OpBoolVariable, "BoolVariable", nil, nil, addrBool, false)

	// Statements
	def(OpReturn, "Return", nil, execReturn, nil, true)
	def(OpSwitch, "Switch", nil, execSwitch, nil, true)
	def(OpJump, "Jump", decodeTarget, execJump, nil, true)
	def(OpJumpIfNot, "JumpIfNot", decodeTarget, execJumpIfNot, nil, true)
	def(OpStop, "Stop", nil, execStop, nil, true)
	def(OpAssert, "Assert", decodeLine, execAssert, nil, true)
	def(OpCase, "Case", decodeTarget, execCase, nil, true)
	def(OpNothing, "Nothing", nil, evalNothing, nil, false)
	def(OpLabelTable, "LabelTable", decodeLabelTable, evalNothing, nil, true)
	def(OpGotoLabel, "GotoLabel", nil, execGotoLabel, nil, true)
	def(OpEatString, "EatString", nil, evalEat, nil, false)
	def(OpLet, "Let", nil, execLet, nil, true)
	def(OpLetBool, "LetBool", nil, execLet, nil, true)
	def(OpLineNumber, "LineNumber", decodeLine, execLineNumber, nil, true)
	def(OpIterator, "Iterator", decodeTarget, execIterator, nil, true)
	def(OpIteratorPop, "IteratorPop", nil, execIteratorPop, nil, true)
	def(OpIteratorNxt, "IteratorNext", nil, execIteratorNext, nil, true)

	// Expressions
	def(OpDynArrayElement, "DynArrayElement", nil, nil, addrDynElement, false)
	def(OpNew, "New", nil, evalNew, nil, false)
	def(OpClassContext, "ClassContext", decodeContext, nil, addrClassContext, false)
	def(OpMetaCast, "MetaCast", decodeRef, evalMetaCast, nil, false)
	def(OpEndFunctionParms, "EndFunctionParms", nil, nil, nil, false)
	def(OpSelf, "Self", nil, evalSelf, nil, false)
	def(OpSkip, "Skip", decodeTarget, evalSkip, nil, false)
	def(OpContext, "Context", decodeContext, nil, addrContext, false)
	def(OpArrayElement, "ArrayElement", nil, nil, addrArrayElement, false)
	def(OpVirtualFunction, "VirtualFunction", decodeName, evalVirtualFunction, nil, false)
	def(OpFinalFunction, "FinalFunction", decodeRef, evalFinalFunction, nil, false)
	def(OpGlobalFunction, "GlobalFunction", decodeName, evalGlobalFunction, nil, false)
	def(OpIntConst, "IntConst", decodeInt, evalIntConst, nil, false)
	def(OpFloatConst, "FloatConst", decodeFloat, evalFloatConst, nil, false)
	def(OpStringConst, "StringConst", decodeString, evalStringConst, nil, false)
	def(OpObjectConst, "ObjectConst", decodeRef, evalObjectConst, nil, false)
	def(OpNameConst, "NameConst", decodeName, evalNameConst, nil, false)
	def(OpByteConst, "ByteConst", decodeByte, evalByteConst, nil, false)
	def(OpIntConstByte, "IntConstByte", decodeByte, evalIntConst, nil, false)
	def(OpIntZero, "IntZero", nil, evalIntZero, nil, false)
	def(OpIntOne, "IntOne", nil, evalIntOne, nil, false)
	def(OpTrue, "True", nil, evalTrue, nil, false)
	def(OpFalse, "False", nil, evalFalse, nil, false)
	def(OpNoObject, "NoObject", nil, evalNoObject, nil, false)
	def(OpDynamicCast, "DynamicCast", decodeRef, evalDynamicCast, nil, false)
	def(OpStructCmpEq, "StructCmpEq", decodeRef, evalStructCmp, nil, false)
	def(OpStructCmpNe, "StructCmpNe", decodeRef, evalStructCmp, nil, false)
	def(OpStructMember, "StructMember", decodeRef, nil, addrStructMember, false)
	def(OpDynArrayLength, "DynArrayLength", nil, nil, addrDynLength, false)
	def(OpPrimitiveCast, "PrimitiveCast", decodeKind, evalPrimitiveCast, nil, false)

	for op := OpExtendedNative; op < OpFirstNative; op++ {
		def(op, "ExtendedNative", decodeExtendedNative, evalNative, nil, false)
	}
	for op := int(OpFirstNative); op <= 0xFF; op++ {
		def(Opcode(op), "Native", decodeNative, evalNative, nil, false)
	}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	if n := opTable[op].name; n != "" {
		return n
	}
	return fmt.Sprintf("UNKNOWN_%02X", byte(op))
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// Valid reports whether op is a known token.
func (op Opcode) Valid() bool { return opTable[op].name != "" }

// IsNative reports whether op is a direct native call token.
func (op Opcode) IsNative() bool { return op >= OpExtendedNative }

// ---------------------------------------------------------------------------
// Operand decoders
// ---------------------------------------------------------------------------

func decodeRef(d *pkgfile.Decoder, in *Instr)    { in.Ref = d.Ref() }
func decodeName(d *pkgfile.Decoder, in *Instr)   { in.Name = d.Compact() }
func decodeTarget(d *pkgfile.Decoder, in *Instr) { in.Target = d.U16() }
func decodeLine(d *pkgfile.Decoder, in *Instr)   { in.Int = int32(d.U16()) }
func decodeInt(d *pkgfile.Decoder, in *Instr)    { in.Int = d.I32() }
func decodeByte(d *pkgfile.Decoder, in *Instr)   { in.Int = int32(d.U8()) }
func decodeFloat(d *pkgfile.Decoder, in *Instr)  { in.Float = d.F32() }
func decodeString(d *pkgfile.Decoder, in *Instr) { in.Str = d.CString() }
func decodeKind(d *pkgfile.Decoder, in *Instr)   { in.Kind = object.ValueKind(d.U8()) }

func decodeContext(d *pkgfile.Decoder, in *Instr) {
	in.Target = d.U16()
	in.Kind = object.ValueKind(d.U8())
}

func decodeLabelTable(d *pkgfile.Decoder, in *Instr) {
	n := d.CompactCount(2)
	in.Labels = make([]LabelEntry, 0, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		in.Labels = append(in.Labels, LabelEntry{Name: d.Compact(), Offset: d.U16()})
	}
}

func decodeExtendedNative(d *pkgfile.Decoder, in *Instr) {
	in.Native = uint16(in.Op-OpExtendedNative)<<8 | uint16(d.U8())
}

func decodeNative(_ *pkgfile.Decoder, in *Instr) { in.Native = uint16(in.Op) }

// Decode decodes the token at pc. Sub-expressions are left in place.
func Decode(code []byte, pc int) (Instr, error) {
	if pc < 0 || pc >= len(code) {
		return Instr{}, fmt.Errorf("%w: pc 0x%04X outside %d bytes", ErrJumpOutOfRange, pc, len(code))
	}
	op := Opcode(code[pc])
	info := &opTable[op]
	if info.name == "" {
		return Instr{}, fmt.Errorf("%w: 0x%02X at 0x%04X", ErrBadOpcode, byte(op), pc)
	}
	in := Instr{Op: op, PC: pc, Size: 1}
	if info.decode != nil {
		d := pkgfile.NewDecoder(code[pc+1:], int64(pc+1), pkgfile.DefaultVersion)
		info.decode(d, &in)
		if err := d.Err(); err != nil {
			return Instr{}, fmt.Errorf("%w: %s operands at 0x%04X: %v", ErrBadOpcode, info.name, pc, err)
		}
		in.Size += len(code) - pc - 1 - d.Remaining()
	}
	return in, nil
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Symbols renders the package-relative operands of a script. It is
// satisfied by *engine.Package.
type Symbols interface {
	NameString(i int32) string
	RefString(r pkgfile.Ref) string
}

// Format renders the instruction. sym may be nil, in which case names and
// references are printed as raw indices.
func (in *Instr) Format(sym Symbols) string {
	name := func(i int32) string {
		if sym == nil {
			return fmt.Sprintf("name#%d", i)
		}
		return "'" + sym.NameString(i) + "'"
	}
	ref := func(r pkgfile.Ref) string {
		if sym == nil {
			return r.String()
		}
		return sym.RefString(r)
	}

	head := fmt.Sprintf("%04X  %s", in.PC, in.Op.Name())
	switch in.Op {
	case OpLocalVariable, OpInstanceVariable, OpDefaultVariable, OpFinalFunction,
		OpObjectConst, OpMetaCast, OpDynamicCast, OpStructCmpEq, OpStructCmpNe, OpStructMember:
		return head + " " + ref(in.Ref)
	case OpVirtualFunction, OpGlobalFunction, OpNameConst:
		return head + " " + name(in.Name)
	case OpJump, OpJumpIfNot, OpIterator:
		return fmt.Sprintf("%s -> %04X", head, in.Target)
	case OpSkip:
		return fmt.Sprintf("%s %d", head, in.Target)
	case OpCase:
		if in.Target == caseDefault {
			return head + " default"
		}
		return fmt.Sprintf("%s next %04X", head, in.Target)
	case OpContext, OpClassContext:
		return fmt.Sprintf("%s skip %d %s", head, in.Target, in.Kind)
	case OpAssert, OpLineNumber:
		return fmt.Sprintf("%s line %d", head, in.Int)
	case OpIntConst, OpIntConstByte, OpByteConst:
		return fmt.Sprintf("%s %d", head, in.Int)
	case OpFloatConst:
		return fmt.Sprintf("%s %g", head, in.Float)
	case OpStringConst:
		return fmt.Sprintf("%s %q", head, in.Str)
	case OpPrimitiveCast:
		return head + " " + in.Kind.String()
	case OpLabelTable:
		parts := make([]string, len(in.Labels))
		for i, l := range in.Labels {
			parts[i] = fmt.Sprintf("%s=%04X", name(l.Name), l.Offset)
		}
		return head + " " + strings.Join(parts, " ")
	}
	if in.Op.IsNative() {
		return fmt.Sprintf("%s %d", head, in.Native)
	}
	return head
}

// Disassemble decodes a script linearly, one token per line. Decoding stops
// at the first malformed token, which is reported on the last line.
func Disassemble(code []byte, sym Symbols) string {
	var b strings.Builder
	for pc := 0; pc < len(code); {
		in, err := Decode(code, pc)
		if err != nil {
			fmt.Fprintf(&b, "%04X  !! %v\n", pc, err)
			break
		}
		b.WriteString(in.Format(sym))
		b.WriteByte('\n')
		pc = in.Next()
	}
	return b.String()
}
