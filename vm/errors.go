package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Script faults
// ---------------------------------------------------------------------------

var (
	ErrBadOpcode            = errors.New("vm: bad opcode")
	ErrJumpOutOfRange       = errors.New("vm: jump target out of range")
	ErrNativeNotImplemented = errors.New("vm: native function not implemented")
	ErrStackOverflow        = errors.New("vm: script call depth exceeded")
	ErrArityMismatch        = errors.New("vm: argument count mismatch")
	ErrLatentInExpression   = errors.New("vm: latent function called outside state code statement")
	ErrFrameAborted         = errors.New("vm: frame aborted")
	ErrDivideByZero         = errors.New("vm: divide by zero")
	ErrRunaway              = errors.New("vm: runaway loop detected")
	ErrFunctionNotFound     = errors.New("vm: function not found")
	ErrNotAssignable        = errors.New("vm: expression is not assignable")
	ErrAssertion            = errors.New("vm: assertion failed")
	ErrNoStateCode          = errors.New("vm: object has no state code")
	ErrObjectDestroyed      = errors.New("vm: call on destroyed object")
)

// Fault is a script fault. It is created where the fault happens, so
// ScriptStack lists the frames that were active at that point, innermost
// first. NativeStack is set when a native routine panicked.
type Fault struct {
	Err         error
	Function    string
	PC          int
	Line        int32
	ScriptStack []string
	NativeStack []byte
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s (%s pc=0x%04X line %d)", f.Err, f.Function, f.PC, f.Line)
}

func (f *Fault) Unwrap() error { return f.Err }

// Backtrace renders the fault followed by its script call stack and, when
// present, the native stack.
func (f *Fault) Backtrace() string {
	var b strings.Builder
	b.WriteString(f.Error())
	b.WriteByte('\n')
	for _, line := range f.ScriptStack {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if len(f.NativeStack) > 0 {
		b.WriteString("native stack:\n")
		b.Write(f.NativeStack)
	}
	return b.String()
}

// AsFault extracts a *Fault from err.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// errSuspended unwinds the root state frame after a latent call parked it.
var errSuspended = errors.New("vm: frame suspended")
