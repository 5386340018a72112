package vm

import (
	"fmt"

	"github.com/masm-lang/masm/opcode"
)

// DivideByZeroError reports a DIV whose divisor operand read as zero.
type DivideByZeroError struct{ IP uint32 }

func (e *DivideByZeroError) Error() string { return fmt.Sprintf("vm: divide by zero at ip=%d", e.IP) }

// StackUnderflowError reports a POP, RET or LEAVE with nothing left to
// pop.
type StackUnderflowError struct{ IP uint32 }

func (e *StackUnderflowError) Error() string {
	return fmt.Sprintf("vm: stack underflow at ip=%d", e.IP)
}

// InvalidPortError reports an OUT/COUT/OUTSTR/OUTCHAR naming a port
// other than 1 (stdout) or 2 (stderr).
type InvalidPortError struct {
	Port int32
	IP   uint32
}

func (e *InvalidPortError) Error() string {
	return fmt.Sprintf("vm: invalid port %d at ip=%d", e.Port, e.IP)
}

// NegativeLengthError reports a block-memory opcode (COPY, FILL,
// CMP_MEM, OUTSTR) whose length operand read negative.
type NegativeLengthError struct {
	N  int32
	IP uint32
}

func (e *NegativeLengthError) Error() string {
	return fmt.Sprintf("vm: negative length %d at ip=%d", e.N, e.IP)
}

// UnknownForeignCallError reports an MNI naming a routine the foreign
// dispatcher does not recognise.
type UnknownForeignCallError struct {
	Name  string
	Trace []string
}

func (e *UnknownForeignCallError) Error() string {
	return fmt.Sprintf("vm: unknown foreign call %q (trace: %v)", e.Name, e.Trace)
}

// TruncatedInstructionError reports a fetch that ran past the end of
// the code region mid-instruction: a malformed or corrupt image.
type TruncatedInstructionError struct{ IP uint32 }

func (e *TruncatedInstructionError) Error() string {
	return fmt.Sprintf("vm: truncated instruction at ip=%d", e.IP)
}

// InvalidOperandKindError reports an operand type the current
// instruction cannot read from or write to (e.g. writing an IMMEDIATE).
type InvalidOperandKindError struct {
	Type opcode.OperandType
	IP   uint32
}

func (e *InvalidOperandKindError) Error() string {
	return fmt.Sprintf("vm: operand kind %s not valid here at ip=%d", e.Type, e.IP)
}

// OutOfRangeError reports a GETARG index outside argv's bounds.
type OutOfRangeError struct {
	Index int32
	Argc  int
	IP    uint32
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("vm: argv index %d out of range (argc=%d) at ip=%d", e.Index, e.Argc, e.IP)
}
