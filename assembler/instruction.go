package assembler

import (
	"bytes"

	"github.com/masm-lang/masm/opcode"
)

// Instruction is one resolved instruction, ready to be sized and
// emitted. Labels have already been turned into LABEL_ADDRESS values by
// the time an Instruction exists.
type Instruction struct {
	Op       opcode.Opcode
	Operands []opcode.Value
	MNIName  string // populated only when Op == opcode.MNI
}

// Size returns the exact number of bytes this instruction occupies in
// the code region once emitted, per §4.6.
func (ins Instruction) Size() int {
	n := 1 // opcode byte
	if ins.Op == opcode.MNI {
		n += len(ins.MNIName) + 1 // NUL-terminated name
		for _, v := range ins.Operands {
			n += 1 + len(v.ValueBytes())
		}
		n++ // NONE terminator type byte
		return n
	}
	for _, v := range ins.Operands {
		n += 1 + len(v.ValueBytes())
	}
	return n
}

// Emit appends this instruction's encoded bytes to buf.
func (ins Instruction) Emit(buf *bytes.Buffer) {
	buf.WriteByte(byte(ins.Op))
	if ins.Op == opcode.MNI {
		buf.WriteString(ins.MNIName)
		buf.WriteByte(0)
	}
	for _, v := range ins.Operands {
		buf.WriteByte(v.TypeByte())
		buf.Write(v.ValueBytes())
	}
	if ins.Op == opcode.MNI {
		buf.WriteByte(opcode.TypeByte(opcode.NONE, 0))
	}
}
