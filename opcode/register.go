package opcode

import "strings"

// Register identifies one of the interpreter's 24 general-purpose slots.
// RIP is deliberately not a Register value: the instruction pointer is
// never addressable from assembly.
type Register byte

const (
	RAX Register = iota
	RBX
	RCX
	RDX
	RSI
	RDI
	RBP
	RSP
	R0
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// Count is the fixed size of the register file.
const Count = 24

var registerNames = [Count]string{
	"RAX", "RBX", "RCX", "RDX", "RSI", "RDI", "RBP", "RSP",
	"R0", "R1", "R2", "R3", "R4", "R5", "R6", "R7",
	"R8", "R9", "R10", "R11", "R12", "R13", "R14", "R15",
}

func (r Register) String() string {
	if int(r) < len(registerNames) {
		return registerNames[r]
	}
	return "R?"
}

var registerByName = func() map[string]Register {
	m := make(map[string]Register, Count)
	for i, name := range registerNames {
		m[name] = Register(i)
	}
	return m
}()

// LookupRegister resolves a case-insensitive register mnemonic ("RAX"..
// "RSP", "R0".."R15") to its Register index. "RIP" always fails: the
// caller should report InvalidOperand.
func LookupRegister(name string) (Register, bool) {
	r, ok := registerByName[strings.ToUpper(name)]
	return r, ok
}
