package vm

import "github.com/masm-lang/masm/opcode"

// push writes v as a 32-bit word at the new RSP, growing the stack
// toward lower addresses.
func (v *VM) push(val int32) error {
	rsp := uint32(v.Registers[opcode.RSP]) - 4
	if err := v.Mem.Write32(rsp, uint32(val)); err != nil {
		return err
	}
	v.Registers[opcode.RSP] = int32(rsp)
	return nil
}

// pop reads the 32-bit word at RSP and grows the stack back toward
// higher addresses. StackUnderflowError fires when RSP has already
// reached the top of memory with nothing left below it.
func (v *VM) pop() (int32, error) {
	rsp := uint32(v.Registers[opcode.RSP])
	if rsp+4 > uint32(v.Mem.Len()) {
		return 0, &StackUnderflowError{IP: v.IP}
	}
	raw, err := v.Mem.Read32(rsp)
	if err != nil {
		return 0, &StackUnderflowError{IP: v.IP}
	}
	v.Registers[opcode.RSP] = int32(rsp + 4)
	return int32(raw), nil
}
