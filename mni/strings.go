package mni

import (
	"bytes"
	"fmt"

	"github.com/masm-lang/masm/opcode"
	"github.com/masm-lang/masm/vm"
)

// RegisterDefaults installs the built-in native modules: currently
// just StringOperations, the one foreign module the source tree
// carries as a worked example of the registry contract.
func (r *Registry) RegisterDefaults() {
	r.Register("StringOperations", "cmp", stringsCmp)
	r.Register("StringOperations", "len", stringsLen)
}

// stringsCmp compares the two NUL-terminated strings addr1 and addr2
// name, setting zeroFlag to whether they're equal.
func stringsCmp(v *vm.VM, args []opcode.Value) error {
	if len(args) < 2 {
		return fmt.Errorf("mni: StringOperations.cmp requires 2 arguments (addr1, addr2)")
	}
	addr1, err := v.OperandAddress(args[0])
	if err != nil {
		return err
	}
	addr2, err := v.OperandAddress(args[1])
	if err != nil {
		return err
	}
	s1, err := v.Mem.ReadCString(addr1)
	if err != nil {
		return err
	}
	s2, err := v.Mem.ReadCString(addr2)
	if err != nil {
		return err
	}
	v.ZeroFlag = bytes.Equal(s1, s2)
	return nil
}

// stringsLen writes the length of the NUL-terminated string at addr
// into dst.
func stringsLen(v *vm.VM, args []opcode.Value) error {
	if len(args) < 2 {
		return fmt.Errorf("mni: StringOperations.len requires 2 arguments (dst, addr)")
	}
	addr, err := v.OperandAddress(args[1])
	if err != nil {
		return err
	}
	s, err := v.Mem.ReadCString(addr)
	if err != nil {
		return err
	}
	return v.WriteOperand(args[0], int32(len(s)))
}
