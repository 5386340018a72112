package vm

import "github.com/masm-lang/masm/opcode"

// widthFor is the declared memory-access width for a read or write made
// on behalf of op: MOVB narrows to a single byte, every other opcode
// reads or writes a full 32-bit word, per §4.8.
func widthFor(op opcode.Opcode) byte {
	if op == opcode.MOVB {
		return 1
	}
	return 4
}

// effectiveAddress computes the memory address a DATA_ADDRESS,
// REGISTER_AS_ADDRESS or MATH_OPERATOR operand denotes.
func (v *VM) effectiveAddress(val opcode.Value) (uint32, error) {
	switch val.Type {
	case opcode.DATA_ADDRESS:
		return val.Raw, nil
	case opcode.REGISTER_AS_ADDRESS:
		return uint32(v.Registers[val.Raw]), nil
	case opcode.MATH_OPERATOR:
		base := uint32(v.Registers[val.Math.BaseReg])
		var other uint32
		if val.Math.OtherIsReg {
			other = uint32(v.Registers[val.Math.OtherReg])
		} else {
			other = uint32(val.Math.OtherImm)
		}
		return applyMathOp(base, other, val.Math.Op), nil
	default:
		return 0, &InvalidOperandKindError{Type: val.Type, IP: v.IP}
	}
}

// applyMathOp evaluates a packed address expression's operator. The
// four reverse forms swap operand order so base_reg can still hold the
// register regardless of which side of the source expression it was
// parsed from. Division and shift amounts are masked/guarded rather
// than left to panic: an adversarial or buggy program can make base or
// other zero, and a decode-time crash would take the whole process
// down with it.
func applyMathOp(base, other uint32, op opcode.MathOp) uint32 {
	switch op {
	case opcode.MOpAdd:
		return base + other
	case opcode.MOpSub:
		return base - other
	case opcode.MOpMul:
		return base * other
	case opcode.MOpDiv:
		if other == 0 {
			return 0
		}
		return base / other
	case opcode.MOpShr:
		return base >> (other & 31)
	case opcode.MOpShl:
		return base << (other & 31)
	case opcode.MOpAnd:
		return base & other
	case opcode.MOpOr:
		return base | other
	case opcode.MOpXor:
		return base ^ other
	case opcode.MOpBSub:
		return other - base
	case opcode.MOpBDiv:
		if base == 0 {
			return 0
		}
		return other / base
	case opcode.MOpBLsr:
		return other >> (base & 31)
	case opcode.MOpBLsl:
		return other << (base & 31)
	default:
		return 0
	}
}

// addressOf returns the address a pointer-valued operand names. Unlike
// read, a plain REGISTER operand is taken at face value as holding an
// address (the natural way to pass a pointer argument to COPY, FILL,
// CMP_MEM, IN and the OUT family), rather than being dereferenced.
func (v *VM) addressOf(val opcode.Value) (uint32, error) {
	switch val.Type {
	case opcode.REGISTER:
		return uint32(v.Registers[val.Raw]), nil
	case opcode.IMMEDIATE, opcode.LABEL_ADDRESS, opcode.DATA_ADDRESS:
		return val.Raw, nil
	case opcode.REGISTER_AS_ADDRESS, opcode.MATH_OPERATOR:
		return v.effectiveAddress(val)
	default:
		return 0, &InvalidOperandKindError{Type: val.Type, IP: v.IP}
	}
}

// ReadOperand evaluates val as a plain 32-bit value, exported for
// foreign-call implementations (package mni) that need an operand's
// numeric value the same way a two-operand instruction would.
func (v *VM) ReadOperand(val opcode.Value) (int32, error) {
	return v.read(val, 4)
}

// OperandAddress resolves val as a pointer argument, exported for
// foreign-call implementations that receive a memory address the way
// COPY, FILL or CMP_MEM do.
func (v *VM) OperandAddress(val opcode.Value) (uint32, error) {
	return v.addressOf(val)
}

// WriteOperand stores a 32-bit result into val, exported for
// foreign-call implementations that return a value into a register the
// way MALLOC or FREE do.
func (v *VM) WriteOperand(val opcode.Value, result int32) error {
	return v.write(val, result, 4)
}

// read evaluates val at the given declared width, per §4.8: REGISTER
// and IMMEDIATE/LABEL_ADDRESS return their value directly; the three
// address-bearing types compute an effective address and load width
// bytes, sign-extended to 32 bits.
func (v *VM) read(val opcode.Value, width byte) (int32, error) {
	switch val.Type {
	case opcode.REGISTER:
		return v.Registers[val.Raw], nil
	case opcode.IMMEDIATE, opcode.LABEL_ADDRESS:
		return val.Int32(), nil
	case opcode.DATA_ADDRESS, opcode.REGISTER_AS_ADDRESS, opcode.MATH_OPERATOR:
		addr, err := v.effectiveAddress(val)
		if err != nil {
			return 0, err
		}
		raw, err := v.Mem.ReadWidth(addr, width)
		if err != nil {
			return 0, err
		}
		return opcode.SignExtend(raw, width), nil
	default:
		return 0, &InvalidOperandKindError{Type: val.Type, IP: v.IP}
	}
}

// write stores val at width bytes into the location val names. Per
// §4.8, immediates and label addresses cannot be write targets.
func (v *VM) write(dst opcode.Value, val int32, width byte) error {
	switch dst.Type {
	case opcode.IMMEDIATE, opcode.LABEL_ADDRESS:
		return &InvalidOperandKindError{Type: dst.Type, IP: v.IP}
	case opcode.REGISTER:
		v.Registers[dst.Raw] = val
		return nil
	case opcode.DATA_ADDRESS, opcode.REGISTER_AS_ADDRESS, opcode.MATH_OPERATOR:
		addr, err := v.effectiveAddress(dst)
		if err != nil {
			return err
		}
		return v.Mem.WriteWidth(addr, uint32(val), width)
	default:
		return &InvalidOperandKindError{Type: dst.Type, IP: v.IP}
	}
}
