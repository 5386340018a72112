package vm

import (
	"bytes"
	"io"
	"strconv"

	"github.com/masm-lang/masm/opcode"
)

// Step fetches one instruction at IP, decodes its operands and
// executes it, leaving IP at the following instruction unless the
// instruction itself redirected control flow.
func (v *VM) Step() error {
	if int(v.IP) >= len(v.Code) {
		return &TruncatedInstructionError{IP: v.IP}
	}
	ip := v.IP
	op := opcode.Opcode(v.Code[ip])
	pos := int(ip) + 1

	var name string
	var operands []opcode.Value
	if op == opcode.MNI {
		nameEnd := pos
		for nameEnd < len(v.Code) && v.Code[nameEnd] != 0 {
			nameEnd++
		}
		if nameEnd >= len(v.Code) {
			return &TruncatedInstructionError{IP: ip}
		}
		name = string(v.Code[pos:nameEnd])
		pos = nameEnd + 1
		for {
			val, next, err := opcode.DecodeValue(v.Code, pos)
			if err != nil {
				return err
			}
			pos = next
			if val.Type == opcode.NONE {
				break
			}
			operands = append(operands, val)
		}
	} else {
		arity := op.Arity()
		operands = make([]opcode.Value, arity)
		for i := 0; i < arity; i++ {
			val, next, err := opcode.DecodeValue(v.Code, pos)
			if err != nil {
				return err
			}
			operands[i] = val
			pos = next
		}
	}

	v.IP = uint32(pos)
	return v.execute(op, name, operands, ip)
}

func (v *VM) writerForPort(port int32) (io.Writer, error) {
	switch port {
	case 1:
		return v.Stdout, nil
	case 2:
		return v.Stderr, nil
	default:
		return nil, &InvalidPortError{Port: port, IP: v.IP}
	}
}

// execute carries out one already-decoded instruction. ip is the
// address the instruction started at, used for error positions; v.IP
// already holds the address of the following instruction by the time
// execute runs, and is what CALL pushes as its return address.
func (v *VM) execute(op opcode.Opcode, mniName string, ops []opcode.Value, ip uint32) error {
	w := widthFor(op)

	switch op {
	case opcode.MOV:
		val, err := v.read(ops[1], 4)
		if err != nil {
			return err
		}
		return v.write(ops[0], val, 4)

	case opcode.MOVB:
		val, err := v.read(ops[1], 1)
		if err != nil {
			return err
		}
		return v.write(ops[0], val, 1)

	case opcode.MOVADDR:
		// MOVADDR dest, src_addr, offset: dest = mem[src_addr+offset]
		base, err := v.read(ops[1], 4)
		if err != nil {
			return err
		}
		offset, err := v.read(ops[2], 4)
		if err != nil {
			return err
		}
		raw, err := v.Mem.Read32(uint32(base + offset))
		if err != nil {
			return err
		}
		return v.write(ops[0], int32(raw), 4)

	case opcode.MOVTO:
		// MOVTO dest_addr, offset, src: mem[dest_addr+offset] = src
		base, err := v.read(ops[0], 4)
		if err != nil {
			return err
		}
		offset, err := v.read(ops[1], 4)
		if err != nil {
			return err
		}
		val, err := v.read(ops[2], 4)
		if err != nil {
			return err
		}
		return v.Mem.Write32(uint32(base+offset), uint32(val))

	case opcode.ADD, opcode.SUB, opcode.MUL, opcode.DIV,
		opcode.AND, opcode.OR, opcode.XOR, opcode.SHL, opcode.SHR:
		return v.execArith(op, ops, ip)

	case opcode.INC:
		cur, err := v.read(ops[0], w)
		if err != nil {
			return err
		}
		return v.write(ops[0], cur+1, w)

	case opcode.NOT:
		cur, err := v.read(ops[0], w)
		if err != nil {
			return err
		}
		return v.write(ops[0], ^cur, w)

	case opcode.JMP:
		target, err := v.read(ops[0], 4)
		if err != nil {
			return err
		}
		v.IP = uint32(target)
		return nil

	case opcode.CMP:
		a, err := v.read(ops[0], 4)
		if err != nil {
			return err
		}
		b, err := v.read(ops[1], 4)
		if err != nil {
			return err
		}
		v.ZeroFlag = a == b
		v.SignFlag = a < b
		return nil

	case opcode.JE, opcode.JNE, opcode.JL, opcode.JG, opcode.JLE, opcode.JGE:
		return v.execCondJump(op, ops)

	case opcode.CALL:
		target, err := v.read(ops[0], 4)
		if err != nil {
			return err
		}
		if err := v.push(int32(v.IP)); err != nil {
			return err
		}
		v.IP = uint32(target)
		return nil

	case opcode.RET:
		ret, err := v.pop()
		if err != nil {
			return err
		}
		v.IP = uint32(ret)
		return nil

	case opcode.PUSH:
		val, err := v.read(ops[0], 4)
		if err != nil {
			return err
		}
		return v.push(val)

	case opcode.POP:
		val, err := v.pop()
		if err != nil {
			return err
		}
		return v.write(ops[0], val, 4)

	case opcode.ENTER:
		n, err := v.read(ops[0], 1)
		if err != nil {
			return err
		}
		if err := v.push(v.Registers[opcode.RBP]); err != nil {
			return err
		}
		v.Registers[opcode.RBP] = v.Registers[opcode.RSP]
		v.Registers[opcode.RSP] -= n
		return nil

	case opcode.LEAVE:
		v.Registers[opcode.RSP] = v.Registers[opcode.RBP]
		old, err := v.pop()
		if err != nil {
			return err
		}
		v.Registers[opcode.RBP] = old
		return nil

	case opcode.OUT:
		return v.execOut(ops, ip)

	case opcode.COUT:
		return v.execCout(ops, ip)

	case opcode.OUTSTR:
		return v.execOutstr(ops, ip)

	case opcode.OUTCHAR:
		return v.execOutchar(ops, ip)

	case opcode.IN:
		return v.execIn(ops)

	case opcode.HLT:
		if v.Debug {
			v.logUnfreedChunks()
		}
		v.Running = false
		return nil

	case opcode.ARGC:
		return v.write(ops[0], int32(len(v.Argv)), 4)

	case opcode.GETARG:
		return v.execGetarg(ops, ip)

	case opcode.COPY:
		return v.execCopy(ops, ip)

	case opcode.FILL:
		return v.execFill(ops, ip)

	case opcode.CMP_MEM:
		return v.execCmpMem(ops, ip)

	case opcode.MALLOC:
		return v.execMalloc(ops)

	case opcode.FREE:
		return v.execFree(ops)

	case opcode.MNI:
		return v.execMNI(mniName, ops)

	default:
		return &InvalidOperandKindError{IP: ip}
	}
}

func (v *VM) execArith(op opcode.Opcode, ops []opcode.Value, ip uint32) error {
	w := widthFor(op)
	a, err := v.read(ops[0], w)
	if err != nil {
		return err
	}
	b, err := v.read(ops[1], w)
	if err != nil {
		return err
	}
	var res int32
	switch op {
	case opcode.ADD:
		res = a + b
	case opcode.SUB:
		res = a - b
	case opcode.MUL:
		res = a * b
	case opcode.DIV:
		if b == 0 {
			return &DivideByZeroError{IP: ip}
		}
		res = a / b
	case opcode.AND:
		res = a & b
	case opcode.OR:
		res = a | b
	case opcode.XOR:
		res = a ^ b
	case opcode.SHL:
		res = a << (uint32(b) & 31)
	case opcode.SHR:
		res = int32(uint32(a) >> (uint32(b) & 31))
	}
	return v.write(ops[0], res, w)
}

func (v *VM) execCondJump(op opcode.Opcode, ops []opcode.Value) error {
	var take bool
	switch op {
	case opcode.JE:
		take = v.ZeroFlag
	case opcode.JNE:
		take = !v.ZeroFlag
	case opcode.JL:
		take = v.SignFlag
	case opcode.JG:
		take = !v.ZeroFlag && !v.SignFlag
	case opcode.JLE:
		take = v.ZeroFlag || v.SignFlag
	case opcode.JGE:
		take = v.ZeroFlag || !v.SignFlag
	}
	if !take {
		return nil
	}
	target, err := v.read(ops[0], 4)
	if err != nil {
		return err
	}
	v.IP = uint32(target)
	return nil
}

func (v *VM) execOut(ops []opcode.Value, ip uint32) error {
	port, err := v.read(ops[0], 4)
	if err != nil {
		return err
	}
	w, err := v.writerForPort(port)
	if err != nil {
		return err
	}
	val := ops[1]
	if val.Type == opcode.DATA_ADDRESS || val.Type == opcode.REGISTER_AS_ADDRESS {
		addr, err := v.addressOf(val)
		if err != nil {
			return err
		}
		s, err := v.Mem.ReadCString(addr)
		if err != nil {
			return err
		}
		_, err = w.Write(s)
		return err
	}
	n, err := v.read(val, 4)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, strconv.Itoa(int(n)))
	return err
}

func (v *VM) execCout(ops []opcode.Value, ip uint32) error {
	port, err := v.read(ops[0], 4)
	if err != nil {
		return err
	}
	w, err := v.writerForPort(port)
	if err != nil {
		return err
	}
	val, err := v.read(ops[1], 4)
	if err != nil {
		return err
	}
	_, err = w.Write([]byte{byte(val)})
	return err
}

func (v *VM) execOutstr(ops []opcode.Value, ip uint32) error {
	port, err := v.read(ops[0], 4)
	if err != nil {
		return err
	}
	w, err := v.writerForPort(port)
	if err != nil {
		return err
	}
	addr, err := v.addressOf(ops[1])
	if err != nil {
		return err
	}
	n, err := v.read(ops[2], 4)
	if err != nil {
		return err
	}
	if n < 0 {
		return &NegativeLengthError{N: n, IP: ip}
	}
	data, err := v.Mem.ReadBytes(addr, uint32(n))
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (v *VM) execOutchar(ops []opcode.Value, ip uint32) error {
	port, err := v.read(ops[0], 4)
	if err != nil {
		return err
	}
	w, err := v.writerForPort(port)
	if err != nil {
		return err
	}
	addr, err := v.addressOf(ops[1])
	if err != nil {
		return err
	}
	b, err := v.Mem.ReadByte(addr)
	if err != nil {
		return err
	}
	_, err = w.Write([]byte{b})
	return err
}

func (v *VM) execIn(ops []opcode.Value) error {
	addr, err := v.addressOf(ops[0])
	if err != nil {
		return err
	}
	line, err := v.stdin.ReadString('\n')
	if err != nil && len(line) == 0 {
		line = ""
	}
	line = trimNewline(line)
	return v.Mem.WriteBytes(addr, append([]byte(line), 0))
}

func (v *VM) execGetarg(ops []opcode.Value, ip uint32) error {
	idx, err := v.read(ops[1], 4)
	if err != nil {
		return err
	}
	if idx < 0 || int(idx) >= len(v.Argv) {
		return &OutOfRangeError{Index: idx, Argc: len(v.Argv), IP: ip}
	}
	s := v.Argv[idx]
	addr, err := v.Heap.Alloc(int32(len(s) + 1))
	if err != nil {
		return err
	}
	if err := v.Mem.WriteBytes(addr, append([]byte(s), 0)); err != nil {
		return err
	}
	return v.write(ops[0], int32(addr), 4)
}

func (v *VM) execCopy(ops []opcode.Value, ip uint32) error {
	dst, err := v.addressOf(ops[0])
	if err != nil {
		return err
	}
	src, err := v.addressOf(ops[1])
	if err != nil {
		return err
	}
	n, err := v.read(ops[2], 4)
	if err != nil {
		return err
	}
	if n < 0 {
		return &NegativeLengthError{N: n, IP: ip}
	}
	return v.Mem.Copy(dst, src, uint32(n))
}

func (v *VM) execFill(ops []opcode.Value, ip uint32) error {
	dst, err := v.addressOf(ops[0])
	if err != nil {
		return err
	}
	b, err := v.read(ops[1], 1)
	if err != nil {
		return err
	}
	n, err := v.read(ops[2], 4)
	if err != nil {
		return err
	}
	if n < 0 {
		return &NegativeLengthError{N: n, IP: ip}
	}
	return v.Mem.Fill(dst, byte(b), uint32(n))
}

func (v *VM) execCmpMem(ops []opcode.Value, ip uint32) error {
	a, err := v.addressOf(ops[0])
	if err != nil {
		return err
	}
	b, err := v.addressOf(ops[1])
	if err != nil {
		return err
	}
	n, err := v.read(ops[2], 4)
	if err != nil {
		return err
	}
	if n < 0 {
		return &NegativeLengthError{N: n, IP: ip}
	}
	cmp, err := v.Mem.Compare(a, b, uint32(n))
	if err != nil {
		return err
	}
	v.ZeroFlag = cmp == 0
	v.SignFlag = cmp < 0
	return nil
}

// heapResultCode reports the stored-to-register outcome of a heap
// operation: the allocated address on success, or the negative error
// code from §7 on failure.
func heapResultCode(addr uint32, err error) int32 {
	if err == nil {
		return int32(addr)
	}
	if coder, ok := err.(interface{ Code() int32 }); ok {
		return coder.Code()
	}
	return -1
}

func (v *VM) execMalloc(ops []opcode.Value) error {
	n, err := v.read(ops[1], 4)
	if err != nil {
		return err
	}
	addr, allocErr := v.Heap.Alloc(n)
	result := heapResultCode(addr, allocErr)
	v.ZeroFlag = result == 0
	v.SignFlag = result < 0
	return v.write(ops[0], result, 4)
}

func (v *VM) execFree(ops []opcode.Value) error {
	ptr, err := v.read(ops[1], 4)
	if err != nil {
		return err
	}
	freeErr := v.Heap.Free(uint32(ptr))
	result := heapResultCode(0, freeErr)
	v.ZeroFlag = result == 0
	v.SignFlag = result < 0
	return v.write(ops[0], result, 4)
}

func (v *VM) execMNI(name string, ops []opcode.Value) error {
	return v.CallForeign(name, ops)
}

func trimNewline(s string) string {
	s = string(bytes.TrimSuffix([]byte(s), []byte("\n")))
	s = string(bytes.TrimSuffix([]byte(s), []byte("\r")))
	return s
}
