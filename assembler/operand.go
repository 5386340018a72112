package assembler

import (
	"strconv"
	"strings"

	"github.com/masm-lang/masm/opcode"
)

func wrapPos(err error, pos Pos) error {
	switch e := err.(type) {
	case *InvalidOperandError:
		if e.Pos == (Pos{}) {
			e.Pos = pos
		}
	case *OutOfRangeError:
		if e.Pos == (Pos{}) {
			e.Pos = pos
		}
	}
	return err
}

// resolveOperand produces a typed, fully resolved opcode.Value from a
// single source token, per §4.5's resolver rules. Labels must already
// be recorded in a.labels by the time this runs, which the two-pass
// design in assembler.go guarantees.
func (a *Assembler) resolveOperand(token string, pos Pos) (opcode.Value, error) {
	switch {
	case strings.HasPrefix(token, "#"):
		name := token[1:]
		addr, ok := a.labels[name]
		if !ok {
			return opcode.Value{}, &UnknownLabelError{Pos: pos, Label: name}
		}
		return opcode.Value{Type: opcode.LABEL_ADDRESS, Width: 4, Raw: addr}, nil

	case strings.HasPrefix(token, "$[") && strings.HasSuffix(token, "]"):
		inner := token[2 : len(token)-1]
		res, err := parseAddressExpr(inner)
		if err != nil {
			return opcode.Value{}, wrapPos(err, pos)
		}
		if res.folded {
			return opcode.Value{Type: opcode.DATA_ADDRESS, Width: 4, Raw: uint32(res.value)}, nil
		}
		return opcode.Value{Type: opcode.MATH_OPERATOR, Width: 3, Math: res.math}, nil

	case strings.HasPrefix(token, "$"):
		rest := token[1:]
		if reg, ok := opcode.LookupRegister(rest); ok {
			return opcode.Value{Type: opcode.REGISTER_AS_ADDRESS, Width: 1, Raw: uint32(reg)}, nil
		}
		n, err := strconv.ParseInt(rest, 0, 64)
		if err != nil || n < 0 {
			return opcode.Value{}, &InvalidOperandError{Pos: pos, Token: token, Why: "expected $<non-negative integer> or $Rxx"}
		}
		return opcode.Value{Type: opcode.DATA_ADDRESS, Width: 4, Raw: uint32(n)}, nil

	default:
		if strings.EqualFold(token, "RIP") {
			return opcode.Value{}, &InvalidOperandError{Pos: pos, Token: token, Why: "RIP is not addressable"}
		}
		if reg, ok := opcode.LookupRegister(token); ok {
			return opcode.Value{Type: opcode.REGISTER, Width: 1, Raw: uint32(reg)}, nil
		}
		n, err := strconv.ParseInt(token, 0, 64)
		if err != nil {
			return opcode.Value{}, &InvalidOperandError{Pos: pos, Token: token}
		}
		if n < -(1<<31) || n > (1<<31)-1 {
			return opcode.Value{}, &OutOfRangeError{Pos: pos, Token: token}
		}
		return opcode.Value{Type: opcode.IMMEDIATE, Width: opcode.WidthFor(n), Raw: uint32(int32(n))}, nil
	}
}
