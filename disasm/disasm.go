// Package disasm renders a code region back into source-like text,
// reusing the opcode package's operand codec so its output never
// drifts from what the assembler actually emits.
package disasm

import (
	"fmt"
	"strings"

	"github.com/masm-lang/masm/opcode"
)

// Line is one decoded instruction: its starting address, the textual
// form of its mnemonic and operands, and its encoded byte length.
type Line struct {
	Addr uint32
	Text string
	Size int
}

// Disassemble walks code from address 0, decoding one instruction per
// line. labels, if non-nil, is consulted to print `#name` in place of
// a bare hex address for any LABEL_ADDRESS operand whose value it
// contains (typically the image's Labels); its inverse is built once
// here.
func Disassemble(code []byte, labels map[string]uint32) ([]Line, error) {
	names := invert(labels)
	var lines []Line
	pos := 0
	for pos < len(code) {
		addr := uint32(pos)
		op := opcode.Opcode(code[pos])
		start := pos
		pos++

		var text string
		var err error
		if op == opcode.MNI {
			text, pos, err = disassembleMNI(code, pos, names)
		} else {
			text, pos, err = disassembleFixed(op, code, pos, names)
		}
		if err != nil {
			return lines, err
		}
		lines = append(lines, Line{Addr: addr, Text: text, Size: pos - start})
	}
	return lines, nil
}

// String renders lines the way the CLI's -u mode writes them to a
// decompiled-output file: one instruction per line, prefixed with its
// address and, where known, its label.
func String(lines []Line, labels map[string]uint32) string {
	names := invert(labels)
	var b strings.Builder
	for _, ln := range lines {
		if name, ok := names[ln.Addr]; ok {
			fmt.Fprintf(&b, "LBL %s\n", name)
		}
		fmt.Fprintf(&b, "%08x: %s\n", ln.Addr, ln.Text)
	}
	return b.String()
}

func invert(labels map[string]uint32) map[uint32]string {
	names := make(map[uint32]string, len(labels))
	for name, addr := range labels {
		names[addr] = name
	}
	return names
}

func disassembleFixed(op opcode.Opcode, code []byte, pos int, names map[uint32]string) (string, int, error) {
	arity := op.Arity()
	operands := make([]string, arity)
	for i := 0; i < arity; i++ {
		val, next, err := opcode.DecodeValue(code, pos)
		if err != nil {
			return "", pos, err
		}
		operands[i] = formatOperand(val, names)
		pos = next
	}
	if arity == 0 {
		return op.String(), pos, nil
	}
	return op.String() + " " + strings.Join(operands, " "), pos, nil
}

func disassembleMNI(code []byte, pos int, names map[uint32]string) (string, int, error) {
	nameEnd := pos
	for nameEnd < len(code) && code[nameEnd] != 0 {
		nameEnd++
	}
	if nameEnd >= len(code) {
		return "", pos, fmt.Errorf("disasm: truncated MNI name at %d", pos)
	}
	fnName := string(code[pos:nameEnd])
	pos = nameEnd + 1

	var operands []string
	for {
		val, next, err := opcode.DecodeValue(code, pos)
		if err != nil {
			return "", pos, err
		}
		pos = next
		if val.Type == opcode.NONE {
			break
		}
		operands = append(operands, formatOperand(val, names))
	}
	text := "MNI " + fnName
	if len(operands) > 0 {
		text += " " + strings.Join(operands, " ")
	}
	return text, pos, nil
}

func formatOperand(val opcode.Value, names map[uint32]string) string {
	switch val.Type {
	case opcode.REGISTER:
		return opcode.Register(val.Raw).String()
	case opcode.IMMEDIATE:
		return fmt.Sprintf("%d", val.Int32())
	case opcode.LABEL_ADDRESS:
		if name, ok := names[val.Raw]; ok {
			return "#" + name
		}
		return fmt.Sprintf("#0x%x", val.Raw)
	case opcode.DATA_ADDRESS:
		return fmt.Sprintf("$%d", val.Raw)
	case opcode.REGISTER_AS_ADDRESS:
		return "$" + opcode.Register(val.Raw).String()
	case opcode.MATH_OPERATOR:
		return formatMath(val)
	default:
		return "?"
	}
}

func formatMath(val opcode.Value) string {
	other := ""
	if val.Math.OtherIsReg {
		other = val.Math.OtherReg.String()
	} else {
		other = fmt.Sprintf("%d", val.Math.OtherImm)
	}
	return fmt.Sprintf("$[%s %s %s]", val.Math.BaseReg, val.Math.Op, other)
}
