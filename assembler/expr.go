package assembler

import (
	"strconv"
	"strings"

	"github.com/masm-lang/masm/opcode"
)

// exprTokenKind classifies one lexical token of an address expression.
type exprTokenKind int

const (
	tokRegister exprTokenKind = iota
	tokInteger
	tokOperator
)

type exprToken struct {
	kind  exprTokenKind
	text  string
	reg   opcode.Register
	value int64
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

func isIntegerChar(c byte) bool {
	return (c >= '0' && c <= '9') || c == 'x' || c == 'X' ||
		(c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func parseInteger(text string) (int64, error) {
	v, err := strconv.ParseInt(text, 0, 64)
	if err != nil {
		return 0, &InvalidOperandError{Token: text, Why: "not an integer"}
	}
	return v, nil
}

// scanExprTokens walks an address expression's inner text character by
// character, recognising register mnemonics, integer literals and the
// nine operator tokens as it goes — the parser never needs whitespace
// between tokens (`RAX+8` and `RAX + 8` scan identically).
func scanExprTokens(expr string) ([]exprToken, error) {
	var toks []exprToken
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '>' && i+1 < len(expr) && expr[i+1] == '>':
			toks = append(toks, exprToken{kind: tokOperator, text: ">>"})
			i += 2
		case c == '<' && i+1 < len(expr) && expr[i+1] == '<':
			toks = append(toks, exprToken{kind: tokOperator, text: "<<"})
			i += 2
		case strings.IndexByte("+-*/&|^", c) >= 0:
			toks = append(toks, exprToken{kind: tokOperator, text: string(c)})
			i++
		case c >= '0' && c <= '9':
			n := i
			for n < len(expr) && isIntegerChar(expr[n]) {
				n++
			}
			text := expr[i:n]
			v, err := parseInteger(text)
			if err != nil {
				return nil, err
			}
			toks = append(toks, exprToken{kind: tokInteger, text: text, value: v})
			i = n
		default:
			n := i
			for n < len(expr) && isIdentChar(expr[n]) {
				n++
			}
			if n == i {
				return nil, &InvalidOperandError{Token: expr[i:], Why: "unexpected character in address expression"}
			}
			text := expr[i:n]
			reg, ok := opcode.LookupRegister(text)
			if !ok {
				return nil, &InvalidOperandError{Token: text, Why: "expected a register in address expression"}
			}
			toks = append(toks, exprToken{kind: tokRegister, text: text, reg: reg})
			i = n
		}
	}
	return toks, nil
}

// addressExprResult is either a MATH_OPERATOR payload, or a folded
// constant when both sides of the expression turned out to be
// immediates.
type addressExprResult struct {
	folded bool
	value  int64
	math   opcode.MathPayload
}

// parseAddressExpr parses the inside of a `$[ expr ]` operand:
// `expr := operand op operand` where each operand is a register or an
// integer and op is one of the nine source-level operators. At least
// one side must be a register, unless both are immediates, in which
// case the expression folds to a single constant at parse time.
func parseAddressExpr(expr string) (addressExprResult, error) {
	toks, err := scanExprTokens(expr)
	if err != nil {
		return addressExprResult{}, err
	}
	if len(toks) != 3 || toks[1].kind != tokOperator {
		return addressExprResult{}, &InvalidOperandError{Token: expr, Why: "expected `operand op operand`"}
	}
	left, right := toks[0], toks[2]
	op, ok := opcode.LookupMathOp(toks[1].text)
	if !ok {
		return addressExprResult{}, &InvalidOperandError{Token: toks[1].text, Why: "unknown operator"}
	}

	switch {
	case left.kind == tokInteger && right.kind == tokInteger:
		v, err := foldConstant(op, left.value, right.value)
		if err != nil {
			return addressExprResult{}, err
		}
		return addressExprResult{folded: true, value: v}, nil

	case left.kind == tokRegister && right.kind == tokRegister:
		return addressExprResult{math: opcode.MathPayload{
			BaseReg: left.reg, Op: op, OtherIsReg: true, OtherReg: right.reg,
		}}, nil

	case left.kind == tokRegister && right.kind == tokInteger:
		if !fitsInt16(right.value) {
			return addressExprResult{}, &OutOfRangeError{Token: right.text}
		}
		return addressExprResult{math: opcode.MathPayload{
			BaseReg: left.reg, Op: op, OtherIsReg: false, OtherImm: int32(right.value),
		}}, nil

	case left.kind == tokInteger && right.kind == tokRegister:
		if !fitsInt16(left.value) {
			return addressExprResult{}, &OutOfRangeError{Token: left.text}
		}
		// Immediate on the left: rewrite to the reverse form so base_reg
		// still names the register, per §4.4.
		rop, hasReverse := op.Reverse()
		if !hasReverse {
			rop = op // commutative: left/right order doesn't matter
		}
		return addressExprResult{math: opcode.MathPayload{
			BaseReg: right.reg, Op: rop, OtherIsReg: false, OtherImm: int32(left.value),
		}}, nil

	default:
		return addressExprResult{}, &InvalidOperandError{Token: expr, Why: "unreachable operand combination"}
	}
}

// fitsInt16 reports whether v fits the signed 16-bit field a
// MATH_OPERATOR payload's immediate side is packed into.
func fitsInt16(v int64) bool {
	return v >= -32768 && v <= 32767
}

func foldConstant(op opcode.MathOp, a, b int64) (int64, error) {
	switch op {
	case opcode.MOpAdd:
		return a + b, nil
	case opcode.MOpSub:
		return a - b, nil
	case opcode.MOpMul:
		return a * b, nil
	case opcode.MOpDiv:
		if b == 0 {
			return 0, &InvalidOperandError{Why: "division by zero in constant address expression"}
		}
		return a / b, nil
	case opcode.MOpShr:
		return a >> uint(b), nil
	case opcode.MOpShl:
		return a << uint(b), nil
	case opcode.MOpAnd:
		return a & b, nil
	case opcode.MOpOr:
		return a | b, nil
	case opcode.MOpXor:
		return a ^ b, nil
	default:
		return 0, &InvalidOperandError{Why: "unsupported operator in constant address expression"}
	}
}
