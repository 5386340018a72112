package assembler

import (
	"os"
	"testing"

	"github.com/masm-lang/masm/opcode"
)

func assembleSrc(t *testing.T, src string) *Assembled {
	t.Helper()
	a := New(t.TempDir())
	out, err := a.AssembleSource("test.mas", src)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return out
}

func TestHelloWorld(t *testing.T) {
	out := assembleSrc(t, `
DB $0 "Hi"
LBL main
OUT 1 $0
HLT
`)
	if len(out.Code) == 0 {
		t.Fatal("expected non-empty code region")
	}
	if len(out.Data) == 0 {
		t.Fatal("expected non-empty data region")
	}
}

func TestMissingEntryPoint(t *testing.T) {
	a := New(t.TempDir())
	_, err := a.AssembleSource("test.mas", "HLT\n")
	if err == nil {
		t.Fatal("expected MissingEntryPointError")
	}
	if _, ok := err.(*MissingEntryPointError); !ok {
		t.Fatalf("got %T, want *MissingEntryPointError", err)
	}
}

func TestUnknownOpcode(t *testing.T) {
	a := New(t.TempDir())
	_, err := a.AssembleSource("test.mas", "LBL main\nFROBNICATE RAX\n")
	if _, ok := err.(*UnknownOpcodeError); !ok {
		t.Fatalf("got %v (%T), want *UnknownOpcodeError", err, err)
	}
}

func TestUnknownLabel(t *testing.T) {
	a := New(t.TempDir())
	_, err := a.AssembleSource("test.mas", "LBL main\nJMP #nowhere\nHLT\n")
	if _, ok := err.(*UnknownLabelError); !ok {
		t.Fatalf("got %v (%T), want *UnknownLabelError", err, err)
	}
}

func TestLoopAndCompareSizing(t *testing.T) {
	out := assembleSrc(t, `
LBL main
LBL loop
INC RAX
CMP RAX 3
JL #loop
HLT
`)
	// INC RAX: opcode + type byte + 1-byte register = 3
	// CMP RAX 3: opcode + (type+1) + (type+1 immediate) = 5
	// JL #loop: opcode + (type+4 label) = 6
	// HLT: opcode only = 1
	want := 3 + 5 + 6 + 1
	if len(out.Code) != want {
		t.Errorf("code size = %d, want %d", len(out.Code), want)
	}
}

func TestCallRetFrameSizing(t *testing.T) {
	out := assembleSrc(t, `
LBL main
PUSH 7
PUSH 9
CALL #add
HLT
LBL add
ENTER 0
LEAVE
RET
`)
	if len(out.Code) == 0 {
		t.Fatal("expected non-empty code")
	}
	// The callee's body, after HLT, must be emitted: look for its RET.
	if _, ok := seek(out.Code, opcode.RET); !ok {
		t.Fatal("expected a RET opcode byte somewhere in the emitted code")
	}
}

func seek(code []byte, target opcode.Opcode) (int, bool) {
	for i, b := range code {
		if opcode.Opcode(b) == target {
			return i, true
		}
	}
	return 0, false
}

func TestMathOperandImmediateOutOfRange(t *testing.T) {
	_, err := parseAddressExpr("RAX+100000")
	if _, ok := err.(*OutOfRangeError); !ok {
		t.Fatalf("got %v (%T), want *OutOfRangeError", err, err)
	}
	_, err = parseAddressExpr("100000-RAX")
	if _, ok := err.(*OutOfRangeError); !ok {
		t.Fatalf("got %v (%T), want *OutOfRangeError", err, err)
	}
}

func TestMovAddrMovToSizing(t *testing.T) {
	out := assembleSrc(t, `
LBL main
MOVADDR RAX RBX RCX
MOVTO RBX RCX RAX
HLT
`)
	// MOVADDR/MOVTO take three register operands: opcode + 3*(type byte + 1-byte register) = 7
	want := 7 + 7 + 1
	if len(out.Code) != want {
		t.Errorf("code size = %d, want %d", len(out.Code), want)
	}
}

func TestMathOperandFoldsConstant(t *testing.T) {
	a := New(t.TempDir())
	res, err := parseAddressExpr("4+4")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !res.folded || res.value != 8 {
		t.Errorf("got %+v, want folded constant 8", res)
	}
	_ = a
}

func TestMathOperandRegisterOffset(t *testing.T) {
	res, err := parseAddressExpr("RAX+8")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.folded {
		t.Fatal("expected a MATH_OPERATOR payload, not a folded constant")
	}
	if res.math.BaseReg != opcode.RAX || res.math.Op != opcode.MOpAdd || res.math.OtherImm != 8 {
		t.Errorf("got %+v", res.math)
	}
}

func TestMathOperandReverseForm(t *testing.T) {
	res, err := parseAddressExpr("8-RAX")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.math.BaseReg != opcode.RAX || res.math.Op != opcode.MOpBSub || res.math.OtherImm != 8 {
		t.Errorf("got %+v, want base RAX op BSUB other 8", res.math)
	}
}

func TestEnterZeroOperandDefault(t *testing.T) {
	a := New(t.TempDir())
	ins, err := a.buildInstruction(opcode.ENTER, nil, Pos{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(ins.Operands) != 1 || ins.Operands[0].Type != opcode.IMMEDIATE || ins.Operands[0].Width != 1 {
		t.Errorf("got %+v, want one IMMEDIATE width-1 operand", ins.Operands)
	}
}

func TestIncludeIdempotentNoOp(t *testing.T) {
	dir := t.TempDir()
	helper := dir + "/helper.mas"
	if err := writeFile(helper, "LBL helper\n"); err != nil {
		t.Fatalf("write helper: %v", err)
	}
	mainPath := dir + "/main.mas"
	// "helper" has no directory separator, so it resolves under the
	// stdlib root (dir) with the .mas extension appended.
	src := "#include \"helper\"\n#include \"helper\"\nLBL main\nHLT\n"
	if err := writeFile(mainPath, src); err != nil {
		t.Fatalf("write main: %v", err)
	}

	a := New(dir)
	out, err := a.AssembleFile(mainPath)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(out.Code) == 0 {
		t.Fatal("expected non-empty code")
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
