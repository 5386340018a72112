package vm

import (
	"bytes"
	"testing"

	"github.com/masm-lang/masm/assembler"
	"github.com/masm-lang/masm/image"
	"github.com/masm-lang/masm/memory"
	"github.com/masm-lang/masm/opcode"
)

func buildVM(t *testing.T, src string) (*VM, *bytes.Buffer) {
	t.Helper()
	a := assembler.New(t.TempDir())
	out, err := a.AssembleSource("test.mas", src)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	h := opcode.Header{
		Magic:      opcode.Magic,
		Version:    opcode.SupportedVersion,
		CodeSize:   uint32(len(out.Code)),
		DataSize:   uint32(len(out.Data)),
		EntryPoint: out.Entry,
	}
	raw := append([]byte{}, h.MarshalBinary()...)
	raw = append(raw, out.Code...)
	raw = append(raw, out.Data...)

	mem := memory.New(memory.DefaultSize)
	img, err := image.Load(raw, mem)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	v := NewFromImage(img, mem, nil)
	var stdout bytes.Buffer
	v.Stdout = &stdout
	return v, &stdout
}

func TestHelloWorld(t *testing.T) {
	v, stdout := buildVM(t, `
DB $0 "Hi"
LBL main
OUT 1 $0
HLT
`)
	if err := v.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if stdout.String() != "Hi" {
		t.Errorf("stdout = %q, want %q", stdout.String(), "Hi")
	}
}

func TestLoopAndCompare(t *testing.T) {
	v, _ := buildVM(t, `
LBL main
MOV RAX 0
LBL loop
INC RAX
CMP RAX 3
JL #loop
HLT
`)
	if err := v.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if v.Registers[opcode.RAX] != 3 {
		t.Errorf("RAX = %d, want 3", v.Registers[opcode.RAX])
	}
	if !v.ZeroFlag || v.SignFlag {
		t.Errorf("flags = (%v, %v), want (true, false)", v.ZeroFlag, v.SignFlag)
	}
}

func TestCallRetFrame(t *testing.T) {
	v, _ := buildVM(t, `
LBL main
PUSH 7
PUSH 9
CALL #add
ADD RSP 8
HLT
LBL add
ENTER 0
MOV RAX $[RBP+8]
ADD RAX $[RBP+12]
LEAVE
RET
`)
	startRSP := v.Registers[opcode.RSP]
	if err := v.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if v.Registers[opcode.RAX] != 16 {
		t.Errorf("RAX = %d, want 16", v.Registers[opcode.RAX])
	}
	if v.Registers[opcode.RSP] != startRSP {
		t.Errorf("RSP = %d, want %d (unchanged)", v.Registers[opcode.RSP], startRSP)
	}
}

func TestHeapLifecycle(t *testing.T) {
	v, _ := buildVM(t, `
LBL main
MALLOC RAX 10
MALLOC RBX 20
FREE RCX RAX
MALLOC RDX 10
FREE RCX RBX
FREE RCX RDX
HLT
`)
	if err := v.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if v.Heap.Used() != 0 {
		t.Errorf("heap used = %d, want 0", v.Heap.Used())
	}
	if v.Heap.FreeBytes() != v.Heap.Size() {
		t.Errorf("heap free = %d, want size %d", v.Heap.FreeBytes(), v.Heap.Size())
	}
	if v.Heap.End() != v.Heap.Start() {
		t.Errorf("heap end = %d, want start %d", v.Heap.End(), v.Heap.Start())
	}
}

func TestDoubleFree(t *testing.T) {
	v, _ := buildVM(t, `
LBL main
MALLOC RAX 8
FREE RBX RAX
FREE RBX RAX
HLT
`)
	if err := v.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if v.Registers[opcode.RBX] != -1 {
		t.Errorf("RBX = %d, want -1 (AlreadyFree)", v.Registers[opcode.RBX])
	}
}

func TestMathOperandLoad(t *testing.T) {
	v, _ := buildVM(t, `
LBL main
MOV RAX 100
MOV RBX $[RAX+8]
HLT
`)
	if err := v.Mem.Write32(108, 0x11223344); err != nil {
		t.Fatalf("poke memory: %v", err)
	}
	if err := v.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if v.Registers[opcode.RBX] != int32(0x11223344) {
		t.Errorf("RBX = %#x, want %#x", uint32(v.Registers[opcode.RBX]), 0x11223344)
	}
}

func TestMovAddrLoadsRegisterOffsetAddress(t *testing.T) {
	v, _ := buildVM(t, `
LBL main
MOV RAX 100
MOV RBX 8
MOVADDR RCX RAX RBX
HLT
`)
	if err := v.Mem.Write32(108, 0x11223344); err != nil {
		t.Fatalf("poke memory: %v", err)
	}
	if err := v.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if v.Registers[opcode.RCX] != int32(0x11223344) {
		t.Errorf("RCX = %#x, want %#x", uint32(v.Registers[opcode.RCX]), 0x11223344)
	}
}

func TestMovToStoresAtRegisterOffsetAddress(t *testing.T) {
	v, _ := buildVM(t, `
LBL main
MOV RAX 100
MOV RBX 8
MOV RCX 0x11223344
MOVTO RAX RBX RCX
HLT
`)
	if err := v.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := v.Mem.Read32(108)
	if err != nil {
		t.Fatalf("read memory: %v", err)
	}
	if got != 0x11223344 {
		t.Errorf("mem[108] = %#x, want %#x", got, 0x11223344)
	}
}

func TestDivideByZeroFatal(t *testing.T) {
	v, _ := buildVM(t, `
LBL main
MOV RAX 10
MOV RBX 0
DIV RAX RBX
HLT
`)
	err := v.Run()
	if _, ok := err.(*DivideByZeroError); !ok {
		t.Fatalf("got %T (%v), want *DivideByZeroError", err, err)
	}
}

func TestPushPopRoundTrip(t *testing.T) {
	v, _ := buildVM(t, `
LBL main
PUSH 42
POP RAX
HLT
`)
	startRSP := v.Registers[opcode.RSP]
	if err := v.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if v.Registers[opcode.RAX] != 42 {
		t.Errorf("RAX = %d, want 42", v.Registers[opcode.RAX])
	}
	if v.Registers[opcode.RSP] != startRSP {
		t.Errorf("RSP = %d, want %d", v.Registers[opcode.RSP], startRSP)
	}
}

func TestUnfreedChunkLoggedUnderDebug(t *testing.T) {
	v, _ := buildVM(t, `
LBL main
MALLOC RAX 10
HLT
`)
	v.Debug = true
	var stderr bytes.Buffer
	v.Stderr = &stderr
	if err := v.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !bytes.Contains(stderr.Bytes(), []byte("unfreed allocation")) {
		t.Errorf("expected unfreed-allocation warning, got %q", stderr.String())
	}
}

func TestNoUnfreedWarningWithoutDebug(t *testing.T) {
	v, _ := buildVM(t, `
LBL main
MALLOC RAX 10
HLT
`)
	var stderr bytes.Buffer
	v.Stderr = &stderr
	if err := v.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if stderr.Len() != 0 {
		t.Errorf("expected no stderr output without -d, got %q", stderr.String())
	}
}

func TestInvalidPort(t *testing.T) {
	v, _ := buildVM(t, `
LBL main
OUT 9 1
HLT
`)
	err := v.Run()
	if _, ok := err.(*InvalidPortError); !ok {
		t.Fatalf("got %T (%v), want *InvalidPortError", err, err)
	}
}
