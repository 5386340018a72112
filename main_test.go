package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSource(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func TestParseArgsFlagsAfterPositional(t *testing.T) {
	f, err := parseArgs([]string{"-i", "prog.bin", "arg1", "-d", "-t"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if !f.execute || !f.debug || !f.trace {
		t.Errorf("got %+v, want execute/debug/trace all set", f)
	}
	if len(f.args) != 2 || f.args[0] != "prog.bin" || f.args[1] != "arg1" {
		t.Errorf("args = %v, want [prog.bin arg1]", f.args)
	}
}

func TestParseArgsUnknownFlag(t *testing.T) {
	if _, err := parseArgs([]string{"-z"}); err == nil {
		t.Fatal("expected error for unrecognized flag")
	}
}

func TestRunDirectHaltsCleanly(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "hello.masm", `
LBL main
HLT
`)
	code, err := runDirect([]string{src}, false, false)
	if err != nil {
		t.Fatalf("runDirect: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
}

func TestAssembleThenExecuteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "prog.masm", `
LBL main
MOV RAX 5
HLT
`)
	out := filepath.Join(dir, "prog.bin")

	if err := runAssemble([]string{src, out}, true, false); err != nil {
		t.Fatalf("runAssemble: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("assembled output missing: %v", err)
	}

	code, err := runExecute([]string{out}, false, false)
	if err != nil {
		t.Fatalf("runExecute: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
}

func TestRunAssembleMissingArgs(t *testing.T) {
	if err := runAssemble(nil, false, false); err == nil {
		t.Fatal("expected error for missing <source> <output>")
	}
}

func TestRunExecuteMissingArgs(t *testing.T) {
	if _, err := runExecute(nil, false, false); err == nil {
		t.Fatal("expected error for missing <binary>")
	}
}

func TestRunDisassembleRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "loop.masm", `
LBL main
MOV RAX 0
INC RAX
CMP RAX 3
JL #main
HLT
`)
	bin := filepath.Join(dir, "loop.bin")
	if err := runAssemble([]string{src, bin}, true, false); err != nil {
		t.Fatalf("runAssemble: %v", err)
	}

	out := filepath.Join(dir, "loop.masm.out")
	if err := runDisassemble([]string{bin, out}, false); err != nil {
		t.Fatalf("runDisassemble: %v", err)
	}
	text, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read disassembly: %v", err)
	}
	if len(text) == 0 {
		t.Fatal("expected non-empty disassembly")
	}
}
