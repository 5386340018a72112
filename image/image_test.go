package image

import (
	"testing"

	"github.com/masm-lang/masm/assembler"
	"github.com/masm-lang/masm/memory"
	"github.com/masm-lang/masm/opcode"
)

func assembleAndBuild(t *testing.T, src string) []byte {
	t.Helper()
	a := assembler.New(t.TempDir())
	out, err := a.AssembleSource("test.mas", src)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	dbg := a.EncodeDebug()
	h := opcode.Header{
		Magic:      opcode.Magic,
		Version:    opcode.SupportedVersion,
		CodeSize:   uint32(len(out.Code)),
		DataSize:   uint32(len(out.Data)),
		DbgSize:    uint32(len(dbg)),
		EntryPoint: out.Entry | opcode.AutoInitFrame,
	}
	raw := append([]byte{}, h.MarshalBinary()...)
	raw = append(raw, out.Code...)
	raw = append(raw, out.Data...)
	raw = append(raw, dbg...)
	return raw
}

func TestLoadRoundTrip(t *testing.T) {
	raw := assembleAndBuild(t, `
DB $0 "Hi"
LBL main
OUT 1 $0
HLT
`)
	mem := memory.New(memory.DefaultSize)
	img, err := Load(raw, mem)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(img.Code) == 0 {
		t.Fatal("expected non-empty code")
	}
	if !img.AutoInitFrame() {
		t.Fatal("expected auto-init-frame bit set")
	}
	got, err := mem.ReadCString(0)
	if err != nil {
		t.Fatalf("read string: %v", err)
	}
	if string(got) != "Hi" {
		t.Errorf("got %q, want %q", got, "Hi")
	}
	if addr, ok := img.Labels["main"]; !ok || addr != img.EntryIP() {
		t.Errorf("labels[main] = %v, %v; want %d", addr, ok, img.EntryIP())
	}
}

func TestLoadBadMagic(t *testing.T) {
	mem := memory.New(memory.DefaultSize)
	_, err := Load(make([]byte, opcode.HeaderSize), mem)
	if _, ok := err.(*opcode.InvalidHeaderError); !ok {
		t.Fatalf("got %T, want *opcode.InvalidHeaderError", err)
	}
}

func TestLoadTruncatedCode(t *testing.T) {
	h := opcode.Header{Magic: opcode.Magic, Version: opcode.SupportedVersion, CodeSize: 100}
	raw := h.MarshalBinary()
	mem := memory.New(memory.DefaultSize)
	_, err := Load(raw, mem)
	if _, ok := err.(*TruncatedSegmentError); !ok {
		t.Fatalf("got %T, want *TruncatedSegmentError", err)
	}
}
