// Package vm implements the interpreter core: the fetch-decode-execute
// loop, register file, flags and the linear-memory/heap bindings that
// back every instruction's memory-bearing operands.
package vm

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/masm-lang/masm/heap"
	"github.com/masm-lang/masm/image"
	"github.com/masm-lang/masm/memory"
	"github.com/masm-lang/masm/opcode"
)

// StackSize is the number of bytes at the top of linear memory
// reserved for the descending call stack.
const StackSize = 4096

// ForeignDispatcher looks up and invokes a named foreign routine,
// passing the decoded operand list through. Implementations live in
// package mni; vm depends only on this interface to avoid an import
// cycle.
type ForeignDispatcher interface {
	Call(v *VM, name string, args []opcode.Value) error
}

// VM holds everything one interpreter invocation owns: the register
// file, flags, the fetch cursor, linear memory, the heap and the
// foreign-call trace stack. Nothing here is safe for concurrent use;
// per §5 the interpreter is single-threaded and cooperative.
type VM struct {
	Registers [opcode.Count]int32
	ZeroFlag  bool
	SignFlag  bool
	IP        uint32

	Code []byte
	Mem  *memory.Memory
	Heap *heap.Heap
	Argv []string

	MNI ForeignDispatcher

	Running    bool
	ExitStatus int
	Debug      bool

	Stdout io.Writer
	Stderr io.Writer
	stdin  *bufio.Reader

	trace []string
}

// New creates a VM over an already-populated memory and heap. Most
// callers want NewFromImage instead; New is exposed for tests that
// build a program by hand.
func New(code []byte, mem *memory.Memory, hp *heap.Heap, argv []string) *VM {
	v := &VM{
		Code:   code,
		Mem:    mem,
		Heap:   hp,
		Argv:   argv,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		stdin:  bufio.NewReader(os.Stdin),
	}
	v.Registers[opcode.RSP] = int32(uint32(mem.Len()))
	return v
}

// NewFromImage builds a VM ready to run img: code is taken as-is, the
// heap is sized to the remainder of mem after img's data region and
// StackSize bytes of stack, RSP starts at the top of mem, IP starts at
// the image's entry point, and RBP is zeroed when the image's
// auto-init-frame flag is set.
func NewFromImage(img *image.Image, mem *memory.Memory, argv []string) *VM {
	heapStart := img.DataEnd
	heapSize := uint32(0)
	if total := uint32(mem.Len()); total > heapStart+StackSize {
		heapSize = total - heapStart - StackSize
	}
	v := New(img.Code, mem, heap.New(heapStart, heapSize), argv)
	v.IP = img.EntryIP()
	if img.AutoInitFrame() {
		v.Registers[opcode.RBP] = 0
	}
	return v
}

// SetStdin overrides the reader IN consumes lines from. Tests use this
// to feed canned input without touching the process's real stdin.
func (v *VM) SetStdin(r io.Reader) { v.stdin = bufio.NewReader(r) }

// SetExitStatus lets a foreign call override HLT's reported exit
// status.
func (v *VM) SetExitStatus(code int) { v.ExitStatus = code }

// Trace returns the current foreign-call name stack, innermost last,
// for a failure diagnostic.
func (v *VM) Trace() []string { return append([]string(nil), v.trace...) }

// CallForeign looks up name in the registered dispatcher and invokes
// it, pushing name onto the trace stack for the duration of the call so
// a nested failure can report the full chain. A foreign routine that
// itself needs to dispatch another foreign call (MNI re-entrancy, per
// §4.8) should call this rather than invoking the dispatcher directly.
func (v *VM) CallForeign(name string, args []opcode.Value) error {
	if v.MNI == nil {
		return &UnknownForeignCallError{Name: name, Trace: v.Trace()}
	}
	v.trace = append(v.trace, name)
	defer func() { v.trace = v.trace[:len(v.trace)-1] }()
	return v.MNI.Call(v, name, args)
}

// Run steps the dispatch loop until HLT clears Running or an error
// terminates execution early.
func (v *VM) Run() error {
	v.Running = true
	for v.Running {
		if err := v.Step(); err != nil {
			v.Running = false
			return err
		}
	}
	return nil
}

// logUnfreedChunks reports, to Stderr, every heap chunk still marked
// used at halt. Non-fatal: a leaked allocation doesn't change the
// program's result, it's diagnostic noise for -d runs only.
func (v *VM) logUnfreedChunks() {
	unfreed := v.Heap.CheckUnfreed()
	for _, c := range unfreed {
		fmt.Fprintf(v.Stderr, "warning: unfreed allocation at 0x%08x (%d bytes)\n", c.Addr, c.Size)
	}
}

// Backtrace walks the RBP chain, returning the return address recorded
// at each frame, most recent first. It stops at a zero or
// out-of-bounds RBP, which is as far as the chain can be trusted.
func (v *VM) Backtrace() []uint32 {
	var frames []uint32
	rbp := uint32(v.Registers[opcode.RBP])
	for i := 0; i < 256; i++ {
		if rbp == 0 {
			break
		}
		ret, err := v.Mem.Read32(rbp + 4)
		if err != nil {
			break
		}
		frames = append(frames, ret)
		savedRBP, err := v.Mem.Read32(rbp)
		if err != nil || savedRBP == rbp {
			break
		}
		rbp = savedRBP
	}
	return frames
}
