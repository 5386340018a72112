// main.go - CLI entry point for the assembler/interpreter toolchain.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/masm-lang/masm/assembler"
	"github.com/masm-lang/masm/debugger"
	"github.com/masm-lang/masm/disasm"
	"github.com/masm-lang/masm/image"
	"github.com/masm-lang/masm/memory"
	"github.com/masm-lang/masm/mni"
	"github.com/masm-lang/masm/opcode"
	"github.com/masm-lang/masm/vm"
)

// cliFlags is the result of hand-scanning argv for recognized flag
// tokens, independent of where they fall relative to positional
// arguments.
type cliFlags struct {
	assemble bool
	execute  bool
	disasm   bool
	debug    bool
	dbgData  bool
	trace    bool
	help     bool
	args     []string
}

// parseArgs scans argv for the CLI's boolean flags wherever they
// appear. The stdlib flag package stops scanning at the first
// non-flag token, which can't express this CLI's documented grammar
// of flags trailing positional arguments (e.g. "masm -i prog.bin
// arg1 -d"): anything not recognized as a flag is treated as
// positional, in the order it was seen.
func parseArgs(argv []string) (cliFlags, error) {
	var f cliFlags
	for _, tok := range argv {
		switch tok {
		case "-c":
			f.assemble = true
		case "-i":
			f.execute = true
		case "-u":
			f.disasm = true
		case "-d", "--debug":
			f.debug = true
		case "-g", "--dbg_data":
			f.dbgData = true
		case "-t", "--trace":
			f.trace = true
		case "-h", "--help":
			f.help = true
		default:
			if tok != "-" && strings.HasPrefix(tok, "-") {
				return cliFlags{}, fmt.Errorf("unknown flag %q", tok)
			}
			f.args = append(f.args, tok)
		}
	}
	return f, nil
}

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  masm -c <source> <output> [-g] [-d]       assemble source to binary")
	fmt.Println("  masm -i <binary> [args...] [-t] [-d]      execute a binary")
	fmt.Println("  masm -u <binary> [decompiled-output] [-d] disassemble a binary")
	fmt.Println("  masm <file.masm> [args...] [-d]           assemble and run directly")
}

func main() {
	f, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if f.help {
		usage()
		os.Exit(0)
	}

	modeCount := 0
	if f.assemble {
		modeCount++
	}
	if f.execute {
		modeCount++
	}
	if f.disasm {
		modeCount++
	}
	if modeCount > 1 {
		fmt.Fprintln(os.Stderr, "Error: select at most one of -c, -i, -u")
		os.Exit(1)
	}

	var exitCode int
	switch {
	case f.assemble:
		err = runAssemble(f.args, f.dbgData, f.debug)
	case f.execute:
		exitCode, err = runExecute(f.args, f.trace, f.debug)
	case f.disasm:
		err = runDisassemble(f.args, f.debug)
	default:
		if len(f.args) == 0 {
			usage()
			os.Exit(1)
		}
		exitCode, err = runDirect(f.args, f.trace, f.debug)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

// runAssemble implements -c: assemble a source file to a binary image.
func runAssemble(args []string, dbgData, debug bool) error {
	if len(args) < 2 {
		return fmt.Errorf("-c requires <source> <output>")
	}
	source, output := args[0], args[1]

	a := assembler.New(filepath.Dir(source))
	a.SetDebug(debug)
	out, err := a.AssembleFile(source)
	if err != nil {
		return err
	}

	h := opcode.Header{
		Magic:      opcode.Magic,
		Version:    opcode.SupportedVersion,
		CodeSize:   uint32(len(out.Code)),
		DataSize:   uint32(len(out.Data)),
		EntryPoint: out.Entry,
	}
	var dbg []byte
	if dbgData {
		dbg = a.EncodeDebug()
		h.DbgSize = uint32(len(dbg))
	}

	var buf []byte
	buf = append(buf, h.MarshalBinary()...)
	buf = append(buf, out.Code...)
	buf = append(buf, out.Data...)
	buf = append(buf, dbg...)

	return os.WriteFile(output, buf, 0644)
}

// runExecute implements -i: load and run an already-assembled binary.
func runExecute(args []string, trace, debug bool) (int, error) {
	if len(args) < 1 {
		return 1, fmt.Errorf("-i requires <binary>")
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return 1, err
	}
	return runImage(raw, args[1:], trace, debug)
}

// runDirect implements the no-flag form: assemble a source file in
// memory and run it immediately, without writing a binary to disk.
func runDirect(args []string, trace, debug bool) (int, error) {
	source := args[0]
	a := assembler.New(filepath.Dir(source))
	a.SetDebug(debug)
	out, err := a.AssembleFile(source)
	if err != nil {
		return 1, err
	}

	h := opcode.Header{
		Magic:      opcode.Magic,
		Version:    opcode.SupportedVersion,
		CodeSize:   uint32(len(out.Code)),
		DataSize:   uint32(len(out.Data)),
		EntryPoint: out.Entry,
	}
	var raw []byte
	raw = append(raw, h.MarshalBinary()...)
	raw = append(raw, out.Code...)
	raw = append(raw, out.Data...)

	return runImage(raw, args[1:], trace, debug)
}

// runImage loads raw as a binary image, builds a VM over it and runs
// it to completion, printing the register dump and, when asked, a
// backtrace on a terminating error. The returned int is the process
// exit status: 1 on a reported runtime error, or the program's own
// ExitStatus on a clean HLT.
func runImage(raw []byte, progArgs []string, trace, debug bool) (int, error) {
	mem := memory.New(memory.DefaultSize)
	img, err := image.Load(raw, mem)
	if err != nil {
		return 1, err
	}

	machine := vm.NewFromImage(img, mem, progArgs)
	machine.Debug = debug

	registry := mni.New()
	registry.RegisterDefaults()
	machine.MNI = registry
	defer registry.Close()

	if debug {
		dbg, err := debugger.New(machine, img.Labels)
		if err != nil {
			return 1, err
		}
		if runErr := dbg.Run(); runErr != nil {
			reportRuntimeError(machine, runErr, trace)
			return 1, nil
		}
		return machine.ExitStatus, nil
	}

	if runErr := machine.Run(); runErr != nil {
		reportRuntimeError(machine, runErr, trace)
		return 1, nil
	}
	return machine.ExitStatus, nil
}

// reportRuntimeError prints the failing instruction's error and a full
// register dump, per the dispatcher's error-handling contract, and
// optionally a backtrace reconstructed by walking RBP.
func reportRuntimeError(v *vm.VM, err error, trace bool) {
	fmt.Fprintf(os.Stderr, "runtime error: %v\n", err)
	fmt.Fprintln(os.Stderr, "registers:")
	for i := 0; i < opcode.Count; i++ {
		fmt.Fprintf(os.Stderr, "  %-4s = %d\n", opcode.Register(i).String(), v.Registers[i])
	}
	fmt.Fprintf(os.Stderr, "  IP = 0x%08x  ZF = %v  SF = %v\n", v.IP, v.ZeroFlag, v.SignFlag)

	if trace {
		frames := v.Backtrace()
		if len(frames) == 0 {
			fmt.Fprintln(os.Stderr, "stack trace: (no frames)")
			return
		}
		fmt.Fprintln(os.Stderr, "stack trace:")
		for i, addr := range frames {
			fmt.Fprintf(os.Stderr, "  #%d 0x%08x\n", i, addr)
		}
	}
}

// runDisassemble implements -u: render a binary's code region back
// into source-like text, either to stdout or to the named output file.
func runDisassemble(args []string, debug bool) error {
	if len(args) < 1 {
		return fmt.Errorf("-u requires <binary>")
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	mem := memory.New(memory.DefaultSize)
	img, err := image.Load(raw, mem)
	if err != nil {
		return err
	}

	lines, err := disasm.Disassemble(img.Code, img.Labels)
	if err != nil {
		return err
	}
	text := disasm.String(lines, img.Labels)

	if len(args) >= 2 {
		return os.WriteFile(args[1], []byte(text), 0644)
	}
	fmt.Print(text)
	return nil
}

