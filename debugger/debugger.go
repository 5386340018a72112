// Package debugger implements the interactive single-step/breakpoint
// REPL the CLI's -d flag starts before the program's first
// instruction runs. Commands are read a
// keystroke at a time off a raw terminal so stepping doesn't require
// pressing Enter; an address argument (for setting a breakpoint) falls
// back to a normal line read, restoring cooked mode for the duration.
package debugger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/masm-lang/masm/disasm"
	"github.com/masm-lang/masm/opcode"
	"github.com/masm-lang/masm/vm"
)

// Debugger wraps a VM with breakpoint tracking and a disassembly index
// built once from its code region.
type Debugger struct {
	VM          *vm.VM
	Labels      map[string]uint32
	Breakpoints map[uint32]bool

	Out io.Writer

	lines   []disasm.Line
	byAddr  map[uint32]int
}

// New builds a Debugger over v. labels, if non-nil, is the image's
// debug label table, used to resolve #name in disassembly output.
func New(v *vm.VM, labels map[string]uint32) (*Debugger, error) {
	lines, err := disasm.Disassemble(v.Code, labels)
	if err != nil {
		return nil, err
	}
	byAddr := make(map[uint32]int, len(lines))
	for i, ln := range lines {
		byAddr[ln.Addr] = i
	}
	return &Debugger{
		VM:          v,
		Labels:      labels,
		Breakpoints: make(map[uint32]bool),
		Out:         os.Stdout,
		lines:       lines,
		byAddr:      byAddr,
	}, nil
}

// Run enters raw terminal mode and drives the command loop until the
// program halts, the user quits, or an unrecoverable error occurs. If
// stdin isn't a terminal, it falls back to line-buffered commands.
func (d *Debugger) Run() error {
	fmt.Fprintln(d.Out, "single-step monitor: s=step g=go(continue) r=registers d=disasm b=breakpoint l=list t=backtrace q=quit ?=help")
	d.showRegisters()
	d.showDisassembly(5)

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	raw := err == nil
	if raw {
		defer term.Restore(fd, oldState)
	}
	reader := bufio.NewReader(os.Stdin)

	for {
		cmd, err := d.readCommand(reader, fd, raw)
		if err != nil {
			return err
		}
		halt, err := d.dispatch(cmd, reader, fd, raw)
		if err != nil {
			fmt.Fprintf(d.Out, "error: %v\n", err)
		}
		if halt || !d.VM.Running {
			return nil
		}
	}
}

func (d *Debugger) readCommand(reader *bufio.Reader, fd int, raw bool) (byte, error) {
	if !raw {
		line, err := reader.ReadString('\n')
		if err != nil {
			return 0, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return 's', nil
		}
		return line[0], nil
	}
	b, err := reader.ReadByte()
	if err != nil {
		return 0, err
	}
	return b, nil
}

func (d *Debugger) dispatch(cmd byte, reader *bufio.Reader, fd int, raw bool) (halt bool, err error) {
	switch cmd {
	case 's':
		return d.step()
	case 'g':
		return d.goUntilStop()
	case 'r':
		d.showRegisters()
	case 'd':
		d.showDisassembly(8)
	case 'b':
		addr, ok := d.readAddress(reader, fd, raw)
		if ok {
			d.Breakpoints[addr] = !d.Breakpoints[addr]
			fmt.Fprintf(d.Out, "breakpoint at 0x%08x: %v\n", addr, d.Breakpoints[addr])
		}
	case 'l':
		d.listBreakpoints()
	case 't':
		d.showBacktrace()
	case 'q', 3: // 3 is Ctrl-C
		return true, nil
	case '?', 'h':
		fmt.Fprintln(d.Out, "s=step g=go r=registers d=disasm b=breakpoint l=list t=backtrace q=quit")
	}
	return false, nil
}

// readAddress restores cooked mode long enough to read a line (the
// address lacks a natural keystroke terminator), then returns to raw
// mode before the caller resumes dispatching single-key commands.
func (d *Debugger) readAddress(reader *bufio.Reader, fd int, raw bool) (uint32, bool) {
	var oldState *term.State
	if raw {
		oldState, _ = term.GetState(fd)
		term.Restore(fd, oldState)
	}
	fmt.Fprint(d.Out, "address> ")
	line, err := reader.ReadString('\n')
	if raw {
		term.MakeRaw(fd)
	}
	if err != nil {
		return 0, false
	}
	addr, ok := parseAddress(strings.TrimSpace(line), d.Labels)
	return addr, ok
}

func parseAddress(s string, labels map[string]uint32) (uint32, bool) {
	if s == "" {
		return 0, false
	}
	if strings.HasPrefix(s, "#") {
		if addr, ok := labels[s[1:]]; ok {
			return addr, true
		}
		return 0, false
	}
	if strings.HasPrefix(s, "$") {
		v, err := strconv.ParseUint(s[1:], 16, 32)
		return uint32(v), err == nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 32)
		return uint32(v), err == nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err == nil
}

func (d *Debugger) step() (halt bool, err error) {
	if err := d.VM.Step(); err != nil {
		return true, err
	}
	d.showDisassembly(1)
	return !d.VM.Running, nil
}

func (d *Debugger) goUntilStop() (halt bool, err error) {
	for d.VM.Running {
		if err := d.VM.Step(); err != nil {
			return true, err
		}
		if d.Breakpoints[d.VM.IP] {
			fmt.Fprintf(d.Out, "breakpoint hit at 0x%08x\n", d.VM.IP)
			d.showRegisters()
			return false, nil
		}
	}
	return true, nil
}

func (d *Debugger) showRegisters() {
	width := d.terminalWidth()
	perRow := width / 18
	if perRow < 1 {
		perRow = 1
	}
	for i := 0; i < opcode.Count; i++ {
		fmt.Fprintf(d.Out, "%-4s=%-8d", opcode.Register(i).String(), d.VM.Registers[i])
		if (i+1)%perRow == 0 {
			fmt.Fprintln(d.Out)
		}
	}
	fmt.Fprintf(d.Out, "\nIP=0x%08x ZF=%v SF=%v\n", d.VM.IP, d.VM.ZeroFlag, d.VM.SignFlag)
}

func (d *Debugger) showDisassembly(n int) {
	start, ok := d.byAddr[d.VM.IP]
	if !ok {
		fmt.Fprintf(d.Out, "(no instruction at 0x%08x)\n", d.VM.IP)
		return
	}
	for i := start; i < len(d.lines) && i < start+n; i++ {
		marker := "  "
		if d.lines[i].Addr == d.VM.IP {
			marker = "->"
		}
		fmt.Fprintf(d.Out, "%s%08x: %s\n", marker, d.lines[i].Addr, d.lines[i].Text)
	}
}

func (d *Debugger) listBreakpoints() {
	if len(d.Breakpoints) == 0 {
		fmt.Fprintln(d.Out, "(no breakpoints)")
		return
	}
	for addr, set := range d.Breakpoints {
		if set {
			fmt.Fprintf(d.Out, "0x%08x\n", addr)
		}
	}
}

func (d *Debugger) showBacktrace() {
	frames := d.VM.Backtrace()
	if len(frames) == 0 {
		fmt.Fprintln(d.Out, "(no frames)")
		return
	}
	for i, addr := range frames {
		fmt.Fprintf(d.Out, "#%d 0x%08x\n", i, addr)
	}
}

// terminalWidth queries the controlling terminal's column count, for
// wrapping the register dump to the window. 80 is used when stdout
// isn't a terminal or the ioctl fails.
func (d *Debugger) terminalWidth() int {
	ws, err := unix.IoctlGetWinsize(int(os.Stdout.Fd()), unix.TIOCGWINSZ)
	if err != nil || ws.Col == 0 {
		return 80
	}
	return int(ws.Col)
}
