// Package assembler lowers the assembly's source text to a binary
// image: the lexer/trimmer, include resolver, address-expression
// parser, operand resolver and the two-pass front end that drives them
// all live here.
package assembler

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/masm-lang/masm/opcode"
)

// dataRecord is one (addr, size, bytes) tuple of the image's data
// region, per §6.
type dataRecord struct {
	addr  uint16
	bytes []byte
}

type sourceLine struct {
	pos  Pos
	text string
}

// Assembler holds the state of one assemble run: the label table, the
// pending data records and the instruction list, plus the debug flag
// that gates the diagnostic prints a faithful reimplementation of the
// teacher's own `-d` tracing would produce.
type Assembler struct {
	labels map[string]uint32
	data   []dataRecord

	includes *includeResolver
	debug    bool

	address      uint32       // running code offset, valid during both passes
	pendingLines []sourceLine // the flattened source, shared by parsePass and emitPass
}

// New creates an Assembler. stdlibRoot is the directory dotted
// #include identifiers are resolved under.
func New(stdlibRoot string) *Assembler {
	return &Assembler{
		labels:   make(map[string]uint32),
		includes: newIncludeResolver(stdlibRoot),
	}
}

// SetDebug enables verbose tracing to stderr, mirroring the CLI's -d
// flag.
func (a *Assembler) SetDebug(v bool) { a.debug = v }

func (a *Assembler) tracef(format string, args ...any) {
	if a.debug {
		fmt.Fprintf(os.Stderr, "[asm] "+format+"\n", args...)
	}
}

// Assembled is the output of a successful assemble run: the encoded
// code region, the encoded data region and, optionally, the debug
// label table, ready to be wrapped in a binary image.
type Assembled struct {
	Code  []byte
	Data  []byte
	Entry uint32
	Debug []byte // not filled in by AssembleFile/AssembleSource; see EncodeDebug
}

// AssembleFile reads path and every file it transitively #includes,
// and assembles the result.
func (a *Assembler) AssembleFile(path string) (*Assembled, error) {
	lines, err := a.flatten(path)
	if err != nil {
		return nil, err
	}
	return a.assembleLines(lines)
}

// AssembleSource assembles in-memory source text as if it were a file
// named name (used for error positions and for relative #include
// resolution).
func (a *Assembler) AssembleSource(name, source string) (*Assembled, error) {
	lines := splitLines(name, source)
	resolved, err := a.expandIncludes(lines)
	if err != nil {
		return nil, err
	}
	return a.assembleLines(resolved)
}

func splitLines(file, source string) []sourceLine {
	raw := strings.Split(source, "\n")
	out := make([]sourceLine, len(raw))
	for i, text := range raw {
		out[i] = sourceLine{pos: Pos{File: file, Line: i + 1}, text: text}
	}
	return out
}

// flatten reads path and recursively splices in every #include target,
// respecting the include resolver's visited-file dedup.
func (a *Assembler) flatten(path string) ([]sourceLine, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return a.expandIncludes(splitLines(path, string(content)))
}

func (a *Assembler) expandIncludes(lines []sourceLine) ([]sourceLine, error) {
	var out []sourceLine
	for _, ln := range lines {
		trimmed := stripComment(ln.text)
		if isBlankOrComment(trimmed) {
			continue
		}
		if target, ok := includeTarget(trimmed); ok {
			path, shouldRead, err := a.includes.resolve(target, ln.pos.File)
			if err != nil {
				return nil, err
			}
			if !shouldRead {
				continue // idempotent no-op: already visited
			}
			sub, err := a.flatten(path)
			if err != nil {
				return nil, fmt.Errorf("%s: including %q: %w", ln.pos, target, err)
			}
			out = append(out, sub...)
			continue
		}
		out = append(out, sourceLine{pos: ln.pos, text: trimmed})
	}
	return out, nil
}

func includeTarget(trimmed string) (string, bool) {
	const prefix = "#include"
	if !strings.HasPrefix(trimmed, prefix) {
		return "", false
	}
	rest := strings.TrimSpace(trimmed[len(prefix):])
	if len(rest) < 2 || rest[0] != '"' || rest[len(rest)-1] != '"' {
		return "", false
	}
	return rest[1 : len(rest)-1], true
}

// assembleLines runs the two logical passes over an already-flattened,
// comment-stripped, blank-line-free line stream.
func (a *Assembler) assembleLines(lines []sourceLine) (*Assembled, error) {
	a.pendingLines = lines
	if err := a.parsePass(lines); err != nil {
		return nil, err
	}
	if _, ok := a.labels["main"]; !ok {
		return nil, &MissingEntryPointError{}
	}
	code, err := a.emitPass()
	if err != nil {
		return nil, err
	}
	return &Assembled{Code: code, Data: a.encodeData(), Entry: a.labels["main"]}, nil
}

// parsePass classifies every line, records labels at their final code
// address, collects DB data records and advances the code address by
// the encoded size of every regular mnemonic. Because every operand type's width other
// than a label reference's own folding is knowable without the label
// table being complete, sizes computed here already match what
// emitPass will produce.
func (a *Assembler) parsePass(lines []sourceLine) error {
	a.address = 0
	for _, ln := range lines {
		fields := fields(ln.text)
		if len(fields) == 0 {
			continue
		}
		word := fields[0]

		switch {
		case strings.HasSuffix(word, ":") && len(fields) == 1:
			// tolerate a bare `name:` label form in addition to `LBL name`
			name := strings.TrimSuffix(word, ":")
			a.labels[name] = a.address
			a.tracef("label #%s = %d", name, a.address)
			continue
		case strings.EqualFold(word, "LBL"):
			if len(fields) != 2 {
				return &InvalidOperandError{Pos: ln.pos, Token: ln.text, Why: "LBL takes exactly one name"}
			}
			a.labels[fields[1]] = a.address
			a.tracef("label #%s = %d", fields[1], a.address)
			continue
		case strings.EqualFold(word, "DB"):
			rec, err := a.parseDB(fields, ln.pos)
			if err != nil {
				return err
			}
			a.data = append(a.data, rec)
			continue
		}

		op, ok := opcode.Lookup(word)
		if !ok || op == opcode.LBL || op == opcode.DB {
			return &UnknownOpcodeError{Pos: ln.pos, Word: word}
		}
		operandTokens := fields[1:]
		size, err := a.instructionSize(op, operandTokens, ln.pos)
		if err != nil {
			return err
		}
		a.address += uint32(size)
	}
	return nil
}

// emitPass walks the same flattened source parsePass saw, now that
// every label is known, resolving each operand eagerly (so forward
// references need no back-patching) and appending the encoded
// instruction bytes.
func (a *Assembler) emitPass() ([]byte, error) {
	var buf bytes.Buffer
	for _, ln := range a.pendingLines {
		fields := fields(ln.text)
		if len(fields) == 0 {
			continue
		}
		word := fields[0]
		if strings.HasSuffix(word, ":") && len(fields) == 1 {
			continue
		}
		if strings.EqualFold(word, "LBL") || strings.EqualFold(word, "DB") {
			continue
		}

		op, _ := opcode.Lookup(word)
		ins, err := a.buildInstruction(op, fields[1:], ln.pos)
		if err != nil {
			return nil, err
		}
		ins.Emit(&buf)
	}
	return buf.Bytes(), nil
}

func (a *Assembler) buildInstruction(op opcode.Opcode, operandTokens []string, pos Pos) (Instruction, error) {
	if op == opcode.MNI {
		if len(operandTokens) == 0 {
			return Instruction{}, &InvalidOperandError{Pos: pos, Token: "", Why: "MNI requires a Module.Function name"}
		}
		name := operandTokens[0]
		values := make([]opcode.Value, 0, len(operandTokens)-1)
		for _, tok := range operandTokens[1:] {
			v, err := a.resolveOperand(tok, pos)
			if err != nil {
				return Instruction{}, err
			}
			values = append(values, v)
		}
		return Instruction{Op: op, MNIName: name, Operands: values}, nil
	}

	if op == opcode.ENTER && len(operandTokens) == 0 {
		return Instruction{Op: op, Operands: []opcode.Value{{Type: opcode.IMMEDIATE, Width: 1, Raw: 0}}}, nil
	}

	values := make([]opcode.Value, 0, len(operandTokens))
	for _, tok := range operandTokens {
		v, err := a.resolveOperand(tok, pos)
		if err != nil {
			return Instruction{}, err
		}
		values = append(values, v)
	}
	return Instruction{Op: op, Operands: values}, nil
}

// instructionSize mirrors buildInstruction's shape but only computes
// byte widths, tolerating forward label references (a label's width is
// always 4 regardless of whether it has been defined yet).
func (a *Assembler) instructionSize(op opcode.Opcode, operandTokens []string, pos Pos) (int, error) {
	size := 1
	if op == opcode.MNI {
		if len(operandTokens) == 0 {
			return 0, &InvalidOperandError{Pos: pos, Why: "MNI requires a Module.Function name"}
		}
		size += len(operandTokens[0]) + 1
		for _, tok := range operandTokens[1:] {
			w, err := a.operandWidth(tok, pos)
			if err != nil {
				return 0, err
			}
			size += 1 + int(w)
		}
		return size + 1, nil // NONE terminator
	}
	if op == opcode.ENTER && len(operandTokens) == 0 {
		return size + 1 + 1, nil
	}
	for _, tok := range operandTokens {
		w, err := a.operandWidth(tok, pos)
		if err != nil {
			return 0, err
		}
		size += 1 + int(w)
	}
	return size, nil
}

// operandWidth computes the width a token will encode to, without
// requiring a `#label` reference to already be defined.
func (a *Assembler) operandWidth(token string, pos Pos) (byte, error) {
	if strings.HasPrefix(token, "#") {
		return 4, nil
	}
	v, err := a.resolveOperand(token, pos)
	if err != nil {
		return 0, err
	}
	if v.Type == opcode.MATH_OPERATOR {
		return 3, nil
	}
	return v.Width, nil
}

// parseDB parses `DB $<n> "string"` into a data record. The escaped
// string is NUL-terminated when written to the image.
func (a *Assembler) parseDB(fields []string, pos Pos) (dataRecord, error) {
	if len(fields) < 3 || !strings.HasPrefix(fields[1], "$") {
		return dataRecord{}, &InvalidOperandError{Pos: pos, Token: strings.Join(fields, " "), Why: "expected DB $<n> \"string\""}
	}
	addr, err := strconv.ParseUint(fields[1][1:], 0, 16)
	if err != nil {
		return dataRecord{}, &OutOfRangeError{Pos: pos, Token: fields[1]}
	}
	raw := strings.Join(fields[2:], " ")
	if len(raw) < 2 || raw[0] != '"' || raw[len(raw)-1] != '"' {
		return dataRecord{}, &InvalidOperandError{Pos: pos, Token: raw, Why: "expected a quoted string"}
	}
	processed := unquote(raw)
	payload := append([]byte(processed), 0)
	return dataRecord{addr: uint16(addr), bytes: payload}, nil
}

// encodeData writes the pending data records in the (addr:u16,
// size:u16, bytes[size]) repeated-tuple format of §6, in the order
// they were declared so later-declared overlapping records win, per
// the last-writer-wins overlap rule.
func (a *Assembler) encodeData() []byte {
	var buf bytes.Buffer
	for _, rec := range a.data {
		var hdr [4]byte
		hdr[0], hdr[1] = byte(rec.addr), byte(rec.addr>>8)
		size := uint16(len(rec.bytes))
		hdr[2], hdr[3] = byte(size), byte(size>>8)
		buf.Write(hdr[:])
		buf.Write(rec.bytes)
	}
	return buf.Bytes()
}

// EncodeDebug builds the optional (name\0, address:i32) debug region
// from the final label table, for the -g CLI flag.
func (a *Assembler) EncodeDebug() []byte {
	names := make([]string, 0, len(a.labels))
	for name := range a.labels {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic output
	var buf bytes.Buffer
	for _, name := range names {
		buf.WriteString(name)
		buf.WriteByte(0)
		addr := a.labels[name]
		buf.WriteByte(byte(addr))
		buf.WriteByte(byte(addr >> 8))
		buf.WriteByte(byte(addr >> 16))
		buf.WriteByte(byte(addr >> 24))
	}
	return buf.Bytes()
}
