// Package image loads a binary image produced by the assembler into
// an interpreter-ready form: the raw code bytes, the already-scattered
// data segment, and the recovered debug label table.
package image

import (
	"fmt"
	"os"

	"github.com/masm-lang/masm/memory"
	"github.com/masm-lang/masm/opcode"
)

// TruncatedSegmentError reports an image whose declared region sizes
// run past the end of the file.
type TruncatedSegmentError struct{ Region string }

func (e *TruncatedSegmentError) Error() string {
	return fmt.Sprintf("image: truncated %s region", e.Region)
}

// MalformedRecordError reports a data or debug record that cannot be
// parsed within the bytes its region declares.
type MalformedRecordError struct{ Region string }

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("image: malformed record in %s region", e.Region)
}

// Image is a parsed binary image, ready to be handed to the
// interpreter: the header, the raw code stream, and the recovered
// label table (empty if the image carried no debug region).
type Image struct {
	Header opcode.Header
	Code   []byte
	Labels map[string]uint32

	// DataEnd is the highest address+size touched by any data record,
	// used by the interpreter to pick a default heap start when none is
	// given explicitly.
	DataEnd uint32
}

// EntryIP returns the code offset execution should begin at, with the
// auto-init-frame flag stripped out of the header's EntryPoint field.
func (img *Image) EntryIP() uint32 { return img.Header.Entry() }

// AutoInitFrame reports whether the loader should zero RBP before
// execution starts.
func (img *Image) AutoInitFrame() bool { return img.Header.HasAutoInitFrame() }

// Load validates the header, copies the code region, scatters the data
// region into mem, and recovers the debug label table if present.
func Load(raw []byte, mem *memory.Memory) (*Image, error) {
	h, err := opcode.ParseHeader(raw)
	if err != nil {
		return nil, err
	}

	pos := opcode.HeaderSize
	code, pos, err := takeRegion(raw, pos, int(h.CodeSize), "code")
	if err != nil {
		return nil, err
	}

	dataRegion, pos, err := takeRegion(raw, pos, int(h.DataSize), "data")
	if err != nil {
		return nil, err
	}
	dataEnd, err := scatterData(dataRegion, mem)
	if err != nil {
		return nil, err
	}

	labels := make(map[string]uint32)
	if h.DbgSize > 0 {
		dbgRegion, next, err := takeRegion(raw, pos, int(h.DbgSize), "debug")
		if err != nil {
			return nil, err
		}
		pos = next
		if err := parseDebug(dbgRegion, labels); err != nil {
			return nil, err
		}
	}

	if pos < len(raw) {
		fmt.Fprintf(os.Stderr, "warning: %d trailing byte(s) after image regions\n", len(raw)-pos)
	}

	return &Image{Header: h, Code: code, Labels: labels, DataEnd: dataEnd}, nil
}

func takeRegion(raw []byte, pos, size int, name string) ([]byte, int, error) {
	if size < 0 || pos+size > len(raw) {
		return nil, pos, &TruncatedSegmentError{Region: name}
	}
	return raw[pos : pos+size], pos + size, nil
}

// scatterData applies the data region's addr:u16, size:u16, bytes[size]
// records to mem, last-writer-wins on overlap, and returns the highest
// address+size touched by any record.
func scatterData(data []byte, mem *memory.Memory) (uint32, error) {
	pos := 0
	var dataEnd uint32
	for pos < len(data) {
		if pos+4 > len(data) {
			return 0, &MalformedRecordError{Region: "data"}
		}
		addr := uint32(data[pos]) | uint32(data[pos+1])<<8
		size := int(data[pos+2]) | int(data[pos+3])<<8
		pos += 4
		if pos+size > len(data) {
			return 0, &MalformedRecordError{Region: "data"}
		}
		if err := mem.WriteBytes(addr, data[pos:pos+size]); err != nil {
			return 0, err
		}
		if end := addr + uint32(size); end > dataEnd {
			dataEnd = end
		}
		pos += size
	}
	return dataEnd, nil
}

// parseDebug decodes the debug region's (name\0, address:i32) records
// into labels.
func parseDebug(data []byte, labels map[string]uint32) error {
	pos := 0
	for pos < len(data) {
		nul := pos
		for nul < len(data) && data[nul] != 0 {
			nul++
		}
		if nul >= len(data) {
			return &MalformedRecordError{Region: "debug"}
		}
		name := string(data[pos:nul])
		pos = nul + 1
		if pos+4 > len(data) {
			return &MalformedRecordError{Region: "debug"}
		}
		addr := uint32(data[pos]) | uint32(data[pos+1])<<8 | uint32(data[pos+2])<<16 | uint32(data[pos+3])<<24
		labels[name] = addr
		pos += 4
	}
	return nil
}
