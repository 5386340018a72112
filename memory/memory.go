// Package memory implements the VM's linear memory: a single
// contiguous byte array holding the data segment, the heap-managed
// region and a descending stack, per the bounds-checked access discipline
// the interpreter core depends on.
//
// The VM is single-threaded and cooperative (no instruction yields, no
// timers, no concurrent access), so unlike the teacher's MemoryBus this
// implementation carries no mutex — there is exactly one goroutine ever
// touching it.
package memory

import (
	"encoding/binary"
	"fmt"
)

// DefaultSize is the linear memory size used when a binary image does
// not otherwise constrain it.
const DefaultSize = 65536

// OutOfBoundsError reports an access whose [addr, addr+width) range
// falls outside the memory array.
type OutOfBoundsError struct {
	Addr, Width uint32
	Size        int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("memory: access [%d, %d) out of bounds for size %d", e.Addr, e.Addr+e.Width, e.Size)
}

// Memory is the interpreter's flat, bounds-checked byte array.
type Memory struct {
	bytes []byte
}

// New allocates a zeroed linear memory of size bytes.
func New(size int) *Memory {
	return &Memory{bytes: make([]byte, size)}
}

// Len reports the size of the managed array.
func (m *Memory) Len() int { return len(m.bytes) }

func (m *Memory) bounds(addr, width uint32) error {
	if uint64(addr)+uint64(width) > uint64(len(m.bytes)) {
		return &OutOfBoundsError{Addr: addr, Width: width, Size: len(m.bytes)}
	}
	return nil
}

// Read32 loads a little-endian uint32 at addr.
func (m *Memory) Read32(addr uint32) (uint32, error) {
	if err := m.bounds(addr, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.bytes[addr : addr+4]), nil
}

// Write32 stores a little-endian uint32 at addr.
func (m *Memory) Write32(addr, v uint32) error {
	if err := m.bounds(addr, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.bytes[addr:addr+4], v)
	return nil
}

// ReadByte loads a single byte at addr.
func (m *Memory) ReadByte(addr uint32) (byte, error) {
	if err := m.bounds(addr, 1); err != nil {
		return 0, err
	}
	return m.bytes[addr], nil
}

// WriteByte stores a single byte at addr.
func (m *Memory) WriteByte(addr uint32, v byte) error {
	if err := m.bounds(addr, 1); err != nil {
		return err
	}
	m.bytes[addr] = v
	return nil
}

// ReadWidth loads a width-byte little-endian unsigned value at addr.
// width must be 1, 2 or 4.
func (m *Memory) ReadWidth(addr uint32, width byte) (uint32, error) {
	if err := m.bounds(addr, uint32(width)); err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint32(m.bytes[addr]), nil
	case 2:
		return uint32(binary.LittleEndian.Uint16(m.bytes[addr : addr+2])), nil
	default:
		return binary.LittleEndian.Uint32(m.bytes[addr : addr+4]), nil
	}
}

// WriteWidth stores the low width bytes of v, little-endian, at addr.
func (m *Memory) WriteWidth(addr uint32, v uint32, width byte) error {
	if err := m.bounds(addr, uint32(width)); err != nil {
		return err
	}
	switch width {
	case 1:
		m.bytes[addr] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(m.bytes[addr:addr+2], uint16(v))
	default:
		binary.LittleEndian.PutUint32(m.bytes[addr:addr+4], v)
	}
	return nil
}

// ReadBytes copies n bytes starting at addr.
func (m *Memory) ReadBytes(addr uint32, n uint32) ([]byte, error) {
	if err := m.bounds(addr, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, m.bytes[addr:addr+n])
	return out, nil
}

// WriteBytes copies data into memory starting at addr.
func (m *Memory) WriteBytes(addr uint32, data []byte) error {
	if err := m.bounds(addr, uint32(len(data))); err != nil {
		return err
	}
	copy(m.bytes[addr:addr+uint32(len(data))], data)
	return nil
}

// ReadCString reads a NUL-terminated byte sequence starting at addr,
// returning the bytes before the terminator.
func (m *Memory) ReadCString(addr uint32) ([]byte, error) {
	var out []byte
	for a := addr; ; a++ {
		b, err := m.ReadByte(a)
		if err != nil {
			return nil, err
		}
		if b == 0 {
			return out, nil
		}
		out = append(out, b)
	}
}

// Copy implements block COPY: dst, src and n are bounds-checked before
// any bytes move, so a failing copy never partially executes.
func (m *Memory) Copy(dst, src, n uint32) error {
	if err := m.bounds(src, n); err != nil {
		return err
	}
	if err := m.bounds(dst, n); err != nil {
		return err
	}
	copy(m.bytes[dst:dst+n], m.bytes[src:src+n])
	return nil
}

// Fill implements block FILL: n bytes starting at dst are set to b.
func (m *Memory) Fill(dst uint32, b byte, n uint32) error {
	if err := m.bounds(dst, n); err != nil {
		return err
	}
	region := m.bytes[dst : dst+n]
	for i := range region {
		region[i] = b
	}
	return nil
}

// Compare implements block CMP_MEM: a length-n byte comparison between
// two regions, returning a negative, zero or positive value the way
// bytes.Compare does.
func (m *Memory) Compare(a, b, n uint32) (int, error) {
	if err := m.bounds(a, n); err != nil {
		return 0, err
	}
	if err := m.bounds(b, n); err != nil {
		return 0, err
	}
	ra, rb := m.bytes[a:a+n], m.bytes[b:b+n]
	for i := uint32(0); i < n; i++ {
		if ra[i] != rb[i] {
			if ra[i] < rb[i] {
				return -1, nil
			}
			return 1, nil
		}
	}
	return 0, nil
}

// Reset zeroes the entire array.
func (m *Memory) Reset() {
	for i := range m.bytes {
		m.bytes[i] = 0
	}
}
