package opcode

import "fmt"

// Magic is the four ASCII bytes "MASM", read as a little-endian u32.
const Magic uint32 = 0x4D53414D

// SupportedVersion is the newest image version this toolchain writes and
// reads. Lower versions are accepted when their layout is a strict
// prefix of the current one.
const SupportedVersion uint16 = 2

// HeaderSize is the fixed byte length of Header's on-disk encoding.
const HeaderSize = 4 + 2 + 2 + 4 + 4 + 4 + 4

// AutoInitFrame is the high bit of Header.EntryPoint. When set, the
// loader zeroes RBP before execution starts so the entry routine's first
// ENTER establishes the frame chain from a known-good base.
const AutoInitFrame uint32 = 1 << 31

// Header is the fixed preamble of a binary image, followed immediately
// by the code, data and debug regions it sizes.
type Header struct {
	Magic      uint32
	Version    uint16
	Reserved   uint16
	CodeSize   uint32
	DataSize   uint32
	DbgSize    uint32
	EntryPoint uint32
}

// Entry returns the code offset encoded in EntryPoint, with the
// auto-init-frame flag stripped.
func (h Header) Entry() uint32 { return h.EntryPoint &^ AutoInitFrame }

// HasAutoInitFrame reports whether EntryPoint's high bit is set.
func (h Header) HasAutoInitFrame() bool { return h.EntryPoint&AutoInitFrame != 0 }

// MarshalBinary encodes h as the fixed 24-byte little-endian preamble
// described in §3 and §6.
func (h Header) MarshalBinary() []byte {
	b := make([]byte, HeaderSize)
	putU32(b[0:4], h.Magic)
	putU16(b[4:6], h.Version)
	putU16(b[6:8], h.Reserved)
	putU32(b[8:12], h.CodeSize)
	putU32(b[12:16], h.DataSize)
	putU32(b[16:20], h.DbgSize)
	putU32(b[20:24], h.EntryPoint)
	return b
}

// InvalidHeaderError reports a header too short to parse, or whose
// magic does not match.
type InvalidHeaderError struct{ Reason string }

func (e *InvalidHeaderError) Error() string { return "opcode: invalid header: " + e.Reason }

// UnsupportedVersionError reports a header whose version exceeds
// SupportedVersion.
type UnsupportedVersionError struct{ Version uint16 }

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("opcode: unsupported image version %d", e.Version)
}

// ParseHeader decodes the fixed preamble from b, rejecting a bad magic
// or an unsupported version. A version lower than SupportedVersion is
// accepted on the assumption its layout is a strict prefix of the
// current one.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, &InvalidHeaderError{Reason: "short read"}
	}
	h := Header{
		Magic:      getU32(b[0:4]),
		Version:    getU16(b[4:6]),
		Reserved:   getU16(b[6:8]),
		CodeSize:   getU32(b[8:12]),
		DataSize:   getU32(b[12:16]),
		DbgSize:    getU32(b[16:20]),
		EntryPoint: getU32(b[20:24]),
	}
	if h.Magic != Magic {
		return Header{}, &InvalidHeaderError{Reason: fmt.Sprintf("bad magic %#x", h.Magic)}
	}
	if h.Version > SupportedVersion {
		return Header{}, &UnsupportedVersionError{Version: h.Version}
	}
	return h, nil
}

func putU32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}
func putU16(b []byte, v uint16) {
	b[0], b[1] = byte(v), byte(v>>8)
}
func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func getU16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}
