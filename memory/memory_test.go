package memory

import "testing"

func TestReadWrite32RoundTrip(t *testing.T) {
	m := New(64)
	if err := m.Write32(8, 0x11223344); err != nil {
		t.Fatalf("write32: %v", err)
	}
	v, err := m.Read32(8)
	if err != nil {
		t.Fatalf("read32: %v", err)
	}
	if v != 0x11223344 {
		t.Errorf("read32 = %#x, want 0x11223344", v)
	}
}

func TestOutOfBounds(t *testing.T) {
	m := New(16)
	if _, err := m.Read32(14); err == nil {
		t.Fatal("read32 at 14 in a 16-byte memory: expected OutOfBoundsError")
	}
	if err := m.Write32(13, 1); err == nil {
		t.Fatal("write32 at 13 in a 16-byte memory: expected OutOfBoundsError")
	}
}

func TestCopyFillCompare(t *testing.T) {
	m := New(32)
	if err := m.Fill(0, 0xAB, 8); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := m.Copy(16, 0, 8); err != nil {
		t.Fatalf("copy: %v", err)
	}
	cmp, err := m.Compare(0, 16, 8)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if cmp != 0 {
		t.Errorf("compare after copy = %d, want 0", cmp)
	}

	if err := m.WriteByte(16, 0xFF); err != nil {
		t.Fatalf("writebyte: %v", err)
	}
	cmp, err = m.Compare(0, 16, 8)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if cmp >= 0 {
		t.Errorf("compare after divergence = %d, want negative", cmp)
	}
}

func TestReadCString(t *testing.T) {
	m := New(16)
	if err := m.WriteBytes(0, []byte("Hi\x00")); err != nil {
		t.Fatalf("writebytes: %v", err)
	}
	s, err := m.ReadCString(0)
	if err != nil {
		t.Fatalf("readcstring: %v", err)
	}
	if string(s) != "Hi" {
		t.Errorf("readcstring = %q, want %q", s, "Hi")
	}
}
