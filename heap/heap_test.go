package heap

import "testing"

func TestAllocFreeReuse(t *testing.T) {
	h := New(0, 1024)

	a, err := h.Alloc(10)
	if err != nil {
		t.Fatalf("alloc 10: %v", err)
	}
	b, err := h.Alloc(20)
	if err != nil {
		t.Fatalf("alloc 20: %v", err)
	}
	if err := h.Free(a); err != nil {
		t.Fatalf("free a: %v", err)
	}
	c, err := h.Alloc(10)
	if err != nil {
		t.Fatalf("alloc 10 again: %v", err)
	}
	if c != a {
		t.Errorf("expected reuse of freed hole at %d, got %d", a, c)
	}
	if err := h.Free(b); err != nil {
		t.Fatalf("free b: %v", err)
	}
	if err := h.Free(c); err != nil {
		t.Fatalf("free c: %v", err)
	}

	if h.Used() != 0 {
		t.Errorf("used = %d, want 0", h.Used())
	}
	if h.FreeBytes() != h.Size() {
		t.Errorf("free = %d, want %d", h.FreeBytes(), h.Size())
	}
	if h.End() != h.Start() {
		t.Errorf("end = %d, want start %d", h.End(), h.Start())
	}
}

func TestDoubleFree(t *testing.T) {
	h := New(0, 256)

	p, err := h.Alloc(8)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if err := h.Free(p); err != nil {
		t.Fatalf("first free: %v", err)
	}

	err = h.Free(p)
	if err == nil {
		t.Fatal("second free: expected AlreadyFreeError, got nil")
	}
	var already *AlreadyFreeError
	if _, ok := err.(*AlreadyFreeError); !ok {
		t.Fatalf("second free: got %T, want *AlreadyFreeError", err)
	}
	_ = already
	if err.(*AlreadyFreeError).Code() != -1 {
		t.Errorf("code = %d, want -1", err.(*AlreadyFreeError).Code())
	}
}

func TestInvariantsAfterMixedUse(t *testing.T) {
	h := New(0, 4096)

	var ptrs []uint32
	for _, n := range []int32{16, 32, 8, 64, 4} {
		p, err := h.Alloc(n)
		if err != nil {
			t.Fatalf("alloc %d: %v", n, err)
		}
		ptrs = append(ptrs, p)
	}
	// Free every other chunk to force adjacent-free coalescing on the
	// remaining frees.
	for i := 0; i < len(ptrs); i += 2 {
		if err := h.Free(ptrs[i]); err != nil {
			t.Fatalf("free %d: %v", ptrs[i], err)
		}
	}
	for i := 1; i < len(ptrs); i += 2 {
		if err := h.Free(ptrs[i]); err != nil {
			t.Fatalf("free %d: %v", ptrs[i], err)
		}
	}

	if h.Used()+h.FreeBytes() != h.Size() {
		t.Errorf("used+free = %d, want size %d", h.Used()+h.FreeBytes(), h.Size())
	}

	chunks := h.Chunks()
	for i := 1; i < len(chunks); i++ {
		if chunks[i-1].Addr+chunks[i-1].Size > chunks[i].Addr {
			t.Errorf("chunk %d overlaps chunk %d", i-1, i)
		}
		if chunks[i-1].Free && chunks[i].Free {
			t.Errorf("chunks %d and %d are both free after defragment", i-1, i)
		}
	}
}

func TestAllocInvalidArg(t *testing.T) {
	h := New(0, 64)
	if _, err := h.Alloc(0); err == nil {
		t.Fatal("alloc 0: expected InvalidArgError")
	}
	if _, err := h.Alloc(-1); err == nil {
		t.Fatal("alloc -1: expected InvalidArgError")
	}
}

func TestAllocOutOfSpace(t *testing.T) {
	h := New(0, 16)
	if _, err := h.Alloc(17); err == nil {
		t.Fatal("alloc 17 over a 16-byte heap: expected OutOfSpaceError")
	}
}

func TestFreeUnknownPointer(t *testing.T) {
	h := New(0, 64)
	if err := h.Free(40); err == nil {
		t.Fatal("free of unallocated address: expected NotAllocatedError")
	}
}
