// Package heap implements the interpreter's first-fit, split-on-alloc,
// coalesce-on-free allocator over a span of the VM's linear memory.
//
// Chunks are kept as a doubly linked list ordered by ascending address,
// mirroring the shape the original C++ source declares in heap.h. Go's
// collector removes the aliasing hazard that would otherwise motivate a
// pooled-arena-of-indices redesign, so pointer nodes are kept as-is.
package heap

import "fmt"

// Chunk describes one extent of the managed region, free or allocated.
type Chunk struct {
	Addr uint32
	Size uint32
	Free bool

	prev, next *Chunk
}

// Heap tracks the chunk list and aggregate counters for one managed
// region. The zero value is not usable; construct with New.
type Heap struct {
	size uint32
	used uint32
	free uint32

	start uint32
	end   uint32

	head *Chunk
	tail *Chunk
}

// New creates a heap managing a region of size bytes starting at start.
func New(start, size uint32) *Heap {
	return &Heap{
		size:  size,
		used:  0,
		free:  size,
		start: start,
		end:   start,
	}
}

// AlreadyFreeError reports a FREE of an already-free chunk. It carries
// the -1 result code the interpreter stores in a register per the heap
// error convention.
type AlreadyFreeError struct{ Addr uint32 }

func (e *AlreadyFreeError) Error() string { return fmt.Sprintf("heap: %d is already free", e.Addr) }
func (e *AlreadyFreeError) Code() int32    { return -1 }

// NotAllocatedError reports a FREE of an address that names no chunk.
type NotAllocatedError struct{ Addr uint32 }

func (e *NotAllocatedError) Error() string { return fmt.Sprintf("heap: %d was never allocated", e.Addr) }
func (e *NotAllocatedError) Code() int32    { return -2 }

// OutOfSpaceError reports an ALLOC that exceeds the heap's free space.
type OutOfSpaceError struct{ Requested, Free uint32 }

func (e *OutOfSpaceError) Error() string {
	return fmt.Sprintf("heap: out of space (requested %d, free %d)", e.Requested, e.Free)
}
func (e *OutOfSpaceError) Code() int32 { return -3 }

// InvalidArgError reports a non-positive ALLOC size.
type InvalidArgError struct{ Size int32 }

func (e *InvalidArgError) Error() string { return fmt.Sprintf("heap: invalid alloc size %d", e.Size) }
func (e *InvalidArgError) Code() int32    { return -4 }

// Alloc reserves n bytes and returns their starting address. It walks the
// chunk list for the first free chunk big enough to hold n; an exact fit
// flips that chunk to used, an oversized fit is split so the remainder
// stays free. If no free chunk is big enough, a new used chunk is
// appended at the end of the managed region.
func (h *Heap) Alloc(n int32) (uint32, error) {
	if n <= 0 {
		return 0, &InvalidArgError{Size: n}
	}
	size := uint32(n)
	if size > h.free {
		return 0, &OutOfSpaceError{Requested: size, Free: h.free}
	}

	for c := h.head; c != nil; c = c.next {
		if !c.Free || c.Size < size {
			continue
		}
		addr := c.Addr
		if c.Size == size {
			c.Free = false
		} else {
			c.Addr += size
			c.Size -= size
			h.insertBefore(c, &Chunk{Addr: addr, Size: size, Free: false})
		}
		h.used += size
		h.free -= size
		return addr, nil
	}

	addr := h.end
	h.append(&Chunk{Addr: addr, Size: size, Free: false})
	h.end += size
	h.used += size
	h.free -= size
	return addr, nil
}

// Free releases the chunk starting at addr and runs defragment.
func (h *Heap) Free(addr uint32) error {
	for c := h.head; c != nil; c = c.next {
		if c.Addr != addr {
			continue
		}
		if c.Free {
			return &AlreadyFreeError{Addr: addr}
		}
		c.Free = true
		h.used -= c.Size
		h.free += c.Size
		h.defragment()
		return nil
	}
	return &NotAllocatedError{Addr: addr}
}

// defragment performs a single left-to-right pass merging adjacent free
// chunks, then trims a trailing free chunk back into the unused region
// past h.end.
func (h *Heap) defragment() {
	for c := h.head; c != nil && c.next != nil; {
		if c.Free && c.next.Free {
			h.mergeWithNext(c)
			continue
		}
		c = c.next
	}
	if h.tail != nil && h.tail.Free {
		last := h.tail
		h.unlink(last)
		h.end -= last.Size
	}
}

func (h *Heap) mergeWithNext(c *Chunk) {
	next := c.next
	c.Size += next.Size
	h.unlink(next)
}

func (h *Heap) insertBefore(at *Chunk, n *Chunk) {
	n.next = at
	n.prev = at.prev
	if at.prev != nil {
		at.prev.next = n
	} else {
		h.head = n
	}
	at.prev = n
}

func (h *Heap) append(n *Chunk) {
	n.prev = h.tail
	if h.tail != nil {
		h.tail.next = n
	} else {
		h.head = n
	}
	h.tail = n
}

func (h *Heap) unlink(c *Chunk) {
	if c.prev != nil {
		c.prev.next = c.next
	} else {
		h.head = c.next
	}
	if c.next != nil {
		c.next.prev = c.prev
	} else {
		h.tail = c.prev
	}
}

// Used, FreeBytes, Size, End and Start expose the aggregate counters for testing and
// for the debugger's heap dump.
func (h *Heap) Used() uint32      { return h.used }
func (h *Heap) FreeBytes() uint32 { return h.free }
func (h *Heap) Size() uint32      { return h.size }
func (h *Heap) End() uint32  { return h.end }
func (h *Heap) Start() uint32 { return h.start }

// Chunks returns a snapshot of the chunk list in ascending address
// order, for testing and for the debugger's heap dump.
func (h *Heap) Chunks() []Chunk {
	var out []Chunk
	for c := h.head; c != nil; c = c.next {
		out = append(out, Chunk{Addr: c.Addr, Size: c.Size, Free: c.Free})
	}
	return out
}

// CheckUnfreed reports every chunk still marked used, for the
// interpreter's optional diagnostic dump at HLT under -d.
func (h *Heap) CheckUnfreed() []Chunk {
	var out []Chunk
	for c := h.head; c != nil; c = c.next {
		if !c.Free {
			out = append(out, Chunk{Addr: c.Addr, Size: c.Size, Free: c.Free})
		}
	}
	return out
}
