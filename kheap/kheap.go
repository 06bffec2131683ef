// Package kheap implements the kernel heap, kmalloc/kfree (spec ยง4.D),
// as a best-fit free list sitting on top of vmm.Manager.Kmalloc's
// contiguous-virtual allocator. Grounded on the shape of biscuit's
// allocation helpers (explicit, lock-protected accounting structs with
// no hidden global state) and on gopher-os's convention of growing a
// region lazily via the lower allocator rather than reserving it all at
// boot.
package kheap

import (
	"simpleos/klog"
	"simpleos/util"
	"simpleos/vmm"
)

// align is the alignment every returned pointer satisfies (spec ยง4.D
// invariant: "every pointer returned is 8-byte aligned").
const align = 8

// growChunk is how many bytes worth of virtual pages the heap requests
// from vmm.Kmalloc at a time when it runs out of free blocks.
const growChunk = 16 * vmm.PageSize

// block describes one free-list node. size is the usable payload size
// (header excluded from the caller's point of view, but tracked here as
// plain accounting, not an in-memory struct laid over real bytes — see
// DESIGN.md on this rewrite's memory-content model).
type block struct {
	addr uintptr
	size uintptr
	free bool
}

// Heap is one best-fit free-list kernel heap instance.
type Heap struct {
	vm     *vmm.Manager
	dir    *vmm.Directory
	blocks []*block // kept sorted by addr for O(n) coalescing
	live   map[uintptr]*block
}

// New returns an empty heap that will grow on demand via vm.Kmalloc
// against dir.
func New(vm *vmm.Manager, dir *vmm.Directory) *Heap {
	return &Heap{vm: vm, dir: dir, live: make(map[uintptr]*block)}
}

func (h *Heap) grow(minSize uintptr) bool {
	size := util.Roundup(minSize, uintptr(growChunk))
	addr, ok := h.vm.Kmalloc(h.dir, size, true, true)
	if !ok {
		return false
	}
	b := &block{addr: addr, size: size, free: true}
	h.insertSorted(b)
	h.coalesce()
	return true
}

func (h *Heap) insertSorted(b *block) {
	i := 0
	for i < len(h.blocks) && h.blocks[i].addr < b.addr {
		i++
	}
	h.blocks = append(h.blocks, nil)
	copy(h.blocks[i+1:], h.blocks[i:])
	h.blocks[i] = b
}

// coalesce merges adjacent free blocks, keeping fragmentation down the
// way a freestanding kernel heap must (no virtual memory overcommit to
// fall back on).
func (h *Heap) coalesce() {
	for i := 0; i+1 < len(h.blocks); {
		a, b := h.blocks[i], h.blocks[i+1]
		if a.free && b.free && a.addr+a.size == b.addr {
			a.size += b.size
			h.blocks = append(h.blocks[:i+1], h.blocks[i+2:]...)
			continue
		}
		i++
	}
}

// Alloc reserves size bytes, 8-byte aligned, growing the heap if no
// existing free block fits (best-fit: the smallest block that is still
// large enough, to keep large blocks around for large requests).
func (h *Heap) Alloc(size uintptr) (uintptr, bool) {
	size = util.Roundup(size, align)
	if size == 0 {
		size = align
	}

	for {
		if b, ok := h.bestFit(size); ok {
			h.live[b.addr] = b
			return b.addr, true
		}
		if !h.grow(size) {
			return 0, false
		}
	}
}

func (h *Heap) bestFit(size uintptr) (*block, bool) {
	var best *block
	var bestIdx int
	for i, b := range h.blocks {
		if !b.free || b.size < size {
			continue
		}
		if best == nil || b.size < best.size {
			best, bestIdx = b, i
		}
	}
	if best == nil {
		return nil, false
	}

	if best.size > size+align { // split off the remainder as a new free block
		rem := &block{addr: best.addr + size, size: best.size - size, free: true}
		best.size = size
		h.blocks = append(h.blocks, nil)
		copy(h.blocks[bestIdx+2:], h.blocks[bestIdx+1:])
		h.blocks[bestIdx+1] = rem
	}
	best.free = false
	return best, true
}

// Free returns ptr's block to the free list. A pointer not currently
// live is a violated invariant (spec ยง4.D: "double-free is a fatal
// condition"), not a recoverable user error, so it panics rather than
// returning an error code.
func (h *Heap) Free(ptr uintptr) {
	b, ok := h.live[ptr]
	if !ok {
		klog.Panicf("kheap: double free or invalid pointer %#x", ptr)
	}
	delete(h.live, ptr)
	b.free = true
	h.coalesce()
}

// Size reports the usable size of a live allocation (used by realloc-like
// callers and by tests).
func (h *Heap) Size(ptr uintptr) (uintptr, bool) {
	b, ok := h.live[ptr]
	if !ok {
		return 0, false
	}
	return b.size, true
}
