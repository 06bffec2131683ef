// Package pmm implements the physical frame bitmap allocator (spec
// ยง4.B): a compact bit-set over the usable RAM regions the bootloader's
// multiboot memory map reports, invariant "a bit is set iff some page
// directory or page table somewhere references that frame" (spec ยง3).
//
// Grounded on biscuit's mem.Physmem_t (the overall shape: one allocator,
// reference-style bookkeeping, reserve-before-use for the kernel image)
// and on gopher-os's kernel/mem/pmm/allocator.BitmapAllocator (the linear
// first-fit bitmap scan with a rolling hint, which this spec calls for
// directly in ยง4.B).
package pmm

import "simpleos/util"

// PageSize is the fixed frame size (spec ยง3: "4 KiB aligned region").
const PageSize = 4096
const PageShift = 12

// Frame is a physical page index (frame address = Frame << PageShift).
type Frame uint32

// InvalidFrame is returned on allocation failure.
const InvalidFrame Frame = ^Frame(0)

func (f Frame) Address() uintptr { return uintptr(f) << PageShift }

// FrameFromAddress rounds a physical address down to its containing frame.
func FrameFromAddress(addr uintptr) Frame {
	return Frame(addr >> PageShift)
}

// Region describes one usable physical memory range as reported by the
// bootloader's multiboot memory map.
type Region struct {
	Start Frame // inclusive
	End   Frame // inclusive
}

// Bitmap is a first-fit bitmap allocator over one or more usable memory
// regions.
type Bitmap struct {
	startFrame Frame
	nframes    uint32
	bits       []uint64 // one bit per frame, relative to startFrame
	hint       uint32   // rolling search hint (spec ยง4.B: "implementers may keep a rolling hint")
	freeCount  uint32
}

// NewBitmap creates an allocator spanning [region.Start, region.End]
// inclusive, with every frame initially marked free.
func NewBitmap(region Region) *Bitmap {
	n := uint32(region.End-region.Start) + 1
	words := (n + 63) / 64
	return &Bitmap{
		startFrame: region.Start,
		nframes:    n,
		bits:       make([]uint64, words),
		freeCount:  n,
	}
}

func (b *Bitmap) index(f Frame) (word, bit uint32, ok bool) {
	if f < b.startFrame {
		return 0, 0, false
	}
	rel := uint32(f - b.startFrame)
	if rel >= b.nframes {
		return 0, 0, false
	}
	return rel / 64, rel % 64, true
}

// TestFrame reports whether the frame is currently reserved (used).
func (b *Bitmap) TestFrame(f Frame) bool {
	w, bit, ok := b.index(f)
	if !ok {
		return false
	}
	return b.bits[w]&(1<<bit) != 0
}

// SetFrame marks f as used.
func (b *Bitmap) SetFrame(f Frame) {
	w, bit, ok := b.index(f)
	if !ok {
		return
	}
	if b.bits[w]&(1<<bit) == 0 {
		b.bits[w] |= 1 << bit
		b.freeCount--
	}
}

// ClearFrame marks f as free.
func (b *Bitmap) ClearFrame(f Frame) {
	w, bit, ok := b.index(f)
	if !ok {
		return
	}
	if b.bits[w]&(1<<bit) != 0 {
		b.bits[w] &^= 1 << bit
		b.freeCount++
	}
}

// FirstFreeFrame performs a linear first-fit scan starting from the
// rolling hint, wrapping once, per spec ยง4.B's documented search policy.
// It returns InvalidFrame, false if no frame is free.
func (b *Bitmap) FirstFreeFrame() (Frame, bool) {
	if b.freeCount == 0 {
		return InvalidFrame, false
	}

	nwords := uint32(len(b.bits))
	startWord := b.hint / 64
	for i := uint32(0); i < nwords; i++ {
		w := (startWord + i) % nwords
		word := b.bits[w]
		if word == ^uint64(0) {
			continue
		}
		for bit := uint32(0); bit < 64; bit++ {
			rel := w*64 + bit
			if rel >= b.nframes {
				break
			}
			if word&(1<<bit) == 0 {
				b.hint = rel
				f := b.startFrame + Frame(rel)
				b.SetFrame(f)
				return f, true
			}
		}
	}
	return InvalidFrame, false
}

// FreeCount reports the number of currently unreserved frames.
func (b *Bitmap) FreeCount() uint32 { return b.freeCount }

// Total reports the number of frames tracked by this bitmap.
func (b *Bitmap) Total() uint32 { return b.nframes }

// Allocator aggregates Bitmaps across every usable region reported by the
// bootloader, matching biscuit's Physmem_t which spans every region
// reported by the memory map as a single logical allocator.
type Allocator struct {
	pools []*Bitmap
}

// NewAllocator builds an Allocator over the given usable regions and
// immediately reserves the frames occupied by the kernel image, the
// multiboot info structure and the initial page directory/tables, per
// the initialization invariant in spec ยง4.B.
func NewAllocator(regions []Region, reserved []Region) *Allocator {
	a := &Allocator{}
	for _, r := range regions {
		a.pools = append(a.pools, NewBitmap(r))
	}
	for _, r := range reserved {
		for f := r.Start; f <= r.End; f++ {
			a.reserveFrame(f)
		}
	}
	return a
}

func (a *Allocator) poolFor(f Frame) *Bitmap {
	for _, p := range a.pools {
		if f >= p.startFrame && f < p.startFrame+Frame(p.nframes) {
			return p
		}
	}
	return nil
}

func (a *Allocator) reserveFrame(f Frame) {
	if p := a.poolFor(f); p != nil {
		p.SetFrame(f)
	}
}

// AllocFrame reserves and returns one free frame.
func (a *Allocator) AllocFrame() (Frame, bool) {
	for _, p := range a.pools {
		if f, ok := p.FirstFreeFrame(); ok {
			return f, true
		}
	}
	return InvalidFrame, false
}

// FreeFrame releases a previously allocated frame back to its pool.
func (a *Allocator) FreeFrame(f Frame) {
	if p := a.poolFor(f); p != nil {
		p.ClearFrame(f)
	}
}

// TestFrame reports whether f is reserved in whichever pool contains it.
func (a *Allocator) TestFrame(f Frame) bool {
	if p := a.poolFor(f); p != nil {
		return p.TestFrame(f)
	}
	return true // frames outside any usable pool are implicitly reserved
}

// Stats summarizes allocator-wide frame accounting, mirroring
// BitmapAllocator.printStats in gopher-os.
type Stats struct {
	Total, Free, Reserved uint32
}

// Stat returns the current frame accounting snapshot.
func (a *Allocator) Stat() Stats {
	var s Stats
	for _, p := range a.pools {
		s.Total += p.Total()
		s.Free += p.FreeCount()
	}
	s.Reserved = s.Total - s.Free
	return s
}

// FramesForBytes returns how many frames are needed to cover n bytes.
func FramesForBytes(n uintptr) uint32 {
	return uint32(util.DivRoundup(n, uintptr(PageSize)))
}
