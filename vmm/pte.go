// Package vmm implements i386 two-level paging with a recursive
// page-directory mapping (spec ยง4.C), the kernel heap's backing
// contiguous-virtual allocator, and the page-fault handler.
//
// Grounded on biscuit's vm package for the PTE flag vocabulary
// (PTE_P/PTE_W/PTE_U) and on gopher-os's kernel/mem/vmm package for the
// recursive-mapping mechanics (walk, Map/Unmap, EarlyReserveRegion) that
// this spec calls for directly — gopher-os targets amd64's 4-level
// scheme, so its 2-level i386 analogue is reconstructed here rather than
// copied.
package vmm

import "simpleos/pmm"

// PTE is a 32-bit page-directory or page-table entry (spec ยง3).
type PTE uint32

// Entry flag bits (spec ยง3: "present, rw, user, accessed, dirty, 20-bit
// frame index").
const (
	FlagPresent PTE = 1 << 0
	FlagRW      PTE = 1 << 1
	FlagUser    PTE = 1 << 2
	FlagAccessed PTE = 1 << 5
	FlagDirty    PTE = 1 << 6
)

const frameShift = 12
const frameMask = 0xFFFFF000

// HasFlags reports whether all of flags are set.
func (e PTE) HasFlags(flags PTE) bool { return e&flags == flags }

// SetFlags ORs flags into the entry.
func (e *PTE) SetFlags(flags PTE) { *e |= flags }

// ClearFlags clears flags from the entry.
func (e *PTE) ClearFlags(flags PTE) { *e &^= flags }

// Frame extracts the physical frame this entry points at.
func (e PTE) Frame() pmm.Frame { return pmm.Frame((uint32(e) & frameMask) >> frameShift) }

// SetFrame installs f as the entry's target frame, leaving flag bits alone.
func (e *PTE) SetFrame(f pmm.Frame) {
	*e = PTE(uint32(*e)&^frameMask | (uint32(f) << frameShift))
}

const (
	// EntriesPerTable is the fixed i386 PDE/PTE table fan-out.
	EntriesPerTable = 1024

	// PageSize is the i386 base page size.
	PageSize = 4096

	// RecursiveIndex is the page-directory slot reserved for the
	// self-referential recursive mapping (spec ยง3: "PDE[1023] always
	// maps to the physical address of the directory itself").
	RecursiveIndex = EntriesPerTable - 1

	// KernelBase is the virtual split between user and kernel space
	// (spec ยง3).
	KernelBase uintptr = 0xC0000000

	// selfMapAddr is the fixed virtual address at which the active
	// page directory becomes addressable once PDE[1023] points at
	// itself (spec ยง3).
	selfMapAddr uintptr = 0xFFFFF000
)

// PageTableAddr returns the fixed virtual address at which page table i
// of the active directory is reachable through the recursive mapping
// (spec ยง3: "page table i reachable at 0xFFC00000 + i*0x1000").
func PageTableAddr(i uint32) uintptr {
	return 0xFFC00000 + uintptr(i)*PageSize
}

// SelfMapAddr returns the fixed virtual address of the active directory
// itself.
func SelfMapAddr() uintptr { return selfMapAddr }
