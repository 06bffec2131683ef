package vmm

import (
	"simpleos/cpu"
	"simpleos/klog"
	"simpleos/pmm"
)

// Manager ties a frame allocator to page-directory operations. One
// Manager exists per kernel instance; each process's address space is a
// *Directory obtained from it (spec ยง4.C/ยง4.I).
type Manager struct {
	alloc *pmm.Allocator

	// flushPage/loadCR3/readCR3/readCR2 are indirection seams so tests
	// exercise the mapping algorithms without real hardware, exactly
	// the pattern gopher-os uses for flushTLBEntryFn/activePDTFn.
	flushPage func(uintptr)
	loadCR3   func(uintptr)
	readCR3   func() uintptr
	readCR2   func() uintptr
}

// NewManager constructs a Manager backed by alloc.
func NewManager(alloc *pmm.Allocator) *Manager {
	return &Manager{
		alloc:     alloc,
		flushPage: cpu.InvalidatePage,
		loadCR3:   cpu.WriteCR3,
		readCR3:   cpu.ReadCR3,
		readCR2:   cpu.ReadCR2,
	}
}

// Allocator returns the frame allocator this Manager is backed by, for
// callers (proc.Fork) that need to construct a sibling Directory.
func (m *Manager) Allocator() *pmm.Allocator { return m.alloc }

// Activate loads d as the running address space.
func (m *Manager) Activate(d *Directory) {
	m.loadCR3(d.selfFrame.Address())
}

// SetHardwareSeamsForTest overrides the TLB/CR3/CR2 seams. It exists so
// packages built on top of Manager (kheap, proc) can construct a
// hardware-free Manager for their own tests without duplicating the
// seam fields here.
func (m *Manager) SetHardwareSeamsForTest(flushPage, loadCR3 func(uintptr), readCR3, readCR2 func() uintptr) {
	m.flushPage = flushPage
	m.loadCR3 = loadCR3
	m.readCR3 = readCR3
	m.readCR2 = readCR2
}

// ensurePDE returns the page table for the given PDE index, allocating
// and zeroing a fresh one if it is not yet present (spec ยง4.C,
// alloc_frame step 1).
func (m *Manager) ensurePDE(d *Directory, pdeIdx uint32) (*table, bool) {
	pde := &d.dir[pdeIdx]
	if pde.HasFlags(FlagPresent) {
		return tableAt(pde.Frame()), true
	}
	f, t, ok := allocTable(m.alloc)
	if !ok {
		return nil, false
	}
	*pde = 0
	pde.SetFlags(FlagPresent | FlagRW | FlagUser)
	pde.SetFrame(f)
	return t, true
}

// AllocFrame ensures a physical frame backs pageIndex in d, installing
// the requested privilege/writability, and invalidates the page's single
// TLB entry. It is idempotent when the page is already mapped (spec
// ยง4.C).
func (m *Manager) AllocFrame(d *Directory, pageIndex uint32, isKernel, isWritable bool) (pmm.Frame, bool) {
	vaddr := uintptr(pageIndex) * PageSize
	pt, ok := m.ensurePDE(d, pdIndex(vaddr))
	if !ok {
		return pmm.InvalidFrame, false
	}

	pti := ptIndex(vaddr)
	pte := &pt[pti]
	if pte.HasFlags(FlagPresent) {
		return pte.Frame(), true
	}

	f, ok := m.alloc.AllocFrame()
	if !ok {
		return pmm.InvalidFrame, false
	}

	flags := FlagPresent
	if isWritable {
		flags |= FlagRW
	}
	if !isKernel {
		flags |= FlagUser
	}
	*pte = 0
	pte.SetFlags(flags)
	pte.SetFrame(f)
	m.flushPage(vaddr)
	return f, true
}

// FreeFrame clears the mapping for pageIndex, if present, and releases
// its physical frame back to the allocator (spec ยง4.C). A user-half
// page table left with no present entry is released as well.
func (m *Manager) FreeFrame(d *Directory, pageIndex uint32) {
	vaddr := uintptr(pageIndex) * PageSize
	pde := &d.dir[pdIndex(vaddr)]
	if !pde.HasFlags(FlagPresent) {
		return
	}
	pt := tableAt(pde.Frame())
	pte := &pt[ptIndex(vaddr)]
	if !pte.HasFlags(FlagPresent) {
		return
	}
	m.alloc.FreeFrame(pte.Frame())
	*pte = 0
	m.flushPage(vaddr)
	if pdIndex(vaddr) >= userPDECount {
		return
	}
	for i := range pt {
		if pt[i].HasFlags(FlagPresent) {
			return
		}
	}
	m.alloc.FreeFrame(pde.Frame())
	*pde = 0
}

// Translate returns the frame currently backing pageIndex, if mapped.
func (m *Manager) Translate(d *Directory, pageIndex uint32) (pmm.Frame, bool) {
	vaddr := uintptr(pageIndex) * PageSize
	pde := &d.dir[pdIndex(vaddr)]
	if !pde.HasFlags(FlagPresent) {
		return pmm.InvalidFrame, false
	}
	pt := tableAt(pde.Frame())
	pte := &pt[ptIndex(vaddr)]
	if !pte.HasFlags(FlagPresent) {
		return pmm.InvalidFrame, false
	}
	return pte.Frame(), true
}

// FirstContiguousPageIndex scans PDEs looking for the first run of
// page_count unmapped pages: an absent PDE contributes 1024 contiguous
// free pages; a present PDE is walked PTE by PTE (spec ยง4.C).
func (m *Manager) FirstContiguousPageIndex(d *Directory, pageCount uint32) (uint32, bool) {
	var run uint32
	var runStart uint32

	for pdIdx := uint32(0); pdIdx < RecursiveIndex; pdIdx++ {
		pde := &d.dir[pdIdx]
		if !pde.HasFlags(FlagPresent) {
			if run == 0 {
				runStart = pdIdx * EntriesPerTable
			}
			run += EntriesPerTable
			if run >= pageCount {
				return runStart, true
			}
			continue
		}

		pt := tableAt(pde.Frame())
		for ptIdx := uint32(0); ptIdx < EntriesPerTable; ptIdx++ {
			page := pdIdx*EntriesPerTable + ptIdx
			if pt[ptIdx].HasFlags(FlagPresent) {
				run = 0
				continue
			}
			if run == 0 {
				runStart = page
			}
			run++
			if run >= pageCount {
				return runStart, true
			}
		}
	}
	return 0, false
}

// Kmalloc rounds size up to whole pages, finds a contiguous run of free
// virtual pages and backs each with a fresh frame, returning the run's
// start address. It carries no per-allocation metadata of its own — the
// finer-grained kernel heap (spec ยง4.D) sits on top of this and tracks
// block sizes itself.
func (m *Manager) Kmalloc(d *Directory, size uintptr, isKernel, isWritable bool) (uintptr, bool) {
	pageCount := uint32((size + PageSize - 1) / PageSize)
	if pageCount == 0 {
		pageCount = 1
	}

	start, ok := m.FirstContiguousPageIndex(d, pageCount)
	if !ok {
		return 0, false
	}

	for p := start; p < start+pageCount; p++ {
		if _, ok := m.AllocFrame(d, p, isKernel, isWritable); !ok {
			// Unwind pages already committed in this run so a
			// partial failure never leaves stray mappings behind.
			for q := start; q < p; q++ {
				m.FreeFrame(d, q)
			}
			return 0, false
		}
	}
	return uintptr(start) * PageSize, true
}

// userPDECount is how many PDEs make up the user half of the address
// space: indices [0, userPDECount) sit below KernelBase.
const userPDECount = uint32(KernelBase >> 22)

// ForkUserPages copies every present user-half mapping from src into
// dst, allocating a fresh frame per page (spec ยง4.I step 1: "user half
// copied page-by-page; copy-on-write is optional but out of scope ...
// a straight copy is acceptable"). It does not copy frame contents:
// this rewrite's memory-content model (see DESIGN.md) keeps no real
// byte-addressable store behind these frames, so a page's content is
// whatever the owning process layer (proc) tracks for it directly.
func (m *Manager) ForkUserPages(src, dst *Directory) bool {
	for pdIdx := uint32(0); pdIdx < userPDECount; pdIdx++ {
		pde := &src.dir[pdIdx]
		if !pde.HasFlags(FlagPresent) {
			continue
		}
		pt := tableAt(pde.Frame())
		for ptIdx := uint32(0); ptIdx < EntriesPerTable; ptIdx++ {
			pte := pt[ptIdx]
			if !pte.HasFlags(FlagPresent) {
				continue
			}
			page := pdIdx*EntriesPerTable + ptIdx
			if _, ok := m.AllocFrame(dst, page, false, pte.HasFlags(FlagRW)); !ok {
				return false
			}
		}
	}
	return true
}

// FreeUserPages releases every frame mapped in d's user half back to
// the allocator (spec ยง4.I exit: "free user address space").
func (m *Manager) FreeUserPages(d *Directory) {
	for pdIdx := uint32(0); pdIdx < userPDECount; pdIdx++ {
		pde := &d.dir[pdIdx]
		if !pde.HasFlags(FlagPresent) {
			continue
		}
		pt := tableAt(pde.Frame())
		for ptIdx := uint32(0); ptIdx < EntriesPerTable; ptIdx++ {
			if !pt[ptIdx].HasFlags(FlagPresent) {
				continue
			}
			page := pdIdx*EntriesPerTable + ptIdx
			m.FreeFrame(d, page)
		}
	}
}

// PageFaultInfo captures the data needed to diagnose or fatally report a
// page fault (spec ยง4.C: "panic with {cr2, error_code, eip}").
type PageFaultInfo struct {
	FaultAddr uintptr
	ErrorCode uint32
	EIP       uintptr
}

// Present reports whether the faulting page was present (protection
// violation) as opposed to entirely unmapped.
func (i PageFaultInfo) Present() bool { return i.ErrorCode&0x1 != 0 }

// Write reports whether the fault was caused by a write access.
func (i PageFaultInfo) Write() bool { return i.ErrorCode&0x2 != 0 }

// User reports whether the fault occurred in user mode.
func (i PageFaultInfo) User() bool { return i.ErrorCode&0x4 != 0 }

// HandlePageFault implements the spec ยง4.C page-fault handler contract.
// On-demand region growth is explicitly out of scope for this core (spec
// ยง4.C: "not implemented in this core — treat as fatal"): a fault from
// kernel mode always panics; a fault from user mode returns a non-nil
// *PageFaultInfo so the caller (proc.Exit path) can terminate just that
// process instead of the whole kernel (spec ยง7: "Page faults from user
// mode terminate the process... from kernel mode, panic").
func (m *Manager) HandlePageFault(errorCode uint32, eip uintptr) *PageFaultInfo {
	info := &PageFaultInfo{FaultAddr: m.readCR2(), ErrorCode: errorCode, EIP: eip}
	if !info.User() {
		klog.Panicf("page fault in kernel mode: addr=%#x code=%#x eip=%#x", info.FaultAddr, errorCode, eip)
	}
	return info
}
