package vmm

import (
	"testing"

	"simpleos/pmm"
)

func newTestManager(t *testing.T) (*Manager, *Directory) {
	t.Helper()
	alloc := pmm.NewAllocator([]pmm.Region{{Start: 0, End: 4095}}, nil)
	m := NewManager(alloc)

	var flushed []uintptr
	m.flushPage = func(addr uintptr) { flushed = append(flushed, addr) }
	m.loadCR3 = func(uintptr) {}
	m.readCR3 = func() uintptr { return 0 }
	m.readCR2 = func() uintptr { return 0 }

	d, ok := NewDirectory(alloc)
	if !ok {
		t.Fatal("NewDirectory failed")
	}
	return m, d
}

func TestRecursiveMappingInvariant(t *testing.T) {
	_, d := newTestManager(t)
	if !d.CheckRecursiveInvariant() {
		t.Fatal("PDE[1023] must map to the directory's own frame (spec invariant 2)")
	}
}

func TestAllocFreeFrameAccounting(t *testing.T) {
	alloc := pmm.NewAllocator([]pmm.Region{{Start: 0, End: 4095}}, nil)
	m := NewManager(alloc)
	m.flushPage = func(uintptr) {}
	d, _ := NewDirectory(alloc)

	baseline := alloc.Stat().Free

	var pages []uint32
	for i := uint32(100); i < 110; i++ {
		if _, ok := m.AllocFrame(d, i, true, true); !ok {
			t.Fatalf("AllocFrame(%d) failed", i)
		}
		pages = append(pages, i)
	}
	if alloc.Stat().Free == baseline {
		t.Fatal("expected free count to drop after allocation")
	}

	for _, p := range pages {
		m.FreeFrame(d, p)
	}
	if got := alloc.Stat().Free; got != baseline {
		t.Fatalf("Free = %d after matching alloc/free, want baseline %d (testable property 1)", got, baseline)
	}
}

func TestAllocFrameIdempotent(t *testing.T) {
	alloc := pmm.NewAllocator([]pmm.Region{{Start: 0, End: 4095}}, nil)
	m := NewManager(alloc)
	m.flushPage = func(uintptr) {}
	d, _ := NewDirectory(alloc)

	f1, ok := m.AllocFrame(d, 5, true, true)
	if !ok {
		t.Fatal("first AllocFrame failed")
	}
	f2, ok := m.AllocFrame(d, 5, true, true)
	if !ok {
		t.Fatal("second AllocFrame failed")
	}
	if f1 != f2 {
		t.Fatalf("AllocFrame must be idempotent when already mapped: got %d then %d", f1, f2)
	}
}

func TestFirstContiguousPageIndexOnEmptyDirectory(t *testing.T) {
	alloc := pmm.NewAllocator([]pmm.Region{{Start: 0, End: 4095}}, nil)
	m := NewManager(alloc)
	d, _ := NewDirectory(alloc)

	idx, ok := m.FirstContiguousPageIndex(d, 2048)
	if !ok {
		t.Fatal("expected a contiguous run in a fully empty directory")
	}
	if idx != 0 {
		t.Fatalf("expected run to start at page 0, got %d", idx)
	}
}

func TestFirstContiguousPageIndexSkipsMapped(t *testing.T) {
	alloc := pmm.NewAllocator([]pmm.Region{{Start: 0, End: 4095}}, nil)
	m := NewManager(alloc)
	m.flushPage = func(uintptr) {}
	d, _ := NewDirectory(alloc)

	for i := uint32(0); i < 5; i++ {
		if _, ok := m.AllocFrame(d, i, true, true); !ok {
			t.Fatalf("AllocFrame(%d) failed", i)
		}
	}

	idx, ok := m.FirstContiguousPageIndex(d, 3)
	if !ok {
		t.Fatal("expected a free run after the mapped prefix")
	}
	if idx < 5 {
		t.Fatalf("run at %d overlaps the mapped pages [0,5)", idx)
	}
	for p := idx; p < idx+3; p++ {
		if _, mapped := m.Translate(d, p); mapped {
			t.Fatalf("page %d in the reported run is actually mapped", p)
		}
	}
}

func TestKmallocRangeIsFullyMapped(t *testing.T) {
	alloc := pmm.NewAllocator([]pmm.Region{{Start: 0, End: 4095}}, nil)
	m := NewManager(alloc)
	m.flushPage = func(uintptr) {}
	d, _ := NewDirectory(alloc)

	const size = 3 * PageSize
	vaddr, ok := m.Kmalloc(d, size, true, true)
	if !ok {
		t.Fatal("Kmalloc failed")
	}

	startPage := uint32(vaddr / PageSize)
	for p := startPage; p < startPage+3; p++ {
		if _, mapped := m.Translate(d, p); !mapped {
			t.Fatalf("page %d within the kmalloc run is not mapped (testable property 3)", p)
		}
	}
	if _, mapped := m.Translate(d, startPage+3); mapped {
		t.Fatal("page immediately after the kmalloc run should not be mapped")
	}
}

func TestForkUserPagesCopiesMappings(t *testing.T) {
	alloc := pmm.NewAllocator([]pmm.Region{{Start: 0, End: 4095}}, nil)
	m := NewManager(alloc)
	m.flushPage = func(uintptr) {}
	parent, _ := NewDirectory(alloc)
	child, _ := NewDirectory(alloc)

	for _, p := range []uint32{0, 1, 2} {
		if _, ok := m.AllocFrame(parent, p, false, true); !ok {
			t.Fatalf("AllocFrame(%d) failed", p)
		}
	}

	if !m.ForkUserPages(parent, child) {
		t.Fatal("ForkUserPages failed")
	}
	for _, p := range []uint32{0, 1, 2} {
		if _, ok := m.Translate(child, p); !ok {
			t.Fatalf("page %d not mapped in child after fork", p)
		}
	}

	pf, _ := m.Translate(parent, 0)
	cf, _ := m.Translate(child, 0)
	if pf == cf {
		t.Fatal("fork must allocate a fresh frame per page, not alias the parent's")
	}
}

func TestFreeUserPagesReleasesAllFrames(t *testing.T) {
	alloc := pmm.NewAllocator([]pmm.Region{{Start: 0, End: 4095}}, nil)
	m := NewManager(alloc)
	m.flushPage = func(uintptr) {}
	d, _ := NewDirectory(alloc)

	baseline := alloc.Stat().Free
	for _, p := range []uint32{10, 11, 12} {
		m.AllocFrame(d, p, false, true)
	}
	m.FreeUserPages(d)

	if got := alloc.Stat().Free; got != baseline {
		t.Fatalf("Free = %d after FreeUserPages, want baseline %d", got, baseline)
	}
}

func TestHandlePageFaultUserModeDoesNotPanic(t *testing.T) {
	alloc := pmm.NewAllocator([]pmm.Region{{Start: 0, End: 4095}}, nil)
	m := NewManager(alloc)
	m.readCR2 = func() uintptr { return 0x1000 }

	info := m.HandlePageFault(0x4 /* user */, 0xC0001234)
	if info.FaultAddr != 0x1000 {
		t.Fatalf("FaultAddr = %#x, want 0x1000", info.FaultAddr)
	}
	if !info.User() {
		t.Fatal("expected User() to report true for error code 0x4")
	}
}

func TestHandlePageFaultKernelModePanics(t *testing.T) {
	alloc := pmm.NewAllocator([]pmm.Region{{Start: 0, End: 4095}}, nil)
	m := NewManager(alloc)
	m.readCR2 = func() uintptr { return 0xC0000000 }

	defer func() {
		if recover() == nil {
			t.Fatal("expected a kernel-mode page fault to panic (spec ยง7)")
		}
	}()
	m.HandlePageFault(0x0, 0xC0001234)
}
