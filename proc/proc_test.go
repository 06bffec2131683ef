package proc

import (
	"encoding/binary"
	"testing"

	"simpleos/defs"
	"simpleos/pmm"
	"simpleos/ustr"
	"simpleos/vfs"
	"simpleos/vmm"
)

// buildELF32 hand-assembles a minimal little-endian ELF32 executable
// with one PT_LOAD segment, the same layout elfload_test.go's fixture
// uses.
func buildELF32(entry, vaddr, memsz uint32, data []byte) []byte {
	const headerSize, phEntSize = 52, 32
	phoff := uint32(headerSize)
	dataOff := phoff + phEntSize

	buf := make([]byte, dataOff+uint32(len(data)))
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4], buf[5], buf[6] = 1, 1, 1

	le := binary.LittleEndian
	le.PutUint16(buf[16:], 2)
	le.PutUint16(buf[18:], 3)
	le.PutUint32(buf[20:], 1)
	le.PutUint32(buf[24:], entry)
	le.PutUint32(buf[28:], phoff)
	le.PutUint16(buf[40:], headerSize)
	le.PutUint16(buf[42:], phEntSize)
	le.PutUint16(buf[44:], 1)

	ph := buf[phoff:dataOff]
	le.PutUint32(ph[0:], 1) // PT_LOAD
	le.PutUint32(ph[4:], dataOff)
	le.PutUint32(ph[8:], vaddr)
	le.PutUint32(ph[12:], vaddr)
	le.PutUint32(ph[16:], uint32(len(data)))
	le.PutUint32(ph[20:], memsz)
	le.PutUint32(ph[24:], 5)
	le.PutUint32(ph[28:], 0x1000)

	copy(buf[dataOff:], data)
	return buf
}

func newTestTable(t *testing.T) (*Table, *vmm.Manager, *pmm.Allocator) {
	t.Helper()
	alloc := pmm.NewAllocator([]pmm.Region{{Start: 0, End: 8191}}, nil)
	vm := vmm.NewManager(alloc)
	vm.SetHardwareSeamsForTest(func(uintptr) {}, func(uintptr) {}, func() uintptr { return 0 }, func() uintptr { return 0 })
	mnts := vfs.NewMountTable()
	return NewTable(vm, mnts, 64), vm, alloc
}

func spawnInit(t *testing.T, pt *Table, vm *vmm.Manager, alloc *pmm.Allocator) *Process {
	t.Helper()
	dir, ok := vmm.NewDirectory(alloc)
	if !ok {
		t.Fatal("NewDirectory failed")
	}
	p, err := pt.Spawn(dir, 0x08048000, 0xBFFFF000, ustr.MkUstrRoot())
	if err != 0 {
		t.Fatalf("Spawn: %v", err)
	}
	return p
}

func TestForkSetsChildEAXZero(t *testing.T) {
	pt, _, alloc := newTestTable(t)
	parent := spawnInit(t, pt, nil, alloc)
	parent.Trapframe.EAX = 0xdeadbeef

	child, err := pt.Fork(parent)
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}
	if child.Trapframe.EAX != 0 {
		t.Fatalf("child EAX = %#x, want 0", child.Trapframe.EAX)
	}
	if child.ParentPid != parent.Pid {
		t.Fatalf("child ParentPid = %d, want %d", child.ParentPid, parent.Pid)
	}
	if child.State != Ready {
		t.Fatalf("child State = %v, want Ready", child.State)
	}
}

func TestForkGivesChildItsOwnFdTable(t *testing.T) {
	pt, _, alloc := newTestTable(t)
	parent := spawnInit(t, pt, nil, alloc)

	child, err := pt.Fork(parent)
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}
	if child.Fds == parent.Fds {
		t.Fatal("child must get its own fd table, not alias the parent's")
	}
}

func TestWaitReapsZombieChild(t *testing.T) {
	pt, vm, alloc := newTestTable(t)
	_ = vm
	parent := spawnInit(t, pt, nil, alloc)
	child, err := pt.Fork(parent)
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}

	pt.Exit(child, 7)

	pid, code, err := pt.Wait(parent)
	if err != 0 {
		t.Fatalf("Wait: %v", err)
	}
	if pid != child.Pid || code != 7 {
		t.Fatalf("Wait = (%d,%d), want (%d,7)", pid, code, child.Pid)
	}

	if _, ok := pt.Get(child.Pid); ok {
		t.Fatal("reaped child should be removed from the process table")
	}
}

func TestWaitWithoutZombieChildReturnsPendingSentinel(t *testing.T) {
	pt, _, alloc := newTestTable(t)
	parent := spawnInit(t, pt, nil, alloc)
	if _, err := pt.Fork(parent); err != 0 {
		t.Fatalf("Fork: %v", err)
	}

	pid, _, err := pt.Wait(parent)
	if err != 0 {
		t.Fatalf("Wait: %v", err)
	}
	if pid != 0 {
		t.Fatalf("Wait pid = %d, want 0 (pending sentinel)", pid)
	}
	if parent.State != WaitingChild {
		t.Fatalf("parent.State = %v, want WaitingChild", parent.State)
	}
}

func TestWaitWithNoChildrenReturnsECHILD(t *testing.T) {
	pt, _, alloc := newTestTable(t)
	parent := spawnInit(t, pt, nil, alloc)

	if _, _, err := pt.Wait(parent); err != -defs.ECHILD {
		t.Fatalf("Wait err = %v, want -ECHILD", err)
	}
}

func TestExitReparentsOrphansToInitPid(t *testing.T) {
	pt, _, alloc := newTestTable(t)
	parent := spawnInit(t, pt, nil, alloc)
	mid, err := pt.Fork(parent)
	if err != 0 {
		t.Fatalf("Fork mid: %v", err)
	}
	grandchild, err := pt.Fork(mid)
	if err != 0 {
		t.Fatalf("Fork grandchild: %v", err)
	}

	pt.Exit(mid, 0)

	if grandchild.ParentPid != defs.InitPid {
		t.Fatalf("grandchild.ParentPid = %d, want %d (InitPid)", grandchild.ParentPid, defs.InitPid)
	}
}

func TestScheduleRoundRobinsReadyQueue(t *testing.T) {
	pt, _, alloc := newTestTable(t)
	parent := spawnInit(t, pt, nil, alloc)
	c1, _ := pt.Fork(parent)
	c2, _ := pt.Fork(parent)

	p, ok := pt.Schedule()
	if !ok || p.Pid != c1.Pid {
		t.Fatalf("Schedule first = %v, want %d", p, c1.Pid)
	}
	p, ok = pt.Schedule()
	if !ok || p.Pid != c2.Pid {
		t.Fatalf("Schedule second = %v, want %d", p, c2.Pid)
	}
	if _, ok := pt.Schedule(); ok {
		t.Fatal("expected an empty READY queue after draining both children")
	}
}

func TestYieldRequeuesAtTail(t *testing.T) {
	pt, _, alloc := newTestTable(t)
	parent := spawnInit(t, pt, nil, alloc)
	c1, _ := pt.Fork(parent)
	c2, _ := pt.Fork(parent)

	pt.Yield(c1) // re-enqueue c1 at the tail, behind c2

	p, _ := pt.Schedule()
	if p.Pid != c2.Pid {
		t.Fatalf("Schedule after yield = %d, want %d (c2 first)", p.Pid, c2.Pid)
	}
	p, _ = pt.Schedule()
	if p.Pid != c1.Pid {
		t.Fatalf("Schedule after yield = %d, want %d (c1 requeued)", p.Pid, c1.Pid)
	}
}

func TestExecveLoadsEntryAndStack(t *testing.T) {
	pt, _, alloc := newTestTable(t)
	p := spawnInit(t, pt, nil, alloc)

	data := []byte{0x90, 0x90, 0xc3}
	raw := buildELF32(0x08048000, 0x08048000, 8, data)

	if err := pt.Execve(p, raw, []string{"prog", "arg1"}, []string{"HOME=/"}); err != 0 {
		t.Fatalf("Execve: %v", err)
	}
	if p.Trapframe.EIP != 0x08048000 {
		t.Fatalf("EIP = %#x, want 0x08048000", p.Trapframe.EIP)
	}
	if p.Trapframe.UserESP == 0 {
		t.Fatal("expected a nonzero stack pointer after Execve")
	}
	if p.Mem == nil {
		t.Fatal("expected Mem to be populated after a successful Execve")
	}

	var got [3]byte
	if !p.Mem.ReadBytes(0x08048000, got[:]) {
		t.Fatal("ReadBytes failed over the freshly loaded segment")
	}
	if got != [3]byte{0x90, 0x90, 0xc3} {
		t.Fatalf("segment bytes = %v, want %v", got, data)
	}
}

func TestExecveLeavesDirUntouchedOnAllocationFailure(t *testing.T) {
	// Exactly enough frames for spawnInit's own page directory and
	// nothing else, so Execve's staging directory (vmm.CloneKernelHalf)
	// exhausts the allocator before any PT_LOAD page can be mapped.
	alloc := pmm.NewAllocator([]pmm.Region{{Start: 0, End: 0}}, nil)
	vm := vmm.NewManager(alloc)
	vm.SetHardwareSeamsForTest(func(uintptr) {}, func(uintptr) {}, func() uintptr { return 0 }, func() uintptr { return 0 })
	pt := NewTable(vm, vfs.NewMountTable(), 64)
	p := spawnInit(t, pt, vm, alloc)
	wantDir := p.Dir

	data := []byte{0x90, 0x90, 0xc3}
	raw := buildELF32(0x08048000, 0x08048000, 8, data)

	if err := pt.Execve(p, raw, nil, nil); err != -defs.ENOMEM {
		t.Fatalf("Execve err = %v, want -ENOMEM", err)
	}
	if p.Dir != wantDir {
		t.Fatal("p.Dir must stay the caller's original directory after a failed Execve")
	}
	if p.Mem != nil {
		t.Fatal("Mem must stay nil after a failed Execve")
	}
}

func TestExecveRejectsNonELFImage(t *testing.T) {
	pt, _, alloc := newTestTable(t)
	p := spawnInit(t, pt, nil, alloc)
	p.Trapframe.EIP = 0x1234 // the "previous eip" that must survive a failed Execve

	if err := pt.Execve(p, []byte("not an elf"), nil, nil); err != -defs.EINVAL {
		t.Fatalf("Execve err = %v, want -EINVAL", err)
	}
	if p.Trapframe.EIP != 0x1234 {
		t.Fatalf("EIP changed after a failed Execve: got %#x", p.Trapframe.EIP)
	}
	if p.Mem != nil {
		t.Fatal("Mem must stay nil after a failed Execve (testable property 7)")
	}
}
