// Package kernel assembles the mount table, process table, and console
// device into one running system and binds spec §4.F's syscall numbers
// to the vfs/proc/console operations spec §4.G-§4.I describe. The
// independently-testable subsystem packages (vfs, proc, console,
// ustarfs, syscall, ...) have no need of each other's concrete types;
// this package is where a real kernel's boot path would wire them
// together before dropping into user mode, grounded on the same
// overall shape biscuit's own kernel entry point (chentry.go and the
// now-empty src/kernel package it lives in) assembles its subsystems
// from — nothing else in this module imports kernel.
package kernel

import (
	"simpleos/console"
	"simpleos/fdops"
	"simpleos/proc"
	"simpleos/ustr"
	"simpleos/vfs"
	"simpleos/vmm"
)

// Kernel is the assembled set of subsystems every process's syscalls
// dispatch against.
type Kernel struct {
	Procs   *proc.Table
	Mounts  *vfs.MountTable
	Console *console.Console
}

// New builds a Kernel with a console mounted at /dev/console and
// registers its syscall handlers into package syscall's global
// dispatch table.
func New(vm *vmm.Manager, maxProcs int, term console.Terminal) *Kernel {
	mounts := vfs.NewMountTable()
	con := console.NewConsole(term, 256)
	mounts.Mount(ustr.Ustr("/dev/console"), con)

	k := &Kernel{
		Procs:   proc.NewTable(vm, mounts, maxProcs),
		Mounts:  mounts,
		Console: con,
	}
	k.installSyscalls()
	return k
}

// Mount registers an additional backend (e.g. a ustarfs.Backend) at
// prefix, for callers assembling a Kernel with more than a console.
func (k *Kernel) Mount(prefix ustr.Ustr, ops fdops.Ops) {
	k.Mounts.Mount(prefix, ops)
}
