//go:build 386

// Package cpu encapsulates the handful of i386 primitives the kernel
// needs directly (cr2/cr3 access, invlpg, interrupt masking, halt) behind
// single well-typed functions, per spec ยง9's design note that no package
// above this one should embed assembly. Mirrors gopher-os's
// kernel/cpu.cpu_amd64.go declaration style; bodies live in cpu_386.s.
package cpu

// ReadCR2 returns the faulting address recorded by the last page fault.
func ReadCR2() uintptr

// ReadCR3 returns the physical address of the active page directory.
func ReadCR3() uintptr

// WriteCR3 loads a new page directory, which implicitly flushes the
// entire TLB (spec ยง5: "full flushes happen only on page-directory
// switch").
func WriteCR3(addr uintptr)

// InvalidatePage flushes the single TLB entry for the given virtual
// address (spec ยง4.C, ยง5: "TLB invalidations are per-page via invlpg").
func InvalidatePage(vaddr uintptr)

// DisableInterrupts masks hardware interrupts (spec ยง5: the kernel runs
// with interrupts disabled while a trap handler executes).
func DisableInterrupts()

// EnableInterrupts unmasks hardware interrupts.
func EnableInterrupts()

// Halt stops instruction execution until the next interrupt.
func Halt()
