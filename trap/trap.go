// Package trap implements the trap frame and vector-to-handler dispatch
// table (spec §4.E): a single low-level stub per vector builds a trap
// frame, then a common dispatcher looks up a registered handler by
// vector number and invokes it. Grounded on gopher-os's
// kernel/irq.HandleException/HandleExceptionWithCode registration API
// (gopheros/kernel/irq/handler_amd64.go), adapted from amd64's
// Frame/Regs split to this spec's single flat i386 trap frame.
// The per-vector entry stubs and the common register-save body are
// necessarily hand-written assembly anchored to a freestanding runtime
// (the same role biscuit's forked Go runtime fills for its own ISR
// entries); this package models the portion above that boundary —
// Frame, the dispatch table, and Dispatch itself — which is what is
// exercised and tested in a hosted build.
package trap

import "simpleos/klog"

// Frame is the trap frame assembled by the common entry-stub body: the
// callee-saved GP registers, the vector/error-code pair the stub
// pushed, and the processor state the CPU itself pushed on privilege
// change (spec §4.E).
type Frame struct {
	EDI, ESI, EBP, ESP0       uint32
	EBX, EDX, ECX, EAX        uint32
	IntNo, ErrCode            uint32
	EIP, CS, EFlags           uint32
	UserESP, UserSS           uint32
}

// NumVectors is the size of the IDT this dispatch table covers: the 32
// CPU exception vectors plus the syscall vector (spec §4.F, vector
// 0x58).
const NumVectors = 0x59

// Handler processes one trap, given a pointer to its frame. Handlers
// that want to change what the interrupted context resumes into (e.g.
// the syscall return value) mutate *f directly; the common stub reloads
// from it before iret.
type Handler func(f *Frame)

var table [NumVectors]Handler

// Register installs handler for vector, replacing any previous
// handler. Vector must be < NumVectors.
func Register(vector uint32, handler Handler) {
	if vector >= NumVectors {
		klog.Panicf("trap: vector %d out of range", vector)
	}
	table[vector] = handler
}

// Dispatch is the common body's single entry point: it looks up f.IntNo
// in the table and invokes the registered handler, or panics on an
// unhandled vector (spec §4.E: "a single dispatcher which looks up a
// registered handler by vector and invokes it").
func Dispatch(f *Frame) {
	if f.IntNo >= NumVectors || table[f.IntNo] == nil {
		klog.Panicf("trap: unhandled vector %d (err=%#x eip=%#x)", f.IntNo, f.ErrCode, f.EIP)
	}
	table[f.IntNo](f)
}

// Exception vector numbers this core cares about (spec §4.C/§7).
const (
	VectorDivideError = 0
	VectorGPFault     = 13
	VectorPageFault   = 14
	VectorSyscall     = 0x58
)
