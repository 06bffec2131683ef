// Package syscall implements the syscall-vector dispatcher (spec §4.F):
// decode the syscall number from eax, marshal arguments off the user
// stack, invoke the registered handler, and write its return value back
// into the trap frame's eax.
//
// Argument order: original_source/kernel/include/syscall.h's
// _syscallN macros push arguments in reverse (last declared argument
// first) so that, after the sentinel zero is pushed, argument i sits at
// user_esp+4+4*i in left-to-right declaration order. This package reads
// args in exactly that order — arg(0) is a syscall's first declared
// parameter — resolving the ambiguity between push order and read
// order in favor of the read-side formula the spec fixes.
package syscall

import (
	"simpleos/defs"
	"simpleos/trap"
)

// Num identifies a recognized syscall (spec §4.F table).
type Num int32

const (
	Yield Num = iota
	Dup
	Wait
	Seek
	Readdir
	TruncateFd
	TruncatePath
	Open
	Read
	Write
	Close
	Stat
	Fstat
	Link
	Unlink
	Rename
	Chdir
	Getcwd
	Fork
	Execve
	Exit
)

// argCount is how many user-stack slots each syscall consumes, fixed by
// its shape in spec §4.F.
var argCount = map[Num]int{
	Yield:        0,
	Dup:          1,
	Wait:         1,
	Seek:         3,
	Readdir:      4,
	TruncateFd:   2,
	TruncatePath: 2,
	Open:         2,
	Read:         3,
	Write:        3,
	Close:        1,
	Stat:         2,
	Fstat:        2,
	Link:         2,
	Unlink:       1,
	Rename:       2,
	Chdir:        1,
	Getcwd:       2,
	Fork:         0,
	Execve:       3,
	Exit:         1,
}

// UserMemory is the per-process memory accessor the dispatcher reads
// syscall arguments through and that handlers use to read/write
// pointer arguments. Implementations must bounds-check every access
// against the calling process's mapped user range (spec §4.F
// validation duty: "faulting in-kernel on a bad user pointer must
// return -EFAULT, not panic").
type UserMemory interface {
	// ReadWord reads one little-endian uint32 at addr.
	ReadWord(addr uintptr) (uint32, bool)
	// ReadBytes copies len(buf) bytes starting at addr into buf.
	ReadBytes(addr uintptr, buf []byte) bool
	// WriteBytes copies buf into len(buf) bytes starting at addr.
	WriteBytes(addr uintptr, buf []byte) bool
}

// Handler services one syscall. mem is the calling process's memory
// accessor; args are the marshalled stack words. The return value is
// written verbatim into the trap frame's eax (negative values are
// interpreted by the caller as -errno, per defs.Err_t convention).
type Handler func(mem UserMemory, args []uint32) int32

var table = map[Num]Handler{}

// Register installs handler for num, replacing any previous handler.
func Register(num Num, handler Handler) {
	table[num] = handler
}

// readArgs reads argc words starting at user_esp+4 (spec §4.F: "a
// single pushed sentinel zero" occupies the word at user_esp itself),
// returning ok=false the moment any word falls outside mem's valid
// range.
func readArgs(mem UserMemory, userESP uintptr, argc int) ([]uint32, bool) {
	args := make([]uint32, argc)
	for i := 0; i < argc; i++ {
		w, ok := mem.ReadWord(userESP + 4 + uintptr(4*i))
		if !ok {
			return nil, false
		}
		args[i] = w
	}
	return args, true
}

// Dispatch implements the syscall-vector trap handler: it reads the
// syscall number from f.EAX, marshals that syscall's arguments off the
// user stack via mem, invokes the registered handler, and writes the
// result back into f.EAX. An unrecognized syscall number yields -ENOSYS
// and an out-of-range argument pointer yields -EFAULT, rather than panicking,
// per spec §4.F's validation duty — a malicious or buggy user program
// must never be able to crash the kernel this way.
func Dispatch(f *trap.Frame, mem UserMemory) {
	num := Num(int32(f.EAX))
	handler, ok := table[num]
	if !ok {
		errno := int32(-defs.ENOSYS)
		f.EAX = uint32(errno)
		return
	}

	argc := argCount[num]
	args, ok := readArgs(mem, uintptr(f.UserESP), argc)
	if !ok {
		errno := int32(-defs.EFAULT)
		f.EAX = uint32(errno)
		return
	}

	f.EAX = uint32(handler(mem, args))
}
