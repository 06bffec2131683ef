// Package klog is the kernel's kprintf. The freestanding teacher
// (gopher-os's kernel/kfmt/early) hand-rolls an allocation-free formatter
// because the Go runtime/allocator is not yet up when it is needed; this
// rewrite targets a hosted build (see DESIGN.md) so it wraps the same
// verb-limited contract around the standard fmt package instead of
// reimplementing one, writing to a swappable sink exactly the way the
// teacher swaps hal.ActiveTerminal.
package klog

import (
	"fmt"
	"io"
	"os"
)

// Sink receives all kernel log output. Defaults to stdout; SetSink
// replaces it. No package in this module calls SetSink, so kernel
// diagnostics do not pass through the console backend.
var Sink io.Writer = os.Stdout

// SetSink installs w as the destination for subsequent Printf/Println calls.
func SetSink(w io.Writer) { Sink = w }

// Printf formats according to a format specifier and writes to Sink.
// Write errors are not reported: a kernel log sink that is itself broken
// has no recovery path, so failures are silently dropped rather than
// risking a panic loop.
func Printf(format string, args ...interface{}) {
	fmt.Fprintf(Sink, format, args...)
}

// Println writes args to Sink followed by a newline.
func Println(args ...interface{}) {
	fmt.Fprintln(Sink, args...)
}

// Panicf formats a message and panics with it. Reserved for violated
// kernel invariants (spec ยง7): double free, missing PDE[1023] recursion,
// ATA ERR|DF, out-of-frames during boot. Never call this for a
// user-caused error; return a defs.Err_t instead.
func Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	Printf("*** kernel panic: %s\n", msg)
	panic(msg)
}
