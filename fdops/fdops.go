// Package fdops defines the per-mount operations vtable (spec §4.G):
// every backend a mount point can plug into the VFS implements this
// interface, and an absent operation yields -ENOSYS rather than a
// missing-method compile error. Grounded on the *shape* of
// biscuit/src/fd/fd.go's Fd_t.Fops field (an interface value held by
// pointer, named Fdops_i there) — the teacher's own fdops package ships
// only a go.mod with no interface definition, so the interface itself is
// authored here directly from the spec's operation list (4.G/4.H).
package fdops

import "simpleos/defs"

// Stat mirrors the subset of POSIX stat(2) fields the spec's backends
// are required to fill in (mode, size, and mtime; everything else is
// zero). Mtime is a Unix seconds value (spec §6: "stat returns {mode,
// size, mtim.tv_sec}"); a backend with no notion of modification time
// leaves it 0.
type Stat struct {
	Mode  defs.Err_t // reuses Err_t's underlying int width; holds defs.S_IF* bits, not an error
	Size  int64
	Mtime int64
}

// Dirent is one entry returned by Readdir.
type Dirent struct {
	Name  string
	Inode uint64
}

// Ops is the operations vtable a mount point supplies. A nil method
// value for any optional operation is not permitted in Go; instead,
// backends that do not support an operation call Unsupported and return
// its result, keeping the -ENOSYS contract explicit and centralized
// (spec §4.G: "absent operations yield -ENOSYS").
type Ops interface {
	// Read reads into buf starting at offset, returning bytes read.
	Read(path string, offset int64, buf []byte) (int, defs.Err_t)
	// Write writes buf starting at offset, returning bytes written.
	Write(path string, offset int64, buf []byte) (int, defs.Err_t)
	// Getattr fills in a Stat for path.
	Getattr(path string) (Stat, defs.Err_t)
	// Readdir returns the index'th directory entry under path, or
	// ok=false once index runs past the last entry (spec §4.G: "the
	// caller pages through by advancing index").
	Readdir(path string, index int) (Dirent, bool, defs.Err_t)
	// Create makes path (used by open with O_CREAT).
	Create(path string) defs.Err_t
	// Link creates newpath as another name for oldpath.
	Link(oldpath, newpath string) defs.Err_t
	// Unlink removes path.
	Unlink(path string) defs.Err_t
	// Rename moves oldpath to newpath.
	Rename(oldpath, newpath string) defs.Err_t
	// Truncate resizes path to size bytes.
	Truncate(path string, size int64) defs.Err_t
}

// Unsupported is the canonical -ENOSYS return for an operation a
// backend does not implement; embedding Base in a backend struct gives
// every Ops method this behavior until the backend overrides it.
func Unsupported() defs.Err_t { return -defs.ENOSYS }

// Base implements every Ops method as -ENOSYS. Backends embed Base and
// override only the operations they actually support (spec §4.H: the
// USTAR backend overrides Read/Getattr/Readdir and answers the mutating
// operations with -EROFS; the console backend overrides only
// Read/Write/Getattr).
type Base struct{}

func (Base) Read(string, int64, []byte) (int, defs.Err_t)          { return 0, Unsupported() }
func (Base) Write(string, int64, []byte) (int, defs.Err_t)         { return 0, Unsupported() }
func (Base) Getattr(string) (Stat, defs.Err_t)                     { return Stat{}, Unsupported() }
func (Base) Readdir(string, int) (Dirent, bool, defs.Err_t)        { return Dirent{}, false, Unsupported() }
func (Base) Create(string) defs.Err_t                               { return Unsupported() }
func (Base) Link(string, string) defs.Err_t                         { return Unsupported() }
func (Base) Unlink(string) defs.Err_t                                { return Unsupported() }
func (Base) Rename(string, string) defs.Err_t                       { return Unsupported() }
func (Base) Truncate(string, int64) defs.Err_t                      { return Unsupported() }
