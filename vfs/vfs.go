// Package vfs implements the process-wide mount table, path resolution,
// and fd table (spec §4.G). Grounded on
// biscuit/src/fd/fd.go's Fd_t/Cwd_t shape (a descriptor holds an
// fdops.Fdops_i plus permission bits; a cwd tracks a canonical path
// alongside its open directory fd) and on bpath/ustr for path handling.
package vfs

import (
	"sync"

	"simpleos/bpath"
	"simpleos/defs"
	"simpleos/fdops"
	"simpleos/ustr"
)

// mount is one entry in the mount table.
type mount struct {
	prefix ustr.Ustr
	ops    fdops.Ops
}

// MountTable resolves absolute paths to a backend and the path suffix
// to hand it (spec §4.G: "ordered list of (prefix, mount_point)...
// longest-prefix match wins; ties broken by insertion order").
type MountTable struct {
	mu     sync.Mutex
	mounts []mount
}

// NewMountTable returns an empty table.
func NewMountTable() *MountTable { return &MountTable{} }

// Mount registers ops at prefix. Later mounts at the same prefix length
// shadow earlier ones only because Resolve scans in reverse insertion
// order when lengths tie (spec §4.G: "later mounts shadow earlier").
func (mt *MountTable) Mount(prefix ustr.Ustr, ops fdops.Ops) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.mounts = append(mt.mounts, mount{prefix: prefix, ops: ops})
}

// Resolve finds the mount whose prefix matches path with the longest
// length, returning that mount's ops and the path suffix beneath the
// mount point (with a leading slash, or "/" if the match is exact).
func (mt *MountTable) Resolve(path ustr.Ustr) (fdops.Ops, ustr.Ustr, bool) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	var best *mount
	for i := len(mt.mounts) - 1; i >= 0; i-- {
		m := &mt.mounts[i]
		if !path.HasPrefix(m.prefix) {
			continue
		}
		if best == nil || len(m.prefix) > len(best.prefix) {
			best = m
		}
	}
	if best == nil {
		return nil, nil, false
	}

	suffix := path[len(best.prefix):]
	if n := len(best.prefix); n > 0 && best.prefix[n-1] == '/' {
		suffix = path[n-1:]
	}
	if len(suffix) == 0 {
		suffix = ustr.Ustr("/")
	}
	return best.ops, suffix, true
}

// handle is the shared, refcounted backing state an fd slot points at;
// fork/dup create new fd-table entries that all reference the same
// handle, so reads/writes through any of them see a single moving
// offset (spec §4.G: "both share one offset").
type handle struct {
	mu     sync.Mutex
	ops    fdops.Ops
	path   string
	offset int64
	refs   int
}

// Fd is one entry in a process's fd table.
type Fd struct {
	h     *handle
	perms int
}

const (
	FdRead  = 0x1
	FdWrite = 0x2
)

// Table is a process's dense, small-integer-indexed fd table.
type Table struct {
	mu   sync.Mutex
	fds  []*Fd // nil entries mark free slots
	mnts *MountTable
}

// NewTable returns an empty fd table resolving opens against mnts.
func NewTable(mnts *MountTable) *Table {
	return &Table{mnts: mnts}
}

func (t *Table) lowestFreeSlot() int {
	for i, f := range t.fds {
		if f == nil {
			return i
		}
	}
	t.fds = append(t.fds, nil)
	return len(t.fds) - 1
}

// Open resolves path (after textual "."/".." canonicalization), calls
// the mount's Create if flags has O_CREAT and the path is absent, and
// installs a new fd at offset 0 (spec §4.G open semantics).
func (t *Table) Open(path ustr.Ustr, flags int) (int, defs.Err_t) {
	clean := bpath.Canonicalize(path)
	ops, suffix, found := t.mnts.Resolve(clean)
	if !found {
		return -1, -defs.ENOENT
	}

	if _, err := ops.Getattr(suffix.String()); err != 0 {
		if flags&defs.O_CREAT == 0 {
			return -1, -defs.ENOENT
		}
		if err := ops.Create(suffix.String()); err != 0 {
			return -1, err
		}
	}

	perms := FdRead
	switch flags & 0x3 {
	case defs.O_WRONLY:
		perms = FdWrite
	case defs.O_RDWR:
		perms = FdRead | FdWrite
	}

	h := &handle{ops: ops, path: suffix.String(), refs: 1}
	t.mu.Lock()
	defer t.mu.Unlock()
	slot := t.lowestFreeSlot()
	t.fds[slot] = &Fd{h: h, perms: perms}
	return slot, 0
}

func (t *Table) get(fd int) (*Fd, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < 0 || fd >= len(t.fds) || t.fds[fd] == nil {
		return nil, -defs.EBADF
	}
	return t.fds[fd], 0
}

// Read forwards to the mount at the fd's current offset, advancing it
// by the byte count on success (spec §4.G).
func (t *Table) Read(fd int, buf []byte) (int, defs.Err_t) {
	f, err := t.get(fd)
	if err != 0 {
		return 0, err
	}
	if f.perms&FdRead == 0 {
		return 0, -defs.EPERM
	}
	f.h.mu.Lock()
	defer f.h.mu.Unlock()
	n, err := f.h.ops.Read(f.h.path, f.h.offset, buf)
	if err == 0 {
		f.h.offset += int64(n)
	}
	return n, err
}

// Write forwards to the mount at the fd's current offset, advancing it
// by the byte count on success (spec §4.G).
func (t *Table) Write(fd int, buf []byte) (int, defs.Err_t) {
	f, err := t.get(fd)
	if err != 0 {
		return 0, err
	}
	if f.perms&FdWrite == 0 {
		return 0, -defs.EPERM
	}
	f.h.mu.Lock()
	defer f.h.mu.Unlock()
	n, err := f.h.ops.Write(f.h.path, f.h.offset, buf)
	if err == 0 {
		f.h.offset += int64(n)
	}
	return n, err
}

// Seek implements SEEK_SET/CUR/END offset updates (spec §4.G).
func (t *Table) Seek(fd int, off int64, whence int) (int64, defs.Err_t) {
	f, err := t.get(fd)
	if err != 0 {
		return 0, err
	}
	f.h.mu.Lock()
	defer f.h.mu.Unlock()

	var newOff int64
	switch whence {
	case defs.SEEK_SET:
		newOff = off
	case defs.SEEK_CUR:
		newOff = f.h.offset + off
	case defs.SEEK_END:
		st, err := f.h.ops.Getattr(f.h.path)
		if err != 0 {
			return 0, err
		}
		newOff = st.Size + off
	default:
		return 0, -defs.EINVAL
	}
	if newOff < 0 {
		return 0, -defs.EINVAL
	}
	f.h.offset = newOff
	return newOff, 0
}

// Readdir delegates to the mount, one entry at a time (spec §4.G: "the
// caller pages through by advancing index").
func (t *Table) Readdir(fd int, index int) (fdops.Dirent, bool, defs.Err_t) {
	f, err := t.get(fd)
	if err != 0 {
		return fdops.Dirent{}, false, err
	}
	return f.h.ops.Readdir(f.h.path, index)
}

// Getattr delegates directly, without touching the fd's offset.
func (t *Table) Getattr(fd int) (fdops.Stat, defs.Err_t) {
	f, err := t.get(fd)
	if err != 0 {
		return fdops.Stat{}, err
	}
	return f.h.ops.Getattr(f.h.path)
}

// Truncate delegates to the mount (spec §4.F TRUNCATE_FD).
func (t *Table) Truncate(fd int, size int64) defs.Err_t {
	f, err := t.get(fd)
	if err != 0 {
		return err
	}
	return f.h.ops.Truncate(f.h.path, size)
}

// Close decrements the backing handle's refcount, freeing the slot
// unconditionally and releasing the handle itself only once every
// sharing fd has closed (spec §4.G: "close decrements refcount; on
// zero, frees the slot").
func (t *Table) Close(fd int) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < 0 || fd >= len(t.fds) || t.fds[fd] == nil {
		return -defs.EBADF
	}
	f := t.fds[fd]
	t.fds[fd] = nil

	f.h.mu.Lock()
	f.h.refs--
	f.h.mu.Unlock()
	return 0
}

// Dup copies the fd at oldfd into the lowest free slot, sharing its
// backing handle (spec §4.F DUP: "duplicate into lowest free slot").
func (t *Table) Dup(oldfd int) (int, defs.Err_t) {
	of, err := t.get(oldfd)
	if err != 0 {
		return -1, -defs.EBADF
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	of.h.mu.Lock()
	of.h.refs++
	of.h.mu.Unlock()

	slot := t.lowestFreeSlot()
	t.fds[slot] = &Fd{h: of.h, perms: of.perms}
	return slot, 0
}

// Fork returns a new Table for a child process: each entry is a fresh
// *Fd sharing the same backing *handle as the parent's, so offsets stay
// shared across the fork the way dup'd fds do, while the two tables'
// slot arrays are otherwise fully independent (spec §4.I step 3:
// "duplicate the fd table (reference-counted shares of backing
// handles)").
func (t *Table) Fork() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()

	child := &Table{mnts: t.mnts, fds: make([]*Fd, len(t.fds))}
	for i, f := range t.fds {
		if f == nil {
			continue
		}
		f.h.mu.Lock()
		f.h.refs++
		f.h.mu.Unlock()
		child.fds[i] = &Fd{h: f.h, perms: f.perms}
	}
	return child
}
