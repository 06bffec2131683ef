package vfs

import (
	"testing"

	"simpleos/defs"
	"simpleos/fdops"
	"simpleos/ustr"
)

// memBackend is a tiny in-memory file backend used only to exercise the
// mount table and fd table logic, independent of any real fs backend.
type memBackend struct {
	fdops.Base
	files map[string][]byte
}

func newMemBackend() *memBackend { return &memBackend{files: map[string][]byte{}} }

func (b *memBackend) Getattr(path string) (fdops.Stat, defs.Err_t) {
	data, ok := b.files[path]
	if !ok {
		return fdops.Stat{}, -defs.ENOENT
	}
	return fdops.Stat{Size: int64(len(data))}, 0
}

func (b *memBackend) Create(path string) defs.Err_t {
	if _, ok := b.files[path]; ok {
		return 0
	}
	b.files[path] = nil
	return 0
}

func (b *memBackend) Read(path string, offset int64, buf []byte) (int, defs.Err_t) {
	data, ok := b.files[path]
	if !ok {
		return 0, -defs.ENOENT
	}
	if offset >= int64(len(data)) {
		return 0, 0
	}
	n := copy(buf, data[offset:])
	return n, 0
}

func (b *memBackend) Write(path string, offset int64, buf []byte) (int, defs.Err_t) {
	data := b.files[path]
	end := offset + int64(len(buf))
	if end > int64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}
	copy(data[offset:], buf)
	b.files[path] = data
	return len(buf), 0
}

func setup() (*Table, *memBackend) {
	mt := NewMountTable()
	backend := newMemBackend()
	mt.Mount(ustr.MkUstrRoot(), backend)
	return NewTable(mt), backend
}

func TestOpenReadWriteRoundTrip(t *testing.T) {
	table, _ := setup()

	fd, err := table.Open(ustr.Ustr("/hello.txt"), defs.O_RDWR|defs.O_CREAT)
	if err != 0 {
		t.Fatalf("Open: %v", err)
	}

	n, err := table.Write(fd, []byte("hi"))
	if err != 0 || n != 2 {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}

	if _, err := table.Seek(fd, 0, defs.SEEK_SET); err != 0 {
		t.Fatalf("Seek: %v", err)
	}

	buf := make([]byte, 16)
	n, err = table.Read(fd, buf)
	if err != 0 || string(buf[:n]) != "hi" {
		t.Fatalf("Read: n=%d buf=%q err=%v", n, buf[:n], err)
	}
}

func TestDupSharesOffset(t *testing.T) {
	table, backend := setup()
	backend.files["/a"] = []byte("0123456789")

	fd, err := table.Open(ustr.Ustr("/a"), defs.O_RDONLY)
	if err != 0 {
		t.Fatalf("Open: %v", err)
	}
	dupfd, err := table.Dup(fd)
	if err != 0 {
		t.Fatalf("Dup: %v", err)
	}

	buf := make([]byte, 4)
	if _, err := table.Read(fd, buf); err != 0 {
		t.Fatalf("Read via fd: %v", err)
	}
	// The dup'd fd must see the offset advanced by the first read.
	n, err := table.Read(dupfd, buf)
	if err != 0 {
		t.Fatalf("Read via dupfd: %v", err)
	}
	if string(buf[:n]) != "4567" {
		t.Fatalf("dup did not share offset: got %q, want 4567", buf[:n])
	}
}

func TestCloseFreesSlotForLowestFreeReuse(t *testing.T) {
	table, backend := setup()
	backend.files["/a"] = []byte("x")
	backend.files["/b"] = []byte("y")

	fd0, _ := table.Open(ustr.Ustr("/a"), defs.O_RDONLY)
	fd1, _ := table.Open(ustr.Ustr("/b"), defs.O_RDONLY)
	if fd1 != fd0+1 {
		t.Fatalf("expected sequential slots, got %d then %d", fd0, fd1)
	}

	if err := table.Close(fd0); err != 0 {
		t.Fatalf("Close: %v", err)
	}

	fd2, err := table.Open(ustr.Ustr("/a"), defs.O_RDONLY)
	if err != 0 {
		t.Fatalf("reopen: %v", err)
	}
	if fd2 != fd0 {
		t.Fatalf("expected freed slot %d to be reused, got %d", fd0, fd2)
	}
}

func TestForkIsolatesTableButSharesOffset(t *testing.T) {
	table, backend := setup()
	backend.files["/a"] = []byte("0123456789")

	fd, _ := table.Open(ustr.Ustr("/a"), defs.O_RDONLY)
	child := table.Fork()

	buf := make([]byte, 4)
	if _, err := table.Read(fd, buf); err != 0 {
		t.Fatalf("parent read: %v", err)
	}

	n, err := child.Read(fd, buf)
	if err != 0 {
		t.Fatalf("child read: %v", err)
	}
	if string(buf[:n]) != "4567" {
		t.Fatalf("child did not observe the parent's advanced offset: got %q", buf[:n])
	}

	// Closing in the child must not affect the parent's table (spec
	// §4.I: "each child gets its own copy of the table").
	if err := child.Close(fd); err != 0 {
		t.Fatalf("child Close: %v", err)
	}
	if _, err := table.Read(fd, buf); err != 0 {
		t.Fatalf("parent fd should still be open after child closed its copy: %v", err)
	}
}

func TestMountTableLongestPrefixMatch(t *testing.T) {
	mt := NewMountTable()
	root := newMemBackend()
	sub := newMemBackend()
	root.files["/etc/passwd"] = []byte("root")
	sub.files["/passwd"] = []byte("shadowed")

	mt.Mount(ustr.MkUstrRoot(), root)
	mt.Mount(ustr.Ustr("/etc"), sub)

	ops, suffix, ok := mt.Resolve(ustr.Ustr("/etc/passwd"))
	if !ok {
		t.Fatal("expected a match")
	}
	if ops != fdops.Ops(sub) {
		t.Fatal("expected the longer /etc mount to win over /")
	}
	if suffix.String() != "/passwd" {
		t.Fatalf("suffix = %q, want /passwd", suffix.String())
	}
}
