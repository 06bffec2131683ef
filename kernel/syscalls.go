package kernel

import (
	"encoding/binary"

	"simpleos/bpath"
	"simpleos/defs"
	"simpleos/fdops"
	"simpleos/syscall"
	"simpleos/ustr"
)

const maxCStringLen = 512

// readCString reads a NUL-terminated string starting at addr, the shape
// every path argument arrives in (spec §6: "Paths are absolute,
// NUL-terminated").
func readCString(mem syscall.UserMemory, addr uint32, max int) (string, bool) {
	if addr == 0 {
		return "", false
	}
	buf := make([]byte, 0, 64)
	one := make([]byte, 1)
	for i := 0; i < max; i++ {
		if !mem.ReadBytes(uintptr(addr)+uintptr(i), one) {
			return "", false
		}
		if one[0] == 0 {
			return string(buf), true
		}
		buf = append(buf, one[0])
	}
	return "", false
}

// readStringArray reads a NULL-terminated array of string pointers,
// the shape execve's argv/envp arrive in (spec §4.I step 2).
func readStringArray(mem syscall.UserMemory, addr uint32) ([]string, bool) {
	if addr == 0 {
		return nil, true
	}
	var out []string
	for i := 0; ; i++ {
		ptr, ok := mem.ReadWord(uintptr(addr) + uintptr(i)*4)
		if !ok {
			return nil, false
		}
		if ptr == 0 {
			return out, true
		}
		s, ok := readCString(mem, ptr, maxCStringLen)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
}

const statSize = 16

// writeStat marshals st to the 16-byte {mode u32, size u64, mtime u32}
// layout spec §6 describes ("stat returns {mode, size, mtim.tv_sec}").
// A backend with no notion of modification time (the console device)
// leaves fdops.Stat.Mtime 0; ustarfs.Backend fills it from the archive's
// own stored mtime field.
func writeStat(mem syscall.UserMemory, addr uint32, st fdops.Stat) bool {
	buf := make([]byte, statSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(st.Mode))
	binary.LittleEndian.PutUint64(buf[4:12], uint64(st.Size))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(st.Mtime))
	return mem.WriteBytes(uintptr(addr), buf)
}

// resolve canonicalizes path and finds its mount, the same resolution
// vfs.Table.Open performs internally, exposed here for the syscalls
// (stat-by-path, link, unlink, rename, readdir, truncate-by-path) that
// the spec describes operating directly on a path rather than an
// already-open fd (spec §4.G/§4.H).
func (k *Kernel) resolve(path string) (fdops.Ops, string, defs.Err_t) {
	clean := bpath.Canonicalize(ustr.Ustr(path))
	ops, suffix, ok := k.Mounts.Resolve(clean)
	if !ok {
		return nil, "", -defs.ENOENT
	}
	return ops, suffix.String(), 0
}

// installSyscalls registers a Handler for every syscall number spec
// §4.F's table names, each closing over k to reach the calling
// process's fd table, cwd, and the process table itself.
func (k *Kernel) installSyscalls() {
	syscall.Register(syscall.Yield, func(syscall.UserMemory, []uint32) int32 {
		p := k.Procs.Current()
		if p != nil {
			k.Procs.Yield(p)
		}
		return 0
	})

	syscall.Register(syscall.Fork, func(syscall.UserMemory, []uint32) int32 {
		parent := k.Procs.Current()
		child, err := k.Procs.Fork(parent)
		if err != 0 {
			return int32(err)
		}
		return int32(child.Pid)
	})

	syscall.Register(syscall.Wait, func(mem syscall.UserMemory, args []uint32) int32 {
		parent := k.Procs.Current()
		pid, code, err := k.Procs.Wait(parent)
		if err != 0 {
			return int32(err)
		}
		if pid != 0 {
			mem.WriteBytes(uintptr(args[0]), encodeWord(uint32(code)))
		}
		return int32(pid)
	})

	syscall.Register(syscall.Exit, func(_ syscall.UserMemory, args []uint32) int32 {
		p := k.Procs.Current()
		if p != nil {
			k.Procs.Exit(p, int32(args[0]))
		}
		return 0
	})

	syscall.Register(syscall.Open, func(mem syscall.UserMemory, args []uint32) int32 {
		path, ok := readCString(mem, args[0], maxCStringLen)
		if !ok {
			return int32(-defs.EFAULT)
		}
		fd, err := k.Procs.Current().Fds.Open(ustr.Ustr(path), int(args[1]))
		if err != 0 {
			return int32(err)
		}
		return int32(fd)
	})

	syscall.Register(syscall.Read, func(mem syscall.UserMemory, args []uint32) int32 {
		buf := make([]byte, args[2])
		n, err := k.Procs.Current().Fds.Read(int(args[0]), buf)
		if err != 0 {
			return int32(err)
		}
		if !mem.WriteBytes(uintptr(args[1]), buf[:n]) {
			return int32(-defs.EFAULT)
		}
		return int32(n)
	})

	syscall.Register(syscall.Write, func(mem syscall.UserMemory, args []uint32) int32 {
		buf := make([]byte, args[2])
		if !mem.ReadBytes(uintptr(args[1]), buf) {
			return int32(-defs.EFAULT)
		}
		n, err := k.Procs.Current().Fds.Write(int(args[0]), buf)
		if err != 0 {
			return int32(err)
		}
		return int32(n)
	})

	syscall.Register(syscall.Close, func(_ syscall.UserMemory, args []uint32) int32 {
		return int32(k.Procs.Current().Fds.Close(int(args[0])))
	})

	syscall.Register(syscall.Dup, func(_ syscall.UserMemory, args []uint32) int32 {
		fd, err := k.Procs.Current().Fds.Dup(int(args[0]))
		if err != 0 {
			return int32(err)
		}
		return int32(fd)
	})

	syscall.Register(syscall.Seek, func(_ syscall.UserMemory, args []uint32) int32 {
		off, err := k.Procs.Current().Fds.Seek(int(args[0]), int64(int32(args[1])), int(args[2]))
		if err != 0 {
			return int32(err)
		}
		return int32(off)
	})

	syscall.Register(syscall.TruncateFd, func(_ syscall.UserMemory, args []uint32) int32 {
		return int32(k.Procs.Current().Fds.Truncate(int(args[0]), int64(args[1])))
	})

	syscall.Register(syscall.TruncatePath, func(mem syscall.UserMemory, args []uint32) int32 {
		path, ok := readCString(mem, args[0], maxCStringLen)
		if !ok {
			return int32(-defs.EFAULT)
		}
		ops, suffix, err := k.resolve(path)
		if err != 0 {
			return int32(err)
		}
		return int32(ops.Truncate(suffix, int64(args[1])))
	})

	syscall.Register(syscall.Stat, func(mem syscall.UserMemory, args []uint32) int32 {
		path, ok := readCString(mem, args[0], maxCStringLen)
		if !ok {
			return int32(-defs.EFAULT)
		}
		ops, suffix, err := k.resolve(path)
		if err != 0 {
			return int32(err)
		}
		st, err := ops.Getattr(suffix)
		if err != 0 {
			return int32(err)
		}
		if !writeStat(mem, args[1], st) {
			return int32(-defs.EFAULT)
		}
		return 0
	})

	syscall.Register(syscall.Fstat, func(mem syscall.UserMemory, args []uint32) int32 {
		st, err := k.Procs.Current().Fds.Getattr(int(args[0]))
		if err != 0 {
			return int32(err)
		}
		if !writeStat(mem, args[1], st) {
			return int32(-defs.EFAULT)
		}
		return 0
	})

	syscall.Register(syscall.Link, func(mem syscall.UserMemory, args []uint32) int32 {
		oldpath, ok1 := readCString(mem, args[0], maxCStringLen)
		newpath, ok2 := readCString(mem, args[1], maxCStringLen)
		if !ok1 || !ok2 {
			return int32(-defs.EFAULT)
		}
		ops, oldSuffix, err := k.resolve(oldpath)
		if err != 0 {
			return int32(err)
		}
		_, newSuffix, err := k.resolve(newpath)
		if err != 0 {
			return int32(err)
		}
		return int32(ops.Link(oldSuffix, newSuffix))
	})

	syscall.Register(syscall.Unlink, func(mem syscall.UserMemory, args []uint32) int32 {
		path, ok := readCString(mem, args[0], maxCStringLen)
		if !ok {
			return int32(-defs.EFAULT)
		}
		ops, suffix, err := k.resolve(path)
		if err != 0 {
			return int32(err)
		}
		return int32(ops.Unlink(suffix))
	})

	syscall.Register(syscall.Rename, func(mem syscall.UserMemory, args []uint32) int32 {
		oldpath, ok1 := readCString(mem, args[0], maxCStringLen)
		newpath, ok2 := readCString(mem, args[1], maxCStringLen)
		if !ok1 || !ok2 {
			return int32(-defs.EFAULT)
		}
		ops, oldSuffix, err := k.resolve(oldpath)
		if err != 0 {
			return int32(err)
		}
		_, newSuffix, err := k.resolve(newpath)
		if err != 0 {
			return int32(err)
		}
		return int32(ops.Rename(oldSuffix, newSuffix))
	})

	syscall.Register(syscall.Readdir, func(mem syscall.UserMemory, args []uint32) int32 {
		path, ok := readCString(mem, args[0], maxCStringLen)
		if !ok {
			return int32(-defs.EFAULT)
		}
		ops, suffix, err := k.resolve(path)
		if err != 0 {
			return int32(err)
		}
		ent, more, err := ops.Readdir(suffix, int(args[1]))
		if err != 0 {
			return int32(err)
		}
		if !more {
			return 0
		}
		name := []byte(ent.Name)
		bufCap := int(args[3])
		if bufCap > 0 && len(name) > bufCap-1 {
			name = name[:bufCap-1]
		}
		out := append(append([]byte{}, name...), 0)
		if !mem.WriteBytes(uintptr(args[2]), out) {
			return int32(-defs.EFAULT)
		}
		return 1
	})

	syscall.Register(syscall.Chdir, func(mem syscall.UserMemory, args []uint32) int32 {
		path, ok := readCString(mem, args[0], maxCStringLen)
		if !ok {
			return int32(-defs.EFAULT)
		}
		if _, _, err := k.resolve(path); err != 0 {
			return int32(err)
		}
		k.Procs.Current().Cwd = bpath.Canonicalize(ustr.Ustr(path))
		return 0
	})

	syscall.Register(syscall.Getcwd, func(mem syscall.UserMemory, args []uint32) int32 {
		cwd := k.Procs.Current().Cwd
		out := append(append([]byte{}, cwd...), 0)
		bufCap := int(args[1])
		if bufCap > 0 && len(out) > bufCap {
			return int32(-defs.EINVAL)
		}
		if !mem.WriteBytes(uintptr(args[0]), out) {
			return int32(-defs.EFAULT)
		}
		return int32(len(out))
	})

	syscall.Register(syscall.Execve, func(mem syscall.UserMemory, args []uint32) int32 {
		p := k.Procs.Current()
		path, ok := readCString(mem, args[0], maxCStringLen)
		if !ok {
			return int32(-defs.EFAULT)
		}
		argv, ok := readStringArray(mem, args[1])
		if !ok {
			return int32(-defs.EFAULT)
		}
		envp, ok := readStringArray(mem, args[2])
		if !ok {
			return int32(-defs.EFAULT)
		}

		ops, suffix, err := k.resolve(path)
		if err != 0 {
			return int32(err)
		}
		st, err := ops.Getattr(suffix)
		if err != 0 {
			return int32(err)
		}
		raw := make([]byte, st.Size)
		if _, err := ops.Read(suffix, 0, raw); err != 0 {
			return int32(err)
		}

		return int32(k.Procs.Execve(p, raw, argv, envp))
	})
}

func encodeWord(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
