// Package elfload implements the shared ELF32 program-header walk used
// by both execve (spec §4.I step 1) and the bootloader's ELF stage (spec
// §4.J step 3): verify the magic, iterate PT_LOAD headers, and hand back
// the entry point plus each segment's file bytes and memory size so the
// caller can map, copy, and zero-fill it however its own address space
// works. Grounded on biscuit/src/kernel/chentry.go, which parses the
// kernel's own ELF image at boot with debug/elf rather than a hand-rolled
// header reader.
package elfload

import (
	"bytes"
	"debug/elf"
)

// Segment is one PT_LOAD program header. Data holds exactly p_filesz
// bytes; the caller zero-fills [len(Data), MemSize) itself once the
// segment is mapped (spec §4.I step 1: "zero-fill, then copy p_filesz
// bytes ... and zero the p_memsz - p_filesz tail").
type Segment struct {
	VAddr   uintptr
	MemSize uintptr
	Data    []byte
}

// Image is a parsed, ready-to-map ELF32 executable.
type Image struct {
	Entry    uintptr
	Segments []Segment
}

// Load parses raw as an ELF32 executable and extracts its PT_LOAD
// segments. A non-ELF image, a wrong ELF class, or a short read anywhere
// in the program-header walk is reported as ok=false, a flat value
// callers fold directly into their own error convention (execve's
// -defs.EINVAL path, spec §4.I step 1: "validate ELF magic") rather than
// an error string threaded back up through a wrapping chain.
func Load(raw []byte) (img *Image, ok bool) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 {
		return nil, false
	}

	img = &Image{Entry: uintptr(f.Entry)}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return nil, false
		}
		img.Segments = append(img.Segments, Segment{
			VAddr:   uintptr(prog.Vaddr),
			MemSize: uintptr(prog.Memsz),
			Data:    data,
		})
	}
	return img, true
}
