// Command bootimg assembles a bootable disk image and verifies it the
// way the protected-mode half of the bootloader would (spec §4.J,
// §6 "Boot disk layout"): LBA 0 is the boot sector, LBAs 1..15 are
// bootloader stage 2, and LBA 16 onward is a USTAR archive holding
// /boot/simple_os.kernel.
//
// Stage 1 (the real-mode stub) and the final "jump to entry point" are
// both out of scope here exactly as spec §4.J marks them: the former is
// assembly executed before protected mode exists, the latter is a CPU
// jump, neither of which a host-side Go tool can do or usefully check.
// What this tool does check — step 2's lazy tar lookup, step 3's ELF
// verification, step 4's multiboot info record — are plain data
// transformations, so they are implemented for real and exercised
// against the image this command just built, using the same ustarfs and
// elfload packages the kernel itself mounts and calls.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"simpleos/elfload"
	"simpleos/ustarfs"
)

const (
	sectorSize      = ustarfs.BlockSize
	stage2Sectors   = 15 // LBAs 1..15
	ustarStartLBA   = 16
	kernelImagePath = "/boot/simple_os.kernel"

	// mbInfoAddr is the conventional-memory address
	// original_source/bootloader/bootloader/main.c stores
	// ptr_multiboot_info at (0x00080000 - sizeof(multiboot_info_t));
	// mbMmapAddr is where it points its mmap table (ADDR_MMAP_ADDR).
	mbInfoAddr = 0x00080000 - mbInfoSize
	mbMmapAddr = 0x00070000
)

func usage(me string) {
	fmt.Printf("%s <stage1.bin> <stage2.bin> <kernel.ustar> <output.img>\n\n"+
		"Assemble a boot disk image: LBA0 stage1, LBA1-15 stage2, LBA16+ USTAR archive.\n", me)
	os.Exit(1)
}

func main() {
	if len(os.Args) != 5 {
		usage(os.Args[0])
	}
	stage1Path, stage2Path, ustarPath, outPath := os.Args[1], os.Args[2], os.Args[3], os.Args[4]

	if err := assemble(stage1Path, stage2Path, ustarPath, outPath); err != nil {
		log.Fatalf("bootimg: %v", err)
	}
	if err := verify(outPath); err != nil {
		log.Fatalf("bootimg: verification failed: %v", err)
	}
}

// assemble concatenates the boot sector, stage 2, and the USTAR archive
// into one disk image at the LBA offsets spec §6 fixes. stage2 is padded
// or truncated to exactly stage2Sectors sectors so the USTAR archive
// always lands at LBA 16 regardless of stage2's real size.
func assemble(stage1Path, stage2Path, ustarPath, outPath string) error {
	stage1, err := os.ReadFile(stage1Path)
	if err != nil {
		return fmt.Errorf("reading stage1: %w", err)
	}
	if len(stage1) != sectorSize {
		return fmt.Errorf("stage1 must be exactly one sector (%d bytes), got %d", sectorSize, len(stage1))
	}

	stage2, err := os.ReadFile(stage2Path)
	if err != nil {
		return fmt.Errorf("reading stage2: %w", err)
	}
	stage2Region := make([]byte, stage2Sectors*sectorSize)
	if len(stage2) > len(stage2Region) {
		return fmt.Errorf("stage2 is %d bytes, exceeds the %d-sector budget", len(stage2), stage2Sectors)
	}
	copy(stage2Region, stage2)

	ustarImage, err := os.ReadFile(ustarPath)
	if err != nil {
		return fmt.Errorf("reading ustar image: %w", err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	for _, chunk := range [][]byte{stage1, stage2Region, ustarImage} {
		if _, err := out.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

// fileDevice adapts an *os.File to ustarfs.BlockDevice for host-side
// verification, the same ReadSectors shape ata.Disk exposes to the
// kernel's own ustarfs.Backend.
type fileDevice struct{ f *os.File }

func (d fileDevice) ReadSectors(lba uint32, count uint8, out []byte) error {
	if _, err := d.f.Seek(int64(lba)*sectorSize, io.SeekStart); err != nil {
		return err
	}
	_, err := io.ReadFull(d.f, out[:int(count)*sectorSize])
	return err
}

// verify re-opens the assembled image and performs the lookup-and-load
// steps the bootloader's protected-mode code runs before jumping to the
// kernel (spec §4.J steps 2-3): a lazy USTAR scan for the kernel path,
// then an ELF magic and program-header check.
func verify(imgPath string) error {
	f, err := os.Open(imgPath)
	if err != nil {
		return err
	}
	defer f.Close()

	backend := ustarfs.NewBackend(fileDevice{f}, ustarStartLBA, 16)

	st, errno := backend.Getattr(kernelImagePath)
	if errno != 0 {
		return fmt.Errorf("locating %s: %v", kernelImagePath, errno)
	}

	kernel := make([]byte, st.Size)
	n, errno := backend.Read(kernelImagePath, 0, kernel)
	if errno != 0 {
		return fmt.Errorf("reading %s: %v", kernelImagePath, errno)
	}
	kernel = kernel[:n]

	img, ok := elfload.Load(kernel)
	if !ok {
		return fmt.Errorf("kernel image is not a valid ELF32 executable")
	}

	fmt.Printf("kernel found at %s, %d bytes, entry %#x, %d PT_LOAD segment(s)\n",
		kernelImagePath, len(kernel), img.Entry, len(img.Segments))

	return verifyMultiboot(img)
}

// verifyMultiboot builds the multiboot info record a real stage-2 would
// place in conventional memory before jumping to the kernel (spec §4.J
// step 4), with one reserved mmap entry per loaded PT_LOAD segment, then
// parses it back to confirm the memory-map flag and every region round
// trip exactly.
func verifyMultiboot(img *elfload.Image) error {
	regions := make([]MemRegion, len(img.Segments))
	for i, seg := range img.Segments {
		regions[i] = MemRegion{Base: uint64(seg.VAddr), Length: uint64(seg.MemSize), Type: mbMemReserved}
	}

	info, mmap := buildMultibootInfo(mbInfoAddr, mbMmapAddr, regions)
	got, hasMmap, ok := parseMultibootInfo(info, mmap)
	if !ok {
		return fmt.Errorf("multiboot info record did not parse back")
	}
	if !hasMmap {
		return fmt.Errorf("multiboot info flags missing bit 6 (memory map present)")
	}
	if len(got) != len(regions) {
		return fmt.Errorf("multiboot mmap round trip: got %d regions, want %d", len(got), len(regions))
	}
	for i, r := range got {
		if r != regions[i] {
			return fmt.Errorf("multiboot mmap region %d round trip: got %+v, want %+v", i, r, regions[i])
		}
	}

	fmt.Printf("multiboot info at %#x: flags bit 6 set, %d mmap region(s) at %#x\n",
		mbInfoAddr, len(regions), mbMmapAddr)
	return nil
}
