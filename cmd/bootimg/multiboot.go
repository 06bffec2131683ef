package main

import "encoding/binary"

// Offsets into multiboot_info_t (GNU Multiboot Specification, the
// structure original_source/bootloader/bootloader/main.c fills in at
// ptr_multiboot_info before jumping to the kernel): flags at 0,
// mmap_length at 40, mmap_addr at 44. Only those three fields and the
// mmap table itself are meaningful here — main.c sets nothing else.
const (
	mbInfoSize    = 48
	mbFlagsOff    = 0
	mbMmapLenOff  = 40
	mbMmapAddrOff = 44

	// mbFlagMemoryMap is bit 6 (spec §4.J step 4: "flags bit 6 set").
	mbFlagMemoryMap = 1 << 6

	// mmapEntrySize is size(4)+base_addr(8)+length(8)+type(4); "size"
	// itself reports the 20 bytes following it, per multiboot convention.
	mmapEntrySize = 24

	// Multiboot mmap entry types.
	mbMemAvailable = 1
	mbMemReserved  = 2
)

// MemRegion is one usable-or-reserved span of RAM, the shape
// original_source/bootloader/bootloader/main.c's ADDR_MMAP_COUNT table
// holds before main.c copies it into the mmap_addr the kernel reads.
type MemRegion struct {
	Base, Length uint64
	Type         uint32
}

// buildMultibootInfo lays out a multiboot_info_t with flags bit 6 set and
// mmap_length/mmap_addr filled in (spec §4.J step 4, §6 "Multiboot
// handoff"), followed immediately by the mmap entries themselves at
// mmapAddr. Returns the bytes to write at infoAddr and the bytes to
// write at mmapAddr.
func buildMultibootInfo(infoAddr, mmapAddr uint32, regions []MemRegion) (info, mmap []byte) {
	info = make([]byte, mbInfoSize)
	le := binary.LittleEndian
	le.PutUint32(info[mbFlagsOff:], mbFlagMemoryMap)
	le.PutUint32(info[mbMmapLenOff:], uint32(len(regions))*mmapEntrySize)
	le.PutUint32(info[mbMmapAddrOff:], mmapAddr)

	mmap = make([]byte, len(regions)*mmapEntrySize)
	for i, r := range regions {
		e := mmap[i*mmapEntrySize:]
		le.PutUint32(e[0:], mmapEntrySize-4)
		le.PutUint64(e[4:], r.Base)
		le.PutUint64(e[12:], r.Length)
		le.PutUint32(e[20:], r.Type)
	}
	return info, mmap
}

// parseMultibootInfo reverses buildMultibootInfo, the check the
// bootloader's own handoff code would implicitly rely on by ever reading
// these fields back correctly. Returns the decoded regions and whether
// the memory-map flag is set.
func parseMultibootInfo(info, mmap []byte) (regions []MemRegion, hasMmap bool, ok bool) {
	if len(info) < mbInfoSize {
		return nil, false, false
	}
	le := binary.LittleEndian
	flags := le.Uint32(info[mbFlagsOff:])
	hasMmap = flags&mbFlagMemoryMap != 0
	mmapLen := le.Uint32(info[mbMmapLenOff:])
	if int(mmapLen) > len(mmap) || mmapLen%mmapEntrySize != 0 {
		return nil, hasMmap, false
	}
	for off := uint32(0); off < mmapLen; off += mmapEntrySize {
		e := mmap[off:]
		regions = append(regions, MemRegion{
			Base:   le.Uint64(e[4:]),
			Length: le.Uint64(e[12:]),
			Type:   le.Uint32(e[20:]),
		})
	}
	return regions, hasMmap, true
}
