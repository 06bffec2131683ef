// Package ata implements the 28-bit LBA ATA PIO driver for the primary
// master (spec ยง4.A), grounded on original_source/bootloader/arch/i386/ata.h.
package ata

import (
	"simpleos/ioport"
)

// Primary ATA bus ports (spec ยง4.A, original_source ata.h).
const (
	portData     uint16 = 0x1F0
	portSectors  uint16 = 0x1F2
	portLBALo    uint16 = 0x1F3
	portLBAMid   uint16 = 0x1F4
	portLBAHi    uint16 = 0x1F5
	portDrive    uint16 = 0x1F6
	portCommand  uint16 = 0x1F7
	portStatus   uint16 = 0x1F7

	cmdReadSectors  uint8 = 0x20
	cmdWriteSectors uint8 = 0x30
	cmdCacheFlush   uint8 = 0xE7

	statusERR uint8 = 0x01
	statusDRQ uint8 = 0x08
	statusDF  uint8 = 0x20
	statusRDY uint8 = 0x40
	statusBSY uint8 = 0x80
)

// SectorSize is the fixed PIO transfer unit (spec ยง3).
const SectorSize = 512

// Disk is a block-storage handle over the primary-master ATA drive,
// satisfying the opaque "block-storage handle" contract of spec ยง3.
type Disk struct {
	// inb/outb/insw/outsw are indirection seams so tests can run the
	// driver's polling logic without real hardware, the same
	// function-variable pattern the teacher uses throughout (e.g.
	// tinfo.Current backed by runtime.Gptr).
	inb   func(uint16) uint8
	outb  func(uint16, uint8)
	insw  func(uint16, []uint16)
	outsw func(uint16, []uint16)
}

// NewDisk returns a Disk bound to the real hardware ports.
func NewDisk() *Disk {
	return &Disk{
		inb:   ioport.Inb,
		outb:  ioport.Outb,
		insw:  ioport.Insw,
		outsw: ioport.Outsw,
	}
}

// waitBSY blocks until the controller clears the busy bit, per
// original_source's ATA_wait_BSY.
func (d *Disk) waitBSY() {
	for d.inb(portStatus)&statusBSY != 0 {
	}
}

// waitDRQ blocks until the controller is ready to transfer data, or
// returns an error if it reports a fault first.
//
// original_source's ATA_wait_DRQ polls STATUS_RDY instead of STATUS_DRQ
// (spec ยง9, open question (a)); this is treated as a bug in the source
// and fixed here to poll the documented DRQ/ERR/DF bits, since RDY only
// indicates the drive motor is at speed, not that the data register is
// readable (see DESIGN.md).
func (d *Disk) waitDRQ() error {
	for {
		status := d.inb(portStatus)
		if status&(statusERR|statusDF) != 0 {
			return errIO
		}
		if status&statusDRQ != 0 {
			return nil
		}
	}
}

func (d *Disk) selectLBA(lba uint32, count uint8) {
	d.outb(portDrive, 0xE0|uint8((lba>>24)&0xF))
	d.outb(portSectors, count)
	d.outb(portLBALo, uint8(lba))
	d.outb(portLBAMid, uint8(lba>>8))
	d.outb(portLBAHi, uint8(lba>>16))
}

// ReadSectors reads count sectors starting at lba into out, which must be
// at least count*SectorSize bytes long.
func (d *Disk) ReadSectors(lba uint32, count uint8, out []byte) error {
	if len(out) < int(count)*SectorSize {
		return errShortBuffer
	}

	d.waitBSY()
	d.selectLBA(lba, count)
	d.outb(portCommand, cmdReadSectors)

	words := make([]uint16, SectorSize/2)
	for s := 0; s < int(count); s++ {
		d.waitBSY()
		if err := d.waitDRQ(); err != nil {
			return err
		}
		d.insw(portData, words)
		for i, w := range words {
			out[s*SectorSize+2*i] = byte(w)
			out[s*SectorSize+2*i+1] = byte(w >> 8)
		}
	}
	return nil
}

// WriteSectors writes count sectors starting at lba from in.
//
// original_source inserts a tiny delay (io_wait, a dummy port read)
// between each outw during a write transfer because consecutive OUT
// words issued back-to-back can outrun the controller; Insw's REP INSW
// in the read path does not need this because INSW paces itself on the
// read side, but writes are issued word-by-word here for that reason.
func (d *Disk) WriteSectors(lba uint32, count uint8, in []byte) error {
	if len(in) < int(count)*SectorSize {
		return errShortBuffer
	}

	d.waitBSY()
	d.selectLBA(lba, count)
	d.outb(portCommand, cmdWriteSectors)

	for s := 0; s < int(count); s++ {
		d.waitBSY()
		if err := d.waitDRQ(); err != nil {
			return err
		}
		for i := 0; i < SectorSize/2; i++ {
			lo := in[s*SectorSize+2*i]
			hi := in[s*SectorSize+2*i+1]
			d.outsw(portData, []uint16{uint16(lo) | uint16(hi)<<8})
			d.inb(portStatus) // dummy read: inter-word delay
		}
	}

	d.outb(portCommand, cmdCacheFlush)
	return nil
}

var (
	errIO          = &ioError{"ata: device reported error (ERR|DF)"}
	errShortBuffer = &ioError{"ata: buffer too small for requested transfer"}
)

type ioError struct{ msg string }

func (e *ioError) Error() string { return e.msg }
