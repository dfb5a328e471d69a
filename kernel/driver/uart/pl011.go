// Package uart provides a polled driver for the ARM PrimeCell PL011 serial
// port. The driver implements io.Writer so that it can serve as the kfmt
// output sink once the port has been mapped as device memory.
package uart

import (
	"unsafe"

	"armclust/kernel/mm"
)

// DefaultBase is the physical address of UART0 on the QEMU virt machine.
const DefaultBase uintptr = 0x09000000

// PL011 register offsets.
const (
	regData        uintptr = 0x00
	regFlag        uintptr = 0x18
	regIntBaud     uintptr = 0x24
	regFracBaud    uintptr = 0x28
	regLineControl uintptr = 0x2c
	regControl     uintptr = 0x30
	regIntClear    uintptr = 0x44
)

const (
	flagTxFull uint32 = 1 << 5

	lineFIFOEnable uint32 = 1 << 4
	lineWordLen8   uint32 = 3 << 5

	ctrlEnable   uint32 = 1 << 0
	ctrlTxEnable uint32 = 1 << 8
	ctrlRxEnable uint32 = 1 << 9

	clearAllInterrupts uint32 = 0x7ff
)

var (
	// The register accessors are mocked by tests and are automatically
	// inlined by the compiler.
	readRegFn  = readReg
	writeRegFn = writeReg
)

// Pl011 is a transmit-only PL011 port. Writes busy-wait on the transmit
// FIFO so they are safe to use from exception context.
type Pl011 struct {
	base  uintptr
	ready bool
}

// Init resets the port at base and enables it for 8N1 operation with FIFOs.
// A zero clockHz leaves the baud rate divisors untouched, which is what the
// emulated port and most firmware-initialized ports expect.
func (u *Pl011) Init(base uintptr, clockHz, baud uint32) {
	u.base = base

	writeRegFn(base+regControl, 0)
	writeRegFn(base+regIntClear, clearAllInterrupts)

	if clockHz != 0 && baud != 0 {
		// The divisor is a 16.6 fixed-point value of clock/(16*baud).
		div := uint64(clockHz) * 4 / uint64(baud)
		writeRegFn(base+regIntBaud, uint32(div>>6))
		writeRegFn(base+regFracBaud, uint32(div&0x3f))
	}

	writeRegFn(base+regLineControl, lineFIFOEnable|lineWordLen8)
	writeRegFn(base+regControl, ctrlEnable|ctrlTxEnable|ctrlRxEnable)
	u.ready = true
}

// Region returns the page-aligned region covering the port registers. It
// must be identity-mapped as device memory before the MMU is enabled.
func (u *Pl011) Region() mm.Region {
	return mm.Region{Start: u.base &^ (mm.PageSize - 1), Length: mm.PageSize}
}

// Write transmits p, expanding each LF into CR LF. Writes to a port that has
// not been initialized are silently discarded.
func (u *Pl011) Write(p []byte) (int, error) {
	if !u.ready {
		return len(p), nil
	}

	for _, b := range p {
		if b == '\n' {
			u.putc('\r')
		}
		u.putc(b)
	}

	return len(p), nil
}

func (u *Pl011) putc(b byte) {
	for readRegFn(u.base+regFlag)&flagTxFull != 0 {
	}
	writeRegFn(u.base+regData, uint32(b))
}

func readReg(addr uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(addr))
}

func writeReg(addr uintptr, val uint32) {
	*(*uint32)(unsafe.Pointer(addr)) = val
}
