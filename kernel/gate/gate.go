// Package gate owns the exception vector page. It routes the eight hardware
// exception vectors into four handler classes and carries the saved register
// context between the entry stubs and the Go handlers.
package gate

import (
	"io"

	"armclust/kernel/kfmt"
)

// Vector identifies one of the eight hardware exception vectors, in the order
// they appear in the vector page.
type Vector uint32

const (
	VectorReset Vector = iota
	VectorUndefined
	VectorSupervisorCall
	VectorPrefetchAbort
	VectorDataAbort
	VectorReserved
	VectorIRQ
	VectorFIQ

	numVectors
)

var vectorNames = [numVectors]string{
	"reset", "undefined instruction", "supervisor call", "prefetch abort",
	"data abort", "reserved", "irq", "fiq",
}

// String returns the vector name.
func (v Vector) String() string {
	if v < numVectors {
		return vectorNames[v]
	}
	return "unknown"
}

// Class is one of the handler classes that the hardware vectors are routed
// to.
type Class uint8

const (
	// AccessFault covers aborts caused by a mapped page whose attributes
	// forbid the access (permission, domain, alignment, external aborts).
	AccessFault Class = iota

	// PageFault covers aborts caused by an address with no mapping.
	PageFault

	// Tick is raised by the periodic timer interrupt.
	Tick

	// Service is raised by a thread issuing a service call.
	Service

	numClasses
)

var classNames = [numClasses]string{"access fault", "page fault", "tick", "service"}

// String returns the class name.
func (c Class) String() string {
	if c < numClasses {
		return classNames[c]
	}
	return "unknown"
}

// Registers is the context saved by the exception entry stubs. The field
// order mirrors the frame the stubs build on the stack and must not change.
type Registers struct {
	// Vector is the hardware vector that was taken.
	Vector Vector

	// Info carries the fault status register for aborts and the request
	// code for service calls.
	Info uint32

	R0, R1, R2, R3, R4, R5, R6, R7 uint32
	R8, R9, R10, R11, R12          uint32

	SP, LR, PC, CPSR uint32
}

// DumpTo writes the register values to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "R0  = %8x R1  = %8x R2  = %8x R3  = %8x\n", r.R0, r.R1, r.R2, r.R3)
	kfmt.Fprintf(w, "R4  = %8x R5  = %8x R6  = %8x R7  = %8x\n", r.R4, r.R5, r.R6, r.R7)
	kfmt.Fprintf(w, "R8  = %8x R9  = %8x R10 = %8x R11 = %8x\n", r.R8, r.R9, r.R10, r.R11)
	kfmt.Fprintf(w, "R12 = %8x SP  = %8x LR  = %8x PC  = %8x\n", r.R12, r.SP, r.LR, r.PC)
	kfmt.Fprintf(w, "CPSR = %8x\n", r.CPSR)
}

// Fault describes an abort that halted a thread.
type Fault struct {
	Class Class

	// Address is the faulting address reported by DFAR or IFAR.
	Address uint32

	// Status is the raw fault status register value.
	Status uint32

	// PC is the address of the instruction that caused the fault.
	PC uint32
}

// Fault status codes of the short-descriptor format.
const (
	fsAlignment             = 0x01
	fsDebug                 = 0x02
	fsAccessFlagSection     = 0x03
	fsCacheMaintenance      = 0x04
	fsTranslationSection    = 0x05
	fsAccessFlagPage        = 0x06
	fsTranslationPage       = 0x07
	fsSyncExternal          = 0x08
	fsDomainSection         = 0x09
	fsDomainPage            = 0x0b
	fsExternalWalkFirst     = 0x0c
	fsPermissionSection     = 0x0d
	fsExternalWalkSecond    = 0x0e
	fsPermissionPage        = 0x0f
	fsAsyncExternal         = 0x16
	fsrWriteNotRead         = 1 << 11
	fsrStatusHighBit        = 1 << 10
	fsrStatusLowBitsMask    = 0x0f
	fsrStatusHighBitShifted = 1 << 4
)

// FaultStatus extracts the 5-bit status code from a DFSR or IFSR value.
func FaultStatus(fsr uint32) uint32 {
	status := fsr & fsrStatusLowBitsMask
	if fsr&fsrStatusHighBit != 0 {
		status |= fsrStatusHighBitShifted
	}
	return status
}

// IsTranslationFault returns true if the fault status register value reports
// an access to an address without a valid mapping.
func IsTranslationFault(fsr uint32) bool {
	switch FaultStatus(fsr) {
	case fsTranslationSection, fsTranslationPage:
		return true
	}
	return false
}

// IsWrite returns true if a data abort was caused by a write access.
func (f *Fault) IsWrite() bool {
	return f.Status&fsrWriteNotRead != 0
}

// Reason returns a human readable description of the fault status.
func (f *Fault) Reason() string {
	switch FaultStatus(f.Status) {
	case fsAlignment:
		return "alignment fault"
	case fsDebug:
		return "debug event"
	case fsAccessFlagSection, fsAccessFlagPage:
		return "access flag fault"
	case fsCacheMaintenance:
		return "cache maintenance fault"
	case fsTranslationSection:
		return "translation fault (section)"
	case fsTranslationPage:
		return "translation fault (page)"
	case fsDomainSection, fsDomainPage:
		return "domain fault"
	case fsPermissionSection, fsPermissionPage:
		return "permission fault"
	case fsSyncExternal, fsAsyncExternal, fsExternalWalkFirst, fsExternalWalkSecond:
		return "external abort"
	}
	return "unknown"
}
