// Package gic drives the distributor and the CPU interface of an ARM
// Generic Interrupt Controller (GICv2). Only the banked private interrupts
// (IDs 0-31) of the boot core are managed, which covers the generic timer.
package gic

import (
	"unsafe"

	"armclust/kernel"
	"armclust/kernel/mm"
)

// Register bases of the GICv2 on the QEMU virt machine.
const (
	DefaultDistributorBase  uintptr = 0x08000000
	DefaultCPUInterfaceBase uintptr = 0x08010000
)

// SpuriousID is returned by the acknowledge register when no interrupt is
// pending.
const SpuriousID uint32 = 1023

// Distributor register offsets.
const (
	regDistControl     uintptr = 0x000
	regDistIntGroup0   uintptr = 0x080
	regDistSetEnable0  uintptr = 0x100
	regDistClearEnable uintptr = 0x180
	regDistClearPend0  uintptr = 0x280
	regDistPriority    uintptr = 0x400
)

// CPU interface register offsets.
const (
	regCPUControl      uintptr = 0x000
	regCPUPriorityMask uintptr = 0x004
	regCPUBinaryPoint  uintptr = 0x008
	regCPUAck          uintptr = 0x00c
	regCPUEndOfInt     uintptr = 0x010
)

const (
	enableGroup0 uint32 = 1 << 0
	enableGroup1 uint32 = 1 << 1
	ackControl   uint32 = 1 << 2

	// allPrivate selects every private interrupt in the banked
	// enable, pending and group registers.
	allPrivate uint32 = 0xffffffff

	// lowestPriorityMask lets interrupts of any priority through.
	lowestPriorityMask uint32 = 0xff

	// irqPriority is the priority given to every enabled interrupt.
	irqPriority uint32 = 0xa0

	interruptIDMask uint32 = 0x3ff

	numPrivateIRQs = 32
)

var (
	// The register accessors are mocked by tests and are automatically
	// inlined by the compiler.
	readRegFn  = readReg
	writeRegFn = writeReg

	errMisalignedBase = &kernel.Error{Module: "gic", Message: "register base is not page aligned"}
	errNotInitialized = &kernel.Error{Module: "gic", Message: "interrupt controller used before Init"}
	errIRQOutOfRange  = &kernel.Error{Module: "gic", Message: "only private interrupts (0-31) are supported"}
)

// Controller is a GICv2 serving a single core.
type Controller struct {
	distBase uintptr
	cpuBase  uintptr
	ready    bool
}

// Init resets the distributor and the CPU interface found at the supplied
// bases. All private interrupts are left disabled and nothing pending.
func (c *Controller) Init(distBase, cpuBase uintptr) *kernel.Error {
	if distBase == 0 || cpuBase == 0 || !mm.IsPageAligned(distBase) || !mm.IsPageAligned(cpuBase) {
		return errMisalignedBase
	}

	c.distBase, c.cpuBase = distBase, cpuBase

	writeRegFn(distBase+regDistControl, 0)
	writeRegFn(distBase+regDistClearEnable, allPrivate)
	writeRegFn(distBase+regDistClearPend0, allPrivate)

	// Group 1 interrupts are signalled as IRQ.
	writeRegFn(distBase+regDistIntGroup0, allPrivate)
	writeRegFn(distBase+regDistControl, enableGroup0|enableGroup1)

	writeRegFn(cpuBase+regCPUPriorityMask, lowestPriorityMask)
	writeRegFn(cpuBase+regCPUBinaryPoint, 0)
	writeRegFn(cpuBase+regCPUControl, enableGroup0|enableGroup1|ackControl)

	c.ready = true
	return nil
}

// Regions returns the register pages of the distributor and the CPU
// interface. Both must be identity-mapped as device memory before the MMU is
// enabled.
func (c *Controller) Regions() [2]mm.Region {
	return [2]mm.Region{
		{Start: c.distBase, Length: mm.PageSize},
		{Start: c.cpuBase, Length: mm.PageSize},
	}
}

// Enable unmasks the private interrupt irq at the distributor.
func (c *Controller) Enable(irq uint32) *kernel.Error {
	switch {
	case !c.ready:
		return errNotInitialized
	case irq >= numPrivateIRQs:
		return errIRQOutOfRange
	}

	// Priorities are byte fields packed four to a register.
	priorityReg := c.distBase + regDistPriority + uintptr(irq/4)*4
	shift := (irq % 4) * 8
	val := readRegFn(priorityReg) &^ (0xff << shift)
	writeRegFn(priorityReg, val|irqPriority<<shift)

	writeRegFn(c.distBase+regDistSetEnable0, 1<<irq)
	return nil
}

// Ack acknowledges the highest priority pending interrupt and returns its ID.
// The second result is false if the interrupt was spurious, in which case End
// must not be called.
func (c *Controller) Ack() (uint32, bool) {
	if !c.ready {
		return SpuriousID, false
	}

	irq := readRegFn(c.cpuBase+regCPUAck) & interruptIDMask
	return irq, irq != SpuriousID
}

// End signals the completion of an interrupt returned by Ack.
func (c *Controller) End(irq uint32) {
	if !c.ready {
		return
	}

	writeRegFn(c.cpuBase+regCPUEndOfInt, irq)
}

func readReg(addr uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(addr))
}

func writeReg(addr uintptr, val uint32) {
	*(*uint32)(unsafe.Pointer(addr)) = val
}
