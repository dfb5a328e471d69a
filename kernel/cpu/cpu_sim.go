//go:build !arm

package cpu

// The hosted build keeps the system registers in a plain register file so
// that the kernel packages can run their tests on the development machine.
// None of the functions below touch real hardware.
var sim struct {
	irqEnabled bool
	halted     bool
	sctlr      uint32
	ttbr0      uint32
	ttbcr      uint32
	dacr       uint32
	dfsr, dfar uint32
	ifsr, ifar uint32
	cntfrq     uint32
	cntpTval   uint32
	cntpCtl    uint32
	tlbFlushes int
	g          uintptr
}

func init() {
	sim.cntfrq = 62500000
	sim.g = 0x7ff000
}

// EnableInterrupts unmasks IRQs.
func EnableInterrupts() { sim.irqEnabled = true }

// DisableInterrupts masks IRQs.
func DisableInterrupts() { sim.irqEnabled = false }

// InterruptsEnabled returns true if IRQs are currently unmasked.
func InterruptsEnabled() bool { return sim.irqEnabled }

// Halt masks interrupts and stops instruction execution. On a hosted build
// the calling goroutine blocks forever.
func Halt() {
	sim.irqEnabled = false
	sim.halted = true
	select {}
}

// WaitForInterrupt suspends execution until the next interrupt arrives.
func WaitForInterrupt() {}

// ReadSCTLR returns the system control register.
func ReadSCTLR() uint32 { return sim.sctlr }

// WriteSCTLR updates the system control register.
func WriteSCTLR(val uint32) { sim.sctlr = val }

// ReadTTBR0 returns the translation table base register 0.
func ReadTTBR0() uint32 { return sim.ttbr0 }

// WriteTTBR0 points the MMU at a new first-level translation table.
func WriteTTBR0(val uint32) { sim.ttbr0 = val }

// WriteTTBCR sets the translation table base control register.
func WriteTTBCR(val uint32) { sim.ttbcr = val }

// WriteDACR sets the domain access control register.
func WriteDACR(val uint32) { sim.dacr = val }

// InvalidateTLB flushes the whole unified TLB.
func InvalidateTLB() { sim.tlbFlushes++ }

// FlushTLBEntry flushes the TLB entry for a particular virtual address.
func FlushTLBEntry(_ uintptr) { sim.tlbFlushes++ }

// ReadDFSR returns the data fault status register.
func ReadDFSR() uint32 { return sim.dfsr }

// ReadDFAR returns the data fault address register.
func ReadDFAR() uint32 { return sim.dfar }

// ReadIFSR returns the instruction fault status register.
func ReadIFSR() uint32 { return sim.ifsr }

// ReadIFAR returns the instruction fault address register.
func ReadIFAR() uint32 { return sim.ifar }

// ReadCNTFRQ returns the generic timer frequency in Hz.
func ReadCNTFRQ() uint32 { return sim.cntfrq }

// WriteCNTPTVAL loads the physical timer countdown value.
func WriteCNTPTVAL(val uint32) { sim.cntpTval = val }

// ReadCNTPCTL returns the physical timer control register.
func ReadCNTPCTL() uint32 { return sim.cntpCtl }

// WriteCNTPCTL sets the physical timer control register.
func WriteCNTPCTL(val uint32) { sim.cntpCtl = val }

// SupervisorCall traps into the kernel. There is no kernel to trap into on a
// hosted build so the call reports an unknown request.
func SupervisorCall(_, _, _, _ uint32) uint32 { return ^uint32(0) }

// ProgramCounter returns an address inside the calling function. The hosted
// build has no meaningful physical program counter and always returns 0.
func ProgramCounter() uintptr { return 0 }

// G returns the Go runtime's g pointer of the caller. The hosted build
// returns a fixed non-zero placeholder.
func G() uintptr { return sim.g }

// StackPointer returns the stack pointer of the calling function. The hosted
// build always returns 0.
func StackPointer() uintptr { return 0 }
