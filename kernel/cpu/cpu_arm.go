package cpu

// EnableInterrupts unmasks IRQs.
func EnableInterrupts()

// DisableInterrupts masks IRQs.
func DisableInterrupts()

// InterruptsEnabled returns true if IRQs are currently unmasked.
func InterruptsEnabled() bool

// Halt masks interrupts and stops instruction execution.
func Halt()

// WaitForInterrupt suspends execution until the next interrupt arrives.
func WaitForInterrupt()

// ReadSCTLR returns the system control register.
func ReadSCTLR() uint32

// WriteSCTLR updates the system control register and synchronizes the
// instruction stream.
func WriteSCTLR(val uint32)

// ReadTTBR0 returns the translation table base register 0.
func ReadTTBR0() uint32

// WriteTTBR0 points the MMU at a new first-level translation table.
func WriteTTBR0(val uint32)

// WriteTTBCR sets the translation table base control register.
func WriteTTBCR(val uint32)

// WriteDACR sets the domain access control register.
func WriteDACR(val uint32)

// InvalidateTLB flushes the whole unified TLB.
func InvalidateTLB()

// FlushTLBEntry flushes the TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// ReadDFSR returns the data fault status register.
func ReadDFSR() uint32

// ReadDFAR returns the data fault address register.
func ReadDFAR() uint32

// ReadIFSR returns the instruction fault status register.
func ReadIFSR() uint32

// ReadIFAR returns the instruction fault address register.
func ReadIFAR() uint32

// ReadCNTFRQ returns the generic timer frequency in Hz.
func ReadCNTFRQ() uint32

// WriteCNTPTVAL loads the physical timer countdown value.
func WriteCNTPTVAL(val uint32)

// ReadCNTPCTL returns the physical timer control register.
func ReadCNTPCTL() uint32

// WriteCNTPCTL sets the physical timer control register.
func WriteCNTPCTL(val uint32)

// SupervisorCall traps into the kernel with the request code in R7 and the
// arguments in R0-R2. It returns the value the kernel left in R0.
func SupervisorCall(code, arg0, arg1, arg2 uint32) uint32

// ProgramCounter returns an address inside the calling function.
func ProgramCounter() uintptr

// StackPointer returns the stack pointer of the calling function.
func StackPointer() uintptr

// G returns the Go runtime's g pointer of the caller, which the arm port
// keeps in R10.
func G() uintptr
