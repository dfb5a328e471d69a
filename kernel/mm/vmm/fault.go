package vmm

import (
	"armclust/kernel"
	"armclust/kernel/cpu"
	"armclust/kernel/gate"
	"armclust/kernel/kfmt"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	readDFARFn = cpu.ReadDFAR
	readIFARFn = cpu.ReadIFAR

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "access/page fault"}

	// dumpWriter indents register dumps. It is static so reporting a fault
	// needs no allocation.
	dumpWriter = kfmt.PrefixWriter{Prefix: []byte("  ")}
)

// ThreadHalter stops the thread that caused a fault and switches to another
// runnable thread by rewriting regs.
type ThreadHalter interface {
	HaltCurrent(fault gate.Fault, regs *gate.Registers) *kernel.Error
}

// FaultHandler provides the access-fault and page-fault handlers of the
// exception vector table. There is no demand paging, so both kinds of fault
// halt the faulting thread.
type FaultHandler struct {
	// Threads halts the faulting thread. While it is nil, or when it
	// cannot halt the current thread, every fault is fatal.
	Threads ThreadHalter
}

// AccessFault handles aborts on pages whose attributes forbid the access.
func (h *FaultHandler) AccessFault(regs *gate.Registers) {
	h.handle(gate.AccessFault, regs)
}

// PageFault handles aborts on addresses without a mapping.
func (h *FaultHandler) PageFault(regs *gate.Registers) {
	h.handle(gate.PageFault, regs)
}

func (h *FaultHandler) handle(class gate.Class, regs *gate.Registers) {
	fault := gate.Fault{Class: class, Status: regs.Info, PC: regs.PC}
	if regs.Vector == gate.VectorPrefetchAbort {
		fault.Address = readIFARFn()
	} else {
		fault.Address = readDFARFn()
	}

	if h.Threads == nil {
		nonRecoverableFault(&fault, regs, errUnrecoverableFault)
		return
	}

	if err := h.Threads.HaltCurrent(fault, regs); err != nil {
		nonRecoverableFault(&fault, regs, err)
		return
	}

	kfmt.Logf(kfmt.LevelWarn, "vmm", "%s at 0x%8x (pc 0x%8x): %s; thread halted",
		class.String(), fault.Address, fault.PC, fault.Reason())
}

func nonRecoverableFault(fault *gate.Fault, regs *gate.Registers, err *kernel.Error) {
	kfmt.Printf("\n%s while accessing address: 0x%8x\nReason: %s", fault.Class.String(), fault.Address, fault.Reason())
	if fault.IsWrite() {
		kfmt.Printf(" (write)")
	}

	kfmt.Printf("\n\nRegisters:\n")
	dumpWriter.Sink = kfmt.GetOutputSink()
	regs.DumpTo(&dumpWriter)

	panic(err)
}
