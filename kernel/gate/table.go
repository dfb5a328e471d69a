package gate

import (
	"unsafe"

	"armclust/kernel"
	"armclust/kernel/cpu"
	"armclust/kernel/kfmt"
	"armclust/kernel/mm"
)

// HighVectorBase is the address the core fetches exception vectors from once
// SCTLR.V is set.
const HighVectorBase = uintptr(0xffff0000)

const (
	// ldrPCLiteral encodes "LDR PC, [PC, #24]". Each vector slot loads its
	// stub address from the literal pool that follows the eight slots.
	ldrPCLiteral = uint32(0xe59ff018)

	// stubSpan bounds the size of a single entry stub.
	stubSpan = 0x80
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	readSCTLRFn   = cpu.ReadSCTLR
	writeSCTLRFn  = cpu.WriteSCTLR
	readDFSRFn    = cpu.ReadDFSR
	readIFSRFn    = cpu.ReadIFSR
	vectorStubsFn = vectorStubs
	physAddrFn    = func(addr uintptr) uintptr { return addr }

	// activeTable receives exceptions from the entry stubs.
	activeTable *VectorTable

	// dumpWriter indents the register dump of unhandled exceptions.
	dumpWriter = kfmt.PrefixWriter{Prefix: []byte("  ")}

	errPartialHandlerSet   = &kernel.Error{Module: "gate", Message: "every handler class must be supplied"}
	errEnableBeforeInstall = &kernel.Error{Module: "gate", Message: "vectors enabled before handlers were installed"}
	errEnableBeforeMap     = &kernel.Error{Module: "gate", Message: "vectors enabled before the handler region was mapped"}
	errInstallAfterEnable  = &kernel.Error{Module: "gate", Message: "handlers cannot change once vectors are enabled"}
	errNotEnabled          = &kernel.Error{Module: "gate", Message: "exception taken before vectors were enabled"}
	errUnhandledException  = &kernel.Error{Module: "gate", Message: "unhandled exception"}
)

// Handler processes an exception. Any modification to the supplied registers
// is restored when the exception returns.
type Handler func(*Registers)

// Handlers groups the handler for every class. All of them are required.
type Handlers struct {
	AccessFault Handler
	PageFault   Handler
	Tick        Handler
	Service     Handler
}

// Mapper installs mappings in the address space that will serve the vector
// page.
type Mapper interface {
	Map(page mm.Page, frame mm.Frame, kind mm.RegionKind) *kernel.Error
	IdentityMap(region mm.Region, kind mm.RegionKind) *kernel.Error
}

// vectorPage is the layout of the page mapped at HighVectorBase.
type vectorPage struct {
	slot   [numVectors]uint32
	target [numVectors]uint32
}

// VectorTable owns the vector page and the handler array. The zero value is
// ready to use.
type VectorTable struct {
	store [2 * mm.PageSize]byte
	page  *vectorPage

	handlers [numClasses]Handler

	// stubs holds the entry stub addresses, indexed by Vector.
	stubs [numVectors]uintptr

	mapped    bool
	installed bool
	enabled   bool
}

// pageAddr returns the page-aligned address of the vector page inside the
// table's storage.
func (vt *VectorTable) pageAddr() uintptr {
	if vt.page == nil {
		addr := mm.AlignUp(uintptr(unsafe.Pointer(&vt.store[0])), mm.PageSize)
		vt.page = (*vectorPage)(unsafe.Pointer(addr))
	}
	return uintptr(unsafe.Pointer(vt.page))
}

// MapHandlerRegion maps HighVectorBase to the vector page and makes sure that
// every entry stub is reachable as executable memory. Stubs that live in an
// already mapped text region are left untouched.
func (vt *VectorTable) MapHandlerRegion(m Mapper) *kernel.Error {
	frame := mm.FrameFromAddress(physAddrFn(vt.pageAddr()))
	if err := m.Map(mm.PageFromAddress(HighVectorBase), frame, mm.KindText); err != nil {
		return err
	}

	vectorStubsFn(&vt.stubs)
	for _, stub := range vt.stubs {
		if err := m.IdentityMap(mm.PageRegion(stub, stubSpan), mm.KindText); err != nil {
			return err
		}
	}

	vt.mapped = true
	return nil
}

// Install writes the vector page and registers the handlers. A handler set
// with a missing entry is a programming error and causes a panic.
func (vt *VectorTable) Install(h Handlers) {
	if h.AccessFault == nil || h.PageFault == nil || h.Tick == nil || h.Service == nil {
		panic(errPartialHandlerSet)
	}

	if vt.enabled {
		panic(errInstallAfterEnable)
	}

	vectorStubsFn(&vt.stubs)

	vt.pageAddr()
	for i, stub := range vt.stubs {
		vt.page.slot[i] = ldrPCLiteral
		vt.page.target[i] = uint32(stub)
	}

	vt.handlers[AccessFault] = h.AccessFault
	vt.handlers[PageFault] = h.PageFault
	vt.handlers[Tick] = h.Tick
	vt.handlers[Service] = h.Service
	vt.installed = true
}

// Enable switches the core to the high vectors. It panics if the handlers are
// not installed or the vector page is not mapped. Once enabled, the vectors
// stay enabled and further calls have no effect.
func (vt *VectorTable) Enable() {
	switch {
	case vt.enabled:
		return
	case !vt.installed:
		panic(errEnableBeforeInstall)
	case !vt.mapped:
		panic(errEnableBeforeMap)
	}

	activeTable = vt
	writeSCTLRFn(readSCTLRFn() | cpu.SCTLRHighVectors)
	vt.enabled = true
}

// Enabled returns true once Enable has succeeded.
func (vt *VectorTable) Enabled() bool {
	return vt.enabled
}

// Dispatch routes an exception to the handler of its class. Aborts are split
// into page faults and access faults by their fault status.
func (vt *VectorTable) Dispatch(regs *Registers) {
	if !vt.enabled {
		panic(errNotEnabled)
	}

	var class Class
	switch regs.Vector {
	case VectorDataAbort:
		regs.Info = readDFSRFn()
		class = abortClass(regs.Info)
	case VectorPrefetchAbort:
		regs.Info = readIFSRFn()
		class = abortClass(regs.Info)
	case VectorIRQ:
		class = Tick
	case VectorSupervisorCall:
		regs.Info = regs.R7
		class = Service
	default:
		unhandledException(regs)
		return
	}

	vt.handlers[class](regs)
}

func abortClass(fsr uint32) Class {
	if IsTranslationFault(fsr) {
		return PageFault
	}
	return AccessFault
}

// dispatch is invoked by the entry stubs with a pointer to the saved frame.
func dispatch(regs *Registers) {
	if activeTable == nil {
		panic(errNotEnabled)
	}
	activeTable.Dispatch(regs)
}

func unhandledException(regs *Registers) {
	kfmt.Printf("\nUnhandled exception: %s\nRegisters:\n", regs.Vector.String())
	dumpWriter.Sink = kfmt.GetOutputSink()
	regs.DumpTo(&dumpWriter)
	panic(errUnhandledException)
}
