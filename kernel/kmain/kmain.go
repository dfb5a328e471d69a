package kmain

import (
	"armclust/kernel"
	"armclust/kernel/cpu"
	"armclust/kernel/driver/gic"
	"armclust/kernel/driver/uart"
	"armclust/kernel/gate"
	"armclust/kernel/kfmt"
	"armclust/kernel/mm"
	"armclust/kernel/mm/vmm"
	"armclust/kernel/sched"
	"armclust/kernel/svc"
	"armclust/kernel/timer"
)

var (
	addrSpace vmm.AddressSpace
	vectors   gate.VectorTable
	scheduler sched.Scheduler
	tickSvc   timer.Service
	irqCtl    gic.Controller
	console   uart.Pl011

	bootSeq = Sequencer{
		AddrSpace: &addrSpace,
		Vectors:   &vectors,
		Scheduler: &scheduler,
		Timer:     &tickSvc,
		IRQs:      &irqCtl,
		Console:   &console,
	}

	// active is the sequencer whose components receive exceptions.
	active *Sequencer

	errKmainReturned  = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errAlreadyStarted = &kernel.Error{Module: "kmain", Message: "boot sequence already started"}
	errPoolBelowStack = &kernel.Error{Module: "kmain", Message: "stack pool must lie above the boot stack"}
)

// AddressSpace is the view of the address space the boot sequence needs.
// It is implemented by *vmm.AddressSpace.
type AddressSpace interface {
	gate.Mapper
	sched.StackAllocator

	Init()
	SeedTranslationTable()
	SeedPageMap()
	SetStackPool(pool mm.Region) *kernel.Error
	Activate()
}

// InterruptController is the view of the interrupt controller the boot
// sequence needs. It is implemented by *gic.Controller.
type InterruptController interface {
	timer.InterruptController

	Init(distBase, cpuBase uintptr) *kernel.Error
	Regions() [2]mm.Region
}

// Sequencer brings up the kernel components in dependency order. Each
// component is owned by the caller and lives for the lifetime of the system.
type Sequencer struct {
	AddrSpace AddressSpace
	Vectors   *gate.VectorTable
	Scheduler *sched.Scheduler
	Timer     *timer.Service
	IRQs      InterruptController

	// Console, if not nil, is attached as the kfmt output sink when
	// Config.UARTBase is set.
	Console *uart.Pl011

	faults   vmm.FaultHandler
	services svc.Dispatcher
	started  bool
}

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. It is invoked by the rt0 assembly code on the boot
// stack, with interrupts masked and the MMU off, after the runtime has been
// given a minimal g0.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(cfg Config) {
	bootSeq.Run(cfg)

	// Use panic instead of returning so that the failure is reported via
	// kfmt.Panic before the rt0 code halts the CPU.
	panic(errKmainReturned)
}

// Run executes the boot sequence. Any failure is fatal. On success the boot
// thread terminates itself as the last step, so Run only returns on a hosted
// build where there is no context to resume into.
func (s *Sequencer) Run(cfg Config) {
	if s.started {
		panic(errAlreadyStarted)
	}
	s.started = true

	active = s
	kfmt.SetPanicContext(panicContext)

	kfmt.SetLevel(cfg.LogLevel)
	for _, ml := range cfg.ModuleLevels {
		if ml.Module != "" {
			kfmt.SetModuleLevel(ml.Module, ml.Level)
		}
	}

	if cfg.UARTBase != 0 && s.Console != nil {
		s.Console.Init(cfg.UARTBase, 0, 0)
		kfmt.SetOutputSink(s.Console)
	}

	kfmt.Logf(kfmt.LevelInfo, "kmain", "boot stack 0x%8x-0x%8x", cfg.BootStack.Start, cfg.BootStack.End())

	if cfg.StackPool.Start < cfg.BootStack.End() {
		panic(errPoolBelowStack)
	}

	// The controller is programmed while the MMU is still off; its
	// registers are identity-mapped along with the rest of the devices.
	if err := s.IRQs.Init(cfg.GICDistributorBase, cfg.GICCPUInterfaceBase); err != nil {
		panic(err)
	}

	s.buildAddressSpace(cfg)
	s.installVectors(cfg.Forward)
	bootID := s.seedBootThread(cfg)

	var err *kernel.Error
	if err = s.Timer.Init(cfg.TickPeriod, s.Vectors, s.IRQs, schedulerTick); err != nil {
		panic(err)
	}

	if _, err = s.Scheduler.SpawnIdle(idle, cfg.IdleStackSize); err != nil {
		panic(err)
	} else if _, err = s.Scheduler.Spawn(cfg.ReplEntry, cfg.ReplStackSize); err != nil {
		panic(err)
	}

	kfmt.Logf(kfmt.LevelInfo, "kmain", "retiring boot thread")
	if err = s.Scheduler.Terminate(bootID); err != nil {
		panic(err)
	}
}

// buildAddressSpace populates the translation tables with everything the
// boot code touches and turns the MMU on.
func (s *Sequencer) buildAddressSpace(cfg Config) {
	as := s.AddrSpace

	as.Init()
	as.SeedTranslationTable()
	as.SeedPageMap()

	var err *kernel.Error
	if err = as.IdentityMap(cfg.BootText, mm.KindText); err != nil {
		panic(err)
	} else if err = as.IdentityMap(cfg.IdleText, mm.KindText); err != nil {
		panic(err)
	} else if err = as.IdentityMap(cfg.BootData, mm.KindData); err != nil {
		panic(err)
	} else if err = as.IdentityMap(cfg.BootStack, mm.KindData); err != nil {
		panic(err)
	} else if err = as.SetStackPool(cfg.StackPool); err != nil {
		panic(err)
	}

	for _, region := range s.IRQs.Regions() {
		if err = as.IdentityMap(region, mm.KindDevice); err != nil {
			panic(err)
		}
	}

	if cfg.UARTBase != 0 && s.Console != nil {
		if err = as.IdentityMap(s.Console.Region(), mm.KindDevice); err != nil {
			panic(err)
		}
	}

	as.Activate()
	kfmt.Logf(kfmt.LevelInfo, "kmain", "address translation enabled")
}

// installVectors maps, populates and enables the exception vectors.
func (s *Sequencer) installVectors(forward svc.Forwarder) {
	s.faults = vmm.FaultHandler{Threads: s.Scheduler}
	s.services = svc.Dispatcher{Threads: s.Scheduler, Forward: forward}

	if err := s.Vectors.MapHandlerRegion(s.AddrSpace); err != nil {
		panic(err)
	}

	s.Vectors.Install(gate.Handlers{
		AccessFault: accessFault,
		PageFault:   pageFault,
		Tick:        tick,
		Service:     service,
	})
	s.Vectors.Enable()
}

// seedBootThread reserves the thread table and records the running code as
// the boot thread.
func (s *Sequencer) seedBootThread(cfg Config) sched.ThreadID {
	var err *kernel.Error
	if err = s.Scheduler.Reserve(cfg.Capacity, s.AddrSpace); err != nil {
		panic(err)
	} else if err = s.AddrSpace.IdentityMap(s.Scheduler.TableRegion(), mm.KindData); err != nil {
		panic(err)
	} else if err = s.AddrSpace.IdentityMap(cfg.BootStack, mm.KindData); err != nil {
		panic(err)
	}

	return s.Scheduler.SeedBootThread(cfg.BootStack)
}

// The exception handlers and the tick function are top-level functions
// bound to the active sequencer, so registering them allocates nothing.

func accessFault(regs *gate.Registers)   { active.faults.AccessFault(regs) }
func pageFault(regs *gate.Registers)     { active.faults.PageFault(regs) }
func tick(regs *gate.Registers)          { active.Timer.HandleTick(regs) }
func service(regs *gate.Registers)       { active.services.Handle(regs) }
func schedulerTick(regs *gate.Registers) { active.Scheduler.OnTick(regs) }

// panicContext reports the running thread of the active sequencer.
func panicContext() kfmt.PanicContext {
	id, ok := active.Scheduler.Current()
	return kfmt.PanicContext{Thread: uint32(id), HasThread: ok, Ticks: active.Scheduler.Ticks()}
}

// idle is the body of the idle thread. It sleeps until the next interrupt,
// which is normally the tick that switches to another thread.
func idle() {
	for {
		cpu.WaitForInterrupt()
	}
}
