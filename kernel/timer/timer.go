// Package timer drives the preemption tick from the physical counter of the
// generic timer.
package timer

import (
	"math"
	"time"

	"armclust/kernel"
	"armclust/kernel/cpu"
	"armclust/kernel/gate"
	"armclust/kernel/kfmt"
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	readCNTFRQFn      = cpu.ReadCNTFRQ
	writeCNTPTVALFn   = cpu.WriteCNTPTVAL
	writeCNTPCTLFn    = cpu.WriteCNTPCTL
	enableInterruptFn = cpu.EnableInterrupts

	errVectorsDisabled = &kernel.Error{Module: "timer", Message: "timer started before exception vectors were enabled"}
	errAlreadyStarted  = &kernel.Error{Module: "timer", Message: "timer already initialized"}
	errInvalidPeriod   = &kernel.Error{Module: "timer", Message: "tick period must be positive"}
	errPeriodTooLong   = &kernel.Error{Module: "timer", Message: "tick period does not fit the timer countdown register"}
	errNoFrequency     = &kernel.Error{Module: "timer", Message: "counter frequency is not programmed"}
	errNoTickFunc      = &kernel.Error{Module: "timer", Message: "no tick handler supplied"}
	errNoController    = &kernel.Error{Module: "timer", Message: "no interrupt controller supplied"}
)

// IRQ is the interrupt ID of the non-secure physical timer (PPI 14).
const IRQ uint32 = 30

// InterruptController delivers the timer interrupt to the core.
type InterruptController interface {
	// Enable unmasks interrupt irq.
	Enable(irq uint32) *kernel.Error

	// Ack acknowledges the pending interrupt. The second result is
	// false for a spurious interrupt.
	Ack() (uint32, bool)

	// End signals the completion of an acknowledged interrupt.
	End(irq uint32)
}

// VectorState reports whether exceptions are delivered to the kernel.
type VectorState interface {
	Enabled() bool
}

// TickFunc is called on every tick with the interrupted context.
type TickFunc func(regs *gate.Registers)

// Configuration is a snapshot of the timer settings.
type Configuration struct {
	Period  time.Duration
	Enabled bool
}

// Service programs the timer and delivers ticks. The zero value is ready to
// be initialized.
type Service struct {
	irqs    InterruptController
	period  time.Duration
	reload  uint32
	onTick  TickFunc
	enabled bool
	ticks   uint64
	strays  uint64
}

// Init routes the timer interrupt through irqs, starts periodic ticks every
// period and unmasks IRQs. Starting the timer before the exception vectors
// are enabled would deliver the first tick to nowhere, so it causes a panic.
func (s *Service) Init(period time.Duration, vectors VectorState, irqs InterruptController, onTick TickFunc) *kernel.Error {
	if !vectors.Enabled() {
		panic(errVectorsDisabled)
	}

	switch {
	case s.enabled:
		return errAlreadyStarted
	case period <= 0:
		return errInvalidPeriod
	case irqs == nil:
		return errNoController
	case onTick == nil:
		return errNoTickFunc
	}

	freq := uint64(readCNTFRQFn())
	if freq == 0 {
		return errNoFrequency
	}

	if uint64(period) > math.MaxUint64/freq {
		return errPeriodTooLong
	}

	reload := freq * uint64(period) / uint64(time.Second)
	switch {
	case reload == 0:
		return errInvalidPeriod
	case reload > uint64(^uint32(0)>>1):
		return errPeriodTooLong
	}

	if err := irqs.Enable(IRQ); err != nil {
		return err
	}

	s.irqs = irqs
	s.period = period
	s.reload = uint32(reload)
	s.onTick = onTick

	writeCNTPTVALFn(s.reload)
	writeCNTPCTLFn(cpu.TimerEnable)
	s.enabled = true
	enableInterruptFn()

	kfmt.Logf(kfmt.LevelInfo, "timer", "tick every %d us (%d counts at %d Hz)", int64(period/time.Microsecond), s.reload, freq)
	return nil
}

// HandleTick is the Tick handler of the exception vector table. It
// acknowledges the interrupt, re-arms the countdown and passes the
// interrupted context to the tick function. Interrupts other than the timer
// are completed and otherwise ignored.
func (s *Service) HandleTick(regs *gate.Registers) {
	if !s.enabled {
		return
	}

	irq, ok := s.irqs.Ack()
	if !ok {
		return
	}

	if irq != IRQ {
		s.strays++
		kfmt.Logf(kfmt.LevelWarn, "timer", "ignoring interrupt %d", irq)
		s.irqs.End(irq)
		return
	}

	writeCNTPTVALFn(s.reload)
	s.ticks++
	s.irqs.End(irq)
	s.onTick(regs)
}

// Config returns the current timer settings.
func (s *Service) Config() Configuration {
	return Configuration{Period: s.period, Enabled: s.enabled}
}

// Ticks returns the number of ticks delivered so far.
func (s *Service) Ticks() uint64 {
	return s.ticks
}

// Strays returns the number of interrupts that were not raised by the
// timer.
func (s *Service) Strays() uint64 {
	return s.strays
}
