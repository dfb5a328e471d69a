package kfmt

import (
	"armclust/kernel"
	"armclust/kernel/cpu"
)

// PanicContext is the scheduler state printed alongside a kernel panic.
type PanicContext struct {
	// Thread is the ID of the running thread. It is only meaningful if
	// HasThread is set; no thread runs before the boot thread is seeded.
	Thread    uint32
	HasThread bool

	// Ticks is the number of timer ticks handled before the panic.
	Ticks uint64
}

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	cpuHaltFn        = cpu.Halt
	maskInterruptsFn = cpu.DisableInterrupts

	// panicContextFn describes the running thread. It stays nil until the
	// boot sequence brings up the scheduler.
	panicContextFn func() PanicContext

	// reporting is set while a panic report is written. A nested panic,
	// such as a fault raised by the output sink, halts without a report.
	reporting bool

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// SetPanicContext registers fn as the source of the thread state printed by
// Panic. A nil fn drops the thread line from the report.
func SetPanicContext(fn func() PanicContext) {
	panicContextFn = fn
}

// Panic masks interrupts, reports the supplied error (if not nil) together
// with the running thread and halts the core. Calls to Panic never return.
// The boot image redirects runtime.gopanic here, so a plain panic(err)
// anywhere in the kernel ends up in this function.
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	maskInterruptsFn()
	if reporting {
		cpuHaltFn()
		return
	}
	reporting = true

	var err *kernel.Error
	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}

	if panicContextFn != nil {
		if ctx := panicContextFn(); ctx.HasThread {
			Printf("thread %d running after %d ticks\n", ctx.Thread, ctx.Ticks)
		} else {
			Printf("no thread running\n")
		}
	}

	Printf("*** kernel panic: core halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
}

// panicString serves as a redirect target for runtime.throw
//
//go:redirect-from runtime.throw
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
