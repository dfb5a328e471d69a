// Package sync provides the mutual exclusion primitive used by the kernel on
// a single core: masking IRQs for the duration of a critical section.
//
// There is exactly one execution core and only the tick and service-call
// handlers can interrupt a running thread, so no lock word is needed. Any
// code that mutates the translation tables or the TCB table outside an
// exception handler wraps the mutation in a Mask/Restore pair.
package sync

import "armclust/kernel/cpu"

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	interruptsEnabledFn = cpu.InterruptsEnabled
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
)

// IRQState captures whether IRQs were unmasked before a critical section was
// entered.
type IRQState bool

// Mask masks IRQs and returns the previous state so it can be restored once
// the critical section ends. Critical sections nest: only the outermost
// Restore unmasks IRQs again.
//
//	defer sync.Mask().Restore()
func Mask() IRQState {
	wasEnabled := interruptsEnabledFn()
	if wasEnabled {
		disableInterruptsFn()
	}

	return IRQState(wasEnabled)
}

// Restore unmasks IRQs if they were unmasked when the matching Mask call was
// made.
func (s IRQState) Restore() {
	if s {
		enableInterruptsFn()
	}
}
