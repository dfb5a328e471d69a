package kmain

import (
	"time"

	"armclust/kernel/driver/gic"
	"armclust/kernel/driver/uart"
	"armclust/kernel/kfmt"
	"armclust/kernel/mm"
	"armclust/kernel/svc"
)

// ModuleLevel overrides the log level of a single module.
type ModuleLevel struct {
	Module string
	Level  kfmt.Level
}

// Config describes the memory layout produced by the linker and the tunables
// of the boot sequence. Every region must be page aligned.
type Config struct {
	// BootText holds the code executing the boot sequence, including the
	// exception entry stubs.
	BootText mm.Region

	// IdleText holds the code of the idle thread.
	IdleText mm.Region

	// BootData holds the kernel globals, among them the translation
	// tables and the thread table.
	BootData mm.Region

	// BootStack is the stack set up by the rt0 code. It becomes the stack
	// of the boot thread.
	BootStack mm.Region

	// StackPool is the region thread stacks are carved from. Every thread
	// shares the runtime g of the boot thread, whose stack guard sits near
	// BootStack.Start, so the pool must lie above the boot stack.
	StackPool mm.Region

	// UARTBase is the physical address of a PL011 serial port used as the
	// console. A zero value disables the serial console.
	UARTBase uintptr

	// GICDistributorBase and GICCPUInterfaceBase locate the GICv2 that
	// delivers the timer interrupt. Both are required.
	GICDistributorBase  uintptr
	GICCPUInterfaceBase uintptr

	// Capacity is the number of thread table slots, including the boot
	// thread.
	Capacity int

	// TickPeriod is the preemption period.
	TickPeriod time.Duration

	IdleStackSize uintptr
	ReplStackSize uintptr

	// ReplEntry is the body of the interactive thread. It must be a
	// top-level function.
	ReplEntry func()

	// Forward serves the service-call requests of the repl thread that
	// the kernel does not handle itself.
	Forward svc.Forwarder

	// LogLevel applies to every module without an entry in ModuleLevels.
	// Entries with an empty module name are ignored.
	LogLevel     kfmt.Level
	ModuleLevels [4]ModuleLevel
}

// DefaultConfig returns a Config with the tunables set for the QEMU virt
// machine. The memory regions and the repl entry must still be filled in.
func DefaultConfig() Config {
	return Config{
		UARTBase:            uart.DefaultBase,
		GICDistributorBase:  gic.DefaultDistributorBase,
		GICCPUInterfaceBase: gic.DefaultCPUInterfaceBase,
		Capacity:            4,
		TickPeriod:          10 * time.Millisecond,
		IdleStackSize:       mm.PageSize,
		ReplStackSize:       4 * mm.PageSize,
		LogLevel:            kfmt.LevelInfo,
		ModuleLevels: [4]ModuleLevel{
			{Module: "vmm", Level: kfmt.LevelDebug},
			{Module: "timer", Level: kfmt.LevelInfo},
		},
	}
}
