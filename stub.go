package main

import (
	"armclust/kernel/kmain"
	"armclust/kernel/mm"
	"armclust/kernel/svc"
)

// The region bounds below are written by the rt0 code from the symbols
// exported by the linker script before main is invoked. Every bound is page
// aligned.
var (
	bootTextStart, bootTextEnd   uintptr
	idleTextStart, idleTextEnd   uintptr
	bootDataStart, bootDataEnd   uintptr
	bootStackStart, bootStackEnd uintptr
	stackPoolStart, stackPoolEnd uintptr
)

// main is the only Go symbol that is visible (exported) from the rt0
// initialization code. It works as a trampoline for calling the actual kernel
// entrypoint (kmain.Kmain) and is intentionally defined to prevent the Go
// compiler from optimizing away the kernel code as it is not aware of the
// presence of the rt0 code.
//
// main is not expected to return. If it does, the rt0 code will halt the CPU.
func main() {
	cfg := kmain.DefaultConfig()
	cfg.BootText = region(bootTextStart, bootTextEnd)
	cfg.IdleText = region(idleTextStart, idleTextEnd)
	cfg.BootData = region(bootDataStart, bootDataEnd)
	cfg.BootStack = region(bootStackStart, bootStackEnd)
	cfg.StackPool = region(stackPoolStart, stackPoolEnd)
	cfg.ReplEntry = repl

	kmain.Kmain(cfg)
}

func region(start, end uintptr) mm.Region {
	return mm.Region{Start: start, Length: end - start}
}

// repl stands in for the interactive thread until a shell is linked in. It
// hands its time slice back to the scheduler.
func repl() {
	for {
		svc.Yield()
	}
}
