// Package cpu exposes the ARMv7-A system registers and instructions that the
// boot core relies on. On GOARCH=arm the functions are implemented in
// assembly; every other architecture gets a register-file simulation so the
// packages built on top of cpu can be exercised by hosted tests.
package cpu

// SCTLR bits touched by the kernel.
const (
	// SCTLRMMUEnable turns on address translation (SCTLR.M).
	SCTLRMMUEnable = uint32(1 << 0)

	// SCTLRAlignmentCheck enables strict alignment checking (SCTLR.A).
	SCTLRAlignmentCheck = uint32(1 << 1)

	// SCTLRHighVectors relocates the exception vectors to 0xffff0000 (SCTLR.V).
	SCTLRHighVectors = uint32(1 << 13)
)

// Generic timer control bits (CNTP_CTL).
const (
	TimerEnable  = uint32(1 << 0)
	TimerIMask   = uint32(1 << 1)
	TimerIStatus = uint32(1 << 2)
)

// Processor modes as encoded in CPSR.M.
const (
	ModeUser       = uint32(0x10)
	ModeFIQ        = uint32(0x11)
	ModeIRQ        = uint32(0x12)
	ModeSupervisor = uint32(0x13)
	ModeAbort      = uint32(0x17)
	ModeUndefined  = uint32(0x1b)
	ModeSystem     = uint32(0x1f)

	// CPSRIRQDisable masks IRQs when set (CPSR.I).
	CPSRIRQDisable = uint32(1 << 7)

	// CPSRFIQDisable masks FIQs when set (CPSR.F).
	CPSRFIQDisable = uint32(1 << 6)
)
