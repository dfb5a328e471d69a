// Package svc defines the service-call interface between threads and the
// kernel. A thread places the request code in R7 and up to three arguments
// in R0-R2 and issues SVC #0; the result is returned in R0.
package svc

import (
	"armclust/kernel/cpu"
	"armclust/kernel/gate"
	"armclust/kernel/kfmt"
)

// Request is a service-call request code.
type Request uint32

const (
	// RequestYield gives up the remainder of the caller's time slice.
	RequestYield Request = iota

	// RequestExit terminates the calling thread.
	RequestExit

	// RequestSelf returns the ID of the calling thread.
	RequestSelf

	// FirstExternal is the first request code that is not served by the
	// kernel itself. Such requests are handed to the forwarder.
	FirstExternal Request = 0x100
)

const (
	// ResultOK is returned by requests that have no other result.
	ResultOK = uint32(0)

	// ResultUnknownRequest is returned for request codes nobody serves.
	ResultUnknownRequest = ^uint32(0)
)

// Threads is the part of the scheduler that serves kernel requests.
type Threads interface {
	Yield(regs *gate.Registers)
	ExitCurrent(regs *gate.Registers)
	CurrentID() uint32
}

// Forwarder serves requests at or above FirstExternal and returns the value
// to place in R0.
type Forwarder func(code Request, regs *gate.Registers) uint32

// Dispatcher is the Service handler of the exception vector table.
type Dispatcher struct {
	Threads Threads

	// Forward, if not nil, serves requests at or above FirstExternal.
	Forward Forwarder
}

// Handle serves the request described by regs. The request code is expected
// in regs.Info.
func (d *Dispatcher) Handle(regs *gate.Registers) {
	code := Request(regs.Info)

	switch code {
	case RequestYield:
		regs.R0 = ResultOK
		d.Threads.Yield(regs)
	case RequestExit:
		d.Threads.ExitCurrent(regs)
	case RequestSelf:
		regs.R0 = d.Threads.CurrentID()
	default:
		if code >= FirstExternal && d.Forward != nil {
			regs.R0 = d.Forward(code, regs)
			return
		}

		kfmt.Logf(kfmt.LevelDebug, "svc", "unknown request 0x%x from pc 0x%8x", uint32(code), regs.PC)
		regs.R0 = ResultUnknownRequest
	}
}

var (
	// supervisorCallFn is mocked by tests and is automatically inlined by
	// the compiler.
	supervisorCallFn = cpu.SupervisorCall
)

// Call issues a service call from thread context and returns its result.
func Call(code Request, arg0, arg1, arg2 uint32) uint32 {
	return supervisorCallFn(uint32(code), arg0, arg1, arg2)
}

// Yield gives up the remainder of the caller's time slice.
func Yield() {
	Call(RequestYield, 0, 0, 0)
}

// Exit terminates the calling thread. It is also the return address of every
// thread entry point, so returning from an entry point ends the thread.
func Exit() {
	for {
		Call(RequestExit, 0, 0, 0)
	}
}

// Self returns the ID of the calling thread.
func Self() uint32 {
	return Call(RequestSelf, 0, 0, 0)
}
