// Package sched implements the preemptive round-robin scheduler of the
// kernel. Thread control blocks live in a fixed table that is reserved once
// at boot; slots are never reused, so a terminated thread keeps its ID, its
// stack and any fault that halted it.
package sched

import (
	"unsafe"

	"armclust/kernel"
	"armclust/kernel/cpu"
	"armclust/kernel/gate"
	"armclust/kernel/kfmt"
	"armclust/kernel/mm"
	"armclust/kernel/svc"
	"armclust/kernel/sync"
)

// MaxThreads is the largest capacity that can be reserved.
const MaxThreads = 16

// ThreadID identifies a thread. IDs are assigned in creation order starting
// with the boot thread.
type ThreadID uint32

// State is the lifecycle state of a thread.
type State uint8

const (
	StateCreated State = iota
	StateReady
	StateRunning
	StateTerminated
)

var stateNames = [...]string{"created", "ready", "running", "terminated"}

// String returns the state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Priority selects how a thread competes for the core.
type Priority uint8

const (
	// PriorityNormal threads share the core in round-robin order.
	PriorityNormal Priority = iota

	// PriorityIdle threads only run when no normal thread is ready.
	PriorityIdle
)

// TCB is a thread control block.
type TCB struct {
	ID       ThreadID
	State    State
	Priority Priority

	// Context holds the saved registers while the thread is not running.
	Context gate.Registers

	// Stack is the region the thread's stack grows down in.
	Stack mm.Region

	// Fault is set when the thread was halted by a fault.
	Fault *gate.Fault

	fault gate.Fault
}

// StackAllocator hands out mapped thread stacks.
type StackAllocator interface {
	ReserveStack(size uintptr) (mm.Region, *kernel.Error)
}

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	resumeFn    = gate.Resume
	entryAddrFn = funcAddr
	physAddrFn  = func(addr uintptr) uintptr { return addr }
	readGFn     = cpu.G

	// threadExitFn is the return address of every thread entry point.
	threadExitFn = svc.Exit

	errAlreadyReserved  = &kernel.Error{Module: "sched", Message: "thread table already reserved"}
	errNotReserved      = &kernel.Error{Module: "sched", Message: "thread table used before it was reserved"}
	errInvalidCapacity  = &kernel.Error{Module: "sched", Message: "thread capacity out of range"}
	errNoStackAllocator = &kernel.Error{Module: "sched", Message: "no stack allocator supplied"}
	errBootThreadSeeded = &kernel.Error{Module: "sched", Message: "boot thread already seeded"}
	errBootNotSeeded    = &kernel.Error{Module: "sched", Message: "boot thread must be seeded before other threads"}
	errTableFull        = &kernel.Error{Module: "sched", Message: "thread table is full"}
	errStackBelowGuard  = &kernel.Error{Module: "sched", Message: "thread stack lies below the boot stack"}
	errInvalidStackSize = &kernel.Error{Module: "sched", Message: "stack size must be positive"}
	errNilEntry         = &kernel.Error{Module: "sched", Message: "thread entry point is nil"}
	errUnknownThread    = &kernel.Error{Module: "sched", Message: "unknown thread id"}
	errNotCurrentThread = &kernel.Error{Module: "sched", Message: "only the calling thread can be terminated"}
	errNoCurrentThread  = &kernel.Error{Module: "sched", Message: "no thread is running"}
	errBootThreadFault  = &kernel.Error{Module: "sched", Message: "fault in the boot thread"}
	errNoRunnableThread = &kernel.Error{Module: "sched", Message: "no runnable thread left"}
	errTickReentered    = &kernel.Error{Module: "sched", Message: "tick handler re-entered"}
)

// funcAddr returns the entry address of a top-level function.
func funcAddr(fn func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&fn))
}

// Scheduler owns the thread table. The zero value is ready to be reserved.
type Scheduler struct {
	tcbs     [MaxThreads]TCB
	capacity int
	count    int
	current  int

	stacks StackAllocator

	// g is the runtime g of the boot thread. Every thread runs Go code
	// on behalf of it.
	g uintptr

	reserved bool
	seeded   bool
	inTick   bool
	ticks    uint64
}

// Reserve sizes the thread table and registers the allocator used for the
// stacks of spawned threads. Reserving twice is a programming error and
// causes a panic.
func (s *Scheduler) Reserve(capacity int, stacks StackAllocator) *kernel.Error {
	if s.reserved {
		panic(errAlreadyReserved)
	}

	switch {
	case capacity < 1 || capacity > MaxThreads:
		return errInvalidCapacity
	case stacks == nil:
		return errNoStackAllocator
	}

	s.capacity = capacity
	s.stacks = stacks
	s.current = -1
	s.reserved = true
	return nil
}

// TableRegion returns the page-aligned region that holds the thread table.
func (s *Scheduler) TableRegion() mm.Region {
	start := physAddrFn(uintptr(unsafe.Pointer(&s.tcbs[0])))
	return mm.PageRegion(start, unsafe.Sizeof(s.tcbs))
}

// SeedBootThread records the code that is already executing as the first,
// running thread. The boot thread runs at idle priority and its g is handed
// to every thread spawned later. It must be called exactly once, after
// Reserve and before any other thread is created; anything else causes a
// panic.
func (s *Scheduler) SeedBootThread(stack mm.Region) ThreadID {
	switch {
	case !s.reserved:
		panic(errNotReserved)
	case s.seeded:
		panic(errBootThreadSeeded)
	}

	defer sync.Mask().Restore()

	s.g = readGFn()
	s.tcbs[0] = TCB{ID: 0, State: StateRunning, Priority: PriorityIdle, Stack: stack}
	s.tcbs[0].Context.R10 = uint32(s.g)
	s.count = 1
	s.current = 0
	s.seeded = true

	kfmt.Logf(kfmt.LevelInfo, "sched", "boot thread seeded; stack 0x%8x-0x%8x", stack.Start, stack.End())
	return 0
}

// Spawn creates a normal-priority thread that starts executing entry on a
// fresh stack of at least stackSize bytes. entry must be a top-level
// function; returning from it terminates the thread. If the table is full or
// no stack can be allocated an error is returned and the table is left
// unchanged.
//
// Threads share the g of the boot thread, so the stack-bound check in every
// Go function prologue compares against the boot stack guard. Stacks must
// therefore lie above the boot stack.
func (s *Scheduler) Spawn(entry func(), stackSize uintptr) (ThreadID, *kernel.Error) {
	return s.spawn(entry, stackSize, PriorityNormal)
}

// SpawnIdle creates an idle-priority thread. See Spawn.
func (s *Scheduler) SpawnIdle(entry func(), stackSize uintptr) (ThreadID, *kernel.Error) {
	return s.spawn(entry, stackSize, PriorityIdle)
}

func (s *Scheduler) spawn(entry func(), stackSize uintptr, prio Priority) (ThreadID, *kernel.Error) {
	if !s.seeded {
		panic(errBootNotSeeded)
	}

	switch {
	case entry == nil:
		return 0, errNilEntry
	case stackSize == 0:
		return 0, errInvalidStackSize
	}

	defer sync.Mask().Restore()

	if s.count == s.capacity {
		return 0, errTableFull
	}

	stack, err := s.stacks.ReserveStack(mm.AlignUp(stackSize, mm.PageSize))
	if err != nil {
		return 0, err
	}

	if stack.Start < s.tcbs[0].Stack.End() {
		return 0, errStackBelowGuard
	}

	tcb := &s.tcbs[s.count]
	*tcb = TCB{ID: ThreadID(s.count), State: StateCreated, Priority: prio, Stack: stack}
	tcb.Context = gate.Registers{
		SP:   uint32(mm.AlignDown(stack.End(), 8)),
		LR:   uint32(entryAddrFn(threadExitFn)),
		PC:   uint32(entryAddrFn(entry)),
		R10:  uint32(s.g),
		CPSR: cpu.ModeSupervisor,
	}
	tcb.State = StateReady
	s.count++

	kfmt.Logf(kfmt.LevelInfo, "sched", "spawned thread %d (pc 0x%8x, stack 0x%8x)", uint32(tcb.ID), tcb.Context.PC, tcb.Context.SP)
	return tcb.ID, nil
}

// OnTick is the timer tick handler. It rotates the running thread to the
// back of the ready queue and loads the next thread into regs.
func (s *Scheduler) OnTick(regs *gate.Registers) {
	if s.inTick {
		panic(errTickReentered)
	}

	s.inTick = true
	defer func() { s.inTick = false }()

	if !s.seeded {
		return
	}

	s.ticks++
	s.switchThreads(regs, StateReady)
}

// Yield gives up the rest of the current time slice. It is called from the
// service-call handler with the caller's saved registers.
func (s *Scheduler) Yield(regs *gate.Registers) {
	s.mustHaveCurrent()
	s.switchThreads(regs, StateReady)
}

// ExitCurrent terminates the calling thread and loads the next thread into
// regs.
func (s *Scheduler) ExitCurrent(regs *gate.Registers) {
	s.mustHaveCurrent()
	kfmt.Logf(kfmt.LevelInfo, "sched", "thread %d exited", uint32(s.tcbs[s.current].ID))
	s.switchThreads(regs, StateTerminated)
}

// Terminate ends the calling thread, which must be the thread identified by
// id, and resumes the next runnable thread. On success Terminate does not
// return.
func (s *Scheduler) Terminate(id ThreadID) *kernel.Error {
	s.mustHaveCurrent()

	if int(id) >= s.count {
		return errUnknownThread
	}

	if id != s.tcbs[s.current].ID {
		return errNotCurrentThread
	}

	irqState := sync.Mask()

	s.tcbs[s.current].State = StateTerminated
	next := s.pickNext()
	if next < 0 {
		panic(errNoRunnableThread)
	}

	kfmt.Logf(kfmt.LevelInfo, "sched", "thread %d terminated; resuming thread %d", uint32(id), uint32(s.tcbs[next].ID))
	s.current = next
	s.tcbs[next].State = StateRunning
	resumeFn(&s.tcbs[next].Context)

	irqState.Restore()
	return nil
}

// HaltCurrent records fault against the running thread, terminates it and
// loads the next runnable thread into regs. It returns an error, and changes
// nothing, if the fault cannot be contained to a single thread.
func (s *Scheduler) HaltCurrent(fault gate.Fault, regs *gate.Registers) *kernel.Error {
	if !s.seeded || s.current < 0 {
		return errNoCurrentThread
	}

	cur := &s.tcbs[s.current]
	if cur.ID == 0 {
		return errBootThreadFault
	}

	if s.pickNext() < 0 {
		return errNoRunnableThread
	}

	cur.fault = fault
	cur.Fault = &cur.fault
	s.switchThreads(regs, StateTerminated)
	return nil
}

// switchThreads saves regs into the running thread, moves it to outgoing
// and loads the context of the next runnable thread into regs.
func (s *Scheduler) switchThreads(regs *gate.Registers, outgoing State) {
	cur := &s.tcbs[s.current]
	cur.Context = *regs
	cur.State = outgoing

	next := s.pickNext()
	if next < 0 {
		panic(errNoRunnableThread)
	}

	s.current = next
	s.tcbs[next].State = StateRunning
	*regs = s.tcbs[next].Context
}

// pickNext returns the index of the thread to run next or -1 if no thread is
// ready. Threads are scanned in round-robin order starting after the current
// one; the first ready normal-priority thread wins and idle-priority threads
// are only picked when no normal thread is ready.
func (s *Scheduler) pickNext() int {
	idle := -1
	for i := 1; i <= s.count; i++ {
		index := (s.current + i) % s.count
		tcb := &s.tcbs[index]
		if tcb.State != StateReady {
			continue
		}

		if tcb.Priority == PriorityNormal {
			return index
		}

		if idle < 0 {
			idle = index
		}
	}

	return idle
}

func (s *Scheduler) mustHaveCurrent() {
	if !s.seeded || s.current < 0 {
		panic(errNoCurrentThread)
	}
}

// Current returns the ID of the running thread. The second result is false
// if no thread is running yet.
func (s *Scheduler) Current() (ThreadID, bool) {
	if !s.seeded || s.current < 0 {
		return 0, false
	}
	return s.tcbs[s.current].ID, true
}

// CurrentID returns the ID of the running thread as a service-call result.
func (s *Scheduler) CurrentID() uint32 {
	id, ok := s.Current()
	if !ok {
		return svc.ResultUnknownRequest
	}
	return uint32(id)
}

// Lookup returns a copy of the control block of thread id.
func (s *Scheduler) Lookup(id ThreadID) (TCB, *kernel.Error) {
	if int(id) >= s.count {
		return TCB{}, errUnknownThread
	}

	tcb := s.tcbs[id]
	if tcb.Fault != nil {
		tcb.Fault = &tcb.fault
	}
	return tcb, nil
}

// State returns the state of thread id.
func (s *Scheduler) State(id ThreadID) (State, *kernel.Error) {
	if int(id) >= s.count {
		return 0, errUnknownThread
	}
	return s.tcbs[id].State, nil
}

// Count returns the number of threads created so far, including terminated
// ones.
func (s *Scheduler) Count() int {
	return s.count
}

// Capacity returns the reserved size of the thread table.
func (s *Scheduler) Capacity() int {
	return s.capacity
}

// Running returns the number of threads in StateRunning. On a single core it
// is never more than one.
func (s *Scheduler) Running() int {
	var running int
	for i := 0; i < s.count; i++ {
		if s.tcbs[i].State == StateRunning {
			running++
		}
	}
	return running
}

// Ticks returns the number of timer ticks handled so far.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks
}
