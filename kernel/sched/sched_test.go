package sched

import (
	"testing"
	"unsafe"

	"armclust/kernel"
	"armclust/kernel/cpu"
	"armclust/kernel/gate"
	"armclust/kernel/mm"
)

const (
	fakeExitAddr = 0x00008100
	fakeBootPC   = 0x00008200
	fakeBootG    = 0x00104f00
)

func entryA()    {}
func entryB()    {}
func entryIdle() {}

type fakeStacks struct {
	next  uintptr
	calls int
	err   *kernel.Error
}

func (f *fakeStacks) ReserveStack(size uintptr) (mm.Region, *kernel.Error) {
	f.calls++
	if f.err != nil {
		return mm.Region{}, f.err
	}

	f.next -= size
	return mm.Region{Start: f.next, Length: size}, nil
}

func restoreHooks() {
	resumeFn = gate.Resume
	entryAddrFn = funcAddr
	physAddrFn = func(addr uintptr) uintptr { return addr }
	readGFn = cpu.G
}

// mockEntries reports fixed addresses for the test entry points.
func mockEntries() {
	entryAddrFn = func(fn func()) uintptr {
		switch funcAddr(fn) {
		case funcAddr(entryA):
			return 0x9000
		case funcAddr(entryB):
			return 0xa000
		case funcAddr(entryIdle):
			return 0xb000
		case funcAddr(threadExitFn):
			return fakeExitAddr
		}
		return 0xdead
	}
	readGFn = func() uintptr { return fakeBootG }
}

func expectPanic(t *testing.T, expErr *kernel.Error, fn func()) {
	t.Helper()
	defer func() {
		if err := recover(); err != expErr {
			t.Errorf("expected panic with %v; got %v", expErr, err)
		}
	}()

	fn()
}

// newBootedScheduler returns a scheduler with the boot thread seeded and
// running.
func newBootedScheduler(t *testing.T, capacity int) (*Scheduler, *fakeStacks) {
	stacks := &fakeStacks{next: 0x00800000}
	s := new(Scheduler)
	if err := s.Reserve(capacity, stacks); err != nil {
		t.Fatal(err)
	}
	s.SeedBootThread(mm.Region{Start: 0x00100000, Length: 4 * mm.PageSize})
	return s, stacks
}

func spawn(t *testing.T, s *Scheduler, entry func()) ThreadID {
	id, err := s.Spawn(entry, mm.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func expectStates(t *testing.T, s *Scheduler, exp ...State) {
	t.Helper()
	if s.Count() != len(exp) {
		t.Fatalf("expected %d threads; got %d", len(exp), s.Count())
	}

	for id, expState := range exp {
		if got, _ := s.State(ThreadID(id)); got != expState {
			t.Errorf("thread %d: expected state %s; got %s", id, expState, got)
		}
	}

	if s.Running() > 1 {
		t.Errorf("expected at most one running thread; got %d", s.Running())
	}
}

func TestReserve(t *testing.T) {
	stacks := &fakeStacks{}

	for _, capacity := range []int{0, -1, MaxThreads + 1} {
		var s Scheduler
		if err := s.Reserve(capacity, stacks); err != errInvalidCapacity {
			t.Errorf("capacity %d: expected errInvalidCapacity; got %v", capacity, err)
		}
	}

	var s Scheduler
	if err := s.Reserve(3, nil); err != errNoStackAllocator {
		t.Fatalf("expected errNoStackAllocator; got %v", err)
	}

	if err := s.Reserve(3, stacks); err != nil {
		t.Fatal(err)
	}

	if s.Capacity() != 3 || s.Count() != 0 {
		t.Fatalf("unexpected table: capacity %d count %d", s.Capacity(), s.Count())
	}

	expectPanic(t, errAlreadyReserved, func() { _ = s.Reserve(3, stacks) })
}

func TestTableRegion(t *testing.T) {
	defer restoreHooks()

	var s Scheduler
	physAddrFn = func(addr uintptr) uintptr { return 0x00300000 | (addr & 0xfffff) }

	region := s.TableRegion()
	start := physAddrFn(uintptr(unsafe.Pointer(&s.tcbs[0])))

	if !mm.IsPageAligned(region.Start) || !mm.IsPageAligned(region.Length) {
		t.Fatalf("expected a page-aligned region; got %+v", region)
	}

	if !region.Contains(start) || !region.Contains(start+unsafe.Sizeof(s.tcbs)-1) {
		t.Fatalf("region %+v does not cover the thread table at %x", region, start)
	}
}

func TestSeedBootThread(t *testing.T) {
	t.Run("before reserve", func(t *testing.T) {
		var s Scheduler
		expectPanic(t, errNotReserved, func() { s.SeedBootThread(mm.Region{}) })
	})

	t.Run("spawn before seed", func(t *testing.T) {
		var s Scheduler
		if err := s.Reserve(2, &fakeStacks{}); err != nil {
			t.Fatal(err)
		}

		if _, ok := s.Current(); ok {
			t.Fatal("expected no current thread before seeding")
		}

		expectPanic(t, errBootNotSeeded, func() { _, _ = s.Spawn(entryA, mm.PageSize) })
	})

	t.Run("success", func(t *testing.T) {
		s, _ := newBootedScheduler(t, 2)

		if id, ok := s.Current(); !ok || id != 0 {
			t.Fatalf("expected boot thread 0 to be current; got %d", id)
		}

		tcb, err := s.Lookup(0)
		if err != nil {
			t.Fatal(err)
		}

		if tcb.State != StateRunning || tcb.Priority != PriorityIdle || tcb.Stack.Start != 0x00100000 {
			t.Fatalf("unexpected boot TCB %+v", tcb)
		}

		expectPanic(t, errBootThreadSeeded, func() { s.SeedBootThread(mm.Region{}) })
	})
}

func TestSpawn(t *testing.T) {
	defer restoreHooks()
	mockEntries()

	t.Run("success", func(t *testing.T) {
		s, stacks := newBootedScheduler(t, 3)

		id, err := s.Spawn(entryA, 3*mm.PageSize+1)
		if err != nil {
			t.Fatal(err)
		}

		if id != 1 {
			t.Fatalf("expected first spawned thread to get id 1; got %d", id)
		}

		tcb, _ := s.Lookup(id)
		if tcb.State != StateReady || tcb.Priority != PriorityNormal {
			t.Fatalf("unexpected TCB state %s priority %d", tcb.State, tcb.Priority)
		}

		if exp := (mm.Region{Start: 0x00800000 - 4*mm.PageSize, Length: 4 * mm.PageSize}); tcb.Stack != exp || stacks.calls != 1 {
			t.Fatalf("expected stack %+v; got %+v", exp, tcb.Stack)
		}

		ctx := tcb.Context
		if ctx.PC != 0x9000 || ctx.LR != fakeExitAddr || ctx.SP != 0x00800000 || ctx.SP%8 != 0 {
			t.Fatalf("unexpected initial context %+v", ctx)
		}

		if ctx.R10 != fakeBootG {
			t.Fatalf("expected thread to inherit the boot g 0x%x in R10; got 0x%x", fakeBootG, ctx.R10)
		}

		if boot, _ := s.Lookup(0); boot.Context.R10 != fakeBootG {
			t.Fatalf("expected boot context to carry its g; got 0x%x", boot.Context.R10)
		}

		if ctx.CPSR&0x1f != cpu.ModeSupervisor || ctx.CPSR&cpu.CPSRIRQDisable != 0 {
			t.Fatalf("expected thread to start in SVC mode with IRQs enabled; got CPSR %x", ctx.CPSR)
		}

		idleID, err := s.SpawnIdle(entryIdle, mm.PageSize)
		if err != nil {
			t.Fatal(err)
		}

		if idleID != 2 {
			t.Fatalf("expected ids to increase; got %d", idleID)
		}

		if tcb, _ := s.Lookup(idleID); tcb.Priority != PriorityIdle || tcb.Context.PC != 0xb000 {
			t.Fatalf("unexpected idle TCB %+v", tcb)
		}

		expectStates(t, s, StateRunning, StateReady, StateReady)
	})

	t.Run("table full", func(t *testing.T) {
		s, stacks := newBootedScheduler(t, 2)
		spawn(t, s, entryA)

		if _, err := s.Spawn(entryB, mm.PageSize); err != errTableFull {
			t.Fatalf("expected errTableFull; got %v", err)
		}

		if stacks.calls != 1 {
			t.Fatal("expected a full table not to consume stack space")
		}
		expectStates(t, s, StateRunning, StateReady)
	})

	t.Run("stack below boot stack", func(t *testing.T) {
		s, stacks := newBootedScheduler(t, 3)
		stacks.next = 0x00100000

		if _, err := s.Spawn(entryA, mm.PageSize); err != errStackBelowGuard {
			t.Fatalf("expected errStackBelowGuard; got %v", err)
		}
		expectStates(t, s, StateRunning)
	})

	t.Run("stack allocation fails", func(t *testing.T) {
		s, stacks := newBootedScheduler(t, 3)
		stacks.err = &kernel.Error{Module: "test", Message: "pool exhausted"}

		if _, err := s.Spawn(entryA, mm.PageSize); err != stacks.err {
			t.Fatalf("expected stack allocator error; got %v", err)
		}
		expectStates(t, s, StateRunning)

		if _, err := s.Lookup(1); err != errUnknownThread {
			t.Fatalf("expected errUnknownThread; got %v", err)
		}
	})

	t.Run("invalid arguments", func(t *testing.T) {
		s, stacks := newBootedScheduler(t, 3)

		if _, err := s.Spawn(nil, mm.PageSize); err != errNilEntry {
			t.Fatalf("expected errNilEntry; got %v", err)
		}

		if _, err := s.Spawn(entryA, 0); err != errInvalidStackSize {
			t.Fatalf("expected errInvalidStackSize; got %v", err)
		}

		if stacks.calls != 0 {
			t.Fatal("expected invalid requests not to allocate stacks")
		}
		expectStates(t, s, StateRunning)
	})
}

func TestOnTick(t *testing.T) {
	defer restoreHooks()
	mockEntries()

	t.Run("round robin over normal threads", func(t *testing.T) {
		s, _ := newBootedScheduler(t, 4)
		spawn(t, s, entryA)
		spawn(t, s, entryB)

		regs := gate.Registers{PC: fakeBootPC, R4: 44}
		s.OnTick(&regs)

		if regs.PC != 0x9000 {
			t.Fatalf("expected thread 1 to run; got pc %x", regs.PC)
		}
		expectStates(t, s, StateReady, StateRunning, StateReady)

		if boot, _ := s.Lookup(0); boot.Context.PC != fakeBootPC || boot.Context.R4 != 44 {
			t.Fatalf("expected boot context to be saved; got %+v", boot.Context)
		}

		regs.R4 = 1
		s.OnTick(&regs)
		if regs.PC != 0xa000 {
			t.Fatalf("expected thread 2 to run; got pc %x", regs.PC)
		}
		expectStates(t, s, StateReady, StateReady, StateRunning)

		// The idle-priority boot thread is skipped while normal threads
		// are ready.
		s.OnTick(&regs)
		if id, _ := s.Current(); id != 1 || regs.R4 != 1 {
			t.Fatalf("expected thread 1 to resume with its saved context; got thread %d", id)
		}

		if s.Ticks() != 3 {
			t.Fatalf("expected 3 ticks; got %d", s.Ticks())
		}
	})

	t.Run("single normal thread keeps running", func(t *testing.T) {
		s, _ := newBootedScheduler(t, 2)
		spawn(t, s, entryA)

		var regs gate.Registers
		for i := 0; i < 3; i++ {
			s.OnTick(&regs)
			if id, _ := s.Current(); id != 1 {
				t.Fatalf("tick %d: expected thread 1; got %d", i, id)
			}
		}
	})

	t.Run("idle threads rotate when nothing else is ready", func(t *testing.T) {
		s, _ := newBootedScheduler(t, 2)
		if _, err := s.SpawnIdle(entryIdle, mm.PageSize); err != nil {
			t.Fatal(err)
		}

		var regs gate.Registers
		s.OnTick(&regs)
		if id, _ := s.Current(); id != 1 {
			t.Fatalf("expected idle thread to run; got %d", id)
		}

		s.OnTick(&regs)
		if id, _ := s.Current(); id != 0 {
			t.Fatalf("expected boot thread to run; got %d", id)
		}
	})

	t.Run("re-entry", func(t *testing.T) {
		s, _ := newBootedScheduler(t, 2)
		s.inTick = true

		expectPanic(t, errTickReentered, func() { s.OnTick(&gate.Registers{}) })
	})

	t.Run("before seeding", func(t *testing.T) {
		var s Scheduler
		if err := s.Reserve(2, &fakeStacks{}); err != nil {
			t.Fatal(err)
		}

		regs := gate.Registers{PC: 0x1234}
		s.OnTick(&regs)
		if regs.PC != 0x1234 || s.Ticks() != 0 {
			t.Fatal("expected ticks before seeding to be ignored")
		}
	})
}

func TestYieldAndExit(t *testing.T) {
	defer restoreHooks()
	mockEntries()

	s, _ := newBootedScheduler(t, 3)
	spawn(t, s, entryA)
	spawn(t, s, entryB)

	var regs gate.Registers
	s.Yield(&regs)
	if id, _ := s.Current(); id != 1 {
		t.Fatalf("expected yield to switch to thread 1; got %d", id)
	}

	s.ExitCurrent(&regs)
	if id, _ := s.Current(); id != 2 {
		t.Fatalf("expected exit to switch to thread 2; got %d", id)
	}
	expectStates(t, s, StateReady, StateTerminated, StateRunning)

	s.ExitCurrent(&regs)
	if id, _ := s.Current(); id != 0 {
		t.Fatalf("expected the idle-priority boot thread to run; got %d", id)
	}
	expectStates(t, s, StateRunning, StateTerminated, StateTerminated)

	if got := s.CurrentID(); got != 0 {
		t.Fatalf("expected CurrentID to return 0; got %d", got)
	}

	expectPanic(t, errNoRunnableThread, func() { s.ExitCurrent(&regs) })
}

func TestTerminate(t *testing.T) {
	defer restoreHooks()
	mockEntries()

	var resumed *gate.Registers
	resumeFn = func(regs *gate.Registers) { resumed = regs }

	t.Run("argument checks", func(t *testing.T) {
		s, _ := newBootedScheduler(t, 3)
		spawn(t, s, entryA)

		if err := s.Terminate(7); err != errUnknownThread {
			t.Fatalf("expected errUnknownThread; got %v", err)
		}

		if err := s.Terminate(1); err != errNotCurrentThread {
			t.Fatalf("expected errNotCurrentThread; got %v", err)
		}
		expectStates(t, s, StateRunning, StateReady)
	})

	t.Run("boot thread retires", func(t *testing.T) {
		s, _ := newBootedScheduler(t, 3)
		spawn(t, s, entryA)

		resumed = nil
		if err := s.Terminate(0); err != nil {
			t.Fatal(err)
		}

		if resumed == nil || resumed.PC != 0x9000 {
			t.Fatalf("expected thread 1 to be resumed; got %+v", resumed)
		}
		expectStates(t, s, StateTerminated, StateRunning)
	})

	t.Run("nothing left to run", func(t *testing.T) {
		s, _ := newBootedScheduler(t, 1)
		expectPanic(t, errNoRunnableThread, func() { _ = s.Terminate(0) })
	})

	t.Run("idle thread never starves", func(t *testing.T) {
		s, _ := newBootedScheduler(t, 4)

		if _, err := s.SpawnIdle(entryIdle, mm.PageSize); err != nil {
			t.Fatal(err)
		}
		replID := spawn(t, s, entryA)

		if err := s.Terminate(0); err != nil {
			t.Fatal(err)
		}

		if id, _ := s.Current(); id != replID {
			t.Fatalf("expected repl thread to run after boot retires; got %d", id)
		}

		if err := s.Terminate(replID); err != nil {
			t.Fatal(err)
		}

		for i := 0; i < 3; i++ {
			var regs gate.Registers
			s.OnTick(&regs)
			if id, _ := s.Current(); id != 1 {
				t.Fatalf("tick %d: expected idle thread to be selected; got %d", i, id)
			}
		}
		expectStates(t, s, StateTerminated, StateRunning, StateTerminated)
	})
}

func TestHaltCurrent(t *testing.T) {
	defer restoreHooks()
	mockEntries()

	fault := gate.Fault{Class: gate.PageFault, Address: 0xdead0000, Status: 0x807, PC: 0x9010}

	t.Run("before seeding", func(t *testing.T) {
		var s Scheduler
		if err := s.HaltCurrent(fault, &gate.Registers{}); err != errNoCurrentThread {
			t.Fatalf("expected errNoCurrentThread; got %v", err)
		}
	})

	t.Run("boot thread", func(t *testing.T) {
		s, _ := newBootedScheduler(t, 2)
		spawn(t, s, entryA)

		if err := s.HaltCurrent(fault, &gate.Registers{}); err != errBootThreadFault {
			t.Fatalf("expected errBootThreadFault; got %v", err)
		}
		expectStates(t, s, StateRunning, StateReady)
	})

	t.Run("halts faulting thread", func(t *testing.T) {
		s, _ := newBootedScheduler(t, 3)
		spawn(t, s, entryA)
		spawn(t, s, entryB)

		var regs gate.Registers
		s.OnTick(&regs)

		regs.PC = 0x9010
		if err := s.HaltCurrent(fault, &regs); err != nil {
			t.Fatal(err)
		}

		if id, _ := s.Current(); id != 2 || regs.PC != 0xa000 {
			t.Fatalf("expected thread 2 to take over; got %d", id)
		}

		tcb, _ := s.Lookup(1)
		if tcb.State != StateTerminated || tcb.Fault == nil || *tcb.Fault != fault {
			t.Fatalf("expected fault to be recorded on thread 1; got %+v", tcb)
		}

		if other, _ := s.Lookup(2); other.Fault != nil {
			t.Fatal("expected fault to be recorded only on the faulting thread")
		}
	})

	t.Run("no other runnable thread", func(t *testing.T) {
		s, _ := newBootedScheduler(t, 2)
		spawn(t, s, entryA)

		var regs gate.Registers
		s.OnTick(&regs)

		// Retire the boot thread so thread 1 is the only one left.
		s.tcbs[0].State = StateTerminated

		if err := s.HaltCurrent(fault, &regs); err != errNoRunnableThread {
			t.Fatalf("expected errNoRunnableThread; got %v", err)
		}
		expectStates(t, s, StateTerminated, StateRunning)
	})
}

func TestStateString(t *testing.T) {
	specs := map[State]string{
		StateCreated:    "created",
		StateReady:      "ready",
		StateRunning:    "running",
		StateTerminated: "terminated",
		State(42):       "unknown",
	}

	for state, exp := range specs {
		if got := state.String(); got != exp {
			t.Errorf("expected %q; got %q", exp, got)
		}
	}
}
