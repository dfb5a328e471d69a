package gic

import (
	"testing"

	"armclust/kernel/mm"
)

type regWrite struct {
	addr uintptr
	val  uint32
}

// mockRegs backs the controller registers with a map and records every
// write in order.
func mockRegs() (map[uintptr]uint32, *[]regWrite, func()) {
	regs := make(map[uintptr]uint32)
	var writes []regWrite
	origRead, origWrite := readRegFn, writeRegFn

	readRegFn = func(addr uintptr) uint32 { return regs[addr] }
	writeRegFn = func(addr uintptr, val uint32) {
		regs[addr] = val
		writes = append(writes, regWrite{addr, val})
	}

	return regs, &writes, func() {
		readRegFn, writeRegFn = origRead, origWrite
	}
}

func readyController(t *testing.T) *Controller {
	c := new(Controller)
	if err := c.Init(DefaultDistributorBase, DefaultCPUInterfaceBase); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestInit(t *testing.T) {
	_, writes, restore := mockRegs()
	defer restore()

	readyController(t)

	const (
		d = DefaultDistributorBase
		c = DefaultCPUInterfaceBase
	)
	exp := []regWrite{
		{d + regDistControl, 0},
		{d + regDistClearEnable, allPrivate},
		{d + regDistClearPend0, allPrivate},
		{d + regDistIntGroup0, allPrivate},
		{d + regDistControl, enableGroup0 | enableGroup1},
		{c + regCPUPriorityMask, lowestPriorityMask},
		{c + regCPUBinaryPoint, 0},
		{c + regCPUControl, enableGroup0 | enableGroup1 | ackControl},
	}

	if len(*writes) != len(exp) {
		t.Fatalf("expected %d register writes; got %d: %+v", len(exp), len(*writes), *writes)
	}

	for i, w := range *writes {
		if w != exp[i] {
			t.Errorf("write %d: expected %+v; got %+v", i, exp[i], w)
		}
	}

	t.Run("invalid bases", func(t *testing.T) {
		specs := []struct {
			dist, cpu uintptr
		}{
			{0, DefaultCPUInterfaceBase},
			{DefaultDistributorBase, 0},
			{DefaultDistributorBase + 4, DefaultCPUInterfaceBase},
			{DefaultDistributorBase, DefaultCPUInterfaceBase + 0x10},
		}

		for specIndex, spec := range specs {
			var ctl Controller
			if err := ctl.Init(spec.dist, spec.cpu); err != errMisalignedBase {
				t.Errorf("[spec %d] expected errMisalignedBase; got %v", specIndex, err)
			}
		}
	})
}

func TestRegions(t *testing.T) {
	_, _, restore := mockRegs()
	defer restore()

	regions := readyController(t).Regions()
	exp := [2]mm.Region{
		{Start: DefaultDistributorBase, Length: mm.PageSize},
		{Start: DefaultCPUInterfaceBase, Length: mm.PageSize},
	}

	if regions != exp {
		t.Fatalf("expected regions %+v; got %+v", exp, regions)
	}
}

func TestEnable(t *testing.T) {
	regs, _, restore := mockRegs()
	defer restore()

	t.Run("before init", func(t *testing.T) {
		var c Controller
		if err := c.Enable(30); err != errNotInitialized {
			t.Fatalf("expected errNotInitialized; got %v", err)
		}
	})

	c := readyController(t)

	t.Run("timer interrupt", func(t *testing.T) {
		prioReg := DefaultDistributorBase + regDistPriority + 28
		regs[prioReg] = 0x11223344

		if err := c.Enable(30); err != nil {
			t.Fatal(err)
		}

		// IRQ 30 owns byte 2 of IPRIORITYR7.
		if got, exp := regs[prioReg], uint32(0x11a03344); got != exp {
			t.Errorf("expected priority register 0x%x; got 0x%x", exp, got)
		}

		if got, exp := regs[DefaultDistributorBase+regDistSetEnable0], uint32(1<<30); got != exp {
			t.Errorf("expected set-enable write 0x%x; got 0x%x", exp, got)
		}
	})

	t.Run("shared interrupt", func(t *testing.T) {
		if err := c.Enable(32); err != errIRQOutOfRange {
			t.Fatalf("expected errIRQOutOfRange; got %v", err)
		}
	})
}

func TestAckEnd(t *testing.T) {
	regs, writes, restore := mockRegs()
	defer restore()

	t.Run("before init", func(t *testing.T) {
		var c Controller
		if irq, ok := c.Ack(); ok || irq != SpuriousID {
			t.Fatalf("expected a spurious interrupt; got (%d, %t)", irq, ok)
		}

		c.End(30)
		if len(*writes) != 0 {
			t.Fatalf("expected no register writes; got %+v", *writes)
		}
	})

	c := readyController(t)

	specs := []struct {
		iar    uint32
		expIRQ uint32
		expOK  bool
	}{
		{30, 30, true},
		{0x400 | 1, 1, true},
		{SpuriousID, SpuriousID, false},
	}

	for specIndex, spec := range specs {
		regs[DefaultCPUInterfaceBase+regCPUAck] = spec.iar

		irq, ok := c.Ack()
		if irq != spec.expIRQ || ok != spec.expOK {
			t.Errorf("[spec %d] expected (%d, %t); got (%d, %t)", specIndex, spec.expIRQ, spec.expOK, irq, ok)
		}
	}

	c.End(30)
	if got := regs[DefaultCPUInterfaceBase+regCPUEndOfInt]; got != 30 {
		t.Fatalf("expected EOIR to be written with 30; got %d", got)
	}
}
