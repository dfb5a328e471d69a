package vmm

import (
	"armclust/kernel"
	"armclust/kernel/kfmt"
	"armclust/kernel/mm"
)

var (
	errNoStackPool       = &kernel.Error{Module: "vmm", Message: "no stack pool configured"}
	errStackPoolResized  = &kernel.Error{Module: "vmm", Message: "stack pool already in use"}
	errInvalidStackSize  = &kernel.Error{Module: "vmm", Message: "stack size must be a positive multiple of the page size"}
	errStackPoolNoSpace  = &kernel.Error{Module: "vmm", Message: "remaining stack pool not large enough to satisfy reservation request"}
	errStackPoolConflict = &kernel.Error{Module: "vmm", Message: "stack pool overlaps the translation structures"}
)

// SetStackPool registers the region that thread stacks are carved from. The
// pool can only be set before the first stack is reserved.
func (as *AddressSpace) SetStackPool(pool mm.Region) *kernel.Error {
	as.mustBeInitialized()
	if err := pool.Validate(); err != nil {
		return err
	}

	if as.stackPool.Length != 0 && as.stackNext != as.stackPool.End() {
		return errStackPoolResized
	}

	if pool.Overlaps(as.TableRegion()) || pool.Overlaps(as.PageMapRegion()) {
		return errStackPoolConflict
	}

	as.stackPool = pool
	as.stackNext = pool.End()
	return nil
}

// ReserveStack carves a stack of the requested size from the end of the
// stack pool and identity-maps it as data. Stacks are never returned to the
// pool.
func (as *AddressSpace) ReserveStack(size uintptr) (mm.Region, *kernel.Error) {
	as.mustBeInitialized()
	switch {
	case size == 0 || !mm.IsPageAligned(size):
		return mm.Region{}, errInvalidStackSize
	case as.stackPool.Length == 0:
		return mm.Region{}, errNoStackPool
	case size > as.stackNext-as.stackPool.Start:
		return mm.Region{}, errStackPoolNoSpace
	}

	stack := mm.Region{Start: as.stackNext - size, Length: size}
	if err := as.IdentityMap(stack, mm.KindData); err != nil {
		return mm.Region{}, err
	}

	as.stackNext = stack.Start
	kfmt.Logf(kfmt.LevelDebug, "vmm", "reserved stack 0x%8x-0x%8x", stack.Start, stack.End())
	return stack, nil
}

// StackPoolFree returns the number of bytes left in the stack pool.
func (as *AddressSpace) StackPoolFree() uintptr {
	return as.stackNext - as.stackPool.Start
}
