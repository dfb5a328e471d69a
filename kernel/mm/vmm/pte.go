package vmm

import (
	"armclust/kernel"
	"armclust/kernel/mm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory
	// address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// PageTableEntryFlag describes a flag that can be applied to a second-level
// small-page descriptor.
type PageTableEntryFlag uint32

const (
	// FlagExecuteNever prevents instruction fetches from the page.
	FlagExecuteNever PageTableEntryFlag = 1 << iota

	// FlagSmallPage marks the descriptor as a valid 4 KiB page. A descriptor
	// without it generates a translation fault.
	FlagSmallPage

	// FlagBufferable is the B memory-type bit.
	FlagBufferable

	// FlagCacheable is the C memory-type bit.
	FlagCacheable

	// FlagAccess is AP[0]. Privileged code can access the page when set.
	FlagAccess

	// FlagUserAccessible is AP[1]. User mode can access the page when set.
	FlagUserAccessible

	// FlagTEX0 is the lowest bit of the TEX memory-type field.
	FlagTEX0

	flagTEX1
	flagTEX2

	// FlagReadOnly is AP[2]. Writes to the page fault when set.
	FlagReadOnly

	// FlagShareable marks normal memory as shareable.
	FlagShareable

	// FlagNotGlobal tags TLB entries for the page with the current ASID.
	FlagNotGlobal
)

const (
	// ptePhysPageMask extracts the physical frame address from a small-page
	// descriptor.
	ptePhysPageMask = uint32(0xfffff000)

	// pteFlagMask extracts the attribute bits from a small-page descriptor.
	pteFlagMask = uint32(0x00000fff)
)

// kindFlags maps each mm.RegionKind to the descriptor attributes used when
// mapping it.
var kindFlags = [...]PageTableEntryFlag{
	mm.KindText:   FlagSmallPage | FlagAccess | FlagReadOnly | FlagCacheable | FlagBufferable,
	mm.KindData:   FlagSmallPage | FlagAccess | FlagCacheable | FlagBufferable | FlagExecuteNever,
	mm.KindDevice: FlagSmallPage | FlagAccess | FlagBufferable | FlagShareable | FlagExecuteNever,
}

// FlagsForKind returns the descriptor attributes used for a region kind.
func FlagsForKind(kind mm.RegionKind) PageTableEntryFlag {
	return kindFlags[kind]
}

// pageTableEntry is a second-level small-page descriptor.
type pageTableEntry uint32

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint32(pte) & uint32(flags)) == uint32(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uint32(pte) & uint32(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uint32(*pte) | uint32(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uint32(*pte) &^ uint32(flags))
}

// Flags returns the attribute bits of the entry.
func (pte pageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(uint32(pte) & pteFlagMask)
}

// Frame returns the physical page frame that this page table entry points to.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.Frame((uint32(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame updates the page table entry to point the the given physical frame.
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (pageTableEntry)((uint32(*pte) &^ ptePhysPageMask) | uint32(frame.Address()))
}
