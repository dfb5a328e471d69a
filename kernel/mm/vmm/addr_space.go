// Package vmm builds the single address space of the kernel: a first-level
// translation table with one descriptor per 1 MiB section and a fixed page
// map of second-level segments that hold the 4 KiB page descriptors.
//
// The kernel runs identity-mapped, so every address handled by this package
// is both the virtual and the physical address of the memory it names.
package vmm

import (
	"unsafe"

	"armclust/kernel"
	"armclust/kernel/cpu"
	"armclust/kernel/kfmt"
	"armclust/kernel/mm"
	"armclust/kernel/sync"
)

const (
	// firstLevelEntries is the number of section descriptors needed to cover
	// the 32-bit address space.
	firstLevelEntries = 4096

	// firstLevelSize is the size of the translation table. TTBR0 requires
	// the table to be aligned to its size.
	firstLevelSize = firstLevelEntries * 4

	// segmentEntries is the number of small-page descriptors that cover a
	// single section.
	segmentEntries = 256

	// segmentSize is the size of a second-level segment. Coarse descriptors
	// require segments to be aligned to their size.
	segmentSize = segmentEntries * 4

	// MaxSegments bounds the number of sections that can contain mappings.
	MaxSegments = 128

	// pageMapSize is the size of the page map that holds every segment.
	pageMapSize = MaxSegments * segmentSize

	// coarseDescriptor is the type field of a first-level descriptor that
	// points to a second-level segment. The domain field is left at 0.
	coarseDescriptor = uint32(0x01)

	// coarseTypeMask extracts the type field of a first-level descriptor.
	coarseTypeMask = uint32(0x03)

	// coarseBaseMask extracts the segment address of a coarse descriptor.
	coarseBaseMask = uint32(0xfffffc00)

	// dacrClientDomain0 makes domain 0 a client domain: accesses are checked
	// against the descriptor permission bits.
	dacrClientDomain0 = uint32(0x01)

	// ttbcrUseTTBR0 routes every translation through TTBR0.
	ttbcrUseTTBR0 = uint32(0)
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	physAddrFn      = func(addr uintptr) uintptr { return addr }
	flushTLBEntryFn = cpu.FlushTLBEntry
	invalidateTLBFn = cpu.InvalidateTLB
	writeDACRFn     = cpu.WriteDACR
	writeTTBCRFn    = cpu.WriteTTBCR
	writeTTBR0Fn    = cpu.WriteTTBR0
	readSCTLRFn     = cpu.ReadSCTLR
	writeSCTLRFn    = cpu.WriteSCTLR
	currentPCFn     = cpu.ProgramCounter
	currentSPFn     = cpu.StackPointer

	errNotInitialized    = &kernel.Error{Module: "vmm", Message: "address space used before Init"}
	errUnalignedStorage  = &kernel.Error{Module: "vmm", Message: "translation storage is not suitably aligned"}
	errMappingConflict   = &kernel.Error{Module: "vmm", Message: "page is already mapped with different attributes"}
	errOutOfSegments     = &kernel.Error{Module: "vmm", Message: "page map has no free second-level segments"}
	errCorruptDescriptor = &kernel.Error{Module: "vmm", Message: "first-level descriptor does not reference the page map"}
	errCodeNotMapped     = &kernel.Error{Module: "vmm", Message: "executing code is not mapped as executable"}
	errStackNotMapped    = &kernel.Error{Module: "vmm", Message: "current stack is not mapped as writable"}
	errAlreadyActive     = &kernel.Error{Module: "vmm", Message: "address space is already active"}
	errOutsideAddrSpace  = &kernel.Error{Module: "vmm", Message: "address lies outside the 32-bit address space"}
)

// segment is a second-level table covering one section.
type segment [segmentEntries]pageTableEntry

// AddressSpace owns the translation table and the page map. Both structures
// live inside the value, so an AddressSpace must not be copied once Init has
// been called.
type AddressSpace struct {
	tableStore [2 * firstLevelSize]byte
	mapStore   [pageMapSize + mm.PageSize]byte

	table   *[firstLevelEntries]uint32
	pageMap *[MaxSegments]segment

	tablePhys   uintptr
	pageMapPhys uintptr

	// segmentOwner records the first-level slot that references each
	// allocated segment.
	segmentOwner [MaxSegments]uint16
	segmentsUsed int

	stackPool mm.Region
	stackNext uintptr

	initialized bool
	active      bool
}

// Init locates the aligned storage windows, records their physical
// addresses and clears the translation structures. Init must be called
// before any other method.
func (as *AddressSpace) Init() {
	tableAddr := mm.AlignUp(uintptr(unsafe.Pointer(&as.tableStore[0])), firstLevelSize)
	mapAddr := mm.AlignUp(uintptr(unsafe.Pointer(&as.mapStore[0])), mm.PageSize)

	as.table = (*[firstLevelEntries]uint32)(unsafe.Pointer(tableAddr))
	as.pageMap = (*[MaxSegments]segment)(unsafe.Pointer(mapAddr))
	as.tablePhys = physAddrFn(tableAddr)
	as.pageMapPhys = physAddrFn(mapAddr)

	*as.table = [firstLevelEntries]uint32{}
	*as.pageMap = [MaxSegments]segment{}
	as.segmentOwner = [MaxSegments]uint16{}
	as.segmentsUsed = 0
	as.stackPool, as.stackNext = mm.Region{}, 0
	as.active = false
	as.initialized = true
}

// TableRegion returns the physical region occupied by the translation table.
func (as *AddressSpace) TableRegion() mm.Region {
	return mm.Region{Start: as.tablePhys, Length: firstLevelSize}
}

// PageMapRegion returns the physical region occupied by the page map.
func (as *AddressSpace) PageMapRegion() mm.Region {
	return mm.Region{Start: as.pageMapPhys, Length: pageMapSize}
}

// SeedTranslationTable identity-maps the storage of the translation table so
// that the table stays reachable once translation is active. It panics if
// the table storage cannot be used by the MMU.
func (as *AddressSpace) SeedTranslationTable() {
	as.mustBeInitialized()
	if as.tablePhys&(firstLevelSize-1) != 0 {
		panic(errUnalignedStorage)
	}

	if err := as.IdentityMap(as.TableRegion(), mm.KindData); err != nil {
		panic(err)
	}
}

// SeedPageMap identity-maps the storage of the page map. It panics if the
// page map storage is not page aligned.
func (as *AddressSpace) SeedPageMap() {
	as.mustBeInitialized()
	if !mm.IsPageAligned(as.pageMapPhys) {
		panic(errUnalignedStorage)
	}

	if err := as.IdentityMap(as.PageMapRegion(), mm.KindData); err != nil {
		panic(err)
	}
}

// IdentityMap maps every page of region to the frame with the same address
// using the attributes of kind. Pages that are already identity-mapped with
// the same attributes are left untouched. If any page of the region is
// mapped differently, IdentityMap returns an error and installs nothing.
func (as *AddressSpace) IdentityMap(region mm.Region, kind mm.RegionKind) *kernel.Error {
	as.mustBeInitialized()
	if err := region.Validate(); err != nil {
		return err
	}

	defer sync.Mask().Restore()
	return as.mapRange(mm.PageFromAddress(region.Start), mm.FrameFromAddress(region.Start), region.Pages(), kind)
}

// Map establishes a mapping between a virtual page and a physical frame.
// Remapping a page to the same frame with the same attributes is a no-op.
func (as *AddressSpace) Map(page mm.Page, frame mm.Frame, kind mm.RegionKind) *kernel.Error {
	as.mustBeInitialized()
	if uint64(page.Address()) >= mm.AddressSpaceEnd || uint64(frame.Address()) >= mm.AddressSpaceEnd {
		return errOutsideAddrSpace
	}

	defer sync.Mask().Restore()
	return as.mapRange(page, frame, 1, kind)
}

// mapRange maps count consecutive pages starting at page to consecutive
// frames starting at frame. All checks run before the first descriptor is
// written.
func (as *AddressSpace) mapRange(page mm.Page, frame mm.Frame, count uintptr, kind mm.RegionKind) *kernel.Error {
	var (
		flags       = FlagsForKind(kind)
		newSegments int
		lastSection = -1
	)

	for i := uintptr(0); i < count; i++ {
		addr := (page + mm.Page(i)).Address()
		section := sectionIndex(addr)

		seg, err := as.segmentFor(section)
		if err != nil {
			return err
		}

		if seg == nil {
			if section != lastSection {
				newSegments++
				lastSection = section
			}
			continue
		}

		pte := seg[pageIndex(addr)]
		if pte.HasFlags(FlagSmallPage) && (pte.Frame() != frame+mm.Frame(i) || pte.Flags() != flags) {
			return errMappingConflict
		}
	}

	if as.segmentsUsed+newSegments > MaxSegments {
		return errOutOfSegments
	}

	for i := uintptr(0); i < count; i++ {
		addr := (page + mm.Page(i)).Address()
		section := sectionIndex(addr)

		seg, _ := as.segmentFor(section)
		if seg == nil {
			seg = as.allocSegment(section)
		}

		pte := &seg[pageIndex(addr)]
		if pte.HasFlags(FlagSmallPage) {
			continue
		}

		*pte = 0
		pte.SetFrame(frame + mm.Frame(i))
		pte.SetFlags(flags)

		if as.active {
			flushTLBEntryFn(addr)
		}
	}

	kfmt.Logf(kfmt.LevelDebug, "vmm", "mapped %d pages at 0x%8x as %s", count, page.Address(), kind.String())
	return nil
}

// segmentFor returns the segment referenced by a first-level slot or nil if
// the slot is still empty.
func (as *AddressSpace) segmentFor(section int) (*segment, *kernel.Error) {
	desc := as.table[section]
	if desc&coarseTypeMask != coarseDescriptor {
		return nil, nil
	}

	offset := uintptr(desc&coarseBaseMask) - as.pageMapPhys
	index := offset / segmentSize
	if uintptr(desc&coarseBaseMask) < as.pageMapPhys || index >= uintptr(as.segmentsUsed) || int(as.segmentOwner[index]) != section {
		return nil, errCorruptDescriptor
	}

	return &as.pageMap[index], nil
}

// allocSegment hands out the next free segment and points a first-level slot
// at it. The caller must have checked that a free segment exists.
func (as *AddressSpace) allocSegment(section int) *segment {
	index := as.segmentsUsed
	as.segmentsUsed++
	as.segmentOwner[index] = uint16(section)

	as.table[section] = uint32(as.pageMapPhys+uintptr(index)*segmentSize) | coarseDescriptor
	return &as.pageMap[index]
}

// Translate returns the physical address and the descriptor attributes for
// the supplied virtual address or ErrInvalidMapping if the address is not
// mapped.
func (as *AddressSpace) Translate(virtAddr uintptr) (uintptr, PageTableEntryFlag, *kernel.Error) {
	as.mustBeInitialized()
	if uint64(virtAddr) >= mm.AddressSpaceEnd {
		return 0, 0, ErrInvalidMapping
	}

	seg, err := as.segmentFor(sectionIndex(virtAddr))
	if err != nil {
		return 0, 0, err
	} else if seg == nil {
		return 0, 0, ErrInvalidMapping
	}

	pte := seg[pageIndex(virtAddr)]
	if !pte.HasFlags(FlagSmallPage) {
		return 0, 0, ErrInvalidMapping
	}

	return pte.Frame().Address() + PageOffset(virtAddr), pte.Flags(), nil
}

// Activate loads the translation table into the MMU and turns translation
// on. It panics unless the executing code is mapped executable and the
// current stack is mapped writable, since no handler could recover from a
// fault once the switch happens. Activate is a one-way transition and may
// only be called once.
func (as *AddressSpace) Activate() {
	as.mustBeInitialized()
	if as.active {
		panic(errAlreadyActive)
	}

	if _, flags, err := as.Translate(currentPCFn()); err != nil || flags&FlagExecuteNever != 0 {
		panic(errCodeNotMapped)
	}

	if _, flags, err := as.Translate(currentSPFn()); err != nil || flags&FlagReadOnly != 0 {
		panic(errStackNotMapped)
	}

	writeDACRFn(dacrClientDomain0)
	writeTTBCRFn(ttbcrUseTTBR0)
	writeTTBR0Fn(uint32(as.tablePhys))
	invalidateTLBFn()
	writeSCTLRFn(readSCTLRFn() | cpu.SCTLRMMUEnable)
	as.active = true

	kfmt.Logf(kfmt.LevelInfo, "vmm", "translation active; %d/%d segments in use", as.segmentsUsed, MaxSegments)
}

// Active returns true once Activate has succeeded.
func (as *AddressSpace) Active() bool {
	return as.active
}

// SegmentsUsed returns the number of second-level segments in use.
func (as *AddressSpace) SegmentsUsed() int {
	return as.segmentsUsed
}

func (as *AddressSpace) mustBeInitialized() {
	if !as.initialized {
		panic(errNotInitialized)
	}
}

// sectionIndex returns the first-level slot that covers addr.
func sectionIndex(addr uintptr) int {
	return int(addr >> mm.SectionShift)
}

// pageIndex returns the descriptor index of addr inside its segment.
func pageIndex(addr uintptr) uintptr {
	return (addr >> mm.PageShift) & (segmentEntries - 1)
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & (mm.PageSize - 1)
}
