// Package mm contains the memory-management types shared by the address
// space, the exception vectors and the scheduler.
package mm

import "armclust/kernel"

var (
	errEmptyRegion       = &kernel.Error{Module: "mm", Message: "region length must be positive"}
	errUnalignedRegion   = &kernel.Error{Module: "mm", Message: "region start and length must be page aligned"}
	errRegionWrapsAround = &kernel.Error{Module: "mm", Message: "region extends past the end of the address space"}
)

// RegionKind selects the access attributes used when a region is mapped.
type RegionKind uint8

const (
	// KindText is executable, read-only, cacheable memory.
	KindText RegionKind = iota

	// KindData is read-write, never-execute, cacheable memory.
	KindData

	// KindDevice is read-write, never-execute, strongly ordered device
	// memory.
	KindDevice
)

var kindNames = [...]string{"text", "data", "device"}

// String returns the kind name.
func (k RegionKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Region is a contiguous range of addresses. For identity mappings the same
// Region describes both the virtual and the physical range.
type Region struct {
	Start  uintptr
	Length uintptr
}

// End returns the address one past the last byte in the region.
func (r Region) End() uintptr {
	return r.Start + r.Length
}

// Contains returns true if addr falls inside the region.
func (r Region) Contains(addr uintptr) bool {
	return addr >= r.Start && addr-r.Start < r.Length
}

// Overlaps returns true if the two regions share at least one byte.
func (r Region) Overlaps(other Region) bool {
	return r.Length != 0 && other.Length != 0 &&
		r.Start < other.Start+other.Length && other.Start < r.Start+r.Length
}

// Pages returns the number of pages covered by the region.
func (r Region) Pages() uintptr {
	return r.Length >> PageShift
}

// Validate checks that the region has a positive page-multiple length, a
// page-aligned start and fits in the 32-bit address space.
func (r Region) Validate() *kernel.Error {
	switch {
	case r.Length == 0:
		return errEmptyRegion
	case !IsPageAligned(r.Start) || !IsPageAligned(r.Length):
		return errUnalignedRegion
	case uint64(r.Start)+uint64(r.Length) > AddressSpaceEnd:
		return errRegionWrapsAround
	}

	return nil
}

// PageRegion returns the smallest page-aligned region that covers
// [start, start+length).
func PageRegion(start, length uintptr) Region {
	alignedStart := AlignDown(start, PageSize)
	return Region{
		Start:  alignedStart,
		Length: AlignUp(start+length, PageSize) - alignedStart,
	}
}
