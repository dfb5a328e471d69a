package mm

// The constants below describe the ARMv7-A short-descriptor translation
// format. They hold for hosted builds too so that the mapping code can be
// tested on the development machine.
const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the size of a small page in bytes.
	PageSize = uintptr(1 << PageShift)

	// SectionShift is equal to log2(SectionSize).
	SectionShift = uintptr(20)

	// SectionSize is the span of virtual memory described by one
	// translation table entry.
	SectionSize = uintptr(1 << SectionShift)

	// AddressSpaceEnd is one past the last addressable byte of the 32-bit
	// virtual address space.
	AddressSpaceEnd = uint64(1) << 32
)
