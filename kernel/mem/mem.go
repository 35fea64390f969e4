// Package mem defines the memory geometry of the 32-bit x86 target and a few
// helpers for working with raw memory.
package mem

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes. The target only
	// supports 4K pages.
	PageSize = Size(1 << PageShift)

	// TableShift is equal to log2(EntriesPerTable).
	TableShift = 10

	// EntriesPerTable is the number of 32-bit entries that fit in a page
	// directory or a page table.
	EntriesPerTable = 1 << TableShift

	// TotalPages is the number of pages that make up the 32-bit virtual
	// address space.
	TotalPages = EntriesPerTable * EntriesPerTable
)

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

// Pages returns the number of pages that are required for storing this size.
func (s Size) Pages() uint32 {
	pageSizeMinus1 := PageSize - 1
	return uint32(((s + pageSizeMinus1) &^ pageSizeMinus1) >> PageShift)
}

// RoundUp returns s rounded up to the nearest page boundary.
func (s Size) RoundUp() Size {
	return (s + (PageSize - 1)) &^ (PageSize - 1)
}
