package vmm

import (
	"gopher386/kernel"
	"gopher386/kernel/mem/pmm"
)

var (
	// ErrUnalignedAddress is returned when an entry is built from a physical
	// address that is not page-aligned or does not fit in 32 bits.
	ErrUnalignedAddress = &kernel.Error{Module: "vmm", Message: "physical address is not a page-aligned 32-bit address"}
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uint32

// PageTableEntry is a page directory or page table entry. It encodes a
// page-aligned physical address in its upper 20 bits and a set of flags in
// its lower 12 bits. Entries can only be built with MakeEntry.
type PageTableEntry struct {
	raw uint32
}

// MakeEntry returns an entry pointing to physAddr with the supplied flags.
// Flag bits that do not fit in the entry are dropped.
func MakeEntry(physAddr uintptr, flags PageTableEntryFlag) (PageTableEntry, *kernel.Error) {
	if uint64(physAddr)&^uint64(entryAddrMask) != 0 {
		return PageTableEntry{}, ErrUnalignedAddress
	}

	return makeEntry(physAddr, flags), nil
}

func makeEntry(physAddr uintptr, flags PageTableEntryFlag) PageTableEntry {
	return PageTableEntry{raw: uint32(physAddr)&entryAddrMask | uint32(flags)&entryFlagsMask}
}

// Address returns the physical address this entry points to.
func (pte PageTableEntry) Address() uintptr {
	return uintptr(pte.raw & entryAddrMask)
}

// Frame returns the physical page frame that this entry points to.
func (pte PageTableEntry) Frame() pmm.Frame {
	return pmm.FrameFromAddress(pte.Address())
}

// Flags returns the flags of this entry.
func (pte PageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(pte.raw & entryFlagsMask)
}

// HasFlags returns true if this entry has all the input flags set.
func (pte PageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (pte.raw & uint32(flags)) == uint32(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte PageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (pte.raw & uint32(flags)) != 0
}

// Raw returns the 32-bit word that the MMU sees for this entry.
func (pte PageTableEntry) Raw() uint32 {
	return pte.raw
}
