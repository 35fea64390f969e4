package vmm

import (
	"gopher386/kernel"
	"gopher386/kernel/mem"
)

var (
	// ErrNoFreeRegion is returned when the address space does not contain
	// enough consecutive unmapped pages to satisfy a request.
	ErrNoFreeRegion = &kernel.Error{Module: "vmm", Message: "no free virtual region of the requested size"}
)

// IsAllocated returns true if every page in [start, start+count) is present.
// A range that extends past the end of the address space is never
// allocated.
func (pd *PageDirectory) IsAllocated(start Page, count uint32) bool {
	if pd.validate() != nil || !rangeInBounds(start, count) {
		return false
	}

	for page := start; page < start+Page(count); page++ {
		pte, err := pd.GetPage(page)
		if err != nil || !pte.HasFlags(FlagPresent) {
			return false
		}
	}

	return true
}

// IsFree returns true if no page in [start, start+count) is present.
// A range that extends past the end of the address space is never free.
func (pd *PageDirectory) IsFree(start Page, count uint32) bool {
	if pd.validate() != nil || !rangeInBounds(start, count) {
		return false
	}

	dir := pd.directory()
	for page := start; page < start+Page(count); page++ {
		if !dir[page.dirIndex()].HasFlags(FlagTablePresent) {
			// Jump to the first page of the next table
			page |= mem.EntriesPerTable - 1
			continue
		}

		if pte, err := pd.GetPage(page); err != nil || pte.HasFlags(FlagPresent) {
			return false
		}
	}

	return true
}

// FindFree returns the first page of the lowest run of count consecutive
// unmapped pages. Directory entries without a page table account for 1024
// free pages each without being scanned.
func (pd *PageDirectory) FindFree(count uint32) (Page, *kernel.Error) {
	if err := pd.validate(); err != nil {
		return InvalidPage, err
	}

	if count == 0 || count > mem.TotalPages {
		return InvalidPage, ErrInvalidArgument
	}

	var (
		dir       = pd.directory()
		runStart  Page
		runLength uint32
		table     *pageTable
	)

	for page := Page(0); page < mem.TotalPages; {
		de := dir[page.dirIndex()]
		if !de.HasFlags(FlagTablePresent) {
			if runLength == 0 {
				runStart = page
			}

			remaining := uint32(mem.EntriesPerTable - page.tableIndex())
			if runLength+remaining >= count {
				return runStart, nil
			}

			runLength += remaining
			page += Page(remaining)
			continue
		}

		if page.tableIndex() == 0 || table == nil {
			if table = pd.table(de.Frame()); table == nil {
				return InvalidPage, errInaccessibleFrame
			}
		}

		if table[page.tableIndex()].HasFlags(FlagPresent) {
			runLength = 0
		} else {
			if runLength == 0 {
				runStart = page
			}

			if runLength++; runLength == count {
				return runStart, nil
			}
		}

		page++
	}

	return InvalidPage, ErrNoFreeRegion
}
