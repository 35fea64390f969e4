package vmm

import "gopher386/kernel/mem"

// Page describes a virtual memory page index. Page i is mapped by entry
// i%1024 of the page table referenced by directory entry i/1024.
type Page uintptr

const (
	// InvalidPage is returned by the region search and allocation
	// functions when they fail.
	InvalidPage = Page(^uintptr(0))

	// NoHint can be passed to Alloc to let it pick the first free region.
	NoHint = InvalidPage
)

// Address returns a pointer to the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << mem.PageShift)
}

func (p Page) dirIndex() uintptr {
	return uintptr(p >> mem.TableShift)
}

func (p Page) tableIndex() uintptr {
	return uintptr(p & (mem.EntriesPerTable - 1))
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(uintptr(mem.PageSize - 1))) >> mem.PageShift)
}

// rangeInBounds returns true if [start, start+count) lies within the
// virtual address space.
func rangeInBounds(start Page, count uint32) bool {
	return uint64(start) < mem.TotalPages && uint64(start)+uint64(count) <= mem.TotalPages
}
