package vmm

import (
	"gopher386/kernel"
	"gopher386/kernel/mem"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// MappingVisitor is invoked by Visit for each present page. If it returns
// false the visit is aborted.
type MappingVisitor func(page Page, pte PageTableEntry) bool

// entrySlot returns a pointer to the page table entry that maps page. If
// the page table for page does not exist, entrySlot returns
// ErrInvalidMapping unless create is set, in which case a cleared table is
// installed using a frame from the frame allocator. The low flag bits of
// flags are copied to the directory entry.
func (pd *PageDirectory) entrySlot(page Page, create bool, flags PageTableEntryFlag) (*PageTableEntry, *kernel.Error) {
	if uint64(page) >= mem.TotalPages {
		return nil, ErrInvalidArgument
	}

	dir := pd.directory()
	if dir == nil {
		return nil, errInaccessibleFrame
	}

	de := &dir[page.dirIndex()]
	switch {
	case de.HasFlags(FlagTablePresent):
		if create {
			de.raw |= uint32(flags & dirFlagsMask)
		}
	case !create:
		return nil, ErrInvalidMapping
	default:
		tableFrame, err := pd.frameAllocator.AllocFrame()
		if err != nil {
			return nil, err
		}

		data := pd.physMem.FrameData(tableFrame)
		if len(data) < int(mem.PageSize) {
			_ = pd.frameAllocator.FreeFrame(tableFrame)
			return nil, errInaccessibleFrame
		}

		// Frames are handed out with stale contents; a table that is
		// not cleared would contain bogus mappings.
		mem.Memset(data[:mem.PageSize], 0)
		*de = makeEntry(tableFrame.Address(), FlagTablePresent|(flags&dirFlagsMask))
	}

	table := pd.table(de.Frame())
	if table == nil {
		return nil, errInaccessibleFrame
	}

	return &table[page.tableIndex()], nil
}

// GetPage returns the page table entry for page. It returns
// ErrInvalidMapping if the page table for page does not exist. GetPage never
// creates page tables.
func (pd *PageDirectory) GetPage(page Page) (PageTableEntry, *kernel.Error) {
	if err := pd.validate(); err != nil {
		return PageTableEntry{}, err
	}

	slot, err := pd.entrySlot(page, false, 0)
	if err != nil {
		return PageTableEntry{}, err
	}

	return *slot, nil
}

// SetPage replaces the page table entry for page with an entry pointing to
// physAddr using the supplied flags. Callers must pass the complete flag set
// for the page.
//
// If flags include FlagPresent, a missing page table is created. Otherwise
// a missing page table means there is nothing to clear and SetPage returns
// without changes. Clearing the last present entry of a table releases the
// table frame and clears its directory entry.
func (pd *PageDirectory) SetPage(page Page, physAddr uintptr, flags PageTableEntryFlag) *kernel.Error {
	if err := pd.validate(); err != nil {
		return err
	}

	entry, err := MakeEntry(physAddr, flags)
	if err != nil {
		return err
	}

	present := entry.HasFlags(FlagPresent)
	slot, err := pd.entrySlot(page, present, flags)
	switch {
	case err == ErrInvalidMapping && !present:
		return nil
	case err != nil:
		return err
	}

	*slot = entry

	if !present {
		return pd.collectTable(page.dirIndex())
	}

	return nil
}

// collectTable releases the page table referenced by directory entry index
// if none of its entries is present.
func (pd *PageDirectory) collectTable(index uintptr) *kernel.Error {
	de := &pd.directory()[index]
	if !de.HasFlags(FlagTablePresent) {
		return nil
	}

	table := pd.table(de.Frame())
	if table == nil {
		return errInaccessibleFrame
	}

	for _, pte := range table {
		if pte.HasFlags(FlagPresent) {
			return nil
		}
	}

	tableFrame := de.Frame()
	*de = PageTableEntry{}
	return pd.frameAllocator.FreeFrame(tableFrame)
}

// narrowTable recomputes the flags of directory entry index from the
// present entries of its page table.
func (pd *PageDirectory) narrowTable(index uintptr) *kernel.Error {
	de := &pd.directory()[index]
	if !de.HasFlags(FlagTablePresent) {
		return nil
	}

	table := pd.table(de.Frame())
	if table == nil {
		return errInaccessibleFrame
	}

	var flags PageTableEntryFlag
	for _, pte := range table {
		if pte.HasFlags(FlagPresent) {
			flags |= pte.Flags() & dirFlagsMask
		}
	}

	*de = makeEntry(de.Address(), FlagTablePresent|flags)
	return nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (pd *PageDirectory) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, err := pd.GetPage(PageFromAddress(virtAddr))
	if err != nil {
		return 0, err
	}

	if !pte.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	return pte.Address() + (virtAddr & uintptr(mem.PageSize-1)), nil
}

// Visit invokes visitFn for every present page in ascending page order.
// Visit skips directory entries without a page table.
func (pd *PageDirectory) Visit(visitFn MappingVisitor) *kernel.Error {
	if err := pd.validate(); err != nil {
		return err
	}

	for dirIndex, de := range pd.directory() {
		if !de.HasFlags(FlagTablePresent) {
			continue
		}

		table := pd.table(de.Frame())
		if table == nil {
			return errInaccessibleFrame
		}

		for tableIndex, pte := range table {
			if !pte.HasFlags(FlagPresent) {
				continue
			}

			if !visitFn(Page(dirIndex<<mem.TableShift|tableIndex), pte) {
				return nil
			}
		}
	}

	return nil
}
