package vmm

import (
	"gopher386/kernel"
	"gopher386/kernel/mem/pmm"
)

// Alloc maps count consecutive pages to freshly allocated physical frames
// and returns the first page of the region.
//
// If hint is not NoHint and [hint, hint+count) is entirely unmapped the
// region starts at hint. Otherwise the first free region large enough to
// hold count pages is used. The pages are mapped with flags plus FlagPresent
// and FlagOwned.
//
// If a frame cannot be allocated the pages mapped by the call are released
// and the directory entries of the affected page tables are reduced to the
// flags of their remaining pages before the allocator error is returned.
func (pd *PageDirectory) Alloc(hint Page, count uint32, flags PageTableEntryFlag) (Page, *kernel.Error) {
	if err := pd.validate(); err != nil {
		return InvalidPage, err
	}

	if count == 0 {
		return InvalidPage, ErrInvalidArgument
	}

	start := hint
	if hint == NoHint || !pd.IsFree(hint, count) {
		var err *kernel.Error
		if start, err = pd.FindFree(count); err != nil {
			return InvalidPage, err
		}
	}

	flags |= FlagPresent | FlagOwned
	for i := uint32(0); i < count; i++ {
		var (
			frame pmm.Frame
			err   *kernel.Error
		)

		if frame, err = pd.frameAllocator.AllocFrame(); err == nil {
			if err = pd.SetPage(start+Page(i), frame.Address(), flags); err != nil {
				_ = pd.frameAllocator.FreeFrame(frame)
			}
		}

		if err != nil {
			if i > 0 {
				_ = pd.Free(start, i)
			}

			// Tables that survive the rollback may have had their
			// directory flags widened by this call.
			for index := start.dirIndex(); index <= (start + Page(i)).dirIndex(); index++ {
				_ = pd.narrowTable(index)
			}
			return InvalidPage, err
		}
	}

	return start, nil
}

// Free unmaps count consecutive pages starting at start. Physical frames of
// pages mapped by Alloc are returned to the frame allocator; frames of pages
// mapped directly with SetPage are left untouched. Page tables that become
// empty are released.
//
// Free processes the entire range even if releasing a frame fails and
// returns the first error it encountered.
func (pd *PageDirectory) Free(start Page, count uint32) *kernel.Error {
	if err := pd.validate(); err != nil {
		return err
	}

	if count == 0 || !rangeInBounds(start, count) {
		return ErrInvalidArgument
	}

	var firstErr *kernel.Error
	for page := start; page < start+Page(count); page++ {
		pte, err := pd.GetPage(page)
		if err == ErrInvalidMapping {
			continue
		}

		if err == nil && pte.HasFlags(FlagPresent|FlagOwned) {
			err = pd.frameAllocator.FreeFrame(pte.Frame())
		}

		if clearErr := pd.SetPage(page, 0, 0); err == nil {
			err = clearErr
		}

		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
