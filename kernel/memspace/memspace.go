// Package memspace implements process address spaces on top of the page
// directory code in package vmm. An AddressSpace serializes every operation
// on its directory and keeps track of the regions handed out by Mmap.
package memspace

import (
	"sync"

	"github.com/google/btree"

	"gopher386/kernel"
	"gopher386/kernel/mem"
	"gopher386/kernel/mem/pmm"
	"gopher386/kernel/mem/vmm"
)

// Prot describes the access permissions requested for a mapping.
type Prot uint32

const (
	// ProtRead allows the mapping to be read.
	ProtRead Prot = 1 << iota

	// ProtWrite allows the mapping to be written.
	ProtWrite

	// ProtExec allows the mapping to be executed. The 32-bit page tables
	// have no execute bit so this only affects bookkeeping.
	ProtExec
)

// MapFlag controls how Mmap places a mapping.
type MapFlag uint32

const (
	// MapShared marks the mapping as shared.
	MapShared MapFlag = 1 << iota

	// MapFixed asks for the mapping to start exactly at the requested
	// address. If that region is in use the mapping is placed as if no
	// address had been requested.
	MapFixed
)

// ProcessEnd is the first address of the kernel half of the address space.
// User mappings never extend past it.
const ProcessEnd = uintptr(0xc0000000)

// guardPage is kept mapped in every address space so that a null pointer
// never refers to a user mapping.
const guardPage = vmm.Page(0)

// btreeDegree is the degree of the mapping index.
const btreeDegree = 8

var (
	// ErrInvalidArgument is returned for misaligned addresses, empty
	// lengths and ranges that overflow or cross ProcessEnd.
	ErrInvalidArgument = &kernel.Error{Module: "memspace", Message: "invalid argument"}

	// ErrClosed is returned by operations on a closed address space.
	ErrClosed = &kernel.Error{Module: "memspace", Message: "address space is closed"}
)

// Mapping describes a region returned by Mmap.
type Mapping struct {
	Start vmm.Page
	Pages uint32
	Prot  Prot
	Flags MapFlag
}

// Address returns the virtual address of the first byte of the mapping.
func (m Mapping) Address() uintptr {
	return m.Start.Address()
}

// End returns the first page after the mapping.
func (m Mapping) End() vmm.Page {
	return m.Start + vmm.Page(m.Pages)
}

func mappingLess(a, b Mapping) bool {
	return a.Start < b.Start
}

// Stats summarizes the state of an address space.
type Stats struct {
	Mappings int
	Pages    uint64
	Tables   int
}

// AddressSpace is the virtual address space of a process.
type AddressSpace struct {
	mu sync.Mutex

	pd             vmm.PageDirectory
	frameAllocator pmm.FrameAllocator
	mappings       *btree.BTreeG[Mapping]
	closed         bool
}

// New creates an empty address space. The page directory frame is obtained
// from frameAllocator. Page 0 is mapped to frame 0 as a kernel-only guard
// page; the caller must keep frame 0 out of the allocator.
func New(physMem vmm.PhysicalMemory, frameAllocator pmm.FrameAllocator) (*AddressSpace, *kernel.Error) {
	if physMem == nil || frameAllocator == nil {
		return nil, ErrInvalidArgument
	}

	pdtFrame, err := frameAllocator.AllocFrame()
	if err != nil {
		return nil, err
	}

	as := &AddressSpace{
		frameAllocator: frameAllocator,
		mappings:       btree.NewG[Mapping](btreeDegree, mappingLess),
	}

	if err = as.pd.Init(pdtFrame, physMem, frameAllocator); err == nil {
		err = as.pd.SetPage(guardPage, 0, vmm.FlagPresent)
	}

	if err != nil {
		_ = frameAllocator.FreeFrame(pdtFrame)
		return nil, err
	}

	return as, nil
}

// checkRange validates a user supplied range and returns the number of
// pages it covers.
func checkRange(addr, length uintptr) (uint32, *kernel.Error) {
	if addr&uintptr(mem.PageSize-1) != 0 || length == 0 || length > ProcessEnd {
		return 0, ErrInvalidArgument
	}

	pages := mem.Size(length).Pages()
	if end := uint64(addr) + uint64(pages)*uint64(mem.PageSize); end > uint64(ProcessEnd) {
		return 0, ErrInvalidArgument
	}

	return pages, nil
}

// pageFlags converts mapping permissions to page table entry flags.
func pageFlags(prot Prot) vmm.PageTableEntryFlag {
	flags := vmm.FlagUserAccessible
	if prot&ProtWrite != 0 {
		flags |= vmm.FlagRW
	}

	return flags
}

// Mmap maps length bytes of memory and returns the address of the mapping.
// The length is rounded up to whole pages and the memory is not cleared.
//
// A non-zero addr names the preferred region, with or without MapFixed. If
// that region is not free the lowest free region that fits is used instead.
// Address 0 never constrains placement, so page 0 stays unmapped for user
// code.
func (as *AddressSpace) Mmap(addr, length uintptr, prot Prot, flags MapFlag) (uintptr, *kernel.Error) {
	pages, err := checkRange(addr, length)
	if err != nil {
		return 0, err
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	if as.closed {
		return 0, ErrClosed
	}

	hint := vmm.NoHint
	if addr != 0 {
		hint = vmm.PageFromAddress(addr)
	}

	start, err := as.pd.Alloc(hint, pages, pageFlags(prot))
	if err != nil {
		return 0, err
	}

	if uint64(start)+uint64(pages) > uint64(vmm.PageFromAddress(ProcessEnd)) {
		_ = as.pd.Free(start, pages)
		return 0, vmm.ErrNoFreeRegion
	}

	as.mappings.ReplaceOrInsert(Mapping{Start: start, Pages: pages, Prot: prot, Flags: flags})
	return start.Address(), nil
}

// Munmap unmaps the pages in [addr, addr+length). Mappings that partially
// overlap the range are trimmed or split. Pages that do not belong to a
// mapping are ignored.
func (as *AddressSpace) Munmap(addr, length uintptr) *kernel.Error {
	pageCount, err := checkRange(addr, length)
	if err != nil {
		return err
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	if as.closed {
		return ErrClosed
	}

	start := vmm.PageFromAddress(addr)
	end := start + vmm.Page(pageCount)

	var overlapping []Mapping
	as.mappings.AscendLessThan(Mapping{Start: end}, func(m Mapping) bool {
		if m.End() > start {
			overlapping = append(overlapping, m)
		}
		return true
	})

	var firstErr *kernel.Error
	for _, m := range overlapping {
		as.mappings.Delete(m)

		freeStart, freeEnd := m.Start, m.End()
		if freeStart < start {
			as.mappings.ReplaceOrInsert(Mapping{Start: m.Start, Pages: uint32(start - m.Start), Prot: m.Prot, Flags: m.Flags})
			freeStart = start
		}

		if freeEnd > end {
			as.mappings.ReplaceOrInsert(Mapping{Start: end, Pages: uint32(freeEnd - end), Prot: m.Prot, Flags: m.Flags})
			freeEnd = end
		}

		if err := as.pd.Free(freeStart, uint32(freeEnd-freeStart)); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Translate returns the physical address that virtAddr maps to.
func (as *AddressSpace) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.closed {
		return 0, ErrClosed
	}

	return as.pd.Translate(virtAddr)
}

// Mappings returns the live mappings in ascending address order.
func (as *AddressSpace) Mappings() []Mapping {
	as.mu.Lock()
	defer as.mu.Unlock()

	list := make([]Mapping, 0, as.mappings.Len())
	as.mappings.Ascend(func(m Mapping) bool {
		list = append(list, m)
		return true
	})

	return list
}

// Stats returns a summary of the address space.
func (as *AddressSpace) Stats() Stats {
	as.mu.Lock()
	defer as.mu.Unlock()

	stats := Stats{Mappings: as.mappings.Len()}
	as.mappings.Ascend(func(m Mapping) bool {
		stats.Pages += uint64(m.Pages)
		return true
	})

	if !as.closed {
		stats.Tables = as.pd.TableCount()
	}

	return stats
}

// PhysAddress returns the physical address of the page directory.
func (as *AddressSpace) PhysAddress() uintptr {
	return as.pd.PhysAddress()
}

// Activate loads the page directory of the address space into the paging
// unit.
func (as *AddressSpace) Activate(ctrl vmm.PagingController) *kernel.Error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.closed {
		return ErrClosed
	}

	return as.pd.Activate(ctrl)
}

// Close unmaps every mapping and returns the page directory frame to the
// frame allocator. The address space must not be active when Close is
// called.
func (as *AddressSpace) Close() *kernel.Error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.closed {
		return ErrClosed
	}

	var firstErr *kernel.Error
	as.mappings.Ascend(func(m Mapping) bool {
		if err := as.pd.Free(m.Start, m.Pages); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	as.mappings.Clear(false)

	// The guard page is not owned so this only releases its page table.
	if err := as.pd.Free(guardPage, 1); err != nil && firstErr == nil {
		firstErr = err
	}

	if err := as.frameAllocator.FreeFrame(as.pd.Frame()); err != nil && firstErr == nil {
		firstErr = err
	}

	as.closed = true
	return firstErr
}
