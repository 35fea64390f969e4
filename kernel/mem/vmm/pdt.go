// Package vmm manages the two-level page directory and page table structure
// of the 32-bit x86 paging unit.
//
// A PageDirectory is not internally synchronized. Callers must guarantee a
// single owner for each directory while a mutating call (SetPage, Alloc,
// Free) is in progress, either by running with interrupts disabled or by
// wrapping the directory with a lock.
package vmm

import (
	"unsafe"

	"gopher386/kernel"
	"gopher386/kernel/mem"
	"gopher386/kernel/mem/pmm"
)

var (
	// ErrInvalidArgument is returned when an operation is invoked on an
	// uninitialized directory or with an empty or out of range page span.
	ErrInvalidArgument = &kernel.Error{Module: "vmm", Message: "invalid argument"}

	errInaccessibleFrame = &kernel.Error{Module: "vmm", Message: "frame contents are not accessible"}
)

// PhysicalMemory provides access to the contents of physical frames.
// Implementations return nil for frames they cannot reach.
type PhysicalMemory interface {
	FrameData(pmm.Frame) []byte
}

// PagingController drives the paging unit of the CPU.
type PagingController interface {
	// EnablePaging loads the page directory base register and turns on
	// paging.
	EnablePaging(pdtPhysAddr uintptr)

	// DisablePaging turns off paging.
	DisablePaging()
}

// pageTable overlays the 1024 entries stored in one frame.
type pageTable [mem.EntriesPerTable]PageTableEntry

// PageDirectory describes the top-most table of the two-level paging scheme.
// The directory frame is owned by the caller; the page table frames are
// requested from and returned to the frame allocator as needed.
type PageDirectory struct {
	pdtFrame       pmm.Frame
	physMem        PhysicalMemory
	frameAllocator pmm.FrameAllocator
}

// Init sets up an empty page directory in the supplied frame. All directory
// entries are cleared.
func (pd *PageDirectory) Init(pdtFrame pmm.Frame, physMem PhysicalMemory, frameAllocator pmm.FrameAllocator) *kernel.Error {
	if pd == nil || physMem == nil || frameAllocator == nil || !pdtFrame.Valid() {
		return ErrInvalidArgument
	}

	data := physMem.FrameData(pdtFrame)
	if len(data) < int(mem.PageSize) {
		return errInaccessibleFrame
	}

	mem.Memset(data[:mem.PageSize], 0)

	pd.pdtFrame = pdtFrame
	pd.physMem = physMem
	pd.frameAllocator = frameAllocator
	return nil
}

// Frame returns the physical frame that holds the directory entries.
func (pd *PageDirectory) Frame() pmm.Frame {
	return pd.pdtFrame
}

// PhysAddress returns the physical address of the directory. This is the
// value loaded into CR3.
func (pd *PageDirectory) PhysAddress() uintptr {
	return pd.pdtFrame.Address()
}

// Activate loads this directory into the paging unit and enables paging.
func (pd *PageDirectory) Activate(ctrl PagingController) *kernel.Error {
	if pd.validate() != nil || ctrl == nil {
		return ErrInvalidArgument
	}

	ctrl.EnablePaging(pd.PhysAddress())
	return nil
}

// DisablePaging turns off paging. The code invoking it must be running
// from an identity-mapped region, otherwise the next instruction fetch
// faults.
func DisablePaging(ctrl PagingController) {
	ctrl.DisablePaging()
}

// TableCount returns the number of page tables referenced by the directory.
func (pd *PageDirectory) TableCount() int {
	if pd.validate() != nil {
		return 0
	}

	var count int
	for _, de := range pd.directory() {
		if de.HasFlags(FlagTablePresent) {
			count++
		}
	}

	return count
}

func (pd *PageDirectory) validate() *kernel.Error {
	if pd == nil || pd.physMem == nil || pd.frameAllocator == nil {
		return ErrInvalidArgument
	}

	return nil
}

// directory returns the entries of the page directory.
func (pd *PageDirectory) directory() *pageTable {
	return pd.table(pd.pdtFrame)
}

// table overlays a page table on top of the supplied frame. It returns nil
// if the frame contents are not accessible.
func (pd *PageDirectory) table(frame pmm.Frame) *pageTable {
	data := pd.physMem.FrameData(frame)
	if len(data) < int(mem.PageSize) {
		return nil
	}

	return (*pageTable)(unsafe.Pointer(&data[0]))
}
