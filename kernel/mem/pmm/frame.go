// Package pmm contains code that manages physical memory frame allocations.
package pmm

import (
	"gopher386/kernel"
	"gopher386/kernel/mem"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(^uintptr(0))

	// MaxFrame is the last frame addressable by a 32-bit physical address.
	MaxFrame = Frame(1<<(32-mem.PageShift) - 1)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f <= MaxFrame
}

// Address returns a pointer to the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << mem.PageShift)
}

// FrameFromAddress returns a Frame that corresponds to the given physical
// address. This function can handle both page-aligned and not aligned
// addresses. in the latter case, the input address will be rounded down to the
// frame that contains it.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(uintptr(mem.PageSize - 1))) >> mem.PageShift)
}

// FrameAllocator is implemented by physical frame allocators. Frames returned
// by AllocFrame are page-aligned but their contents are not guaranteed to be
// cleared. Implementations shared between several page directories must
// provide their own synchronization.
type FrameAllocator interface {
	// AllocFrame reserves a free frame.
	AllocFrame() (Frame, *kernel.Error)

	// FreeFrame returns a frame previously reserved by AllocFrame.
	FreeFrame(Frame) *kernel.Error
}
