// Package physmem provides access to the contents of physical memory frames.
//
// On the target the kernel identity-maps physical memory so frame contents
// can be reached through their physical address (see Identity). Host builds
// back physical memory with an Arena so the paging code can be exercised as
// regular Go code.
package physmem

import (
	"gopher386/kernel"
	"gopher386/kernel/mem"
	"gopher386/kernel/mem/pmm"
	"gopher386/kernel/mem/pmm/allocator"
)

var (
	errArenaTooSmall = &kernel.Error{Module: "physmem", Message: "arena must contain at least one page"}
	errArenaTooLarge = &kernel.Error{Module: "physmem", Message: "arena exceeds the 32-bit physical address space"}
)

// Arena emulates a contiguous block of physical memory that starts at
// physical address 0.
type Arena struct {
	data    []byte
	release func([]byte) error
}

// NewArena allocates an arena of the given size on the Go heap. The size is
// rounded up to the nearest page boundary.
func NewArena(size mem.Size) (*Arena, *kernel.Error) {
	if err := checkArenaSize(size); err != nil {
		return nil, err
	}

	return &Arena{data: make([]byte, size.RoundUp())}, nil
}

func checkArenaSize(size mem.Size) *kernel.Error {
	switch {
	case size == 0:
		return errArenaTooSmall
	case size.RoundUp() > 4*mem.Gb:
		return errArenaTooLarge
	}

	return nil
}

// FrameData returns the bytes backing the supplied frame or nil if the frame
// lies outside the arena.
func (a *Arena) FrameData(frame pmm.Frame) []byte {
	return a.FrameRange(frame, 1)
}

// FrameRange returns the bytes backing count consecutive frames starting at
// frame or nil if any of them lies outside the arena.
func (a *Arena) FrameRange(frame pmm.Frame, count uint32) []byte {
	start := uint64(frame.Address())
	end := start + uint64(count)<<mem.PageShift
	if !frame.Valid() || count == 0 || end > uint64(len(a.data)) {
		return nil
	}

	return a.data[start:end:end]
}

// Size returns the arena size in bytes.
func (a *Arena) Size() mem.Size {
	return mem.Size(len(a.data))
}

// Frames returns the number of frames in the arena.
func (a *Arena) Frames() uint32 {
	return uint32(len(a.data) >> mem.PageShift)
}

// Regions describes the arena as a list of memory regions that can be passed
// to a frame allocator.
func (a *Arena) Regions() []allocator.MemoryRegion {
	return []allocator.MemoryRegion{{PhysAddress: 0, Length: uint64(len(a.data))}}
}

// Close releases the memory backing the arena. The arena must not be used
// afterwards.
func (a *Arena) Close() error {
	data := a.data
	a.data = nil
	if a.release == nil || data == nil {
		return nil
	}

	return a.release(data)
}
