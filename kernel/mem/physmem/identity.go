package physmem

import (
	"math"
	"unsafe"

	"gopher386/kernel/mem"
	"gopher386/kernel/mem/pmm"
)

// Identity provides access to frame contents when physical memory is
// identity-mapped, i.e. the virtual address of a frame equals its physical
// address. This holds while paging is disabled and for the low kernel
// mappings set up at boot.
type Identity struct {
	// Limit is one past the last physical address that is safe to access.
	// A zero limit allows the whole 32-bit physical address space.
	Limit uintptr
}

// FrameData returns a slice overlaying the supplied frame.
func (id Identity) FrameData(frame pmm.Frame) []byte {
	return id.FrameRange(frame, 1)
}

// FrameRange returns a slice overlaying count consecutive frames starting
// at frame.
func (id Identity) FrameRange(frame pmm.Frame, count uint32) []byte {
	size := uint64(count) << mem.PageShift
	end := uint64(frame.Address()) + size
	if !frame.Valid() || count == 0 || size > math.MaxInt32 || end > 1<<32 || (id.Limit != 0 && end > uint64(id.Limit)) {
		return nil
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(frame.Address())), int(size))
}
