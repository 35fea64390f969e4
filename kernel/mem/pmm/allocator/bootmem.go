package allocator

import (
	"gopher386/kernel"
	"gopher386/kernel/mem/pmm"
)

var (
	errBootAllocOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}
	errBootAllocZeroFrames  = &kernel.Error{Module: "boot_mem_alloc", Message: "requested zero frames"}
)

// BootMemAllocator implements a rudimentary physical memory allocator which
// is used to bootstrap the kernel before the BitmapAllocator state exists.
//
// The allocator walks the memory regions it was initialized with and returns
// the next available frame. Regions are expected in ascending address order.
// Allocations are tracked via the next frame number only, so it is not
// possible to free allocated frames. Once the BitmapAllocator is set up the
// allocated frames must be reserved there.
type BootMemAllocator struct {
	regions []MemoryRegion

	// allocCount tracks the total number of allocated frames.
	allocCount uint32

	// nextFrame is the lowest frame that may be handed out.
	nextFrame pmm.Frame
}

// Init sets up the allocator to hand out frames from regions, skipping any
// frame below firstFrame.
func (alloc *BootMemAllocator) Init(regions []MemoryRegion, firstFrame pmm.Frame) {
	alloc.regions = regions
	alloc.allocCount = 0
	alloc.nextFrame = firstFrame
}

// AllocFrame reserves the next available free frame. It returns an error if
// no more memory can be allocated.
func (alloc *BootMemAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	for _, region := range alloc.regions {
		startFrame, endFrame, ok := regionFrames(region)

		// Ignore already allocated regions and regions smaller than a page
		if !ok || alloc.nextFrame > endFrame {
			continue
		}

		if alloc.nextFrame < startFrame {
			alloc.nextFrame = startFrame
		}

		frame := alloc.nextFrame
		alloc.nextFrame++
		alloc.allocCount++
		return frame, nil
	}

	return pmm.InvalidFrame, errBootAllocOutOfMemory
}

// AllocContiguous reserves count physically consecutive frames and returns
// the first one. Frames skipped while looking for a long enough run are
// not handed out again.
func (alloc *BootMemAllocator) AllocContiguous(count uint32) (pmm.Frame, *kernel.Error) {
	if count == 0 {
		return pmm.InvalidFrame, errBootAllocZeroFrames
	}

	var (
		first pmm.Frame
		run   uint32
	)

	for run < count {
		frame, err := alloc.AllocFrame()
		if err != nil {
			return pmm.InvalidFrame, err
		}

		if run == 0 || frame != first+pmm.Frame(run) {
			first, run = frame, 0
		}
		run++
	}

	return first, nil
}

// AllocatedFrames returns the number of frames handed out so far.
func (alloc *BootMemAllocator) AllocatedFrames() uint32 {
	return alloc.allocCount
}
