// Package kmain contains the kernel bootstrap code that brings up physical
// and virtual memory management.
package kmain

import (
	"gopher386/kernel"
	"gopher386/kernel/hal/multiboot"
	"gopher386/kernel/mem"
	"gopher386/kernel/mem/pmm"
	"gopher386/kernel/mem/pmm/allocator"
	"gopher386/kernel/mem/vmm"
)

var (
	// frameAllocator is the system-wide physical frame allocator.
	frameAllocator allocator.BitmapAllocator

	// kernelPDT is the page directory that is active once boot completes.
	kernelPDT vmm.PageDirectory

	// bootRegions holds the available memory regions reported by the boot
	// loader. bootMemory runs before the Go heap exists so it must not
	// grow slices.
	bootRegions [maxBootRegions]allocator.MemoryRegion

	// earlyAllocator carves the frame allocator state out of the frames
	// that follow the kernel image.
	earlyAllocator allocator.BootMemAllocator

	errKmainReturned         = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errNoMemoryMap           = &kernel.Error{Module: "kmain", Message: "boot loader did not report any available memory"}
	errAllocatorInaccessible = &kernel.Error{Module: "kmain", Message: "frame allocator storage is not accessible"}
)

// maxBootRegions is the number of available memory regions tracked at boot.
// Further regions are ignored.
const maxBootRegions = 32

// kernelPageFlags are used for the identity mappings of the kernel
// directory. They are not tagged as owned so the frames behind them are
// never returned to the frame allocator.
const kernelPageFlags = vmm.FlagPresent | vmm.FlagRW | vmm.FlagGlobal

// maxPhysAddr is one past the last address reachable with 32-bit paging.
const maxPhysAddr = uint64(1) << 32

// physicalMemory provides access to the contents of physical frames.
type physicalMemory interface {
	vmm.PhysicalMemory

	// FrameRange returns the bytes of count consecutive frames.
	FrameRange(frame pmm.Frame, count uint32) []byte
}

// bootMemory initializes the frame allocator from the memory map supplied by
// the boot loader, then builds the kernel page directory and loads it into
// ctrl. It does not allocate from the Go heap.
//
// Frames below kernelEnd hold the null page, the BIOS data and the kernel
// image and are reserved. The frame allocator bitmaps are stored in the
// first free frames after the kernel image, which are reserved as well. The
// kernel directory identity-maps all of them along with every available
// memory region so page tables can still be reached through their physical
// address after paging is enabled.
func bootMemory(info multiboot.Info, kernelEnd uintptr, physMem physicalMemory, ctrl vmm.PagingController) *kernel.Error {
	regionCount := 0
	info.VisitMemRegions(func(entry multiboot.MemoryMapEntry) bool {
		if entry.Type == multiboot.MemAvailable && entry.PhysAddress < maxPhysAddr {
			bootRegions[regionCount] = allocator.MemoryRegion{PhysAddress: entry.PhysAddress, Length: entry.Length}
			regionCount++
		}
		return regionCount < maxBootRegions
	})

	regions := bootRegions[:regionCount]
	storageFrames := allocator.StorageSize(regions).Pages()
	if storageFrames == 0 {
		return errNoMemoryMap
	}

	kernelFrames := pmm.Frame(mem.Size(kernelEnd).Pages())
	earlyAllocator.Init(regions, kernelFrames)
	storageFrame, err := earlyAllocator.AllocContiguous(storageFrames)
	if err != nil {
		return err
	}

	storage := physMem.FrameRange(storageFrame, storageFrames)
	if storage == nil {
		return errAllocatorInaccessible
	}

	if err = frameAllocator.InitWithStorage(regions, storage); err != nil {
		return err
	}

	for frame := pmm.Frame(0); frame < kernelFrames; frame++ {
		// Frames outside the available regions are never handed out anyway
		if err = frameAllocator.ReserveFrame(frame); err != nil && err != allocator.ErrFrameNotManaged {
			return err
		}
	}

	// Frames skipped by AllocContiguous are left free
	for frame := storageFrame; frame < storageFrame+pmm.Frame(storageFrames); frame++ {
		if err = frameAllocator.ReserveFrame(frame); err != nil {
			return err
		}
	}

	pdtFrame, err := frameAllocator.AllocFrame()
	if err != nil {
		return err
	}

	if err = kernelPDT.Init(pdtFrame, physMem, &frameAllocator); err != nil {
		return err
	}

	if err = identityMap(0, uint64(kernelFrames)<<mem.PageShift); err != nil {
		return err
	}

	for _, region := range regions {
		if err = identityMap(region.PhysAddress, region.PhysAddress+region.Length); err != nil {
			return err
		}
	}

	return kernelPDT.Activate(ctrl)
}

// identityMap maps the pages fully contained in [start, end) to the frames
// with the same address.
func identityMap(start, end uint64) *kernel.Error {
	if end > maxPhysAddr {
		end = maxPhysAddr
	}

	pageSizeMinus1 := uint64(mem.PageSize - 1)
	firstPage := vmm.Page((start + pageSizeMinus1) >> mem.PageShift)
	lastPage := vmm.Page(end >> mem.PageShift)

	for page := firstPage; page < lastPage; page++ {
		if err := kernelPDT.SetPage(page, page.Address(), kernelPageFlags); err != nil {
			return err
		}
	}

	return nil
}
