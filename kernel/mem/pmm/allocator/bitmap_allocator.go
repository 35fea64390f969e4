package allocator

import (
	"math"
	"unsafe"

	"gopher386/kernel"
	"gopher386/kernel/mem"
	"gopher386/kernel/mem/pmm"
)

var (
	// ErrOutOfMemory is returned by AllocFrame when all managed frames
	// are reserved.
	ErrOutOfMemory = &kernel.Error{Module: "bitmap_alloc", Message: "out of memory"}

	// ErrFrameNotManaged is returned when a frame outside the allocator
	// pools is freed or reserved.
	ErrFrameNotManaged = &kernel.Error{Module: "bitmap_alloc", Message: "frame not managed by this allocator"}

	// ErrDoubleFree is returned when freeing a frame that is not reserved.
	ErrDoubleFree = &kernel.Error{Module: "bitmap_alloc", Message: "frame is already free"}

	errFrameAlreadyReserved = &kernel.Error{Module: "bitmap_alloc", Message: "frame is already reserved"}
	errNoUsableRegions      = &kernel.Error{Module: "bitmap_alloc", Message: "no usable memory regions"}
	errStorageTooSmall      = &kernel.Error{Module: "bitmap_alloc", Message: "allocator storage is too small or misaligned"}
)

type markAs bool

const (
	markReserved markAs = false
	markFree            = true
)

// MemoryRegion describes a block of physical memory that can be used for
// frame allocations. Region boundaries do not need to be page-aligned.
type MemoryRegion struct {
	PhysAddress uint64
	Length      uint64
}

type framePool struct {
	// startFrame is the frame number for the first page in this pool.
	// each free bitmap entry i corresponds to frame (startFrame + i).
	startFrame pmm.Frame

	// endFrame tracks the last frame in the pool. The total number of
	// frames is given by: (endFrame - startFrame) + 1
	endFrame pmm.Frame

	// freeCount tracks the available pages in this pool. The allocator
	// can use this field to skip fully allocated pools without the need
	// to scan the free bitmap.
	freeCount uint32

	// bitmapOffset and bitmapLen select the blocks of the allocator free
	// bitmap that track this pool.
	bitmapOffset uint32
	bitmapLen    uint32
}

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations across the available memory pools using bitmaps. The
// allocator is not synchronized; wrap it with a LockedAllocator when it is
// shared by several address spaces.
type BitmapAllocator struct {
	// totalPages tracks the total number of pages across all pools.
	totalPages uint32

	// reservedPages tracks the number of reserved pages across all pools.
	reservedPages uint32

	pools []framePool

	// freeBitmap tracks used/free pages for all pools. The most
	// significant bit of each block corresponds to the lowest frame.
	freeBitmap []uint64
}

// regionFrames returns the first and last frame that are fully contained in
// region. Reported addresses may not be page-aligned; the start of the
// region is rounded up and its end rounded down to the nearest frame.
func regionFrames(region MemoryRegion) (pmm.Frame, pmm.Frame, bool) {
	pageSizeMinus1 := uint64(mem.PageSize - 1)

	regionStart := (region.PhysAddress + pageSizeMinus1) & ^pageSizeMinus1
	regionEnd := (region.PhysAddress + region.Length) & ^pageSizeMinus1
	if regionEnd <= regionStart {
		return 0, 0, false
	}

	regionStartFrame := pmm.Frame(regionStart >> mem.PageShift)
	regionEndFrame := pmm.Frame(regionEnd>>mem.PageShift) - 1
	if regionStartFrame > pmm.MaxFrame {
		return 0, 0, false
	}
	if regionEndFrame > pmm.MaxFrame {
		regionEndFrame = pmm.MaxFrame
	}

	return regionStartFrame, regionEndFrame, true
}

// measure returns the number of pools and bitmap blocks needed to track
// regions.
func measure(regions []MemoryRegion) (poolCount, bitmapLen int) {
	for _, region := range regions {
		startFrame, endFrame, ok := regionFrames(region)
		if !ok {
			continue
		}

		// To represent the free page bitmap we need pageCount bits. Since our
		// slice uses uint64 for storing the bitmap we need to round up the
		// required bits so they are a multiple of 64 bits
		poolCount++
		bitmapLen += int((uint32(endFrame-startFrame) + 64) >> 6)
	}

	return poolCount, bitmapLen
}

// storageLayout returns the offset of the free bitmap and the total number
// of bytes InitWithStorage needs to track regions.
func storageLayout(poolCount, bitmapLen int) (bitmapOffset, size uintptr) {
	bitmapOffset = (uintptr(poolCount)*unsafe.Sizeof(framePool{}) + 7) &^ 7
	return bitmapOffset, bitmapOffset + uintptr(bitmapLen)*8
}

// StorageSize returns the number of bytes that InitWithStorage needs to
// track the supplied regions.
func StorageSize(regions []MemoryRegion) mem.Size {
	_, size := storageLayout(measure(regions))
	return mem.Size(size)
}

// Init sets up a pool for each memory region that can hold at least one
// page. The allocator state is kept on the Go heap.
func (alloc *BitmapAllocator) Init(regions []MemoryRegion) *kernel.Error {
	poolCount, bitmapLen := measure(regions)
	return alloc.setupPools(regions, make([]framePool, poolCount), make([]uint64, bitmapLen))
}

// InitWithStorage works like Init but keeps the allocator state inside
// storage, which must be 8-byte aligned and at least StorageSize(regions)
// bytes long. It does not allocate, so it can run before the Go heap is
// available. The frames backing storage are not reserved by this call.
func (alloc *BitmapAllocator) InitWithStorage(regions []MemoryRegion, storage []byte) *kernel.Error {
	poolCount, bitmapLen := measure(regions)
	if poolCount == 0 {
		return errNoUsableRegions
	}

	bitmapOffset, size := storageLayout(poolCount, bitmapLen)
	if uintptr(len(storage)) < size || uintptr(unsafe.Pointer(&storage[0]))&7 != 0 {
		return errStorageTooSmall
	}

	return alloc.setupPools(
		regions,
		unsafe.Slice((*framePool)(unsafe.Pointer(&storage[0])), poolCount),
		unsafe.Slice((*uint64)(unsafe.Pointer(&storage[bitmapOffset])), bitmapLen),
	)
}

// setupPools fills in pools and clears freeBitmap. Both must have been
// sized by measure.
func (alloc *BitmapAllocator) setupPools(regions []MemoryRegion, pools []framePool, freeBitmap []uint64) *kernel.Error {
	alloc.pools, alloc.freeBitmap = pools, freeBitmap
	alloc.totalPages, alloc.reservedPages = 0, 0
	clear(freeBitmap)

	var poolIndex, bitmapOffset uint32
	for _, region := range regions {
		startFrame, endFrame, ok := regionFrames(region)
		if !ok {
			continue
		}

		pageCount := uint32(endFrame - startFrame + 1)
		alloc.totalPages += pageCount
		alloc.pools[poolIndex] = framePool{
			startFrame:   startFrame,
			endFrame:     endFrame,
			freeCount:    pageCount,
			bitmapOffset: bitmapOffset,
			bitmapLen:    (pageCount + 63) >> 6,
		}

		bitmapOffset += alloc.pools[poolIndex].bitmapLen
		poolIndex++
	}

	if len(alloc.pools) == 0 {
		return errNoUsableRegions
	}

	return nil
}

// poolBitmap returns the free bitmap blocks of a pool.
func (alloc *BitmapAllocator) poolBitmap(poolIndex int) []uint64 {
	pool := &alloc.pools[poolIndex]
	return alloc.freeBitmap[pool.bitmapOffset : pool.bitmapOffset+pool.bitmapLen]
}

// markFrame updates the reservation flag for the bitmap entry that corresponds
// to the supplied frame.
func (alloc *BitmapAllocator) markFrame(poolIndex int, frame pmm.Frame, flag markAs) {
	if poolIndex < 0 || frame < alloc.pools[poolIndex].startFrame || frame > alloc.pools[poolIndex].endFrame {
		return
	}

	// The offset in the block is given by: frame % 64. As the bitmap uses a
	// big-ending representation we need to set the bit at index: 63 - offset
	relFrame := frame - alloc.pools[poolIndex].startFrame
	block := relFrame >> 6
	mask := uint64(1 << (63 - (relFrame - block<<6)))
	switch flag {
	case markFree:
		alloc.poolBitmap(poolIndex)[block] &^= mask
		alloc.pools[poolIndex].freeCount++
		alloc.reservedPages--
	case markReserved:
		alloc.poolBitmap(poolIndex)[block] |= mask
		alloc.pools[poolIndex].freeCount--
		alloc.reservedPages++
	}
}

// isReserved returns true if the bitmap entry for frame is set.
func (alloc *BitmapAllocator) isReserved(poolIndex int, frame pmm.Frame) bool {
	relFrame := frame - alloc.pools[poolIndex].startFrame
	block := relFrame >> 6
	mask := uint64(1 << (63 - (relFrame - block<<6)))
	return alloc.poolBitmap(poolIndex)[block]&mask != 0
}

// poolForFrame returns the index of the pool that contains frame or -1 if
// the frame is not contained in any of the available memory pools (e.g it
// points to a reserved memory region).
func (alloc *BitmapAllocator) poolForFrame(frame pmm.Frame) int {
	for poolIndex, pool := range alloc.pools {
		if frame >= pool.startFrame && frame <= pool.endFrame {
			return poolIndex
		}
	}

	return -1
}

// AllocFrame reserves and returns the lowest available physical frame.
func (alloc *BitmapAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	for poolIndex := 0; poolIndex < len(alloc.pools); poolIndex++ {
		if alloc.pools[poolIndex].freeCount == 0 {
			continue
		}

		fullBlock := uint64(math.MaxUint64)
		for blockIndex, block := range alloc.poolBitmap(poolIndex) {
			if block == fullBlock {
				continue
			}

			// Block has at least one free slot; we need to scan its bits
			for blockOffset, mask := 0, uint64(1<<63); mask > 0; blockOffset, mask = blockOffset+1, mask>>1 {
				if block&mask != 0 {
					continue
				}

				frame := alloc.pools[poolIndex].startFrame + pmm.Frame((blockIndex<<6)+blockOffset)
				if frame > alloc.pools[poolIndex].endFrame {
					break
				}

				alloc.markFrame(poolIndex, frame, markReserved)
				return frame, nil
			}
		}
	}

	return pmm.InvalidFrame, ErrOutOfMemory
}

// FreeFrame releases a frame previously allocated via a call to AllocFrame.
// Trying to release a frame not part of the allocator pools or a frame that
// is already marked as free will cause an error to be returned.
func (alloc *BitmapAllocator) FreeFrame(frame pmm.Frame) *kernel.Error {
	poolIndex := alloc.poolForFrame(frame)
	if poolIndex < 0 {
		return ErrFrameNotManaged
	}

	if !alloc.isReserved(poolIndex, frame) {
		return ErrDoubleFree
	}

	alloc.markFrame(poolIndex, frame, markFree)
	return nil
}

// ReserveFrame flags a specific frame as reserved so it is never returned by
// AllocFrame. It is used for frames that are in use before the allocator is
// initialized such as the kernel image or the null page.
func (alloc *BitmapAllocator) ReserveFrame(frame pmm.Frame) *kernel.Error {
	poolIndex := alloc.poolForFrame(frame)
	if poolIndex < 0 {
		return ErrFrameNotManaged
	}

	if alloc.isReserved(poolIndex, frame) {
		return errFrameAlreadyReserved
	}

	alloc.markFrame(poolIndex, frame, markReserved)
	return nil
}

// TotalFrames returns the number of frames managed by the allocator.
func (alloc *BitmapAllocator) TotalFrames() uint32 {
	return alloc.totalPages
}

// ReservedFrames returns the number of frames that are currently reserved.
func (alloc *BitmapAllocator) ReservedFrames() uint32 {
	return alloc.reservedPages
}
