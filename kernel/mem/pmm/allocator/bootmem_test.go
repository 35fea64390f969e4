package allocator

import (
	"testing"

	"gopher386/kernel/mem"
	"gopher386/kernel/mem/pmm"
)

func TestBootMemAllocator(t *testing.T) {
	regions := []MemoryRegion{
		// frames 0-9
		{PhysAddress: 0, Length: 10 * uint64(mem.PageSize)},
		// smaller than a page after alignment; ignored
		{PhysAddress: 0xa100, Length: 4000},
		// unaligned; frames 0x21-0x22
		{PhysAddress: 0x20010, Length: 4*uint64(mem.PageSize) - 0x20},
	}

	var alloc BootMemAllocator
	alloc.Init(regions, pmm.Frame(8))

	for specIndex, exp := range []pmm.Frame{8, 9, 0x21, 0x22} {
		got, err := alloc.AllocFrame()
		if err != nil {
			t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
		}

		if got != exp {
			t.Errorf("[spec %d] expected frame %d; got %d", specIndex, exp, got)
		}
	}

	if _, err := alloc.AllocFrame(); err != errBootAllocOutOfMemory {
		t.Fatalf("expected errBootAllocOutOfMemory; got %v", err)
	}

	if exp, got := uint32(4), alloc.AllocatedFrames(); got != exp {
		t.Fatalf("expected %d allocated frames; got %d", exp, got)
	}
}

func TestBootMemAllocatorAllocContiguous(t *testing.T) {
	regions := []MemoryRegion{
		{PhysAddress: 0, Length: 4 * uint64(mem.PageSize)},
		{PhysAddress: 0x10000, Length: 8 * uint64(mem.PageSize)},
	}

	specs := []struct {
		firstFrame pmm.Frame
		count      uint32
		expFrame   pmm.Frame
		expErr     bool
	}{
		{0, 4, 0, false},
		{1, 2, 1, false},
		// frames 1-3 are too few so the run restarts in the next region
		{1, 4, 0x10, false},
		{0, 9, pmm.InvalidFrame, true},
		{0, 0, pmm.InvalidFrame, true},
	}

	for specIndex, spec := range specs {
		var alloc BootMemAllocator
		alloc.Init(regions, spec.firstFrame)

		frame, err := alloc.AllocContiguous(spec.count)
		if gotErr := err != nil; gotErr != spec.expErr {
			t.Errorf("[spec %d] expected error: %t; got %v", specIndex, spec.expErr, err)
			continue
		}

		if frame != spec.expFrame {
			t.Errorf("[spec %d] expected frame %d; got %d", specIndex, spec.expFrame, frame)
		}
	}
}
