package vmm

import (
	"testing"

	"gopher386/kernel"
	"gopher386/kernel/mem"
	"gopher386/kernel/mem/pmm"
)

var errTestOutOfFrames = &kernel.Error{Module: "test", Message: "out of frames"}

// testMemory lazily backs any frame with a page of junk-filled memory.
type testMemory struct {
	frames map[pmm.Frame][]byte
}

func newTestMemory() *testMemory {
	return &testMemory{frames: make(map[pmm.Frame][]byte)}
}

func (m *testMemory) FrameData(frame pmm.Frame) []byte {
	data, ok := m.frames[frame]
	if !ok {
		data = make([]byte, mem.PageSize)
		mem.Memset(data, 0xfe)
		m.frames[frame] = data
	}
	return data
}

// testAllocator hands out increasing frame numbers and keeps track of the
// frames that are currently allocated.
type testAllocator struct {
	next      pmm.Frame
	free      []pmm.Frame
	live      map[pmm.Frame]bool
	failAfter int
	allocs    int
	frees     int
}

func newTestAllocator() *testAllocator {
	return &testAllocator{next: 1, live: make(map[pmm.Frame]bool), failAfter: -1}
}

func (a *testAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	if a.failAfter >= 0 && a.allocs >= a.failAfter {
		return pmm.InvalidFrame, errTestOutOfFrames
	}
	a.allocs++

	var frame pmm.Frame
	if n := len(a.free); n > 0 {
		frame, a.free = a.free[n-1], a.free[:n-1]
	} else {
		frame = a.next
		a.next++
	}

	a.live[frame] = true
	return frame, nil
}

func (a *testAllocator) FreeFrame(frame pmm.Frame) *kernel.Error {
	if !a.live[frame] {
		return &kernel.Error{Module: "test", Message: "free of frame not allocated"}
	}

	delete(a.live, frame)
	a.free = append(a.free, frame)
	a.frees++
	return nil
}

func newTestDirectory(t *testing.T) (*PageDirectory, *testAllocator) {
	t.Helper()

	var (
		pd    PageDirectory
		alloc = newTestAllocator()
	)

	if err := pd.Init(pmm.Frame(0), newTestMemory(), alloc); err != nil {
		t.Fatal(err)
	}

	return &pd, alloc
}
