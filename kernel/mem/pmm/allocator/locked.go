package allocator

import (
	"gopher386/kernel"
	"gopher386/kernel/mem/pmm"
	"gopher386/kernel/sync"
)

// LockedAllocator serializes access to a frame allocator that is shared by
// several page directories.
type LockedAllocator struct {
	lock  sync.Spinlock
	inner pmm.FrameAllocator
}

// NewLockedAllocator wraps inner with a spinlock.
func NewLockedAllocator(inner pmm.FrameAllocator) *LockedAllocator {
	return &LockedAllocator{inner: inner}
}

// AllocFrame implements pmm.FrameAllocator.
func (l *LockedAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	l.lock.Acquire()
	frame, err := l.inner.AllocFrame()
	l.lock.Release()
	return frame, err
}

// FreeFrame implements pmm.FrameAllocator.
func (l *LockedAllocator) FreeFrame(frame pmm.Frame) *kernel.Error {
	l.lock.Acquire()
	err := l.inner.FreeFrame(frame)
	l.lock.Release()
	return err
}
