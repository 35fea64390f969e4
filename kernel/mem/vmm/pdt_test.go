package vmm

import (
	"testing"

	"gopher386/kernel/cpu"
	"gopher386/kernel/mem/pmm"
)

func TestPageDirectoryInit(t *testing.T) {
	t.Run("clears directory frame", func(t *testing.T) {
		var (
			pd      PageDirectory
			physMem = newTestMemory()
		)

		if err := pd.Init(pmm.Frame(9), physMem, newTestAllocator()); err != nil {
			t.Fatal(err)
		}

		for index, b := range physMem.FrameData(9) {
			if b != 0 {
				t.Fatalf("expected directory byte %d to be cleared; got 0x%x", index, b)
			}
		}

		if exp, got := uintptr(0x9000), pd.PhysAddress(); got != exp {
			t.Fatalf("expected directory physical address to be 0x%x; got 0x%x", exp, got)
		}

		if got := pd.Frame(); got != 9 {
			t.Fatalf("expected directory frame to be 9; got %d", got)
		}
	})

	t.Run("errors", func(t *testing.T) {
		var pd PageDirectory

		specs := []struct {
			frame   pmm.Frame
			physMem PhysicalMemory
			alloc   pmm.FrameAllocator
			expErr  error
		}{
			{0, nil, newTestAllocator(), ErrInvalidArgument},
			{0, newTestMemory(), nil, ErrInvalidArgument},
			{pmm.InvalidFrame, newTestMemory(), newTestAllocator(), ErrInvalidArgument},
			{4, limitedMemory{testMemory: newTestMemory(), limit: 4}, newTestAllocator(), errInaccessibleFrame},
		}

		for specIndex, spec := range specs {
			if err := pd.Init(spec.frame, spec.physMem, spec.alloc); err != spec.expErr {
				t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
			}
		}

		var nilPD *PageDirectory
		if err := nilPD.Init(0, newTestMemory(), newTestAllocator()); err != ErrInvalidArgument {
			t.Errorf("expected ErrInvalidArgument for a nil directory; got %v", err)
		}
	})
}

func TestPageDirectoryActivate(t *testing.T) {
	pd, _ := newTestDirectory(t)

	var other PageDirectory
	if err := other.Init(pmm.Frame(0x321), newTestMemory(), newTestAllocator()); err != nil {
		t.Fatal(err)
	}

	mmu := cpu.NewEmulatedMMU()

	if err := pd.Activate(mmu); err != nil {
		t.Fatal(err)
	}

	if !mmu.PagingEnabled() || mmu.ActivePDT() != pd.PhysAddress() {
		t.Fatalf("expected paging to be enabled with PDT 0x%x; got CR0 0x%x, CR3 0x%x", pd.PhysAddress(), mmu.CR0, mmu.CR3)
	}

	if err := other.Activate(mmu); err != nil {
		t.Fatal(err)
	}

	if exp, got := uintptr(0x321000), mmu.ActivePDT(); got != exp {
		t.Fatalf("expected active PDT to be 0x%x; got 0x%x", exp, got)
	}

	DisablePaging(mmu)

	if mmu.PagingEnabled() {
		t.Fatal("expected paging to be disabled")
	}

	if err := pd.Activate(nil); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument for a nil controller; got %v", err)
	}

	var uninitialized PageDirectory
	if err := uninitialized.Activate(mmu); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument for an uninitialized directory; got %v", err)
	}
}
