package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"gopher386/kernel"
	"gopher386/kernel/cpu"
	"gopher386/kernel/mem"
	"gopher386/kernel/mem/pmm"
	"gopher386/kernel/mem/pmm/allocator"
	"gopher386/kernel/mem/physmem"
	"gopher386/kernel/mem/vmm"
	"gopher386/kernel/memspace"
)

// kernelErr converts a kernel error to an error without producing a non-nil
// interface for a nil pointer.
func kernelErr(err *kernel.Error) error {
	if err == nil {
		return nil
	}
	return err
}

// processResult captures the state of a process address space after its
// script completed.
type processResult struct {
	Name     string
	Mappings []memspace.Mapping
	Stats    memspace.Stats
	Switches int
}

// simulator runs process scripts against a shared physical memory arena.
type simulator struct {
	arena  *physmem.Arena
	bitmap allocator.BitmapAllocator
	frames pmm.FrameAllocator
	log    *logrus.Logger
}

// newSimulator sets up physical memory and the frame allocator. Frame 0 is
// reserved for the guard page of every address space.
func newSimulator(memCfg memoryConfig, log *logrus.Logger) (*simulator, error) {
	var (
		arena *physmem.Arena
		err   error
		size  = mem.Size(memCfg.SizeMb) * mem.Mb
	)

	if memCfg.Mmap {
		arena, err = physmem.NewMmapArena(size)
	} else {
		var kerr *kernel.Error
		arena, kerr = physmem.NewArena(size)
		err = kernelErr(kerr)
	}
	if err != nil {
		return nil, fmt.Errorf("creating physical memory arena: %w", err)
	}

	s := &simulator{arena: arena, log: log}
	if err := s.bitmap.Init(arena.Regions()); err != nil {
		_ = arena.Close()
		return nil, fmt.Errorf("initializing frame allocator: %w", err)
	}

	if err := s.bitmap.ReserveFrame(0); err != nil {
		_ = arena.Close()
		return nil, fmt.Errorf("reserving frame 0: %w", err)
	}

	s.frames = allocator.NewLockedAllocator(&s.bitmap)

	log.WithFields(logrus.Fields{
		"frames": s.bitmap.TotalFrames(),
		"mmap":   memCfg.Mmap,
	}).Debug("physical memory ready")

	return s, nil
}

// run executes every process script concurrently. Results are returned in
// config order. The first failing process cancels the remaining ones.
func (s *simulator) run(ctx context.Context, procs []processConfig) ([]processResult, error) {
	results := make([]processResult, len(procs))

	g, ctx := errgroup.WithContext(ctx)
	for pid := range procs {
		pid := pid
		g.Go(func() error {
			res, err := s.runProcess(ctx, pid, &procs[pid])
			if err != nil {
				return fmt.Errorf("process %q: %w", procs[pid].Name, err)
			}
			results[pid] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (s *simulator) runProcess(ctx context.Context, pid int, proc *processConfig) (res processResult, err error) {
	log := s.log.WithFields(logrus.Fields{"pid": pid, "process": proc.Name})

	as, kerr := memspace.New(s.arena, s.frames)
	if kerr != nil {
		return res, fmt.Errorf("creating address space: %w", kerr)
	}

	defer func() {
		if kerr := as.Close(); kerr != nil && err == nil {
			err = fmt.Errorf("closing address space: %w", kerr)
		}
	}()

	// Each process gets its own CPU
	mmu := cpu.NewEmulatedMMU()
	if kerr := as.Activate(mmu); kerr != nil {
		return res, fmt.Errorf("activating address space: %w", kerr)
	}

	mapped := make(map[string]memspace.Mapping)
	for opIndex := range proc.Ops {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		op := &proc.Ops[opIndex]
		opLog := log.WithFields(logrus.Fields{"op": opIndex, "kind": op.Kind})

		switch op.Kind {
		case opMmap:
			addr, err := s.mmap(as, op)
			if err != nil {
				return res, fmt.Errorf("op %d: %w", opIndex, err)
			}

			if op.Name != "" {
				mapped[op.Name] = memspace.Mapping{Start: vmm.PageFromAddress(addr), Pages: mem.Size(op.Length).Pages()}
			}
			opLog.WithFields(logrus.Fields{"addr": fmt.Sprintf("0x%08x", addr), "length": op.Length}).Debug("mapped")
		case opMunmap:
			addr, length := uintptr(op.Addr), uintptr(op.Length)
			if op.Ref != "" {
				m := mapped[op.Ref]
				addr = m.Address() + uintptr(op.Offset)
				if length == 0 {
					length = uintptr(m.Pages)*uintptr(mem.PageSize) - uintptr(op.Offset)
				}
			}

			if kerr := as.Munmap(addr, length); kerr != nil {
				return res, fmt.Errorf("op %d: munmap 0x%x+0x%x: %w", opIndex, addr, length, kerr)
			}
			opLog.WithFields(logrus.Fields{"addr": fmt.Sprintf("0x%08x", addr), "length": length}).Debug("unmapped")
		}
	}

	vmm.DisablePaging(mmu)

	res = processResult{
		Name:     proc.Name,
		Mappings: as.Mappings(),
		Stats:    as.Stats(),
		Switches: mmu.Switches,
	}
	log.WithFields(logrus.Fields{"mappings": res.Stats.Mappings, "pages": res.Stats.Pages, "tables": res.Stats.Tables}).Info("script completed")

	return res, nil
}

// mmap performs a mmap op and optionally writes to each new page.
func (s *simulator) mmap(as *memspace.AddressSpace, op *opConfig) (uintptr, error) {
	prot := memspace.ProtRead
	if op.Write {
		prot |= memspace.ProtWrite
	}
	if op.Exec {
		prot |= memspace.ProtExec
	}

	var flags memspace.MapFlag
	if op.Fixed {
		flags |= memspace.MapFixed
	}

	addr, kerr := as.Mmap(uintptr(op.Addr), uintptr(op.Length), prot, flags)
	if kerr != nil {
		return 0, fmt.Errorf("mmap 0x%x+0x%x: %w", op.Addr, op.Length, kerr)
	}

	if op.Touch {
		if err := s.touch(as, addr, mem.Size(op.Length).Pages()); err != nil {
			return 0, err
		}
	}

	return addr, nil
}

// touch fills the first byte of each page with its page number through
// the physical frame that backs it.
func (s *simulator) touch(as *memspace.AddressSpace, addr uintptr, pages uint32) error {
	for i := uint32(0); i < pages; i++ {
		virtAddr := addr + uintptr(i)*uintptr(mem.PageSize)
		physAddr, kerr := as.Translate(virtAddr)
		if kerr != nil {
			return fmt.Errorf("translating 0x%x: %w", virtAddr, kerr)
		}

		data := s.arena.FrameData(pmm.FrameFromAddress(physAddr))
		if data == nil {
			return fmt.Errorf("frame for 0x%x is outside physical memory", physAddr)
		}
		data[0] = byte(virtAddr >> mem.PageShift)
	}

	return nil
}

// leakedFrames returns the number of frames still reserved besides frame 0.
func (s *simulator) leakedFrames() uint32 {
	return s.bitmap.ReservedFrames() - 1
}

func (s *simulator) close() error {
	return s.arena.Close()
}
