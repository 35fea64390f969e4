//go:build unix

package physmem

import (
	"fmt"

	"golang.org/x/sys/unix"

	"gopher386/kernel/mem"
)

// NewMmapArena backs the arena with an anonymous private mapping. The pages
// are lazily committed by the host kernel so large arenas only consume host
// memory for the frames that are actually touched.
func NewMmapArena(size mem.Size) (*Arena, error) {
	if err := checkArenaSize(size); err != nil {
		return nil, err
	}

	data, err := unix.Mmap(-1, 0, int(size.RoundUp()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap physical memory arena: %w", err)
	}

	return &Arena{data: data, release: unix.Munmap}, nil
}
