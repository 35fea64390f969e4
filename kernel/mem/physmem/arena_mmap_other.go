//go:build !unix

package physmem

import (
	"errors"

	"gopher386/kernel/mem"
)

// NewMmapArena is only available on unix hosts.
func NewMmapArena(size mem.Size) (*Arena, error) {
	return nil, errors.New("mmap backed arenas are not supported on this platform")
}
