// Package multiboot reads the memory map from the multiboot2 information
// structure that the boot loader passes to the kernel.
package multiboot

import (
	"encoding/binary"
	"unsafe"
)

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
)

const (
	// infoHeaderSize is the size of the total_size and reserved fields
	// that precede the first tag.
	infoHeaderSize = 8

	// tagHeaderSize is the size of the type and size fields of each tag.
	tagHeaderSize = 8

	// mmapHeaderSize is the size of the entry_size and entry_version
	// fields of the memory map tag.
	mmapHeaderSize = 8

	// mmapEntrySize is the minimum size of a memory map entry.
	mmapEntrySize = 20
)

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// MemRegionVisitor defines a visitor function that gets invoked by VisitMemRegions
// for each memory region provided by the boot loader. The visitor must return true
// to continue or false to abort the scan. Entries are passed by value.
type MemRegionVisitor func(entry MemoryMapEntry) bool

// Info is a read-only view of a multiboot2 information structure.
type Info struct {
	data []byte
}

// NewInfo returns an Info for the supplied bytes.
func NewInfo(data []byte) Info {
	return Info{data: data}
}

// InfoFromPointer returns an Info for the structure at the given address.
// The address must be mapped and the structure must not be modified while
// the Info is in use.
func InfoFromPointer(ptr uintptr) Info {
	if ptr == 0 {
		return Info{}
	}

	totalSize := *(*uint32)(unsafe.Pointer(ptr))
	return Info{data: unsafe.Slice((*byte)(unsafe.Pointer(ptr)), totalSize)}
}

// findTagByType scans the tags looking for the first tag of the requested
// type and returns its contents without the tag header. It returns nil if
// the tag is not present or the structure is truncated.
func (info Info) findTagByType(wantType tagType) []byte {
	if len(info.data) < infoHeaderSize {
		return nil
	}

	totalSize := int(binary.LittleEndian.Uint32(info.data))
	if totalSize > len(info.data) {
		totalSize = len(info.data)
	}

	for offset := infoHeaderSize; offset+tagHeaderSize <= totalSize; {
		curType := tagType(binary.LittleEndian.Uint32(info.data[offset:]))
		size := int(binary.LittleEndian.Uint32(info.data[offset+4:]))

		if curType == tagMbSectionEnd || size < tagHeaderSize || offset+size > totalSize {
			return nil
		}

		if curType == wantType {
			return info.data[offset+tagHeaderSize : offset+size]
		}

		// Tags are aligned at 8-byte aligned addresses
		offset += (size + 7) &^ 7
	}

	return nil
}

// VisitMemRegions will invoke the supplied visitor for each memory region that
// is defined by the multiboot info data that we received from the bootloader.
func (info Info) VisitMemRegions(visitor MemRegionVisitor) {
	tag := info.findTagByType(tagMemoryMap)
	if len(tag) < mmapHeaderSize {
		return
	}

	entrySize := int(binary.LittleEndian.Uint32(tag))
	if entrySize < mmapEntrySize {
		return
	}

	var entry MemoryMapEntry
	for offset := mmapHeaderSize; offset+entrySize <= len(tag); offset += entrySize {
		entry.PhysAddress = binary.LittleEndian.Uint64(tag[offset:])
		entry.Length = binary.LittleEndian.Uint64(tag[offset+8:])
		entry.Type = MemoryEntryType(binary.LittleEndian.Uint32(tag[offset+16:]))

		// Mark unknown entry types as reserved
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			return
		}
	}
}
