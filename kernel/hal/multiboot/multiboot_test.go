package multiboot

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"

	"gopher386/kernel/mem"
	"gopher386/kernel/mem/physmem"
	"gopher386/kernel/mem/pmm"
)

// infoBuilder assembles multiboot2 information structures for tests.
type infoBuilder struct {
	buf []byte
}

func newInfoBuilder() *infoBuilder {
	return &infoBuilder{buf: make([]byte, infoHeaderSize)}
}

func (b *infoBuilder) tag(typ tagType, contents []byte) *infoBuilder {
	header := make([]byte, tagHeaderSize)
	binary.LittleEndian.PutUint32(header, uint32(typ))
	binary.LittleEndian.PutUint32(header[4:], uint32(tagHeaderSize+len(contents)))
	b.buf = append(b.buf, header...)
	b.buf = append(b.buf, contents...)

	for len(b.buf)%8 != 0 {
		b.buf = append(b.buf, 0)
	}
	return b
}

func (b *infoBuilder) memoryMap(entrySize int, entries ...MemoryMapEntry) *infoBuilder {
	contents := make([]byte, mmapHeaderSize, mmapHeaderSize+len(entries)*entrySize)
	binary.LittleEndian.PutUint32(contents, uint32(entrySize))

	for _, entry := range entries {
		raw := make([]byte, entrySize)
		binary.LittleEndian.PutUint64(raw, entry.PhysAddress)
		binary.LittleEndian.PutUint64(raw[8:], entry.Length)
		binary.LittleEndian.PutUint32(raw[16:], uint32(entry.Type))
		contents = append(contents, raw...)
	}

	return b.tag(tagMemoryMap, contents)
}

func (b *infoBuilder) build() []byte {
	b.tag(tagMbSectionEnd, nil)
	binary.LittleEndian.PutUint32(b.buf, uint32(len(b.buf)))
	return b.buf
}

func TestFindTagByType(t *testing.T) {
	info := NewInfo(newInfoBuilder().
		tag(tagBootCmdLine, []byte{0}).
		tag(tagBootLoaderName, []byte("GRUB 2.02~beta3-5\x00")).
		tag(tagBasicMemoryInfo, make([]byte, 8)).
		build())

	specs := []struct {
		tagType tagType
		expSize int
	}{
		{tagBootCmdLine, 1},
		{tagBootLoaderName, 18},
		{tagBasicMemoryInfo, 8},
		{tagModules, 0},
		{tagMemoryMap, 0},
	}

	for specIndex, spec := range specs {
		if got := len(info.findTagByType(spec.tagType)); got != spec.expSize {
			t.Errorf("[spec %d] expected tag size for tag type %d to be %d; got %d", specIndex, spec.tagType, spec.expSize, got)
		}
	}
}

func TestFindTagByTypeTruncated(t *testing.T) {
	data := newInfoBuilder().tag(tagBootCmdLine, []byte("quiet")).build()

	specs := [][]byte{
		nil,
		data[:4],
		// total size claims more data than is present
		data[:infoHeaderSize+tagHeaderSize+2],
	}

	for specIndex, spec := range specs {
		if got := NewInfo(spec).findTagByType(tagBootCmdLine); got != nil {
			t.Errorf("[spec %d] expected nil tag for truncated info; got %v", specIndex, got)
		}
	}
}

func TestVisitMemRegions(t *testing.T) {
	entries := []MemoryMapEntry{
		{0, 654336, MemAvailable},
		{654336, 1024, MemReserved},
		{983040, 65536, MemReserved},
		{1048576, 133038080, MemAvailable},
		{134086656, 131072, MemoryEntryType(0xff)},
		{4294705152, 262144, MemNvs},
	}

	var visitCount int
	NewInfo(newInfoBuilder().build()).VisitMemRegions(func(_ MemoryMapEntry) bool {
		visitCount++
		return true
	})

	if visitCount != 0 {
		t.Fatal("expected visitor not to be invoked when no memory map tag is present")
	}

	// GRUB reports 24-byte entries; the trailing reserved field is skipped
	info := NewInfo(newInfoBuilder().
		tag(tagBootCmdLine, []byte{0}).
		memoryMap(24, entries...).
		build())

	var got []MemoryMapEntry
	info.VisitMemRegions(func(entry MemoryMapEntry) bool {
		got = append(got, entry)
		return true
	})

	exp := append([]MemoryMapEntry(nil), entries...)
	// Unknown types are reported as reserved
	exp[4].Type = MemReserved

	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("unexpected memory map (-want +got):\n%s", diff)
	}

	visitCount = 0
	info.VisitMemRegions(func(_ MemoryMapEntry) bool {
		visitCount++
		return visitCount < 2
	})

	if visitCount != 2 {
		t.Fatalf("expected the scan to stop when the visitor returns false; got %d calls", visitCount)
	}
}

func TestInfoFromPointer(t *testing.T) {
	// The boot loader hands over memory that is not managed by the Go
	// runtime; an anonymous mapping stands in for it.
	arena, err := physmem.NewMmapArena(mem.PageSize)
	if err != nil {
		t.Skipf("mmap backed memory not available: %v", err)
	}
	defer func() { _ = arena.Close() }()

	data := arena.FrameData(pmm.Frame(0))
	copy(data, newInfoBuilder().memoryMap(24, MemoryMapEntry{0x100000, 0x700000, MemAvailable}).build())

	var visitCount int
	InfoFromPointer(uintptr(unsafe.Pointer(&data[0]))).VisitMemRegions(func(entry MemoryMapEntry) bool {
		if entry.PhysAddress != 0x100000 || entry.Length != 0x700000 {
			t.Errorf("unexpected entry %+v", entry)
		}
		visitCount++
		return true
	})

	if visitCount != 1 {
		t.Fatalf("expected 1 visit; got %d", visitCount)
	}

	if info := InfoFromPointer(0); info.data != nil {
		t.Fatal("expected a nil pointer to yield an empty info")
	}
}

func TestVisitMemRegionsDoesNotAllocate(t *testing.T) {
	info := NewInfo(newInfoBuilder().memoryMap(24,
		MemoryMapEntry{0, 0x9fc00, MemAvailable},
		MemoryMapEntry{0x100000, 0x700000, MemAvailable},
	).build())

	var total uint64
	allocs := testing.AllocsPerRun(10, func() {
		info.VisitMemRegions(func(entry MemoryMapEntry) bool {
			total += entry.Length
			return true
		})
	})

	if allocs != 0 {
		t.Fatalf("expected VisitMemRegions not to allocate; got %v allocations per run", allocs)
	}

	if exp := uint64(11 * (0x9fc00 + 0x700000)); total != exp {
		t.Fatalf("expected visited lengths to add up to 0x%x; got 0x%x", exp, total)
	}
}
