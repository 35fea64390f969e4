package vmm

const (
	// entryAddrMask extracts the physical address stored in the upper 20
	// bits of a page directory or page table entry.
	entryAddrMask = uint32(0xfffff000)

	// entryFlagsMask extracts the flag bits of an entry.
	entryFlagsMask = uint32(0x00000fff)

	// dirFlagsMask selects the flags of a page mapping request that are
	// propagated to the directory entry of its page table.
	dirFlagsMask = PageTableEntryFlag(0x3f)
)

const (
	// FlagPresent is set when the page is available in memory.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage selects 4M pages when set on a directory entry. It is
	// never set by this package.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when the swapping page tables by updating the CR3 register.
	FlagGlobal

	// FlagOwned is one of the bits available to the OS. It marks pages whose
	// physical frame was obtained from the frame allocator by Alloc and must
	// be returned to it by Free.
	FlagOwned
)

// FlagTablePresent is the name of FlagPresent when used in a page directory
// entry. It indicates that the entry points to a page table.
const FlagTablePresent = FlagPresent
