// Package cpu provides access to the processor control registers that drive
// the paging unit.
package cpu

const (
	// CR0ProtectedMode is the protection enable bit of CR0.
	CR0ProtectedMode = uint32(1 << 0)

	// CR0Paging is the paging enable bit of CR0.
	CR0Paging = uint32(1 << 31)

	// cr3AddrMask selects the page directory base address bits of CR3.
	cr3AddrMask = uint32(0xfffff000)
)

// EmulatedMMU is a software model of the CR0 and CR3 registers. It is used
// on hosts where the real registers cannot be touched and mirrors the
// register writes performed by MMU.
type EmulatedMMU struct {
	CR0 uint32
	CR3 uint32

	// Switches counts the number of CR3 loads; on real hardware each load
	// flushes the non-global TLB entries.
	Switches int
}

// NewEmulatedMMU returns an EmulatedMMU in the state left by the boot code:
// protected mode enabled and paging disabled.
func NewEmulatedMMU() *EmulatedMMU {
	return &EmulatedMMU{CR0: CR0ProtectedMode}
}

// EnablePaging loads the page directory base register and then sets the
// paging enable bit.
func (m *EmulatedMMU) EnablePaging(pdtPhysAddr uintptr) {
	m.CR3 = uint32(pdtPhysAddr) & cr3AddrMask
	m.Switches++
	m.CR0 |= CR0Paging
}

// DisablePaging clears the paging enable bit. CR3 keeps its value.
func (m *EmulatedMMU) DisablePaging() {
	m.CR0 &^= CR0Paging
}

// PagingEnabled returns true if the paging enable bit is set.
func (m *EmulatedMMU) PagingEnabled() bool {
	return m.CR0&CR0Paging != 0
}

// ActivePDT returns the physical address of the currently loaded page
// directory.
func (m *EmulatedMMU) ActivePDT() uintptr {
	return uintptr(m.CR3 & cr3AddrMask)
}
