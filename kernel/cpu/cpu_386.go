//go:build 386

package cpu

// MMU drives the paging unit of the processor this code runs on. Its methods
// must be invoked from ring 0 with interrupts disabled.
type MMU struct{}

// EnablePaging loads CR3 with the physical address of a page directory and
// sets the paging enable bit in CR0.
func (MMU) EnablePaging(pdtPhysAddr uintptr) {
	enablePaging(pdtPhysAddr)
}

// DisablePaging clears the paging enable bit in CR0. The caller must be
// executing from an identity-mapped region.
func (MMU) DisablePaging() {
	disablePaging()
}

// ActivePDT returns the physical address of the currently active page
// directory.
func (MMU) ActivePDT() uintptr {
	return readCR3() & uintptr(cr3AddrMask)
}

func enablePaging(pdtPhysAddr uintptr)

func disablePaging()

func readCR3() uintptr

// Halt disables interrupts and stops the processor. It never returns.
func Halt()
