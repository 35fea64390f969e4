//go:build 386

package kmain

import (
	"gopher386/kernel"
	"gopher386/kernel/cpu"
	"gopher386/kernel/hal/multiboot"
	"gopher386/kernel/mem/physmem"
)

var (
	// bootPhysMem reaches frames through their physical address while
	// paging is disabled.
	bootPhysMem physmem.Identity

	// bootErr records why Kmain halted the CPU.
	bootErr *kernel.Error
)

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader as well as the physical addresses for the kernel start/end. Paging
// is still disabled at this point so physical memory is accessed directly.
//
// Kmain never returns. When boot stops it records the cause in bootErr and
// halts the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	info := multiboot.InfoFromPointer(multibootInfoPtr)

	if bootErr = bootMemory(info, kernelEnd, &bootPhysMem, cpu.MMU{}); bootErr == nil {
		bootErr = errKmainReturned
	}

	cpu.Halt()
}
