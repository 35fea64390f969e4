//go:build 386

package main

import "gopher386/kernel/kmain"

var multibootInfoPtr uintptr

// main makes a dummy call to the actual kernel main entrypoint function so
// the compiler keeps the kernel code in the generated object file.
//
// A global variable is passed as an argument to Kmain to prevent the compiler
// from inlining the call and removing Kmain.
func main() {
	kmain.Kmain(multibootInfoPtr, 0, 0)
}
