package kernel

// Error describes a kernel error. All kernel errors must be defined as global
// variables that are pointers to the Error structure. Kernel code runs with
// interrupts disabled and must not depend on the Go allocator for error
// reporting, so errors.New and fmt.Errorf are not used by the kernel packages.
// Callers compare returned errors against the exported sentinels by identity.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
