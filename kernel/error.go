package kernel

// Error describes a kernel error. Kernel errors are declared as package-level
// pointers to Error values: large parts of the boot path run before it is
// safe to allocate, so errors.New and fmt.Errorf are not an option.
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
