package gate

// vectorStubs fills stubs with the addresses of the exception entry stubs,
// indexed by Vector.
func vectorStubs(stubs *[numVectors]uintptr)

// Resume loads the context in regs and returns from exception into it. Resume
// never returns to its caller.
func Resume(regs *Registers)
