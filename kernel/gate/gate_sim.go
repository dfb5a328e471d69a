//go:build !arm

package gate

// The hosted build has no entry stubs. vectorStubs reports synthetic
// addresses inside a single text page so the vector page can still be built
// and mapped.
const (
	simStubBase = uintptr(0x8000)
	simStubSize = uintptr(0x100)
)

func vectorStubs(stubs *[numVectors]uintptr) {
	for i := range stubs {
		stubs[i] = simStubBase + uintptr(i)*simStubSize
	}
}

// Resume loads the context in regs and returns from exception into it. There
// is no exception to return from on a hosted build so control returns to the
// caller, which must treat that as the resumed context never running.
func Resume(_ *Registers) {}
