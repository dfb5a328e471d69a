// Package kfmt implements the kernel's formatted output. Everything in this
// package is usable before exception handling, the scheduler or a heap
// exist: nothing allocates and output produced before a sink is attached is
// kept in a ring buffer.
package kfmt

import (
	"io"
	"unsafe"
)

// numBufSize bounds the width of a formatted number, padding included.
const numBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	digits = "0123456789abcdef"

	// numBuf and oneByte are shared scratch buffers. There is a single core
	// and Printf is never called concurrently with itself.
	numBuf  [numBufSize]byte
	oneByte [1]byte

	// earlyPrintBuffer keeps Printf output until an output sink is attached.
	earlyPrintBuffer ringBuffer

	// outputSink receives Printf output. While nil, output goes to
	// earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink makes w the target of Printf and drains any output buffered
// so far into it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the writer that Printf currently writes to.
func GetOutputSink() io.Writer {
	if outputSink == nil {
		return &earlyPrintBuffer
	}

	return outputSink
}

// Printf writes formatted output to the active output sink. It supports a
// subset of the fmt verbs:
//
//  %s  string or []byte
//  %d  base 10 integer
//  %x  base 16 integer, lower-case
//  %o  base 8 integer
//  %t  bool
//  %%  a literal percent sign
//
// An optional decimal width may precede the verb. Strings and base 10
// numbers are left-padded with spaces, base 8 and base 16 numbers with
// zeroes. Printf does not look for io.Stringer or error implementations and
// never allocates.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		width    int
		verb     byte
	)

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			writeByte(w, format[i])
			continue
		}

		for width, i = 0, i+1; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}

		if i == len(format) {
			doWrite(w, errNoVerb)
			break
		}

		switch verb = format[i]; verb {
		case '%':
			writeByte(w, '%')
			continue
		case 'd', 'x', 'o', 's', 't':
		default:
			doWrite(w, errNoVerb)
			continue
		}

		if argIndex >= len(args) {
			doWrite(w, errMissingArg)
			continue
		}

		switch verb {
		case 'd':
			fmtInt(w, args[argIndex], 10, width)
		case 'x':
			fmtInt(w, args[argIndex], 16, width)
		case 'o':
			fmtInt(w, args[argIndex], 8, width)
		case 's':
			fmtString(w, args[argIndex], width)
		case 't':
			fmtBool(w, args[argIndex])
		}
		argIndex++
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case b:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		for pad := width - len(s); pad > 0; pad-- {
			writeByte(w, ' ')
		}
		// Slicing s into a []byte would allocate.
		for i := 0; i < len(s); i++ {
			writeByte(w, s[i])
		}
	case []byte:
		for pad := width - len(s); pad > 0; pad-- {
			writeByte(w, ' ')
		}
		doWrite(w, s)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtInt formats any built-in integer type in the requested base. Digits are
// produced right to left at the end of numBuf.
func fmtInt(w io.Writer, v interface{}, base, width int) {
	var (
		u   uint64
		neg bool
		n   int64
	)

	switch val := v.(type) {
	case uint8:
		u = uint64(val)
	case uint16:
		u = uint64(val)
	case uint32:
		u = uint64(val)
	case uint64:
		u = val
	case uint:
		u = uint64(val)
	case uintptr:
		u = uint64(val)
	case int8:
		n = int64(val)
	case int16:
		n = int64(val)
	case int32:
		n = int64(val)
	case int64:
		n = val
	case int:
		n = int64(val)
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if n < 0 {
		neg, u = true, uint64(-n)
	} else if n > 0 {
		u = uint64(n)
	}

	if width > numBufSize-1 {
		width = numBufSize - 1
	}

	pos := numBufSize
	for {
		pos--
		numBuf[pos] = digits[u%uint64(base)]
		if u /= uint64(base); u == 0 {
			break
		}
	}

	if base == 10 {
		if neg {
			pos--
			numBuf[pos] = '-'
		}
		for numBufSize-pos < width {
			pos--
			numBuf[pos] = ' '
		}
	} else {
		limit := width
		if neg {
			limit--
		}
		for numBufSize-pos < limit {
			pos--
			numBuf[pos] = '0'
		}
		if neg {
			pos--
			numBuf[pos] = '-'
		}
	}

	doWrite(w, numBuf[pos:])
}

func writeByte(w io.Writer, b byte) {
	oneByte[0] = b
	doWrite(w, oneByte[:])
}

// doWrite hides p from escape analysis. The compiler cannot prove that p
// does not escape through the io.Writer interface and would otherwise move
// every formatted argument to the heap.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
	} else {
		earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis. Copied from runtime/stubs.go.
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
