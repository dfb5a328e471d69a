// Command serialcon attaches the terminal to the serial port of a board
// running the kernel. Kernel output is relayed to stdout with its CR LF line
// endings reduced to LF and keystrokes on stdin are sent to the board.
//
// With -exit-on-panic the command exits with status 2 as soon as the kernel
// reports a panic, which makes it usable for boot smoke tests.
package main

import (
	"bufio"
	"flag"
	"io"
	"log"
	"os"
	"strings"

	tty "github.com/mattn/go-tty"
)

// panicMarker prefixes the line kfmt.Panic prints before halting the core.
const panicMarker = "*** kernel panic"

var (
	devicePath  = flag.String("device", "/dev/ttyUSB0", "serial device connected to the board")
	exitOnPanic = flag.Bool("exit-on-panic", false, "exit with status 2 when the kernel panics")
)

// relay copies the lines read from r to w until r is exhausted. It reports
// whether a kernel panic was seen; if stopOnPanic is set it returns as soon
// as the panic line has been copied.
func relay(r io.Reader, w io.Writer, stopOnPanic bool) (bool, error) {
	var panicked bool

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return panicked, err
		}

		if strings.HasPrefix(line, panicMarker) {
			panicked = true
			if stopOnPanic {
				return true, nil
			}
		}
	}

	return panicked, scanner.Err()
}

// release restores the terminal mode of the device and closes it. Failures
// are logged; neither one stops the other from running.
func release(name string, restore func() error, con io.Closer) {
	if err := restore(); err != nil {
		log.Printf("%s: restoring terminal mode: %v", name, err)
	}
	if err := con.Close(); err != nil {
		log.Printf("%s: %v", name, err)
	}
}

func main() {
	flag.Parse()
	log.SetPrefix("[serialcon] ")
	log.SetFlags(0)

	con, err := tty.OpenDevice(*devicePath)
	if err != nil {
		log.Fatalf("%s: %v", *devicePath, err)
	}
	restore := con.MustRaw()

	go func() {
		if _, err := io.Copy(con.Output(), os.Stdin); err != nil {
			log.Printf("stdin: %v", err)
		}
	}()

	panicked, err := relay(con.Input(), os.Stdout, *exitOnPanic)

	release(*devicePath, restore, con)

	switch {
	case err != nil:
		log.Fatalf("%s: %v", *devicePath, err)
	case panicked && *exitOnPanic:
		os.Exit(2)
	}
}
