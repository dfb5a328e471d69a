package main

import (
	"bytes"
	"errors"
	"log"
	"os"
	"strings"
	"testing"
)

func TestRelay(t *testing.T) {
	specs := []struct {
		input       string
		stopOnPanic bool
		expOut      string
		expPanicked bool
	}{
		{
			"[kmain] boot stack 0x40050000-0x40054000\r\n[timer] tick every 10000 us\r\n",
			false,
			"[kmain] boot stack 0x40050000-0x40054000\n[timer] tick every 10000 us\n",
			false,
		},
		{
			"\r\n-----------------------------------\r\n[sched] unrecoverable error: no runnable thread left\r\n*** kernel panic: core halted ***\r\n-----------------------------------\r\n",
			true,
			"\n-----------------------------------\n[sched] unrecoverable error: no runnable thread left\n*** kernel panic: core halted ***\n",
			true,
		},
		{
			"*** kernel panic: core halted ***\r\ntrailing\r\n",
			false,
			"*** kernel panic: core halted ***\ntrailing\n",
			true,
		},
		{
			"no newline at the end",
			false,
			"no newline at the end\n",
			false,
		},
	}

	for specIndex, spec := range specs {
		var out bytes.Buffer
		panicked, err := relay(strings.NewReader(spec.input), &out, spec.stopOnPanic)
		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		if panicked != spec.expPanicked {
			t.Errorf("[spec %d] expected panicked to be %t; got %t", specIndex, spec.expPanicked, panicked)
		}

		if got := out.String(); got != spec.expOut {
			t.Errorf("[spec %d] expected output:\n%q\ngot:\n%q", specIndex, spec.expOut, got)
		}
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestRelease(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags)
	}()

	specs := []struct {
		restoreErr, closeErr error
		expLog               string
	}{
		{nil, nil, ""},
		{errors.New("ioctl failed"), nil, "/dev/ttyS0: restoring terminal mode: ioctl failed\n"},
		{nil, errors.New("bad file descriptor"), "/dev/ttyS0: bad file descriptor\n"},
		{
			errors.New("ioctl failed"),
			errors.New("bad file descriptor"),
			"/dev/ttyS0: restoring terminal mode: ioctl failed\n/dev/ttyS0: bad file descriptor\n",
		},
	}

	for specIndex, spec := range specs {
		buf.Reset()
		var closed bool

		release("/dev/ttyS0",
			func() error { return spec.restoreErr },
			closerFunc(func() error { closed = true; return spec.closeErr }),
		)

		if !closed {
			t.Errorf("[spec %d] expected the device to be closed", specIndex)
		}

		if got := buf.String(); got != spec.expLog {
			t.Errorf("[spec %d] expected log %q; got %q", specIndex, spec.expLog, got)
		}
	}
}
