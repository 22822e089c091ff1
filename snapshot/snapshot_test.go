// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package snapshot

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/go-lpc/prc/bitstream"
	"github.com/go-lpc/prc/icap"
)

var (
	wFAR  = uint32(bitstream.Type1Header(bitstream.OpWrite, bitstream.RegFAR, 1))
	wFDRI = uint32(bitstream.Type1Header(bitstream.OpWrite, bitstream.RegFDRI, 0))
	wCRC  = uint32(bitstream.Type1Header(bitstream.OpWrite, bitstream.RegCRC, 1))
	wCMD  = uint32(bitstream.Type1Header(bitstream.OpWrite, bitstream.RegCMD, 1))
)

func fdri(n int) uint32 {
	return uint32(bitstream.Type2Header(bitstream.OpWrite, n))
}

// fakeDevice emulates configuration memory where every word read back
// from frame far at index i is far+i.
type fakeDevice struct {
	ops   []string
	wbuf  [][]uint32
	fail  string
	err   error
	noGSR bool
}

func (dev *fakeDevice) do(op string) error {
	dev.ops = append(dev.ops, op)
	if op == dev.fail {
		return dev.err
	}
	return nil
}

func (dev *fakeDevice) Write(buf []uint32) error {
	dev.wbuf = append(dev.wbuf, append([]uint32(nil), buf...))
	return dev.do("write")
}

func (dev *fakeDevice) ReadFrame(far uint32, dst []uint32) error {
	err := dev.do(fmt.Sprintf("read-frame 0x%x %d", far, len(dst)))
	if err != nil {
		return err
	}
	for i := range dst {
		dst[i] = far + uint32(i)
	}
	return nil
}

func (dev *fakeDevice) WriteFrame(far uint32, src []uint32) error {
	dev.wbuf = append(dev.wbuf, append([]uint32(nil), src...))
	return dev.do(fmt.Sprintf("write-frame 0x%x %d", far, len(src)))
}

func (dev *fakeDevice) CanGSR() bool { return !dev.noGSR }

func (dev *fakeDevice) GCapture() error    { return dev.do("gcapture") }
func (dev *fakeDevice) GRestore() error    { return dev.do("grestore") }
func (dev *fakeDevice) GRestoreGSR() error { return dev.do("grestore-gsr") }

func quiet() Option {
	return WithLogger(log.New(io.Discard, "", 0))
}

func newBitstream() *bitstream.Buffer {
	return bitstream.New([]uint32{
		bitstream.Dummy, bitstream.SyncWord, // 0-1
		wCRC, 0x12345678, // 2-3
		wFAR, bitstream.CLBFrame, wFDRI, fdri(2), 0xA, 0xB, // 4-9
		wFAR, 0x00400100, wFDRI, fdri(3), 0, 0, 0, // 10-16
		wFAR, 0x00800000, wFDRI, fdri(1), 0, // 17-21
		wCRC, 0x9ABCDEF0, // 22-23
		wCMD, uint32(bitstream.CmdDESYNC), bitstream.NOOP, // 24-26
	})
}

func TestCapture(t *testing.T) {
	for _, tc := range []struct {
		name     string
		skipLast bool
		ops      []string
		want     []uint32
	}{
		{
			name: "all-frames",
			ops: []string{
				"write-frame 0x400000 2",
				"gcapture",
				"read-frame 0x400100 3",
				"read-frame 0x800000 1",
			},
			want: []uint32{
				bitstream.Dummy, bitstream.SyncWord,
				bitstream.NOOP, bitstream.NOOP,
				wFAR, bitstream.CLBFrame, wFDRI, fdri(2), 0xA, 0xB,
				wFAR, 0x00400100, wFDRI, fdri(3), 0x00400100, 0x00400101, 0x00400102,
				wFAR, 0x00800000, wFDRI, fdri(1), 0x00800000,
				bitstream.NOOP, bitstream.NOOP,
				wCMD, uint32(bitstream.CmdDESYNC), bitstream.NOOP,
			},
		},
		{
			name:     "skip-last",
			skipLast: true,
			ops: []string{
				"write-frame 0x400000 2",
				"gcapture",
				"read-frame 0x400100 3",
			},
			want: []uint32{
				bitstream.Dummy, bitstream.SyncWord,
				bitstream.NOOP, bitstream.NOOP,
				wFAR, bitstream.CLBFrame, wFDRI, fdri(2), 0xA, 0xB,
				wFAR, 0x00400100, wFDRI, fdri(3), 0x00400100, 0x00400101, 0x00400102,
				wFAR, 0x00800000, wFDRI, fdri(1), 0,
				bitstream.NOOP, bitstream.NOOP,
				wCMD, uint32(bitstream.CmdDESYNC), bitstream.NOOP,
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			src := newBitstream()
			orig := src.Clone()

			dev := &fakeDevice{}
			out, err := Capture(dev, src, quiet(), WithSkipLast(tc.skipLast))
			if err != nil {
				t.Fatalf("could not capture: %+v", err)
			}

			if got, want := dev.ops, tc.ops; !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid operations:\ngot= %q\nwant=%q", got, want)
			}
			if got, want := dev.wbuf[0], []uint32{0xA, 0xB}; !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid CLB frame: got=%x, want=%x", got, want)
			}
			if got, want := out.Words, tc.want; !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid capture:\ngot= %08x\nwant=%08x", got, want)
			}
			if !reflect.DeepEqual(src.Words, orig.Words) {
				t.Fatalf("source bitstream modified")
			}
		})
	}
}

func TestCaptureSingleFrameSkipLast(t *testing.T) {
	src := bitstream.New([]uint32{
		bitstream.SyncWord, wFAR, bitstream.CLBFrame, wFDRI, fdri(1), 0xA, bitstream.NOOP,
	})
	dev := &fakeDevice{}
	_, err := Capture(dev, src, quiet(), WithSkipLast(true))
	if err != nil {
		t.Fatalf("could not capture: %+v", err)
	}
	if got, want := dev.ops, []string{"write-frame 0x400000 1", "gcapture"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid operations: got=%q, want=%q", got, want)
	}
}

func TestCaptureErrors(t *testing.T) {
	errBoom := errors.New("boom")
	for _, tc := range []struct {
		name string
		src  *bitstream.Buffer
		opts []Option
		fail string
		ops  int
		want error
	}{
		{
			name: "no-frames",
			src: bitstream.New([]uint32{
				bitstream.Dummy, bitstream.SyncWord, wCRC, 0, bitstream.NOOP,
			}),
			want: bitstream.ErrNoFrames,
		},
		{
			name: "no-sync",
			src: bitstream.New([]uint32{
				wFAR, bitstream.CLBFrame, wFDRI, fdri(1), 0xA, bitstream.NOOP,
			}),
			want: bitstream.ErrNoFrames,
		},
		{
			name: "missing-clb",
			src: bitstream.New([]uint32{
				bitstream.SyncWord, wFAR, 0x00400100, wFDRI, fdri(1), 0xA, bitstream.NOOP,
			}),
			want: bitstream.ErrMissingCLBFrame,
		},
		{
			name: "malformed",
			src: bitstream.New([]uint32{
				bitstream.SyncWord, wFAR, bitstream.CLBFrame, wFDRI, fdri(10), 0xA,
			}),
			want: bitstream.ErrMalformed,
		},
		{
			name: "overflow",
			src:  newBitstream(),
			opts: []Option{WithMaxFrames(2)},
			want: bitstream.ErrFrameTableOverflow,
		},
		{
			name: "write-frame",
			src:  newBitstream(),
			fail: "write-frame 0x400000 2",
			ops:  1,
			want: errBoom,
		},
		{
			name: "gcapture",
			src:  newBitstream(),
			fail: "gcapture",
			ops:  2,
			want: errBoom,
		},
		{
			name: "read-frame",
			src:  newBitstream(),
			fail: "read-frame 0x400100 3",
			ops:  3,
			want: errBoom,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dev := &fakeDevice{fail: tc.fail, err: errBoom}
			opts := append([]Option{quiet()}, tc.opts...)
			out, err := Capture(dev, tc.src, opts...)
			if !errors.Is(err, tc.want) {
				t.Fatalf("invalid error: got=%+v, want=%+v", err, tc.want)
			}
			if out != nil {
				t.Fatalf("unexpected capture output")
			}
			if got, want := len(dev.ops), tc.ops; got != want {
				t.Fatalf("invalid number of device operations: got=%d (%q), want=%d", got, dev.ops, want)
			}
		})
	}
}

func TestRestore(t *testing.T) {
	errBoom := errors.New("boom")
	buf := newBitstream()
	for _, tc := range []struct {
		name    string
		trigger Trigger
		fail    string
		ops     []string
		err     error
	}{
		{
			name:    "gsr",
			trigger: TriggerGSR,
			ops:     []string{"write", "grestore-gsr"},
		},
		{
			name:    "grestore",
			trigger: TriggerGRestore,
			ops:     []string{"write", "grestore"},
		},
		{
			name:    "none",
			trigger: TriggerNone,
			ops:     []string{"write"},
		},
		{
			name:    "write-error",
			trigger: TriggerGSR,
			fail:    "write",
			ops:     []string{"write"},
			err:     errBoom,
		},
		{
			name:    "trigger-error",
			trigger: TriggerGRestore,
			fail:    "grestore",
			ops:     []string{"write", "grestore"},
			err:     errBoom,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dev := &fakeDevice{fail: tc.fail, err: errBoom}
			err := Restore(dev, buf, quiet(), WithTrigger(tc.trigger))
			switch {
			case tc.err == nil && err != nil:
				t.Fatalf("could not restore: %+v", err)
			case tc.err != nil && !errors.Is(err, tc.err):
				t.Fatalf("invalid error: got=%+v, want=%+v", err, tc.err)
			}
			if got, want := dev.ops, tc.ops; !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid operations: got=%q, want=%q", got, want)
			}
			if got, want := dev.wbuf[0], buf.Words; !reflect.DeepEqual(got, want) {
				t.Fatalf("bitstream not written verbatim")
			}
		})
	}
}

func TestRestoreDefaultTrigger(t *testing.T) {
	for _, tc := range []struct {
		name  string
		noGSR bool
		ops   []string
	}{
		{name: "gsr", ops: []string{"write", "grestore-gsr"}},
		{name: "no-gsr", noGSR: true, ops: []string{"write", "grestore"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dev := &fakeDevice{noGSR: tc.noGSR}
			err := Restore(dev, newBitstream(), quiet())
			if err != nil {
				t.Fatalf("could not restore: %+v", err)
			}
			if got, want := dev.ops, tc.ops; !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid operations: got=%q, want=%q", got, want)
			}
		})
	}
}

func TestRestoreWithoutGSR(t *testing.T) {
	dev := &fakeDevice{noGSR: true}
	err := Restore(dev, newBitstream(), quiet(), WithTrigger(TriggerGSR))
	if !errors.Is(err, icap.ErrUnsupported) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, icap.ErrUnsupported)
	}
	if len(dev.ops) != 0 {
		t.Fatalf("bitstream written without GSR: %q", dev.ops)
	}
}

func TestRestoreSoftwarePort(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "icap0")
	err := os.WriteFile(fname, nil, 0644)
	if err != nil {
		t.Fatalf("could not create device file: %+v", err)
	}
	port, err := icap.Open("sw", fname, icap.WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("could not open port: %+v", err)
	}
	defer port.Close()

	err = Restore(port, newBitstream(), quiet())
	if err != nil {
		t.Fatalf("could not restore: %+v", err)
	}

	// each write starts at the beginning of the device file.
	raw, err := os.ReadFile(fname)
	if err != nil {
		t.Fatalf("could not read device file: %+v", err)
	}
	if got, want := len(raw), 4*len(icap.GRestoreCmd()); got != want {
		t.Fatalf("invalid number of bytes written: got=%d, want=%d", got, want)
	}
}

func TestParseTrigger(t *testing.T) {
	for _, tr := range []Trigger{TriggerGSR, TriggerGRestore, TriggerNone, TriggerAuto} {
		got, err := ParseTrigger(tr.String())
		if err != nil {
			t.Fatalf("could not parse %v: %+v", tr, err)
		}
		if got != tr {
			t.Fatalf("invalid trigger: got=%v, want=%v", got, tr)
		}
	}
	if _, err := ParseTrigger("reboot"); err == nil {
		t.Fatalf("expected an error")
	}
}
