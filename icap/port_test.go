// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package icap

import (
	"errors"
	"io"
	"log"
	"reflect"
	"testing"

	bit "github.com/go-lpc/prc/bitstream"
)

type op struct {
	kind  string
	words []uint32
}

type fakeTransport struct {
	ops  []op
	data [][]uint32 // words served to successive reads

	n    int
	fail int // index (1-based) of the failing operation
	err  error

	closed bool
}

func (tr *fakeTransport) next() error {
	tr.n++
	if tr.n == tr.fail {
		return tr.err
	}
	return nil
}

func (tr *fakeTransport) Write(p []uint32) error {
	err := tr.next()
	if err != nil {
		return err
	}
	tr.ops = append(tr.ops, op{"write", append([]uint32(nil), p...)})
	return nil
}

func (tr *fakeTransport) Read(p []uint32) error {
	err := tr.next()
	if err != nil {
		return err
	}
	if len(tr.data) > 0 {
		copy(p, tr.data[0])
		tr.data = tr.data[1:]
	}
	tr.ops = append(tr.ops, op{"read", make([]uint32, len(p))})
	return nil
}

func (tr *fakeTransport) Close() error {
	tr.closed = true
	return nil
}

type fakeGSR struct {
	fakeTransport
}

func (tr *fakeGSR) GSR() error {
	err := tr.next()
	if err != nil {
		return err
	}
	tr.ops = append(tr.ops, op{kind: "gsr"})
	return nil
}

func newTestPort(tr Transport, opts ...Option) *Port {
	opts = append([]Option{WithLogger(log.New(io.Discard, "icap: ", 0))}, opts...)
	return New(tr, opts...)
}

func TestPortReadFrame(t *testing.T) {
	const far = 0x00400100
	raw := make([]uint32, padWords+3)
	for i := range raw[:padWords] {
		raw[i] = 0xABABABAB
	}
	copy(raw[padWords:], []uint32{1, 2, 3})

	tr := &fakeTransport{data: [][]uint32{raw}}
	port := newTestPort(tr)

	dst := make([]uint32, 3)
	err := port.ReadFrame(far, dst)
	if err != nil {
		t.Fatalf("could not read frame: %+v", err)
	}

	if got, want := dst, []uint32{1, 2, 3}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid frame: got=%v, want=%v", got, want)
	}

	want := []op{
		{"write", ReadFrameCmd(far, padWords+3)},
		{"read", make([]uint32, padWords+3)},
		{"write", ReadFrameTrailer()},
	}
	if got := tr.ops; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid transaction:\ngot= %v\nwant=%v", got, want)
	}
}

func TestPortWriteFrame(t *testing.T) {
	const far = bit.CLBFrame
	tr := &fakeTransport{}
	port := newTestPort(tr)

	src := []uint32{0xDEADBEEF, 0xCAFEBABE}
	err := port.WriteFrame(far, src)
	if err != nil {
		t.Fatalf("could not write frame: %+v", err)
	}

	want := []op{
		{"write", WriteFrameCmd(far, 2)},
		{"write", src},
		{"write", WriteFrameTrailer()},
	}
	if got := tr.ops; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid transaction:\ngot= %v\nwant=%v", got, want)
	}
}

func TestPortFailures(t *testing.T) {
	errBoom := errors.New("boom")
	for _, tc := range []struct {
		name string
		fail int
		f    func(p *Port) error
	}{
		{
			name: "read-frame-header",
			fail: 1,
			f:    func(p *Port) error { return p.ReadFrame(1, make([]uint32, 2)) },
		},
		{
			name: "read-frame-data",
			fail: 2,
			f:    func(p *Port) error { return p.ReadFrame(1, make([]uint32, 2)) },
		},
		{
			name: "read-frame-trailer",
			fail: 3,
			f:    func(p *Port) error { return p.ReadFrame(1, make([]uint32, 2)) },
		},
		{
			name: "write-frame-header",
			fail: 1,
			f:    func(p *Port) error { return p.WriteFrame(1, make([]uint32, 2)) },
		},
		{
			name: "write-frame-payload",
			fail: 2,
			f:    func(p *Port) error { return p.WriteFrame(1, make([]uint32, 2)) },
		},
		{
			name: "write-frame-trailer",
			fail: 3,
			f:    func(p *Port) error { return p.WriteFrame(1, make([]uint32, 2)) },
		},
		{
			name: "gcapture",
			fail: 1,
			f:    func(p *Port) error { return p.GCapture() },
		},
		{
			name: "grestore",
			fail: 1,
			f:    func(p *Port) error { return p.GRestore() },
		},
		{
			name: "grestore-gsr-first",
			fail: 1,
			f:    func(p *Port) error { return p.GRestoreGSR() },
		},
		{
			name: "grestore-gsr-gsr",
			fail: 2,
			f:    func(p *Port) error { return p.GRestoreGSR() },
		},
		{
			name: "grestore-gsr-second",
			fail: 3,
			f:    func(p *Port) error { return p.GRestoreGSR() },
		},
		{
			name: "write",
			fail: 1,
			f:    func(p *Port) error { return p.Write([]uint32{1}) },
		},
		{
			name: "read",
			fail: 1,
			f:    func(p *Port) error { return p.Read(make([]uint32, 1)) },
		},
		{
			name: "read-register",
			fail: 2,
			f: func(p *Port) error {
				_, err := p.ReadRegister(bit.RegSTAT)
				return err
			},
		},
		{
			name: "clear-crc",
			fail: 1,
			f:    func(p *Port) error { return p.ClearCRC() },
		},
		{
			name: "switch-bottom-second",
			fail: 2,
			f:    func(p *Port) error { return p.Switch(Bottom) },
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tr := &fakeGSR{fakeTransport{fail: tc.fail, err: errBoom}}
			port := newTestPort(tr)

			err := tc.f(port)
			if !errors.Is(err, errBoom) {
				t.Fatalf("invalid error: got=%+v, want=%+v", err, errBoom)
			}
			if got, want := tr.n, tc.fail; got != want {
				t.Fatalf("transaction not aborted: got=%d operations, want=%d", got, want)
			}
		})
	}
}

func TestPortStatusError(t *testing.T) {
	tr := &fakeTransport{fail: 1, err: &StatusError{Code: 0xBAD}}
	port := newTestPort(tr)

	err := port.GCapture()
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("invalid error: %+v", err)
	}
	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("invalid error type: %T", err)
	}
	if got, want := serr.Code, uint32(0xBAD); got != want {
		t.Fatalf("invalid status code: got=0x%x, want=0x%x", got, want)
	}
}

func TestPortGRestore(t *testing.T) {
	t.Run("single-shot", func(t *testing.T) {
		tr := &fakeTransport{}
		port := newTestPort(tr)
		err := port.GRestore()
		if err != nil {
			t.Fatalf("could not restore: %+v", err)
		}
		want := []op{{"write", GRestoreCmd()}}
		if got := tr.ops; !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid transaction:\ngot= %v\nwant=%v", got, want)
		}
	})

	t.Run("gsr", func(t *testing.T) {
		tr := &fakeGSR{}
		port := newTestPort(tr)
		err := port.GRestoreGSR()
		if err != nil {
			t.Fatalf("could not restore: %+v", err)
		}
		cmd := GRestoreCmd()
		want := []op{
			{"write", cmd[:32]},
			{kind: "gsr"},
			{"write", cmd[32:]},
		}
		if got := tr.ops; !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid transaction:\ngot= %v\nwant=%v", got, want)
		}
		if got, want := len(tr.ops[2].words), 86; got != want {
			t.Fatalf("invalid remainder length: got=%d, want=%d", got, want)
		}
	})

	t.Run("gsr-unsupported", func(t *testing.T) {
		tr := &fakeTransport{}
		port := newTestPort(tr)
		err := port.GRestoreGSR()
		if !errors.Is(err, ErrUnsupported) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrUnsupported)
		}
		if len(tr.ops) != 0 {
			t.Fatalf("restore script sent without GSR: %v", tr.ops)
		}
		if port.CanGSR() {
			t.Fatalf("port should not issue GSR")
		}
	})

	t.Run("gsr-delegate", func(t *testing.T) {
		var (
			tr  = &fakeTransport{}
			gsr = &fakeGSR{}
		)
		port := newTestPort(tr, WithGSR(gsr))
		err := port.GSR()
		if err != nil {
			t.Fatalf("could not issue GSR: %+v", err)
		}
		if got, want := gsr.ops, []op{{kind: "gsr"}}; !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid GSR operations: got=%v, want=%v", got, want)
		}
		if len(tr.ops) != 0 {
			t.Fatalf("unexpected transport operations: %v", tr.ops)
		}
		if !port.CanGSR() {
			t.Fatalf("port should issue GSR")
		}
	})
}

func TestPortReadRegister(t *testing.T) {
	const raw = 0x01020304
	for _, tc := range []struct {
		name    string
		reg     bit.Register
		bitswap bool
		want    uint32
	}{
		{"stat", bit.RegSTAT, false, raw},
		{"stat-bitswap", bit.RegSTAT, true, 0x8040C020},
		{"idcode-bitswap", bit.RegIDCODE, true, raw},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tr := &fakeTransport{data: [][]uint32{{raw}}}
			port := newTestPort(tr, WithBitswap(tc.bitswap))

			v, err := port.ReadRegister(tc.reg)
			if err != nil {
				t.Fatalf("could not read register: %+v", err)
			}
			if got, want := v, tc.want; got != want {
				t.Fatalf("invalid register value: got=0x%08x, want=0x%08x", got, want)
			}

			want := []op{
				{"write", ReadRegCmd(tc.reg)},
				{"read", make([]uint32, 1)},
				{"write", ReadRegTrailer()},
			}
			if got := tr.ops; !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid transaction:\ngot= %v\nwant=%v", got, want)
			}
		})
	}
}

func TestPortScripts(t *testing.T) {
	for _, tc := range []struct {
		name string
		f    func(p *Port) error
		want []op
	}{
		{
			name: "gcapture",
			f:    func(p *Port) error { return p.GCapture() },
			want: []op{{"write", GCaptureCmd()}},
		},
		{
			name: "clear-crc",
			f:    func(p *Port) error { return p.ClearCRC() },
			want: []op{{"write", ClearCRCCmd()}},
		},
		{
			name: "switch-bottom",
			f:    func(p *Port) error { return p.Switch(Bottom) },
			want: []op{{"write", SwitchCmd(Bottom)}, {"write", SwitchCmd(Bottom)}},
		},
		{
			name: "switch-top",
			f:    func(p *Port) error { return p.Switch(Top) },
			want: []op{{"write", SwitchCmd(Top)}},
		},
		{
			name: "write",
			f:    func(p *Port) error { return p.Write([]uint32{1, 2, 3}) },
			want: []op{{"write", []uint32{1, 2, 3}}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tr := &fakeTransport{}
			port := newTestPort(tr)
			err := tc.f(port)
			if err != nil {
				t.Fatalf("could not run script: %+v", err)
			}
			if got, want := tr.ops, tc.want; !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid transaction:\ngot= %v\nwant=%v", got, want)
			}
		})
	}
}

// oversized asks for more FDRO words than a type-2 packet can hold.
type oversized struct {
	fakeTransport
}

func (*oversized) fdroWords(n int) int { return bit.MaxType2Count + 1 }

func TestPortFrameLength(t *testing.T) {
	tr := &oversized{}
	port := newTestPort(tr)
	err := port.ReadFrame(0x00400100, make([]uint32, 1))
	if !errors.Is(err, bit.ErrPacketLength) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, bit.ErrPacketLength)
	}
	if len(tr.ops) != 0 {
		t.Fatalf("readback command sent with a truncated length: %v", tr.ops)
	}
}

func TestPortClose(t *testing.T) {
	tr := &fakeTransport{}
	port := newTestPort(tr)
	err := port.Close()
	if err != nil {
		t.Fatalf("could not close port: %+v", err)
	}
	if !tr.closed {
		t.Fatalf("transport not closed")
	}

	var (
		sw  = &fakeTransport{}
		gsr = &fakeGSR{}
	)
	port = newTestPort(sw, WithGSR(gsr))
	port.closers = append(port.closers, gsr)
	err = port.Close()
	if err != nil {
		t.Fatalf("could not close port: %+v", err)
	}
	if !sw.closed || !gsr.closed {
		t.Fatalf("devices not closed: transport=%v, gsr=%v", sw.closed, gsr.closed)
	}
}

func TestBitswap(t *testing.T) {
	for _, tc := range []struct {
		v, want uint32
	}{
		{0x00000000, 0x00000000},
		{0xFFFFFFFF, 0xFFFFFFFF},
		{0x01020304, 0x8040C020},
		{0x80000001, 0x01000080},
	} {
		if got, want := Bitswap(tc.v), tc.want; got != want {
			t.Fatalf("invalid bitswap(0x%08x): got=0x%08x, want=0x%08x", tc.v, got, want)
		}
		if got, want := Bitswap(Bitswap(tc.v)), tc.v; got != want {
			t.Fatalf("bitswap not an involution: got=0x%08x, want=0x%08x", got, want)
		}
	}
}
