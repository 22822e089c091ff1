// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package icap

import (
	"fmt"
	"io"

	"github.com/go-lpc/prc/internal/mmap"
)

// Memory is a DMA window shared with the hardware ICAP thread.
type Memory interface {
	io.ReaderAt
	io.WriterAt
	Len() int
}

// HW is the transport to the hardware ICAP thread.
//
// Each transfer stages the words in the DMA window, sends the physical
// address of the window and the transfer size (in bytes, with the lowest
// bit set for reads) through the request mailbox, and waits for a single
// status word on the reply mailbox.
type HW struct {
	req  Mailbox
	resp Mailbox
	mem  Memory
	addr uint32 // physical address of mem

	cfg   config
	chunk int
	buf   []byte

	closers []io.Closer
}

// NewHW returns a hardware transport.
func NewHW(req, resp Mailbox, mem Memory, addr uint32, opts ...Option) *HW {
	cfg := newConfig(opts)
	chunk := mem.Len() / 4
	if cfg.chunk > 0 && cfg.chunk < chunk {
		chunk = cfg.chunk
	}
	if chunk < 1 {
		chunk = 1
	}
	return &HW{
		req:   req,
		resp:  resp,
		mem:   mem,
		addr:  addr,
		cfg:   cfg,
		chunk: chunk,
		buf:   make([]byte, 4*chunk),
	}
}

// Layout describes where the hardware ICAP thread resources live in
// physical memory.
type Layout struct {
	Req  int64 // base address of the request FIFO registers
	Resp int64 // base address of the reply FIFO registers
	Span int   // size of a FIFO register window

	DMA     int64 // base address of the DMA window
	DMASize int   // size of the DMA window, in bytes
}

// DefaultLayout is the memory layout of the reference design.
var DefaultLayout = Layout{
	Req:     0xFF200000,
	Resp:    0xFF200100,
	Span:    0x100,
	DMA:     0x3F000000,
	DMASize: 1 << 20,
}

// OpenHW maps the hardware ICAP thread resources described by layout
// from the memory device fname (usually /dev/mem).
func OpenHW(fname string, layout Layout, opts ...Option) (*HW, error) {
	var (
		closers []io.Closer
		err     error
	)
	defer func() {
		if err == nil {
			return
		}
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	in, err := OpenFIFO(fname, layout.Req, layout.Span, opts...)
	if err != nil {
		return nil, fmt.Errorf("icap: could not open request FIFO: %w", err)
	}
	closers = append(closers, in)

	out, err := OpenFIFO(fname, layout.Resp, layout.Span, opts...)
	if err != nil {
		return nil, fmt.Errorf("icap: could not open reply FIFO: %w", err)
	}
	closers = append(closers, out)

	mem, err := mmap.Open(fname, layout.DMA, layout.DMASize)
	if err != nil {
		return nil, fmt.Errorf("icap: could not map DMA window: %w", err)
	}
	closers = append(closers, mem)

	hw := NewHW(in, out, mem, uint32(layout.DMA), opts...)
	hw.closers = closers
	return hw, nil
}

// Write implements Transport.
func (hw *HW) Write(p []uint32) error {
	for len(p) > 0 {
		n := len(p)
		if n > hw.chunk {
			n = hw.chunk
		}
		raw := hw.buf[:4*n]
		encodeWords(raw, p[:n])
		_, err := hw.mem.WriteAt(raw, 0)
		if err != nil {
			return &TransportError{Op: "write", Want: n, Err: err}
		}
		err = hw.transfer(uint32(len(raw)))
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// Read implements Transport.
func (hw *HW) Read(p []uint32) error {
	for len(p) > 0 {
		n := len(p)
		if n > hw.chunk {
			n = hw.chunk
		}
		raw := hw.buf[:4*n]
		err := hw.transfer(uint32(len(raw)) | 1)
		if err != nil {
			return err
		}
		err = hw.cfg.flush()
		if err != nil {
			return fmt.Errorf("icap: could not flush DMA window: %w", err)
		}
		_, err = hw.mem.ReadAt(raw, 0)
		if err != nil {
			return &TransportError{Op: "read", Want: n, Err: err}
		}
		decodeWords(p[:n], raw)
		p = p[n:]
	}
	return nil
}

// GSR triggers a global set/reset of the user logic.
func (hw *HW) GSR() error {
	return hw.request(0, 2)
}

func (hw *HW) transfer(size uint32) error {
	return hw.request(hw.addr, size)
}

func (hw *HW) request(addr, size uint32) error {
	err := hw.req.Put(addr)
	if err != nil {
		return fmt.Errorf("icap: could not send address: %w", err)
	}
	err = hw.req.Put(size)
	if err != nil {
		return fmt.Errorf("icap: could not send size: %w", err)
	}
	code, err := hw.resp.Get()
	if err != nil {
		return fmt.Errorf("icap: could not receive status: %w", err)
	}
	if code != StatusOK {
		return &StatusError{Code: code}
	}
	return nil
}

// Close releases the resources mapped by OpenHW.
func (hw *HW) Close() error {
	var err error
	for _, c := range hw.closers {
		e := c.Close()
		if e != nil && err == nil {
			err = e
		}
	}
	hw.closers = nil
	return err
}

var (
	_ Transport = (*HW)(nil)
	_ GSRer     = (*HW)(nil)
)
