// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slot

import (
	"fmt"
	"io"

	"github.com/go-lpc/prc/icap"
)

const (
	readFlag = 0x80000000

	// ExitCmd is the mailbox word requesting a hardware thread to exit.
	ExitCmd = 0xFFFFFFFF
)

// Probe accesses the registers of the hardware thread hosted by a slot,
// through its pair of mailboxes.
type Probe struct {
	in  icap.Mailbox
	out icap.Mailbox

	closers []io.Closer
}

// NewProbe returns a probe sending requests on in and receiving replies
// on out.
func NewProbe(in, out icap.Mailbox) *Probe {
	return &Probe{in: in, out: out}
}

// Layout describes where the mailboxes of the hardware thread of a slot
// live in physical memory.
type Layout struct {
	In   int64 // base address of the request FIFO registers
	Out  int64 // base address of the reply FIFO registers
	Span int   // size of a FIFO register window
}

// DefaultLayout is the memory layout of the reference design.
var DefaultLayout = Layout{
	In:   0xFF200200,
	Out:  0xFF200300,
	Span: 0x100,
}

// OpenProbe maps the mailboxes described by layout from the memory
// device fname (usually /dev/mem).
func OpenProbe(fname string, layout Layout, opts ...icap.Option) (*Probe, error) {
	in, err := icap.OpenFIFO(fname, layout.In, layout.Span, opts...)
	if err != nil {
		return nil, fmt.Errorf("slot: could not open request mailbox: %w", err)
	}
	out, err := icap.OpenFIFO(fname, layout.Out, layout.Span, opts...)
	if err != nil {
		_ = in.Close()
		return nil, fmt.Errorf("slot: could not open reply mailbox: %w", err)
	}
	p := NewProbe(in, out)
	p.closers = []io.Closer{in, out}
	return p, nil
}

// Close releases the mailboxes mapped by OpenProbe.
func (p *Probe) Close() error {
	var err error
	for _, c := range p.closers {
		e := c.Close()
		if e != nil && err == nil {
			err = e
		}
	}
	p.closers = nil
	return err
}

// Set writes v to the register reg.
func (p *Probe) Set(reg, v uint32) error {
	err := p.in.Put(reg)
	if err != nil {
		return fmt.Errorf("slot: could not select register %d: %w", reg, err)
	}
	err = p.in.Put(v)
	if err != nil {
		return fmt.Errorf("slot: could not write register %d: %w", reg, err)
	}
	return nil
}

// Get reads the register reg.
func (p *Probe) Get(reg uint32) (uint32, error) {
	err := p.in.Put(reg | readFlag)
	if err != nil {
		return 0, fmt.Errorf("slot: could not select register %d: %w", reg, err)
	}
	v, err := p.out.Get()
	if err != nil {
		return 0, fmt.Errorf("slot: could not read register %d: %w", reg, err)
	}
	return v, nil
}

// Exit requests the hardware thread to exit.
func (p *Probe) Exit() error {
	err := p.in.Put(ExitCmd)
	if err != nil {
		return fmt.Errorf("slot: could not send exit command: %w", err)
	}
	return nil
}

type initer interface {
	Init() error
}

// Reset prepares the mailboxes for the hardware thread of a freshly
// configured slot, discarding the events left by the previous one.
func (p *Probe) Reset() error {
	for _, mb := range []icap.Mailbox{p.in, p.out} {
		r, ok := mb.(initer)
		if !ok {
			continue
		}
		err := r.Init()
		if err != nil {
			return fmt.Errorf("slot: could not reset mailbox: %w", err)
		}
	}
	return nil
}

var (
	_ initer = (*icap.FIFO)(nil)
)
