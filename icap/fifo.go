// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package icap

import (
	"fmt"
	"io"
	"time"

	"github.com/go-lpc/prc/internal/mmap"
)

// Registers is a window of 32-bit registers.
type Registers interface {
	U32(off int64) (uint32, error)
	SetU32(off int64, v uint32) error
}

// Altera Avalon FIFO control and status registers.
const (
	fifoLevelReg = 4 * iota
	fifoStatusReg
	fifoEventReg
	fifoIEnableReg
)

const (
	fifoStatusFull  = 1 << 0
	fifoStatusEmpty = 1 << 1
	fifoEventAll    = 0x3F

	// fifoCSR is the offset of the control and status registers
	// within a FIFO window.
	fifoCSR = 0x20
)

// FIFO is a mailbox over the memory-mapped registers of a FIFO.
type FIFO struct {
	regs Registers
	data int64 // offset of the data register
	csr  int64 // offset of the control and status registers

	poll    time.Duration
	timeout time.Duration

	closer io.Closer
}

// NewFIFO returns a mailbox over the FIFO whose data register is at
// offset data and whose control and status registers start at csr.
func NewFIFO(regs Registers, data, csr int64, opts ...Option) *FIFO {
	cfg := newConfig(opts)
	return &FIFO{
		regs:    regs,
		data:    data,
		csr:     csr,
		poll:    cfg.poll,
		timeout: cfg.timeout,
	}
}

// OpenFIFO maps the registers of the FIFO whose window of span bytes
// starts at base in the memory device fname, and initializes it.
func OpenFIFO(fname string, base int64, span int, opts ...Option) (*FIFO, error) {
	regs, err := mmap.Open(fname, base, span)
	if err != nil {
		return nil, err
	}
	fifo := NewFIFO(regs, 0, fifoCSR, opts...)
	fifo.closer = regs

	err = fifo.Init()
	if err != nil {
		_ = regs.Close()
		return nil, err
	}
	return fifo, nil
}

// Close releases the registers mapped by OpenFIFO.
func (fifo *FIFO) Close() error {
	if fifo.closer == nil {
		return nil
	}
	err := fifo.closer.Close()
	fifo.closer = nil
	return err
}

// Init clears the pending events of the FIFO and disables its interrupts.
func (fifo *FIFO) Init() error {
	err := fifo.regs.SetU32(fifo.csr+fifoEventReg, fifoEventAll)
	if err != nil {
		return fmt.Errorf("icap: could not clear FIFO events: %w", err)
	}
	err = fifo.regs.SetU32(fifo.csr+fifoIEnableReg, 0)
	if err != nil {
		return fmt.Errorf("icap: could not disable FIFO interrupts: %w", err)
	}
	return nil
}

// Level returns the number of words held by the FIFO.
func (fifo *FIFO) Level() (uint32, error) {
	return fifo.regs.U32(fifo.csr + fifoLevelReg)
}

// Put implements Mailbox.
func (fifo *FIFO) Put(v uint32) error {
	err := fifo.wait(fifoStatusFull)
	if err != nil {
		return fmt.Errorf("icap: could not put 0x%x: %w", v, err)
	}
	return fifo.regs.SetU32(fifo.data, v)
}

// Get implements Mailbox.
func (fifo *FIFO) Get() (uint32, error) {
	err := fifo.wait(fifoStatusEmpty)
	if err != nil {
		return 0, fmt.Errorf("icap: could not get word: %w", err)
	}
	return fifo.regs.U32(fifo.data)
}

// wait polls the status register until all the bits of mask are cleared,
// or the timeout, if any, expires.
func (fifo *FIFO) wait(mask uint32) error {
	deadline := time.Now().Add(fifo.timeout)
	for {
		st, err := fifo.regs.U32(fifo.csr + fifoStatusReg)
		if err != nil {
			return err
		}
		if st&mask == 0 {
			return nil
		}
		if fifo.timeout > 0 && time.Now().After(deadline) {
			return fmt.Errorf("icap: FIFO status=0x%x: %w", st, ErrTimeout)
		}
		time.Sleep(fifo.poll)
	}
}

var (
	_ Mailbox = (*FIFO)(nil)
)
