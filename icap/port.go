// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package icap

import (
	"fmt"
	"io"
	"log"
	"math/bits"
	"sync"

	bit "github.com/go-lpc/prc/bitstream"
)

// Port sequences ICAP transactions over a transport.
// A Port is safe for concurrent use: each transaction runs to completion
// before another one is started.
type Port struct {
	mu  sync.Mutex
	tr  Transport
	msg *log.Logger
	cfg config

	closers []io.Closer // devices opened along with the transport
}

// New returns a port over the provided transport.
func New(tr Transport, opts ...Option) *Port {
	cfg := newConfig(opts)
	return &Port{
		tr:  tr,
		msg: cfg.msg,
		cfg: cfg,
	}
}

// Close closes the underlying transport.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.tr.Close()
	for _, c := range p.closers {
		e := c.Close()
		if e != nil && err == nil {
			err = e
		}
	}
	p.closers = nil
	return err
}

// begin returns the transport to use for a compound transaction and the
// function ending it.
func (p *Port) begin() (Transport, func() error, error) {
	s, ok := p.tr.(sessioner)
	if !ok {
		return p.tr, func() error { return nil }, nil
	}
	tr, err := s.session()
	if err != nil {
		return nil, nil, err
	}
	return tr, tr.Close, nil
}

// Write sends the words of buf, verbatim, to the ICAP.
func (p *Port) Write(buf []uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.tr.Write(buf)
	if err != nil {
		return fmt.Errorf("icap: could not write %d words: %w", len(buf), err)
	}
	return nil
}

// Read reads len(buf) words from the ICAP.
func (p *Port) Read(buf []uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.tr.Read(buf)
	if err != nil {
		return fmt.Errorf("icap: could not read %d words: %w", len(buf), err)
	}
	return nil
}

// ReadFrame reads back len(dst) words of configuration data starting at
// the frame address far.
func (p *Port) ReadFrame(far uint32, dst []uint32) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(dst) + padWords
	fdro := n
	if sz, ok := p.tr.(fdroSizer); ok {
		fdro = sz.fdroWords(n)
	}
	err = bit.CheckCount(bit.Type2, fdro)
	if err != nil {
		return fmt.Errorf("icap: could not read frame 0x%08x: %w", far, err)
	}

	tr, end, err := p.begin()
	if err != nil {
		return fmt.Errorf("icap: could not read frame 0x%08x: %w", far, err)
	}
	defer func() {
		e := end()
		if e != nil && err == nil {
			err = fmt.Errorf("icap: could not end frame readback: %w", e)
		}
	}()

	err = tr.Write(ReadFrameCmd(far, fdro))
	if err != nil {
		return fmt.Errorf("icap: could not send readback command (far=0x%08x): %w", far, err)
	}

	buf := make([]uint32, n)
	err = tr.Read(buf)
	if err != nil {
		return fmt.Errorf("icap: could not read back frame (far=0x%08x, words=%d): %w", far, len(dst), err)
	}

	err = tr.Write(ReadFrameTrailer())
	if err != nil {
		return fmt.Errorf("icap: could not send readback trailer (far=0x%08x): %w", far, err)
	}

	copy(dst, buf[padWords:])
	return nil
}

// WriteFrame writes the words of src as configuration data starting at
// the frame address far.
func (p *Port) WriteFrame(far uint32, src []uint32) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	err = bit.CheckCount(bit.Type2, len(src))
	if err != nil {
		return fmt.Errorf("icap: could not write frame 0x%08x: %w", far, err)
	}

	tr, end, err := p.begin()
	if err != nil {
		return fmt.Errorf("icap: could not write frame 0x%08x: %w", far, err)
	}
	defer func() {
		e := end()
		if e != nil && err == nil {
			err = fmt.Errorf("icap: could not end frame write: %w", e)
		}
	}()

	err = tr.Write(WriteFrameCmd(far, len(src)))
	if err != nil {
		return fmt.Errorf("icap: could not send frame write command (far=0x%08x): %w", far, err)
	}

	err = tr.Write(src)
	if err != nil {
		return fmt.Errorf("icap: could not write frame (far=0x%08x, words=%d): %w", far, len(src), err)
	}

	err = tr.Write(WriteFrameTrailer())
	if err != nil {
		return fmt.Errorf("icap: could not send frame write trailer (far=0x%08x): %w", far, err)
	}

	return nil
}

// GCapture captures the state of the user logic registers into the
// configuration memory.
func (p *Port) GCapture() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.tr.Write(GCaptureCmd())
	if err != nil {
		return fmt.Errorf("icap: could not send GCAPTURE: %w", err)
	}
	return nil
}

// GRestore restores the state of the user logic registers from the
// configuration memory, with the GRESTORE command.
func (p *Port) GRestore() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.tr.Write(GRestoreCmd())
	if err != nil {
		return fmt.Errorf("icap: could not send GRESTORE: %w", err)
	}
	return nil
}

// GRestoreGSR restores the state of the user logic registers from the
// configuration memory, with a global set/reset issued in the middle of
// the GRESTORE script.
// Nothing is sent to the ICAP when the port cannot issue a GSR.
func (p *Port) GRestoreGSR() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, err := p.gsrer()
	if err != nil {
		return err
	}

	cmd := GRestoreCmd()
	err = p.tr.Write(cmd[:GRestoreSplit])
	if err != nil {
		return fmt.Errorf("icap: could not send first restore sequence: %w", err)
	}

	err = p.gsr(g)
	if err != nil {
		return err
	}

	err = p.tr.Write(cmd[GRestoreSplit:])
	if err != nil {
		return fmt.Errorf("icap: could not send second restore sequence: %w", err)
	}
	return nil
}

// GSR triggers a global set/reset of the user logic.
func (p *Port) GSR() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, err := p.gsrer()
	if err != nil {
		return err
	}
	return p.gsr(g)
}

// CanGSR reports whether the port can issue global set/reset requests.
func (p *Port) CanGSR() bool {
	_, err := p.gsrer()
	return err == nil
}

func (p *Port) gsrer() (GSRer, error) {
	if p.cfg.gsr != nil {
		return p.cfg.gsr, nil
	}
	g, ok := p.tr.(GSRer)
	if !ok {
		return nil, fmt.Errorf("icap: could not issue GSR: %w", ErrUnsupported)
	}
	return g, nil
}

func (p *Port) gsr(g GSRer) error {
	err := g.GSR()
	if err != nil {
		return fmt.Errorf("icap: could not issue GSR: %w", err)
	}
	return nil
}

// ReadRegister reads the configuration register reg.
func (p *Port) ReadRegister(reg bit.Register) (v uint32, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tr, end, err := p.begin()
	if err != nil {
		return 0, fmt.Errorf("icap: could not read register %v: %w", reg, err)
	}
	defer func() {
		e := end()
		if e != nil && err == nil {
			err = fmt.Errorf("icap: could not end register read: %w", e)
		}
	}()

	err = tr.Write(ReadRegCmd(reg))
	if err != nil {
		return 0, fmt.Errorf("icap: could not send register read command (reg=%v): %w", reg, err)
	}

	var buf [1]uint32
	err = tr.Read(buf[:])
	if err != nil {
		return 0, fmt.Errorf("icap: could not read register %v: %w", reg, err)
	}

	err = tr.Write(ReadRegTrailer())
	if err != nil {
		return 0, fmt.Errorf("icap: could not send register read trailer (reg=%v): %w", reg, err)
	}

	v = buf[0]
	if p.cfg.bitswap && reg == bit.RegSTAT {
		v = Bitswap(v)
	}
	return v, nil
}

// ClearCRC resets the CRC register of the configuration logic.
func (p *Port) ClearCRC() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.tr.Write(ClearCRCCmd())
	if err != nil {
		return fmt.Errorf("icap: could not clear CRC: %w", err)
	}
	return nil
}

// Switch hands the configuration logic over to the ICAP primitive of
// the requested side.
func (p *Port) Switch(side Side) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 1
	if side == Bottom {
		// the bottom primitive only takes over after the second request.
		n = 2
	}
	cmd := SwitchCmd(side)
	for i := 0; i < n; i++ {
		err := p.tr.Write(cmd)
		if err != nil {
			return fmt.Errorf("icap: could not switch to %v ICAP: %w", side, err)
		}
	}
	p.msg.Printf("switched to %v ICAP", side)
	return nil
}

// Bitswap reverses the order of the bits within each byte of v.
func Bitswap(v uint32) uint32 {
	return uint32(bits.Reverse8(uint8(v>>24)))<<24 |
		uint32(bits.Reverse8(uint8(v>>16)))<<16 |
		uint32(bits.Reverse8(uint8(v>>8)))<<8 |
		uint32(bits.Reverse8(uint8(v)))
}
