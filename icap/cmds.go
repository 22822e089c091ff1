// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package icap

import (
	bit "github.com/go-lpc/prc/bitstream"
)

const (
	// padWords is the number of leading words of a frame readback that
	// belong to the pad frame and the dummy word.
	padWords = 82

	// GRestoreSplit is the number of leading words of the GRESTORE script
	// sent before the GSR request.
	GRestoreSplit = 32
)

// script is a sequence of configuration words.
type script []uint32

// preamble returns the bus-width detection and synchronization words
// every standalone script starts with.
func preamble() script {
	return script{
		bit.Dummy,
		bit.BusWidthSync,
		bit.BusWidthDetect,
		bit.Dummy,
		bit.SyncWord,
	}
}

func (s script) noop(n int) script {
	for i := 0; i < n; i++ {
		s = append(s, bit.NOOP)
	}
	return s
}

func (s script) write(reg bit.Register, v uint32) script {
	return append(s, uint32(bit.Type1Header(bit.OpWrite, reg, 1)), v)
}

func (s script) cmd(c bit.Command) script {
	return s.write(bit.RegCMD, uint32(c))
}

func (s script) raw(vs ...uint32) script {
	return append(s, vs...)
}

// ReadFrameCmd returns the script reading back frames starting at far.
// fdro is the number of words requested from FDRO, pad frame included.
func ReadFrameCmd(far uint32, fdro int) []uint32 {
	return preamble().
		noop(1).
		cmd(bit.CmdSHUTDOWN).
		noop(1).
		cmd(bit.CmdRCRC).
		noop(6).
		cmd(bit.CmdRCFG).
		noop(1).
		write(bit.RegFAR, far).
		raw(
			uint32(bit.Type1Header(bit.OpRead, bit.RegFDRO, 0)),
			uint32(bit.Type2Header(bit.OpRead, fdro)),
		).
		noop(32)
}

// ReadFrameTrailer returns the script ending a frame readback.
func ReadFrameTrailer() []uint32 {
	return script{}.
		noop(1).
		cmd(bit.CmdSTART).
		noop(1).
		cmd(bit.CmdRCRC).
		noop(1).
		cmd(bit.CmdDESYNC).
		noop(2)
}

// WriteFrameCmd returns the script preparing the write of n words of
// frame data at far.
func WriteFrameCmd(far uint32, n int) []uint32 {
	return preamble().
		noop(1).
		cmd(bit.CmdRCRC).
		noop(4).
		cmd(bit.CmdWCFG).
		noop(1).
		write(bit.RegFAR, far).
		noop(1).
		raw(
			uint32(bit.Type1Header(bit.OpWrite, bit.RegFDRI, 0)),
			uint32(bit.Type2Header(bit.OpWrite, n)),
		)
}

// WriteFrameTrailer returns the script flushing and ending a frame write.
func WriteFrameTrailer() []uint32 {
	return script{}.
		noop(100).
		cmd(bit.CmdDESYNC).
		noop(2)
}

// GCaptureCmd returns the script capturing the state of the user logic
// into the configuration memory.
func GCaptureCmd() []uint32 {
	return preamble().
		noop(2).
		cmd(bit.CmdGCAPTURE).
		noop(1).
		write(bit.RegFAR, 0).
		noop(2).
		cmd(bit.CmdDESYNC).
		noop(2)
}

// GRestoreCmd returns the script restoring the state of the user logic
// from the configuration memory.
func GRestoreCmd() []uint32 {
	return preamble().
		noop(2).
		write(bit.RegMASK, 0x400).
		write(bit.RegCTL0, 0x400).
		cmd(bit.CmdNULL).
		write(bit.RegFAR, 0).
		noop(2).
		cmd(bit.CmdSHUTDOWN).
		noop(5).
		cmd(bit.CmdNULL).
		write(bit.RegFAR, 0).
		// the GRESTORE command word is separated from its CMD header
		// by 2 NOOPs.
		raw(uint32(bit.Type1Header(bit.OpWrite, bit.RegCMD, 1))).
		noop(2).
		raw(uint32(bit.CmdGRESTORE)).
		noop(1).
		write(bit.RegMASK, 0x1000).
		write(bit.RegCTL1, 0).
		cmd(bit.CmdDGHIGH).
		noop(56).
		cmd(bit.CmdSTART).
		noop(1).
		write(bit.RegFAR, 0x00EF8000).
		cmd(bit.CmdDESYNC).
		noop(16)
}

// ReadRegCmd returns the script reading one word from register reg.
func ReadRegCmd(reg bit.Register) []uint32 {
	return preamble().
		noop(2).
		raw(uint32(bit.Type1Header(bit.OpRead, reg, 1))).
		noop(2)
}

// ReadRegTrailer returns the script ending a register read.
func ReadRegTrailer() []uint32 {
	return script{}.
		cmd(bit.CmdDESYNC).
		noop(2)
}

// ClearCRCCmd returns the script resetting the CRC register.
func ClearCRCCmd() []uint32 {
	return preamble().
		noop(1).
		cmd(bit.CmdRCRC).
		noop(1).
		cmd(bit.CmdDESYNC).
		noop(2)
}

// Side selects one of the two ICAP primitives of the device.
type Side uint8

const (
	Bottom Side = iota
	Top
)

func (s Side) String() string {
	switch s {
	case Bottom:
		return "bottom"
	case Top:
		return "top"
	default:
		return "unknown"
	}
}

// SwitchCmd returns the script handing the configuration logic over to
// the ICAP primitive of the requested side.
func SwitchCmd(side Side) []uint32 {
	v := uint32(0x40000000)
	if side == Top {
		v = 0
	}
	return preamble().
		noop(1).
		write(bit.RegCTL0, 0x40000000).
		noop(1).
		write(bit.RegMASK, v).
		noop(1).
		cmd(bit.CmdDESYNC).
		noop(2)
}
