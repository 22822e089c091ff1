// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bitstream

import "fmt"

const (
	SyncWord = 0xAA995566 // synchronization word
	NOOP     = 0x20000000 // type-1 NOOP packet
	Dummy    = 0xFFFFFFFF // dummy/pad word

	BusWidthSync   = 0x000000BB
	BusWidthDetect = 0x11220044

	// CLBFrame is the frame address of the CLB configuration block.
	// It must be the first frame of a capturable bitstream.
	CLBFrame = 0x00400000
)

// PacketType is the type of a configuration packet, held by the
// 3 most significant bits of its header.
type PacketType uint8

const (
	Type1 PacketType = 1
	Type2 PacketType = 2
)

// Opcode is the operation of a configuration packet.
type Opcode uint8

const (
	OpNOOP  Opcode = 0
	OpRead  Opcode = 1
	OpWrite Opcode = 2
)

func (op Opcode) String() string {
	switch op {
	case OpNOOP:
		return "NOOP"
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	default:
		return fmt.Sprintf("Opcode(%d)", uint8(op))
	}
}

// Register is a configuration register address.
type Register uint8

const (
	RegCRC     Register = 0
	RegFAR     Register = 1
	RegFDRI    Register = 2
	RegFDRO    Register = 3
	RegCMD     Register = 4
	RegCTL0    Register = 5
	RegMASK    Register = 6
	RegSTAT    Register = 7
	RegLOUT    Register = 8
	RegCOR0    Register = 9
	RegMFWR    Register = 10
	RegCBC     Register = 11
	RegIDCODE  Register = 12
	RegAXSS    Register = 13
	RegCOR1    Register = 14
	RegWBSTAR  Register = 16
	RegTIMER   Register = 17
	RegBOOTSTS Register = 22
	RegCTL1    Register = 24
)

var regNames = map[Register]string{
	RegCRC:     "CRC",
	RegFAR:     "FAR",
	RegFDRI:    "FDRI",
	RegFDRO:    "FDRO",
	RegCMD:     "CMD",
	RegCTL0:    "CTL0",
	RegMASK:    "MASK",
	RegSTAT:    "STAT",
	RegLOUT:    "LOUT",
	RegCOR0:    "COR0",
	RegMFWR:    "MFWR",
	RegCBC:     "CBC",
	RegIDCODE:  "IDCODE",
	RegAXSS:    "AXSS",
	RegCOR1:    "COR1",
	RegWBSTAR:  "WBSTAR",
	RegTIMER:   "TIMER",
	RegBOOTSTS: "BOOTSTS",
	RegCTL1:    "CTL1",
}

func (reg Register) String() string {
	if name, ok := regNames[reg]; ok {
		return name
	}
	return fmt.Sprintf("Register(%d)", uint8(reg))
}

// ParseRegister returns the register named name.
func ParseRegister(name string) (Register, error) {
	for reg, v := range regNames {
		if v == name {
			return reg, nil
		}
	}
	return 0, fmt.Errorf("bitstream: unknown register %q", name)
}

// Command is a value written to the CMD register.
type Command uint32

const (
	CmdNULL     Command = 0x0
	CmdWCFG     Command = 0x1
	CmdDGHIGH   Command = 0x3
	CmdRCFG     Command = 0x4
	CmdSTART    Command = 0x5
	CmdRCRC     Command = 0x7
	CmdGRESTORE Command = 0xA
	CmdSHUTDOWN Command = 0xB
	CmdGCAPTURE Command = 0xC
	CmdDESYNC   Command = 0xD
)

func (cmd Command) String() string {
	switch cmd {
	case CmdNULL:
		return "NULL"
	case CmdWCFG:
		return "WCFG"
	case CmdDGHIGH:
		return "DGHIGH"
	case CmdRCFG:
		return "RCFG"
	case CmdSTART:
		return "START"
	case CmdRCRC:
		return "RCRC"
	case CmdGRESTORE:
		return "GRESTORE"
	case CmdSHUTDOWN:
		return "SHUTDOWN"
	case CmdGCAPTURE:
		return "GCAPTURE"
	case CmdDESYNC:
		return "DESYNC"
	default:
		return fmt.Sprintf("Command(0x%x)", uint32(cmd))
	}
}

const (
	type1CountMask = 0x7FF
	type2CountMask = 0x7FFFFFF
)

const (
	MaxType1Count = type1CountMask // maximum number of words of a type-1 packet
	MaxType2Count = type2CountMask // maximum number of words of a type-2 packet
)

// CheckCount returns an error if a packet of type typ cannot be followed
// by n words.
func CheckCount(typ PacketType, n int) error {
	limit := 0
	switch typ {
	case Type1:
		limit = MaxType1Count
	case Type2:
		limit = MaxType2Count
	}
	if n < 0 || n > limit {
		return fmt.Errorf("bitstream: %d words for a packet of type %d (max=%d): %w", n, typ, limit, ErrPacketLength)
	}
	return nil
}

// Header is a configuration packet header word.
type Header uint32

// Type1Header returns a type-1 packet header for register reg,
// followed by n words.
// Type1Header panics if n is out of the [0, MaxType1Count] range.
func Type1Header(op Opcode, reg Register, n int) Header {
	if err := CheckCount(Type1, n); err != nil {
		panic(err)
	}
	return Header(uint32(Type1)<<29 |
		uint32(op&0x3)<<27 |
		uint32(reg&0x1F)<<13 |
		uint32(n)&type1CountMask,
	)
}

// Type2Header returns a type-2 packet header, followed by n words.
// Type2Header panics if n is out of the [0, MaxType2Count] range.
func Type2Header(op Opcode, n int) Header {
	if err := CheckCount(Type2, n); err != nil {
		panic(err)
	}
	return Header(uint32(Type2)<<29 |
		uint32(op&0x3)<<27 |
		uint32(n)&type2CountMask,
	)
}

func (hdr Header) Type() PacketType   { return PacketType(hdr >> 29) }
func (hdr Header) Opcode() Opcode     { return Opcode(hdr>>27) & 0x3 }
func (hdr Header) Register() Register { return Register(hdr>>13) & 0x1F }

// Count returns the number of words following the header.
func (hdr Header) Count() int {
	switch hdr.Type() {
	case Type1:
		return int(hdr & type1CountMask)
	case Type2:
		return int(hdr & type2CountMask)
	default:
		return 0
	}
}

func (hdr Header) String() string {
	switch hdr.Type() {
	case Type1:
		if hdr.Opcode() == OpNOOP {
			return "NOOP"
		}
		return fmt.Sprintf("type-1 %v %v n=%d", hdr.Opcode(), hdr.Register(), hdr.Count())
	case Type2:
		return fmt.Sprintf("type-2 %v n=%d", hdr.Opcode(), hdr.Count())
	default:
		return fmt.Sprintf("0x%08x", uint32(hdr))
	}
}
