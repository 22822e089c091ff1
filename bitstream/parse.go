// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bitstream

import (
	"fmt"

	"golang.org/x/xerrors"
)

const (
	// MaxFrames is the default capacity of a frame table.
	MaxFrames = 64

	// initFAR is the frame address reported for frames written before
	// any FAR write.
	initFAR = 0xAABBCCDD
)

// Frame describes a block of configuration data found in a bitstream.
type Frame struct {
	FAR    uint32 // frame address
	Offset int    // index of the first payload word in the bitstream
	Words  int    // payload length, in words
}

func (f Frame) String() string {
	return fmt.Sprintf("Frame{FAR: 0x%08x, Offset: %d, Words: %d}", f.FAR, f.Offset, f.Words)
}

// Payload returns the payload of the frame within buf.
func (f Frame) Payload(buf *Buffer) []uint32 {
	return buf.Words[f.Offset : f.Offset+f.Words]
}

// State is the synchronization state of a Scanner.
type State uint8

const (
	Unsynced State = iota
	Synced
)

func (s State) String() string {
	switch s {
	case Unsynced:
		return "UNSYNCED"
	case Synced:
		return "SYNCED"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithMaxFrames sets the capacity of the frame table.
func WithMaxFrames(n int) Option {
	return func(sc *Scanner) {
		sc.max = n
	}
}

// Scanner walks the packets of a bitstream and records the frames
// written through FDRI.
//
// When the scanner has a destination buffer, every CRC write packet found
// in the source is replaced by two NOOP words in the destination.
// The source is never modified.
type Scanner struct {
	src []uint32
	dst []uint32

	state  State
	far    uint32
	max    int
	frames []Frame
}

// NewScanner returns a scanner over src.
// dst may be nil, otherwise it must have the same length as src.
func NewScanner(src, dst *Buffer, opts ...Option) *Scanner {
	sc := &Scanner{
		src:   src.Words,
		state: Unsynced,
		far:   initFAR,
		max:   MaxFrames,
	}
	if dst != nil {
		sc.dst = dst.Words
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// State returns the current synchronization state of the scanner.
func (sc *Scanner) State() State { return sc.state }

// Frames returns the frames recorded so far.
func (sc *Scanner) Frames() []Frame { return sc.frames }

// Scan walks the whole source bitstream and returns the frame table.
func (sc *Scanner) Scan() ([]Frame, error) {
	if sc.dst != nil && len(sc.dst) != len(sc.src) {
		return nil, xerrors.Errorf(
			"bitstream: destination length mismatch (src=%d, dst=%d)",
			len(sc.src), len(sc.dst),
		)
	}

	n := len(sc.src)
	for i := 0; i < n; i++ {
		word := sc.src[i]
		if sc.state == Unsynced {
			if word == SyncWord {
				sc.state = Synced
			}
			continue
		}

		hdr := Header(word)
		if hdr.Type() != Type1 || hdr.Opcode() != OpWrite {
			// type-2 packets are only meaningful after an FDRI write.
			continue
		}

		cnt := hdr.Count()
		switch hdr.Register() {
		case RegCRC:
			if cnt != 1 || i+1 >= n {
				return nil, malformed(i, hdr, "CRC write must carry 1 word")
			}
			if sc.dst != nil {
				sc.dst[i] = NOOP
				sc.dst[i+1] = NOOP
			}
			i++

		case RegFAR:
			if cnt != 1 || i+1 >= n {
				return nil, malformed(i, hdr, "FAR write must carry 1 word")
			}
			sc.far = sc.src[i+1]
			i++

		case RegFDRI:
			if cnt != 0 || i+1 >= n {
				return nil, malformed(i, hdr, "FDRI write must be followed by a type-2 packet")
			}
			t2 := Header(sc.src[i+1])
			if t2.Type() != Type2 {
				return nil, malformed(i, hdr, fmt.Sprintf("invalid FDRI payload header 0x%08x", uint32(t2)))
			}
			words := t2.Count()
			if i+1+words >= n {
				return nil, malformed(i, hdr, fmt.Sprintf(
					"FDRI payload (words=%d) overflows bitstream (len=%d)", words, n,
				))
			}
			if len(sc.frames) >= sc.max {
				return nil, xerrors.Errorf(
					"bitstream: too many frames at word %d (max=%d): %w",
					i, sc.max, ErrFrameTableOverflow,
				)
			}
			sc.frames = append(sc.frames, Frame{
				FAR:    sc.far,
				Offset: i + 2,
				Words:  words,
			})
			i += words + 1

		case RegCMD:
			if cnt != 1 || i+1 >= n {
				return nil, malformed(i, hdr, "CMD write must carry 1 word")
			}
			if Command(sc.src[i+1]) == CmdDESYNC {
				sc.state = Unsynced
			}
			i++
		}
	}

	return sc.frames, nil
}

func malformed(i int, hdr Header, reason string) error {
	return &MalformedError{Index: i, Header: hdr, Reason: reason}
}

// Parse returns the frame table of the provided bitstream.
func Parse(src *Buffer, opts ...Option) ([]Frame, error) {
	return NewScanner(src, nil, opts...).Scan()
}

// Neutralize parses src and replaces, in dst, every CRC write packet by
// NOOPs. dst is usually a clone of src.
// Neutralize returns the frame table of src.
func Neutralize(src, dst *Buffer, opts ...Option) ([]Frame, error) {
	return NewScanner(src, dst, opts...).Scan()
}
