// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bitstream

import (
	"errors"
	"fmt"
)

var (
	ErrFile               = errors.New("bitstream: file error")
	ErrAlignment          = errors.New("bitstream: size not word-aligned")
	ErrMemory             = errors.New("bitstream: not enough memory")
	ErrSyncNotFound       = errors.New("bitstream: sync word not found")
	ErrMalformed          = errors.New("bitstream: malformed bitstream")
	ErrFrameTableOverflow = errors.New("bitstream: frame table overflow")
	ErrMissingCLBFrame    = errors.New("bitstream: missing CLB frame")
	ErrNoFrames           = errors.New("bitstream: no configuration frames")
	ErrPacketLength       = errors.New("bitstream: packet length out of range")
)

// FileError records a failed file operation on a bitstream file.
type FileError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("bitstream: could not %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error        { return e.Err }
func (e *FileError) Is(target error) bool { return target == ErrFile }

// MalformedError describes a packet violation found while parsing a
// bitstream.
type MalformedError struct {
	Index  int    // index of the offending header word
	Header Header // offending header word
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf(
		"bitstream: malformed packet at word %d (hdr=0x%08x): %s",
		e.Index, uint32(e.Header), e.Reason,
	)
}

func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }
