// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bitstream holds types to load, save and parse Xilinx
// (partial) configuration bitstreams.
//
// A bitstream file is a sequence of big-endian 32-bit words.
// Words are decoded once, at load time, and re-encoded when saved.
package bitstream // import "github.com/go-lpc/prc/bitstream"

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"golang.org/x/xerrors"
)

const (
	// MaxFileSize is the maximum size, in bytes, of a bitstream file.
	MaxFileSize = 64 << 20

	// syncWindow is the number of leading words searched for the sync word.
	syncWindow = 20
)

// Buffer is an in-memory bitstream.
type Buffer struct {
	Words []uint32
}

// New returns a bitstream buffer holding a copy of the provided words.
// New does not validate the bitstream.
func New(words []uint32) *Buffer {
	buf := &Buffer{Words: make([]uint32, len(words))}
	copy(buf.Words, words)
	return buf
}

// Load loads the bitstream file fname.
func Load(fname string) (*Buffer, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, &FileError{Op: "open", Path: fname, Err: err}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, &FileError{Op: "stat", Path: fname, Err: err}
	}
	if fi.Size() > MaxFileSize {
		return nil, xerrors.Errorf(
			"bitstream: file %q too big (size=%d, max=%d): %w",
			fname, fi.Size(), MaxFileSize, ErrMemory,
		)
	}
	if fi.Size()%4 != 0 {
		return nil, xerrors.Errorf(
			"bitstream: file %q size is not a multiple of 4 (size=%d): %w",
			fname, fi.Size(), ErrAlignment,
		)
	}

	raw := make([]byte, fi.Size())
	_, err = io.ReadFull(f, raw)
	if err != nil {
		return nil, &FileError{Op: "read", Path: fname, Err: err}
	}

	buf, err := decode(raw)
	if err != nil {
		return nil, xerrors.Errorf("bitstream: could not load %q: %w", fname, err)
	}
	return buf, nil
}

// Decode reads a whole bitstream from r.
func Decode(r io.Reader) (*Buffer, error) {
	raw, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, xerrors.Errorf("bitstream: could not read bitstream: %w", err)
	}
	if len(raw) > MaxFileSize {
		return nil, xerrors.Errorf(
			"bitstream: bitstream too big (max=%d): %w", MaxFileSize, ErrMemory,
		)
	}
	if len(raw)%4 != 0 {
		return nil, xerrors.Errorf(
			"bitstream: bitstream size is not a multiple of 4 (size=%d): %w",
			len(raw), ErrAlignment,
		)
	}
	return decode(raw)
}

func decode(raw []byte) (*Buffer, error) {
	buf := &Buffer{Words: make([]uint32, len(raw)/4)}
	for i := range buf.Words {
		buf.Words[i] = binary.BigEndian.Uint32(raw[4*i:])
	}

	if buf.Sync() < 0 {
		return nil, xerrors.Errorf(
			"bitstream: no sync word in the first %d words: %w",
			syncWindow, ErrSyncNotFound,
		)
	}
	return buf, nil
}

// Len returns the number of words of the bitstream.
func (buf *Buffer) Len() int {
	return len(buf.Words)
}

// Sync returns the index of the sync word within the leading words of
// the bitstream, or -1.
func (buf *Buffer) Sync() int {
	n := len(buf.Words)
	if n > syncWindow {
		n = syncWindow
	}
	for i, w := range buf.Words[:n] {
		if w == SyncWord {
			return i
		}
	}
	return -1
}

// Clone returns an independent copy of the bitstream.
func (buf *Buffer) Clone() *Buffer {
	return New(buf.Words)
}

// Bytes returns the big-endian encoding of the bitstream.
func (buf *Buffer) Bytes() []byte {
	raw := make([]byte, 4*len(buf.Words))
	for i, w := range buf.Words {
		binary.BigEndian.PutUint32(raw[4*i:], w)
	}
	return raw
}

// WriteTo writes the big-endian encoding of the bitstream to w.
func (buf *Buffer) WriteTo(w io.Writer) (int64, error) {
	n, err := io.Copy(w, bytes.NewReader(buf.Bytes()))
	return n, err
}

// Save writes the bitstream to the file fname.
func (buf *Buffer) Save(fname string) error {
	f, err := os.Create(fname)
	if err != nil {
		return &FileError{Op: "create", Path: fname, Err: err}
	}
	defer f.Close()

	raw := buf.Bytes()
	n, err := f.Write(raw)
	if err != nil {
		return &FileError{Op: "write", Path: fname, Err: err}
	}
	if n != len(raw) {
		return &FileError{Op: "write", Path: fname, Err: io.ErrShortWrite}
	}

	err = f.Close()
	if err != nil {
		return &FileError{Op: "close", Path: fname, Err: err}
	}
	return nil
}

var (
	_ io.WriterTo = (*Buffer)(nil)
)
