// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package icap

import (
	"fmt"
	"io"
	"os"
)

// DefaultDevice is the ICAP device file of the kernel driver.
const DefaultDevice = "/dev/icap0"

type device interface {
	io.Reader
	io.Writer
	io.Closer
}

var (
	openDevice = openDeviceImpl
)

func openDeviceImpl(name string, flag int) (device, error) {
	f, err := os.OpenFile(name, flag, 0)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// SW is the transport to the ICAP device file.
// The device file is opened for each transfer.
type SW struct {
	name string
}

// NewSW returns a transport over the ICAP device file name.
func NewSW(name string) *SW {
	if name == "" {
		name = DefaultDevice
	}
	return &SW{name: name}
}

// Write implements Transport.
func (sw *SW) Write(p []uint32) error {
	f, err := sw.open(os.O_WRONLY)
	if err != nil {
		return err
	}
	defer f.Close()

	err = writeWords(f, p)
	if err != nil {
		return err
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("icap: could not close %q: %w", sw.name, err)
	}
	return nil
}

// Read implements Transport.
func (sw *SW) Read(p []uint32) error {
	f, err := sw.open(os.O_RDONLY)
	if err != nil {
		return err
	}
	defer f.Close()

	return readWords(f, p)
}

// Close implements Transport.
func (sw *SW) Close() error { return nil }

func (sw *SW) open(flag int) (device, error) {
	f, err := openDevice(sw.name, flag)
	if err != nil {
		return nil, fmt.Errorf("icap: could not open %q: %w", sw.name, err)
	}
	return f, nil
}

func (sw *SW) session() (Transport, error) {
	f, err := sw.open(os.O_RDWR)
	if err != nil {
		return nil, err
	}
	return &swSession{f: f}, nil
}

// fdroWords returns the FDRO read length the kernel driver expects
// to deliver n words.
func (sw *SW) fdroWords(n int) int {
	return n + n/1024 + 3
}

// swSession keeps the ICAP device file open across a compound
// transaction.
type swSession struct {
	f device
}

func (s *swSession) Write(p []uint32) error { return writeWords(s.f, p) }
func (s *swSession) Read(p []uint32) error  { return readWords(s.f, p) }
func (s *swSession) Close() error           { return s.f.Close() }

func writeWords(w io.Writer, p []uint32) error {
	raw := make([]byte, 4*len(p))
	encodeWords(raw, p)
	n, err := w.Write(raw)
	switch {
	case err != nil:
		return &TransportError{Op: "write", Want: len(p), Got: n / 4, Err: err}
	case n != len(raw):
		return &TransportError{Op: "write", Want: len(p), Got: n / 4, Err: io.ErrShortWrite}
	}
	return nil
}

// readWords reads len(p) words from r, looping over partial reads.
func readWords(r io.Reader, p []uint32) error {
	raw := make([]byte, 4*len(p))
	n, err := io.ReadFull(r, raw)
	if err != nil {
		return &TransportError{Op: "read", Want: len(p), Got: n / 4, Err: err}
	}
	decodeWords(p, raw)
	return nil
}

var (
	_ Transport = (*SW)(nil)
	_ Transport = (*swSession)(nil)
)
