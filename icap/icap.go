// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package icap drives the internal configuration access port (ICAP)
// of an FPGA.
//
// Command scripts are sent through a Transport: either the hardware ICAP
// thread, reached through a pair of mailboxes and a DMA window (HW), or
// the ICAP device file exposed by the kernel driver (SW).
// A Port sequences the compound transactions (frame readback, frame
// write, GCAPTURE, GRESTORE) over a transport.
package icap // import "github.com/go-lpc/prc/icap"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"os"
	"time"
)

// Transport transfers whole configuration words to and from the ICAP.
type Transport interface {
	// Write sends all the words of p to the ICAP.
	Write(p []uint32) error
	// Read reads len(p) words from the ICAP.
	Read(p []uint32) error
	Close() error
}

// Mailbox is a word-oriented channel to a hardware thread.
type Mailbox interface {
	Put(v uint32) error
	Get() (uint32, error)
}

// GSRer triggers a global set/reset of the user logic.
type GSRer interface {
	GSR() error
}

// sessioner is implemented by transports that keep the device open
// across the parts of a compound transaction.
type sessioner interface {
	session() (Transport, error)
}

// fdroSizer is implemented by transports whose FDRO type-2 read length
// differs from the number of words actually read.
type fdroSizer interface {
	fdroWords(n int) int
}

var (
	ErrTransport   = errors.New("icap: transport error")
	ErrStatus      = errors.New("icap: hardware status error")
	ErrUnsupported = errors.New("icap: operation not supported")
	ErrTimeout     = errors.New("icap: mailbox timeout")
)

// StatusOK is the status word returned by the hardware ICAP thread
// on success.
const StatusOK = 0x1337

// StatusError is returned when the hardware ICAP thread replies with a
// status other than StatusOK.
type StatusError struct {
	Code uint32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("icap: hardware ICAP returned status 0x%x", e.Code)
}

func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// TransportError describes a failed or short transfer.
type TransportError struct {
	Op   string // "read" or "write"
	Want int    // words requested
	Got  int    // words transferred
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("icap: could not %s %d words (got=%d): %v", e.Op, e.Want, e.Got, e.Err)
}

func (e *TransportError) Unwrap() error        { return e.Err }
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

type config struct {
	msg     *log.Logger
	flush   func() error
	chunk   int
	bitswap bool
	gsr     GSRer
	gsrDev  string
	poll    time.Duration
	timeout time.Duration
}

func newConfig(opts []Option) config {
	cfg := config{
		msg:   log.New(os.Stdout, "icap: ", 0),
		flush: func() error { return nil },
		poll:  10 * time.Microsecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Option configures ports, transports and mailboxes.
type Option func(*config)

// WithLogger sets the logger used by a port.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithCacheFlush sets the function invalidating the host view of the
// DMA window, run after each hardware read and before its result is
// decoded.
func WithCacheFlush(flush func() error) Option {
	return func(cfg *config) {
		cfg.flush = flush
	}
}

// WithChunkSize sets the maximum number of words of a single hardware
// transfer. It defaults to the size of the DMA window.
func WithChunkSize(n int) Option {
	return func(cfg *config) {
		cfg.chunk = n
	}
}

// WithBitswap enables the reversal of the bits of each byte of the
// STAT register when it is read back.
func WithBitswap(v bool) Option {
	return func(cfg *config) {
		cfg.bitswap = v
	}
}

// WithGSR sets the device performing global set/reset requests for
// transports that cannot issue them.
func WithGSR(g GSRer) Option {
	return func(cfg *config) {
		cfg.gsr = g
	}
}

// WithGSRDevice sets the memory device through which Open reaches the
// hardware ICAP thread to issue the global set/reset requests of a "sw"
// port.
func WithGSRDevice(name string) Option {
	return func(cfg *config) {
		cfg.gsrDev = name
	}
}

// WithTimeout sets how long a mailbox waits for its FIFO to become
// ready, and how often it polls it.
// Mailboxes wait until their FIFO is ready when timeout is zero,
// the default.
func WithTimeout(timeout, poll time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = timeout
		cfg.poll = poll
	}
}

func encodeWords(raw []byte, p []uint32) {
	for i, w := range p {
		binary.BigEndian.PutUint32(raw[4*i:], w)
	}
}

func decodeWords(p []uint32, raw []byte) {
	for i := range p {
		p[i] = binary.BigEndian.Uint32(raw[4*i:])
	}
}
