// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package snapshot captures the live state of a reconfigurable region
// of an FPGA into a bitstream, and restores it later.
package snapshot // import "github.com/go-lpc/prc/snapshot"

import (
	"fmt"
	"log"
	"os"

	"github.com/go-lpc/prc/bitstream"
	"github.com/go-lpc/prc/icap"
)

// Device is the set of ICAP operations needed to capture and restore
// the state of a reconfigurable region.
type Device interface {
	Write(buf []uint32) error
	ReadFrame(far uint32, dst []uint32) error
	WriteFrame(far uint32, src []uint32) error
	GCapture() error
	GRestore() error
	GRestoreGSR() error
}

// Trigger selects how a restored bitstream is applied to the user logic.
type Trigger uint8

const (
	// TriggerGSR sends the GRESTORE script with a global set/reset
	// request in its middle.
	TriggerGSR Trigger = iota
	// TriggerGRestore sends the GRESTORE script in one go.
	TriggerGRestore
	// TriggerNone does not apply the restored configuration.
	TriggerNone
	// TriggerAuto selects TriggerGSR when the device can issue a global
	// set/reset, and TriggerGRestore otherwise.
	TriggerAuto
)

func (t Trigger) String() string {
	switch t {
	case TriggerGSR:
		return "gsr"
	case TriggerGRestore:
		return "grestore"
	case TriggerNone:
		return "none"
	case TriggerAuto:
		return "auto"
	default:
		return fmt.Sprintf("Trigger(%d)", uint8(t))
	}
}

// ParseTrigger returns the trigger named name.
func ParseTrigger(name string) (Trigger, error) {
	switch name {
	case "gsr":
		return TriggerGSR, nil
	case "grestore":
		return TriggerGRestore, nil
	case "none":
		return TriggerNone, nil
	case "auto":
		return TriggerAuto, nil
	default:
		return 0, fmt.Errorf("snapshot: unknown trigger %q", name)
	}
}

type config struct {
	msg      *log.Logger
	skipLast bool
	trigger  Trigger
	popts    []bitstream.Option
}

func newConfig(opts []Option) config {
	cfg := config{
		msg:     log.New(os.Stdout, "snapshot: ", 0),
		trigger: TriggerAuto,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Option configures a capture or a restore.
type Option func(*config)

// WithLogger sets the logger used to report progress.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithSkipLast skips the readback of the last frame of the bitstream.
func WithSkipLast(v bool) Option {
	return func(cfg *config) {
		cfg.skipLast = v
	}
}

// WithTrigger selects how a restored bitstream is applied.
func WithTrigger(t Trigger) Option {
	return func(cfg *config) {
		cfg.trigger = t
	}
}

// WithMaxFrames sets the maximum number of frames of a captured
// bitstream.
func WithMaxFrames(n int) Option {
	return func(cfg *config) {
		cfg.popts = append(cfg.popts, bitstream.WithMaxFrames(n))
	}
}

// Capture reads back the live configuration of the region described by
// the src bitstream.
//
// The returned bitstream is a copy of src, with its CRC checks
// neutralized and the payload of all its frames, but the first CLB one,
// replaced by the data read back from the device after a GCAPTURE.
func Capture(dev Device, src *bitstream.Buffer, opts ...Option) (*bitstream.Buffer, error) {
	cfg := newConfig(opts)

	out := src.Clone()
	frames, err := bitstream.Neutralize(src, out, cfg.popts...)
	if err != nil {
		return nil, fmt.Errorf("snapshot: could not parse bitstream: %w", err)
	}

	if len(frames) == 0 {
		return nil, fmt.Errorf("snapshot: could not capture: %w", bitstream.ErrNoFrames)
	}
	for _, f := range frames {
		cfg.msg.Printf("frame: far=0x%08x, words=%d, offset=%d", f.FAR, f.Words, f.Offset)
	}

	clb := frames[0]
	if clb.FAR != bitstream.CLBFrame {
		return nil, fmt.Errorf(
			"snapshot: first frame at far=0x%08x: %w",
			clb.FAR, bitstream.ErrMissingCLBFrame,
		)
	}

	err = dev.WriteFrame(clb.FAR, clb.Payload(out))
	if err != nil {
		return nil, fmt.Errorf("snapshot: could not write CLB frame: %w", err)
	}

	err = dev.GCapture()
	if err != nil {
		return nil, fmt.Errorf("snapshot: could not capture user logic state: %w", err)
	}

	end := len(frames)
	if cfg.skipLast && end > 1 {
		end--
	}
	for _, f := range frames[1:end] {
		err = dev.ReadFrame(f.FAR, f.Payload(out))
		if err != nil {
			return nil, fmt.Errorf("snapshot: could not read back frame 0x%08x: %w", f.FAR, err)
		}
	}

	return out, nil
}

// Restore writes buf to the device and applies it to the user logic.
// Nothing is written when the GSR trigger is requested from a device
// that cannot issue global set/reset requests.
func Restore(dev Device, buf *bitstream.Buffer, opts ...Option) error {
	cfg := newConfig(opts)

	gsr := canGSR(dev)
	switch {
	case cfg.trigger == TriggerAuto && gsr:
		cfg.trigger = TriggerGSR
	case cfg.trigger == TriggerAuto:
		cfg.trigger = TriggerGRestore
	case cfg.trigger == TriggerGSR && !gsr:
		return fmt.Errorf("snapshot: could not restore (trigger=%v): %w", cfg.trigger, icap.ErrUnsupported)
	}

	err := dev.Write(buf.Words)
	if err != nil {
		return fmt.Errorf("snapshot: could not write bitstream: %w", err)
	}

	switch cfg.trigger {
	case TriggerGSR:
		err = dev.GRestoreGSR()
	case TriggerGRestore:
		err = dev.GRestore()
	case TriggerNone:
		return nil
	default:
		return fmt.Errorf("snapshot: invalid trigger %v", cfg.trigger)
	}
	if err != nil {
		return fmt.Errorf("snapshot: could not apply bitstream (trigger=%v): %w", cfg.trigger, err)
	}
	return nil
}

// gsrCapable is implemented by devices telling whether they can issue
// global set/reset requests.
type gsrCapable interface {
	CanGSR() bool
}

func canGSR(dev Device) bool {
	g, ok := dev.(gsrCapable)
	return !ok || g.CanGSR()
}

var (
	_ Device     = (*icap.Port)(nil)
	_ gsrCapable = (*icap.Port)(nil)
)
