// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package icap

import (
	"fmt"
)

// DefaultMemDevice is the memory device the hardware transport maps its
// resources from.
const DefaultMemDevice = "/dev/mem"

// Open returns a port over the transport named kind.
// The "hw" transport drives the hardware ICAP thread mapped from the
// memory device name, the "sw" one writes to the ICAP device file name.
// An empty name selects the default device of the transport.
//
// A "sw" port issues its global set/reset requests through the hardware
// ICAP thread mapped from the device given to WithGSRDevice, if any.
func Open(kind, name string, opts ...Option) (*Port, error) {
	var tr Transport
	switch kind {
	case "hw":
		if name == "" {
			name = DefaultMemDevice
		}
		hw, err := OpenHW(name, DefaultLayout, opts...)
		if err != nil {
			return nil, fmt.Errorf("icap: could not open hardware transport: %w", err)
		}
		tr = hw
	case "sw":
		cfg := newConfig(opts)
		if cfg.gsrDev == "" {
			tr = NewSW(name)
			break
		}
		hw, err := OpenHW(cfg.gsrDev, DefaultLayout, opts...)
		if err != nil {
			return nil, fmt.Errorf("icap: could not open GSR device: %w", err)
		}
		p := New(NewSW(name), append(opts, WithGSR(hw))...)
		p.closers = append(p.closers, hw)
		return p, nil
	default:
		return nil, fmt.Errorf("icap: unknown transport %q", kind)
	}
	return New(tr, opts...), nil
}

// ParseSide returns the ICAP primitive side named name.
func ParseSide(name string) (Side, error) {
	switch name {
	case "bottom", "bot":
		return Bottom, nil
	case "top":
		return Top, nil
	default:
		return 0, fmt.Errorf("icap: unknown ICAP side %q", name)
	}
}
