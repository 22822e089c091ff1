// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package slot manages the partial bitstreams of the reconfigurable
// slots of an FPGA.
package slot // import "github.com/go-lpc/prc/slot"

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/go-lpc/prc/bitstream"
	"github.com/go-lpc/prc/snapshot"
	"golang.org/x/sync/errgroup"
)

// None is the identifier of the slot configured when no partial
// bitstream has been loaded yet.
const None = -1

// Manager owns the cached partial bitstreams of a reconfigurable region
// and serializes the reconfiguration, capture and restore sequences
// applied to it.
type Manager struct {
	mu  sync.Mutex
	dev snapshot.Device
	msg *log.Logger

	halt  func() error
	reset func() error

	slots map[int]*bitstream.Buffer
	cur   int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger of the manager.
func WithLogger(msg *log.Logger) Option {
	return func(m *Manager) {
		m.msg = msg
	}
}

// WithHalt sets the function run before the region is reconfigured,
// typically to stop the hardware thread it hosts.
func WithHalt(f func() error) Option {
	return func(m *Manager) {
		m.halt = f
	}
}

// WithReset sets the function run after the region has been
// reconfigured, typically to restart its hardware thread.
func WithReset(f func() error) Option {
	return func(m *Manager) {
		m.reset = f
	}
}

// New returns a slot manager reconfiguring through dev.
func New(dev snapshot.Device, opts ...Option) *Manager {
	m := &Manager{
		dev:   dev,
		msg:   log.New(os.Stdout, "slot: ", 0),
		slots: make(map[int]*bitstream.Buffer),
		cur:   None,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Cache loads the partial bitstream fname and associates it with the
// slot id, replacing any previously cached bitstream.
func (m *Manager) Cache(id int, fname string) error {
	buf, err := bitstream.Load(fname)
	if err != nil {
		return fmt.Errorf("slot: could not cache bitstream for slot %d: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[id] = buf
	m.msg.Printf("cached slot %d: %q (%d words)", id, fname, buf.Len())
	return nil
}

// CacheAll loads concurrently all the partial bitstreams of fnames,
// indexed by slot.
// No bitstream is cached if any of them could not be loaded.
func (m *Manager) CacheAll(fnames map[int]string) error {
	var (
		mu   sync.Mutex
		bufs = make(map[int]*bitstream.Buffer, len(fnames))
		grp  errgroup.Group
	)
	for id, fname := range fnames {
		id, fname := id, fname
		grp.Go(func() error {
			buf, err := bitstream.Load(fname)
			if err != nil {
				return fmt.Errorf("slot: could not cache bitstream for slot %d: %w", id, err)
			}
			mu.Lock()
			bufs[id] = buf
			mu.Unlock()
			return nil
		})
	}
	err := grp.Wait()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, buf := range bufs {
		m.slots[id] = buf
		m.msg.Printf("cached slot %d: %q (%d words)", id, fnames[id], buf.Len())
	}
	return nil
}

// Bitstream returns the bitstream cached for the slot id.
func (m *Manager) Bitstream(id int) (*bitstream.Buffer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.slots[id]
	return buf, ok
}

// Slots returns the sorted identifiers of all cached slots.
func (m *Manager) Slots() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.slots))
	for id := range m.slots {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Release drops the bitstream cached for the slot id.
func (m *Manager) Release(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, id)
}

// Current returns the slot the region is configured with, or None.
func (m *Manager) Current() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

func (m *Manager) get(id int) (*bitstream.Buffer, error) {
	buf, ok := m.slots[id]
	if !ok {
		return nil, fmt.Errorf("slot: no bitstream cached for slot %d", id)
	}
	return buf, nil
}

// Load reconfigures the region with the bitstream cached for the slot id.
// Load is a no-op when the region is already configured with that slot.
func (m *Manager) Load(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == m.cur {
		return nil
	}

	buf, err := m.get(id)
	if err != nil {
		return err
	}

	if m.halt != nil {
		err = m.halt()
		if err != nil {
			return fmt.Errorf("slot: could not halt slot %d: %w", m.cur, err)
		}
	}

	start := time.Now()
	err = m.dev.Write(buf.Words)
	if err != nil {
		m.cur = None
		return fmt.Errorf("slot: could not reconfigure slot %d: %w", id, err)
	}
	m.cur = id
	m.msg.Printf("reconfiguration of slot %d done in %v", id, time.Since(start))

	if m.reset != nil {
		err = m.reset()
		if err != nil {
			return fmt.Errorf("slot: could not reset slot %d: %w", id, err)
		}
	}
	return nil
}

// Capture captures the state of the region described by the bitstream
// cached for the slot id.
func (m *Manager) Capture(id int, opts ...snapshot.Option) (*bitstream.Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf, err := m.get(id)
	if err != nil {
		return nil, err
	}

	opts = append([]snapshot.Option{snapshot.WithLogger(m.msg)}, opts...)
	out, err := snapshot.Capture(m.dev, buf, opts...)
	if err != nil {
		return nil, fmt.Errorf("slot: could not capture slot %d: %w", id, err)
	}
	return out, nil
}

// Restore restores a state of the slot id previously captured into buf.
func (m *Manager) Restore(id int, buf *bitstream.Buffer, opts ...snapshot.Option) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	opts = append([]snapshot.Option{snapshot.WithLogger(m.msg)}, opts...)
	err := snapshot.Restore(m.dev, buf, opts...)
	if err != nil {
		m.cur = None
		return fmt.Errorf("slot: could not restore slot %d: %w", id, err)
	}
	m.cur = id
	return nil
}
