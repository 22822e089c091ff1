// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/prc/bitstream"
	"github.com/go-lpc/prc/icap"
	"github.com/go-lpc/prc/slot"
	"github.com/go-lpc/prc/snapdb"
	"github.com/go-lpc/prc/snapshot"
)

var (
	openPort  = icap.Open
	openProbe = func(name string) (*slot.Probe, error) {
		return slot.OpenProbe(name, slot.DefaultLayout)
	}
	openDB = func(name string) (recorder, error) { return snapdb.Open(name) }
)

type recorder interface {
	Save(ctx context.Context, rec snapdb.Record) error
	Close() error
}

type server struct {
	kind string // ICAP transport
	dev  string // ICAP device
	odir string // output directory of captured states

	gsrDev   string // memory device issuing GSR for the sw transport
	probeDev string // memory device of the slot thread mailboxes

	trigger  snapshot.Trigger
	skipLast bool
	dbname   string
	alert    func(subject, body string) error

	active int            // slot the region is configured with
	files  map[int]string // partial bitstreams, by slot

	port  *icap.Port
	probe *slot.Probe
	mgr   *slot.Manager
	db    recorder

	run   int
	last  *bitstream.Buffer
	snaps chan []byte
}

func newServer(kind, dev, odir string) *server {
	return &server{
		kind:    kind,
		dev:     dev,
		odir:    odir,
		trigger: snapshot.TriggerAuto,
		active:  slot.None,
		files:   make(map[int]string),
		snaps:   make(chan []byte, 16),
	}
}

// configure decodes the slots configuration from a /config request:
// the active slot followed by the list of (slot, file) pairs.
func (srv *server) configure(body []byte) error {
	dec := tdaq.NewDecoder(bytes.NewReader(body))
	active := int(dec.ReadU32())
	n := int(dec.ReadU32())
	files := make(map[int]string, n)
	for i := 0; i < n; i++ {
		id := int(dec.ReadU32())
		files[id] = dec.ReadStr()
	}
	if err := dec.Err(); err != nil {
		return fmt.Errorf("could not decode slots configuration: %w", err)
	}
	if _, ok := files[active]; !ok {
		return fmt.Errorf("active slot %d has no partial bitstream", active)
	}

	srv.active = active
	srv.files = files
	return nil
}

func (srv *server) initialize() error {
	if srv.active == slot.None {
		return fmt.Errorf("no active slot configured")
	}

	err := srv.close()
	if err != nil {
		return err
	}

	var opts []icap.Option
	if srv.gsrDev != "" {
		opts = append(opts, icap.WithGSRDevice(srv.gsrDev))
	}
	port, err := openPort(srv.kind, srv.dev, opts...)
	if err != nil {
		return fmt.Errorf("could not open ICAP port: %w", err)
	}
	srv.port = port

	var sopts []slot.Option
	if srv.probeDev != "" {
		probe, err := openProbe(srv.probeDev)
		if err != nil {
			return fmt.Errorf("could not open slot probe: %w", err)
		}
		srv.probe = probe
		sopts = append(sopts, slot.WithHalt(probe.Exit), slot.WithReset(probe.Reset))
	}
	srv.mgr = slot.New(port, sopts...)

	err = srv.mgr.CacheAll(srv.files)
	if err != nil {
		return fmt.Errorf("could not cache partial bitstreams: %w", err)
	}

	err = srv.mgr.Load(srv.active)
	if err != nil {
		return fmt.Errorf("could not configure slot %d: %w", srv.active, err)
	}

	if srv.dbname != "" {
		db, err := openDB(srv.dbname)
		if err != nil {
			return fmt.Errorf("could not open capture records db: %w", err)
		}
		srv.db = db
	}
	return nil
}

func (srv *server) capture(ctx context.Context) (string, error) {
	if srv.mgr == nil {
		return "", fmt.Errorf("ICAP port not initialized")
	}

	out, err := srv.mgr.Capture(srv.active, snapshot.WithSkipLast(srv.skipLast))
	if err != nil {
		return "", err
	}

	fname := filepath.Join(srv.odir, fmt.Sprintf("slot-%d-run-%04d.bit", srv.active, srv.run))
	err = out.Save(fname)
	if err != nil {
		return "", fmt.Errorf("could not save captured state: %w", err)
	}
	srv.last = out

	if srv.db != nil {
		rec, err := snapdb.NewRecord(srv.active, out, fname)
		if err != nil {
			return fname, err
		}
		err = srv.db.Save(ctx, rec)
		if err != nil {
			return fname, fmt.Errorf("could not record capture: %w", err)
		}
	}

	select {
	case srv.snaps <- out.Bytes():
	default:
	}

	return fname, nil
}

func (srv *server) restore() error {
	if srv.mgr == nil {
		return fmt.Errorf("ICAP port not initialized")
	}
	if srv.last == nil {
		return fmt.Errorf("no captured state for slot %d", srv.active)
	}
	err := srv.mgr.Restore(srv.active, srv.last, snapshot.WithTrigger(srv.trigger))
	if err != nil {
		return err
	}
	srv.run++
	return nil
}

func (srv *server) close() error {
	var err error
	if srv.db != nil {
		if e := srv.db.Close(); e != nil {
			err = fmt.Errorf("could not close capture records db: %w", e)
		}
		srv.db = nil
	}
	if srv.probe != nil {
		if e := srv.probe.Close(); e != nil && err == nil {
			err = fmt.Errorf("could not close slot probe: %w", e)
		}
		srv.probe = nil
	}
	if srv.port != nil {
		if e := srv.port.Close(); e != nil && err == nil {
			err = fmt.Errorf("could not close ICAP port: %w", e)
		}
		srv.port = nil
	}
	srv.mgr = nil
	srv.last = nil
	return err
}

func (srv *server) fail(ctx tdaq.Context, op string, err error) error {
	ctx.Msg.Errorf("could not %s: %+v", op, err)
	if srv.alert != nil {
		e := srv.alert(
			fmt.Sprintf("[prc-srv] %s failure", op),
			fmt.Sprintf("slot: %d\nrun: %d\nerror: %+v", srv.active, srv.run, err),
		)
		if e != nil {
			ctx.Msg.Errorf("could not send alert: %+v", e)
		}
	}
	return fmt.Errorf("could not %s: %w", op, err)
}

func (srv *server) slots() []int {
	ids := make([]int, 0, len(srv.files))
	for id := range srv.files {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (srv *server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	err := srv.configure(req.Body)
	if err != nil {
		return srv.fail(ctx, "configure", err)
	}
	ctx.Msg.Infof("slots: %v (active=%d)", srv.slots(), srv.active)
	return nil
}

func (srv *server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	err := srv.initialize()
	if err != nil {
		return srv.fail(ctx, "initialize", err)
	}
	return nil
}

func (srv *server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	srv.run = 0
	return srv.close()
}

func (srv *server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	fname, err := srv.capture(ctx.Ctx)
	if err != nil {
		return srv.fail(ctx, "capture", err)
	}
	ctx.Msg.Infof("captured state of slot %d into %q", srv.active, fname)
	return nil
}

func (srv *server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	err := srv.restore()
	if err != nil {
		return srv.fail(ctx, "restore", err)
	}
	ctx.Msg.Infof("restored state of slot %d (trigger=%v)", srv.active, srv.trigger)
	return nil
}

func (srv *server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return srv.close()
}

func (srv *server) output(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case raw := <-srv.snaps:
		dst.Body = raw
	}
	return nil
}
