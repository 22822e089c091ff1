// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command prc-srv starts a TDAQ server capturing and restoring the state
// of a reconfigurable region of an FPGA.
//
// The /config command caches the partial bitstreams of the slots,
// /init opens the ICAP and reconfigures the region with the active slot,
// /start captures the state of the region and /stop restores it.
// Captured states are published on the /snapshot output.
package main // import "github.com/go-lpc/prc/cmd/prc-srv"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/prc/snapshot"
	"github.com/sbinet/pmon"
)

var (
	icapKind = flag.String("icap", "hw", "ICAP transport (hw|sw)")
	icapDev  = flag.String("dev", "", "ICAP device (default: /dev/mem for hw, /dev/icap0 for sw)")
	odir     = flag.String("dir", os.TempDir(), "output directory of the captured states")
	gsrDev   = flag.String("gsr", "", "memory device of the hardware ICAP thread issuing GSR for the sw transport")
	probeDev = flag.String("probe", "", "memory device of the mailboxes of the slot hardware thread")
	trigger  = flag.String("trigger", "auto", "how to apply a restored state (auto|gsr|grestore|none)")
	skipLast = flag.Bool("skip-last", false, "do not read back the last frame of a capture")
	dbName   = flag.String("db", "", "name of the capture records database")

	doMon  = flag.Bool("pmon", false, "enable pmon monitoring")
	doFreq = flag.Duration("freq", 1*time.Second, "pmon frequency")
)

func main() {
	cmd := flags.New()

	log.SetPrefix("prc-srv: ")
	log.SetFlags(0)

	trg, err := snapshot.ParseTrigger(*trigger)
	if err != nil {
		log.Fatalf("could not parse trigger: %+v", err)
	}

	if *doMon {
		stop, err := monitor(*odir, *doFreq)
		if err != nil {
			log.Fatalf("%+v", err)
		}
		defer stop()
	}

	dev := newServer(*icapKind, *icapDev, *odir)
	dev.trigger = trg
	dev.gsrDev = *gsrDev
	dev.probeDev = *probeDev
	dev.skipLast = *skipLast
	dev.dbname = *dbName
	dev.alert = newMailer().send

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/snapshot", dev.output)

	err = srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

func monitor(dir string, freq time.Duration) (func(), error) {
	p, err := pmon.Monitor(os.Getpid())
	if err != nil {
		return nil, fmt.Errorf("could not start monitoring: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, "prc-srv-pmon.log"))
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		err := p.Run()
		if err != nil {
			log.Printf("could not run monitoring: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			log.Printf("could not stop monitoring: %+v", err)
		}
		_ = f.Close()
	}, nil
}
