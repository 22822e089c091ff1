// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command prc-sh is an interactive shell driving the ICAP of an FPGA.
//
// Example:
//
//  $> prc-sh -icap=sw
//  prc> load partial_add.bit
//  prc> frames
//  prc> capture
//  prc> save state.bit
//  prc> restore state.bit grestore
//  prc> set 0 0x01003344
//  prc> get 2
//  prc> quit
package main // import "github.com/go-lpc/prc/cmd/prc-sh"

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-lpc/prc/icap"
	"github.com/go-lpc/prc/slot"
	"github.com/peterh/liner"
)

var (
	openPort  = icap.Open
	openProbe = func(name string) (*slot.Probe, error) {
		return slot.OpenProbe(name, slot.DefaultLayout)
	}
)

func main() {
	log.SetPrefix("prc-sh: ")
	log.SetFlags(0)

	var (
		kind = flag.String("icap", "hw", "ICAP transport (hw|sw)")
		dev  = flag.String("dev", "", "ICAP device (default: /dev/mem for hw, /dev/icap0 for sw)")
		gsr  = flag.String("gsr", "", "memory device of the hardware ICAP thread issuing GSR for the sw transport")
		prb  = flag.String("probe", "", "memory device of the mailboxes of the slot hardware thread")
		hist = flag.String("history", defaultHistory(), "path to the history file")
	)

	flag.Parse()

	err := run(*kind, *dev, *gsr, *prb, *hist)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func defaultHistory() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, ".prc_history")
}

func run(kind, dev, gsr, prb, hist string) error {
	var opts []icap.Option
	if gsr != "" {
		opts = append(opts, icap.WithGSRDevice(gsr))
	}
	port, err := openPort(kind, dev, opts...)
	if err != nil {
		return fmt.Errorf("could not open ICAP port: %w", err)
	}
	defer port.Close()

	var probe *slot.Probe
	if prb != "" {
		probe, err = openProbe(prb)
		if err != nil {
			return fmt.Errorf("could not open slot probe: %w", err)
		}
		defer probe.Close()
	}

	term := liner.NewLiner()
	defer term.Close()
	term.SetCtrlCAborts(true)

	if hist != "" {
		f, err := os.Open(hist)
		if err == nil {
			_, _ = term.ReadHistory(f)
			f.Close()
		}
		defer func() {
			f, err := os.Create(hist)
			if err != nil {
				log.Printf("could not save history: %+v", err)
				return
			}
			defer f.Close()
			_, _ = term.WriteHistory(f)
		}()
	}

	sh := newShell(port, os.Stdout)
	sh.probe = probe
	for {
		line, err := term.Prompt("prc> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		err = sh.exec(line)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			log.Printf("%+v", err)
		}
	}
}
