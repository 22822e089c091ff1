// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command prc-demo exercises the ICAP of an FPGA: frame readback,
// configuration registers, partial reconfiguration of slots and
// capture/restore of the state of a reconfigurable region.
//
// Usage: prc-demo [OPTIONS]
//
// Example:
//
//  $> prc-demo -icap=sw -read=4 -far=0x00208100
//  $> prc-demo -icap=hw -reg=STAT
//  $> prc-demo -icap=hw -load=1=partial_add.bit -load=2=partial_sub.bit -slot=2
//  $> prc-demo -icap=hw -load=1=partial_add.bit -probe=/dev/mem -set=0=0x01003344 -set=1=0x01001122 -get=2
//  $> prc-demo -icap=hw -capture=partial_add.bit -o=state.bit
//  $> prc-demo -icap=hw -restore=state.bit -trigger=gsr
//  $> prc-demo -icap=sw -gsr=/dev/mem -restore=state.bit
package main // import "github.com/go-lpc/prc/cmd/prc-demo"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-lpc/prc/bitstream"
	"github.com/go-lpc/prc/icap"
	"github.com/go-lpc/prc/slot"
	"github.com/go-lpc/prc/snapshot"
)

var (
	openPort  = icap.Open
	openProbe = func(name string) (*slot.Probe, error) {
		return slot.OpenProbe(name, slot.DefaultLayout)
	}
)

func main() {
	log.SetPrefix("prc-demo: ")
	log.SetFlags(0)

	var (
		cfg   config
		loads = make(slotFiles)
		sets  regValues
		gets  regList
	)

	flag.StringVar(&cfg.icap, "icap", "hw", "ICAP transport (hw|sw)")
	flag.StringVar(&cfg.dev, "dev", "", "ICAP device (default: /dev/mem for hw, /dev/icap0 for sw)")
	flag.BoolVar(&cfg.bitswap, "bitswap", false, "bit-swap the bytes of the STAT register")
	flag.StringVar(&cfg.gsr, "gsr", "", "memory device of the hardware ICAP thread issuing GSR for the sw transport")
	flag.StringVar(&cfg.side, "switch", "", "switch to the bottom|top ICAP primitive")
	flag.BoolVar(&cfg.clearCRC, "clear-crc", false, "clear the CRC register")
	flag.StringVar(&cfg.reg, "reg", "", "configuration register to read (name or number)")
	flag.IntVar(&cfg.read, "read", 0, "number of configuration words to read back")
	flag.Uint64Var(&cfg.far, "far", 0x00208100, "frame address of the readback")
	flag.Var(loads, "load", "cache a partial bitstream for a slot (id=file.bit)")
	flag.IntVar(&cfg.slot, "slot", slot.None, "slot to reconfigure the region with")
	flag.StringVar(&cfg.probe, "probe", "", "memory device of the mailboxes of the slot hardware thread")
	flag.Var(&sets, "set", "write a slot thread register (reg=value)")
	flag.Var(&gets, "get", "read a slot thread register")
	flag.StringVar(&cfg.capture, "capture", "", "partial bitstream describing the region to capture")
	flag.StringVar(&cfg.oname, "o", "capture.bit", "output file of the captured state")
	flag.BoolVar(&cfg.skipLast, "skip-last", false, "do not read back the last frame of a capture")
	flag.StringVar(&cfg.restore, "restore", "", "captured state to restore")
	flag.StringVar(&cfg.trigger, "trigger", "auto", "how to apply a restored state (auto|gsr|grestore|none)")

	flag.Parse()
	cfg.loads = loads
	cfg.sets = sets
	cfg.gets = gets

	err := run(os.Stdout, cfg)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

type config struct {
	icap    string
	dev     string
	bitswap bool
	gsr     string

	side     string
	clearCRC bool
	reg      string
	read     int
	far      uint64

	loads slotFiles
	slot  int

	probe string
	sets  regValues
	gets  regList

	capture  string
	oname    string
	skipLast bool
	restore  string
	trigger  string
}

// slotFiles maps slot identifiers to partial bitstream files.
type slotFiles map[int]string

func (sf slotFiles) String() string {
	ids := make([]int, 0, len(sf))
	for id := range sf {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	o := make([]string, len(ids))
	for i, id := range ids {
		o[i] = fmt.Sprintf("%d=%s", id, sf[id])
	}
	return strings.Join(o, ",")
}

func (sf slotFiles) Set(v string) error {
	i := strings.Index(v, "=")
	if i <= 0 || i == len(v)-1 {
		return fmt.Errorf("invalid slot file %q (want id=file)", v)
	}
	id, err := strconv.Atoi(v[:i])
	if err != nil {
		return fmt.Errorf("invalid slot id in %q: %w", v, err)
	}
	sf[id] = v[i+1:]
	return nil
}

// regValue is a register of a slot hardware thread and its value.
type regValue struct {
	reg uint32
	v   uint32
}

type regValues []regValue

func (rv *regValues) String() string {
	o := make([]string, len(*rv))
	for i, v := range *rv {
		o[i] = fmt.Sprintf("%d=0x%x", v.reg, v.v)
	}
	return strings.Join(o, ",")
}

func (rv *regValues) Set(v string) error {
	i := strings.Index(v, "=")
	if i <= 0 || i == len(v)-1 {
		return fmt.Errorf("invalid register value %q (want reg=value)", v)
	}
	reg, err := strconv.ParseUint(v[:i], 0, 31)
	if err != nil {
		return fmt.Errorf("invalid register in %q: %w", v, err)
	}
	val, err := strconv.ParseUint(v[i+1:], 0, 32)
	if err != nil {
		return fmt.Errorf("invalid value in %q: %w", v, err)
	}
	*rv = append(*rv, regValue{reg: uint32(reg), v: uint32(val)})
	return nil
}

type regList []uint32

func (rl *regList) String() string {
	o := make([]string, len(*rl))
	for i, reg := range *rl {
		o[i] = strconv.Itoa(int(reg))
	}
	return strings.Join(o, ",")
}

func (rl *regList) Set(v string) error {
	reg, err := strconv.ParseUint(v, 0, 31)
	if err != nil {
		return fmt.Errorf("invalid register %q: %w", v, err)
	}
	*rl = append(*rl, uint32(reg))
	return nil
}

func parseRegister(name string) (bitstream.Register, error) {
	v, err := strconv.ParseUint(name, 0, 5)
	if err == nil {
		return bitstream.Register(v), nil
	}
	return bitstream.ParseRegister(strings.ToUpper(name))
}

func run(w io.Writer, cfg config) error {
	trigger, err := snapshot.ParseTrigger(cfg.trigger)
	if err != nil {
		return fmt.Errorf("could not parse trigger: %w", err)
	}

	opts := []icap.Option{icap.WithBitswap(cfg.bitswap)}
	if cfg.gsr != "" {
		opts = append(opts, icap.WithGSRDevice(cfg.gsr))
	}
	port, err := openPort(cfg.icap, cfg.dev, opts...)
	if err != nil {
		return fmt.Errorf("could not open ICAP port: %w", err)
	}
	defer port.Close()

	var probe *slot.Probe
	if cfg.probe != "" {
		probe, err = openProbe(cfg.probe)
		if err != nil {
			return fmt.Errorf("could not open slot probe: %w", err)
		}
		defer probe.Close()
	}
	if probe == nil && (len(cfg.sets) > 0 || len(cfg.gets) > 0) {
		return fmt.Errorf("slot registers access requires a probe device")
	}

	if cfg.side != "" {
		side, err := icap.ParseSide(cfg.side)
		if err != nil {
			return err
		}
		err = port.Switch(side)
		if err != nil {
			return fmt.Errorf("could not switch ICAP: %w", err)
		}
	}

	if cfg.clearCRC {
		err = port.ClearCRC()
		if err != nil {
			return fmt.Errorf("could not clear CRC: %w", err)
		}
	}

	if cfg.reg != "" {
		reg, err := parseRegister(cfg.reg)
		if err != nil {
			return fmt.Errorf("could not parse register: %w", err)
		}
		v, err := port.ReadRegister(reg)
		if err != nil {
			return fmt.Errorf("could not read register %v: %w", reg, err)
		}
		fmt.Fprintf(w, "%v: 0x%08x\n", reg, v)
	}

	if cfg.read > 0 {
		far := uint32(cfg.far)
		buf := make([]uint32, cfg.read)
		err = port.ReadFrame(far, buf)
		if err != nil {
			return fmt.Errorf("could not read back frame 0x%08x: %w", far, err)
		}
		for i, v := range buf {
			fmt.Fprintf(w, "0x%08x[%d]: 0x%08x\n", far, i, v)
		}
	}

	if len(cfg.loads) > 0 || cfg.slot != slot.None {
		var sopts []slot.Option
		if probe != nil {
			sopts = append(sopts, slot.WithHalt(probe.Exit), slot.WithReset(probe.Reset))
		}
		mgr := slot.New(port, sopts...)
		err = mgr.CacheAll(cfg.loads)
		if err != nil {
			return fmt.Errorf("could not cache partial bitstreams: %w", err)
		}
		id := cfg.slot
		if id == slot.None {
			ids := mgr.Slots()
			if len(ids) != 1 {
				return fmt.Errorf("no slot selected among %v", ids)
			}
			id = ids[0]
		}
		err = mgr.Load(id)
		if err != nil {
			return fmt.Errorf("could not reconfigure slot %d: %w", id, err)
		}
	}

	for _, rv := range cfg.sets {
		err = probe.Set(rv.reg, rv.v)
		if err != nil {
			return fmt.Errorf("could not set slot register %d: %w", rv.reg, err)
		}
	}
	for _, reg := range cfg.gets {
		v, err := probe.Get(reg)
		if err != nil {
			return fmt.Errorf("could not get slot register %d: %w", reg, err)
		}
		fmt.Fprintf(w, "register %d: 0x%08x\n", reg, v)
	}

	if cfg.capture != "" {
		src, err := bitstream.Load(cfg.capture)
		if err != nil {
			return fmt.Errorf("could not load bitstream to capture: %w", err)
		}
		out, err := snapshot.Capture(port, src, snapshot.WithSkipLast(cfg.skipLast))
		if err != nil {
			return fmt.Errorf("could not capture %q: %w", cfg.capture, err)
		}
		err = out.Save(cfg.oname)
		if err != nil {
			return fmt.Errorf("could not save captured state: %w", err)
		}
		fmt.Fprintf(w, "captured state of %q into %q\n", cfg.capture, cfg.oname)
	}

	if cfg.restore != "" {
		buf, err := bitstream.Load(cfg.restore)
		if err != nil {
			return fmt.Errorf("could not load state to restore: %w", err)
		}
		err = snapshot.Restore(port, buf, snapshot.WithTrigger(trigger))
		if err != nil {
			return fmt.Errorf("could not restore %q: %w", cfg.restore, err)
		}
		fmt.Fprintf(w, "restored state from %q (trigger=%v)\n", cfg.restore, trigger)
	}

	return nil
}
