// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/go-lpc/prc/bitstream"
	"github.com/go-lpc/prc/icap"
	"github.com/go-lpc/prc/slot"
	"github.com/go-lpc/prc/snapshot"
)

var errQuit = errors.New("quit")

type shell struct {
	port  *icap.Port
	probe *slot.Probe // registers of the slot hardware thread, if any
	w     io.Writer
	msg   *log.Logger

	src  *bitstream.Buffer // last loaded bitstream
	snap *bitstream.Buffer // last captured state

	cmds map[string]command
}

type command struct {
	help string
	run  func(args []string) error
}

func newShell(port *icap.Port, w io.Writer) *shell {
	sh := &shell{
		port: port,
		w:    w,
		msg:  log.New(w, "", 0),
	}
	sh.cmds = map[string]command{
		"load":     {"load <file>: load a partial bitstream", sh.cmdLoad},
		"frames":   {"frames: list the frames of the loaded bitstream", sh.cmdFrames},
		"write":    {"write: write the loaded bitstream to the ICAP", sh.cmdWrite},
		"capture":  {"capture [skip-last]: capture the state of the loaded region", sh.cmdCapture},
		"save":     {"save <file>: save the captured state", sh.cmdSave},
		"restore":  {"restore [file] [auto|gsr|grestore|none]: restore a captured state", sh.cmdRestore},
		"read":     {"read <far> <words>: read back configuration words", sh.cmdRead},
		"reg":      {"reg <name|number>: read a configuration register", sh.cmdReg},
		"gcapture": {"gcapture: capture the user logic state", sh.cmdGCapture},
		"grestore": {"grestore: restore the user logic state", sh.cmdGRestore},
		"gsr":      {"gsr: issue a global set/reset", sh.cmdGSR},
		"crc":      {"crc: clear the CRC register", sh.cmdCRC},
		"switch":   {"switch <bottom|top>: switch ICAP primitive", sh.cmdSwitch},
		"get":      {"get <reg>: read a register of the slot hardware thread", sh.cmdGet},
		"set":      {"set <reg> <value>: write a register of the slot hardware thread", sh.cmdSet},
		"halt":     {"halt: request the slot hardware thread to exit", sh.cmdHalt},
		"help":     {"help: print this help", sh.cmdHelp},
		"quit":     {"quit: leave the shell", sh.cmdQuit},
	}
	return sh
}

func (sh *shell) exec(line string) error {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return nil
	}
	name := toks[0]
	if name == "exit" {
		name = "quit"
	}
	cmd, ok := sh.cmds[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", toks[0])
	}
	return cmd.run(toks[1:])
}

func (sh *shell) cmdLoad(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("load: missing file name")
	}
	buf, err := bitstream.Load(args[0])
	if err != nil {
		return err
	}
	sh.src = buf
	fmt.Fprintf(sh.w, "loaded %q: %d words\n", args[0], buf.Len())
	return nil
}

func (sh *shell) loaded() (*bitstream.Buffer, error) {
	if sh.src == nil {
		return nil, fmt.Errorf("no bitstream loaded")
	}
	return sh.src, nil
}

func (sh *shell) cmdFrames(args []string) error {
	buf, err := sh.loaded()
	if err != nil {
		return err
	}
	frames, err := bitstream.Parse(buf)
	if err != nil {
		return err
	}
	for i, f := range frames {
		fmt.Fprintf(sh.w, "frame[%d]: %v\n", i, f)
	}
	return nil
}

func (sh *shell) cmdWrite(args []string) error {
	buf, err := sh.loaded()
	if err != nil {
		return err
	}
	return sh.port.Write(buf.Words)
}

func (sh *shell) cmdCapture(args []string) error {
	buf, err := sh.loaded()
	if err != nil {
		return err
	}
	skip := len(args) > 0 && args[0] == "skip-last"
	out, err := snapshot.Capture(
		sh.port, buf,
		snapshot.WithLogger(sh.msg),
		snapshot.WithSkipLast(skip),
	)
	if err != nil {
		return err
	}
	sh.snap = out
	return nil
}

func (sh *shell) cmdSave(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("save: missing file name")
	}
	if sh.snap == nil {
		return fmt.Errorf("save: no captured state")
	}
	return sh.snap.Save(args[0])
}

func (sh *shell) cmdRestore(args []string) error {
	var (
		buf     = sh.snap
		trigger = snapshot.TriggerAuto
	)
	for _, arg := range args {
		t, err := snapshot.ParseTrigger(arg)
		if err == nil {
			trigger = t
			continue
		}
		buf, err = bitstream.Load(arg)
		if err != nil {
			return err
		}
	}
	if buf == nil {
		return fmt.Errorf("restore: no captured state")
	}
	return snapshot.Restore(
		sh.port, buf,
		snapshot.WithLogger(sh.msg),
		snapshot.WithTrigger(trigger),
	)
}

func (sh *shell) cmdRead(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("read: want <far> <words>")
	}
	far, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return fmt.Errorf("read: invalid frame address: %w", err)
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n <= 0 {
		return fmt.Errorf("read: invalid number of words %q", args[1])
	}
	buf := make([]uint32, n)
	err = sh.port.ReadFrame(uint32(far), buf)
	if err != nil {
		return err
	}
	for i, v := range buf {
		fmt.Fprintf(sh.w, "0x%08x[%d]: 0x%08x\n", far, i, v)
	}
	return nil
}

func (sh *shell) cmdReg(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("reg: missing register")
	}
	reg, err := bitstream.ParseRegister(strings.ToUpper(args[0]))
	if err != nil {
		v, e := strconv.ParseUint(args[0], 0, 5)
		if e != nil {
			return err
		}
		reg = bitstream.Register(v)
	}
	v, err := sh.port.ReadRegister(reg)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "%v: 0x%08x\n", reg, v)
	return nil
}

func (sh *shell) cmdGCapture(args []string) error { return sh.port.GCapture() }
func (sh *shell) cmdGRestore(args []string) error { return sh.port.GRestore() }
func (sh *shell) cmdGSR(args []string) error      { return sh.port.GSR() }
func (sh *shell) cmdCRC(args []string) error      { return sh.port.ClearCRC() }

func (sh *shell) cmdSwitch(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("switch: missing side")
	}
	side, err := icap.ParseSide(args[0])
	if err != nil {
		return err
	}
	return sh.port.Switch(side)
}

func (sh *shell) slotProbe() (*slot.Probe, error) {
	if sh.probe == nil {
		return nil, fmt.Errorf("no slot probe (see -probe)")
	}
	return sh.probe, nil
}

func parseSlotRegister(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 31)
	if err != nil {
		return 0, fmt.Errorf("invalid slot register %q: %w", s, err)
	}
	return uint32(v), nil
}

func (sh *shell) cmdGet(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("get: missing register")
	}
	probe, err := sh.slotProbe()
	if err != nil {
		return err
	}
	reg, err := parseSlotRegister(args[0])
	if err != nil {
		return err
	}
	v, err := probe.Get(reg)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "register %d: 0x%08x\n", reg, v)
	return nil
}

func (sh *shell) cmdSet(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("set: want <reg> <value>")
	}
	probe, err := sh.slotProbe()
	if err != nil {
		return err
	}
	reg, err := parseSlotRegister(args[0])
	if err != nil {
		return err
	}
	v, err := strconv.ParseUint(args[1], 0, 32)
	if err != nil {
		return fmt.Errorf("set: invalid value %q: %w", args[1], err)
	}
	return probe.Set(reg, uint32(v))
}

func (sh *shell) cmdHalt(args []string) error {
	probe, err := sh.slotProbe()
	if err != nil {
		return err
	}
	return probe.Exit()
}

func (sh *shell) cmdHelp(args []string) error {
	names := make([]string, 0, len(sh.cmds))
	for name := range sh.cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(sh.w, "  %s\n", sh.cmds[name].help)
	}
	return nil
}

func (sh *shell) cmdQuit(args []string) error { return errQuit }
