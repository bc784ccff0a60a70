/*
 * EliasDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package console

import (
	"bytes"
	"flag"
	"fmt"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/krotik/common/errorutil"
	"github.com/krotik/common/fileutil"
	"github.com/krotik/ecal/util"
	"devt.de/krotik/vmpager/config"
	"devt.de/krotik/vmpager/monitor"
	"devt.de/krotik/vmpager/vm"
)

const DBDir = "consoletest"

func TestMain(m *testing.M) {
	flag.Parse()

	// Setup
	if res, _ := fileutil.PathExists(DBDir); res {
		os.RemoveAll(DBDir)
	}

	errorutil.AssertOk(os.Mkdir(DBDir, 0770))

	// Run the tests
	res := m.Run()

	// Teardown
	err := os.RemoveAll(DBDir)
	if err != nil {
		fmt.Print("Could not remove test directory:", err.Error())
	}

	os.Exit(res)
}

/*
startMonitor starts a manager with a single frame and eight swap slots. One
process writes two anonymous pages.
*/
func startMonitor() (*vm.Manager, *httptest.Server) {
	config.LoadDefaultConfig()

	config.Config[config.MemoryOnlySwap] = true
	config.Config[config.UserFrames] = "1"
	config.Config[config.SwapSectors] = "64"

	m := vm.NewManager()

	m.Basepath = DBDir
	m.Logger = util.NewMemoryLogger(100)

	mon := monitor.NewMonitor(m, 10)

	errorutil.AssertOk(m.Start())

	p, err := m.NewProcess(nil)
	errorutil.AssertOk(err)

	_, err = p.Table().AddAnonymous(0x10000, true)
	errorutil.AssertOk(err)
	_, err = p.Table().AddAnonymous(0x11000, true)
	errorutil.AssertOk(err)

	errorutil.AssertOk(p.Write(0x10000, []byte{1}))
	errorutil.AssertOk(p.Write(0x11000, []byte{2}))

	return m, httptest.NewServer(mon)
}

func TestConsoleCommands(t *testing.T) {
	var out bytes.Buffer
	var exported string
	var target []string

	m, ts := startMonitor()
	defer ts.Close()

	c := NewConsole(ts.URL, &out, func(args []string, buf *bytes.Buffer) error {
		target = args
		exported = buf.String()
		return nil
	})

	vc := c.(*VMConsole)

	if vc.URL() != ts.URL || vc.Out() != &out || vc.LastTable() != nil {
		t.Error("Unexpected console setup")
		return
	}

	if _, err := c.Run("export"); err == nil || err.Error() != "Nothing to export" {
		t.Error("Unexpected result:", err)
		return
	}

	if ok, err := c.Run("ver"); !ok || err != nil || out.String() != fmt.Sprintf(`
Connected to: %v
VMPager 1.0.0
Page size: 4.0 KiB
Memory: 1 frame (4.0 KiB)
Swap: 8 slots (32.0 KiB)
`[1:], ts.URL) {
		t.Error("Unexpected result:", ok, err, out.String())
		return
	}

	out.Reset()

	// Commands without a table keep the previous export table

	if _, err := c.Run("stats; ver; export stats.csv"); err != nil || exported != fmt.Sprintf(`
# stats @ %v
Statistic, Value
Frames, 1
Resident frames, 1
Free frames, 0
Evictions, 1
Swap slots, 8
Used swap slots, 1
Processes, 1
`[1:], ts.URL) || len(target) != 1 || target[0] != "stats.csv" {
		t.Error("Unexpected result:", err, exported, target)
		return
	}

	if !strings.HasSuffix(out.String(), "Exported 7 rows of 'stats'\n") {
		t.Error("Unexpected result:", out.String())
		return
	}

	if _, err := c.Run("counts"); err != nil || vc.LastTable().String() != `
Event, Count
swapout, 1
zerofill, 2
`[1:] {
		t.Error("Unexpected result:", err, vc.LastTable())
		return
	}

	if _, err := c.Run("events   swapout ;"); err != nil || vc.LastTable().String() != `
Type, Pid, Address, Kind, Frame, Slot
swapout, 1, 0x00010000, anonymous, 0, 0
`[1:] || vc.LastTable().Command != "events swapout" || vc.LastTable().Rows() != 1 {
		t.Error("Unexpected result:", err, vc.LastTable())
		return
	}

	if _, err := c.Run("ps"); err != nil || vc.LastTable().String() != `
Pid, Pages, Faults, Swap in, Swap out, Killed
1, 2, 2, 0, 1, no
`[1:] {
		t.Error("Unexpected result:", err, vc.LastTable())
		return
	}

	if _, err := c.Run("frames"); err != nil ||
		!strings.HasPrefix(vc.LastTable().String(), "Frame, State, Owner\n0, dirty, ") {
		t.Error("Unexpected result:", err, vc.LastTable())
		return
	}

	out.Reset()

	if _, err := c.Run("ps 1"); err != nil || !strings.HasPrefix(out.String(), "Page Table: pid 1 (2 pages)") {
		t.Error("Unexpected result:", err, out.String())
		return
	}

	if _, err := c.Run("ps 99"); err == nil ||
		err.Error() != "GET request to /vm/processes/99 failed: Unknown process: 99" {
		t.Error("Unexpected result:", err)
		return
	}

	if cerr, ok := err2CommError(c.Run("ps 99")); !ok || cerr.Resp.StatusCode != 404 {
		t.Error("Unexpected result:", cerr)
		return
	}

	out.Reset()

	if _, err := c.Run("clear"); err != nil || out.String() != "Event history cleared\n" {
		t.Error("Unexpected result:", err, out.String())
		return
	}

	if _, err := c.Run("events"); err != nil || vc.LastTable().Rows() != 0 ||
		vc.LastTable().String() != "Type, Pid, Address, Kind, Frame, Slot\n" {
		t.Error("Unexpected result:", err, vc.LastTable())
		return
	}

	// Commands which need a running manager fail after shutdown

	errorutil.AssertOk(m.Shutdown())

	if _, err := c.Run("stats"); err == nil ||
		err.Error() != "GET request to /vm/stats/ failed: VM manager is not running" {
		t.Error("Unexpected result:", err)
		return
	}

	out.Reset()

	if _, err := c.Run("ver"); err != nil || !strings.HasSuffix(out.String(),
		"VMPager 1.0.0\nVM manager is not running\n") {
		t.Error("Unexpected result:", err, out.String())
		return
	}

	if _, err := c.Run("counts"); err != nil {
		t.Error(err)
		return
	}
}

/*
err2CommError returns the CommError of a console run.
*/
func err2CommError(_ bool, err error) (*CommError, bool) {
	cerr, ok := err.(*CommError)
	return cerr, ok
}

func TestConsoleHelp(t *testing.T) {
	var out bytes.Buffer

	c := NewConsole("http://localhost:1/", &out, nil)

	if res := c.(*VMConsole).URL(); res != "http://localhost:1" {
		t.Error("Unexpected result:", res)
		return
	}

	var names []string
	for _, cmd := range c.Commands() {
		names = append(names, cmd.Name())
	}

	if res := strings.Join(names, " "); res != "frames stats ps clear counts events help ver" {
		t.Error("Unexpected commands:", res)
		return
	}

	c = NewConsole("http://localhost:1", &out, func([]string, *bytes.Buffer) error { return nil })

	names = nil
	for _, cmd := range c.Commands() {
		names = append(names, cmd.Name())
	}

	if res := strings.Join(names, " "); res != "frames stats ps clear counts events export help ver" {
		t.Error("Unexpected commands:", res)
		return
	}

	if _, err := c.Run("help"); err != nil ||
		!strings.Contains(out.String(), "Displays recent page events.") {
		t.Error("Unexpected result:", err, out.String())
		return
	}

	// Help is grouped

	if res := c.(*VMConsole).LastTable().String(); !strings.HasPrefix(res, `
Group, Command, Description
memory, frames, Displays the frame table.
, stats, Displays paging statistics.
process, ps, Displays running processes.
events, clear, Clears the event history.
`[1:]) {
		t.Error("Unexpected result:", res)
		return
	}

	out.Reset()

	if _, err := c.Run("? ps"); err != nil || !strings.HasPrefix(out.String(), "Displays running processes with") {
		t.Error("Unexpected result:", err, out.String())
		return
	}

	if _, err := c.Run("help foo"); err == nil || err.Error() != "Unknown command: foo" {
		t.Error("Unexpected result:", err)
		return
	}

	if ok, err := c.Run("foo"); ok || err == nil || err.Error() != "Unknown command: foo" {
		t.Error("Unexpected result:", ok, err)
		return
	}

	if ok, err := c.Run(" ; ;"); !ok || err != nil {
		t.Error("Unexpected result:", ok, err)
		return
	}

	// Connection errors are returned

	if _, err := c.Run("stats"); err == nil {
		t.Error("Request should fail")
		return
	}
}
