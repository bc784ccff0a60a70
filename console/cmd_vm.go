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
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"devt.de/krotik/vmpager/monitor"
)

/*
num formats a decoded JSON number.
*/
func num(v interface{}) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// Command: stats
// ==============

/*
CommandStats is a command name.
*/
const CommandStats = "stats"

/*
CmdStats displays frame table and swap store statistics.
*/
type CmdStats struct {
}

/*
Name returns the command name (as it should be typed)
*/
func (c *CmdStats) Name() string {
	return CommandStats
}

/*
Group returns the command group.
*/
func (c *CmdStats) Group() string {
	return GroupMemory
}

/*
ShortDescription returns a short description of the command (single line)
*/
func (c *CmdStats) ShortDescription() string {
	return "Displays paging statistics."
}

/*
LongDescription returns an extensive description of the command (can be multiple lines)
*/
func (c *CmdStats) LongDescription() string {
	return "Displays the usage of the frame table and the swap store as well as " +
		"the number of running processes."
}

/*
Run executes the command.
*/
func (c *CmdStats) Run(args []string, capi CommandConsoleAPI) error {

	res, err := capi.Get(monitor.EndpointStats)

	if err == nil {
		data := res.(map[string]interface{})
		frames := data["frames"].(map[string]interface{})
		swap := data["swap"].(map[string]interface{})
		procs := data["processes"].([]interface{})

		capi.Table([]string{
			"Statistic", "Value",
			"Frames", num(frames["size"]),
			"Resident frames", num(frames["resident"]),
			"Free frames", num(frames["free"]),
			"Evictions", num(frames["evictions"]),
			"Swap slots", num(swap["capacity"]),
			"Used swap slots", num(swap["used"]),
			"Processes", fmt.Sprint(len(procs)),
		}, 2)
	}

	return err
}

// Command: ps
// ===========

/*
CommandPs is a command name.
*/
const CommandPs = "ps"

/*
CmdPs displays running processes.
*/
type CmdPs struct {
}

/*
Name returns the command name (as it should be typed)
*/
func (c *CmdPs) Name() string {
	return CommandPs
}

/*
Group returns the command group.
*/
func (c *CmdPs) Group() string {
	return GroupProcess
}

/*
ShortDescription returns a short description of the command (single line)
*/
func (c *CmdPs) ShortDescription() string {
	return "Displays running processes."
}

/*
LongDescription returns an extensive description of the command (can be multiple lines)
*/
func (c *CmdPs) LongDescription() string {
	return "Displays running processes with their paging counters. Shows the page " +
		"table and the memory mapped files of a process if a pid is given."
}

/*
Run executes the command.
*/
func (c *CmdPs) Run(args []string, capi CommandConsoleAPI) error {

	if len(args) > 0 {
		res, err := capi.Get(monitor.EndpointProcesses + url.PathEscape(args[0]))

		if err == nil {
			data := res.(map[string]interface{})

			fmt.Fprint(capi.Out(), data["pagetable"])

			for _, m := range data["mappinglist"].([]interface{}) {
				fmt.Fprintln(capi.Out(), m)
			}

			if killed := data["killed"]; killed != "" {
				fmt.Fprintln(capi.Out(), "Killed:", killed)
			}
		}

		return err
	}

	res, err := capi.Get(monitor.EndpointProcesses)

	if err == nil {
		tab := []string{"Pid", "Pages", "Faults", "Swap in", "Swap out", "Killed"}

		for _, p := range res.([]interface{}) {
			pdata := p.(map[string]interface{})

			killed := "no"
			if pdata["killed"] != "" {
				killed = "yes"
			}

			tab = append(tab, num(pdata["pid"]), num(pdata["pages"]), num(pdata["faults"]),
				num(pdata["swapins"]), num(pdata["swapouts"]), killed)
		}

		capi.Table(tab, 6)
	}

	return err
}

// Command: frames
// ===============

/*
CommandFrames is a command name.
*/
const CommandFrames = "frames"

/*
CmdFrames displays the frame table.
*/
type CmdFrames struct {
}

/*
Name returns the command name (as it should be typed)
*/
func (c *CmdFrames) Name() string {
	return CommandFrames
}

/*
Group returns the command group.
*/
func (c *CmdFrames) Group() string {
	return GroupMemory
}

/*
ShortDescription returns a short description of the command (single line)
*/
func (c *CmdFrames) ShortDescription() string {
	return "Displays the frame table."
}

/*
LongDescription returns an extensive description of the command (can be multiple lines)
*/
func (c *CmdFrames) LongDescription() string {
	return "Displays the state and the owner of every frame."
}

/*
Run executes the command.
*/
func (c *CmdFrames) Run(args []string, capi CommandConsoleAPI) error {

	res, err := capi.Get(monitor.EndpointFrames)

	if err == nil {
		tab := []string{"Frame", "State", "Owner"}

		for _, f := range res.([]interface{}) {
			fdata := f.(map[string]interface{})

			state := "clean"

			if fdata["free"] == true {
				state = "free"
			} else if fdata["pinned"] == true {
				state = "pinned"
			} else if fdata["dirty"] == true {
				state = "dirty"
			} else if fdata["accessed"] == true {
				state = "accessed"
			}

			tab = append(tab, num(fdata["index"]), state, fmt.Sprint(fdata["owner"]))
		}

		capi.Table(tab, 3)
	}

	return err
}

// Command: events
// ===============

/*
CommandEvents is a command name.
*/
const CommandEvents = "events"

/*
CmdEvents displays recent page events.
*/
type CmdEvents struct {
}

/*
Name returns the command name (as it should be typed)
*/
func (c *CmdEvents) Name() string {
	return CommandEvents
}

/*
Group returns the command group.
*/
func (c *CmdEvents) Group() string {
	return GroupEvents
}

/*
ShortDescription returns a short description of the command (single line)
*/
func (c *CmdEvents) ShortDescription() string {
	return "Displays recent page events."
}

/*
LongDescription returns an extensive description of the command (can be multiple lines)
*/
func (c *CmdEvents) LongDescription() string {
	return "Displays recent page events. The events can be restricted to a " +
		"single event type (e.g. events swapout)."
}

/*
Run executes the command.
*/
func (c *CmdEvents) Run(args []string, capi CommandConsoleAPI) error {
	endpoint := monitor.EndpointEvents

	if len(args) > 0 {
		endpoint += "?type=" + url.QueryEscape(args[0])
	}

	res, err := capi.Get(endpoint)

	if err == nil {
		tab := []string{"Type", "Pid", "Address", "Kind", "Frame", "Slot"}

		for _, e := range res.([]interface{}) {
			edata := e.(map[string]interface{})

			tab = append(tab, fmt.Sprint(edata["type"]), num(edata["pid"]),
				fmt.Sprint(edata["addr"]), fmt.Sprint(edata["kind"]), num(edata["frame"]),
				num(edata["slot"]))
		}

		capi.Table(tab, 6)
	}

	return err
}

// Command: counts
// ===============

/*
CommandCounts is a command name.
*/
const CommandCounts = "counts"

/*
CmdCounts displays the number of page events per type.
*/
type CmdCounts struct {
}

/*
Name returns the command name (as it should be typed)
*/
func (c *CmdCounts) Name() string {
	return CommandCounts
}

/*
Group returns the command group.
*/
func (c *CmdCounts) Group() string {
	return GroupEvents
}

/*
ShortDescription returns a short description of the command (single line)
*/
func (c *CmdCounts) ShortDescription() string {
	return "Displays the number of page events per type."
}

/*
LongDescription returns an extensive description of the command (can be multiple lines)
*/
func (c *CmdCounts) LongDescription() string {
	return "Displays the number of page events per type since the monitor was started."
}

/*
Run executes the command.
*/
func (c *CmdCounts) Run(args []string, capi CommandConsoleAPI) error {

	res, err := capi.Get(monitor.EndpointEvents + "counts")

	if err == nil {
		data := res.(map[string]interface{})

		var types []string
		for k := range data {
			types = append(types, k)
		}

		sort.Strings(types)

		tab := []string{"Event", "Count"}

		for _, k := range types {
			tab = append(tab, k, num(data[k]))
		}

		capi.Table(tab, 2)
	}

	return err
}

// Command: clear
// ==============

/*
CommandClear is a command name.
*/
const CommandClear = "clear"

/*
CmdClear clears the event history.
*/
type CmdClear struct {
}

/*
Name returns the command name (as it should be typed)
*/
func (c *CmdClear) Name() string {
	return CommandClear
}

/*
Group returns the command group.
*/
func (c *CmdClear) Group() string {
	return GroupEvents
}

/*
ShortDescription returns a short description of the command (single line)
*/
func (c *CmdClear) ShortDescription() string {
	return "Clears the event history."
}

/*
LongDescription returns an extensive description of the command (can be multiple lines)
*/
func (c *CmdClear) LongDescription() string {
	return "Clears the event history of the monitor. Event counts are kept."
}

/*
Run executes the command.
*/
func (c *CmdClear) Run(args []string, capi CommandConsoleAPI) error {

	_, err := capi.Delete(monitor.EndpointEvents)

	if err == nil {
		fmt.Fprintln(capi.Out(), "Event history cleared")
	}

	return err
}
