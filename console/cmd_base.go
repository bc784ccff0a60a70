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
	"fmt"

	"github.com/krotik/common/bitutil"
	"github.com/krotik/common/stringutil"
	"devt.de/krotik/vmpager/monitor"
)

// Command: ver
// ============

/*
CommandVer is a command name.
*/
const CommandVer = "ver"

/*
CmdVer displays the monitor version and the paging geometry.
*/
type CmdVer struct {
}

/*
Name returns the command name (as it should be typed)
*/
func (c *CmdVer) Name() string {
	return CommandVer
}

/*
Group returns the command group.
*/
func (c *CmdVer) Group() string {
	return GroupConsole
}

/*
ShortDescription returns a short description of the command (single line)
*/
func (c *CmdVer) ShortDescription() string {
	return "Displays version and paging geometry."
}

/*
LongDescription returns an extensive description of the command (can be multiple lines)
*/
func (c *CmdVer) LongDescription() string {
	return "Displays the version of the connected monitor together with the page " +
		"size, the number of frames and the number of swap slots of its VM manager."
}

/*
Run executes the command.
*/
func (c *CmdVer) Run(args []string, capi CommandConsoleAPI) error {

	res, err := capi.Get(monitor.EndpointAbout)

	if err == nil {
		data := res.(map[string]interface{})
		out := capi.Out()

		fmt.Fprintln(out, fmt.Sprintf("Connected to: %v", capi.URL()))
		fmt.Fprintln(out, fmt.Sprintf("%v %v", data["product"], data["version"]))

		if data["running"] != true {
			fmt.Fprintln(out, "VM manager is not running")
			return nil
		}

		ps, _ := data["pagesize"].(float64)
		frames, _ := data["frames"].(float64)
		slots, _ := data["swapslots"].(float64)

		fmt.Fprintln(out, fmt.Sprintf("Page size: %v", bitutil.ByteSizeString(int64(ps), false)))
		fmt.Fprintln(out, fmt.Sprintf("Memory: %v frame%v (%v)", frames,
			stringutil.Plural(int(frames)), bitutil.ByteSizeString(int64(frames*ps), false)))
		fmt.Fprintln(out, fmt.Sprintf("Swap: %v slot%v (%v)", slots,
			stringutil.Plural(int(slots)), bitutil.ByteSizeString(int64(slots*ps), false)))
	}

	return err
}

// Command: export
// ===============

/*
CommandExport is a command name.
*/
const CommandExport = "export"

/*
CmdExport exports the last table as CSV.
*/
type CmdExport struct {
	exportFunc func([]string, *bytes.Buffer) error
}

/*
Name returns the command name (as it should be typed)
*/
func (c *CmdExport) Name() string {
	return CommandExport
}

/*
Group returns the command group.
*/
func (c *CmdExport) Group() string {
	return GroupConsole
}

/*
ShortDescription returns a short description of the command (single line)
*/
func (c *CmdExport) ShortDescription() string {
	return "Exports the last table."
}

/*
LongDescription returns an extensive description of the command (can be multiple lines)
*/
func (c *CmdExport) LongDescription() string {
	return "Exports the last table which was printed (e.g. by stats or frames) as CSV. " +
		"The first line names the command and the monitor which produced the table. " +
		"An optional argument names the export target."
}

/*
Run executes the command.
*/
func (c *CmdExport) Run(args []string, capi CommandConsoleAPI) error {
	tab := capi.LastTable()

	if tab == nil {
		return fmt.Errorf("Nothing to export")
	}

	buf := bytes.NewBufferString(fmt.Sprintf("# %v @ %v\n", tab.Command, capi.URL()))
	buf.WriteString(tab.String())

	err := c.exportFunc(args, buf)

	if err == nil {
		fmt.Fprintln(capi.Out(), fmt.Sprintf("Exported %v row%v of '%v'",
			tab.Rows(), stringutil.Plural(tab.Rows()), tab.Command))
	}

	return err
}

// Command: help
// =============

/*
CommandHelp is a command name.
*/
const CommandHelp = "help"

/*
CmdHelp displays descriptions of other commands.
*/
type CmdHelp struct {
}

/*
Name returns the command name (as it should be typed)
*/
func (c *CmdHelp) Name() string {
	return CommandHelp
}

/*
Group returns the command group.
*/
func (c *CmdHelp) Group() string {
	return GroupConsole
}

/*
ShortDescription returns a short description of the command (single line)
*/
func (c *CmdHelp) ShortDescription() string {
	return "Displays all commands by group."
}

/*
LongDescription returns an extensive description of the command (can be multiple lines)
*/
func (c *CmdHelp) LongDescription() string {
	return "Displays all commands by group. Displays the full description of a " +
		"command if its name is given (also available as ?)."
}

/*
Run executes the command.
*/
func (c *CmdHelp) Run(args []string, capi CommandConsoleAPI) error {

	cmds := capi.Commands()

	if len(args) > 0 {
		for _, cmd := range cmds {
			if cmd.Name() == args[0] {
				fmt.Fprintln(capi.Out(), cmd.LongDescription())
				return nil
			}
		}

		return fmt.Errorf("Unknown command: %s", args[0])
	}

	tab := []string{"Group", "Command", "Description"}
	group := ""

	for _, cmd := range cmds {
		g := ""

		if cmd.Group() != group {
			group = cmd.Group()
			g = group
		}

		tab = append(tab, g, cmd.Name(), cmd.ShortDescription())
	}

	capi.Table(tab, 3)

	return nil
}
